package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"
)

var ErrMissingAPIKey = errors.New("missing OPENAI_API_KEY")

// UpstreamError is a failed provider call. Detail holds the provider's raw
// diagnostic and is meant for logs.
type UpstreamError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (%d): %s", e.StatusCode, truncate(e.Detail, 500))
	}
	return fmt.Sprintf("provider error: %s", truncate(e.Detail, 500))
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

type Client interface {
	// CheckCredentials reports ErrMissingAPIKey without touching the network.
	CheckCredentials() error
	// Edit returns the decoded images produced for req, possibly none.
	Edit(ctx context.Context, req EditRequest) ([][]byte, error)
}

type OpenAIClient struct {
	client  openai.Client
	apiKey  string
	timeout time.Duration
}

type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	reqOpts := []option.RequestOption{
		// nothing in the pipeline retries; a failed call is terminal
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(opts.BaseURL) != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &OpenAIClient{
		client:  openai.NewClient(reqOpts...),
		apiKey:  strings.TrimSpace(opts.APIKey),
		timeout: opts.Timeout,
	}
}

// key returns the configured API key, falling back to OPENAI_API_KEY as it is
// at call time so a key exported after startup is picked up.
func (c *OpenAIClient) key() string {
	if c.apiKey != "" {
		return c.apiKey
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func (c *OpenAIClient) CheckCredentials() error {
	if c.key() == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func (c *OpenAIClient) Edit(ctx context.Context, req EditRequest) ([][]byte, error) {
	key := c.key()
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	if len(req.Images) == 0 {
		return nil, errors.New("edit request has no images")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	files := make([]io.Reader, 0, len(req.Images))
	for _, img := range req.Images {
		files = append(files, openai.File(bytes.NewReader(img.Data), img.Name, img.ContentType))
	}
	params := openai.ImageEditParams{
		Image:  openai.ImageEditParamsImageUnion{OfFileArray: files},
		Prompt: req.Prompt,
		Model:  openai.ImageModel(req.Model),
		N:      openai.Int(int64(req.N)),
		Size:   openai.ImageEditParamsSize(req.Size),
	}

	logger := zerolog.Ctx(ctx)
	start := time.Now()
	logger.Debug().
		Str("model", req.Model).
		Int("n", req.N).
		Int("images", len(req.Images)).
		Msg("provider edit call start")

	resp, err := c.client.Images.Edit(ctx, params, option.WithAPIKey(key))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			detail := strings.TrimSpace(apiErr.RawJSON())
			if detail == "" {
				detail = apiErr.Error()
			}
			return nil, &UpstreamError{StatusCode: apiErr.StatusCode, Detail: detail, Err: err}
		}
		return nil, &UpstreamError{Detail: err.Error(), Err: err}
	}

	out := make([][]byte, 0, len(resp.Data))
	for i, d := range resp.Data {
		if strings.TrimSpace(d.B64JSON) == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			return nil, &UpstreamError{Detail: fmt.Sprintf("decode image %d base64: %v", i, err), Err: err}
		}
		out = append(out, raw)
	}
	logger.Debug().
		Int("returned", len(resp.Data)).
		Int("decoded", len(out)).
		Dur("duration", time.Since(start)).
		Msg("provider edit call done")
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
