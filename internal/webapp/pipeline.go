package webapp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"helmetgen/internal/imageconv"
	"helmetgen/internal/metrics"
	"helmetgen/internal/provider"
)

type PipelineConfig struct {
	MaxUploadBytes  int64
	DefaultVariants int
	MaxVariants     int
	// Preprocess re-bounds and re-encodes uploads before they leave the
	// server, in case the client skipped its own resize.
	Preprocess        bool
	PreprocessOptions imageconv.Options
}

// Pipeline runs one generation: validate, build the edit request, call the
// provider, then commit each returned image in order.
type Pipeline struct {
	cfg      PipelineConfig
	builder  *provider.Builder
	client   provider.Client
	recorder *Recorder
	metrics  *metrics.Registry
}

func NewPipeline(cfg PipelineConfig, builder *provider.Builder, client provider.Client, recorder *Recorder, reg *metrics.Registry) *Pipeline {
	if cfg.MaxVariants < provider.MinVariants {
		cfg.MaxVariants = provider.MaxVariants
	}
	if cfg.DefaultVariants < provider.MinVariants {
		cfg.DefaultVariants = provider.MinVariants
	}
	return &Pipeline{cfg: cfg, builder: builder, client: client, recorder: recorder, metrics: reg}
}

// VariantCount resolves the raw "n" form value. Missing or non-numeric
// values use the default; numbers are clamped, never rejected.
func (p *Pipeline) VariantCount(raw string) int {
	return clampParam(raw, p.cfg.DefaultVariants, provider.MinVariants, p.cfg.MaxVariants)
}

// Generate returns the public URLs of the stored images. On a persistence
// failure mid-batch no URLs are returned; objects already stored stay.
func (p *Pipeline) Generate(ctx context.Context, req GenerationRequest) ([]string, error) {
	logger := zerolog.Ctx(ctx)
	start := time.Now()

	if len(req.Image) == 0 {
		return nil, invalidInput("No image provided")
	}
	if p.cfg.MaxUploadBytes > 0 && int64(len(req.Image)) > p.cfg.MaxUploadBytes {
		return nil, &Error{
			Kind:    KindInvalidInput,
			Message: "Image too large",
			Detail:  fmt.Sprintf("%d bytes exceeds the %d byte limit", len(req.Image), p.cfg.MaxUploadBytes),
		}
	}
	if err := p.client.CheckCredentials(); err != nil {
		return nil, newError(KindConfiguration, "Missing OPENAI_API_KEY", err)
	}
	n := provider.ClampVariants(req.Count, p.cfg.MaxVariants)

	user, err := p.userImage(req)
	if err != nil {
		return nil, err
	}

	editReq, err := p.builder.Build(user, n)
	if err != nil {
		return nil, newError(KindConfiguration, "Overlay asset unavailable", err)
	}

	p.metrics.Inc(ctx, "provider_calls_total", nil, 1)
	images, err := p.client.Edit(ctx, editReq)
	if err != nil {
		p.metrics.Inc(ctx, "provider_errors_total", nil, 1)
		if errors.Is(err, provider.ErrMissingAPIKey) {
			return nil, newError(KindConfiguration, "Missing OPENAI_API_KEY", err)
		}
		e := &Error{Kind: KindUpstream, Message: "OpenAI error", Err: err}
		var upErr *provider.UpstreamError
		if errors.As(err, &upErr) {
			e.Detail = upErr.Detail
		} else {
			e.Detail = err.Error()
		}
		logger.Error().Err(err).Str("detail", e.Detail).Msg("provider call failed")
		return nil, e
	}
	if len(images) == 0 {
		p.metrics.Inc(ctx, "provider_errors_total", nil, 1)
		logger.Error().Int("requested", n).Msg("provider returned no images")
		return nil, &Error{Kind: KindUpstreamEmpty, Message: "No image returned", Detail: "provider call succeeded but returned no images"}
	}

	// one image at a time, in provider order
	urls := make([]string, 0, len(images))
	for i, img := range images {
		gen, err := p.recorder.Commit(ctx, img)
		if err != nil {
			logger.Error().Err(err).Int("index", i).Int("committed", len(urls)).Msg("generation batch aborted")
			return nil, err
		}
		urls = append(urls, gen.ImageURL)
	}

	logger.Info().
		Int("requested", n).
		Int("stored", len(urls)).
		Dur("duration", time.Since(start)).
		Msg("generation completed")
	return urls, nil
}

func (p *Pipeline) userImage(req GenerationRequest) (provider.ImageFile, error) {
	base := strings.TrimSuffix(filepath.Base(req.Filename), filepath.Ext(req.Filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "user"
	}

	if !p.cfg.Preprocess {
		ct := req.ContentType
		if !strings.HasPrefix(ct, "image/") {
			ct = http.DetectContentType(req.Image)
		}
		return provider.ImageFile{Name: base + filepath.Ext(req.Filename), ContentType: ct, Data: req.Image}, nil
	}

	res, err := imageconv.Preprocess(req.Image, p.cfg.PreprocessOptions)
	if errors.Is(err, imageconv.ErrTooManyPixels) {
		return provider.ImageFile{}, newError(KindInvalidInput, "Image dimensions too large", err)
	}
	if err != nil {
		return provider.ImageFile{}, newError(KindInvalidInput, "Image could not be decoded", err)
	}
	return provider.ImageFile{Name: base + res.Ext, ContentType: res.ContentType, Data: res.Data}, nil
}

// clampParam parses raw as an integer clamped into [lo, hi]; empty or
// non-numeric input yields def.
func clampParam(raw string, def, lo, hi int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || math.IsNaN(f) {
			return def
		}
		switch {
		case f < float64(lo):
			return lo
		case f > float64(hi):
			return hi
		}
		v = int(f)
	}
	return max(lo, min(hi, v))
}
