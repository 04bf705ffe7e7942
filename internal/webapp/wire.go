package webapp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"helmetgen/internal/blob"
	"helmetgen/internal/config"
	"helmetgen/internal/imageconv"
	"helmetgen/internal/metrics"
	"helmetgen/internal/provider"
	"helmetgen/web"
)

// NewFromConfig wires the store, blob backend, provider client and pipeline
// described by cfg into a Server.
func NewFromConfig(ctx context.Context, cfg config.Config) (*Server, error) {
	store, err := NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	blobs, blobHandler, err := newBlobStore(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	reg := metrics.NewRegistry()
	overlay := provider.NewOverlayCache(cfg.OverlayPath)
	if _, err := overlay.Load(); err != nil {
		// not fatal: generate reports it per request until the asset appears
		log.Warn().Err(err).Str("path", overlay.Path()).Msg("overlay asset not loaded")
	}
	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is not set; /generate will fail until it is")
	}

	client := provider.NewOpenAIClient(provider.OpenAIOptions{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.OpenAITimeout,
	})
	pipeline := NewPipeline(PipelineConfig{
		MaxUploadBytes:  cfg.MaxUploadBytes,
		DefaultVariants: cfg.DefaultVariants,
		MaxVariants:     cfg.MaxVariants,
		Preprocess:      cfg.PreprocessOnServer,
		PreprocessOptions: imageconv.Options{
			MaxDim:    cfg.PreprocessMaxDim,
			Quality:   cfg.PreprocessQuality,
			Format:    imageconv.ParseFormat(cfg.PreprocessFormat),
			MaxPixels: cfg.PreprocessMaxPixels,
		},
	},
		provider.NewBuilder(cfg.ImageModel, cfg.ImageSize, cfg.MaxVariants, overlay),
		client,
		NewRecorder(blobs, store, reg),
		reg,
	)

	srv, err := NewServer(Deps{
		Store:          store,
		Pipeline:       pipeline,
		Metrics:        reg,
		BlobHandler:    blobHandler,
		Templates:      web.Templates(),
		Static:         web.Static(),
		AllowedOrigins: cfg.AllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return srv, nil
}

func newBlobStore(ctx context.Context, cfg config.Config) (blob.Store, http.Handler, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendS3:
		s, err := blob.NewS3Store(ctx, blob.S3Options{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Prefix:        cfg.S3Prefix,
			Endpoint:      cfg.S3Endpoint,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case config.BlobBackendLocal, "":
		s, err := blob.NewLocalStore(cfg.LocalBlobDir, joinBase(cfg.PublicBaseURL, "/blobs"))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Handler(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported blob backend %q", cfg.BlobBackend)
	}
}

func joinBase(base string, p string) string {
	return strings.TrimRight(base, "/") + p
}

func (s *Server) Close() error {
	return s.store.Close()
}
