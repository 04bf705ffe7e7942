package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

const (
	BlobBackendLocal = "local"
	BlobBackendS3    = "s3"
)

type Config struct {
	// HTTP listen address, e.g. ":8080"
	Address       string        `env:"ADDRESS" envDefault:":8080"`
	PublicBaseURL string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	ReadTimeout   time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout  time.Duration `env:"WRITE_TIMEOUT" envDefault:"5m"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// DataDir roots DatabasePath and LocalBlobDir when those are unset.
	DataDir      string `env:"DATA_DIR" envDefault:"data"`
	DatabasePath string `env:"DATABASE_PATH"`

	// The key is optional at startup; the generate endpoint reports its
	// absence per request.
	OpenAIAPIKey  string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	ImageModel    string        `env:"OPENAI_IMAGE_MODEL" envDefault:"gpt-image-1.5"`
	ImageSize     string        `env:"OPENAI_IMAGE_SIZE" envDefault:"auto"`
	OpenAITimeout time.Duration `env:"OPENAI_TIMEOUT" envDefault:"2m"`

	OverlayPath     string `env:"OVERLAY_PATH" envDefault:"public/assets/helmet.png"`
	MaxUploadBytes  int64  `env:"MAX_UPLOAD_BYTES" envDefault:"4000000"`
	DefaultVariants int    `env:"DEFAULT_VARIANTS" envDefault:"1"`
	MaxVariants     int    `env:"MAX_VARIANTS" envDefault:"4"`

	// Uploads whose header declares more than PreprocessMaxPixels pixels are
	// rejected without being decoded.
	PreprocessOnServer  bool   `env:"PREPROCESS_ON_SERVER" envDefault:"true"`
	PreprocessMaxDim    int    `env:"PREPROCESS_MAX_DIM" envDefault:"1024"`
	PreprocessQuality   int    `env:"PREPROCESS_QUALITY" envDefault:"85"`
	PreprocessFormat    string `env:"PREPROCESS_FORMAT" envDefault:"jpeg"`
	PreprocessMaxPixels int    `env:"PREPROCESS_MAX_PIXELS" envDefault:"40000000"`

	BlobBackend     string `env:"BLOB_BACKEND" envDefault:"local"`
	LocalBlobDir    string `env:"LOCAL_BLOB_DIR"`
	S3Bucket        string `env:"S3_BUCKET"`
	S3Region        string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Prefix        string `env:"S3_PREFIX"`
	S3Endpoint      string `env:"S3_ENDPOINT"`
	S3PublicBaseURL string `env:"S3_PUBLIC_BASE_URL"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// Load loads .env (if present) and parses environment variables into Config.
func Load() (Config, error) {
	// Load .env if available; ignore error if file does not exist
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.BlobBackend = strings.ToLower(strings.TrimSpace(cfg.BlobBackend))
	cfg.PreprocessFormat = strings.ToLower(strings.TrimSpace(cfg.PreprocessFormat))
	cfg.OpenAIAPIKey = strings.TrimSpace(cfg.OpenAIAPIKey)
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "helmetgen.db")
	}
	if cfg.LocalBlobDir == "" {
		cfg.LocalBlobDir = filepath.Join(cfg.DataDir, "blobs")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with. A missing API key
// is not one of them.
func (c Config) Validate() error {
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.MaxVariants < 1 {
		return errors.New("MAX_VARIANTS must be >= 1")
	}
	if c.DefaultVariants < 1 || c.DefaultVariants > c.MaxVariants {
		return fmt.Errorf("DEFAULT_VARIANTS must be within [1,%d]", c.MaxVariants)
	}
	if c.PreprocessMaxDim < 1 {
		return errors.New("PREPROCESS_MAX_DIM must be >= 1")
	}
	if c.PreprocessQuality < 1 || c.PreprocessQuality > 100 {
		return errors.New("PREPROCESS_QUALITY must be within [1,100]")
	}
	if c.PreprocessMaxPixels < 1 {
		return errors.New("PREPROCESS_MAX_PIXELS must be >= 1")
	}
	switch c.PreprocessFormat {
	case "jpeg", "jpg", "webp":
	default:
		return fmt.Errorf("unsupported PREPROCESS_FORMAT %q", c.PreprocessFormat)
	}
	switch c.BlobBackend {
	case BlobBackendLocal:
	case BlobBackendS3:
		if strings.TrimSpace(c.S3Bucket) == "" {
			return errors.New("S3_BUCKET is required when BLOB_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unsupported BLOB_BACKEND %q", c.BlobBackend)
	}
	return nil
}
