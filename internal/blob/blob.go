// Package blob stores generated images and hands back public URLs for them.
package blob

import (
	"context"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists an object under key and returns its public URL. A returned
// URL must be retrievable by the time Put returns.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// NewKey builds an object key from the UTC time and a random v4 UUID, so two
// keys never collide even within the same nanosecond.
func NewKey(now time.Time, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join("gen", now.UTC().Format("20060102T150405.000000000Z")+"-"+uuid.NewString()+ext)
}

// ExtensionFor maps an image content type to a file extension.
func ExtensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}
	switch strings.ToLower(strings.TrimSpace(mt)) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	exts, err := mime.ExtensionsByType(mt)
	if err != nil || len(exts) == 0 {
		return ".png"
	}
	return exts[0]
}

func joinURL(base string, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
