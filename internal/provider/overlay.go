package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"helmetgen/internal/imageconv"
)

// OverlayCache holds the helmet asset. The file is read from disk on the
// first successful Load and served from memory afterwards.
type OverlayCache struct {
	path   string
	mu     sync.Mutex
	cached atomic.Pointer[ImageFile]
}

func NewOverlayCache(path string) *OverlayCache {
	return &OverlayCache{path: path}
}

func (c *OverlayCache) Path() string {
	return c.path
}

func (c *OverlayCache) Load() (ImageFile, error) {
	if f := c.cached.Load(); f != nil {
		return *f, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if f := c.cached.Load(); f != nil {
		return *f, nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return ImageFile{}, fmt.Errorf("read overlay: %w", err)
	}
	_, format, err := imageconv.DecodeConfig(data)
	if err != nil {
		return ImageFile{}, fmt.Errorf("overlay %s: %w", c.path, err)
	}
	f := &ImageFile{
		Name:        filepath.Base(c.path),
		ContentType: "image/" + format,
		Data:        data,
	}
	c.cached.Store(f)
	return *f, nil
}
