package provider

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultModel = "gpt-image-1.5"
	DefaultSize  = "auto"
	MinVariants  = 1
	MaxVariants  = 4

	HelmetPrompt = "Add this helmet to the character, keep original pixels untouched except for the helmet overlay. Ensure the helmet fits the head with correct size & angle."
)

type ImageFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// EditRequest is everything the provider needs for one edit call. Images
// are sent in slice order.
type EditRequest struct {
	Model  string
	Prompt string
	Images []ImageFile
	N      int
	Size   string
}

// ClampVariants coerces n into [MinVariants, maxN].
func ClampVariants(n int, maxN int) int {
	if maxN < MinVariants {
		maxN = MinVariants
	}
	return max(MinVariants, min(maxN, n))
}

type Builder struct {
	Model   string
	Prompt  string
	Size    string
	MaxN    int
	Overlay *OverlayCache
}

func NewBuilder(model string, size string, maxN int, overlay *OverlayCache) *Builder {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	if strings.TrimSpace(size) == "" {
		size = DefaultSize
	}
	if maxN < MinVariants || maxN > MaxVariants {
		maxN = MaxVariants
	}
	return &Builder{
		Model:   model,
		Prompt:  HelmetPrompt,
		Size:    size,
		MaxN:    maxN,
		Overlay: overlay,
	}
}

// Build pairs the user image with the overlay, user image first.
func (b *Builder) Build(user ImageFile, n int) (EditRequest, error) {
	if len(user.Data) == 0 {
		return EditRequest{}, errors.New("empty user image")
	}
	if user.Name == "" {
		user.Name = "user.png"
	}
	overlay, err := b.Overlay.Load()
	if err != nil {
		return EditRequest{}, fmt.Errorf("load overlay: %w", err)
	}
	return EditRequest{
		Model:  b.Model,
		Prompt: b.Prompt,
		Images: []ImageFile{user, overlay},
		N:      ClampVariants(n, b.MaxN),
		Size:   b.Size,
	}, nil
}
