package webapp

import "time"

const (
	TotalGenerationsKey = "total_generations"

	DefaultFeedLimit = 24
	MaxFeedLimit     = 48
)

type Generation struct {
	ID        int64     `json:"id"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

// GenerationRequest is one upload to be helmeted. It is never persisted.
type GenerationRequest struct {
	Image       []byte
	Filename    string
	ContentType string
	// Count is clamped into [1, MaxVariants].
	Count int
}

type FeedResponse struct {
	Items []Generation `json:"items"`
}

type StatsResponse struct {
	Total int64 `json:"total"`
}

type GenerateResponse struct {
	Images []string `json:"images"`
}

type ErrorResponse struct {
	Error  string    `json:"error"`
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

type PageData struct {
	Title          string
	Total          int64
	Digits         []string
	Feed           []Generation
	MaxUploadBytes int64
	FeedLimit      int
}
