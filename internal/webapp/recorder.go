package webapp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"helmetgen/internal/blob"
	"helmetgen/internal/metrics"
)

// Recorder persists one generated image: object first, then the log row and
// counter. There is no cross-step transaction; a failure after the upload
// leaves an orphaned object behind.
type Recorder struct {
	blobs   blob.Store
	store   *Store
	metrics *metrics.Registry
	now     func() time.Time
}

func NewRecorder(blobs blob.Store, store *Store, reg *metrics.Registry) *Recorder {
	return &Recorder{blobs: blobs, store: store, metrics: reg, now: time.Now}
}

func (r *Recorder) Commit(ctx context.Context, data []byte) (Generation, error) {
	logger := zerolog.Ctx(ctx)
	if len(data) == 0 {
		return Generation{}, &Error{Kind: KindPersistence, Message: "Failed to store image", Detail: "empty image payload"}
	}

	contentType := sniffImageType(data)
	key := blob.NewKey(r.now(), blob.ExtensionFor(contentType))

	url, err := r.blobs.Put(ctx, key, data, contentType)
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("blob upload failed")
		return Generation{}, newError(KindPersistence, "Failed to store image", err)
	}

	gen, err := r.store.RecordGeneration(ctx, url, r.now())
	if err != nil {
		logger.Error().Err(err).Str("key", key).Str("url", url).Msg("generation log write failed, stored object is orphaned")
		return Generation{}, newError(KindPersistence, "Failed to record generation", err)
	}

	r.metrics.Inc(ctx, "generations_stored_total", nil, 1)
	logger.Info().Int64("generation_id", gen.ID).Str("url", url).Int("bytes", len(data)).Msg("generation stored")
	return gen, nil
}

// sniffImageType falls back to PNG, the provider's default output format.
func sniffImageType(data []byte) string {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/png"
}
