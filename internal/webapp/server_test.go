package webapp

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmetgen/web"
)

func newTestServer(t *testing.T) (*httptest.Server, *pipelineFixture) {
	t.Helper()
	f := newPipelineFixture(t, PipelineConfig{MaxUploadBytes: 4_000_000, DefaultVariants: 1})
	srv, err := NewServer(Deps{
		Store:          f.store,
		Pipeline:       f.pipeline,
		Metrics:        f.metrics,
		Templates:      web.Templates(),
		Static:         web.Static(),
		MaxUploadBytes: 4_000_000,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, f
}

func multipartBody(t *testing.T, image []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if image != nil {
		fw, err := mw.CreateFormFile("image", "me.png")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestFeedLimit(t *testing.T) {
	tests := map[string]int{
		"":     24,
		"abc":  24,
		"0":    1,
		"-3":   1,
		"10":   10,
		"48":   48,
		"1000": 48,
		"12.9": 12,
	}
	for raw, want := range tests {
		assert.Equal(t, want, FeedLimit(raw), "limit=%q", raw)
	}
}

func TestCounterDigits(t *testing.T) {
	assert.Equal(t, []string{"0", "0", "0"}, counterDigits(0))
	assert.Equal(t, []string{"0", "4", "2"}, counterDigits(42))
	assert.Equal(t, []string{"2", "3", "4"}, counterDigits(1234))
}

func TestStatsStartsAtZero(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, p := range []string{"/stats", "/api/stats"} {
		resp, err := http.Get(ts.URL + p)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, p)
		require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
		stats := decodeJSON[StatsResponse](t, resp)
		require.Zero(t, stats.Total)
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	ts, f := newTestServer(t)
	start := time.Now().UTC()

	body, ct := multipartBody(t, pngBytes(t, 16, 16), map[string]string{"n": "2"})
	resp, err := http.Post(ts.URL+"/api/generate", ct, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	gen := decodeJSON[GenerateResponse](t, resp)
	require.Len(t, gen.Images, 2)
	require.Equal(t, 2, f.client.lastRequest().N)

	resp, err = http.Get(ts.URL + "/feed?limit=1")
	require.NoError(t, err)
	feed := decodeJSON[FeedResponse](t, resp)
	require.Len(t, feed.Items, 1)
	require.Contains(t, gen.Images, feed.Items[0].ImageURL)
	require.False(t, feed.Items[0].CreatedAt.Before(start), "created_at %s precedes %s", feed.Items[0].CreatedAt, start)

	resp, err = http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	stats := decodeJSON[StatsResponse](t, resp)
	require.EqualValues(t, 2, stats.Total)
}

func TestGenerateDefaultsToOneVariant(t *testing.T) {
	ts, f := newTestServer(t)

	body, ct := multipartBody(t, pngBytes(t, 16, 16), map[string]string{"n": "lots"})
	resp, err := http.Post(ts.URL+"/generate", ct, body)
	require.NoError(t, err)
	gen := decodeJSON[GenerateResponse](t, resp)
	require.Len(t, gen.Images, 1)
	require.Equal(t, 1, f.client.lastRequest().N)
}

func TestGenerateErrors(t *testing.T) {
	t.Run("no image", func(t *testing.T) {
		ts, f := newTestServer(t)
		body, ct := multipartBody(t, nil, map[string]string{"n": "1"})
		resp, err := http.Post(ts.URL+"/api/generate", ct, body)
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		out := decodeJSON[ErrorResponse](t, resp)
		require.Equal(t, "No image provided", out.Error)
		require.Equal(t, KindInvalidInput, out.Kind)
		require.Zero(t, f.client.callCount())
	})

	t.Run("not multipart", func(t *testing.T) {
		ts, _ := newTestServer(t)
		resp, err := http.Post(ts.URL+"/api/generate", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		out := decodeJSON[ErrorResponse](t, resp)
		require.Equal(t, KindInvalidInput, out.Kind)
	})

	t.Run("too large", func(t *testing.T) {
		ts, f := newTestServer(t)
		body, ct := multipartBody(t, make([]byte, 5_000_000), nil)
		resp, err := http.Post(ts.URL+"/api/generate", ct, body)
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		out := decodeJSON[ErrorResponse](t, resp)
		require.Equal(t, "Image too large", out.Error)
		require.Zero(t, f.client.callCount())
	})

	t.Run("upstream empty", func(t *testing.T) {
		ts, f := newTestServer(t)
		f.client.setImages(nil)
		body, ct := multipartBody(t, pngBytes(t, 8, 8), nil)
		resp, err := http.Post(ts.URL+"/api/generate", ct, body)
		require.NoError(t, err)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		out := decodeJSON[ErrorResponse](t, resp)
		require.Equal(t, "No image returned", out.Error)
		require.Equal(t, KindUpstreamEmpty, out.Kind)
		require.EqualValues(t, 1, f.metrics.Value("request_errors_total", map[string]string{"kind": string(KindUpstreamEmpty)}))
	})
}

func TestIndexRendersCounterAndFeed(t *testing.T) {
	ts, f := newTestServer(t)
	_, err := f.store.RecordGeneration(t.Context(), "https://cdn.test/gen/first.png", time.Now())
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	html, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	page := string(html)
	require.Contains(t, page, `<span class="digit">0</span><span class="digit">0</span><span class="digit">1</span>`)
	require.Contains(t, page, "https://cdn.test/gen/first.png")
	require.Contains(t, page, "/static/app.js")
}

func TestStaticAndHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/static/app.js")
	require.NoError(t, err)
	js, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(js), "json.detail || json.error")
	require.Contains(t, string(js), "https://twitter.com/intent/tweet?text=")

	resp, err = http.Get(ts.URL + "/static/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	health := decodeJSON[map[string]string](t, resp)
	require.Equal(t, "ok", health["status"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	snapshot := decodeJSON[map[string]int64](t, resp)
	require.Positive(t, snapshot["http_requests_total{method=GET,route=/healthz,status=2xx}"])
}

func TestUnmatchedRoutesShareOneMetricSeries(t *testing.T) {
	ts, f := newTestServer(t)

	paths := []string{"/" + uuid.NewString(), "/wp-admin/" + uuid.NewString() + ".php"}
	for _, p := range paths {
		resp, err := http.Get(ts.URL + p)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	}

	var keys []string
	for key, v := range f.metrics.Snapshot() {
		if !strings.HasPrefix(key, "http_requests_total{") || !strings.Contains(key, "status=4xx") {
			continue
		}
		keys = append(keys, key)
		require.EqualValues(t, 2, v, key)
		for _, p := range paths {
			require.NotContains(t, key, p)
		}
	}
	require.Equal(t, []string{"http_requests_total{method=GET,route=unmatched,status=4xx}"}, keys)
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/stats", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	resp.Body.Close()
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
