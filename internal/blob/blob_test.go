package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyIsUnique(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		k := NewKey(now, "png")
		require.True(t, strings.HasPrefix(k, "gen/20260301T120000.000000000Z-"), k)
		require.True(t, strings.HasSuffix(k, ".png"), k)
		require.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".png", ExtensionFor("image/png"))
	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg"))
	assert.Equal(t, ".webp", ExtensionFor("image/webp"))
	assert.Equal(t, ".png", ExtensionFor("application/x-unknown"))
}

func TestLocalStorePutAndServe(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root, "http://localhost:8080/blobs")
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "gen/a.png", []byte("pixels"), "image/png")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/blobs/gen/a.png", url)

	data, err := os.ReadFile(filepath.Join(root, "gen", "a.png"))
	require.NoError(t, err)
	require.Equal(t, "pixels", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "gen"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not linger")

	srv := httptest.NewServer(http.StripPrefix("/blobs", store.Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/blobs/gen/a.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "pixels", string(body))

	dirResp, err := http.Get(srv.URL + "/blobs/gen/")
	require.NoError(t, err)
	dirResp.Body.Close()
	require.Equal(t, http.StatusNotFound, dirResp.StatusCode)
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://x")
	require.NoError(t, err)

	for _, key := range []string{"../evil.png", "..", "gen/../../evil.png"} {
		_, err := store.Put(context.Background(), key, []byte("x"), "image/png")
		require.Error(t, err, key)
	}
}

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3StorePut(t *testing.T) {
	fake := &fakeS3{}
	store := NewS3StoreWithClient(fake, S3Options{Bucket: "helmets", Region: "eu-west-3", Prefix: "feed"})

	url, err := store.Put(context.Background(), "gen/a.png", []byte("pixels"), "image/png")
	require.NoError(t, err)
	require.Equal(t, "https://helmets.s3.eu-west-3.amazonaws.com/feed/gen/a.png", url)

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	require.Equal(t, "helmets", aws.ToString(in.Bucket))
	require.Equal(t, "feed/gen/a.png", aws.ToString(in.Key))
	require.Equal(t, "image/png", aws.ToString(in.ContentType))
	require.Equal(t, types.ObjectCannedACLPublicRead, in.ACL)
	require.Equal(t, "pixels", string(fake.bodies[0]))
}

func TestS3StoreURLs(t *testing.T) {
	cdn := NewS3StoreWithClient(&fakeS3{}, S3Options{Bucket: "b", PublicBaseURL: "https://cdn.example/"})
	require.Equal(t, "https://cdn.example/gen/a.png", cdn.URL("gen/a.png"))

	minio := NewS3StoreWithClient(&fakeS3{}, S3Options{Bucket: "b", Endpoint: "http://minio:9000"})
	require.Equal(t, "http://minio:9000/b/gen/a.png", minio.URL("gen/a.png"))
}

func TestS3StorePutError(t *testing.T) {
	store := NewS3StoreWithClient(&fakeS3{err: errors.New("access denied")}, S3Options{Bucket: "b"})
	_, err := store.Put(context.Background(), "gen/a.png", []byte("x"), "image/png")
	require.ErrorContains(t, err, "access denied")
}
