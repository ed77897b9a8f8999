package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newGCSClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewGCSStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewGCSStore(nil, "b")
	require.Error(t, err)

	_, err = NewGCSStore(newGCSClient(t, http.NotFoundHandler()), " ")
	require.Error(t, err)
}

func TestGCSStoreWritesFeedMetadata(t *testing.T) {
	t.Parallel()

	uploads := make(chan string, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/feeds-bucket/o")
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		uploads <- string(body)
		fmt.Fprintln(w, `{"name": "exports/running.json", "bucket": "feeds-bucket"}`)
	})
	store, err := NewGCSStore(newGCSClient(t, handler), "feeds-bucket")
	require.NoError(t, err)

	doc := Build(sampleSnapshot(), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	uri, err := Write(context.Background(), store, "/exports/running.json", "", doc)
	require.NoError(t, err)
	assert.Equal(t, "gs://feeds-bucket/exports/running.json", uri)

	// The multipart upload carries the object resource as compact JSON and
	// the indented document after it.
	upload := <-uploads
	assert.Contains(t, upload, `"name":"exports/running.json"`)
	assert.Contains(t, upload, `"contentType":"application/json"`)
	assert.Contains(t, upload, `"cacheControl":"no-cache, max-age=0"`)
	assert.Contains(t, upload, `"tag":"running"`)
	assert.Contains(t, upload, `"generated_at":"2026-01-02T03:04:05Z"`)
	assert.Contains(t, upload, `"loaded":"1"`)
	assert.Contains(t, upload, `"tag": "running"`)
}

func TestGCSStoreRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := NewGCSStore(newGCSClient(t, http.NotFoundHandler()), "b")
	require.NoError(t, err)
	_, err = store.Put(context.Background(), Object{Path: "/", Body: strings.NewReader("x")})
	require.Error(t, err)
}

func TestNewLocalStore(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "a", "b")
	_, err := NewLocalStore(dir)
	require.NoError(t, err)
	assert.DirExists(t, dir)

	_, err = NewLocalStore("")
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = NewLocalStore(file)
	require.Error(t, err)
}

func TestLocalStorePut(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	uri, err := store.Put(context.Background(), Object{Path: "feeds/running.json", Body: strings.NewReader(`{"tag":"running"}`)})
	require.NoError(t, err)
	want := filepath.Join(dir, "feeds", "running.json")
	assert.Equal(t, "file://"+want, uri)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tag":"running"}`, string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "feeds"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")

	_, err = store.Put(context.Background(), Object{Path: "../escape.json", Body: strings.NewReader("x")})
	require.ErrorContains(t, err, "escapes")

	_, err = store.Put(context.Background(), Object{Path: " ", Body: strings.NewReader("x")})
	require.Error(t, err)
}
