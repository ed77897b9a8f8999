package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tagfeed/internal/extract"
	"github.com/JakeFAU/tagfeed/internal/feed"
	collyfetcher "github.com/JakeFAU/tagfeed/internal/fetcher/colly"
)

func newLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := New(collyfetcher.New(collyfetcher.Config{Timeout: time.Second}), extract.New(extract.Config{}), nil)
	require.NoError(t, err)
	return l
}

func postServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/posts/ok", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><header>nav</header><article><p>Hello</p></article></body></html>`)
	})
	mux.HandleFunc("/posts/bare", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><div>no regions</div></body></html>`)
	})
	mux.HandleFunc("/posts/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type renderLog struct {
	mu    sync.Mutex
	snaps []feed.EntrySnapshot
}

func (r *renderLog) render(s feed.EntrySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *renderLog) states() []feed.EntryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]feed.EntryState, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.State)
	}
	return out
}

func TestLoad(t *testing.T) {
	t.Parallel()

	srv := postServer(t)
	l := newLoader(t)

	fragment, err := l.Load(context.Background(), srv.URL+"/posts/ok")
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello</p>", fragment)

	fragment, err = l.Load(context.Background(), srv.URL+"/posts/bare")
	require.NoError(t, err)
	assert.Equal(t, feed.NoContentFragment, fragment)

	_, err = l.Load(context.Background(), srv.URL+"/posts/gone")
	var contentErr *feed.ContentError
	require.ErrorAs(t, err, &contentErr)
	assert.Equal(t, srv.URL+"/posts/gone", contentErr.Reference)
	var fetchErr *feed.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
}

func TestJobResolvesEntry(t *testing.T) {
	t.Parallel()

	srv := postServer(t)
	log := &renderLog{}
	entry := feed.NewEntry(0, feed.Item{Reference: srv.URL + "/posts/ok"}, log.render)
	require.True(t, entry.Begin())

	require.NoError(t, newLoader(t).Job(entry)(context.Background()))
	snap := entry.Snapshot()
	assert.Equal(t, feed.StateLoaded, snap.State)
	assert.Equal(t, "<p>Hello</p>", snap.Fragment)
	assert.Equal(t, []feed.EntryState{feed.StateLoading, feed.StateLoaded}, log.states())
}

func TestJobFailsEntry(t *testing.T) {
	t.Parallel()

	srv := postServer(t)
	entry := feed.NewEntry(3, feed.Item{Reference: srv.URL + "/posts/gone"}, nil)
	require.True(t, entry.Begin())

	err := newLoader(t).Job(entry)(context.Background())
	require.Error(t, err)
	snap := entry.Snapshot()
	assert.Equal(t, feed.StateFailed, snap.State)
	assert.Equal(t, feed.ErrorFragment, snap.Fragment)
	assert.NotEmpty(t, snap.Error)
}

func TestJobCanceledContextFailsEntry(t *testing.T) {
	t.Parallel()

	entry := feed.NewEntry(0, feed.Item{Reference: "https://unused.example/p"}, nil)
	require.True(t, entry.Begin())

	l, err := New(blockingFetcher{}, extract.New(extract.Config{}), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, l.Job(entry)(ctx))
	assert.Equal(t, feed.StateFailed, entry.State())
}

func TestJobLeavesTerminalEntryAlone(t *testing.T) {
	t.Parallel()

	srv := postServer(t)
	entry := feed.NewEntry(0, feed.Item{Reference: srv.URL + "/posts/ok"}, nil)
	require.True(t, entry.Begin())
	require.True(t, entry.Fail(errors.New("earlier")))

	require.NoError(t, newLoader(t).Job(entry)(context.Background()))
	assert.Equal(t, feed.StateFailed, entry.State())
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, extract.New(extract.Config{}), nil)
	require.Error(t, err)
}

type blockingFetcher struct{}

func (blockingFetcher) Fetch(ctx context.Context, rawURL string) (feed.Page, error) {
	<-ctx.Done()
	return feed.Page{}, &feed.FetchError{URL: rawURL, Err: ctx.Err()}
}
