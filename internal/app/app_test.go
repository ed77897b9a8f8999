package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagfeed/internal/app"
	"github.com/JakeFAU/tagfeed/internal/config"
	"github.com/JakeFAU/tagfeed/internal/feed"
	"github.com/JakeFAU/tagfeed/internal/session"
)

func baseConfig(baseURL string) config.Config {
	return config.Config{
		Feed:  config.FeedConfig{BaseURL: baseURL, BatchSize: 10, MaxConcurrency: 2, ShowStatus: true},
		HTTP:  config.HTTPConfig{TimeoutSeconds: 5, RateLimitRPS: 100, RateLimitBurst: 10},
		Queue: config.QueueConfig{JobTimeout: 5 * time.Second},
		View:  config.ViewConfig{Width: 80, PageHeight: 40},
	}
}

func TestNew_BuildsWorkingSessions(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tag/go" {
			fmt.Fprint(w, `<div class="tag-index"><ul><li><a href="/a">A</a> <i>Monday</i></li></ul></div>`)
			return
		}
		fmt.Fprint(w, `<main><p>hello</p></main>`)
	}))
	t.Cleanup(srv.Close)

	a, err := app.New(baseConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	assert.Equal(t, srv.URL, a.Config().Feed.BaseURL)
	assert.NotNil(t, a.Logger())

	sess, err := a.NewSession(session.Mount{Tag: "go", BatchSize: 5, MaxConcurrency: 1, ShowStatus: true})
	require.NoError(t, err)
	t.Cleanup(sess.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sess.Start(ctx))
	require.NoError(t, sess.ScrollToEnd(ctx, 40))

	snap := sess.Snapshot()
	require.Len(t, snap.Feed.Entries, 1)
	assert.Equal(t, "Monday", snap.Feed.Entries[0].Item.Label)
	assert.Equal(t, feed.StateLoaded, snap.Feed.Entries[0].State)
	assert.Equal(t, "<p>hello</p>", snap.Feed.Entries[0].Fragment)
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	t.Parallel()

	_, err := app.New(baseConfig("not a url"), nil)
	var cfgErr *feed.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNew_CacheUnreachable(t *testing.T) {
	t.Parallel()

	cfg := baseConfig("http://example.com")
	cfg.Cache = config.CacheConfig{Enabled: true, RedisAddr: "127.0.0.1:1", TTL: time.Minute}

	_, err := app.New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect redis")
}
