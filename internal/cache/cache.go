// Package cache keeps fetched pages in Redis so sessions for the same tag
// share index and post bodies instead of refetching them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagfeed/internal/feed"
	"github.com/JakeFAU/tagfeed/internal/metrics"
)

// DefaultTTL bounds how long a cached page is served.
const DefaultTTL = 10 * time.Minute

var (
	// ErrCacheMiss indicates the page is not cached.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a cached value could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Entry is a cached page.
type Entry struct {
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Body       []byte    `json:"body"`
	CachedAt   time.Time `json:"cached_at"`
}

// PageStore reads and writes cached pages.
type PageStore interface {
	Get(ctx context.Context, rawURL string) (*Entry, error)
	Set(ctx context.Context, entry *Entry, ttl time.Duration) error
}

// Store is a Redis-backed PageStore.
type Store struct {
	redis  *redis.Client
	prefix string
}

// NewStore wraps client. Keys are namespaced with prefix.
func NewStore(client *redis.Client, prefix string) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = "tagfeed"
	}
	return &Store{redis: client, prefix: prefix}, nil
}

// Key returns the Redis key for rawURL.
func (s *Store) Key(rawURL string) string {
	return s.prefix + ":page:" + rawURL
}

// Get returns the cached page for rawURL or ErrCacheMiss.
func (s *Store) Get(ctx context.Context, rawURL string) (*Entry, error) {
	data, err := s.redis.Get(ctx, s.Key(rawURL)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Set stores entry for ttl. Non-positive ttls are not stored.
func (s *Store) Set(ctx context.Context, entry *Entry, ttl time.Duration) error {
	if entry == nil {
		return errors.New("cache entry cannot be nil")
	}
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := s.redis.Set(ctx, s.Key(entry.URL), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Fetcher serves pages from a PageStore and fills it from the wrapped fetcher.
// Cache failures are logged and fall through to the network.
type Fetcher struct {
	next   feed.Fetcher
	store  PageStore
	ttl    time.Duration
	logger *zap.Logger
}

// Wrap decorates next with store.
func Wrap(next feed.Fetcher, store PageStore, ttl time.Duration, logger *zap.Logger) *Fetcher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{next: next, store: store, ttl: ttl, logger: logger.Named("cache")}
}

// Fetch implements feed.Fetcher. Only successful fetches are cached.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (feed.Page, error) {
	entry, err := f.store.Get(ctx, rawURL)
	switch {
	case err == nil:
		metrics.ObserveCache("hit")
		return feed.Page{URL: entry.URL, StatusCode: entry.StatusCode, Body: entry.Body}, nil
	case errors.Is(err, ErrCacheMiss):
		metrics.ObserveCache("miss")
	default:
		metrics.ObserveCache("error")
		f.logger.Warn("cache read failed", zap.String("url", rawURL), zap.Error(err))
	}

	page, err := f.next.Fetch(ctx, rawURL)
	if err != nil {
		return page, err
	}
	entry = &Entry{URL: rawURL, StatusCode: page.StatusCode, Body: page.Body, CachedAt: time.Now().UTC()}
	if err := f.store.Set(ctx, entry, f.ttl); err != nil {
		metrics.ObserveCache("error")
		f.logger.Warn("cache write failed", zap.String("url", rawURL), zap.Error(err))
	}
	return page, nil
}
