// Package content fetches a post and extracts the fragment shown inside its
// feed entry.
package content

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tagfeed/internal/feed"
	"github.com/JakeFAU/tagfeed/internal/metrics"
	"github.com/JakeFAU/tagfeed/internal/queue"
)

// Loader implements feed.ContentLoader.
type Loader struct {
	fetcher   feed.Fetcher
	extractor feed.Extractor
	logger    *zap.Logger
}

// New builds a Loader.
func New(fetcher feed.Fetcher, extractor feed.Extractor, logger *zap.Logger) (*Loader, error) {
	if fetcher == nil || extractor == nil {
		return nil, errors.New("content loader requires a fetcher and an extractor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fetcher: fetcher, extractor: extractor, logger: logger.Named("content")}, nil
}

// Load fetches reference and returns its primary content fragment, or
// feed.NoContentFragment when the page has no recognizable content region.
func (l *Loader) Load(ctx context.Context, reference string) (string, error) {
	start := time.Now()
	page, err := l.fetcher.Fetch(ctx, reference)
	metrics.ObserveFetch("content", reference, page.StatusCode, len(page.Body), time.Since(start))
	if err != nil {
		return "", &feed.ContentError{Reference: reference, Err: err}
	}
	fragment, found, err := l.extractor.ExtractContent(page.Body)
	if err != nil {
		return "", &feed.ContentError{Reference: reference, Err: err}
	}
	if !found {
		return feed.NoContentFragment, nil
	}
	return fragment, nil
}

// Job returns the deferred load for entry. The job settles the entry in
// exactly one terminal state; a failure is logged and kept inside the entry.
func (l *Loader) Job(entry *feed.Entry) queue.Job {
	return func(ctx context.Context) error {
		ref := entry.Item().Reference
		fragment, err := l.Load(ctx, ref)
		if err != nil {
			if entry.Fail(err) {
				metrics.ObserveEntryState(feed.StateFailed.String())
			}
			l.logger.Warn("content load failed",
				zap.Int("index", entry.Index()),
				zap.String("reference", ref),
				zap.Error(err),
			)
			return err
		}
		if entry.Resolve(fragment) {
			metrics.ObserveEntryState(feed.StateLoaded.String())
		}
		return nil
	}
}
