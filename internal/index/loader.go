// Package index loads the ordered item list for a tag from the site's tag
// index page.
package index

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tagfeed/internal/feed"
	"github.com/JakeFAU/tagfeed/internal/metrics"
)

// DefaultPathTemplate places the tag index at /tag/<tag>.
const DefaultPathTemplate = "/tag/%s"

// Config locates tag index pages.
type Config struct {
	BaseURL      string `mapstructure:"base_url"`
	PathTemplate string `mapstructure:"path_template"`
}

// Loader implements feed.IndexLoader.
type Loader struct {
	base      *url.URL
	template  string
	fetcher   feed.Fetcher
	extractor feed.Extractor
	logger    *zap.Logger
}

// New builds a Loader. BaseURL must be absolute.
func New(cfg Config, fetcher feed.Fetcher, extractor feed.Extractor, logger *zap.Logger) (*Loader, error) {
	if fetcher == nil || extractor == nil {
		return nil, errors.New("index loader requires a fetcher and an extractor")
	}
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, &feed.ConfigError{Field: "feed.base_url", Msg: err.Error()}
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, &feed.ConfigError{Field: "feed.base_url", Msg: "must be an absolute URL"}
	}
	tmpl := cfg.PathTemplate
	if tmpl == "" {
		tmpl = DefaultPathTemplate
	}
	if !strings.Contains(tmpl, "%s") {
		return nil, &feed.ConfigError{Field: "feed.path_template", Msg: "must contain %s"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		base:      base,
		template:  tmpl,
		fetcher:   fetcher,
		extractor: extractor,
		logger:    logger.Named("index"),
	}, nil
}

// IndexURL returns the absolute index address for tag. The tag is path escaped.
func (l *Loader) IndexURL(tag string) string {
	ref := &url.URL{Path: fmt.Sprintf(l.template, tag)}
	ref.RawPath = fmt.Sprintf(l.template, url.PathEscape(tag))
	return l.base.ResolveReference(ref).String()
}

// LoadIndex fetches and parses the index for tag. Any fetch or parse failure
// is returned as a *feed.IndexError; an empty list is not an error.
func (l *Loader) LoadIndex(ctx context.Context, tag string) ([]feed.Item, error) {
	target := l.IndexURL(tag)
	start := time.Now()
	page, err := l.fetcher.Fetch(ctx, target)
	metrics.ObserveFetch("index", target, page.StatusCode, len(page.Body), time.Since(start))
	if err != nil {
		l.logger.Error("index fetch failed", zap.String("tag", tag), zap.String("url", target), zap.Error(err))
		return nil, &feed.IndexError{Tag: tag, Err: err}
	}
	// Relative links resolve against the site root, not the index page.
	items, err := l.extractor.ExtractIndex(page.Body, l.base)
	if err != nil {
		l.logger.Error("index parse failed", zap.String("tag", tag), zap.Error(err))
		return nil, &feed.IndexError{Tag: tag, Err: err}
	}
	l.logger.Debug("index loaded", zap.String("tag", tag), zap.Int("items", len(items)))
	return items, nil
}
