// Package extract pulls tag index listings and post content out of HTML pages
// using goquery selectors.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tagfeed/internal/feed"
)

// Default selectors match the tag template:
// <article class="tag-index"><ul><li><a href="...">Title</a> <i>DATE</i></li></ul></article>
const (
	DefaultIndexSelector = "article.tag-index ul li a, .tag-index ul li a"
	DefaultLabelSelector = "i"
)

// DefaultContentSelectors are tried in order; the first that matches wins.
var DefaultContentSelectors = []string{"article", "main"}

// Config holds the selectors used by the Extractor.
type Config struct {
	IndexSelector    string   `mapstructure:"index_selector"`
	LabelSelector    string   `mapstructure:"label_selector"`
	ContentSelectors []string `mapstructure:"content_selectors"`
	LazyImages       bool     `mapstructure:"lazy_images"`
}

// Extractor implements feed.Extractor.
type Extractor struct {
	indexSelector    string
	labelSelector    string
	contentSelectors []string
	lazyImages       bool
}

// New builds an Extractor, filling unset selectors with the defaults.
func New(cfg Config) *Extractor {
	x := &Extractor{
		indexSelector: strings.TrimSpace(cfg.IndexSelector),
		labelSelector: strings.TrimSpace(cfg.LabelSelector),
		lazyImages:    cfg.LazyImages,
	}
	if x.indexSelector == "" {
		x.indexSelector = DefaultIndexSelector
	}
	if x.labelSelector == "" {
		x.labelSelector = DefaultLabelSelector
	}
	for _, sel := range cfg.ContentSelectors {
		if sel = strings.TrimSpace(sel); sel != "" {
			x.contentSelectors = append(x.contentSelectors, sel)
		}
	}
	if len(x.contentSelectors) == 0 {
		x.contentSelectors = append([]string(nil), DefaultContentSelectors...)
	}
	return x
}

// ExtractIndex returns every linked list item in document order. Links are
// resolved against base; items without an enclosing <li> or an href are
// skipped. Duplicates are kept.
func (x *Extractor) ExtractIndex(body []byte, base *url.URL) ([]feed.Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse index html: %w", err)
	}
	var items []feed.Item
	doc.Find(x.indexSelector).Each(func(_ int, a *goquery.Selection) {
		li := a.Closest("li")
		if li.Length() == 0 {
			return
		}
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := resolve(base, strings.TrimSpace(href))
		if err != nil {
			return
		}
		items = append(items, feed.Item{
			Reference: ref,
			Label:     strings.TrimSpace(li.Find(x.labelSelector).First().Text()),
		})
	})
	return items, nil
}

// ExtractContent returns the inner HTML of the innermost region matched by the
// first content selector that matches anything. found is false when no
// selector matches.
func (x *Extractor) ExtractContent(body []byte) (string, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("parse content html: %w", err)
	}
	for _, sel := range x.contentSelectors {
		region := doc.Find(sel).First()
		if region.Length() == 0 {
			continue
		}
		for {
			inner := region.Find(sel).First()
			if inner.Length() == 0 {
				break
			}
			region = inner
		}
		if x.lazyImages {
			region.Find("img").SetAttr("loading", "lazy").SetAttr("decoding", "async")
		}
		html, err := region.Html()
		if err != nil {
			return "", false, fmt.Errorf("render content html: %w", err)
		}
		return strings.TrimSpace(html), true, nil
	}
	return "", false, nil
}

func resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}
	if base == nil {
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}
