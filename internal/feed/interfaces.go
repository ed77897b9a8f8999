package feed

import (
	"context"
	"net/url"
	"time"

	"github.com/JakeFAU/tagfeed/internal/queue"
)

// Page is a fetched resource.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs one GET. Implementations return a *FetchError for network
// failures and non-2xx responses.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Extractor pulls the item list out of an index page and the primary content
// fragment out of a post page.
type Extractor interface {
	ExtractIndex(body []byte, base *url.URL) ([]Item, error)
	ExtractContent(body []byte) (fragment string, found bool, err error)
}

// IndexLoader produces the ordered item list for a tag.
type IndexLoader interface {
	LoadIndex(ctx context.Context, tag string) ([]Item, error)
}

// ContentLoader turns an entry into a deferred content job.
type ContentLoader interface {
	Job(entry *Entry) queue.Job
}

// JobQueue admits content jobs.
type JobQueue interface {
	Enqueue(job queue.Job)
}

// Watcher invokes onNear once per region when the region nears the viewport.
type Watcher interface {
	Watch(region string, onNear func())
	Unwatch(region string)
	Disconnect()
}

// Presenter owns the visual side of the feed.
type Presenter interface {
	// AppendEntries mounts a freshly rendered batch after the existing entries.
	AppendEntries(entries []EntrySnapshot)
	// RenderEntry redraws one entry after a state transition.
	RenderEntry(entry EntrySnapshot)
	// SetStatus replaces the status line.
	SetStatus(text string)
	// ShowMessage replaces the whole container with text.
	ShowMessage(text string)
}
