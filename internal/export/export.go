// Package export writes rendered feed snapshots as JSON documents to the
// local filesystem or to Google Cloud Storage.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/tagfeed/internal/feed"
	"github.com/JakeFAU/tagfeed/internal/session"
	"github.com/JakeFAU/tagfeed/internal/viewmodel"
)

// DefaultContentType is used when none is configured.
const DefaultContentType = "application/json"

// Object is an encoded export on its way to a store.
type Object struct {
	Path        string
	ContentType string
	// Metadata describes the feed the body was taken from.
	Metadata map[string]string
	Body     io.Reader
}

// BlobStore persists one object and returns its URI.
type BlobStore interface {
	Put(ctx context.Context, obj Object) (string, error)
}

// Document is the exported shape of a feed.
type Document struct {
	GeneratedAt time.Time `json:"generated_at"`
	Tag         string    `json:"tag"`
	Phase       string    `json:"phase"`
	Status      string    `json:"status"`
	Total       int       `json:"total"`
	Loaded      int       `json:"loaded"`
	Failed      int       `json:"failed"`
	Entries     []Entry   `json:"entries"`
}

// Metadata summarizes doc for object stores that keep per-object attributes.
func (d Document) Metadata() map[string]string {
	return map[string]string{
		"tag":          d.Tag,
		"phase":        d.Phase,
		"generated_at": d.GeneratedAt.UTC().Format(time.RFC3339),
		"total":        strconv.Itoa(d.Total),
		"loaded":       strconv.Itoa(d.Loaded),
		"failed":       strconv.Itoa(d.Failed),
	}
}

// Entry is one exported feed entry.
type Entry struct {
	Index     int             `json:"index"`
	Reference string          `json:"reference"`
	Label     string          `json:"label,omitempty"`
	State     feed.EntryState `json:"state"`
	Fragment  string          `json:"fragment"`
	Text      []string        `json:"text,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Destination is a parsed output location.
type Destination struct {
	Bucket string
	Dir    string
	Path   string
}

// Remote reports whether the destination is a GCS object.
func (d Destination) Remote() bool { return d.Bucket != "" }

// ParseDestination splits gs://bucket/object into bucket and object, or a
// local file path into its directory and file name.
func ParseDestination(output string) (Destination, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return Destination{}, fmt.Errorf("export output is required")
	}
	if rest, ok := strings.CutPrefix(output, "gs://"); ok {
		bucket, object, found := strings.Cut(rest, "/")
		if !found || bucket == "" || strings.Trim(object, "/") == "" {
			return Destination{}, fmt.Errorf("gcs output must look like gs://bucket/object, got %q", output)
		}
		return Destination{Bucket: bucket, Path: object}, nil
	}
	abs, err := filepath.Abs(output)
	if err != nil {
		return Destination{}, fmt.Errorf("resolve output path: %w", err)
	}
	return Destination{Dir: filepath.Dir(abs), Path: filepath.Base(abs)}, nil
}

// Open builds the blob store for dest. Remote destinations use Application
// Default Credentials; the returned close func releases the client.
func Open(ctx context.Context, dest Destination) (BlobStore, func() error, error) {
	if !dest.Remote() {
		store, err := NewLocalStore(dest.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open local store: %w", err)
		}
		return store, func() error { return nil }, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("create gcs client: %w", err)
	}
	store, err := NewGCSStore(client, dest.Bucket)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("open gcs store: %w", err)
	}
	return store, client.Close, nil
}

// Build converts a session snapshot into an export document.
func Build(snap session.Snapshot, now time.Time) Document {
	doc := Document{
		GeneratedAt: now.UTC(),
		Tag:         snap.Feed.Tag,
		Phase:       string(snap.Feed.Phase),
		Status:      snap.Feed.Status,
		Total:       snap.Feed.Total,
		Entries:     make([]Entry, 0, len(snap.Feed.Entries)),
	}
	for _, e := range snap.Feed.Entries {
		switch e.State {
		case feed.StateLoaded:
			doc.Loaded++
		case feed.StateFailed:
			doc.Failed++
		}
		doc.Entries = append(doc.Entries, Entry{
			Index:     e.Index,
			Reference: e.Item.Reference,
			Label:     e.Item.Label,
			State:     e.State,
			Fragment:  e.Fragment,
			Text:      viewmodel.TextBlocks(e.Fragment),
			Error:     e.Error,
		})
	}
	return doc
}

// Write encodes doc and stores it at path along with doc.Metadata().
func Write(ctx context.Context, store BlobStore, path, contentType string, doc Document) (string, error) {
	if contentType == "" {
		contentType = DefaultContentType
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	uri, err := store.Put(ctx, Object{
		Path:        path,
		ContentType: contentType,
		Metadata:    doc.Metadata(),
		Body:        &buf,
	})
	if err != nil {
		return "", fmt.Errorf("store export: %w", err)
	}
	return uri, nil
}
