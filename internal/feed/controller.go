package feed

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/tagfeed/internal/metrics"
)

// Phase is the controller's coarse lifecycle.
type Phase string

// Controller phases.
const (
	PhaseIdle          Phase = "idle"
	PhaseLoading       Phase = "loading"
	PhaseReady         Phase = "ready"
	PhaseComplete      Phase = "complete"
	PhaseEmpty         Phase = "empty"
	PhaseFailed        Phase = "failed"
	PhaseMisconfigured Phase = "misconfigured"
)

// DefaultBatchSize is used when Options.BatchSize is unset.
const DefaultBatchSize = 10

// Options configures a Controller.
type Options struct {
	Tag        string
	BatchSize  int
	ShowStatus bool
}

// Dependencies are the collaborators a Controller drives.
type Dependencies struct {
	Index    IndexLoader
	Content  ContentLoader
	Jobs     JobQueue
	Sentinel Watcher
	Entries  Watcher
	View     Presenter
	Logger   *zap.Logger
}

// Snapshot is a copy of the controller's state.
type Snapshot struct {
	Tag     string          `json:"tag"`
	Phase   Phase           `json:"phase"`
	Status  string          `json:"status"`
	Total   int             `json:"total"`
	Next    int             `json:"next"`
	Entries []EntrySnapshot `json:"entries"`
}

// Controller paginates the ordered item list into placeholder batches.
//
// Presenter and Watcher implementations must not call back into the
// controller synchronously from AppendEntries or Watch; batches are
// serialized and such a call would wait on itself.
type Controller struct {
	opts     Options
	index    IndexLoader
	content  ContentLoader
	jobs     JobQueue
	sentinel Watcher
	watcher  Watcher
	view     Presenter
	status   StatusReporter
	logger   *zap.Logger

	renderMu sync.Mutex

	mu         sync.Mutex
	phase      Phase
	items      []Item
	next       int
	entries    []*Entry
	statusText string
}

// NewController validates the dependencies and builds an idle Controller.
func NewController(opts Options, deps Dependencies) (*Controller, error) {
	switch {
	case deps.Index == nil:
		return nil, errors.New("index loader is required")
	case deps.Content == nil:
		return nil, errors.New("content loader is required")
	case deps.Jobs == nil:
		return nil, errors.New("job queue is required")
	case deps.Sentinel == nil || deps.Entries == nil:
		return nil, errors.New("sentinel and entry watchers are required")
	case deps.View == nil:
		return nil, errors.New("presenter is required")
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	opts.Tag = strings.TrimSpace(opts.Tag)
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		opts:     opts,
		index:    deps.Index,
		content:  deps.Content,
		jobs:     deps.Jobs,
		sentinel: deps.Sentinel,
		watcher:  deps.Entries,
		view:     deps.View,
		status:   StatusReporter{Tag: opts.Tag},
		logger:   logger.With(zap.String("tag", opts.Tag)),
		phase:    PhaseIdle,
	}, nil
}

// Init loads the index and renders the first batch. Every failure is also
// turned into presentation state before it is returned: a *ConfigError for a
// missing tag, an *IndexError when the index cannot be loaded, and ErrNoItems
// for an empty index.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return errors.New("feed already initialized")
	}
	c.phase = PhaseLoading
	c.mu.Unlock()

	if c.opts.Tag == "" {
		c.setPhase(PhaseMisconfigured)
		text := c.status.MissingTag()
		c.recordStatus(text)
		c.view.ShowMessage(text)
		c.logger.Error("tag feed has no tag configured")
		return &ConfigError{Field: "tag", Msg: "missing collection identifier"}
	}

	c.publishStatus(c.status.Loading())
	items, err := c.index.LoadIndex(ctx, c.opts.Tag)
	if err != nil {
		var indexErr *IndexError
		if !errors.As(err, &indexErr) {
			err = &IndexError{Tag: c.opts.Tag, Err: err}
		}
		c.setPhase(PhaseFailed)
		c.terminal(c.status.Failed())
		c.logger.Error("tag index load failed", zap.Error(err))
		return err
	}
	if len(items) == 0 {
		c.setPhase(PhaseEmpty)
		c.sentinel.Disconnect()
		c.terminal(c.status.Empty())
		c.logger.Info("tag index is empty")
		return ErrNoItems
	}

	c.mu.Lock()
	c.items = append([]Item(nil), items...)
	c.phase = PhaseReady
	c.mu.Unlock()
	c.logger.Info("tag index loaded", zap.Int("items", len(items)))

	c.publishStatus(c.status.Found(len(items)))
	c.sentinel.Watch(SentinelRegion, c.onSentinel)
	c.RenderNextBatch()
	return nil
}

// RenderNextBatch mounts the next slice of placeholders and registers each
// with the entry watcher. It returns the number of entries rendered. Once the
// cursor reaches the end the sentinel is disconnected and further calls only
// restate the completion status.
func (c *Controller) RenderNextBatch() int {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	c.mu.Lock()
	if c.phase != PhaseReady && c.phase != PhaseComplete {
		c.mu.Unlock()
		return 0
	}
	total := len(c.items)
	if c.next >= total {
		c.phase = PhaseComplete
		c.mu.Unlock()
		c.sentinel.Disconnect()
		c.publishStatus(c.status.Complete(total))
		return 0
	}

	start := c.next
	end := min(start+c.opts.BatchSize, total)
	created := make([]*Entry, 0, end-start)
	snaps := make([]EntrySnapshot, 0, end-start)
	for i, item := range c.items[start:end] {
		entry := NewEntry(start+i, item, c.view.RenderEntry)
		created = append(created, entry)
		snaps = append(snaps, entry.Snapshot())
	}
	c.entries = append(c.entries, created...)
	c.next = end
	done := end == total
	if done {
		c.phase = PhaseComplete
	}
	c.mu.Unlock()

	c.view.AppendEntries(snaps)
	for _, entry := range created {
		c.watcher.Watch(entry.Region(), func() { c.trigger(entry) })
	}
	metrics.ObserveBatch(len(created))
	c.logger.Debug("batch rendered", zap.Int("from", start), zap.Int("to", end), zap.Int("total", total))

	c.publishStatus(c.status.Progress(end, total))
	if done {
		c.sentinel.Disconnect()
	} else {
		c.sentinel.Watch(SentinelRegion, c.onSentinel)
	}
	return len(created)
}

// Snapshot copies the controller state and every rendered entry.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	entries := append([]*Entry(nil), c.entries...)
	snap := Snapshot{
		Tag:    c.opts.Tag,
		Phase:  c.phase,
		Status: c.statusText,
		Total:  len(c.items),
		Next:   c.next,
	}
	c.mu.Unlock()

	snap.Entries = make([]EntrySnapshot, 0, len(entries))
	for _, entry := range entries {
		snap.Entries = append(snap.Entries, entry.Snapshot())
	}
	return snap
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Done reports whether the controller will render nothing more.
func (c *Controller) Done() bool {
	switch c.Phase() {
	case PhaseComplete, PhaseEmpty, PhaseFailed, PhaseMisconfigured:
		return true
	default:
		return false
	}
}

func (c *Controller) onSentinel() {
	c.RenderNextBatch()
}

// trigger is the only path that admits content jobs.
func (c *Controller) trigger(entry *Entry) {
	if !entry.Begin() {
		return
	}
	metrics.ObserveEntryState(StateLoading.String())
	c.jobs.Enqueue(c.content.Job(entry))
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Controller) recordStatus(text string) {
	c.mu.Lock()
	c.statusText = text
	c.mu.Unlock()
}

func (c *Controller) publishStatus(text string) {
	c.recordStatus(text)
	if c.opts.ShowStatus {
		c.view.SetStatus(text)
	}
}

// terminal shows an end state even when the status line is disabled.
func (c *Controller) terminal(text string) {
	c.recordStatus(text)
	if c.opts.ShowStatus {
		c.view.SetStatus(text)
		return
	}
	c.view.ShowMessage(text)
}
