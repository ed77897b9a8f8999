// Package session assembles one feed instance: its queue, watchers, document
// and controller, plus the loop that re-evaluates proximity after every
// layout change.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagfeed/internal/feed"
	"github.com/JakeFAU/tagfeed/internal/metrics"
	"github.com/JakeFAU/tagfeed/internal/proximity"
	"github.com/JakeFAU/tagfeed/internal/queue"
	"github.com/JakeFAU/tagfeed/internal/viewmodel"
)

// Default proximity margins, in lines.
const (
	DefaultEntryMargin    = 40
	DefaultSentinelMargin = 60
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Config sizes a session.
type Config struct {
	Mount          Mount
	JobTimeout     time.Duration
	EntryMargin    int
	SentinelMargin int
	Width          int
}

// Dependencies are shared across sessions.
type Dependencies struct {
	Index   feed.IndexLoader
	Content feed.ContentLoader
	Logger  *zap.Logger
}

// Snapshot describes a session for hosts.
type Snapshot struct {
	ID       string             `json:"id"`
	Mount    Mount              `json:"mount"`
	Viewport proximity.Viewport `json:"viewport"`
	Height   int                `json:"height"`
	Feed     feed.Snapshot      `json:"feed"`
	Queue    queue.Stats        `json:"queue"`
	Created  time.Time          `json:"created"`
}

// Session is one mounted feed.
type Session struct {
	id         string
	mount      Mount
	created    time.Time
	logger     *zap.Logger
	doc        *viewmodel.Document
	jobs       *queue.Queue
	sentinel   *proximity.Watcher
	entries    *proximity.Watcher
	controller *feed.Controller

	ctx    context.Context
	cancel context.CancelFunc

	// checkMu serializes every proximity evaluation.
	checkMu sync.Mutex
	changed chan struct{}
	stop    chan struct{}
	stopped chan struct{}

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}

	mu        sync.Mutex
	viewport  proximity.Viewport
	started   bool
	closed    bool
	closeOnce sync.Once
}

// New builds a session and starts its layout loop. Call Start to load the feed.
func New(cfg Config, deps Dependencies) (*Session, error) {
	if deps.Index == nil || deps.Content == nil {
		return nil, errors.New("session requires index and content loaders")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mount := cfg.Mount.Normalize()
	entryMargin := cfg.EntryMargin
	if entryMargin <= 0 {
		entryMargin = DefaultEntryMargin
	}
	sentinelMargin := cfg.SentinelMargin
	if sentinelMargin <= 0 {
		sentinelMargin = DefaultSentinelMargin
	}

	id := uuid.NewString()
	logger = logger.Named("session").With(zap.String("session_id", id), zap.String("tag", mount.Tag))
	ctx, cancel := context.WithCancel(context.Background())

	doc := viewmodel.New(mount.DisplayName)
	if cfg.Width > 0 {
		doc.SetWidth(cfg.Width)
	}
	jobs := queue.New(queue.Config{
		MaxConcurrency: mount.MaxConcurrency,
		JobTimeout:     cfg.JobTimeout,
		BaseContext:    ctx,
		Logger:         logger,
	})
	s := &Session{
		id:       id,
		mount:    mount,
		created:  time.Now().UTC(),
		logger:   logger,
		doc:      doc,
		jobs:     jobs,
		sentinel: proximity.New("sentinel", doc, sentinelMargin, logger),
		entries:  proximity.New("entries", doc, entryMargin, logger),
		ctx:      ctx,
		cancel:   cancel,
		changed:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		subs:     make(map[chan struct{}]struct{}),
	}

	controller, err := feed.NewController(
		feed.Options{Tag: mount.Tag, BatchSize: mount.BatchSize, ShowStatus: mount.ShowStatus},
		feed.Dependencies{
			Index:    deps.Index,
			Content:  deps.Content,
			Jobs:     jobs,
			Sentinel: s.sentinel,
			Entries:  s.entries,
			View:     doc,
			Logger:   logger,
		},
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build controller: %w", err)
	}
	s.controller = controller

	doc.OnChange(s.signal)
	go s.loop()
	metrics.IncActiveSessions()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Mount returns the normalized mount configuration.
func (s *Session) Mount() Mount { return s.mount }

// Document exposes the rendered document.
func (s *Session) Document() *viewmodel.Document { return s.doc }

// Start loads the index and renders the first batch. The returned error is
// already reflected in the document; feed.ErrNoItems means the tag is empty.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.started:
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	s.mu.Unlock()

	ctx, cancel := mergeCancel(ctx, s.ctx)
	defer cancel()
	if err := s.controller.Init(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	return nil
}

// Scroll moves the viewport and fires every trigger now in range.
func (s *Session) Scroll(v proximity.Viewport) {
	if v.Top < 0 {
		v.Top = 0
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.viewport = v
	s.mu.Unlock()

	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	s.entries.Observe(v)
	s.sentinel.Observe(v)
}

// Resize rewraps the document to width columns.
func (s *Session) Resize(width int) {
	s.doc.SetWidth(width)
}

// Viewport returns the last scrolled-to viewport.
func (s *Session) Viewport() proximity.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// Render returns the document text.
func (s *Session) Render() string {
	return s.doc.Render()
}

// Done reports whether the feed will render nothing more.
func (s *Session) Done() bool {
	return s.controller.Done()
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:       s.id,
		Mount:    s.mount,
		Viewport: s.Viewport(),
		Height:   s.doc.Height(),
		Feed:     s.controller.Snapshot(),
		Queue:    s.jobs.Stats(),
		Created:  s.created,
	}
}

// Drain waits until proximity is settled and no job is pending or running.
func (s *Session) Drain(ctx context.Context) error {
	for {
		s.recheck()
		if err := s.jobs.Drain(ctx); err != nil {
			return fmt.Errorf("drain session: %w", err)
		}
		before := s.jobs.Stats().Started
		s.recheck()
		st := s.jobs.Stats()
		if st.Started == before && st.Pending == 0 && st.InFlight == 0 {
			return nil
		}
	}
}

// ScrollToEnd sweeps the viewport down one page at a time, letting every
// batch render and every entry settle, until the feed is done and the
// viewport rests at the bottom.
func (s *Session) ScrollToEnd(ctx context.Context, height int) error {
	if height < 1 {
		height = 1
	}
	s.mu.Lock()
	started, closed := s.started, s.closed
	s.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case !started:
		return errors.New("session not started")
	}

	top := s.Viewport().Top
	for {
		s.Scroll(proximity.Viewport{Top: top, Height: height})
		if err := s.Drain(ctx); err != nil {
			return err
		}
		total := s.doc.Height()
		if top+height >= total && s.controller.Done() {
			return nil
		}
		top = max(0, min(top+height, total-height))
	}
}

// Close stops the session. Running jobs see a canceled context, their entries
// fail, and nothing new is admitted.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.sentinel.Disconnect()
		s.entries.Disconnect()
		s.jobs.Close()
		s.cancel()
		close(s.stop)
		<-s.stopped

		s.subsMu.Lock()
		for ch := range s.subs {
			close(ch)
		}
		s.subs = nil
		s.subsMu.Unlock()

		metrics.DecActiveSessions()
		s.logger.Debug("session closed")
	})
}

// Subscribe returns a channel that receives a value after document changes.
// Bursts of changes coalesce into one notification. The channel is closed by
// the returned cancel func or when the session closes.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.subs == nil {
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	return ch, func() { s.unsubscribe(ch) }
}

func (s *Session) unsubscribe(ch chan struct{}) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *Session) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Session) loop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stop:
			return
		case <-s.changed:
			s.recheck()
		}
	}
}

func (s *Session) recheck() {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	s.entries.Recheck()
	s.sentinel.Recheck()
}

// mergeCancel returns a context derived from ctx that is also canceled when
// other is.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
