package feed

import (
	"fmt"
	"sync"
)

// Item describes one post listed by a tag index. Order is the document order of
// the parsed index and duplicates are preserved.
type Item struct {
	Reference string `json:"reference"`
	Label     string `json:"label,omitempty"`
}

// EntryState is the lifecycle state of a rendered entry.
type EntryState int

// Entry states. Loaded and Failed are terminal.
const (
	StatePlaceholder EntryState = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s EntryState) String() string {
	switch s {
	case StatePlaceholder:
		return "placeholder"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the state name for JSON payloads.
func (s EntryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *EntryState) UnmarshalText(text []byte) error {
	for _, st := range []EntryState{StatePlaceholder, StateLoading, StateLoaded, StateFailed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown entry state %q", text)
}

// Terminal reports whether no further transition is possible.
func (s EntryState) Terminal() bool {
	return s == StateLoaded || s == StateFailed
}

// Fixed fragments shown inside an entry's content region.
const (
	PlaceholderFragment = `<p class="tag-entry-loading">Loading post...</p>`
	ErrorFragment       = `<p class="tag-entry-error-text">Could not load post content.</p>`
	NoContentFragment   = `<p>(No article found.)</p>`
)

// SentinelRegion names the trailing marker watched for the next batch.
const SentinelRegion = "sentinel"

// EntryRegion names the layout region of the entry at index i.
func EntryRegion(i int) string {
	return fmt.Sprintf("entry-%d", i)
}

// RenderFunc presents an entry after each state transition.
type RenderFunc func(EntrySnapshot)

// EntrySnapshot is a copy of an entry's observable state.
type EntrySnapshot struct {
	Index    int        `json:"index"`
	Item     Item       `json:"item"`
	State    EntryState `json:"state"`
	Fragment string     `json:"fragment"`
	Error    string     `json:"error,omitempty"`
}

// Entry is one rendered item. It starts as a placeholder, moves to loading at
// most once, and ends loaded or failed.
type Entry struct {
	mu       sync.Mutex
	index    int
	item     Item
	state    EntryState
	fragment string
	err      error
	render   RenderFunc
}

// NewEntry creates a placeholder entry. render may be nil.
func NewEntry(index int, item Item, render RenderFunc) *Entry {
	return &Entry{
		index:    index,
		item:     item,
		state:    StatePlaceholder,
		fragment: PlaceholderFragment,
		render:   render,
	}
}

// Index returns the entry's position in the ordered list.
func (e *Entry) Index() int { return e.index }

// Item returns the descriptor the entry was created from.
func (e *Entry) Item() Item { return e.item }

// Region returns the layout region name for this entry.
func (e *Entry) Region() string { return EntryRegion(e.index) }

// State returns the current state.
func (e *Entry) State() EntryState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Begin moves a placeholder to loading. It returns false when the entry has
// already been triggered, which makes repeated triggers no-ops.
func (e *Entry) Begin() bool {
	return e.transition(StatePlaceholder, StateLoading, "", nil)
}

// Resolve stores the loaded fragment. Only a loading entry can resolve.
func (e *Entry) Resolve(fragment string) bool {
	return e.transition(StateLoading, StateLoaded, fragment, nil)
}

// Fail stores the fixed error fragment. Only a loading entry can fail.
func (e *Entry) Fail(err error) bool {
	return e.transition(StateLoading, StateFailed, ErrorFragment, err)
}

// Snapshot copies the entry's observable state.
func (e *Entry) Snapshot() EntrySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Entry) transition(from, to EntryState, fragment string, err error) bool {
	e.mu.Lock()
	if e.state != from {
		e.mu.Unlock()
		return false
	}
	e.state = to
	if fragment != "" {
		e.fragment = fragment
	}
	e.err = err
	snap := e.snapshotLocked()
	render := e.render
	e.mu.Unlock()

	if render != nil {
		render(snap)
	}
	return true
}

func (e *Entry) snapshotLocked() EntrySnapshot {
	snap := EntrySnapshot{
		Index:    e.index,
		Item:     e.item,
		State:    e.state,
		Fragment: e.fragment,
	}
	if e.err != nil {
		snap.Error = e.err.Error()
	}
	return snap
}
