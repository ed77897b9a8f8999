package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tagfeed/internal/queue"
)

type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) LoadIndex(ctx context.Context, tag string) ([]Item, error) {
	args := m.Called(ctx, tag)
	items, _ := args.Get(0).([]Item)
	return items, args.Error(1)
}

type stubContent struct{}

func (stubContent) Job(entry *Entry) queue.Job {
	return func(context.Context) error {
		entry.Resolve("<p>" + entry.Item().Reference + "</p>")
		return nil
	}
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (q *recordingQueue) Enqueue(job queue.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fakeWatcher struct {
	mu           sync.Mutex
	targets      map[string]func()
	watches      int
	disconnected int
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{targets: map[string]func(){}}
}

func (w *fakeWatcher) Watch(region string, onNear func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.targets[region] = onNear
	w.watches++
}

func (w *fakeWatcher) Unwatch(region string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.targets, region)
}

func (w *fakeWatcher) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.targets = map[string]func(){}
	w.disconnected++
}

// fire invokes region's callback without forgetting it, like a detector that
// reports the same region twice.
func (w *fakeWatcher) fire(region string) bool {
	w.mu.Lock()
	cb, ok := w.targets[region]
	w.mu.Unlock()
	if ok {
		cb()
	}
	return ok
}

func (w *fakeWatcher) armed(region string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.targets[region]
	return ok
}

type fakePresenter struct {
	mu       sync.Mutex
	entries  []EntrySnapshot
	renders  []EntrySnapshot
	statuses []string
	messages []string
}

func (p *fakePresenter) AppendEntries(entries []EntrySnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entries...)
}

func (p *fakePresenter) RenderEntry(entry EntrySnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.renders = append(p.renders, entry)
}

func (p *fakePresenter) SetStatus(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, text)
}

func (p *fakePresenter) ShowMessage(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, text)
}

type harness struct {
	index    *mockIndex
	jobs     *recordingQueue
	sentinel *fakeWatcher
	entries  *fakeWatcher
	view     *fakePresenter
	ctrl     *Controller
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		index:    &mockIndex{},
		jobs:     &recordingQueue{},
		sentinel: newFakeWatcher(),
		entries:  newFakeWatcher(),
		view:     &fakePresenter{},
	}
	ctrl, err := NewController(opts, Dependencies{
		Index:    h.index,
		Content:  stubContent{},
		Jobs:     h.jobs,
		Sentinel: h.sentinel,
		Entries:  h.entries,
		View:     h.view,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func items(n int) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{Reference: fmt.Sprintf("https://blog.example/p/%d", i)}
	}
	return out
}

func TestNewControllerRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewController(Options{Tag: "go"}, Dependencies{})
	require.Error(t, err)
}

func TestBatchCountIsCeilOfLengthOverSize(t *testing.T) {
	t.Parallel()

	cases := []struct{ total, batch int }{
		{1, 10}, {10, 10}, {11, 10}, {23, 10}, {7, 1}, {5, 3},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("L%d_B%d", tc.total, tc.batch), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Options{Tag: "go", BatchSize: tc.batch, ShowStatus: true})
			h.index.On("LoadIndex", mock.Anything, "go").Return(items(tc.total), nil)

			require.NoError(t, h.ctrl.Init(context.Background()))
			calls := 1
			for !h.ctrl.Done() {
				require.Positive(t, h.ctrl.RenderNextBatch())
				calls++
				require.LessOrEqual(t, h.ctrl.Snapshot().Next, tc.total)
			}
			want := (tc.total + tc.batch - 1) / tc.batch
			assert.Equal(t, want, calls)
			assert.Equal(t, tc.total, h.ctrl.Snapshot().Next)
			assert.Len(t, h.view.entries, tc.total)
			for i, e := range h.view.entries {
				assert.Equal(t, i, e.Index)
				assert.Equal(t, StatePlaceholder, e.State)
			}

			assert.Zero(t, h.ctrl.RenderNextBatch())
			assert.Equal(t, tc.total, h.ctrl.Snapshot().Next)
			assert.False(t, h.sentinel.armed(SentinelRegion))
		})
	}
}

func TestStatusProgression(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{Tag: "running", BatchSize: 10, ShowStatus: true})
	h.index.On("LoadIndex", mock.Anything, "running").Return(items(23), nil)

	require.NoError(t, h.ctrl.Init(context.Background()))
	assert.Equal(t, []string{
		"Loading...",
		`Found 23 items for "running". Loading...`,
		"Loaded 10 of 23. Scroll for more...",
	}, h.view.statuses)
	assert.True(t, h.sentinel.armed(SentinelRegion))

	require.True(t, h.sentinel.fire(SentinelRegion))
	assert.Equal(t, "Loaded 20 of 23. Scroll for more...", h.ctrl.Snapshot().Status)
	require.True(t, h.sentinel.fire(SentinelRegion))
	assert.Equal(t, `All 23 loaded for "running".`, h.ctrl.Snapshot().Status)
	assert.Equal(t, PhaseComplete, h.ctrl.Phase())
	assert.False(t, h.sentinel.armed(SentinelRegion))
	assert.Empty(t, h.view.messages)
}

func TestMissingTagMakesNoRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{Tag: "  ", BatchSize: 10, ShowStatus: true})
	err := h.ctrl.Init(context.Background())

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"No tag specified."}, h.view.messages)
	assert.Equal(t, PhaseMisconfigured, h.ctrl.Phase())
	h.index.AssertNotCalled(t, "LoadIndex", mock.Anything, mock.Anything)
}

func TestIndexFailureIsTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{Tag: "go", BatchSize: 10, ShowStatus: false})
	boom := &FetchError{URL: "https://blog.example/tag/go", StatusCode: 500}
	h.index.On("LoadIndex", mock.Anything, "go").Return(nil, boom)

	err := h.ctrl.Init(context.Background())
	var indexErr *IndexError
	require.ErrorAs(t, err, &indexErr)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"Error loading tag feed."}, h.view.messages)
	assert.Empty(t, h.view.statuses)
	assert.Empty(t, h.view.entries)
	assert.Zero(t, h.sentinel.watches)
	assert.Zero(t, h.jobs.len())
	assert.Zero(t, h.ctrl.RenderNextBatch())
	assert.True(t, h.ctrl.Done())
}

func TestEmptyIndexNeverArmsSentinel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{Tag: "quiet", BatchSize: 10, ShowStatus: true})
	h.index.On("LoadIndex", mock.Anything, "quiet").Return([]Item{}, nil)

	err := h.ctrl.Init(context.Background())
	require.ErrorIs(t, err, ErrNoItems)
	assert.Equal(t, "No items found for tag: quiet", h.ctrl.Snapshot().Status)
	assert.Zero(t, h.sentinel.watches)
	assert.Equal(t, 1, h.sentinel.disconnected)
	assert.Empty(t, h.view.entries)
	assert.Zero(t, h.jobs.len())
	assert.Equal(t, PhaseEmpty, h.ctrl.Phase())
}

func TestInitTwice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{Tag: "go", BatchSize: 10})
	h.index.On("LoadIndex", mock.Anything, "go").Return(items(1), nil).Once()
	require.NoError(t, h.ctrl.Init(context.Background()))
	require.Error(t, h.ctrl.Init(context.Background()))
	h.index.AssertNumberOfCalls(t, "LoadIndex", 1)
}

func TestEntryTriggerIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{Tag: "go", BatchSize: 3, ShowStatus: true})
	h.index.On("LoadIndex", mock.Anything, "go").Return(items(3), nil)
	require.NoError(t, h.ctrl.Init(context.Background()))

	require.True(t, h.entries.fire(EntryRegion(1)))
	require.True(t, h.entries.fire(EntryRegion(1)))
	assert.Equal(t, 1, h.jobs.len())
	assert.Equal(t, StateLoading, h.ctrl.Snapshot().Entries[1].State)

	require.NoError(t, h.jobs.jobs[0](context.Background()))
	snap := h.ctrl.Snapshot().Entries[1]
	assert.Equal(t, StateLoaded, snap.State)
	assert.Equal(t, "<p>https://blog.example/p/1</p>", snap.Fragment)

	require.True(t, h.entries.fire(EntryRegion(1)))
	assert.Equal(t, 1, h.jobs.len())
	assert.Equal(t, StatePlaceholder, h.ctrl.Snapshot().Entries[0].State)

	states := make([]EntryState, 0, len(h.view.renders))
	for _, r := range h.view.renders {
		states = append(states, r.State)
	}
	assert.Equal(t, []EntryState{StateLoading, StateLoaded}, states)
}

func TestIndexErrorIsWrapped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{Tag: "go", BatchSize: 10, ShowStatus: true})
	h.index.On("LoadIndex", mock.Anything, "go").Return(nil, errors.New("dial tcp: refused"))

	err := h.ctrl.Init(context.Background())
	var indexErr *IndexError
	require.ErrorAs(t, err, &indexErr)
	assert.Equal(t, "go", indexErr.Tag)
	assert.Equal(t, "Error loading tag feed.", h.ctrl.Snapshot().Status)
	assert.Equal(t, PhaseFailed, h.ctrl.Phase())
}
