// Package proximity detects when watched layout regions come within a margin
// of the visible viewport.
//
// A Watcher fires each region's callback once and then forgets the region.
// Hosts feed it viewport positions through Observe and ask it to re-evaluate
// after layout changes through Recheck. Callbacks run on the goroutine that
// performs the check, outside the watcher's lock, so they may call Watch or
// Unwatch freely.
package proximity

import (
	"sync"

	"go.uber.org/zap"
)

// Viewport is the visible window, in layout units.
type Viewport struct {
	Top    int `json:"top"`
	Height int `json:"height"`
}

// Layout reports where a region currently sits.
type Layout interface {
	Bounds(region string) (top, height int, ok bool)
}

// Watcher is a one-shot-per-region proximity detector.
type Watcher struct {
	name   string
	layout Layout
	margin int
	logger *zap.Logger

	mu       sync.Mutex
	targets  map[string]func()
	order    []string
	viewport Viewport
	observed bool
	checking bool
	dirty    bool
}

// New builds a Watcher that treats a region as near when it lies within
// margin units of either viewport edge.
func New(name string, layout Layout, margin int, logger *zap.Logger) *Watcher {
	if margin < 0 {
		margin = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		name:    name,
		layout:  layout,
		margin:  margin,
		logger:  logger,
		targets: make(map[string]func()),
	}
}

// Watch registers onNear for region, replacing any earlier callback. The
// region is evaluated on the next check.
func (w *Watcher) Watch(region string, onNear func()) {
	if onNear == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.targets[region]; !ok {
		w.order = append(w.order, region)
	}
	w.targets[region] = onNear
	w.dirty = true
}

// Unwatch forgets region without firing it.
func (w *Watcher) Unwatch(region string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(region)
}

// Disconnect forgets every region.
func (w *Watcher) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.targets) > 0 {
		w.logger.Debug("proximity watcher disconnected", zap.String("watcher", w.name), zap.Int("targets", len(w.targets)))
	}
	w.targets = make(map[string]func())
	w.order = nil
}

// Watching reports whether region is still registered.
func (w *Watcher) Watching(region string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.targets[region]
	return ok
}

// Len returns the number of registered regions.
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.targets)
}

// Observe records the viewport and fires every region now near it.
func (w *Watcher) Observe(v Viewport) {
	w.mu.Lock()
	w.viewport = v
	w.observed = true
	w.mu.Unlock()
	w.check()
}

// Recheck re-evaluates regions against the last observed viewport. It does
// nothing before the first Observe.
func (w *Watcher) Recheck() {
	w.check()
}

// check fires near regions until a pass fires nothing and no registration
// happened meanwhile. A check requested while another is running is folded
// into the running one.
func (w *Watcher) check() {
	w.mu.Lock()
	if !w.observed {
		w.mu.Unlock()
		return
	}
	if w.checking {
		w.dirty = true
		w.mu.Unlock()
		return
	}
	w.checking = true
	for {
		w.dirty = false
		fired := w.collectNearLocked()
		w.mu.Unlock()

		for _, onNear := range fired {
			onNear()
		}

		w.mu.Lock()
		if len(fired) == 0 && !w.dirty {
			break
		}
	}
	w.checking = false
	w.mu.Unlock()
}

func (w *Watcher) collectNearLocked() []func() {
	var fired []func()
	var remaining []string
	for _, region := range w.order {
		onNear, ok := w.targets[region]
		if !ok {
			continue
		}
		if w.nearLocked(region) {
			fired = append(fired, onNear)
			delete(w.targets, region)
			continue
		}
		remaining = append(remaining, region)
	}
	w.order = remaining
	return fired
}

func (w *Watcher) nearLocked(region string) bool {
	top, height, ok := w.layout.Bounds(region)
	if !ok {
		return false
	}
	if height < 1 {
		height = 1
	}
	lo := w.viewport.Top - w.margin
	hi := w.viewport.Top + w.viewport.Height + w.margin
	return top < hi && top+height > lo
}

func (w *Watcher) removeLocked(region string) {
	if _, ok := w.targets[region]; !ok {
		return
	}
	delete(w.targets, region)
	for i, r := range w.order {
		if r == region {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}
