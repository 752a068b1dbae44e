package x11

import (
	"fmt"
	"sync"
	"time"

	"github.com/bnema/xrelay/internal/geometry"
	"github.com/bnema/xrelay/internal/logger"
)

// DefaultTTL is how long focus and region answers are reused. Motion events
// arrive far faster than windows move, so most lookups are served cached.
const DefaultTTL = 250 * time.Millisecond

// FocusSource reports the titles along the focused window's ancestry.
type FocusSource interface {
	FocusedNames() ([]string, error)
}

// cached memoises fetch for ttl.
type cached[T any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	fetch func() (T, error)

	value T
	err   error
	at    time.Time
	valid bool
}

func (c *cached[T]) get() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.valid && now.Sub(c.at) < c.ttl {
		return c.value, c.err
	}
	c.value, c.err = c.fetch()
	c.at = now
	c.valid = true
	return c.value, c.err
}

// FocusGate reports whether the viewer window has input focus.
type FocusGate struct {
	name  string
	cache cached[bool]
}

// NewFocusGate returns a gate open while the focused window, or one of its
// ancestors, is titled windowName.
func NewFocusGate(src FocusSource, windowName string, ttl time.Duration) *FocusGate {
	g := &FocusGate{name: windowName}
	g.cache = cached[bool]{
		ttl: ttl,
		now: time.Now,
		fetch: func() (bool, error) {
			names, err := src.FocusedNames()
			if err != nil {
				return false, err
			}
			for _, n := range names {
				if n == windowName {
					return true, nil
				}
			}
			return false, nil
		},
	}
	return g
}

// InFocus reports the gate state. Lookup failures close the gate.
func (g *FocusGate) InFocus() bool {
	ok, err := g.cache.get()
	if err != nil {
		logger.Debugf("Focus lookup failed: %v", err)
		return false
	}
	return ok
}

// RegionTracker follows the on-screen geometry of the viewer window.
type RegionTracker struct {
	name  string
	cache cached[geometry.Rect]
}

// NewRegionTracker tracks the first window titled windowName.
func NewRegionTracker(windows geometry.WindowQuery, windowName string, ttl time.Duration) *RegionTracker {
	t := &RegionTracker{name: windowName}
	t.cache = cached[geometry.Rect]{
		ttl: ttl,
		now: time.Now,
		fetch: func() (geometry.Rect, error) {
			rects, err := windows.WindowsByName(windowName)
			if err != nil {
				return geometry.Rect{}, err
			}
			if len(rects) == 0 {
				return geometry.Rect{}, fmt.Errorf("%w: %q", ErrWindowNotFound, windowName)
			}
			return rects[0], nil
		},
	}
	return t
}

// Region returns the tracked window's absolute geometry.
func (t *RegionTracker) Region() (geometry.Rect, error) {
	return t.cache.get()
}
