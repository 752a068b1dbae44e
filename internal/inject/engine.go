// Package inject replays decoded stream events through the isolated virtual
// devices.
package inject

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/xrelay/internal/geometry"
	"github.com/bnema/xrelay/internal/logger"
	"github.com/bnema/xrelay/internal/vdev"
	"github.com/bnema/xrelay/internal/wire"
)

// DefaultPacing keeps absolute moves below the input stack's sampling rate.
const DefaultPacing = 6 * time.Millisecond

// PointerState is the last absolute position written to the virtual pointer.
type PointerState struct {
	X int32
	Y int32
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Moves      uint64
	Clicks     uint64
	Scrolls    uint64
	Keys       uint64
	Discarded  uint64 // pointer events dropped while a macro owned the pointer
	ClosedRace uint64 // writes that hit an already closed device
	Macros     uint64
	Pointer    PointerState
}

// Engine serializes all writes to the virtual pointer and keyboard. The
// pointer and keyboard each have their own lock so key events never wait
// on pointer pacing or on a running macro.
type Engine struct {
	pointer   vdev.Device
	keyboard  vdev.Device
	transform geometry.Transform
	pacing    time.Duration
	sleep     func(time.Duration)

	pointerMu sync.Mutex
	// Guarded by pointerMu: a press written but not yet synced, and the
	// buttons the network currently holds down.
	pending bool
	held    map[uint16]bool

	// stateMu is separate from pointerMu so status reads never wait on a
	// running macro.
	stateMu sync.Mutex
	state   PointerState

	keyboardMu sync.Mutex

	// dropping counts macros holding or waiting for the pointer.
	dropping atomic.Int32

	moves, clicks, scrolls, keys atomic.Uint64
	discarded, closedRace        atomic.Uint64
	macros                       atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithPacing sets the pause after each absolute move.
func WithPacing(d time.Duration) Option {
	return func(e *Engine) { e.pacing = d }
}

// WithSleep replaces time.Sleep for pacing.
func WithSleep(sleep func(time.Duration)) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// NewEngine returns an engine writing to pointer and keyboard. t supplies
// the origin added to every stream-relative position.
func NewEngine(pointer, keyboard vdev.Device, t geometry.Transform, opts ...Option) *Engine {
	e := &Engine{
		pointer:   pointer,
		keyboard:  keyboard,
		transform: t,
		pacing:    DefaultPacing,
		sleep:     time.Sleep,
		held:      make(map[uint16]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply dispatches ev to the matching Apply method.
func (e *Engine) Apply(ev wire.Event) error {
	switch ev := ev.(type) {
	case wire.Movement:
		return e.ApplyMovement(ev.X, ev.Y)
	case wire.Click:
		return e.ApplyClick(ev.X, ev.Y, ev.Button, ev.Pressed)
	case wire.Scroll:
		return e.ApplyScroll(ev.DX, ev.DY)
	case wire.Key:
		return e.ApplyKey(ev.Code, ev.State)
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

// ApplyMovement moves the pointer to the stream-relative position (x, y).
func (e *Engine) ApplyMovement(x, y int16) error {
	abs := e.transform.ToAbsolute(geometry.Point{X: int(x), Y: int(y)})

	ok, err := e.withPointer(func() error {
		f := frame{dev: e.pointer}
		f.write(vdev.EvAbs, vdev.AbsX, int32(abs.X))
		f.write(vdev.EvAbs, vdev.AbsY, int32(abs.Y))
		f.sync()
		if f.err != nil {
			return f.err
		}
		e.pending = false
		e.setPointer(PointerState{X: int32(abs.X), Y: int32(abs.Y)})
		return nil
	})
	if !ok || err != nil {
		return e.settle(err)
	}

	e.moves.Add(1)
	if e.pacing > 0 {
		e.sleep(e.pacing)
	}
	return nil
}

// ApplyClick writes a button transition. The frame is committed on release
// only, so a press is flushed together with its release.
func (e *Engine) ApplyClick(x, y int16, button wire.Button, pressed bool) error {
	code, err := buttonCode(button)
	if err != nil {
		return err
	}

	ok, err := e.withPointer(func() error {
		f := frame{dev: e.pointer}
		f.write(vdev.EvKey, code, boolValue(pressed))
		if !pressed {
			f.sync()
		}
		if f.err != nil {
			return f.err
		}
		e.held[code] = pressed
		e.pending = pressed
		return nil
	})
	if ok && err == nil {
		e.clicks.Add(1)
	}
	return e.settle(err)
}

// ApplyScroll writes a wheel delta and commits immediately.
func (e *Engine) ApplyScroll(dx, dy int16) error {
	ok, err := e.withPointer(func() error {
		f := frame{dev: e.pointer}
		f.write(vdev.EvRel, vdev.RelWheel, int32(dy))
		if dx != 0 {
			f.write(vdev.EvRel, vdev.RelHWheel, int32(dx))
		}
		f.sync()
		if f.err != nil {
			return f.err
		}
		e.pending = false
		return nil
	})
	if ok && err == nil {
		e.scrolls.Add(1)
	}
	return e.settle(err)
}

// ApplyKey writes a key transition to the keyboard. Repeats are not
// committed.
func (e *Engine) ApplyKey(code uint16, state wire.KeyState) error {
	e.keyboardMu.Lock()
	defer e.keyboardMu.Unlock()

	f := frame{dev: e.keyboard}
	f.write(vdev.EvKey, code, int32(state))
	if state != wire.KeyRepeated {
		f.sync()
	}
	if f.err == nil {
		e.keys.Add(1)
	}
	return e.settle(f.err)
}

// Pointer returns the last absolute pointer position written.
func (e *Engine) Pointer() PointerState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *Engine) setPointer(p PointerState) {
	e.stateMu.Lock()
	e.state = p
	e.stateMu.Unlock()
}

// Dropping reports whether a macro currently owns the pointer.
func (e *Engine) Dropping() bool {
	return e.dropping.Load() > 0
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Moves:      e.moves.Load(),
		Clicks:     e.clicks.Load(),
		Scrolls:    e.scrolls.Load(),
		Keys:       e.keys.Load(),
		Discarded:  e.discarded.Load(),
		ClosedRace: e.closedRace.Load(),
		Macros:     e.macros.Load(),
		Pointer:    e.Pointer(),
	}
}

// withPointer runs fn holding the pointer lock. Network pointer events are
// discarded, not queued, while a macro owns the pointer; ok is false then.
func (e *Engine) withPointer(fn func() error) (ok bool, err error) {
	if e.Dropping() {
		e.discarded.Add(1)
		return false, nil
	}

	e.pointerMu.Lock()
	defer e.pointerMu.Unlock()

	// A macro may have taken over while we waited for the lock.
	if e.Dropping() {
		e.discarded.Add(1)
		return false, nil
	}
	return true, fn()
}

// acquirePointer gives a macro exclusive use of the pointer until release
// is called. Before returning it commits any press the network left
// unsynced and lifts the buttons the network holds, since their releases
// are discarded while the macro runs. On error the pointer is not held.
func (e *Engine) acquirePointer() (release func(), err error) {
	e.dropping.Add(1)
	e.pointerMu.Lock()
	release = func() {
		e.pointerMu.Unlock()
		e.dropping.Add(-1)
	}

	if err := e.releaseHeld(); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// releaseHeld closes the network's open frame on its own, then releases
// every held button in a second frame. Callers hold pointerMu.
func (e *Engine) releaseHeld() error {
	f := frame{dev: e.pointer}
	if e.pending {
		f.sync()
	}
	var lifted bool
	for _, code := range pointerButtons {
		if e.held[code] {
			f.write(vdev.EvKey, code, 0)
			lifted = true
		}
	}
	if lifted {
		f.sync()
	}
	if f.err != nil {
		return f.err
	}
	e.pending = false
	clear(e.held)
	return nil
}

// settle swallows writes that raced with device shutdown.
func (e *Engine) settle(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, vdev.ErrDeviceClosed) {
		e.closedRace.Add(1)
		logger.Debugf("Write after device close ignored: %v", err)
		return nil
	}
	return err
}

// frame accumulates writes to one device and stops at the first error.
type frame struct {
	dev vdev.Device
	err error
}

func (f *frame) write(typ, code uint16, value int32) {
	if f.err == nil {
		f.err = f.dev.Write(typ, code, value)
	}
}

func (f *frame) sync() {
	if f.err == nil {
		f.err = f.dev.Sync()
	}
}

var pointerButtons = []uint16{vdev.BtnLeft, vdev.BtnRight, vdev.BtnMiddle}

func buttonCode(b wire.Button) (uint16, error) {
	switch b {
	case wire.ButtonLeft:
		return vdev.BtnLeft, nil
	case wire.ButtonRight:
		return vdev.BtnRight, nil
	case wire.ButtonMiddle:
		return vdev.BtnMiddle, nil
	default:
		return 0, fmt.Errorf("%w: unknown button %d", wire.ErrMalformedEvent, b)
	}
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
