package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/xrelay/internal/logger"
	"github.com/bnema/xrelay/internal/wire"
	evdev "github.com/gvalkov/golang-evdev"
)

// Source is a readable evdev device; *evdev.InputDevice satisfies it.
type Source interface {
	Read() ([]evdev.InputEvent, error)
}

// PointerLocator reports the absolute pointer position on the controller.
type PointerLocator interface {
	Position() (x, y int, err error)
}

// Reader turns raw evdev events from one device into queued Events.
type Reader struct {
	name   string
	src    Source
	queue  *Queue
	decode func(evdev.InputEvent) []Event
}

// NewMouseReader returns a Reader for a pointing device.
func NewMouseReader(src Source, q *Queue) *Reader {
	m := &mouseDecoder{}
	return &Reader{name: "mouse", src: src, queue: q, decode: m.feed}
}

// NewKeyboardReader returns a Reader for a keyboard.
func NewKeyboardReader(src Source, q *Queue) *Reader {
	return &Reader{name: "keyboard", src: src, queue: q, decode: decodeKey}
}

// Run reads until ctx is done. Read blocks, so the caller unblocks it on
// shutdown by closing the device; errors seen after ctx is done are
// treated as that close.
func (r *Reader) Run(ctx context.Context) error {
	logger.Debugf("Starting %s capture", r.name)
	for {
		if ctx.Err() != nil {
			return nil
		}

		events, err := r.src.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTemporary(err) {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return fmt.Errorf("%s capture: %w", r.name, err)
		}

		for _, raw := range events {
			for _, ev := range r.decode(raw) {
				r.queue.Push(ev)
			}
		}
	}
}

func isTemporary(err error) bool {
	return strings.Contains(err.Error(), "resource temporarily unavailable") ||
		errors.Is(err, context.DeadlineExceeded)
}

// mouseDecoder folds REL motion and wheel deltas into one Event per
// SYN_REPORT frame. Buttons are emitted immediately.
type mouseDecoder struct {
	moved          bool
	wheelX, wheelY int32
}

func (m *mouseDecoder) feed(ev evdev.InputEvent) []Event {
	switch ev.Type {
	case evdev.EV_REL:
		switch ev.Code {
		case evdev.REL_X, evdev.REL_Y:
			m.moved = true
		case evdev.REL_WHEEL:
			m.wheelY += ev.Value
		case evdev.REL_HWHEEL:
			m.wheelX += ev.Value
		}

	case evdev.EV_KEY:
		button, ok := buttonFor(ev.Code)
		if !ok || ev.Value > 1 {
			return nil
		}
		return []Event{{Kind: KindButton, Button: button, Pressed: ev.Value == 1}}

	case evdev.EV_SYN:
		if ev.Code != evdev.SYN_REPORT {
			return nil
		}
		var out []Event
		if m.moved {
			out = append(out, Event{Kind: KindMove})
		}
		if m.wheelX != 0 || m.wheelY != 0 {
			out = append(out, Event{Kind: KindScroll, DX: m.wheelX, DY: m.wheelY})
		}
		m.moved, m.wheelX, m.wheelY = false, 0, 0
		return out
	}
	return nil
}

func decodeKey(ev evdev.InputEvent) []Event {
	if ev.Type != evdev.EV_KEY || ev.Value < 0 || ev.Value > 2 {
		return nil
	}
	return []Event{{Kind: KindKey, Code: ev.Code, State: wire.KeyState(ev.Value)}}
}

func buttonFor(code uint16) (wire.Button, bool) {
	switch code {
	case evdev.BTN_LEFT:
		return wire.ButtonLeft, true
	case evdev.BTN_RIGHT:
		return wire.ButtonRight, true
	case evdev.BTN_MIDDLE:
		return wire.ButtonMiddle, true
	default:
		return 0, false
	}
}
