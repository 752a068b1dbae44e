// Package wire defines the datagram format used between the controller and
// the streamer.
//
// Each datagram carries exactly one event: a tag byte followed by a
// fixed-width, big-endian payload chosen by the tag. There is no length
// field and no checksum; the datagram boundary is the message boundary.
//
//	MOVEMENT (0x00): x:int16 y:int16                        = 5 bytes
//	CLICK    (0x01): x:int16 y:int16 button:uint8 pressed:uint8 = 7 bytes
//	SCROLL   (0x02): x:int16 y:int16 dx:int16 dy:int16      = 9 bytes
//	KEY      (0x03): code:uint16 state:uint8                = 4 bytes
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedEvent is returned for empty, undersized or unknown datagrams.
var ErrMalformedEvent = errors.New("malformed event")

// Tag identifies the event kind carried by a datagram.
type Tag byte

const (
	TagMovement Tag = 0x00
	TagClick    Tag = 0x01
	TagScroll   Tag = 0x02
	TagKey      Tag = 0x03
)

func (t Tag) String() string {
	switch t {
	case TagMovement:
		return "movement"
	case TagClick:
		return "click"
	case TagScroll:
		return "scroll"
	case TagKey:
		return "key"
	default:
		return fmt.Sprintf("tag(0x%02x)", byte(t))
	}
}

// Size returns the full datagram size for t, tag byte included, or 0 for
// unknown tags.
func (t Tag) Size() int {
	switch t {
	case TagMovement:
		return 5
	case TagClick:
		return 7
	case TagScroll:
		return 9
	case TagKey:
		return 4
	default:
		return 0
	}
}

// Button is the protocol-level mouse button id.
type Button uint8

const (
	ButtonLeft   Button = 1
	ButtonRight  Button = 2
	ButtonMiddle Button = 3
)

func (b Button) valid() bool {
	return b >= ButtonLeft && b <= ButtonMiddle
}

// KeyState mirrors the evdev key value semantics.
type KeyState uint8

const (
	KeyReleased KeyState = 0
	KeyPressed  KeyState = 1
	KeyRepeated KeyState = 2
)

// Event is one decoded datagram. The concrete types are Movement, Click,
// Scroll and Key.
type Event interface {
	Tag() Tag
	appendPayload(b []byte) []byte
}

// Movement is a stream-relative absolute pointer position.
type Movement struct {
	X, Y int16
}

// Click is a button transition at a stream-relative position.
type Click struct {
	X, Y    int16
	Button  Button
	Pressed bool
}

// Scroll is a wheel delta at a stream-relative position.
type Scroll struct {
	X, Y   int16
	DX, DY int16
}

// Key is a keyboard transition using evdev key codes.
type Key struct {
	Code  uint16
	State KeyState
}

func (Movement) Tag() Tag { return TagMovement }
func (Click) Tag() Tag    { return TagClick }
func (Scroll) Tag() Tag   { return TagScroll }
func (Key) Tag() Tag      { return TagKey }

func (m Movement) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(m.X))
	return binary.BigEndian.AppendUint16(b, uint16(m.Y))
}

func (c Click) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(c.X))
	b = binary.BigEndian.AppendUint16(b, uint16(c.Y))
	b = append(b, byte(c.Button))
	if c.Pressed {
		return append(b, 1)
	}
	return append(b, 0)
}

func (s Scroll) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(s.X))
	b = binary.BigEndian.AppendUint16(b, uint16(s.Y))
	b = binary.BigEndian.AppendUint16(b, uint16(s.DX))
	return binary.BigEndian.AppendUint16(b, uint16(s.DY))
}

func (k Key) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, k.Code)
	return append(b, byte(k.State))
}

// Encode serializes ev into a new datagram.
func Encode(ev Event) []byte {
	buf := make([]byte, 0, ev.Tag().Size())
	buf = append(buf, byte(ev.Tag()))
	return ev.appendPayload(buf)
}

// Decode parses one datagram. Bytes past the tag's fixed size are ignored.
func Decode(data []byte) (Event, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrMalformedEvent)
	}

	tag := Tag(data[0])
	size := tag.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: unknown %s", ErrMalformedEvent, tag)
	}
	if len(data) < size {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrMalformedEvent, tag, size, len(data))
	}

	p := data[1:size]
	switch tag {
	case TagMovement:
		return Movement{X: int16At(p, 0), Y: int16At(p, 2)}, nil

	case TagClick:
		button := Button(p[4])
		if !button.valid() {
			return nil, fmt.Errorf("%w: unknown button %d", ErrMalformedEvent, button)
		}
		if p[5] > 1 {
			return nil, fmt.Errorf("%w: pressed flag %d", ErrMalformedEvent, p[5])
		}
		return Click{X: int16At(p, 0), Y: int16At(p, 2), Button: button, Pressed: p[5] == 1}, nil

	case TagScroll:
		return Scroll{X: int16At(p, 0), Y: int16At(p, 2), DX: int16At(p, 4), DY: int16At(p, 6)}, nil

	default: // TagKey
		state := KeyState(p[2])
		if state > KeyRepeated {
			return nil, fmt.Errorf("%w: key state %d", ErrMalformedEvent, state)
		}
		return Key{Code: binary.BigEndian.Uint16(p[0:2]), State: state}, nil
	}
}

func int16At(p []byte, off int) int16 {
	return int16(binary.BigEndian.Uint16(p[off : off+2]))
}
