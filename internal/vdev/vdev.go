// Package vdev provides virtual input devices and the capability sets used
// to create them.
package vdev

import (
	"errors"
	"sort"

	evdev "github.com/gvalkov/golang-evdev"
)

// ErrDeviceClosed is returned when a device handle is used after it has been
// closed, including when the kernel has already torn the device down.
var ErrDeviceClosed = errors.New("virtual device closed")

// Event types and codes used by the relay.
const (
	EvSyn = uint16(evdev.EV_SYN)
	EvKey = uint16(evdev.EV_KEY)
	EvRel = uint16(evdev.EV_REL)
	EvAbs = uint16(evdev.EV_ABS)
	EvMsc = uint16(evdev.EV_MSC)

	SynReport = uint16(evdev.SYN_REPORT)

	RelX      = uint16(evdev.REL_X)
	RelY      = uint16(evdev.REL_Y)
	RelWheel  = uint16(evdev.REL_WHEEL)
	RelHWheel = uint16(evdev.REL_HWHEEL)

	AbsX = uint16(evdev.ABS_X)
	AbsY = uint16(evdev.ABS_Y)

	BtnLeft   = uint16(evdev.BTN_LEFT)
	BtnRight  = uint16(evdev.BTN_RIGHT)
	BtnMiddle = uint16(evdev.BTN_MIDDLE)
	KeyPower  = uint16(evdev.KEY_POWER)
)

// Device is a writable input device.
type Device interface {
	// Write queues one input event. It does not emit a sync report.
	Write(typ, code uint16, value int32) error
	// Sync emits EV_SYN/SYN_REPORT, committing queued events as one frame.
	Sync() error
	Close() error
	Name() string
}

// Factory creates a device with the given name and capabilities.
type Factory func(name string, caps Capabilities) (Device, error)

// AbsAxis is an absolute axis with its value range.
type AbsAxis struct {
	Code uint16
	Min  int32
	Max  int32
}

// Capabilities lists the event codes a device advertises, per event type.
type Capabilities struct {
	Keys  []uint16
	Rels  []uint16
	Miscs []uint16
	Abs   []AbsAxis
}

// Empty reports whether no code is advertised.
func (c Capabilities) Empty() bool {
	return len(c.Keys) == 0 && len(c.Rels) == 0 && len(c.Miscs) == 0 && len(c.Abs) == 0
}

// HasKey reports whether code is in the EV_KEY set.
func (c Capabilities) HasKey(code uint16) bool {
	for _, k := range c.Keys {
		if k == code {
			return true
		}
	}
	return false
}

// Union merges two capability sets. Codes are deduplicated and sorted; for
// an absolute axis present in both, the receiver's range wins.
func (c Capabilities) Union(o Capabilities) Capabilities {
	out := Capabilities{
		Keys:  mergeCodes(c.Keys, o.Keys),
		Rels:  mergeCodes(c.Rels, o.Rels),
		Miscs: mergeCodes(c.Miscs, o.Miscs),
	}

	seen := make(map[uint16]bool)
	for _, list := range [][]AbsAxis{c.Abs, o.Abs} {
		for _, a := range list {
			if seen[a.Code] {
				continue
			}
			seen[a.Code] = true
			out.Abs = append(out.Abs, a)
		}
	}
	sort.Slice(out.Abs, func(i, j int) bool { return out.Abs[i].Code < out.Abs[j].Code })
	return out
}

func mergeCodes(a, b []uint16) []uint16 {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	set := make(map[uint16]struct{}, len(a)+len(b))
	for _, c := range a {
		set[c] = struct{}{}
	}
	for _, c := range b {
		set[c] = struct{}{}
	}
	out := make([]uint16, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PointerCapabilities is the fixed capability set of the relay's virtual
// pointer: three buttons, wheels, relative motion for drags and absolute
// axes spanning the stream.
func PointerCapabilities(width, height int) Capabilities {
	return Capabilities{
		Keys: []uint16{BtnLeft, BtnRight, BtnMiddle, KeyPower},
		Rels: []uint16{RelWheel, RelHWheel, RelX, RelY},
		Abs: []AbsAxis{
			{Code: AbsX, Min: 0, Max: int32(width)},
			{Code: AbsY, Min: 0, Max: int32(height)},
		},
	}
}

// CapabilitiesOf extracts the EV_KEY, EV_REL and EV_MSC codes of an opened
// evdev device. Absolute axes are not copied.
func CapabilitiesOf(dev *evdev.InputDevice) Capabilities {
	var c Capabilities
	if dev == nil {
		return c
	}
	c.Keys = toCodes(dev.CapabilitiesFlat[evdev.EV_KEY])
	c.Rels = toCodes(dev.CapabilitiesFlat[evdev.EV_REL])
	c.Miscs = toCodes(dev.CapabilitiesFlat[evdev.EV_MSC])
	return c
}

// ReadCapabilities opens the evdev node at path and returns its capabilities.
func ReadCapabilities(path string) (Capabilities, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return Capabilities{}, err
	}
	defer func() { _ = dev.File.Close() }()
	return CapabilitiesOf(dev), nil
}

func toCodes(codes []int) []uint16 {
	if len(codes) == 0 {
		return nil
	}
	out := make([]uint16, 0, len(codes))
	for _, c := range codes {
		if c < 0 || c > 0xFFFF {
			continue
		}
		out = append(out, uint16(c))
	}
	return mergeCodes(out, nil)
}
