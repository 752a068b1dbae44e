// Package sender runs on the controller host: it turns captured input over
// the viewer window into wire events and ships them to the streamer.
package sender

import (
	"math"
	"sync/atomic"

	"github.com/bnema/xrelay/internal/geometry"
	"github.com/bnema/xrelay/internal/logger"
	"github.com/bnema/xrelay/internal/wire"
)

// FocusGate reports whether input should currently be relayed.
type FocusGate interface {
	InFocus() bool
}

// RegionSource returns the on-screen geometry of the viewer window.
type RegionSource interface {
	Region() (geometry.Rect, error)
}

// Transport delivers encoded datagrams; network.UDPSender satisfies it.
type Transport interface {
	Send(datagram []byte) error
}

// Stats counts encoder outcomes.
type Stats struct {
	Sent         uint64
	Gated        uint64
	Unmappable   uint64
	SendFailures uint64
}

// Encoder gates, maps and encodes input events.
type Encoder struct {
	gate      FocusGate
	region    RegionSource
	mapper    *geometry.Mapper
	transport Transport

	sent, gated, unmappable, failures atomic.Uint64
}

// NewEncoder returns an Encoder sending through transport.
func NewEncoder(gate FocusGate, region RegionSource, mapper *geometry.Mapper, transport Transport) *Encoder {
	return &Encoder{
		gate:      gate,
		region:    region,
		mapper:    mapper,
		transport: transport,
	}
}

// OnMove relays the pointer at absolute (x, y).
func (e *Encoder) OnMove(x, y int) {
	rel, ok := e.locate(x, y)
	if !ok {
		return
	}
	e.send(wire.Movement{X: int16(rel.X), Y: int16(rel.Y)})
}

// OnClick relays a button transition at absolute (x, y).
func (e *Encoder) OnClick(x, y int, button wire.Button, pressed bool) {
	rel, ok := e.locate(x, y)
	if !ok {
		return
	}
	e.send(wire.Click{X: int16(rel.X), Y: int16(rel.Y), Button: button, Pressed: pressed})
}

// OnScroll relays a wheel delta at absolute (x, y).
func (e *Encoder) OnScroll(x, y, dx, dy int) {
	rel, ok := e.locate(x, y)
	if !ok {
		return
	}
	e.send(wire.Scroll{X: int16(rel.X), Y: int16(rel.Y), DX: clamp16(dx), DY: clamp16(dy)})
}

// OnKey relays a key transition. Keys carry no position, so only the focus
// gate applies.
func (e *Encoder) OnKey(code uint16, state wire.KeyState) {
	if !e.gate.InFocus() {
		e.gated.Add(1)
		return
	}
	e.send(wire.Key{Code: code, State: state})
}

// Stats returns a snapshot of the counters.
func (e *Encoder) Stats() Stats {
	return Stats{
		Sent:         e.sent.Load(),
		Gated:        e.gated.Load(),
		Unmappable:   e.unmappable.Load(),
		SendFailures: e.failures.Load(),
	}
}

func (e *Encoder) locate(x, y int) (geometry.Point, bool) {
	if !e.gate.InFocus() {
		e.gated.Add(1)
		return geometry.Point{}, false
	}

	region, err := e.region.Region()
	if err != nil {
		logger.Debugf("Viewer region unavailable: %v", err)
		e.unmappable.Add(1)
		return geometry.Point{}, false
	}

	rel, ok := e.mapper.Map(geometry.Point{X: x, Y: y}, region)
	if !ok {
		e.unmappable.Add(1)
		return geometry.Point{}, false
	}
	return rel, true
}

func (e *Encoder) send(ev wire.Event) {
	if err := e.transport.Send(wire.Encode(ev)); err != nil {
		e.failures.Add(1)
		logger.Debugf("Dropped %s event: %v", ev.Tag(), err)
		return
	}
	e.sent.Add(1)
}

func clamp16(v int) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
