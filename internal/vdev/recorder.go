package vdev

import (
	"errors"
	"fmt"
	"sync"
)

// Op is one recorded device write. A sync is recorded as EV_SYN/SYN_REPORT.
type Op struct {
	Type  uint16
	Code  uint16
	Value int32
}

// SyncOp is the Op recorded for Sync.
var SyncOp = Op{Type: EvSyn, Code: SynReport}

func (o Op) String() string {
	if o == SyncOp {
		return "sync"
	}
	return fmt.Sprintf("%d/%d=%d", o.Type, o.Code, o.Value)
}

// Recorder is an in-memory Device that records every write. It is used in
// place of uinput where no kernel device is available.
type Recorder struct {
	mu     sync.Mutex
	name   string
	caps   Capabilities
	ops    []Op
	closed bool
	err    error
}

// NewRecorder returns an open Recorder.
func NewRecorder(name string, caps Capabilities) *Recorder {
	return &Recorder{name: name, caps: caps}
}

func (r *Recorder) Name() string { return r.name }

// Capabilities returns the capability set the recorder was created with.
func (r *Recorder) Capabilities() Capabilities { return r.caps }

func (r *Recorder) Write(typ, code uint16, value int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrDeviceClosed
	}
	if r.err != nil {
		return r.err
	}
	r.ops = append(r.ops, Op{Type: typ, Code: code, Value: value})
	return nil
}

func (r *Recorder) Sync() error {
	return r.Write(EvSyn, SynReport, 0)
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// FailWith makes subsequent writes return err. Pass nil to clear.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Ops returns a copy of everything written so far.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Reset discards recorded writes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.ops = nil
	r.mu.Unlock()
}

// RecordingFactory is a Factory that hands out Recorders and can be told to
// fail for a given device name.
type RecordingFactory struct {
	mu      sync.Mutex
	Devices []*Recorder
	FailFor string
}

// Create implements Factory.
func (f *RecordingFactory) Create(name string, caps Capabilities) (Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailFor != "" && f.FailFor == name {
		return nil, fmt.Errorf("create %q: %w", name, errFactory)
	}
	r := NewRecorder(name, caps)
	f.Devices = append(f.Devices, r)
	return r, nil
}

// Open returns the recorders that have not been closed.
func (f *RecordingFactory) Open() []*Recorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open []*Recorder
	for _, d := range f.Devices {
		if !d.Closed() {
			open = append(open, d)
		}
	}
	return open
}

var errFactory = errors.New("device creation refused")
