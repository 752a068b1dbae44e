package inject

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bnema/xrelay/internal/geometry"
	"github.com/bnema/xrelay/internal/vdev"
	"github.com/bnema/xrelay/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t geometry.Transform) (*Engine, *vdev.Recorder, *vdev.Recorder, *[]time.Duration) {
	pointer := vdev.NewRecorder("pointer", vdev.PointerCapabilities(t.StreamWidth, t.StreamHeight))
	keyboard := vdev.NewRecorder("keyboard", vdev.Capabilities{})
	var sleeps []time.Duration
	e := NewEngine(pointer, keyboard, t, WithSleep(func(d time.Duration) { sleeps = append(sleeps, d) }))
	return e, pointer, keyboard, &sleeps
}

func TestEngine_ApplyMovement(t *testing.T) {
	e, pointer, _, sleeps := newTestEngine(geometry.Transform{StreamWidth: 1920, StreamHeight: 1080, OriginX: 100, OriginY: 40})

	require.NoError(t, e.ApplyMovement(12, 7))

	assert.Equal(t, []vdev.Op{
		{Type: vdev.EvAbs, Code: vdev.AbsX, Value: 112},
		{Type: vdev.EvAbs, Code: vdev.AbsY, Value: 47},
		vdev.SyncOp,
	}, pointer.Ops())
	assert.Equal(t, PointerState{X: 112, Y: 47}, e.Pointer())
	assert.Equal(t, []time.Duration{DefaultPacing}, *sleeps)
}

func TestEngine_ApplyClick(t *testing.T) {
	tests := []struct {
		name    string
		button  wire.Button
		pressed bool
		want    []vdev.Op
	}{
		{"left press is not committed", wire.ButtonLeft, true, []vdev.Op{{Type: vdev.EvKey, Code: vdev.BtnLeft, Value: 1}}},
		{"left release commits", wire.ButtonLeft, false, []vdev.Op{{Type: vdev.EvKey, Code: vdev.BtnLeft, Value: 0}, vdev.SyncOp}},
		{"right press", wire.ButtonRight, true, []vdev.Op{{Type: vdev.EvKey, Code: vdev.BtnRight, Value: 1}}},
		{"middle release", wire.ButtonMiddle, false, []vdev.Op{{Type: vdev.EvKey, Code: vdev.BtnMiddle, Value: 0}, vdev.SyncOp}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, pointer, keyboard, _ := newTestEngine(geometry.Transform{StreamWidth: 800, StreamHeight: 600})
			require.NoError(t, e.ApplyClick(10, 10, tt.button, tt.pressed))
			assert.Equal(t, tt.want, pointer.Ops())
			assert.Empty(t, keyboard.Ops())
		})
	}

	t.Run("unknown button", func(t *testing.T) {
		e, pointer, _, _ := newTestEngine(geometry.Transform{})
		assert.ErrorIs(t, e.ApplyClick(0, 0, wire.Button(9), true), wire.ErrMalformedEvent)
		assert.Empty(t, pointer.Ops())
	})
}

func TestEngine_ApplyScroll(t *testing.T) {
	e, pointer, _, _ := newTestEngine(geometry.Transform{})

	require.NoError(t, e.ApplyScroll(0, -1))
	require.NoError(t, e.ApplyScroll(2, 1))

	assert.Equal(t, []vdev.Op{
		{Type: vdev.EvRel, Code: vdev.RelWheel, Value: -1},
		vdev.SyncOp,
		{Type: vdev.EvRel, Code: vdev.RelWheel, Value: 1},
		{Type: vdev.EvRel, Code: vdev.RelHWheel, Value: 2},
		vdev.SyncOp,
	}, pointer.Ops())
}

func TestEngine_ApplyKey(t *testing.T) {
	e, pointer, keyboard, _ := newTestEngine(geometry.Transform{})

	require.NoError(t, e.ApplyKey(30, wire.KeyPressed))
	require.NoError(t, e.ApplyKey(30, wire.KeyRepeated))
	require.NoError(t, e.ApplyKey(30, wire.KeyReleased))

	assert.Equal(t, []vdev.Op{
		{Type: vdev.EvKey, Code: 30, Value: 1},
		vdev.SyncOp,
		{Type: vdev.EvKey, Code: 30, Value: 2},
		{Type: vdev.EvKey, Code: 30, Value: 0},
		vdev.SyncOp,
	}, keyboard.Ops())
	assert.Empty(t, pointer.Ops())
	assert.Equal(t, uint64(3), e.Stats().Keys)
}

func TestEngine_Apply(t *testing.T) {
	e, pointer, keyboard, _ := newTestEngine(geometry.Transform{StreamWidth: 100, StreamHeight: 100})

	require.NoError(t, e.Apply(wire.Movement{X: 1, Y: 2}))
	require.NoError(t, e.Apply(wire.Click{Button: wire.ButtonLeft, Pressed: false}))
	require.NoError(t, e.Apply(wire.Scroll{DY: 1}))
	require.NoError(t, e.Apply(wire.Key{Code: 2, State: wire.KeyPressed}))

	assert.Len(t, pointer.Ops(), 3+2+2)
	assert.Len(t, keyboard.Ops(), 2)

	s := e.Stats()
	assert.Equal(t, uint64(1), s.Moves)
	assert.Equal(t, uint64(1), s.Clicks)
	assert.Equal(t, uint64(1), s.Scrolls)
	assert.Equal(t, uint64(1), s.Keys)
}

func TestEngine_ClosedDeviceIsSwallowed(t *testing.T) {
	e, pointer, keyboard, sleeps := newTestEngine(geometry.Transform{})
	require.NoError(t, e.ApplyMovement(5, 5))
	require.NoError(t, pointer.Close())
	require.NoError(t, keyboard.Close())

	assert.NoError(t, e.ApplyMovement(10, 10))
	assert.NoError(t, e.ApplyClick(0, 0, wire.ButtonLeft, false))
	assert.NoError(t, e.ApplyScroll(0, 1))
	assert.NoError(t, e.ApplyKey(30, wire.KeyPressed))

	s := e.Stats()
	assert.Equal(t, uint64(4), s.ClosedRace)
	assert.Equal(t, PointerState{X: 5, Y: 5}, s.Pointer, "state is not updated by a failed move")
	assert.Len(t, *sleeps, 1)
}

func TestEngine_OtherWriteErrorsAreFatal(t *testing.T) {
	e, pointer, keyboard, _ := newTestEngine(geometry.Transform{})
	boom := errors.New("EIO")
	pointer.FailWith(boom)
	keyboard.FailWith(boom)

	assert.ErrorIs(t, e.ApplyMovement(1, 1), boom)
	assert.ErrorIs(t, e.ApplyClick(1, 1, wire.ButtonLeft, true), boom)
	assert.ErrorIs(t, e.ApplyScroll(0, 1), boom)
	assert.ErrorIs(t, e.ApplyKey(1, wire.KeyPressed), boom)
	assert.Zero(t, e.Stats().ClosedRace)
}

func TestEngine_DiscardsPointerEventsWhileDropping(t *testing.T) {
	e, pointer, keyboard, _ := newTestEngine(geometry.Transform{})

	release, err := e.acquirePointer()
	require.NoError(t, err)
	assert.True(t, e.Dropping())

	assert.NoError(t, e.ApplyMovement(1, 1))
	assert.NoError(t, e.ApplyClick(1, 1, wire.ButtonLeft, true))
	assert.NoError(t, e.ApplyScroll(0, 1))
	assert.NoError(t, e.ApplyKey(30, wire.KeyPressed))

	assert.Empty(t, pointer.Ops())
	assert.Len(t, keyboard.Ops(), 2, "keys are not blocked by a macro")
	assert.Equal(t, uint64(3), e.Stats().Discarded)

	release()
	assert.False(t, e.Dropping())
	require.NoError(t, e.ApplyMovement(1, 1))
	assert.Len(t, pointer.Ops(), 3)
}

// Frames from concurrent writers must never interleave: every sync is
// preceded by the complete frame of a single writer.
func TestEngine_FramesDoNotInterleave(t *testing.T) {
	pointer := vdev.NewRecorder("pointer", vdev.Capabilities{})
	e := NewEngine(pointer, vdev.NewRecorder("kbd", vdev.Capabilities{}), geometry.Transform{}, WithPacing(0))
	windows := fakeWindows{"dragon": {{X: 0, Y: 0, Width: 10, Height: 10}}}
	macro := NewDragMacro(e, windows, "dragon", Timing{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = e.ApplyMovement(int16(i), int16(j))
			}
		}(i)
		go func() {
			defer wg.Done()
			_ = macro.Run(context.Background(), 5, 5)
		}()
	}
	wg.Wait()

	var frame []vdev.Op
	for _, op := range pointer.Ops() {
		if op != vdev.SyncOp {
			frame = append(frame, op)
			continue
		}
		switch {
		case len(frame) == 2 && frame[0].Code == vdev.AbsX && frame[1].Code == vdev.AbsY:
		case len(frame) == 1 && frame[0].Code == vdev.BtnLeft:
		case len(frame) == 2 && frame[0].Code == vdev.RelX && frame[1].Code == vdev.RelY:
		default:
			t.Fatalf("interleaved frame: %v", frame)
		}
		frame = nil
	}
	assert.Empty(t, frame)
}

// splitFrames groups ops into sync-terminated frames. A trailing
// uncommitted frame is returned last.
func splitFrames(ops []vdev.Op) [][]vdev.Op {
	var frames [][]vdev.Op
	var cur []vdev.Op
	for _, op := range ops {
		if op == vdev.SyncOp {
			frames = append(frames, cur)
			cur = nil
			continue
		}
		cur = append(cur, op)
	}
	if cur != nil {
		frames = append(frames, cur)
	}
	return frames
}

// buttonsDown replays ops and returns the buttons left pressed.
func buttonsDown(ops []vdev.Op) []uint16 {
	state := make(map[uint16]int32)
	for _, op := range ops {
		if op.Type == vdev.EvKey {
			state[op.Code] = op.Value
		}
	}
	var down []uint16
	for _, code := range pointerButtons {
		if state[code] != 0 {
			down = append(down, code)
		}
	}
	return down
}

func TestEngine_MacroTakeoverSettlesNetworkButtons(t *testing.T) {
	e, pointer, _, _ := newTestEngine(geometry.Transform{StreamWidth: 640, StreamHeight: 480})
	windows := fakeWindows{"dragon": {{X: 100, Y: 100, Width: 200, Height: 100}}}
	macro := NewDragMacro(e, windows, "dragon", Timing{Step: 20 * time.Millisecond})

	require.NoError(t, e.ApplyClick(10, 10, wire.ButtonRight, true))

	done := make(chan error, 1)
	go func() { done <- macro.Run(context.Background(), 50, 50) }()

	// The release arrives while the macro owns the pointer and is dropped.
	require.Eventually(t, e.Dropping, time.Second, time.Millisecond)
	require.NoError(t, e.ApplyClick(10, 10, wire.ButtonRight, false))
	require.NoError(t, <-done)
	assert.Equal(t, uint64(1), e.Stats().Discarded)

	ops := pointer.Ops()
	require.NotEmpty(t, ops)
	assert.Equal(t, vdev.SyncOp, ops[len(ops)-1], "nothing is left uncommitted")

	frames := splitFrames(ops)
	require.GreaterOrEqual(t, len(frames), 3)
	assert.Equal(t, []vdev.Op{{Type: vdev.EvKey, Code: vdev.BtnRight, Value: 1}}, frames[0])
	assert.Equal(t, []vdev.Op{{Type: vdev.EvKey, Code: vdev.BtnRight, Value: 0}}, frames[1])
	for _, f := range frames[2:] {
		for _, op := range f {
			assert.NotEqual(t, vdev.BtnRight, op.Code, "macro frame carries a network op: %v", f)
		}
	}

	assert.Empty(t, buttonsDown(ops))
}

func TestEngine_MacroTakeoverWithNothingPending(t *testing.T) {
	e, pointer, _, _ := newTestEngine(geometry.Transform{})
	require.NoError(t, e.ApplyClick(1, 1, wire.ButtonLeft, true))
	require.NoError(t, e.ApplyClick(1, 1, wire.ButtonLeft, false))
	pointer.Reset()

	release, err := e.acquirePointer()
	require.NoError(t, err)
	release()

	assert.Empty(t, pointer.Ops())
}

func TestEngine_MacroTakeoverFailsOnClosedDevice(t *testing.T) {
	e, pointer, _, _ := newTestEngine(geometry.Transform{})
	require.NoError(t, e.ApplyClick(1, 1, wire.ButtonMiddle, true))
	require.NoError(t, pointer.Close())

	release, err := e.acquirePointer()
	assert.Nil(t, release)
	assert.ErrorIs(t, err, vdev.ErrDeviceClosed)
	assert.False(t, e.Dropping(), "pointer is not held after a failed takeover")
}
