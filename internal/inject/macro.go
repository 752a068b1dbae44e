package inject

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/xrelay/internal/geometry"
	"github.com/bnema/xrelay/internal/logger"
	"github.com/bnema/xrelay/internal/vdev"
	"github.com/google/uuid"
)

// ErrTargetNotFound is returned when no window matches the macro's target.
var ErrTargetNotFound = errors.New("drop target window not found")

// Timing holds the pauses between macro steps.
type Timing struct {
	Settle time.Duration // before looking up the target window
	Step   time.Duration // between move, press and drag
	Final  time.Duration // after the release
}

// DefaultTiming returns the timings drag sources have been observed to need.
func DefaultTiming() Timing {
	return Timing{Settle: time.Second, Step: time.Second, Final: DefaultPacing}
}

// DragMacro drags from the centre of a named window (a drag source such as
// dragon) and drops at a stream-relative point.
type DragMacro struct {
	engine     *Engine
	windows    geometry.WindowQuery
	windowName string
	timing     Timing
}

// NewDragMacro returns a macro writing through engine. Zero durations in
// timing skip the corresponding pause.
func NewDragMacro(engine *Engine, windows geometry.WindowQuery, windowName string, timing Timing) *DragMacro {
	return &DragMacro{
		engine:     engine,
		windows:    windows,
		windowName: windowName,
		timing:     timing,
	}
}

// Run performs one drag-and-drop to (dropX, dropY). It owns the pointer for
// its whole duration; pointer events arriving meanwhile are discarded.
// Cancellation is honoured between steps only. A run that stops after the
// press still releases the primary button.
func (m *DragMacro) Run(ctx context.Context, dropX, dropY int) error {
	runID := uuid.NewString()
	log := logger.With("run", runID, "window", m.windowName)

	release, err := m.engine.acquirePointer()
	if err != nil {
		return fmt.Errorf("take over pointer: %w", err)
	}
	defer release()

	m.engine.macros.Add(1)
	log.Debug("Drag macro started", "drop_x", dropX, "drop_y", dropY)

	if err := wait(ctx, m.timing.Settle); err != nil {
		return err
	}

	rects, err := m.windows.WindowsByName(m.windowName)
	if err != nil {
		return fmt.Errorf("query windows named %q: %w", m.windowName, err)
	}
	if len(rects) == 0 {
		return fmt.Errorf("%w: %q", ErrTargetNotFound, m.windowName)
	}

	centre := rects[0].Center()
	drop := m.engine.transform.ToAbsolute(geometry.Point{X: dropX, Y: dropY})
	dev := m.engine.pointer

	steps := []struct {
		name  string
		pause time.Duration
		ops   []vdev.Op
	}{
		{"move to source", m.timing.Step, []vdev.Op{
			{Type: vdev.EvAbs, Code: vdev.AbsX, Value: int32(centre.X)},
			{Type: vdev.EvAbs, Code: vdev.AbsY, Value: int32(centre.Y)},
		}},
		{"press", m.timing.Step, []vdev.Op{
			{Type: vdev.EvKey, Code: vdev.BtnLeft, Value: 1},
		}},
		{"drag", 0, []vdev.Op{
			{Type: vdev.EvRel, Code: vdev.RelX, Value: int32(drop.X - centre.X)},
			{Type: vdev.EvRel, Code: vdev.RelY, Value: int32(drop.Y - centre.Y)},
		}},
		{"release", m.timing.Final, []vdev.Op{
			{Type: vdev.EvKey, Code: vdev.BtnLeft, Value: 0},
		}},
	}

	var pressed bool
	defer func() {
		if !pressed {
			return
		}
		f := frame{dev: dev}
		f.write(vdev.EvKey, vdev.BtnLeft, 0)
		f.sync()
		if f.err != nil {
			log.Debug("Could not release primary button", "err", f.err)
		}
	}()

	for _, step := range steps {
		f := frame{dev: dev}
		for _, op := range step.ops {
			f.write(op.Type, op.Code, op.Value)
		}
		f.sync()
		if f.err != nil {
			return fmt.Errorf("drag step %q: %w", step.name, f.err)
		}
		if op := step.ops[0]; op.Type == vdev.EvKey && op.Code == vdev.BtnLeft {
			pressed = op.Value == 1
		}
		if err := wait(ctx, step.pause); err != nil {
			return err
		}
	}

	m.engine.setPointer(PointerState{X: int32(drop.X), Y: int32(drop.Y)})
	log.Info("Drag macro finished", "from_x", centre.X, "from_y", centre.Y, "to_x", drop.X, "to_y", drop.Y)
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
