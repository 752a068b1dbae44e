package isolation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/xrelay/internal/routing"
	"github.com/bnema/xrelay/internal/vdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	mouseCaps = vdev.Capabilities{
		Keys: []uint16{vdev.BtnLeft, vdev.BtnRight, vdev.BtnMiddle},
		Rels: []uint16{vdev.RelX, vdev.RelY, vdev.RelWheel},
	}
	keyboardCaps = vdev.Capabilities{
		Keys:  []uint16{1, 30, 31, 32},
		Miscs: []uint16{4},
	}
)

type harness struct {
	router  *routing.FakeRouter
	devices *vdev.RecordingFactory
	// registerDelay postpones X listing new devices.
	registerDelay time.Duration
	// openAtRemove holds the number of open devices seen by each
	// RemoveMaster call.
	openAtRemove []int
}

func newHarness() *harness {
	h := &harness{router: routing.NewFakeRouter(), devices: &vdev.RecordingFactory{}}
	h.router.BeforeRemove = func(int) {
		h.openAtRemove = append(h.openAtRemove, len(h.devices.Open()))
	}
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Router: h.router,
		Factory: func(name string, caps vdev.Capabilities) (vdev.Device, error) {
			d, err := h.devices.Create(name, caps)
			if err != nil {
				return nil, err
			}
			register := func() { h.router.AddDevice(name) }
			if h.registerDelay > 0 {
				time.AfterFunc(h.registerDelay, register)
			} else {
				register()
			}
			return d, nil
		},
		ReadCapabilities: func(path string) (vdev.Capabilities, error) {
			switch path {
			case "/dev/input/mouse":
				return mouseCaps, nil
			case "/dev/input/keyboard":
				return keyboardCaps, nil
			}
			return vdev.Capabilities{}, errors.New("no such device")
		},
	}
}

func testOptions() Options {
	return Options{
		MouseDevicePath:    "/dev/input/mouse",
		KeyboardDevicePath: "/dev/input/keyboard",
		StreamWidth:        1920,
		StreamHeight:       1080,
		MasterName:         "xrelay",
		SettleTimeout:      500 * time.Millisecond,
		PollInterval:       10 * time.Millisecond,
	}
}

func TestOpen_RoutesDevicesToPrivateMaster(t *testing.T) {
	h := newHarness()
	baseline := h.router.MasterCount()

	g, err := Open(context.Background(), testOptions(), h.deps())
	require.NoError(t, err)

	assert.Equal(t, baseline+1, h.router.MasterCount())
	assert.NotZero(t, g.Masters.PointerMaster)
	assert.NotZero(t, g.Masters.KeyboardMaster)

	// pointer:<mouse> and pointer:<key> on the pointer master,
	// keyboard:<key> and keyboard:<mouse> on the keyboard master.
	assert.Len(t, g.Masters.PointerSlaves, 2)
	assert.Len(t, g.Masters.KeyboardSlaves, 2)
	assert.ElementsMatch(t, g.Masters.PointerSlaves, h.router.AttachedTo(g.Masters.PointerMaster))
	assert.ElementsMatch(t, g.Masters.KeyboardSlaves, h.router.AttachedTo(g.Masters.KeyboardMaster))

	pointer := g.Pointer.(*vdev.Recorder)
	keyboard := g.Keyboard.(*vdev.Recorder)
	assert.Equal(t, "xrelay mouse", pointer.Name())
	assert.Equal(t, "xrelay key", keyboard.Name())
	assert.Equal(t, vdev.PointerCapabilities(1920, 1080), pointer.Capabilities())

	// Keyboard advertises the union of both physical devices.
	kc := keyboard.Capabilities()
	for _, code := range []uint16{1, 30, 31, 32, vdev.BtnLeft, vdev.BtnRight, vdev.BtnMiddle} {
		assert.True(t, kc.HasKey(code), "keyboard missing key %d", code)
	}
	assert.Equal(t, []uint16{vdev.RelX, vdev.RelY, vdev.RelWheel}, kc.Rels)
	assert.Equal(t, []uint16{4}, kc.Miscs)

	require.NoError(t, g.Close())
	assert.Equal(t, baseline, h.router.MasterCount())
	assert.Empty(t, h.router.Attachments())
	assert.Empty(t, h.devices.Open())
	assert.Equal(t, []int{0}, h.openAtRemove, "master removed only after both devices closed")
}

func TestOpen_WaitsForAsyncRegistration(t *testing.T) {
	h := newHarness()
	h.registerDelay = 50 * time.Millisecond

	g, err := Open(context.Background(), testOptions(), h.deps())
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	assert.NotEmpty(t, g.Masters.PointerSlaves)
}

func TestOpen_SettleTimeout(t *testing.T) {
	h := newHarness()
	h.registerDelay = time.Hour

	opts := testOptions()
	opts.SettleTimeout = 30 * time.Millisecond

	baseline := h.router.MasterCount()
	_, err := Open(context.Background(), opts, h.deps())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceSetup)
	assert.ErrorIs(t, err, routing.ErrNotFound)

	assert.Equal(t, baseline, h.router.MasterCount())
	assert.Empty(t, h.devices.Open())
}

func TestOpen_PartialFailureTearsDown(t *testing.T) {
	tests := []struct {
		name        string
		prepare     func(h *harness, opts *Options)
		wantDevices int // devices created before the failure
		wantRemove  bool
	}{
		{
			name:        "pointer creation fails",
			prepare:     func(h *harness, _ *Options) { h.devices.FailFor = "xrelay mouse" },
			wantDevices: 0,
		},
		{
			name:        "mouse capabilities unreadable",
			prepare:     func(_ *harness, o *Options) { o.MouseDevicePath = "/dev/input/missing" },
			wantDevices: 1,
		},
		{
			name:        "keyboard creation fails",
			prepare:     func(h *harness, _ *Options) { h.devices.FailFor = "xrelay key" },
			wantDevices: 1,
		},
		{
			name: "master creation fails",
			prepare: func(h *harness, _ *Options) {
				h.router.Failures["create-master"] = errors.New("BadValue")
			},
			wantDevices: 2,
		},
		{
			name: "reattach fails",
			prepare: func(h *harness, _ *Options) {
				h.router.Failures["reattach"] = errors.New("BadDevice")
			},
			wantDevices: 2,
			wantRemove:  true,
		},
		{
			name: "master never listed",
			prepare: func(h *harness, _ *Options) {
				h.router.Failures["list"] = errors.New("BadRequest")
			},
			wantDevices: 2,
			wantRemove:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			opts := testOptions()
			tt.prepare(h, &opts)
			baseline := h.router.MasterCount()

			g, err := Open(context.Background(), opts, h.deps())
			assert.Nil(t, g)
			assert.ErrorIs(t, err, ErrDeviceSetup)

			assert.Len(t, h.devices.Devices, tt.wantDevices)
			assert.Empty(t, h.devices.Open(), "every created device is closed")
			assert.Equal(t, baseline, h.router.MasterCount(), "no master leaked")
			assert.Empty(t, h.router.Attachments())
			if tt.wantRemove {
				assert.Equal(t, []int{0}, h.openAtRemove, "master removed only after both devices closed")
			} else {
				assert.Empty(t, h.openAtRemove)
			}
		})
	}
}

func TestOpen_OptionalSlavesMissing(t *testing.T) {
	h := newHarness()
	deps := h.deps()
	factory := deps.Factory
	deps.Factory = func(name string, caps vdev.Capabilities) (vdev.Device, error) {
		d, err := factory(name, caps)
		if err != nil {
			return nil, err
		}
		// Only the halves a plain pointer and keyboard would expose.
		switch name {
		case "xrelay mouse":
			h.router.Hide(routing.KeyboardSlave(name))
		case "xrelay key":
			h.router.Hide(routing.PointerSlave(name))
		}
		return d, nil
	}

	g, err := Open(context.Background(), testOptions(), deps)
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	assert.Len(t, g.Masters.PointerSlaves, 1)
	assert.Len(t, g.Masters.KeyboardSlaves, 1)
}

func TestGroup_CloseIsIdempotent(t *testing.T) {
	h := newHarness()
	g, err := Open(context.Background(), testOptions(), h.deps())
	require.NoError(t, err)

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.Equal(t, 1, h.router.MasterCount())
}

func TestGroup_CloseReportsRemoveFailure(t *testing.T) {
	h := newHarness()
	g, err := Open(context.Background(), testOptions(), h.deps())
	require.NoError(t, err)

	boom := errors.New("BadAccess")
	h.router.Failures["remove-master"] = boom

	err = g.Close()
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.devices.Open(), "devices are closed even when master removal fails")
	assert.Equal(t, []int{0}, h.openAtRemove)
	assert.ErrorIs(t, g.Close(), boom)
}

func TestOpen_MissingDeps(t *testing.T) {
	_, err := Open(context.Background(), testOptions(), Deps{})
	assert.ErrorIs(t, err, ErrDeviceSetup)
}
