// Package isolation creates the relay's virtual pointer and keyboard and
// routes them to a private XInput master pair, keeping injected input off
// the host's own cursor and keyboard focus.
package isolation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/xrelay/internal/logger"
	"github.com/bnema/xrelay/internal/routing"
	"github.com/bnema/xrelay/internal/vdev"
)

// ErrDeviceSetup wraps every failure of Open. By the time it is returned,
// anything Open created has been torn down again.
var ErrDeviceSetup = errors.New("device setup failed")

const (
	defaultMasterName    = "xrelay"
	defaultSettleTimeout = 2 * time.Second
	defaultPollInterval  = 100 * time.Millisecond
	closeTimeout         = 5 * time.Second
)

// Options configures Open.
type Options struct {
	MouseDevicePath    string
	KeyboardDevicePath string
	StreamWidth        int
	StreamHeight       int

	// MasterName names the private master pair. The virtual devices are
	// registered as "<MasterName> mouse" and "<MasterName> key".
	MasterName string

	// SettleTimeout bounds how long Open waits for the X server to list
	// newly created devices.
	SettleTimeout time.Duration
	PollInterval  time.Duration
}

// Deps are the collaborators Open uses to touch the system.
type Deps struct {
	Factory          vdev.Factory
	Router           routing.Router
	ReadCapabilities func(path string) (vdev.Capabilities, error)
}

// MasterDeviceGroup records the routing state created for a Group.
type MasterDeviceGroup struct {
	PointerMaster  int
	KeyboardMaster int
	// Slaves attached to PointerMaster and KeyboardMaster respectively.
	PointerSlaves  []int
	KeyboardSlaves []int
}

// Group owns the two virtual devices and their master pair.
type Group struct {
	Pointer  vdev.Device
	Keyboard vdev.Device
	Masters  MasterDeviceGroup

	router        routing.Router
	masterName    string
	masterCreated bool
	closeOnce     sync.Once
	closeErr      error
}

// PointerName and KeyboardName return the virtual device names for master.
func PointerName(master string) string  { return master + " mouse" }
func KeyboardName(master string) string { return master + " key" }

func (o *Options) applyDefaults() {
	if o.MasterName == "" {
		o.MasterName = defaultMasterName
	}
	if o.SettleTimeout <= 0 {
		o.SettleTimeout = defaultSettleTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
}

// Open creates the virtual pointer and keyboard, a private master pair
// named opts.MasterName, and reattaches the virtual devices to it.
func Open(ctx context.Context, opts Options, deps Deps) (*Group, error) {
	opts.applyDefaults()
	if deps.Factory == nil || deps.Router == nil || deps.ReadCapabilities == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrDeviceSetup)
	}

	g := &Group{router: deps.Router, masterName: opts.MasterName}
	if err := g.open(ctx, opts, deps); err != nil {
		if cerr := g.teardown(); cerr != nil {
			logger.Warnf("Teardown after failed setup: %v", cerr)
		}
		return nil, fmt.Errorf("%w: %w", ErrDeviceSetup, err)
	}

	logger.Infof("Isolated input ready: master %q (pointer=%d keyboard=%d)",
		opts.MasterName, g.Masters.PointerMaster, g.Masters.KeyboardMaster)
	return g, nil
}

func (g *Group) open(ctx context.Context, opts Options, deps Deps) error {
	pointerName := PointerName(opts.MasterName)
	keyboardName := KeyboardName(opts.MasterName)

	pointer, err := deps.Factory(pointerName, vdev.PointerCapabilities(opts.StreamWidth, opts.StreamHeight))
	if err != nil {
		return fmt.Errorf("virtual pointer: %w", err)
	}
	g.Pointer = pointer

	mouseCaps, err := deps.ReadCapabilities(opts.MouseDevicePath)
	if err != nil {
		return fmt.Errorf("read mouse capabilities from %s: %w", opts.MouseDevicePath, err)
	}
	keyboardCaps, err := deps.ReadCapabilities(opts.KeyboardDevicePath)
	if err != nil {
		return fmt.Errorf("read keyboard capabilities from %s: %w", opts.KeyboardDevicePath, err)
	}

	// The keyboard device also carries the mouse's buttons; the X server
	// splits it into a pointer and a keyboard slave.
	keyboard, err := deps.Factory(keyboardName, keyboardCaps.Union(mouseCaps))
	if err != nil {
		return fmt.Errorf("virtual keyboard: %w", err)
	}
	g.Keyboard = keyboard

	if err := g.router.CreateMaster(ctx, opts.MasterName); err != nil {
		return fmt.Errorf("create master %q: %w", opts.MasterName, err)
	}
	g.masterCreated = true

	w := waiter{router: g.router, timeout: opts.SettleTimeout, interval: opts.PollInterval}

	if g.Masters.PointerMaster, err = w.id(ctx, routing.PointerMaster(opts.MasterName)); err != nil {
		return err
	}
	if g.Masters.KeyboardMaster, err = w.id(ctx, routing.KeyboardMaster(opts.MasterName)); err != nil {
		return err
	}

	type slave struct {
		selector string
		master   int
		required bool
	}
	slaves := []slave{
		{routing.PointerSlave(pointerName), g.Masters.PointerMaster, true},
		{routing.KeyboardSlave(keyboardName), g.Masters.KeyboardMaster, true},
		{routing.PointerSlave(keyboardName), g.Masters.PointerMaster, false},
		{routing.KeyboardSlave(pointerName), g.Masters.KeyboardMaster, false},
	}

	for _, s := range slaves {
		var id int
		if s.required {
			id, err = w.id(ctx, s.selector)
		} else {
			id, err = g.router.IDByName(ctx, s.selector)
		}
		if err != nil {
			if !s.required && errors.Is(err, routing.ErrNotFound) {
				logger.Debugf("Optional slave %s not listed, skipping", s.selector)
				continue
			}
			return err
		}

		if err := g.router.Reattach(ctx, id, s.master); err != nil {
			return fmt.Errorf("reattach %s to %d: %w", s.selector, s.master, err)
		}
		if s.master == g.Masters.PointerMaster {
			g.Masters.PointerSlaves = append(g.Masters.PointerSlaves, id)
		} else {
			g.Masters.KeyboardSlaves = append(g.Masters.KeyboardSlaves, id)
		}
	}

	return nil
}

// Close destroys both virtual devices, then removes the master pair. It is
// safe to call more than once; later calls return the first result.
func (g *Group) Close() error {
	g.closeOnce.Do(func() {
		g.closeErr = g.teardown()
		if g.closeErr == nil {
			logger.Info("Isolated input torn down")
		}
	})
	return g.closeErr
}

func (g *Group) teardown() error {
	var errs []error

	// Devices go first so the master never outlives a reference to them.
	for _, d := range []vdev.Device{g.Pointer, g.Keyboard} {
		if d == nil {
			continue
		}
		if err := d.Close(); err != nil && !errors.Is(err, vdev.ErrDeviceClosed) {
			errs = append(errs, fmt.Errorf("close %s: %w", d.Name(), err))
		}
	}

	if g.masterCreated {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		if g.Masters.PointerMaster == 0 {
			// Created but never resolved; try once more so it is not leaked.
			if id, err := g.router.IDByName(ctx, routing.PointerMaster(g.masterName)); err == nil {
				g.Masters.PointerMaster = id
			}
		}
		if err := g.removeMaster(ctx); err != nil {
			errs = append(errs, err)
		} else {
			g.masterCreated = false
		}
	}

	return errors.Join(errs...)
}

func (g *Group) removeMaster(ctx context.Context) error {
	id := g.Masters.PointerMaster
	if id == 0 {
		return fmt.Errorf("master %q not found, it may need removing by hand", g.masterName)
	}
	if err := g.router.RemoveMaster(ctx, id); err != nil {
		return fmt.Errorf("remove master %d: %w", id, err)
	}
	return nil
}

// waiter polls the router until a device is listed. New uinput devices show
// up in the X server asynchronously.
type waiter struct {
	router   routing.Router
	timeout  time.Duration
	interval time.Duration
}

func (w waiter) id(ctx context.Context, selector string) (int, error) {
	deadline := time.Now().Add(w.timeout)
	for {
		id, err := w.router.IDByName(ctx, selector)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, routing.ErrNotFound) || time.Now().After(deadline) {
			return 0, fmt.Errorf("look up %s: %w", selector, err)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(w.interval):
		}
	}
}
