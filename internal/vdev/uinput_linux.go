//go:build linux

package vdev

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// UinputPath is the uinput control node.
const UinputPath = "/dev/uinput"

const (
	uiDevCreate  = 0x5501 // _IO('U', 1)
	uiDevDestroy = 0x5502 // _IO('U', 2)

	uiSetEvBit  = 0x40045564 // _IOW('U', 100, int)
	uiSetKeyBit = 0x40045565
	uiSetRelBit = 0x40045566
	uiSetAbsBit = 0x40045567
	uiSetMscBit = 0x40045568

	maxNameSize = 80
	absCount    = 64

	busVirtual = 0x06
	vendorID   = 0x1209
	productID  = 0x7872
)

type inputID struct {
	bustype uint16
	vendor  uint16
	product uint16
	version uint16
}

type uinputUserDev struct {
	name         [maxNameSize]byte
	id           inputID
	ffEffectsMax uint32
	absmax       [absCount]int32
	absmin       [absCount]int32
	absfuzz      [absCount]int32
	absflat      [absCount]int32
}

type inputEvent struct {
	time  unix.Timeval
	typ   uint16
	code  uint16
	value int32
}

// UinputDevice is a virtual device created through /dev/uinput.
type UinputDevice struct {
	name   string
	mu     sync.RWMutex
	fd     int
	closed bool
}

// Create registers a new uinput device advertising caps.
func Create(name string, caps Capabilities) (*UinputDevice, error) {
	if len(name) == 0 || len(name) >= maxNameSize {
		return nil, fmt.Errorf("invalid device name %q", name)
	}
	if caps.Empty() {
		return nil, errors.New("device needs at least one capability")
	}

	fd, err := unix.Open(UinputPath, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", UinputPath, err)
	}

	if err := setup(fd, name, caps); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to create %q: %w", name, err)
	}

	return &UinputDevice{name: name, fd: fd}, nil
}

// CreateDevice adapts Create to the Factory signature.
func CreateDevice(name string, caps Capabilities) (Device, error) {
	d, err := Create(name, caps)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func setup(fd int, name string, caps Capabilities) error {
	bits := []struct {
		evType uint16
		req    uintptr
		codes  []uint16
	}{
		{EvKey, uiSetKeyBit, caps.Keys},
		{EvRel, uiSetRelBit, caps.Rels},
		{EvMsc, uiSetMscBit, caps.Miscs},
	}

	for _, b := range bits {
		if len(b.codes) == 0 {
			continue
		}
		if err := ioctl(fd, uiSetEvBit, uintptr(b.evType)); err != nil {
			return fmt.Errorf("set evbit %d: %w", b.evType, err)
		}
		for _, code := range b.codes {
			if err := ioctl(fd, b.req, uintptr(code)); err != nil {
				return fmt.Errorf("set code %d/%d: %w", b.evType, code, err)
			}
		}
	}

	var dev uinputUserDev
	copy(dev.name[:], name)
	dev.id = inputID{bustype: busVirtual, vendor: vendorID, product: productID, version: 1}

	if len(caps.Abs) > 0 {
		if err := ioctl(fd, uiSetEvBit, uintptr(EvAbs)); err != nil {
			return fmt.Errorf("set evbit abs: %w", err)
		}
		for _, a := range caps.Abs {
			if a.Code >= absCount {
				return fmt.Errorf("abs code %d out of range", a.Code)
			}
			if err := ioctl(fd, uiSetAbsBit, uintptr(a.Code)); err != nil {
				return fmt.Errorf("set abs %d: %w", a.Code, err)
			}
			dev.absmin[a.Code] = a.Min
			dev.absmax[a.Code] = a.Max
		}
	}

	buf := (*[unsafe.Sizeof(dev)]byte)(unsafe.Pointer(&dev))[:]
	if _, err := unix.Write(fd, buf); err != nil {
		return fmt.Errorf("write device setup: %w", err)
	}

	return ioctl(fd, uiDevCreate, 0)
}

func ioctl(fd int, req, arg uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg); errno != 0 {
		return errno
	}
	return nil
}

// Name returns the name the device was registered with.
func (d *UinputDevice) Name() string {
	return d.name
}

// Write emits a single input event.
func (d *UinputDevice) Write(typ, code uint16, value int32) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDeviceClosed
	}

	ev := inputEvent{typ: typ, code: code, value: value}
	buf := (*[unsafe.Sizeof(ev)]byte)(unsafe.Pointer(&ev))[:]
	if _, err := unix.Write(d.fd, buf); err != nil {
		return classify(err)
	}
	return nil
}

// Sync emits a SYN_REPORT.
func (d *UinputDevice) Sync() error {
	return d.Write(EvSyn, SynReport, 0)
}

// Close destroys the device. Writes after Close return ErrDeviceClosed.
func (d *UinputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	destroyErr := ioctl(d.fd, uiDevDestroy, 0)
	closeErr := unix.Close(d.fd)
	if destroyErr != nil {
		return fmt.Errorf("failed to destroy %q: %w", d.name, destroyErr)
	}
	return closeErr
}

// classify maps errors meaning the device is gone onto ErrDeviceClosed.
func classify(err error) error {
	switch {
	case errors.Is(err, unix.EBADF), errors.Is(err, unix.EBADFD), errors.Is(err, unix.ENODEV):
		return fmt.Errorf("%w: %v", ErrDeviceClosed, err)
	default:
		return err
	}
}
