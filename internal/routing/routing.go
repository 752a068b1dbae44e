// Package routing attaches input devices to private XInput2 master devices
// so injected input drives a cursor and focus of its own.
package routing

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bnema/xrelay/internal/logger"
)

// ErrNotFound is returned by IDByName when the X server has no such device.
var ErrNotFound = errors.New("input device not found")

// Router manages XInput master devices and slave attachment.
//
// Device names follow xinput's selector syntax: "pointer:NAME" and
// "keyboard:NAME" pick the pointer or keyboard half of a device, and a
// master created as NAME is listed as "NAME pointer" / "NAME keyboard".
type Router interface {
	CreateMaster(ctx context.Context, name string) error
	IDByName(ctx context.Context, name string) (int, error)
	Reattach(ctx context.Context, id, master int) error
	RemoveMaster(ctx context.Context, id int) error
}

// PointerMaster and KeyboardMaster return the listed names of the two
// halves of a master created as name.
func PointerMaster(name string) string  { return name + " pointer" }
func KeyboardMaster(name string) string { return name + " keyboard" }

// PointerSlave and KeyboardSlave return selectors for a slave device.
func PointerSlave(device string) string  { return "pointer:" + device }
func KeyboardSlave(device string) string { return "keyboard:" + device }

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// XInputRouter drives the xinput command-line tool. Arguments are passed as
// a vector, never through a shell.
type XInputRouter struct {
	binary string
	run    runFunc
}

// NewXInputRouter returns a router using the xinput binary on PATH.
func NewXInputRouter() (*XInputRouter, error) {
	path, err := exec.LookPath("xinput")
	if err != nil {
		return nil, fmt.Errorf("xinput not found. Please install xinput (x11-xserver-utils / xorg-xinput): %w", err)
	}
	return &XInputRouter{binary: path, run: runCommand}, nil
}

func (x *XInputRouter) CreateMaster(ctx context.Context, name string) error {
	logger.Debugf("xinput create-master %q", name)
	_, err := x.run(ctx, x.binary, "create-master", name)
	return err
}

func (x *XInputRouter) IDByName(ctx context.Context, name string) (int, error) {
	out, err := x.run(ctx, x.binary, "list", "--id-only", name)
	if err != nil {
		// xinput exits non-zero with "unable to find device" on stderr.
		if strings.Contains(err.Error(), "unable to find") {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return 0, err
	}
	return parseID(name, out)
}

func (x *XInputRouter) Reattach(ctx context.Context, id, master int) error {
	logger.Debugf("xinput reattach %d %d", id, master)
	_, err := x.run(ctx, x.binary, "reattach", strconv.Itoa(id), strconv.Itoa(master))
	return err
}

func (x *XInputRouter) RemoveMaster(ctx context.Context, id int) error {
	logger.Debugf("xinput remove-master %d", id)
	_, err := x.run(ctx, x.binary, "remove-master", strconv.Itoa(id))
	return err
}

func parseID(name string, out []byte) (int, error) {
	text := strings.TrimSpace(string(out))
	if text == "" {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	id, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("unexpected xinput output for %s: %q", name, text)
	}
	return id, nil
}
