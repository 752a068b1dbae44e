package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/xrelay/internal/logger"
	"github.com/charmbracelet/huh"
	evdev "github.com/gvalkov/golang-evdev"
)

// DeviceKind is the role a physical device is picked for.
type DeviceKind int

const (
	DeviceMouse DeviceKind = iota
	DeviceKeyboard
)

func (k DeviceKind) String() string {
	if k == DeviceMouse {
		return "mouse"
	}
	return "keyboard"
}

// DeviceInfo describes an evdev node.
type DeviceInfo struct {
	Path        string
	Name        string
	Symlink     string
	Descriptive string
}

// OpenDevice opens an evdev node for reading.
func OpenDevice(path string) (*evdev.InputDevice, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return dev, nil
}

// ListDevices returns the /dev/input/event* nodes that look like kind.
func ListDevices(kind DeviceKind) ([]DeviceInfo, error) {
	evdevices, err := evdev.ListInputDevices("/dev/input/event*")
	if err != nil {
		return nil, fmt.Errorf("failed to list input devices: %w", err)
	}

	var devices []DeviceInfo
	for _, dev := range evdevices {
		if !matchesKind(dev.Name, dev.CapabilitiesFlat, kind) {
			continue
		}
		info := DeviceInfo{Path: dev.Fn, Name: dev.Name, Symlink: findSymlink(dev.Fn)}
		if info.Symlink != "" {
			info.Descriptive = fmt.Sprintf("%s (%s → %s)", dev.Name, info.Symlink, dev.Fn)
		} else {
			info.Descriptive = fmt.Sprintf("%s (%s)", dev.Name, dev.Fn)
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// SelectDevice lists devices of kind and lets the user pick one. A single
// candidate is picked without asking.
func SelectDevice(kind DeviceKind) (string, error) {
	devices, err := ListDevices(kind)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("no %s devices found", kind)
	}
	if len(devices) == 1 {
		logger.Infof("Auto-selected %s device: %s", kind, devices[0].Descriptive)
		return devices[0].Path, nil
	}

	options := make([]huh.Option[string], len(devices))
	for i, dev := range devices {
		options[i] = huh.NewOption(dev.Descriptive, dev.Path)
	}

	var selected string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Select %s device", kind)).
				Description(fmt.Sprintf("Input from this %s is relayed to the streamer", kind)).
				Options(options...).
				Value(&selected),
		),
	)
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("device selection cancelled: %w", err)
	}
	return selected, nil
}

func matchesKind(name string, caps map[int][]int, kind DeviceKind) bool {
	if caps == nil {
		return false
	}

	// Never offer the relay's own virtual devices.
	if strings.HasPrefix(name, "xrelay ") {
		return false
	}

	switch kind {
	case DeviceMouse:
		rels := caps[evdev.EV_REL]
		if !contains(rels, evdev.REL_X) || !contains(rels, evdev.REL_Y) {
			return false
		}
		keys := caps[evdev.EV_KEY]
		return contains(keys, evdev.BTN_LEFT) || contains(keys, evdev.BTN_RIGHT) || contains(keys, evdev.BTN_MIDDLE)

	case DeviceKeyboard:
		lower := strings.ToLower(name)
		for _, skip := range []string{"power", "video", "sleep", "button"} {
			if strings.Contains(lower, skip) {
				return false
			}
		}
		for _, key := range caps[evdev.EV_KEY] {
			if key >= evdev.KEY_A && key <= evdev.KEY_Z {
				return true
			}
		}
	}
	return false
}

func contains(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// findSymlink finds a /dev/input/by-id or by-path link to devicePath.
func findSymlink(devicePath string) string {
	for _, dir := range []string{"/dev/input/by-id", "/dev/input/by-path"} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.Type()&os.ModeSymlink == 0 {
				continue
			}
			full := filepath.Join(dir, entry.Name())
			target, err := os.Readlink(full)
			if err != nil {
				continue
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(dir, target)
			}
			if filepath.Clean(target) == devicePath {
				return full
			}
		}
	}
	return ""
}
