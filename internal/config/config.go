// Package config handles configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/xrelay/internal/geometry"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned by the Validate* helpers.
var ErrInvalidConfig = errors.New("invalid configuration")

// maxStreamExtent bounds the stream resolution so relative coordinates fit
// the wire format's int16 fields.
const maxStreamExtent = 32767

// Config is the explicit context shared by every component. It is loaded
// once at startup and treated as read-only afterwards.
type Config struct {
	// Transport destination (controller side) and listen port (target side)
	StreamerAddress string `mapstructure:"streamer_address"`
	EventPort       int    `mapstructure:"event_port"`

	// Physical devices: capture sources on the controller, capability
	// templates on the target
	MouseDevicePath    string `mapstructure:"mouse_device_path"`
	KeyboardDevicePath string `mapstructure:"keyboard_device_path"`

	// Stream bounds and origin offset for absolute remapping
	ResolutionX int `mapstructure:"resolution_x"`
	ResolutionY int `mapstructure:"resolution_y"`
	StartX      int `mapstructure:"start_x"`
	StartY      int `mapstructure:"start_y"`

	// Name of the controller-side window showing the remote stream
	ViewerWindowName string `mapstructure:"viewer_window_name"`

	PacingMs  int `mapstructure:"pacing_ms"`
	QueueSize int `mapstructure:"queue_size"`

	Drop    DropConfig    `mapstructure:"drop"`
	Routing RoutingConfig `mapstructure:"routing"`
	IPC     IPCConfig     `mapstructure:"ipc"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// DropConfig tunes the drag-and-drop macro
type DropConfig struct {
	WindowName string `mapstructure:"window_name"`
	SettleMs   int    `mapstructure:"settle_ms"`
	StepMs     int    `mapstructure:"step_ms"`
}

// RoutingConfig names the private input-routing master
type RoutingConfig struct {
	MasterName string `mapstructure:"master_name"`
	SettleMs   int    `mapstructure:"settle_ms"` // how long to wait for X to list new devices
}

// IPCConfig contains control socket settings
type IPCConfig struct {
	SocketPath string `mapstructure:"socket_path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

// DefaultConfig provides sensible defaults
var DefaultConfig = Config{
	StreamerAddress:  "127.0.0.1",
	EventPort:        5005,
	ResolutionX:      1920,
	ResolutionY:      1080,
	ViewerWindowName: "xrelay-viewer",
	PacingMs:         6,
	QueueSize:        256,
	Drop: DropConfig{
		WindowName: "dragon",
		SettleMs:   1000,
		StepMs:     1000,
	},
	Routing: RoutingConfig{
		MasterName: "xrelay",
		SettleMs:   2000,
	},
}

// Load reads the configuration from the given file, or from the default
// search path when path is empty. Environment variables named after the
// keys (STREAMER_ADDRESS, EVENT_PORT, DROP_WINDOW_NAME, ...) take precedence.
func Load(path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults and environment
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	if cfg.IPC.SocketPath == "" {
		cfg.IPC.SocketPath = DefaultSocketPath()
	}

	return cfg, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("xrelay")
	v.SetConfigType("toml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("/etc/xrelay")
		if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
			v.AddConfigPath(filepath.Join("/home", sudoUser, ".config", "xrelay"))
		} else if home := os.Getenv("HOME"); home != "" && home != "/root" {
			v.AddConfigPath(filepath.Join(home, ".config", "xrelay"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, &DefaultConfig)
	return v
}

// setDefaults registers every key so that AutomaticEnv also applies
// during Unmarshal.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("streamer_address", c.StreamerAddress)
	v.SetDefault("event_port", c.EventPort)
	v.SetDefault("mouse_device_path", c.MouseDevicePath)
	v.SetDefault("keyboard_device_path", c.KeyboardDevicePath)
	v.SetDefault("resolution_x", c.ResolutionX)
	v.SetDefault("resolution_y", c.ResolutionY)
	v.SetDefault("start_x", c.StartX)
	v.SetDefault("start_y", c.StartY)
	v.SetDefault("viewer_window_name", c.ViewerWindowName)
	v.SetDefault("pacing_ms", c.PacingMs)
	v.SetDefault("queue_size", c.QueueSize)

	v.SetDefault("drop.window_name", c.Drop.WindowName)
	v.SetDefault("drop.settle_ms", c.Drop.SettleMs)
	v.SetDefault("drop.step_ms", c.Drop.StepMs)

	v.SetDefault("routing.master_name", c.Routing.MasterName)
	v.SetDefault("routing.settle_ms", c.Routing.SettleMs)

	v.SetDefault("ipc.socket_path", c.IPC.SocketPath)
	v.SetDefault("logging.log_level", c.Logging.LogLevel)
}

// Save writes cfg as TOML to path, creating the directory if needed.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		if os.IsPermission(err) && strings.HasPrefix(path, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v, cfg)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Path returns the config file location: the override when set, otherwise
// the system path for root and the user config directory for everyone else.
func Path(override string) string {
	if override != "" {
		return override
	}

	if os.Getuid() == 0 || os.Getenv("SUDO_USER") != "" {
		return "/etc/xrelay/xrelay.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/xrelay/xrelay.toml"
	}
	return filepath.Join(home, ".config", "xrelay", "xrelay.toml")
}

// DefaultSocketPath returns /tmp/xrelay-<user>.sock
func DefaultSocketPath() string {
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("xrelay-%s.sock", name))
}

// Transform returns the stream transform shared by sender and receiver.
func (c *Config) Transform() geometry.Transform {
	return geometry.Transform{
		StreamWidth:  c.ResolutionX,
		StreamHeight: c.ResolutionY,
		OriginX:      c.StartX,
		OriginY:      c.StartY,
	}
}

// Pacing is the pause after each committed pointer move.
func (c *Config) Pacing() time.Duration {
	return time.Duration(c.PacingMs) * time.Millisecond
}

// EventAddress is host:port of the streamer's event socket.
func (c *Config) EventAddress() string {
	return fmt.Sprintf("%s:%d", c.StreamerAddress, c.EventPort)
}

// ValidateSender checks the options the controller side needs.
func (c *Config) ValidateSender() error {
	if c.StreamerAddress == "" {
		return fmt.Errorf("%w: streamer_address is required", ErrInvalidConfig)
	}
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidConfig, c.QueueSize)
	}
	return nil
}

// ValidateStreamer checks the options the target side needs.
func (c *Config) ValidateStreamer() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.MouseDevicePath == "" || c.KeyboardDevicePath == "" {
		return fmt.Errorf("%w: mouse_device_path and keyboard_device_path are required", ErrInvalidConfig)
	}
	if c.PacingMs < 0 {
		return fmt.Errorf("%w: pacing_ms must not be negative", ErrInvalidConfig)
	}
	if c.Routing.MasterName == "" {
		return fmt.Errorf("%w: routing.master_name is required", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) validateCommon() error {
	if c.EventPort < 1 || c.EventPort > 65535 {
		return fmt.Errorf("%w: event_port out of range: %d", ErrInvalidConfig, c.EventPort)
	}
	if c.ResolutionX < 1 || c.ResolutionX > maxStreamExtent ||
		c.ResolutionY < 1 || c.ResolutionY > maxStreamExtent {
		return fmt.Errorf("%w: resolution %dx%d outside 1..%d", ErrInvalidConfig,
			c.ResolutionX, c.ResolutionY, maxStreamExtent)
	}
	return nil
}
