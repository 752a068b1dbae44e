package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xrelay.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults when file is empty", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, ""))
		require.NoError(t, err)

		assert.Equal(t, 5005, cfg.EventPort)
		assert.Equal(t, 1920, cfg.ResolutionX)
		assert.Equal(t, 1080, cfg.ResolutionY)
		assert.Equal(t, "dragon", cfg.Drop.WindowName)
		assert.Equal(t, 6*time.Millisecond, cfg.Pacing())
		assert.NotEmpty(t, cfg.IPC.SocketPath)
	})

	t.Run("reads TOML values", func(t *testing.T) {
		path := writeConfig(t, `
streamer_address = "10.0.0.7"
event_port = 6000
resolution_x = 1280
resolution_y = 720
start_x = 40
start_y = 25

[drop]
window_name = "files"
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "10.0.0.7:6000", cfg.EventAddress())
		assert.Equal(t, "files", cfg.Drop.WindowName)
		assert.Equal(t, 1000, cfg.Drop.StepMs)

		tr := cfg.Transform()
		assert.Equal(t, 1280, tr.StreamWidth)
		assert.Equal(t, 720, tr.StreamHeight)
		assert.Equal(t, 40, tr.OriginX)
		assert.Equal(t, 25, tr.OriginY)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, "event_port = 6000\n")
		t.Setenv("EVENT_PORT", "7000")
		t.Setenv("STREAMER_ADDRESS", "192.168.1.20")
		t.Setenv("MOUSE_DEVICE_PATH", "/dev/input/event11")
		t.Setenv("DROP_WINDOW_NAME", "nautilus")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 7000, cfg.EventPort)
		assert.Equal(t, "192.168.1.20", cfg.StreamerAddress)
		assert.Equal(t, "/dev/input/event11", cfg.MouseDevicePath)
		assert.Equal(t, "nautilus", cfg.Drop.WindowName)
	})

	t.Run("invalid TOML is an error", func(t *testing.T) {
		_, err := Load(writeConfig(t, "[drop\nwindow_name = 1"))
		assert.Error(t, err)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "xrelay.toml")

	cfg := DefaultConfig
	cfg.MouseDevicePath = "/dev/input/event3"
	cfg.KeyboardDevicePath = "/dev/input/event4"
	cfg.Drop.WindowName = "drop-target"

	require.NoError(t, Save(&cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/input/event3", loaded.MouseDevicePath)
	assert.Equal(t, "/dev/input/event4", loaded.KeyboardDevicePath)
	assert.Equal(t, "drop-target", loaded.Drop.WindowName)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig
		c.MouseDevicePath = "/dev/input/event3"
		c.KeyboardDevicePath = "/dev/input/event4"
		return &c
	}

	tests := []struct {
		name        string
		mutate      func(*Config)
		senderErr   bool
		streamerErr bool
	}{
		{"valid", func(*Config) {}, false, false},
		{"port zero", func(c *Config) { c.EventPort = 0 }, true, true},
		{"port too large", func(c *Config) { c.EventPort = 70000 }, true, true},
		{"resolution beyond int16", func(c *Config) { c.ResolutionX = 40000 }, true, true},
		{"no streamer address", func(c *Config) { c.StreamerAddress = "" }, true, false},
		{"no device paths", func(c *Config) { c.MouseDevicePath = "" }, false, true},
		{"queue size zero", func(c *Config) { c.QueueSize = 0 }, true, false},
		{"negative pacing", func(c *Config) { c.PacingMs = -1 }, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)

			err := c.ValidateSender()
			if tt.senderErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}

			err = c.ValidateStreamer()
			if tt.streamerErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/tmp/custom.toml", Path("/tmp/custom.toml"))
	assert.NotEmpty(t, Path(""))
}
