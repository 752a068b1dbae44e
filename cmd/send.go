package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/xrelay/internal/capture"
	"github.com/bnema/xrelay/internal/geometry"
	"github.com/bnema/xrelay/internal/logger"
	"github.com/bnema/xrelay/internal/network"
	"github.com/bnema/xrelay/internal/sender"
	"github.com/bnema/xrelay/internal/x11"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Relay local input over the viewer window to the streamer",
	Long: `Run on the controller host. While the viewer window has focus, mouse
and keyboard input over it is mapped into stream coordinates and sent to
the streamer as UDP datagrams.`,
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateSender(); err != nil {
		return err
	}
	if cfg.MouseDevicePath == "" {
		return fmt.Errorf("no mouse device configured, run 'xrelay devices select' first")
	}

	display, err := x11.Dial()
	if err != nil {
		return err
	}
	defer display.Close()

	transport, err := network.DialUDP(cfg.EventAddress())
	if err != nil {
		return err
	}
	defer transport.Close()

	mouse, err := capture.OpenDevice(cfg.MouseDevicePath)
	if err != nil {
		return err
	}
	closers := []io.Closer{mouse.File}

	var keyboard capture.Source
	if cfg.KeyboardDevicePath != "" {
		kbd, err := capture.OpenDevice(cfg.KeyboardDevicePath)
		if err != nil {
			mouse.File.Close()
			return err
		}
		keyboard = kbd
		closers = append(closers, kbd.File)
	}

	encoder := sender.NewEncoder(
		x11.NewFocusGate(display, cfg.ViewerWindowName, x11.DefaultTTL),
		x11.NewRegionTracker(display, cfg.ViewerWindowName, x11.DefaultTTL),
		geometry.NewMapper(cfg.Transform()),
		transport,
	)

	pipeline := &sender.Pipeline{
		Encoder:   encoder,
		Locator:   display,
		Mouse:     mouse,
		Keyboard:  keyboard,
		QueueSize: cfg.QueueSize,
		Closers:   closers,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Relaying input",
		"to", transport.RemoteAddr(),
		"viewer", cfg.ViewerWindowName,
		"mouse", cfg.MouseDevicePath,
		"keyboard", cfg.KeyboardDevicePath)

	err = pipeline.Run(ctx)

	stats := encoder.Stats()
	logger.Info("Sender stopped",
		"sent", stats.Sent,
		"gated", stats.Gated,
		"unmappable", stats.Unmappable,
		"send_failures", stats.SendFailures,
		"queue_dropped", pipeline.Dropped())
	return err
}
