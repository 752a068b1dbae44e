package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/xrelay/internal/config"
	"github.com/bnema/xrelay/internal/inject"
	"github.com/bnema/xrelay/internal/ipc"
	"github.com/bnema/xrelay/internal/isolation"
	"github.com/bnema/xrelay/internal/logger"
	"github.com/bnema/xrelay/internal/network"
	"github.com/bnema/xrelay/internal/routing"
	"github.com/bnema/xrelay/internal/ui"
	"github.com/bnema/xrelay/internal/vdev"
	"github.com/bnema/xrelay/internal/x11"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var streamTUI bool

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Receive relayed input and inject it on this host",
	Long: `Run on the target host. Creates a private virtual pointer and keyboard
routed through their own X input master, then injects every event received
on the event port. Also serves 'xrelay drop' and 'xrelay status' over a
local control socket.`,
	RunE: runStream,
}

func init() {
	streamCmd.Flags().BoolVar(&streamTUI, "tui", false, "Show a live status view")
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateStreamer(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router, err := routing.NewXInputRouter()
	if err != nil {
		return err
	}

	group, err := isolation.Open(ctx, isolation.Options{
		MouseDevicePath:    cfg.MouseDevicePath,
		KeyboardDevicePath: cfg.KeyboardDevicePath,
		StreamWidth:        cfg.ResolutionX,
		StreamHeight:       cfg.ResolutionY,
		MasterName:         cfg.Routing.MasterName,
		SettleTimeout:      time.Duration(cfg.Routing.SettleMs) * time.Millisecond,
	}, isolation.Deps{
		Factory:          vdev.CreateDevice,
		Router:           router,
		ReadCapabilities: vdev.ReadCapabilities,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := group.Close(); err != nil {
			logger.Errorf("Failed to tear down devices: %v", err)
		}
	}()

	engine := inject.NewEngine(group.Pointer, group.Keyboard, cfg.Transform(), inject.WithPacing(cfg.Pacing()))

	receiver := network.NewUDPReceiver(cfg.EventPort)
	receiver.OnEvent = engine.Apply
	if err := receiver.Listen(); err != nil {
		return err
	}
	defer receiver.Close()

	handler := &streamHandler{
		cfg:      cfg,
		engine:   engine,
		receiver: receiver,
	}

	// Drops need the window list; without X they are refused but input still flows.
	if display, err := x11.Dial(); err != nil {
		logger.Warnf("Drag-and-drop disabled: %v", err)
	} else {
		defer display.Close()
		handler.macro = inject.NewDragMacro(engine, display, cfg.Drop.WindowName, inject.Timing{
			Settle: time.Duration(cfg.Drop.SettleMs) * time.Millisecond,
			Step:   time.Duration(cfg.Drop.StepMs) * time.Millisecond,
			Final:  cfg.Pacing(),
		})
	}

	var program *tea.Program
	if streamTUI {
		program = tea.NewProgram(ui.NewStreamModel(handler.status))
		handler.notify = func(n ui.NoticeMsg) { program.Send(n) }
	}

	ipcServer := ipc.NewSocketServer(cfg.IPC.SocketPath, handler)
	if err := ipcServer.Start(); err != nil {
		logger.Warnf("Control socket unavailable: %v", err)
	} else {
		defer ipcServer.Stop()
	}

	logger.Info("Streaming input",
		"listen", receiver.Address(),
		"master", cfg.Routing.MasterName,
		"pointer", group.Pointer.Name(),
		"keyboard", group.Keyboard.Name())

	if program != nil {
		err = runStreamTUI(ctx, program, receiver)
	} else {
		err = receiver.Serve(ctx)
	}

	stats := engine.Stats()
	logger.Info("Stream stopped",
		"moves", stats.Moves,
		"clicks", stats.Clicks,
		"scrolls", stats.Scrolls,
		"keys", stats.Keys,
		"discarded", stats.Discarded,
		"closed_race", stats.ClosedRace)
	return err
}

func runStreamTUI(ctx context.Context, p *tea.Program, receiver *network.UDPReceiver) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Log lines would tear the view; keep warnings and errors only.
	logger.SetLevel("warn")

	serveErr := make(chan error, 1)
	go func() {
		err := receiver.Serve(ctx)
		if err != nil {
			p.Send(ui.NoticeMsg{Text: err.Error(), Error: true})
		}
		serveErr <- err
		p.Quit()
	}()

	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-serveErr
		return err
	}
	cancel()
	return <-serveErr
}

// streamHandler serves control requests against the running stream.
type streamHandler struct {
	cfg      *config.Config
	engine   *inject.Engine
	receiver *network.UDPReceiver
	macro    *inject.DragMacro
	notify   func(ui.NoticeMsg)
}

func (h *streamHandler) HandleDrop(ctx context.Context, x, y int) error {
	if h.macro == nil {
		return errors.New("drag-and-drop unavailable: no X display")
	}
	if x < 0 || x >= h.cfg.ResolutionX || y < 0 || y >= h.cfg.ResolutionY {
		return fmt.Errorf("drop point (%d, %d) outside %dx%d stream", x, y, h.cfg.ResolutionX, h.cfg.ResolutionY)
	}

	err := h.macro.Run(ctx, x, y)
	if h.notify != nil {
		if err != nil {
			h.notify(ui.NoticeMsg{Text: fmt.Sprintf("Drop at %d,%d failed: %v", x, y, err), Error: true})
		} else {
			h.notify(ui.NoticeMsg{Text: fmt.Sprintf("Dropped at %d,%d", x, y)})
		}
	}
	return err
}

func (h *streamHandler) HandleStatus() (ipc.Status, error) {
	return h.status(), nil
}

func (h *streamHandler) status() ipc.Status {
	es := h.engine.Stats()
	rs := h.receiver.Stats()
	return ipc.Status{
		Listen:     h.receiver.Address(),
		Master:     h.cfg.Routing.MasterName,
		Dropping:   h.engine.Dropping(),
		PointerX:   int(es.Pointer.X),
		PointerY:   int(es.Pointer.Y),
		Received:   rs.Received,
		Malformed:  rs.Malformed,
		Moves:      es.Moves,
		Clicks:     es.Clicks,
		Scrolls:    es.Scrolls,
		Keys:       es.Keys,
		Discarded:  es.Discarded,
		ClosedRace: es.ClosedRace,
		Macros:     es.Macros,
	}
}
