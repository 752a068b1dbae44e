package cmd

import (
	"fmt"
	"strconv"

	"github.com/bnema/xrelay/internal/ipc"
	"github.com/bnema/xrelay/internal/ui"
	"github.com/spf13/cobra"
)

var dropCmd = &cobra.Command{
	Use:   "drop X Y",
	Short: "Drag from the drop source window and release at a stream point",
	Long: `Ask the running 'xrelay stream' process to drag from the centre of the
configured drop source window (dragon by default) to stream-relative
coordinates X Y.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, y, err := parsePoint(args[0], args[1])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		status, err := ipc.NewClient(cfg.IPC.SocketPath).SendDrop(x, y)
		if err != nil {
			return fmt.Errorf("drop failed: %w", err)
		}

		fmt.Println(ui.FormatResult(true, fmt.Sprintf("Dropped at %d, %d", x, y),
			fmt.Sprintf("%d drops so far", status.Macros)))
		return nil
	},
}

func parsePoint(xs, ys string) (int, int, error) {
	x, err := strconv.Atoi(xs)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid X %q: %w", xs, err)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid Y %q: %w", ys, err)
	}
	if x < 0 || y < 0 {
		return 0, 0, fmt.Errorf("coordinates must not be negative: %d, %d", x, y)
	}
	return x, y, nil
}
