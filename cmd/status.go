package cmd

import (
	"errors"
	"fmt"

	"github.com/bnema/xrelay/internal/ipc"
	"github.com/bnema/xrelay/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the running stream process",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		status, err := ipc.NewClient(cfg.IPC.SocketPath).SendStatus()
		if errors.Is(err, ipc.ErrNotRunning) {
			fmt.Println(ui.FormatStatus(false, "xrelay stream is not running"))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get stream status: %w", err)
		}

		fmt.Println(ui.RenderStatus(status))
		return nil
	},
}
