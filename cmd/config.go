package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bnema/xrelay/internal/config"
	"github.com/bnema/xrelay/internal/logger"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage xrelay configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger.Infof("Config file: %s", config.Path(configFile))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, row := range configRows(cfg) {
			if _, err := fmt.Fprintf(w, "  %s\t%v\n", row.key, row.value); err != nil {
				return err
			}
		}
		return w.Flush()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration to the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		path := config.Path(configFile)
		if _, err := os.Stat(path); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}

		if err := config.Save(cfg, path); err != nil {
			return err
		}
		logger.Infof("Configuration saved to: %s", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

type configRow struct {
	key   string
	value any
}

func configRows(cfg *config.Config) []configRow {
	return []configRow{
		{"streamer_address", cfg.StreamerAddress},
		{"event_port", cfg.EventPort},
		{"mouse_device_path", cfg.MouseDevicePath},
		{"keyboard_device_path", cfg.KeyboardDevicePath},
		{"resolution", fmt.Sprintf("%dx%d", cfg.ResolutionX, cfg.ResolutionY)},
		{"start", fmt.Sprintf("%d,%d", cfg.StartX, cfg.StartY)},
		{"viewer_window_name", cfg.ViewerWindowName},
		{"pacing_ms", cfg.PacingMs},
		{"queue_size", cfg.QueueSize},
		{"drop.window_name", cfg.Drop.WindowName},
		{"drop.settle_ms", cfg.Drop.SettleMs},
		{"drop.step_ms", cfg.Drop.StepMs},
		{"routing.master_name", cfg.Routing.MasterName},
		{"routing.settle_ms", cfg.Routing.SettleMs},
		{"ipc.socket_path", cfg.IPC.SocketPath},
		{"logging.log_level", cfg.Logging.LogLevel},
	}
}
