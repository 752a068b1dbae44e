package cmd

import (
	"fmt"

	"github.com/bnema/xrelay/internal/config"
	"github.com/bnema/xrelay/internal/logger"
	"github.com/spf13/cobra"
)

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:   "xrelay",
		Short: "xrelay - X11 input relay for remote desktop streams",
		Long: `xrelay relays mouse and keyboard input from the machine watching a
desktop stream to the machine producing it. Input is injected through
private virtual devices so it never disturbs the target's own pointer.`,
		SilenceUsage: true,
	}
)

// Execute runs the root command
func Execute() error {
	rootCmd.Version = Version
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: search /etc/xrelay, ~/.config/xrelay, .)")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
}

// loadConfig loads the configuration and applies its log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Logging.LogLevel != "" {
		logger.SetLevel(cfg.Logging.LogLevel)
	}
	return cfg, nil
}
