package cmd

import (
	"github.com/bnema/xrelay/internal/logger"
	"github.com/spf13/cobra"
)

var (
	// Version info set by main package
	Version = "0.1.0-dev"
	Commit  string
	Date    string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		logger.Infof("xrelay %s", Version)
		if Commit != "" {
			logger.Infof("commit: %s", Commit)
		}
		if Date != "" {
			logger.Infof("built: %s", Date)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
