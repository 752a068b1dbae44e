package cmd

import (
	"fmt"

	"github.com/bnema/xrelay/internal/capture"
	"github.com/bnema/xrelay/internal/config"
	"github.com/bnema/xrelay/internal/logger"
	"github.com/bnema/xrelay/internal/ui"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Configure input devices",
	Long: `Configure the physical mouse and keyboard. On the controller they are
the capture sources; on the streamer their capabilities are cloned onto
the virtual devices.`,
}

var devicesSelectCmd = &cobra.Command{
	Use:   "select",
	Short: "Interactively select mouse and keyboard devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		mouse, err := capture.SelectDevice(capture.DeviceMouse)
		if err != nil {
			return err
		}
		keyboard, err := capture.SelectDevice(capture.DeviceKeyboard)
		if err != nil {
			return err
		}

		cfg.MouseDevicePath = mouse
		cfg.KeyboardDevicePath = keyboard

		path := config.Path(configFile)
		if err := config.Save(cfg, path); err != nil {
			return err
		}

		fmt.Println(ui.FormatResult(true, "Device configuration saved", path))
		return nil
	},
}

var devicesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configured and available devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Println(ui.HeaderStyle.Render("Configured devices"))
		fmt.Println(ui.FormatRow("Mouse", orUnset(cfg.MouseDevicePath)))
		fmt.Println(ui.FormatRow("Keyboard", orUnset(cfg.KeyboardDevicePath)))
		fmt.Println()

		for _, kind := range []capture.DeviceKind{capture.DeviceMouse, capture.DeviceKeyboard} {
			devices, err := capture.ListDevices(kind)
			if err != nil {
				logger.Warnf("Cannot list %s devices: %v", kind, err)
				continue
			}
			fmt.Println(ui.SubheaderStyle.Render(fmt.Sprintf("Available %s devices (%d)", kind, len(devices))))
			for _, d := range devices {
				fmt.Println("  " + ui.TextStyle.Render(d.Descriptive))
			}
			fmt.Println()
		}

		fmt.Println(ui.SubtleStyle.Render("Config file: " + config.Path(configFile)))
		return nil
	},
}

func init() {
	devicesCmd.AddCommand(devicesSelectCmd)
	devicesCmd.AddCommand(devicesShowCmd)
}

func orUnset(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}
