package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/ThomasT75/uinput"
	"github.com/bnema/xrelay/internal/ui"
	"github.com/bnema/xrelay/internal/vdev"
	"github.com/bnema/xrelay/internal/x11"
	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run diagnostic checks",
}

var testInputCmd = &cobra.Command{
	Use:   "input",
	Short: "Check that this host can create and route virtual input devices",
	Long: `Checks /dev/uinput access by creating a throwaway virtual mouse and
nudging it, then checks that the X server and the xinput tool are reachable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wiggle, _ := cmd.Flags().GetBool("wiggle")

		fmt.Println(ui.HeaderStyle.Render("Input checks"))

		var failed bool
		check := func(step string, err error) {
			if err != nil {
				failed = true
				fmt.Println(ui.FormatResult(false, step, err.Error()))
				return
			}
			fmt.Println(ui.FormatResult(true, step, ""))
		}

		check("uinput device node", uinputAccess())
		check("virtual mouse", probeMouse(wiggle))
		check("X display", probeDisplay())
		_, err := exec.LookPath("xinput")
		check("xinput tool", err)

		if failed {
			return errors.New("some checks failed")
		}
		return nil
	},
}

func init() {
	testInputCmd.Flags().Bool("wiggle", false, "Move the probe pointer in a small square")
	testCmd.AddCommand(testInputCmd)
}

func uinputAccess() error {
	f, err := os.OpenFile(vdev.UinputPath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open %s for writing: %w", vdev.UinputPath, err)
	}
	return f.Close()
}

func probeMouse(wiggle bool) error {
	mouse, err := uinput.CreateMouse(vdev.UinputPath, []byte("xrelay probe"))
	if err != nil {
		return err
	}
	defer mouse.Close()

	if !wiggle {
		return nil
	}
	// Let the X server pick up the device before moving it.
	time.Sleep(500 * time.Millisecond)
	for _, d := range [][2]int32{{40, 0}, {0, 40}, {-40, 0}, {0, -40}} {
		if err := mouse.Move(d[0], d[1]); err != nil {
			return err
		}
		time.Sleep(150 * time.Millisecond)
	}
	return nil
}

func probeDisplay() error {
	d, err := x11.Dial()
	if err != nil {
		return err
	}
	defer d.Close()
	_, _, err = d.Position()
	return err
}
