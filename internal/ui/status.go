package ui

import (
	"fmt"
	"strings"

	"github.com/bnema/xrelay/internal/ipc"
)

// RenderStatus renders the counters of a running stream process.
func RenderStatus(s ipc.Status) string {
	var b strings.Builder

	state := "relaying"
	if s.Dropping {
		state = WarningStyle.Render("drag macro running")
	}
	b.WriteString(FormatStatus(true, "xrelay stream "+state))
	b.WriteString("\n\n")

	rows := [][2]string{
		{"Listening", s.Listen},
		{"Master", s.Master},
		{"Pointer", fmt.Sprintf("%d, %d", s.PointerX, s.PointerY)},
		{"Received", fmt.Sprint(s.Received)},
		{"Malformed", fmt.Sprint(s.Malformed)},
		{"Moves", fmt.Sprint(s.Moves)},
		{"Clicks", fmt.Sprint(s.Clicks)},
		{"Scrolls", fmt.Sprint(s.Scrolls)},
		{"Keys", fmt.Sprint(s.Keys)},
		{"Discarded", fmt.Sprint(s.Discarded)},
		{"Device gone", fmt.Sprint(s.ClosedRace)},
		{"Drops", fmt.Sprint(s.Macros)},
	}
	for i, row := range rows {
		b.WriteString(FormatRow(row[0], row[1]))
		if i < len(rows)-1 {
			b.WriteString("\n")
		}
	}

	return BoxStyle.Render(b.String())
}
