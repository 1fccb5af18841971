package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// CallSummary holds the figures shown after a consultation ends.
type CallSummary struct {
	Room        string
	Participant string
	Duration    time.Duration
	TimeToMedia time.Duration
	Offers      int
	ICERestarts int
}

// RenderCallSummary prints the post-call report as a go-pretty table.
func RenderCallSummary(title string, s CallSummary) {
	fmt.Println()
	fmt.Println(TitleStyle.Render(title))

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", s.Room},
		{"Participant", s.Participant},
		{"Duration", formatDuration(s.Duration)},
		{"Time to media", formatDuration(s.TimeToMedia)},
		{"Offers sent", s.Offers},
		{"ICE restarts", s.ICERestarts},
	})

	t.Render()
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
