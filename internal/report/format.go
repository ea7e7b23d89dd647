package report

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/replyclock/internal/stats"
)

// FormatDuration renders seconds in the units the daily email uses.
func FormatDuration(seconds float64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d seconds", int64(seconds))
	case seconds < 3600:
		m := int64(seconds / 60)
		return fmt.Sprintf("%d minute%s", m, plural(m))
	case seconds < 86400:
		h := int64(seconds / 3600)
		m := int64(seconds-float64(h*3600)) / 60
		return fmt.Sprintf("%d hour%s %d min", h, plural(h), m)
	default:
		d := int64(seconds / 86400)
		h := int64(seconds-float64(d*86400)) / 3600
		return fmt.Sprintf("%d day%s %d hour%s", d, plural(d), h, plural(h))
	}
}

func plural(n int64) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// FormatText renders a short plain-text summary for chat notifications.
func FormatText(s stats.Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Response time report* (%s)\n", s.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"))

	for _, g := range s.Groups {
		fmt.Fprintf(&sb, "\n*%s*\n", g.Channel.Title())
		writeTextWindows(&sb, g)
	}
	if len(s.Groups) > 1 {
		sb.WriteString("\n*All sources*\n")
		writeTextWindows(&sb, s.Combined)
	}
	if len(s.Groups) == 0 {
		sb.WriteString("_No sources contributed to this report._")
	}
	return sb.String()
}

func writeTextWindows(sb *strings.Builder, g stats.GroupStats) {
	for _, w := range stats.Windows {
		ws := g.Window(w)
		if !ws.HasData() {
			fmt.Fprintf(sb, "  - %s: no data\n", w)
			continue
		}
		fmt.Fprintf(sb, "  - %s: %d responses, avg %s, median %s\n",
			w, ws.TotalResponses,
			FormatDuration(*ws.AvgResponseSeconds),
			FormatDuration(*ws.MedianResponseSeconds),
		)
	}
}
