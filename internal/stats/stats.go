// Package stats rolls response samples up into trailing-window statistics.
package stats

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MikeSquared-Agency/replyclock/internal/message"
)

// ErrNoSamples is returned by Summary.Check when no window of any group has data.
var ErrNoSamples = errors.New("no response samples in any window")

// Window is a trailing time span ending at the report's "now".
type Window string

const (
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window28d Window = "28d"
)

// Windows lists the report windows from narrowest to widest.
var Windows = []Window{Window24h, Window7d, Window28d}

// Duration returns the span covered by w.
func (w Window) Duration() time.Duration {
	switch w {
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window28d:
		return 28 * 24 * time.Hour
	default:
		return 0
	}
}

// Title is the human label for w.
func (w Window) Title() string {
	switch w {
	case Window24h:
		return "Last 24 Hours"
	case Window7d:
		return "Last 7 Days"
	case Window28d:
		return "Last 28 Days"
	default:
		return string(w)
	}
}

// Contains reports whether a sample matched at t falls inside w ending at now.
func (w Window) Contains(now, t time.Time) bool {
	return now.Sub(t) <= w.Duration()
}

// WindowStats aggregates the samples of one window.
// Duration fields are nil when TotalResponses is zero.
type WindowStats struct {
	Window                Window   `json:"window"`
	TotalResponses        int      `json:"total_responses"`
	AvgResponseSeconds    *float64 `json:"avg_response_seconds"`
	MedianResponseSeconds *float64 `json:"median_response_seconds"`
	FastestSeconds        *int64   `json:"fastest_seconds"`
	SlowestSeconds        *int64   `json:"slowest_seconds"`
	IMessageCount         *int     `json:"imessage_count,omitempty"`
	SMSCount              *int     `json:"sms_count,omitempty"`
	// ResponseSeconds holds the sorted durations so groups can be re-aggregated
	// exactly. Merge needs them for the combined median.
	ResponseSeconds []int64 `json:"response_seconds"`
}

// HasData reports whether the window contains at least one response.
func (ws WindowStats) HasData() bool {
	return ws.TotalResponses > 0
}

// Validate checks the invariants of a window computed elsewhere.
func (ws WindowStats) Validate() error {
	if ws.Window.Duration() == 0 {
		return fmt.Errorf("unknown window %q", ws.Window)
	}
	if ws.TotalResponses < 0 {
		return fmt.Errorf("window %s: negative total", ws.Window)
	}
	if len(ws.ResponseSeconds) != ws.TotalResponses {
		return fmt.Errorf("window %s: %d durations for %d responses", ws.Window, len(ws.ResponseSeconds), ws.TotalResponses)
	}
	if !sort.SliceIsSorted(ws.ResponseSeconds, func(i, j int) bool { return ws.ResponseSeconds[i] < ws.ResponseSeconds[j] }) {
		return fmt.Errorf("window %s: durations not sorted", ws.Window)
	}
	for _, s := range ws.ResponseSeconds {
		if s < 0 {
			return fmt.Errorf("window %s: negative duration", ws.Window)
		}
	}
	if ws.TotalResponses == 0 {
		if ws.AvgResponseSeconds != nil || ws.MedianResponseSeconds != nil || ws.FastestSeconds != nil || ws.SlowestSeconds != nil {
			return fmt.Errorf("window %s: durations set without responses", ws.Window)
		}
		return nil
	}
	if ws.AvgResponseSeconds == nil || ws.MedianResponseSeconds == nil || ws.FastestSeconds == nil || ws.SlowestSeconds == nil {
		return fmt.Errorf("window %s: missing duration fields", ws.Window)
	}
	return nil
}

// Compute builds the statistics for one window from its durations.
func Compute(w Window, durations []int64) WindowStats {
	sorted := make([]int64, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	ws := WindowStats{
		Window:          w,
		TotalResponses:  len(sorted),
		ResponseSeconds: sorted,
	}
	if len(sorted) == 0 {
		return ws
	}

	var sum int64
	for _, d := range sorted {
		sum += d
	}
	avg := float64(sum) / float64(len(sorted))

	mid := len(sorted) / 2
	median := float64(sorted[mid])
	if len(sorted)%2 == 0 {
		median = float64(sorted[mid-1]+sorted[mid]) / 2
	}

	fastest := sorted[0]
	slowest := sorted[len(sorted)-1]

	ws.AvgResponseSeconds = &avg
	ws.MedianResponseSeconds = &median
	ws.FastestSeconds = &fastest
	ws.SlowestSeconds = &slowest
	return ws
}

// GroupStats is the three windows for one channel, or for all channels combined.
type GroupStats struct {
	Channel message.Channel `json:"channel"`
	Windows []WindowStats   `json:"windows"`
}

// Window returns the stats for w, or an empty window if absent.
func (g GroupStats) Window(w Window) WindowStats {
	for _, ws := range g.Windows {
		if ws.Window == w {
			return ws
		}
	}
	return WindowStats{Window: w}
}

// Summary is the aggregate handed to the renderer.
type Summary struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Groups      []GroupStats `json:"groups"`
	Combined    GroupStats   `json:"combined"`
}

// Group returns the group for c, if it contributed.
func (s Summary) Group(c message.Channel) (GroupStats, bool) {
	for _, g := range s.Groups {
		if g.Channel == c {
			return g, true
		}
	}
	return GroupStats{}, false
}

// Check returns ErrNoSamples when there is nothing to report.
func (s Summary) Check() error {
	for _, g := range s.Groups {
		for _, ws := range g.Windows {
			if ws.HasData() {
				return nil
			}
		}
	}
	return ErrNoSamples
}

// Aggregate computes per-channel and combined window statistics.
// Only channels listed in contributing appear in the summary; samples from
// other channels are ignored. The result depends only on its arguments.
func Aggregate(samples []message.ResponseSample, contributing []message.Channel, now time.Time) Summary {
	wanted := make(map[message.Channel]bool, len(contributing))
	for _, c := range contributing {
		wanted[c] = true
	}

	summary := Summary{GeneratedAt: now}
	for _, c := range message.Channels {
		if !wanted[c] {
			continue
		}
		summary.Groups = append(summary.Groups, aggregateChannel(samples, c, now))
	}
	summary.Combined = combine(summary.Groups)
	return summary
}

func aggregateChannel(samples []message.ResponseSample, c message.Channel, now time.Time) GroupStats {
	g := GroupStats{Channel: c}
	for _, w := range Windows {
		var durations []int64
		var imessage, sms int
		for _, s := range samples {
			if s.Source.Channel() != c || !w.Contains(now, s.MatchedAt) {
				continue
			}
			durations = append(durations, s.ResponseSeconds)
			switch s.Source {
			case message.SourceIMessage:
				imessage++
			case message.SourceSMS:
				sms++
			}
		}
		ws := Compute(w, durations)
		if c == message.ChannelMessages {
			ws.IMessageCount = &imessage
			ws.SMSCount = &sms
		}
		g.Windows = append(g.Windows, ws)
	}
	return g
}

// Merge adds a group computed elsewhere, replacing any group for the same
// channel, and recomputes the combined statistics over the union.
func Merge(s Summary, g GroupStats) Summary {
	out := Summary{GeneratedAt: s.GeneratedAt}
	for _, c := range message.Channels {
		if c == g.Channel {
			out.Groups = append(out.Groups, g)
			continue
		}
		if existing, ok := s.Group(c); ok {
			out.Groups = append(out.Groups, existing)
		}
	}
	out.Combined = combine(out.Groups)
	return out
}

// combine re-aggregates the union of every group's durations per window.
func combine(groups []GroupStats) GroupStats {
	combined := GroupStats{Channel: "combined"}
	for _, w := range Windows {
		var durations []int64
		for _, g := range groups {
			durations = append(durations, g.Window(w).ResponseSeconds...)
		}
		combined.Windows = append(combined.Windows, Compute(w, durations))
	}
	return combined
}

// Distribution buckets the durations of a window the way the daily email shows them.
type Distribution struct {
	UnderHour   int `json:"under_hour"`
	UnderDay    int `json:"under_day"`
	DayOrLonger int `json:"day_or_longer"`
}

// Distribute buckets ws into under 1h, 1h to 24h, and 24h or longer.
func Distribute(ws WindowStats) Distribution {
	var d Distribution
	for _, s := range ws.ResponseSeconds {
		switch {
		case s < 3600:
			d.UnderHour++
		case s < 86400:
			d.UnderDay++
		default:
			d.DayOrLonger++
		}
	}
	return d
}

// Percent returns n as a whole percentage of total, rounded down.
func Percent(n, total int) int {
	if total == 0 {
		return 0
	}
	return n * 100 / total
}
