// Package artifact is the document the Messages pathway hands to the report
// run. It carries window statistics only: no message content, names or
// phone numbers.
//
// Each window also carries its sorted response_seconds. That is more than the
// report shows, and it grows with reply volume, but a median over email and
// Messages together cannot be rebuilt from per-group medians.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/replyclock/internal/message"
	"github.com/MikeSquared-Agency/replyclock/internal/stats"
)

// Version is the only artifact layout this build reads and writes.
const Version = 1

// ErrStale is returned by CheckAge when an artifact is older than allowed.
var ErrStale = errors.New("artifact is stale")

type Artifact struct {
	Version       int               `json:"version"`
	Channel       message.Channel   `json:"channel"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Last24h       stats.WindowStats `json:"last_24h"`
	Last7d        stats.WindowStats `json:"last_7d"`
	Last28d       stats.WindowStats `json:"last_28d"`
	ClientVersion string            `json:"client_version,omitempty"`
}

// Build wraps a group's windows. generatedAt is the "now" the group was
// aggregated against.
func Build(g stats.GroupStats, generatedAt time.Time, clientVersion string) *Artifact {
	return &Artifact{
		Version:       Version,
		Channel:       g.Channel,
		GeneratedAt:   generatedAt.UTC(),
		Last24h:       g.Window(stats.Window24h),
		Last7d:        g.Window(stats.Window7d),
		Last28d:       g.Window(stats.Window28d),
		ClientVersion: clientVersion,
	}
}

// Group returns the statistics in the shape the aggregator merges.
func (a *Artifact) Group() stats.GroupStats {
	return stats.GroupStats{
		Channel: a.Channel,
		Windows: []stats.WindowStats{a.Last24h, a.Last7d, a.Last28d},
	}
}

// Validate rejects artifacts this build cannot trust.
func (a *Artifact) Validate() error {
	if a.Version != Version {
		return fmt.Errorf("unsupported artifact version %d", a.Version)
	}
	if a.Channel != message.ChannelMessages {
		return fmt.Errorf("unexpected artifact channel %q", a.Channel)
	}
	if a.GeneratedAt.IsZero() {
		return fmt.Errorf("artifact has no generated_at")
	}

	windows := map[stats.Window]stats.WindowStats{
		stats.Window24h: a.Last24h,
		stats.Window7d:  a.Last7d,
		stats.Window28d: a.Last28d,
	}
	for _, w := range stats.Windows {
		ws := windows[w]
		if ws.Window != w {
			return fmt.Errorf("artifact window %s missing or mislabelled (%q)", w, ws.Window)
		}
		if err := ws.Validate(); err != nil {
			return fmt.Errorf("artifact: %w", err)
		}
	}
	if a.Last24h.TotalResponses > a.Last7d.TotalResponses || a.Last7d.TotalResponses > a.Last28d.TotalResponses {
		return fmt.Errorf("artifact windows do not nest")
	}
	return nil
}

// CheckAge returns ErrStale when the artifact was generated more than maxAge
// before now. A zero maxAge disables the check.
func (a *Artifact) CheckAge(now time.Time, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	if age := now.Sub(a.GeneratedAt); age > maxAge {
		return fmt.Errorf("%w: generated %s ago (limit %s)", ErrStale, age.Round(time.Minute), maxAge)
	}
	return nil
}

func (a *Artifact) Marshal() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// Parse decodes and validates an artifact.
func Parse(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
