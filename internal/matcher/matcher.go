package matcher

import (
	"errors"
	"sort"
	"time"

	"github.com/MikeSquared-Agency/replyclock/internal/message"
)

// Bounds limits which pairings count as responses. Zero values disable a limit.
type Bounds struct {
	MinResponse time.Duration
	MaxResponse time.Duration
}

func (b Bounds) allows(d time.Duration) bool {
	if b.MinResponse > 0 && d < b.MinResponse {
		return false
	}
	if b.MaxResponse > 0 && d > b.MaxResponse {
		return false
	}
	return true
}

// Options configures Match. Bounds are looked up per source.
type Options struct {
	Bounds map[message.Source]Bounds
}

// Stats counts what happened to each input message.
type Stats struct {
	Input       int `json:"input"`
	Skipped     int `json:"skipped"`
	NoThread    int `json:"no_thread"`
	Superseded  int `json:"superseded"`
	Unprompted  int `json:"unprompted"`
	Negative    int `json:"negative"`
	OutOfBounds int `json:"out_of_bounds"`
}

// Result is the output of Match.
type Result struct {
	Samples []message.ResponseSample
	Stats   Stats
	Skips   []*message.MalformedMessageError
}

type threadID struct {
	source message.Source
	key    string
}

// Match pairs every outbound message with the latest unconsumed inbound
// message that strictly precedes it in the same source and thread.
// Each inbound message answers at most one outbound message.
func Match(msgs []message.Message, opts Options) Result {
	res := Result{Stats: Stats{Input: len(msgs)}}

	threads := make(map[threadID][]message.Message)
	var order []threadID
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			var mErr *message.MalformedMessageError
			if errors.As(err, &mErr) {
				res.Skips = append(res.Skips, mErr)
			}
			res.Stats.Skipped++
			continue
		}
		if m.ThreadKey == "" {
			res.Stats.NoThread++
			continue
		}
		id := threadID{source: m.Source, key: m.ThreadKey}
		if _, ok := threads[id]; !ok {
			order = append(order, id)
		}
		threads[id] = append(threads[id], m)
	}

	for _, id := range order {
		matchThread(threads[id], opts.Bounds[id.source], &res)
	}

	sort.SliceStable(res.Samples, func(i, j int) bool {
		a, b := res.Samples[i], res.Samples[j]
		if !a.MatchedAt.Equal(b.MatchedAt) {
			return a.MatchedAt.Before(b.MatchedAt)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.ThreadKey < b.ThreadKey
	})

	return res
}

func matchThread(msgs []message.Message, bounds Bounds, res *Result) {
	// Sent sorts before received at the same instant so a same-time inbound
	// is never treated as strictly earlier.
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Direction != b.Direction {
			return a.Direction == message.Sent
		}
		return a.ID < b.ID
	})

	var pending *message.Message
	for i := range msgs {
		m := msgs[i]
		if m.Direction == message.Received {
			if pending != nil {
				res.Stats.Superseded++
			}
			pending = &msgs[i]
			continue
		}

		if pending == nil {
			res.Stats.Unprompted++
			continue
		}

		inbound := pending
		pending = nil

		d := m.Timestamp.Sub(inbound.Timestamp)
		if d < 0 {
			res.Stats.Negative++
			continue
		}
		if !bounds.allows(d) {
			res.Stats.OutOfBounds++
			continue
		}

		res.Samples = append(res.Samples, message.ResponseSample{
			Source:          m.Source,
			ThreadKey:       m.ThreadKey,
			ResponseSeconds: int64(d / time.Second),
			MatchedAt:       m.Timestamp,
		})
	}
}
