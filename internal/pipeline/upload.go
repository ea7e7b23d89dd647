package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/replyclock/internal/artifact"
	"github.com/MikeSquared-Agency/replyclock/internal/gist"
	"github.com/MikeSquared-Agency/replyclock/internal/hermes"
	"github.com/MikeSquared-Agency/replyclock/internal/matcher"
	"github.com/MikeSquared-Agency/replyclock/internal/message"
	"github.com/MikeSquared-Agency/replyclock/internal/source"
	"github.com/MikeSquared-Agency/replyclock/internal/stats"
)

// ArtifactSink stores the Messages artifact and returns its handle.
// *gist.Client implements it.
type ArtifactSink interface {
	Upload(ctx context.Context, id string, content []byte) (string, error)
}

type UploadOptions struct {
	AnalysisDays int
	// Lookback extends the read before the analysis span so replies early
	// in the span still find their prompt.
	Lookback      time.Duration
	Bounds        map[message.Source]matcher.Bounds
	ClientVersion string
	// GistID pins the artifact location. When empty the handle saved in
	// the state file is reused, or a new gist is created.
	GistID string
}

// Uploader is the Mac-side half of the Messages pathway.
type Uploader struct {
	reader source.Adapter
	sink   ArtifactSink
	state  *gist.UploadState
	events Publisher
	opts   UploadOptions
	logger *slog.Logger
}

func NewUploader(reader source.Adapter, sink ArtifactSink, state *gist.UploadState, events Publisher, opts UploadOptions, logger *slog.Logger) *Uploader {
	return &Uploader{
		reader: reader,
		sink:   sink,
		state:  state,
		events: events,
		opts:   opts,
		logger: logger,
	}
}

// Upload reads local Messages history, aggregates it and writes the artifact.
// It returns the artifact handle.
func (u *Uploader) Upload(ctx context.Context, now time.Time) (string, error) {
	now = now.UTC()
	start := now.Add(-time.Duration(u.opts.AnalysisDays)*24*time.Hour - u.opts.Lookback)

	msgs, err := u.reader.Fetch(ctx, start, now)
	if err != nil {
		return "", fmt.Errorf("read messages: %w", err)
	}

	matched := matcher.Match(msgs, matcher.Options{Bounds: u.opts.Bounds})
	summary := stats.Aggregate(matched.Samples, []message.Channel{message.ChannelMessages}, now)
	g, _ := summary.Group(message.ChannelMessages)

	a := artifact.Build(g, now, u.opts.ClientVersion)
	if err := a.Validate(); err != nil {
		return "", fmt.Errorf("build artifact: %w", err)
	}
	body, err := a.Marshal()
	if err != nil {
		return "", err
	}

	id := u.opts.GistID
	if id == "" && u.state != nil {
		id = u.state.GistID
	}
	id, err = u.sink.Upload(ctx, id, body)
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}

	if u.state != nil {
		u.state.Record(id, now)
		if err := u.state.Save(); err != nil {
			u.logger.Warn("failed to save upload state", "error", err)
		}
	}

	responses := a.Last28d.TotalResponses
	u.logger.Info("messages artifact uploaded",
		"gist_id", id,
		"messages", len(msgs),
		"responses_28d", responses,
	)

	if u.events != nil {
		ev := hermes.UploadEvent{GistID: id, GeneratedAt: now, Responses28d: responses}
		if err := u.events.Publish(hermes.SubjectMessagesUploaded, ev); err != nil {
			u.logger.Warn("failed to publish upload event", "error", err)
		}
	}
	return id, nil
}
