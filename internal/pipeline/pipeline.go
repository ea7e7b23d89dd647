// Package pipeline runs a report end to end: fetch from every enabled source,
// match responses, aggregate, render and deliver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/replyclock/internal/artifact"
	"github.com/MikeSquared-Agency/replyclock/internal/delivery"
	"github.com/MikeSquared-Agency/replyclock/internal/hermes"
	"github.com/MikeSquared-Agency/replyclock/internal/matcher"
	"github.com/MikeSquared-Agency/replyclock/internal/message"
	"github.com/MikeSquared-Agency/replyclock/internal/report"
	"github.com/MikeSquared-Agency/replyclock/internal/source"
	"github.com/MikeSquared-Agency/replyclock/internal/stats"
	"github.com/MikeSquared-Agency/replyclock/internal/store"
)

const (
	StatusDelivered      = "delivered"
	StatusDeliveryFailed = "delivery_failed"
	StatusDryRun         = "dry_run"
)

// Publisher emits run events. *hermes.Client implements it.
type Publisher interface {
	Publish(subject string, data any) error
}

// RunStore persists run history. *store.Store implements it.
type RunStore interface {
	WriteRun(ctx context.Context, run store.Run) error
}

// Notifier posts out-of-band notices. *slack.Poster implements it.
type Notifier interface {
	PostMessage(ctx context.Context, text string) (string, error)
	PostThread(ctx context.Context, threadTS, text string) error
}

// ArtifactSource fetches the Messages artifact. *gist.Client implements it.
type ArtifactSource interface {
	Download(ctx context.Context, id string) ([]byte, error)
}

type Options struct {
	AnalysisDays int
	ReportEmail  string
	Account      string
	Bounds       map[message.Source]matcher.Bounds
	DryRun       bool

	// Lookback extends the fetch range before the analysis span, per channel,
	// so a reply early in the span still finds its prompt.
	Lookback map[message.Channel]time.Duration

	// ArtifactID names the Messages artifact to merge. Empty disables it.
	ArtifactID     string
	ArtifactMaxAge time.Duration
}

// EmailLookback is how far before the analysis span email is fetched.
const EmailLookback = 30 * 24 * time.Hour

// DefaultLookback uses EmailLookback for email and the longest countable
// Messages response for Messages. A zero messagesMax means unbounded, which
// falls back to EmailLookback.
func DefaultLookback(messagesMax time.Duration) map[message.Channel]time.Duration {
	if messagesMax <= 0 {
		messagesMax = EmailLookback
	}
	return map[message.Channel]time.Duration{
		message.ChannelGmail:    EmailLookback,
		message.ChannelOutlook:  EmailLookback,
		message.ChannelMessages: messagesMax,
	}
}

// MessagesBounds applies the same limits to iMessage and SMS.
func MessagesBounds(min, max time.Duration) map[message.Source]matcher.Bounds {
	b := matcher.Bounds{MinResponse: min, MaxResponse: max}
	return map[message.Source]matcher.Bounds{
		message.SourceIMessage: b,
		message.SourceSMS:      b,
	}
}

// Runner holds the collaborators of a report run. Store, events, notifier
// and artifacts are optional and may be nil.
type Runner struct {
	adapters  []source.Adapter
	sender    delivery.Sender
	artifacts ArtifactSource
	store     RunStore
	events    Publisher
	notifier  Notifier
	opts      Options
	logger    *slog.Logger
}

func New(adapters []source.Adapter, sender delivery.Sender, artifacts ArtifactSource, rs RunStore, events Publisher, notifier Notifier, opts Options, logger *slog.Logger) *Runner {
	return &Runner{
		adapters:  adapters,
		sender:    sender,
		artifacts: artifacts,
		store:     rs,
		events:    events,
		notifier:  notifier,
		opts:      opts,
		logger:    logger,
	}
}

// Result describes one run.
type Result struct {
	RunID        uuid.UUID
	Status       string
	Summary      stats.Summary
	Document     *report.Document
	Contributing []message.Channel
	Failed       map[message.Channel]error
	MatchStats   matcher.Stats
}

// Run executes the pipeline as of now. A failing source is logged and left
// out of the report. Only render and delivery failures are returned; on a
// delivery failure the result is still returned alongside the error.
func (r *Runner) Run(ctx context.Context, now time.Time) (*Result, error) {
	now = now.UTC()
	res := &Result{
		RunID:  uuid.New(),
		Failed: map[message.Channel]error{},
	}
	logger := r.logger.With("run_id", res.RunID.String())
	start := now.Add(-time.Duration(r.opts.AnalysisDays) * 24 * time.Hour)

	msgs := r.fetchAll(ctx, start, now, res, logger)

	matched := matcher.Match(msgs, matcher.Options{Bounds: r.opts.Bounds})
	res.MatchStats = matched.Stats
	for _, skip := range matched.Skips {
		logger.Debug("skipped malformed message", "source", skip.Source, "id", skip.ID, "reason", skip.Reason)
	}
	logger.Info("matching complete",
		"input", matched.Stats.Input,
		"samples", len(matched.Samples),
		"skipped", matched.Stats.Skipped,
		"no_thread", matched.Stats.NoThread,
		"superseded", matched.Stats.Superseded,
		"unprompted", matched.Stats.Unprompted,
		"out_of_bounds", matched.Stats.OutOfBounds,
	)

	res.Summary = stats.Aggregate(matched.Samples, res.Contributing, now)

	if r.artifacts != nil && r.opts.ArtifactID != "" {
		g, err := r.loadArtifact(ctx, now)
		if err != nil {
			res.Failed[message.ChannelMessages] = err
			logger.Warn("messages artifact unavailable, omitting messages", "error", err)
		} else {
			res.Summary = stats.Merge(res.Summary, g)
			res.Contributing = appendChannel(res.Contributing, message.ChannelMessages)
		}
	}

	if err := res.Summary.Check(); errors.Is(err, stats.ErrNoSamples) {
		logger.Warn("no responses in any window", "sources", len(res.Contributing))
	}

	doc, err := report.Render(res.Summary, report.Options{Account: r.opts.Account})
	if err != nil {
		logger.Error("render failed", "error", err)
		return nil, err
	}
	res.Document = doc

	var deliveryErr error
	switch {
	case r.opts.DryRun:
		res.Status = StatusDryRun
		logger.Info("dry run, skipping delivery", "subject", doc.Subject)
	default:
		if err := r.sender.Send(ctx, r.opts.ReportEmail, doc.Subject, doc.HTML); err != nil {
			deliveryErr = err
			res.Status = StatusDeliveryFailed
			logger.Error("delivery failed", "error", err)
		} else {
			res.Status = StatusDelivered
			logger.Info("report delivered", "to", r.opts.ReportEmail, "subject", doc.Subject)
		}
	}

	r.record(ctx, res, deliveryErr, logger)
	r.publish(res, deliveryErr, logger)
	r.notify(ctx, res, deliveryErr, logger)

	if deliveryErr != nil {
		return res, deliveryErr
	}
	return res, nil
}

// fetchAll runs every adapter concurrently over [start - lookback, end].
// Each adapter's failure is recorded against its channel and does not
// affect the others.
func (r *Runner) fetchAll(ctx context.Context, start, end time.Time, res *Result, logger *slog.Logger) []message.Message {
	results := make([][]message.Message, len(r.adapters))
	errs := make([]error, len(r.adapters))

	var g errgroup.Group
	for i, a := range r.adapters {
		from := start.Add(-r.opts.Lookback[a.Channel()])
		g.Go(func() error {
			msgs, err := a.Fetch(ctx, from, end)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = msgs
			return nil
		})
	}
	_ = g.Wait()

	var all []message.Message
	for i, a := range r.adapters {
		ch := a.Channel()
		if err := errs[i]; err != nil {
			res.Failed[ch] = err
			logger.Warn("source failed, omitting from report",
				"source", ch, "kind", failureKind(err), "error", err)
			continue
		}
		res.Contributing = appendChannel(res.Contributing, ch)
		all = append(all, results[i]...)
		logger.Info("source fetched", "source", ch, "messages", len(results[i]))
	}
	return all
}

func (r *Runner) loadArtifact(ctx context.Context, now time.Time) (stats.GroupStats, error) {
	data, err := r.artifacts.Download(ctx, r.opts.ArtifactID)
	if err != nil {
		return stats.GroupStats{}, fmt.Errorf("download artifact: %w", err)
	}
	a, err := artifact.Parse(data)
	if err != nil {
		return stats.GroupStats{}, err
	}
	if err := a.CheckAge(now, r.opts.ArtifactMaxAge); err != nil {
		return stats.GroupStats{}, err
	}
	r.logger.Info("messages artifact loaded", "generated_at", a.GeneratedAt, "client_version", a.ClientVersion)
	return a.Group(), nil
}

func (r *Runner) record(ctx context.Context, res *Result, deliveryErr error, logger *slog.Logger) {
	if r.store == nil {
		return
	}
	run := store.Run{
		ID:            res.RunID,
		GeneratedAt:   res.Summary.GeneratedAt,
		Status:        res.Status,
		Sources:       channelNames(res.Contributing),
		FailedSources: failureMap(res.Failed),
		MatchStats:    res.MatchStats,
		Groups:        res.Summary.Groups,
		Combined:      res.Summary.Combined,
	}
	if deliveryErr != nil {
		run.DeliveryError = deliveryErr.Error()
	}
	if err := r.store.WriteRun(ctx, run); err != nil {
		logger.Error("failed to record run", "error", err)
	}
}

func (r *Runner) publish(res *Result, deliveryErr error, logger *slog.Logger) {
	if r.events == nil {
		return
	}
	day := res.Summary.Combined.Window(stats.Window24h)
	ev := hermes.RunEvent{
		RunID:         res.RunID.String(),
		GeneratedAt:   res.Summary.GeneratedAt,
		Status:        res.Status,
		DryRun:        res.Status == StatusDryRun,
		Sources:       channelNames(res.Contributing),
		FailedSources: failureMap(res.Failed),
		Responses24h:  day.TotalResponses,
		AvgSeconds24h: day.AvgResponseSeconds,
	}
	if deliveryErr != nil {
		ev.DeliveryError = deliveryErr.Error()
		if err := r.events.Publish(hermes.SubjectDeliveryFailed, ev); err != nil {
			logger.Warn("failed to publish delivery failure", "error", err)
		}
	}
	if err := r.events.Publish(hermes.SubjectReportGenerated, ev); err != nil {
		logger.Warn("failed to publish run event", "error", err)
	}
}

func (r *Runner) notify(ctx context.Context, res *Result, deliveryErr error, logger *slog.Logger) {
	if r.notifier == nil {
		return
	}

	text := report.FormatText(res.Summary)
	if deliveryErr != nil {
		text = fmt.Sprintf(":warning: *Report delivery failed*: %v\n\n%s", deliveryErr, text)
	}
	ts, err := r.notifier.PostMessage(ctx, text)
	if err != nil {
		logger.Warn("slack post failed", "error", err)
		return
	}

	if len(res.Failed) == 0 {
		return
	}
	var sb strings.Builder
	sb.WriteString("Sources left out of this report:\n")
	for _, ch := range sortedChannels(res.Failed) {
		fmt.Fprintf(&sb, "- %s: %s\n", ch.Title(), failureKind(res.Failed[ch]))
	}
	if err := r.notifier.PostThread(ctx, ts, sb.String()); err != nil {
		logger.Warn("slack thread post failed", "error", err)
	}
}

func failureKind(err error) string {
	switch {
	case source.IsAuth(err):
		return "auth"
	case source.IsTransient(err):
		return "transient"
	case errors.Is(err, artifact.ErrStale):
		return "stale"
	default:
		return "error"
	}
}

func failureMap(failed map[message.Channel]error) map[string]string {
	if len(failed) == 0 {
		return nil
	}
	out := make(map[string]string, len(failed))
	for ch, err := range failed {
		out[string(ch)] = failureKind(err)
	}
	return out
}

func sortedChannels(m map[message.Channel]error) []message.Channel {
	out := make([]message.Channel, 0, len(m))
	for ch := range m {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func channelNames(chs []message.Channel) []string {
	out := make([]string, len(chs))
	for i, c := range chs {
		out[i] = string(c)
	}
	return out
}

func appendChannel(chs []message.Channel, c message.Channel) []message.Channel {
	for _, existing := range chs {
		if existing == c {
			return chs
		}
	}
	return append(chs, c)
}
