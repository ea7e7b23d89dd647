// Package store keeps a history of report runs in Postgres. Only aggregate
// numbers are stored; raw durations and message metadata are not.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/replyclock/internal/matcher"
	"github.com/MikeSquared-Agency/replyclock/internal/message"
	"github.com/MikeSquared-Agency/replyclock/internal/stats"
)

// ErrNotFound is returned when no run has been recorded yet.
var ErrNotFound = errors.New("no report runs recorded")

const schema = `
CREATE TABLE IF NOT EXISTS report_runs (
	id             UUID PRIMARY KEY,
	generated_at   TIMESTAMPTZ NOT NULL,
	status         TEXT NOT NULL,
	sources        TEXT[] NOT NULL,
	failed_sources JSONB NOT NULL DEFAULT '{}',
	match_stats    JSONB NOT NULL DEFAULT '{}',
	delivery_error TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS window_stats (
	id                      UUID PRIMARY KEY,
	run_id                  UUID NOT NULL REFERENCES report_runs(id) ON DELETE CASCADE,
	channel                 TEXT NOT NULL,
	window_name             TEXT NOT NULL,
	total_responses         INTEGER NOT NULL,
	avg_response_seconds    DOUBLE PRECISION,
	median_response_seconds DOUBLE PRECISION,
	fastest_seconds         BIGINT,
	slowest_seconds         BIGINT,
	imessage_count          INTEGER,
	sms_count               INTEGER
);
CREATE INDEX IF NOT EXISTS idx_report_runs_generated ON report_runs(generated_at DESC);
CREATE INDEX IF NOT EXISTS idx_window_stats_run ON window_stats(run_id);
`

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Run is one report run as persisted.
type Run struct {
	ID            uuid.UUID          `json:"id"`
	GeneratedAt   time.Time          `json:"generated_at"`
	Status        string             `json:"status"`
	Sources       []string           `json:"sources"`
	FailedSources map[string]string  `json:"failed_sources"`
	MatchStats    matcher.Stats      `json:"match_stats"`
	DeliveryError string             `json:"delivery_error,omitempty"`
	Groups        []stats.GroupStats `json:"groups"`
	Combined      stats.GroupStats   `json:"combined"`
}

// WriteRun stores a run and its window statistics in one transaction.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	failed, err := json.Marshal(run.FailedSources)
	if err != nil {
		return fmt.Errorf("marshal failed sources: %w", err)
	}
	matchStats, err := json.Marshal(run.MatchStats)
	if err != nil {
		return fmt.Errorf("marshal match stats: %w", err)
	}
	sources := run.Sources
	if sources == nil {
		sources = []string{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO report_runs (id, generated_at, status, sources, failed_sources, match_stats, delivery_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.GeneratedAt, run.Status, sources, failed, matchStats, run.DeliveryError,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	groups := append([]stats.GroupStats{}, run.Groups...)
	groups = append(groups, run.Combined)
	for _, g := range groups {
		for _, ws := range g.Windows {
			_, err = tx.Exec(ctx, `
				INSERT INTO window_stats (id, run_id, channel, window_name, total_responses,
					avg_response_seconds, median_response_seconds, fastest_seconds, slowest_seconds,
					imessage_count, sms_count)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				uuid.New(), run.ID, string(g.Channel), string(ws.Window), ws.TotalResponses,
				ws.AvgResponseSeconds, ws.MedianResponseSeconds, ws.FastestSeconds, ws.SlowestSeconds,
				ws.IMessageCount, ws.SMSCount,
			)
			if err != nil {
				return fmt.Errorf("insert window stats: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LatestRun returns the most recent run with its windows. Durations lists are
// not stored, so ResponseSeconds is always empty on the result.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	var run Run
	var failed, matchStats []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, generated_at, status, sources, failed_sources, match_stats, delivery_error
		FROM report_runs ORDER BY generated_at DESC, created_at DESC LIMIT 1`,
	).Scan(&run.ID, &run.GeneratedAt, &run.Status, &run.Sources, &failed, &matchStats, &run.DeliveryError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest run: %w", err)
	}
	if err := json.Unmarshal(failed, &run.FailedSources); err != nil {
		return nil, fmt.Errorf("parse failed sources: %w", err)
	}
	if err := json.Unmarshal(matchStats, &run.MatchStats); err != nil {
		return nil, fmt.Errorf("parse match stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT channel, window_name, total_responses, avg_response_seconds, median_response_seconds,
			fastest_seconds, slowest_seconds, imessage_count, sms_count
		FROM window_stats WHERE run_id = $1`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("query window stats: %w", err)
	}
	defer rows.Close()

	byChannel := map[string][]stats.WindowStats{}
	for rows.Next() {
		var channel, window string
		var ws stats.WindowStats
		if err := rows.Scan(&channel, &window, &ws.TotalResponses, &ws.AvgResponseSeconds, &ws.MedianResponseSeconds,
			&ws.FastestSeconds, &ws.SlowestSeconds, &ws.IMessageCount, &ws.SMSCount); err != nil {
			return nil, fmt.Errorf("scan window stats: %w", err)
		}
		ws.Window = stats.Window(window)
		byChannel[channel] = append(byChannel[channel], ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate window stats: %w", err)
	}

	for _, src := range run.Sources {
		run.Groups = append(run.Groups, orderedGroup(src, byChannel[src]))
	}
	run.Combined = orderedGroup("combined", byChannel["combined"])
	return &run, nil
}

func orderedGroup(channel string, windows []stats.WindowStats) stats.GroupStats {
	g := stats.GroupStats{Channel: message.Channel(channel)}
	for _, w := range stats.Windows {
		for _, ws := range windows {
			if ws.Window == w {
				g.Windows = append(g.Windows, ws)
			}
		}
	}
	return g
}
