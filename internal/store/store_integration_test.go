//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/replyclock/internal/matcher"
	"github.com/MikeSquared-Agency/replyclock/internal/message"
	"github.com/MikeSquared-Agency/replyclock/internal/stats"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_WriteAndReadLatestRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Far in the future so it sorts first regardless of existing rows.
	now := time.Now().UTC().Add(24 * 365 * time.Hour).Truncate(time.Microsecond)
	samples := []message.ResponseSample{
		{Source: message.SourceGmail, ThreadKey: "t1", ResponseSeconds: 120, MatchedAt: now.Add(-time.Hour)},
		{Source: message.SourceSMS, ThreadKey: "t2", ResponseSeconds: 30, MatchedAt: now.Add(-2 * time.Hour)},
	}
	summary := stats.Aggregate(samples, []message.Channel{message.ChannelGmail, message.ChannelMessages}, now)

	run := Run{
		ID:            uuid.New(),
		GeneratedAt:   now,
		Status:        "delivered",
		Sources:       []string{"gmail", "messages"},
		FailedSources: map[string]string{"outlook": "auth"},
		MatchStats:    matcher.Stats{Input: 4, Unprompted: 1},
		Groups:        summary.Groups,
		Combined:      summary.Combined,
	}
	if err := s.WriteRun(ctx, run); err != nil {
		t.Fatalf("WriteRun failed: %v", err)
	}

	got, err := s.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if got.ID != run.ID {
		t.Fatalf("expected run %s, got %s", run.ID, got.ID)
	}
	if got.FailedSources["outlook"] != "auth" {
		t.Errorf("failed sources = %v", got.FailedSources)
	}
	if got.MatchStats.Unprompted != 1 {
		t.Errorf("match stats = %+v", got.MatchStats)
	}
	if len(got.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(got.Groups))
	}

	day := got.Combined.Window(stats.Window24h)
	if day.TotalResponses != 2 || *day.AvgResponseSeconds != 75 {
		t.Errorf("unexpected combined 24h %+v", day)
	}
	msgs := got.Groups[1].Window(stats.Window24h)
	if msgs.SMSCount == nil || *msgs.SMSCount != 1 {
		t.Errorf("expected sms count 1, got %v", msgs.SMSCount)
	}
	gmail := got.Groups[0].Window(stats.Window24h)
	if gmail.IMessageCount != nil {
		t.Error("gmail windows should have null subtype counts")
	}
}

func TestIntegration_LatestRunEmpty(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM report_runs`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count > 0 {
		t.Skip("database already has runs")
	}

	if _, err := s.LatestRun(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
