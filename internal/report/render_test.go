package report

import (
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/replyclock/internal/message"
	"github.com/MikeSquared-Agency/replyclock/internal/stats"
)

var now = time.Date(2026, 10, 19, 5, 30, 0, 0, time.UTC)

func summaryFor(channels []message.Channel, samples ...message.ResponseSample) stats.Summary {
	return stats.Aggregate(samples, channels, now)
}

func at(src message.Source, secs int64) message.ResponseSample {
	return message.ResponseSample{Source: src, ThreadKey: "t", ResponseSeconds: secs, MatchedAt: now.Add(-time.Hour)}
}

func TestRender_OmitsMissingSources(t *testing.T) {
	s := summaryFor(
		[]message.Channel{message.ChannelGmail, message.ChannelMessages},
		at(message.SourceGmail, 120),
		at(message.SourceIMessage, 45),
	)

	doc, err := Render(s, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if !strings.Contains(doc.HTML, "<h3>Gmail</h3>") {
		t.Error("expected Gmail section")
	}
	if !strings.Contains(doc.HTML, "<h3>Messages</h3>") {
		t.Error("expected Messages section")
	}
	if strings.Contains(doc.HTML, "Outlook") {
		t.Error("Outlook did not contribute and must not appear")
	}
	if !strings.Contains(doc.HTML, "<h3>All Sources</h3>") {
		t.Error("expected combined section with two sources")
	}
	if !strings.Contains(doc.HTML, "iMessage / SMS") {
		t.Error("expected subtype counts for messages")
	}
}

func TestRender_SingleSourceHasNoCombinedSection(t *testing.T) {
	s := summaryFor([]message.Channel{message.ChannelOutlook}, at(message.SourceOutlook, 600))

	doc, err := Render(s, Options{Account: "me@example.com"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(doc.HTML, "All Sources") {
		t.Error("combined section should be omitted for a single source")
	}
	if !strings.Contains(doc.HTML, "me@example.com") {
		t.Error("expected account line")
	}
	if !strings.Contains(doc.HTML, "10 minutes") {
		t.Error("expected formatted average")
	}
}

func TestRender_NoData(t *testing.T) {
	s := summaryFor([]message.Channel{message.ChannelGmail})

	doc, err := Render(s, Options{})
	if err != nil {
		t.Fatalf("render should not fail without data: %v", err)
	}
	if !strings.Contains(doc.HTML, "No data") {
		t.Error("expected no data notice")
	}
	if strings.Contains(doc.HTML, "Response Time Distribution") {
		t.Error("distribution should be hidden without 24h data")
	}
}

func TestRender_EscapesAccount(t *testing.T) {
	s := summaryFor([]message.Channel{message.ChannelGmail})
	doc, err := Render(s, Options{Account: "<script>x</script>"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(doc.HTML, "<script>x</script>") {
		t.Error("account must be escaped")
	}
}

func TestSubject(t *testing.T) {
	if got := Subject(now); got != "Daily Response Time Report - 2026-10-19" {
		t.Errorf("subject = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		secs float64
		want string
	}{
		{0, "0 seconds"},
		{59.9, "59 seconds"},
		{60, "1 minute"},
		{150, "2 minutes"},
		{3600, "1 hour 0 min"},
		{7260, "2 hours 1 min"},
		{86400, "1 day 0 hours"},
		{90000, "1 day 1 hour"},
		{200000, "2 days 7 hours"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.secs); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.secs, got, tt.want)
		}
	}
}

func TestFormatText(t *testing.T) {
	s := summaryFor(
		[]message.Channel{message.ChannelGmail, message.ChannelOutlook},
		at(message.SourceGmail, 60),
	)
	text := FormatText(s)

	for _, want := range []string{"*Gmail*", "*Outlook*", "*All sources*", "24h: 1 responses", "no data"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected text to contain %q:\n%s", want, text)
		}
	}

	empty := FormatText(stats.Summary{GeneratedAt: now})
	if !strings.Contains(empty, "No sources contributed") {
		t.Errorf("unexpected empty text %q", empty)
	}
}
