//go:build integration

package hermes

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

// listen subscribes on the client's own connection and flushes so the
// subscription is registered before anything is published.
func listen(t *testing.T, c *Client, subject string) chan *nats.Msg {
	t.Helper()
	ch := make(chan *nats.Msg, 1)
	sub, err := c.conn.ChanSubscribe(subject, ch)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	if err := c.conn.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	return ch
}

func TestIntegration_Publish(t *testing.T) {
	natsURL := skipWithoutNATS(t)

	client, err := NewClient(context.Background(), natsURL, os.Getenv("NATS_TOKEN"), slog.Default())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	received := listen(t, client, "replyclock.test.>")

	err = client.Publish("replyclock.test.ping", map[string]string{
		"message": "hello from integration test",
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := client.conn.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	select {
	case msg := <-received:
		var body map[string]string
		json.Unmarshal(msg.Data, &body)
		if msg.Subject != "replyclock.test.ping" || body["message"] != "hello from integration test" {
			t.Errorf("unexpected message %s %v", msg.Subject, body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestIntegration_RunEventDelivered(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	client, err := NewClient(context.Background(), natsURL, os.Getenv("NATS_TOKEN"), slog.Default())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	received := listen(t, client, SubjectReportGenerated)

	if err := client.Publish(SubjectReportGenerated, RunEvent{RunID: "integration", Status: "dry_run", DryRun: true}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := client.conn.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	select {
	case msg := <-received:
		var ev RunEvent
		json.Unmarshal(msg.Data, &ev)
		if ev.RunID != "integration" || !ev.DryRun {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run event")
	}
}
