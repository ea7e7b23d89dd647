package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectReportGenerated is published after every report run, delivered or not.
	SubjectReportGenerated = "replyclock.report.generated"
	// SubjectDeliveryFailed is published when the report could not be sent.
	SubjectDeliveryFailed = "replyclock.report.delivery_failed"
	// SubjectMessagesUploaded is published by the Messages upload pathway.
	SubjectMessagesUploaded = "replyclock.messages.uploaded"
)

// RunEvent summarises a report run without any per-message data.
type RunEvent struct {
	RunID         string            `json:"run_id"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Status        string            `json:"status"`
	DryRun        bool              `json:"dry_run"`
	Sources       []string          `json:"sources"`
	FailedSources map[string]string `json:"failed_sources,omitempty"`
	Responses24h  int               `json:"responses_24h"`
	AvgSeconds24h *float64          `json:"avg_seconds_24h"`
	DeliveryError string            `json:"delivery_error,omitempty"`
}

// UploadEvent is emitted after the Messages artifact is written.
type UploadEvent struct {
	GistID       string    `json:"gist_id"`
	GeneratedAt  time.Time `json:"generated_at"`
	Responses28d int       `json:"responses_28d"`
}

// Client publishes replyclock events. Nothing in replyclock consumes them,
// so it has no subscribe side.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("replyclock"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// Close flushes pending publishes before disconnecting. A one-shot run exits
// right after publishing, so unflushed events would be lost.
func (c *Client) Close() {
	if err := c.conn.FlushTimeout(5 * time.Second); err != nil {
		c.logger.Warn("nats flush failed", "error", err)
	}
	c.conn.Close()
}
