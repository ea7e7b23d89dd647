// Package gmail reads the user's threads from the Gmail REST API and sends
// mail through it.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/MikeSquared-Agency/replyclock/internal/message"
	"github.com/MikeSquared-Agency/replyclock/internal/source"
)

const defaultAPIURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// Scopes requested when the refresh token was issued.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.send",
}

// Credentials identify the OAuth client and the user's long-lived grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Client talks to one mailbox. It implements source.Adapter.
type Client struct {
	client *http.Client
	apiURL string
	logger *slog.Logger
}

// NewClient returns a client whose requests carry access tokens refreshed
// from creds.RefreshToken.
func NewClient(ctx context.Context, creds Credentials, logger *slog.Logger) *Client {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     endpoints.Google,
		Scopes:       Scopes,
	}
	httpClient := conf.Client(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	httpClient.Timeout = 30 * time.Second

	return &Client{
		client: httpClient,
		apiURL: defaultAPIURL,
		logger: logger,
	}
}

func (c *Client) Channel() message.Channel { return message.ChannelGmail }

type header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type apiMessage struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	InternalDate string   `json:"internalDate"`
	Payload      struct {
		Headers []header `json:"headers"`
	} `json:"payload"`
}

// Profile returns the mailbox address.
func (c *Client) Profile(ctx context.Context) (string, error) {
	var profile struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := c.get(ctx, c.apiURL+"/profile", &profile); err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	return profile.EmailAddress, nil
}

// Fetch returns every message in threads where the user sent mail since
// start. Earlier messages of those threads are kept so a reply can find a
// prompt older than start; only messages after end are dropped. Drafts are
// skipped. Messages whose internalDate cannot be parsed come back with a
// zero timestamp.
func (c *Client) Fetch(ctx context.Context, start, end time.Time) ([]message.Message, error) {
	threadIDs, err := c.sentThreads(ctx, start)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("gmail threads with sent mail", "count", len(threadIDs))

	var out []message.Message
	for _, id := range threadIDs {
		msgs, err := c.thread(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get thread %s: %w", id, err)
		}
		for _, m := range msgs {
			if hasLabel(m, "DRAFT") {
				continue
			}
			msg := toMessage(m)
			if msg.Timestamp.After(end) {
				continue
			}
			out = append(out, msg)
		}
	}

	c.logger.Info("gmail fetch complete", "threads", len(threadIDs), "messages", len(out))
	return out, nil
}

func (c *Client) sentThreads(ctx context.Context, start time.Time) ([]string, error) {
	q := "from:me after:" + start.UTC().Format("2006/01/02")
	seen := map[string]bool{}
	var ids []string
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("q", q)
		params.Set("maxResults", "500")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page struct {
			Messages []struct {
				ID       string `json:"id"`
				ThreadID string `json:"threadId"`
			} `json:"messages"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := c.get(ctx, c.apiURL+"/messages?"+params.Encode(), &page); err != nil {
			return nil, fmt.Errorf("list sent messages: %w", err)
		}

		for _, m := range page.Messages {
			if m.ThreadID == "" || seen[m.ThreadID] {
				continue
			}
			seen[m.ThreadID] = true
			ids = append(ids, m.ThreadID)
		}

		if page.NextPageToken == "" {
			return ids, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *Client) thread(ctx context.Context, id string) ([]apiMessage, error) {
	params := url.Values{}
	params.Set("format", "metadata")
	params.Add("metadataHeaders", "From")
	params.Add("metadataHeaders", "To")

	var thread struct {
		Messages []apiMessage `json:"messages"`
	}
	if err := c.get(ctx, c.apiURL+"/threads/"+url.PathEscape(id)+"?"+params.Encode(), &thread); err != nil {
		return nil, err
	}
	return thread.Messages, nil
}

func toMessage(m apiMessage) message.Message {
	msg := message.Message{
		ID:        m.ID,
		Source:    message.SourceGmail,
		Direction: message.Received,
		ThreadKey: m.ThreadID,
	}
	if ms, err := strconv.ParseInt(m.InternalDate, 10, 64); err == nil && ms > 0 {
		msg.Timestamp = time.UnixMilli(ms).UTC()
	}

	party := "From"
	if hasLabel(m, "SENT") {
		msg.Direction = message.Sent
		party = "To"
	}
	for _, h := range m.Payload.Headers {
		if h.Name == party {
			msg.Counterparty = h.Value
			break
		}
	}
	return msg
}

func hasLabel(m apiMessage, label string) bool {
	for _, l := range m.LabelIDs {
		if l == label {
			return true
		}
	}
	return false
}

// Send delivers an RFC 2822 message through users.messages.send.
func (c *Client) Send(ctx context.Context, raw []byte) error {
	body, err := json.Marshal(map[string]string{
		"raw": base64.URLEncoding.EncodeToString(raw),
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/messages/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := source.Do(c.client, req, message.ChannelGmail)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	var sent struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		return fmt.Errorf("decode send response: %w", err)
	}
	c.logger.Info("sent email via gmail", "message_id", sent.ID)
	return nil
}

func (c *Client) get(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := source.Do(c.client, req, message.ChannelGmail)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &source.TransientError{Source: message.ChannelGmail, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
