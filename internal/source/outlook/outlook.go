// Package outlook reads the user's mailbox through Microsoft Graph.
package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/MikeSquared-Agency/replyclock/internal/message"
	"github.com/MikeSquared-Agency/replyclock/internal/source"
)

const defaultAPIURL = "https://graph.microsoft.com/v1.0"

// Scopes requested for the device code grant.
var Scopes = []string{
	"https://graph.microsoft.com/Mail.Read",
	"https://graph.microsoft.com/User.Read",
	"offline_access",
}

// Credentials for a public Azure AD client.
type Credentials struct {
	ClientID     string
	TenantID     string
	RefreshToken string
}

// OAuthConfig returns the oauth2 configuration for creds.
func OAuthConfig(creds Credentials) *oauth2.Config {
	tenant := creds.TenantID
	if tenant == "" {
		tenant = "common"
	}
	return &oauth2.Config{
		ClientID: creds.ClientID,
		Endpoint: endpoints.AzureAD(tenant),
		Scopes:   Scopes,
	}
}

// Client implements source.Adapter for Outlook.
type Client struct {
	client *http.Client
	apiURL string
	logger *slog.Logger
}

func NewClient(ctx context.Context, creds Credentials, logger *slog.Logger) *Client {
	httpClient := OAuthConfig(creds).Client(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	httpClient.Timeout = 30 * time.Second
	return &Client{
		client: httpClient,
		apiURL: defaultAPIURL,
		logger: logger,
	}
}

func (c *Client) Channel() message.Channel { return message.ChannelOutlook }

type emailAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type apiMessage struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversationId"`
	From             *emailAddress  `json:"from"`
	ToRecipients     []emailAddress `json:"toRecipients"`
	SentDateTime     string         `json:"sentDateTime"`
	ReceivedDateTime string         `json:"receivedDateTime"`
	IsDraft          bool           `json:"isDraft"`
}

// Me returns the signed-in user's primary address.
func (c *Client) Me(ctx context.Context) (string, error) {
	var me struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := c.get(ctx, c.apiURL+"/me?$select=mail,userPrincipalName", &me); err != nil {
		return "", fmt.Errorf("get me: %w", err)
	}
	if me.Mail != "" {
		return me.Mail, nil
	}
	return me.UserPrincipalName, nil
}

// Fetch lists every non-draft message in [start, end] across all folders.
// A message is outbound when its sender is the signed-in user.
func (c *Client) Fetch(ctx context.Context, start, end time.Time) ([]message.Message, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}
	me = strings.ToLower(me)

	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s and receivedDateTime le %s",
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)))
	params.Set("$select", "id,conversationId,from,toRecipients,sentDateTime,receivedDateTime,isDraft")
	params.Set("$top", "500")
	next := c.apiURL + "/me/messages?" + params.Encode()

	var out []message.Message
	pages := 0
	for next != "" {
		var page struct {
			Value    []apiMessage `json:"value"`
			NextLink string       `json:"@odata.nextLink"`
		}
		if err := c.get(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		pages++

		for _, m := range page.Value {
			if m.IsDraft {
				continue
			}
			out = append(out, toMessage(m, me))
		}
		next = page.NextLink
	}

	c.logger.Info("outlook fetch complete", "pages", pages, "messages", len(out))
	return out, nil
}

func toMessage(m apiMessage, me string) message.Message {
	msg := message.Message{
		ID:        m.ID,
		Source:    message.SourceOutlook,
		Direction: message.Received,
		ThreadKey: m.ConversationID,
	}

	from := ""
	if m.From != nil {
		from = strings.ToLower(m.From.EmailAddress.Address)
	}

	stamp := m.ReceivedDateTime
	if from != "" && from == me {
		msg.Direction = message.Sent
		stamp = m.SentDateTime
		if len(m.ToRecipients) > 0 {
			msg.Counterparty = m.ToRecipients[0].EmailAddress.Address
		}
	} else {
		msg.Counterparty = from
	}

	if ts, err := time.Parse(time.RFC3339, stamp); err == nil {
		msg.Timestamp = ts.UTC()
	}
	return msg
}

func (c *Client) get(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := source.Do(c.client, req, message.ChannelOutlook)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &source.TransientError{Source: message.ChannelOutlook, Err: fmt.Errorf("read response: %w", err)}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &source.TransientError{Source: message.ChannelOutlook, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
