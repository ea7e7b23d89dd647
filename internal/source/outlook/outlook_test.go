package outlook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/MikeSquared-Agency/replyclock/internal/message"
	"github.com/MikeSquared-Agency/replyclock/internal/source"
)

func testClient(server *httptest.Server) *Client {
	return &Client{client: server.Client(), apiURL: server.URL, logger: slog.Default()}
}

func addr(a string) map[string]any {
	return map[string]any{"emailAddress": map[string]string{"address": a}}
}

func TestFetch(t *testing.T) {
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/me":
			json.NewEncoder(w).Encode(map[string]string{"mail": "Me@Example.com"})
		case r.URL.Path == "/me/messages" && r.URL.Query().Get("page") == "":
			filter := r.URL.Query().Get("$filter")
			if !strings.Contains(filter, "receivedDateTime ge 2026-10-01T00:00:00Z") {
				t.Errorf("unexpected filter %q", filter)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "1", "conversationId": "c1", "from": addr("alice@example.com"),
						"receivedDateTime": "2026-10-01T09:00:00Z", "sentDateTime": "2026-10-01T08:59:00Z"},
					{"id": "2", "conversationId": "c1", "isDraft": true, "from": addr("me@example.com"),
						"receivedDateTime": "2026-10-01T09:01:00Z", "sentDateTime": "2026-10-01T09:01:00Z"},
				},
				"@odata.nextLink": server.URL + "/me/messages?page=2",
			})
		case r.URL.Path == "/me/messages":
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "3", "conversationId": "c1", "from": addr("ME@example.com"),
						"toRecipients":     []any{addr("alice@example.com")},
						"receivedDateTime": "2026-10-01T09:05:01Z", "sentDateTime": "2026-10-01T09:05:00Z"},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	msgs, err := testClient(server).Fetch(context.Background(), start, end)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (draft skipped), got %d", len(msgs))
	}

	in, out := msgs[0], msgs[1]
	if in.Direction != message.Received || !in.Timestamp.Equal(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected inbound %+v", in)
	}
	if out.Direction != message.Sent || !out.Timestamp.Equal(time.Date(2026, 10, 1, 9, 5, 0, 0, time.UTC)) {
		t.Errorf("outbound should use sentDateTime: %+v", out)
	}
	if out.ThreadKey != "c1" || out.Counterparty != "alice@example.com" {
		t.Errorf("unexpected outbound %+v", out)
	}
}

func TestFetch_Throttled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := testClient(server).Fetch(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if !source.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestMe_FallsBackToUPN(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"userPrincipalName": "upn@example.com"})
	}))
	defer server.Close()

	me, err := testClient(server).Me(context.Background())
	if err != nil || me != "upn@example.com" {
		t.Errorf("me = %q, %v", me, err)
	}
}

func TestOAuthConfig_DefaultTenant(t *testing.T) {
	conf := OAuthConfig(Credentials{ClientID: "id"})
	if !strings.Contains(conf.Endpoint.TokenURL, "/common/") {
		t.Errorf("expected common tenant, got %s", conf.Endpoint.TokenURL)
	}
}

func TestDeviceLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/devicecode":
			json.NewEncoder(w).Encode(map[string]any{
				"device_code":      "dev",
				"user_code":        "ABCD-1234",
				"verification_uri": "https://microsoft.com/devicelogin",
				"expires_in":       60,
				"interval":         1,
			})
		case "/token":
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "at",
				"refresh_token": "rt",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		}
	}))
	defer server.Close()

	conf := &oauth2.Config{
		ClientID: "id",
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: server.URL + "/devicecode",
			TokenURL:      server.URL + "/token",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
		Scopes: Scopes,
	}

	var buf bytes.Buffer
	tok, err := DeviceLogin(context.Background(), conf, &buf)
	if err != nil {
		t.Fatalf("device login: %v", err)
	}
	if tok.RefreshToken != "rt" {
		t.Errorf("refresh token = %q", tok.RefreshToken)
	}
	if !strings.Contains(buf.String(), "ABCD-1234") {
		t.Errorf("instructions missing user code: %q", buf.String())
	}
}
