package gist

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testClient(server *httptest.Server) *Client {
	return &Client{token: "ghp-test", client: server.Client(), apiURL: server.URL, logger: slog.Default()}
}

func TestUpload_CreateThenUpdate(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ghp-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		methods = append(methods, r.Method+" "+r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Public bool                `json:"public"`
			Files  map[string]gistFile `json:"files"`
		}
		json.Unmarshal(body, &payload)
		if payload.Public {
			t.Error("gist must be private")
		}
		if payload.Files[FileName].Content != `{"version":1}` {
			t.Errorf("unexpected content %q", payload.Files[FileName].Content)
		}

		json.NewEncoder(w).Encode(map[string]string{"id": "abc123", "html_url": "https://gist.github.com/abc123"})
	}))
	defer server.Close()

	c := testClient(server)
	id, err := c.Upload(context.Background(), "", []byte(`{"version":1}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.Upload(context.Background(), id, []byte(`{"version":1}`)); err != nil {
		t.Fatalf("update: %v", err)
	}

	want := []string{"POST /gists", "PATCH /gists/abc123"}
	if len(methods) != 2 || methods[0] != want[0] || methods[1] != want[1] {
		t.Errorf("requests = %v, want %v", methods, want)
	}
}

func TestUpload_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer server.Close()

	if _, err := testClient(server).Upload(context.Background(), "", []byte("{}")); err == nil {
		t.Error("expected error")
	}
}

func TestDownload(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gists/small":
			json.NewEncoder(w).Encode(map[string]any{
				"id":    "small",
				"files": map[string]any{FileName: map[string]any{"content": "inline"}},
			})
		case "/gists/big":
			json.NewEncoder(w).Encode(map[string]any{
				"id": "big",
				"files": map[string]any{FileName: map[string]any{
					"content": "partial", "truncated": true, "raw_url": server.URL + "/raw",
				}},
			})
		case "/raw":
			w.Write([]byte("full content"))
		case "/gists/empty":
			json.NewEncoder(w).Encode(map[string]any{"id": "empty", "files": map[string]any{}})
		}
	}))
	defer server.Close()

	c := testClient(server)
	if got, err := c.Download(context.Background(), "small"); err != nil || string(got) != "inline" {
		t.Errorf("small = %q, %v", got, err)
	}
	if got, err := c.Download(context.Background(), "big"); err != nil || string(got) != "full content" {
		t.Errorf("big = %q, %v", got, err)
	}
	if _, err := c.Download(context.Background(), "empty"); err == nil {
		t.Error("expected missing file error")
	}
}

func TestUploadState_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	s, err := LoadState(path)
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if s.GistID != "" {
		t.Errorf("expected empty state, got %+v", s)
	}

	s.Record("abc", time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC))
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("state file mode = %v", info.Mode().Perm())
	}

	again, err := LoadState(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.GistID != "abc" || again.Uploads != 1 {
		t.Errorf("unexpected state %+v", again)
	}
}

func TestLoadState_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	os.WriteFile(path, []byte("{"), 0o600)
	if _, err := LoadState(path); err == nil {
		t.Error("expected parse error")
	}
}
