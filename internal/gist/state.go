package gist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// UploadState remembers which gist the Messages artifact lives in.
type UploadState struct {
	GistID       string    `json:"gist_id"`
	LastUploadAt time.Time `json:"last_upload_at"`
	Uploads      int       `json:"uploads"`

	path string // not serialized
}

// LoadState reads the state file at path, or returns an empty state if it
// does not exist yet.
func LoadState(path string) (*UploadState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &UploadState{path: path}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s UploadState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = path
	return &s, nil
}

// Record notes a successful upload to id at t.
func (s *UploadState) Record(id string, t time.Time) {
	s.GistID = id
	s.LastUploadAt = t.UTC()
	s.Uploads++
}

// Save persists the state to disk.
func (s *UploadState) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o600)
}
