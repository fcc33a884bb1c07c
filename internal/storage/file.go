package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"nicorelay/internal/eventlog"
)

// FileStore keeps the client state in a single JSON file, the closest
// server-less analogue to the browser's local storage.
type FileStore struct {
	path string
}

type fileState struct {
	AuthToken  string          `json:"auth_token,omitempty"`
	ClientLogs []eventlog.Entry `json:"client_logs"`
}

var _ eventlog.Store = (*FileStore)(nil)
var _ TokenStore = (*FileStore)(nil)

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Load(_ context.Context) ([]eventlog.Entry, error) {
	st, err := f.read()
	if err != nil {
		return nil, err
	}
	return st.ClientLogs, nil
}

func (f *FileStore) Save(_ context.Context, entries []eventlog.Entry) error {
	st, err := f.read()
	if err != nil {
		st = fileState{}
	}
	st.ClientLogs = entries
	return f.write(st)
}

func (f *FileStore) GetToken(_ context.Context) (string, error) {
	st, err := f.read()
	if err != nil {
		return "", err
	}
	return st.AuthToken, nil
}

func (f *FileStore) SetToken(_ context.Context, token string) error {
	st, err := f.read()
	if err != nil {
		st = fileState{}
	}
	st.AuthToken = token
	return f.write(st)
}

func (f *FileStore) ClearToken(ctx context.Context) error {
	return f.SetToken(ctx, "")
}

func (f *FileStore) read() (fileState, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileState{}, nil
		}
		return fileState{}, fmt.Errorf("read state file: %w", err)
	}
	var st fileState
	if err := json.Unmarshal(raw, &st); err != nil {
		return fileState{}, fmt.Errorf("parse state file: %w", err)
	}
	return st, nil
}

func (f *FileStore) write(st fileState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
