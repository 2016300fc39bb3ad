// Package store persists the identity session to a JSON document in the
// user config directory. It is pure data access: no protocol logic, no
// token validation beyond structural completeness.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/seventhstretch/mlbv/internal/auth"
)

// ErrIncomplete is returned by Save when the credentials are missing either
// token. A half-formed session must never reach disk.
var ErrIncomplete = errors.New("refusing to store incomplete credentials")

// Store reads and writes the credential document at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger
}

// New creates a store writing to the given path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the location of the credential document.
func (s *Store) Path() string { return s.path }

// Load reads the stored credentials. A missing file means "not logged in"
// and returns (nil, nil). A corrupt or truncated file is treated the same
// way: the login flow re-runs rather than the process crashing.
func (s *Store) Load() (*auth.Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var creds auth.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		s.logger.Warn("stored session is unreadable; treating as logged out", "path", s.path)
		return nil, nil
	}
	if !creds.Complete() {
		s.logger.Warn("stored session is incomplete; treating as logged out", "path", s.path)
		return nil, nil
	}

	return &creds, nil
}

// Save writes the credentials atomically: the document is written to a
// temporary file in the same directory and renamed into place, so an
// interrupted login never corrupts a previously valid session.
func (s *Store) Save(creds *auth.Credentials) error {
	if !creds.Complete() {
		return ErrIncomplete
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set session file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	s.logger.Debug("session stored", "path", s.path)
	return nil
}

// Clear removes the stored session. Clearing an absent session is not an
// error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
