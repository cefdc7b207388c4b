package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSession is returned by Load when no host has recorded a session.
var ErrNoSession = errors.New("no active session")

// Store persists the Session record of the running host.
type Store interface {
	Save(s *Session) error
	Load() (*Session, error) // returns ErrNoSession if none exists
	Update(fn func(s *Session)) error
	Delete() error
}

// diskStore keeps the record as JSON in the XDG data directory.
type diskStore struct {
	path string
}

// NewStore returns a Store backed by
// $XDG_DATA_HOME/tslive/session.json or ~/.local/share/tslive/session.json.
func NewStore() (Store, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &diskStore{path: filepath.Join(dir, "session.json")}, nil
}

// DataDir returns the tslive-specific XDG data directory.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "tslive"), nil
}

// Save writes s atomically: a temp file in the same directory is renamed
// over the previous record.
func (d *diskStore) Save(s *Session) (err error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), "session-*.json.tmp")
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save session: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err = os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load reads the record. Returns ErrNoSession if there is none.
func (d *diskStore) Load() (*Session, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &s, nil
}

// Update applies fn to the stored record and saves it.
func (d *diskStore) Update(fn func(s *Session)) error {
	s, err := d.Load()
	if err != nil {
		return err
	}
	fn(s)
	return d.Save(s)
}

// Delete removes the record. A missing record is not an error.
func (d *diskStore) Delete() error {
	if err := os.Remove(d.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
