// Package keystore is a file-backed secret store used for the data key and
// the remote transcription credential.
package keystore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("secret not found")

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store keeps one secret per file under dir. Values are base64 encoded on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open prepares dir with owner-only permissions.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create secret dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fmt.Errorf("chmod secret dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Get returns the secret or ErrNotFound.
func (s *Store) Get(name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read secret %s: %w", name, err)
	}
	value, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", name, err)
	}
	return value, nil
}

// Put replaces the secret unconditionally.
func (s *Store) Put(name string, value []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := s.writeTemp(name, value)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store secret %s: %w", name, err)
	}
	return nil
}

// Delete removes the secret. Deleting a missing secret is not an error.
func (s *Store) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete secret %s: %w", name, err)
	}
	return nil
}

// GetOrCreate returns the stored secret, generating and storing one if absent.
// The store step is a hard link of a fully written temp file, which fails when
// the name already exists; concurrent callers (goroutines or processes) all
// end up with the first value that was linked into place.
func (s *Store) GetOrCreate(name string, generate func() ([]byte, error)) ([]byte, bool, error) {
	if value, err := s.Get(name); err == nil {
		return value, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	p, err := s.path(name)
	if err != nil {
		return nil, false, err
	}
	value, err := generate()
	if err != nil {
		return nil, false, fmt.Errorf("generate secret %s: %w", name, err)
	}

	tmp, err := s.writeTemp(name, value)
	if err != nil {
		return nil, false, err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, p); err != nil {
		if os.IsExist(err) {
			existing, getErr := s.Get(name)
			return existing, false, getErr
		}
		return nil, false, fmt.Errorf("store secret %s: %w", name, err)
	}
	return value, true, nil
}

func (s *Store) writeTemp(name string, value []byte) (string, error) {
	f, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp secret: %w", err)
	}
	tmp := f.Name()
	cleanup := func(err error) (string, error) {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Chmod(0o600); err != nil {
		return cleanup(fmt.Errorf("chmod temp secret: %w", err))
	}
	if _, err := f.WriteString(base64.StdEncoding.EncodeToString(value)); err != nil {
		return cleanup(fmt.Errorf("write temp secret: %w", err))
	}
	if err := f.Sync(); err != nil {
		return cleanup(fmt.Errorf("sync temp secret: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close temp secret: %w", err)
	}
	return tmp, nil
}
