// Package artifact manages the on-disk encrypted audio artifacts and the
// private scratch directory used for transient plaintext.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Ext is the suffix of every encrypted session artifact.
const Ext = ".enc"

// Sealer encrypts and decrypts artifact contents.
type Sealer interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(sealed []byte) ([]byte, error)
}

// Manager owns <base>/audio (encrypted artifacts) and <base>/tmp (plaintext scratch).
type Manager struct {
	audioDir string
	tmpDir   string
	sealer   Sealer
}

func NewManager(baseDir string, sealer Sealer) (*Manager, error) {
	m := &Manager{
		audioDir: filepath.Join(baseDir, "audio"),
		tmpDir:   filepath.Join(baseDir, "tmp"),
		sealer:   sealer,
	}
	if err := os.MkdirAll(m.audioDir, 0o700); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	if err := os.MkdirAll(m.tmpDir, 0o700); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}
	return m, nil
}

func (m *Manager) AudioDir() string { return m.audioDir }
func (m *Manager) TempDir() string  { return m.tmpDir }

// NewName returns a fresh opaque artifact name.
func NewName() string {
	return uuid.NewString() + Ext
}

func (m *Manager) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || !strings.HasSuffix(name, Ext) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return filepath.Join(m.audioDir, name), nil
}

// Seal encrypts plaintext and writes it under a new artifact name.
func (m *Manager) Seal(plaintext []byte) (string, error) {
	sealed, err := m.sealer.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	name := NewName()
	if err := m.write(name, sealed); err != nil {
		return "", err
	}
	return name, nil
}

func (m *Manager) write(name string, data []byte) error {
	p, err := m.path(name)
	if err != nil {
		return err
	}
	tmp := p + ".writing"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit artifact: %w", err)
	}
	return nil
}

// Open decrypts the artifact into memory.
func (m *Manager) Open(name string) ([]byte, error) {
	p, err := m.path(name)
	if err != nil {
		return nil, err
	}
	sealed, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return m.sealer.Decrypt(sealed)
}

// DecryptToTemp decrypts the artifact into a new file in the private scratch
// directory. The caller owns the returned path and must remove it.
func (m *Manager) DecryptToTemp(name, ext string) (string, error) {
	plain, err := m.Open(name)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(m.tmpDir, "decrypted-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp plaintext: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(plain); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write temp plaintext: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close temp plaintext: %w", err)
	}
	return tmp, nil
}

// Remove deletes the artifact. A missing artifact is not an error.
func (m *Manager) Remove(name string) error {
	p, err := m.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether the artifact file is present.
func (m *Manager) Exists(name string) bool {
	p, err := m.path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// CleanTemp removes scratch files left behind by a previous crash.
func (m *Manager) CleanTemp() (int, error) {
	entries, err := os.ReadDir(m.tmpDir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(m.tmpDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
