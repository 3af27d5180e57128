// Package crypto seals audio artifacts with an authenticated cipher whose key
// lives in the secret store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sjzar/voicelog/internal/errors"
)

const (
	CipherAESGCM    = "aes-gcm"
	CipherXChaCha20 = "xchacha20"

	DefaultKeyName = "audio-encryption-key"
	KeySize        = 32
)

// SecretStore is the subset of the secret store the crypto store needs.
type SecretStore interface {
	GetOrCreate(name string, generate func() ([]byte, error)) ([]byte, bool, error)
}

// Config selects the cipher and the secret name of the key.
type Config struct {
	Cipher  string
	KeyName string
}

// Store encrypts and decrypts byte buffers with one process-lifetime key.
// The key is resolved on first use; a failed resolution is retried on the next call.
type Store struct {
	secrets SecretStore
	cfg     Config

	mu   sync.Mutex
	aead cipher.AEAD
}

func New(secrets SecretStore, cfg Config) (*Store, error) {
	cfg.Cipher = strings.ToLower(strings.TrimSpace(cfg.Cipher))
	if cfg.Cipher == "" {
		cfg.Cipher = CipherAESGCM
	}
	if cfg.Cipher != CipherAESGCM && cfg.Cipher != CipherXChaCha20 {
		return nil, fmt.Errorf("unsupported cipher %q", cfg.Cipher)
	}
	if cfg.KeyName == "" {
		cfg.KeyName = DefaultKeyName
	}
	return &Store{secrets: secrets, cfg: cfg}, nil
}

func (s *Store) aeadCipher() (cipher.AEAD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aead != nil {
		return s.aead, nil
	}

	key, created, err := s.secrets.GetOrCreate(s.cfg.KeyName, generateKey)
	if err != nil {
		return nil, errors.Crypto(err, "resolve encryption key")
	}
	if len(key) != KeySize {
		return nil, errors.Crypto(nil, "encryption key %s has %d bytes, want %d", s.cfg.KeyName, len(key), KeySize)
	}
	if created {
		log.Info().Str("key", s.cfg.KeyName).Msg("generated new encryption key")
	}
	if err := lockMemory(key); err != nil {
		log.Debug().Err(err).Msg("mlock encryption key")
	}

	aead, err := newAEAD(s.cfg.Cipher, key)
	if err != nil {
		return nil, errors.Crypto(err, "init %s cipher", s.cfg.Cipher)
	}
	s.aead = aead
	return aead, nil
}

func newAEAD(name string, key []byte) (cipher.AEAD, error) {
	switch name {
	case CipherXChaCha20:
		return chacha20poly1305.NewX(key)
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
}

func generateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt returns nonce || ciphertext || tag.
func (s *Store) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := s.aeadCipher()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Crypto(err, "generate nonce")
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a buffer produced by Encrypt. Tampered input, a different key
// or a truncated buffer all fail; garbage is never returned.
func (s *Store) Decrypt(sealed []byte) ([]byte, error) {
	aead, err := s.aeadCipher()
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.Crypto(nil, "ciphertext too short (%d bytes)", len(sealed))
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, errors.Crypto(err, "open sealed box")
	}
	return plaintext, nil
}
