package crypto

import (
	"bytes"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/keystore"
)

func newStore(t *testing.T, cipherName string) (*Store, *keystore.Store) {
	t.Helper()
	secrets, err := keystore.Open(t.TempDir())
	require.NoError(t, err)
	s, err := New(secrets, Config{Cipher: cipherName})
	require.NoError(t, err)
	return s, secrets
}

func TestRoundTrip(t *testing.T) {
	for _, c := range []string{CipherAESGCM, CipherXChaCha20} {
		t.Run(c, func(t *testing.T) {
			s, _ := newStore(t, c)
			for _, size := range []int{0, 1, 15, 16, 1024, 1 << 20} {
				plain := make([]byte, size)
				_, err := rand.Read(plain)
				require.NoError(t, err)

				sealed, err := s.Encrypt(plain)
				require.NoError(t, err)
				require.False(t, size > 0 && bytes.Contains(sealed, plain))

				got, err := s.Decrypt(sealed)
				require.NoError(t, err)
				require.True(t, bytes.Equal(plain, got), "size %d", size)
			}
		})
	}
}

func TestBitFlipAlwaysFails(t *testing.T) {
	s, _ := newStore(t, CipherAESGCM)
	sealed, err := s.Encrypt([]byte("the quick brown fox jumps over the lazy dog"))
	require.NoError(t, err)

	for i := 0; i < len(sealed); i++ {
		for bit := 0; bit < 8; bit++ {
			tampered := append([]byte(nil), sealed...)
			tampered[i] ^= 1 << bit
			_, err := s.Decrypt(tampered)
			require.Error(t, err, "byte %d bit %d", i, bit)
			require.True(t, errors.Is(err, errors.ErrCrypto))
		}
	}
}

func TestDecryptWithDifferentKeyFails(t *testing.T) {
	a, _ := newStore(t, CipherAESGCM)
	b, _ := newStore(t, CipherAESGCM)

	sealed, err := a.Encrypt([]byte("secret audio"))
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	require.ErrorIs(t, err, errors.ErrCrypto)
}

func TestTruncatedCiphertext(t *testing.T) {
	s, _ := newStore(t, CipherXChaCha20)
	_, err := s.Decrypt([]byte{1, 2, 3})
	require.ErrorIs(t, err, errors.ErrCrypto)
}

func TestKeyPersistsAcrossStores(t *testing.T) {
	secrets, err := keystore.Open(t.TempDir())
	require.NoError(t, err)

	first, err := New(secrets, Config{})
	require.NoError(t, err)
	sealed, err := first.Encrypt([]byte("hello"))
	require.NoError(t, err)

	second, err := New(secrets, Config{})
	require.NoError(t, err)
	plain, err := second.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, "hello", string(plain))
}

func TestConcurrentFirstUseSharesOneKey(t *testing.T) {
	secrets, err := keystore.Open(t.TempDir())
	require.NoError(t, err)

	stores := make([]*Store, 8)
	for i := range stores {
		stores[i], err = New(secrets, Config{})
		require.NoError(t, err)
	}

	sealed := make([][]byte, len(stores))
	var wg sync.WaitGroup
	for i, s := range stores {
		wg.Add(1)
		go func(i int, s *Store) {
			defer wg.Done()
			sealed[i], _ = s.Encrypt([]byte("x"))
		}(i, s)
	}
	wg.Wait()

	// every store must be able to open every other store's output
	for i := range stores {
		for j := range sealed {
			got, err := stores[i].Decrypt(sealed[j])
			require.NoError(t, err)
			require.Equal(t, "x", string(got))
		}
	}
}

func TestUnsupportedCipher(t *testing.T) {
	secrets, err := keystore.Open(t.TempDir())
	require.NoError(t, err)
	_, err = New(secrets, Config{Cipher: "rot13"})
	require.Error(t, err)
}
