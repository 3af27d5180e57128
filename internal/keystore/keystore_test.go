package keystore

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get("token")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put("token", []byte("abc")))
	v, err := s.Get("token")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), v)

	require.NoError(t, s.Delete("token"))
	require.NoError(t, s.Delete("token"))
	_, err = s.Get("token")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSecretFilePermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "secrets")
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("v")))

	info, err := os.Stat(filepath.Join(dir, "k"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestInvalidName(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.Error(t, s.Put("../escape", []byte("x")))
}

func TestGetOrCreateConcurrent(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	results := make([][]byte, workers)
	created := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, c, err := s.GetOrCreate("data-key", func() ([]byte, error) {
				b := make([]byte, 32)
				_, err := rand.Read(b)
				return b, err
			})
			assert.NoError(t, err)
			results[i] = v
			created[i] = c
		}(i)
	}
	wg.Wait()

	creators := 0
	for i := range results {
		require.True(t, bytes.Equal(results[0], results[i]), "worker %d saw a different key", i)
		if created[i] {
			creators++
		}
	}
	require.Equal(t, 1, creators)

	stored, err := s.Get("data-key")
	require.NoError(t, err)
	require.Equal(t, results[0], stored)
}
