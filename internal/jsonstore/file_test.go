package jsonstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdatePreservesUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"channels":{"general":123},"verified_users":[]}`), 0o644))

	f := Open(path)
	require.NoError(t, f.Update(func(d Document) error {
		return d.Encode("verified_users", []map[string]string{{"user_id": "1", "habbo": "Alice"}})
	}))

	var channels map[string]int
	require.NoError(t, f.View(func(d Document) error {
		ok, err := d.Decode("channels", &channels)
		require.True(t, ok)
		return err
	}))
	require.Equal(t, 123, channels["general"])
}

func TestMissingFileIsEmpty(t *testing.T) {
	f := Open(filepath.Join(t.TempDir(), "nested", "none.json"))
	require.NoError(t, f.View(func(d Document) error {
		require.Empty(t, d)
		return nil
	}))
	// first write creates parent directories
	require.NoError(t, f.Update(func(d Document) error { return d.Encode("k", 1) }))
	_, err := os.Stat(f.Path())
	require.NoError(t, err)
}

func TestFailedUpdateWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	f := Open(path)
	boom := errors.New("boom")
	err := f.Update(func(d Document) error {
		_ = d.Encode("k", 1)
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestCorruptFileIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1,2`), 0o644))
	err := Open(path).Update(func(Document) error { return nil })
	require.ErrorIs(t, err, ErrCorrupt)

	// the corrupt document is left untouched for an operator to inspect
	b, _ := os.ReadFile(path)
	require.Equal(t, "[1,2", string(b))
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.json")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// separate handles on the same path share the writer lock
			f := Open(path)
			err := f.Update(func(d Document) error {
				var keys map[string]bool
				if _, err := d.Decode("keys", &keys); err != nil {
					return err
				}
				if keys == nil {
					keys = map[string]bool{}
				}
				keys[fmt.Sprint(i)] = true
				return d.Encode("keys", keys)
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	var keys map[string]bool
	require.NoError(t, Open(path).View(func(d Document) error {
		_, err := d.Decode("keys", &keys)
		return err
	}))
	require.Len(t, keys, 20)
}
