package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(filepath.Join(t.TempDir(), "quotas.json"))
}

func TestLoadMissingFileYieldsEmpty(t *testing.T) {
	r := testRegistry(t)

	halts, err := r.Load()
	require.NoError(t, err)
	assert.Empty(t, halts)

	_, ok, err := r.Get("stub")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreAndGetRoundTrip(t *testing.T) {
	r := testRegistry(t)

	releaseAt := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, r.Store("stub", releaseAt))

	release, ok, err := r.Get("stub")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, releaseAt.Unix(), release.Unix())

	// The file holds plain epoch seconds, readable by external tools.
	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	var raw map[string]int64
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, releaseAt.Unix(), raw["stub"])
}

func TestRemoveClearsEntry(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.Store("stub", time.Now().Add(time.Hour)))
	require.NoError(t, r.Store("other", time.Now().Add(2*time.Hour)))

	require.NoError(t, r.Remove("stub"))

	_, ok, err := r.Get("stub")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = r.Get("other")
	require.NoError(t, err)
	assert.True(t, ok)

	// Removing an absent entry is a no-op.
	require.NoError(t, r.Remove("stub"))
}

func TestStorePicksUpExternalEdits(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Store("stub", time.Now().Add(time.Hour)))

	// An operator edits the file directly between two operations.
	edited := map[string]int64{"manual": time.Now().Add(30 * time.Minute).Unix()}
	data, err := json.Marshal(edited)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(r.Path(), data, 0o644))

	_, ok, err := r.Get("stub")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = r.Get("manual")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentStoresKeepAllHalts(t *testing.T) {
	r := testRegistry(t)
	releaseAt := time.Now().Add(time.Hour)

	// Platform managers halt and release in parallel during a pass; no
	// entry may be lost to an overlapping load-modify-write.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Store(fmt.Sprintf("platform-%d", i), releaseAt))
		}()
	}
	wg.Wait()

	halts, err := r.Load()
	require.NoError(t, err)
	require.Len(t, halts, 16)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Remove(fmt.Sprintf("platform-%d", i)))
		}()
	}
	wg.Wait()

	halts, err = r.Load()
	require.NoError(t, err)
	assert.Len(t, halts, 8)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Store("stub", time.Now().Add(time.Hour)))

	entries, err := os.ReadDir(filepath.Dir(r.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(r.Path()), entries[0].Name())
}
