package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielab/magpie/pkg/types"
)

func openTestMeta(t *testing.T) (*MetaStore, string) {
	t.Helper()
	dir := t.TempDir()
	meta, err := OpenMeta(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	return meta, dir
}

func TestAddDatabaseIsIdempotent(t *testing.T) {
	meta, dir := openTestMeta(t)

	first := filepath.Join(dir, "stub.sqlite")
	require.NoError(t, meta.AddDatabase("stub", first, true))

	// Re-registering keeps the original entry.
	require.NoError(t, meta.AddDatabase("stub", filepath.Join(dir, "other.sqlite"), false))

	entries, err := meta.ListDatabases()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, first, entries[0].DBPath)
	assert.True(t, entries[0].IsDefault)
}

func TestListDatabasesSorted(t *testing.T) {
	meta, dir := openTestMeta(t)

	for _, platform := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, meta.AddDatabase(platform, filepath.Join(dir, platform+".sqlite"), true))
	}

	entries, err := meta.ListDatabases()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "alpha", entries[0].Platform)
	assert.Equal(t, "mid", entries[1].Platform)
	assert.Equal(t, "zeta", entries[2].Platform)
}

func TestGeneralStatusReportsMissingStores(t *testing.T) {
	meta, dir := openTestMeta(t)

	existing := filepath.Join(dir, "stub.sqlite")
	s, err := OpenSQLite("stub", existing)
	require.NoError(t, err)
	task := storeTask("a")
	_, err = s.AddTasks([]*types.Task{task})
	require.NoError(t, err)
	_, err = s.InsertPosts(&types.CollectionResult{
		Task:           task,
		Posts:          []*types.Post{storePost(task.ID, "p1")},
		CollectedItems: 1,
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, meta.AddDatabase("stub", existing, true))
	require.NoError(t, meta.AddDatabase("ghost", filepath.Join(dir, "missing.sqlite"), true))

	rows, err := meta.GeneralStatus(true)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byPlatform := map[string]types.StatusRow{}
	for _, row := range rows {
		byPlatform[row.Platform] = row
	}

	assert.NotEmpty(t, byPlatform["ghost"].Err)
	assert.Empty(t, byPlatform["stub"].Err)
	assert.Equal(t, 1, byPlatform["stub"].TotalPosts)
	assert.Greater(t, byPlatform["stub"].SizeBytes, int64(0))
	assert.Equal(t, 1, byPlatform["stub"].StateCounts[types.TaskStatusDone])
}
