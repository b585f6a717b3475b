package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielab/magpie/pkg/adapter"
	"github.com/magpielab/magpie/pkg/config"
	"github.com/magpielab/magpie/pkg/types"
)

func init() {
	// A second stub platform for cross-platform tests.
	adapter.Register("stub2", adapter.NewStub)
	// A platform whose collections block until canceled.
	adapter.Register("slowstub", func(cfg adapter.Config) (adapter.ClientAdapter, error) {
		inner, err := adapter.NewStub(cfg)
		if err != nil {
			return nil, err
		}
		return &blockingAdapter{ClientAdapter: inner}, nil
	})
}

type blockingAdapter struct {
	adapter.ClientAdapter
}

func (b *blockingAdapter) ExecuteTask(ctx context.Context, task *types.Task) (*types.CollectionResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func testConfig(t *testing.T, platforms ...string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	clients := map[string]config.ClientConfig{}
	for _, platform := range platforms {
		clients[platform] = config.ClientConfig{
			DBConfig: config.DBConfig{
				Connection: config.DBConnection{
					Kind:   "sqlite",
					DBPath: filepath.Join(dir, "dbs", platform+".sqlite"),
				},
			},
			Progress: true,
		}
	}
	return &config.Config{
		DataDir:          dir,
		TaskDir:          filepath.Join(dir, "tasks"),
		ProcessedTaskDir: filepath.Join(dir, "processed"),
		LoopInterval:     60,
		Clients:          clients,
	}
}

func submitTask(t *testing.T, o *Orchestrator, name, platform string, limit int) {
	t.Helper()
	payload := fmt.Sprintf(`{
		"task_name": %q,
		"platform": %q,
		"collection_config": {
			"query": "climate",
			"limit": %d,
			"from_time": "2023-01-01T00:00:00Z",
			"to_time": "2023-01-02T00:00:00Z"
		}
	}`, name, platform, limit)
	submission, err := o.TaskManager().Submit([]byte(payload))
	require.NoError(t, err)
	require.True(t, submission.FullyAccepted())
}

func TestCollectSingleTaskHappyPath(t *testing.T) {
	o, err := New(testConfig(t, "stub"))
	require.NoError(t, err)
	defer o.Close()

	submitTask(t, o, "t1", "stub", 3)

	reports, err := o.Collect(context.Background())
	require.NoError(t, err)
	require.Contains(t, reports, "stub")
	assert.Equal(t, []string{"t1"}, reports["stub"].TaskNames)
	assert.Equal(t, 3, reports["stub"].PostsAdded)

	m, _ := o.Manager("stub")
	task, err := m.Store().GetTaskByName("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusDone, task.Status)
	assert.Equal(t, 3, task.FoundItems)
	assert.Equal(t, 3, task.AddedItems)

	total, err := m.Store().CountPosts()
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestCollectRerunDeduplicates(t *testing.T) {
	o, err := New(testConfig(t, "stub"))
	require.NoError(t, err)
	defer o.Close()

	submitTask(t, o, "t1", "stub", 3)
	_, err = o.Collect(context.Background())
	require.NoError(t, err)

	// Resubmitting the same name inserts nothing.
	payload := `{
		"task_name": "t1",
		"platform": "stub",
		"collection_config": {"query": "climate", "limit": 3}
	}`
	submission, err := o.TaskManager().Submit([]byte(payload))
	require.NoError(t, err)
	assert.Empty(t, submission.Added["stub"])
	assert.False(t, submission.FullyAccepted())

	_, err = o.Collect(context.Background())
	require.NoError(t, err)

	m, _ := o.Manager("stub")
	total, err := m.Store().CountPosts()
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestStartupRecoversRunningTasks(t *testing.T) {
	cfg := testConfig(t, "stub")

	o, err := New(cfg)
	require.NoError(t, err)
	submitTask(t, o, "stuck", "stub", 1)

	// Simulate a crash mid-collection.
	m, _ := o.Manager("stub")
	task, err := m.Store().GetTaskByName("stuck")
	require.NoError(t, err)
	require.NoError(t, m.Store().UpdateTaskStatus(task.ID, types.TaskStatusRunning))
	require.NoError(t, o.Close())

	restarted, err := New(cfg)
	require.NoError(t, err)
	defer restarted.Close()

	m2, _ := restarted.Manager("stub")
	recovered, err := m2.Store().GetTaskByName("stuck")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusInit, recovered.Status)
}

func TestProgressTasksRunsPlatformsConcurrently(t *testing.T) {
	o, err := New(testConfig(t, "stub", "stub2"))
	require.NoError(t, err)
	defer o.Close()

	submitTask(t, o, "a", "stub", 2)
	submitTask(t, o, "b", "stub2", 4)

	reports, err := o.ProgressTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, 2, reports["stub"].PostsAdded)
	assert.Equal(t, 4, reports["stub2"].PostsAdded)
}

func TestStatusReportsAllPlatforms(t *testing.T) {
	o, err := New(testConfig(t, "stub", "stub2"))
	require.NoError(t, err)
	defer o.Close()

	status := o.Status()
	require.Len(t, status, 2)
	for platform, s := range status {
		assert.Equal(t, types.RunStateIdle, s.RunState, platform)
		assert.True(t, s.Active, platform)
	}

	entries, err := o.Databases()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"stub", "stub2"}, []string{entries[0].Platform, entries[1].Platform})
}

func TestAbortTasksCancelsOverlappingPasses(t *testing.T) {
	o, err := New(testConfig(t, "slowstub"))
	require.NoError(t, err)
	defer o.Close()

	submitTask(t, o, "blocked", "slowstub", 1)

	done := make(chan error, 1)
	go func() {
		_, err := o.ProgressTasks(context.Background())
		done <- err
	}()

	m, _ := o.Manager("slowstub")
	require.Eventually(t, func() bool {
		return m.RunState() == types.RunStateRunning
	}, 5*time.Second, 10*time.Millisecond)

	// A second pass while the platform is busy finishes immediately; it
	// must not disarm the first pass's cancellation.
	_, err = o.ProgressTasks(context.Background())
	require.NoError(t, err)

	o.AbortTasks()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("first pass was not canceled")
	}

	// The canceled task is back in the queue for the next pass.
	task, err := m.Store().GetTaskByName("blocked")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusInit, task.Status)
}

func TestCollectDrainsTaskDirectory(t *testing.T) {
	cfg := testConfig(t, "stub")
	cfg.MoveProcessedTasks = true

	o, err := New(cfg)
	require.NoError(t, err)
	defer o.Close()

	require.NoError(t, cfg.EnsureDirs())
	payload := `{
		"task_name": "dropped",
		"platform": "stub",
		"collection_config": {"query": "q", "limit": 1}
	}`
	path := filepath.Join(cfg.TaskDir, "dropped.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	reports, err := o.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dropped"}, reports["stub"].TaskNames)
}
