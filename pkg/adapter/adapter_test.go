package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielab/magpie/pkg/types"
)

func newTestStub(t *testing.T) ClientAdapter {
	t.Helper()
	stub, err := New("stub", Config{})
	require.NoError(t, err)
	return stub
}

func TestRegistryKnowsStub(t *testing.T) {
	assert.Contains(t, Registered(), "stub")

	_, err := New("unregistered", Config{})
	require.Error(t, err)
}

func TestTransformConfigRejectsMissingQuery(t *testing.T) {
	stub := newTestStub(t)

	_, err := stub.TransformConfig(types.CollectConfig{})
	require.Error(t, err)

	var invalid *InvalidConfigError
	assert.True(t, errors.As(err, &invalid))
}

func TestTransformConfigRejectsBadTimes(t *testing.T) {
	stub := newTestStub(t)

	_, err := stub.TransformConfig(types.CollectConfig{
		Query:    "q",
		FromTime: "yesterday",
	})
	require.Error(t, err)

	var invalid *InvalidConfigError
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, invalid.Reason, "from_time")
}

func TestSerializableProjectionIsFixedPoint(t *testing.T) {
	stub := newTestStub(t)

	cfg := types.CollectConfig{
		Query:    "climate",
		Limit:    5,
		FromTime: "2023-01-01T00:00:00Z",
		ToTime:   "2023-01-02T00:00:00Z",
		Language: "en",
	}

	first, err := stub.TransformConfigToSerializable(cfg)
	require.NoError(t, err)

	// Projecting the abstract equivalent of the projection yields
	// identical bytes: the projection is a one-step fixed point.
	var projected stubQuery
	require.NoError(t, json.Unmarshal(first, &projected))
	second, err := stub.TransformConfigToSerializable(types.CollectConfig{
		Query:    projected.Query,
		Limit:    projected.MaxItems,
		FromTime: projected.PublishedAfter,
		ToTime:   projected.PublishedBefore,
		Language: projected.Language,
	})
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestExecuteTaskSynthesizesDeterministicItems(t *testing.T) {
	stub := newTestStub(t)

	task := &types.Task{
		ID:       1,
		TaskName: "t",
		Platform: "stub",
		CollectionConfig: types.CollectConfig{
			Query:    "climate",
			Limit:    3,
			FromTime: "2023-01-01T00:00:00Z",
		},
	}

	first, err := stub.ExecuteTask(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, first.Posts, 3)
	assert.Equal(t, 3, first.CollectedItems)

	second, err := stub.ExecuteTask(context.Background(), task)
	require.NoError(t, err)

	// Same query, same ids: re-runs deduplicate to nothing downstream.
	for i := range first.Posts {
		assert.Equal(t, first.Posts[i].PlatformID, second.Posts[i].PlatformID)
	}
	assert.Equal(t, "climate:0", first.Posts[0].PlatformID)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), first.Posts[0].DateCreated)
}

func TestExecuteTaskServesTestData(t *testing.T) {
	stub := newTestStub(t)

	task := &types.Task{
		ID:       7,
		Platform: "stub",
		CollectionConfig: types.CollectConfig{
			TestData: []map[string]any{
				{"id": "x", "url": "stub://stub/x"},
				{"id": "y"},
			},
		},
	}

	result, err := stub.ExecuteTask(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, result.Posts, 2)
	assert.Equal(t, "x", result.Posts[0].PlatformID)
	assert.Equal(t, "stub://stub/x", result.Posts[0].PostURL)
	require.NotNil(t, result.Posts[0].CollectionTaskID)
	assert.Equal(t, int64(7), *result.Posts[0].CollectionTaskID)
}

func TestExecuteTaskHonorsCancellation(t *testing.T) {
	stub := newTestStub(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := &types.Task{
		Platform:         "stub",
		CollectionConfig: types.CollectConfig{Query: "q", Limit: 1},
	}
	_, err := stub.ExecuteTask(ctx, task)
	assert.ErrorIs(t, err, context.Canceled)
}
