package parser

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielab/magpie/pkg/types"
)

func TestParseSingleTask(t *testing.T) {
	payload := []byte(`{
		"task_name": "climate_en",
		"platform": "stub",
		"collection_config": {"query": "climate", "limit": 50, "language": "en", "custom_flag": true},
		"transient": true
	}`)

	p := &Parser{}
	tasks, err := p.ParseData(payload)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	task := tasks[0]
	assert.Equal(t, "climate_en", task.TaskName)
	assert.Equal(t, "stub", task.Platform)
	assert.Equal(t, types.TaskStatusInit, task.Status)
	assert.Equal(t, "climate", task.CollectionConfig.Query)
	assert.Equal(t, 50, task.CollectionConfig.Limit)
	assert.Equal(t, "en", task.CollectionConfig.Language)
	assert.Equal(t, true, task.CollectionConfig.Extra["custom_flag"])
	assert.True(t, task.Transient)
	assert.False(t, task.Test)
}

func TestParseRejectsUnknownShape(t *testing.T) {
	payload := []byte(`{"task_nam": "typo", "platform": "stub"}`)

	p := &Parser{}
	_, err := p.ParseData(payload)
	require.Error(t, err)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Error(t, parseErr.SingleErr)
	assert.Error(t, parseErr.GroupErr)
}

func TestParseTaskNameTooLong(t *testing.T) {
	payload := []byte(fmt.Sprintf(`{
		"task_name": %q,
		"platform": "stub",
		"collection_config": {"query": "x"}
	}`, "a_name_that_is_far_longer_than_fifty_characters_in_total_length"))

	p := &Parser{}
	_, err := p.ParseData(payload)
	require.Error(t, err)
}

func TestExpandGroupTimeGridAndParams(t *testing.T) {
	payload := []byte(`{
		"platform": "stub",
		"group_prefix": "g",
		"static_params": {"query": "election", "limit": 100},
		"variable_params": {"language": ["en", "de"]},
		"time_config": {
			"start": "2024-01-01T00:00:00Z",
			"end": "2024-01-03T00:00:00Z",
			"interval": {"days": 1}
		}
	}`)

	p := &Parser{}
	tasks, err := p.ParseData(payload)
	require.NoError(t, err)
	require.Len(t, tasks, 6)

	expected := []struct {
		name string
		from string
		to   string
		lang string
	}{
		{"g_0", "2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z", "en"},
		{"g_1", "2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z", "de"},
		{"g_2", "2024-01-02T00:00:00Z", "2024-01-03T00:00:00Z", "en"},
		{"g_3", "2024-01-02T00:00:00Z", "2024-01-03T00:00:00Z", "de"},
		{"g_4", "2024-01-03T00:00:00Z", "2024-01-04T00:00:00Z", "en"},
		{"g_5", "2024-01-03T00:00:00Z", "2024-01-04T00:00:00Z", "de"},
	}
	for i, want := range expected {
		task := tasks[i]
		assert.Equal(t, want.name, task.TaskName)
		assert.Equal(t, want.from, task.CollectionConfig.FromTime)
		assert.Equal(t, want.to, task.CollectionConfig.ToTime)
		assert.Equal(t, want.lang, task.CollectionConfig.Language)
		assert.Equal(t, "election", task.CollectionConfig.Query)
		assert.Equal(t, 100, task.CollectionConfig.Limit)
	}
}

func TestExpandParamOrderFollowsDocument(t *testing.T) {
	payload := []byte(`{
		"platform": "stub",
		"group_prefix": "p",
		"static_params": {"query": "q"},
		"variable_params": {"language": ["en", "de"], "location_base": ["berlin", "paris"]},
		"time_config": {
			"start": "2024-01-01T00:00:00Z",
			"end": "2024-01-01T00:00:00Z",
			"interval": {"hours": 6}
		}
	}`)

	p := &Parser{}
	tasks, err := p.ParseData(payload)
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	got := make([][2]string, 0, 4)
	for _, task := range tasks {
		got = append(got, [2]string{task.CollectionConfig.Language, task.CollectionConfig.LocationBase})
	}
	assert.Equal(t, [][2]string{
		{"en", "berlin"},
		{"en", "paris"},
		{"de", "berlin"},
		{"de", "paris"},
	}, got)
}

func TestExpandMultiPlatformSharesNames(t *testing.T) {
	payload := []byte(`{
		"platform": ["stub", "stub2"],
		"group_prefix": "mp",
		"static_params": {"query": "q"},
		"time_config": {
			"start": "2024-01-01T00:00:00Z",
			"end": "2024-01-02T00:00:00Z",
			"interval": {"days": 1}
		}
	}`)

	p := &Parser{}
	tasks, err := p.ParseData(payload)
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	byPlatform := map[string][]string{}
	for _, task := range tasks {
		byPlatform[task.Platform] = append(byPlatform[task.Platform], task.TaskName)
	}
	assert.Equal(t, []string{"mp_0", "mp_1"}, byPlatform["stub"])
	assert.Equal(t, []string{"mp_0", "mp_1"}, byPlatform["stub2"])

	// Copies must be independent.
	tasks[0].CollectionConfig.Query = "mutated"
	assert.Equal(t, "q", tasks[2].CollectionConfig.Query)
}

func TestExpandMultiPlatformCopiesAreDeep(t *testing.T) {
	payload := []byte(`{
		"platform": ["stub", "stub2"],
		"group_prefix": "dp",
		"static_params": {
			"query": "q",
			"custom": "original",
			"test_data": [{"id": "x"}]
		},
		"time_config": {
			"start": "2024-01-01T00:00:00Z",
			"end": "2024-01-01T00:00:00Z",
			"interval": {"days": 1}
		}
	}`)

	p := &Parser{}
	tasks, err := p.ParseData(payload)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	tasks[0].CollectionConfig.Extra["custom"] = "mutated"
	tasks[0].CollectionConfig.TestData[0]["id"] = "mutated"

	assert.Equal(t, "original", tasks[1].CollectionConfig.Extra["custom"])
	assert.Equal(t, "x", tasks[1].CollectionConfig.TestData[0]["id"])
}

func TestExpandTruncateOverflow(t *testing.T) {
	payload := []byte(`{
		"platform": "stub",
		"group_prefix": "tr",
		"static_params": {"query": "q"},
		"time_config": {
			"start": "2024-01-01T00:00:00Z",
			"end": "2024-01-02T12:00:00Z",
			"interval": {"days": 1},
			"truncate_overflow": true
		}
	}`)

	p := &Parser{}
	tasks, err := p.ParseData(payload)
	require.NoError(t, err)

	// Jan 2's window would end past Jan 2 12:00, so only Jan 1 survives.
	require.Len(t, tasks, 1)
	assert.Equal(t, "2024-01-02T00:00:00Z", tasks[0].CollectionConfig.ToTime)
}

func TestExpandTimespanNarrowsWindow(t *testing.T) {
	payload := []byte(`{
		"platform": "stub",
		"group_prefix": "ts",
		"static_params": {"query": "q"},
		"time_config": {
			"start": "2024-01-01T00:00:00Z",
			"end": "2024-01-01T00:00:00Z",
			"interval": {"days": 1},
			"timespan": {"hours": 6}
		}
	}`)

	p := &Parser{}
	tasks, err := p.ParseData(payload)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// Window covers the final 6 hours of the interval.
	assert.Equal(t, "2024-01-01T18:00:00Z", tasks[0].CollectionConfig.FromTime)
	assert.Equal(t, "2024-01-02T00:00:00Z", tasks[0].CollectionConfig.ToTime)
}

func TestExpandClampToSameDay(t *testing.T) {
	payload := []byte(`{
		"platform": "stub",
		"group_prefix": "cl",
		"static_params": {"query": "q"},
		"time_config": {
			"start": "2024-01-01T18:00:00Z",
			"end": "2024-01-01T18:00:00Z",
			"interval": {"hours": 12},
			"clamp_to_same_day": true
		}
	}`)

	p := &Parser{}
	tasks, err := p.ParseData(payload)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "2024-01-02T00:00:00Z", tasks[0].CollectionConfig.ToTime)
}

func TestExpandForceNewIndex(t *testing.T) {
	payload := []byte(`{
		"platform": "stub",
		"group_prefix": "fi",
		"static_params": {"query": "q"},
		"time_config": {
			"start": "2024-01-01T00:00:00Z",
			"end": "2024-01-02T00:00:00Z",
			"interval": {"days": 1}
		},
		"force_new_index": true
	}`)

	p := &Parser{
		ResolveIndex: func(platform, prefix string) (int, error) {
			require.Equal(t, "stub", platform)
			require.Equal(t, "fi", prefix)
			return 7, nil
		},
	}
	tasks, err := p.ParseData(payload)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "fi_7", tasks[0].TaskName)
	assert.Equal(t, "fi_8", tasks[1].TaskName)
}

func TestParseListMixesTasksAndGroups(t *testing.T) {
	payload := []byte(`[
		{
			"task_name": "solo",
			"platform": "stub",
			"collection_config": {"query": "q"}
		},
		{
			"platform": "stub",
			"group_prefix": "lg",
			"static_params": {"query": "q"},
			"time_config": {
				"start": "2024-01-01T00:00:00Z",
				"end": "2024-01-02T00:00:00Z",
				"interval": {"days": 1}
			}
		}
	]`)

	p := &Parser{}
	tasks, err := p.ParseData(payload)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "solo", tasks[0].TaskName)
	assert.Equal(t, "lg_0", tasks[1].TaskName)
	assert.Equal(t, "lg_1", tasks[2].TaskName)
}

func TestExpandGroupTestDataPassThrough(t *testing.T) {
	payload := []byte(`{
		"platform": "stub",
		"group_prefix": "td",
		"test": true,
		"test_data": [{"id": "a"}, {"id": "b"}],
		"static_params": {"query": "q"},
		"time_config": {
			"start": "2024-01-01T00:00:00Z",
			"end": "2024-01-01T00:00:00Z",
			"interval": {"days": 1}
		}
	}`)

	p := &Parser{}
	tasks, err := p.ParseData(payload)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Len(t, tasks[0].CollectionConfig.TestData, 2)
	assert.Equal(t, "a", tasks[0].CollectionConfig.TestData[0]["id"])
	assert.True(t, tasks[0].Test)
}
