package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielab/magpie/pkg/config"
	"github.com/magpielab/magpie/pkg/types"
)

func sinkForServer(t *testing.T, server *httptest.Server) *Sink {
	t.Helper()
	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	return New(&config.SinkConfig{
		Host: parsed.Hostname(),
		Port: port,
		Path: "/ingest",
	})
}

func TestSendForwardsPosts(t *testing.T) {
	var got payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ingest", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := sinkForServer(t, server)
	posts := []*types.Post{
		{Platform: "stub", PlatformID: "a", DateCreated: time.Now()},
		{Platform: "stub", PlatformID: "b", DateCreated: time.Now()},
	}

	err := s.Send(context.Background(), "stub", "g_0", posts)
	require.NoError(t, err)
	assert.Equal(t, "stub", got.Platform)
	assert.Equal(t, "g_0", got.TaskName)
	assert.Len(t, got.Posts, 2)
}

func TestSendSkipsEmptyBatch(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	s := sinkForServer(t, server)
	require.NoError(t, s.Send(context.Background(), "stub", "g_0", nil))
	assert.False(t, called)
}

func TestSendReportsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := sinkForServer(t, server)
	err := s.Send(context.Background(), "stub", "g_0", []*types.Post{{PlatformID: "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNewWithoutHostReturnsNil(t *testing.T) {
	assert.Nil(t, New(nil))
	assert.Nil(t, New(&config.SinkConfig{}))
}
