package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scout-cli/internal/checkpoint"
	"github.com/sells-group/scout-cli/internal/config"
	"github.com/sells-group/scout-cli/internal/cost"
	"github.com/sells-group/scout-cli/internal/graph"
	"github.com/sells-group/scout-cli/internal/planner"
	"github.com/sells-group/scout-cli/internal/scout"
)

func newTestEnv(t *testing.T) *scoutEnv {
	t.Helper()
	dir := t.TempDir()

	c := &config.Config{}
	c.Scan.OutputDir = dir
	c.Scan.MaxWaves = 1
	cfg = c

	st, err := graph.NewSQLite(filepath.Join(dir, "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	criteria := &config.Criteria{
		Regions:    []config.Region{{Name: "Idaho", Localities: []string{"Boise"}}},
		Categories: []config.Category{{Key: "gaming", Label: "Gaming"}},
	}
	sink := checkpoint.New(filepath.Join(dir, "checkpoint.json"), true)
	engine := cost.NewEngine(cost.DefaultConfig())
	sc := scout.New(c, criteria, nil, planner.New(nil), nil, nil, nil, engine, st, sink, nil)

	return &scoutEnv{Store: st, Scout: sc, Sink: sink, Cost: engine, Criteria: criteria}
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(newRouter(context.Background(), env))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_StatusAndResults(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(newRouter(context.Background(), env))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Running bool `json:"running"`
		Graph   any  `json:"graph"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.False(t, status.Running)
	assert.NotNil(t, status.Graph)

	resp2, err := http.Get(srv.URL + "/api/results")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestRouter_CheckpointNonePending(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(newRouter(context.Background(), env))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/checkpoint")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["pending"])
}

func TestRouter_RespondWithoutPendingConflicts(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(newRouter(context.Background(), env))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/checkpoint/respond", "application/json",
		strings.NewReader(`{"decision":"continue"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRouter_StopIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(newRouter(context.Background(), env))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/scan/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, env.Scout.Running())
}
