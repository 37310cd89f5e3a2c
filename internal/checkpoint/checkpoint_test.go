package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwait_UnattendedContinuesImmediately(t *testing.T) {
	s := New("", true)

	done := make(chan Response, 1)
	go func() { done <- s.Await(context.Background(), "post-search", nil) }()

	select {
	case resp := <-done:
		assert.Equal(t, DecisionContinue, resp.Decision)
	case <-time.After(time.Second):
		t.Fatal("unattended checkpoint blocked")
	}
	assert.Nil(t, s.Pending())
}

func TestAwait_RespondContinue(t *testing.T) {
	s := New("", false)

	done := make(chan Response, 1)
	go func() {
		done <- s.Await(context.Background(), "post-queries", map[string]any{"count": 6})
	}()

	waitPending(t, s)
	snap := s.Pending()
	require.NotNil(t, snap)
	assert.Equal(t, "post-queries", snap.Name)
	assert.Contains(t, string(snap.Payload), `"count":6`)

	require.NoError(t, s.Respond(Response{Decision: DecisionContinue}))
	resp := <-done
	assert.Equal(t, DecisionContinue, resp.Decision)
	assert.Nil(t, s.Pending())
}

func TestAwait_ModifyReplacesQueries(t *testing.T) {
	s := New("", false)

	done := make(chan Response, 1)
	go func() { done <- s.Await(context.Background(), "post-queries", nil) }()
	waitPending(t, s)

	require.NoError(t, s.Respond(Response{
		Decision: DecisionModify,
		Queries:  []string{"boise film critics", "", "idaho movie reviewers"},
	}))
	resp := <-done
	assert.Equal(t, DecisionModify, resp.Decision)
	assert.Equal(t, []string{"boise film critics", "idaho movie reviewers"}, resp.Queries)
}

func TestAwait_CancellationSkips(t *testing.T) {
	s := New("", false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Response, 1)
	go func() { done <- s.Await(ctx, "post-search", nil) }()
	waitPending(t, s)

	cancel()
	select {
	case resp := <-done:
		assert.Equal(t, DecisionSkip, resp.Decision)
	case <-time.After(time.Second):
		t.Fatal("cancelled checkpoint blocked")
	}
	assert.Nil(t, s.Pending())
}

func TestRespond_NoPending(t *testing.T) {
	s := New("", false)
	err := s.Respond(Response{Decision: DecisionContinue})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing awaiting")
}

func TestRespond_UnknownDecision(t *testing.T) {
	s := New("", false)
	err := s.Respond(Response{Decision: "retry"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown decision")
}

func TestSnapshotPersistAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s := New(path, false)

	done := make(chan Response, 1)
	go func() { done <- s.Await(context.Background(), "post-triage", map[string]int{"pages": 12}) }()
	waitPending(t, s)

	// A fresh sink sees the persisted snapshot, as after a crash.
	other := New(path, false)
	snap, err := other.Replay()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "post-triage", snap.Name)
	assert.Contains(t, string(snap.Payload), `"pages": 12`)

	require.NoError(t, s.Respond(Response{Decision: DecisionContinue}))
	<-done

	// Resolved checkpoints leave no snapshot behind.
	snap, err = other.Replay()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestReplay_NoSnapshot(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.json"), false)
	snap, err := s.Replay()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func waitPending(t *testing.T, s *Sink) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Pending() != nil {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("checkpoint never became pending")
}
