// Package checkpoint implements the human-validation pause point. The
// orchestrator calls Await at each checkpoint; in unattended mode it
// returns immediately, otherwise it parks on a one-shot response channel
// until an operator answers through Respond (typically via the HTTP control
// surface). No polling is involved.
//
// The pending checkpoint is persisted to disk while waiting so a crash
// mid-pause can be replayed after restart.
package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Decision is the operator's answer to a checkpoint.
type Decision string

const (
	// DecisionContinue proceeds with the data as presented.
	DecisionContinue Decision = "continue"
	// DecisionModify proceeds with an operator-supplied replacement query
	// list.
	DecisionModify Decision = "modify"
	// DecisionSkip terminates the current category as skipped.
	DecisionSkip Decision = "skip"
)

// Response is what Await returns once a decision arrives.
type Response struct {
	Decision Decision `json:"decision"`
	// Queries replaces the whole pending query list when Decision is
	// modify. Empty entries are dropped.
	Queries []string `json:"queries,omitempty"`
}

// Snapshot describes a checkpoint waiting for a decision.
type Snapshot struct {
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type pending struct {
	snapshot Snapshot
	respCh   chan Response
}

// Sink coordinates checkpoint pauses between the orchestrator and the
// control surface.
type Sink struct {
	mu         sync.Mutex
	unattended bool
	path       string
	current    *pending
}

// New creates a Sink. path is where the pending snapshot is persisted;
// empty disables persistence. Unattended sinks never block.
func New(path string, unattended bool) *Sink {
	return &Sink{path: path, unattended: unattended}
}

// SetUnattended toggles unattended mode for subsequent checkpoints.
func (s *Sink) SetUnattended(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unattended = v
}

// Await pauses at a named checkpoint until a decision arrives. In
// unattended mode it returns DecisionContinue immediately. Context
// cancellation resolves the pause as DecisionSkip rather than blocking.
func (s *Sink) Await(ctx context.Context, name string, payload any) Response {
	s.mu.Lock()
	if s.unattended {
		s.mu.Unlock()
		return Response{Decision: DecisionContinue}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	p := &pending{
		snapshot: Snapshot{Name: name, Payload: raw, CreatedAt: time.Now().UTC()},
		respCh:   make(chan Response, 1),
	}
	s.current = p
	s.persistLocked()
	s.mu.Unlock()

	zap.L().Info("checkpoint awaiting validation", zap.String("name", name))

	var resp Response
	select {
	case resp = <-p.respCh:
	case <-ctx.Done():
		resp = Response{Decision: DecisionSkip}
	}

	s.mu.Lock()
	if s.current == p {
		s.current = nil
		s.clearLocked()
	}
	s.mu.Unlock()

	zap.L().Info("checkpoint resolved",
		zap.String("name", name), zap.String("decision", string(resp.Decision)))
	return resp
}

// Pending returns the snapshot currently awaiting a decision, or nil.
func (s *Sink) Pending() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	snap := s.current.snapshot
	return &snap
}

// Respond delivers the operator's decision to the waiting checkpoint.
func (s *Sink) Respond(resp Response) error {
	switch resp.Decision {
	case DecisionContinue, DecisionModify, DecisionSkip:
	default:
		return eris.Errorf("checkpoint: unknown decision %q", resp.Decision)
	}

	if resp.Decision == DecisionModify {
		kept := resp.Queries[:0]
		for _, q := range resp.Queries {
			if q != "" {
				kept = append(kept, q)
			}
		}
		resp.Queries = kept
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return eris.New("checkpoint: nothing awaiting validation")
	}
	s.current.respCh <- resp
	return nil
}

// Replay loads a snapshot persisted by a previous run that crashed while
// paused. Returns nil when there is none.
func (s *Sink) Replay() (*Snapshot, error) {
	if s.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "checkpoint: read snapshot")
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrap(err, "checkpoint: decode snapshot")
	}
	return &snap, nil
}

func (s *Sink) persistLocked() {
	if s.path == "" || s.current == nil {
		return
	}
	data, err := json.MarshalIndent(s.current.snapshot, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		zap.L().Warn("checkpoint snapshot dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		zap.L().Warn("checkpoint snapshot write", zap.Error(err))
	}
}

func (s *Sink) clearLocked() {
	if s.path == "" {
		return
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("checkpoint snapshot remove", zap.Error(err))
	}
}
