// Package cost implements the spend controller that decides which research
// source to try next and when to stop searching entirely. It combines a
// predicted return-on-investment score, a per-source patience budget, and an
// epsilon-greedy bandit over the registered sources.
package cost

import (
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Stop reasons, checked in this order.
const (
	StopTargetReached       = "target_reached"
	StopBudgetExhausted     = "budget_exhausted"
	StopAllSourcesExhausted = "all_sources_exhausted"
	StopManual              = "manual"
)

const (
	droughtDecayRate = 0.05
	priorBlendFloor  = 10.0
	roiGraceAttempts = 5
	logHighWater     = 200
	logLowWater      = 150
)

// Config holds the tunable knobs of the engine.
type Config struct {
	TargetCount      int     `json:"target_count"`
	PatienceInitial  int     `json:"patience_initial"`
	PatienceRecharge int     `json:"patience_recharge"`
	PatienceDrain    int     `json:"patience_drain"`
	Epsilon          float64 `json:"epsilon"`
	MinROI           float64 `json:"min_roi"`
	GlobalBudget     int     `json:"global_budget"`
}

// DefaultConfig returns the standard tuning for a full-region run.
func DefaultConfig() Config {
	return Config{
		TargetCount:      10,
		PatienceInitial:  30,
		PatienceRecharge: 20,
		PatienceDrain:    1,
		Epsilon:          0.10,
		MinROI:           0.05,
		GlobalBudget:     5000,
	}
}

// SourceStats tracks the running performance of one research source.
type SourceStats struct {
	Name       string  `json:"name"`
	Priority   float64 `json:"priority"`
	Attempts   int     `json:"attempts"`
	Hits       int     `json:"hits"`
	Misses     int     `json:"misses"`
	TotalCost  float64 `json:"total_cost"`
	TotalValue float64 `json:"total_value"`
	Patience   int     `json:"patience"`
	Exhausted  bool    `json:"exhausted"`
	LastHitAt  int     `json:"last_hit_at"`
	CreatedAt  int64   `json:"created_at"`
}

// HitRate is hits per attempt.
func (s *SourceStats) HitRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Attempts)
}

// ROI is accumulated value per unit of accumulated cost.
func (s *SourceStats) ROI() float64 {
	return s.TotalValue / math.Max(0.01, s.TotalCost)
}

// Drought is the number of attempts since the last hit.
func (s *SourceStats) Drought() int {
	return s.Attempts - s.LastHitAt
}

// EffectivePriority blends the configured prior with observed performance.
// It decays with drought and carries an ROI bonus, floored at zero; an
// exhausted source always ranks at zero.
func (s *SourceStats) EffectivePriority() float64 {
	if s.Exhausted {
		return 0
	}
	if s.Attempts == 0 {
		return s.Priority
	}
	base := s.Priority * 0.3
	perf := s.HitRate() * 100 * 0.5
	penalty := math.Min(30, float64(s.Drought())*1.5)
	bonus := math.Min(20, s.ROI()*5)
	return math.Max(0, base+perf-penalty+bonus)
}

// ActionRecord is one decision outcome kept for diagnostics.
type ActionRecord struct {
	Source       string  `json:"source"`
	Query        string  `json:"query,omitempty"`
	Found        int     `json:"found"`
	Cost         float64 `json:"cost"`
	Value        float64 `json:"value"`
	ROIPredicted float64 `json:"roi_predicted"`
	Decision     string  `json:"decision"`
	Timestamp    int64   `json:"timestamp"`
}

// Evaluation is the verdict on whether a proposed action is worth running.
type Evaluation struct {
	Execute  bool    `json:"execute"`
	ROI      float64 `json:"roi"`
	Reason   string  `json:"reason"`
	Patience int     `json:"source_patience"`
}

// Engine is the spend controller. Safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	sources map[string]*SourceStats
	log     []ActionRecord

	totalFound   int
	totalActions int
	startedAt    time.Time
	stopped      bool
	stopReason   string
	stopDetail   string

	rng *rand.Rand
	now func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRand sets the random source used by the bandit. Tests use this for
// deterministic explore/exploit decisions.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an engine with the given config. Zero-valued config
// fields fall back to defaults.
func NewEngine(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.TargetCount <= 0 {
		cfg.TargetCount = def.TargetCount
	}
	if cfg.PatienceInitial <= 0 {
		cfg.PatienceInitial = def.PatienceInitial
	}
	if cfg.PatienceRecharge <= 0 {
		cfg.PatienceRecharge = def.PatienceRecharge
	}
	if cfg.PatienceDrain <= 0 {
		cfg.PatienceDrain = def.PatienceDrain
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = def.Epsilon
	}
	if cfg.MinROI <= 0 {
		cfg.MinROI = def.MinROI
	}
	if cfg.GlobalBudget <= 0 {
		cfg.GlobalBudget = def.GlobalBudget
	}

	e := &Engine{
		cfg:     cfg,
		sources: make(map[string]*SourceStats),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	e.startedAt = e.now()
	return e
}

// AddSource registers a source with its initial priority. Re-registering an
// existing source is a no-op so resumed runs keep accumulated stats.
func (e *Engine) AddSource(name string, priority float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sources[name]; ok {
		return
	}
	e.sources[name] = &SourceStats{
		Name:      name,
		Priority:  priority,
		Patience:  e.cfg.PatienceInitial,
		CreatedAt: e.now().Unix(),
	}
}

// Source returns a copy of the stats for one source.
func (e *Engine) Source(name string) (SourceStats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	src, ok := e.sources[name]
	if !ok {
		return SourceStats{}, false
	}
	return *src, true
}

// PredictROI estimates the return of the next action on a source: a
// Bayesian blend of the configured prior and the observed hit rate, decayed
// exponentially by drought, divided by the estimated cost.
func (e *Engine) PredictROI(name string, estimatedCost float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.predictROI(name, estimatedCost)
}

func (e *Engine) predictROI(name string, estimatedCost float64) float64 {
	src, ok := e.sources[name]
	if !ok || src.Exhausted {
		return 0
	}
	prior := src.Priority / 100.0
	pSuccess := prior
	if src.Attempts > 0 {
		alpha := math.Min(1.0, float64(src.Attempts)/priorBlendFloor)
		pSuccess = (1-alpha)*prior + alpha*src.HitRate()
	}
	pAdjusted := pSuccess * math.Exp(-droughtDecayRate*float64(src.Drought()))
	return pAdjusted / math.Max(0.01, estimatedCost)
}

// ShouldStop evaluates the global stop conditions, in order: target
// reached, budget exhausted, all sources exhausted. Once stopped the
// engine stays stopped.
func (e *Engine) ShouldStop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shouldStop()
}

func (e *Engine) shouldStop() bool {
	if e.stopped {
		return true
	}
	if e.totalFound >= e.cfg.TargetCount {
		e.halt(StopTargetReached, "target count reached")
		return true
	}
	if e.totalActions >= e.cfg.GlobalBudget {
		e.halt(StopBudgetExhausted, "global action budget spent")
		return true
	}
	if len(e.sources) > 0 && e.activeCount() == 0 {
		e.halt(StopAllSourcesExhausted, "every source ran out of patience")
		return true
	}
	return false
}

func (e *Engine) halt(reason, detail string) {
	e.stopped = true
	e.stopReason = reason
	e.stopDetail = detail
}

// ForceStop halts the engine regardless of budget state.
func (e *Engine) ForceStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.halt(StopManual, "stopped by operator")
}

// StopReason returns the reason the engine halted, or "" while running.
func (e *Engine) StopReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopReason
}

func (e *Engine) activeCount() int {
	n := 0
	for _, s := range e.sources {
		if !s.Exhausted {
			n++
		}
	}
	return n
}

// NextSource picks the next source with an epsilon-greedy policy: usually
// the source with the highest effective priority, occasionally a random
// other active source. If the best source's predicted ROI falls below the
// floor after its grace attempts it is marked exhausted and the next best
// is considered. Returns "" when every source is exhausted.
func (e *Engine) NextSource() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		active := e.activeSorted()
		if len(active) == 0 {
			return ""
		}
		best := active[0]

		if len(active) > 1 && e.rng.Float64() < e.cfg.Epsilon {
			others := active[1:]
			return others[e.rng.Intn(len(others))].Name
		}

		roi := e.predictROI(best.Name, 1.0)
		if roi < e.cfg.MinROI && best.Attempts > roiGraceAttempts {
			best.Exhausted = true
			continue
		}
		return best.Name
	}
}

// activeSorted returns non-exhausted sources ordered by effective priority
// descending, with name as the tiebreaker for determinism.
func (e *Engine) activeSorted() []*SourceStats {
	active := make([]*SourceStats, 0, len(e.sources))
	for _, s := range e.sources {
		if !s.Exhausted {
			active = append(active, s)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		pi, pj := active[i].EffectivePriority(), active[j].EffectivePriority()
		if pi != pj {
			return pi > pj
		}
		return active[i].Name < active[j].Name
	})
	return active
}

// EvaluateAction checks whether a specific action on a source is worth
// running right now, without mutating any state besides stop detection.
func (e *Engine) EvaluateAction(name string, estimatedCost float64) Evaluation {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, ok := e.sources[name]
	if !ok {
		return Evaluation{Reason: "unknown_source"}
	}
	if src.Exhausted {
		return Evaluation{Reason: "source_exhausted"}
	}
	if e.shouldStop() {
		return Evaluation{Reason: e.stopReason, Patience: src.Patience}
	}
	roi := e.predictROI(name, estimatedCost)
	if roi < e.cfg.MinROI && src.Attempts > roiGraceAttempts {
		return Evaluation{ROI: roi, Reason: "roi_below_floor", Patience: src.Patience}
	}
	return Evaluation{Execute: true, ROI: roi, Reason: "go", Patience: src.Patience}
}

// ReportResult feeds the outcome of an action back into the bandit. A hit
// recharges patience up to twice the initial budget; a miss drains it, and
// a source whose patience reaches zero is exhausted. When value is zero a
// hit defaults to ten points per result found.
func (e *Engine) ReportResult(name string, found int, actionCost, value float64, query string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, ok := e.sources[name]
	if !ok {
		return
	}
	if found > 0 && value == 0 {
		value = float64(found) * 10.0
	}

	src.Attempts++
	src.TotalCost += actionCost
	e.totalActions++

	decision := "miss"
	if found > 0 {
		src.Hits += found
		src.TotalValue += value
		src.Patience = min(e.cfg.PatienceInitial*2, src.Patience+e.cfg.PatienceRecharge)
		src.LastHitAt = src.Attempts
		e.totalFound += found
		decision = "hit"
	} else {
		src.Misses++
		src.Patience -= e.cfg.PatienceDrain
		if src.Patience <= 0 {
			src.Patience = 0
			src.Exhausted = true
			decision = "exhausted"
		}
	}

	e.log = append(e.log, ActionRecord{
		Source:       name,
		Query:        query,
		Found:        found,
		Cost:         actionCost,
		Value:        value,
		ROIPredicted: e.predictROI(name, actionCost),
		Decision:     decision,
		Timestamp:    e.now().Unix(),
	})
	if len(e.log) > logHighWater {
		e.log = append([]ActionRecord(nil), e.log[len(e.log)-logLowWater:]...)
	}
}

// RankedSource is one row of the priority leaderboard.
type RankedSource struct {
	SourceStats
	HitRate           float64 `json:"hit_rate"`
	ROI               float64 `json:"roi"`
	Drought           int     `json:"drought"`
	EffectivePriority float64 `json:"effective_priority"`
}

// RankSources returns every source ordered by effective priority.
func (e *Engine) RankSources() []RankedSource {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RankedSource, 0, len(e.sources))
	for _, s := range e.sources {
		out = append(out, RankedSource{
			SourceStats:       *s,
			HitRate:           round3(s.HitRate()),
			ROI:               round3(s.ROI()),
			Drought:           s.Drought(),
			EffectivePriority: math.Round(s.EffectivePriority()*10) / 10,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EffectivePriority != out[j].EffectivePriority {
			return out[i].EffectivePriority > out[j].EffectivePriority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Summary is the engine's status rollup for logs and the status API.
type Summary struct {
	Status          string         `json:"status"`
	StopReason      string         `json:"stop_reason,omitempty"`
	ElapsedSeconds  float64        `json:"elapsed_seconds"`
	TotalFound      int            `json:"total_found"`
	TargetCount     int            `json:"target_count"`
	ProgressPct     float64        `json:"progress_pct"`
	TotalActions    int            `json:"total_actions"`
	GlobalBudget    int            `json:"global_budget"`
	BudgetUsedPct   float64        `json:"budget_used_pct"`
	Efficiency      float64        `json:"efficiency"`
	Sources         []RankedSource `json:"sources"`
	ActiveSources   int            `json:"active_sources"`
	ExhaustedSource int            `json:"exhausted_sources"`
}

// Summarize builds the current status rollup.
func (e *Engine) Summarize() Summary {
	ranked := e.RankSources()

	e.mu.Lock()
	defer e.mu.Unlock()

	status := "running"
	if e.stopped {
		status = "stopped"
	}
	actions := e.totalActions
	eff := 0.0
	if actions > 0 {
		eff = round4(float64(e.totalFound) / float64(actions))
	}
	return Summary{
		Status:          status,
		StopReason:      e.stopReason,
		ElapsedSeconds:  math.Round(e.now().Sub(e.startedAt).Seconds()*10) / 10,
		TotalFound:      e.totalFound,
		TargetCount:     e.cfg.TargetCount,
		ProgressPct:     round1(float64(e.totalFound) / float64(max(1, e.cfg.TargetCount)) * 100),
		TotalActions:    actions,
		GlobalBudget:    e.cfg.GlobalBudget,
		BudgetUsedPct:   round1(float64(actions) / float64(max(1, e.cfg.GlobalBudget)) * 100),
		Efficiency:      eff,
		Sources:         ranked,
		ActiveSources:   e.activeCount(),
		ExhaustedSource: len(e.sources) - e.activeCount(),
	}
}

// CurvePoint is one sample of cumulative efficiency, for charting
// diminishing returns.
type CurvePoint struct {
	Action     int     `json:"action"`
	Found      int     `json:"found"`
	Efficiency float64 `json:"efficiency"`
	Source     string  `json:"source"`
	Decision   string  `json:"decision"`
}

// EfficiencyCurve returns cumulative found-per-action over the retained log.
func (e *Engine) EfficiencyCurve() []CurvePoint {
	e.mu.Lock()
	defer e.mu.Unlock()

	curve := make([]CurvePoint, 0, len(e.log))
	cumulative := 0
	for i, rec := range e.log {
		cumulative += rec.Found
		curve = append(curve, CurvePoint{
			Action:     i + 1,
			Found:      cumulative,
			Efficiency: round4(float64(cumulative) / float64(i+1)),
			Source:     rec.Source,
			Decision:   rec.Decision,
		})
	}
	return curve
}

// RecentLog returns up to n of the most recent action records.
func (e *Engine) RecentLog(n int) []ActionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.log) {
		n = len(e.log)
	}
	return append([]ActionRecord(nil), e.log[len(e.log)-n:]...)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

// snapshot is the serialized engine state.
type snapshot struct {
	Config Config `json:"config"`
	State  struct {
		TotalFound   int    `json:"total_found"`
		TotalActions int    `json:"total_actions"`
		Stopped      bool   `json:"stopped"`
		StopReason   string `json:"stop_reason"`
		StartedAt    int64  `json:"started_at"`
	} `json:"state"`
	Sources map[string]*SourceStats `json:"sources"`
}

// Save writes the full engine state as JSON so a later run can resume with
// learned source statistics intact.
func (e *Engine) Save(path string) error {
	e.mu.Lock()
	var snap snapshot
	snap.Config = e.cfg
	snap.State.TotalFound = e.totalFound
	snap.State.TotalActions = e.totalActions
	snap.State.Stopped = e.stopped
	snap.State.StopReason = e.stopReason
	snap.State.StartedAt = e.startedAt.Unix()
	snap.Sources = make(map[string]*SourceStats, len(e.sources))
	for k, v := range e.sources {
		cp := *v
		snap.Sources[k] = &cp
	}
	e.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return eris.Wrap(err, "cost: marshal engine state")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "cost: create state directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "cost: write engine state")
	}
	return nil
}

// Load restores a saved engine. A missing file yields a fresh engine with
// the provided config.
func Load(path string, cfg Config, opts ...Option) (*Engine, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewEngine(cfg, opts...), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cost: read engine state")
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrap(err, "cost: parse engine state")
	}

	e := NewEngine(snap.Config, opts...)
	e.totalFound = snap.State.TotalFound
	e.totalActions = snap.State.TotalActions
	e.stopped = snap.State.Stopped
	e.stopReason = snap.State.StopReason
	if snap.State.StartedAt > 0 {
		e.startedAt = time.Unix(snap.State.StartedAt, 0)
	}
	for name, src := range snap.Sources {
		cp := *src
		cp.Name = name
		e.sources[name] = &cp
	}
	return e, nil
}
