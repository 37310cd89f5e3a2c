// Package scout implements the resolution orchestrator: the hierarchical
// region → locality → category → wave state machine that drives the whole
// research run. It consumes the planner, the cost engine, the graph store,
// and the search/fetch/verify collaborators, pausing at human checkpoints
// and persisting its state after every completed region so a multi-day run
// survives restarts.
package scout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scout-cli/internal/checkpoint"
	"github.com/sells-group/scout-cli/internal/config"
	"github.com/sells-group/scout-cli/internal/cost"
	"github.com/sells-group/scout-cli/internal/export"
	"github.com/sells-group/scout-cli/internal/fetch"
	"github.com/sells-group/scout-cli/internal/graph"
	"github.com/sells-group/scout-cli/internal/model"
	"github.com/sells-group/scout-cli/internal/oracle"
	"github.com/sells-group/scout-cli/internal/planner"
	"github.com/sells-group/scout-cli/internal/search"
	"github.com/sells-group/scout-cli/internal/verify"
)

// Event is pushed to the progress callback on notable transitions.
type Event struct {
	Type     string `json:"type"`
	Region   string `json:"region,omitempty"`
	Locality string `json:"locality,omitempty"`
	Category string `json:"category,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

// Progress is the running tally surfaced by the status API.
type Progress struct {
	CurrentRegion    string    `json:"current_region,omitempty"`
	CurrentLocality  string    `json:"current_locality,omitempty"`
	TotalRegions     int       `json:"total_regions"`
	CompletedRegions int       `json:"completed_regions"`
	CompletedCells   int       `json:"completed_cells"`
	ResolvedCells    int       `json:"resolved_cells"`
	FailedCells      int       `json:"failed_cells"`
	ETASeconds       int       `json:"eta_seconds,omitempty"`
	StartedAt        time.Time `json:"started_at,omitempty"`
}

// queryLog ring limits, matching the UI payload the server exposes.
const (
	queryLogHighWater = 200
	queryLogLowWater  = 150
)

// QueryLogEntry is one executed search kept for UI consumption.
type QueryLogEntry struct {
	Region      string               `json:"region"`
	Locality    string               `json:"locality"`
	Category    string               `json:"category"`
	Wave        int                  `json:"wave"`
	Query       string               `json:"query"`
	Angle       string               `json:"angle,omitempty"`
	ResultCount int                  `json:"result_count"`
	Results     []model.SearchResult `json:"results,omitempty"`
}

// Scout drives the resolution run. All orchestration is single-threaded;
// the mutex only guards the read-side views used by the HTTP surface.
type Scout struct {
	cfg      *config.Config
	criteria *config.Criteria
	oracle   oracle.Oracle
	planner  *planner.Planner
	search   search.Engine
	fetcher  fetch.Fetcher
	verifier verify.Verifier
	cost     *cost.Engine
	graph    graph.Store
	sink     *checkpoint.Sink
	exporter *export.Exporter
	onEvent  func(Event)

	running atomic.Bool

	mu       sync.Mutex
	regions  map[string]*model.RegionResolution
	progress Progress
	queryLog []QueryLogEntry
}

// New wires a Scout from its collaborators. onEvent may be nil.
func New(
	cfg *config.Config,
	criteria *config.Criteria,
	o oracle.Oracle,
	pl *planner.Planner,
	se search.Engine,
	fe fetch.Fetcher,
	ve verify.Verifier,
	ce *cost.Engine,
	st graph.Store,
	sink *checkpoint.Sink,
	onEvent func(Event),
) *Scout {
	return &Scout{
		cfg:      cfg,
		criteria: criteria,
		oracle:   o,
		planner:  pl,
		search:   se,
		fetcher:  fe,
		verifier: ve,
		cost:     ce,
		graph:    st,
		sink:     sink,
		exporter: export.New(cfg.Scan.OutputDir),
		onEvent:  onEvent,
		regions:  make(map[string]*model.RegionResolution),
	}
}

// Running reports whether a scan loop is active.
func (s *Scout) Running() bool { return s.running.Load() }

// Stop requests cooperative cancellation. In-flight loops terminate at
// their next boundary check; partial results are kept and persisted.
func (s *Scout) Stop() {
	s.running.Store(false)
	s.cost.ForceStop()
}

// Results returns a copy of the resolution trees computed so far.
func (s *Scout) Results() []*model.RegionResolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.RegionResolution, 0, len(s.regions))
	for _, name := range s.regionOrder() {
		out = append(out, s.regions[name])
	}
	return out
}

func (s *Scout) regionOrder() []string {
	names := make([]string, 0, len(s.regions))
	for _, r := range s.criteria.Regions {
		if _, ok := s.regions[r.Name]; ok {
			names = append(names, r.Name)
		}
	}
	return names
}

// Progress returns the current progress counters.
func (s *Scout) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// QueryLog returns the recent-search ring.
func (s *Scout) QueryLog() []QueryLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]QueryLogEntry(nil), s.queryLog...)
}

func (s *Scout) appendQueryLog(e QueryLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(e.Results) > 20 {
		e.Results = e.Results[:20]
	}
	s.queryLog = append(s.queryLog, e)
	if len(s.queryLog) > queryLogHighWater {
		s.queryLog = s.queryLog[len(s.queryLog)-queryLogLowWater:]
	}
}

func (s *Scout) emit(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

// Run executes the full scan over every region in the criteria. Regions
// already listed in the resume marker are skipped. State is persisted after
// every region, and once more on exit.
func (s *Scout) Run(ctx context.Context) error {
	if s.oracle == nil {
		return eris.New("scout: no oracle configured")
	}
	s.running.Store(true)
	defer s.running.Store(false)

	s.mu.Lock()
	s.progress = Progress{
		TotalRegions: len(s.criteria.Regions),
		StartedAt:    time.Now().UTC(),
	}
	s.mu.Unlock()

	done := s.loadResume()

	var elapsed []time.Duration
	for idx, region := range s.criteria.Regions {
		if !s.running.Load() || ctx.Err() != nil {
			zap.L().Info("scout: scan cancelled")
			break
		}
		if done[region.Name] {
			zap.L().Info("scout: skipping completed region", zap.String("region", region.Name))
			s.mu.Lock()
			s.progress.CompletedRegions = idx + 1
			s.mu.Unlock()
			continue
		}
		if s.cost.ShouldStop() {
			zap.L().Info("scout: cost engine stop", zap.String("reason", s.cost.StopReason()))
			break
		}

		s.mu.Lock()
		s.progress.CurrentRegion = region.Name
		s.mu.Unlock()

		t0 := time.Now()
		rr, err := s.ProcessRegion(ctx, region.Name, region.Localities)
		if err != nil {
			s.persist()
			return err
		}
		elapsed = append(elapsed, time.Since(t0))

		s.mu.Lock()
		summary := rr.Summary()
		s.progress.CompletedRegions = idx + 1
		s.progress.CompletedCells += summary.Total
		s.progress.ResolvedCells += summary.Resolved
		s.progress.FailedCells += summary.Failed
		if remaining := len(s.criteria.Regions) - (idx + 1); remaining > 0 {
			var total time.Duration
			for _, d := range elapsed {
				total += d
			}
			avg := total / time.Duration(len(elapsed))
			s.progress.ETASeconds = int((avg * time.Duration(remaining)).Seconds())
		} else {
			s.progress.ETASeconds = 0
		}
		s.mu.Unlock()

		s.persist()
	}

	s.persist()
	if results := s.Results(); len(results) > 0 {
		if path, err := s.exporter.SaveWorkbook("verified_creators", results); err != nil {
			zap.L().Warn("scout: save workbook", zap.Error(err))
		} else {
			zap.L().Info("scout: workbook saved", zap.String("path", path))
		}
	}
	s.logSummary(ctx)
	return nil
}

func (s *Scout) logSummary(ctx context.Context) {
	s.mu.Lock()
	p := s.progress
	s.mu.Unlock()
	fields := []zap.Field{
		zap.Int("resolved", p.ResolvedCells),
		zap.Int("failed", p.FailedCells),
		zap.Int("total", p.CompletedCells),
		zap.Float64("efficiency", s.cost.Summarize().Efficiency),
	}
	if stats, err := s.graph.Stats(ctx); err == nil {
		fields = append(fields,
			zap.Int("entities", stats.Entities.Total),
			zap.Int("targets", stats.Targets.Total),
			zap.Int("validated", stats.Scores.Validated))
	}
	zap.L().Info("scout: scan complete", fields...)
}

// ProcessRegion resolves every locality of one region. Only configuration
// and store-level failures return an error; evidence insufficiency is
// recorded in the tree.
func (s *Scout) ProcessRegion(ctx context.Context, region string, localities []string) (*model.RegionResolution, error) {
	zap.L().Info("scout: region start", zap.String("region", region))

	rr := &model.RegionResolution{
		Region:     region,
		Status:     model.StatusInProgress,
		Localities: make(map[string]*model.LocalityResolution, len(localities)),
	}
	for _, loc := range localities {
		lr := &model.LocalityResolution{
			Locality:   loc,
			Region:     region,
			Status:     model.StatusPending,
			Categories: make(map[string]*model.CategoryResolution, len(s.criteria.Categories)),
		}
		for _, cat := range s.criteria.Categories {
			lr.Categories[cat.Key] = &model.CategoryResolution{
				Category: cat.Key,
				Status:   model.StatusPending,
			}
		}
		rr.Localities[loc] = lr
	}

	s.mu.Lock()
	s.regions[region] = rr
	s.mu.Unlock()

	for _, loc := range localities {
		if !s.running.Load() || ctx.Err() != nil {
			break
		}
		s.mu.Lock()
		s.progress.CurrentLocality = loc
		s.mu.Unlock()
		if err := s.processLocality(ctx, rr.Localities[loc]); err != nil {
			return rr, err
		}
		s.emit(Event{Type: "region_progress", Region: region, Locality: loc, Payload: rr.Summary()})
	}

	if rr.IsResolved() {
		rr.Status = model.StatusResolved
	} else {
		rr.Status = model.StatusPartial
	}
	zap.L().Info("scout: region done",
		zap.String("region", region),
		zap.String("status", string(rr.Status)),
		zap.Any("summary", rr.Summary()))
	return rr, nil
}
