package cost

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(cfg Config) *Engine {
	return NewEngine(cfg, WithRand(rand.New(rand.NewSource(1))))
}

func TestEngine_PatienceDrainAndRecharge(t *testing.T) {
	e := newTestEngine(Config{PatienceInitial: 30, PatienceRecharge: 20, PatienceDrain: 1})
	e.AddSource("local_press", 50)

	for i := 0; i < 3; i++ {
		e.ReportResult("local_press", 0, 1, 0, "")
	}
	src, ok := e.Source("local_press")
	require.True(t, ok)
	assert.Equal(t, 27, src.Patience)

	e.ReportResult("local_press", 1, 1, 0, "")
	src, _ = e.Source("local_press")
	assert.Equal(t, 47, src.Patience)

	// Recharge caps at twice the initial budget.
	e.ReportResult("local_press", 1, 1, 0, "")
	e.ReportResult("local_press", 1, 1, 0, "")
	src, _ = e.Source("local_press")
	assert.Equal(t, 60, src.Patience)
}

func TestEngine_SourceExhaustsAtZeroPatience(t *testing.T) {
	e := newTestEngine(Config{PatienceInitial: 2, TargetCount: 100})
	e.AddSource("reddit", 30)

	e.ReportResult("reddit", 0, 1, 0, "")
	src, _ := e.Source("reddit")
	assert.False(t, src.Exhausted)

	e.ReportResult("reddit", 0, 1, 0, "")
	src, _ = e.Source("reddit")
	assert.True(t, src.Exhausted)
	assert.Equal(t, 0, src.Patience)
	assert.Zero(t, src.EffectivePriority())
}

func TestEngine_StopReasonOrdering(t *testing.T) {
	// Target reached wins over budget even when both conditions hold.
	e := newTestEngine(Config{TargetCount: 1, GlobalBudget: 1})
	e.AddSource("press", 50)
	e.ReportResult("press", 1, 1, 0, "")

	assert.True(t, e.ShouldStop())
	assert.Equal(t, StopTargetReached, e.StopReason())
}

func TestEngine_StopOnBudget(t *testing.T) {
	e := newTestEngine(Config{TargetCount: 100, GlobalBudget: 2})
	e.AddSource("press", 50)
	e.ReportResult("press", 0, 1, 0, "")
	assert.False(t, e.ShouldStop())
	e.ReportResult("press", 0, 1, 0, "")
	assert.True(t, e.ShouldStop())
	assert.Equal(t, StopBudgetExhausted, e.StopReason())
}

func TestEngine_StopWhenAllSourcesExhausted(t *testing.T) {
	e := newTestEngine(Config{TargetCount: 100, GlobalBudget: 1000, PatienceInitial: 1})
	e.AddSource("press", 50)
	e.AddSource("reddit", 30)

	e.ReportResult("press", 0, 1, 0, "")
	e.ReportResult("reddit", 0, 1, 0, "")

	assert.True(t, e.ShouldStop())
	assert.Equal(t, StopAllSourcesExhausted, e.StopReason())
}

func TestEngine_StopIsSticky(t *testing.T) {
	e := newTestEngine(Config{TargetCount: 1})
	e.AddSource("press", 50)
	e.ReportResult("press", 1, 1, 0, "")
	require.True(t, e.ShouldStop())

	// More results cannot un-stop the engine.
	e.ReportResult("press", 1, 1, 0, "")
	assert.True(t, e.ShouldStop())
	assert.Equal(t, StopTargetReached, e.StopReason())
}

func TestEngine_PredictROI_PriorOnly(t *testing.T) {
	e := newTestEngine(Config{})
	e.AddSource("alumni", 80)

	// No attempts yet: pure prior over cost.
	assert.InDelta(t, 0.8, e.PredictROI("alumni", 1.0), 1e-9)
	assert.InDelta(t, 0.4, e.PredictROI("alumni", 2.0), 1e-9)
	assert.Zero(t, e.PredictROI("unknown", 1.0))
}

func TestEngine_PredictROI_BlendsObservations(t *testing.T) {
	e := newTestEngine(Config{TargetCount: 1000})
	e.AddSource("alumni", 80)

	// 5 attempts, all hits: alpha = 0.5, drought = 0.
	for i := 0; i < 5; i++ {
		e.ReportResult("alumni", 1, 1, 0, "")
	}
	want := (0.5*0.8 + 0.5*1.0) * math.Exp(0)
	assert.InDelta(t, want, e.PredictROI("alumni", 1.0), 1e-9)
}

func TestEngine_PredictROI_DecaysWithDrought(t *testing.T) {
	e := newTestEngine(Config{TargetCount: 1000, PatienceInitial: 100})
	e.AddSource("alumni", 80)

	for i := 0; i < 10; i++ {
		e.ReportResult("alumni", 0, 1, 0, "")
	}
	// alpha = 1, hit rate = 0, drought = 10.
	assert.InDelta(t, 0, e.PredictROI("alumni", 1.0), 1e-9)
}

func TestEngine_NextSource_ExploitsBest(t *testing.T) {
	// Epsilon tiny enough that exploration never triggers.
	e := newTestEngine(Config{Epsilon: 1e-12})
	e.AddSource("best", 90)
	e.AddSource("meh", 20)

	for i := 0; i < 20; i++ {
		assert.Equal(t, "best", e.NextSource())
	}
}

func TestEngine_NextSource_ExploreSkipsBest(t *testing.T) {
	// Epsilon of 1 forces exploration on every pick.
	e := newTestEngine(Config{Epsilon: 1.0})
	e.AddSource("best", 90)
	e.AddSource("other", 20)

	for i := 0; i < 20; i++ {
		assert.Equal(t, "other", e.NextSource())
	}
}

func TestEngine_NextSource_SingleSourceNeverExplores(t *testing.T) {
	e := newTestEngine(Config{Epsilon: 1.0})
	e.AddSource("only", 50)
	assert.Equal(t, "only", e.NextSource())
}

func TestEngine_NextSource_ROIFloorExhaustsBest(t *testing.T) {
	e := newTestEngine(Config{Epsilon: 1e-12, MinROI: 0.5, TargetCount: 1000, PatienceInitial: 100})
	e.AddSource("cold", 90)
	e.AddSource("backup", 10)

	// Six misses: past the grace attempts, predicted ROI well below 0.5.
	for i := 0; i < 6; i++ {
		e.ReportResult("cold", 0, 1, 0, "")
	}

	assert.Equal(t, "backup", e.NextSource())
	src, _ := e.Source("cold")
	assert.True(t, src.Exhausted, "best source below the ROI floor gets retired")
}

func TestEngine_NextSource_AllExhausted(t *testing.T) {
	e := newTestEngine(Config{PatienceInitial: 1, TargetCount: 100})
	e.AddSource("press", 50)
	e.ReportResult("press", 0, 1, 0, "")
	assert.Empty(t, e.NextSource())
}

func TestEngine_ReportResult_DefaultValue(t *testing.T) {
	e := newTestEngine(Config{TargetCount: 1000})
	e.AddSource("press", 50)
	e.ReportResult("press", 3, 1, 0, "austin filmmakers")

	src, _ := e.Source("press")
	assert.Equal(t, 30.0, src.TotalValue)
	assert.Equal(t, 3, src.Hits)

	log := e.RecentLog(1)
	require.Len(t, log, 1)
	assert.Equal(t, "hit", log[0].Decision)
	assert.Equal(t, "austin filmmakers", log[0].Query)
}

func TestEngine_EvaluateAction(t *testing.T) {
	e := newTestEngine(Config{TargetCount: 1000})
	e.AddSource("press", 50)

	ev := e.EvaluateAction("press", 1.0)
	assert.True(t, ev.Execute)
	assert.Equal(t, "go", ev.Reason)

	ev = e.EvaluateAction("nope", 1.0)
	assert.False(t, ev.Execute)
	assert.Equal(t, "unknown_source", ev.Reason)
}

func TestEngine_EffectivePriority_Floor(t *testing.T) {
	s := SourceStats{Priority: 10, Attempts: 40, Hits: 0, LastHitAt: 0}
	// base 3 + perf 0 - penalty 30 + bonus 0 would be negative.
	assert.Zero(t, s.EffectivePriority())
}

func TestEngine_EfficiencyCurve(t *testing.T) {
	e := newTestEngine(Config{TargetCount: 1000})
	e.AddSource("press", 50)
	e.ReportResult("press", 1, 1, 0, "")
	e.ReportResult("press", 0, 1, 0, "")

	curve := e.EfficiencyCurve()
	require.Len(t, curve, 2)
	assert.Equal(t, 1, curve[0].Found)
	assert.InDelta(t, 0.5, curve[1].Efficiency, 1e-9)
}

func TestEngine_LogRingTrims(t *testing.T) {
	e := newTestEngine(Config{TargetCount: 100000, GlobalBudget: 100000, PatienceInitial: 100000})
	e.AddSource("press", 50)
	for i := 0; i < 201; i++ {
		e.ReportResult("press", 1, 1, 0, "")
	}
	assert.Len(t, e.RecentLog(0), 150)
}

func TestEngine_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cost_engine.json")

	e := newTestEngine(Config{TargetCount: 10, GlobalBudget: 500})
	e.AddSource("press", 50)
	e.AddSource("reddit", 30)
	e.ReportResult("press", 2, 1, 40, "")
	e.ReportResult("reddit", 0, 1, 0, "")
	require.NoError(t, e.Save(path))

	loaded, err := Load(path, Config{}, WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)

	src, ok := loaded.Source("press")
	require.True(t, ok)
	assert.Equal(t, 2, src.Hits)
	assert.Equal(t, 40.0, src.TotalValue)

	sum := loaded.Summarize()
	assert.Equal(t, 2, sum.TotalFound)
	assert.Equal(t, 2, sum.TotalActions)
	assert.Equal(t, 10, sum.TargetCount)
}

func TestLoad_MissingFileReturnsFresh(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "nope.json"), Config{TargetCount: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Summarize().TargetCount)
	assert.Equal(t, "running", loaded.Summarize().Status)
}

func TestEngine_Summarize(t *testing.T) {
	e := newTestEngine(Config{TargetCount: 10, GlobalBudget: 100})
	e.AddSource("press", 50)
	e.ReportResult("press", 5, 1, 0, "")

	sum := e.Summarize()
	assert.Equal(t, "running", sum.Status)
	assert.InDelta(t, 50.0, sum.ProgressPct, 1e-9)
	assert.InDelta(t, 1.0, sum.BudgetUsedPct, 1e-9)
	assert.InDelta(t, 5.0, sum.Efficiency, 1e-9)
	assert.Equal(t, 1, sum.ActiveSources)
}

func TestEngine_ForceStop(t *testing.T) {
	e := newTestEngine(Config{})
	e.AddSource("press", 50)
	e.ForceStop()
	assert.True(t, e.ShouldStop())
	assert.Equal(t, StopManual, e.StopReason())
}
