package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.ConfigureCriteria(ctx, DefaultCriteria(), DefaultThreshold))
	return s
}

func TestSQLiteStore_EntityDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.AddEntity(ctx, Entity{Name: "Jane Film", Locality: "Austin"})
	require.NoError(t, err)
	id2, err := s.AddEntity(ctx, Entity{Name: "Jane Film", Locality: "Austin", SourceURL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same name+locality should dedup")

	id3, err := s.AddEntity(ctx, Entity{Name: "Jane Film", Locality: "Dallas"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3, "different locality is a different entity")

	n, err := s.CountEntities(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteStore_BulkAddEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.BulkAddEntities(ctx, []Entity{
		{Name: "A", Locality: "Austin"},
		{Name: "B", Locality: "Austin"},
		{Name: "A", Locality: "Austin"}, // dup
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	total, err := s.CountEntities(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestSQLiteStore_TargetDedupAndLink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	url := "https://youtube.com/@janefilm"
	tid1, err := s.AddTarget(ctx, Target{URL: url})
	require.NoError(t, err)

	eid, err := s.AddEntity(ctx, Entity{Name: "Jane Film", Locality: "Austin"})
	require.NoError(t, err)

	tid2, err := s.AddTarget(ctx, Target{URL: url, EntityID: eid})
	require.NoError(t, err)
	assert.Equal(t, tid1, tid2, "same URL should dedup")

	got, err := s.GetTarget(ctx, tid1)
	require.NoError(t, err)
	assert.Equal(t, eid, got.EntityID, "re-adding with an entity links the orphan target")
	assert.Equal(t, "youtube", got.Platform)
}

func TestSQLiteStore_AutoScoreValidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	eid, err := s.AddEntity(ctx, Entity{Name: "Jane Film", Locality: "Austin"})
	require.NoError(t, err)
	tid, err := s.AddTarget(ctx, Target{
		URL:              "https://youtube.com/@janefilm",
		EntityID:         eid,
		Followers:        45000,
		IsActive:         true,
		LastActivity:     "2 weeks ago",
		LocationDetected: true,
		TopicDetected:    true,
		IsCreator:        true,
		ExternalLinks:    []string{"https://janefilm.com"},
	})
	require.NoError(t, err)

	total, err := AutoScore(ctx, s, tid, 20000, 150000)
	require.NoError(t, err)
	assert.Equal(t, 100, total.Total)
	assert.Equal(t, 100, total.MaxPossible)
	assert.True(t, total.Validated)

	e, err := s.GetEntity(ctx, eid)
	require.NoError(t, err)
	assert.Equal(t, EntityValidated, e.Status)
}

func TestSQLiteStore_AutoScoreBelowThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	eid, err := s.AddEntity(ctx, Entity{Name: "Ghost Channel", Locality: "Austin"})
	require.NoError(t, err)
	tid, err := s.AddTarget(ctx, Target{
		URL:       "https://youtube.com/@ghost",
		EntityID:  eid,
		Followers: 500, // out of range
		IsActive:  false,
		IsCreator: true,
	})
	require.NoError(t, err)

	total, err := AutoScore(ctx, s, tid, 20000, 150000)
	require.NoError(t, err)
	assert.Equal(t, 10, total.Total) // is_creator only
	assert.False(t, total.Validated)

	e, err := s.GetEntity(ctx, eid)
	require.NoError(t, err)
	assert.Equal(t, EntityScored, e.Status)
}

func TestSQLiteStore_ComputeScoreIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tid, err := s.AddTarget(ctx, Target{URL: "https://youtube.com/@x", LocationDetected: true})
	require.NoError(t, err)
	require.NoError(t, s.SetCriterion(ctx, tid, "locality_confirmed", true, "bio mentions Austin"))

	first, err := s.ComputeScore(ctx, tid)
	require.NoError(t, err)
	second, err := s.ComputeScore(ctx, tid)
	require.NoError(t, err)

	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, 30, second.Total)
	assert.Equal(t, "bio mentions Austin", second.Details["locality_confirmed"].Evidence)
}

func TestSQLiteStore_SetCriterion_UnknownAwardsZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tid, err := s.AddTarget(ctx, Target{URL: "https://youtube.com/@y"})
	require.NoError(t, err)
	require.NoError(t, s.SetCriterion(ctx, tid, "no_such_criterion", true, ""))

	total, err := s.ComputeScore(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, 0, total.Total)
}

func TestSQLiteStore_TaskQueueOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnqueueTask(ctx, Task{Type: TaskFindNames, Query: "austin filmmakers", Priority: 5})
	require.NoError(t, err)
	urgent, err := s.EnqueueTask(ctx, Task{Type: TaskVerifyLocale, EntityID: "e1", Priority: 1})
	require.NoError(t, err)

	// Dedup: same type/entity/target while pending returns the existing task.
	dup, err := s.EnqueueTask(ctx, Task{Type: TaskVerifyLocale, EntityID: "e1", Priority: 3})
	require.NoError(t, err)
	assert.Equal(t, urgent, dup)

	next, err := s.NextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, urgent, next.ID)
	assert.Equal(t, TaskRunning, next.Status)

	require.NoError(t, s.CompleteTask(ctx, next.ID, map[string]any{"verified": true}, ""))

	done, err := s.CountTasks(ctx, TaskDone)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	next, err = s.NextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, TaskFindNames, next.Type)

	require.NoError(t, s.CompleteTask(ctx, next.ID, nil, "search provider unavailable"))
	failed, err := s.CountTasks(ctx, TaskFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	empty, err := s.NextTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty, "drained queue returns nil task")
}

func TestSQLiteStore_DedupLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done, err := s.WasDone(ctx, "searched", "austin filmmakers youtube")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, s.MarkDone(ctx, "searched", "austin filmmakers youtube", "wave 1"))
	// Marking twice is a no-op, not an error.
	require.NoError(t, s.MarkDone(ctx, "searched", "austin filmmakers youtube", "wave 2"))

	done, err = s.WasDone(ctx, "searched", "austin filmmakers youtube")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = s.WasDone(ctx, "scanned", "austin filmmakers youtube")
	require.NoError(t, err)
	assert.False(t, done, "dedup keys are scoped per action")
}

func TestSQLiteStore_StatsAndExport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	eid, err := s.AddEntity(ctx, Entity{Name: "Jane Film", Locality: "Austin"})
	require.NoError(t, err)
	good, err := s.AddTarget(ctx, Target{
		URL: "https://youtube.com/@janefilm", EntityID: eid,
		Followers: 45000, IsActive: true, LocationDetected: true,
		TopicDetected: true, IsCreator: true,
		ExternalLinks: []string{"https://janefilm.com"},
	})
	require.NoError(t, err)
	_, err = s.AddTarget(ctx, Target{URL: "https://youtube.com/@unscored"})
	require.NoError(t, err)

	_, err = AutoScore(ctx, s, good, 20000, 150000)
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entities.Total)
	assert.Equal(t, 2, stats.Targets.Total)
	assert.Equal(t, 2, stats.Targets.ByPlatform["youtube"])
	assert.Equal(t, 1, stats.Scores.Validated)
	assert.Equal(t, 1, stats.Scores.Unscored)
	assert.Equal(t, DefaultThreshold, stats.Threshold)
	assert.Len(t, stats.Criteria, 6)

	validated, err := s.ExportValidated(ctx)
	require.NoError(t, err)
	require.Len(t, validated, 1)
	assert.Equal(t, "Jane Film", validated[0].EntityName)
	assert.Equal(t, 100, validated[0].ScoreTotal)

	all, err := s.ExportAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStore_FindTargetsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tid, err := s.AddTarget(ctx, Target{URL: "https://youtube.com/@a", LocationDetected: true, TopicDetected: true, IsActive: true, IsCreator: true, Followers: 50000})
	require.NoError(t, err)
	_, err = s.AddTarget(ctx, Target{URL: "https://youtube.com/@b"})
	require.NoError(t, err)

	_, err = AutoScore(ctx, s, tid, 20000, 150000)
	require.NoError(t, err)

	yes := true
	hits, err := s.FindTargets(ctx, TargetFilter{Validated: &yes})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "https://youtube.com/@a", hits[0].URL)

	scored, err := s.FindTargets(ctx, TargetFilter{MinScore: 50})
	require.NoError(t, err)
	assert.Len(t, scored, 1)
}

func TestSQLiteStore_Reset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddEntity(ctx, Entity{Name: "X", Locality: "Austin"})
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))

	n, err := s.CountEntities(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Criteria and config survive a reset.
	criteria, err := s.ListCriteria(ctx)
	require.NoError(t, err)
	assert.Len(t, criteria, 6)
}
