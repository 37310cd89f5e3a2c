// Package graph implements the durable entity-graph scorer: entities
// discovered during research, the platform targets linked to them,
// configurable scoring criteria, a task queue driving the
// harvest→pivot→verify loop, and a dedup log so nothing is re-scanned.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityStatus is the lifecycle of a research subject.
type EntityStatus string

const (
	EntityFound       EntityStatus = "found"
	EntityTargetFound EntityStatus = "target_found"
	EntityScored      EntityStatus = "scored"
	EntityValidated   EntityStatus = "validated"
	EntityRejected    EntityStatus = "rejected"
	EntityArchived    EntityStatus = "archived"
)

// TaskStatus is the lifecycle of a queued task.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
	TaskSkipped TaskStatus = "skipped"
)

// Task types driving the harvest loop.
const (
	TaskFindNames     = "find_names"
	TaskFindTarget    = "find_target"
	TaskAnalyzeTarget = "analyze_target"
	TaskVerifyLocale  = "verify_location"
)

// CheckKind tells the scorer how to evaluate a criterion against a target,
// so criteria are matched by declared kind rather than name sniffing.
type CheckKind string

const (
	CheckLocalityEvidence CheckKind = "locality_evidence"
	CheckTopicEvidence    CheckKind = "topic_evidence"
	CheckFollowerRange    CheckKind = "follower_range"
	CheckRecentActivity   CheckKind = "recent_activity"
	CheckIsCreator        CheckKind = "is_creator"
	CheckExternalLinks    CheckKind = "external_links"
	CheckManual           CheckKind = "manual"
)

// Entity is a research subject: a creator, an organization, a place.
type Entity struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Subkind     string         `json:"subkind,omitempty"`
	Locality    string         `json:"locality,omitempty"`
	Region      string         `json:"region,omitempty"`
	Country     string         `json:"country,omitempty"`
	Institution string         `json:"institution,omitempty"`
	Year        int            `json:"year,omitempty"`
	SourceURL   string         `json:"source_url,omitempty"`
	SourceType  string         `json:"source_type,omitempty"`
	Status      EntityStatus   `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

/// Target is a platform presence linked to an entity: a channel, a profile,
// a website. URL is the dedup key.
type Target struct {
	ID               string          `json:"id"`
	EntityID         string          `json:"entity_id,omitempty"`
	Platform         string          `json:"platform"`
	URL              string          `json:"url"`
	Name             string          `json:"name,omitempty"`
	Description      string          `json:"description,omitempty"`
	Followers        int             `json:"followers,omitempty"`
	LastActivity     string          `json:"last_activity,omitempty"`
	IsActive         bool            `json:"is_active"`
	Keywords         []string        `json:"keywords,omitempty"`
	LocationDetected bool            `json:"location_detected"`
	TopicDetected    bool            `json:"topic_detected"`
	IsCreator        bool            `json:"is_creator"`
	ExternalLinks    []string        `json:"external_links,omitempty"`
	RawData          json.RawMessage `json:"raw_data,omitempty"`
	ScannedAt        time.Time       `json:"scanned_at"`
}

// Criterion is one configurable scoring rule.
type Criterion struct {
	Name        string    `json:"name"`
	Label       string    `json:"label,omitempty"`
	Description string    `json:"description,omitempty"`
	Points      int       `json:"points"`
	Kind        CheckKind `json:"kind"`
	Category    string    `json:"category,omitempty"`
	SortOrder   int       `json:"sort_order"`
}

// CriterionResult is the evaluation of one criterion for one target.
type CriterionResult struct {
	TargetID      string    `json:"target_id"`
	CriterionName string    `json:"criterion_name"`
	Met           bool      `json:"met"`
	PointsAwarded int       `json:"points_awarded"`
	Evidence      string    `json:"evidence,omitempty"`
	ComputedAt    time.Time `json:"computed_at"`
}

// CriterionDetail is one line of a score breakdown.
type CriterionDetail struct {
	Label    string `json:"label"`
	Max      int    `json:"max"`
	Awarded  int    `json:"awarded"`
	Met      bool   `json:"met"`
	Evidence string `json:"evidence,omitempty"`
}

// ScoreTotal is the cached composite score for a target.
type ScoreTotal struct {
	TargetID    string                     `json:"target_id"`
	Total       int                        `json:"total"`
	MaxPossible int                        `json:"max_possible"`
	Validated   bool                       `json:"validated"`
	Threshold   int                        `json:"threshold"`
	Details     map[string]CriterionDetail `json:"details"`
	ComputedAt  time.Time                  `json:"computed_at"`
}

// Task is one unit of pending work in the harvest queue.
type Task struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	TargetType  string          `json:"target_type,omitempty"`
	EntityID    string          `json:"entity_id,omitempty"`
	TargetID    string          `json:"target_id,omitempty"`
	Query       string          `json:"query,omitempty"`
	Status      TaskStatus      `json:"status"`
	Priority    int             `json:"priority"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

// EntityFilter narrows FindEntities.
type EntityFilter struct {
	Status   EntityStatus `json:"status,omitempty"`
	Locality string       `json:"locality,omitempty"`
	Kind     string       `json:"kind,omitempty"`
	Limit    int          `json:"limit,omitempty"`
}

// TargetFilter narrows FindTargets.
type TargetFilter struct {
	Platform  string `json:"platform,omitempty"`
	Validated *bool  `json:"validated,omitempty"`
	MinScore  int    `json:"min_score,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ScoredTarget is a target joined with its cached score and owning entity.
type ScoredTarget struct {
	Target
	ScoreTotal     int    `json:"score_total"`
	ScoreValidated bool   `json:"score_validated"`
	EntityName     string `json:"entity_name,omitempty"`
	EntityLocality string `json:"entity_locality,omitempty"`
	EntityKind     string `json:"entity_kind,omitempty"`
	Institution    string `json:"institution,omitempty"`
}

// ScoreSummary is the result of a bulk recompute.
type ScoreSummary struct {
	TotalTargets int `json:"total_targets"`
	Validated    int `json:"validated"`
	Rejected     int `json:"rejected"`
}

// Stats is the rollup surfaced by the status API.
type Stats struct {
	Entities struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
	} `json:"entities"`
	Targets struct {
		Total      int            `json:"total"`
		ByPlatform map[string]int `json:"by_platform"`
	} `json:"targets"`
	Scores struct {
		Validated int     `json:"validated"`
		Rejected  int     `json:"rejected"`
		Unscored  int     `json:"unscored"`
		AvgScore  float64 `json:"avg_score"`
	} `json:"scores"`
	Tasks struct {
		Pending int `json:"pending"`
		Running int `json:"running"`
		Done    int `json:"done"`
		Failed  int `json:"failed"`
	} `json:"tasks"`
	Criteria  []Criterion `json:"criteria"`
	Threshold int         `json:"threshold"`
}

// ExportRow is one target with its entity and score breakdown, flattened
// for CSV/XLSX export.
type ExportRow struct {
	ScoredTarget
	MaxPossible  int                        `json:"max_possible"`
	ScoreDetails map[string]CriterionDetail `json:"score_details,omitempty"`
	EntityYear   int                        `json:"entity_year,omitempty"`
	EntityRegion string                     `json:"entity_region,omitempty"`
}

// Store is the persistence interface for the entity graph. Both the SQLite
// and Postgres implementations satisfy it.
type Store interface {
	// Config and criteria
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key, def string) (string, error)
	ConfigureCriteria(ctx context.Context, criteria []Criterion, threshold int) error
	ListCriteria(ctx context.Context) ([]Criterion, error)
	Threshold(ctx context.Context) (int, error)

	// Entities
	AddEntity(ctx context.Context, e Entity) (string, error)
	BulkAddEntities(ctx context.Context, entities []Entity) (int64, error)
	UpdateEntityStatus(ctx context.Context, id string, status EntityStatus) error
	GetEntity(ctx context.Context, id string) (*Entity, error)
	FindEntities(ctx context.Context, f EntityFilter) ([]Entity, error)
	CountEntities(ctx context.Context, status EntityStatus) (int, error)

	// Targets
	AddTarget(ctx context.Context, t Target) (string, error)
	UpdateTargetScan(ctx context.Context, t Target) error
	GetTarget(ctx context.Context, id string) (*Target, error)
	TargetsForEntity(ctx context.Context, entityID string) ([]Target, error)
	FindTargets(ctx context.Context, f TargetFilter) ([]ScoredTarget, error)

	// Scoring
	SetCriterion(ctx context.Context, targetID, name string, met bool, evidence string) error
	ComputeScore(ctx context.Context, targetID string) (*ScoreTotal, error)
	GetScore(ctx context.Context, targetID string) (*ScoreTotal, error)
	ComputeAllScores(ctx context.Context) (*ScoreSummary, error)

	// Task queue
	EnqueueTask(ctx context.Context, t Task) (string, error)
	NextTask(ctx context.Context) (*Task, error)
	CompleteTask(ctx context.Context, id string, result any, errMsg string) error
	CountTasks(ctx context.Context, status TaskStatus) (int, error)
	ListTasks(ctx context.Context, status TaskStatus, limit int) ([]Task, error)

	// Dedup log
	WasDone(ctx context.Context, action, key string) (bool, error)
	MarkDone(ctx context.Context, action, key, details string) error

	// Stats and export
	Stats(ctx context.Context) (*Stats, error)
	ExportValidated(ctx context.Context) ([]ExportRow, error)
	ExportAll(ctx context.Context) ([]ExportRow, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error
}

// Evaluate applies a criterion's check to a target using the declared kind.
// It returns whether the criterion is met plus a short evidence string.
func Evaluate(cr Criterion, t *Target, followerMin, followerMax int) (bool, string) {
	switch cr.Kind {
	case CheckLocalityEvidence:
		if t.LocationDetected {
			return true, "location detected on profile"
		}
		return false, ""
	case CheckTopicEvidence:
		if t.TopicDetected {
			return true, "topic keywords present"
		}
		if len(t.Keywords) > 0 {
			return true, "keywords: " + strings.Join(t.Keywords, ", ")
		}
		return false, ""
	case CheckFollowerRange:
		if t.Followers >= followerMin && t.Followers <= followerMax {
			return true, fmt.Sprintf("%d followers within [%d, %d]", t.Followers, followerMin, followerMax)
		}
		return false, fmt.Sprintf("%d followers outside [%d, %d]", t.Followers, followerMin, followerMax)
	case CheckRecentActivity:
		if t.IsActive {
			return true, "recent activity: " + t.LastActivity
		}
		return false, ""
	case CheckIsCreator:
		if t.IsCreator {
			return true, "publishes original content"
		}
		return false, ""
	case CheckExternalLinks:
		if len(t.ExternalLinks) > 0 {
			return true, fmt.Sprintf("%d external links", len(t.ExternalLinks))
		}
		return false, ""
	default:
		// Manual criteria are only set explicitly via SetCriterion.
		return false, ""
	}
}

// DefaultCriteria is the standard criteria set for creator discovery runs.
func DefaultCriteria() []Criterion {
	return []Criterion{
		{Name: "locality_confirmed", Label: "Locality confirmed", Points: 30, Kind: CheckLocalityEvidence},
		{Name: "topic_match", Label: "Topic keywords match", Points: 20, Kind: CheckTopicEvidence},
		{Name: "follower_range", Label: "Follower count in range", Points: 20, Kind: CheckFollowerRange},
		{Name: "recent_activity", Label: "Active in last 6 months", Points: 15, Kind: CheckRecentActivity},
		{Name: "is_creator", Label: "Publishes original content", Points: 10, Kind: CheckIsCreator},
		{Name: "external_links", Label: "Has external links", Points: 5, Kind: CheckExternalLinks},
	}
}

// DefaultThreshold is the validation cutoff paired with DefaultCriteria.
const DefaultThreshold = 60

// AutoScore evaluates every kind-based criterion against a target's scanned
// fields, records the results, and computes the composite score. Manual
// criteria are left as previously set.
func AutoScore(ctx context.Context, s Store, targetID string, followerMin, followerMax int) (*ScoreTotal, error) {
	t, err := s.GetTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	criteria, err := s.ListCriteria(ctx)
	if err != nil {
		return nil, err
	}
	for _, cr := range criteria {
		if cr.Kind == CheckManual || cr.Kind == "" {
			continue
		}
		met, evidence := Evaluate(cr, t, followerMin, followerMax)
		if err := s.SetCriterion(ctx, targetID, cr.Name, met, evidence); err != nil {
			return nil, err
		}
	}
	return s.ComputeScore(ctx, targetID)
}
