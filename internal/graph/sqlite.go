package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT 'person',
	subkind     TEXT NOT NULL DEFAULT '',
	locality    TEXT NOT NULL DEFAULT '',
	region      TEXT NOT NULL DEFAULT '',
	country     TEXT NOT NULL DEFAULT '',
	institution TEXT NOT NULL DEFAULT '',
	year        INTEGER NOT NULL DEFAULT 0,
	source_url  TEXT NOT NULL DEFAULT '',
	source_type TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'found',
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(name, locality)
);

CREATE TABLE IF NOT EXISTS targets (
	id                TEXT PRIMARY KEY,
	entity_id         TEXT REFERENCES entities(id) ON DELETE CASCADE,
	platform          TEXT NOT NULL DEFAULT 'youtube',
	url               TEXT NOT NULL UNIQUE,
	name              TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	followers         INTEGER NOT NULL DEFAULT 0,
	last_activity     TEXT NOT NULL DEFAULT '',
	is_active         INTEGER NOT NULL DEFAULT 0,
	keywords          TEXT NOT NULL DEFAULT '[]',
	location_detected INTEGER NOT NULL DEFAULT 0,
	topic_detected    INTEGER NOT NULL DEFAULT 0,
	is_creator        INTEGER NOT NULL DEFAULT 0,
	external_links    TEXT NOT NULL DEFAULT '[]',
	raw_data          TEXT NOT NULL DEFAULT '{}',
	scanned_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS criteria (
	name        TEXT PRIMARY KEY,
	label       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	points      INTEGER NOT NULL DEFAULT 0,
	kind        TEXT NOT NULL DEFAULT 'manual',
	category    TEXT NOT NULL DEFAULT 'default',
	sort_order  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS scores (
	target_id      TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
	criterion_name TEXT NOT NULL,
	met            INTEGER NOT NULL DEFAULT 0,
	points_awarded INTEGER NOT NULL DEFAULT 0,
	evidence       TEXT NOT NULL DEFAULT '',
	computed_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (target_id, criterion_name)
);

CREATE TABLE IF NOT EXISTS score_totals (
	target_id    TEXT PRIMARY KEY REFERENCES targets(id) ON DELETE CASCADE,
	total        INTEGER NOT NULL DEFAULT 0,
	max_possible INTEGER NOT NULL DEFAULT 0,
	validated    INTEGER NOT NULL DEFAULT 0,
	threshold    INTEGER NOT NULL DEFAULT 60,
	details      TEXT NOT NULL DEFAULT '{}',
	computed_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	target_type  TEXT NOT NULL DEFAULT '',
	entity_id    TEXT NOT NULL DEFAULT '',
	target_id    TEXT NOT NULL DEFAULT '',
	query        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	priority     INTEGER NOT NULL DEFAULT 5,
	result       TEXT NOT NULL DEFAULT '{}',
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at   DATETIME,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS logs (
	action    TEXT NOT NULL,
	key       TEXT NOT NULL,
	details   TEXT NOT NULL DEFAULT '',
	timestamp DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (action, key)
);

CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(status);
CREATE INDEX IF NOT EXISTS idx_entities_locality ON entities(locality);
CREATE INDEX IF NOT EXISTS idx_targets_entity ON targets(entity_id);
CREATE INDEX IF NOT EXISTS idx_targets_platform ON targets(platform);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Config and criteria

func (s *SQLiteStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return eris.Wrapf(err, "sqlite: set config %s", key)
}

func (s *SQLiteStore) GetConfig(ctx context.Context, key, def string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get config %s", key)
	}
	return v, nil
}

func (s *SQLiteStore) ConfigureCriteria(ctx context.Context, criteria []Criterion, threshold int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin configure criteria")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM criteria`); err != nil {
		return eris.Wrap(err, "sqlite: clear criteria")
	}
	for i, cr := range criteria {
		label := cr.Label
		if label == "" {
			label = cr.Name
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO criteria (name, label, description, points, kind, category, sort_order)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cr.Name, label, cr.Description, cr.Points, string(cr.Kind), defaultStr(cr.Category, "default"), i,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert criterion %s", cr.Name)
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES ('threshold', ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		itoa(threshold),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: set threshold")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit configure criteria")
}

func (s *SQLiteStore) ListCriteria(ctx context.Context) ([]Criterion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, label, description, points, kind, category, sort_order
		 FROM criteria ORDER BY sort_order`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list criteria")
	}
	defer rows.Close()

	var out []Criterion
	for rows.Next() {
		var cr Criterion
		var kind string
		if err := rows.Scan(&cr.Name, &cr.Label, &cr.Description, &cr.Points, &kind, &cr.Category, &cr.SortOrder); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan criterion")
		}
		cr.Kind = CheckKind(kind)
		out = append(out, cr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list criteria iterate")
}

func (s *SQLiteStore) Threshold(ctx context.Context) (int, error) {
	v, err := s.GetConfig(ctx, "threshold", itoa(DefaultThreshold))
	if err != nil {
		return 0, err
	}
	return atoi(v, DefaultThreshold), nil
}

// Entities

func (s *SQLiteStore) AddEntity(ctx context.Context, e Entity) (string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM entities WHERE name = ? AND locality = ?`,
		e.Name, e.Locality,
	).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return "", eris.Wrap(err, "sqlite: dedup entity")
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	status := e.Status
	if status == "" {
		status = EntityFound
	}
	metaJSON, err := json.Marshal(orEmptyMap(e.Metadata))
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal entity metadata")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (id, name, kind, subkind, locality, region, country,
			institution, year, source_url, source_type, status, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.Name, defaultStr(e.Kind, "person"), e.Subkind, e.Locality, e.Region, e.Country,
		e.Institution, e.Year, e.SourceURL, e.SourceType, string(status), string(metaJSON), now, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert entity %s", e.Name)
	}
	return id, nil
}

// BulkAddEntities inserts a batch one row at a time. SQLite has no COPY
// protocol, so the batch path just reuses the deduping single insert.
func (s *SQLiteStore) BulkAddEntities(ctx context.Context, entities []Entity) (int64, error) {
	var n int64
	for _, e := range entities {
		if _, err := s.AddEntity(ctx, e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *SQLiteStore) UpdateEntityStatus(ctx context.Context, id string, status EntityStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update entity status %s", id)
	}
	return checkRowsAffected(res, "entity", id)
}

const entityColumns = `id, name, kind, subkind, locality, region, country, institution,
	year, source_url, source_type, status, metadata, created_at, updated_at`

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	return scanEntity(row)
}

func (s *SQLiteStore) FindEntities(ctx context.Context, f EntityFilter) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Locality != "" {
		query += ` AND locality = ?`
		args = append(args, f.Locality)
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find entities")
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find entities iterate")
}

func (s *SQLiteStore) CountEntities(ctx context.Context, status EntityStatus) (int, error) {
	var n int
	var err error
	if status != "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM entities WHERE status = ?`, string(status)).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&n)
	}
	return n, eris.Wrap(err, "sqlite: count entities")
}

// Targets

func (s *SQLiteStore) AddTarget(ctx context.Context, t Target) (string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM targets WHERE url = ?`, t.URL).Scan(&existing)
	if err == nil {
		// Link to entity if not already linked.
		if t.EntityID != "" {
			_, err = s.db.ExecContext(ctx,
				`UPDATE targets SET entity_id = ? WHERE id = ? AND (entity_id IS NULL OR entity_id = '')`,
				t.EntityID, existing,
			)
			if err != nil {
				return "", eris.Wrap(err, "sqlite: link target entity")
			}
		}
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return "", eris.Wrap(err, "sqlite: dedup target")
	}

	id := uuid.New().String()
	keywordsJSON, linksJSON, rawJSON, err := marshalTargetJSON(&t)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO targets (id, entity_id, platform, url, name, description, followers,
			last_activity, is_active, keywords, location_detected, topic_detected, is_creator,
			external_links, raw_data, scanned_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, nullStr(t.EntityID), defaultStr(t.Platform, "youtube"), t.URL, t.Name, t.Description,
		t.Followers, t.LastActivity, boolInt(t.IsActive), keywordsJSON,
		boolInt(t.LocationDetected), boolInt(t.TopicDetected), boolInt(t.IsCreator),
		linksJSON, rawJSON, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert target %s", t.URL)
	}
	return id, nil
}

func (s *SQLiteStore) UpdateTargetScan(ctx context.Context, t Target) error {
	keywordsJSON, linksJSON, rawJSON, err := marshalTargetJSON(&t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE targets SET name = ?, description = ?, followers = ?, last_activity = ?,
			is_active = ?, keywords = ?, location_detected = ?, topic_detected = ?,
			is_creator = ?, external_links = ?, raw_data = ?, scanned_at = ?
		 WHERE id = ?`,
		t.Name, t.Description, t.Followers, t.LastActivity,
		boolInt(t.IsActive), keywordsJSON, boolInt(t.LocationDetected), boolInt(t.TopicDetected),
		boolInt(t.IsCreator), linksJSON, rawJSON, time.Now().UTC(),
		t.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update target %s", t.ID)
	}
	return checkRowsAffected(res, "target", t.ID)
}

const targetColumns = `id, entity_id, platform, url, name, description, followers,
	last_activity, is_active, keywords, location_detected, topic_detected, is_creator,
	external_links, raw_data, scanned_at`

func (s *SQLiteStore) GetTarget(ctx context.Context, id string) (*Target, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE id = ?`, id)
	return scanTarget(row)
}

func (s *SQLiteStore) TargetsForEntity(ctx context.Context, entityID string) ([]Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE entity_id = ? ORDER BY scanned_at DESC`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: targets for entity")
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: targets for entity iterate")
}

func (s *SQLiteStore) FindTargets(ctx context.Context, f TargetFilter) ([]ScoredTarget, error) {
	query := `SELECT t.id, t.entity_id, t.platform, t.url, t.name, t.description, t.followers,
		t.last_activity, t.is_active, t.keywords, t.location_detected, t.topic_detected,
		t.is_creator, t.external_links, t.raw_data, t.scanned_at,
		COALESCE(st.total, 0), COALESCE(st.validated, 0),
		COALESCE(e.name, ''), COALESCE(e.locality, ''), COALESCE(e.kind, ''), COALESCE(e.institution, '')
		FROM targets t
		LEFT JOIN score_totals st ON st.target_id = t.id
		LEFT JOIN entities e ON e.id = t.entity_id
		WHERE 1=1`
	var args []any
	if f.Platform != "" {
		query += ` AND t.platform = ?`
		args = append(args, f.Platform)
	}
	if f.Validated != nil {
		query += ` AND COALESCE(st.validated, 0) = ?`
		args = append(args, boolInt(*f.Validated))
	}
	if f.MinScore > 0 {
		query += ` AND COALESCE(st.total, 0) >= ?`
		args = append(args, f.MinScore)
	}
	query += ` ORDER BY COALESCE(st.total, 0) DESC LIMIT ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find targets")
	}
	defer rows.Close()

	var out []ScoredTarget
	for rows.Next() {
		st, err := scanScoredTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find targets iterate")
}

// Scoring

func (s *SQLiteStore) SetCriterion(ctx context.Context, targetID, name string, met bool, evidence string) error {
	var points int
	err := s.db.QueryRowContext(ctx, `SELECT points FROM criteria WHERE name = ?`, name).Scan(&points)
	if err == sql.ErrNoRows {
		points = 0
	} else if err != nil {
		return eris.Wrapf(err, "sqlite: lookup criterion %s", name)
	}
	awarded := 0
	if met {
		awarded = points
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scores (target_id, criterion_name, met, points_awarded, evidence, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (target_id, criterion_name) DO UPDATE SET
			met = excluded.met, points_awarded = excluded.points_awarded,
			evidence = excluded.evidence, computed_at = excluded.computed_at`,
		targetID, name, boolInt(met), awarded, evidence, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set criterion %s for target %s", name, targetID)
}

func (s *SQLiteStore) ComputeScore(ctx context.Context, targetID string) (*ScoreTotal, error) {
	criteria, err := s.ListCriteria(ctx)
	if err != nil {
		return nil, err
	}
	threshold, err := s.Threshold(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin compute score")
	}
	defer tx.Rollback()

	total := &ScoreTotal{
		TargetID:   targetID,
		Threshold:  threshold,
		Details:    make(map[string]CriterionDetail, len(criteria)),
		ComputedAt: time.Now().UTC(),
	}
	for _, cr := range criteria {
		total.MaxPossible += cr.Points
		var met int
		var awarded int
		var evidence string
		err := tx.QueryRowContext(ctx,
			`SELECT met, points_awarded, evidence FROM scores WHERE target_id = ? AND criterion_name = ?`,
			targetID, cr.Name,
		).Scan(&met, &awarded, &evidence)
		if err == sql.ErrNoRows {
			met, awarded, evidence = 0, 0, ""
		} else if err != nil {
			return nil, eris.Wrapf(err, "sqlite: read score %s", cr.Name)
		}
		total.Total += awarded
		total.Details[cr.Name] = CriterionDetail{
			Label:    cr.Label,
			Max:      cr.Points,
			Awarded:  awarded,
			Met:      met == 1,
			Evidence: evidence,
		}
	}
	total.Validated = total.Total >= threshold

	detailsJSON, err := json.Marshal(total.Details)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal score details")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO score_totals (target_id, total, max_possible, validated, threshold, details, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (target_id) DO UPDATE SET
			total = excluded.total, max_possible = excluded.max_possible,
			validated = excluded.validated, threshold = excluded.threshold,
			details = excluded.details, computed_at = excluded.computed_at`,
		targetID, total.Total, total.MaxPossible, boolInt(total.Validated),
		threshold, string(detailsJSON), total.ComputedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert score total %s", targetID)
	}

	// Promote or demote the owning entity based on the outcome.
	var entityID sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT entity_id FROM targets WHERE id = ?`, targetID).Scan(&entityID)
	if err != nil && err != sql.ErrNoRows {
		return nil, eris.Wrapf(err, "sqlite: target entity %s", targetID)
	}
	if entityID.Valid && entityID.String != "" {
		status := EntityScored
		if total.Validated {
			status = EntityValidated
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE entities SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), time.Now().UTC(), entityID.String,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: update entity status after score")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit compute score")
	}
	return total, nil
}

func (s *SQLiteStore) GetScore(ctx context.Context, targetID string) (*ScoreTotal, error) {
	var st ScoreTotal
	var validated int
	var detailsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT target_id, total, max_possible, validated, threshold, details, computed_at
		 FROM score_totals WHERE target_id = ?`,
		targetID,
	).Scan(&st.TargetID, &st.Total, &st.MaxPossible, &validated, &st.Threshold, &detailsJSON, &st.ComputedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get score %s", targetID)
	}
	st.Validated = validated == 1
	if err := json.Unmarshal([]byte(detailsJSON), &st.Details); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal score details")
	}
	return &st, nil
}

func (s *SQLiteStore) ComputeAllScores(ctx context.Context) (*ScoreSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM targets`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list target ids")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan target id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list target ids iterate")
	}

	summary := &ScoreSummary{TotalTargets: len(ids)}
	for _, id := range ids {
		st, err := s.ComputeScore(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Validated {
			summary.Validated++
		} else {
			summary.Rejected++
		}
	}
	return summary, nil
}

// Task queue

func (s *SQLiteStore) EnqueueTask(ctx context.Context, t Task) (string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM tasks WHERE type = ? AND entity_id = ? AND target_id = ?
		 AND status IN ('pending', 'running')`,
		t.Type, t.EntityID, t.TargetID,
	).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return "", eris.Wrap(err, "sqlite: dedup task")
	}

	id := uuid.New().String()
	priority := t.Priority
	if priority <= 0 {
		priority = 5
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, type, target_type, entity_id, target_id, query, status, priority, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)`,
		id, t.Type, t.TargetType, t.EntityID, t.TargetID, t.Query, priority, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert task %s", t.Type)
	}
	return id, nil
}

func (s *SQLiteStore) NextTask(ctx context.Context) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin next task")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, type, target_type, entity_id, target_id, query, status, priority,
			result, error, created_at, started_at, completed_at
		 FROM tasks WHERE status = 'pending'
		 ORDER BY priority ASC, created_at ASC LIMIT 1`,
	)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'running', started_at = ? WHERE id = ?`, now, t.ID,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: claim task %s", t.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit next task")
	}
	t.Status = TaskRunning
	t.StartedAt = now
	return t, nil
}

func (s *SQLiteStore) CompleteTask(ctx context.Context, id string, result any, errMsg string) error {
	resultJSON, err := json.Marshal(orEmptyAny(result))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal task result")
	}
	status := TaskDone
	if errMsg != "" {
		status = TaskFailed
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), string(resultJSON), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete task %s", id)
	}
	return checkRowsAffected(res, "task", id)
}

func (s *SQLiteStore) CountTasks(ctx context.Context, status TaskStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status = ?`, string(status)).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count tasks")
}

func (s *SQLiteStore) ListTasks(ctx context.Context, status TaskStatus, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, type, target_type, entity_id, target_id, query, status, priority,
		result, error, created_at, started_at, completed_at FROM tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list tasks iterate")
}

// Dedup log

func (s *SQLiteStore) WasDone(ctx context.Context, action, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM logs WHERE action = ? AND key = ?`, action, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: was done %s/%s", action, key)
	}
	return true, nil
}

func (s *SQLiteStore) MarkDone(ctx context.Context, action, key, details string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (action, key, details, timestamp) VALUES (?, ?, ?, ?)
		 ON CONFLICT (action, key) DO NOTHING`,
		action, key, details, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: mark done %s/%s", action, key)
}

// Stats and export

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	st.Entities.ByStatus = make(map[string]int)
	st.Targets.ByPlatform = make(map[string]int)

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&st.Entities.Total); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats entities")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM targets`).Scan(&st.Targets.Total); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats targets")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM entities GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats entity statuses")
	}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan entity status count")
		}
		st.Entities.ByStatus[k] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats entity statuses iterate")
	}

	rows, err = s.db.QueryContext(ctx, `SELECT platform, COUNT(*) FROM targets GROUP BY platform`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats platforms")
	}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan platform count")
		}
		st.Targets.ByPlatform[k] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats platforms iterate")
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM score_totals WHERE validated = 1`).Scan(&st.Scores.Validated); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats validated")
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM score_totals WHERE validated = 0`).Scan(&st.Scores.Rejected); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats rejected")
	}
	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(total) FROM score_totals`).Scan(&avg); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats avg score")
	}
	if avg.Valid {
		st.Scores.AvgScore = float64(int(avg.Float64*10+0.5)) / 10
	}
	st.Scores.Unscored = st.Targets.Total - st.Scores.Validated - st.Scores.Rejected

	for status, dst := range map[TaskStatus]*int{
		TaskPending: &st.Tasks.Pending,
		TaskRunning: &st.Tasks.Running,
		TaskDone:    &st.Tasks.Done,
		TaskFailed:  &st.Tasks.Failed,
	} {
		n, err := s.CountTasks(ctx, status)
		if err != nil {
			return nil, err
		}
		*dst = n
	}

	st.Criteria, err = s.ListCriteria(ctx)
	if err != nil {
		return nil, err
	}
	st.Threshold, err = s.Threshold(ctx)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

const exportQuery = `SELECT t.id, t.entity_id, t.platform, t.url, t.name, t.description, t.followers,
	t.last_activity, t.is_active, t.keywords, t.location_detected, t.topic_detected,
	t.is_creator, t.external_links, t.raw_data, t.scanned_at,
	COALESCE(st.total, 0), COALESCE(st.validated, 0),
	COALESCE(e.name, ''), COALESCE(e.locality, ''), COALESCE(e.kind, ''), COALESCE(e.institution, ''),
	COALESCE(st.max_possible, 0), COALESCE(st.details, '{}'),
	COALESCE(e.year, 0), COALESCE(e.region, '')
	FROM targets t
	%s JOIN score_totals st ON st.target_id = t.id
	LEFT JOIN entities e ON e.id = t.entity_id
	%s
	ORDER BY COALESCE(st.total, 0) DESC`

func (s *SQLiteStore) ExportValidated(ctx context.Context) ([]ExportRow, error) {
	return s.export(ctx, fmt.Sprintf(exportQuery, "", "WHERE st.validated = 1"))
}

func (s *SQLiteStore) ExportAll(ctx context.Context) ([]ExportRow, error) {
	return s.export(ctx, fmt.Sprintf(exportQuery, "LEFT", ""))
}

func (s *SQLiteStore) export(ctx context.Context, query string) ([]ExportRow, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: export")
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		r, err := scanExportRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: export iterate")
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	for _, table := range []string{"scores", "score_totals", "tasks", "logs", "targets", "entities"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return eris.Wrapf(err, "sqlite: reset %s", table)
		}
	}
	return nil
}
