package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/scout-cli/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hottest queries, prepared on each new
// connection.
var preparedStatements = map[string]string{
	"get_entity_by_key": `SELECT id FROM entities WHERE name = $1 AND locality = $2`,
	"get_target_by_url": `SELECT id FROM targets WHERE url = $1`,
	"was_done":          `SELECT 1 FROM logs WHERE action = $1 AND key = $2`,
	"mark_done":         `INSERT INTO logs (action, key, details, timestamp) VALUES ($1, $2, $3, $4) ON CONFLICT (action, key) DO NOTHING`,
	"set_criterion":     `INSERT INTO scores (target_id, criterion_name, met, points_awarded, evidence, computed_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (target_id, criterion_name) DO UPDATE SET met = EXCLUDED.met, points_awarded = EXCLUDED.points_awarded, evidence = EXCLUDED.evidence, computed_at = EXCLUDED.computed_at`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	metadata    JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(name, locality)
);

CREATE TABLE IF NOT EXISTS targets (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	entity_id         TEXT REFERENCES entities(id) ON DELETE CASCADE,
	platform          TEXT NOT NULL DEFAULT 'youtube',
	url               TEXT NOT NULL UNIQUE,
	name              TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	followers         INTEGER NOT NULL DEFAULT 0,
	last_activity     TEXT NOT NULL DEFAULT '',
	is_active         BOOLEAN NOT NULL DEFAULT FALSE,
	keywords          JSONB NOT NULL DEFAULT '[]',
	location_detected BOOLEAN NOT NULL DEFAULT FALSE,
	topic_detected    BOOLEAN NOT NULL DEFAULT FALSE,
	is_creator        BOOLEAN NOT NULL DEFAULT FALSE,
	external_links    JSONB NOT NULL DEFAULT '[]',
	raw_data          JSONB NOT NULL DEFAULT '{}',
	scanned_at        TIMESTAMPTZ NOT NULL DEFAULT now()
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
	met            BOOLEAN NOT NULL DEFAULT FALSE,
	points_awarded INTEGER NOT NULL DEFAULT 0,
	evidence       TEXT NOT NULL DEFAULT '',
	computed_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (target_id, criterion_name)
);

CREATE TABLE IF NOT EXISTS score_totals (
	target_id    TEXT PRIMARY KEY REFERENCES targets(id) ON DELETE CASCADE,
	total        INTEGER NOT NULL DEFAULT 0,
	max_possible INTEGER NOT NULL DEFAULT 0,
	validated    BOOLEAN NOT NULL DEFAULT FALSE,
	threshold    INTEGER NOT NULL DEFAULT 60,
	details      JSONB NOT NULL DEFAULT '{}',
	computed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	type         TEXT NOT NULL,
	target_type  TEXT NOT NULL DEFAULT '',
	entity_id    TEXT NOT NULL DEFAULT '',
	target_id    TEXT NOT NULL DEFAULT '',
	query        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	priority     INTEGER NOT NULL DEFAULT 5,
	result       JSONB NOT NULL DEFAULT '{}',
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS logs (
	action    TEXT NOT NULL,
	key       TEXT NOT NULL,
	details   TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Config and criteria

func (s *PostgresStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO config (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: set config %s", key)
}

func (s *PostgresStore) GetConfig(ctx context.Context, key, def string) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM config WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: get config %s", key)
	}
	return v, nil
}

func (s *PostgresStore) ConfigureCriteria(ctx context.Context, criteria []Criterion, threshold int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin configure criteria")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM criteria`); err != nil {
		return eris.Wrap(err, "postgres: clear criteria")
	}
	for i, cr := range criteria {
		label := cr.Label
		if label == "" {
			label = cr.Name
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO criteria (name, label, description, points, kind, category, sort_order)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			cr.Name, label, cr.Description, cr.Points, string(cr.Kind), defaultStr(cr.Category, "default"), i,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert criterion %s", cr.Name)
		}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO config (key, value) VALUES ('threshold', $1)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		itoa(threshold),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: set threshold")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit configure criteria")
}

func (s *PostgresStore) ListCriteria(ctx context.Context) ([]Criterion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, label, description, points, kind, category, sort_order
		 FROM criteria ORDER BY sort_order`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list criteria")
	}
	defer rows.Close()

	var out []Criterion
	for rows.Next() {
		var cr Criterion
		var kind string
		if err := rows.Scan(&cr.Name, &cr.Label, &cr.Description, &cr.Points, &kind, &cr.Category, &cr.SortOrder); err != nil {
			return nil, eris.Wrap(err, "postgres: scan criterion")
		}
		cr.Kind = CheckKind(kind)
		out = append(out, cr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list criteria iterate")
}

func (s *PostgresStore) Threshold(ctx context.Context) (int, error) {
	v, err := s.GetConfig(ctx, "threshold", itoa(DefaultThreshold))
	if err != nil {
		return 0, err
	}
	return atoi(v, DefaultThreshold), nil
}

// Entities

func (s *PostgresStore) AddEntity(ctx context.Context, e Entity) (string, error) {
	var existing string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM entities WHERE name = $1 AND locality = $2`,
		e.Name, e.Locality,
	).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", eris.Wrap(err, "postgres: dedup entity")
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	status := e.Status
	if status == "" {
		status = EntityFound
	}
	metaJSON, err := json.Marshal(orEmptyMap(e.Metadata))
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal entity metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO entities (id, name, kind, subkind, locality, region, country,
			institution, year, source_url, source_type, status, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		id, e.Name, defaultStr(e.Kind, "person"), e.Subkind, e.Locality, e.Region, e.Country,
		e.Institution, e.Year, e.SourceURL, e.SourceType, string(status), string(metaJSON), now, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert entity %s", e.Name)
	}
	return id, nil
}

// BulkAddEntities upserts a batch of entities keyed by (name, locality)
// using the COPY-into-temp-table path.
func (s *PostgresStore) BulkAddEntities(ctx context.Context, entities []Entity) (int64, error) {
	if len(entities) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(entities))
	for _, e := range entities {
		status := e.Status
		if status == "" {
			status = EntityFound
		}
		metaJSON, err := json.Marshal(orEmptyMap(e.Metadata))
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal metadata for %s", e.Name)
		}
		rows = append(rows, []any{
			uuid.New().String(), e.Name, defaultStr(e.Kind, "person"), e.Subkind,
			e.Locality, e.Region, e.Country, e.Institution, e.Year,
			e.SourceURL, e.SourceType, string(status), string(metaJSON), now, now,
		})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "entities",
		Columns: []string{"id", "name", "kind", "subkind", "locality", "region", "country",
			"institution", "year", "source_url", "source_type", "status", "metadata",
			"created_at", "updated_at"},
		ConflictKeys: []string{"name", "locality"},
		UpdateCols:   []string{"source_url", "source_type", "updated_at"},
	}, rows)
}

func (s *PostgresStore) UpdateEntityStatus(ctx context.Context, id string, status EntityStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE entities SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update entity status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("entity not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	return scanEntityPg(row)
}

func (s *PostgresStore) FindEntities(ctx context.Context, f EntityFilter) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE 1=1`
	var args []any
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}
	if f.Status != "" {
		query += ` AND status = ` + arg(string(f.Status))
	}
	if f.Locality != "" {
		query += ` AND locality = ` + arg(f.Locality)
	}
	if f.Kind != "" {
		query += ` AND kind = ` + arg(f.Kind)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` ORDER BY created_at DESC LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find entities")
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntityPg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find entities iterate")
}

func (s *PostgresStore) CountEntities(ctx context.Context, status EntityStatus) (int, error) {
	var n int
	var err error
	if status != "" {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM entities WHERE status = $1`, string(status)).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entities`).Scan(&n)
	}
	return n, eris.Wrap(err, "postgres: count entities")
}

// Targets

func (s *PostgresStore) AddTarget(ctx context.Context, t Target) (string, error) {
	var existing string
	err := s.pool.QueryRow(ctx, `SELECT id FROM targets WHERE url = $1`, t.URL).Scan(&existing)
	if err == nil {
		if t.EntityID != "" {
			_, err = s.pool.Exec(ctx,
				`UPDATE targets SET entity_id = $1 WHERE id = $2 AND (entity_id IS NULL OR entity_id = '')`,
				t.EntityID, existing,
			)
			if err != nil {
				return "", eris.Wrap(err, "postgres: link target entity")
			}
		}
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", eris.Wrap(err, "postgres: dedup target")
	}

	id := uuid.New().String()
	keywordsJSON, linksJSON, rawJSON, err := marshalTargetJSON(&t)
	if err != nil {
		return "", err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO targets (id, entity_id, platform, url, name, description, followers,
			last_activity, is_active, keywords, location_detected, topic_detected, is_creator,
			external_links, raw_data, scanned_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		id, nullStr(t.EntityID), defaultStr(t.Platform, "youtube"), t.URL, t.Name, t.Description,
		t.Followers, t.LastActivity, t.IsActive, keywordsJSON,
		t.LocationDetected, t.TopicDetected, t.IsCreator,
		linksJSON, rawJSON, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert target %s", t.URL)
	}
	return id, nil
}

func (s *PostgresStore) UpdateTargetScan(ctx context.Context, t Target) error {
	keywordsJSON, linksJSON, rawJSON, err := marshalTargetJSON(&t)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE targets SET name = $1, description = $2, followers = $3, last_activity = $4,
			is_active = $5, keywords = $6, location_detected = $7, topic_detected = $8,
			is_creator = $9, external_links = $10, raw_data = $11, scanned_at = $12
		 WHERE id = $13`,
		t.Name, t.Description, t.Followers, t.LastActivity,
		t.IsActive, keywordsJSON, t.LocationDetected, t.TopicDetected,
		t.IsCreator, linksJSON, rawJSON, time.Now().UTC(),
		t.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update target %s", t.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("target not found: %s", t.ID)
	}
	return nil
}

func (s *PostgresStore) GetTarget(ctx context.Context, id string) (*Target, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE id = $1`, id)
	return scanTargetPg(row)
}

func (s *PostgresStore) TargetsForEntity(ctx context.Context, entityID string) ([]Target, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE entity_id = $1 ORDER BY scanned_at DESC`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: targets for entity")
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		t, err := scanTargetPg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: targets for entity iterate")
}

func (s *PostgresStore) FindTargets(ctx context.Context, f TargetFilter) ([]ScoredTarget, error) {
	query := `SELECT t.id, t.entity_id, t.platform, t.url, t.name, t.description, t.followers,
		t.last_activity, t.is_active, t.keywords, t.location_detected, t.topic_detected,
		t.is_creator, t.external_links, t.raw_data, t.scanned_at,
		COALESCE(st.total, 0), COALESCE(st.validated, FALSE),
		COALESCE(e.name, ''), COALESCE(e.locality, ''), COALESCE(e.kind, ''), COALESCE(e.institution, '')
		FROM targets t
		LEFT JOIN score_totals st ON st.target_id = t.id
		LEFT JOIN entities e ON e.id = t.entity_id
		WHERE 1=1`
	var args []any
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}
	if f.Platform != "" {
		query += ` AND t.platform = ` + arg(f.Platform)
	}
	if f.Validated != nil {
		query += ` AND COALESCE(st.validated, FALSE) = ` + arg(*f.Validated)
	}
	if f.MinScore > 0 {
		query += ` AND COALESCE(st.total, 0) >= ` + arg(f.MinScore)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` ORDER BY COALESCE(st.total, 0) DESC LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find targets")
	}
	defer rows.Close()

	var out []ScoredTarget
	for rows.Next() {
		st, err := scanScoredTargetPg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find targets iterate")
}

// Scoring

func (s *PostgresStore) SetCriterion(ctx context.Context, targetID, name string, met bool, evidence string) error {
	var points int
	err := s.pool.QueryRow(ctx, `SELECT points FROM criteria WHERE name = $1`, name).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		points = 0
	} else if err != nil {
		return eris.Wrapf(err, "postgres: lookup criterion %s", name)
	}
	awarded := 0
	if met {
		awarded = points
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scores (target_id, criterion_name, met, points_awarded, evidence, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (target_id, criterion_name) DO UPDATE SET
			met = EXCLUDED.met, points_awarded = EXCLUDED.points_awarded,
			evidence = EXCLUDED.evidence, computed_at = EXCLUDED.computed_at`,
		targetID, name, met, awarded, evidence, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set criterion %s for target %s", name, targetID)
}

func (s *PostgresStore) ComputeScore(ctx context.Context, targetID string) (*ScoreTotal, error) {
	criteria, err := s.ListCriteria(ctx)
	if err != nil {
		return nil, err
	}
	threshold, err := s.Threshold(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin compute score")
	}
	defer tx.Rollback(ctx)

	total := &ScoreTotal{
		TargetID:   targetID,
		Threshold:  threshold,
		Details:    make(map[string]CriterionDetail, len(criteria)),
		ComputedAt: time.Now().UTC(),
	}
	for _, cr := range criteria {
		total.MaxPossible += cr.Points
		var met bool
		var awarded int
		var evidence string
		err := tx.QueryRow(ctx,
			`SELECT met, points_awarded, evidence FROM scores WHERE target_id = $1 AND criterion_name = $2`,
			targetID, cr.Name,
		).Scan(&met, &awarded, &evidence)
		if errors.Is(err, pgx.ErrNoRows) {
			met, awarded, evidence = false, 0, ""
		} else if err != nil {
			return nil, eris.Wrapf(err, "postgres: read score %s", cr.Name)
		}
		total.Total += awarded
		total.Details[cr.Name] = CriterionDetail{
			Label:    cr.Label,
			Max:      cr.Points,
			Awarded:  awarded,
			Met:      met,
			Evidence: evidence,
		}
	}
	total.Validated = total.Total >= threshold

	detailsJSON, err := json.Marshal(total.Details)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal score details")
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO score_totals (target_id, total, max_possible, validated, threshold, details, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (target_id) DO UPDATE SET
			total = EXCLUDED.total, max_possible = EXCLUDED.max_possible,
			validated = EXCLUDED.validated, threshold = EXCLUDED.threshold,
			details = EXCLUDED.details, computed_at = EXCLUDED.computed_at`,
		targetID, total.Total, total.MaxPossible, total.Validated,
		threshold, string(detailsJSON), total.ComputedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert score total %s", targetID)
	}

	var entityID *string
	err = tx.QueryRow(ctx, `SELECT entity_id FROM targets WHERE id = $1`, targetID).Scan(&entityID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: target entity %s", targetID)
	}
	if entityID != nil && *entityID != "" {
		status := EntityScored
		if total.Validated {
			status = EntityValidated
		}
		_, err = tx.Exec(ctx,
			`UPDATE entities SET status = $1, updated_at = $2 WHERE id = $3`,
			string(status), time.Now().UTC(), *entityID,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: update entity status after score")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit compute score")
	}
	return total, nil
}

func (s *PostgresStore) GetScore(ctx context.Context, targetID string) (*ScoreTotal, error) {
	var st ScoreTotal
	var detailsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT target_id, total, max_possible, validated, threshold, details, computed_at
		 FROM score_totals WHERE target_id = $1`,
		targetID,
	).Scan(&st.TargetID, &st.Total, &st.MaxPossible, &st.Validated, &st.Threshold, &detailsJSON, &st.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get score %s", targetID)
	}
	if err := json.Unmarshal(detailsJSON, &st.Details); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal score details")
	}
	return &st, nil
}

func (s *PostgresStore) ComputeAllScores(ctx context.Context) (*ScoreSummary, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM targets`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list target ids")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan target id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list target ids iterate")
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

func (s *PostgresStore) EnqueueTask(ctx context.Context, t Task) (string, error) {
	var existing string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM tasks WHERE type = $1 AND entity_id = $2 AND target_id = $3
		 AND status IN ('pending', 'running')`,
		t.Type, t.EntityID, t.TargetID,
	).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", eris.Wrap(err, "postgres: dedup task")
	}

	id := uuid.New().String()
	priority := t.Priority
	if priority <= 0 {
		priority = 5
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (id, type, target_type, entity_id, target_id, query, status, priority, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8)`,
		id, t.Type, t.TargetType, t.EntityID, t.TargetID, t.Query, priority, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert task %s", t.Type)
	}
	return id, nil
}

func (s *PostgresStore) NextTask(ctx context.Context) (*Task, error) {
	// Claim atomically so concurrent workers never take the same task.
	row := s.pool.QueryRow(ctx,
		`UPDATE tasks SET status = 'running', started_at = now()
		 WHERE id = (
			SELECT id FROM tasks WHERE status = 'pending'
			ORDER BY priority ASC, created_at ASC LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, type, target_type, entity_id, target_id, query, status, priority,
			result, error, created_at, started_at, completed_at`,
	)
	t, err := scanTaskPg(row)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *PostgresStore) CompleteTask(ctx context.Context, id string, result any, errMsg string) error {
	resultJSON, err := json.Marshal(orEmptyAny(result))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal task result")
	}
	status := TaskDone
	if errMsg != "" {
		status = TaskFailed
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, result = $2, error = $3, completed_at = $4 WHERE id = $5`,
		string(status), string(resultJSON), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete task %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("task not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) CountTasks(ctx context.Context, status TaskStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status = $1`, string(status)).Scan(&n)
	return n, eris.Wrap(err, "postgres: count tasks")
}

func (s *PostgresStore) ListTasks(ctx context.Context, status TaskStatus, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, type, target_type, entity_id, target_id, query, status, priority,
		result, error, created_at, started_at, completed_at FROM tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
		args = []any{string(status), limit}
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = []any{limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTaskPg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list tasks iterate")
}

// Dedup log

func (s *PostgresStore) WasDone(ctx context.Context, action, key string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM logs WHERE action = $1 AND key = $2`, action, key).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: was done %s/%s", action, key)
	}
	return true, nil
}

func (s *PostgresStore) MarkDone(ctx context.Context, action, key, details string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO logs (action, key, details, timestamp) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (action, key) DO NOTHING`,
		action, key, details, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: mark done %s/%s", action, key)
}

// Stats and export

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	st.Entities.ByStatus = make(map[string]int)
	st.Targets.ByPlatform = make(map[string]int)

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entities`).Scan(&st.Entities.Total); err != nil {
		return nil, eris.Wrap(err, "postgres: stats entities")
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM targets`).Scan(&st.Targets.Total); err != nil {
		return nil, eris.Wrap(err, "postgres: stats targets")
	}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM entities GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats entity statuses")
	}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan entity status count")
		}
		st.Entities.ByStatus[k] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats entity statuses iterate")
	}

	rows, err = s.pool.Query(ctx, `SELECT platform, COUNT(*) FROM targets GROUP BY platform`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats platforms")
	}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan platform count")
		}
		st.Targets.ByPlatform[k] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats platforms iterate")
	}

	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM score_totals WHERE validated`).Scan(&st.Scores.Validated); err != nil {
		return nil, eris.Wrap(err, "postgres: stats validated")
	}
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM score_totals WHERE NOT validated`).Scan(&st.Scores.Rejected); err != nil {
		return nil, eris.Wrap(err, "postgres: stats rejected")
	}
	var avg *float64
	if err := s.pool.QueryRow(ctx, `SELECT AVG(total) FROM score_totals`).Scan(&avg); err != nil {
		return nil, eris.Wrap(err, "postgres: stats avg score")
	}
	if avg != nil {
		st.Scores.AvgScore = float64(int(*avg*10+0.5)) / 10
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

const pgExportQuery = `SELECT t.id, t.entity_id, t.platform, t.url, t.name, t.description, t.followers,
	t.last_activity, t.is_active, t.keywords, t.location_detected, t.topic_detected,
	t.is_creator, t.external_links, t.raw_data, t.scanned_at,
	COALESCE(st.total, 0), COALESCE(st.validated, FALSE),
	COALESCE(e.name, ''), COALESCE(e.locality, ''), COALESCE(e.kind, ''), COALESCE(e.institution, ''),
	COALESCE(st.max_possible, 0), COALESCE(st.details, '{}'),
	COALESCE(e.year, 0), COALESCE(e.region, '')
	FROM targets t
	%s JOIN score_totals st ON st.target_id = t.id
	LEFT JOIN entities e ON e.id = t.entity_id
	%s
	ORDER BY COALESCE(st.total, 0) DESC`

func (s *PostgresStore) ExportValidated(ctx context.Context) ([]ExportRow, error) {
	return s.export(ctx, fmt.Sprintf(pgExportQuery, "", "WHERE st.validated"))
}

func (s *PostgresStore) ExportAll(ctx context.Context) ([]ExportRow, error) {
	return s.export(ctx, fmt.Sprintf(pgExportQuery, "LEFT", ""))
}

func (s *PostgresStore) export(ctx context.Context, query string) ([]ExportRow, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: export")
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		r, err := scanExportRowPg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: export iterate")
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	for _, table := range []string{"scores", "score_totals", "tasks", "logs", "targets", "entities"} {
		if _, err := s.pool.Exec(ctx, `DELETE FROM `+table); err != nil {
			return eris.Wrapf(err, "postgres: reset %s", table)
		}
	}
	return nil
}
