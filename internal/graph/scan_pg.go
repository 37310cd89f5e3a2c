package graph

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// pgx scanners. The postgres schema uses native booleans and JSONB, so
// these differ from the SQLite scanners in destination types only.

func scanEntityPg(row scannable) (*Entity, error) {
	var e Entity
	var status string
	var metaJSON []byte
	err := row.Scan(&e.ID, &e.Name, &e.Kind, &e.Subkind, &e.Locality, &e.Region, &e.Country,
		&e.Institution, &e.Year, &e.SourceURL, &e.SourceType, &status, &metaJSON,
		&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("entity not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan entity")
	}
	e.Status = EntityStatus(status)
	if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal entity metadata")
	}
	return &e, nil
}

func scanTargetFieldsPg(row scannable, t *Target, extra ...any) error {
	var entityID *string
	var keywordsJSON, linksJSON, rawJSON []byte

	dest := []any{
		&t.ID, &entityID, &t.Platform, &t.URL, &t.Name, &t.Description, &t.Followers,
		&t.LastActivity, &t.IsActive, &keywordsJSON, &t.LocationDetected, &t.TopicDetected,
		&t.IsCreator, &linksJSON, &rawJSON, &t.ScannedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}

	if entityID != nil {
		t.EntityID = *entityID
	}
	if err := json.Unmarshal(keywordsJSON, &t.Keywords); err != nil {
		return eris.Wrap(err, "unmarshal target keywords")
	}
	if err := json.Unmarshal(linksJSON, &t.ExternalLinks); err != nil {
		return eris.Wrap(err, "unmarshal target links")
	}
	t.RawData = json.RawMessage(rawJSON)
	return nil
}

func scanTargetPg(row scannable) (*Target, error) {
	var t Target
	err := scanTargetFieldsPg(row, &t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("target not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan target")
	}
	return &t, nil
}

func scanScoredTargetPg(row scannable) (*ScoredTarget, error) {
	var st ScoredTarget
	err := scanTargetFieldsPg(row, &st.Target,
		&st.ScoreTotal, &st.ScoreValidated,
		&st.EntityName, &st.EntityLocality, &st.EntityKind, &st.Institution)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan scored target")
	}
	return &st, nil
}

func scanExportRowPg(row scannable) (*ExportRow, error) {
	var r ExportRow
	var detailsJSON []byte
	err := scanTargetFieldsPg(row, &r.Target,
		&r.ScoreTotal, &r.ScoreValidated,
		&r.EntityName, &r.EntityLocality, &r.EntityKind, &r.Institution,
		&r.MaxPossible, &detailsJSON, &r.EntityYear, &r.EntityRegion)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan export row")
	}
	if err := json.Unmarshal(detailsJSON, &r.ScoreDetails); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal export details")
	}
	return &r, nil
}

func scanTaskPg(row scannable) (*Task, error) {
	var t Task
	var status string
	var resultJSON []byte
	var startedAt, completedAt *time.Time
	err := row.Scan(&t.ID, &t.Type, &t.TargetType, &t.EntityID, &t.TargetID, &t.Query,
		&status, &t.Priority, &resultJSON, &t.Error, &t.CreatedAt, &startedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan task")
	}
	t.Status = TaskStatus(status)
	t.Result = json.RawMessage(resultJSON)
	if startedAt != nil {
		t.StartedAt = *startedAt
	}
	if completedAt != nil {
		t.CompletedAt = *completedAt
	}
	return &t, nil
}
