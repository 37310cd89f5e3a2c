package graph

import (
	"database/sql"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
)

// helpers shared by the SQLite store

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntity(row scannable) (*Entity, error) {
	var e Entity
	var status, metaJSON string
	err := row.Scan(&e.ID, &e.Name, &e.Kind, &e.Subkind, &e.Locality, &e.Region, &e.Country,
		&e.Institution, &e.Year, &e.SourceURL, &e.SourceType, &status, &metaJSON,
		&e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("entity not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan entity")
	}
	e.Status = EntityStatus(status)
	if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal entity metadata")
	}
	return &e, nil
}

func scanTargetFields(row scannable, t *Target, extra ...any) error {
	var entityID sql.NullString
	var isActive, locationDetected, topicDetected, isCreator int
	var keywordsJSON, linksJSON, rawJSON string

	dest := []any{
		&t.ID, &entityID, &t.Platform, &t.URL, &t.Name, &t.Description, &t.Followers,
		&t.LastActivity, &isActive, &keywordsJSON, &locationDetected, &topicDetected,
		&isCreator, &linksJSON, &rawJSON, &t.ScannedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}

	t.EntityID = entityID.String
	t.IsActive = isActive == 1
	t.LocationDetected = locationDetected == 1
	t.TopicDetected = topicDetected == 1
	t.IsCreator = isCreator == 1
	if err := json.Unmarshal([]byte(keywordsJSON), &t.Keywords); err != nil {
		return eris.Wrap(err, "unmarshal target keywords")
	}
	if err := json.Unmarshal([]byte(linksJSON), &t.ExternalLinks); err != nil {
		return eris.Wrap(err, "unmarshal target links")
	}
	t.RawData = json.RawMessage(rawJSON)
	return nil
}

func scanTarget(row scannable) (*Target, error) {
	var t Target
	err := scanTargetFields(row, &t)
	if err == sql.ErrNoRows {
		return nil, eris.New("target not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan target")
	}
	return &t, nil
}

func scanScoredTarget(row scannable) (*ScoredTarget, error) {
	var st ScoredTarget
	var validated int
	err := scanTargetFields(row, &st.Target,
		&st.ScoreTotal, &validated,
		&st.EntityName, &st.EntityLocality, &st.EntityKind, &st.Institution)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan scored target")
	}
	st.ScoreValidated = validated == 1
	return &st, nil
}

func scanExportRow(row scannable) (*ExportRow, error) {
	var r ExportRow
	var validated int
	var detailsJSON string
	err := scanTargetFields(row, &r.Target,
		&r.ScoreTotal, &validated,
		&r.EntityName, &r.EntityLocality, &r.EntityKind, &r.Institution,
		&r.MaxPossible, &detailsJSON, &r.EntityYear, &r.EntityRegion)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan export row")
	}
	r.ScoreValidated = validated == 1
	if err := json.Unmarshal([]byte(detailsJSON), &r.ScoreDetails); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal export details")
	}
	return &r, nil
}

func scanTask(row scannable) (*Task, error) {
	var t Task
	var status, resultJSON string
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.Type, &t.TargetType, &t.EntityID, &t.TargetID, &t.Query,
		&status, &t.Priority, &resultJSON, &t.Error, &t.CreatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan task")
	}
	t.Status = TaskStatus(status)
	t.Result = json.RawMessage(resultJSON)
	if startedAt.Valid {
		t.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = completedAt.Time
	}
	return &t, nil
}

func marshalTargetJSON(t *Target) (keywords, links, raw string, err error) {
	kw, err := json.Marshal(orEmptySlice(t.Keywords))
	if err != nil {
		return "", "", "", eris.Wrap(err, "marshal target keywords")
	}
	ln, err := json.Marshal(orEmptySlice(t.ExternalLinks))
	if err != nil {
		return "", "", "", eris.Wrap(err, "marshal target links")
	}
	rd := string(t.RawData)
	if rd == "" {
		rd = "{}"
	}
	return string(kw), string(ln), rd, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyAny(v any) any {
	if v == nil {
		return map[string]any{}
	}
	return v
}

func itoa(n int) string { return strconv.Itoa(n) }

func atoi(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
