package export

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/scout-cli/internal/graph"
)

var graphHeader = []string{
	"entity_name", "locality", "region", "kind", "platform", "url",
	"followers", "score_total", "max_possible", "validated",
	"is_active", "location_detected", "topic_detected", "description",
}

func graphRow(r graph.ExportRow) []string {
	desc := r.Description
	if len(desc) > 200 {
		desc = desc[:200]
	}
	return []string{
		r.EntityName,
		r.EntityLocality,
		r.EntityRegion,
		r.EntityKind,
		r.Platform,
		r.URL,
		strconv.Itoa(r.Followers),
		strconv.Itoa(r.ScoreTotal),
		strconv.Itoa(r.MaxPossible),
		strconv.FormatBool(r.ScoreValidated),
		strconv.FormatBool(r.IsActive),
		strconv.FormatBool(r.LocationDetected),
		strconv.FormatBool(r.TopicDetected),
		desc,
	}
}

// WriteGraphCSV writes graph export rows to a standalone CSV file.
func WriteGraphCSV(path string, rows []graph.ExportRow) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(graphHeader); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, r := range rows {
		if err := w.Write(graphRow(r)); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "export: flush csv")
}

// WriteGraphXLSX writes graph export rows to a single-sheet workbook.
func WriteGraphXLSX(path string, rows []graph.ExportRow) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Targets")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	addRow(sheet, graphHeader...)
	for _, r := range rows {
		addRow(sheet, graphRow(r)...)
	}
	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save workbook")
	}
	return nil
}
