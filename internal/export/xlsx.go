package export

import (
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/scout-cli/internal/model"
)

// SaveWorkbook writes an XLSX workbook for the run: a Verified sheet with
// one row per verified creator and a Summary sheet with per-locality
// resolution tallies. Localities are ordered region then locality name.
func (e *Exporter) SaveWorkbook(name string, regions []*model.RegionResolution) (string, error) {
	f := xlsx.NewFile()

	verified, err := f.AddSheet("Verified")
	if err != nil {
		return "", eris.Wrap(err, "export: add verified sheet")
	}
	addRow(verified, "region", "locality", "category", "channel_name", "channel_url",
		"subscribers", "locality_score", "category_score", "total_score", "last_upload")

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return "", eris.Wrap(err, "export: add summary sheet")
	}
	addRow(summary, "region", "locality", "categories", "resolved", "failed")

	for _, cell := range flattenCells(regions) {
		resolved, failed := 0, 0
		for _, cat := range sortedCategories(cell.loc) {
			cr := cell.loc.Categories[cat]
			switch cr.Status {
			case model.StatusResolved:
				resolved++
			case model.StatusFailed:
				failed++
			}
			for _, c := range cr.Candidates {
				if !c.Verified {
					continue
				}
				addRow(verified, cell.region, cell.loc.Locality, cat,
					channelName(c), c.ChannelURL, subscribers(c),
					formatScore(c.LocalityScore), formatScore(c.CategoryScore),
					formatScore(c.TotalScore), c.LastUploadText)
			}
		}
		addRow(summary, cell.region, cell.loc.Locality,
			strconv.Itoa(len(cell.loc.Categories)), strconv.Itoa(resolved), strconv.Itoa(failed))
	}

	path := filepath.Join(e.dir, SafeName(name)+".xlsx")
	if err := f.Save(path); err != nil {
		return "", eris.Wrap(err, "export: save workbook")
	}
	return path, nil
}

type localityCell struct {
	region string
	loc    *model.LocalityResolution
}

func flattenCells(regions []*model.RegionResolution) []localityCell {
	var cells []localityCell
	for _, r := range regions {
		for _, l := range r.Localities {
			cells = append(cells, localityCell{region: r.Region, loc: l})
		}
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].region != cells[j].region {
			return cells[i].region < cells[j].region
		}
		return cells[i].loc.Locality < cells[j].loc.Locality
	})
	return cells
}

func sortedCategories(l *model.LocalityResolution) []string {
	keys := make([]string, 0, len(l.Categories))
	for k := range l.Categories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().Value = v
	}
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
