package ingest

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/davidTeng2025/water-info-crawler/internal/model"
)

// Column headers emitted by the upstream crawler. Province and site name
// together form the geocoding address.
const (
	ColumnProvince = "省份"
	ColumnSiteName = "断面名称"
)

// Loader reads the crawler's exported spreadsheets into raw records.
type Loader struct {
	dir  string
	glob string
}

// NewLoader creates a Loader over dir matching glob (e.g. "water_info_*.xlsx").
func NewLoader(dir, glob string) *Loader {
	return &Loader{dir: dir, glob: glob}
}

// Load reads every matching file's first sheet, treating the first row as
// headers. Files that fail to parse are skipped with a warning so one bad
// export does not sink the batch; file order is lexicographic for
// reproducible record sequence.
func (l *Loader) Load() ([]model.RawRecord, error) {
	paths, err := filepath.Glob(filepath.Join(l.dir, l.glob))
	if err != nil {
		return nil, eris.Wrap(err, "ingest: bad glob")
	}
	if len(paths) == 0 {
		return nil, eris.Errorf("ingest: no files matching %s in %s", l.glob, l.dir)
	}
	sort.Strings(paths)

	var records []model.RawRecord
	for _, path := range paths {
		recs, err := loadFile(path)
		if err != nil {
			zap.L().Warn("ingest: skipping file", zap.String("path", path), zap.Error(err))
			continue
		}
		records = append(records, recs...)
	}
	return records, nil
}

func loadFile(path string) ([]model.RawRecord, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("ingest: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, nil
	}

	headers := make([]string, 0, len(sheet.Rows[0].Cells))
	for _, c := range sheet.Rows[0].Cells {
		headers = append(headers, strings.TrimSpace(c.String()))
	}

	base := filepath.Base(path)
	var records []model.RawRecord
	for _, row := range sheet.Rows[1:] {
		attrs := make(map[string]string, len(headers))
		empty := true
		for i, c := range row.Cells {
			if i >= len(headers) || headers[i] == "" {
				continue
			}
			v := strings.TrimSpace(c.String())
			attrs[headers[i]] = v
			if v != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		records = append(records, model.RawRecord{
			Province:   attrs[ColumnProvince],
			SiteName:   attrs[ColumnSiteName],
			Attrs:      attrs,
			SourceFile: base,
		})
	}
	return records, nil
}
