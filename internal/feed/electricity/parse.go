package electricity

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mfarkas/gridfeed/internal/domain"
)

// The export labels its columns in Hungarian.
var renameColumns = map[string]string{
	"Időpont":                                 "Time",
	"Nettó terhelés":                          "NetSystemLoad",
	"Bruttó tény rendszerterhelés":            "GrossSystemLoad",
	"Nettó terv rendszerterhelés":             "NetPlanSystemLoad",
	"Nettó rendszerterhelés becslés (dayahead)": "NetLoadDayAheadEstimate",
}

// Wall-clock timestamps with a zone offset; the offset flips at daylight
// saving transitions, which is why the format keeps it explicit.
const exportTimeLayout = "2006.01.02 15:04:05 -0700"

// parseExportCSV normalizes one export chunk. Times convert to UTC; the last
// row is dropped because the export always pads a trailing empty slot.
func parseExportCSV(data []byte) ([]domain.LoadRow, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("export header: %w", err)
	}
	col := make(map[string]int)
	for i, h := range header {
		if canonical, ok := renameColumns[strings.TrimSpace(h)]; ok {
			col[canonical] = i
		}
	}
	timeIdx, ok := col["Time"]
	if !ok {
		return nil, fmt.Errorf("export: missing time column")
	}

	var rows []domain.LoadRow
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("export: %w", err)
		}
		if timeIdx >= len(record) {
			continue
		}
		ts, err := time.Parse(exportTimeLayout, strings.TrimSpace(record[timeIdx]))
		if err != nil {
			return nil, fmt.Errorf("export time %q: %w", record[timeIdx], err)
		}

		row := domain.LoadRow{Time: ts.UTC()}
		row.NetSystemLoad = value(record, col, "NetSystemLoad")
		row.GrossSystemLoad = value(record, col, "GrossSystemLoad")
		row.NetPlanSystemLoad = value(record, col, "NetPlanSystemLoad")
		row.NetLoadDayAheadEstimate = value(record, col, "NetLoadDayAheadEstimate")
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		rows = rows[:len(rows)-1]
	}
	return rows, nil
}

func value(record []string, col map[string]int, name string) *float64 {
	i, ok := col[name]
	if !ok || i >= len(record) {
		return nil
	}
	raw := strings.TrimSpace(record[i])
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}
