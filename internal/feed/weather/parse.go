package weather

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mfarkas/gridfeed/internal/domain"
)

// The archive CSVs use short instrument codes; everything else the files
// carry (soil temperatures, gamma dose, wind gusts) is dropped.
var renameColumns = map[string]string{
	"Station Number": "StationNumber",
	"StationNumber":  "StationNumber",
	"Time":           "Time",
	"r":              "Prec",
	"t":              "Temp",
	"p":              "Pres",
	"u":              "RHum",
	"sr":             "GRad",
	"fs":             "AvgWS",
}

const csvTimeLayout = "200601021504"

var (
	zipHrefPattern  = regexp.MustCompile(`href="([^"]*\.zip)"`)
	stationToken    = regexp.MustCompile(`_(\d{5})_`)
	recentToken     = regexp.MustCompile(`akt`)
	historicalToken = func(lastYear int) *regexp.Regexp {
		return regexp.MustCompile(fmt.Sprintf(`_%d1231_`, lastYear))
	}
)

// parseZipHrefs extracts the .zip links of an archive index page, deduplicated
// (most appear twice, once per sort column).
func parseZipHrefs(page []byte) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range zipHrefPattern.FindAllSubmatch(page, -1) {
		href := strings.TrimSpace(string(m[1]))
		if _, ok := seen[href]; ok {
			continue
		}
		seen[href] = struct{}{}
		out = append(out, href)
	}
	return out
}

// stationFromName extracts the five-digit station token of an archive name,
// or 0 if it has none.
func stationFromName(name string) int {
	m := stationToken.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// parseStationMeta reads the station catalog CSV. Duplicated station numbers
// keep the last occurrence.
func parseStationMeta(data []byte) ([]domain.Station, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("station meta header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, required := range []string{"StationNumber", "StationName", "RegioName"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("station meta: missing column %s", required)
		}
	}

	byNumber := make(map[int]domain.Station)
	var order []int
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("station meta: %w", err)
		}
		number, err := strconv.Atoi(strings.TrimSpace(record[col["StationNumber"]]))
		if err != nil {
			continue
		}
		st := domain.Station{
			Number:    number,
			Name:      strings.TrimSpace(field(record, col, "StationName")),
			RegioName: strings.TrimSpace(field(record, col, "RegioName")),
		}
		st.Latitude, _ = strconv.ParseFloat(strings.TrimSpace(field(record, col, "Latitude")), 64)
		st.Longitude, _ = strconv.ParseFloat(strings.TrimSpace(field(record, col, "Longitude")), 64)
		st.Elevation, _ = strconv.ParseFloat(strings.TrimSpace(field(record, col, "Elevation")), 64)

		if _, ok := byNumber[number]; !ok {
			order = append(order, number)
		}
		byNumber[number] = st
	}

	out := make([]domain.Station, 0, len(order))
	for _, n := range order {
		out = append(out, byNumber[n])
	}
	return out, nil
}

func field(record []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

// parseWeatherZip opens the first member of a zipped archive and parses its
// CSV into normalized rows. Station numbers come from the CSV itself; when a
// row has none, fallbackStation applies (historical/recent archives are
// station-scoped and some omit the column).
func parseWeatherZip(payload []byte, fallbackStation int) ([]domain.WeatherRow, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	if len(zr.File) == 0 {
		return nil, fmt.Errorf("empty zip")
	}
	member, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open zip member: %w", err)
	}
	defer member.Close()

	data, err := io.ReadAll(member)
	if err != nil {
		return nil, fmt.Errorf("read zip member: %w", err)
	}
	return parseWeatherCSV(data, fallbackStation)
}

func parseWeatherCSV(data []byte, fallbackStation int) ([]domain.WeatherRow, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	r.Comment = '#'
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("weather csv header: %w", err)
	}

	// Map canonical column names to CSV positions through the rename table.
	col := make(map[string]int)
	for i, h := range header {
		if canonical, ok := renameColumns[strings.TrimSpace(h)]; ok {
			col[canonical] = i
		}
	}
	timeIdx, ok := col["Time"]
	if !ok {
		return nil, fmt.Errorf("weather csv: missing Time column")
	}

	var rows []domain.WeatherRow
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("weather csv: %w", err)
		}
		if timeIdx >= len(record) {
			continue
		}
		ts, err := time.ParseInLocation(csvTimeLayout, strings.TrimSpace(record[timeIdx]), time.UTC)
		if err != nil {
			continue
		}

		row := domain.WeatherRow{Time: ts, Station: fallbackStation}
		if i, ok := col["StationNumber"]; ok && i < len(record) {
			if n, err := strconv.Atoi(strings.TrimSpace(record[i])); err == nil {
				row.Station = n
			}
		}
		row.Prec = measurement(record, col, "Prec")
		row.Temp = measurement(record, col, "Temp")
		row.Pres = measurement(record, col, "Pres")
		row.RHum = measurement(record, col, "RHum")
		row.GRad = measurement(record, col, "GRad")
		row.AvgWS = measurement(record, col, "AvgWS")
		rows = append(rows, row)
	}
	return rows, nil
}

// measurement parses one value cell. The feed marks missing values with the
// EOR terminator or the -999 sentinel.
func measurement(record []string, col map[string]int, name string) *float64 {
	i, ok := col[name]
	if !ok || i >= len(record) {
		return nil
	}
	raw := strings.TrimSpace(record[i])
	if raw == "" || raw == "EOR" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v == -999 {
		return nil
	}
	return &v
}
