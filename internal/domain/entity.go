package domain

import "time"

// Station is a weather station known from the metadata export. The station
// number is the stable identifier; everything else is descriptive and may be
// refreshed.
type Station struct {
	Number    int     `json:"station_number"`
	Name      string  `json:"name"`
	RegioName string  `json:"regio_name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
}

// SeriesColumn is one column of the electricity-load feed, tracked as its own
// entity because columns become available independently (plan values arrive
// ahead of facts).
type SeriesColumn struct {
	Name string `json:"column"`
	Unit string `json:"unit"`
}

// Watermark is the known covered time range for an entity. Both bounds are
// nil until the first successful write.
type Watermark struct {
	Start *time.Time `json:"start_date"`
	End   *time.Time `json:"end_date"`
}

// Covered reports whether [from, to] lies entirely inside the watermark.
func (w Watermark) Covered(from, to time.Time) bool {
	if w.Start == nil || w.End == nil {
		return false
	}
	return !from.Before(*w.Start) && !to.After(*w.End)
}

// EndBefore reports whether the watermark's end is missing or older than t.
// Connectors use it with a feed-specific lag tolerance already applied to t.
func (w Watermark) EndBefore(t time.Time) bool {
	return w.End == nil || w.End.Before(t)
}

// EntityStatus is one row of the status surface: an entity identifier plus
// its watermark.
type EntityStatus struct {
	Feed   string     `json:"feed"`
	Entity string     `json:"entity"`
	Start  *time.Time `json:"start_date"`
	End    *time.Time `json:"end_date"`
}
