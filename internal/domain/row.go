package domain

import "time"

// Feed names used in metrics labels, cache keys and status rows.
const (
	FeedWeather     = "weather"
	FeedElectricity = "electricity"
)

// WeatherColumns lists the canonical weather fact columns in schema order.
var WeatherColumns = []SeriesColumn{
	{Name: "Prec", Unit: "mm"},
	{Name: "Temp", Unit: "C"},
	{Name: "Pres", Unit: "hPa"},
	{Name: "RHum", Unit: "%"},
	{Name: "GRad", Unit: "W/m2"},
	{Name: "AvgWS", Unit: "m/s"},
}

// LoadColumns lists the canonical load fact columns in schema order.
var LoadColumns = []SeriesColumn{
	{Name: "NetSystemLoad", Unit: "MW"},
	{Name: "GrossSystemLoad", Unit: "MW"},
	{Name: "NetPlanSystemLoad", Unit: "MW"},
	{Name: "NetLoadDayAheadEstimate", Unit: "MW"},
}

// WeatherColumnNames and LoadColumnNames are the catalogs reduced to names,
// for column selection and SQL building.
var (
	WeatherColumnNames = columnNames(WeatherColumns)
	LoadColumnNames    = columnNames(LoadColumns)
)

func columnNames(cols []SeriesColumn) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// WeatherRow is one normalized observation of one station at one timestamp
// (UTC, 10-minute grid). Nil fields mean "not measured", which is distinct
// from the timestamp not having been synced at all.
type WeatherRow struct {
	Time    time.Time `json:"time"`
	Station int       `json:"station_number"`
	Prec    *float64  `json:"prec"`
	Temp    *float64  `json:"temp"`
	Pres    *float64  `json:"pres"`
	RHum    *float64  `json:"rhum"`
	GRad    *float64  `json:"grad"`
	AvgWS   *float64  `json:"avg_ws"`
}

// Clone returns a copy sharing no pointers with the receiver.
func (r WeatherRow) Clone() WeatherRow {
	r.Prec = clonePtr(r.Prec)
	r.Temp = clonePtr(r.Temp)
	r.Pres = clonePtr(r.Pres)
	r.RHum = clonePtr(r.RHum)
	r.GRad = clonePtr(r.GRad)
	r.AvgWS = clonePtr(r.AvgWS)
	return r
}

// LoadRow is one normalized row of the national electricity-load feed at one
// timestamp (UTC, 10-minute grid). Plan and day-ahead columns fill in before
// the fact columns do.
type LoadRow struct {
	Time                    time.Time `json:"time"`
	NetSystemLoad           *float64  `json:"net_system_load"`
	GrossSystemLoad         *float64  `json:"gross_system_load"`
	NetPlanSystemLoad       *float64  `json:"net_plan_system_load"`
	NetLoadDayAheadEstimate *float64  `json:"net_load_day_ahead_estimate"`
}

// Clone returns a copy sharing no pointers with the receiver.
func (r LoadRow) Clone() LoadRow {
	r.NetSystemLoad = clonePtr(r.NetSystemLoad)
	r.GrossSystemLoad = clonePtr(r.GrossSystemLoad)
	r.NetPlanSystemLoad = clonePtr(r.NetPlanSystemLoad)
	r.NetLoadDayAheadEstimate = clonePtr(r.NetLoadDayAheadEstimate)
	return r
}

// JointRow is one row of the derived 10-minute joint table: the load feed's
// NetSystemLoad next to cross-station weather aggregates. Owned by the
// aggregate maintainer.
type JointRow struct {
	Time          time.Time `json:"time"`
	NetSystemLoad *float64  `json:"net_system_load"`
	Prec          *float64  `json:"prec"`
	Temp          *float64  `json:"temp"`
	RHum          *float64  `json:"rhum"`
	GRad          *float64  `json:"grad"`
	Pres          *float64  `json:"pres"`
	Wind          *float64  `json:"wind"`
}

// Clone returns a copy sharing no pointers with the receiver.
func (r JointRow) Clone() JointRow {
	r.NetSystemLoad = clonePtr(r.NetSystemLoad)
	r.Prec = clonePtr(r.Prec)
	r.Temp = clonePtr(r.Temp)
	r.RHum = clonePtr(r.RHum)
	r.GRad = clonePtr(r.GRad)
	r.Pres = clonePtr(r.Pres)
	r.Wind = clonePtr(r.Wind)
	return r
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// MergeMode selects how the merge engine treats timestamps already present.
type MergeMode int

const (
	// InsertIfAbsent never overwrites an existing timestamp's row. Used for
	// bulk historical and backfill merges.
	InsertIfAbsent MergeMode = iota
	// Replace lets the newest fetch win for a timestamp. Used for live
	// exports where later values are authoritative.
	Replace
)

func (m MergeMode) String() string {
	if m == Replace {
		return "replace"
	}
	return "insert_if_absent"
}

// WriteResult summarizes one committed merge batch.
type WriteResult struct {
	Inserted int
	// Updated counts the batch rows that hit an existing timestamp under
	// Replace, whether or not the values actually differed.
	Updated int
	MinTime time.Time
	MaxTime time.Time
}

// Empty reports whether the batch contained no rows.
func (r WriteResult) Empty() bool {
	return r.MinTime.IsZero()
}
