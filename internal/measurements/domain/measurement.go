package measurements

import (
	"errors"
	"strings"
	"time"
)

// Pollutant identifies one of the six tracked concentrations.
type Pollutant string

const (
	PollutantPM25 Pollutant = "pm25"
	PollutantPM10 Pollutant = "pm10"
	PollutantSO2  Pollutant = "so2"
	PollutantNO2  Pollutant = "no2"
	PollutantO3   Pollutant = "o3"
	PollutantCO   Pollutant = "co"
)

// Pollutants lists all tracked pollutants in canonical order.
func Pollutants() []Pollutant {
	return []Pollutant{PollutantPM25, PollutantPM10, PollutantSO2, PollutantNO2, PollutantO3, PollutantCO}
}

// ParsePollutant validates and normalizes an external pollutant tag.
func ParsePollutant(value string) (Pollutant, bool) {
	switch Pollutant(value) {
	case PollutantPM25, PollutantPM10, PollutantSO2, PollutantNO2, PollutantO3, PollutantCO:
		return Pollutant(value), true
	default:
		return "", false
	}
}

// Valid returns true when the pollutant is one of the tracked tags.
func (p Pollutant) Valid() bool {
	_, ok := ParsePollutant(string(p))
	return ok
}

// Measurement holds one station reading. TS is naive Lima-local civil
// time; pollutant values are nullable, never negative.
type Measurement struct {
	StationID int64     `json:"station_id"`
	TS        time.Time `json:"ts"`
	PM25      *float64  `json:"pm25"`
	PM10      *float64  `json:"pm10"`
	SO2       *float64  `json:"so2"`
	NO2       *float64  `json:"no2"`
	O3        *float64  `json:"o3"`
	CO        *float64  `json:"co"`
}

// Value extracts the reading for a pollutant. The second return is
// false when the reading is absent.
func (m Measurement) Value(p Pollutant) (float64, bool) {
	var v *float64
	switch p {
	case PollutantPM25:
		v = m.PM25
	case PollutantPM10:
		v = m.PM10
	case PollutantSO2:
		v = m.SO2
	case PollutantNO2:
		v = m.NO2
	case PollutantO3:
		v = m.O3
	case PollutantCO:
		v = m.CO
	default:
		return 0, false
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// SetValue assigns the reading for a pollutant.
func (m *Measurement) SetValue(p Pollutant, value *float64) {
	switch p {
	case PollutantPM25:
		m.PM25 = value
	case PollutantPM10:
		m.PM10 = value
	case PollutantSO2:
		m.SO2 = value
	case PollutantNO2:
		m.NO2 = value
	case PollutantO3:
		m.O3 = value
	case PollutantCO:
		m.CO = value
	}
}

// Validate checks measurement invariants. Negative readings are
// invalid upstream and must be dropped before this point.
func (m Measurement) Validate() error {
	if m.StationID == 0 {
		return errors.New("measurement: empty station id")
	}
	if m.TS.IsZero() {
		return errors.New("measurement: zero timestamp")
	}
	for _, p := range Pollutants() {
		if v, ok := m.Value(p); ok && v < 0 {
			return errors.New("measurement: negative " + string(p))
		}
	}
	return nil
}

// ParseFields validates a comma-separated pollutant projection.
func ParseFields(raw string) ([]Pollutant, bool) {
	if raw == "" {
		return nil, true
	}
	var fields []Pollutant
	for _, part := range strings.Split(raw, ",") {
		p, ok := ParsePollutant(strings.TrimSpace(part))
		if !ok {
			return nil, false
		}
		fields = append(fields, p)
	}
	return fields, true
}

// Project renders the measurement with only the requested pollutant
// columns. Absent readings stay explicit nulls.
func (m Measurement) Project(fields []Pollutant) map[string]any {
	out := map[string]any{
		"station_id": m.StationID,
		"ts":         m.TS,
	}
	for _, p := range fields {
		if v, ok := m.Value(p); ok {
			out[string(p)] = v
		} else {
			out[string(p)] = nil
		}
	}
	return out
}

// StationMeasurement is a measurement joined with its station name for
// multi-station queries and exports.
type StationMeasurement struct {
	StationName string `json:"station_name"`
	Measurement
}
