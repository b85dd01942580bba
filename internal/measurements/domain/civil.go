package measurements

import (
	"errors"
	"time"
)

// Measurement timestamps are naive Lima-local civil time. Inside the
// process they ride in a time.Time whose components are the local wall
// clock and whose location is UTC, matching what a timestamp-without-
// time-zone column round-trips.

// ToCivil converts an absolute instant to the naive wall clock of loc.
func ToCivil(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), 0, time.UTC)
}

// ParseCivil interprets an external timestamp as loc-local civil time.
// RFC3339 input is converted from its own offset; naive input is taken
// as already loc-local.
func ParseCivil(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return ToCivil(t, loc), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized timestamp")
}

// CivilToZone re-anchors a naive civil time in src and renders it in
// dst, for RFC3339 responses.
func CivilToZone(civil time.Time, src, dst *time.Location) time.Time {
	anchored := time.Date(civil.Year(), civil.Month(), civil.Day(), civil.Hour(), civil.Minute(), civil.Second(), 0, src)
	return anchored.In(dst)
}
