package interfaces

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	measurements "aire-cloud/internal/measurements/domain"
)

func sampleRows() []measurements.StationMeasurement {
	pm25 := 42.5
	co := 1.2
	return []measurements.StationMeasurement{
		{
			StationName: "miraflores",
			Measurement: measurements.Measurement{
				StationID: 7,
				TS:        time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
				PM25:      &pm25,
				CO:        &co,
			},
		},
		{
			StationName: "callao",
			Measurement: measurements.Measurement{
				StationID: 8,
				TS:        time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
			},
		},
	}
}

func TestBuildMeasurementsCSV(t *testing.T) {
	payload, err := BuildMeasurementsCSV(sampleRows())
	if err != nil {
		t.Fatalf("BuildMeasurementsCSV: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(payload)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(records))
	}
	header := strings.Join(records[0], ",")
	if header != "station,ts,pm25,pm10,so2,no2,o3,co" {
		t.Fatalf("unexpected header: %s", header)
	}
	first := records[1]
	if first[0] != "miraflores" || first[1] != "2026-03-01T10:00:00" {
		t.Fatalf("unexpected first row: %v", first)
	}
	if first[2] != "42.50" || first[7] != "1.20" {
		t.Fatalf("unexpected values: %v", first)
	}
	// Absent readings export as empty cells, not zeros.
	second := records[2]
	for _, cell := range second[2:] {
		if cell != "" {
			t.Fatalf("absent reading exported as %q", cell)
		}
	}
}

func TestBuildMeasurementsXLSX(t *testing.T) {
	payload, err := BuildMeasurementsXLSX(sampleRows())
	if err != nil {
		t.Fatalf("BuildMeasurementsXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	station, err := f.GetCellValue("measurements", "A2")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if station != "miraflores" {
		t.Fatalf("A2 = %q, want miraflores", station)
	}
	pm25, err := f.GetCellValue("measurements", "C2")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if pm25 != "42.5" {
		t.Fatalf("C2 = %q, want 42.5", pm25)
	}
}

func TestBuildStationReportPDF(t *testing.T) {
	rows := []measurements.Measurement{sampleRows()[0].Measurement}
	payload, err := BuildStationReportPDF("miraflores", time.Now().UTC(), rows)
	if err != nil {
		t.Fatalf("BuildStationReportPDF: %v", err)
	}
	if !bytes.HasPrefix(payload, []byte("%PDF")) {
		t.Fatal("output is not a PDF")
	}
}
