package interfaces

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	measurements "aire-cloud/internal/measurements/domain"
)

const exportTimeLayout = "2006-01-02T15:04:05"

var exportHeader = []string{"station", "ts", "pm25", "pm10", "so2", "no2", "o3", "co"}

// BuildMeasurementsCSV renders measurement rows as CSV.
func BuildMeasurementsCSV(rows []measurements.StationMeasurement) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			row.StationName,
			row.TS.Format(exportTimeLayout),
		}
		for _, p := range measurements.Pollutants() {
			record = append(record, formatExportValue(row.Measurement, p))
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildMeasurementsXLSX renders measurement rows as an XLSX workbook.
func BuildMeasurementsXLSX(rows []measurements.StationMeasurement) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "measurements"
	f.SetSheetName("Sheet1", sheet)

	for i, name := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, name)
	}
	for i, row := range rows {
		line := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", line), row.StationName)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", line), row.TS.Format(exportTimeLayout))
		for j, p := range measurements.Pollutants() {
			cell, err := excelize.CoordinatesToCellName(j+3, line)
			if err != nil {
				return nil, err
			}
			if value, ok := row.Value(p); ok {
				_ = f.SetCellValue(sheet, cell, value)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStationReportPDF renders a station summary with its recent
// readings.
func BuildStationReportPDF(stationName string, generatedAt time.Time, rows []measurements.Measurement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Air Quality Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Station: %s", stationName))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(40, 6, "Timestamp", "1", 0, "C", false, 0, "")
	for _, p := range measurements.Pollutants() {
		pdf.CellFormat(24, 6, string(p), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range rows {
		pdf.CellFormat(40, 6, row.TS.Format(exportTimeLayout), "1", 0, "C", false, 0, "")
		for _, p := range measurements.Pollutants() {
			pdf.CellFormat(24, 6, formatExportValue(row, p), "1", 0, "R", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatExportValue(m measurements.Measurement, p measurements.Pollutant) string {
	value, ok := m.Value(p)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%.2f", value)
}
