package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"aire-cloud/internal/measurements/interfaces"

	measurements "aire-cloud/internal/measurements/domain"
	stations "aire-cloud/internal/stations/domain"
)

// ExportHandler serves measurement downloads.
type ExportHandler struct {
	readings measurements.Repository
	stations stations.Repository
	loc      *time.Location
}

// NewExportHandler constructs an export handler.
func NewExportHandler(readings measurements.Repository, stationRepo stations.Repository, loc *time.Location) (*ExportHandler, error) {
	if readings == nil {
		return nil, errors.New("export handler: nil repository")
	}
	if stationRepo == nil {
		return nil, errors.New("export handler: nil station repository")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ExportHandler{readings: readings, stations: stationRepo, loc: loc}, nil
}

// ServeHTTP handles /v1/export routes.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/v1/export/csv":
		h.handleTabular(w, r, "csv")
	case "/v1/export/xlsx":
		h.handleTabular(w, r, "xlsx")
	case "/v1/export/report.pdf":
		h.handleReport(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *ExportHandler) handleTabular(w http.ResponseWriter, r *http.Request, format string) {
	q, ok := parseListQuery(w, r, h.loc)
	if !ok {
		return
	}
	// Exports walk oldest to newest.
	q.Descending = false
	if q.Limit <= 0 {
		q.Limit = 1000
	}

	rows, err := h.readings.List(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var (
		payload     []byte
		contentType string
		filename    string
	)
	switch format {
	case "xlsx":
		payload, err = interfaces.BuildMeasurementsXLSX(rows)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		filename = "measurements.xlsx"
	default:
		payload, err = interfaces.BuildMeasurementsCSV(rows)
		contentType = "text/csv"
		filename = "measurements.csv"
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(payload)
}

func (h *ExportHandler) handleReport(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("station_id")
	if raw == "" {
		http.Error(w, "station_id is required", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, "station_id must be an integer", http.StatusBadRequest)
		return
	}
	station, err := h.stations.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if station == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	q := measurements.ListQuery{Descending: true, Limit: 100}
	if raw := r.URL.Query().Get("from"); raw != "" {
		start, err := measurements.ParseCivil(raw, h.loc)
		if err != nil {
			http.Error(w, "from must be RFC3339 or YYYY-MM-DDTHH:MM:SS", http.StatusBadRequest)
			return
		}
		q.Start = &start
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		end, err := measurements.ParseCivil(raw, h.loc)
		if err != nil {
			http.Error(w, "to must be RFC3339 or YYYY-MM-DDTHH:MM:SS", http.StatusBadRequest)
			return
		}
		q.End = &end
	}

	rows, err := h.readings.ListByStation(r.Context(), id, q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	payload, err := interfaces.BuildStationReportPDF(station.Name, time.Now().UTC(), rows)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
	_, _ = w.Write(payload)
}
