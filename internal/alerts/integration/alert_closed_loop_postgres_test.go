package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	alertapp "aire-cloud/internal/alerts/application"
	alerts "aire-cloud/internal/alerts/domain"
	alertrepo "aire-cloud/internal/alerts/infrastructure/postgres"
	measapp "aire-cloud/internal/measurements/application"
	measrepo "aire-cloud/internal/measurements/infrastructure/postgres"
	stationrepo "aire-cloud/internal/stations/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestAlertClosedLoop_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "stations") ||
		!tableExists(db, "measurements") ||
		!tableExists(db, "alert_rules") ||
		!tableExists(db, "alert_events") {
		t.Skip("missing tables; run scripts/schema.sql")
	}

	ctx := context.Background()
	stationName := "station-it-alert"

	_, _ = db.ExecContext(ctx, "DELETE FROM alert_events")
	_, _ = db.ExecContext(ctx, "DELETE FROM alert_rules")
	_, _ = db.ExecContext(ctx, "DELETE FROM measurements WHERE station_id IN (SELECT id FROM stations WHERE name = $1)", stationName)
	_, _ = db.ExecContext(ctx, "DELETE FROM stations WHERE name = $1", stationName)

	stations := stationrepo.NewStationRepository(db)
	readings := measrepo.NewMeasurementRepository(db)
	rules := alertrepo.NewRuleRepository(db)
	events := alertrepo.NewEventRepository(db)

	ingest, err := measapp.NewIngestService(stations, readings)
	if err != nil {
		t.Fatalf("new ingest service: %v", err)
	}
	registry, err := alertapp.NewRegistry(rules, stations)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	evaluator, err := alertapp.NewEvaluator(rules, readings, events)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	ts := time.Date(2026, time.January, 26, 9, 0, 0, 0, time.UTC)
	value := 80.0
	result, err := ingest.Ingest(ctx, []measapp.ReadingInput{{
		StationName: stationName,
		TS:          ts,
		PM25:        &value,
	}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Rows != 1 || result.Stations != 1 {
		t.Fatalf("ingest result = %+v, want 1 row and 1 station", result)
	}

	rule, err := registry.CreateRule(ctx, alertapp.CreateRuleParams{
		Name:      "pm25 high",
		Pollutant: "pm25",
		Operator:  "gt",
		Threshold: 35,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	created, err := evaluator.Evaluate(ctx, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	// Same reading again must not create a second event.
	created, err = evaluator.Evaluate(ctx, nil)
	if err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	if created != 0 {
		t.Fatalf("re-evaluate created = %d, want 0", created)
	}

	// A fresher reading above the threshold produces a new event.
	later := ts.Add(time.Hour)
	higher := 95.0
	if _, err := ingest.Ingest(ctx, []measapp.ReadingInput{{
		StationName: stationName,
		TS:          later,
		PM25:        &higher,
	}}); err != nil {
		t.Fatalf("ingest second reading: %v", err)
	}
	created, err = evaluator.Evaluate(ctx, &rule.ID)
	if err != nil {
		t.Fatalf("evaluate single rule: %v", err)
	}
	if created != 1 {
		t.Fatalf("single rule created = %d, want 1", created)
	}

	listed, err := events.List(ctx, alerts.EventQuery{RuleID: &rule.ID})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("events = %d, want 2", len(listed))
	}
	if !listed[0].TS.After(listed[1].TS) {
		t.Fatalf("events not ordered newest first: %v then %v", listed[0].TS, listed[1].TS)
	}
	if listed[0].Value != higher {
		t.Fatalf("latest event value = %v, want %v", listed[0].Value, higher)
	}
	if listed[0].RuleName != "pm25 high" || listed[0].StationName != stationName {
		t.Fatalf("enrichment = %q/%q", listed[0].RuleName, listed[0].StationName)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
