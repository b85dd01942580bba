package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	alertapp "aire-cloud/internal/alerts/application"
	alertrepo "aire-cloud/internal/alerts/infrastructure/postgres"
	alerthttp "aire-cloud/internal/alerts/interfaces/http"
	alertnotify "aire-cloud/internal/alerts/notify"
	"aire-cloud/internal/auth"
	measapp "aire-cloud/internal/measurements/application"
	measrepo "aire-cloud/internal/measurements/infrastructure/postgres"
	meashttp "aire-cloud/internal/measurements/interfaces/http"
	"aire-cloud/internal/observability/metrics"
	stationrepo "aire-cloud/internal/stations/infrastructure/postgres"
	stationhttp "aire-cloud/internal/stations/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load("config.env")
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	loc, err := time.LoadLocation(cfg.DefaultTZ)
	if err != nil {
		logger.Fatalf("invalid DEFAULT_TZ %q: %v", cfg.DefaultTZ, err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)

	stationRepository := stationrepo.NewStationRepository(db)
	measurementRepository := measrepo.NewMeasurementRepository(db)
	ruleRepository := alertrepo.NewRuleRepository(db)
	eventRepository := alertrepo.NewEventRepository(db)

	alertCfg, err := alertapp.LoadConfig()
	if err != nil {
		logger.Fatalf("alerts config error: %v", err)
	}

	broker := alerthttp.NewSSEBroker()
	notifiers := []alertapp.Notifier{broker}
	if alertCfg.WebhookURL != "" {
		channel, err := alertnotify.NewWebhookChannel(alertCfg.WebhookURL, alertnotify.WithTimeout(alertCfg.NotifyTimeout))
		if err != nil {
			logger.Fatalf("webhook channel error: %v", err)
		}
		var notifyOpts []alertnotify.Option
		if alertCfg.NotifyCooldown > 0 {
			notifyOpts = append(notifyOpts, alertnotify.WithCooldown(alertCfg.NotifyCooldown))
		}
		webhookNotifier, err := alertnotify.NewNotifier(ruleRepository, stationRepository, channel, nil, notifyOpts...)
		if err != nil {
			logger.Fatalf("webhook notifier error: %v", err)
		}
		notifiers = append(notifiers, webhookNotifier)
	}

	evaluator, err := alertapp.NewEvaluator(
		ruleRepository,
		measurementRepository,
		eventRepository,
		alertapp.WithNotifier(alertnotify.NewMultiNotifier(notifiers...)),
	)
	if err != nil {
		logger.Fatalf("evaluator error: %v", err)
	}

	registry, err := alertapp.NewRegistry(ruleRepository, stationRepository)
	if err != nil {
		logger.Fatalf("rule registry error: %v", err)
	}

	var ingestOpts []measapp.IngestOption
	if alertCfg.EvaluateOnIngest {
		ingestOpts = append(ingestOpts, measapp.WithAfterIngest(func(ctx context.Context) {
			if _, err := evaluator.Evaluate(ctx, nil); err != nil {
				logger.Printf("post-ingest evaluation error: %v", err)
			}
		}))
	}
	ingestService, err := measapp.NewIngestService(stationRepository, measurementRepository, ingestOpts...)
	if err != nil {
		logger.Fatalf("ingest service error: %v", err)
	}

	stationHandler, err := stationhttp.NewHandler(stationRepository, measurementRepository, loc)
	if err != nil {
		logger.Fatalf("station handler error: %v", err)
	}
	measurementHandler, err := meashttp.NewHandler(ingestService, measurementRepository, loc)
	if err != nil {
		logger.Fatalf("measurement handler error: %v", err)
	}
	exportHandler, err := meashttp.NewExportHandler(measurementRepository, stationRepository, loc)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}
	alertHandler, err := alerthttp.NewHandler(registry, evaluator, eventRepository, loc)
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}

	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/v1/stations", stationHandler)
	mux.Handle("/v1/stations/", stationHandler)
	mux.Handle("/v1/measurements", ingestGate(ingestAuth, measurementHandler))
	mux.Handle("/v1/measurements/latest", measurementHandler)
	mux.Handle("/v1/aggregates/hourly", measurementHandler)
	mux.Handle("/v1/aggregates/daily", measurementHandler)
	mux.Handle("/v1/export/", exportHandler)
	mux.Handle("/v1/alerts/rules", alertHandler)
	mux.Handle("/v1/alerts/rules/", alertHandler)
	mux.Handle("/v1/alerts/evaluate", alertHandler)
	mux.Handle("/v1/alerts/events", alertHandler)
	mux.Handle("/v1/alerts/stream", alerthttp.NewStreamHandler(broker))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	policy := auth.NewDefaultPolicy([]string{"/v1/health", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           requestLog(logger, authMiddleware.Wrap(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Printf("listening on %s (tz %s)", cfg.HTTPAddr, cfg.DefaultTZ)
	logger.Fatal(server.ListenAndServe())
}

func requestLog(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

// ingestGate applies HMAC validation only to measurement writes; reads
// on the same path skip it.
func ingestGate(mw *auth.IngestAuthMiddleware, next http.Handler) http.Handler {
	signed := mw.Wrap(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			signed.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	DefaultTZ         string
	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		DefaultTZ:         getenvDefault("DEFAULT_TZ", "America/Lima"),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
