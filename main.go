package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	alertapp "yard-ttms/internal/alerts/application"
	alerthttp "yard-ttms/internal/alerts/interfaces/http"
	apihttp "yard-ttms/internal/api/http"
	"yard-ttms/internal/auth"
	"yard-ttms/internal/config"
	"yard-ttms/internal/engine"
	"yard-ttms/internal/eventbus"
	natsbus "yard-ttms/internal/eventbus/nats"
	"yard-ttms/internal/observability/metrics"
	parkinghttp "yard-ttms/internal/parking/interfaces/http"
	"yard-ttms/internal/sse"
	"yard-ttms/internal/storage"
	"yard-ttms/internal/storage/postgres"
	redisstore "yard-ttms/internal/storage/redis"
	"yard-ttms/internal/storage/sqlite"
	yardhttp "yard-ttms/internal/yard/interfaces/http"
)

type serverConfig struct {
	HTTPAddr       string
	StoreDriver    string
	DatabaseURL    string
	SQLitePath     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string
	EventBusDriver string
	NATSURL        string
	NATSPrefix     string
	JWTSecret      string
	YardID         string
}

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("dotenv load error: %v", err)
	}
	cfg := loadServerConfig()

	engineCfg, err := config.Load()
	if err != nil {
		logger.Fatalf("engine config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("store open error: %v", err)
	}
	defer closeStore()

	bus, closeBus, err := openBus(cfg, logger)
	if err != nil {
		logger.Fatalf("event bus error: %v", err)
	}
	defer closeBus()

	alertBroker := sse.NewBroker()
	parkingBroker := sse.NewBroker()

	eng, err := engine.New(engine.Options{
		Config:          engineCfg,
		Store:           kv,
		Bus:             bus,
		Notifiers:       []alertapp.AlertNotifier{alerthttp.NewStreamNotifier(alertBroker)},
		OnParkingChange: parkinghttp.BroadcastChanges(parkingBroker),
		Logger:          logger,
	})
	if err != nil {
		logger.Fatalf("engine init error: %v", err)
	}
	defer eng.Close()
	metrics.Init(eng.Gauges(), logger)
	if err := eng.Start(ctx); err != nil {
		logger.Fatalf("engine start error: %v", err)
	}

	alertHandler, err := alerthttp.NewHandler(eng.Alerts)
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}
	parkingHandler, err := parkinghttp.NewHandler(eng.Reconciler)
	if err != nil {
		logger.Fatalf("parking handler error: %v", err)
	}
	vehicleHandler, err := yardhttp.NewHandler(eng.Monitor)
	if err != nil {
		logger.Fatalf("vehicle handler error: %v", err)
	}
	exportHandler := apihttp.NewExportHandler(eng.Monitor, eng.Alerts)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/vehicles", vehicleHandler)
	mux.Handle("/api/v1/vehicles/", vehicleHandler)
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/", alertHandler)
	mux.Handle("/api/v1/alerts/stream", sse.NewHandler(alertBroker))
	mux.Handle("/api/v1/parking", parkingHandler)
	mux.Handle("/api/v1/parking/", parkingHandler)
	mux.Handle("/api/v1/parking/stream", sse.NewHandler(parkingBroker))
	mux.Handle("/api/v1/gates", parkingHandler)
	mux.Handle("/api/v1/gates/", parkingHandler)
	mux.Handle("/api/v1/exports/", exportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if eng.StoreDegraded() {
			w.Header().Set("X-Store-Degraded", "true")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var handler http.Handler = mux
	if cfg.JWTSecret != "" {
		verifier, err := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.YardID)
		if err != nil {
			logger.Fatalf("auth verifier error: %v", err)
		}
		handler = auth.NewMiddleware(verifier, auth.YardPolicy("/healthz", "/metrics"), logger).Wrap(mux)
	} else {
		logger.Printf("auth disabled: JWT_SECRET not set")
	}

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(handler, logger)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	logger.Printf("http server listening on %s store=%s bus=%s", cfg.HTTPAddr, cfg.StoreDriver, cfg.EventBusDriver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("http server error: %v", err)
	}
}

func loadServerConfig() serverConfig {
	return serverConfig{
		HTTPAddr:       getenvDefault("HTTP_ADDR", ":8080"),
		StoreDriver:    getenvDefault("STORE_DRIVER", "memory"),
		DatabaseURL:    getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		SQLitePath:     getenvDefault("SQLITE_PATH", "yard-ttms.db"),
		RedisAddr:      getenvDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:        getenvIntDefault("REDIS_DB", 0),
		RedisPrefix:    getenvDefault("REDIS_PREFIX", "ttms:"),
		EventBusDriver: getenvDefault("EVENTBUS_DRIVER", "memory"),
		NATSURL:        getenvDefault("NATS_URL", ""),
		NATSPrefix:     getenvDefault("NATS_SUBJECT_PREFIX", "ttms"),
		JWTSecret:      getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		YardID:         getenvDefault("YARD_ID", ""),
	}
}

func openStore(ctx context.Context, cfg serverConfig, logger *log.Logger) (storage.Store, func(), error) {
	switch cfg.StoreDriver {
	case "", "memory":
		return storage.NewMemoryStore(), func() {}, nil
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL or PG_DSN is required for postgres store")
		}
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		store, err := postgres.NewStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil
	case "redis":
		store, err := redisstore.NewStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, redisstore.WithPrefix(cfg.RedisPrefix))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, errors.New("unknown STORE_DRIVER " + strconv.Quote(cfg.StoreDriver))
	}
}

func openBus(cfg serverConfig, logger *log.Logger) (eventbus.Bus, func(), error) {
	switch cfg.EventBusDriver {
	case "", "memory":
		return eventbus.NewInMemoryBus(), func() {}, nil
	case "nats":
		bus, err := natsbus.Connect(natsbus.Config{URL: cfg.NATSURL, SubjectPrefix: cfg.NATSPrefix}, logger)
		if err != nil {
			return nil, nil, err
		}
		return bus, func() { _ = bus.Close() }, nil
	default:
		return nil, nil, errors.New("unknown EVENTBUS_DRIVER " + strconv.Quote(cfg.EventBusDriver))
	}
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

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streams working through the logging wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
