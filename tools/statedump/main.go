package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"

	alerts "yard-ttms/internal/alerts/domain"
	parking "yard-ttms/internal/parking/domain"
	"yard-ttms/internal/reports"
	"yard-ttms/internal/storage"
	"yard-ttms/internal/storage/postgres"
	redisstore "yard-ttms/internal/storage/redis"
	"yard-ttms/internal/storage/sqlite"
)

type config struct {
	driver      string
	dbURL       string
	sqlitePath  string
	redisAddr   string
	redisDB     int
	redisPrefix string
	outDir      string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create out dir:", err)
		os.Exit(2)
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(2)
	}
	defer closeStore()

	files, err := dump(ctx, store, cfg.outDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dump:", err)
		os.Exit(1)
	}
	for _, file := range files {
		fmt.Println(file)
	}
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.driver, "driver", getenvDefault("STORE_DRIVER", "sqlite"), "store driver: sqlite, postgres or redis")
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.sqlitePath, "sqlite", getenvDefault("SQLITE_PATH", "yard-ttms.db"), "SQLite database path")
	flag.StringVar(&cfg.redisAddr, "redis", getenvDefault("REDIS_ADDR", "localhost:6379"), "Redis address")
	flag.IntVar(&cfg.redisDB, "redis-db", getenvIntDefault("REDIS_DB", 0), "Redis database")
	flag.StringVar(&cfg.redisPrefix, "redis-prefix", getenvDefault("REDIS_PREFIX", "ttms:"), "Redis key prefix")
	flag.StringVar(&cfg.outDir, "out", "./out", "output directory")
	flag.Parse()

	switch cfg.driver {
	case "sqlite", "redis":
	case "postgres":
		if cfg.dbURL == "" {
			return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
		}
	default:
		return cfg, fmt.Errorf("unknown --driver %q", cfg.driver)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg config) (storage.Store, func(), error) {
	switch cfg.driver {
	case "postgres":
		db, err := sql.Open("pgx", cfg.dbURL)
		if err != nil {
			return nil, nil, err
		}
		store, err := postgres.NewStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil
	case "redis":
		store, err := redisstore.NewStore(ctx, cfg.redisAddr, getenvDefault("REDIS_PASSWORD", ""), cfg.redisDB, redisstore.WithPrefix(cfg.redisPrefix))
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store, err := sqlite.Open(ctx, cfg.sqlitePath, nil)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}

// dump writes every persisted bucket to outDir and returns the file paths.
func dump(ctx context.Context, store storage.Store, outDir string) ([]string, error) {
	var files []string
	for _, bucket := range []struct {
		key  string
		name string
	}{
		{storage.KeyAlertsPending, "alerts_pending.csv"},
		{storage.KeyAlertsAcknowledged, "alerts_acknowledged.csv"},
		{storage.KeyAlertsHistory, "alerts_history.csv"},
	} {
		list, err := loadStrict[[]alerts.AlertEvent](ctx, store, bucket.key)
		if err != nil {
			return files, err
		}
		records := make([][]string, 0, len(list))
		for _, alert := range list {
			records = append(records, reports.AlertRecordRow(alert))
		}
		path := filepath.Join(outDir, bucket.name)
		if err := writeCSV(path, reports.AlertHeader, records); err != nil {
			return files, err
		}
		files = append(files, path)
	}

	overrides, err := loadStrict[parking.Overrides](ctx, store, storage.KeyParkingOverrides)
	if err != nil {
		return files, err
	}
	gateOverrides, err := loadStrict[parking.Overrides](ctx, store, storage.KeyGateOverrides)
	if err != nil {
		return files, err
	}
	colors, err := loadStrict[map[string]parking.Color](ctx, store, storage.KeyParkingColorState)
	if err != nil {
		return files, err
	}
	records := make([][]string, 0, len(overrides)+len(gateOverrides))
	for _, key := range sortedKeys(overrides) {
		records = append(records, []string{"slot", key, string(overrides[key]), string(colors[key])})
	}
	for _, key := range sortedKeys(gateOverrides) {
		records = append(records, []string{"gate", key, string(gateOverrides[key]), ""})
	}
	path := filepath.Join(outDir, "overrides.csv")
	if err := writeCSV(path, []string{"kind", "key", "status", "color"}, records); err != nil {
		return files, err
	}
	files = append(files, path)

	slots, err := loadStrict[map[string]parking.Assignment](ctx, store, storage.KeyVehicleParkingAssignments)
	if err != nil {
		return files, err
	}
	gates, err := loadStrict[map[string]string](ctx, store, storage.KeyVehicleGateAssignments)
	if err != nil {
		return files, err
	}
	records = records[:0]
	for _, reg := range sortedKeys(slots) {
		records = append(records, []string{reg, "slot", slots[reg].Key()})
	}
	for _, reg := range sortedKeys(gates) {
		records = append(records, []string{reg, "gate", gates[reg]})
	}
	path = filepath.Join(outDir, "assignments.csv")
	if err := writeCSV(path, []string{"registration", "kind", "target"}, records); err != nil {
		return files, err
	}
	files = append(files, path)
	return files, nil
}

func loadStrict[T any](ctx context.Context, store storage.Store, key string) (T, error) {
	var out T
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return out, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return out, nil
	}
	return storage.Decode[T](raw, key, nil), nil
}

func writeCSV(path string, header []string, records [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(records); err != nil {
		return err
	}
	return writer.Error()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
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
