// Command timeclock-sync polls a ZKTeco-style device server for punch
// transactions and ingests them into the timeclock event log.
package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OniT-Enterprises/meza/internal/timeclock"
	"github.com/OniT-Enterprises/meza/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getenvDefault("LOG_LEVEL", "info"),
		Development: os.Getenv("DEV_LOG_PRETTY") == "1",
	})
	if err != nil {
		log = logger.Default()
	}
	defer func() { _ = log.Sync() }()

	tenantID := strings.TrimSpace(os.Getenv("TENANT_ID"))
	if tenantID == "" {
		log.Fatalw("TENANT_ID is required")
	}

	baseURL := strings.TrimSpace(os.Getenv("ZKTECO_BASE_URL"))
	username := strings.TrimSpace(os.Getenv("ZKTECO_USERNAME"))
	password := os.Getenv("ZKTECO_PASSWORD")
	if baseURL == "" || username == "" || password == "" {
		log.Fatalw("device server env missing: ZKTECO_BASE_URL, ZKTECO_USERNAME, ZKTECO_PASSWORD")
	}

	loc := time.UTC
	if tz := strings.TrimSpace(os.Getenv("TIMECLOCK_TIMEZONE")); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			log.Fatalw("invalid TIMECLOCK_TIMEZONE", "timezone", tz, "error", err)
		}
	}

	pool, err := pgxpool.New(context.Background(), dbDSNFromEnv())
	if err != nil {
		log.Fatalw("connect database", "error", err)
	}
	defer pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncer := timeclock.NewSyncer(
		timeclock.NewPGStore(pool),
		timeclock.NewZKTecoClient(baseURL, username, password, nil),
		log,
		tenantID,
		getenvDefault("TIMECLOCK_INITIATOR_ID", "timeclock-sync"),
	)
	syncer.Location = loc
	syncer.Lookback = time.Duration(getenvIntDefault("TIMECLOCK_LOOKBACK_SECONDS", 900)) * time.Second
	syncer.PageSize = getenvIntDefault("TIMECLOCK_PAGE_SIZE", 200)

	interval := time.Duration(getenvIntDefault("TIMECLOCK_INTERVAL_SECONDS", 30)) * time.Second
	log.Infow("timeclock sync starting",
		"tenant_id", tenantID,
		"base_url", baseURL,
		"interval", interval.String(),
		"lookback", syncer.Lookback.String())

	syncer.Run(ctx, interval)
}

func getenvIntDefault(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func getenvDefault(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func dbDSNFromEnv() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}

	host := getenvDefault("DB_HOST", "127.0.0.1")
	port := getenvDefault("DB_PORT", "5432")
	user := getenvDefault("DB_USER", "app")
	pass := getenvDefault("DB_PASSWORD", "app")
	name := getenvDefault("DB_NAME", "meza")
	sslmode := getenvDefault("DB_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   host + ":" + port,
		Path:   "/" + name,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}
