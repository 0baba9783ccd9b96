package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"duewatch/internal/scheduler"
)

// Config keeps runtime settings for the service.
type Config struct {
	Addr        string
	DBPath      string
	Timezone    string
	Location    *time.Location
	GracePeriod time.Duration
	DigestCron  string
	DigestUser  string
	WebhookURL  string
	HolidayFile string
	LogLevel    zerolog.Level
	Debug       bool
}

// Load reads .env (if present), then DUEWATCH_* environment variables, then
// command-line flags. Later sources win.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	fs := flag.NewFlagSet("duewatch", flag.ContinueOnError)
	var (
		addr     = fs.String("addr", env("DUEWATCH_ADDR", ":8080"), "HTTP bind address")
		dbPath   = fs.String("db", env("DUEWATCH_DB", "duewatch.db"), "SQLite DB path")
		tz       = fs.String("tz", env("DUEWATCH_TIMEZONE", "UTC"), "IANA timezone of the evaluation calendar")
		grace    = fs.String("grace", env("DUEWATCH_GRACE_PERIOD", "24h"), "late-submission grace period")
		digest   = fs.String("digest-cron", env("DUEWATCH_DIGEST_CRON", "*/15 * * * *"), "cron expression for the overdue digest, empty disables")
		user     = fs.String("digest-user", env("DUEWATCH_DIGEST_USER", ""), "user whose cleared markers apply to the digest")
		webhook  = fs.String("webhook", env("DUEWATCH_WEBHOOK_URL", ""), "digest webhook URL, empty logs digests instead")
		holidays = fs.String("holidays", env("DUEWATCH_HOLIDAY_FILE", ""), "YAML holiday calendars file")
		level    = fs.String("log-level", env("DUEWATCH_LOG_LEVEL", "info"), "log level")
		debug    = fs.Bool("debug", env("DUEWATCH_DEBUG", "") == "true", "enable pprof routes")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Addr:        *addr,
		DBPath:      *dbPath,
		Timezone:    *tz,
		DigestCron:  strings.TrimSpace(*digest),
		DigestUser:  *user,
		WebhookURL:  *webhook,
		HolidayFile: *holidays,
		Debug:       *debug,
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	cfg.GracePeriod, err = time.ParseDuration(*grace)
	if err != nil {
		return Config{}, fmt.Errorf("invalid grace period %q: %w", *grace, err)
	}
	if cfg.GracePeriod <= 0 {
		return Config{}, fmt.Errorf("grace period must be positive, got %s", cfg.GracePeriod)
	}

	if cfg.DigestCron != "" {
		if err := scheduler.ValidateCronExpression(cfg.DigestCron); err != nil {
			return Config{}, fmt.Errorf("invalid digest cron %q: %w", cfg.DigestCron, err)
		}
	}

	cfg.LogLevel, err = zerolog.ParseLevel(*level)
	if err != nil {
		return Config{}, fmt.Errorf("invalid log level %q: %w", *level, err)
	}
	return cfg, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
