package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"duewatch/internal/api"
	"duewatch/internal/calendar"
	"duewatch/internal/compliance"
	"duewatch/internal/config"
	"duewatch/internal/instance"
	"duewatch/internal/notify"
	"duewatch/internal/overdue"
	"duewatch/internal/schedule"
	"duewatch/internal/scheduler"
	"duewatch/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	repo := store.NewSQLiteRepo(db)

	var holidays calendar.HolidayLookup
	if cfg.HolidayFile != "" {
		h, err := calendar.LoadHolidays(cfg.HolidayFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.HolidayFile).Msg("load holidays")
		}
		holidays = h
	}

	eval := schedule.NewEvaluator(cfg.Location)
	resolver := instance.NewResolver(eval, calendar.New(holidays))
	overdueSvc := overdue.NewService(repo, overdue.NewCategorizer(resolver))
	classifier := compliance.NewClassifier(eval, cfg.GracePeriod)

	var notifier notify.Notifier = notify.Log{}
	if cfg.WebhookURL != "" {
		notifier = notify.Webhook{URL: cfg.WebhookURL}
	}

	var digest *scheduler.Service
	if cfg.DigestCron != "" {
		digest, err = scheduler.NewService(overdueSvc, notifier, cfg.DigestCron, cfg.DigestUser, cfg.Location)
		if err != nil {
			log.Fatal().Err(err).Msg("digest scheduler")
		}
		digest.Start()
	}

	handler := api.NewServerWithDebug(api.Deps{
		Repo:       repo,
		Overdue:    overdueSvc,
		Resolver:   resolver,
		Classifier: classifier,
	}, cfg.Debug)

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("tz", cfg.Timezone).Dur("grace", cfg.GracePeriod).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	if digest != nil {
		digest.Stop()
	}
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
