package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"risk-core/internal/admission"
	"risk-core/internal/alert"
	"risk-core/internal/api"
	"risk-core/internal/canary"
	"risk-core/internal/cost"
	"risk-core/internal/emergency"
	"risk-core/internal/events"
	"risk-core/internal/mode"
	"risk-core/internal/monitor"
	"risk-core/internal/risk"
	"risk-core/internal/venue"
	"risk-core/pkg/config"
	"risk-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("risk core starting on port %s, db %s", cfg.Port, cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	// Risk profiles: external YAML when configured, built-in defaults
	// otherwise.
	profiles := risk.DefaultProfiles()
	if cfg.ProfilesPath != "" {
		profiles, err = risk.LoadProfiles(cfg.ProfilesPath)
		if err != nil {
			log.Fatalf("risk profiles load failed: %v", err)
		}
		log.Printf("risk profiles loaded from %s", cfg.ProfilesPath)
	}

	accounts := risk.NewManager(database, profiles)

	// Warm the manager from the store so persisted accounts get their
	// monitor loops back after a restart.
	if ids, err := database.ListAccountIDs(ctx); err != nil {
		log.Printf("account preload failed: %v", err)
	} else {
		for _, id := range ids {
			if _, err := accounts.Snapshot(ctx, id); err != nil {
				log.Printf("account %s preload failed: %v", id, err)
			}
		}
		if len(ids) > 0 {
			log.Printf("preloaded %d accounts", len(ids))
		}
	}

	// Alerting: process log plus the bus for websocket consumers.
	alerts := alert.NewDispatcher(cfg.AlertRatePerSec, cfg.AlertBurst,
		alert.LogNotifier{}, alert.BusNotifier{Bus: bus})

	// Canary tracker seeded from persisted buckets.
	tracker := canary.NewTracker(profiles.Canary.WindowSize, profiles.Canary.PassP95)
	seeds, err := database.LoadCanaries(ctx)
	if err != nil {
		log.Printf("canary seed load failed, starting cold: %v", err)
	}
	for _, s := range seeds {
		tracker.Seed(canary.Key{Symbol: s.Symbol, Route: s.Route}, s.FillCount, s.Samples, s.Passed)
	}
	if len(seeds) > 0 {
		log.Printf("seeded %d canary buckets", len(seeds))
	}

	// Venue adapter. Simulated until a live gateway is wired in.
	sim := venue.NewSim(time.Duration(cfg.SimLatencyMs)*time.Millisecond, cfg.SimLossFrac)

	registry := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(registry)

	stop := emergency.New(accounts, sim, database, alerts, bus)

	engine := admission.New(accounts, cost.NewEstimator(), tracker)
	engine.Stop = stop
	engine.Bus = bus
	engine.Metrics = metrics
	engine.Store = database

	modes := mode.New(accounts, database, alerts, bus)
	targets := &mode.Targets{Store: database, Machine: modes, Bus: bus}

	checker := &mode.Checker{Machine: modes, Interval: time.Duration(cfg.ModeCheckIntervalSec) * time.Second}
	go checker.Run(ctx)

	// One monitor loop per account, picked up as accounts appear.
	mon := &monitor.Monitor{
		Accounts: accounts,
		Stop:     stop,
		Alerts:   alerts,
		Bus:      bus,
		Rules:    profiles.Monitor,
		Metrics:  metrics,
	}
	go superviseMonitors(ctx, accounts, mon)

	go dayRolloverLoop(ctx, accounts)

	api.ConfigureRateLimit(cfg.RateLimitPerSec, cfg.RateLimitBurst)
	server := api.NewServer(bus, database, accounts, engine, modes, targets, stop, registry, api.Options{
		JWTSecret:        cfg.JWTSecret,
		OperatorUser:     cfg.OperatorUser,
		OperatorPassHash: cfg.OperatorPassHash,
		RequestTimeout:   time.Duration(cfg.RequestTimeoutSec) * time.Second,
		CORSOrigins:      cfg.CORSOrigins,
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}

// superviseMonitors starts a monitor loop for every known account and picks
// up accounts onboarded while running.
func superviseMonitors(ctx context.Context, accounts *risk.Manager, mon *monitor.Monitor) {
	var mu sync.Mutex
	running := make(map[string]bool)

	start := func() {
		mu.Lock()
		defer mu.Unlock()
		for _, id := range accounts.AccountIDs() {
			if running[id] {
				continue
			}
			running[id] = true
			go mon.RunAccount(ctx, id)
		}
	}

	start()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start()
		}
	}
}

// dayRolloverLoop resets daily counters at UTC midnight.
func dayRolloverLoop(ctx context.Context, accounts *risk.Manager) {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			accounts.DayRollover(ctx)
			log.Println("daily counters rolled over")
		}
	}
}
