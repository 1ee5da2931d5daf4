package core

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certfleet/internal/config"
	"github.com/edvin/certfleet/internal/store"
)

var _ Store = (*store.PGStore)(nil)

// Core bundles the service layer. All dependencies are passed in
// explicitly; nothing here reaches for globals.
type Core struct {
	Store        Store
	Alerts       *AlertEngine
	Orchestrator *Orchestrator
	Scheduler    *RenewalScheduler
	Monitor      *Monitor
	Heartbeats   *HeartbeatSweeper
	Tasks        *TaskManager
}

func New(cfg *config.Config, st Store, issuers IssuerFactory, prober ProbeRunner, deployer Deployer, notifiers []Notifier, logger zerolog.Logger) *Core {
	alerts := NewAlertEngine(st, notifiers,
		time.Duration(cfg.AlertCooldownMinutes)*time.Minute, logger)
	orchestrator := NewOrchestrator(st, issuers, cfg.FallbackCAs, cfg.RenewalDaysBefore, alerts, logger)

	return &Core{
		Store:        st,
		Alerts:       alerts,
		Orchestrator: orchestrator,
		Scheduler:    NewRenewalScheduler(st, orchestrator, deployer, alerts, logger),
		Monitor:      NewMonitor(st, prober, alerts, cfg.CheckInterval(), cfg.MaxConcurrentChecks, logger),
		Heartbeats:   NewHeartbeatSweeper(st, alerts, logger),
		Tasks:        NewTaskManager(logger),
	}
}
