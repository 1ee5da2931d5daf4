package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certfleet/internal/model"
)

// A server silent for longer than this raises a server_offline alert.
const offlineAlertAfter = 30 * time.Minute

// HeartbeatSweeper marks silent servers offline and raises server_offline
// alerts once the silence exceeds the alert threshold.
type HeartbeatSweeper struct {
	store  Store
	alerts *AlertEngine
	logger zerolog.Logger

	interval time.Duration
	now      func() time.Time
}

func NewHeartbeatSweeper(store Store, alerts *AlertEngine, logger zerolog.Logger) *HeartbeatSweeper {
	return &HeartbeatSweeper{
		store:    store,
		alerts:   alerts,
		logger:   logger.With().Str("component", "heartbeat-sweeper").Logger(),
		interval: time.Minute,
		now:      time.Now,
	}
}

// RunLoop runs the periodic sweep until the context is cancelled.
func (h *HeartbeatSweeper) RunLoop(ctx context.Context) {
	h.logger.Info().Dur("interval", h.interval).Msg("heartbeat sweeper started")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("heartbeat sweeper stopped")
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep marks stale servers offline and alerts on prolonged silence.
func (h *HeartbeatSweeper) Sweep(ctx context.Context) {
	now := h.now()
	stale, err := h.store.ListStaleServers(ctx, now.Add(-model.HeartbeatTimeout))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list stale servers")
		return
	}

	for i := range stale {
		server := &stale[i]
		if err := h.store.UpdateServerStatus(ctx, server.ID, model.ServerStatusOffline); err != nil {
			h.logger.Error().Err(err).Str("server_id", server.ID).Msg("failed to mark server offline")
			continue
		}
		h.logger.Warn().
			Str("server_id", server.ID).
			Str("server", server.Name).
			Msg("server marked offline")

		if server.LastHeartbeat == nil || now.Sub(*server.LastHeartbeat) >= offlineAlertAfter {
			h.emitOffline(ctx, server)
		}
	}
}

// RecordHeartbeat acknowledges an agent heartbeat, flips the server back
// online and resolves any standing server_offline alert.
func (h *HeartbeatSweeper) RecordHeartbeat(ctx context.Context, serverID string) error {
	if err := h.store.UpdateServerHeartbeat(ctx, serverID, h.now()); err != nil {
		return err
	}
	return h.alerts.Resolve(ctx, model.AlertKey{
		AlertType: model.AlertServerOffline,
		Qualifier: serverID,
	})
}

func (h *HeartbeatSweeper) emitOffline(ctx context.Context, server *model.Server) {
	lastSeen := "never"
	if server.LastHeartbeat != nil {
		lastSeen = server.LastHeartbeat.Format(time.RFC3339)
	}
	err := h.alerts.Emit(ctx, Candidate{
		Key: model.AlertKey{
			AlertType: model.AlertServerOffline,
			Qualifier: server.ID,
		},
		Title: "Server " + server.Name + " is offline",
		Data: map[string]string{
			"ServerName":    server.Name,
			"LastHeartbeat": lastSeen,
		},
	})
	if err != nil {
		h.logger.Error().Err(err).Str("server_id", server.ID).Msg("failed to emit server_offline alert")
	}
}
