package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/edvin/certfleet/internal/acme"
	"github.com/edvin/certfleet/internal/metrics"
	"github.com/edvin/certfleet/internal/model"
)

// Deployer pushes issued material to a server and reloads it.
// internal/deployer implements it.
type Deployer interface {
	Deploy(ctx context.Context, cert *model.Certificate, server *model.Server) (*model.Deployment, error)
}

// RenewalScheduler sweeps for certificates inside their renewal window and
// renews them, deploying when the certificate is bound to a server.
type RenewalScheduler struct {
	store        Store
	orchestrator *Orchestrator
	deployer     Deployer
	alerts       *AlertEngine
	logger       zerolog.Logger

	interval  time.Duration
	retryBase time.Duration
	now       func() time.Time
}

func NewRenewalScheduler(store Store, orchestrator *Orchestrator, deployer Deployer, alerts *AlertEngine, logger zerolog.Logger) *RenewalScheduler {
	return &RenewalScheduler{
		store:        store,
		orchestrator: orchestrator,
		deployer:     deployer,
		alerts:       alerts,
		logger:       logger.With().Str("component", "renewal-scheduler").Logger(),
		interval:     10 * time.Minute,
		retryBase:    5 * time.Second,
		now:          time.Now,
	}
}

// RunLoop runs the periodic renewal sweep until the context is cancelled.
func (s *RenewalScheduler) RunLoop(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("renewal scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("renewal scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over the renewal candidates.
func (s *RenewalScheduler) Sweep(ctx context.Context) {
	now := s.now()
	candidates, err := s.store.ListRenewalCandidates(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list renewal candidates")
		return
	}
	if len(candidates) == 0 {
		return
	}
	s.logger.Info().Int("candidates", len(candidates)).Msg("renewal sweep")

	for i := range candidates {
		cert := &candidates[i]
		if cert.RenewalStatus == model.RenewalStatusInProgress {
			continue
		}
		s.renewOne(ctx, cert)
	}
}

func (s *RenewalScheduler) renewOne(ctx context.Context, cert *model.Certificate) {
	claimed, err := s.store.SetRenewalStatus(ctx, cert.ID, model.RenewalStatusIdle, model.RenewalStatusInProgress)
	if err != nil {
		s.logger.Error().Err(err).Str("certificate_id", cert.ID).Msg("failed to claim renewal")
		return
	}
	if !claimed {
		// A completed or failed cert that drifted back into the window is
		// still ours to renew; in_progress belongs to someone else.
		for _, from := range []string{model.RenewalStatusCompleted, model.RenewalStatusFailed} {
			claimed, err = s.store.SetRenewalStatus(ctx, cert.ID, from, model.RenewalStatusInProgress)
			if err != nil || claimed {
				break
			}
		}
		if err != nil {
			s.logger.Error().Err(err).Str("certificate_id", cert.ID).Msg("failed to claim renewal")
			return
		}
		if !claimed {
			return
		}
	}

	logger := s.logger.With().Str("certificate_id", cert.ID).Strs("domains", cert.Domains).Logger()

	// Rate limits and CA outages retry so the fallback list gets another
	// shot; transient network failures retry against the same CA.
	backoff := retry.WithMaxRetries(2, retry.NewExponential(s.retryBase))
	var renewed *model.Certificate
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var renewErr error
		renewed, renewErr = s.orchestrator.renewHeld(ctx, cert)
		if renewErr != nil && (acme.Retryable(renewErr) || acme.Transient(renewErr)) {
			return retry.RetryableError(renewErr)
		}
		return renewErr
	})

	now := s.now()
	if err != nil {
		logger.Error().Err(err).Msg("scheduled renewal failed")
		if finishErr := s.store.FinishRenewal(ctx, cert.ID, model.RenewalStatusFailed, now); finishErr != nil {
			logger.Error().Err(finishErr).Msg("failed to record renewal failure")
		}
		s.orchestrator.emitRenewalFailed(ctx, cert, err)
		return
	}

	if err := s.store.FinishRenewal(ctx, cert.ID, model.RenewalStatusCompleted, now); err != nil {
		logger.Error().Err(err).Msg("failed to record renewal completion")
	}
	logger.Info().Time("not_after", *renewed.NotAfter).Msg("scheduled renewal completed")

	if renewed.ServerID != nil && s.deployer != nil {
		s.deploy(ctx, renewed)
	}
}

// deploy pushes the renewed material to the bound server. A deployment
// failure does not fail the renewal: the certificate exists either way.
func (s *RenewalScheduler) deploy(ctx context.Context, cert *model.Certificate) {
	server, err := s.store.GetServer(ctx, *cert.ServerID)
	if err != nil {
		s.logger.Error().Err(err).Str("server_id", *cert.ServerID).Msg("failed to load deploy target")
		return
	}

	deployment, err := s.deployer.Deploy(ctx, cert, server)
	if deployment != nil {
		if storeErr := s.store.CreateDeployment(ctx, deployment); storeErr != nil {
			s.logger.Error().Err(storeErr).Msg("failed to record deployment")
		}
	}
	if err != nil {
		metrics.Deployments.WithLabelValues(server.DeployType, "failure").Inc()
		s.logger.Error().Err(err).
			Str("certificate_id", cert.ID).
			Str("server", server.Name).
			Msg("deployment failed")
		s.emitDeploymentFailed(ctx, cert, server, err)
		return
	}
	metrics.Deployments.WithLabelValues(server.DeployType, "success").Inc()
	s.logger.Info().
		Str("certificate_id", cert.ID).
		Str("server", server.Name).
		Msg("certificate deployed")
}

func (s *RenewalScheduler) emitDeploymentFailed(ctx context.Context, cert *model.Certificate, server *model.Server, cause error) {
	if s.alerts == nil {
		return
	}
	domain := ""
	if len(cert.Domains) > 0 {
		domain = cert.Domains[0]
	}
	err := s.alerts.Emit(ctx, Candidate{
		Key: model.AlertKey{
			CertificateID: cert.ID,
			AlertType:     model.AlertDeploymentFailed,
			Qualifier:     server.ID,
		},
		Title: "Certificate deployment failed for " + domain,
		Data: map[string]string{
			"Domain":     domain,
			"ServerName": server.Name,
			"Error":      cause.Error(),
		},
	})
	if err != nil {
		s.logger.Error().Err(err).Str("certificate_id", cert.ID).Msg("failed to emit deployment_failed alert")
	}
}
