package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/edvin/certfleet/internal/metrics"
	"github.com/edvin/certfleet/internal/model"
	"github.com/edvin/certfleet/internal/probe"
)

// ProbeRunner is the probe surface the monitor drives. *probe.Prober
// satisfies it.
type ProbeRunner interface {
	ProbeDNS(ctx context.Context, domain string) probe.DNSResult
	ProbeReachability(ctx context.Context, domain string, ports []int) probe.ReachabilityResult
	ProbeTLS(ctx context.Context, domain string, port int) probe.TLSResult
	ProbeHTTPRedirect(ctx context.Context, domain string) probe.HTTPRedirectResult
}

const (
	// Upper bound of certificates handled in one cycle.
	monitorCycleLimit = 50
	maxMonitorWorkers = 20

	observationRetention = 30 * 24 * time.Hour
)

var defaultMonitoredPorts = []int{80, 443}

// Monitor drives the prober on a schedule, persists observations and feeds
// the alert engine.
type Monitor struct {
	store  Store
	prober ProbeRunner
	alerts *AlertEngine
	logger zerolog.Logger

	interval         time.Duration
	defaultFrequency time.Duration
	workers          int64

	lastPrune time.Time
	now       func() time.Time
}

func NewMonitor(store Store, prober ProbeRunner, alerts *AlertEngine, interval time.Duration, maxConcurrent int, logger zerolog.Logger) *Monitor {
	if maxConcurrent < 1 {
		maxConcurrent = 5
	}
	if maxConcurrent > maxMonitorWorkers {
		maxConcurrent = maxMonitorWorkers
	}
	return &Monitor{
		store:            store,
		prober:           prober,
		alerts:           alerts,
		logger:           logger.With().Str("component", "monitor").Logger(),
		interval:         interval,
		defaultFrequency: 5 * time.Minute,
		workers:          int64(maxConcurrent),
		now:              time.Now,
	}
}

// RunLoop runs the periodic monitoring loop until the context is
// cancelled.
func (m *Monitor) RunLoop(ctx context.Context) {
	m.logger.Info().
		Dur("interval", m.interval).
		Int64("workers", m.workers).
		Msg("monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("monitor stopped")
			return
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle performs one monitoring pass: housekeeping sweeps, then bounded
// parallel checks over the due certificates.
func (m *Monitor) RunCycle(ctx context.Context) {
	start := m.now()
	defer func() {
		metrics.MonitorCycleDuration.Observe(time.Since(start).Seconds())
	}()

	if n, err := m.store.MarkExpiredCertificates(ctx, start); err != nil {
		m.logger.Error().Err(err).Msg("expired sweep failed")
	} else if n > 0 {
		m.logger.Info().Int64("count", n).Msg("certificates marked expired")
	}

	if start.Sub(m.lastPrune) > 24*time.Hour {
		if n, err := m.store.PruneObservations(ctx, start.Add(-observationRetention)); err != nil {
			m.logger.Error().Err(err).Msg("observation prune failed")
		} else if n > 0 {
			m.logger.Info().Int64("count", n).Msg("old observations pruned")
		}
		m.lastPrune = start
	}

	due, err := m.store.ListDueMonitorCertificates(ctx, start, m.defaultFrequency, monitorCycleLimit)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to list due certificates")
		return
	}
	if len(due) == 0 {
		return
	}
	m.logger.Debug().Int("due", len(due)).Msg("monitor cycle")

	sem := semaphore.NewWeighted(m.workers)
	var wg sync.WaitGroup
	for i := range due {
		cert := due[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			m.checkCertificate(ctx, &cert)
		}()
	}
	wg.Wait()
}

// checkCertificate runs the probe battery for one certificate and persists
// the outcome. The check_in_progress claim keeps concurrent replicas from
// doubling up.
func (m *Monitor) checkCertificate(ctx context.Context, cert *model.Certificate) {
	claimed, err := m.store.SetCheckInProgress(ctx, cert.ID, true)
	if err != nil {
		m.logger.Error().Err(err).Str("certificate_id", cert.ID).Msg("failed to claim check")
		return
	}
	if !claimed {
		return
	}
	defer func() {
		if _, err := m.store.SetCheckInProgress(ctx, cert.ID, false); err != nil {
			m.logger.Error().Err(err).Str("certificate_id", cert.ID).Msg("failed to release check")
		}
	}()

	if len(cert.Domains) == 0 {
		return
	}
	// Wildcards are monitored through their base domain.
	domain := strings.TrimPrefix(cert.Domains[0], "*.")

	ports := defaultMonitoredPorts
	alertEnabled := true
	responseThresholdMS := int64(1000)
	failureThreshold := 1
	if cfg, err := m.store.GetMonitorConfigForCertificate(ctx, cert.ID); err == nil {
		if len(cfg.MonitoredPorts) > 0 {
			ports = cfg.MonitoredPorts
		}
		if !cfg.Enabled {
			return
		}
		alertEnabled = cfg.AlertEnabled
		if cfg.ResponseTimeThresholdMS > 0 {
			responseThresholdMS = int64(cfg.ResponseTimeThresholdMS)
		}
		if cfg.ConsecutiveFailureThreshold > 1 {
			failureThreshold = cfg.ConsecutiveFailureThreshold
		}
	} else if !isStoreNotFound(err) {
		m.logger.Error().Err(err).Str("certificate_id", cert.ID).Msg("failed to load monitor config")
	}

	tlsPort := 443
	for _, p := range ports {
		if p != 80 {
			tlsPort = p
			break
		}
	}

	var (
		dnsRes      probe.DNSResult
		reachRes    probe.ReachabilityResult
		tlsRes      probe.TLSResult
		redirectRes probe.HTTPRedirectResult
		wg          sync.WaitGroup
	)
	wg.Add(4)
	go func() { defer wg.Done(); dnsRes = m.prober.ProbeDNS(ctx, domain) }()
	go func() { defer wg.Done(); reachRes = m.prober.ProbeReachability(ctx, domain, ports) }()
	go func() { defer wg.Done(); tlsRes = m.prober.ProbeTLS(ctx, domain, tlsPort) }()
	go func() { defer wg.Done(); redirectRes = m.prober.ProbeHTTPRedirect(ctx, domain) }()
	wg.Wait()

	now := m.now()
	certID := cert.ID
	for _, obs := range []model.ProbeObservation{
		dnsRes.Observation(&certID),
		reachRes.Observation(&certID),
		tlsRes.Observation(&certID),
		redirectRes.Observation(&certID),
	} {
		metrics.Probes.WithLabelValues(obs.CheckType, obs.Status).Inc()
		if err := m.store.AppendObservation(ctx, &obs); err != nil {
			m.logger.Error().Err(err).Str("certificate_id", cert.ID).Msg("failed to append observation")
		}
	}

	m.applySnapshot(cert, now, dnsRes, reachRes, tlsRes, redirectRes)
	if err := m.store.UpdateMonitoringSnapshot(ctx, cert); err != nil {
		m.logger.Error().Err(err).Str("certificate_id", cert.ID).Msg("failed to update snapshot")
	}

	if cert.NotAfter != nil {
		metrics.CertificateExpiry.WithLabelValues(domain).Set(cert.NotAfter.Sub(now).Seconds())
	}

	state := overallState(dnsRes, reachRes)
	m.logger.Debug().
		Str("certificate_id", cert.ID).
		Str("domain", domain).
		Str("state", state).
		Msg("check complete")

	if alertEnabled {
		m.evaluateAlerts(ctx, cert, domain, now, responseThresholdMS, failureThreshold,
			dnsRes, reachRes, tlsRes, redirectRes)
	}
}

func (m *Monitor) applySnapshot(cert *model.Certificate, now time.Time,
	dnsRes probe.DNSResult, reachRes probe.ReachabilityResult,
	tlsRes probe.TLSResult, redirectRes probe.HTTPRedirectResult) {

	cert.DNSStatus = &dnsRes.Status
	cert.DNSResponseTimeMS = &dnsRes.ResponseTimeMS
	reachable := reachRes.Status == "ok"
	cert.DomainReachable = &reachable
	if reachRes.HTTPStatusCode > 0 {
		code := reachRes.HTTPStatusCode
		cert.HTTPStatusCode = &code
	}
	if tlsRes.Status == "ok" {
		cert.TLSVersion = &tlsRes.TLSVersion
		cert.CipherSuite = &tlsRes.CipherSuite
		cert.CertificateChainValid = &tlsRes.ChainValid
		cert.SSLHandshakeTimeMS = &tlsRes.HandshakeTimeMS
		cert.SecurityGrade = &tlsRes.SecurityGrade
	}
	redirects := redirectRes.RedirectEnabled
	cert.HTTPRedirectStatus = &redirects
	cert.LastDNSCheck = &now
	cert.LastTLSCheck = &now
	cert.LastReachabilityCheck = &now
}

// overallState classifies one cycle per the DNS/reachability matrix.
func overallState(dnsRes probe.DNSResult, reachRes probe.ReachabilityResult) string {
	dnsOK := dnsRes.Status == "resolved"
	reachable := reachRes.Status == "ok"
	switch {
	case dnsOK && reachable:
		return model.HealthHealthy
	case dnsOK:
		return model.HealthDNSOKUnreachable
	case reachable:
		return model.HealthDNSFailReachable
	default:
		return model.HealthUnhealthy
	}
}

// evaluateAlerts submits candidates for failing conditions and resolves
// recovered ones. Expiry thresholds are checked every cycle.
func (m *Monitor) evaluateAlerts(ctx context.Context, cert *model.Certificate, domain string,
	now time.Time, responseThresholdMS int64, failureThreshold int,
	dnsRes probe.DNSResult, reachRes probe.ReachabilityResult,
	tlsRes probe.TLSResult, redirectRes probe.HTTPRedirectResult) {

	m.evaluateExpiry(ctx, cert, domain, now)

	data := map[string]string{"Domain": domain}

	dnsFailing := dnsRes.Status != "resolved" &&
		m.sustained(ctx, cert.ID, model.CheckTypeDNS, failureThreshold)
	m.emitOrResolve(ctx, dnsFailing,
		model.AlertKey{CertificateID: cert.ID, AlertType: model.AlertDNSFailure},
		"DNS resolution failing for "+domain,
		merge(data, "Error", dnsRes.Error))

	unreachable := reachRes.Status != "ok" &&
		m.sustained(ctx, cert.ID, model.CheckTypeReachability, failureThreshold)
	m.emitOrResolve(ctx, unreachable,
		model.AlertKey{CertificateID: cert.ID, AlertType: model.AlertDomainUnreachable},
		domain+" is unreachable",
		merge(data, "Error", reachRes.Error))

	m.emitOrResolve(ctx, reachRes.Status == "ok" && reachRes.ResponseTimeMS > responseThresholdMS,
		model.AlertKey{CertificateID: cert.ID, AlertType: model.AlertSlowResponse},
		domain+" is responding slowly",
		merge(data, "ResponseTimeMS", fmt.Sprintf("%d", reachRes.ResponseTimeMS)))

	if tlsRes.Status == "ok" {
		port := "443"
		outdated := tlsRes.TLSVersion == "TLS 1.0" || tlsRes.TLSVersion == "TLS 1.1"
		m.emitOrResolve(ctx, outdated,
			model.AlertKey{CertificateID: cert.ID, AlertType: model.AlertOutdatedTLS, Qualifier: port},
			domain+" negotiates an outdated TLS version",
			merge(data, "TLSVersion", tlsRes.TLSVersion))

		m.emitOrResolve(ctx, probe.WeakCipher(tlsRes.CipherSuite),
			model.AlertKey{CertificateID: cert.ID, AlertType: model.AlertWeakCipher, Qualifier: port},
			domain+" negotiates a weak cipher suite",
			merge(data, "CipherSuite", tlsRes.CipherSuite))

		m.emitOrResolve(ctx, !tlsRes.ChainValid,
			model.AlertKey{CertificateID: cert.ID, AlertType: model.AlertIncompleteChain, Qualifier: port},
			domain+" serves an incomplete certificate chain",
			data)
	}

	m.emitOrResolve(ctx, redirectRes.Status == "ok" && !redirectRes.RedirectEnabled,
		model.AlertKey{CertificateID: cert.ID, AlertType: model.AlertNoHTTPSRedirect},
		"http://"+domain+" does not redirect to HTTPS",
		data)
}

// evaluateExpiry walks the 30/7/1-day ladder. Only the tightest matching
// threshold stays active; the looser ones are resolved so one expiring
// certificate holds exactly one expiry alert.
func (m *Monitor) evaluateExpiry(ctx context.Context, cert *model.Certificate, domain string, now time.Time) {
	if cert.NotAfter == nil {
		return
	}
	left := cert.NotAfter.Sub(now)
	daysLeft := int(left.Hours() / 24)

	type threshold struct {
		alertType string
		match     bool
	}
	ladder := []threshold{
		{model.AlertCertExpired, left <= 0},
		{model.AlertCertExpiring1d, left > 0 && left <= 24*time.Hour},
		{model.AlertCertExpiring7d, left > 24*time.Hour && left <= 7*24*time.Hour},
		{model.AlertCertExpiring30d, left > 7*24*time.Hour && left <= 30*24*time.Hour},
	}

	data := map[string]string{
		"Domain":   domain,
		"DaysLeft": fmt.Sprintf("%d", daysLeft),
		"NotAfter": cert.NotAfter.Format(time.RFC3339),
	}
	for _, t := range ladder {
		key := model.AlertKey{CertificateID: cert.ID, AlertType: t.alertType}
		if t.match {
			title := "Certificate for " + domain + " is expiring"
			if t.alertType == model.AlertCertExpired {
				title = "Certificate for " + domain + " has expired"
			}
			if err := m.alerts.Emit(ctx, Candidate{Key: key, Title: title, Data: data}); err != nil {
				m.logger.Error().Err(err).Str("alert_type", t.alertType).Msg("failed to emit expiry alert")
			}
		} else {
			if err := m.alerts.Resolve(ctx, key); err != nil {
				m.logger.Error().Err(err).Str("alert_type", t.alertType).Msg("failed to resolve expiry alert")
			}
		}
	}
}

// sustained reports whether the last threshold observations of a check
// all failed. A threshold of one alerts on the first failure.
func (m *Monitor) sustained(ctx context.Context, certID, checkType string, threshold int) bool {
	if threshold <= 1 {
		return true
	}
	count, err := m.store.CountRecentFailures(ctx, certID, checkType, threshold)
	if err != nil {
		m.logger.Error().Err(err).Str("certificate_id", certID).Msg("failed to count recent failures")
		return true
	}
	return count >= threshold
}

func (m *Monitor) emitOrResolve(ctx context.Context, failing bool, key model.AlertKey, title string, data map[string]string) {
	var err error
	if failing {
		err = m.alerts.Emit(ctx, Candidate{Key: key, Title: title, Data: data})
	} else {
		err = m.alerts.Resolve(ctx, key)
	}
	if err != nil {
		m.logger.Error().Err(err).Str("alert_type", key.AlertType).Msg("alert engine call failed")
	}
}

func merge(base map[string]string, kv ...string) map[string]string {
	out := make(map[string]string, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}
