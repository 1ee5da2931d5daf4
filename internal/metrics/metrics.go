// Package metrics holds the Prometheus instruments shared by the service
// loops. Registration happens once at package load.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Renewals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certfleet_renewals_total",
		Help: "Certificate renewal attempts by result",
	}, []string{"result"})

	Issuances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certfleet_issuances_total",
		Help: "Certificate issuance attempts by CA and result",
	}, []string{"ca", "result"})

	Probes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certfleet_probes_total",
		Help: "Probe executions by check type and status",
	}, []string{"check_type", "status"})

	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certfleet_alerts_emitted_total",
		Help: "Alerts created by type",
	}, []string{"type"})

	Deployments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certfleet_deployments_total",
		Help: "Certificate deployments by type and result",
	}, []string{"deploy_type", "result"})

	MonitorCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "certfleet_monitor_cycle_duration_seconds",
		Help:    "Wall time of one monitor cycle",
		Buckets: prometheus.DefBuckets,
	})

	CertificateExpiry = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "certfleet_certificate_expiry_seconds",
		Help: "Seconds until certificate expiry, by primary domain",
	}, []string{"domain"})
)
