package model

import (
	"encoding/json"
	"time"
)

type MonitorConfig struct {
	ID                          string    `json:"id" db:"id"`
	CertificateID               *string   `json:"certificate_id,omitempty" db:"certificate_id"`
	Domain                      string    `json:"domain" db:"domain"`
	MonitoredPorts              []int     `json:"monitored_ports" db:"monitored_ports"`
	FrequencySeconds            int       `json:"frequency_seconds" db:"frequency_seconds"`
	Enabled                     bool      `json:"enabled" db:"enabled"`
	AlertEnabled                bool      `json:"alert_enabled" db:"alert_enabled"`
	DNSTimeoutMS                int       `json:"dns_timeout_ms" db:"dns_timeout_ms"`
	HTTPTimeoutMS               int       `json:"http_timeout_ms" db:"http_timeout_ms"`
	ConsecutiveFailureThreshold int       `json:"consecutive_failure_threshold" db:"consecutive_failure_threshold"`
	ResponseTimeThresholdMS     int       `json:"response_time_threshold_ms" db:"response_time_threshold_ms"`
	CreatedAt                   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt                   time.Time `json:"updated_at" db:"updated_at"`
}

const (
	MinMonitorFrequencySeconds = 30
	MaxMonitoredPorts          = 20
)

// ProbeObservation is a single point-in-time measurement. Rows are append-only.
type ProbeObservation struct {
	ID             string          `json:"id" db:"id"`
	CertificateID  *string         `json:"certificate_id,omitempty" db:"certificate_id"`
	CheckType      string          `json:"check_type" db:"check_type"`
	Status         string          `json:"status" db:"status"`
	ResponseTimeMS int64           `json:"response_time_ms" db:"response_time_ms"`
	Details        json.RawMessage `json:"details,omitempty" db:"details"`
	ErrorMessage   *string         `json:"error_message,omitempty" db:"error_message"`
	ObservedAt     time.Time       `json:"observed_at" db:"observed_at"`
}

const (
	CheckTypeDNS          = "dns"
	CheckTypeReachability = "reachability"
	CheckTypeTLS          = "tls"
	CheckTypeHTTPRedirect = "http_redirect"
)

const (
	ObservationOK       = "ok"
	ObservationFailed   = "failed"
	ObservationDegraded = "degraded"
)

// Overall health states derived from one monitor cycle.
const (
	HealthHealthy          = "healthy"
	HealthDNSOKUnreachable = "dns_ok_unreachable"
	HealthDNSFailReachable = "dns_failed_reachable"
	HealthUnhealthy        = "unhealthy"
)
