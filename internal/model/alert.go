package model

import (
	"encoding/json"
	"time"
)

// AlertKey identifies the dedup slot for an alert. At most one active alert
// exists per key.
type AlertKey struct {
	CertificateID string `json:"certificate_id"`
	AlertType     string `json:"alert_type"`
	Qualifier     string `json:"qualifier,omitempty"`
}

type Alert struct {
	ID             string          `json:"id" db:"id"`
	CertificateID  *string         `json:"certificate_id,omitempty" db:"certificate_id"`
	Type           string          `json:"type" db:"type"`
	Qualifier      string          `json:"qualifier" db:"qualifier"`
	Severity       string          `json:"severity" db:"severity"`
	Status         string          `json:"status" db:"status"`
	Title          string          `json:"title" db:"title"`
	Description    string          `json:"description" db:"description"`
	Context        json.RawMessage `json:"context,omitempty" db:"context"`
	FirstSeen      time.Time       `json:"first_seen" db:"first_seen"`
	LastSeen       time.Time       `json:"last_seen" db:"last_seen"`
	LastNotifiedAt *time.Time      `json:"last_notified_at,omitempty" db:"last_notified_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

func (a *Alert) Key() AlertKey {
	certID := ""
	if a.CertificateID != nil {
		certID = *a.CertificateID
	}
	return AlertKey{CertificateID: certID, AlertType: a.Type, Qualifier: a.Qualifier}
}

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	AlertStatusActive     = "active"
	AlertStatusResolved   = "resolved"
	AlertStatusSuppressed = "suppressed"
)

// Built-in alert types. The set is extensible through user-managed rules.
const (
	AlertCertExpiring30d     = "cert_expiring_30d"
	AlertCertExpiring7d      = "cert_expiring_7d"
	AlertCertExpiring1d      = "cert_expiring_1d"
	AlertCertExpired         = "cert_expired"
	AlertServerOffline       = "server_offline"
	AlertRenewalFailed       = "renewal_failed"
	AlertDeploymentFailed    = "deployment_failed"
	AlertDNSFailure          = "dns_failure"
	AlertDomainUnreachable   = "domain_unreachable"
	AlertSlowResponse        = "slow_response"
	AlertOutdatedTLS         = "outdated_tls"
	AlertWeakCipher          = "weak_cipher"
	AlertIncompleteChain     = "incomplete_chain"
	AlertNoHTTPSRedirect     = "no_https_redirect"
)

// AlertRule configures how a candidate event becomes a notification.
type AlertRule struct {
	ID                    string          `json:"id" db:"id"`
	AlertType             string          `json:"alert_type" db:"alert_type"`
	Severity              string          `json:"severity" db:"severity"`
	Enabled               bool            `json:"enabled" db:"enabled"`
	Conditions            json.RawMessage `json:"conditions,omitempty" db:"conditions"`
	NotificationProviders []string        `json:"notification_providers" db:"notification_providers"`
	NotificationTemplate  string          `json:"notification_template" db:"notification_template"`
	CooldownMinutes       int             `json:"cooldown_minutes" db:"cooldown_minutes"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
}
