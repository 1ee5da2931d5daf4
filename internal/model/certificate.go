package model

import "time"

type Certificate struct {
	ID               string     `json:"id" db:"id"`
	Domains          []string   `json:"domains" db:"domains"`
	Type             string     `json:"type" db:"type"`
	CAType           string     `json:"ca_type" db:"ca_type"`
	ValidationMethod string     `json:"validation_method" db:"validation_method"`
	Status           string     `json:"status" db:"status"`
	NotBefore        *time.Time `json:"not_before,omitempty" db:"not_before"`
	NotAfter         *time.Time `json:"not_after,omitempty" db:"not_after"`
	PrivateKeyPEM    string     `json:"private_key_pem,omitempty" db:"private_key_pem"`
	ChainPEM         string     `json:"chain_pem,omitempty" db:"chain_pem"`
	SerialNumber     string     `json:"serial_number,omitempty" db:"serial_number"`
	FingerprintSHA256 string    `json:"fingerprint_sha256,omitempty" db:"fingerprint_sha256"`
	OwnerUserID      string     `json:"owner_user_id" db:"owner_user_id"`
	ServerID         *string    `json:"server_id,omitempty" db:"server_id"`
	AutoRenew        bool       `json:"auto_renew" db:"auto_renew"`
	RenewalDaysBefore int       `json:"renewal_days_before" db:"renewal_days_before"`
	RenewalStatus    string     `json:"renewal_status" db:"renewal_status"`
	LastRenewalAttempt *time.Time `json:"last_renewal_attempt,omitempty" db:"last_renewal_attempt"`
	ImportSource     string     `json:"import_source" db:"import_source"`

	// Denormalized monitoring snapshot, refreshed by the monitor loop.
	CheckInProgress       bool       `json:"check_in_progress" db:"check_in_progress"`
	DNSStatus             *string    `json:"dns_status,omitempty" db:"dns_status"`
	DNSResponseTimeMS     *int64     `json:"dns_response_time_ms,omitempty" db:"dns_response_time_ms"`
	DomainReachable       *bool      `json:"domain_reachable,omitempty" db:"domain_reachable"`
	HTTPStatusCode        *int       `json:"http_status_code,omitempty" db:"http_status_code"`
	TLSVersion            *string    `json:"tls_version,omitempty" db:"tls_version"`
	CipherSuite           *string    `json:"cipher_suite,omitempty" db:"cipher_suite"`
	CertificateChainValid *bool      `json:"certificate_chain_valid,omitempty" db:"certificate_chain_valid"`
	HTTPRedirectStatus    *bool      `json:"http_redirect_status,omitempty" db:"http_redirect_status"`
	SSLHandshakeTimeMS    *int64     `json:"ssl_handshake_time_ms,omitempty" db:"ssl_handshake_time_ms"`
	SecurityGrade         *string    `json:"security_grade,omitempty" db:"security_grade"`
	LastDNSCheck          *time.Time `json:"last_dns_check,omitempty" db:"last_dns_check"`
	LastTLSCheck          *time.Time `json:"last_tls_check,omitempty" db:"last_tls_check"`
	LastReachabilityCheck *time.Time `json:"last_reachability_check,omitempty" db:"last_reachability_check"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

const (
	CertTypeSingle   = "single"
	CertTypeMulti    = "multi"
	CertTypeWildcard = "wildcard"
)

const (
	CertStatusPending             = "pending"
	CertStatusPendingVerification = "pending_verification"
	CertStatusValid               = "valid"
	CertStatusRenewing            = "renewing"
	CertStatusExpired             = "expired"
	CertStatusRevoked             = "revoked"
)

const (
	RenewalStatusIdle       = "idle"
	RenewalStatusInProgress = "in_progress"
	RenewalStatusFailed     = "failed"
	RenewalStatusCompleted  = "completed"
)

const (
	ValidationHTTP01 = "http-01"
	ValidationDNS01  = "dns-01"
)

const (
	CALetsEncrypt = "letsencrypt"
	CAZeroSSL     = "zerossl"
	CABuypass     = "buypass"
)

const (
	ImportSourceACME      = "acme"
	ImportSourceManual    = "manual"
	ImportSourceDiscovery = "discovery"
)

// CertTypeFor derives the certificate type from its domain list.
func CertTypeFor(domains []string) string {
	for _, d := range domains {
		if len(d) > 2 && d[0] == '*' && d[1] == '.' {
			return CertTypeWildcard
		}
	}
	if len(domains) > 1 {
		return CertTypeMulti
	}
	return CertTypeSingle
}

// InRenewalWindow reports whether the certificate is close enough to expiry
// to be eligible for renewal.
func (c *Certificate) InRenewalWindow(now time.Time) bool {
	if c.NotAfter == nil {
		return false
	}
	days := c.RenewalDaysBefore
	if days <= 0 {
		days = 30
	}
	return !now.Before(c.NotAfter.Add(-time.Duration(days) * 24 * time.Hour))
}
