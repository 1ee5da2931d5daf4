package store

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/certfleet/internal/model"
)

const monitorConfigColumns = `id, certificate_id, domain, monitored_ports, frequency_seconds,
	enabled, alert_enabled, dns_timeout_ms, http_timeout_ms, consecutive_failure_threshold,
	response_time_threshold_ms, created_at, updated_at`

func scanMonitorConfig(row interface{ Scan(...any) error }) (*model.MonitorConfig, error) {
	var m model.MonitorConfig
	err := row.Scan(&m.ID, &m.CertificateID, &m.Domain, &m.MonitoredPorts, &m.FrequencySeconds,
		&m.Enabled, &m.AlertEnabled, &m.DNSTimeoutMS, &m.HTTPTimeoutMS, &m.ConsecutiveFailureThreshold,
		&m.ResponseTimeThresholdMS, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PGStore) GetMonitorConfig(ctx context.Context, id string) (*model.MonitorConfig, error) {
	m, err := scanMonitorConfig(s.db.QueryRow(ctx,
		`SELECT `+monitorConfigColumns+` FROM monitor_configs WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get monitor config %s: %w", id, notFound(err))
	}
	return m, nil
}

// GetMonitorConfigForCertificate returns the config bound to a certificate,
// or ErrNotFound when the certificate runs on defaults.
func (s *PGStore) GetMonitorConfigForCertificate(ctx context.Context, certID string) (*model.MonitorConfig, error) {
	m, err := scanMonitorConfig(s.db.QueryRow(ctx,
		`SELECT `+monitorConfigColumns+` FROM monitor_configs WHERE certificate_id = $1`, certID))
	if err != nil {
		return nil, fmt.Errorf("get monitor config for certificate %s: %w", certID, notFound(err))
	}
	return m, nil
}

// validateMonitorConfig enforces the scheduling bounds. A zero frequency
// means the global default and is allowed.
func validateMonitorConfig(m *model.MonitorConfig) error {
	if m.FrequencySeconds != 0 && m.FrequencySeconds < model.MinMonitorFrequencySeconds {
		return fmt.Errorf("monitor config frequency %ds is below the %ds minimum",
			m.FrequencySeconds, model.MinMonitorFrequencySeconds)
	}
	if len(m.MonitoredPorts) > model.MaxMonitoredPorts {
		return fmt.Errorf("monitor config lists %d ports, maximum is %d",
			len(m.MonitoredPorts), model.MaxMonitoredPorts)
	}
	for _, p := range m.MonitoredPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("monitored port %d out of range", p)
		}
	}
	return nil
}

func (s *PGStore) CreateMonitorConfig(ctx context.Context, m *model.MonitorConfig) error {
	if err := validateMonitorConfig(m); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO monitor_configs (id, certificate_id, domain, monitored_ports, frequency_seconds,
			enabled, alert_enabled, dns_timeout_ms, http_timeout_ms, consecutive_failure_threshold,
			response_time_threshold_ms, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.CertificateID, m.Domain, m.MonitoredPorts, m.FrequencySeconds,
		m.Enabled, m.AlertEnabled, m.DNSTimeoutMS, m.HTTPTimeoutMS, m.ConsecutiveFailureThreshold,
		m.ResponseTimeThresholdMS, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert monitor config: %w", err)
	}
	return nil
}

func (s *PGStore) UpdateMonitorConfig(ctx context.Context, m *model.MonitorConfig) error {
	if err := validateMonitorConfig(m); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE monitor_configs SET monitored_ports = $1, frequency_seconds = $2, enabled = $3,
			alert_enabled = $4, dns_timeout_ms = $5, http_timeout_ms = $6,
			consecutive_failure_threshold = $7, response_time_threshold_ms = $8, updated_at = now()
		 WHERE id = $9`,
		m.MonitoredPorts, m.FrequencySeconds, m.Enabled,
		m.AlertEnabled, m.DNSTimeoutMS, m.HTTPTimeoutMS,
		m.ConsecutiveFailureThreshold, m.ResponseTimeThresholdMS, m.ID)
	if err != nil {
		return fmt.Errorf("update monitor config %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeleteMonitorConfig(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM monitor_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete monitor config %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) AppendObservation(ctx context.Context, o *model.ProbeObservation) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO probe_observations (id, certificate_id, check_type, status, response_time_ms,
			details, error_message, observed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.CertificateID, o.CheckType, o.Status, o.ResponseTimeMS,
		o.Details, o.ErrorMessage, o.ObservedAt)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

func (s *PGStore) ListObservations(ctx context.Context, certID string, limit int) ([]model.ProbeObservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, certificate_id, check_type, status, response_time_ms, details, error_message, observed_at
		 FROM probe_observations WHERE certificate_id = $1
		 ORDER BY observed_at DESC LIMIT $2`, certID, limit)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	var obs []model.ProbeObservation
	for rows.Next() {
		var o model.ProbeObservation
		if err := rows.Scan(&o.ID, &o.CertificateID, &o.CheckType, &o.Status, &o.ResponseTimeMS,
			&o.Details, &o.ErrorMessage, &o.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return obs, nil
}

// PruneObservations deletes observations older than the cutoff, returning
// how many rows went away.
func (s *PGStore) PruneObservations(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM probe_observations WHERE observed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune observations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountRecentFailures counts consecutive recent failed observations of one
// check type, used against the consecutive failure threshold.
func (s *PGStore) CountRecentFailures(ctx context.Context, certID, checkType string, window int) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM (
			SELECT status FROM probe_observations
			WHERE certificate_id = $1 AND check_type = $2
			ORDER BY observed_at DESC LIMIT $3
		 ) recent WHERE status = $4`,
		certID, checkType, window, model.ObservationFailed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent failures: %w", err)
	}
	return count, nil
}
