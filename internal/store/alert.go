package store

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/certfleet/internal/model"
)

const alertColumns = `id, certificate_id, type, qualifier, severity, status, title,
	description, context, first_seen, last_seen, last_notified_at, resolved_at`

func scanAlert(row interface{ Scan(...any) error }) (*model.Alert, error) {
	var a model.Alert
	err := row.Scan(&a.ID, &a.CertificateID, &a.Type, &a.Qualifier, &a.Severity, &a.Status,
		&a.Title, &a.Description, &a.Context, &a.FirstSeen, &a.LastSeen, &a.LastNotifiedAt, &a.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetActiveAlert returns the single active alert for a dedup key, or
// ErrNotFound.
func (s *PGStore) GetActiveAlert(ctx context.Context, key model.AlertKey) (*model.Alert, error) {
	var certID any
	if key.CertificateID != "" {
		certID = key.CertificateID
	}
	a, err := scanAlert(s.db.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM alerts
		 WHERE certificate_id IS NOT DISTINCT FROM $1 AND type = $2 AND qualifier = $3
		   AND status = $4`,
		certID, key.AlertType, key.Qualifier, model.AlertStatusActive))
	if err != nil {
		return nil, fmt.Errorf("get active alert: %w", notFound(err))
	}
	return a, nil
}

func (s *PGStore) CreateAlert(ctx context.Context, a *model.Alert) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO alerts (id, certificate_id, type, qualifier, severity, status, title,
			description, context, first_seen, last_seen, last_notified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.CertificateID, a.Type, a.Qualifier, a.Severity, a.Status, a.Title,
		a.Description, a.Context, a.FirstSeen, a.LastSeen, a.LastNotifiedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// TouchAlert refreshes last_seen on an already-active alert and optionally
// records that a notification went out.
func (s *PGStore) TouchAlert(ctx context.Context, id string, seenAt time.Time, notified bool) error {
	var err error
	if notified {
		_, err = s.db.Exec(ctx,
			`UPDATE alerts SET last_seen = $1, last_notified_at = $1 WHERE id = $2`, seenAt, id)
	} else {
		_, err = s.db.Exec(ctx,
			`UPDATE alerts SET last_seen = $1 WHERE id = $2`, seenAt, id)
	}
	if err != nil {
		return fmt.Errorf("touch alert %s: %w", id, err)
	}
	return nil
}

// ResolveAlert closes the active alert for a key. Resolving a key with no
// active alert is a no-op.
func (s *PGStore) ResolveAlert(ctx context.Context, key model.AlertKey, at time.Time) error {
	var certID any
	if key.CertificateID != "" {
		certID = key.CertificateID
	}
	_, err := s.db.Exec(ctx,
		`UPDATE alerts SET status = $1, resolved_at = $2
		 WHERE certificate_id IS NOT DISTINCT FROM $3 AND type = $4 AND qualifier = $5
		   AND status = $6`,
		model.AlertStatusResolved, at, certID, key.AlertType, key.Qualifier, model.AlertStatusActive)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	return nil
}

func (s *PGStore) ListAlerts(ctx context.Context, status string, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + alertColumns + ` FROM alerts`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY last_seen DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

func (s *PGStore) ListAlertRules(ctx context.Context) ([]model.AlertRule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, alert_type, severity, enabled, conditions, notification_providers,
			notification_template, cooldown_minutes, created_at, updated_at
		 FROM alert_rules ORDER BY alert_type`)
	if err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []model.AlertRule
	for rows.Next() {
		var r model.AlertRule
		if err := rows.Scan(&r.ID, &r.AlertType, &r.Severity, &r.Enabled, &r.Conditions,
			&r.NotificationProviders, &r.NotificationTemplate, &r.CooldownMinutes,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert rules: %w", err)
	}
	return rules, nil
}

func (s *PGStore) UpdateAlertRule(ctx context.Context, r *model.AlertRule) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE alert_rules SET severity = $1, enabled = $2, conditions = $3,
			notification_providers = $4, notification_template = $5, cooldown_minutes = $6,
			updated_at = now()
		 WHERE id = $7`,
		r.Severity, r.Enabled, r.Conditions,
		r.NotificationProviders, r.NotificationTemplate, r.CooldownMinutes, r.ID)
	if err != nil {
		return fmt.Errorf("update alert rule %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
