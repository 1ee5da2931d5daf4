package store

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/certfleet/internal/model"
)

const certificateColumns = `id, domains, type, ca_type, validation_method, status,
	not_before, not_after, private_key_pem, chain_pem, serial_number, fingerprint_sha256,
	owner_user_id, server_id, auto_renew, renewal_days_before, renewal_status,
	last_renewal_attempt, import_source, check_in_progress, dns_status, dns_response_time_ms,
	domain_reachable, http_status_code, tls_version, cipher_suite, certificate_chain_valid,
	http_redirect_status, ssl_handshake_time_ms, security_grade, last_dns_check,
	last_tls_check, last_reachability_check, created_at, updated_at`

func scanCertificate(row interface{ Scan(...any) error }) (*model.Certificate, error) {
	var c model.Certificate
	err := row.Scan(&c.ID, &c.Domains, &c.Type, &c.CAType, &c.ValidationMethod, &c.Status,
		&c.NotBefore, &c.NotAfter, &c.PrivateKeyPEM, &c.ChainPEM, &c.SerialNumber, &c.FingerprintSHA256,
		&c.OwnerUserID, &c.ServerID, &c.AutoRenew, &c.RenewalDaysBefore, &c.RenewalStatus,
		&c.LastRenewalAttempt, &c.ImportSource, &c.CheckInProgress, &c.DNSStatus, &c.DNSResponseTimeMS,
		&c.DomainReachable, &c.HTTPStatusCode, &c.TLSVersion, &c.CipherSuite, &c.CertificateChainValid,
		&c.HTTPRedirectStatus, &c.SSLHandshakeTimeMS, &c.SecurityGrade, &c.LastDNSCheck,
		&c.LastTLSCheck, &c.LastReachabilityCheck, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PGStore) GetCertificate(ctx context.Context, id string) (*model.Certificate, error) {
	c, err := scanCertificate(s.db.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get certificate %s: %w", id, notFound(err))
	}
	return c, nil
}

// GetCertificateByDomain returns the certificate whose primary domain
// matches, scoped to an owner.
func (s *PGStore) GetCertificateByDomain(ctx context.Context, domain, ownerUserID string) (*model.Certificate, error) {
	c, err := scanCertificate(s.db.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates
		 WHERE domains[1] = $1 AND owner_user_id = $2`, domain, ownerUserID))
	if err != nil {
		return nil, fmt.Errorf("get certificate for %s: %w", domain, notFound(err))
	}
	return c, nil
}

func (s *PGStore) ListCertificates(ctx context.Context, filter model.CertificateFilter) ([]model.Certificate, int, error) {
	filter = filter.Normalized()

	where := ` WHERE 1=1`
	args := []any{}
	idx := 1
	if filter.OwnerUserID != "" {
		where += fmt.Sprintf(` AND owner_user_id = $%d`, idx)
		args = append(args, filter.OwnerUserID)
		idx++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.Domain != "" {
		where += fmt.Sprintf(` AND $%d = ANY(domains)`, idx)
		args = append(args, filter.Domain)
		idx++
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM certificates`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count certificates: %w", err)
	}

	query := `SELECT ` + certificateColumns + ` FROM certificates` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var certs []model.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan certificate: %w", err)
		}
		certs = append(certs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate certificates: %w", err)
	}
	return certs, total, nil
}

func (s *PGStore) CreateCertificate(ctx context.Context, c *model.Certificate) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO certificates (id, domains, type, ca_type, validation_method, status,
			not_before, not_after, private_key_pem, chain_pem, serial_number, fingerprint_sha256,
			owner_user_id, server_id, auto_renew, renewal_days_before, renewal_status,
			import_source, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		c.ID, c.Domains, c.Type, c.CAType, c.ValidationMethod, c.Status,
		c.NotBefore, c.NotAfter, c.PrivateKeyPEM, c.ChainPEM, c.SerialNumber, c.FingerprintSHA256,
		c.OwnerUserID, c.ServerID, c.AutoRenew, c.RenewalDaysBefore, c.RenewalStatus,
		c.ImportSource, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

// UpdateCertificateMaterial stores freshly issued material after issuance
// or renewal.
func (s *PGStore) UpdateCertificateMaterial(ctx context.Context, c *model.Certificate) error {
	_, err := s.db.Exec(ctx,
		`UPDATE certificates SET chain_pem = $1, private_key_pem = $2, serial_number = $3,
			fingerprint_sha256 = $4, not_before = $5, not_after = $6, status = $7,
			ca_type = $8, updated_at = now()
		 WHERE id = $9`,
		c.ChainPEM, c.PrivateKeyPEM, c.SerialNumber, c.FingerprintSHA256,
		c.NotBefore, c.NotAfter, c.Status, c.CAType, c.ID)
	if err != nil {
		return fmt.Errorf("update certificate material %s: %w", c.ID, err)
	}
	return nil
}

func (s *PGStore) UpdateCertificateStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE certificates SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update certificate %s status: %w", id, err)
	}
	return nil
}

func (s *PGStore) DeleteCertificate(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM certificates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete certificate %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRenewalStatus performs the compare-and-set that serializes renewal
// work on one certificate. It reports whether the transition happened.
func (s *PGStore) SetRenewalStatus(ctx context.Context, id, from, to string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE certificates SET renewal_status = $1, updated_at = now()
		 WHERE id = $2 AND renewal_status = $3`, to, id, from)
	if err != nil {
		return false, fmt.Errorf("set renewal status %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinishRenewal records the terminal renewal state and attempt time.
func (s *PGStore) FinishRenewal(ctx context.Context, id, status string, attemptedAt time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE certificates SET renewal_status = $1, last_renewal_attempt = $2, updated_at = now()
		 WHERE id = $3`, status, attemptedAt, id)
	if err != nil {
		return fmt.Errorf("finish renewal %s: %w", id, err)
	}
	return nil
}

// SetCheckInProgress claims or releases a certificate for a monitor cycle.
// Claiming is a compare-and-set; releasing is unconditional.
func (s *PGStore) SetCheckInProgress(ctx context.Context, id string, inProgress bool) (bool, error) {
	if inProgress {
		tag, err := s.db.Exec(ctx,
			`UPDATE certificates SET check_in_progress = true, updated_at = now()
			 WHERE id = $1 AND check_in_progress = false`, id)
		if err != nil {
			return false, fmt.Errorf("claim check on %s: %w", id, err)
		}
		return tag.RowsAffected() == 1, nil
	}
	_, err := s.db.Exec(ctx,
		`UPDATE certificates SET check_in_progress = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("release check on %s: %w", id, err)
	}
	return true, nil
}

// UpdateMonitoringSnapshot writes the denormalized probe summary onto the
// certificate row.
func (s *PGStore) UpdateMonitoringSnapshot(ctx context.Context, c *model.Certificate) error {
	_, err := s.db.Exec(ctx,
		`UPDATE certificates SET dns_status = $1, dns_response_time_ms = $2, domain_reachable = $3,
			http_status_code = $4, tls_version = $5, cipher_suite = $6, certificate_chain_valid = $7,
			http_redirect_status = $8, ssl_handshake_time_ms = $9, security_grade = $10,
			last_dns_check = $11, last_tls_check = $12, last_reachability_check = $13,
			updated_at = now()
		 WHERE id = $14`,
		c.DNSStatus, c.DNSResponseTimeMS, c.DomainReachable,
		c.HTTPStatusCode, c.TLSVersion, c.CipherSuite, c.CertificateChainValid,
		c.HTTPRedirectStatus, c.SSLHandshakeTimeMS, c.SecurityGrade,
		c.LastDNSCheck, c.LastTLSCheck, c.LastReachabilityCheck, c.ID)
	if err != nil {
		return fmt.Errorf("update monitoring snapshot %s: %w", c.ID, err)
	}
	return nil
}

// ListDueMonitorCertificates returns monitor-eligible certificates that
// have never been checked or whose check interval has elapsed, never
// checked first, capped to limit. A bound monitor config overrides the
// default frequency.
func (s *PGStore) ListDueMonitorCertificates(ctx context.Context, now time.Time, frequency time.Duration, limit int) ([]model.Certificate, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+certificateColumns+` FROM certificates
		 WHERE status != $1 AND check_in_progress = false
		   AND (last_tls_check IS NULL
		     OR last_tls_check + make_interval(secs => COALESCE(
		          (SELECT NULLIF(mc.frequency_seconds, 0) FROM monitor_configs mc
		            WHERE mc.certificate_id = certificates.id),
		          $2)) <= $3)
		 ORDER BY last_tls_check ASC NULLS FIRST
		 LIMIT $4`,
		model.CertStatusRevoked, int64(frequency.Seconds()), now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due monitor certificates: %w", err)
	}
	defer rows.Close()

	var certs []model.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		certs = append(certs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due certificates: %w", err)
	}
	return certs, nil
}

// ListRenewalCandidates returns auto-renew certificates inside their
// renewal window.
func (s *PGStore) ListRenewalCandidates(ctx context.Context, now time.Time) ([]model.Certificate, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+certificateColumns+` FROM certificates
		 WHERE auto_renew = true AND status = $1
		   AND not_after IS NOT NULL
		   AND not_after - (renewal_days_before || ' days')::interval <= $2`,
		model.CertStatusValid, now)
	if err != nil {
		return nil, fmt.Errorf("list renewal candidates: %w", err)
	}
	defer rows.Close()

	var certs []model.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		certs = append(certs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate renewal candidates: %w", err)
	}
	return certs, nil
}

// MarkExpiredCertificates flips valid certificates past their expiry to
// expired, returning how many changed.
func (s *PGStore) MarkExpiredCertificates(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE certificates SET status = $1, updated_at = now()
		 WHERE status = $2 AND not_after IS NOT NULL AND not_after < $3`,
		model.CertStatusExpired, model.CertStatusValid, now)
	if err != nil {
		return 0, fmt.Errorf("mark expired certificates: %w", err)
	}
	return tag.RowsAffected(), nil
}
