package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certfleet/internal/acme"
	"github.com/edvin/certfleet/internal/metrics"
	"github.com/edvin/certfleet/internal/model"
)

// Issuer is the ACME surface the orchestrator drives. *acme.Client
// satisfies it.
type Issuer interface {
	CAType() string
	RequestCertificate(ctx context.Context, domains []string, validationMethod string) (*acme.IssuedCertificate, error)
	RenewCertificate(ctx context.Context, prior acme.CertInfo, validationMethod string) (*acme.IssuedCertificate, error)
	RevokeCertificate(ctx context.Context, chainPEM string, reasonCode int) error
}

// IssuerFactory returns a ready client for one CA.
type IssuerFactory func(caType string) (Issuer, error)

// Orchestrator is the business glue around the ACME client: ownership
// checks, per-domain uniqueness and multi-CA fallback.
type Orchestrator struct {
	store             Store
	issuers           IssuerFactory
	fallbackCAs       []string
	renewalDaysBefore int
	alerts            *AlertEngine
	logger            zerolog.Logger

	now func() time.Time
}

func NewOrchestrator(store Store, issuers IssuerFactory, fallbackCAs []string, renewalDaysBefore int, alerts *AlertEngine, logger zerolog.Logger) *Orchestrator {
	if renewalDaysBefore < 1 || renewalDaysBefore > 89 {
		renewalDaysBefore = 30
	}
	return &Orchestrator{
		store:             store,
		issuers:           issuers,
		fallbackCAs:       fallbackCAs,
		renewalDaysBefore: renewalDaysBefore,
		alerts:            alerts,
		logger:            logger.With().Str("component", "orchestrator").Logger(),
		now:               time.Now,
	}
}

// CertificateRequest carries the parameters of a new issuance.
type CertificateRequest struct {
	Domains          []string `validate:"required,min=1,max=100,dive,domain"`
	ServerID         string   `validate:"omitempty"`
	CAType           string   `validate:"required,oneof=letsencrypt zerossl buypass"`
	ValidationMethod string   `validate:"required,oneof=http-01 dns-01"`
	AutoRenew        bool
}

// RequestCertificate validates ownership, enforces per-domain uniqueness,
// issues through the requested CA (with fallback on retryable CA errors)
// and records the result.
func (o *Orchestrator) RequestCertificate(ctx context.Context, userID string, req CertificateRequest) (*model.Certificate, error) {
	if err := validate.Struct(req); err != nil {
		return nil, invalidf("certificate request: %v", err)
	}

	user, err := o.store.GetUser(ctx, userID)
	if err != nil {
		if isStoreNotFound(err) {
			return nil, notFoundf("user %s", userID)
		}
		return nil, err
	}

	var serverID *string
	if req.ServerID != "" {
		server, err := o.store.GetServer(ctx, req.ServerID)
		if err != nil {
			if isStoreNotFound(err) {
				return nil, notFoundf("server %s", req.ServerID)
			}
			return nil, err
		}
		if !user.IsAdmin && server.OwnerUserID != user.ID {
			return nil, forbiddenf("user %s does not own server %s", user.ID, server.ID)
		}
		serverID = &server.ID
	}

	existing, err := o.store.GetCertificateByDomain(ctx, req.Domains[0], userID)
	if err != nil && !isStoreNotFound(err) {
		return nil, err
	}
	if existing != nil && existing.Status == model.CertStatusValid {
		return nil, invalidf("certificate for %s: %w", req.Domains[0], ErrAlreadyExists)
	}

	issued, issuedBy, err := o.issueWithFallback(ctx, req.CAType, func(issuer Issuer) (*acme.IssuedCertificate, error) {
		return issuer.RequestCertificate(ctx, req.Domains, req.ValidationMethod)
	})
	if err != nil {
		return nil, err
	}

	now := o.now()
	cert := &model.Certificate{
		ID:                model.NewID(),
		Domains:           req.Domains,
		Type:              model.CertTypeFor(req.Domains),
		CAType:            issuedBy,
		ValidationMethod:  req.ValidationMethod,
		Status:            model.CertStatusValid,
		NotBefore:         &issued.Info.NotBefore,
		NotAfter:          &issued.Info.NotAfter,
		PrivateKeyPEM:     issued.KeyPEM,
		ChainPEM:          issued.ChainPEM,
		SerialNumber:      issued.Info.SerialNumber,
		FingerprintSHA256: issued.Info.FingerprintSHA256,
		OwnerUserID:       userID,
		ServerID:          serverID,
		AutoRenew:         req.AutoRenew,
		RenewalDaysBefore: o.renewalDaysBefore,
		RenewalStatus:     model.RenewalStatusIdle,
		ImportSource:      model.ImportSourceACME,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.store.CreateCertificate(ctx, cert); err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("certificate_id", cert.ID).
		Strs("domains", cert.Domains).
		Str("ca", issuedBy).
		Time("not_after", issued.Info.NotAfter).
		Msg("certificate issued")
	return cert, nil
}

// RenewalResult reports what a renewal call did. Renewed is false when the
// certificate was still outside its renewal window.
type RenewalResult struct {
	Renewed     bool
	Certificate *model.Certificate
}

// RenewCertificate renews one certificate on demand. It shares the
// renewal_status compare-and-set with the scheduler so the two never race.
// An empty userID is the system itself.
func (o *Orchestrator) RenewCertificate(ctx context.Context, certID, userID string) (*RenewalResult, error) {
	cert, err := o.store.GetCertificate(ctx, certID)
	if err != nil {
		if isStoreNotFound(err) {
			return nil, notFoundf("certificate %s", certID)
		}
		return nil, err
	}
	if userID != "" && cert.OwnerUserID != userID {
		user, err := o.store.GetUser(ctx, userID)
		if err != nil || !user.IsAdmin {
			return nil, forbiddenf("user %s does not own certificate %s", userID, certID)
		}
	}

	if cert.NotAfter == nil {
		return nil, invalidf("certificate %s has no expiry recorded", certID)
	}
	if !cert.InRenewalWindow(o.now()) {
		return &RenewalResult{Renewed: false, Certificate: cert}, nil
	}

	claimed, err := o.store.SetRenewalStatus(ctx, cert.ID, model.RenewalStatusIdle, model.RenewalStatusInProgress)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Retry after a previous failure is also a manual use case.
		claimed, err = o.store.SetRenewalStatus(ctx, cert.ID, model.RenewalStatusFailed, model.RenewalStatusInProgress)
		if err != nil {
			return nil, err
		}
		if !claimed {
			claimed, err = o.store.SetRenewalStatus(ctx, cert.ID, model.RenewalStatusCompleted, model.RenewalStatusInProgress)
			if err != nil {
				return nil, err
			}
		}
	}
	if !claimed {
		return nil, fmt.Errorf("renewal of certificate %s is already in progress: %w", cert.ID, ErrConflict)
	}

	renewed, err := o.renewHeld(ctx, cert)
	now := o.now()
	if err != nil {
		_ = o.store.FinishRenewal(ctx, cert.ID, model.RenewalStatusFailed, now)
		o.emitRenewalFailed(ctx, cert, err)
		return nil, err
	}
	if err := o.store.FinishRenewal(ctx, cert.ID, model.RenewalStatusCompleted, now); err != nil {
		return nil, err
	}
	return &RenewalResult{Renewed: true, Certificate: renewed}, nil
}

// renewHeld performs the CA round trip and persists the new material. The
// caller holds the renewal_status claim and records the final state.
func (o *Orchestrator) renewHeld(ctx context.Context, cert *model.Certificate) (*model.Certificate, error) {
	prior := acme.CertInfo{
		Domains:      cert.Domains,
		SerialNumber: cert.SerialNumber,
	}
	if cert.NotAfter != nil {
		prior.NotAfter = *cert.NotAfter
	}
	if cert.NotBefore != nil {
		prior.NotBefore = *cert.NotBefore
	}

	issued, issuedBy, err := o.issueWithFallback(ctx, cert.CAType, func(issuer Issuer) (*acme.IssuedCertificate, error) {
		return issuer.RenewCertificate(ctx, prior, cert.ValidationMethod)
	})
	if err != nil {
		metrics.Renewals.WithLabelValues("failure").Inc()
		return nil, err
	}

	cert.ChainPEM = issued.ChainPEM
	cert.PrivateKeyPEM = issued.KeyPEM
	cert.SerialNumber = issued.Info.SerialNumber
	cert.FingerprintSHA256 = issued.Info.FingerprintSHA256
	cert.NotBefore = &issued.Info.NotBefore
	cert.NotAfter = &issued.Info.NotAfter
	cert.Status = model.CertStatusValid
	cert.CAType = issuedBy
	if err := o.store.UpdateCertificateMaterial(ctx, cert); err != nil {
		return nil, err
	}
	metrics.Renewals.WithLabelValues("success").Inc()

	o.logger.Info().
		Str("certificate_id", cert.ID).
		Str("ca", issuedBy).
		Time("not_after", issued.Info.NotAfter).
		Msg("certificate renewed")
	return cert, nil
}

// RevokeCertificate revokes at the CA and marks the row. Revoking an
// already revoked certificate fails.
func (o *Orchestrator) RevokeCertificate(ctx context.Context, certID, userID string, reasonCode int) error {
	cert, err := o.store.GetCertificate(ctx, certID)
	if err != nil {
		if isStoreNotFound(err) {
			return notFoundf("certificate %s", certID)
		}
		return err
	}
	if userID != "" && cert.OwnerUserID != userID {
		user, err := o.store.GetUser(ctx, userID)
		if err != nil || !user.IsAdmin {
			return forbiddenf("user %s does not own certificate %s", userID, certID)
		}
	}
	if cert.Status == model.CertStatusRevoked {
		return invalidf("certificate %s is already revoked", certID)
	}

	issuer, err := o.issuers(cert.CAType)
	if err != nil {
		return err
	}
	if err := issuer.RevokeCertificate(ctx, cert.ChainPEM, reasonCode); err != nil {
		return err
	}
	return o.store.UpdateCertificateStatus(ctx, cert.ID, model.CertStatusRevoked)
}

// issueWithFallback tries the primary CA and walks the configured fallback
// list on rate-limit or CA-unavailable failures. It returns the CA that
// ultimately issued.
func (o *Orchestrator) issueWithFallback(ctx context.Context, primary string, issue func(Issuer) (*acme.IssuedCertificate, error)) (*acme.IssuedCertificate, string, error) {
	cas := []string{primary}
	for _, ca := range o.fallbackCAs {
		if ca != primary {
			cas = append(cas, ca)
		}
	}

	var lastErr error
	for i, ca := range cas {
		issuer, err := o.issuers(ca)
		if err != nil {
			lastErr = err
			continue
		}
		issued, err := issue(issuer)
		if err == nil {
			metrics.Issuances.WithLabelValues(ca, "success").Inc()
			return issued, ca, nil
		}
		metrics.Issuances.WithLabelValues(ca, "failure").Inc()
		lastErr = err
		if !acme.Retryable(err) || i == len(cas)-1 {
			return nil, "", err
		}
		o.logger.Warn().Err(err).
			Str("ca", ca).
			Str("next_ca", cas[i+1]).
			Msg("CA failed with a retryable error, falling back")
	}
	return nil, "", lastErr
}

func (o *Orchestrator) emitRenewalFailed(ctx context.Context, cert *model.Certificate, cause error) {
	if o.alerts == nil {
		return
	}
	domain := ""
	if len(cert.Domains) > 0 {
		domain = cert.Domains[0]
	}
	err := o.alerts.Emit(ctx, Candidate{
		Key: model.AlertKey{
			CertificateID: cert.ID,
			AlertType:     model.AlertRenewalFailed,
		},
		Title: "Certificate renewal failed for " + domain,
		Data: map[string]string{
			"Domain": domain,
			"Error":  cause.Error(),
		},
	})
	if err != nil {
		o.logger.Error().Err(err).Str("certificate_id", cert.ID).Msg("failed to emit renewal_failed alert")
	}
}
