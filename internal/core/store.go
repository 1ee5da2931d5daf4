package core

import (
	"context"
	"time"

	"github.com/edvin/certfleet/internal/model"
)

// Store is the repository port consumed by the service layer. The
// PostgreSQL implementation lives in internal/store.
type Store interface {
	GetCertificate(ctx context.Context, id string) (*model.Certificate, error)
	GetCertificateByDomain(ctx context.Context, domain, ownerUserID string) (*model.Certificate, error)
	ListCertificates(ctx context.Context, filter model.CertificateFilter) ([]model.Certificate, int, error)
	CreateCertificate(ctx context.Context, c *model.Certificate) error
	UpdateCertificateMaterial(ctx context.Context, c *model.Certificate) error
	UpdateCertificateStatus(ctx context.Context, id, status string) error
	DeleteCertificate(ctx context.Context, id string) error
	SetRenewalStatus(ctx context.Context, id, from, to string) (bool, error)
	FinishRenewal(ctx context.Context, id, status string, attemptedAt time.Time) error
	SetCheckInProgress(ctx context.Context, id string, inProgress bool) (bool, error)
	UpdateMonitoringSnapshot(ctx context.Context, c *model.Certificate) error
	ListDueMonitorCertificates(ctx context.Context, now time.Time, frequency time.Duration, limit int) ([]model.Certificate, error)
	ListRenewalCandidates(ctx context.Context, now time.Time) ([]model.Certificate, error)
	MarkExpiredCertificates(ctx context.Context, now time.Time) (int64, error)

	GetServer(ctx context.Context, id string) (*model.Server, error)
	ListServers(ctx context.Context, ownerUserID string) ([]model.Server, error)
	UpdateServerHeartbeat(ctx context.Context, id string, at time.Time) error
	UpdateServerStatus(ctx context.Context, id, status string) error
	ListStaleServers(ctx context.Context, cutoff time.Time) ([]model.Server, error)

	GetUser(ctx context.Context, id string) (*model.User, error)

	GetMonitorConfigForCertificate(ctx context.Context, certID string) (*model.MonitorConfig, error)

	AppendObservation(ctx context.Context, o *model.ProbeObservation) error
	PruneObservations(ctx context.Context, cutoff time.Time) (int64, error)
	CountRecentFailures(ctx context.Context, certID, checkType string, window int) (int, error)

	GetActiveAlert(ctx context.Context, key model.AlertKey) (*model.Alert, error)
	CreateAlert(ctx context.Context, a *model.Alert) error
	TouchAlert(ctx context.Context, id string, seenAt time.Time, notified bool) error
	ResolveAlert(ctx context.Context, key model.AlertKey, at time.Time) error
	ListAlertRules(ctx context.Context) ([]model.AlertRule, error)

	CreateDeployment(ctx context.Context, d *model.Deployment) error
}
