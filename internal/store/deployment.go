package store

import (
	"context"
	"fmt"

	"github.com/edvin/certfleet/internal/model"
)

func (s *PGStore) CreateDeployment(ctx context.Context, d *model.Deployment) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO deployments (id, certificate_id, server_id, deploy_type, deploy_target,
			status, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.CertificateID, d.ServerID, d.DeployType, d.DeployTarget,
		d.Status, d.ErrorMessage, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (s *PGStore) ListDeployments(ctx context.Context, certID string, limit int) ([]model.Deployment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, certificate_id, server_id, deploy_type, deploy_target, status, error_message, created_at
		 FROM deployments WHERE certificate_id = $1
		 ORDER BY created_at DESC LIMIT $2`, certID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []model.Deployment
	for rows.Next() {
		var d model.Deployment
		if err := rows.Scan(&d.ID, &d.CertificateID, &d.ServerID, &d.DeployType, &d.DeployTarget,
			&d.Status, &d.ErrorMessage, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return deployments, nil
}
