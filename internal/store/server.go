package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/edvin/certfleet/internal/model"
)

const serverColumns = `id, name, owner_user_id, ip, os_type, agent_token, auto_renew,
	last_heartbeat, status, deploy_type, deploy_target, created_at, updated_at`

func scanServer(row interface{ Scan(...any) error }) (*model.Server, error) {
	var s model.Server
	err := row.Scan(&s.ID, &s.Name, &s.OwnerUserID, &s.IP, &s.OSType, &s.AgentToken, &s.AutoRenew,
		&s.LastHeartbeat, &s.Status, &s.DeployType, &s.DeployTarget, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *PGStore) GetServer(ctx context.Context, id string) (*model.Server, error) {
	srv, err := scanServer(s.db.QueryRow(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get server %s: %w", id, notFound(err))
	}
	return srv, nil
}

// GetServerByAgentToken authenticates an agent heartbeat. Tokens are
// stored as hex-encoded SHA-256 digests.
func (s *PGStore) GetServerByAgentToken(ctx context.Context, token string) (*model.Server, error) {
	hash := sha256.Sum256([]byte(token))
	srv, err := scanServer(s.db.QueryRow(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE agent_token = $1`,
		hex.EncodeToString(hash[:])))
	if err != nil {
		return nil, fmt.Errorf("get server by agent token: %w", notFound(err))
	}
	return srv, nil
}

func (s *PGStore) ListServers(ctx context.Context, ownerUserID string) ([]model.Server, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE owner_user_id = $1 ORDER BY name`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var servers []model.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, *srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate servers: %w", err)
	}
	return servers, nil
}

func (s *PGStore) UpdateServerHeartbeat(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE servers SET last_heartbeat = $1, status = $2, updated_at = now() WHERE id = $3`,
		at, model.ServerStatusOnline, id)
	if err != nil {
		return fmt.Errorf("update server heartbeat %s: %w", id, err)
	}
	return nil
}

func (s *PGStore) UpdateServerStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE servers SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update server status %s: %w", id, err)
	}
	return nil
}

// ListStaleServers returns servers still marked online whose last heartbeat
// is older than the cutoff.
func (s *PGStore) ListStaleServers(ctx context.Context, cutoff time.Time) ([]model.Server, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+serverColumns+` FROM servers
		 WHERE status = $1 AND (last_heartbeat IS NULL OR last_heartbeat < $2)`,
		model.ServerStatusOnline, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale servers: %w", err)
	}
	defer rows.Close()

	var servers []model.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, *srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale servers: %w", err)
	}
	return servers, nil
}
