package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certfleet/internal/model"
)

// Agent tokens are looked up by their hex SHA-256 digest, never by the
// raw token value.
func TestGetServerByAgentToken_HashesToken(t *testing.T) {
	token := "agent-secret"
	digest := sha256.Sum256([]byte(token))
	now := time.Now()

	db := new(mockDB)
	db.On("QueryRow", mock.Anything, sqlContains("agent_token"),
		[]any{hex.EncodeToString(digest[:])}).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "srv-1"
			*(dest[1].(*string)) = "web-1"
			*(dest[2].(*string)) = "user-1"
			*(dest[3].(*string)) = "192.0.2.10"
			*(dest[4].(*string)) = "linux"
			*(dest[5].(*string)) = hex.EncodeToString(digest[:])
			*(dest[6].(*bool)) = true
			*(dest[8].(*string)) = model.ServerStatusOnline
			*(dest[9].(*string)) = model.DeployTypeNginx
			*(dest[10].(*string)) = "/etc/nginx/ssl"
			*(dest[11].(*time.Time)) = now
			*(dest[12].(*time.Time)) = now
			return nil
		}})

	srv, err := New(db).GetServerByAgentToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", srv.ID)
	assert.Equal(t, model.DeployTypeNginx, srv.DeployType)
	db.AssertExpectations(t)
}

func TestGetServerByAgentToken_Unknown(t *testing.T) {
	db := new(mockDB)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }})

	_, err := New(db).GetServerByAgentToken(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListStaleServers(t *testing.T) {
	cutoff := time.Now().Add(-model.HeartbeatTimeout)
	stale := cutoff.Add(-time.Hour)

	db := new(mockDB)
	db.On("Query", mock.Anything, sqlContains("last_heartbeat"),
		[]any{model.ServerStatusOnline, cutoff}).
		Return(newMockRows(func(dest ...any) error {
			*(dest[0].(*string)) = "srv-1"
			*(dest[1].(*string)) = "web-1"
			*(dest[2].(*string)) = "user-1"
			*(dest[7].(**time.Time)) = &stale
			*(dest[8].(*string)) = model.ServerStatusOnline
			return nil
		}), nil)

	servers, err := New(db).ListStaleServers(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "srv-1", servers[0].ID)
	db.AssertExpectations(t)
}

func TestUpdateServerHeartbeat_MarksOnline(t *testing.T) {
	at := time.Now()
	db := new(mockDB)
	db.On("Exec", mock.Anything, sqlContains("last_heartbeat"),
		[]any{at, model.ServerStatusOnline, "srv-1"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()

	err := New(db).UpdateServerHeartbeat(context.Background(), "srv-1", at)
	require.NoError(t, err)
	db.AssertExpectations(t)
}
