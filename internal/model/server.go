package model

import "time"

type Server struct {
	ID            string     `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	OwnerUserID   string     `json:"owner_user_id" db:"owner_user_id"`
	IP            string     `json:"ip" db:"ip"`
	OSType        string     `json:"os_type" db:"os_type"`
	AgentToken    string     `json:"-" db:"agent_token"`
	AutoRenew     bool       `json:"auto_renew" db:"auto_renew"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty" db:"last_heartbeat"`
	Status        string     `json:"status" db:"status"`
	DeployType    string     `json:"deploy_type" db:"deploy_type"`
	DeployTarget  string     `json:"deploy_target" db:"deploy_target"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

const (
	ServerStatusOnline  = "online"
	ServerStatusOffline = "offline"
	ServerStatusUnknown = "unknown"
)

// HeartbeatTimeout is how long a server may stay silent before it is
// considered offline.
const HeartbeatTimeout = 5 * time.Minute

// Online reports whether the server has heartbeated recently.
func (s *Server) Online(now time.Time) bool {
	return s.LastHeartbeat != nil && now.Sub(*s.LastHeartbeat) <= HeartbeatTimeout
}

type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	IsAdmin   bool      `json:"is_admin" db:"is_admin"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
