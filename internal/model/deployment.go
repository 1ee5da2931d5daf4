package model

import "time"

type Deployment struct {
	ID            string    `json:"id" db:"id"`
	CertificateID string    `json:"certificate_id" db:"certificate_id"`
	ServerID      *string   `json:"server_id,omitempty" db:"server_id"`
	DeployType    string    `json:"deploy_type" db:"deploy_type"`
	DeployTarget  string    `json:"deploy_target" db:"deploy_target"`
	Status        string    `json:"status" db:"status"`
	ErrorMessage  *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

const (
	DeployTypeNginx  = "nginx"
	DeployTypeApache = "apache"
	DeployTypeIIS    = "iis"
	DeployTypeCustom = "custom"
)

const (
	DeploymentSuccess = "success"
	DeploymentFailed  = "failed"
)
