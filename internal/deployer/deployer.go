// Package deployer pushes issued certificate material onto web servers
// and reloads them.
package deployer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certfleet/internal/model"
)

const (
	reloadTimeout   = 30 * time.Second
	iisResetTimeout = 60 * time.Second

	// Stderr captured into a DeploymentError is capped at this size.
	maxStderrBytes = 4096
)

// DeploymentError carries the failing step and the (truncated) stderr of
// the command that broke the deployment.
type DeploymentError struct {
	Step     string
	ExitCode int
	Stderr   string
}

func (e *DeploymentError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("deployment failed at %s (exit %d)", e.Step, e.ExitCode)
	}
	return fmt.Sprintf("deployment failed at %s (exit %d): %s", e.Step, e.ExitCode, e.Stderr)
}

// runner executes one command. Injected so tests can script commands
// without a shell.
type runner func(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)

func execRunner(ctx context.Context, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), cmd.ProcessState.ExitCode(), err
}

// Deployer writes key and chain to a server's certificate directory and
// reloads the serving process.
type Deployer struct {
	logger zerolog.Logger
	run    runner
	now    func() time.Time
}

func New(logger zerolog.Logger) *Deployer {
	return &Deployer{
		logger: logger.With().Str("component", "deployer").Logger(),
		run:    execRunner,
		now:    time.Now,
	}
}

// Deploy dispatches on the server's deploy type. A Deployment row is
// returned either way so the caller can record the outcome.
func (d *Deployer) Deploy(ctx context.Context, cert *model.Certificate, server *model.Server) (*model.Deployment, error) {
	logger := d.logger.With().
		Str("certificate_id", cert.ID).
		Str("server", server.Name).
		Str("deploy_type", server.DeployType).
		Logger()

	var err error
	switch server.DeployType {
	case model.DeployTypeNginx:
		err = d.deployUnix(ctx, cert, server.DeployTarget,
			[][]string{{"nginx", "-t"}}, []string{"nginx", "-s", "reload"})
	case model.DeployTypeApache:
		err = d.deployUnix(ctx, cert, server.DeployTarget,
			[][]string{{"apachectl", "configtest"}}, []string{"apachectl", "-k", "graceful"})
	case model.DeployTypeIIS:
		err = d.deployIIS(ctx, cert, server.DeployTarget)
	default:
		err = fmt.Errorf("unsupported deploy type %q", server.DeployType)
	}

	deployment := &model.Deployment{
		ID:            model.NewID(),
		CertificateID: cert.ID,
		ServerID:      &server.ID,
		DeployType:    server.DeployType,
		DeployTarget:  server.DeployTarget,
		Status:        model.DeploymentSuccess,
		CreatedAt:     d.now(),
	}
	if err != nil {
		deployment.Status = model.DeploymentFailed
		msg := err.Error()
		deployment.ErrorMessage = &msg
		logger.Error().Err(err).Msg("deployment failed")
		return deployment, err
	}
	logger.Info().Str("target", server.DeployTarget).Msg("certificate deployed")
	return deployment, nil
}

// deployUnix writes cert.pem and privkey.pem under target, runs the
// config test if the server type has one and aborts without reloading on a
// failing test.
func (d *Deployer) deployUnix(ctx context.Context, cert *model.Certificate, target string, tests [][]string, reload []string) error {
	if err := d.writeMaterial(cert, target); err != nil {
		return err
	}
	for _, test := range tests {
		if err := d.runStep(ctx, reloadTimeout, test[0], test[1:]...); err != nil {
			return err
		}
	}
	return d.runStep(ctx, reloadTimeout, reload[0], reload[1:]...)
}

// deployIIS converts the PEM pair to a PFX bundle and restarts IIS.
func (d *Deployer) deployIIS(ctx context.Context, cert *model.Certificate, target string) error {
	if err := d.writeMaterial(cert, target); err != nil {
		return err
	}
	pfxPath := filepath.Join(target, "certificate.pfx")
	err := d.runStep(ctx, reloadTimeout, "openssl", "pkcs12", "-export",
		"-out", pfxPath,
		"-inkey", filepath.Join(target, "privkey.pem"),
		"-in", filepath.Join(target, "cert.pem"),
		"-passout", "pass:")
	if err != nil {
		return err
	}
	return d.runStep(ctx, iisResetTimeout, "iisreset")
}

func (d *Deployer) writeMaterial(cert *model.Certificate, target string) error {
	if target == "" {
		return fmt.Errorf("deploy target not configured")
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create deploy target: %w", err)
	}
	if err := os.WriteFile(filepath.Join(target, "cert.pem"), []byte(cert.ChainPEM), 0o644); err != nil {
		return fmt.Errorf("write chain: %w", err)
	}
	if err := os.WriteFile(filepath.Join(target, "privkey.pem"), []byte(cert.PrivateKeyPEM), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}

func (d *Deployer) runStep(ctx context.Context, timeout time.Duration, name string, args ...string) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	step := name
	_, stderr, exitCode, err := d.run(stepCtx, name, args...)
	if err == nil && exitCode == 0 {
		return nil
	}
	if len(stderr) > maxStderrBytes {
		stderr = stderr[:maxStderrBytes]
	}
	if exitCode == 0 && err != nil {
		// Command did not start at all (missing binary, timeout).
		return fmt.Errorf("%s: %w", step, err)
	}
	return &DeploymentError{Step: step, ExitCode: exitCode, Stderr: stderr}
}
