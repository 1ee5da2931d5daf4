package probe

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/edvin/certfleet/internal/model"
)

// LeafInfo summarizes the presented leaf certificate.
type LeafInfo struct {
	Subject           string    `json:"subject"`
	Issuer            string    `json:"issuer"`
	SANs              []string  `json:"sans"`
	NotBefore         time.Time `json:"not_before"`
	NotAfter          time.Time `json:"not_after"`
	FingerprintSHA1   string    `json:"fingerprint_sha1"`
	FingerprintSHA256 string    `json:"fingerprint_sha256"`
	KeyType           string    `json:"key_type"`
	KeySize           int       `json:"key_size"`
}

// TLSResult is the details document of a tls observation.
type TLSResult struct {
	Status          string    `json:"status"`
	TLSVersion      string    `json:"tls_version,omitempty"`
	CipherSuite     string    `json:"cipher_suite,omitempty"`
	HandshakeTimeMS int64     `json:"handshake_time_ms"`
	ChainLength     int       `json:"chain_length"`
	ChainValid      bool      `json:"certificate_chain_valid"`
	Leaf            *LeafInfo `json:"leaf,omitempty"`
	SecurityScore   int       `json:"security_score"`
	SecurityGrade   string    `json:"security_grade,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// ProbeTLS performs a TLS handshake against domain:port and records the
// negotiated parameters and the presented chain. Verification is disabled
// so broken deployments are still observable.
func (p *Prober) ProbeTLS(ctx context.Context, domain string, port int) TLSResult {
	result := TLSResult{Status: "failed"}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.tcpTimeout},
		Config: &tls.Config{
			ServerName:         domain,
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS10,
		},
	}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(domain, fmt.Sprintf("%d", port)))
	result.HandshakeTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	result.Status = "ok"
	result.TLSVersion = tls.VersionName(state.Version)
	result.CipherSuite = tls.CipherSuiteName(state.CipherSuite)
	result.ChainLength = len(state.PeerCertificates)
	// A chain of length 1 means the server sent no intermediates.
	result.ChainValid = result.ChainLength > 1

	if len(state.PeerCertificates) > 0 {
		result.Leaf = leafInfo(state.PeerCertificates[0])
	}

	result.SecurityScore = Score(result.TLSVersion, result.CipherSuite, result.ChainLength, result.HandshakeTimeMS)
	result.SecurityGrade = GradeLetter(result.SecurityScore)
	return result
}

func leafInfo(cert *x509.Certificate) *LeafInfo {
	sha1Sum := sha1.Sum(cert.Raw)
	sha256Sum := sha256.Sum256(cert.Raw)

	info := &LeafInfo{
		Subject:           cert.Subject.String(),
		Issuer:            cert.Issuer.String(),
		SANs:              cert.DNSNames,
		NotBefore:         cert.NotBefore,
		NotAfter:          cert.NotAfter,
		FingerprintSHA1:   hex.EncodeToString(sha1Sum[:]),
		FingerprintSHA256: hex.EncodeToString(sha256Sum[:]),
	}
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		info.KeyType = "RSA"
		info.KeySize = pub.N.BitLen()
	case *ecdsa.PublicKey:
		info.KeyType = "ECDSA"
		info.KeySize = pub.Curve.Params().BitSize
	default:
		info.KeyType = fmt.Sprintf("%T", cert.PublicKey)
	}
	return info
}

// Observation converts the result to an observation row.
func (r TLSResult) Observation(certID *string) model.ProbeObservation {
	status := model.ObservationOK
	if r.Status != "ok" {
		status = model.ObservationFailed
	}
	return observation(certID, model.CheckTypeTLS, status, r.HandshakeTimeMS, r, r.Error)
}
