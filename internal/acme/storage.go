package acme

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CertInfo is the parsed summary stored next to each certificate as
// info.json.
type CertInfo struct {
	Subject            string    `json:"subject"`
	Issuer             string    `json:"issuer"`
	SerialNumber       string    `json:"serial_number"`
	NotBefore          time.Time `json:"not_valid_before"`
	NotAfter           time.Time `json:"not_valid_after"`
	SignatureAlgorithm string    `json:"signature_algorithm"`
	PublicKeySize      int       `json:"public_key_size"`
	Domains            []string  `json:"domains"`
	FingerprintSHA256  string    `json:"fingerprint_sha256"`
}

// IssuedCertificate is the outcome of a successful issuance.
type IssuedCertificate struct {
	ChainPEM string
	KeyPEM   string
	Info     CertInfo
}

func newIssuedCertificate(chainDER [][]byte, key *rsa.PrivateKey, domains []string) (*IssuedCertificate, error) {
	if len(chainDER) == 0 {
		return nil, newError(KindOrderFailed, "CA returned an empty chain", nil)
	}

	var chainPEM strings.Builder
	for _, der := range chainDER {
		if err := pem.Encode(&chainPEM, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
			return nil, newError(KindClientError, "encode chain PEM", err)
		}
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, newError(KindClientError, "marshal private key", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	leaf, err := x509.ParseCertificate(chainDER[0])
	if err != nil {
		return nil, newError(KindClientError, "parse issued certificate", err)
	}

	return &IssuedCertificate{
		ChainPEM: chainPEM.String(),
		KeyPEM:   string(keyPEM),
		Info:     ParseCertInfo(leaf, domains),
	}, nil
}

// ParseCertInfo summarizes a parsed leaf certificate.
func ParseCertInfo(leaf *x509.Certificate, domains []string) CertInfo {
	if len(domains) == 0 {
		domains = leaf.DNSNames
	}
	sum := sha256.Sum256(leaf.Raw)
	return CertInfo{
		Subject:            leaf.Subject.String(),
		Issuer:             leaf.Issuer.String(),
		SerialNumber:       leaf.SerialNumber.Text(16),
		NotBefore:          leaf.NotBefore,
		NotAfter:           leaf.NotAfter,
		SignatureAlgorithm: leaf.SignatureAlgorithm.String(),
		PublicKeySize:      publicKeyBits(leaf),
		Domains:            domains,
		FingerprintSHA256:  hex.EncodeToString(sum[:]),
	}
}

func publicKeyBits(cert *x509.Certificate) int {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return pub.N.BitLen()
	case *ecdsa.PublicKey:
		return pub.Curve.Params().BitSize
	}
	return 0
}

// certDir is the per-domain directory holding cert.pem, privkey.pem and
// info.json. The directory is named after the first domain; wildcards are
// stored under the base name.
func (c *Client) certDir(domain string) string {
	return filepath.Join(c.storagePath, "certs", ChallengeDomain(domain))
}

func (c *Client) persist(issued *IssuedCertificate) error {
	dir := c.certDir(issued.Info.Domains[0])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return newError(KindClientError, "create certificate dir", err).withDetail("path", dir)
	}

	if err := os.WriteFile(filepath.Join(dir, "cert.pem"), []byte(issued.ChainPEM), 0644); err != nil {
		return newError(KindClientError, "write cert.pem", err).withDetail("path", dir)
	}
	if err := os.WriteFile(filepath.Join(dir, "privkey.pem"), []byte(issued.KeyPEM), 0600); err != nil {
		return newError(KindClientError, "write privkey.pem", err).withDetail("path", dir)
	}

	info, err := json.MarshalIndent(issued.Info, "", "  ")
	if err != nil {
		return newError(KindClientError, "marshal info.json", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "info.json"), info, 0644); err != nil {
		return newError(KindClientError, "write info.json", err).withDetail("path", dir)
	}
	return nil
}

// challengeFilePath is where the HTTP-01 response body lives. The caller is
// responsible for exposing this path at
// http://<domain>/.well-known/acme-challenge/<token>.
func (c *Client) challengeFilePath(token string) string {
	return filepath.Join(c.storagePath, ".well-known", "acme-challenge", token)
}

// challengeStatePath is a transient marker recording the pending challenge
// for a domain; removed on completion.
func (c *Client) challengeStatePath(domain string) string {
	return filepath.Join(c.certDir(domain), fmt.Sprintf(".challenge_%s.json", ChallengeDomain(domain)))
}

func (c *Client) writeHTTPChallenge(token, keyAuth, domain string) error {
	path := c.challengeFilePath(token)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return newError(KindClientError, "create challenge dir", err).withDetail("path", path)
	}
	if err := os.WriteFile(path, []byte(keyAuth), 0644); err != nil {
		return newError(KindClientError, "write challenge file", err).withDetail("path", path)
	}

	state, _ := json.Marshal(map[string]string{"domain": domain, "token": token, "type": "http-01"})
	statePath := c.challengeStatePath(domain)
	if err := os.MkdirAll(filepath.Dir(statePath), 0755); err == nil {
		_ = os.WriteFile(statePath, state, 0644)
	}
	return nil
}

func (c *Client) removeHTTPChallenge(token, domain string) {
	_ = os.Remove(c.challengeFilePath(token))
	_ = os.Remove(c.challengeStatePath(domain))
}

func leafDERFromChain(chainPEM string) ([]byte, error) {
	block, _ := pem.Decode([]byte(chainPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, newError(KindClientError, "chain PEM has no certificate block", nil)
	}
	return block.Bytes, nil
}

// ListAccountCertificates returns the parsed info.json of every certificate
// directory under the storage path.
func (c *Client) ListAccountCertificates() ([]CertInfo, error) {
	root := filepath.Join(c.storagePath, "certs")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, newError(KindClientError, "read certificate storage", err).withDetail("path", root)
	}

	var infos []CertInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, e.Name(), "info.json"))
		if err != nil {
			continue
		}
		var info CertInfo
		if err := json.Unmarshal(data, &info); err != nil {
			c.logger.Warn().Str("domain", e.Name()).Err(err).Msg("skipping unreadable info.json")
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}
