package acme

import "fmt"

// Directory URLs per CA. ZeroSSL has no staging environment; staging
// requests fall back to its production endpoint.
const (
	letsEncryptDirectory        = "https://acme-v02.api.letsencrypt.org/directory"
	letsEncryptStagingDirectory = "https://acme-staging-v02.api.letsencrypt.org/directory"
	zeroSSLDirectory            = "https://acme.zerossl.com/v2/DV90"
	buypassDirectory            = "https://api.buypass.com/acme/directory"
	buypassStagingDirectory     = "https://api.test4.buypass.no/acme/directory"
)

// DirectoryURL resolves the ACME directory endpoint for a CA.
func DirectoryURL(caType string, staging bool) (string, error) {
	switch caType {
	case "letsencrypt":
		if staging {
			return letsEncryptStagingDirectory, nil
		}
		return letsEncryptDirectory, nil
	case "zerossl":
		return zeroSSLDirectory, nil
	case "buypass":
		if staging {
			return buypassStagingDirectory, nil
		}
		return buypassDirectory, nil
	}
	return "", fmt.Errorf("unknown CA type %q", caType)
}
