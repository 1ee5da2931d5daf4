package probe

import "strings"

// Weak cipher markers. SHA-1 as the HMAC shows up as a trailing _SHA in Go
// cipher suite names.
var weakCipherMarkers = []string{"RC4", "3DES", "DES", "MD5", "NULL", "EXPORT", "ADH", "AECDH"}

// Score computes the 0..100 security score. It is a pure function of the
// negotiated TLS version, cipher suite, chain length and handshake latency.
func Score(tlsVersion, cipherSuite string, chainLength int, handshakeMS int64) int {
	score := 100

	switch tlsVersion {
	case "TLS 1.3":
		// no deduction
	case "TLS 1.2":
		score -= 5
	case "TLS 1.1":
		score -= 20
	case "TLS 1.0":
		score -= 30
	default:
		score -= 50
	}

	if WeakCipher(cipherSuite) {
		score -= 30
	}

	if chainLength <= 1 {
		score -= 20
	}

	if handshakeMS > 3000 {
		score -= 10
	} else if handshakeMS > 1000 {
		score -= 5
	}

	if score < 0 {
		score = 0
	}
	return score
}

// WeakCipher reports whether a cipher suite name carries a weak primitive.
func WeakCipher(name string) bool {
	upper := strings.ToUpper(name)
	for _, marker := range weakCipherMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	// SHA-1 used as the record MAC, e.g. TLS_RSA_WITH_AES_128_CBC_SHA.
	return strings.HasSuffix(upper, "_SHA")
}

// GradeLetter maps a score to the A+..F scale.
func GradeLetter(score int) string {
	switch {
	case score >= 95:
		return "A+"
	case score >= 85:
		return "A"
	case score >= 75:
		return "B"
	case score >= 65:
		return "C"
	case score >= 50:
		return "D"
	}
	return "F"
}
