package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_TruthTable(t *testing.T) {
	tests := []struct {
		name        string
		tlsVersion  string
		cipher      string
		chainLength int
		handshakeMS int64
		wantScore   int
		wantGrade   string
	}{
		{"modern stack", "TLS 1.3", "TLS_AES_128_GCM_SHA256", 2, 100, 100, "A+"},
		{"tls12 good cipher", "TLS 1.2", "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", 2, 100, 95, "A+"},
		{"tls12 no intermediates", "TLS 1.2", "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", 1, 100, 75, "B"},
		{"tls11", "TLS 1.1", "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", 2, 100, 80, "B"},
		{"tls10", "TLS 1.0", "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", 2, 100, 70, "C"},
		{"ancient", "SSL 3.0", "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", 2, 100, 50, "D"},
		{"sha1 mac", "TLS 1.2", "TLS_RSA_WITH_AES_128_CBC_SHA", 2, 100, 65, "C"},
		{"rc4", "TLS 1.2", "TLS_RSA_WITH_RC4_128_SHA", 2, 100, 65, "C"},
		{"3des", "TLS 1.0", "TLS_RSA_WITH_3DES_EDE_CBC_SHA", 1, 100, 20, "F"},
		{"slow handshake", "TLS 1.3", "TLS_AES_128_GCM_SHA256", 2, 1500, 95, "A+"},
		{"very slow handshake", "TLS 1.3", "TLS_AES_128_GCM_SHA256", 2, 3500, 90, "A"},
		{"worst case floors at zero", "SSL 2.0", "TLS_RSA_WITH_RC4_128_MD5", 0, 5000, 0, "F"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := Score(tt.tlsVersion, tt.cipher, tt.chainLength, tt.handshakeMS)
			assert.Equal(t, tt.wantScore, score)
			assert.Equal(t, tt.wantGrade, GradeLetter(score))
		})
	}
}

func TestWeakCipher(t *testing.T) {
	weak := []string{
		"TLS_RSA_WITH_RC4_128_SHA",
		"TLS_RSA_WITH_3DES_EDE_CBC_SHA",
		"TLS_RSA_WITH_AES_256_CBC_SHA", // SHA-1 MAC
		"TLS_RSA_WITH_RC4_128_MD5",
		"TLS_RSA_WITH_NULL_SHA256",
	}
	for _, c := range weak {
		assert.True(t, WeakCipher(c), c)
	}

	strong := []string{
		"TLS_AES_128_GCM_SHA256",
		"TLS_AES_256_GCM_SHA384",
		"TLS_CHACHA20_POLY1305_SHA256",
		"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
	}
	for _, c := range strong {
		assert.False(t, WeakCipher(c), c)
	}
}

func TestGradeLetter_Thresholds(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, "A+"}, {95, "A+"}, {94, "A"}, {85, "A"}, {84, "B"},
		{75, "B"}, {74, "C"}, {65, "C"}, {64, "D"}, {50, "D"}, {49, "F"}, {0, "F"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GradeLetter(tt.score), "score %d", tt.score)
	}
}
