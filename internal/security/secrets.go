package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the minimum allowed length for webhook secrets.
	MinSecretLength = 32

	// MinEntropy is the minimum Shannon entropy threshold for secrets.
	// This ensures secrets have sufficient randomness.
	MinEntropy = 3.0
)

var forbiddenSecrets = map[string]bool{
	"replace-with-secret":     true,
	"github-webhook-password": true,
	"topsecret":               true,
	"secret":                  true,
	"password":                true,
	"changeme":                true,
}

// ValidateSecret ensures a webhook secret meets security requirements.
// Checks:
//   - Minimum length
//   - Not a placeholder value
//   - Sufficient Shannon entropy
func ValidateSecret(secret string) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("secret too short (minimum %d characters, got %d)", MinSecretLength, len(secret))
	}

	// Check against forbidden list (case-insensitive)
	secretLower := strings.ToLower(secret)
	if forbiddenSecrets[secretLower] {
		return fmt.Errorf("secret appears to be a placeholder value, please use a real secret")
	}

	// Check for common placeholder patterns
	if strings.Contains(secretLower, "replace") ||
		strings.Contains(secretLower, "changeme") ||
		strings.Contains(secretLower, "topsecret") {
		return fmt.Errorf("secret appears to be a placeholder value")
	}

	entropy := calculateEntropy(secret)
	if entropy < MinEntropy {
		return fmt.Errorf("secret has insufficient entropy (%.2f < %.2f) - use a more random secret", entropy, MinEntropy)
	}

	return nil
}

// GenerateSecret creates a cryptographically secure random secret.
// Returns a 48-character base64-encoded string.
func GenerateSecret() (string, error) {
	// 36 bytes encode to 48 characters in base64
	bytes := make([]byte, 36)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// calculateEntropy computes the Shannon entropy of a string.
// Higher entropy indicates more randomness/unpredictability.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	length := float64(len(s))

	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}
