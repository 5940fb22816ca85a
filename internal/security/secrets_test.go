package security

import (
	"strings"
	"testing"
)

func TestValidateSecret(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		valid  bool
	}{
		{"good random", "x9K2mQ7vL4pR8nT3wZ6jF1hD5sA0gB4e", true},
		{"too short", "shortsecret", false},
		{"placeholder", "replace-with-secret-replace-with", false},
		{"changeme padded", "changeme-changeme-changeme-changeme", false},
		{"low entropy", strings.Repeat("ab", 20), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSecret(tc.secret)
			if tc.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tc.valid && err == nil {
				t.Error("expected rejection, got nil")
			}
		})
	}
}

func TestGenerateSecret(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if len(secret) != 48 {
		t.Errorf("expected 48 characters, got %d", len(secret))
	}

	// Generated secrets must pass their own validation.
	if err := ValidateSecret(secret); err != nil {
		t.Errorf("generated secret failed validation: %v", err)
	}

	other, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if secret == other {
		t.Error("expected distinct secrets")
	}
}

func TestCalculateEntropy(t *testing.T) {
	if e := calculateEntropy(""); e != 0 {
		t.Errorf("expected zero entropy for empty string, got %f", e)
	}
	if e := calculateEntropy("aaaa"); e != 0 {
		t.Errorf("expected zero entropy for repeated character, got %f", e)
	}

	low := calculateEntropy("abababab")
	high := calculateEntropy("x9K2mQ7vL4pR8nT3")
	if low >= high {
		t.Errorf("expected varied string to have higher entropy: %f >= %f", low, high)
	}
}
