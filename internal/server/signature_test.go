package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature_Valid(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	secret := "test-secret"

	if !VerifySignature(payload, signPayload(payload, secret), secret) {
		t.Error("expected valid signature to verify")
	}
}

func TestVerifySignature_Invalid(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)

	cases := []struct {
		name      string
		signature string
	}{
		{"empty", ""},
		{"missing prefix", "abcdef0123456789"},
		{"wrong secret", signPayload(payload, "other-secret")},
		{"truncated", SignaturePrefix + "abcd"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if VerifySignature(payload, tc.signature, "test-secret") {
				t.Error("expected signature to be rejected")
			}
		})
	}
}

func TestVerifySignature_TamperedPayload(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	signature := signPayload(payload, "test-secret")

	tampered := []byte(`{"ref":"refs/heads/evil"}`)
	if VerifySignature(tampered, signature, "test-secret") {
		t.Error("expected tampered payload to be rejected")
	}
}
