package target

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/ssh"
)

// Credential is opaque authentication material (typically a PEM
// private key) plus an optional passphrase. It is handed to the
// connection layer at the moment of use and must never appear in
// logs, history records or command text.
type Credential struct {
	material   []byte
	passphrase []byte
}

// NewCredential wraps raw key material and an optional passphrase.
func NewCredential(material, passphrase []byte) *Credential {
	return &Credential{material: material, passphrase: passphrase}
}

// Material returns the raw key material.
func (c *Credential) Material() []byte {
	return c.material
}

// Passphrase returns the key passphrase, or nil if the key is
// unencrypted.
func (c *Credential) Passphrase() []byte {
	return c.passphrase
}

// Empty reports whether no key material is present.
func (c *Credential) Empty() bool {
	return c == nil || len(c.material) == 0
}

// String implements fmt.Stringer without revealing the material.
func (c *Credential) String() string {
	return "[credential redacted]"
}

// LogValue implements slog.LogValuer so a credential accidentally
// passed to a logger never leaks.
func (c *Credential) LogValue() slog.Value {
	return slog.StringValue("[credential redacted]")
}

// Secrets returns the strings that must be scrubbed from captured
// command output before it is logged or persisted.
func (c *Credential) Secrets() []string {
	if c.Empty() {
		return nil
	}
	secrets := []string{string(c.material)}
	if len(c.passphrase) > 0 {
		secrets = append(secrets, string(c.passphrase))
	}
	return secrets
}

// loadCredential reads the authentication material from the
// configured source. Called at resolve time so that rotated secrets
// are picked up without a restart.
func loadCredential(cfg CredentialConfig) (*Credential, error) {
	var material []byte

	switch cfg.Source {
	case "env":
		value := os.Getenv(cfg.EnvVar)
		if value == "" {
			return nil, fmt.Errorf("credential environment variable %s is empty or unset", cfg.EnvVar)
		}
		material = []byte(value)

	case "file":
		data, err := os.ReadFile(expandHome(cfg.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("failed to read credential file: %w", err)
		}
		material = data

	case "keyring":
		value, err := keyring.Get(cfg.Service, cfg.User)
		if err != nil {
			return nil, fmt.Errorf("failed to read credential from keyring: %w", err)
		}
		material = []byte(value)

	default:
		return nil, fmt.Errorf("unknown credential source %q", cfg.Source)
	}

	var passphrase []byte
	if cfg.PassphraseEnv != "" {
		if value := os.Getenv(cfg.PassphraseEnv); value != "" {
			passphrase = []byte(value)
		}
	}

	cred := NewCredential(material, passphrase)

	// Malformed key material is rejected here, before any network
	// activity is attempted.
	if err := cred.validate(); err != nil {
		return nil, err
	}

	return cred, nil
}

// validate checks that the material parses as an SSH private key.
func (c *Credential) validate() error {
	var err error
	if len(c.passphrase) > 0 {
		_, err = ssh.ParsePrivateKeyWithPassphrase(c.material, c.passphrase)
	} else {
		_, err = ssh.ParsePrivateKey(c.material)
	}
	if err != nil {
		return fmt.Errorf("malformed credential: %w", err)
	}
	return nil
}

// expandHome resolves a leading ~/ against the current user's home
// directory. Paths that cannot be expanded are returned unchanged and
// fail later with a readable file error.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return home + strings.TrimPrefix(path, "~")
		}
	}
	return path
}
