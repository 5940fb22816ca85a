package sshconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"time"

	"gitship/internal/target"

	"golang.org/x/crypto/ssh"
)

const (
	// DefaultInitialBackoff is the delay before the first reconnect.
	DefaultInitialBackoff = 500 * time.Millisecond

	// DefaultMaxBackoff caps the exponential backoff between attempts.
	DefaultMaxBackoff = 8 * time.Second
)

// Manager establishes verified SSH connections to deployment targets,
// retrying transient failures with exponential backoff. AuthRejected
// and HostKeyMismatch failures are never retried: they indicate
// misconfiguration, not transience.
type Manager struct {
	Logger         *slog.Logger
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// dial is overridable in tests.
	dial func(ctx context.Context, t *target.Target, config *ssh.ClientConfig) (*ssh.Client, error)
}

// NewManager creates a connection manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		Logger:         logger,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		dial:           defaultDial,
	}
}

// ParseSigner converts opaque credential material into an SSH signer.
func ParseSigner(cred *target.Credential) (ssh.Signer, error) {
	if cred.Empty() {
		return nil, fmt.Errorf("no credential material")
	}
	if pass := cred.Passphrase(); len(pass) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(cred.Material(), pass)
	}
	return ssh.ParsePrivateKey(cred.Material())
}

// Connect dials the target and verifies its host key, returning an
// established Client or a classified ConnectionError. Only transient
// failure classes are retried, up to the target's configured bound.
func (m *Manager) Connect(ctx context.Context, spec *target.DeploymentSpec) (*Client, error) {
	t := spec.Target

	// Malformed credentials fail before any network activity.
	signer, err := ParseSigner(spec.Credential)
	if err != nil {
		return nil, &target.ConfigError{
			Target:   t.Name,
			Problems: []string{fmt.Sprintf("  - credential: malformed key material: %v", err)},
		}
	}

	verifier, err := newHostKeyVerifier(t)
	if err != nil {
		return nil, &target.ConfigError{
			Target:   t.Name,
			Problems: []string{fmt.Sprintf("  - known_hosts: %v", err)},
		}
	}

	config := &ssh.ClientConfig{
		User:            t.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: verifier.callback,
		Timeout:         t.ConnectTimeout,
	}

	backoff := m.InitialBackoff
	if backoff <= 0 {
		backoff = DefaultInitialBackoff
	}
	maxBackoff := m.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &ConnectionError{Class: ClassTimeout, Addr: t.Addr(), Attempts: attempt - 1, Err: err}
		}

		client, err := m.dial(ctx, t, config)
		if err == nil {
			return &Client{addr: t.Addr(), client: client}, nil
		}

		connErr := &ConnectionError{
			Class:    classify(err, verifier),
			Addr:     t.Addr(),
			Attempts: attempt,
			Err:      err,
		}

		if !connErr.Class.Transient() || attempt >= t.MaxConnectAttempts {
			return nil, connErr
		}

		m.Logger.Warn("connection attempt failed, retrying",
			"target", t.Name,
			"addr", t.Addr(),
			"class", connErr.Class.String(),
			"attempt", attempt,
			"backoff", backoff.String())

		if err := sleepContext(ctx, jitter(backoff)); err != nil {
			return nil, &ConnectionError{Class: ClassTimeout, Addr: t.Addr(), Attempts: attempt, Err: err}
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// defaultDial opens a TCP connection with the configured timeout and
// completes the SSH handshake over it.
func defaultDial(ctx context.Context, t *target.Target, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, t.Addr(), config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

// classify maps a dial error to a failure class. The verifier is
// consulted first because the ssh package does not wrap host key
// callback errors in a matchable type.
func classify(err error, verifier *hostKeyVerifier) Class {
	if verifier != nil && verifier.sawMismatch() {
		return ClassHostKeyMismatch
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "permission denied"):
		return ClassAuthRejected
	case strings.Contains(msg, "knownhosts"):
		return ClassHostKeyMismatch
	default:
		return ClassUnreachable
	}
}

// jitter spreads retries out so synchronized callers don't hammer a
// recovering host in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
