package sshconn

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"gitship/internal/target"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// hostKeyVerifier wraps a known-hosts callback and remembers whether
// the last failure was a verification failure, so that a handshake
// error can be classified even though the ssh package does not wrap
// the callback error.
type hostKeyVerifier struct {
	callback ssh.HostKeyCallback

	mu       sync.Mutex
	mismatch bool
}

// newHostKeyVerifier builds a verifier for the target's policy. Under
// the TOFU policy an unknown host key is appended to the known-hosts
// file and accepted; a key that conflicts with a recorded one is
// always rejected.
func newHostKeyVerifier(t *target.Target) (*hostKeyVerifier, error) {
	path := t.KnownHostsPath

	// knownhosts.New refuses to load a missing file; under TOFU an
	// absent store just means no host has been recorded yet.
	if t.HostKeyPolicy == target.HostKeyTOFU {
		if err := ensureKnownHostsFile(path); err != nil {
			return nil, err
		}
	}

	base, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts file %s: %w", path, err)
	}

	v := &hostKeyVerifier{}
	v.callback = func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := base(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) {
			// len(Want) == 0: host not recorded yet.
			// len(Want) > 0: recorded key differs from the presented one.
			if len(keyErr.Want) == 0 && t.HostKeyPolicy == target.HostKeyTOFU {
				if appendErr := appendKnownHost(path, hostname, remote, key); appendErr != nil {
					v.setMismatch()
					return fmt.Errorf("failed to record host key: %w", appendErr)
				}
				return nil
			}
		}

		v.setMismatch()
		return err
	}

	return v, nil
}

func (v *hostKeyVerifier) setMismatch() {
	v.mu.Lock()
	v.mismatch = true
	v.mu.Unlock()
}

// sawMismatch reports whether the verifier rejected a host key during
// the last handshake.
func (v *hostKeyVerifier) sawMismatch() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mismatch
}

// ensureKnownHostsFile creates an empty known-hosts file (and its
// directory) with restrictive permissions if it does not exist.
func ensureKnownHostsFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat known hosts file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create known hosts directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create known hosts file: %w", err)
	}
	return f.Close()
}

// appendKnownHost records a newly trusted host key in the known-hosts
// file using the standard line format.
func appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	addresses := []string{hostname}
	if remote != nil && remote.String() != hostname {
		addresses = append(addresses, remote.String())
	}
	line := knownhosts.Line(addresses, key)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, line); err != nil {
		return err
	}
	return nil
}
