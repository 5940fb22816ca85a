package sshconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"gitship/pkg/cmdutil"

	"golang.org/x/crypto/ssh"
)

// Client is an established SSH connection to one target. It is a
// scoped resource: Close is idempotent, safe from any goroutine, and
// must be called on every exit path.
type Client struct {
	addr   string
	client *ssh.Client

	mu     sync.Mutex
	closed bool
}

// Addr returns the host:port address the client is connected to.
func (c *Client) Addr() string {
	return c.addr
}

// Close tears down the underlying connection. Subsequent calls are
// no-ops.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// RunScript executes a shell script on the remote host in a single
// session, writing combined stdout/stderr to output as it arrives.
// Returns the remote exit code, or an error for transport failures
// and context cancellation. Cancellation forcibly closes the
// connection so the remote wait cannot leak.
func (c *Client) RunScript(ctx context.Context, script string, output io.Writer) (int, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	session.Stdout = output
	session.Stderr = output

	done := make(chan error, 1)
	go func() {
		done <- session.Run("/bin/sh -c " + cmdutil.QuoteArg(script))
	}()

	select {
	case <-ctx.Done():
		// Force-close the connection; the Run goroutine unblocks with
		// a transport error and the buffered channel lets it exit.
		c.Close()
		<-done
		return -1, ctx.Err()

	case err := <-done:
		if err == nil {
			return 0, nil
		}

		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}

		return -1, fmt.Errorf("remote execution failed: %w", err)
	}
}
