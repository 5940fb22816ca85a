package deploy

import (
	"context"

	"gitship/internal/sshconn"
	"gitship/internal/target"
)

// SSHConnector adapts the SSH connection manager to the Connector
// interface.
type SSHConnector struct {
	Manager *sshconn.Manager
}

func (c SSHConnector) Connect(ctx context.Context, spec *target.DeploymentSpec) (Session, error) {
	client, err := c.Manager.Connect(ctx, spec)
	if err != nil {
		return nil, err
	}
	return client, nil
}
