package target

import (
	"net"
	"strconv"
	"time"
)

// HostKeyPolicy controls what happens when a target's host key is not
// yet present in the known-hosts store.
type HostKeyPolicy string

const (
	// HostKeyStrict rejects connections to hosts whose key is unknown.
	HostKeyStrict HostKeyPolicy = "strict"

	// HostKeyTOFU trusts the key presented on the first connection and
	// records it for verification on subsequent connections.
	HostKeyTOFU HostKeyPolicy = "tofu"
)

// Config is the top-level structure of the targets YAML file.
type Config struct {
	Targets map[string]TargetConfig `yaml:"targets"`
}

// TargetConfig is the raw YAML configuration for a single target.
type TargetConfig struct {
	Host               string           `yaml:"host"`
	Port               int              `yaml:"port"`
	Username           string           `yaml:"username"`
	RepositoryURL      string           `yaml:"repository_url"`
	Branch             string           `yaml:"branch"`
	RemotePath         string           `yaml:"remote_path"`
	PostDeploy         []interface{}    `yaml:"post_deploy"`
	Credential         CredentialConfig `yaml:"credential"`
	HostKeyPolicy      string           `yaml:"host_key_policy"`
	KnownHosts         string           `yaml:"known_hosts"`
	Secret             string           `yaml:"secret"`
	ConnectTimeout     int              `yaml:"connect_timeout"`
	DeployTimeout      int              `yaml:"deploy_timeout"`
	MaxConnectAttempts int              `yaml:"max_connect_attempts"`
}

// CredentialConfig describes where the authentication material for a
// target comes from. The material itself is only loaded at deploy
// time, never at config load time.
type CredentialConfig struct {
	Source        string `yaml:"source"` // "env", "file" or "keyring"
	EnvVar        string `yaml:"env_var"`
	KeyPath       string `yaml:"key_path"`
	Service       string `yaml:"service"`
	User          string `yaml:"user"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

// Target is a validated deployable host. Host, port and username
// uniquely identify the target; the credential config must grant
// authenticated command execution on it.
type Target struct {
	Name               string
	Host               string
	Port               int
	Username           string
	RepositoryURL      string
	Branch             string
	RemotePath         string
	PostDeploy         []string // rendered shell command lines
	Credential         CredentialConfig
	HostKeyPolicy      HostKeyPolicy
	KnownHostsPath     string
	Secret             string
	ConnectTimeout     time.Duration
	DeployTimeout      time.Duration
	MaxConnectAttempts int
}

// Addr returns the dialable host:port address of the target.
func (t *Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// DeploymentSpec is one immutable unit of deployment work: the target,
// the credential resolved at invocation time, and the fully rendered
// remote command sequence.
type DeploymentSpec struct {
	Target     *Target
	Credential *Credential
	Commands   []string
	ResolvedAt time.Time
}
