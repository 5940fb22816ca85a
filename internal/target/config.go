package target

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gitship/internal/security"
	"gitship/pkg/cmdutil"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort               = 22
	DefaultConnectTimeout     = 10 * time.Second
	DefaultDeployTimeout      = 10 * time.Minute
	DefaultMaxConnectAttempts = 3
	DefaultKnownHostsPath     = "~/.ssh/known_hosts"
)

// ConfigError reports every missing or invalid configuration field at
// once, so a broken config is fixed in one pass instead of one error
// at a time. It is always produced before any network activity.
type ConfigError struct {
	Target   string
	Problems []string
}

func (e *ConfigError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("invalid configuration for target '%s':\n%s", e.Target, strings.Join(e.Problems, "\n"))
	}
	return fmt.Sprintf("invalid configuration:\n%s", strings.Join(e.Problems, "\n"))
}

// LoadConfig loads and validates the targets configuration from a
// YAML file. All validation problems across all targets are collected
// into a single ConfigError.
func LoadConfig(configPath string) (*Config, map[string]*Target, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Initialize Targets map if it's nil (happens with empty YAML files)
	if config.Targets == nil {
		config.Targets = make(map[string]TargetConfig)
	}

	var problems []string
	targets := make(map[string]*Target)
	for name, targetConfig := range config.Targets {
		errs := ValidateTargetConfig(name, targetConfig)
		if len(errs) > 0 {
			problems = append(problems, errs...)
			continue
		}
		targets[name] = buildTarget(name, targetConfig)
	}

	if len(problems) > 0 {
		return nil, nil, &ConfigError{Problems: problems}
	}

	return &config, targets, nil
}

// ValidateTargetConfig validates a single target configuration and
// returns every problem found, not just the first.
func ValidateTargetConfig(name string, config TargetConfig) []string {
	var errors []string

	addError := func(format string, args ...interface{}) {
		errors = append(errors, fmt.Sprintf("  - Target '%s': %s", name, fmt.Sprintf(format, args...)))
	}

	if err := security.ValidateTargetName(name); err != nil {
		errors = append(errors, fmt.Sprintf("  - Target '%s': invalid name: %v", name, err))
	}

	// Validate host
	if config.Host == "" {
		addError("missing required 'host' field")
	} else if err := security.ValidateHost(config.Host); err != nil {
		addError("invalid host: %v", err)
	}

	// Validate port (zero means default 22)
	if config.Port < 0 || config.Port > 65535 {
		addError("port must be between 1 and 65535, got %d", config.Port)
	}

	// Validate username
	if config.Username == "" {
		addError("missing required 'username' field")
	}

	// Validate branch. An empty branch is rejected rather than
	// defaulted: a hard reset against the wrong branch is destructive.
	if config.Branch == "" {
		addError("missing required 'branch' field")
	} else if err := security.ValidateBranchName(config.Branch); err != nil {
		addError("invalid branch: %v", err)
	}

	// Validate remote path
	if config.RemotePath == "" {
		addError("missing required 'remote_path' field")
	} else if err := security.ValidateRemotePath(config.RemotePath); err != nil {
		addError("invalid remote_path: %v", err)
	}

	// Validate repository URL if present
	if config.RepositoryURL != "" {
		if err := security.ValidateRepositoryURL(config.RepositoryURL); err != nil {
			addError("invalid repository_url: %v", err)
		}
	}

	// Validate credential source
	switch config.Credential.Source {
	case "":
		addError("missing required 'credential.source' field (env, file or keyring)")
	case "env":
		if config.Credential.EnvVar == "" {
			addError("credential source 'env' requires 'credential.env_var'")
		}
	case "file":
		if config.Credential.KeyPath == "" {
			addError("credential source 'file' requires 'credential.key_path'")
		}
	case "keyring":
		if config.Credential.Service == "" || config.Credential.User == "" {
			addError("credential source 'keyring' requires 'credential.service' and 'credential.user'")
		}
	default:
		addError("unknown credential source '%s' (must be env, file or keyring)", config.Credential.Source)
	}

	// Validate host key policy
	switch HostKeyPolicy(config.HostKeyPolicy) {
	case "", HostKeyStrict, HostKeyTOFU:
	default:
		addError("host_key_policy must be 'strict' or 'tofu', got '%s'", config.HostKeyPolicy)
	}

	// Validate webhook secret if present (only required for serve mode)
	if config.Secret != "" {
		if err := security.ValidateSecret(config.Secret); err != nil {
			addError("invalid secret: %v", err)
		}
	}

	// Validate timeouts (zero uses defaults)
	if config.ConnectTimeout < 0 {
		addError("connect_timeout must be a positive integer, got %d", config.ConnectTimeout)
	}
	if config.DeployTimeout < 0 {
		addError("deploy_timeout must be a positive integer, got %d", config.DeployTimeout)
	}
	if config.MaxConnectAttempts < 0 {
		addError("max_connect_attempts must be a positive integer, got %d", config.MaxConnectAttempts)
	}

	// Validate post_deploy commands render to shell text
	for i, cmd := range config.PostDeploy {
		if _, err := cmdutil.RenderCommand(cmd); err != nil {
			addError("post_deploy[%d]: %v", i, err)
		}
	}

	return errors
}

// buildTarget applies defaults and converts a validated TargetConfig
// into a Target.
func buildTarget(name string, config TargetConfig) *Target {
	port := config.Port
	if port == 0 {
		port = DefaultPort
	}

	policy := HostKeyPolicy(config.HostKeyPolicy)
	if policy == "" {
		policy = HostKeyStrict
	}

	knownHosts := config.KnownHosts
	if knownHosts == "" {
		knownHosts = DefaultKnownHostsPath
	}

	connectTimeout := time.Duration(config.ConnectTimeout) * time.Second
	if connectTimeout == 0 {
		connectTimeout = DefaultConnectTimeout
	}

	deployTimeout := time.Duration(config.DeployTimeout) * time.Second
	if deployTimeout == 0 {
		deployTimeout = DefaultDeployTimeout
	}

	maxAttempts := config.MaxConnectAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxConnectAttempts
	}

	postDeploy := make([]string, 0, len(config.PostDeploy))
	for _, cmd := range config.PostDeploy {
		// Validation already proved these render cleanly.
		rendered, _ := cmdutil.RenderCommand(cmd)
		postDeploy = append(postDeploy, rendered)
	}

	return &Target{
		Name:               name,
		Host:               config.Host,
		Port:               port,
		Username:           config.Username,
		RepositoryURL:      config.RepositoryURL,
		Branch:             config.Branch,
		RemotePath:         config.RemotePath,
		PostDeploy:         postDeploy,
		Credential:         config.Credential,
		HostKeyPolicy:      policy,
		KnownHostsPath:     expandHome(knownHosts),
		Secret:             config.Secret,
		ConnectTimeout:     connectTimeout,
		DeployTimeout:      deployTimeout,
		MaxConnectAttempts: maxAttempts,
	}
}

// Commands renders the full ordered remote command sequence for one
// deployment: optional remote URL pin, fetch, hard reset, then the
// configured post-deploy commands.
func (t *Target) Commands() []string {
	cmds := make([]string, 0, len(t.PostDeploy)+3)
	if t.RepositoryURL != "" {
		cmds = append(cmds, fmt.Sprintf("git remote set-url origin %s", cmdutil.QuoteArg(t.RepositoryURL)))
	}
	cmds = append(cmds,
		fmt.Sprintf("git fetch origin %s", t.Branch),
		fmt.Sprintf("git reset --hard origin/%s", t.Branch),
	)
	cmds = append(cmds, t.PostDeploy...)
	return cmds
}

// MatchesRef checks if a git ref matches the target's branch.
func (t *Target) MatchesRef(ref string) bool {
	return ref == fmt.Sprintf("refs/heads/%s", t.Branch)
}
