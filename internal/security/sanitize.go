package security

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	branchPattern = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	targetPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	hostPattern   = regexp.MustCompile(`^[a-zA-Z0-9.:\[\]-]+$`)
	scpURLPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+@[a-zA-Z0-9.-]+:[a-zA-Z0-9/_.~-]+$`)
)

// ValidateBranchName ensures a branch name is safe for git operations.
// Prevents option and command injection through branch names, which
// end up embedded in remote shell text.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateTargetName ensures a target name is safe for use in paths,
// URLs and log records.
func ValidateTargetName(name string) error {
	if name == "" {
		return fmt.Errorf("target name cannot be empty")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("target name cannot start with '-' or '.'")
	}
	if !targetPattern.MatchString(name) {
		return fmt.Errorf("target name contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	return nil
}

// ValidateHost ensures a hostname or address is plausible and free of
// shell metacharacters.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if !hostPattern.MatchString(host) {
		return fmt.Errorf("host contains invalid characters")
	}
	return nil
}

// ValidateRepositoryURL ensures a repository URL is safe to embed in
// a `git remote set-url` command. HTTPS, SSH and scp-style git URLs
// are accepted; anything with embedded userinfo passwords or shell
// metacharacters is rejected.
func ValidateRepositoryURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}

	// scp-style: git@host:path/repo.git
	if scpURLPattern.MatchString(rawURL) {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "https", "ssh", "git":
	default:
		return fmt.Errorf("unsupported URL scheme %q (https, ssh or git required)", u.Scheme)
	}

	// Never allow a token or password baked into the URL; credentials
	// travel through the connection layer only.
	if _, hasPassword := u.User.Password(); hasPassword {
		return fmt.Errorf("repository URL must not embed a password or token")
	}

	if strings.ContainsAny(rawURL, " \t\n'\"`$;&|<>") {
		return fmt.Errorf("repository URL contains invalid characters")
	}

	return nil
}

// ValidateRemotePath ensures a remote working directory is absolute
// and free of traversal or shell metacharacters. The path is embedded
// (quoted) in remote shell text, so keep the accepted charset tight.
func ValidateRemotePath(path string) error {
	if path == "" {
		return fmt.Errorf("remote path cannot be empty")
	}
	if !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "~/") {
		return fmt.Errorf("remote path must be absolute or ~-relative: %s", path)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("remote path contains traversal elements: %s", path)
	}
	if strings.ContainsAny(path, "\n'\"`$;&|<>") {
		return fmt.Errorf("remote path contains invalid characters")
	}
	return nil
}
