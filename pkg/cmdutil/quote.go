package cmdutil

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ParseCommandString parses a shell-quoted command string into parts.
// This is useful for validating commands that are stored as strings
// with proper quoting.
//
// Example:
//
//	"git commit -m \"my message\"" -> ["git", "commit", "-m", "my message"]
func ParseCommandString(cmdStr string) ([]string, error) {
	parts, err := shellquote.Split(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command string: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command string")
	}
	return parts, nil
}

// RenderCommand converts a command from the two YAML configuration
// formats into a single line of POSIX shell text:
//   - String format: "npm install --production" (used as-is after a
//     quoting sanity check)
//   - List format: ["npm", "install", "--production"] (each element
//     quoted individually)
func RenderCommand(cmd interface{}) (string, error) {
	switch v := cmd.(type) {
	case string:
		if _, err := ParseCommandString(v); err != nil {
			return "", err
		}
		return v, nil
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return "", fmt.Errorf("command list item %d is not a string: %T", i, item)
			}
			parts[i] = str
		}
		if len(parts) == 0 {
			return "", fmt.Errorf("empty command list")
		}
		return shellquote.Join(parts...), nil
	case []string:
		if len(v) == 0 {
			return "", fmt.Errorf("empty command list")
		}
		return shellquote.Join(v...), nil
	default:
		return "", fmt.Errorf("invalid command type: %T (must be string or list)", cmd)
	}
}

// QuoteArg quotes a single argument for safe interpolation into
// remote shell text.
func QuoteArg(arg string) string {
	return shellquote.Join(arg)
}

// FormatCommand formats command parts into a readable string for logging.
// Example: ["git", "commit", "-m", "my message"] -> "git commit -m 'my message'"
func FormatCommand(cmdParts []string) string {
	if len(cmdParts) == 0 {
		return "<empty command>"
	}

	// Quote arguments that contain spaces or special characters
	quoted := make([]string, len(cmdParts))
	for i, part := range cmdParts {
		if strings.ContainsAny(part, " \t\n\"'") {
			quoted[i] = shellquote.Join(part)
		} else {
			quoted[i] = part
		}
	}

	return strings.Join(quoted, " ")
}

// SanitizeOutput removes sensitive information from command output.
// This is useful for logging command output without exposing secrets.
func SanitizeOutput(output []byte, secrets []string) []byte {
	sanitized := string(output)
	for _, secret := range secrets {
		if secret != "" {
			sanitized = strings.ReplaceAll(sanitized, secret, "***REDACTED***")
		}
	}
	return []byte(sanitized)
}
