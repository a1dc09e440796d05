// Package config handles YAML config file loading for the sluice CLI.
package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// - ${VAR} expands to the env var value, or empty string if unset
// - ${VAR:-default} expands to the env var value, or "default" if unset/empty
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} patterns in the input string
// with their corresponding environment variable values.
//
// Unset variables without defaults expand to empty string, not an error.
// Required values (endpoint, adapter URL, bucket names) fail at their own
// validation with a clearer message than a parse-time failure here could give.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}

		if value := os.Getenv(groups[1]); value != "" {
			return value
		}

		// groups[2] is the :-default, empty when absent
		if len(groups) >= 3 {
			return groups[2]
		}

		return ""
	})
}
