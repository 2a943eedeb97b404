package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// EnvPrefix prefixes every environment variable the viewer reads.
const EnvPrefix = "VIEWER_"

// ResolveSecret reads a secret value using the *_FILE convention.
// If envName+"_FILE" is set, reads the secret from that file path.
// Otherwise falls back to the value of envName.
// Returns empty string if neither is set.
// Returns an error if the file cannot be read.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}

	return os.Getenv(envName), nil
}

// Secret resolves VIEWER_<name>.
func Secret(name string) (string, error) {
	return ResolveSecret(EnvPrefix + name)
}

// MustResolveSecret is like ResolveSecret but exits on error.
// Use this for required secrets during startup.
func MustResolveSecret(envName string) string {
	value, err := ResolveSecret(envName)
	if err != nil {
		// never log the secret itself
		log.Fatal().Err(err).Str("env", envName).Msg("secret unavailable")
	}
	return value
}
