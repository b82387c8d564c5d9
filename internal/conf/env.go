// env.go - environment variable overrides for storykeep settings
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "STORYKEEP_DEBUG", validateEnvBool},
		{"server.listen", "STORYKEEP_LISTEN", nil},
		{"upstream.apporigin", "STORYKEEP_APP_ORIGIN", validateEnvOrigin},
		{"upstream.apiorigin", "STORYKEEP_API_ORIGIN", validateEnvOrigin},
		{"cache.version", "STORYKEEP_CACHE_VERSION", nil},
		{"cache.path", "STORYKEEP_CACHE_PATH", nil},
		{"cache.skipwaiting", "STORYKEEP_SKIP_WAITING", validateEnvBool},
		{"store.path", "STORYKEEP_STORE_PATH", nil},
		{"push.urls", "STORYKEEP_PUSH_URLS", nil},
		{"push.urlsfile", "STORYKEEP_PUSH_URLS_FILE", nil},
		{"telemetry.enabled", "STORYKEEP_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.dsn", "STORYKEEP_TELEMETRY_DSN", nil},
		{"logging.default_level", "STORYKEEP_LOG_LEVEL", validateEnvLogLevel},
	}
}

// bindEnvVars binds every variable and validates the ones that are set.
// Invalid values are reported together in one error.
func bindEnvVars() error {
	var problems []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			problems = append(problems, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value, ok := os.LookupEnv(binding.EnvVar); ok {
			if err := binding.Validate(value); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", binding.EnvVar, err))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("environment configuration errors: %s", strings.Join(problems, "; "))
	}
	return nil
}

func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean %q", value)
	}
	return nil
}

func validateEnvOrigin(value string) error {
	return validateOrigin(value)
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("unknown log level %q", value)
}

// validateOrigin accepts absolute http(s) URLs with a host.
func validateOrigin(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", value, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin %q must use http or https", value)
	}
	if u.Host == "" {
		return fmt.Errorf("origin %q has no host", value)
	}
	return nil
}
