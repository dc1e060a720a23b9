package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding ties a config key to an environment variable.
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "EQROUTE_DEBUG", validateEnvBool},

		// Session
		{"session.enabled", "EQROUTE_SESSION_ENABLED", validateEnvBool},
		{"session.boostenabled", "EQROUTE_SESSION_BOOSTENABLED", validateEnvBool},
		{"session.drivername", "EQROUTE_SESSION_DRIVERNAME", nil},
		{"session.wakeretries", "EQROUTE_SESSION_WAKERETRIES", validateEnvNonNegativeInt},
		{"session.delays.rebuildsettle", "EQROUTE_SESSION_DELAYS_REBUILDSETTLE", validateEnvDuration},
		{"session.delays.removalsettle", "EQROUTE_SESSION_DELAYS_REMOVALSETTLE", validateEnvDuration},

		// Audio
		{"audio.backend", "EQROUTE_AUDIO_BACKEND", validateEnvBackend},
		{"audio.capturedevice", "EQROUTE_AUDIO_CAPTUREDEVICE", nil},
		{"audio.channels", "EQROUTE_AUDIO_CHANNELS", validateEnvNonNegativeInt},

		// Storage
		{"output.sqlite.path", "EQROUTE_SQLITE_PATH", nil},
		{"output.mysql.enabled", "EQROUTE_MYSQL_ENABLED", validateEnvBool},
		{"output.mysql.password", "EQROUTE_MYSQL_PASSWORD", nil},

		// Integrations
		{"mqtt.enabled", "EQROUTE_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "EQROUTE_MQTT_BROKER", nil},
		{"mqtt.password", "EQROUTE_MQTT_PASSWORD", nil},
		{"metrics.enabled", "EQROUTE_METRICS_ENABLED", validateEnvBool},
		{"metrics.listen", "EQROUTE_METRICS_LISTEN", nil},
	}
}

// bindEnvVars binds every known variable and validates the ones that are set.
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration such as 500ms")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch value {
	case BackendMalgo, BackendNull:
		return nil
	default:
		return fmt.Errorf("must be %q or %q", BackendMalgo, BackendNull)
	}
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
