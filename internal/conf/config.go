// Package conf loads, validates and saves eqroute settings.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/logger"
)

const (
	appName        = "eqroute"
	configFileName = "config.yaml"
	osWindows      = "windows"
)

// DelaySettings holds the settle delays used by the session orchestrator.
// They track OS device-registry propagation times and must not be zero in
// production; tests shrink them to milliseconds.
type DelaySettings struct {
	VolumeEcho        time.Duration // suppress driver volume echo after pushing device volume
	MuteSuppress      time.Duration // ignore driver mute echo after a volume-up step
	RemovalSettle     time.Duration // wait after tearing down for a removed/dead device
	RebuildSettle     time.Duration // wait between passthrough setup and pipeline build
	StopTimeout       time.Duration // upper bound for engine stop completion
	WakeSettle        time.Duration // wait after system wake before probing devices
	WakeRetryInterval time.Duration // spacing between wake device probes
	TypeChangeSettle  time.Duration // wait after an equalizer type change before rebuilding
}

// VolumeStepSettings configures the volume button step tables.
type VolumeStepSettings struct {
	Full    int     // steps per unit gain for normal presses
	Quarter int     // steps per unit gain for fine presses
	Max     float64 // highest gain reachable, boost region above 1.0
}

// SessionSettings configures the audio session orchestrator.
type SessionSettings struct {
	Enabled              bool               // start passthrough on launch
	BoostEnabled         bool               // allow gains above 1.0
	DriverName           string             // name of the virtual driver device
	NameSuffix           string             // appended to the shadowed device name
	BuiltInName          string             // name pattern of the built-in output
	Delays               DelaySettings      // settle delays
	WakeRetries          int                // device probes after wake
	VolumeSteps          VolumeStepSettings // volume button tables
	SupportedSampleRates []float64          // rates the virtual driver can run at
}

// AudioSettings configures the audio backend.
type AudioSettings struct {
	Backend       string        // malgo or null
	Channels      int           // channel count of the capture graph
	CaptureDevice string        // loopback device carrying the driver's audio
	PollInterval  time.Duration // device watcher poll interval
	Buffer        struct {
		FrameSize  int // frames per hardware buffer
		Multiplier int // ring buffer capacity in hardware buffers
	}
}

// SQLiteSettings configures the SQLite profile store.
type SQLiteSettings struct {
	Enabled bool   // true to use SQLite
	Path    string // database file path
}

// MySQLSettings configures the MySQL profile store.
type MySQLSettings struct {
	Enabled  bool   // true to use MySQL
	Username string // database user
	Password string // database password
	Host     string // database host
	Port     string // database port
	Database string // database name
}

// OutputSettings selects the persistence backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// ProfileSettings configures the device profile store.
type ProfileSettings struct {
	CacheExpiration time.Duration // profile read cache lifetime
}

// MQTTSettings contains settings for MQTT integration.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT
	Broker   string // MQTT (tcp://host:port)
	Topic    string // MQTT topic prefix
	Username string // MQTT username
	Password string // MQTT password
	Retain   bool   // retain published messages
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   // true to serve /metrics
	Listen  string // IP address and port to listen on
}

// RecorderSettings configures the output recorder tap.
type RecorderSettings struct {
	Enabled       bool   // record processed output to WAV
	Path          string // output file path
	BufferSeconds int    // FIFO size between the audio thread and the writer
}

// Settings contains all configuration options for eqroute.
type Settings struct {
	Debug bool // true to enable debug mode

	Main struct {
		Name string // instance name, used as MQTT client id
	}

	Logging  logger.LoggingConfig
	Session  SessionSettings
	Audio    AudioSettings
	Output   OutputSettings
	Profiles ProfileSettings
	MQTT     MQTTSettings
	Metrics  MetricsSettings
	Recorder RecorderSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment. An empty configFile
// searches the default locations and creates a default file when none exists.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the defaults to dir/config.yaml and reads it back.
func createDefaultConfig(dir string) error {
	defaults := &Settings{}
	if err := viper.Unmarshal(defaults); err != nil {
		return fmt.Errorf("error building default settings: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	configPath := filepath.Join(dir, configFileName)
	if err := SaveYAMLConfig(configPath, defaults); err != nil {
		return err
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// Setting returns the loaded settings, loading defaults on first use.
func Setting() *Settings {
	settingsMutex.RLock()
	s := settingsInstance
	settingsMutex.RUnlock()
	if s != nil {
		return s
	}

	s, err := Load("")
	if err != nil {
		logger.Global().Module("conf").Error("failed to load settings", logger.Error(err))
		return nil
	}
	return s
}

// SaveYAMLConfig writes settings to configPath through a temporary file
// and rename so a crash never leaves a truncated config behind.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("config_path", configPath).
			Build()
	}

	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
// If one of them already holds a config file only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case osWindows:
		exePath, err := os.Executable()
		if err != nil {
			return nil, errors.New(err).
				Category(errors.CategorySystem).
				Context("operation", "get-executable-path").
				Build()
		}
		configPaths = []string{
			filepath.Dir(exePath),
			filepath.Join(homeDir, "AppData", "Roaming", appName),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", appName),
			filepath.Join("/etc", appName),
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, configFileName)); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}
