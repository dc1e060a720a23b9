package conf

import (
	"fmt"
	"net"
	"net/url"
)

// Audio backends
const (
	BackendMalgo = "malgo"
	BackendNull  = "null"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, check := range []func(*Settings) error{
		func(s *Settings) error { return validateSessionSettings(&s.Session) },
		func(s *Settings) error { return validateAudioSettings(&s.Audio) },
		func(s *Settings) error { return validateOutputSettings(&s.Output) },
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
		func(s *Settings) error { return validateMetricsSettings(&s.Metrics) },
		func(s *Settings) error { return validateRecorderSettings(&s.Recorder) },
	} {
		if err := check(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateSessionSettings(s *SessionSettings) error {
	d := s.Delays
	for name, v := range map[string]int64{
		"volumeecho":        int64(d.VolumeEcho),
		"mutesuppress":      int64(d.MuteSuppress),
		"removalsettle":     int64(d.RemovalSettle),
		"rebuildsettle":     int64(d.RebuildSettle),
		"stoptimeout":       int64(d.StopTimeout),
		"wakesettle":        int64(d.WakeSettle),
		"wakeretryinterval": int64(d.WakeRetryInterval),
		"typechangesettle":  int64(d.TypeChangeSettle),
	} {
		if v < 0 {
			return fmt.Errorf("session.delays.%s must not be negative", name)
		}
	}

	if d.StopTimeout == 0 {
		return fmt.Errorf("session.delays.stoptimeout must be greater than zero")
	}
	if s.WakeRetries < 0 {
		return fmt.Errorf("session.wakeretries must not be negative")
	}
	if s.VolumeSteps.Full <= 0 || s.VolumeSteps.Quarter <= 0 {
		return fmt.Errorf("session.volumesteps.full and quarter must be positive")
	}
	if s.VolumeSteps.Max < 1 {
		return fmt.Errorf("session.volumesteps.max must be at least 1.0")
	}
	if len(s.SupportedSampleRates) == 0 {
		return fmt.Errorf("session.supportedsamplerates must not be empty")
	}
	for _, rate := range s.SupportedSampleRates {
		if rate <= 0 {
			return fmt.Errorf("session.supportedsamplerates contains invalid rate %v", rate)
		}
	}
	return nil
}

func validateAudioSettings(a *AudioSettings) error {
	switch a.Backend {
	case BackendMalgo, BackendNull:
	default:
		return fmt.Errorf("audio.backend must be %q or %q, got %q", BackendMalgo, BackendNull, a.Backend)
	}
	if a.Channels < 1 || a.Channels > 8 {
		return fmt.Errorf("audio.channels must be between 1 and 8")
	}
	if a.Buffer.FrameSize <= 0 || a.Buffer.Multiplier <= 0 {
		return fmt.Errorf("audio.buffer.framesize and multiplier must be positive")
	}
	if a.PollInterval <= 0 {
		return fmt.Errorf("audio.pollinterval must be positive")
	}
	return nil
}

func validateOutputSettings(o *OutputSettings) error {
	if o.SQLite.Enabled && o.MySQL.Enabled {
		return fmt.Errorf("only one of output.sqlite and output.mysql can be enabled")
	}
	if o.SQLite.Enabled && o.SQLite.Path == "" {
		return fmt.Errorf("output.sqlite.path is required")
	}
	if o.MySQL.Enabled && (o.MySQL.Host == "" || o.MySQL.Database == "") {
		return fmt.Errorf("output.mysql.host and database are required")
	}
	return nil
}

func validateMQTTSettings(m *MQTTSettings) error {
	if !m.Enabled {
		return nil
	}
	u, err := url.Parse(m.Broker)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("mqtt.broker must be a URL such as tcp://host:1883")
	}
	if m.Topic == "" {
		return fmt.Errorf("mqtt.topic is required")
	}
	return nil
}

func validateMetricsSettings(m *MetricsSettings) error {
	if !m.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		return fmt.Errorf("metrics.listen must be host:port: %w", err)
	}
	return nil
}

func validateRecorderSettings(r *RecorderSettings) error {
	if !r.Enabled {
		return nil
	}
	if r.Path == "" {
		return fmt.Errorf("recorder.path is required")
	}
	if r.BufferSeconds < 1 {
		return fmt.Errorf("recorder.bufferseconds must be at least 1")
	}
	return nil
}
