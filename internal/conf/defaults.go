package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", appName)

	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/eqroute.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("session.enabled", true)
	viper.SetDefault("session.boostenabled", false)
	viper.SetDefault("session.drivername", "eqroute")
	viper.SetDefault("session.namesuffix", " (shadow)")
	viper.SetDefault("session.builtinname", "Built-in")
	viper.SetDefault("session.wakeretries", 5)
	viper.SetDefault("session.supportedsamplerates", []float64{44100, 48000, 88200, 96000, 176400, 192000})

	viper.SetDefault("session.delays.volumeecho", 50*time.Millisecond)
	viper.SetDefault("session.delays.mutesuppress", 100*time.Millisecond)
	viper.SetDefault("session.delays.removalsettle", 500*time.Millisecond)
	viper.SetDefault("session.delays.rebuildsettle", 1000*time.Millisecond)
	viper.SetDefault("session.delays.stoptimeout", 2000*time.Millisecond)
	viper.SetDefault("session.delays.wakesettle", 1000*time.Millisecond)
	viper.SetDefault("session.delays.wakeretryinterval", 1000*time.Millisecond)
	viper.SetDefault("session.delays.typechangesettle", 100*time.Millisecond)

	viper.SetDefault("session.volumesteps.full", 16)
	viper.SetDefault("session.volumesteps.quarter", 64)
	viper.SetDefault("session.volumesteps.max", 2.0)

	viper.SetDefault("audio.backend", "malgo")
	viper.SetDefault("audio.channels", 2)
	viper.SetDefault("audio.capturedevice", "")
	viper.SetDefault("audio.pollinterval", 2*time.Second)
	viper.SetDefault("audio.buffer.framesize", 512)
	viper.SetDefault("audio.buffer.multiplier", 2048)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "eqroute.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "eqroute")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
	viper.SetDefault("output.mysql.database", "eqroute")

	viper.SetDefault("profiles.cacheexpiration", 5*time.Minute)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "eqroute")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "127.0.0.1:8090")

	viper.SetDefault("recorder.enabled", false)
	viper.SetDefault("recorder.path", "recording.wav")
	viper.SetDefault("recorder.bufferseconds", 2)
}
