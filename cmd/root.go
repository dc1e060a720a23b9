package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/eqroute/cmd/devices"
	"github.com/tphakala/eqroute/cmd/presets"
	"github.com/tphakala/eqroute/cmd/profiles"
	"github.com/tphakala/eqroute/cmd/render"
	"github.com/tphakala/eqroute/cmd/run"
	"github.com/tphakala/eqroute/internal/buildinfo"
	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "eqroute",
		Short:         "System-wide equalizer and output router",
		Version:       info.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate(info.String() + "\n")

	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	devicesCmd := devices.Command()
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(info.String())
		},
	}

	subcommands := []*cobra.Command{
		run.Command(settings, info),
		devicesCmd,
		profiles.Command(settings),
		presets.Command(settings),
		render.Command(settings),
		versionCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// These need neither settings nor a config file on disk.
		if cmd.Name() == devicesCmd.Name() || cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(configFile, settings)
	}

	return rootCmd
}

// initialize loads settings and installs the global logger. Flags bound to
// viper take precedence over the config file.
func initialize(configFile string, settings *conf.Settings) error {
	loaded, err := conf.Load(configFile)
	if err != nil {
		return err
	}
	*settings = *loaded

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	return nil
}

func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVar(configFile, "config", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
