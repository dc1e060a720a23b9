// Package run provides the command that routes system audio through the
// equalizer until interrupted.
package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/eqroute/internal/buildinfo"
	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/datastore"
	"github.com/tphakala/eqroute/internal/equalizer"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/events"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/mqtt"
	"github.com/tphakala/eqroute/internal/observability"
	"github.com/tphakala/eqroute/internal/profile"
	"github.com/tphakala/eqroute/internal/session"
	"github.com/tphakala/eqroute/internal/state"
)

const (
	terminateTimeout   = 10 * time.Second
	busShutdownTimeout = 2 * time.Second
)

// Command creates the run command.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Route system audio through the equalizer",
		Long:  "Intercept the default output with the virtual driver and play its audio through the equalizer on the selected device.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, info)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("backend", "", "Audio backend: malgo or null")
	cmd.Flags().String("capture", "", "Capture device carrying the driver's audio")
	cmd.Flags().Bool("enabled", true, "Start with passthrough enabled")
	cmd.Flags().Bool("metrics", false, "Serve Prometheus metrics")
	cmd.Flags().String("listen", "", "Listen address of the metrics endpoint")
	cmd.Flags().Bool("record", false, "Record processed output to WAV")

	bindings := map[string]string{
		"audio.backend":       "backend",
		"audio.capturedevice": "capture",
		"session.enabled":     "enabled",
		"metrics.enabled":     "metrics",
		"metrics.listen":      "listen",
		"recorder.enabled":    "record",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}

// Run composes an audio session and blocks until SIGINT or SIGTERM.
func Run(parent context.Context, settings *conf.Settings, info *buildinfo.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	log := logger.Global().Module("run")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := datastore.New(settings, logger.Global().Module("datastore"))
	if err := store.Open(); err != nil {
		return fmt.Errorf("failed to open profile store: %w", err)
	}
	defer closeDataStore(store, log)

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	bus := events.NewBus(events.DefaultConfig(), logger.Global().Module("events"))
	defer func() {
		if err := bus.Shutdown(busShutdownTimeout); err != nil {
			log.Warn("event bus did not drain", logger.Error(err))
		}
	}()
	if err := bus.RegisterConsumer(m.NotificationConsumer()); err != nil {
		return err
	}
	if err := m.RegisterBusStats(bus); err != nil {
		return err
	}
	errors.SetEventPublisher(bus)
	defer errors.SetEventPublisher(nil)
	errors.AddErrorHook(m.ErrorHook())
	defer errors.ClearErrorHooks()

	g, gctx := errgroup.WithContext(ctx)

	if settings.MQTT.Enabled {
		disconnect, err := startMQTT(gctx, g, settings, bus, m, log)
		if err != nil {
			return err
		}
		defer disconnect()
	}

	b, err := openBackend(settings, logger.Global().Module("audio"))
	if err != nil {
		return err
	}
	defer func() {
		if err := b.close(); err != nil {
			log.Warn("failed to close audio backend", logger.Error(err))
		}
	}()

	st := state.NewStore(initialState(settings))
	sess, err := session.New(session.ConfigFromSettings(settings), session.Deps{
		Registry:  b.registry,
		Driver:    b.driver,
		State:     st,
		Profiles:  profile.New(store, st, bus, logger.Global().Module("profile")),
		Presets:   equalizer.NewLibraries(store),
		Builder:   b.builder,
		Storage:   store,
		Publisher: bus,
		Metrics:   m.Session,
		Logger:    logger.Global().Module("session"),
	})
	if err != nil {
		return err
	}
	m.Pipeline.SetSource(sess.PipelineSnapshot)

	if b.run != nil {
		g.Go(func() error { return b.run(gctx) })
	}

	if settings.Metrics.Enabled {
		endpoint, err := observability.NewEndpoint(settings, m)
		if err != nil {
			return err
		}
		g.Go(func() error { return endpoint.Run(gctx) })
	}

	// The session outlives gctx so Terminate can restore the output.
	if err := sess.Start(context.WithoutCancel(gctx)); err != nil {
		return err
	}
	log.Info("eqroute running",
		logger.String("version", info.GetVersion()),
		logger.String("backend", settings.Audio.Backend),
		logger.String("driver", b.driver.Name()),
		logger.Bool("enabled", settings.Session.Enabled))

	g.Go(func() error {
		watchPower(gctx, sess, log)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		tctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
		defer cancel()
		return sess.Terminate(tctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func initialState(settings *conf.Settings) state.State {
	st := state.Default()
	st.Enabled = settings.Session.Enabled
	st.Volume.BoostEnabled = settings.Session.BoostEnabled
	return st
}

// startMQTT registers the notification bridge and connects in the
// background. The client keeps retrying on its own when the broker is down.
func startMQTT(ctx context.Context, g *errgroup.Group, settings *conf.Settings, bus *events.Bus, m *observability.Metrics, log logger.Logger) (func(), error) {
	cfg := mqtt.ConfigFromSettings(settings)
	client, err := mqtt.NewClient(cfg, m.MQTT)
	if err != nil {
		return nil, err
	}
	if err := bus.RegisterConsumer(mqtt.NewBridge(client, cfg, m.MQTT)); err != nil {
		return nil, err
	}
	g.Go(func() error {
		if err := client.Connect(ctx); err != nil {
			log.Warn("mqtt connection failed", logger.String("broker", cfg.Broker), logger.Error(err))
		}
		return nil
	})
	return client.Disconnect, nil
}

// closeDataStore attempts to close the database connection and logs the result.
func closeDataStore(store datastore.Interface, log logger.Logger) {
	if err := store.Close(); err != nil {
		log.Error("failed to close profile store", logger.Error(err))
		return
	}
	log.Debug("profile store closed")
}
