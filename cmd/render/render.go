// Package render provides the command that runs a WAV file through the
// processing pipeline.
package render

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/datastore"
	"github.com/tphakala/eqroute/internal/equalizer"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/pipeline/wavfile"
	"github.com/tphakala/eqroute/internal/state"
)

type options struct {
	mode      string
	presetID  string
	gain      float64
	balance   float64
	frameSize int
}

// Command creates the render command.
func Command(settings *conf.Settings) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "render <input.wav> <output.wav>",
		Short: "Equalize a WAV file offline",
		Long:  "Run a WAV file through the capture engine, ring buffer and output writer, as the live pipeline would, and write the result as WAV.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, args[0], args[1], opts)
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", string(state.EqualizerParametric), "Equalizer mode of the preset")
	cmd.Flags().StringVar(&opts.presetID, "preset", "", "Preset id, empty renders flat")
	cmd.Flags().Float64Var(&opts.gain, "gain", 1, "Output gain, above 1 is boost")
	cmd.Flags().Float64Var(&opts.balance, "balance", 0, "Balance from -1 (left) to 1 (right)")
	cmd.Flags().IntVar(&opts.frameSize, "frame-size", 0, "Frames per block, defaults to audio.buffer.framesize")

	return cmd
}

func run(parent context.Context, settings *conf.Settings, input, output string, opts options) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	log := logger.Global().Module("render")

	preset, err := loadPreset(settings, opts, log)
	if err != nil {
		return err
	}
	frameSize := opts.frameSize
	if frameSize <= 0 {
		frameSize = settings.Audio.Buffer.FrameSize
	}

	res, err := wavfile.Render(ctx, wavfile.RenderConfig{
		Input:     input,
		Output:    output,
		FrameSize: frameSize,
		Preset:    preset,
		Volume: state.Volume{
			Gain:         opts.gain,
			Balance:      opts.balance,
			BoostEnabled: opts.gain > 1,
		},
		Logger: log,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Rendered %d frames at %.0f Hz, %d channels", res.Frames, res.Format.SampleRate, res.Format.Channels)
	if res.Underruns > 0 {
		fmt.Printf(" (%d underruns)", res.Underruns)
	}
	fmt.Println()
	return nil
}

// loadPreset resolves the preset flag. The flat preset needs no datastore.
func loadPreset(settings *conf.Settings, opts options, log logger.Logger) (equalizer.Preset, error) {
	if opts.presetID == "" || opts.presetID == state.FlatPresetID {
		return equalizer.Preset{}, nil
	}
	mode, ok := parseMode(opts.mode)
	if !ok {
		return equalizer.Preset{}, errors.Newf("unknown equalizer mode %q", opts.mode).
			Component("render").
			Category(errors.CategoryValidation).
			Build()
	}

	db := datastore.New(settings, log)
	if err := db.Open(); err != nil {
		return equalizer.Preset{}, fmt.Errorf("failed to open preset store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("failed to close preset store", logger.Error(err))
		}
	}()

	return equalizer.NewLibraries(db).For(mode).Get(opts.presetID)
}

func parseMode(s string) (state.EqualizerType, bool) {
	for _, mode := range []state.EqualizerType{state.EqualizerBasic, state.EqualizerAdvanced, state.EqualizerParametric} {
		if strings.EqualFold(s, string(mode)) {
			return mode, true
		}
	}
	return "", false
}
