// Package presets provides commands to list and import equalizer presets.
package presets

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/datastore"
	"github.com/tphakala/eqroute/internal/equalizer"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/state"
)

// Command creates the presets command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Manage equalizer presets",
	}

	var name string
	importAutoEQ := &cobra.Command{
		Use:   "import-autoeq <file>",
		Short: "Import an AutoEQ ParametricEQ.txt as a parametric preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibraries(settings, func(libs *equalizer.Libraries) error {
				return importAutoEQFile(os.Stdout, libs, args[0], name)
			})
		},
	}
	importAutoEQ.Flags().StringVar(&name, "name", "", "Preset name, defaults to the file name")

	cmd.AddCommand(
		&cobra.Command{
			Use:       "list <basic|advanced|parametric>",
			Short:     "List the presets of a mode",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"basic", "advanced", "parametric"},
			RunE: func(cmd *cobra.Command, args []string) error {
				mode, err := parseMode(args[0])
				if err != nil {
					return err
				}
				return withLibraries(settings, func(libs *equalizer.Libraries) error {
					return list(os.Stdout, libs.For(mode))
				})
			},
		},
		importAutoEQ,
		&cobra.Command{
			Use:   "import-json <file>",
			Short: "Import parametric presets from a JSON export",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				return withLibraries(settings, func(libs *equalizer.Libraries) error {
					n, err := equalizer.ImportParametricJSON(libs.For(state.EqualizerParametric), data)
					fmt.Printf("Imported %d presets\n", n)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "export-json <file>",
			Short: "Export the parametric presets as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLibraries(settings, func(libs *equalizer.Libraries) error {
					presets, err := libs.For(state.EqualizerParametric).List()
					if err != nil {
						return err
					}
					data, err := equalizer.EncodeParametricJSON(presets)
					if err != nil {
						return err
					}
					return os.WriteFile(args[0], data, 0o644)
				})
			},
		},
	)

	return cmd
}

// parseMode accepts a mode name in any case.
func parseMode(s string) (state.EqualizerType, error) {
	for _, mode := range []state.EqualizerType{state.EqualizerBasic, state.EqualizerAdvanced, state.EqualizerParametric} {
		if strings.EqualFold(s, string(mode)) {
			return mode, nil
		}
	}
	return "", errors.Newf("unknown equalizer mode %q", s).
		Component("presets").
		Category(errors.CategoryValidation).
		Build()
}

// withLibraries opens the datastore for the duration of fn.
func withLibraries(settings *conf.Settings, fn func(libs *equalizer.Libraries) error) error {
	log := logger.Global().Module("presets")
	db := datastore.New(settings, log)
	if err := db.Open(); err != nil {
		return fmt.Errorf("failed to open preset store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("failed to close preset store", logger.Error(err))
		}
	}()
	return fn(equalizer.NewLibraries(db))
}

func list(out io.Writer, lib *equalizer.Library) error {
	presets, err := lib.List()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tBUILT-IN")
	for _, p := range presets {
		fmt.Fprintf(w, "%s\t%s\t%t\n", p.ID, p.Name, p.BuiltIn)
	}
	return w.Flush()
}

func importAutoEQFile(out io.Writer, libs *equalizer.Libraries, path, name string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	p, err := equalizer.ParseAutoEQ(string(content), name)
	if err != nil {
		return err
	}
	created, err := libs.For(state.EqualizerParametric).Create(p)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Imported %q as %s\n", created.Name, created.ID)
	return nil
}
