// Package profiles provides commands to inspect stored device profiles.
package profiles

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/datastore"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/profile"
	"github.com/tphakala/eqroute/internal/state"
)

// Command creates the profiles command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect per-device equalizer profiles",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List devices with a stored profile",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(settings, func(s *profile.Store) error {
					return list(os.Stdout, s)
				})
			},
		},
		&cobra.Command{
			Use:   "show <uid>",
			Short: "Show the profile of a device",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(settings, func(s *profile.Store) error {
					p, err := s.Get(args[0])
					if err != nil {
						return err
					}
					printProfile(os.Stdout, args[0], p)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove <uid>",
			Short: "Forget the profile of a device",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(settings, func(s *profile.Store) error {
					if err := s.Remove(args[0]); err != nil {
						return err
					}
					fmt.Printf("Removed profile of %s\n", args[0])
					return nil
				})
			},
		},
	)

	return cmd
}

// withStore opens the datastore for the duration of fn.
func withStore(settings *conf.Settings, fn func(s *profile.Store) error) error {
	log := logger.Global().Module("profile")
	db := datastore.New(settings, log)
	if err := db.Open(); err != nil {
		return fmt.Errorf("failed to open profile store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("failed to close profile store", logger.Error(err))
		}
	}()

	return fn(profile.New(db, state.NewStore(state.Default()), nil, log))
}

func list(out io.Writer, s *profile.Store) error {
	all, err := s.All()
	if err != nil {
		return err
	}
	uids, err := s.ConfiguredDeviceUIDs()
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		fmt.Fprintln(out, "No device profiles stored")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tTYPE\tBASIC\tADVANCED\tPARAMETRIC")
	for _, uid := range uids {
		p := all[uid]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", uid, p.EqualizerType, p.BasicPresetID, p.AdvancedPresetID, p.ParametricPresetID)
	}
	return w.Flush()
}

func printProfile(out io.Writer, uid string, p profile.Profile) {
	fmt.Fprintf(out, "Device:     %s\n", uid)
	fmt.Fprintf(out, "Type:       %s\n", p.EqualizerType)
	fmt.Fprintf(out, "Basic:      %s\n", p.BasicPresetID)
	fmt.Fprintf(out, "Advanced:   %s\n", p.AdvancedPresetID)
	fmt.Fprintf(out, "Parametric: %s\n", p.ParametricPresetID)
	if !p.HasConfig() {
		fmt.Fprintln(out, "(default, nothing stored)")
	}
}
