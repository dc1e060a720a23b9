// Package devices provides the command that lists audio endpoints.
package devices

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	devmalgo "github.com/tphakala/eqroute/internal/device/malgo"
)

// Command creates the devices command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List playback and capture devices",
		Long:  "List the audio endpoints miniaudio can see. Use a capture name for audio.capturedevice and the driver's playback name for session.drivername.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := devmalgo.ListDevices()
			if err != nil {
				return err
			}
			printInventory(os.Stdout, inv)
			return nil
		},
	}
}

func printInventory(out io.Writer, inv devmalgo.Inventory) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, section := range []struct {
		title   string
		devices []devmalgo.DeviceInfo
	}{
		{"Playback", inv.Playback},
		{"Capture", inv.Capture},
	} {
		fmt.Fprintf(w, "%s devices:\n", section.title)
		if len(section.devices) == 0 {
			fmt.Fprintln(w, "  (none)")
		}
		for _, d := range section.devices {
			marker := ""
			if d.IsDefault {
				marker = "(default)"
			}
			fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n", d.Index, d.Name, d.ID, marker)
		}
		fmt.Fprintln(w)
	}
	_ = w.Flush()
}
