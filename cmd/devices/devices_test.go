package devices

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	devmalgo "github.com/tphakala/eqroute/internal/device/malgo"
)

func TestPrintInventory(t *testing.T) {
	var buf bytes.Buffer
	printInventory(&buf, devmalgo.Inventory{
		Playback: []devmalgo.DeviceInfo{
			{Index: 0, Name: "Speakers", ID: "spk", IsDefault: true},
			{Index: 1, Name: "eqroute", ID: "drv"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Playback devices:")
	assert.Contains(t, out, "Speakers")
	assert.Contains(t, out, "(default)")
	assert.Contains(t, out, "Capture devices:\n  (none)")
}
