package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextGetters(t *testing.T) {
	tests := []struct {
		name      string
		ctx       *Context
		version   string
		buildDate string
	}{
		{name: "nil context", ctx: nil, version: UnknownValue, buildDate: UnknownValue},
		{name: "empty fields", ctx: &Context{}, version: UnknownValue, buildDate: UnknownValue},
		{name: "populated", ctx: &Context{Version: "1.2.0", BuildDate: "2026-10-01"}, version: "1.2.0", buildDate: "2026-10-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.buildDate, tt.ctx.GetBuildDate())
		})
	}
}

func TestNewContextKeepsExplicitVersion(t *testing.T) {
	c := NewContext("v0.3.1", "2026-10-19")
	assert.Equal(t, "v0.3.1", c.GetVersion())
	assert.Equal(t, "eqroute v0.3.1 (built 2026-10-19)", c.String())
}
