package presets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/state"
)

func TestParseMode(t *testing.T) {
	for in, want := range map[string]state.EqualizerType{
		"basic":      state.EqualizerBasic,
		"Advanced":   state.EqualizerAdvanced,
		"PARAMETRIC": state.EqualizerParametric,
	} {
		got, err := parseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := parseMode("graphic")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}
