//go:build !unix

package run

import (
	"context"

	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/session"
)

// watchPower has no sleep signals to listen to on this platform.
func watchPower(ctx context.Context, _ *session.AudioSession, log logger.Logger) {
	log.Debug("sleep and wake signals not supported on this platform")
	<-ctx.Done()
}
