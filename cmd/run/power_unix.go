//go:build unix

package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/session"
)

const sleepTimeout = 10 * time.Second

// watchPower maps SIGUSR1 to system sleep and SIGUSR2 to wake, so a
// platform sleep hook can drive the session with kill(1).
func watchPower(ctx context.Context, sess *session.AudioSession, log logger.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				sctx, cancel := context.WithTimeout(ctx, sleepTimeout)
				if err := sess.Sleep(sctx); err != nil {
					log.Warn("sleep teardown did not finish", logger.Error(err))
				}
				cancel()
			case syscall.SIGUSR2:
				sess.Wake()
			}
		}
	}
}
