package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "hackboard/pkg/logx"
)

// sdNotify reports state to systemd. Without NOTIFY_SOCKET it does nothing.
func (a *App) sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify", logx.String("state", state))
	}
}

// startWatchdog pings the systemd watchdog at half its interval when
// WatchdogSec is set on the unit.
func (a *App) startWatchdog() {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog misconfigured", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", every))
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(every / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				a.sdNotify(daemon.SdNotifyWatchdog)
			}
		}
	})
}
