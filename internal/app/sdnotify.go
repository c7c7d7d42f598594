package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"schedbot/pkg/logx"
)

// notify is a no-op outside systemd (NOTIFY_SOCKET unset).
func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify", logx.String("state", state))
	}
}

func notifyReady(log logx.Logger)    { notify(log, daemon.SdNotifyReady) }
func notifyStopping(log logx.Logger) { notify(log, daemon.SdNotifyStopping) }

// watchdog pings systemd at half the unit's WatchdogSec until ctx ends.
func watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notify(log, daemon.SdNotifyWatchdog)
		}
	}
}
