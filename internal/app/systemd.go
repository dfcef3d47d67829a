package app

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"

	"ticktock/internal/config"
	logx "ticktock/pkg/logx"
)

// WatchdogTag is the loop task that pings the systemd watchdog.
const WatchdogTag = config.ReservedTagPrefix + "watchdog"

func sdNotify(state string) (bool, error) { return daemon.SdNotify(false, state) }

func (a *App) notifyReady(started int) {
	sent, err := a.notify(daemon.SdNotifyReady + "\nSTATUS=" + fmt.Sprintf("%d tasks started", started))
	switch {
	case err != nil:
		a.log.Warn("systemd notify failed", logx.Err(err))
	case sent:
		a.log.Debug("systemd notified", logx.String("state", "ready"))
	}
}

func (a *App) notifyStopping() {
	if _, err := a.notify(daemon.SdNotifyStopping); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}
}

// startWatchdog pings systemd from a loop task at half the watchdog interval,
// so a wedged loop gets the daemon restarted.
func (a *App) startWatchdog(cfg *config.Config) {
	if cfg == nil || !cfg.Scheduler.Watchdog {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog unavailable", logx.Err(err))
		return
	}
	if interval <= 0 {
		a.log.Debug("systemd watchdog not requested")
		return
	}
	a.sched.NewTask().
		Tag(WatchdogTag).
		Period(interval / 2).
		OnComplete(func() error {
			_, err := a.notify(daemon.SdNotifyWatchdog)
			return err
		}).
		LoopExecute().
		Start()
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
}
