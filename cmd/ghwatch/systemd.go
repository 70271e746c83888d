package main

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// systemd speaks the sd_notify protocol. Every call is a no-op when the
// process was not started by systemd.
type systemd struct {
	notify func(state string) (bool, error)
	// interval reports the watchdog timeout, 0 when disabled.
	interval func() (time.Duration, error)
}

func newSystemd() *systemd {
	return &systemd{
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		interval: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (s *systemd) ready()    { _, _ = s.notify(daemon.SdNotifyReady) }
func (s *systemd) stopping() { _, _ = s.notify(daemon.SdNotifyStopping) }

// watchdog pings at half the configured timeout until ctx is done.
func (s *systemd) watchdog(ctx context.Context) {
	every, err := s.interval()
	if err != nil || every <= 0 {
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = s.notify(daemon.SdNotifyWatchdog)
		}
	}
}
