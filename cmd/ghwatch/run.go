package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ghwatch/internal/app"
)

func runBot(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	sd := newSystemd()
	go sd.watchdog(ctx)
	// READY once commands are being served; restore continues in the background.
	sd.ready()

	reason := app.StopAppStop
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	sd.stopping()
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			return err
		}
		return errors.New("stopped on fatal error")
	}
	return nil
}
