package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"pathsched/internal/app"
	"pathsched/internal/config"
	logx "pathsched/pkg/logx"
	"pathsched/pkg/systemd"
)

func serve(c *cli.Context) error {
	log := logx.NewConsole("INFO").With(logx.String("comp", "main"))

	a, err := app.NewApp(c.GlobalString("config"))
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	systemd.Ready(log)
	go systemd.Watchdog(ctx, log, func() bool { return a.Err() == nil })

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	systemd.Stopping(log)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func checkConfig(c *cli.Context) error {
	path := c.GlobalString("config")
	if _, err := config.NewConfigManager(path).Load(); err != nil {
		return cli.NewExitError(fmt.Sprintf("%s: %v", path, err), 2)
	}
	fmt.Fprintf(c.App.Writer, "%s: ok\n", path)
	return nil
}
