package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ackaraca/PeakActivity/pkg/api"
	"github.com/ackaraca/PeakActivity/pkg/config"
	syncpkg "github.com/ackaraca/PeakActivity/pkg/sync"
)

func (a *app) cmdServe(args []string) int {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := flags.String("listen", "", "listen address (overrides config)")
	verbose := flags.Bool("verbose", false, "enable debug logging")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	addr := a.cfg.Server.Listen
	if *listen != "" {
		addr = *listen
	}

	engine := a.syncEngine("")
	handler := api.New(a.svc, syncerOrNil(engine))

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.loader != nil {
		stopWatch, err := a.loader.Watch()
		if err != nil {
			logrus.WithError(err).Warn("config hot-reload unavailable")
		} else {
			defer stopWatch()
		}
	}

	go a.runSyncLoop(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.WithField("addr", addr).Info("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "peakactivity: serve: %v\n", err)
		return 1
	}
	logrus.Info("server stopped")
	return 0
}

// runSyncLoop runs periodic full syncs against the mirror. The interval
// and enabled flag are re-read from the live config every tick, so a
// hot-reloaded config takes effect without a restart.
func (a *app) runSyncLoop(ctx context.Context) {
	for {
		cfg := a.liveConfig()
		if !cfg.Sync.Enabled || cfg.Sync.Remote == "" {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.Sync.Interval.Std()):
		}

		engine := a.syncEngine(cfg.Sync.Remote)
		if err := engine.Run(syncpkg.ModeFull, ""); err != nil {
			logrus.WithError(err).Error("periodic sync failed")
		}
	}
}

func (a *app) liveConfig() *config.Config {
	if a.loader != nil {
		return a.loader.Config()
	}
	return a.cfg
}

// syncerOrNil avoids handing the API a typed-nil interface value.
func syncerOrNil(engine *syncpkg.Engine) api.Syncer {
	if engine == nil {
		return nil
	}
	return engine
}
