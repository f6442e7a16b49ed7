package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/8000178/firezone/internal/engine"
	"github.com/8000178/firezone/internal/filelog"
	"github.com/8000178/firezone/internal/obs"
	"github.com/8000178/firezone/internal/session"
	"github.com/8000178/firezone/internal/signals"
	"github.com/8000178/firezone/internal/state"
)

const heartbeatInterval = time.Minute

func main() {
	os.Exit(run(os.Args[1:], os.Stderr, signals.NewNotifier()))
}

// run returns the process exit code. notifier delivers the shutdown signals.
func run(args []string, stderr io.Writer, notifier signals.Notifier) int {
	cfg, err := loadConfig(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "firezone-client: %v\n", err)
		return 1
	}
	obs.EnableDebug(cfg.Debug)

	var opts []session.Option
	if cfg.LogDir != "" {
		sink, err := filelog.Open(cfg.LogDir)
		if err != nil {
			fmt.Fprintf(stderr, "firezone-client: open log directory: %v\n", err)
			return 1
		}
		defer sink.Close()
		obs.SetOutput(io.MultiWriter(os.Stdout, sink))
		defer obs.SetOutput(os.Stdout)
		opts = append(opts, session.WithLogRoller(sink))
		obs.Info("log.file", obs.Fields{"path": sink.Path(), "rotation": cfg.LogRotation})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := state.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		obs.Warn("state.unavailable", obs.Fields{"err": err.Error(), "fallback": "in-memory"})
		store = state.NewMemoryStore()
	}
	defer store.Close()
	opts = append(opts, session.WithStateStore(store))

	eng := engine.New(engine.Options{RotationSchedule: cfg.LogRotation})
	ctrl := session.NewController(eng, signals.NewWaiter(notifier, signals.ShutdownSignals()...), opts...)

	if rs, ok := store.(*state.RedisStore); ok {
		go rs.Heartbeat(ctx, heartbeatInterval, ctrl.Snapshot)
	}
	if cfg.MetricsAddr != "" {
		go startMetricsServer(ctx, cfg.MetricsAddr, ctrl)
	}

	obs.Info("client.starting", obs.Fields{"api_url": cfg.APIURL, "client_id": cfg.ID, "version": engine.Version})
	err = ctrl.Run(ctx, session.Config{
		APIURL:   cfg.APIURL,
		Token:    cfg.Token,
		ClientID: cfg.ID,
		LogDir:   cfg.LogDir,
	})
	if err != nil {
		obs.Error("client.failed", obs.Fields{"err": err.Error()})
		fmt.Fprintf(stderr, "firezone-client: %v\n", err)
		return 1
	}
	return 0
}
