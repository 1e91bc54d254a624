package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/runnerr0/pagetime/internal/bridge"
	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/guard"
	"github.com/runnerr0/pagetime/internal/logging"
	"github.com/runnerr0/pagetime/internal/metrics"
	"github.com/runnerr0/pagetime/internal/storage"
	"github.com/runnerr0/pagetime/internal/tracker"
)

const (
	shutdownTimeout  = 15 * time.Second
	minSweepInterval = time.Minute
)

// daemon is everything `serve` runs, assembled so tests can drive it
// without a listener or signals.
type daemon struct {
	cfg     *config.Config
	store   *storage.SQLiteStore
	tracker *tracker.Tracker
	outbox  *bridge.Outbox
	server  *bridge.Server
	log     logrus.FieldLogger
	now     func() time.Time
}

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	loaded, err := c.loadConfig()
	if err != nil {
		return err
	}
	cfg := *loaded
	if c.Port != 0 {
		cfg.Daemon.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	verbose := c.globals != nil && c.globals.Verbose
	logger, closer, err := logging.Setup(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer closer.Close()

	store := c.store
	if store == nil {
		path, err := c.dbPath(&cfg)
		if err != nil {
			return err
		}
		store, err = storage.Open(path, cfg.Storage.SchemaVersion)
		if err != nil {
			return err
		}
		defer store.Close()
		logger.WithField("path", path).Info("store opened")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, &cfg, store, logger, c.version)
	if err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go d.maintain(ctx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.server.Start()
	}()

	select {
	case sig := <-stop:
		logger.Infof("Received signal: %v", sig)
	case err := <-serveErr:
		if err != nil {
			logger.WithError(err).Error("bridge stopped")
		}
		cancel()
		if shutdownErr := d.shutdown(); shutdownErr != nil {
			logger.WithError(shutdownErr).Warn("shutdown incomplete")
		}
		return err
	}

	cancel()
	return d.shutdown()
}

// newDaemon seeds settings, imports legacy totals, and wires the tracker,
// guard, outbox and bridge server around store.
func newDaemon(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore, logger logrus.FieldLogger, version string) (*daemon, error) {
	if err := seedSettings(ctx, store, cfg.Guard); err != nil {
		return nil, fmt.Errorf("seeding settings: %w", err)
	}

	res, err := store.ImportLegacyTabTimes(ctx, time.Local)
	if err != nil {
		logger.WithError(err).Warn("legacy tabTimes import failed")
	} else if res.Imported > 0 || len(res.Skipped) > 0 {
		logger.WithFields(logrus.Fields{
			"imported": res.Imported,
			"skipped":  len(res.Skipped),
		}).Info("imported legacy tabTimes")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	trk := tracker.New(store, tracker.Options{
		Logger:         logger.WithField("component", "tracker"),
		Metrics:        rec,
		IgnorePrefixes: cfg.Tracking.IgnorePrefixes,
	})

	outbox := bridge.NewOutbox(cfg.Daemon.OutboxSize, logger.WithField("component", "outbox"), rec)

	g := guard.New(store, outbox, guard.Options{
		DefaultFallback: cfg.Daemon.BaseURL() + bridge.FallbackPath,
		Logger:          logger.WithField("component", "guard"),
		Metrics:         rec,
	})

	server := bridge.NewServer(cfg.Daemon, bridge.Deps{
		Sessions:    trk,
		Navigations: g,
		Records:     store,
		Outbox:      outbox,
		Metrics:     rec,
		Gatherer:    reg,
		Logger:      logger.WithField("component", "bridge"),
		Version:     version,

		ReportInterval: cfg.Tracking.ReportInterval(),
	})

	return &daemon{
		cfg:     cfg,
		store:   store,
		tracker: trk,
		outbox:  outbox,
		server:  server,
		log:     logger,
		now:     time.Now,
	}, nil
}

// seedSettings writes the configured blacklist and fallback URL only when
// the store has no value yet; edits made at runtime are never overwritten.
func seedSettings(ctx context.Context, store *storage.SQLiteStore, guardCfg config.GuardConfig) error {
	has, err := store.HasSetting(ctx, storage.SettingBlacklist)
	if err != nil {
		return err
	}
	if !has {
		patterns := guardCfg.Blacklist
		if patterns == nil {
			patterns = []string{}
		}
		if err := store.SetBlacklist(ctx, patterns); err != nil {
			return err
		}
	}

	has, err = store.HasSetting(ctx, storage.SettingFallbackURL)
	if err != nil {
		return err
	}
	if !has && guardCfg.FallbackURL != "" {
		if err := store.SetFallbackURL(ctx, guardCfg.FallbackURL); err != nil {
			return err
		}
	}
	return nil
}

// maintain runs retention pruning and tombstone sweeping until ctx is done.
func (d *daemon) maintain(ctx context.Context) {
	pruneEvery := time.Duration(d.cfg.Retention.PruneIntervalHours) * time.Hour
	if pruneEvery <= 0 {
		pruneEvery = 24 * time.Hour
	}
	sweepEvery := d.cfg.Tracking.TombstoneTTL() / 2
	if sweepEvery < minSweepInterval {
		sweepEvery = minSweepInterval
	}

	d.prune(ctx)

	pruneTicker := time.NewTicker(pruneEvery)
	defer pruneTicker.Stop()
	sweepTicker := time.NewTicker(sweepEvery)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pruneTicker.C:
			d.prune(ctx)
		case <-sweepTicker.C:
			d.sweep()
		}
	}
}

// prune deletes finished records older than the retention period. Zero or
// negative retention.days disables it.
func (d *daemon) prune(ctx context.Context) int64 {
	if d.cfg.Retention.Days < 1 {
		return 0
	}
	cutoff := d.now().Add(-time.Duration(d.cfg.Retention.Days) * 24 * time.Hour)
	n, err := d.store.PruneBefore(ctx, cutoff)
	if err != nil {
		d.log.WithError(err).Error("retention prune failed")
		return 0
	}
	if n > 0 {
		d.log.WithField("pruned", n).Info("retention prune")
	}
	return n
}

// sweep forgets closed sessions older than the tombstone TTL.
func (d *daemon) sweep() int {
	n := d.tracker.SweepClosed(d.now().Add(-d.cfg.Tracking.TombstoneTTL()))
	if n > 0 {
		d.log.WithField("swept", n).Debug("forgot closed sessions")
	}
	return n
}

// shutdown stops the bridge first so no new events arrive, then closes
// every open session and waits for the final flushes.
func (d *daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	d.log.Info("shutting down bridge...")
	if err := d.server.Shutdown(ctx); err != nil {
		d.log.WithError(err).Warn("bridge shutdown")
	}

	if err := d.tracker.Shutdown(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	d.log.Info("daemon stopped gracefully")
	return nil
}
