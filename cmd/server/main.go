/*
main.go - Application entry point

PURPOSE:
  Command line for the cashback engine server. Loads configuration, wires
  the store, cache, metrics and engine together, and dispatches to the
  subcommands.

COMMANDS:
  serve           Start the HTTP API and the cycle-close scheduler
  migrate         Create or upgrade the SQLite schema
  cycle           Print the cycle containing a date
  close-cycles    Close every ended cycle once and exit

GLOBAL FLAGS:
  --config   TOML configuration file (default: ./cashback.toml)
             Missing files are fine; defaults and CASHBACK_* env apply.

STARTUP SEQUENCE (serve):
  1. Load config and build the logrus logger
  2. Open SQLite (migrating the schema)
  3. Build the snapshot cache (Redis tier when redis.addr is set)
  4. Build the Prometheus collector and cashback.Service
  5. Start the scheduler and the HTTP server
  6. Wait for SIGINT/SIGTERM, then shut down gracefully

EXAMPLES:
  # Run with defaults
  ./server serve

  # Run in memory on another port
  CASHBACK_DATABASE_PATH=":memory:" CASHBACK_SERVER_PORT=3000 ./server serve

  # Where does 2024-06-01 fall for a card closing on the 15th?
  ./server cycle --statement-day 15 --date 2024-06-01

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - api/scheduler.go: Cycle-close scheduler
*/
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/cashback-engine/cache"
	"github.com/warp/cashback-engine/cashback"
	"github.com/warp/cashback-engine/config"
	"github.com/warp/cashback-engine/generic"
	"github.com/warp/cashback-engine/metrics"
	"github.com/warp/cashback-engine/store/sqlite"
)

// app carries what the persistent pre-run hook loads for every command.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *logrus.Logger
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func (a *app) preRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger()
	return nil
}

// newRootCommand builds the CLI.
func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:               "cashback",
		Short:             "Cashback cycle engine",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.preRun,
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "./cashback.toml", "TOML configuration file")

	rootCmd.AddCommand(serveCommand(a))
	rootCmd.AddCommand(migrateCommand(a))
	rootCmd.AddCommand(cycleCommand(a))
	rootCmd.AddCommand(closeCyclesCommand(a))
	return rootCmd
}

func main() {
	defer recoverPanic()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// =============================================================================
// WIRING
// =============================================================================

// openStore opens the configured database, creating its directory.
func (a *app) openStore() (*sqlite.Store, error) {
	path := a.cfg.Database.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}
	store, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}
	a.logger.WithField("path", path).Info("database ready")
	return store, nil
}

// newCache builds the snapshot cache, or returns nil when caching is off.
// An unreachable Redis degrades to the local tier.
func (a *app) newCache(ctx context.Context) (*cache.SnapshotCache, func()) {
	noop := func() {}
	if !a.cfg.Cache.Enabled {
		return nil, noop
	}

	opts := cache.Options{
		LocalSize: a.cfg.Cache.LocalSize,
		TTL:       a.cfg.Cache.GetTTL(),
		Logger:    a.logger.WithField("component", "cache"),
	}
	closeRedis := noop
	if addr := a.cfg.Redis.Addr; addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			a.logger.WithError(err).WithField("addr", addr).Warn("redis unreachable, using local cache only")
			client.Close()
		} else {
			opts.Redis = client
			closeRedis = func() { client.Close() }
		}
	}

	c, err := cache.New(opts)
	if err != nil {
		a.logger.WithError(err).Warn("snapshot cache disabled")
		closeRedis()
		return nil, noop
	}
	return c, closeRedis
}

// newService wires the engine over store.
func (a *app) newService(store *sqlite.Store, snapshots *cache.SnapshotCache, collector *metrics.Collector) *cashback.Service {
	svc := cashback.NewService(store, store, generic.NewLedger(store))
	svc.Snapshots = store
	svc.Logger = a.logger.WithField("component", "engine")
	if snapshots != nil {
		svc.Cache = snapshots
	}
	if collector != nil {
		svc.Observer = collector
	}
	return svc
}
