package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskengine/bracket"
	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/config"
	"github.com/rustyeddy/riskengine/internal/logging"
	"github.com/rustyeddy/riskengine/journal"
	"github.com/rustyeddy/riskengine/limits"
	"github.com/rustyeddy/riskengine/orders"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the order reconciliation loop",
	Long: `Start the engine against the configured broker: restore open orders and
brackets from the journal, poll the broker for fills and expiries, drive
brackets through their lifecycle and serve Prometheus metrics.

Stops cleanly on SIGINT or SIGTERM.

Example:
  riskengine run -f riskengine.yaml`,
	RunE: runRun,
}

var (
	runConfigPath    string
	runStatsInterval time.Duration
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.Flags().DurationVar(&runStatsInterval, "stats", time.Minute, "interval between bracket stats log lines")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := newBackend(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	b := broker.NewGuard(be.broker, broker.WithTimeout(cfg.CallTimeout()), broker.WithLogger(log))

	jr, db, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}

	monOpts := []orders.Option{orders.WithConfig(cfg.Orders()), orders.WithLogger(log)}
	mgrOpts := []bracket.Option{
		bracket.WithQuotes(b),
		bracket.WithLearner(limits.NewValidator(b, limits.WithTTL(cfg.CacheTTL()), limits.WithLogger(log))),
		bracket.WithLogger(log),
	}
	if jr != nil {
		monOpts = append(monOpts, orders.WithRecorder(jr))
		mgrOpts = append(mgrOpts, bracket.WithRecorder(jr))
	}
	mon := orders.NewMonitor(b, monOpts...)
	mgr := bracket.NewManager(mon, mgrOpts...)

	if db != nil {
		rec, err := journal.Recover(ctx, db, mon, mgr)
		if err != nil {
			jr.Close()
			return err
		}
		log.Info("restored from journal", "orders", rec.Orders, "brackets", rec.Brackets, "replayed", rec.Replayed)
	}

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "addr", cfg.Metrics.Addr, "err", err)
			}
		}()
		log.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("worker stopped", "worker", name, "err", err)
			}
		}()
	}
	start("monitor", mon.Run)
	start("brackets", mgr.Run)
	if be.stream != nil && len(cfg.Broker.Instruments) > 0 {
		start("stream", func(ctx context.Context) error { return be.stream.Run(ctx, cfg.Broker.Instruments) })
	}
	start("stats", func(ctx context.Context) error { return logStats(ctx, mgr, mon, log) })

	log.Info("engine running", "broker", cfg.Broker.Kind, "poll", cfg.Orders().PollInterval)
	<-ctx.Done()
	log.Info("shutting down")

	wg.Wait()
	mgr.Close()
	mon.Close()
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}
	if jr != nil {
		if err := jr.Close(); err != nil {
			return fmt.Errorf("close journal: %w", err)
		}
	}
	return nil
}

func logStats(ctx context.Context, mgr *bracket.Manager, mon *orders.Monitor, log *slog.Logger) error {
	every := runStatsInterval
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s := mgr.Stats()
			log.Info("engine stats", "brackets", s.Total, "active", s.Active,
				"pending_orders", mon.PendingCount(""), "by_status", s.ByStatus)
		}
	}
}
