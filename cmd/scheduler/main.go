/*
Copyright 2026 The tac-webbuilder Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command scheduler is the process entrypoint: it loads configuration,
// opens the store, applies migrations, wires C1-C9 together, and serves
// the public and admin HTTP surfaces until told to stop (§6.6, §6.7).
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/admission"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/breaker"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/broadcaster"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/config"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/coordinator"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/httpapi"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/ingress"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/launcher"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/logging"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/metrics"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/resolver"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/store"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/store/migrations"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/ticket"
)

// Exit codes per §6.7.
const (
	exitOK               = 0
	exitConfigError      = 1
	exitStoreUnavailable = 2
	exitLostLeadership   = 3
)

// leaderLockKey is the deployment-wide Postgres advisory lock key every
// coordinator instance agrees on (§4.9).
const leaderLockKey int64 = 88250015

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the scheduler's YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: configuration error: %v\n", err)
		return exitConfigError
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: failed to build logger: %v\n", err)
		return exitConfigError
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.Store.PostgresDSN)
	if err != nil {
		log.Error("failed to open postgres connection", zap.Error(err))
		return exitStoreUnavailable
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("postgres unavailable at startup", zap.Error(err))
		return exitStoreUnavailable
	}

	if err := migrations.Up(db); err != nil {
		log.Error("failed to apply migrations", zap.Error(err))
		return exitStoreUnavailable
	}

	var rdb *redis.Client
	if cfg.Store.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable at startup; dedup falls back to postgres-only", zap.Error(err))
		}
		defer rdb.Close()
	}

	reg := metrics.New("phasesched", "scheduler")

	exitCode, serveErr := serve(ctx, cfg, log, db, sqlx.NewDb(db, "pgx"), rdb, reg)
	if serveErr != nil {
		if errors.Is(serveErr, errLostLeadership) {
			log.Warn("scheduler: lost leadership during shutdown grace")
			return exitLostLeadership
		}
		log.Error("scheduler exited with error", zap.Error(serveErr))
		return exitStoreUnavailable
	}
	return exitCode
}

var errLostLeadership = errors.New("lost leadership during shutdown grace")

// notifierHolder breaks the PhaseStore <-> Broadcaster construction
// ordering: PhaseStore.New needs a store.Notifier up front, but the real
// Broadcaster is only built once PhaseStore itself exists. holder starts
// pointed at nothing and is wired to the real Broadcaster once built.
type notifierHolder struct {
	target store.Notifier
}

func (h *notifierHolder) NotifyChange(n store.ChangeNotification) {
	if h.target != nil {
		h.target.NotifyChange(n)
	}
}

// serve wires C1-C9 and blocks until ctx is cancelled or a listener
// fails for a reason other than graceful shutdown.
func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, db *sql.DB, sqlxDB *sqlx.DB, rdb *redis.Client, reg *metrics.Metrics) (int, error) {
	notifier := &notifierHolder{}

	phases := store.New(db, log, notifier)
	features := store.NewFeatureStore(db, log)
	dedup := store.NewDedupStore(db, rdb, log)
	configs := store.NewConfigStore(sqlxDB, log)
	leaderLock := store.NewLeaderLock(db, leaderLockKey)
	featureTracker := store.NewFeatureTracker(phases, features, log)

	limits := &coordinator.RuntimeLimits{}
	poster := buildPoster(cfg, log)
	tb := breaker.New("ticket-service", breaker.Config{}, log)
	workerCmd := buildWorkerCmd(cfg)
	launcherCfg := launcher.Config{MaxLaunchAttempts: cfg.Ticket.MaxRetries, TicketTimeout: cfg.Ticket.Timeout}
	l := launcher.New(phases, poster, tb, workerCmd, launcherCfg, log)

	admissionCtrl := admission.New(phases, l, limits, log)
	admissionCtrl.SetMetrics(reg)
	resolv := resolver.New(phases, admissionCtrl, log)

	bc := broadcaster.New(resolv, admissionCtrl, 0, log)
	bc.SetFeatureTracker(featureTracker)
	notifier.target = bc

	ing := ingress.New(phases, dedup, []byte(cfg.WebhookSecret),
		time.Duration(cfg.Coordinator.DedupWindowSeconds)*time.Second, log)
	ing.SetMetrics(reg)

	coord := coordinator.New(leaderLock, phases, dedup, configs, admissionCtrl, l, bc, limits, coordinator.Config{
		OrphanTimeout:      time.Duration(cfg.Coordinator.OrphanTimeoutSeconds) * time.Second,
		DedupRetention:     7 * 24 * time.Hour,
		DedupSweepInterval: cfg.Coordinator.SweepInterval,
		MaxLaunchAttempts:  launcherCfg.MaxLaunchAttempts,
	}, logging.Logr(log))

	api := httpapi.New(httpapi.Deps{
		Features:    features,
		Phases:      phases,
		Admission:   admissionCtrl,
		Coordinator: coord,
		Limits:      limits,
		Broadcaster:   bc,
		Ingress:       ing,
		Metrics:       reg,
		TicketBreaker: tb,
		CORSOrigins:   cfg.Server.CORSOrigins,
		AdminToken:    cfg.AdminToken,
		Log:           log,
	})

	publicSrv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: api.Router()}
	adminSrv := &http.Server{Addr: cfg.Server.AdminAddr, Handler: api.AdminRouter()}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := coord.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("scheduler: public HTTP listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := publicSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("scheduler: admin HTTP listening", zap.String("addr", cfg.Server.AdminAddr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = publicSrv.Shutdown(shutdownCtx)
		_ = adminSrv.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return exitStoreUnavailable, err
	}
	if coord.ReleaseErr() != nil {
		return exitLostLeadership, errLostLeadership
	}
	return exitOK, nil
}

// buildPoster selects the Slack issue-poster when a channel and token
// are configured, falling back to NoopPoster otherwise (§9 Open
// Question, resolved in DESIGN.md: isolated per-phase tickets, no parent
// ticket).
func buildPoster(cfg *config.Config, log *zap.Logger) ticket.Poster {
	if cfg.Ticket.SlackChannel != "" && cfg.Ticket.ServiceToken != "" {
		return ticket.NewSlackPoster(cfg.Ticket.ServiceToken, cfg.Ticket.SlackChannel, log)
	}
	return ticket.NoopPoster{}
}

// buildWorkerCmd closes over the configured worker binary, appending the
// phase_id as its final argument (§4.6 step 4).
func buildWorkerCmd(cfg *config.Config) launcher.WorkerCmd {
	return func(phaseID string) *exec.Cmd {
		args := append(append([]string{}, cfg.Worker.Args...), phaseID)
		return exec.Command(cfg.Worker.Command, args...)
	}
}
