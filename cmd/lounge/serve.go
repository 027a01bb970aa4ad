package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/broadcast"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/cache"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/lounge"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/modlog"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/opsauth"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/router"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/scheduler"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/setting"
	settingrepo "github.com/ovaphlow/pitchfork/service-lounge/internal/setting/repo"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/store/memstore"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user"
	"github.com/ovaphlow/pitchfork/service-lounge/pkg/database"
	"github.com/ovaphlow/pitchfork/service-lounge/pkg/utilities"
)

func runServe(cctx *cli.Context) error {
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	if cfg.SecretGenerated {
		sugar.Warn("no secret configured; obfuscated ids and tripcodes will change on restart")
	}

	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := lounge.Deps{Clock: clockwork.NewRealClock(), Logger: sugar.Named("lounge")}
	if cctx.Bool("memory") {
		st := memstore.New()
		deps.Users, deps.System = st, st
		sugar.Warn("running on the in-memory store; nothing survives a restart")
	} else {
		db, err := openDatabase(ctx, sugar, &deps)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	deps.Sender = broadcast.New(sugar.Named("broadcast"))
	deps.Sender.Register("log", broadcast.NewLogReceiver(sugar.Named("deliveries")))
	node := utilities.NewSnowflakeNode(utilities.SnowflakeNodeFromEnv())
	deps.Cache = cache.New(deps.Clock, node, cfg.CacheSize, cfg.CacheRetention())

	core, err := lounge.New(cfg.Lounge(), deps)
	if err != nil {
		return err
	}

	sched := scheduler.New(deps.Clock, sugar.Named("scheduler"))
	core.RegisterTasks(sched)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })

	if cfg.OpsAddr != "" && cfg.OpsTokenSecret != "" {
		issuer, err := opsauth.NewIssuer([]byte(cfg.OpsTokenSecret), deps.Clock)
		if err != nil {
			return err
		}
		// only the sql-backed log can be read back
		var history router.ModerationHistory
		if h, ok := deps.Audit.(router.ModerationHistory); ok {
			history = h
		}
		srv := &http.Server{
			Addr:              cfg.OpsAddr,
			Handler:           router.RegisterRoutes(sugar.Named("ops"), core, history, issuer),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			sugar.Infow("operator api listening", "addr", cfg.OpsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	} else {
		sugar.Info("operator api disabled; set ops_addr and ops_token_secret to enable it")
	}

	sugar.Infow("lounge is running", "tasks", sched.Len(), "receivers", deps.Sender.Len())
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	sugar.Info("goodbye")
	return nil
}

// openDatabase connects, creates the tables and fills in the stores on deps.
func openDatabase(ctx context.Context, logger *zap.SugaredLogger, deps *lounge.Deps) (*sqlx.DB, error) {
	dbCfg := database.ConfigFromEnv()
	db, err := database.ConnectX(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	users := user.NewService(db, nil)
	settings := setting.NewService(settingrepo.NewRepo(db))
	audit := modlog.NewService(db)
	for name, ensure := range map[string]func(context.Context) error{
		"users":          users.EnsureSchema,
		"settings":       settings.EnsureSchema,
		"moderation_log": audit.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure %s: %w", name, err)
		}
	}

	deps.Users, deps.System, deps.Audit = users, settings, audit
	logger.Infow("database ready", "driver", dbCfg.Driver)
	return db, nil
}
