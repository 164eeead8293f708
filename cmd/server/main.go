package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hkpo/mobilepost-directory/internal/config"
	"github.com/hkpo/mobilepost-directory/internal/database"
	"github.com/hkpo/mobilepost-directory/internal/handler"
	"github.com/hkpo/mobilepost-directory/internal/logger"
	"github.com/hkpo/mobilepost-directory/internal/queue"
	"github.com/hkpo/mobilepost-directory/internal/repository"
	"github.com/hkpo/mobilepost-directory/internal/router"
	"github.com/hkpo/mobilepost-directory/internal/service"
)

func main() {
	cfg, err := config.Load(os.Getenv("MOBILEPOST_CONFIG"))
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.DB.BootstrapSchema {
		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
	}

	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		// the cache and the limiter are optional; serve without them
		log.Warn("redis unavailable, cache and rate limit disabled", zap.Error(err))
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	var publisher handler.Publisher = service.NopPublisher{}
	if cfg.AMQP.Enabled {
		p := service.NewEventPublisher(cfg.AMQP, log)
		publisher = p
		g.Go(func() error { return p.Run(gctx) })
		if cfg.AMQP.ConsumeAudit {
			audit := queue.NewAuditConsumer(cfg.AMQP.URL, cfg.AMQP.Queue, log)
			g.Go(func() error {
				if err := audit.Run(gctx); !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}
	}

	e := router.New(router.Deps{
		Config:    cfg,
		Logger:    log,
		Store:     repository.NewMobilePostRepo(db),
		Publisher: publisher,
		Redis:     rdb,
	})

	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Server.Addr()), zap.String("env", cfg.Env))
		if err := e.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
