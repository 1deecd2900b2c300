package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neevan0842/chess-arena/internal/archive"
	"github.com/neevan0842/chess-arena/internal/broker"
	appcfg "github.com/neevan0842/chess-arena/internal/config"
	"github.com/neevan0842/chess-arena/internal/engine"
	"github.com/neevan0842/chess-arena/internal/game"
	"github.com/neevan0842/chess-arena/internal/identity"
	"github.com/neevan0842/chess-arena/internal/obslog"
	"github.com/neevan0842/chess-arena/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := game.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis connect failed", zap.Error(err))
	}
	defer rdb.Close()

	store := game.NewRedisStore(rdb, cfg.SessionTTL)
	br := broker.NewRedisBroker(rdb, logger)

	var opponent game.Opponent
	var eng *engine.Engine
	if cfg.StockfishPath != "" {
		eng, err = engine.New(engine.Config{
			BinaryPath: cfg.StockfishPath,
			TiersFile:  cfg.EngineTiersFile,
			MoveBudget: cfg.EngineMoveBudget,
		}, logger)
		if err != nil {
			logger.Fatal("engine init failed", zap.Error(err))
		}
		defer eng.Close()
		opponent = eng
	} else {
		logger.Warn("no stockfish binary configured, AI games disabled")
	}

	var archiver game.Archiver
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("archive init failed", zap.Error(err))
		}
		defer repo.Close()
		archiver = repo
	} else {
		logger.Warn("no database configured, finished games will not be archived")
	}

	var verifier identity.Verifier = identity.Static{}
	if cfg.AuthVerifyURL != "" {
		verifier = identity.NewClient(cfg.AuthVerifyURL)
	}

	manager, err := game.NewManager(store, br, opponent, archiver, game.Config{
		MoveBudget:        cfg.EngineMoveBudget,
		DefaultDifficulty: game.Difficulty(cfg.DefaultDifficulty),
	}, logger)
	if err != nil {
		logger.Fatal("manager init failed", zap.Error(err))
	}

	srv := server.New(cfg.ListenAddr, manager, br, verifier, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
