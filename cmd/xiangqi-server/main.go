package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-xiangqi/internal/authclient"
	"github.com/park285/cheese-xiangqi/internal/cache"
	"github.com/park285/cheese-xiangqi/internal/clock"
	appcfg "github.com/park285/cheese-xiangqi/internal/config"
	"github.com/park285/cheese-xiangqi/internal/lock"
	"github.com/park285/cheese-xiangqi/internal/match"
	"github.com/park285/cheese-xiangqi/internal/msgcat"
	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/internal/recovery"
	"github.com/park285/cheese-xiangqi/internal/room"
	"github.com/park285/cheese-xiangqi/internal/store"
	"github.com/park285/cheese-xiangqi/internal/store/memstore"
	"github.com/park285/cheese-xiangqi/internal/store/postgres"
	"github.com/park285/cheese-xiangqi/internal/sweeper"
	"github.com/park285/cheese-xiangqi/internal/transport"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis_connect_failed", zap.Error(err))
	}
	defer rdb.Close()
	kv := cache.New(rdb)

	st, closeStore := openStore(ctx, cfg.DatabaseURL)
	defer closeStore()

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_load_failed", zap.Error(err))
	}

	locks := lock.New(rdb, lock.WithLease(cfg.LockLease), lock.WithWait(cfg.LockWait))
	clocks := clock.NewRegistry(clock.Limits{Total: cfg.MatchTotalSeconds, Step: cfg.MatchStepSeconds, Read: cfg.MatchReadSeconds})
	matches := match.NewController(st, locks, clocks, kv, kv, msgs, match.Options{
		ProposalCooldown:   cfg.ProposalCooldown,
		MaxTakebacks:       cfg.MaxTakebacks,
		PerpetualSingle:    cfg.PerpetualSingleLimit,
		PerpetualAggregate: cfg.PerpetualAggregateLimit,
		BattleCounter:      cache.CounterBattles,
	})
	rooms := room.NewService(st, locks, matches, kv, kv, msgs, room.Options{
		MaxRooms:          cfg.MaxRooms,
		KickLimit:         cfg.KickLimit,
		DisconnectTimeout: cfg.DisconnectTimeout,
	})
	rec := recovery.NewController(st, locks, matches, rooms, kv, kv, recovery.Options{
		OfflineTimeout: cfg.OfflineTimeout,
		UserCounter:    cache.CounterUsers,
	})

	if n, err := matches.RecoverClocks(ctx); err != nil {
		logger.Fatal("clock_recovery_failed", zap.Error(err))
	} else {
		logger.Info("clocks_recovered", zap.Int("matches", n))
	}

	var verifier transport.Verifier = authclient.Passthrough{}
	if cfg.AuthBaseURL != "" {
		verifier = authclient.New(cfg.AuthBaseURL, authclient.WithTimeout(cfg.AuthTimeout))
	} else {
		logger.Warn("auth_passthrough", zap.String("reason", "AUTH_BASE_URL not set"))
	}

	router := transport.NewRouter(msgs)
	router.Use(transport.Recover(), transport.Logging(), transport.Timeout(cfg.LockWait+5*time.Second))
	transport.Register(router, transport.Services{Matches: matches, Rooms: rooms, Recovery: rec})
	hub := transport.NewHub(router, verifier, rec, st, transport.HubOptions{AllowedOrigins: cfg.AllowedOrigins})

	ready := make(chan struct{})
	go func() {
		if err := kv.Subscribe(ctx, ready, hub.Deliver); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event_subscription_ended", zap.Error(err))
			stop()
		}
	}()
	select {
	case <-ready:
	case <-ctx.Done():
		return
	}

	ticker := clock.NewTicker(clocks, matches.OnExpire)
	go ticker.Run(ctx)
	sw := sweeper.New(st, rooms, sweeper.Options{
		OfflineTimeout:    cfg.OfflineTimeout,
		DisconnectTimeout: cfg.DisconnectTimeout,
	})
	go sw.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           transport.Routes(hub, rooms, kv, cache.CounterUsers, cache.CounterBattles),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server_listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown_started")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	ticker.Wait()
}

// openStore uses Postgres when DATABASE_URL is set and the in-memory store otherwise.
func openStore(ctx context.Context, databaseURL string) (store.Store, func()) {
	if databaseURL == "" {
		obslog.L().Warn("store_in_memory", zap.String("reason", "DATABASE_URL not set"))
		return memstore.New(), func() {}
	}
	repo, err := postgres.NewRepository(databaseURL)
	if err != nil {
		obslog.L().Fatal("postgres_open_failed", zap.Error(err))
	}
	if err := repo.Migrate(ctx); err != nil {
		obslog.L().Fatal("postgres_migrate_failed", zap.Error(err))
	}
	return repo, func() { _ = repo.Close() }
}
