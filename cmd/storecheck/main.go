package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/park285/cheese-xiangqi/internal/authclient"
	"github.com/park285/cheese-xiangqi/internal/cache"
	"github.com/park285/cheese-xiangqi/internal/lock"
	"github.com/park285/cheese-xiangqi/internal/store/postgres"
)

func main() {
	redisURL := os.Getenv("REDIS_URL")
	databaseURL := os.Getenv("DATABASE_URL")
	authURL := os.Getenv("AUTH_BASE_URL")
	token := os.Getenv("CHECK_TOKEN")

	if redisURL == "" {
		log.Fatal("REDIS_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rdb, err := cache.Connect(ctx, redisURL)
	if err != nil {
		log.Fatalf("redis error: %v", err)
	}
	defer rdb.Close()
	log.Printf("redis ok: %s", rdb.Options().Addr)

	locks := lock.New(rdb, lock.WithWait(2*time.Second))
	lease, err := locks.Acquire(ctx, "storecheck")
	if err != nil {
		log.Printf("lock error: %v", err)
	} else {
		log.Printf("lock ok: %v", lease.Keys())
		if err := lease.Release(ctx); err != nil {
			log.Printf("lock release error: %v", err)
		}
	}

	kv := cache.New(rdb)
	for _, name := range []string{cache.CounterUsers, cache.CounterBattles} {
		n, err := kv.Count(ctx, name)
		if err != nil {
			log.Printf("counter %s error: %v", name, err)
			continue
		}
		log.Printf("counter %s = %d", name, n)
	}
	if lobby, err := kv.Lobby(ctx); err == nil {
		log.Printf("lobby rooms: %v", lobby)
	}

	if databaseURL == "" {
		log.Println("DATABASE_URL not set; skipping postgres check")
	} else {
		repo, err := postgres.NewRepository(databaseURL)
		if err != nil {
			log.Fatalf("postgres open error: %v", err)
		}
		defer repo.Close()
		if err := repo.Ping(ctx); err != nil {
			log.Fatalf("postgres ping error: %v", err)
		}
		if err := repo.Migrate(ctx); err != nil {
			log.Fatalf("postgres migrate error: %v", err)
		}
		active, err := repo.ActiveMatches(ctx)
		if err != nil {
			log.Fatalf("postgres query error: %v", err)
		}
		log.Printf("postgres ok: %d active matches", len(active))
	}

	if authURL == "" || token == "" {
		log.Println("AUTH_BASE_URL or CHECK_TOKEN not set; skipping auth check")
		return
	}
	id, err := authclient.New(authURL, authclient.WithTimeout(5*time.Second)).Verify(ctx, token)
	if err != nil {
		log.Printf("auth error: %v", err)
		return
	}
	log.Printf("auth ok: player=%s", id)
}
