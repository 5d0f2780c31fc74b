package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	AuthBaseURL    string
	AuthTimeout    time.Duration
	AllowedOrigins []string

	MessagesDir string

	// clock, in seconds
	MatchTotalSeconds int
	MatchStepSeconds  int
	MatchReadSeconds  int

	OfflineTimeout    time.Duration
	DisconnectTimeout time.Duration
	ProposalCooldown  time.Duration
	KickLimit         time.Duration

	MaxTakebacks            int
	PerpetualSingleLimit    int
	PerpetualAggregateLimit int
	MaxRooms                int

	LockLease time.Duration
	LockWait  time.Duration
}

func defaults() *AppConfig {
	return &AppConfig{
		ListenAddr:              ":8080",
		AuthTimeout:             5 * time.Second,
		MatchTotalSeconds:       1200,
		MatchStepSeconds:        120,
		MatchReadSeconds:        60,
		OfflineTimeout:          90 * time.Second,
		DisconnectTimeout:       900 * time.Second,
		ProposalCooldown:        60 * time.Second,
		KickLimit:               120 * time.Second,
		MaxTakebacks:            3,
		PerpetualSingleLimit:    6,
		PerpetualAggregateLimit: 10,
		MaxRooms:                20,
		LockLease:               5 * time.Second,
		LockWait:                3 * time.Second,
	}
}

// Load reads .env (if present) and then the process environment.
func Load() (*AppConfig, error) {
	if path := strings.TrimSpace(os.Getenv("ENV_FILE")); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, err
		}
	} else {
		_ = godotenv.Load()
	}
	return FromEnv()
}

func FromEnv() (*AppConfig, error) {
	cfg := defaults()

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.AuthBaseURL = strings.TrimSpace(os.Getenv("AUTH_BASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	intVar("MATCH_TOTAL_SECONDS", &cfg.MatchTotalSeconds)
	intVar("MATCH_STEP_SECONDS", &cfg.MatchStepSeconds)
	intVar("MATCH_READ_SECONDS", &cfg.MatchReadSeconds)
	intVar("MAX_TAKEBACKS", &cfg.MaxTakebacks)
	intVar("PERPETUAL_SINGLE_LIMIT", &cfg.PerpetualSingleLimit)
	intVar("PERPETUAL_AGGREGATE_LIMIT", &cfg.PerpetualAggregateLimit)
	intVar("MAX_ROOMS", &cfg.MaxRooms)

	secondsVar("OFFLINE_TIMEOUT_SECONDS", &cfg.OfflineTimeout)
	secondsVar("DISCONNECT_TIMEOUT_SECONDS", &cfg.DisconnectTimeout)
	secondsVar("PROPOSAL_COOLDOWN_SECONDS", &cfg.ProposalCooldown)
	secondsVar("KICK_LIMIT_SECONDS", &cfg.KickLimit)
	secondsVar("AUTH_TIMEOUT_SECONDS", &cfg.AuthTimeout)

	if v := strings.TrimSpace(os.Getenv("LOCK_LEASE_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LockLease = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOCK_WAIT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LockWait = time.Duration(n) * time.Millisecond
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.MatchStepSeconds <= 0 || cfg.MatchReadSeconds <= 0 {
		return nil, errors.New("MATCH_STEP_SECONDS and MATCH_READ_SECONDS must be positive")
	}
	return cfg, nil
}

func intVar(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func secondsVar(key string, dst *time.Duration) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}
