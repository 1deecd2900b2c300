package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	AuthVerifyURL string

	SessionTTL time.Duration

	StockfishPath     string
	EngineMoveBudget  time.Duration
	EngineTiersFile   string
	DefaultDifficulty string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:        ":8000",
		SessionTTL:        24 * time.Hour,
		EngineMoveBudget:  500 * time.Millisecond,
		DefaultDifficulty: "medium",
	}

	if v := strings.TrimSpace(os.Getenv("ADDR")); v != "" {
		cfg.ListenAddr = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.AuthVerifyURL = strings.TrimSpace(os.Getenv("AUTH_VERIFY_URL"))

	if v := strings.TrimSpace(os.Getenv("SESSION_TTL")); v != "" { // seconds
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SessionTTL = time.Duration(n) * time.Second
		}
	}

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if v := strings.TrimSpace(os.Getenv("ENGINE_MOVE_BUDGET_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineMoveBudget = time.Duration(n) * time.Millisecond
		}
	}
	cfg.EngineTiersFile = strings.TrimSpace(os.Getenv("ENGINE_TIERS_FILE"))
	if v := strings.TrimSpace(os.Getenv("ENGINE_DEFAULT_DIFFICULTY")); v != "" {
		cfg.DefaultDifficulty = strings.ToLower(v)
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
