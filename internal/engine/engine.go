// Package engine bridges game sessions to a pooled stockfish fleet. It
// proposes moves only; legality is enforced by the caller against the
// real position.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/neevan0842/chess-arena/internal/engine/uci"
)

type Config struct {
	BinaryPath string
	// TiersFile optionally overrides the built-in strength presets.
	TiersFile string
	// MoveBudget caps search time regardless of what a tier asks for.
	MoveBudget time.Duration
	// PerTierCapacity caps engine processes per tier.
	PerTierCapacity int
}

type Engine struct {
	pool   *uci.Pool
	tiers  map[string]Tier
	budget time.Duration
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	tiers, err := loadTiers(cfg.TiersFile)
	if err != nil {
		return nil, err
	}
	pool, err := uci.NewPool(uci.PoolConfig{
		BinaryPath:      cfg.BinaryPath,
		PerTierCapacity: cfg.PerTierCapacity,
	})
	if err != nil {
		return nil, err
	}
	budget := cfg.MoveBudget
	if budget <= 0 {
		budget = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{pool: pool, tiers: tiers, budget: budget, logger: logger}, nil
}

// Reply proposes one move for the position reached by playing movesUCI
// from fen. The search never exceeds the configured move budget even
// when the tier asks for more.
func (e *Engine) Reply(ctx context.Context, fen string, movesUCI []string, tier string) (string, error) {
	t, ok := e.tiers[tier]
	if !ok {
		return "", fmt.Errorf("unknown strength tier %q", tier)
	}

	limits := uci.Limits{MoveTimeMillis: t.MoveTimeMillis, Depth: t.Depth}
	if budgetMS := int(e.budget / time.Millisecond); limits.MoveTimeMillis <= 0 || limits.MoveTimeMillis > budgetMS {
		limits.MoveTimeMillis = budgetMS
	}

	opt := uci.Options{
		Threads:    t.Threads,
		SkillLevel: t.SkillLevel,
		HashMB:     t.HashMB,
		Elo:        t.Elo,
	}
	if opt.HashMB <= 0 {
		opt.HashMB = 64
	}

	session, err := e.pool.Acquire(ctx, opt)
	if err != nil {
		return "", fmt.Errorf("acquire engine: %w", err)
	}

	start := time.Now()
	var move string
	err = session.NewGame(ctx)
	if err == nil {
		move, err = session.BestMove(ctx, fen, movesUCI, limits)
	}
	e.pool.Release(session, err)
	if err != nil {
		return "", err
	}

	e.logger.Debug("engine_reply",
		zap.String("tier", tier),
		zap.String("move", move),
		zap.Int("ply", len(movesUCI)+1),
		zap.Duration("took", time.Since(start)),
	)
	return move, nil
}

func (e *Engine) Close() error {
	return e.pool.Close()
}
