package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neevan0842/chess-arena/internal/position"
)

// Publisher is the change-propagation collaborator. Publishing is
// best-effort: the mutation is already committed when Publish runs.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Opponent is the automated-opponent bridge. Reply proposes one UCI move
// for the given position within the caller's deadline; it applies no game
// rules itself.
type Opponent interface {
	Reply(ctx context.Context, fen string, movesUCI []string, tier string) (string, error)
}

// Archiver persists finished games durably. Failures are logged, never
// surfaced to the mover.
type Archiver interface {
	SaveResult(ctx context.Context, s *Session, method string) error
}

// errUnchanged aborts a store update without writing while still treating
// the call as successful (idempotent join).
var errUnchanged = errors.New("session unchanged")

type Config struct {
	// MoveBudget bounds one opponent-bridge call.
	MoveBudget time.Duration
	// DefaultDifficulty is used when an AI game is created without a tier.
	DefaultDifficulty Difficulty
}

// Manager is the session state machine. Every mutating operation runs as
// one guarded read-modify-write against the store, so at most one
// transition per session id commits for a given starting state.
type Manager struct {
	store    Store
	pub      Publisher
	opponent Opponent
	archive  Archiver
	cfg      Config
	logger   *zap.Logger
}

func NewManager(store Store, pub Publisher, opponent Opponent, archive Archiver, cfg Config, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.MoveBudget <= 0 {
		cfg.MoveBudget = 500 * time.Millisecond
	}
	if cfg.DefaultDifficulty == "" {
		cfg.DefaultDifficulty = DifficultyMedium
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		pub:      pub,
		opponent: opponent,
		archive:  archive,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Create starts a new session. Multiplayer games wait for a second
// player; AI games are ongoing immediately with the creator as white.
func (m *Manager) Create(ctx context.Context, actorID string, mode Mode, difficulty Difficulty) (*Session, error) {
	if actorID == "" {
		return nil, forbidden("", "actor identity required")
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		WhiteID:   actorID,
		Mode:      mode,
		FEN:       position.StartPos,
		MovesUCI:  []string{},
		MovesSAN:  []string{},
		Winner:    WinnerUndecided,
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch mode {
	case ModeMultiplayer:
		sess.Status = StatusWaiting
	case ModeAI:
		if m.opponent == nil {
			return nil, infrastructure("", "automated opponent not configured", nil)
		}
		if difficulty == "" {
			difficulty = m.cfg.DefaultDifficulty
		}
		switch difficulty {
		case DifficultyEasy, DifficultyMedium, DifficultyHard:
		default:
			return nil, conflict("", fmt.Sprintf("unknown difficulty %q", difficulty))
		}
		sess.Difficulty = difficulty
		sess.Status = StatusOngoing
	default:
		return nil, conflict("", fmt.Sprintf("unknown game mode %q", mode))
	}

	if err := m.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	m.logger.Info("game_create",
		zap.String("game_id", sess.ID),
		zap.String("mode", string(mode)),
		zap.String("difficulty", string(difficulty)),
		zap.String("white_id", actorID),
	)
	return sess, nil
}

// Get returns the session without mutating it.
func (m *Manager) Get(ctx context.Context, gameID string) (*Session, error) {
	return m.store.Load(ctx, gameID)
}

// Join seats the second player and starts the game. Joining a game the
// actor already plays in, once ongoing, is idempotent.
func (m *Manager) Join(ctx context.Context, gameID, actorID string) (*Session, error) {
	if actorID == "" {
		return nil, forbidden(gameID, "actor identity required")
	}

	var seated bool
	sess, err := m.store.Update(ctx, gameID, func(cur *Session) error {
		if cur.Mode != ModeMultiplayer {
			return conflict(gameID, "game does not accept a second player")
		}
		if cur.Status == StatusOngoing && cur.IsParticipant(actorID) {
			return errUnchanged
		}
		if actorID == cur.WhiteID {
			return conflict(gameID, "you are already in the game")
		}
		if cur.BlackID != "" {
			return conflict(gameID, "game is full")
		}
		if cur.Status != StatusWaiting {
			return conflict(gameID, "game is not joinable")
		}
		cur.BlackID = actorID
		cur.Status = StatusOngoing
		cur.UpdatedAt = time.Now().UTC()
		seated = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if seated {
		m.publish(ctx, Event{
			Type:     EventJoin,
			GameID:   sess.ID,
			FEN:      sess.FEN,
			Status:   sess.Status,
			Winner:   sess.Winner,
			NextTurn: string(position.White),
		})
	}
	m.logger.Info("game_join",
		zap.String("game_id", sess.ID),
		zap.String("black_id", actorID),
		zap.String("status", string(sess.Status)),
	)
	return sess, nil
}

// Move applies one ply for the acting participant. In AI mode a
// non-terminal human move triggers exactly one engine reply, validated
// the same way and committed in the same update; an engine failure
// aborts the whole transition with nothing persisted.
func (m *Manager) Move(ctx context.Context, gameID, actorID, notation string) (*Session, error) {
	if actorID == "" {
		return nil, forbidden(gameID, "actor identity required")
	}

	var (
		method   string
		nextTurn string
	)

	sess, err := m.store.Update(ctx, gameID, func(cur *Session) error {
		if cur.Status != StatusOngoing {
			return conflict(gameID, "game is not ongoing")
		}
		if !cur.IsParticipant(actorID) {
			return forbidden(gameID, "you are not in the game")
		}

		replay, err := position.Replay(cur.MovesUCI)
		if err != nil {
			return infrastructure(gameID, "corrupt move history", err)
		}
		if cur.ColorOf(actorID) != position.SideToMove(replay) {
			return conflict(gameID, "not your turn")
		}

		move, err := position.ParseMove(replay, notation)
		if err != nil {
			return err
		}
		san, uci, err := position.Apply(replay, move)
		if err != nil {
			return err
		}
		cur.MovesUCI = append(cur.MovesUCI, uci)
		cur.MovesSAN = append(cur.MovesSAN, san)
		cur.FEN = position.FEN(replay)

		term := position.Evaluate(replay)
		if term.Status == position.TerminalNone && cur.Mode == ModeAI {
			if err := m.applyOpponentReply(ctx, cur, replay); err != nil {
				return err
			}
			term = position.Evaluate(replay)
		}

		if term.Status != position.TerminalNone {
			m.finish(cur, term)
			method = string(term.Status)
		} else {
			nextTurn = string(position.SideToMove(replay))
		}
		cur.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, Event{
		Type:     EventMove,
		GameID:   sess.ID,
		FEN:      sess.FEN,
		Status:   sess.Status,
		Winner:   sess.Winner,
		NextTurn: nextTurn,
	})
	m.archiveIfFinished(ctx, sess, method)
	m.logger.Info("game_move",
		zap.String("game_id", sess.ID),
		zap.String("actor_id", actorID),
		zap.Int("ply", len(sess.MovesUCI)),
		zap.String("status", string(sess.Status)),
		zap.String("winner", string(sess.Winner)),
	)
	return sess, nil
}

// applyOpponentReply asks the bridge for one move and folds it into the
// in-flight update. The reply is re-validated exactly as a human move
// before it is accepted.
func (m *Manager) applyOpponentReply(ctx context.Context, cur *Session, replay *nchess.Game) error {
	if m.opponent == nil {
		return infrastructure(cur.ID, "automated opponent not configured", nil)
	}

	budget := m.cfg.MoveBudget + 250*time.Millisecond
	replyCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	replyUCI, err := m.opponent.Reply(replyCtx, position.StartPos, cur.MovesUCI, string(cur.Difficulty))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return infrastructure(cur.ID, "opponent reply timed out", err)
		}
		return infrastructure(cur.ID, "opponent reply failed", err)
	}

	move, err := position.ParseMove(replay, replyUCI)
	if err != nil {
		return infrastructure(cur.ID, fmt.Sprintf("opponent proposed unplayable move %q", replyUCI), err)
	}
	san, uci, err := position.Apply(replay, move)
	if err != nil {
		return infrastructure(cur.ID, "apply opponent move", err)
	}
	cur.MovesUCI = append(cur.MovesUCI, uci)
	cur.MovesSAN = append(cur.MovesSAN, san)
	cur.FEN = position.FEN(replay)
	return nil
}

// Resign ends the game in the opponent's favor without touching the
// position.
func (m *Manager) Resign(ctx context.Context, gameID, actorID string) (*Session, error) {
	if actorID == "" {
		return nil, forbidden(gameID, "actor identity required")
	}

	sess, err := m.store.Update(ctx, gameID, func(cur *Session) error {
		if cur.Status != StatusOngoing {
			return conflict(gameID, "game is not ongoing")
		}
		if !cur.IsParticipant(actorID) {
			return forbidden(gameID, "you are not in the game")
		}
		winner := cur.ColorOf(actorID).Opponent()
		cur.Winner = m.winnerFor(cur, winner)
		cur.Status = StatusFinished
		cur.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, Event{
		Type:   EventResign,
		GameID: sess.ID,
		FEN:    sess.FEN,
		Status: sess.Status,
		Winner: sess.Winner,
	})
	m.archiveIfFinished(ctx, sess, "resignation")
	m.logger.Info("game_resign",
		zap.String("game_id", sess.ID),
		zap.String("resigner", actorID),
		zap.String("winner", string(sess.Winner)),
	)
	return sess, nil
}

func (m *Manager) finish(cur *Session, term position.Terminal) {
	cur.Status = StatusFinished
	if term.Status == position.TerminalCheckmate {
		cur.Winner = m.winnerFor(cur, term.WonBy)
		return
	}
	cur.Winner = WinnerDraw
}

// winnerFor maps a winning color to the winner designation; in AI mode
// the engine owns the black side.
func (m *Manager) winnerFor(cur *Session, color position.Color) Winner {
	if cur.Mode == ModeAI && color == position.Black {
		return WinnerAI
	}
	if color == position.Black {
		return WinnerBlack
	}
	return WinnerWhite
}

func (m *Manager) publish(ctx context.Context, ev Event) {
	if m.pub == nil {
		return
	}
	if err := m.pub.Publish(ctx, ev); err != nil {
		m.logger.Warn("event_publish_failed",
			zap.String("game_id", ev.GameID),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}

func (m *Manager) archiveIfFinished(ctx context.Context, sess *Session, method string) {
	if m.archive == nil || sess.Status != StatusFinished {
		return
	}
	if err := m.archive.SaveResult(ctx, sess, method); err != nil {
		m.logger.Error("game_archive_failed",
			zap.String("game_id", sess.ID),
			zap.String("method", method),
			zap.Error(err),
		)
		return
	}
	m.logger.Info("game_archived",
		zap.String("game_id", sess.ID),
		zap.String("method", method),
		zap.String("winner", string(sess.Winner)),
	)
}
