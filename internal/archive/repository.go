// Package archive writes finished games to Postgres. Redis holds only
// live sessions; this is where results outlive the TTL.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/neevan0842/chess-arena/internal/game"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts one finished game. Upsert keeps the write
// idempotent if the caller retries after a partial failure.
func (r *Repository) SaveResult(ctx context.Context, s *game.Session, method string) error {
	if r == nil || r.db == nil || s == nil {
		return nil
	}

	pgnResult := mapResultToPGN(s.Winner)
	pgn := buildPGN(s, pgnResult, method)

	movesUCIRaw, _ := json.Marshal(s.MovesUCI)
	movesSANRaw, _ := json.Marshal(s.MovesSAN)
	duration := s.UpdatedAt.Sub(s.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO games (
	    game_id, white_id, black_id, mode, difficulty,
	    winner, result_method, final_fen, moves_uci, moves_san, pgn,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    winner=EXCLUDED.winner,
	    result_method=EXCLUDED.result_method,
	    final_fen=EXCLUDED.final_fen,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    pgn=EXCLUDED.pgn,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.WhiteID, s.BlackID,
		string(s.Mode), string(s.Difficulty),
		string(s.Winner), strings.TrimSpace(method), s.FEN,
		string(movesUCIRaw), string(movesSANRaw), pgn,
		s.CreatedAt, s.UpdatedAt, duration,
	)
	return err
}

func mapResultToPGN(w game.Winner) string {
	switch w {
	case game.WinnerWhite:
		return "1-0"
	case game.WinnerBlack, game.WinnerAI:
		// The engine always holds the black seat.
		return "0-1"
	case game.WinnerDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(s *game.Session, pgnResult, method string) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	date := s.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}

	white := s.WhiteID
	black := s.BlackID
	if s.Mode == game.ModeAI {
		black = "engine-" + string(s.Difficulty)
	}

	b.WriteString("[Event \"Chess Arena\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(white)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(black)))
	if strings.TrimSpace(method) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(method))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(s.MovesSAN); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(s.MovesSAN[i])))
		if i+1 < len(s.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(s.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
