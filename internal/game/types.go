package game

import (
	"time"

	"github.com/neevan0842/chess-arena/internal/position"
)

// Mode selects the opponent kind, fixed at creation.
type Mode string

const (
	ModeMultiplayer Mode = "multiplayer"
	ModeAI          Mode = "ai"
)

// Status is the session lifecycle state. Transitions only ever run
// waiting -> ongoing -> finished.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusOngoing  Status = "ongoing"
	StatusFinished Status = "finished"
)

// Winner is undecided until the session is finished.
type Winner string

const (
	WinnerWhite     Winner = "white"
	WinnerBlack     Winner = "black"
	WinnerAI        Winner = "ai"
	WinnerDraw      Winner = "draw"
	WinnerUndecided Winner = "undecided"
)

// Difficulty is the automated-opponent strength tier.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Session is the persisted record of one game. It is stored as JSON in
// Redis under game:<id> and archived to Postgres once finished.
//
// MovesUCI is authoritative: replaying it from the starting position
// yields FEN, which is kept alongside for presentation and engine seeding.
type Session struct {
	ID         string     `json:"id"`
	WhiteID    string     `json:"white_id"`
	BlackID    string     `json:"black_id,omitempty"`
	Mode       Mode       `json:"mode"`
	Difficulty Difficulty `json:"difficulty,omitempty"`
	FEN        string     `json:"fen"`
	MovesUCI   []string   `json:"moves_uci"`
	MovesSAN   []string   `json:"moves_san"`
	Status     Status     `json:"status"`
	Winner     Winner     `json:"winner"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsParticipant reports whether the actor holds a seat in the session.
func (s *Session) IsParticipant(actorID string) bool {
	if actorID == "" {
		return false
	}
	return actorID == s.WhiteID || actorID == s.BlackID
}

// ColorOf returns the color the actor plays, or "" for non-participants.
// In AI mode the human always plays white.
func (s *Session) ColorOf(actorID string) position.Color {
	switch {
	case actorID != "" && actorID == s.WhiteID:
		return position.White
	case actorID != "" && actorID == s.BlackID:
		return position.Black
	default:
		return ""
	}
}

// Clone returns a deep copy so mutation attempts can be discarded on
// conflict without touching the loaded record.
func (s *Session) Clone() *Session {
	dup := *s
	dup.MovesUCI = append([]string(nil), s.MovesUCI...)
	dup.MovesSAN = append([]string(nil), s.MovesSAN...)
	return &dup
}

// EventType tags a propagated state change.
type EventType string

const (
	EventJoin   EventType = "join"
	EventMove   EventType = "move"
	EventResign EventType = "resign"
)

// Event is the payload published to a session's broadcast channel after
// every committed mutation and relayed verbatim to observers.
type Event struct {
	Type     EventType `json:"type"`
	GameID   string    `json:"game_id"`
	FEN      string    `json:"fen"`
	Status   Status    `json:"status"`
	Winner   Winner    `json:"winner"`
	NextTurn string    `json:"next_turn,omitempty"`
}
