// Package position is the pure move-legality and terminal-condition engine.
// A position is materialized by replaying the recorded UCI moves from the
// starting position; the FEN string carried on a session is presentation
// state derived from the same replay.
package position

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartPos is the reserved literal for the canonical starting position.
const StartPos = "startpos"

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// TerminalStatus classifies how a position ends a game, if at all.
type TerminalStatus string

const (
	TerminalNone                 TerminalStatus = ""
	TerminalCheckmate            TerminalStatus = "checkmate"
	TerminalStalemate            TerminalStatus = "stalemate"
	TerminalInsufficientMaterial TerminalStatus = "insufficient_material"
	TerminalFiftyMoveRule        TerminalStatus = "fifty_move_rule"
	TerminalRepetition           TerminalStatus = "repetition"
)

// Terminal is the outcome of evaluating a position after a move.
// WonBy is set only for checkmate.
type Terminal struct {
	Status TerminalStatus
	WonBy  Color
}

func (t Terminal) IsDraw() bool {
	switch t.Status {
	case TerminalStalemate, TerminalInsufficientMaterial, TerminalFiftyMoveRule, TerminalRepetition:
		return true
	}
	return false
}

// NotationError reports input that does not even scan as SAN or UCI.
type NotationError struct {
	Notation string
}

func (e *NotationError) Error() string {
	return fmt.Sprintf("invalid move notation %q", e.Notation)
}

// IllegalMoveError reports well-formed notation that matches no legal move
// in the position, or a move of a piece the side to move does not own.
type IllegalMoveError struct {
	Notation string
	Reason   string
}

func (e *IllegalMoveError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("illegal move %q", e.Notation)
	}
	return fmt.Sprintf("illegal move %q: %s", e.Notation, e.Reason)
}

var (
	sanPattern = regexp.MustCompile(`^(O-O(-O)?|0-0(-0)?|[KQRBN]?[a-h]?[1-8]?x?[a-h][1-8](=[QRBN])?)[+#]?$`)
	uciPattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbnQRBN]?$`)
)

// Replay rebuilds a game from the starting position by applying UCI moves
// in order. It fails only on corrupt history, never on empty history.
func Replay(movesUCI []string) (*nchess.Game, error) {
	game := nchess.NewGame()
	for _, mv := range movesUCI {
		if err := game.PushNotationMove(strings.ToLower(strings.TrimSpace(mv)), nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %s: %w", mv, err)
		}
	}
	return game, nil
}

// FEN serializes the current position of a replayed game.
func FEN(game *nchess.Game) string {
	return game.FEN()
}

// SideToMove maps the position's turn to a player color.
func SideToMove(game *nchess.Game) Color {
	if game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

// ParseMove resolves SAN-style notation (with a UCI fallback) against the
// current position. Beyond decode success it enforces that a piece exists
// at the origin square and that it belongs to the side to move; any
// violation is reported, never corrected.
func ParseMove(game *nchess.Game, notation string) (*nchess.Move, error) {
	text := strings.TrimSpace(notation)
	if text == "" {
		return nil, &NotationError{Notation: notation}
	}

	pos := game.Position()
	move, err := nchess.AlgebraicNotation{}.Decode(pos, text)
	if err != nil {
		move, err = nchess.UCINotation{}.Decode(pos, strings.ToLower(text))
	}
	if err != nil {
		if !sanPattern.MatchString(text) && !uciPattern.MatchString(text) {
			return nil, &NotationError{Notation: text}
		}
		return nil, &IllegalMoveError{Notation: text}
	}

	piece := pos.Board().Piece(move.S1())
	if piece == nchess.NoPiece {
		return nil, &IllegalMoveError{Notation: text, Reason: "no piece at origin square"}
	}
	mover := pos.Turn()
	if piece.Color() != mover {
		return nil, &IllegalMoveError{Notation: text, Reason: "piece does not belong to the side to move"}
	}
	return move, nil
}

// Apply pushes a parsed move onto the game and returns its SAN and UCI
// encodings against the pre-move position. UCI decoding is purely
// syntactic, so the push itself is the legality check.
func Apply(game *nchess.Game, move *nchess.Move) (san string, uci string, err error) {
	pos := game.Position()
	san = nchess.AlgebraicNotation{}.Encode(pos, move)
	uci = strings.ToLower(nchess.UCINotation{}.Encode(pos, move))
	if err := game.Move(move, nil); err != nil {
		return "", "", &IllegalMoveError{Notation: uci, Reason: "not legal in this position"}
	}
	return san, uci, nil
}

// Evaluate inspects the position for a terminal condition. The fifty-move
// rule fires on the claimable condition (halfmove clock >= 100), treated
// as an automatic draw.
func Evaluate(game *nchess.Game) Terminal {
	switch game.Outcome() {
	case nchess.WhiteWon:
		return Terminal{Status: TerminalCheckmate, WonBy: White}
	case nchess.BlackWon:
		return Terminal{Status: TerminalCheckmate, WonBy: Black}
	case nchess.Draw:
		switch game.Method() {
		case nchess.Stalemate:
			return Terminal{Status: TerminalStalemate}
		case nchess.InsufficientMaterial:
			return Terminal{Status: TerminalInsufficientMaterial}
		default:
			// The library declares repetition draws on its own; without
			// this a finished game would look ongoing.
			return Terminal{Status: TerminalRepetition}
		}
	}
	if halfMoveClock(game.FEN()) >= 100 {
		return Terminal{Status: TerminalFiftyMoveRule}
	}
	return Terminal{Status: TerminalNone}
}

func halfMoveClock(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 5 {
		return 0
	}
	n, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0
	}
	return n
}
