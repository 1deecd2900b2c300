package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePub struct {
	mu     sync.Mutex
	events []Event
}

func (p *fakePub) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePub) all() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

type fakeOpponent struct {
	reply func(movesUCI []string) (string, error)
}

func (o *fakeOpponent) Reply(_ context.Context, _ string, movesUCI []string, _ string) (string, error) {
	return o.reply(movesUCI)
}

type fakeArchive struct {
	mu      sync.Mutex
	methods []string
}

func (a *fakeArchive) SaveResult(_ context.Context, _ *Session, method string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.methods = append(a.methods, method)
	return nil
}

func newTestManager(t *testing.T, opp Opponent) (*Manager, *fakePub, *fakeArchive) {
	t.Helper()
	store, _ := newTestStore(t)
	pub := &fakePub{}
	arch := &fakeArchive{}
	m, err := NewManager(store, pub, opp, arch, Config{MoveBudget: 200 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, pub, arch
}

func TestCreateMultiplayerWaits(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	sess, err := m.Create(context.Background(), "alice", ModeMultiplayer, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Status != StatusWaiting || sess.WhiteID != "alice" || sess.Winner != WinnerUndecided {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.FEN != "startpos" || len(sess.MovesUCI) != 0 {
		t.Fatalf("position not at start: %+v", sess)
	}
}

func TestCreateAIWithoutEngine(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	_, err := m.Create(context.Background(), "alice", ModeAI, "")
	var e *Error
	if !errors.As(err, &e) || e.Code != CodeInfrastructure {
		t.Fatalf("Create err = %v, want infrastructure", err)
	}
}

func TestCreateAIDefaultsDifficulty(t *testing.T) {
	opp := &fakeOpponent{reply: func([]string) (string, error) { return "e7e5", nil }}
	m, _, _ := newTestManager(t, opp)
	sess, err := m.Create(context.Background(), "alice", ModeAI, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Difficulty != DifficultyMedium || sess.Status != StatusOngoing {
		t.Fatalf("unexpected AI session: %+v", sess)
	}
}

func TestCreateRejectsUnknownMode(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	if _, err := m.Create(context.Background(), "alice", Mode("blitz"), ""); !IsConflict(err) {
		t.Fatalf("Create err = %v, want conflict", err)
	}
}

func TestJoinAndFirstMove(t *testing.T) {
	m, pub, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Create(ctx, "alice", ModeMultiplayer, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	joined, err := m.Join(ctx, sess.ID, "bob")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if joined.Status != StatusOngoing || joined.BlackID != "bob" {
		t.Fatalf("unexpected join result: %+v", joined)
	}

	moved, err := m.Move(ctx, sess.ID, "alice", "e4")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if len(moved.MovesUCI) != 1 || moved.MovesUCI[0] != "e2e4" || moved.MovesSAN[0] != "e4" {
		t.Fatalf("unexpected move history: %+v", moved)
	}
	if moved.Status != StatusOngoing {
		t.Fatalf("status = %s, want ongoing", moved.Status)
	}

	events := pub.all()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != EventJoin || events[0].NextTurn != "white" {
		t.Fatalf("join event: %+v", events[0])
	}
	if events[1].Type != EventMove || events[1].NextTurn != "black" {
		t.Fatalf("move event: %+v", events[1])
	}
}

func TestJoinIdempotent(t *testing.T) {
	m, pub, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "alice", ModeMultiplayer, "")
	if _, err := m.Join(ctx, sess.ID, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	again, err := m.Join(ctx, sess.ID, "bob")
	if err != nil {
		t.Fatalf("repeat Join: %v", err)
	}
	if again.BlackID != "bob" || again.Status != StatusOngoing {
		t.Fatalf("repeat join changed session: %+v", again)
	}
	if got := len(pub.all()); got != 1 {
		t.Fatalf("events after repeat join = %d, want 1", got)
	}
}

func TestJoinRejections(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "alice", ModeMultiplayer, "")

	if _, err := m.Join(ctx, sess.ID, "alice"); !IsConflict(err) {
		t.Fatalf("self join err = %v, want conflict", err)
	}
	if _, err := m.Join(ctx, "missing", "bob"); !IsNotFound(err) {
		t.Fatalf("missing game err = %v, want not found", err)
	}

	if _, err := m.Join(ctx, sess.ID, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := m.Join(ctx, sess.ID, "carol"); !IsConflict(err) {
		t.Fatalf("full game err = %v, want conflict", err)
	}
}

func TestMoveGuards(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "alice", ModeMultiplayer, "")

	// Not ongoing yet.
	if _, err := m.Move(ctx, sess.ID, "alice", "e4"); !IsConflict(err) {
		t.Fatalf("move while waiting err = %v, want conflict", err)
	}

	if _, err := m.Join(ctx, sess.ID, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if _, err := m.Move(ctx, sess.ID, "mallory", "e4"); !IsForbidden(err) {
		t.Fatalf("outsider move err = %v, want forbidden", err)
	}
	if _, err := m.Move(ctx, sess.ID, "bob", "e5"); !IsConflict(err) {
		t.Fatalf("out-of-turn move err = %v, want conflict", err)
	}
}

func TestMoveBadNotationLeavesSessionUntouched(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "alice", ModeMultiplayer, "")
	if _, err := m.Join(ctx, sess.ID, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if _, err := m.Move(ctx, sess.ID, "alice", "banana"); !IsInvalidNotation(err) {
		t.Fatalf("gibberish err = %v, want invalid notation", err)
	}
	if _, err := m.Move(ctx, sess.ID, "alice", "e2e5"); !IsIllegalMove(err) {
		t.Fatalf("illegal err = %v, want illegal move", err)
	}

	reloaded, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(reloaded.MovesUCI) != 0 || reloaded.Status != StatusOngoing {
		t.Fatalf("rejected moves mutated session: %+v", reloaded)
	}
}

func TestCheckmateFinishesGame(t *testing.T) {
	m, pub, arch := newTestManager(t, nil)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "alice", ModeMultiplayer, "")
	if _, err := m.Join(ctx, sess.ID, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	// Fool's mate.
	plies := []struct{ actor, move string }{
		{"alice", "f3"}, {"bob", "e5"}, {"alice", "g4"}, {"bob", "Qh4#"},
	}
	var final *Session
	for _, p := range plies {
		var err error
		final, err = m.Move(ctx, sess.ID, p.actor, p.move)
		if err != nil {
			t.Fatalf("Move %s %s: %v", p.actor, p.move, err)
		}
	}

	if final.Status != StatusFinished || final.Winner != WinnerBlack {
		t.Fatalf("final session: status=%s winner=%s", final.Status, final.Winner)
	}

	events := pub.all()
	last := events[len(events)-1]
	if last.Status != StatusFinished || last.Winner != WinnerBlack || last.NextTurn != "" {
		t.Fatalf("final event: %+v", last)
	}
	if len(arch.methods) != 1 || arch.methods[0] != "checkmate" {
		t.Fatalf("archive methods = %v", arch.methods)
	}

	// No moves after the game is over.
	if _, err := m.Move(ctx, sess.ID, "alice", "d4"); !IsConflict(err) {
		t.Fatalf("post-game move err = %v, want conflict", err)
	}
}

func TestAIMoveCommitsBothPlies(t *testing.T) {
	opp := &fakeOpponent{reply: func(moves []string) (string, error) {
		if len(moves) != 1 || moves[0] != "e2e4" {
			return "", errors.New("unexpected history")
		}
		return "e7e5", nil
	}}
	m, pub, _ := newTestManager(t, opp)
	ctx := context.Background()

	sess, err := m.Create(ctx, "alice", ModeAI, DifficultyEasy)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	moved, err := m.Move(ctx, sess.ID, "alice", "e4")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if len(moved.MovesUCI) != 2 || moved.MovesUCI[1] != "e7e5" {
		t.Fatalf("history = %v, want human and engine plies", moved.MovesUCI)
	}
	if moved.Status != StatusOngoing {
		t.Fatalf("status = %s, want ongoing", moved.Status)
	}

	events := pub.all()
	if len(events) != 1 || events[0].NextTurn != "white" {
		t.Fatalf("events = %+v, want single move event back to white", events)
	}
}

func TestAIFailureAbortsWholeMove(t *testing.T) {
	opp := &fakeOpponent{reply: func([]string) (string, error) {
		return "", errors.New("engine crashed")
	}}
	m, pub, _ := newTestManager(t, opp)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "alice", ModeAI, DifficultyEasy)

	_, err := m.Move(ctx, sess.ID, "alice", "e4")
	var e *Error
	if !errors.As(err, &e) || e.Code != CodeInfrastructure {
		t.Fatalf("Move err = %v, want infrastructure", err)
	}

	reloaded, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(reloaded.MovesUCI) != 0 {
		t.Fatalf("aborted move persisted: %v", reloaded.MovesUCI)
	}
	if len(pub.all()) != 0 {
		t.Fatalf("aborted move published events")
	}
}

func TestAIIllegalReplyAborts(t *testing.T) {
	opp := &fakeOpponent{reply: func([]string) (string, error) {
		return "e2e4", nil // white's pawn is gone from e2 by now
	}}
	m, _, _ := newTestManager(t, opp)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "alice", ModeAI, DifficultyEasy)
	_, err := m.Move(ctx, sess.ID, "alice", "e4")
	var e *Error
	if !errors.As(err, &e) || e.Code != CodeInfrastructure {
		t.Fatalf("Move err = %v, want infrastructure", err)
	}
}

func TestResignMultiplayer(t *testing.T) {
	m, pub, arch := newTestManager(t, nil)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "alice", ModeMultiplayer, "")
	if _, err := m.Join(ctx, sess.ID, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	res, err := m.Resign(ctx, sess.ID, "bob")
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if res.Status != StatusFinished || res.Winner != WinnerWhite {
		t.Fatalf("resign result: %+v", res)
	}
	if len(res.MovesUCI) != 0 {
		t.Fatalf("resign touched the position: %v", res.MovesUCI)
	}

	events := pub.all()
	if events[len(events)-1].Type != EventResign {
		t.Fatalf("last event: %+v", events[len(events)-1])
	}
	if len(arch.methods) != 1 || arch.methods[0] != "resignation" {
		t.Fatalf("archive methods = %v", arch.methods)
	}

	if _, err := m.Resign(ctx, sess.ID, "alice"); !IsConflict(err) {
		t.Fatalf("double resign err = %v, want conflict", err)
	}
}

func TestResignAgainstEngine(t *testing.T) {
	opp := &fakeOpponent{reply: func([]string) (string, error) { return "e7e5", nil }}
	m, _, _ := newTestManager(t, opp)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "alice", ModeAI, DifficultyHard)
	res, err := m.Resign(ctx, sess.ID, "alice")
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if res.Winner != WinnerAI {
		t.Fatalf("winner = %s, want ai", res.Winner)
	}
}

func TestResignGuards(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, _ := m.Create(ctx, "alice", ModeMultiplayer, "")
	if _, err := m.Resign(ctx, sess.ID, "alice"); !IsConflict(err) {
		t.Fatalf("resign while waiting err = %v, want conflict", err)
	}
	if _, err := m.Join(ctx, sess.ID, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := m.Resign(ctx, sess.ID, "mallory"); !IsForbidden(err) {
		t.Fatalf("outsider resign err = %v, want forbidden", err)
	}
}
