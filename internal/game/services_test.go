package game

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"
)

// fakeBus records every broadcast so tests can assert on message types
// without standing up a real transport.
type fakeBus struct {
	mu       sync.Mutex
	messages []string
}

func (b *fakeBus) SendToConnection(_ string, msgType string, _ interface{}) {
	b.record(msgType)
}

func (b *fakeBus) SendToGroup(_ string, msgType string, _ interface{}) {
	b.record(msgType)
}

func (b *fakeBus) SendToGroupExcept(_, _ string, msgType string, _ interface{}) {
	b.record(msgType)
}

func (b *fakeBus) record(msgType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msgType)
}

func (b *fakeBus) has(msgType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.messages {
		if m == msgType {
			return true
		}
	}
	return false
}

// fakeRegistry is the minimal RoomLookup/RoomRemover/CacheInvalidator
// double the timer services need.
type fakeRegistry struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	removed map[string]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{rooms: make(map[string]*Room), removed: make(map[string]bool)}
}

func (f *fakeRegistry) TryGetRoom(code string) (*Room, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[code]
	return r, ok
}

func (f *fakeRegistry) RemoveRoom(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[code] = true
}

func (f *fakeRegistry) InvalidateRoom(string) {}

func (f *fakeRegistry) wasRemoved(code string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed[code]
}

func newTestRoomWithTwoPlayers(t *testing.T, reg *fakeRegistry, code string) *Room {
	t.Helper()
	room := NewRoom(code, context.Background())
	room.AddConnection("p1", "c1", 2)
	room.AddConnection("p2", "c2", 2)
	room.TryStartGame(rand.New(rand.NewSource(1)))
	reg.rooms[code] = room
	return room
}

func TestStartGracePeriodForfeitsAfterTimeoutWithNoReconnect(t *testing.T) {
	reg := newFakeRegistry()
	bus := &fakeBus{}
	room := newTestRoomWithTwoPlayers(t, reg, "ABCDEF")
	room.RemoveConnection("c1")

	svc := NewServices(reg, reg, reg, bus, ServiceConfig{ReconnectionGracePeriod: 30 * time.Millisecond})
	svc.StartGracePeriod(room.Code, "p1")

	if !reg.wasRemoved(room.Code) {
		t.Fatalf("expected the room to be removed once the grace period exhausts")
	}
	if !bus.has("GameOver") {
		t.Fatalf("expected a GameOver broadcast after grace-period forfeit")
	}
	if !room.IsGameOver {
		t.Fatalf("expected the room to be marked game-over after forfeit")
	}
	if room.Winner != SymbolX {
		t.Fatalf("expected X (p2, seed 1 assigns p1=O/p2=X) to win by forfeit, got %v", room.Winner)
	}
}

func TestStartGracePeriodCancelsOnReconnect(t *testing.T) {
	reg := newFakeRegistry()
	bus := &fakeBus{}
	room := newTestRoomWithTwoPlayers(t, reg, "ABCDEF")
	room.RemoveConnection("c1")

	svc := NewServices(reg, reg, reg, bus, ServiceConfig{ReconnectionGracePeriod: time.Hour})
	done := make(chan struct{})
	go func() {
		svc.StartGracePeriod(room.Code, "p1")
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)

	room.Lock()
	player := room.playerByID("p1")
	player.ConnectionID = "c1-new"
	handle := player.ReconnectionTimer
	room.Unlock()
	handle.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected StartGracePeriod to return promptly after cancellation")
	}

	if room.IsGameOver {
		t.Fatalf("expected a reconnect to prevent forfeit")
	}
	if reg.wasRemoved(room.Code) {
		t.Fatalf("expected the room to survive a reconnect")
	}
}

func TestStartGracePeriodForfeitsImmediatelyOnSecondDisconnect(t *testing.T) {
	reg := newFakeRegistry()
	bus := &fakeBus{}
	room := newTestRoomWithTwoPlayers(t, reg, "ABCDEF")
	room.Lock()
	room.Players["p1"].GraceUsed = true
	room.Unlock()
	room.RemoveConnection("c1")

	svc := NewServices(reg, reg, reg, bus, ServiceConfig{ReconnectionGracePeriod: time.Hour})
	svc.StartGracePeriod(room.Code, "p1")

	if !reg.wasRemoved(room.Code) {
		t.Fatalf("expected an immediate forfeit once grace has already been used once")
	}
	if !room.IsGameOver {
		t.Fatalf("expected the room to be game-over")
	}
}

func TestStartTurnTimeoutForfeitsTheStalledPlayer(t *testing.T) {
	reg := newFakeRegistry()
	bus := &fakeBus{}
	room := newTestRoomWithTwoPlayers(t, reg, "ABCDEF")

	svc := NewServices(reg, reg, reg, bus, ServiceConfig{TurnTimeout: 20 * time.Millisecond})
	svc.StartTurnTimeout(room.Code)

	if !room.IsGameOver {
		t.Fatalf("expected the stalled player's turn to end the game by forfeit")
	}
	if !reg.wasRemoved(room.Code) {
		t.Fatalf("expected the room to be removed after a turn timeout")
	}
}

func TestStartTurnTimeoutIsCancelledByANewTimerVersion(t *testing.T) {
	reg := newFakeRegistry()
	bus := &fakeBus{}
	room := newTestRoomWithTwoPlayers(t, reg, "ABCDEF")

	svc := NewServices(reg, reg, reg, bus, ServiceConfig{TurnTimeout: time.Hour})
	done := make(chan struct{})
	go func() {
		svc.StartTurnTimeout(room.Code)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	room.Lock()
	room.TurnTimerVersion++
	var handle *TimerHandle
	for _, pid := range room.PlayerOrder {
		if room.Players[pid].TurnTimer != nil {
			handle = room.Players[pid].TurnTimer
		}
	}
	room.Unlock()
	handle.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected the stale timer goroutine to exit promptly")
	}
	if room.IsGameOver {
		t.Fatalf("expected the version bump to suppress forfeit")
	}
}

func TestOfferAndAcceptRematchResetsTheBoard(t *testing.T) {
	reg := newFakeRegistry()
	bus := &fakeBus{}
	room := newTestRoomWithTwoPlayers(t, reg, "ABCDEF")
	room.Lock()
	room.IsGameOver = true
	room.Winner = SymbolX
	room.Unlock()

	svc := NewServices(reg, reg, reg, bus, ServiceConfig{RematchWindow: time.Hour})
	if !svc.OfferRematch(room.Code, "p1") {
		t.Fatalf("expected the first offer to open the window")
	}
	if !svc.AcceptRematch(room.Code, "p1") {
		t.Fatalf("expected p1's acceptance to be recorded")
	}
	if !room.IsGameOver {
		t.Fatalf("game should still be over until both players have accepted")
	}
	if !svc.AcceptRematch(room.Code, "p2") {
		t.Fatalf("expected p2's acceptance to complete the rematch")
	}
	if room.IsGameOver {
		t.Fatalf("expected resetForRematch to clear IsGameOver")
	}
	for _, c := range room.Board {
		if c != CellEmpty {
			t.Fatalf("expected an empty board after rematch reset")
		}
	}
}

func TestAcceptRematchFailsWithNoLiveWindow(t *testing.T) {
	reg := newFakeRegistry()
	bus := &fakeBus{}
	room := newTestRoomWithTwoPlayers(t, reg, "ABCDEF")
	room.Lock()
	room.IsGameOver = true
	room.Unlock()

	svc := NewServices(reg, reg, reg, bus, ServiceConfig{RematchWindow: time.Hour})
	if svc.AcceptRematch(room.Code, "p1") {
		t.Fatalf("expected AcceptRematch to fail without a prior offer")
	}
}
