package game

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"tictactoe-room-server/internal/api"
)

func TestAddConnectionSeatsUpToMaxPlayers(t *testing.T) {
	room := NewRoom("ABCDEF", context.Background())

	if _, created, ok := room.AddConnection("p1", "c1", 2); !created || !ok {
		t.Fatalf("expected first seat to be created")
	}
	if _, created, ok := room.AddConnection("p2", "c2", 2); !created || !ok {
		t.Fatalf("expected second seat to be created")
	}
	if _, _, ok := room.AddConnection("p3", "c3", 2); ok {
		t.Fatalf("expected a third player to be rejected once the room is full")
	}
}

func TestAddConnectionIsIdempotentForSameConnection(t *testing.T) {
	room := NewRoom("ABCDEF", context.Background())
	room.AddConnection("p1", "c1", 2)
	player, created, ok := room.AddConnection("p1", "c1", 2)
	if !ok || created {
		t.Fatalf("expected the repeat call to find the existing seat, not create one")
	}
	if player.PlayerID != "p1" {
		t.Fatalf("expected the existing player to be returned")
	}
}

func TestTryStartGameAssignsSymbolsOnlyOnce(t *testing.T) {
	room := NewRoom("ABCDEF", context.Background())
	room.AddConnection("p1", "c1", 2)
	room.AddConnection("p2", "c2", 2)

	rng := rand.New(rand.NewSource(1))
	if !room.TryStartGame(rng) {
		t.Fatalf("expected TryStartGame to succeed with two seated players")
	}
	if room.TryStartGame(rng) {
		t.Fatalf("expected a second TryStartGame to be a no-op")
	}
	if room.CurrentTurn != SymbolX {
		t.Fatalf("expected X to move first, got %v", room.CurrentTurn)
	}
}

func TestTryMakeMoveRejectsOutOfTurnPlayer(t *testing.T) {
	room := NewRoom("ABCDEF", context.Background())
	room.AddConnection("p1", "c1", 2)
	room.AddConnection("p2", "c2", 2)
	room.TryStartGame(rand.New(rand.NewSource(1)))

	offTurnConn := "c1"
	if room.Players["p1"].Symbol == room.CurrentTurn {
		offTurnConn = "c2"
	}

	attempt := room.TryMakeMove(offTurnConn, 0)
	if attempt.OK || attempt.ErrorCode != api.ErrNotYourTurn {
		t.Fatalf("expected NotYourTurn, got ok=%v code=%v", attempt.OK, attempt.ErrorCode)
	}
}

func TestTryMakeMoveRejectsWhileOpponentDisconnected(t *testing.T) {
	room := NewRoom("ABCDEF", context.Background())
	room.AddConnection("p1", "c1", 2)
	room.AddConnection("p2", "c2", 2)
	room.TryStartGame(rand.New(rand.NewSource(1)))
	room.RemoveConnection("c2")

	onTurnConn := "c1"
	if room.Players["p1"].Symbol != room.CurrentTurn {
		onTurnConn = "c2"
	}

	attempt := room.TryMakeMove(onTurnConn, 0)
	if attempt.OK || attempt.ErrorCode != api.ErrOpponentDisconnect {
		t.Fatalf("expected OpponentDisconnected, got ok=%v code=%v", attempt.OK, attempt.ErrorCode)
	}
}

func TestTryMakeMoveEndsGameOnWin(t *testing.T) {
	room := NewRoom("ABCDEF", context.Background())
	room.AddConnection("p1", "c1", 2)
	room.AddConnection("p2", "c2", 2)
	room.Players["p1"].Symbol = SymbolX
	room.Players["p2"].Symbol = SymbolO
	room.CurrentTurn = SymbolX
	room.Board[0] = CellX
	room.Board[1] = CellX

	attempt := room.TryMakeMove("c1", 2)
	if !attempt.OK || attempt.Result.Outcome != OutcomeWin {
		t.Fatalf("expected a winning move, got %+v", attempt)
	}
	if !room.IsGameOver || room.Winner != SymbolX {
		t.Fatalf("expected room to record X as winner, got over=%v winner=%v", room.IsGameOver, room.Winner)
	}
}

func TestForfeitAwardsOpponentAndEndsGame(t *testing.T) {
	room := NewRoom("ABCDEF", context.Background())
	room.AddConnection("p1", "c1", 2)
	room.AddConnection("p2", "c2", 2)
	room.Players["p1"].Symbol = SymbolX
	room.Players["p2"].Symbol = SymbolO

	winner, ok := room.Forfeit("p1")
	if !ok || winner == nil || winner.PlayerID != "p2" {
		t.Fatalf("expected p2 to win by forfeit, got winner=%v ok=%v", winner, ok)
	}
	if !room.IsGameOver || room.Winner != SymbolO {
		t.Fatalf("expected game over with O winning, got over=%v winner=%v", room.IsGameOver, room.Winner)
	}
}

func TestIsIdleForCleanupTrueForAbandonedWaitingRoom(t *testing.T) {
	room := NewRoom("ABCDEF", context.Background())
	room.LastActivityAt = time.Now().Add(-time.Hour)

	if !room.IsIdleForCleanup(time.Minute) {
		t.Fatalf("expected a long-idle, never-started room to be swept")
	}
}

func TestIsIdleForCleanupTrueWhenBothPlayersDisconnected(t *testing.T) {
	room := NewRoom("ABCDEF", context.Background())
	room.AddConnection("p1", "c1", 2)
	room.AddConnection("p2", "c2", 2)
	room.RemoveConnection("c1")
	room.RemoveConnection("c2")

	if !room.IsIdleForCleanup(time.Hour) {
		t.Fatalf("expected a fully-disconnected room to be swept regardless of idleTimeout")
	}
}

func TestIsIdleForCleanupFalseWhileAnyoneIsConnected(t *testing.T) {
	room := NewRoom("ABCDEF", context.Background())
	room.AddConnection("p1", "c1", 2)
	room.AddConnection("p2", "c2", 2)
	room.RemoveConnection("c1")

	if room.IsIdleForCleanup(time.Nanosecond) {
		t.Fatalf("expected a room with a connected player not to be swept")
	}
}
