package handlers

import (
	"context"
	"testing"
	"time"

	"tictactoe-room-server/internal/api"
	"tictactoe-room-server/internal/game"
	"tictactoe-room-server/internal/registry"
	"tictactoe-room-server/internal/ws"
)

// newTestHandlers wires real collaborators the way main.go does, minus
// any cache (nil is a supported registry configuration) and with a hub
// that has no registered clients — broadcasts to unknown connections
// are a documented no-op, so these tests only assert on returned
// envelopes and room state, not on delivered frames.
func newTestHandlers() *Handlers {
	reg := registry.New(context.Background(), nil)
	hub := ws.NewHub()
	go hub.Run()
	bus := NewBroadcaster(hub)
	services := game.NewServices(reg, reg, reg, bus, game.ServiceConfig{
		ReconnectionGracePeriod: time.Hour,
		TurnTimeout:             time.Hour,
		RematchWindow:           time.Hour,
	})
	codeGen := game.NewCodeGenerator(6, "", nil)
	return New(reg, hub, services, codeGen, 2, time.Hour)
}

func TestCreateGameSeatsTheCallerAndAllocatesACode(t *testing.T) {
	h := newTestHandlers()
	env := h.CreateGame("conn-1")
	if !env.Success {
		t.Fatalf("expected CreateGame to succeed, got %+v", env)
	}
	payload, ok := env.Payload.(ws.GameCreatedPayload)
	if !ok {
		t.Fatalf("expected a GameCreatedPayload, got %T", env.Payload)
	}
	if payload.Code == "" || payload.PlayerID == "" {
		t.Fatalf("expected a non-empty code and player id, got %+v", payload)
	}
	if !h.Registry.Exists(payload.Code) {
		t.Fatalf("expected the new room to be registered")
	}
}

func TestJoinGameStartsTheGameOnceBothSeatsAreFilled(t *testing.T) {
	h := newTestHandlers()
	created := h.CreateGame("conn-1").Payload.(ws.GameCreatedPayload)

	env := h.JoinGame("conn-2", created.Code, "")
	if !env.Success {
		t.Fatalf("expected JoinGame to succeed, got %+v", env)
	}

	room, _ := h.Registry.TryGetRoom(created.Code)
	snap := room.Snapshot()
	if !snap.IsGameOver && snap.CurrentTurn == game.SymbolNone {
		t.Fatalf("expected the game to have started once two players joined")
	}
	if len(snap.Players) != 2 {
		t.Fatalf("expected two seated players, got %d", len(snap.Players))
	}
}

func TestJoinGameRejectsASecondConnectionOnceFull(t *testing.T) {
	h := newTestHandlers()
	created := h.CreateGame("conn-1").Payload.(ws.GameCreatedPayload)
	h.JoinGame("conn-2", created.Code, "")

	env := h.JoinGame("conn-3", created.Code, "")
	if env.Success || env.ErrorCode != api.ErrRoomFull {
		t.Fatalf("expected RoomFull for a third connection, got %+v", env)
	}
}

func TestMakeMoveAppliesAValidMoveAndAdvancesTurn(t *testing.T) {
	h := newTestHandlers()
	created := h.CreateGame("conn-1").Payload.(ws.GameCreatedPayload)
	h.JoinGame("conn-2", created.Code, "")

	room, _ := h.Registry.TryGetRoom(created.Code)
	snap := room.Snapshot()
	onTurnConn := "conn-1"
	for _, p := range snap.Players {
		if p.Symbol == snap.CurrentTurn && p.PlayerID != created.PlayerID {
			onTurnConn = "conn-2"
		}
	}

	env := h.MakeMove(onTurnConn, created.Code, 0)
	if !env.Success {
		t.Fatalf("expected the on-turn player's move to succeed, got %+v", env)
	}

	after := room.Snapshot()
	if after.Board[0] == game.CellEmpty {
		t.Fatalf("expected cell 0 to be occupied after a successful move")
	}
	if after.CurrentTurn == snap.CurrentTurn {
		t.Fatalf("expected the turn to pass from %v after a move, still %v", snap.CurrentTurn, after.CurrentTurn)
	}
}

func TestMakeMoveRejectsAnInvalidIndex(t *testing.T) {
	h := newTestHandlers()
	created := h.CreateGame("conn-1").Payload.(ws.GameCreatedPayload)
	h.JoinGame("conn-2", created.Code, "")

	env := h.MakeMove("conn-1", created.Code, 99)
	if env.Success || env.ErrorCode != api.ErrInvalidIndex {
		t.Fatalf("expected InvalidIndex, got %+v", env)
	}
}

func TestGetGameStateReturnsNotInGameForAStranger(t *testing.T) {
	h := newTestHandlers()
	created := h.CreateGame("conn-1").Payload.(ws.GameCreatedPayload)

	env := h.GetGameState("some-other-conn", created.Code)
	if env.Success || env.ErrorCode != api.ErrNotInGame {
		t.Fatalf("expected NotInGame for an unseated connection, got %+v", env)
	}
}

func TestReconnectResumesADisconnectedSeat(t *testing.T) {
	h := newTestHandlers()
	created := h.CreateGame("conn-1").Payload.(ws.GameCreatedPayload)
	h.JoinGame("conn-2", created.Code, "")

	room, _ := h.Registry.TryGetRoom(created.Code)
	room.RemoveConnection("conn-1")

	env := h.Reconnect("conn-1-new", created.Code, created.PlayerID)
	if !env.Success {
		t.Fatalf("expected Reconnect to succeed, got %+v", env)
	}
	player := room.PlayerByConnection("conn-1-new")
	if player == nil || player.PlayerID != created.PlayerID {
		t.Fatalf("expected the reconnecting connection to resume the original seat")
	}
}
