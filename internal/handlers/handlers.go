// Package handlers is the request-handler layer (C11, §4.11): the glue
// from transport events to the registry/room/service operations.
package handlers

import (
	"context"
	"time"

	"tictactoe-room-server/internal/api"
	"tictactoe-room-server/internal/game"
	"tictactoe-room-server/internal/registry"
	"tictactoe-room-server/internal/ws"
)

// hubBroadcaster adapts *ws.Hub to game.Broadcaster: the interface in
// the game package takes a plain string message name so that package
// never has to import the transport package; this is the one place
// that bridges the two.
type hubBroadcaster struct {
	hub *ws.Hub
}

func (b hubBroadcaster) SendToConnection(connectionID string, msgType string, payload interface{}) {
	b.hub.SendToConnection(connectionID, ws.MessageType(msgType), payload)
}

func (b hubBroadcaster) SendToGroup(code string, msgType string, payload interface{}) {
	b.hub.SendToGroup(code, ws.MessageType(msgType), payload)
}

func (b hubBroadcaster) SendToGroupExcept(code, except string, msgType string, payload interface{}) {
	b.hub.SendToGroupExcept(code, except, ws.MessageType(msgType), payload)
}

// NewBroadcaster wraps hub for consumption by the game package's
// background services.
func NewBroadcaster(hub *ws.Hub) game.Broadcaster {
	return hubBroadcaster{hub: hub}
}

// Handlers bundles every RPC handler's collaborators (§4.11).
type Handlers struct {
	Registry     *registry.Registry
	Hub          *ws.Hub
	Services     *game.Services
	CodeGen      *game.CodeGenerator
	MaxPlayers   int
	RoomCacheTTL time.Duration
}

// New wires a Handlers from its collaborators.
func New(reg *registry.Registry, hub *ws.Hub, services *game.Services, codeGen *game.CodeGenerator, maxPlayers int, roomCacheTTL time.Duration) *Handlers {
	return &Handlers{Registry: reg, Hub: hub, Services: services, CodeGen: codeGen, MaxPlayers: maxPlayers, RoomCacheTTL: roomCacheTTL}
}

// CreateGame allocates a fresh room and seats the caller as its first
// player (§4.11).
func (h *Handlers) CreateGame(connectionID string) api.Envelope {
	var code string
	for i := 0; i < 100; i++ {
		candidate := h.CodeGen.Generate()
		if !h.Registry.Exists(candidate) {
			code = candidate
			break
		}
	}
	if code == "" {
		return api.Fail(api.ErrInvalid, "could not allocate a unique room code")
	}

	room := game.NewRoom(code, h.Registry.Context())
	if err := h.Registry.Create(room); err != nil {
		return api.Fail(api.ErrInvalid, err.Error())
	}

	playerID := api.NewPlayerID()
	player, _, ok := room.AddConnection(playerID, connectionID, h.MaxPlayers)
	if !ok {
		return api.Fail(api.ErrRoomFull, nil)
	}

	h.Hub.AddToGroup(connectionID, code)
	snap := room.Snapshot()
	return api.Ok(ws.GameCreatedPayload{
		Code:     code,
		Board:    boardToInts(snap.Board),
		PlayerID: player.PlayerID,
	})
}

// JoinGame seats a caller into an existing room, starting the game if
// this completes the roster (§4.11).
func (h *Handlers) JoinGame(connectionID, code, clientPlayerID string) api.Envelope {
	if !api.ValidRoomCode(code) {
		return api.Fail(api.ErrNotFound, nil)
	}
	room, ok := h.Registry.TryGetRoom(code)
	if !ok {
		return api.Fail(api.ErrNotFound, nil)
	}

	room.Lock()
	if clientPlayerID != "" {
		if existing := room.LockedPlayerByID(clientPlayerID); existing != nil {
			switch {
			case existing.ConnectionID == connectionID:
				room.Unlock()
				return api.Fail(api.ErrAlreadyInRoom, nil)
			case existing.ConnectionID == "":
				room.Unlock()
				return api.Fail(api.ErrReconnectRequired, nil)
			default:
				room.Unlock()
				return api.Fail(api.ErrPlayerIdInUse, nil)
			}
		}
	}
	if caller := room.LockedPlayerByConnection(connectionID); caller != nil && caller.Symbol != game.SymbolNone {
		snap := room.LockedSnapshot()
		room.Unlock()
		return api.Ok(ws.GameJoinedPayload{
			Code:        code,
			Board:       boardToInts(snap.Board),
			Symbol:      string(caller.Symbol),
			CurrentTurn: string(snap.CurrentTurn),
			PlayerID:    caller.PlayerID,
		})
	}
	hasDisconnectedSlot := room.LockedHasDisconnectedSlot()
	full := len(room.PlayerOrder) >= h.MaxPlayers
	room.Unlock()

	if hasDisconnectedSlot || full {
		h.Hub.SendToConnection(connectionID, ws.MsgGameFull, ws.GameFullPayload{Code: code})
		return api.Fail(api.ErrRoomFull, nil)
	}

	playerID := clientPlayerID
	if playerID == "" || !api.ValidPlayerID(playerID) {
		playerID = api.NewPlayerID()
	}
	player, _, ok := room.AddConnection(playerID, connectionID, h.MaxPlayers)
	if !ok {
		return api.Fail(api.ErrRoomFull, nil)
	}
	h.Hub.AddToGroup(connectionID, code)

	started := room.TryStartGame(game.NewGameRNG())
	h.Registry.Update(code)

	snap := room.Snapshot()
	h.Hub.SendToConnection(connectionID, ws.MsgGameJoined, ws.GameJoinedPayload{
		Code:        code,
		Board:       boardToInts(snap.Board),
		Symbol:      string(player.Symbol),
		CurrentTurn: string(snap.CurrentTurn),
		PlayerID:    player.PlayerID,
	})
	h.Hub.SendToGroupExcept(code, connectionID, ws.MsgPlayerJoined, struct{}{})

	if started {
		h.Hub.SendToGroup(code, ws.MsgGameStarted, ws.GameStartedPayload{
			Board:       boardToInts(snap.Board),
			CurrentTurn: string(snap.CurrentTurn),
		})
		go h.Services.StartTurnTimeout(code)
	}

	return api.Ok(nil)
}

// Reconnect resumes a disconnected player's slot (§4.11).
func (h *Handlers) Reconnect(connectionID, code, playerID string) api.Envelope {
	if !api.ValidRoomCode(code) || !api.ValidPlayerID(playerID) {
		return api.Fail(api.ErrInvalid, nil)
	}
	room, ok := h.Registry.TryGetRoom(code)
	if !ok {
		return api.Fail(api.ErrNotFound, nil)
	}

	room.Lock()
	player := room.LockedPlayerByID(playerID)
	if player == nil {
		room.Unlock()
		return api.Fail(api.ErrReconnectFailed, nil)
	}
	if player.IsConnected() && player.ConnectionID != connectionID {
		room.Unlock()
		return api.Fail(api.ErrReconnectFailed, nil)
	}
	player.ConnectionID = connectionID
	if player.ReconnectionTimer != nil {
		player.ReconnectionTimer.Cancel()
		player.ReconnectionTimer = nil
	}
	player.ReconnectionExpiresAt = time.Time{}
	room.LockedTouch()
	snap := room.LockedSnapshot()
	bothAssigned := room.LockedSymbolsAssigned()
	room.Unlock()
	h.Registry.Update(code)

	h.Hub.AddToGroup(connectionID, code)
	h.Hub.SendToConnection(connectionID, ws.MsgSyncedState, ws.SyncedStatePayload{
		Board:       boardToInts(snap.Board),
		Symbol:      string(player.Symbol),
		CurrentTurn: string(snap.CurrentTurn),
		IsGameOver:  snap.IsGameOver,
		Winner:      string(snap.Winner),
	})
	h.Hub.SendToGroupExcept(code, connectionID, ws.MsgPlayerReconnected, ws.PlayerReconnectedPayload{PlayerID: playerID})

	switch {
	case bothAssigned && !snap.IsGameOver:
		go h.Services.StartTurnTimeout(code)
	case !bothAssigned && len(room.PlayerOrder) == 2:
		if room.TryStartGame(game.NewGameRNG()) {
			snap2 := room.Snapshot()
			h.Hub.SendToGroup(code, ws.MsgGameStarted, ws.GameStartedPayload{
				Board:       boardToInts(snap2.Board),
				CurrentTurn: string(snap2.CurrentTurn),
			})
			go h.Services.StartTurnTimeout(code)
		}
	}
	return api.Ok(nil)
}

// GetGameState returns the caller's view of a room (§4.11). The board
// itself is served through the registry's read-through cache (§4.3),
// since a reconnecting client typically polls this far more often than
// the room actually changes.
func (h *Handlers) GetGameState(connectionID, code string) api.Envelope {
	room, ok := h.Registry.TryGetRoom(code)
	if !ok {
		return api.Fail(api.ErrNotFound, nil)
	}
	player := room.PlayerByConnection(connectionID)
	if player == nil {
		return api.Fail(api.ErrNotInGame, nil)
	}
	snap, ok := h.Registry.Snapshot(context.Background(), code, h.RoomCacheTTL)
	if !ok {
		return api.Fail(api.ErrNotFound, nil)
	}

	return api.Ok(ws.SyncedStatePayload{
		Board:       boardToInts(snap.Board),
		Symbol:      string(player.Symbol),
		CurrentTurn: string(snap.CurrentTurn),
		IsGameOver:  snap.IsGameOver,
		Winner:      string(snap.Winner),
	})
}

// MakeMove applies a move on behalf of the caller (§4.11).
func (h *Handlers) MakeMove(connectionID, code string, index int) api.Envelope {
	if !api.ValidMoveIndex(index) {
		return api.Fail(api.ErrInvalidIndex, nil)
	}
	room, ok := h.Registry.TryGetRoom(code)
	if !ok {
		return api.Fail(api.ErrNotFound, nil)
	}

	attempt := room.TryMakeMove(connectionID, index)
	if !attempt.OK {
		return api.Fail(attempt.ErrorCode, nil)
	}
	h.Registry.Update(code)

	snap := room.Snapshot()
	h.Hub.SendToGroup(code, ws.MsgBoardUpdated, ws.BoardUpdatedPayload{
		Board:       boardToInts(snap.Board),
		CurrentTurn: string(snap.CurrentTurn),
		IsGameOver:  snap.IsGameOver,
		Winner:      string(snap.Winner),
	})

	if snap.IsGameOver {
		result := ws.ResultDraw
		payload := ws.GameOverPayload{
			RoomCode:   code,
			Result:     result,
			IsGameOver: true,
		}
		if snap.Winner != game.SymbolNone {
			payload.Result = ws.ResultWinner
			payload.WinnerSymbol = string(snap.Winner)
			for _, p := range snap.Players {
				if p.Symbol == snap.Winner {
					payload.WinnerID = p.PlayerID
				}
			}
		}
		h.Hub.SendToGroup(code, ws.MsgGameOver, payload)

		if expiresAt, opened := room.OpenRematchWindow(h.Services.Config.RematchWindow); opened {
			h.Hub.SendToGroup(code, ws.MsgRematchWindowStarted, ws.RematchWindowStartedPayload{
				ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
			})
			go h.Services.StartRematchWindow(code, expiresAt)
		}
	} else {
		go h.Services.StartTurnTimeout(code)
	}

	return api.Ok(nil)
}

// OfferRematch delegates to the rematch controller (§4.11, §4.8).
func (h *Handlers) OfferRematch(connectionID, code string) api.Envelope {
	room, ok := h.Registry.TryGetRoom(code)
	if !ok {
		return api.Fail(api.ErrNotFound, nil)
	}
	player := room.PlayerByConnection(connectionID)
	if player == nil {
		return api.Fail(api.ErrNotInGame, nil)
	}
	if !h.Services.OfferRematch(code, player.PlayerID) {
		return api.Fail(api.ErrOfferFailed, nil)
	}
	return api.Ok(nil)
}

// AcceptRematch delegates to the rematch controller (§4.11, §4.8).
func (h *Handlers) AcceptRematch(connectionID, code string) api.Envelope {
	room, ok := h.Registry.TryGetRoom(code)
	if !ok {
		return api.Fail(api.ErrNotFound, nil)
	}
	player := room.PlayerByConnection(connectionID)
	if player == nil {
		return api.Fail(api.ErrNotInGame, nil)
	}
	if !h.Services.AcceptRematch(code, player.PlayerID) {
		return api.Fail(api.ErrAcceptFailed, nil)
	}
	return api.Ok(nil)
}

func boardToInts(board [game.BoardSize]byte) [game.BoardSize]int {
	var out [game.BoardSize]int
	for i, c := range board {
		out[i] = int(c)
	}
	return out
}
