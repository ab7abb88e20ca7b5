package handlers

import (
	"github.com/sirupsen/logrus"

	"tictactoe-room-server/internal/game"
	"tictactoe-room-server/internal/ws"
)

// OnDisconnect is the disconnect hook (§4.11). It is best-effort across
// rooms: one room's failure is logged and never aborts the rest (§7
// "best-effort: it logs and continues across rooms").
func (h *Handlers) OnDisconnect(connectionID string) {
	for _, room := range h.Registry.GetAll() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithFields(logrus.Fields{"room": room.Code, "panic": r}).Error("disconnect hook panicked, recovered")
				}
			}()
			h.handleDisconnectInRoom(room, connectionID)
		}()
	}
}

func (h *Handlers) handleDisconnectInRoom(room *game.Room, connectionID string) {
	room.Lock()
	player := room.LockedPlayerByConnection(connectionID)
	if player == nil {
		room.Unlock()
		return
	}

	closeImmediately := room.LockedRematchWindowLive()

	var pausedTimer *game.TimerHandle
	if !closeImmediately && !room.IsGameOver {
		if holder := room.LockedCurrentTurnHolder(); holder != nil {
			pausedTimer = holder.TurnTimer
		}
	}

	playerID := player.PlayerID
	room.LockedRemoveConnection(connectionID)
	allDisconnected := room.LockedAllDisconnected()
	code := room.Code
	room.Unlock()

	h.Hub.RemoveFromGroup(connectionID, code)

	if pausedTimer != nil {
		pausedTimer.Cancel()
	}

	if closeImmediately || allDisconnected {
		h.closeRoom(code)
		return
	}

	go h.Services.StartGracePeriod(code, playerID)
}

func (h *Handlers) closeRoom(code string) {
	h.Hub.SendToGroup(code, ws.MsgRoomClosed, ws.RoomClosedPayload{Code: code})
	h.Registry.RemoveRoom(code)
}
