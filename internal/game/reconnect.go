package game

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StartGracePeriod is the reconnection service entry point (C7, §4.6).
// It is spawned as an independent goroutine from the disconnect hook
// and must never be called while holding the room lock.
func (s *Services) StartGracePeriod(code, playerID string) {
	defer logUnexpectedTimerPanic(code)

	room, ok := s.Rooms.TryGetRoom(code)
	if !ok {
		return
	}

	room.Lock()
	player := room.playerByID(playerID)
	if player == nil || player.IsConnected() {
		room.Unlock()
		return
	}

	immediateForfeit := player.GraceUsed
	if !immediateForfeit {
		player.GraceUsed = true
		ctx, cancel := context.WithCancel(room.Context())
		handle := &TimerHandle{cancel: cancel}
		player.ReconnectionTimer = handle
		player.ReconnectionExpiresAt = time.Now().Add(s.Config.ReconnectionGracePeriod)
		room.Unlock()

		s.runGracePeriodCountdown(room, playerID, handle, ctx)
		return
	}
	room.Unlock()

	s.resolveForfeit(room, playerID, "grace period already consumed")
}

// runGracePeriodCountdown owns the countdown sleep loop and everything
// that follows (§4.6 steps 4-6). handle/ctx identify this specific
// timer's lifetime; a reconnect or replacement cancels ctx. There is no
// separate idle-based fallback forfeit: the only forfeit after the
// countdown is the one below, gated on handle identity, GraceUsed and
// the player still being disconnected.
func (s *Services) runGracePeriodCountdown(room *Room, playerID string, handle *TimerHandle, ctx context.Context) {
	s.Bus.SendToGroup(room.Code, "PlayerLeft", map[string]string{"playerId": playerID})

	total := int(roundUpSeconds(s.Config.ReconnectionGracePeriod))

	for remaining := total; remaining >= 0; remaining-- {
		s.Bus.SendToGroup(room.Code, "CountdownTick", map[string]interface{}{
			"playerId":         playerID,
			"remainingSeconds": remaining,
		})
		if remaining == 0 {
			break
		}
		select {
		case <-ctx.Done():
			s.classifyGraceCancellation(room, playerID, handle)
			return
		case <-time.After(time.Second):
		}
	}

	room.Lock()
	player := room.playerByID(playerID)
	stillCurrent := player != nil && !player.IsConnected() && player.GraceUsed && player.ReconnectionTimer == handle
	if stillCurrent {
		player.ReconnectionTimer = nil
		player.ReconnectionExpiresAt = time.Time{}
	}
	room.Unlock()

	if !stillCurrent {
		logrus.WithField("room", room.Code).Debug("grace countdown completed but timer no longer current, exiting quietly")
		return
	}
	s.resolveForfeit(room, playerID, "Opponent disconnected and failed to reconnect")
}

// classifyGraceCancellation runs when the countdown context is
// cancelled mid-sleep (§4.6 step 6): reconnect, replacement, room
// removal, or explicit reset.
func (s *Services) classifyGraceCancellation(room *Room, playerID string, handle *TimerHandle) {
	room.Lock()
	defer room.Unlock()

	player := room.playerByID(playerID)
	if player == nil {
		logrus.WithField("room", room.Code).Debug("grace timer cancelled: room reset before completion")
		return
	}
	switch {
	case player.IsConnected():
		logrus.WithFields(logrus.Fields{"room": room.Code, "player": playerID}).Debug("grace timer cancelled: player reconnected")
	case room.Context().Err() != nil:
		logrus.WithFields(logrus.Fields{"room": room.Code, "player": playerID}).Debug("grace timer cancelled: room removed")
	case player.ReconnectionTimer != handle:
		logrus.WithFields(logrus.Fields{"room": room.Code, "player": playerID}).Debug("grace timer cancelled: superseded by a newer timer")
	default:
		logrus.WithFields(logrus.Fields{"room": room.Code, "player": playerID}).Debug("grace timer cancelled: explicit reset")
		player.ReconnectionTimer = nil
		player.ReconnectionExpiresAt = time.Time{}
	}
}

// resolveForfeit runs the shared tail of the immediate-forfeit and
// grace-exhausted paths (§4.6 steps 3 and 5): re-verify under lock,
// forfeit, broadcast, remove the room.
func (s *Services) resolveForfeit(room *Room, playerID, message string) {
	room.Lock()
	player := room.playerByID(playerID)
	if player == nil || player.IsConnected() || !player.GraceUsed {
		room.Unlock()
		return
	}
	winner, ok := room.LockedForfeit(playerID)
	room.Unlock()
	if !ok {
		return
	}
	s.invalidateCache(room.Code)

	payload := map[string]interface{}{
		"roomCode":   room.Code,
		"result":     "Winner",
		"isGameOver": true,
		"message":    message,
	}
	if winner != nil {
		payload["winnerId"] = winner.PlayerID
		payload["winnerSymbol"] = symbolSnapshot(winner.Symbol)
	}
	s.Bus.SendToGroup(room.Code, "GameOver", payload)
	s.Remover.RemoveRoom(room.Code)
}

func roundUpSeconds(d time.Duration) int64 {
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int64(secs)
}
