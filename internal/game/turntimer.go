package game

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StartTurnTimeout is the turn-timeout service entry point (C8, §4.7).
// Called by request handlers after every turn change (game start, move,
// reconnect-while-active). Cancels and replaces any existing turn
// timer on the room first.
func (s *Services) StartTurnTimeout(code string) {
	defer logUnexpectedTimerPanic(code)

	room, ok := s.Rooms.TryGetRoom(code)
	if !ok {
		return
	}

	room.Lock()
	for _, pid := range room.PlayerOrder {
		p := room.Players[pid]
		if p.TurnTimer != nil {
			p.TurnTimer.Cancel()
			p.TurnTimer = nil
		}
	}

	if room.IsGameOver || room.CurrentTurn == SymbolNone {
		room.Unlock()
		return
	}
	player := room.playerBySymbol(room.CurrentTurn)
	if player == nil {
		room.Unlock()
		return
	}

	var initial time.Duration
	if player.RemainingTurnSeconds != nil {
		initial = time.Duration(*player.RemainingTurnSeconds) * time.Second
		player.RemainingTurnSeconds = nil
	} else {
		initial = s.Config.TurnTimeout
	}

	ctx, cancel := context.WithCancel(room.Context())
	handle := &TimerHandle{cancel: cancel}
	player.TurnTimer = handle
	player.TurnExpiresAt = time.Now().Add(initial)
	version := room.TurnTimerVersion
	playerID := player.PlayerID
	room.Unlock()

	s.runTurnCountdown(room, playerID, handle, ctx, version, int(roundUpSeconds(initial)))
}

// runTurnCountdown owns the per-second broadcast loop and terminal
// handling (§4.7 steps 3-8).
func (s *Services) runTurnCountdown(room *Room, playerID string, handle *TimerHandle, ctx context.Context, version int64, total int) {
	if room.versionChanged(version) {
		return
	}

	expiresAt := time.Now().Add(time.Duration(total) * time.Second)
	s.Bus.SendToGroup(room.Code, "TurnCountdownResumed", map[string]interface{}{
		"playerId":     playerID,
		"totalSeconds": total,
		"expiresAtUtc": expiresAt.UTC().Format(time.RFC3339),
		"serverNow":    time.Now().UTC().Format(time.RFC3339),
	})
	s.Bus.SendToGroup(room.Code, "TurnCountdownTick", map[string]interface{}{
		"playerId":         playerID,
		"remainingSeconds": total,
		"expiresAtUtc":     expiresAt.UTC().Format(time.RFC3339),
		"serverNow":        time.Now().UTC().Format(time.RFC3339),
	})

	for elapsed := 1; elapsed <= total; elapsed++ {
		select {
		case <-ctx.Done():
			s.pauseTurnTimer(room, playerID)
			s.clearTurnHandle(room, playerID, handle)
			return
		case <-time.After(time.Second):
		}

		if room.versionChanged(version) {
			s.clearTurnHandle(room, playerID, handle)
			return
		}

		remaining := total - elapsed
		if remaining > 0 {
			s.Bus.SendToGroup(room.Code, "TurnCountdownTick", map[string]interface{}{
				"playerId":         playerID,
				"remainingSeconds": remaining,
				"expiresAtUtc":     expiresAt.UTC().Format(time.RFC3339),
				"serverNow":        time.Now().UTC().Format(time.RFC3339),
			})
		}
	}

	s.resolveTurnTimeout(room, playerID, handle, version)
	s.clearTurnHandle(room, playerID, handle)
}

// resolveTurnTimeout runs the uncancelled-zero path (§4.7 step 6).
func (s *Services) resolveTurnTimeout(room *Room, playerID string, handle *TimerHandle, version int64) {
	room.Lock()
	if room.IsGameOver || room.CurrentTurn == SymbolNone || room.TurnTimerVersion != version {
		room.Unlock()
		return
	}
	player := room.playerByID(playerID)
	if player == nil || player.TurnTimer != handle {
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
		"message":    "Player timed out on their turn",
	}
	if winner != nil {
		payload["winnerId"] = winner.PlayerID
		payload["winnerSymbol"] = symbolSnapshot(winner.Symbol)
	}
	s.Bus.SendToGroup(room.Code, "GameOver", payload)
	s.Remover.RemoveRoom(room.Code)
}

// pauseTurnTimer persists the remaining seconds and broadcasts
// TurnCountdownPaused (§4.7 step 7). Called when the countdown's
// context is cancelled, which happens on disconnect or explicit reset.
func (s *Services) pauseTurnTimer(room *Room, playerID string) {
	room.Lock()
	player := room.playerByID(playerID)
	if player == nil || player.TurnExpiresAt.IsZero() || player.TurnTimer == nil {
		room.Unlock()
		return
	}
	remaining := int(roundUpSeconds(time.Until(player.TurnExpiresAt)))
	if remaining < 0 {
		remaining = 0
	}
	player.RemainingTurnSeconds = &remaining
	player.TurnExpiresAt = time.Time{}
	room.Unlock()

	s.Bus.SendToGroup(room.Code, "TurnCountdownPaused", map[string]interface{}{
		"playerId":         playerID,
		"remainingSeconds": remaining,
		"serverNow":        time.Now().UTC().Format(time.RFC3339),
	})
}

// clearTurnHandle restores the "no dangling handle" invariant (§4.7
// step 8): only clears the field if it still points at this closure's
// own handle.
func (s *Services) clearTurnHandle(room *Room, playerID string, handle *TimerHandle) {
	room.Lock()
	defer room.Unlock()
	if player := room.playerByID(playerID); player != nil && player.TurnTimer == handle {
		player.TurnTimer = nil
	}
}

// versionChanged reports whether the room's turnTimerVersion has moved
// on from the version a timer goroutine captured at start (§4.7,
// "The turnTimerVersion check prevents a timer that woke during a
// rematch reset from acting on the new game").
func (r *Room) versionChanged(capturedVersion int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.TurnTimerVersion != capturedVersion
}

// logUnexpectedTimerPanic is the top-of-task recovery point required by
// §7 ("must be caught at the top of every asynchronous task"). Deferred
// by the public entry points that spawn a goroutine.
func logUnexpectedTimerPanic(code string) {
	if r := recover(); r != nil {
		logrus.WithFields(logrus.Fields{"room": code, "panic": r}).Error("timer task panicked, recovered")
	}
}
