package game

import (
	"context"
	"math/rand"
	"time"
)

// OfferRematch records playerID's offer and opens a new window if none
// is live (§4.8). Returns false if the room isn't in GameOver.
func (s *Services) OfferRematch(code, playerID string) bool {
	room, ok := s.Rooms.TryGetRoom(code)
	if !ok {
		return false
	}

	room.Lock()
	if !room.IsGameOver {
		room.Unlock()
		return false
	}

	windowLive := !room.RematchExpiresAt.IsZero() && time.Now().Before(room.RematchExpiresAt)
	if !windowLive {
		room.RematchExpiresAt = time.Now().Add(s.Config.RematchWindow)
		room.RematchOffers = map[string]bool{}
	}
	room.RematchOffers[playerID] = true
	expiresAt := room.RematchExpiresAt
	room.Machine.Fire(EventRematchOffered)
	room.touchLocked()
	room.Unlock()
	s.invalidateCache(code)

	s.Bus.SendToGroup(code, "RematchOffered", map[string]interface{}{
		"playerId":  playerID,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
	if !windowLive {
		s.Bus.SendToGroup(code, "RematchWindowStarted", map[string]interface{}{
			"expiresAt": expiresAt.UTC().Format(time.RFC3339),
		})
		go s.StartRematchWindow(code, expiresAt)
	}
	return true
}

// AcceptRematch records playerID's acceptance and, once both players
// have offered/accepted, resets the room and starts a fresh game
// (§4.8). Returns false if there's no live window.
func (s *Services) AcceptRematch(code, playerID string) bool {
	room, ok := s.Rooms.TryGetRoom(code)
	if !ok {
		return false
	}

	room.Lock()
	windowLive := !room.RematchExpiresAt.IsZero() && time.Now().Before(room.RematchExpiresAt)
	if !windowLive {
		room.Unlock()
		return false
	}
	room.RematchOffers[playerID] = true
	ready := len(room.RematchOffers) >= len(room.PlayerOrder) && len(room.PlayerOrder) == 2
	room.Unlock()

	if !ready {
		return true
	}

	room.resetForRematch(NewGameRNG())
	s.invalidateCache(code)
	s.Bus.SendToGroup(code, "RematchStarted", map[string]string{"code": code})
	snap := room.Snapshot()
	s.Bus.SendToGroup(code, "GameStarted", map[string]interface{}{
		"board":       boardToInts(snap.Board),
		"currentTurn": string(snap.CurrentTurn),
	})
	go s.StartTurnTimeout(code)
	return true
}

// resetForRematch implements §4.8's resetForRematch: zero the board,
// clear symbols/turn/result, cancel every player timer, clear offers,
// bump turnTimerVersion, then assign new symbols and start at X.
func (r *Room) resetForRematch(rng *rand.Rand) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Board = createBoard()
	r.CurrentTurn = SymbolNone
	r.IsGameOver = false
	r.Winner = SymbolNone
	r.RematchOffers = map[string]bool{}
	r.RematchExpiresAt = time.Time{}
	r.TurnTimerVersion++

	for _, pid := range r.PlayerOrder {
		p := r.Players[pid]
		p.Symbol = SymbolNone
		p.GraceUsed = false
		if p.ReconnectionTimer != nil {
			p.ReconnectionTimer.Cancel()
			p.ReconnectionTimer = nil
		}
		p.ReconnectionExpiresAt = time.Time{}
		if p.TurnTimer != nil {
			p.TurnTimer.Cancel()
			p.TurnTimer = nil
		}
		p.TurnExpiresAt = time.Time{}
		p.RemainingTurnSeconds = nil
	}

	if len(r.PlayerOrder) == 2 {
		symFirst, symSecond := assignSymbols(rng)
		r.Players[r.PlayerOrder[0]].Symbol = symFirst
		r.Players[r.PlayerOrder[1]].Symbol = symSecond
		r.CurrentTurn = SymbolX
	}
	r.Machine.Fire(EventRematchAccepted)
	r.Machine.Fire(EventFirstMoveMade)
	r.touchLocked()
}

// OpenRematchWindow starts the post-game rematch window for a natural
// game end (win/draw via MakeMove, §4.11 "On game over ... start the
// rematch window"). No-op if a window is already live.
func (r *Room) OpenRematchWindow(window time.Duration) (expiresAt time.Time, opened bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.IsGameOver {
		return time.Time{}, false
	}
	if !r.RematchExpiresAt.IsZero() && time.Now().Before(r.RematchExpiresAt) {
		return r.RematchExpiresAt, false
	}
	r.RematchExpiresAt = time.Now().Add(window)
	r.RematchOffers = map[string]bool{}
	return r.RematchExpiresAt, true
}

// StartRematchWindow spawns the window-expiry watchdog (§4.8). If the
// window is neither accepted-through (cleared) nor extended by a
// re-offer by the time it sleeps out, it broadcasts
// RematchWindowExpired and removes the room.
func (s *Services) StartRematchWindow(code string, expiresAt time.Time) {
	defer logUnexpectedTimerPanic(code)

	room, ok := s.Rooms.TryGetRoom(code)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(room.Context(), time.Until(expiresAt))
	defer cancel()
	<-ctx.Done()

	room.Lock()
	stillExpired := !room.RematchExpiresAt.IsZero() && !room.RematchExpiresAt.After(expiresAt) && room.IsGameOver
	if stillExpired {
		room.Machine.Fire(EventRematchExpired)
	}
	room.Unlock()
	if !stillExpired {
		return
	}
	s.invalidateCache(code)

	s.Bus.SendToGroup(code, "RematchWindowExpired", map[string]string{"code": code})
	s.Remover.RemoveRoom(code)
}
