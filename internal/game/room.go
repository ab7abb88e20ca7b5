package game

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"tictactoe-room-server/internal/api"
)

// TimerHandle is an opaque cancellation handle for a reconnection or
// turn timer. Identity (pointer equality), not value, is what a woken
// goroutine compares against the field stored on the Player to decide
// whether it is still the timer of record (§4.6 step 6, §4.7 step 3).
type TimerHandle struct {
	cancel context.CancelFunc
}

// Cancel aborts the timer's in-flight sleep. Safe to call on a nil
// handle or more than once.
func (h *TimerHandle) Cancel() {
	if h != nil && h.cancel != nil {
		h.cancel()
	}
}

// Player is one seat in a Room (§3). All fields are guarded by the
// owning Room's mutex; Player carries no lock of its own.
type Player struct {
	PlayerID     string
	ConnectionID string // "" means disconnected
	Symbol       Symbol

	GraceUsed             bool
	ReconnectionTimer     *TimerHandle
	ReconnectionExpiresAt time.Time

	TurnTimer            *TimerHandle
	TurnExpiresAt        time.Time
	RemainingTurnSeconds *int
}

// IsConnected reports whether the player currently holds a live
// connection.
func (p *Player) IsConnected() bool {
	return p.ConnectionID != ""
}

// Room is a bounded two-player session identified by a short code
// (§3). Every mutating method locks internally; the reconnection,
// turn-timeout, and rematch background services (same package) instead
// call Lock/Unlock directly to compose several field reads/writes into
// one critical section, per §4.6-§4.9.
type Room struct {
	Code string

	Board       [BoardSize]byte
	Players     map[string]*Player
	PlayerOrder []string
	CurrentTurn Symbol

	IsGameOver bool
	Winner     Symbol

	RematchOffers    map[string]bool
	RematchExpiresAt time.Time

	CreatedAt      time.Time
	LastActivityAt time.Time

	TurnTimerVersion int64

	Machine *StateMachine

	mu         sync.Mutex
	ctx        context.Context
	cancelRoot context.CancelFunc
}

// NewRoom creates an empty room with the given code. parent bounds the
// lifetime of every background timer started against this room: Close
// cancels the derived context, which cancels every timer goroutine tied
// to it (§5 "A room removal must cancel every outstanding timer").
func NewRoom(code string, parent context.Context) *Room {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	return &Room{
		Code:           code,
		Board:          createBoard(),
		Players:        make(map[string]*Player),
		CurrentTurn:    SymbolNone,
		RematchOffers:  make(map[string]bool),
		CreatedAt:      now,
		LastActivityAt: now,
		Machine:        NewStateMachine(code),
		ctx:            ctx,
		cancelRoot:     cancel,
	}
}

// Lock and Unlock expose the room's mutex for services that need to
// compose several operations into one critical section.
func (r *Room) Lock()   { r.mu.Lock() }
func (r *Room) Unlock() { r.mu.Unlock() }

// Context returns the room-scoped context that background timers
// select on; it is cancelled by Close.
func (r *Room) Context() context.Context {
	return r.ctx
}

// Close cancels every outstanding timer tied to this room. Idempotent.
func (r *Room) Close() {
	r.cancelRoot()
}

func (r *Room) touchLocked() {
	r.LastActivityAt = time.Now()
}

// playerByID returns the player with the given id, or nil. Caller must
// hold the lock.
func (r *Room) playerByID(playerID string) *Player {
	return r.Players[playerID]
}

// playerByConnection returns the player currently holding connectionID,
// or nil. Caller must hold the lock.
func (r *Room) playerByConnection(connectionID string) *Player {
	if connectionID == "" {
		return nil
	}
	for _, p := range r.Players {
		if p.ConnectionID == connectionID {
			return p
		}
	}
	return nil
}

// playerBySymbol returns the player holding sym, or nil. Caller must
// hold the lock.
func (r *Room) playerBySymbol(sym Symbol) *Player {
	if sym == SymbolNone {
		return nil
	}
	for _, pid := range r.PlayerOrder {
		if p := r.Players[pid]; p.Symbol == sym {
			return p
		}
	}
	return nil
}

// otherPlayer returns the opponent of playerID, or nil if there isn't
// one yet. Caller must hold the lock.
func (r *Room) otherPlayer(playerID string) *Player {
	for _, pid := range r.PlayerOrder {
		if pid != playerID {
			return r.Players[pid]
		}
	}
	return nil
}

// symbolsAssigned reports whether the game has been started (both
// symbols assigned). Caller must hold the lock.
func (r *Room) symbolsAssigned() bool {
	for _, pid := range r.PlayerOrder {
		if r.Players[pid].Symbol != SymbolNone {
			return true
		}
	}
	return false
}

// allConnected reports whether every joined player currently holds a
// live connection. An empty or single-player room is never "all
// connected" in the sense §3 invariant 4 cares about. Caller must hold
// the lock.
func (r *Room) allConnected() bool {
	if len(r.PlayerOrder) < 2 {
		return false
	}
	for _, pid := range r.PlayerOrder {
		if !r.Players[pid].IsConnected() {
			return false
		}
	}
	return true
}

// CanJoin reports whether the room has room for another player (§4.10).
func (r *Room) CanJoin(maxPlayers int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.PlayerOrder) < maxPlayers
}

// AddConnection attaches connectionID to playerID (§4.10). It is
// idempotent per connection id: calling it twice with the same args
// neither creates a duplicate slot nor moves the connection. If
// playerID is unseen and there is capacity, a new Player is appended to
// PlayerOrder; otherwise the existing player's connection is updated.
// ok is false only when playerID is new and the room has no capacity.
func (r *Room) AddConnection(playerID, connectionID string, maxPlayers int) (player *Player, created bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.playerByConnection(connectionID); existing != nil {
		r.touchLocked()
		return existing, false, true
	}

	if p, exists := r.Players[playerID]; exists {
		p.ConnectionID = connectionID
		r.touchLocked()
		return p, false, true
	}

	if len(r.PlayerOrder) >= maxPlayers {
		return nil, false, false
	}

	p := &Player{PlayerID: playerID, ConnectionID: connectionID}
	r.Players[playerID] = p
	r.PlayerOrder = append(r.PlayerOrder, playerID)
	r.touchLocked()
	return p, true, true
}

// RemoveConnection nulls the connection of whichever player currently
// holds connectionID (§4.10). Returns that player, or nil if none
// matched.
func (r *Room) RemoveConnection(connectionID string) *Player {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.playerByConnection(connectionID)
	if p == nil {
		return nil
	}
	p.ConnectionID = ""
	r.touchLocked()
	return p
}

// TryStartGame assigns symbols and starts play once two players have
// joined and no symbols are assigned yet (§4.10).
func (r *Room) TryStartGame(rng *rand.Rand) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.PlayerOrder) != 2 || r.symbolsAssigned() {
		return false
	}

	symFirst, symSecond := assignSymbols(rng)
	r.Players[r.PlayerOrder[0]].Symbol = symFirst
	r.Players[r.PlayerOrder[1]].Symbol = symSecond
	r.CurrentTurn = SymbolX
	r.Machine.Fire(EventPlayerJoined)
	r.touchLocked()
	return true
}

// MoveAttempt is the result of TryMakeMove.
type MoveAttempt struct {
	OK        bool
	ErrorCode api.ErrorCode
	Result    MoveResult
}

// TryMakeMove applies a move on behalf of whichever player holds
// connectionID, gating it through the checks of §4.10 in order.
func (r *Room) TryMakeMove(connectionID string, index int) MoveAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.IsGameOver {
		return MoveAttempt{ErrorCode: api.ErrGameOver}
	}
	player := r.playerByConnection(connectionID)
	if player == nil || player.Symbol == SymbolNone {
		return MoveAttempt{ErrorCode: api.ErrNotInGame}
	}
	if !r.allConnected() {
		return MoveAttempt{ErrorCode: api.ErrOpponentDisconnect}
	}
	if r.CurrentTurn != player.Symbol {
		return MoveAttempt{ErrorCode: api.ErrNotYourTurn}
	}

	res := tryApplyMove(&r.Board, player.Symbol, index)
	switch res.Outcome {
	case OutcomeInvalidIndex:
		return MoveAttempt{ErrorCode: api.ErrInvalidIndex}
	case OutcomeCellTaken:
		return MoveAttempt{ErrorCode: api.ErrCellTaken}
	case OutcomeWin:
		r.IsGameOver = true
		r.Winner = res.Winner
		r.CurrentTurn = SymbolNone
		r.Machine.Fire(EventGameWon)
	case OutcomeDraw:
		r.IsGameOver = true
		r.Winner = SymbolNone
		r.CurrentTurn = SymbolNone
		r.Machine.Fire(EventGameDrawn)
	case OutcomeContinue:
		r.CurrentTurn = res.Next
		r.Machine.Fire(EventMoveMade)
	}
	r.touchLocked()
	return MoveAttempt{OK: true, Result: res}
}

// Forfeit ends the game with playerID's opponent as winner (§4.10). It
// returns the winning player, or ok=false if playerID is not seated.
func (r *Room) Forfeit(playerID string) (winner *Player, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lockedForfeit(playerID)
}

// LockedForfeit is Forfeit for callers that already hold the lock (the
// reconnection and turn-timeout services, which need to verify the
// player's disconnected/timed-out state in the same critical section
// as the forfeit itself).
func (r *Room) LockedForfeit(playerID string) (winner *Player, ok bool) {
	return r.lockedForfeit(playerID)
}

func (r *Room) lockedForfeit(playerID string) (winner *Player, ok bool) {
	if _, exists := r.Players[playerID]; !exists {
		return nil, false
	}
	opponent := r.otherPlayer(playerID)
	r.IsGameOver = true
	if opponent != nil {
		r.Winner = opponent.Symbol
	} else {
		r.Winner = SymbolNone
	}
	r.CurrentTurn = SymbolNone
	r.Machine.Fire(EventPlayerForfeited)
	r.touchLocked()
	return opponent, true
}

// IsIdleForCleanup reports whether the idle sweeper (C10, §4.9) should
// remove this room: either it never started and has sat inactive past
// idleTimeout, or every seated player is currently disconnected.
func (r *Room) IsIdleForCleanup(idleTimeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.symbolsAssigned() && len(r.PlayerOrder) < 2 && time.Since(r.LastActivityAt) > idleTimeout {
		return true
	}

	if len(r.PlayerOrder) == 0 {
		return false
	}
	for _, pid := range r.PlayerOrder {
		if r.Players[pid].IsConnected() {
			return false
		}
	}
	return true
}

// PlayerSnapshot is the read-only view of one seat for outgoing
// messages.
type PlayerSnapshot struct {
	PlayerID  string
	Symbol    Symbol
	Connected bool
}

// Snapshot is a read-only, lock-free copy of room state safe to hand to
// a broadcaster after the lock is released (§5 "Broadcasts ... are
// emitted ... from a snapshot captured under the lock").
type Snapshot struct {
	Code        string
	Board       [BoardSize]byte
	CurrentTurn Symbol
	IsGameOver  bool
	Winner      Symbol
	Players     []PlayerSnapshot
}

// Snapshot captures the room's observable state under lock.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.LockedSnapshot()
}

// LockedSnapshot is Snapshot for callers that already hold the lock
// (request handlers composing a read with a preceding mutation).
func (r *Room) LockedSnapshot() Snapshot {
	players := make([]PlayerSnapshot, 0, len(r.PlayerOrder))
	for _, pid := range r.PlayerOrder {
		p := r.Players[pid]
		players = append(players, PlayerSnapshot{
			PlayerID:  p.PlayerID,
			Symbol:    p.Symbol,
			Connected: p.IsConnected(),
		})
	}

	return Snapshot{
		Code:        r.Code,
		Board:       r.Board,
		CurrentTurn: r.CurrentTurn,
		IsGameOver:  r.IsGameOver,
		Winner:      r.Winner,
		Players:     players,
	}
}

// LockedPlayerByID is playerByID for callers that already hold the lock.
func (r *Room) LockedPlayerByID(playerID string) *Player {
	return r.playerByID(playerID)
}

// LockedPlayerByConnection is playerByConnection for callers that
// already hold the lock.
func (r *Room) LockedPlayerByConnection(connectionID string) *Player {
	return r.playerByConnection(connectionID)
}

// PlayerByConnection looks up a player by connection id, locking
// internally. For callers (handlers) that are not already composing a
// larger critical section.
func (r *Room) PlayerByConnection(connectionID string) *Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playerByConnection(connectionID)
}

// LockedSymbolsAssigned is symbolsAssigned for callers that already
// hold the lock.
func (r *Room) LockedSymbolsAssigned() bool {
	return r.symbolsAssigned()
}

// LockedHasDisconnectedSlot reports whether any seated player is
// currently disconnected. Used by JoinGame (§4.11) to refuse a new
// joiner (GameFull/RoomFull) while a seat is held for a disconnected
// player.
func (r *Room) LockedHasDisconnectedSlot() bool {
	for _, pid := range r.PlayerOrder {
		if !r.Players[pid].IsConnected() {
			return true
		}
	}
	return false
}

// LockedTouch updates lastActivityAt for callers that already hold the
// lock.
func (r *Room) LockedTouch() {
	r.touchLocked()
}

// LockedRemoveConnection is RemoveConnection for callers that already
// hold the lock (the disconnect hook, which needs to read the current
// turn holder's turn-timer handle and the game's phase in the same critical section
// as the removal, §4.11 "disconnect hook").
func (r *Room) LockedRemoveConnection(connectionID string) *Player {
	p := r.playerByConnection(connectionID)
	if p == nil {
		return nil
	}
	p.ConnectionID = ""
	r.touchLocked()
	return p
}

// LockedAllDisconnected reports whether every seated player is
// currently disconnected. Caller must hold the lock.
func (r *Room) LockedAllDisconnected() bool {
	if len(r.PlayerOrder) == 0 {
		return false
	}
	for _, pid := range r.PlayerOrder {
		if r.Players[pid].IsConnected() {
			return false
		}
	}
	return true
}

// LockedRematchWindowLive reports whether a rematch window is
// currently open. Caller must hold the lock.
func (r *Room) LockedRematchWindowLive() bool {
	return !r.RematchExpiresAt.IsZero() && time.Now().Before(r.RematchExpiresAt)
}

// LockedCurrentTurnHolder returns the player whose symbol equals
// CurrentTurn, or nil if the game hasn't started or is over. The turn
// timer (C8) is only ever attached to this player's TurnTimer field
// (§4.7 step 1: "Locate the player whose symbol equals currentTurn"),
// never to the player who disconnects — a disconnect of either seat
// must pause the same timer. Caller must hold the lock.
func (r *Room) LockedCurrentTurnHolder() *Player {
	return r.playerBySymbol(r.CurrentTurn)
}
