package game

import "github.com/sirupsen/logrus"

// RoomPhase is a state of the room lifecycle state machine (§4.2).
type RoomPhase string

const (
	PhaseWaitingForPlayers RoomPhase = "WaitingForPlayers"
	PhaseActive            RoomPhase = "Active"
	PhaseGameOver          RoomPhase = "GameOver"
	PhaseRematchOffered    RoomPhase = "RematchOffered"
	PhaseRematchAccepted   RoomPhase = "RematchAccepted"
	PhaseRematchExpired    RoomPhase = "RematchExpired"
	PhaseClosed            RoomPhase = "Closed"
)

// RoomEvent is a trigger driving the room lifecycle state machine.
type RoomEvent string

const (
	EventPlayerJoined     RoomEvent = "PlayerJoined"
	EventMoveMade         RoomEvent = "MoveMade"
	EventGameWon          RoomEvent = "GameWon"
	EventGameDrawn        RoomEvent = "GameDrawn"
	EventPlayerForfeited  RoomEvent = "PlayerForfeited"
	EventPlayerDisconnect RoomEvent = "PlayerDisconnected"
	EventRematchOffered   RoomEvent = "RematchOffered"
	EventRematchAccepted  RoomEvent = "RematchAccepted"
	EventRematchExpired   RoomEvent = "RematchExpired"
	EventFirstMoveMade    RoomEvent = "FirstMoveMade"
	EventRoomClosed       RoomEvent = "RoomClosed"
)

// transitions is the table from §4.2. Any (phase, event) pair absent
// from this map is invalid and must not mutate state.
var transitions = map[RoomPhase]map[RoomEvent]RoomPhase{
	PhaseWaitingForPlayers: {
		EventPlayerJoined: PhaseActive,
	},
	PhaseActive: {
		EventMoveMade:         PhaseActive,
		EventGameWon:          PhaseGameOver,
		EventGameDrawn:        PhaseGameOver,
		EventPlayerForfeited:  PhaseGameOver,
		EventPlayerDisconnect: PhaseActive,
	},
	PhaseGameOver: {
		EventRematchOffered: PhaseRematchOffered,
	},
	PhaseRematchOffered: {
		EventRematchAccepted: PhaseRematchAccepted,
		EventRematchExpired:  PhaseRematchExpired,
	},
	PhaseRematchAccepted: {
		EventFirstMoveMade: PhaseActive,
	},
}

// StateMachine is the room lifecycle state machine. Each Room owns one
// instance for its lifetime; there is no global registry of machines —
// the room's own deletion deletes the machine with it (§9).
type StateMachine struct {
	phase RoomPhase
	code  string // room code, for log context only
}

// NewStateMachine creates a machine in its initial state.
func NewStateMachine(roomCode string) *StateMachine {
	return &StateMachine{phase: PhaseWaitingForPlayers, code: roomCode}
}

// Phase returns the current phase.
func (m *StateMachine) Phase() RoomPhase {
	return m.phase
}

// Fire attempts the (phase, event) transition. It returns true and
// updates phase on success. RoomClosed is valid from any phase except
// the terminal Closed. On an invalid pair the phase is left untouched
// and the rejection is logged (§4.2, §7).
func (m *StateMachine) Fire(event RoomEvent) bool {
	if event == EventRoomClosed {
		if m.phase == PhaseClosed {
			return false
		}
		m.phase = PhaseClosed
		return true
	}

	next, ok := transitions[m.phase][event]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"room":  m.code,
			"phase": m.phase,
			"event": event,
		}).Warn("rejected invalid room state transition")
		return false
	}
	m.phase = next
	return true
}

// CanFire reports whether event is valid from the current phase,
// without mutating state.
func (m *StateMachine) CanFire(event RoomEvent) bool {
	if event == EventRoomClosed {
		return m.phase != PhaseClosed
	}
	_, ok := transitions[m.phase][event]
	return ok
}
