// Package ws is the transport layer: a gorilla/websocket hub/client
// pair plus the client-bound message catalogue from §6. Group
// membership (which connections hear a room's broadcasts) is the
// broadcaster's job (C6); request handlers only call AddToGroup and
// RemoveFromGroup.
package ws

import "encoding/json"

// MessageType names a client-bound push or a client-originated RPC.
type MessageType string

const (
	// Client -> server RPCs.
	MsgCreateGame    MessageType = "CreateGame"
	MsgJoinGame      MessageType = "JoinGame"
	MsgReconnect     MessageType = "Reconnect"
	MsgGetGameState  MessageType = "GetGameState"
	MsgMakeMove      MessageType = "MakeMove"
	MsgOfferRematch  MessageType = "OfferRematch"
	MsgAcceptRematch MessageType = "AcceptRematch"

	// Server -> client pushes (§6).
	MsgGameCreated          MessageType = "GameCreated"
	MsgGameJoined           MessageType = "GameJoined"
	MsgGameStarted          MessageType = "GameStarted"
	MsgGameFull             MessageType = "GameFull"
	MsgPlayerJoined         MessageType = "PlayerJoined"
	MsgPlayerLeft           MessageType = "PlayerLeft"
	MsgPlayerReconnected    MessageType = "PlayerReconnected"
	MsgSyncedState          MessageType = "SyncedState"
	MsgBoardUpdated         MessageType = "BoardUpdated"
	MsgCountdownTick        MessageType = "CountdownTick"
	MsgTurnCountdownResumed MessageType = "TurnCountdownResumed"
	MsgTurnCountdownTick    MessageType = "TurnCountdownTick"
	MsgTurnCountdownPaused  MessageType = "TurnCountdownPaused"
	MsgRematchOffered       MessageType = "RematchOffered"
	MsgRematchWindowStarted MessageType = "RematchWindowStarted"
	MsgRematchWindowExpired MessageType = "RematchWindowExpired"
	MsgRematchStarted       MessageType = "RematchStarted"
	MsgGameOver             MessageType = "GameOver"
	MsgRoomClosed           MessageType = "RoomClosed"
	MsgError                MessageType = "Error"
)

// Envelope is the wire frame: a named message carrying a JSON payload.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it with msgType.
func NewEnvelope(msgType MessageType, payload interface{}) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Envelope{Type: msgType, Payload: raw}, nil
}

// GameCreatedPayload answers CreateGame.
type GameCreatedPayload struct {
	Code     string `json:"code"`
	Board    [9]int `json:"board"`
	PlayerID string `json:"playerId"`
}

// GameJoinedPayload answers a successful JoinGame.
type GameJoinedPayload struct {
	Code        string `json:"code"`
	Board       [9]int `json:"board"`
	Symbol      string `json:"symbol"`
	CurrentTurn string `json:"currentTurn"`
	PlayerID    string `json:"playerId"`
}

// GameStartedPayload is broadcast to the group once both symbols are
// assigned.
type GameStartedPayload struct {
	Board       [9]int `json:"board"`
	CurrentTurn string `json:"currentTurn"`
}

// GameFullPayload is pushed to a JoinGame caller rejected for RoomFull.
type GameFullPayload struct {
	Code string `json:"code"`
}

// PlayerLeftPayload announces a disconnect.
type PlayerLeftPayload struct {
	PlayerID string `json:"playerId"`
}

// PlayerReconnectedPayload announces a successful reconnect.
type PlayerReconnectedPayload struct {
	PlayerID string `json:"playerId"`
}

// SyncedStatePayload answers Reconnect/GetGameState.
type SyncedStatePayload struct {
	Board       [9]int `json:"board"`
	Symbol      string `json:"symbol"`
	CurrentTurn string `json:"currentTurn"`
	IsGameOver  bool   `json:"isGameOver"`
	Winner      string `json:"winner,omitempty"`
}

// BoardUpdatedPayload is broadcast after every successful move.
type BoardUpdatedPayload struct {
	Board       [9]int `json:"board"`
	CurrentTurn string `json:"currentTurn,omitempty"`
	IsGameOver  bool   `json:"isGameOver"`
	Winner      string `json:"winner,omitempty"`
}

// CountdownTickPayload is the reconnection-grace tick (§4.6 step 4).
type CountdownTickPayload struct {
	PlayerID         string `json:"playerId"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

// TurnCountdownResumedPayload starts/resumes a turn clock (§4.7 step 4).
type TurnCountdownResumedPayload struct {
	PlayerID     string `json:"playerId"`
	TotalSeconds int    `json:"totalSeconds"`
	ExpiresAtUtc string `json:"expiresAtUtc"`
	ServerNow    string `json:"serverNow"`
}

// TurnCountdownTickPayload is one tick of the turn clock.
type TurnCountdownTickPayload struct {
	PlayerID         string `json:"playerId"`
	RemainingSeconds int    `json:"remainingSeconds"`
	ExpiresAtUtc     string `json:"expiresAtUtc"`
	ServerNow        string `json:"serverNow"`
}

// TurnCountdownPausedPayload reports a pause-due-to-disconnect (§4.7 step 7).
type TurnCountdownPausedPayload struct {
	PlayerID         string `json:"playerId"`
	RemainingSeconds int    `json:"remainingSeconds"`
	ServerNow        string `json:"serverNow"`
}

// RematchOfferedPayload announces one side's offer.
type RematchOfferedPayload struct {
	PlayerID  string `json:"playerId"`
	ExpiresAt string `json:"expiresAt"`
}

// RematchWindowStartedPayload announces the window opening.
type RematchWindowStartedPayload struct {
	ExpiresAt string `json:"expiresAt"`
}

// RematchWindowExpiredPayload announces an unaccepted window closing.
type RematchWindowExpiredPayload struct {
	Code string `json:"code"`
}

// RematchStartedPayload announces a fresh game on the same code.
type RematchStartedPayload struct {
	Code string `json:"code"`
}

// GameOverResult is the §6 GameOver.result enum.
type GameOverResult string

const (
	ResultWinner    GameOverResult = "Winner"
	ResultDraw      GameOverResult = "Draw"
	ResultCancelled GameOverResult = "Cancelled"
)

// GameOverPayload is the terminal broadcast for a game (§6).
type GameOverPayload struct {
	RoomCode      string         `json:"roomCode"`
	Result        GameOverResult `json:"result"`
	WinnerID      string         `json:"winnerId,omitempty"`
	WinnerSymbol  string         `json:"winnerSymbol,omitempty"`
	BoardSnapshot *[9]int        `json:"boardSnapshot,omitempty"`
	CurrentTurn   string         `json:"currentTurn,omitempty"`
	IsGameOver    bool           `json:"isGameOver"`
	Message       string         `json:"message,omitempty"`
}

// RoomClosedPayload announces room teardown.
type RoomClosedPayload struct {
	Code string `json:"code"`
}

// ErrorPayload mirrors api.Envelope's failure shape for unsolicited
// pushes that aren't an RPC response.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
