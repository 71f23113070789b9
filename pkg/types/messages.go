package types

// Socket envelope types. The server sends a full Room on every message; there
// are no diffs on the wire.

const (
	MsgInit   = "init"
	MsgUpdate = "update"
)

// SocketMessage is an inbound websocket frame.
type SocketMessage struct {
	Type string `json:"type"` // "init" | "update"
	Room *Room  `json:"room"`
}

// ErrorBody is the JSON body the server attaches to 4xx responses.
type ErrorBody struct {
	Error string `json:"error"`
}

// MoveResponse is returned by POST /rooms/{id}/move. Result is only set when
// the move ended the game.
type MoveResponse struct {
	Result   Result `json:"result,omitempty"`
	WinnerID string `json:"winnerId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// RematchResponse is returned by POST /rooms/{id}/rematch.
type RematchResponse struct {
	RematchStarted bool `json:"rematchStarted"`
}

// CreateRoomResponse is returned by POST /rooms.
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

// RoomResponse wraps GET /rooms/{id}. StartExpired mirrors the server flag set
// when a start request lapsed and the room was closed.
type RoomResponse struct {
	Room         *Room `json:"room"`
	StartExpired bool  `json:"startExpired,omitempty"`
}
