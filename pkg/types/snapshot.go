package types

import "time"

// Phase is the lifecycle stage of a room as reported by the server.
type Phase string

const (
	PhaseLobby     Phase = "LOBBY"
	PhaseBidding   Phase = "BIDDING"
	PhaseColorPick Phase = "COLOR_PICK"
	PhasePlaying   Phase = "PLAYING"
	PhaseFinished  Phase = "FINISHED"
)

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Other returns the opposing color.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Result is the server-declared game outcome.
type Result string

const (
	ResultCheckmate   Result = "checkmate"
	ResultTimeForfeit Result = "time_forfeit"
	ResultResignation Result = "resignation"
	ResultDraw        Result = "draw"
)

// Picker identifies which side of the bid currently holds the color choice.
type Picker string

const (
	PickerWinner Picker = "winner"
	PickerLoser  Picker = "loser"
)

type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Bid amounts stay opaque to other players until the server reveals them.
type Bid struct {
	AmountMs int64 `json:"amount"`
}

// Clocks is the server's clock snapshot. Live remaining time is derived from it
// plus the local wall clock; see internal/clock.
type Clocks struct {
	Turn             Color  `json:"turn"`
	WhiteRemainingMs int64  `json:"whiteRemainingMs"`
	BlackRemainingMs int64  `json:"blackRemainingMs"`
	LastTickAt       int64  `json:"lastTickAt"`
	FrozenAt         *int64 `json:"frozenAt,omitempty"`
}

// Frozen reports whether the server stopped the clocks.
func (c Clocks) Frozen() bool { return c.FrozenAt != nil }

type Move struct {
	Move      string `json:"move"` // UCI, optionally with a promotion letter
	Timestamp int64  `json:"timestamp"`
}

// Room is the complete authoritative state of a room. The server always sends
// it wholesale; the client applies it by full replacement, never by merging.
type Room struct {
	RoomID     string   `json:"roomId"`
	Phase      Phase    `json:"phase"`
	MaxPlayers int      `json:"maxPlayers"`
	Players    []Player `json:"players"`

	Bids          map[string]Bid   `json:"bids,omitempty"`
	WinnerID      string           `json:"winnerId,omitempty"`
	LoserID       string           `json:"loserId,omitempty"`
	CurrentPicker Picker           `json:"currentPicker,omitempty"`
	Colors        map[string]Color `json:"colors,omitempty"`

	Clocks *Clocks `json:"clocks,omitempty"`
	Moves  []Move  `json:"moves,omitempty"`

	Result Result `json:"result,omitempty"`
	Reason string `json:"reason,omitempty"`

	StartRequestedBy     string          `json:"startRequestedBy,omitempty"`
	StartConfirmDeadline int64           `json:"startConfirmDeadline,omitempty"`
	BidDeadline          int64           `json:"bidDeadline,omitempty"`
	ChoiceDeadline       int64           `json:"choiceDeadline,omitempty"`
	ChoiceDurationMs     int64           `json:"choiceDurationMs,omitempty"`
	RematchWindowEnds    int64           `json:"rematchWindowEnds,omitempty"`
	RematchVotes         map[string]bool `json:"rematchVotes,omitempty"`

	Closed  bool `json:"closed,omitempty"`
	Private bool `json:"private,omitempty"`
}

// Epoch converts a wall-clock time to the wire's millisecond timestamp.
func Epoch(t time.Time) int64 { return t.UnixMilli() }

// FromEpoch converts a wire millisecond timestamp back to a time.Time.
func FromEpoch(ms int64) time.Time { return time.UnixMilli(ms) }

func (r *Room) PlayerByID(id string) (Player, bool) {
	for _, p := range r.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

func (r *Room) HasPlayer(id string) bool {
	_, ok := r.PlayerByID(id)
	return ok
}

func (r *Room) IsFull() bool {
	return r.MaxPlayers > 0 && len(r.Players) >= r.MaxPlayers
}

// ColorOf returns the color assigned to a player, if any.
func (r *Room) ColorOf(id string) (Color, bool) {
	c, ok := r.Colors[id]
	return c, ok
}

// PlayerByColor finds the player holding the given color.
func (r *Room) PlayerByColor(c Color) (Player, bool) {
	for id, col := range r.Colors {
		if col == c {
			return r.PlayerByID(id)
		}
	}
	return Player{}, false
}

// Opponent returns the other player in a two-player room.
func (r *Room) Opponent(id string) (Player, bool) {
	for _, p := range r.Players {
		if p.ID != id {
			return p, true
		}
	}
	return Player{}, false
}

// PickerID resolves currentPicker to a concrete player id.
func (r *Room) PickerID() (string, bool) {
	switch r.CurrentPicker {
	case PickerWinner:
		return r.WinnerID, r.WinnerID != ""
	case PickerLoser:
		return r.LoserID, r.LoserID != ""
	}
	return "", false
}

// LobbyView exposes only the fields meaningful while phase is LOBBY.
type LobbyView struct {
	StartRequestedBy     string
	StartConfirmDeadline int64
	ChoiceDurationMs     int64
}

// StartPending reports whether a start request is awaiting confirmation.
func (v LobbyView) StartPending() bool { return v.StartRequestedBy != "" }

// BiddingView exposes only the fields meaningful while phase is BIDDING.
// Amounts are withheld; only submission status is visible mid-phase.
type BiddingView struct {
	Deadline  int64
	Submitted map[string]bool
}

// ColorPickView exposes only the fields meaningful while phase is COLOR_PICK.
type ColorPickView struct {
	WinnerID      string
	LoserID       string
	CurrentPicker Picker
	Deadline      int64
}

// CanChoose reports whether the given player currently holds the color choice.
func (v ColorPickView) CanChoose(playerID string) bool {
	switch v.CurrentPicker {
	case PickerWinner:
		return playerID == v.WinnerID
	case PickerLoser:
		return playerID == v.LoserID
	}
	return false
}

// FinishedView exposes only the fields meaningful once phase is FINISHED.
type FinishedView struct {
	Result            Result
	Reason            string
	WinnerID          string
	RematchWindowEnds int64
	RematchVotes      map[string]bool
}

func (r *Room) Lobby() (LobbyView, bool) {
	if r.Phase != PhaseLobby {
		return LobbyView{}, false
	}
	return LobbyView{
		StartRequestedBy:     r.StartRequestedBy,
		StartConfirmDeadline: r.StartConfirmDeadline,
		ChoiceDurationMs:     r.ChoiceDurationMs,
	}, true
}

func (r *Room) Bidding() (BiddingView, bool) {
	if r.Phase != PhaseBidding {
		return BiddingView{}, false
	}
	submitted := make(map[string]bool, len(r.Players))
	for _, p := range r.Players {
		_, submitted[p.ID] = r.Bids[p.ID]
	}
	return BiddingView{Deadline: r.BidDeadline, Submitted: submitted}, true
}

func (r *Room) ColorPick() (ColorPickView, bool) {
	if r.Phase != PhaseColorPick {
		return ColorPickView{}, false
	}
	return ColorPickView{
		WinnerID:      r.WinnerID,
		LoserID:       r.LoserID,
		CurrentPicker: r.CurrentPicker,
		Deadline:      r.ChoiceDeadline,
	}, true
}

func (r *Room) Finished() (FinishedView, bool) {
	if r.Phase != PhaseFinished {
		return FinishedView{}, false
	}
	return FinishedView{
		Result:            r.Result,
		Reason:            r.Reason,
		WinnerID:          r.WinnerID,
		RematchWindowEnds: r.RematchWindowEnds,
		RematchVotes:      r.RematchVotes,
	}, true
}
