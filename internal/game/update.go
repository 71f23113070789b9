package game

import (
	"time"

	"github.com/benaharon1/armageddon-chess-client/pkg/types"
)

// BoardView is the rendering state of the local board. It is rebuilt from the
// server's move list on every snapshot and advanced optimistically on local
// moves; it is a rendering hint, never authority.
type BoardView struct {
	FEN      string
	PGN      string
	Turn     types.Color
	LastMove [2]string
	HasLast  bool
}

// Selection is the click-to-move cursor: a selected square plus its legal
// targets.
type Selection struct {
	Square  string
	Targets []string
}

// PromotionPrompt suspends the move pipeline until the player picks a piece.
type PromotionPrompt struct {
	From string
	To   string
}

// GameOver describes an end-of-game state. Provisional results come from
// local detection (checkmate on the optimistic board, a flag falling) and are
// always replaced by the server's authoritative answer.
type GameOver struct {
	Result      types.Result
	WinnerID    string
	WinnerName  string
	WinnerColor types.Color
	Reason      string
	Provisional bool
}

// Draw reports whether nobody won.
func (g GameOver) Draw() bool { return g.Result == types.ResultDraw }

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient, edge-triggered message: it is set on the update that
// produced it and absent afterwards, so the UI can auto-clear it.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// Update is one frame of rendering state pushed to the UI layer. The room
// snapshot and board are replaced atomically together, so a consumer never
// sees a fresh clock against a stale board.
type Update struct {
	Now time.Time

	Room  *types.Room
	Board BoardView

	WhiteRemaining time.Duration
	BlackRemaining time.Duration

	Selection *Selection
	Promotion *PromotionPrompt
	GameOver  *GameOver
	Notice    *Notice

	Connected bool

	// Terminated means the room no longer accepts this client; CarryName is
	// the display name to take back to matchmaking.
	Terminated bool
	CarryName  string
}
