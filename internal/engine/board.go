package engine

import (
	"errors"
	"fmt"

	"github.com/notnil/chess"

	"github.com/benaharon1/armageddon-chess-client/pkg/types"
)

var (
	ErrIllegalMove       = errors.New("illegal move")
	ErrPromotionRequired = errors.New("promotion piece required")
)

// Board wraps the embedded rules engine. It is rebuilt from the server's move
// list on every snapshot and mutated locally only by optimistic applies; it is
// never treated as authoritative.
type Board struct {
	g        *chess.Game
	lastMove ParsedMove
	hasLast  bool
}

// NewBoard returns a board at the starting position.
func NewBoard() *Board {
	return &Board{g: chess.NewGame(chess.UseNotation(chess.UCINotation{}))}
}

// Replay rebuilds a board by applying the snapshot's moves from the start.
// A move the engine rejects is skipped so one bad entry cannot blank the whole
// board; the first such error is returned alongside the rebuilt board.
func Replay(moves []types.Move) (*Board, error) {
	b := NewBoard()
	var firstErr error
	for i, m := range moves {
		if err := b.Apply(m.Move); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("move %d (%q): %w", i, m.Move, err)
			}
		}
	}
	return b, firstErr
}

// FEN returns the current position.
func (b *Board) FEN() string { return b.g.Position().String() }

// PGN returns the game record so far.
func (b *Board) PGN() string { return b.g.String() }

// Turn returns the side to move.
func (b *Board) Turn() types.Color {
	if b.g.Position().Turn() == chess.White {
		return types.White
	}
	return types.Black
}

// LastMove returns the most recently applied move, for highlighting.
func (b *Board) LastMove() (ParsedMove, bool) { return b.lastMove, b.hasLast }

// copyAtPosition clones the current position only. Castling rights and en
// passant travel inside the FEN, which is all legality checking needs.
func (b *Board) copyAtPosition() (*chess.Game, error) {
	fen, err := chess.FEN(b.FEN())
	if err != nil {
		return nil, err
	}
	return chess.NewGame(fen, chess.UseNotation(chess.UCINotation{})), nil
}

// TryMove validates a move against a copy of the board. The live board is
// untouched regardless of the result.
func (b *Board) TryMove(uci string) error {
	m, err := ParseUCI(uci)
	if err != nil {
		return err
	}
	if m.Promo == "" && b.NeedsPromotion(m.From, m.To) {
		return ErrPromotionRequired
	}
	test, err := b.copyAtPosition()
	if err != nil {
		return err
	}
	if err := test.MoveStr(uci); err != nil {
		return fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	return nil
}

// Apply plays a move on the live board.
func (b *Board) Apply(uci string) error {
	m, err := ParseUCI(uci)
	if err != nil {
		return err
	}
	if err := b.g.MoveStr(uci); err != nil {
		return fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	b.lastMove = m
	b.hasLast = true
	return nil
}

// NeedsPromotion reports whether moving from→to is a pawn reaching the last
// rank, i.e. the move cannot be sent without a promotion letter.
func (b *Board) NeedsPromotion(from, to string) bool {
	if !validSquare(from) || !lastRank(to) {
		return false
	}
	p := b.pieceAt(from)
	return p.Type() == chess.Pawn
}

// HasPieceOf reports whether the square holds a piece of the given color.
// Drives the click-to-move selection cursor.
func (b *Board) HasPieceOf(square string, c types.Color) bool {
	p := b.pieceAt(square)
	if p == chess.NoPiece {
		return false
	}
	if c == types.White {
		return p.Color() == chess.White
	}
	return p.Color() == chess.Black
}

// LegalTargets lists the destination squares reachable from a square.
func (b *Board) LegalTargets(from string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range b.g.ValidMoves() {
		if m.S1().String() != from {
			continue
		}
		to := m.S2().String()
		if _, dup := seen[to]; dup {
			continue // promotions repeat the target square
		}
		seen[to] = struct{}{}
		out = append(out, to)
	}
	return out
}

// Outcome reports a locally detected terminal state. winner is meaningless
// when the result is a draw.
func (b *Board) Outcome() (res types.Result, winner types.Color, over bool) {
	switch b.g.Outcome() {
	case chess.WhiteWon:
		return types.ResultCheckmate, types.White, true
	case chess.BlackWon:
		return types.ResultCheckmate, types.Black, true
	case chess.Draw:
		return types.ResultDraw, "", true
	}
	return "", "", false
}

// Method describes how a finished game ended, in engine terms.
func (b *Board) Method() string { return b.g.Method().String() }

func (b *Board) pieceAt(square string) chess.Piece {
	if !validSquare(square) {
		return chess.NoPiece
	}
	file := int(square[0] - 'a')
	rank := int(square[1] - '1')
	return b.g.Position().Board().Piece(chess.Square(rank*8 + file))
}
