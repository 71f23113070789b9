package game

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/benaharon1/armageddon-chess-client/internal/api"
	"github.com/benaharon1/armageddon-chess-client/internal/engine"
	"github.com/benaharon1/armageddon-chess-client/pkg/types"
)

// RequestStart requests the lobby→bidding transition, or confirms the other
// player's pending request.
func (s *Session) RequestStart() { s.send(reqStart{}) }

// SubmitBid submits a sealed bid entered as minutes+seconds.
func (s *Session) SubmitBid(minutes, seconds int) { s.send(reqBid{minutes, seconds}) }

// ChooseColor picks a color during COLOR_PICK.
func (s *Session) ChooseColor(c types.Color) { s.send(reqColor{c}) }

// MoveUCI feeds the move pipeline directly: the drag-and-drop entry point.
// It clears any pending click-selection of a different piece.
func (s *Session) MoveUCI(uci string) { s.send(reqMove{uci}) }

// Select advances the click-to-move cursor: select a piece, move to a legal
// target, or clear.
func (s *Session) Select(square string) { s.send(reqSelect{square}) }

// ClearSelection drops the pending click-selection.
func (s *Session) ClearSelection() { s.send(reqClearSelect{}) }

// ChoosePromotion resumes a move pipeline suspended on a promotion prompt.
func (s *Session) ChoosePromotion(piece string) { s.send(reqPromotion{piece}) }

// Resign concedes the game. Confirmation dialogs belong to the UI layer.
func (s *Session) Resign() { s.send(reqResign{}) }

// VoteRematch casts this player's rematch vote.
func (s *Session) VoteRematch(agree bool) { s.send(reqRematch{agree}) }

// go1 runs a fire-and-forget action request off the loop goroutine and posts
// the outcome back as a callDone.
func (s *Session) go1(op string, call func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, callTimeout)
		defer cancel()
		s.send(callDone{op: op, err: call(ctx)})
	}()
}

func (s *Session) submitBid(minutes, seconds int) {
	if minutes < 0 || seconds < 0 || seconds > 59 || (minutes == 0 && seconds == 0) {
		s.emit(&Notice{Level: NoticeWarning, Text: "Invalid bid time"})
		return
	}
	amountMs := int64(minutes*60+seconds) * 1000
	s.go1("bid", func(ctx context.Context) error {
		return s.api.SubmitBid(ctx, s.room, s.id.PlayerID, amountMs)
	})
}

func (s *Session) chooseColor(c types.Color) {
	if c != types.White && c != types.Black {
		s.emit(&Notice{Level: NoticeWarning, Text: "Unknown color"})
		return
	}
	if s.snap != nil {
		if view, ok := s.snap.ColorPick(); ok && !view.CanChoose(s.id.PlayerID) {
			s.emit(&Notice{Level: NoticeWarning, Text: "It is not your pick"})
			return
		}
	}
	s.go1("color", func(ctx context.Context) error {
		return s.api.ChooseColor(ctx, s.room, s.id.PlayerID, c)
	})
}

func (s *Session) voteRematch(agree bool) {
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, callTimeout)
		defer cancel()
		started, err := s.api.RematchVote(ctx, s.room, s.id.PlayerID, agree)
		s.send(callDone{op: "rematch", err: err, rematchStarted: started})
	}()
}

// tryMove is the single pipeline entry for both input modalities. Checks run
// in order: identity/turn preconditions before any engine call, promotion
// suspension, legality on a copy, then the optimistic apply and the async
// send. A move that fails a precondition is never transmitted.
func (s *Session) tryMove(uci string) {
	if s.snap == nil || s.board == nil {
		s.emit(&Notice{Level: NoticeError, Text: "Room not ready"})
		return
	}
	myColor, ok := s.snap.ColorOf(s.id.PlayerID)
	if !ok {
		s.emit(&Notice{Level: NoticeError, Text: "Unknown player color"})
		return
	}
	if s.board.Turn() != myColor {
		s.emit(&Notice{Level: NoticeWarning, Text: "Not your turn"})
		return
	}

	m, err := engine.ParseUCI(uci)
	if err != nil {
		s.emit(&Notice{Level: NoticeError, Text: "Malformed move"})
		return
	}

	// A pawn reaching the last rank without a promotion letter suspends the
	// pipeline until the player picks a piece.
	if m.Promo == "" && s.board.NeedsPromotion(m.From, m.To) {
		s.promotion = &PromotionPrompt{From: m.From, To: m.To}
		s.selection = nil
		s.emit(nil)
		return
	}

	if err := s.board.TryMove(m.UCI()); err != nil {
		s.selection = nil
		s.emit(&Notice{Level: NoticeWarning, Text: "Illegal move - try again"})
		return
	}

	// Local legality established: apply optimistically. The live board now
	// runs ahead of the server until the next snapshot confirms or heals it.
	if err := s.board.Apply(m.UCI()); err != nil {
		s.log.Error("optimistic apply diverged from legality check", zap.Error(err))
		return
	}
	s.selection = nil
	if res, winner, over := s.board.Outcome(); over {
		s.setProvisionalOutcome(res, winner)
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, callTimeout)
		defer cancel()
		resp, err := s.api.Move(ctx, s.room, s.id.PlayerID, m.UCI())
		s.send(moveSent{uci: m.UCI(), resp: resp, err: err})
	}()

	s.emit(nil)
}

func (s *Session) resumePromotion(piece string) {
	if s.promotion == nil {
		return
	}
	switch piece {
	case "q", "r", "b", "n":
	default:
		s.emit(&Notice{Level: NoticeWarning, Text: "Pick queen, rook, bishop or knight"})
		return
	}
	p := s.promotion
	s.promotion = nil
	s.tryMove(p.From + p.To + piece)
}

// selectSquare implements the click-to-move cursor. Clicking the selected
// square clears it, a legal target completes the move, one of our own pieces
// re-selects, anything else clears.
func (s *Session) selectSquare(square string) {
	if s.snap == nil || s.board == nil {
		return
	}
	myColor, ok := s.snap.ColorOf(s.id.PlayerID)
	if !ok || s.board.Turn() != myColor {
		return
	}

	if s.selection != nil {
		if s.selection.Square == square {
			s.selection = nil
			s.emit(nil)
			return
		}
		for _, target := range s.selection.Targets {
			if target == square {
				from := s.selection.Square
				s.selection = nil
				s.tryMove(from + square)
				return
			}
		}
	}

	if s.board.HasPieceOf(square, myColor) {
		s.selection = &Selection{Square: square, Targets: s.board.LegalTargets(square)}
	} else {
		s.selection = nil
	}
	s.emit(nil)
}

// handleMoveSent reconciles the server's answer to an optimistic move. A
// rejection is surfaced but the board is not rolled back; the next snapshot
// rebuilds it from the canonical move list.
func (s *Session) handleMoveSent(m moveSent) {
	if m.err != nil {
		var srvErr *api.ServerError
		text := "Move rejected"
		if errors.As(m.err, &srvErr) && srvErr.Code != "" {
			text = fmt.Sprintf("Move rejected: %s", srvErr.Code)
		} else if errors.Is(m.err, api.ErrRoomNotFound) {
			s.terminate("Room no longer exists — sending you back to lobby")
			return
		}
		s.log.Info("move rejected", zap.String("uci", m.uci), zap.Error(m.err))
		s.emit(&Notice{Level: NoticeError, Text: text})
		return
	}
	if m.resp.Result == "" {
		return
	}

	// Authoritative result: replaces any provisional one.
	over := &GameOver{Result: m.resp.Result, Reason: m.resp.Reason}
	if m.resp.WinnerID != "" {
		over.WinnerID = m.resp.WinnerID
		if p, ok := s.snap.PlayerByID(m.resp.WinnerID); ok {
			over.WinnerName = p.Name
		}
		if c, ok := s.snap.ColorOf(m.resp.WinnerID); ok {
			over.WinnerColor = c
		}
	}
	s.gameOver = over
	s.emit(nil)
}

func (s *Session) handleCallDone(m callDone) {
	if m.err != nil {
		var srvErr *api.ServerError
		reason := ""
		if errors.As(m.err, &srvErr) {
			reason = srvErr.Code
		}
		s.log.Info("action rejected", zap.String("op", m.op), zap.Error(m.err))
		text := map[string]string{
			"start":   "Failed to request start",
			"bid":     "Bid failed",
			"color":   "Failed to choose color",
			"resign":  "Failed to resign",
			"rematch": "Failed to submit rematch vote",
		}[m.op]
		if text == "" {
			text = "Request failed"
		}
		if reason != "" {
			text = fmt.Sprintf("%s: %s", text, reason)
		}
		s.emit(&Notice{Level: NoticeError, Text: text})
		return
	}

	switch m.op {
	case "start":
		s.emit(&Notice{Level: NoticeInfo, Text: "Requesting start... waiting for opponent"})
	case "bid":
		s.emit(&Notice{Level: NoticeInfo, Text: "Bid submitted!"})
	case "resign":
		s.emit(&Notice{Level: NoticeWarning, Text: "You have resigned from the game"})
	case "rematch":
		if m.rematchStarted {
			s.emit(&Notice{Level: NoticeInfo, Text: "Rematch started!"})
		} else {
			s.emit(&Notice{Level: NoticeInfo, Text: "Rematch vote recorded"})
		}
	}
}
