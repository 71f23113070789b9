// Package game owns the client side of a room: the phase projection, the
// optimistic move pipeline, the live clock, and re-join across reloads. One
// goroutine owns the (snapshot, board) pair and replaces it atomically; every
// inbound snapshot is applied by wholesale replacement, never merged.
package game

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/benaharon1/armageddon-chess-client/internal/api"
	"github.com/benaharon1/armageddon-chess-client/internal/clock"
	"github.com/benaharon1/armageddon-chess-client/internal/engine"
	"github.com/benaharon1/armageddon-chess-client/internal/identity"
	"github.com/benaharon1/armageddon-chess-client/internal/transport"
	"github.com/benaharon1/armageddon-chess-client/pkg/types"
)

const callTimeout = 10 * time.Second

type Options struct {
	ClockTick time.Duration
	Transport transport.Options
}

// Session is the room session actor. Public methods post intents to the loop
// and never block on network I/O themselves.
type Session struct {
	api   *api.Client
	id    identity.Identity
	room  string
	opts  Options
	clock clockwork.Clock
	log   *zap.Logger

	inbox   chan msg
	updates chan Update
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// Everything below is owned by the loop goroutine.
	snap      *types.Room
	board     *engine.Board
	connected bool
	selection *Selection
	promotion *PromotionPrompt
	gameOver  *GameOver
	forfeit   *clock.ForfeitGuard
	rejoined  bool
	tr        *transport.Transport
}

type msg interface{ isSessionMsg() }

type reqStart struct{}
type reqBid struct{ minutes, seconds int }
type reqColor struct{ color types.Color }
type reqMove struct{ uci string }
type reqSelect struct{ square string }
type reqClearSelect struct{}
type reqPromotion struct{ piece string }
type reqResign struct{}
type reqRematch struct{ agree bool }

// joined is the async result of the initial join or a background re-join.
type joined struct {
	room *types.Room
	err  error
}

// moveSent is the server's answer to an optimistically applied move.
type moveSent struct {
	uci  string
	resp types.MoveResponse
	err  error
}

// callDone reports completion of a fire-and-forget action request.
type callDone struct {
	op             string
	err            error
	rematchStarted bool
}

func (reqStart) isSessionMsg()       {}
func (reqBid) isSessionMsg()         {}
func (reqColor) isSessionMsg()       {}
func (reqMove) isSessionMsg()        {}
func (reqSelect) isSessionMsg()      {}
func (reqClearSelect) isSessionMsg() {}
func (reqPromotion) isSessionMsg()   {}
func (reqResign) isSessionMsg()      {}
func (reqRematch) isSessionMsg()     {}
func (joined) isSessionMsg()         {}
func (moveSent) isSessionMsg()       {}
func (callDone) isSessionMsg()       {}

// New starts a session for one room. The loop joins the room (idempotently),
// opens the sync transport, and runs until Close or room termination.
func New(parent context.Context, apiClient *api.Client, id identity.Identity, roomID string, opts Options, clk clockwork.Clock, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		api:     apiClient,
		id:      id,
		room:    roomID,
		opts:    opts,
		clock:   clk,
		log:     log.Named("session").With(zap.String("room", roomID)),
		inbox:   make(chan msg, 64),
		updates: make(chan Update, 8),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		forfeit: &clock.ForfeitGuard{},
	}
	go s.loop()
	return s
}

// Updates is the rendering event stream for the UI layer. It is closed when
// the session ends.
func (s *Session) Updates() <-chan Update { return s.updates }

// Close tears the session down: transport closed with a normal code, all
// timers cancelled, no callback left able to mutate state afterwards.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) send(m msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Session) loop() {
	defer close(s.done)
	defer close(s.updates)
	defer func() {
		if s.tr != nil {
			s.tr.Close()
		}
	}()

	go s.initialJoin()

	ticker := s.clock.NewTicker(s.opts.ClockTick)
	defer ticker.Stop()

	// Stays nil (blocking forever) until the transport is up.
	var trOut <-chan transport.Msg

	for {
		select {
		case <-s.ctx.Done():
			return

		case m := <-s.inbox:
			if s.handle(m) {
				return
			}
			if s.tr == nil && s.snap != nil {
				s.tr = transport.New(s.ctx, s.api, s.room, s.id.PlayerID, s.opts.Transport, s.clock, s.log)
				trOut = s.tr.Out()
			}

		case tm := <-trOut:
			if s.handleTransport(tm) {
				return
			}

		case <-ticker.Chan():
			s.tick()
		}
	}
}

// initialJoin fetches the room and joins it if our persisted identity is not
// already listed. Join is idempotent server-side.
func (s *Session) initialJoin() {
	ctx, cancel := context.WithTimeout(s.ctx, callTimeout)
	defer cancel()

	room, startExpired, err := s.api.GetRoom(ctx, s.room)
	if err != nil {
		s.send(joined{err: err})
		return
	}
	if room.Closed || startExpired {
		s.send(joined{err: api.ErrRoomNotFound})
		return
	}
	if room.HasPlayer(s.id.PlayerID) {
		s.send(joined{room: room})
		return
	}
	room, err = s.api.Join(ctx, s.room, s.id.PlayerID, s.id.Name)
	s.send(joined{room: room, err: err})
}

// handle processes one inbox message; a true return ends the loop.
func (s *Session) handle(m msg) bool {
	switch m := m.(type) {
	case joined:
		return s.handleJoined(m)
	case reqStart:
		s.go1("start", func(ctx context.Context) error {
			return s.api.StartBidding(ctx, s.room, s.id.PlayerID)
		})
	case reqBid:
		s.submitBid(m.minutes, m.seconds)
	case reqColor:
		s.chooseColor(m.color)
	case reqMove:
		s.tryMove(m.uci)
	case reqSelect:
		s.selectSquare(m.square)
	case reqClearSelect:
		if s.selection != nil {
			s.selection = nil
			s.emit(nil)
		}
	case reqPromotion:
		s.resumePromotion(m.piece)
	case reqResign:
		s.go1("resign", func(ctx context.Context) error {
			return s.api.Resign(ctx, s.room, s.id.PlayerID)
		})
	case reqRematch:
		s.voteRematch(m.agree)
	case moveSent:
		s.handleMoveSent(m)
	case callDone:
		s.handleCallDone(m)
	}
	return false
}

func (s *Session) handleJoined(m joined) bool {
	if m.err != nil {
		var srvErr *api.ServerError
		switch {
		case errors.Is(m.err, api.ErrRoomNotFound):
			s.terminate("Room no longer exists — sending you back to lobby")
			return true
		case errors.As(m.err, &srvErr) && (srvErr.Code == api.CodeRoomFull || srvErr.Code == api.CodeNotInLobby):
			s.terminate("This room is already full or the game has started")
			return true
		default:
			s.log.Warn("join failed", zap.Error(m.err))
			s.emit(&Notice{Level: NoticeError, Text: "Failed to join room"})
			return false
		}
	}
	s.applySnapshot(m.room)
	return false
}

func (s *Session) handleTransport(m transport.Msg) bool {
	switch m := m.(type) {
	case transport.SnapshotMsg:
		s.applySnapshot(m.Room)
	case transport.StatusMsg:
		s.connected = m.Connected
		s.emit(nil)
	case transport.TerminatedMsg:
		s.terminate("Room closed — returning to lobby")
		return true
	}
	return false
}

// applySnapshot replaces the owned state wholesale: the snapshot pointer is
// swapped and the board rebuilt from the canonical move list. Out-of-order or
// duplicate snapshots are safe; last applied wins.
func (s *Session) applySnapshot(room *types.Room) {
	if room.Closed {
		s.terminate("Room closed — returning to lobby")
		return
	}
	prevPhase := types.Phase("")
	if s.snap != nil {
		prevPhase = s.snap.Phase
	}
	s.snap = room

	board, err := engine.Replay(room.Moves)
	if err != nil {
		s.log.Warn("replay", zap.Error(err))
	}
	s.board = board

	// A rematch rewinds the phase; the new game gets a fresh cycle.
	if prevPhase == types.PhaseFinished && room.Phase != types.PhaseFinished {
		s.forfeit = &clock.ForfeitGuard{}
		s.gameOver = nil
		s.promotion = nil
		s.selection = nil
	}

	s.reconcileResult()

	// Selection is only meaningful while it is our move.
	if myColor, ok := room.ColorOf(s.id.PlayerID); !ok || s.board.Turn() != myColor {
		s.selection = nil
	}

	// Reloads can race a server-side eviction; re-join once with the
	// persisted identity if we dropped off the roster.
	if !room.HasPlayer(s.id.PlayerID) && !s.rejoined {
		s.rejoined = true
		s.log.Info("not listed in room, attempting re-join")
		go func() {
			ctx, cancel := context.WithTimeout(s.ctx, callTimeout)
			defer cancel()
			rejoined, err := s.api.Join(ctx, s.room, s.id.PlayerID, s.id.Name)
			s.send(joined{room: rejoined, err: err})
		}()
	}

	s.emit(nil)
}

// reconcileResult derives the game-over state from the snapshot alone. The
// provisional value is recomputed, never merged, so a false-positive local
// timeout is reverted the moment the server disagrees.
func (s *Session) reconcileResult() {
	room := s.snap
	switch {
	case room.Phase == types.PhaseFinished:
		over := &GameOver{Result: room.Result, Reason: room.Reason}
		if room.WinnerID != "" {
			over.WinnerID = room.WinnerID
			if p, ok := room.PlayerByID(room.WinnerID); ok {
				over.WinnerName = p.Name
			}
			if c, ok := room.ColorOf(room.WinnerID); ok {
				over.WinnerColor = c
			}
		}
		s.gameOver = over

	case room.Phase == types.PhasePlaying && room.Result == "" && room.WinnerID == "":
		s.gameOver = nil
		if res, winner, ok := s.board.Outcome(); ok {
			s.setProvisionalOutcome(res, winner)
		} else if room.Clocks != nil {
			if timedOut, ok := clock.TimedOut(*room.Clocks, s.clock.Now()); ok {
				s.flagFall(timedOut)
			}
		}

	default:
		s.gameOver = nil
	}
}

// tick recomputes the live clocks between snapshots so the display is smooth,
// and detects a flag falling locally.
func (s *Session) tick() {
	if s.snap == nil {
		return
	}
	if s.snap.Phase == types.PhasePlaying && s.snap.Result == "" && s.snap.WinnerID == "" &&
		s.gameOver == nil && s.snap.Clocks != nil {
		if timedOut, ok := clock.TimedOut(*s.snap.Clocks, s.clock.Now()); ok {
			s.flagFall(timedOut)
		}
	}
	s.emit(nil)
}

// flagFall shows the provisional win-on-time and sends the one-shot forfeit
// notice naming the timed-out player. No retry on failure; the next snapshot
// is authoritative either way.
func (s *Session) flagFall(timedOut types.Color) {
	s.setProvisionalOutcome(types.ResultTimeForfeit, timedOut.Other())
	if !s.forfeit.TryFire() {
		return
	}
	loser, ok := s.snap.PlayerByColor(timedOut)
	if !ok {
		return
	}
	s.log.Info("local flag fall", zap.String("timedOut", string(timedOut)))
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, callTimeout)
		defer cancel()
		if err := s.api.TimeForfeit(ctx, s.room, loser.ID); err != nil {
			s.log.Warn("time-forfeit notice failed", zap.Error(err))
		}
	}()
}

// setProvisionalOutcome records a locally detected result for immediate
// feedback. winner is empty for a draw.
func (s *Session) setProvisionalOutcome(res types.Result, winner types.Color) {
	over := &GameOver{Result: res, Provisional: true}
	if winner != "" {
		over.WinnerColor = winner
		if p, ok := s.snap.PlayerByColor(winner); ok {
			over.WinnerID = p.ID
			over.WinnerName = p.Name
		}
	}
	s.gameOver = over
}

func (s *Session) terminate(text string) {
	s.emitFull(Update{
		Terminated: true,
		CarryName:  s.id.Name,
		Notice:     &Notice{Level: NoticeWarning, Text: text},
	})
	s.cancel()
}

// emit pushes the current rendering state, optionally with a transient notice.
func (s *Session) emit(n *Notice) {
	u := Update{Notice: n}
	s.emitFull(u)
}

func (s *Session) emitFull(u Update) {
	u.Now = s.clock.Now()
	u.Room = s.snap
	u.Connected = s.connected
	u.Selection = s.selection
	u.Promotion = s.promotion
	u.GameOver = s.gameOver
	if s.board != nil {
		u.Board = BoardView{
			FEN:  s.board.FEN(),
			PGN:  s.board.PGN(),
			Turn: s.board.Turn(),
		}
		if last, ok := s.board.LastMove(); ok {
			u.Board.LastMove = [2]string{last.From, last.To}
			u.Board.HasLast = true
		}
	}
	if s.snap != nil && s.snap.Clocks != nil {
		u.WhiteRemaining, u.BlackRemaining = clock.Remaining(*s.snap.Clocks, u.Now)
	}
	select {
	case s.updates <- u:
	case <-s.ctx.Done():
	}
}
