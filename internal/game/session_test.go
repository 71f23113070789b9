package game_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap/zaptest"

	"github.com/benaharon1/armageddon-chess-client/internal/api"
	"github.com/benaharon1/armageddon-chess-client/internal/game"
	"github.com/benaharon1/armageddon-chess-client/internal/identity"
	"github.com/benaharon1/armageddon-chess-client/internal/transport"
	"github.com/benaharon1/armageddon-chess-client/pkg/types"
)

const testTimeout = 3 * time.Second

var (
	me  = types.Player{ID: "me-1", Name: "Ana"}
	opp = types.Player{ID: "opp-1", Name: "Ben"}
)

// fakeBackend is a scripted game server: it serves the snapshot endpoints and
// records action requests; tests mutate the room and push updates over the
// socket to drive the session.
type fakeBackend struct {
	srv *httptest.Server

	mu       sync.Mutex
	room     *types.Room
	subs     map[chan *types.Room]struct{}
	joins    []string
	moves    []string
	forfeits []string
	bids     []int64
	colors   []types.Color
	moveErr  string // non-empty: reject moves with this code
}

func newFakeBackend(t *testing.T, room *types.Room) *fakeBackend {
	t.Helper()
	b := &fakeBackend{room: room, subs: map[chan *types.Room]struct{}{}}

	r := chi.NewRouter()
	r.Get("/rooms/{id}", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.room == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(types.RoomResponse{Room: b.room})
	})
	r.Post("/rooms/{id}/join", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			PlayerID string `json:"playerId"`
			Name     string `json:"name"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		b.mu.Lock()
		defer b.mu.Unlock()
		b.joins = append(b.joins, body.PlayerID)
		if b.room.IsFull() && !b.room.HasPlayer(body.PlayerID) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(types.ErrorBody{Error: api.CodeRoomFull})
			return
		}
		if !b.room.HasPlayer(body.PlayerID) {
			b.room.Players = append(b.room.Players, types.Player{ID: body.PlayerID, Name: body.Name})
		}
		_ = json.NewEncoder(w).Encode(types.RoomResponse{Room: b.room})
	})
	r.Post("/rooms/{id}/move", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Move string `json:"move"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.moveErr != "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(types.ErrorBody{Error: b.moveErr})
			return
		}
		b.moves = append(b.moves, body.Move)
		_ = json.NewEncoder(w).Encode(types.MoveResponse{})
	})
	r.Post("/rooms/{id}/time-forfeit", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			TimedOutPlayerID string `json:"timedOutPlayerId"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		b.mu.Lock()
		b.forfeits = append(b.forfeits, body.TimedOutPlayerID)
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/rooms/{id}/submit-bid", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Amount int64 `json:"amount"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		b.mu.Lock()
		b.bids = append(b.bids, body.Amount)
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/rooms/{id}/choose-color", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Color types.Color `json:"color"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		b.mu.Lock()
		b.colors = append(b.colors, body.Color)
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	for _, path := range []string{"start-bidding", "resign", "heartbeat"} {
		r.Post("/rooms/{id}/"+path, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}
	r.Post("/rooms/{id}/rematch", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(types.RematchResponse{RematchStarted: true})
	})
	r.Get("/rooms/{id}/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ch := b.subscribe()
		defer b.unsubscribe(ch)

		ctx := req.Context()
		b.mu.Lock()
		init := b.room
		b.mu.Unlock()
		b.writeFrame(ctx, conn, types.MsgInit, init)
		for {
			select {
			case <-ctx.Done():
				return
			case room := <-ch:
				b.writeFrame(ctx, conn, types.MsgUpdate, room)
			}
		}
	})

	b.srv = httptest.NewServer(r)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) writeFrame(ctx context.Context, conn *websocket.Conn, msgType string, room *types.Room) {
	data, _ := json.Marshal(types.SocketMessage{Type: msgType, Room: room})
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func (b *fakeBackend) subscribe() chan *types.Room {
	ch := make(chan *types.Room, 8)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *fakeBackend) unsubscribe(ch chan *types.Room) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// push replaces the room and broadcasts it to every open socket.
func (b *fakeBackend) push(room *types.Room) {
	b.mu.Lock()
	b.room = room
	for ch := range b.subs {
		select {
		case ch <- room:
		default:
		}
	}
	b.mu.Unlock()
}

func (b *fakeBackend) recordedMoves() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.moves...)
}

func (b *fakeBackend) recordedForfeits() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.forfeits...)
}

func lobbyRoom(players ...types.Player) *types.Room {
	return &types.Room{RoomID: "room-abc", Phase: types.PhaseLobby, MaxPlayers: 2, Players: players}
}

func playingRoom(myColor types.Color, moves ...string) *types.Room {
	colors := map[string]types.Color{me.ID: myColor, opp.ID: myColor.Other()}
	room := &types.Room{
		RoomID:     "room-abc",
		Phase:      types.PhasePlaying,
		MaxPlayers: 2,
		Players:    []types.Player{me, opp},
		Colors:     colors,
		Clocks: &types.Clocks{
			Turn:             types.White,
			WhiteRemainingMs: 5 * 60 * 1000,
			BlackRemainingMs: 4 * 60 * 1000,
			LastTickAt:       types.Epoch(time.Now()),
		},
	}
	for _, m := range moves {
		room.Moves = append(room.Moves, types.Move{Move: m, Timestamp: types.Epoch(time.Now())})
		room.Clocks.Turn = room.Clocks.Turn.Other()
	}
	return room
}

func newTestSession(t *testing.T, b *fakeBackend, tick time.Duration) *game.Session {
	t.Helper()
	client := api.NewClient(b.srv.URL, zaptest.NewLogger(t))
	opts := game.Options{
		ClockTick: tick,
		Transport: transport.Options{
			HeartbeatInterval: time.Hour,
			ReconnectDelay:    20 * time.Millisecond,
			ReconnectFactor:   1.0,
			PollInterval:      0, // sockets only: keeps the scripts deterministic
		},
	}
	s := game.New(context.Background(), client, identity.Identity{PlayerID: me.ID, Name: me.Name},
		"abc", opts, clockwork.NewRealClock(), zaptest.NewLogger(t))
	t.Cleanup(s.Close)
	return s
}

// waitUpdate drains the update stream until pred matches, failing on timeout
// or stream close.
func waitUpdate(t *testing.T, s *game.Session, what string, pred func(game.Update) bool) game.Update {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case u, ok := <-s.Updates():
			if !ok {
				t.Fatalf("updates closed while waiting for %s", what)
			}
			if pred(u) {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func waitNotice(t *testing.T, s *game.Session, text string) {
	t.Helper()
	waitUpdate(t, s, "notice "+text, func(u game.Update) bool {
		return u.Notice != nil && u.Notice.Text == text
	})
}

func TestJoinsRoomOnEntry(t *testing.T) {
	b := newFakeBackend(t, lobbyRoom(opp))
	s := newTestSession(t, b, time.Hour)

	u := waitUpdate(t, s, "roster with us", func(u game.Update) bool {
		return u.Room != nil && u.Room.HasPlayer(me.ID)
	})
	if u.Room.Phase != types.PhaseLobby {
		t.Errorf("Phase = %q", u.Room.Phase)
	}
	b.mu.Lock()
	joins := len(b.joins)
	b.mu.Unlock()
	if joins != 1 {
		t.Errorf("joins = %d, want 1", joins)
	}
}

func TestSkipsJoinWhenAlreadyListed(t *testing.T) {
	b := newFakeBackend(t, lobbyRoom(me, opp))
	s := newTestSession(t, b, time.Hour)

	waitUpdate(t, s, "initial snapshot", func(u game.Update) bool { return u.Room != nil })
	b.mu.Lock()
	joins := len(b.joins)
	b.mu.Unlock()
	if joins != 0 {
		t.Errorf("joins = %d, want 0", joins)
	}
}

func TestFullRoomTerminates(t *testing.T) {
	other := types.Player{ID: "other-1", Name: "Cid"}
	b := newFakeBackend(t, lobbyRoom(opp, other))
	s := newTestSession(t, b, time.Hour)

	u := waitUpdate(t, s, "termination", func(u game.Update) bool { return u.Terminated })
	if u.CarryName != me.Name {
		t.Errorf("CarryName = %q, want %q", u.CarryName, me.Name)
	}
	if u.Notice == nil {
		t.Error("termination carried no notice")
	}
}

func TestWrongTurnMoveNeverTransmitted(t *testing.T) {
	b := newFakeBackend(t, playingRoom(types.Black))
	s := newTestSession(t, b, time.Hour)

	waitUpdate(t, s, "connected", func(u game.Update) bool { return u.Connected })
	s.MoveUCI("e7e5")
	waitNotice(t, s, "Not your turn")
	if got := b.recordedMoves(); len(got) != 0 {
		t.Errorf("moves sent = %v, want none", got)
	}
}

func TestIllegalMoveNeverTransmitted(t *testing.T) {
	b := newFakeBackend(t, playingRoom(types.White))
	s := newTestSession(t, b, time.Hour)

	waitUpdate(t, s, "connected", func(u game.Update) bool { return u.Connected })
	s.MoveUCI("e2e5")
	waitNotice(t, s, "Illegal move - try again")
	if got := b.recordedMoves(); len(got) != 0 {
		t.Errorf("moves sent = %v, want none", got)
	}
}

func TestOptimisticMoveThenSnapshotReconciles(t *testing.T) {
	b := newFakeBackend(t, playingRoom(types.White))
	s := newTestSession(t, b, time.Hour)

	waitUpdate(t, s, "connected", func(u game.Update) bool { return u.Connected })
	s.MoveUCI("e2e4")

	// The board advances before the server answers.
	u := waitUpdate(t, s, "optimistic board", func(u game.Update) bool {
		return u.Board.HasLast && u.Board.LastMove == [2]string{"e2", "e4"}
	})
	if u.Board.Turn != types.Black {
		t.Errorf("Turn = %q after optimistic apply", u.Board.Turn)
	}

	deadline := time.After(testTimeout)
	for len(b.recordedMoves()) == 0 {
		select {
		case <-deadline:
			t.Fatal("move never reached the server")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := b.recordedMoves(); got[0] != "e2e4" {
		t.Errorf("server saw %v", got)
	}

	// The confirming snapshot rebuilds the same position.
	b.push(playingRoom(types.White, "e2e4"))
	waitUpdate(t, s, "confirmed snapshot", func(u game.Update) bool {
		return u.Room != nil && len(u.Room.Moves) == 1 && u.Board.Turn == types.Black
	})
}

func TestMoveRejectionSurfacedWithoutRollback(t *testing.T) {
	b := newFakeBackend(t, playingRoom(types.White))
	b.moveErr = "not_your_turn"
	s := newTestSession(t, b, time.Hour)

	waitUpdate(t, s, "connected", func(u game.Update) bool { return u.Connected })
	s.MoveUCI("e2e4")
	waitNotice(t, s, "Move rejected: not_your_turn")
}

func promotionMoves() []string {
	return []string{"a2a4", "b7b5", "a4b5", "a7a6", "b5a6", "g7g6", "a6a7", "g6g5"}
}

func TestPromotionSuspendsAndResumes(t *testing.T) {
	b := newFakeBackend(t, playingRoom(types.White, promotionMoves()...))
	s := newTestSession(t, b, time.Hour)

	waitUpdate(t, s, "connected", func(u game.Update) bool { return u.Connected })
	s.MoveUCI("a7b8")
	waitUpdate(t, s, "promotion prompt", func(u game.Update) bool {
		return u.Promotion != nil && u.Promotion.From == "a7" && u.Promotion.To == "b8"
	})
	if got := b.recordedMoves(); len(got) != 0 {
		t.Fatalf("suspended move was transmitted: %v", got)
	}

	s.ChoosePromotion("q")
	deadline := time.After(testTimeout)
	for len(b.recordedMoves()) == 0 {
		select {
		case <-deadline:
			t.Fatal("promotion move never reached the server")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := b.recordedMoves(); got[0] != "a7b8q" {
		t.Errorf("server saw %v, want a7b8q", got)
	}
}

func TestClickSelectionCompletesMove(t *testing.T) {
	b := newFakeBackend(t, playingRoom(types.White))
	s := newTestSession(t, b, time.Hour)

	waitUpdate(t, s, "connected", func(u game.Update) bool { return u.Connected })
	s.Select("e2")
	u := waitUpdate(t, s, "selection", func(u game.Update) bool { return u.Selection != nil })
	if u.Selection.Square != "e2" || len(u.Selection.Targets) != 2 {
		t.Errorf("Selection = %+v", u.Selection)
	}

	s.Select("e4")
	waitUpdate(t, s, "move via selection", func(u game.Update) bool {
		return u.Board.HasLast && u.Board.LastMove == [2]string{"e2", "e4"} && u.Selection == nil
	})
}

func TestTimeForfeitSentAtMostOnce(t *testing.T) {
	room := playingRoom(types.White)
	room.Clocks.WhiteRemainingMs = 100
	room.Clocks.LastTickAt = types.Epoch(time.Now().Add(-5 * time.Second))
	b := newFakeBackend(t, room)
	s := newTestSession(t, b, 20*time.Millisecond)

	u := waitUpdate(t, s, "provisional flag fall", func(u game.Update) bool {
		return u.GameOver != nil && u.GameOver.Result == types.ResultTimeForfeit
	})
	if !u.GameOver.Provisional {
		t.Error("flag fall should be provisional until the server confirms")
	}
	if u.GameOver.WinnerColor != types.Black {
		t.Errorf("WinnerColor = %q", u.GameOver.WinnerColor)
	}

	deadline := time.After(testTimeout)
	for len(b.recordedForfeits()) == 0 {
		select {
		case <-deadline:
			t.Fatal("forfeit notice never sent")
		case <-time.After(10 * time.Millisecond):
		}
	}
	// Many more ticks elapse; the notice must not repeat.
	time.Sleep(200 * time.Millisecond)
	got := b.recordedForfeits()
	if len(got) != 1 {
		t.Fatalf("forfeits = %v, want exactly one", got)
	}
	if got[0] != me.ID {
		t.Errorf("forfeit named %q, want the timed-out player %q", got[0], me.ID)
	}
}

func TestBidValidationAndConversion(t *testing.T) {
	room := lobbyRoom(me, opp)
	room.Phase = types.PhaseBidding
	b := newFakeBackend(t, room)
	s := newTestSession(t, b, time.Hour)

	waitUpdate(t, s, "connected", func(u game.Update) bool { return u.Connected })

	s.SubmitBid(0, 0)
	waitNotice(t, s, "Invalid bid time")
	s.SubmitBid(1, 75)
	waitNotice(t, s, "Invalid bid time")
	b.mu.Lock()
	bids := len(b.bids)
	b.mu.Unlock()
	if bids != 0 {
		t.Fatalf("invalid bids reached the server: %d", bids)
	}

	s.SubmitBid(1, 30)
	waitNotice(t, s, "Bid submitted!")
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.bids) != 1 || b.bids[0] != 90_000 {
		t.Errorf("bids = %v, want [90000]", b.bids)
	}
}

func TestColorPickGatedToCurrentPicker(t *testing.T) {
	room := lobbyRoom(me, opp)
	room.Phase = types.PhaseColorPick
	room.WinnerID = opp.ID
	room.LoserID = me.ID
	room.CurrentPicker = types.PickerWinner
	b := newFakeBackend(t, room)
	s := newTestSession(t, b, time.Hour)

	waitUpdate(t, s, "connected", func(u game.Update) bool { return u.Connected })
	s.ChooseColor(types.White)
	waitNotice(t, s, "It is not your pick")
	b.mu.Lock()
	picks := len(b.colors)
	b.mu.Unlock()
	if picks != 0 {
		t.Errorf("color picks reached the server: %d", picks)
	}

	// The pick passes to the loser.
	room2 := *room
	room2.CurrentPicker = types.PickerLoser
	b.push(&room2)
	waitUpdate(t, s, "picker handoff", func(u game.Update) bool {
		if u.Room == nil {
			return false
		}
		v, ok := u.Room.ColorPick()
		return ok && v.CanChoose(me.ID)
	})
	s.ChooseColor(types.Black)
	deadline := time.After(testTimeout)
	for {
		b.mu.Lock()
		n := len(b.colors)
		b.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("color choice never reached the server")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRematchRewindsGameOver(t *testing.T) {
	room := playingRoom(types.White)
	room.Phase = types.PhaseFinished
	room.Result = types.ResultResignation
	room.WinnerID = me.ID
	b := newFakeBackend(t, room)
	s := newTestSession(t, b, time.Hour)

	u := waitUpdate(t, s, "finished state", func(u game.Update) bool { return u.GameOver != nil })
	if u.GameOver.Provisional {
		t.Error("server-declared result marked provisional")
	}
	if u.GameOver.WinnerName != me.Name {
		t.Errorf("WinnerName = %q", u.GameOver.WinnerName)
	}

	s.VoteRematch(true)
	waitNotice(t, s, "Rematch started!")

	b.push(playingRoom(types.Black))
	waitUpdate(t, s, "fresh game", func(u game.Update) bool {
		return u.Room != nil && u.Room.Phase == types.PhasePlaying && u.GameOver == nil
	})
}

func TestClosedSnapshotTerminates(t *testing.T) {
	b := newFakeBackend(t, lobbyRoom(me, opp))
	s := newTestSession(t, b, time.Hour)

	waitUpdate(t, s, "connected", func(u game.Update) bool { return u.Connected })
	closed := *lobbyRoom(me, opp)
	closed.Closed = true
	b.push(&closed)

	waitUpdate(t, s, "termination", func(u game.Update) bool { return u.Terminated })
}
