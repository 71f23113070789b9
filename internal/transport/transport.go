// Package transport keeps one live channel to the server per room per player:
// a websocket carrying full-snapshot init/update frames, a parallel HTTP
// heartbeat, reconnection after abnormal closes, and a bounded fallback
// polling loop while the socket is down. Everything inbound is normalized
// into a single stream of typed messages.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/benaharon1/armageddon-chess-client/internal/api"
	"github.com/benaharon1/armageddon-chess-client/pkg/types"
)

type Msg interface{ isTransportMsg() }

// Origin records which channel a snapshot arrived on.
type Origin string

const (
	OriginInit   Origin = "init"
	OriginUpdate Origin = "update"
	OriginPoll   Origin = "poll"
)

// SnapshotMsg delivers a complete room snapshot. Consumers replace their
// state wholesale; arrival order is the only ordering.
type SnapshotMsg struct {
	Room   *types.Room
	Origin Origin
}

// StatusMsg reports socket liveness changes.
type StatusMsg struct {
	Connected bool
}

// TerminatedMsg means the room no longer accepts this client: it was closed
// or cleaned up server-side. The transport has already stopped itself.
type TerminatedMsg struct {
	Reason string
}

func (SnapshotMsg) isTransportMsg()   {}
func (StatusMsg) isTransportMsg()     {}
func (TerminatedMsg) isTransportMsg() {}

// Options are the server-defined contracts of the sync channel. None of them
// are guessed; defaults live in internal/config.
type Options struct {
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	ReconnectFactor   float64
	ReconnectMax      time.Duration
	PollInterval      time.Duration
	PollWindow        time.Duration
}

type Transport struct {
	api      *api.Client
	roomID   string
	playerID string
	opts     Options
	clock    clockwork.Clock
	log      *zap.Logger

	out    chan Msg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	poll       *pollHandle
	terminated bool
}

type pollHandle struct {
	cancel context.CancelFunc
}

func New(parent context.Context, apiClient *api.Client, roomID, playerID string, opts Options, clk clockwork.Clock, log *zap.Logger) *Transport {
	ctx, cancel := context.WithCancel(parent)
	t := &Transport{
		api:      apiClient,
		roomID:   roomID,
		playerID: playerID,
		opts:     opts,
		clock:    clk,
		log:      log.Named("transport").With(zap.String("room", roomID)),
		out:      make(chan Msg, 8),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go t.run()
	return t
}

// Out is the normalized inbound event stream.
func (t *Transport) Out() <-chan Msg { return t.out }

// Close tears the transport down: socket closed with a normal code, every
// timer cancelled, no callback left able to emit after return.
func (t *Transport) Close() {
	t.cancel()
	<-t.done
}

func (t *Transport) run() {
	defer close(t.done)
	defer t.stopPolling()

	delay := t.opts.ReconnectDelay
	for {
		if t.ctx.Err() != nil {
			return
		}

		// Poll while the handshake is in flight so state keeps advancing
		// even through a slow or failed dial.
		t.startPolling()

		err := t.connect()
		switch {
		case t.ctx.Err() != nil:
			return
		case errors.Is(err, errNormalClose):
			t.log.Debug("socket closed normally, not reconnecting")
			return
		case errors.Is(err, errTerminated):
			return
		case err == nil:
			// Connection served traffic before dropping abnormally; start
			// the backoff schedule over.
			delay = t.opts.ReconnectDelay
		}

		t.emit(StatusMsg{Connected: false})
		t.log.Debug("reconnecting", zap.Duration("delay", delay), zap.Error(err))
		t.startPolling()
		select {
		case <-t.ctx.Done():
			return
		case <-t.clock.After(delay):
		}
		delay = t.nextDelay(delay)
	}
}

func (t *Transport) nextDelay(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * t.opts.ReconnectFactor)
	if max := t.opts.ReconnectMax; max > 0 && next > max {
		next = max
	}
	return next
}

var (
	errNormalClose = errors.New("normal closure")
	errTerminated  = errors.New("room terminated")
)

// connect dials the socket and reads frames until the connection drops.
// It returns nil for an abnormal drop after a healthy session, errNormalClose
// for a deliberate close, errTerminated when the room is gone.
func (t *Transport) connect() error {
	url := t.api.SocketURL(t.roomID, t.playerID)
	conn, _, err := websocket.Dial(t.ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	t.emit(StatusMsg{Connected: true})
	t.stopPolling()

	// Heartbeat runs on the parallel request channel only while this socket
	// is open.
	hbCtx, hbCancel := context.WithCancel(t.ctx)
	defer hbCancel()
	go t.heartbeatLoop(hbCtx)

	for {
		_, data, err := conn.Read(t.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return errNormalClose
			}
			if t.ctx.Err() != nil {
				return errNormalClose
			}
			return nil // abnormal drop: caller reconnects
		}

		var msg types.SocketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Warn("bad socket frame", zap.Error(err))
			continue
		}
		if msg.Room == nil {
			continue
		}
		if msg.Room.Closed {
			t.terminate("room closed")
			return errTerminated
		}
		origin := OriginUpdate
		if msg.Type == types.MsgInit {
			origin = OriginInit
		}
		t.emit(SnapshotMsg{Room: msg.Room, Origin: origin})
	}
}

func (t *Transport) heartbeatLoop(ctx context.Context) {
	ticker := t.clock.NewTicker(t.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			hbCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if err := t.api.Heartbeat(hbCtx, t.roomID, t.playerID); err != nil {
				// Liveness only; the next beat will try again.
				t.log.Debug("heartbeat failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// startPolling runs the bounded fallback loop. At most one poller is active;
// it cancels itself after the window elapses.
func (t *Transport) startPolling() {
	if t.opts.PollInterval <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.poll != nil || t.terminated {
		return
	}
	ctx, cancel := context.WithCancel(t.ctx)
	h := &pollHandle{cancel: cancel}
	t.poll = h

	go func() {
		defer t.clearPoll(h)
		ticker := t.clock.NewTicker(t.opts.PollInterval)
		defer ticker.Stop()
		deadline := t.clock.After(t.opts.PollWindow)
		for {
			select {
			case <-ctx.Done():
				return
			case <-deadline:
				t.log.Debug("fallback polling window elapsed")
				return
			case <-ticker.Chan():
				t.pollOnce(ctx)
			}
		}
	}()
}

func (t *Transport) pollOnce(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	room, startExpired, err := t.api.GetRoom(reqCtx, t.roomID)
	switch {
	case errors.Is(err, api.ErrRoomNotFound):
		t.terminate("room not found")
		t.cancel()
	case err != nil:
		t.log.Debug("poll failed", zap.Error(err))
	case room.Closed || startExpired:
		t.terminate("room closed")
		t.cancel()
	default:
		t.emit(SnapshotMsg{Room: room, Origin: OriginPoll})
	}
}

func (t *Transport) stopPolling() {
	t.mu.Lock()
	h := t.poll
	t.poll = nil
	t.mu.Unlock()
	if h != nil {
		h.cancel()
	}
}

func (t *Transport) clearPoll(h *pollHandle) {
	h.cancel()
	t.mu.Lock()
	// Only clear our own registration; a newer poller may have started.
	if t.poll == h {
		t.poll = nil
	}
	t.mu.Unlock()
}

// terminate emits TerminatedMsg exactly once.
func (t *Transport) terminate(reason string) {
	t.mu.Lock()
	already := t.terminated
	t.terminated = true
	t.mu.Unlock()
	if !already {
		t.emit(TerminatedMsg{Reason: reason})
	}
}

func (t *Transport) emit(m Msg) {
	select {
	case t.out <- m:
	case <-t.ctx.Done():
	}
}
