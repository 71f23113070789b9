// Package api is the HTTP client for the game server. Room identifiers carry
// an internal prefix on the backend that never appears in user-facing URLs;
// the prefix is added and stripped here and nowhere else.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/benaharon1/armageddon-chess-client/pkg/types"
)

var (
	ErrRoomNotFound = errors.New("room not found")
)

// ServerError carries a rejection reason from a 4xx response body.
type ServerError struct {
	Status int
	Code   string
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server rejected request: %s (http %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("server rejected request: http %d", e.Status)
}

// Well-known rejection codes.
const (
	CodeRoomFull   = "room_full"
	CodeNotInLobby = "not_in_lobby"
)

const roomIDPrefix = "room-"

// BackendRoomID maps a user-facing room id to the backend form.
func BackendRoomID(id string) string {
	if strings.HasPrefix(id, roomIDPrefix) {
		return id
	}
	return roomIDPrefix + id
}

// DisplayRoomID maps a backend room id to the user-facing form.
func DisplayRoomID(id string) string {
	return strings.TrimPrefix(id, roomIDPrefix)
}

type Client struct {
	base string
	http *http.Client
	log  *zap.Logger
}

func NewClient(baseURL string, log *zap.Logger) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log.Named("api"),
	}
}

// SocketURL builds the websocket endpoint for a room, swapping the scheme.
func (c *Client) SocketURL(roomID, playerID string) string {
	base := c.base
	if strings.HasPrefix(base, "https") {
		base = "wss" + strings.TrimPrefix(base, "https")
	} else if strings.HasPrefix(base, "http") {
		base = "ws" + strings.TrimPrefix(base, "http")
	}
	return fmt.Sprintf("%s/rooms/%s/ws?playerId=%s", base, BackendRoomID(roomID), playerID)
}

// CreateRoom asks the server for a fresh room and returns its user-facing id.
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	var out types.CreateRoomResponse
	if err := c.post(ctx, "/rooms", struct{}{}, &out); err != nil {
		return "", err
	}
	return DisplayRoomID(out.RoomID), nil
}

// GetRoom fetches the current snapshot. A 404 maps to ErrRoomNotFound: the
// room was cleaned up server-side and no longer accepts this client.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*types.Room, bool, error) {
	url := fmt.Sprintf("%s/rooms/%s", c.base, BackendRoomID(roomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch room: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, false, ErrRoomNotFound
	}
	if res.StatusCode != http.StatusOK {
		return nil, false, c.rejection(res)
	}
	var out types.RoomResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("decode room: %w", err)
	}
	if out.Room == nil {
		return nil, false, fmt.Errorf("no room in response")
	}
	return out.Room, out.StartExpired, nil
}

// Join enters the lobby. Re-joining with an id already present must not create
// a duplicate entry; the server treats it as idempotent.
func (c *Client) Join(ctx context.Context, roomID, playerID, name string) (*types.Room, error) {
	body := struct {
		PlayerID string `json:"playerId"`
		Name     string `json:"name"`
	}{playerID, name}
	var out types.RoomResponse
	if err := c.post(ctx, "/rooms/"+BackendRoomID(roomID)+"/join", body, &out); err != nil {
		return nil, err
	}
	if out.Room == nil {
		return nil, fmt.Errorf("join: no room in response")
	}
	return out.Room, nil
}

// StartBidding requests the lobby→bidding transition, or confirms a pending
// request made by the other player.
func (c *Client) StartBidding(ctx context.Context, roomID, playerID string) error {
	body := struct {
		PlayerID string `json:"playerId"`
	}{playerID}
	return c.post(ctx, "/rooms/"+BackendRoomID(roomID)+"/start-bidding", body, nil)
}

// SubmitBid submits a sealed bid in milliseconds.
func (c *Client) SubmitBid(ctx context.Context, roomID, playerID string, amountMs int64) error {
	body := struct {
		PlayerID string `json:"playerId"`
		Amount   int64  `json:"amount"`
	}{playerID, amountMs}
	return c.post(ctx, "/rooms/"+BackendRoomID(roomID)+"/submit-bid", body, nil)
}

func (c *Client) ChooseColor(ctx context.Context, roomID, playerID string, color types.Color) error {
	body := struct {
		PlayerID string      `json:"playerId"`
		Color    types.Color `json:"color"`
	}{playerID, color}
	return c.post(ctx, "/rooms/"+BackendRoomID(roomID)+"/choose-color", body, nil)
}

// Move submits a UCI move, optionally suffixed with a promotion letter.
func (c *Client) Move(ctx context.Context, roomID, playerID, uci string) (types.MoveResponse, error) {
	body := struct {
		PlayerID string `json:"playerId"`
		Move     string `json:"move"`
	}{playerID, uci}
	var out types.MoveResponse
	err := c.post(ctx, "/rooms/"+BackendRoomID(roomID)+"/move", body, &out)
	return out, err
}

// TimeForfeit reports a locally observed flag fall. The server stays the
// timing authority; it may disagree and the next snapshot wins.
func (c *Client) TimeForfeit(ctx context.Context, roomID, timedOutPlayerID string) error {
	body := struct {
		TimedOutPlayerID string `json:"timedOutPlayerId"`
	}{timedOutPlayerID}
	return c.post(ctx, "/rooms/"+BackendRoomID(roomID)+"/time-forfeit", body, nil)
}

func (c *Client) Resign(ctx context.Context, roomID, playerID string) error {
	body := struct {
		PlayerID string `json:"playerId"`
	}{playerID}
	return c.post(ctx, "/rooms/"+BackendRoomID(roomID)+"/resign", body, nil)
}

// RematchVote casts a rematch vote and reports whether the rematch started.
func (c *Client) RematchVote(ctx context.Context, roomID, playerID string, agree bool) (bool, error) {
	body := struct {
		PlayerID string `json:"playerId"`
		Agree    bool   `json:"agree"`
	}{playerID, agree}
	var out types.RematchResponse
	if err := c.post(ctx, "/rooms/"+BackendRoomID(roomID)+"/rematch", body, &out); err != nil {
		return false, err
	}
	return out.RematchStarted, nil
}

// Heartbeat signals liveness for a room over the plain request channel,
// independent of the socket.
func (c *Client) Heartbeat(ctx context.Context, roomID, playerID string) error {
	body := struct {
		PlayerID string `json:"playerId"`
	}{playerID}
	return c.post(ctx, "/rooms/"+BackendRoomID(roomID)+"/heartbeat", body, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return ErrRoomNotFound
	case res.StatusCode < 200 || res.StatusCode > 299:
		return c.rejection(res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// rejection converts a non-2xx response into a ServerError, keeping whatever
// reason the server put in the body.
func (c *Client) rejection(res *http.Response) error {
	var body types.ErrorBody
	_ = json.NewDecoder(res.Body).Decode(&body)
	c.log.Debug("server rejection",
		zap.Int("status", res.StatusCode),
		zap.String("code", body.Error))
	return &ServerError{Status: res.StatusCode, Code: body.Error}
}
