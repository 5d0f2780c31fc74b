package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-xiangqi/internal/obslog"
	"github.com/park285/cheese-xiangqi/internal/store"
	"github.com/park285/cheese-xiangqi/pkg/xiangqidto"
)

// Verifier resolves a handshake token to a player id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Presence is told when a player's connection opens and closes.
type Presence interface {
	Connect(ctx context.Context, playerID string)
	Disconnect(ctx context.Context, playerID string) error
}

// Members resolves room and watcher targets to player ids.
type Members interface {
	PlayersInRoom(ctx context.Context, roomID string) ([]store.PlayerState, error)
	WatchersOf(ctx context.Context, roomID string) ([]store.PlayerState, error)
}

type HubOptions struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	SendBuffer     int
}

type client struct {
	id       string
	playerID string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func (c *client) close() { c.once.Do(func() { close(c.done) }) }

// Hub owns the live connections of this instance, one per player.
type Hub struct {
	router   *Router
	auth     Verifier
	presence Presence
	members  Members
	opts     HubOptions

	mu      sync.RWMutex
	players map[string]*client
}

func NewHub(router *Router, auth Verifier, presence Presence, members Members, opts HubOptions) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 15 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Hub{
		router:   router,
		auth:     auth,
		presence: presence,
		members:  members,
		opts:     opts,
		players:  make(map[string]*client),
	}
}

// Len reports how many players are connected to this instance.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.players)
}

func handshakeToken(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	return strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	playerID, err := h.auth.Verify(r.Context(), handshakeToken(r))
	if err != nil {
		obslog.L().Warn("ws_auth_failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	opts := &websocket.AcceptOptions{CompressionMode: websocket.CompressionNoContextTakeover}
	if len(h.opts.AllowedOrigins) > 0 {
		opts.OriginPatterns = h.opts.AllowedOrigins
	} else {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.String("player_id", playerID), zap.Error(err))
		return
	}

	c := &client{
		id:       uuid.NewString(),
		playerID: playerID,
		conn:     conn,
		send:     make(chan []byte, h.opts.SendBuffer),
		done:     make(chan struct{}),
	}
	h.register(c)
	obslog.L().Info("ws_connected", zap.String("player_id", playerID), zap.String("conn_id", c.id))
	if h.presence != nil {
		h.presence.Connect(r.Context(), playerID)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.writeLoop(ctx, c)
	h.readLoop(ctx, c)

	c.close()
	if h.unregister(c) && h.presence != nil {
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.presence.Disconnect(dctx, playerID); err != nil {
			obslog.L().Warn("presence_disconnect_failed", zap.String("player_id", playerID), zap.Error(err))
		}
		dcancel()
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	obslog.L().Info("ws_disconnected", zap.String("player_id", playerID), zap.String("conn_id", c.id))
}

// register installs c, closing any older connection of the same player.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	old := h.players[c.playerID]
	h.players[c.playerID] = c
	h.mu.Unlock()
	if old != nil {
		old.close()
		_ = old.conn.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
	}
}

// unregister removes c unless a newer connection already replaced it.
func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.players[c.playerID] != c {
		return false
	}
	delete(h.players, c.playerID)
	return true
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				obslog.L().Debug("ws_read_failed", zap.String("player_id", c.playerID), zap.Error(err))
			}
			return
		}
		var req xiangqidto.Request
		if err := json.Unmarshal(data, &req); err != nil {
			h.reply(c, h.router.translate(nil, xiangqidto.ErrValidation.With("malformed request")))
			continue
		}
		// identity comes from the handshake, never from the frame
		req.PlayerID = c.playerID
		h.reply(c, h.router.Dispatch(ctx, &req))
	}
}

func (h *Hub) reply(c *client, env *xiangqidto.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		obslog.L().Error("envelope_encode_failed", zap.String("op", env.Op), zap.Error(err))
		return
	}
	h.enqueue(c, raw)
}

func (h *Hub) enqueue(c *client, raw []byte) {
	select {
	case <-c.done:
	case c.send <- raw:
	default:
		obslog.L().Warn("ws_send_dropped", zap.String("player_id", c.playerID), zap.Int("buffer", cap(c.send)))
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	ping := time.NewTicker(h.opts.PingInterval)
	defer ping.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				obslog.L().Debug("ws_write_failed", zap.String("player_id", c.playerID), zap.Error(err))
				_ = c.conn.Close(websocket.StatusGoingAway, "write failure")
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = c.conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

// Deliver routes a published event to the local connections it targets.
func (h *Hub) Deliver(ev xiangqidto.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		obslog.L().Error("event_encode_failed", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	for _, c := range h.recipients(ev) {
		h.enqueue(c, raw)
	}
}

func (h *Hub) recipients(ev xiangqidto.Event) []*client {
	if ev.TargetKind == xiangqidto.TargetAll {
		h.mu.RLock()
		defer h.mu.RUnlock()
		out := make([]*client, 0, len(h.players))
		for _, c := range h.players {
			out = append(out, c)
		}
		return out
	}

	var ids []string
	switch ev.TargetKind {
	case xiangqidto.TargetPlayer:
		ids = []string{ev.Target}
	case xiangqidto.TargetRoom, xiangqidto.TargetWatchers:
		if h.members == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var groups [][]store.PlayerState
		if ev.TargetKind == xiangqidto.TargetRoom {
			seated, err := h.members.PlayersInRoom(ctx, ev.Target)
			if err != nil {
				obslog.L().Warn("event_members_failed", zap.String("room_id", ev.Target), zap.Error(err))
				return nil
			}
			groups = append(groups, seated)
		}
		watchers, err := h.members.WatchersOf(ctx, ev.Target)
		if err != nil {
			obslog.L().Warn("event_watchers_failed", zap.String("room_id", ev.Target), zap.Error(err))
			return nil
		}
		groups = append(groups, watchers)
		for _, g := range groups {
			for _, ps := range g {
				ids = append(ids, ps.PlayerID)
			}
		}
	default:
		obslog.L().Warn("event_target_unknown", zap.String("type", ev.Type), zap.String("target_kind", ev.TargetKind))
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.players[id]; ok {
			out = append(out, c)
		}
	}
	return out
}
