// Package wsadapter implements the WebSocket adapter: the same JSON
// command/event protocol the TCP adapter serves, minus the X25519 handshake
// and AEAD framing (spec §6.3 — the WebSocket transport already runs behind
// TLS at the edge, so confidentiality is the proxy's job, not this
// package's). It shares every domain service (auth, rooms, registry,
// dispatch) with the TCP adapter through command.Deps, and shares the
// command routing itself through command.Dispatch.
package wsadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lair-chat/server/internal/v1/apperr"
	"github.com/lair-chat/server/internal/v1/auth"
	"github.com/lair-chat/server/internal/v1/command"
	"github.com/lair-chat/server/internal/v1/logging"
	"github.com/lair-chat/server/internal/v1/metrics"
	"github.com/lair-chat/server/internal/v1/protocol"
	"github.com/lair-chat/server/internal/v1/ratelimit"
)

// sendQueueDepth bounds how many outbound frames a slow reader may have
// buffered before the writer starts dropping the oldest (spec §4.8), mirror
// of the TCP adapter's sendQueue.
const sendQueueDepth = 64

// authTimeout bounds how long a newly upgraded connection may wait for its
// first command (which must be Authenticate) before it is torn down.
const authTimeout = 10 * time.Second

// defaultAllowedOrigins is used when ALLOWED_ORIGINS is unset, matching the
// teacher's local-development fallback.
var defaultAllowedOrigins = []string{"http://localhost:3000"}

// Handler serves WebSocket upgrades for one server process, sharing deps
// with the TCP listener and gating connections through the same rate
// limiter used by the HTTP API.
type Handler struct {
	deps           *command.Deps
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string
}

// NewHandler builds a Handler. allowedOriginsCSV is the raw ALLOWED_ORIGINS
// config value (comma-separated); an empty string falls back to
// defaultAllowedOrigins.
func NewHandler(deps *command.Deps, rl *ratelimit.RateLimiter, allowedOriginsCSV string) *Handler {
	origins := defaultAllowedOrigins
	if allowedOriginsCSV != "" {
		origins = strings.Split(allowedOriginsCSV, ",")
	} else {
		logging.Warn(context.Background(), "wsadapter: ALLOWED_ORIGINS not set, using development defaults", zap.Strings("origins", defaultAllowedOrigins))
	}
	return &Handler{deps: deps, rateLimiter: rl, allowedOrigins: origins}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients (terminal client, tests) send no Origin header
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// conn is one upgraded WebSocket connection, carried from its mandatory
// first Authenticate command into steady-state command processing.
type conn struct {
	ws   *websocket.Conn
	h    *Handler
	send chan []byte
	done chan struct{}

	sessionID string
	userID    string
	username  string
}

// sendQueue implements registry.Outbound over this connection's buffered
// channel, dropping the oldest pending frame when the queue is full rather
// than blocking the dispatcher — the same backpressure policy the TCP
// adapter's sendQueue applies (spec §4.8).
type sendQueue struct{ c *conn }

func (q sendQueue) Send(payload []byte) (dropped bool) {
	select {
	case q.c.send <- payload:
		return false
	default:
		select {
		case <-q.c.send:
			dropped = true
		default:
		}
		select {
		case q.c.send <- payload:
		default:
		}
		return dropped
	}
}

func (q sendQueue) Close() error { return q.c.ws.Close() }

var upgraderWriteBufferPool = &sync.Pool{
	New: func() any { return make([]byte, 4096) },
}

// ServeWs upgrades the request to a WebSocket connection and serves it until
// the peer disconnects or a protocol violation tears the connection down.
// Registered as a gin handler (e.g. r.GET("/ws", handler.ServeWs)).
func (h *Handler) ServeWs(c *gin.Context) {
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return // CheckWebSocket already wrote the 429 response
	}

	upgrader := websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		WriteBufferPool: upgraderWriteBufferPool,
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "wsadapter: upgrade failed", zap.Error(err))
		return
	}

	cn := &conn{
		ws:   ws,
		h:    h,
		send: make(chan []byte, sendQueueDepth),
		done: make(chan struct{}),
	}
	defer cn.teardown()

	metrics.IncWSConnection()
	defer metrics.DecWSConnection()

	go cn.writePump()

	if err := cn.awaitAuthenticate(); err != nil {
		logging.Warn(context.Background(), "wsadapter: authenticate failed", zap.Error(err))
		return
	}

	cn.readLoop()
}

func (cn *conn) teardown() {
	close(cn.done)
	cn.ws.Close()
	if cn.sessionID != "" {
		wasLast, _ := cn.h.deps.Registry.Unregister(cn.sessionID)
		if wasLast {
			command.BroadcastPresence(cn.h.deps, cn.userID, protocol.EvtUserOffline)
		}
	}
}

// awaitAuthenticate reads the mandatory first command. Unlike the TCP
// adapter there is no handshake state machine to drive first — the
// connection is already confidential (TLS at the edge), so Authenticate is
// simply the first JSON text frame (spec §6.3).
func (cn *conn) awaitAuthenticate() error {
	cn.ws.SetReadDeadline(time.Now().Add(authTimeout))
	_, data, err := cn.ws.ReadMessage()
	if err != nil {
		return apperr.Wrap(apperr.Protocol, "read authenticate frame", err)
	}

	var cmd protocol.AuthenticateCmd
	if err := json.Unmarshal(data, &cmd); err != nil {
		return apperr.Wrap(apperr.Protocol, "decode authenticate command", err)
	}
	if cmd.Type != protocol.CmdAuthenticate {
		return apperr.Validationf("expected authenticate command, got %q", cmd.Type)
	}

	ctx := context.Background()
	result, err := command.AuthenticateUser(ctx, cn.h.deps, cmd)
	if err != nil {
		cn.sendAuthResponse(cmd.RequestID, false, apperr.KindOf(err), nil)
		return err
	}

	if cn.h.rateLimiter != nil {
		if err := cn.h.rateLimiter.CheckWebSocketUser(ctx, result.User.ID); err != nil {
			cn.sendAuthResponse(cmd.RequestID, false, apperr.Forbidden, nil)
			return err
		}
	}

	cn.userID = result.User.ID
	cn.username = result.User.Username
	live := cn.h.deps.Registry.RegisterPlain(result.User.ID, result.User.Username, cmd.Device, sendQueue{cn})
	cn.sessionID = live.SessionID

	cn.sendAuthResponse(cmd.RequestID, true, "", result)

	cn.h.deps.Rooms.JoinLobby(cn.userID)
	command.BroadcastPresence(cn.h.deps, cn.userID, protocol.EvtUserOnline)
	logging.Info(ctx, "wsadapter: authenticated", zap.String("user_id", cn.userID), zap.String("session_id", cn.sessionID))
	return nil
}

func (cn *conn) sendAuthResponse(requestID string, ok bool, reason apperr.Kind, result *auth.Result) {
	resp := command.BuildAuthResponse(requestID, ok, string(reason), result)
	cn.Reply(mustMarshal(resp))
}

func mustMarshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

// writePump is the only goroutine permitted to write to ws, mirroring the
// teacher's client.go readPump/writePump split so reads and writes never
// race on the same socket.
func (cn *conn) writePump() {
	writeWait := 10 * time.Second
	for {
		select {
		case payload, ok := <-cn.send:
			if !ok {
				return
			}
			cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-cn.done:
			return
		}
	}
}

// readLoop processes steady-state JSON command frames once Authenticate has
// succeeded. A ProtocolViolation is connection-fatal (spec §7): when Dispatch
// reports one, the loop ends and teardown (deferred in ServeWs) closes the
// socket instead of continuing to read.
func (cn *conn) readLoop() {
	for {
		cn.ws.SetReadDeadline(time.Time{})
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			return
		}
		if command.Dispatch(cn, data) {
			return
		}
	}
}

// UserID, Username, Deps, Reply, and Close satisfy command.Session.
func (cn *conn) UserID() string      { return cn.userID }
func (cn *conn) Username() string    { return cn.username }
func (cn *conn) Deps() *command.Deps { return cn.h.deps }

func (cn *conn) Reply(payload []byte) {
	select {
	case cn.send <- payload:
	case <-cn.done:
	}
}

func (cn *conn) Close() { cn.ws.Close() }
