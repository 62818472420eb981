package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dkeye/Lobby/internal/app"
	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type ConnID string

const userLockStripes = 64

// ConnectionContext is the gateway's record of one transport connection.
// The core never sees it.
type ConnectionContext struct {
	ID          ConnID
	ClientToken string
	UserID      domain.UserID
	Room        domain.RoomName
	Spectator   bool

	conn core.SignalConnection
}

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

// Gateway maps transport connections to users and rooms, turns decoded
// messages into directory calls and fans the results out.
type Gateway struct {
	Dir     *app.Directory
	Limiter *JoinRateLimiter
	opts    Options

	mu     sync.RWMutex
	conns  map[ConnID]*ConnectionContext
	byUser map[domain.UserID]ConnID

	// userLocks serialize a user's reconnect against the detach of their
	// previous connection.
	userLocks [userLockStripes]sync.Mutex
}

func NewGateway(dir *app.Directory, limiter *JoinRateLimiter, opts Options) *Gateway {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	g := &Gateway{
		Dir:     dir,
		Limiter: limiter,
		opts:    opts,
		conns:   make(map[ConnID]*ConnectionContext),
		byUser:  make(map[domain.UserID]ConnID),
	}
	dir.Notifier = g
	return g
}

// Attach registers a connection that has not joined anything yet.
func (g *Gateway) Attach(conn core.SignalConnection, clientToken string) ConnID {
	id := ConnID(uuid.NewString())
	g.mu.Lock()
	g.conns[id] = &ConnectionContext{ID: id, ClientToken: clientToken, conn: conn}
	g.mu.Unlock()
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("connection attached")
	return id
}

// Detach forgets a closed connection. If it was the user's current
// connection, the directory is told the user disconnected.
func (g *Gateway) Detach(id ConnID) {
	if cc, ok := g.Context(id); ok && cc.UserID != "" {
		unlock := g.lockUser(cc.UserID)
		defer unlock()
	}

	g.mu.Lock()
	cc, ok := g.conns[id]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.conns, id)
	primary := cc.UserID != "" && g.byUser[cc.UserID] == id
	if primary {
		delete(g.byUser, cc.UserID)
	}
	g.mu.Unlock()
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("user", string(cc.UserID)).Msg("connection detached")

	if !primary {
		return
	}
	dep := g.Dir.UserDisconnected(cc.UserID)
	if dep.Room == "" {
		dep.Room = cc.Room
	}
	g.applyDeparture(dep)
}

// Context returns a copy of the connection's context.
func (g *Gateway) Context(id ConnID) (ConnectionContext, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cc, ok := g.conns[id]
	if !ok {
		return ConnectionContext{}, false
	}
	return *cc, true
}

// LobbyChanged broadcasts the lobby view to every connection.
func (g *Gateway) LobbyChanged(info core.HomeInfo) {
	frame, ok := encode(infoMsg{Type: TypeInfo, HomeInfo: info})
	if !ok {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, cc := range g.conns {
		g.deliver(cc, frame)
	}
}

// bind points the connection at the joined user. When the connection was the
// current one of a different user, that user is returned so the caller can
// release them.
func (g *Gateway) bind(id ConnID, res app.JoinResult) (prevUser domain.UserID, prevRoom domain.RoomName) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cc, ok := g.conns[id]
	if !ok {
		return "", ""
	}
	if cc.UserID != "" && cc.UserID != res.UserID && g.byUser[cc.UserID] == id {
		delete(g.byUser, cc.UserID)
		prevUser, prevRoom = cc.UserID, cc.Room
	}
	cc.UserID = res.UserID
	cc.Room = res.Room.Name()
	cc.Spectator = res.Spectator
	g.byUser[res.UserID] = id
	return prevUser, prevRoom
}

func (g *Gateway) lockUser(id domain.UserID) (unlock func()) {
	m := &g.userLocks[xxhash.Sum64String(string(id))%userLockStripes]
	m.Lock()
	return m.Unlock
}

// unbind clears the room association of every connection of user, keeping
// the connections open.
func (g *Gateway) unbind(user domain.UserID) []*ConnectionContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.byUser, user)
	var out []*ConnectionContext
	for _, cc := range g.conns {
		if cc.UserID == user {
			cc.UserID, cc.Room, cc.Spectator = "", "", false
			out = append(out, cc)
		}
	}
	return out
}

func (g *Gateway) deliver(cc *ConnectionContext, frame core.Frame) {
	if err := cc.conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(cc.ID)).Msg("drop frame")
	}
}

func (g *Gateway) sendTo(id ConnID, v any) {
	frame, ok := encode(v)
	if !ok {
		return
	}
	g.mu.RLock()
	cc, found := g.conns[id]
	g.mu.RUnlock()
	if found {
		g.deliver(cc, frame)
	}
}

// WsSignalConn is a WebSocket endpoint with a bounded outbound queue.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until either
// side closes it or ctx is done.
func (g *Gateway) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if g.opts.ReadLimit > 0 {
		ws.SetReadLimit(g.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, g.opts.SendBuffer),
	}
	id := g.Attach(conn, token)
	connCtx, cancel := context.WithCancel(ctx)

	go g.writePump(connCtx, conn)
	go func() {
		defer cancel()
		defer g.Detach(id)
		g.readPump(connCtx, id, conn)
	}()
}
