package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (g *Gateway) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(g.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (g *Gateway) readPump(ctx context.Context, id ConnID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		c.Close()
	}()

	pongWait := g.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
				}
				return
			}
			g.Handle(id, data)
		}
	}
}

// Handle decodes one inbound frame and runs it. A panic in a handler is
// logged and reported to the sender as an internal error.
func (g *Gateway) Handle(id ConnID, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("conn", string(id)).Interface("panic", r).Msg("handler panic")
			g.sendError(id, "internal", "internal error")
		}
	}()

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		g.sendError(id, "bad_payload", "malformed message")
		return
	}

	switch env.Type {
	case TypeJoin:
		g.handleJoin(id, data)
	case TypeJoinSpectator:
		g.handleJoinSpectator(id, data)
	case TypeRequestUpdate:
		g.handleRequestUpdate(id)
	case TypeStart:
		g.handleStart(id)
	case TypeLeave:
		g.handleLeave(id)
	case TypeVoteKick:
		g.handleVoteKick(id, data)
	case TypePing:
		g.handlePing(id)
	case TypeWhoAmI:
		g.handleWhoAmI(id)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		g.sendError(id, "bad_payload", "unknown message type")
	}
}

func (g *Gateway) sendError(id ConnID, code, message string) {
	g.sendTo(id, errorMsg{Type: TypeError, Code: code, Message: message})
}

// reject reports err to the sender. Known room errors keep their message;
// anything else is logged and reported generically.
func (g *Gateway) reject(id ConnID, err error) {
	code := domain.Code(err)
	if code == "internal" {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("unexpected error")
		g.sendError(id, code, "internal error")
		return
	}
	g.sendError(id, code, err.Error())
}

func encode(v any) (core.Frame, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode")
		return nil, false
	}
	return b, true
}
