package signal

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/Lobby/internal/app"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/rs/zerolog/log"
)

func (g *Gateway) handleJoin(id ConnID, data []byte) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad join payload")
		g.sendError(id, "bad_payload", "malformed join")
		return
	}
	cc, ok := g.Context(id)
	if !ok {
		return
	}
	if !g.allowJoin(cc) {
		g.sendError(id, "rate_limited", "too many join attempts")
		return
	}
	if p.UserID == "" {
		p.UserID = string(cc.UserID)
	}
	userID, err := domain.ParseUserID(p.UserID)
	if err != nil {
		g.reject(id, err)
		return
	}
	if userID != "" {
		unlock := g.lockUser(userID)
		defer unlock()
	}

	log.Info().Str("module", "signal").Str("conn", string(id)).Str("room", p.RoomName).Str("name", p.UserName).Msg("join")
	res, err := g.Dir.Join(app.JoinRequest{
		UserID:   userID,
		RoomName: p.RoomName,
		UserName: p.UserName,
		Config:   p.Config,
	})
	if errors.Is(err, domain.ErrRoomFull) || errors.Is(err, domain.ErrRoomStarted) {
		if room, ok := g.Dir.GetRoom(p.RoomName); ok && room.Config().SpectatorsAllowed {
			log.Debug().Str("module", "signal").Str("room", string(room.Name())).Msg("cannot join as member, joining as spectator")
			g.joinSpectator(id, p.RoomName, p.UserName)
			return
		}
		g.reject(id, domain.ErrSpectatingNotAllowed)
		return
	}
	if err != nil {
		g.reject(id, err)
		return
	}
	g.joined(id, res)
}

func (g *Gateway) handleJoinSpectator(id ConnID, data []byte) {
	var p spectatorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		g.sendError(id, "bad_payload", "malformed join_spectator")
		return
	}
	cc, ok := g.Context(id)
	if !ok {
		return
	}
	if !g.allowJoin(cc) {
		g.sendError(id, "rate_limited", "too many join attempts")
		return
	}
	g.joinSpectator(id, p.RoomName, p.UserName)
}

func (g *Gateway) joinSpectator(id ConnID, roomName, userName string) {
	res, err := g.Dir.JoinAsSpectator(roomName, userName)
	if err != nil {
		g.reject(id, err)
		return
	}
	g.joined(id, res)
}

func (g *Gateway) joined(id ConnID, res app.JoinResult) {
	prevUser, prevRoom := g.bind(id, res)
	g.sendTo(id, joinedMsg{
		Type:        TypeJoined,
		UserID:      res.UserID,
		Room:        res.Room.Name(),
		Spectator:   res.Spectator,
		Redirected:  res.Redirected,
		StaleUserID: res.StaleUserID,
	})
	g.sendUsersUpdate(res.Room.Name())

	if prevUser != "" {
		log.Info().Str("module", "signal").Str("conn", string(id)).Str("user", string(prevUser)).Str("room", string(prevRoom)).Msg("connection switched user, releasing previous")
		g.applyDeparture(g.Dir.UserLeft(string(prevRoom), prevUser))
	}
}

func (g *Gateway) handleRequestUpdate(id ConnID) {
	cc, ok := g.Context(id)
	if !ok {
		return
	}
	snap, err := g.Dir.Snapshot(string(cc.Room))
	if err != nil {
		g.reject(id, err)
		return
	}
	g.sendTo(id, usersUpdateMsg{Type: TypeUsersUpdate, Snapshot: snap})
}

func (g *Gateway) handleStart(id ConnID) {
	cc, ok := g.Context(id)
	if !ok {
		return
	}
	if err := g.Dir.Start(string(cc.Room), cc.UserID); err != nil {
		g.reject(id, err)
		return
	}
	g.sendUsersUpdate(cc.Room)
}

// handleLeave leaves the current room; the connection stays open.
func (g *Gateway) handleLeave(id ConnID) {
	cc, ok := g.Context(id)
	if !ok {
		return
	}
	if cc.UserID != "" {
		g.unbind(cc.UserID)
		g.applyDeparture(g.Dir.UserLeft(string(cc.Room), cc.UserID))
	}
	g.sendTo(id, struct {
		Type string `json:"type"`
	}{Type: TypeLeft})
}

func (g *Gateway) handleVoteKick(id ConnID, data []byte) {
	var p voteKickPayload
	if err := json.Unmarshal(data, &p); err != nil {
		g.sendError(id, "bad_payload", "malformed vote_kick")
		return
	}
	cc, ok := g.Context(id)
	if !ok {
		return
	}
	res, dep, err := g.Dir.VoteKick(string(cc.Room), cc.UserID, p.KickUserID)
	if err != nil {
		g.reject(id, err)
		return
	}
	g.sendTo(id, voteMsg{
		Type:   TypeVoteRegistered,
		Target: res.Target,
		Votes:  res.Votes,
		Voters: res.Voters,
		Kicked: res.Kicked,
	})
	g.applyDeparture(dep)
}

// applyDeparture tells affected connections about users who left, were
// kicked or evicted, then refreshes the room's remaining connections.
func (g *Gateway) applyDeparture(dep app.Departure) {
	for _, user := range dep.Kicked {
		for _, cc := range g.unbind(user) {
			g.sendTo(cc.ID, roomMsg{Type: TypeKicked, Room: dep.Room})
		}
	}
	for _, user := range dep.Evicted {
		for _, cc := range g.unbind(user) {
			g.sendTo(cc.ID, roomMsg{Type: TypeRoomClosed, Room: dep.Room})
		}
	}
	if dep.Room == "" || dep.RoomClosed {
		return
	}
	for _, user := range append(append([]domain.UserID{}, dep.Left...), dep.Kicked...) {
		g.broadcastRoom(dep.Room, userMsg{Type: TypeUserLeft, UserID: user})
	}
	g.sendUsersUpdate(dep.Room)
}

// sendUsersUpdate sends the room snapshot to the current connection of every
// connected member and to every spectator connection in the room. Members
// marked disconnected and stale duplicate connections are skipped.
func (g *Gateway) sendUsersUpdate(roomName domain.RoomName) {
	snap, err := g.Dir.Snapshot(string(roomName))
	if err != nil {
		return
	}
	frame, ok := encode(usersUpdateMsg{Type: TypeUsersUpdate, Snapshot: snap})
	if !ok {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, m := range snap.Members {
		if m.Disconnected {
			continue
		}
		cid, ok := g.byUser[m.ID]
		if !ok {
			continue
		}
		if cc, ok := g.conns[cid]; ok && cc.Room == roomName && !cc.Spectator {
			g.deliver(cc, frame)
		}
	}
	for _, cc := range g.conns {
		if cc.Room == roomName && cc.Spectator {
			g.deliver(cc, frame)
		}
	}
}

func (g *Gateway) broadcastRoom(roomName domain.RoomName, v any) {
	frame, ok := encode(v)
	if !ok {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, cc := range g.conns {
		if cc.Room == roomName {
			g.deliver(cc, frame)
		}
	}
}

func (g *Gateway) allowJoin(cc ConnectionContext) bool {
	key := cc.ClientToken
	if key == "" {
		key = string(cc.ID)
	}
	return g.Limiter.Allow(key, time.Now())
}
