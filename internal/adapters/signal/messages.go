package signal

import (
	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
)

// Inbound message types.
const (
	TypeJoin          = "join"
	TypeJoinSpectator = "join_spectator"
	TypeRequestUpdate = "request_update"
	TypeStart         = "start"
	TypeLeave         = "leave"
	TypeVoteKick      = "vote_kick"
	TypePing          = "ping"
	TypeWhoAmI        = "whoami"
)

// Outbound message types.
const (
	TypeJoined         = "joined"
	TypeUsersUpdate    = "users_update"
	TypeInfo           = "info"
	TypeUserLeft       = "user_left"
	TypeLeft           = "left"
	TypeKicked         = "kicked"
	TypeRoomClosed     = "room_closed"
	TypeVoteRegistered = "vote_registered"
	TypeError          = "error"
	TypePong           = "pong"
)

type joinPayload struct {
	UserID   string             `json:"userID,omitempty"`
	RoomName string             `json:"roomName"`
	UserName string             `json:"userName,omitempty"`
	Config   *domain.RoomConfig `json:"config,omitempty"`
}

type spectatorPayload struct {
	RoomName string `json:"roomName"`
	UserName string `json:"userName,omitempty"`
}

type voteKickPayload struct {
	KickUserID domain.UserID `json:"kickUserID"`
}

type joinedMsg struct {
	Type        string          `json:"type"`
	UserID      domain.UserID   `json:"userID"`
	Room        domain.RoomName `json:"room"`
	Spectator   bool            `json:"spectator"`
	Redirected  bool            `json:"redirected,omitempty"`
	StaleUserID bool            `json:"staleUserID,omitempty"`
}

type usersUpdateMsg struct {
	Type string `json:"type"`
	core.Snapshot
}

type infoMsg struct {
	Type string `json:"type"`
	core.HomeInfo
}

type userMsg struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userID"`
}

type roomMsg struct {
	Type string          `json:"type"`
	Room domain.RoomName `json:"room"`
}

type voteMsg struct {
	Type   string        `json:"type"`
	Target domain.UserID `json:"target"`
	Votes  int           `json:"votes"`
	Voters int           `json:"voters"`
	Kicked bool          `json:"kicked"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type whoAmIMsg struct {
	Type      string          `json:"type"`
	UserID    domain.UserID   `json:"userID,omitempty"`
	Username  string          `json:"username,omitempty"`
	Room      domain.RoomName `json:"room,omitempty"`
	Spectator bool            `json:"spectator"`
}
