package core

import (
	"github.com/dkeye/Lobby/internal/domain"
)

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID           domain.UserID `json:"id"`
	Username     string        `json:"name"`
	Disconnected bool          `json:"disconnected"`
}

// Snapshot is the users-update payload for one room.
type Snapshot struct {
	Room       domain.RoomName   `json:"room"`
	Members    []MemberDTO       `json:"members"`
	Spectators int               `json:"spectators"`
	Status     domain.RoomStatus `json:"status"`
	Config     domain.RoomConfig `json:"config"`
}

// VoteResult reports the state of a vote-kick after one vote.
type VoteResult struct {
	Target domain.UserID `json:"target"`
	Votes  int           `json:"votes"`
	Voters int           `json:"voters"`
	Kicked bool          `json:"kicked"`
	// Empty is set when the kick removed the last member.
	Empty bool `json:"-"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Name() domain.RoomName
	Config() domain.RoomConfig
	Status() domain.RoomStatus
	MemberCount() int
	Closed() bool

	AddMember(user domain.User, asSpectator bool) error
	RemoveMember(id domain.UserID) (removed, empty bool)
	IsMember(id domain.UserID) bool
	IsSpectator(id domain.UserID) bool
	SetDisconnected(id domain.UserID, disconnected bool) (found, changed bool)
	ReleaseIfDisconnected(id domain.UserID) (removed, empty bool)
	SpectatorIDs() []domain.UserID

	Start(requester domain.UserID) error
	VoteKick(requester, target domain.UserID) (VoteResult, error)
	ResolveKicks() (kicked []domain.UserID, empty bool)

	Snapshot() Snapshot
	Summary() RoomSummary
}

// RoomSummary is the lobby listing entry of a room.
type RoomSummary struct {
	Name        domain.RoomName   `json:"name"`
	Status      domain.RoomStatus `json:"status"`
	MemberCount int               `json:"memberCount"`
	Capacity    int               `json:"capacity"`
	Spectators  int               `json:"spectators"`
}

// HomeInfo is the lobby payload broadcast to every connection.
type HomeInfo struct {
	Rooms     []RoomSummary `json:"rooms"`
	UserCount int           `json:"userCount"`
}
