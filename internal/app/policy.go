package app

import "github.com/dkeye/Lobby/internal/domain"

type DisconnectAction int

const (
	HoldSlot DisconnectAction = iota
	ReleaseSlot
)

// Policy decides what happens to a member's slot when their transport drops.
type Policy interface {
	OnDisconnect(cfg domain.RoomConfig, status domain.RoomStatus) DisconnectAction
}

// ConfigPolicy follows the room's ReleaseOnDisconnect setting.
type ConfigPolicy struct{}

func (ConfigPolicy) OnDisconnect(cfg domain.RoomConfig, status domain.RoomStatus) DisconnectAction {
	switch cfg.ReleaseOnDisconnect {
	case domain.ReleaseAlways:
		return ReleaseSlot
	case domain.ReleaseOpen:
		if status == domain.StatusOpen {
			return ReleaseSlot
		}
	}
	return HoldSlot
}
