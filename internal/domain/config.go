package domain

import "fmt"

// ReleasePolicy says when a member's disconnect frees their slot.
type ReleasePolicy string

const (
	ReleaseHold   ReleasePolicy = "hold"
	ReleaseOpen   ReleasePolicy = "open"
	ReleaseAlways ReleasePolicy = "always"
)

// RoomConfig is fixed at room creation.
type RoomConfig struct {
	Capacity            int           `json:"capacity" mapstructure:"capacity"`
	SpectatorsAllowed   bool          `json:"spectatorsAllowed" mapstructure:"spectators_allowed"`
	KickQuorum          float64       `json:"kickQuorum" mapstructure:"kick_quorum"`
	KickMinVotes        int           `json:"kickMinVotes" mapstructure:"kick_min_votes"`
	MinMembersToStart   int           `json:"minMembersToStart" mapstructure:"min_members_to_start"`
	ReleaseOnDisconnect ReleasePolicy `json:"releaseOnDisconnect" mapstructure:"release_on_disconnect"`
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		Capacity:            8,
		SpectatorsAllowed:   true,
		KickQuorum:          0.5,
		KickMinVotes:        1,
		MinMembersToStart:   2,
		ReleaseOnDisconnect: ReleaseHold,
	}
}

// Validate reports the first malformed field wrapped in ErrInvalidConfig.
func (c RoomConfig) Validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	case c.KickQuorum <= 0 || c.KickQuorum > 1:
		return fmt.Errorf("%w: kick quorum must be in (0, 1], got %v", ErrInvalidConfig, c.KickQuorum)
	case c.KickMinVotes < 0:
		return fmt.Errorf("%w: kick min votes must not be negative, got %d", ErrInvalidConfig, c.KickMinVotes)
	case c.MinMembersToStart < 1 || c.MinMembersToStart > c.Capacity:
		return fmt.Errorf("%w: min members to start must be in [1, %d], got %d", ErrInvalidConfig, c.Capacity, c.MinMembersToStart)
	}
	switch c.ReleaseOnDisconnect {
	case ReleaseHold, ReleaseOpen, ReleaseAlways:
	default:
		return fmt.Errorf("%w: unknown release policy %q", ErrInvalidConfig, c.ReleaseOnDisconnect)
	}
	return nil
}
