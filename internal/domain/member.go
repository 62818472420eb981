package domain

// Member represents a user's participation in a room.
// No transport or lifecycle logic here.
type Member struct {
	User      User
	Spectator bool
}

// NewMember avoids raw literals in callers and keeps construction obvious.
func NewMember(user User, spectator bool) *Member {
	return &Member{User: user, Spectator: spectator}
}
