package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Lobby/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrRoomClosed is returned by a room that was torn down after its last
// member left. The directory retries against a fresh room.
var ErrRoomClosed = errors.New("room closed")

// roomImpl is a threadsafe in-memory room.
// All checks of an operation run before its first mutation.
type roomImpl struct {
	name   domain.RoomName
	config domain.RoomConfig

	mu         sync.Mutex
	status     domain.RoomStatus
	closed     bool
	members    []*domain.Member
	spectators map[domain.UserID]*domain.Member
	// votes[target] is the set of users who voted to kick target.
	votes map[domain.UserID]map[domain.UserID]struct{}
}

// NewRoomService creates an open room with first as its first member.
// cfg must already be validated.
func NewRoomService(name domain.RoomName, cfg domain.RoomConfig, first domain.User) RoomService {
	r := &roomImpl{
		name:       name,
		config:     cfg,
		status:     domain.StatusOpen,
		spectators: make(map[domain.UserID]*domain.Member),
		votes:      make(map[domain.UserID]map[domain.UserID]struct{}),
	}
	r.members = append(r.members, domain.NewMember(first, false))
	log.Info().Str("module", "core.room").Str("room", string(name)).Str("user", string(first.ID)).Msg("room created")
	return r
}

func (r *roomImpl) Name() domain.RoomName     { return r.name }
func (r *roomImpl) Config() domain.RoomConfig { return r.config }

func (r *roomImpl) Status() domain.RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *roomImpl) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *roomImpl) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *roomImpl) AddMember(user domain.User, asSpectator bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	if r.indexOf(user.ID) >= 0 || r.spectators[user.ID] != nil {
		return domain.ErrAlreadyInRoom
	}
	if asSpectator {
		if !r.config.SpectatorsAllowed {
			return domain.ErrSpectatingNotAllowed
		}
		r.spectators[user.ID] = domain.NewMember(user, true)
		log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("user", string(user.ID)).Msg("spectator added")
		return nil
	}
	if r.status == domain.StatusStarted {
		return domain.ErrRoomStarted
	}
	// Disconnected members keep their slot.
	if len(r.members) >= r.config.Capacity {
		return domain.ErrRoomFull
	}
	r.members = append(r.members, domain.NewMember(user, false))
	log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("user", string(user.ID)).Int("members", len(r.members)).Msg("member added")
	return nil
}

func (r *roomImpl) RemoveMember(id domain.UserID) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *roomImpl) removeLocked(id domain.UserID) (removed, empty bool) {
	if _, ok := r.spectators[id]; ok {
		delete(r.spectators, id)
		removed = true
	} else if i := r.indexOf(id); i >= 0 {
		r.members = append(r.members[:i], r.members[i+1:]...)
		removed = true
	}
	if removed {
		delete(r.votes, id)
		for _, voters := range r.votes {
			delete(voters, id)
		}
		log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("user", string(id)).Msg("member removed")
	}
	if len(r.members) == 0 && !r.closed {
		r.closed = true
		log.Info().Str("module", "core.room").Str("room", string(r.name)).Msg("room closed")
	}
	return removed, removed && r.closed
}

func (r *roomImpl) IsMember(id domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexOf(id) >= 0
}

func (r *roomImpl) IsSpectator(id domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.spectators[id]
	return ok
}

// SetDisconnected flips the connection flag of a member or spectator. The
// room is the only holder of this flag.
func (r *roomImpl) SetDisconnected(id domain.UserID, disconnected bool) (found, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.findLocked(id)
	if m == nil {
		return false, false
	}
	if m.User.Disconnected == disconnected {
		return true, false
	}
	m.User.Disconnected = disconnected
	return true, true
}

// ReleaseIfDisconnected removes id only while it is still marked
// disconnected, so a release never evicts a user who reconnected meanwhile.
func (r *roomImpl) ReleaseIfDisconnected(id domain.UserID) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.findLocked(id)
	if m == nil || !m.User.Disconnected {
		return false, false
	}
	return r.removeLocked(id)
}

func (r *roomImpl) SpectatorIDs() []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UserID, 0, len(r.spectators))
	for id := range r.spectators {
		out = append(out, id)
	}
	return out
}

func (r *roomImpl) Start(requester domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.ErrRoomNotFound
	}
	if r.indexOf(requester) < 0 {
		return domain.ErrNotMember
	}
	if r.status == domain.StatusStarted {
		return domain.ErrRoomStarted
	}
	if len(r.members) < r.config.MinMembersToStart {
		return fmt.Errorf("%w: have %d, need %d", domain.ErrNotEnoughMembers, len(r.members), r.config.MinMembersToStart)
	}
	r.status = domain.StatusStarted
	log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("by", string(requester)).Msg("room started")
	return nil
}

func (r *roomImpl) VoteKick(requester, target domain.UserID) (VoteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := VoteResult{Target: target}
	if r.closed {
		return res, domain.ErrRoomNotFound
	}
	ri := r.indexOf(requester)
	if ri < 0 {
		return res, domain.ErrNotMember
	}
	switch {
	case requester == target:
		return res, fmt.Errorf("%w: cannot vote against yourself", domain.ErrInvalidVote)
	case r.members[ri].User.Disconnected:
		return res, fmt.Errorf("%w: voter is disconnected", domain.ErrInvalidVote)
	case r.indexOf(target) < 0:
		return res, fmt.Errorf("%w: target is not a member", domain.ErrInvalidVote)
	}

	voters, ok := r.votes[target]
	if !ok {
		voters = make(map[domain.UserID]struct{})
		r.votes[target] = voters
	}
	voters[requester] = struct{}{}

	connected := r.connectedLocked()
	res.Votes = CountEligibleVotes(voters, connected)
	res.Voters = len(connected)
	if QuorumReached(voters, connected, r.config.KickQuorum, r.config.KickMinVotes) {
		_, res.Empty = r.removeLocked(target)
		res.Kicked = true
		log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("target", string(target)).Int("votes", res.Votes).Int("voters", res.Voters).Msg("member vote-kicked")
	}
	return res, nil
}

// ResolveKicks re-evaluates every pending vote against the current connected
// members and removes each target whose quorum is now reached. Called after
// disconnects and leaves, which shrink the denominator.
func (r *roomImpl) ResolveKicks() (kicked []domain.UserID, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for changed := true; changed && !r.closed; {
		changed = false
		connected := r.connectedLocked()
		for _, m := range r.members {
			voters := r.votes[m.User.ID]
			if len(voters) == 0 {
				continue
			}
			if QuorumReached(voters, connected, r.config.KickQuorum, r.config.KickMinVotes) {
				id := m.User.ID
				_, empty = r.removeLocked(id)
				kicked = append(kicked, id)
				changed = true
				log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("target", string(id)).Msg("pending vote-kick resolved")
				break
			}
		}
	}
	return kicked, empty
}

func (r *roomImpl) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Snapshot{
		Room:       r.name,
		Members:    make([]MemberDTO, 0, len(r.members)),
		Spectators: len(r.spectators),
		Status:     r.status,
		Config:     r.config,
	}
	for _, m := range r.members {
		out.Members = append(out.Members, MemberDTO{
			ID:           m.User.ID,
			Username:     m.User.Username,
			Disconnected: m.User.Disconnected,
		})
	}
	return out
}

func (r *roomImpl) Summary() RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomSummary{
		Name:        r.name,
		Status:      r.status,
		MemberCount: len(r.members),
		Capacity:    r.config.Capacity,
		Spectators:  len(r.spectators),
	}
}

func (r *roomImpl) indexOf(id domain.UserID) int {
	for i, m := range r.members {
		if m.User.ID == id {
			return i
		}
	}
	return -1
}

func (r *roomImpl) findLocked(id domain.UserID) *domain.Member {
	if i := r.indexOf(id); i >= 0 {
		return r.members[i]
	}
	return r.spectators[id]
}

func (r *roomImpl) connectedLocked() []domain.UserID {
	out := make([]domain.UserID, 0, len(r.members))
	for _, m := range r.members {
		if !m.User.Disconnected {
			out = append(out, m.User.ID)
		}
	}
	return out
}
