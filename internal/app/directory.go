package app

import (
	"errors"

	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
	"github.com/rs/zerolog/log"
)

const defaultSpectatorName = "spectator"

// LobbyNotifier receives the lobby view whenever rooms are created, started
// or torn down, or the user count changes. It is called outside all locks.
type LobbyNotifier interface {
	LobbyChanged(info core.HomeInfo)
}

type JoinRequest struct {
	UserID   domain.UserID
	RoomName string
	UserName string
	Config   *domain.RoomConfig
}

type JoinResult struct {
	UserID      domain.UserID
	Room        core.RoomService
	Spectator   bool
	Created     bool
	Reconnected bool
	// Redirected is set when a reconnecting user asked for a different room
	// than the one they are in.
	Redirected bool
	// StaleUserID is set when the caller supplied an id that could not be
	// reattached and a fresh identity was issued instead.
	StaleUserID bool
}

// Departure describes who left a room as a consequence of one operation.
type Departure struct {
	Room       domain.RoomName
	Left       []domain.UserID
	Kicked     []domain.UserID
	Evicted    []domain.UserID
	RoomClosed bool
}

func (d Departure) Changed() bool {
	return len(d.Left) > 0 || len(d.Kicked) > 0 || d.RoomClosed
}

// Directory owns every room and brokers all flows that touch more than one
// room's state. It is the only writer of the registry.
type Directory struct {
	Registry *Registry
	Policy   Policy
	Metrics  *Metrics
	Notifier LobbyNotifier
	Defaults domain.RoomConfig

	rooms   *roomTable
	newRoom func(domain.RoomName, domain.RoomConfig, domain.User) core.RoomService
}

func NewDirectory(defaults domain.RoomConfig) *Directory {
	return &Directory{
		Registry: NewRegistry(),
		Policy:   ConfigPolicy{},
		Defaults: defaults,
		rooms:    newRoomTable(),
		newRoom:  core.NewRoomService,
	}
}

// CreateOrJoinRoom creates the room on first use or joins it as a member.
// Room errors such as ErrRoomFull and ErrRoomStarted are returned unchanged.
func (d *Directory) CreateOrJoinRoom(rawName, userName string, cfg *domain.RoomConfig) (JoinResult, error) {
	name, err := domain.NormalizeRoomName(rawName)
	if err != nil {
		return JoinResult{}, err
	}
	roomCfg := d.Defaults
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			d.Metrics.rejectedJoin(domain.Code(err))
			return JoinResult{}, err
		}
		roomCfg = *cfg
	}
	user, err := domain.NewUser(userName)
	if err != nil {
		return JoinResult{}, err
	}

	d.Registry.Register(*user, name)
	for {
		room, created := d.rooms.getOrCreate(name, func() core.RoomService {
			return d.newRoom(name, roomCfg, *user)
		})
		if created {
			d.Metrics.joined("create")
			d.notifyLobby()
			return JoinResult{UserID: user.ID, Room: room, Created: true}, nil
		}
		err := room.AddMember(*user, false)
		if errors.Is(err, core.ErrRoomClosed) {
			d.rooms.removeIfSame(name, room)
			continue
		}
		if err != nil {
			d.Registry.Remove(user.ID)
			d.Metrics.rejectedJoin(domain.Code(err))
			log.Info().Str("module", "app.directory").Str("room", string(name)).Err(err).Msg("join rejected")
			return JoinResult{}, err
		}
		d.Metrics.joined("member")
		d.notifyLobby()
		return JoinResult{UserID: user.ID, Room: room}, nil
	}
}

// JoinAsSpectator attaches a new spectator identity to an existing room.
func (d *Directory) JoinAsSpectator(rawName, userName string) (JoinResult, error) {
	name, err := domain.NormalizeRoomName(rawName)
	if err != nil {
		return JoinResult{}, err
	}
	room, ok := d.rooms.get(name)
	if !ok {
		return JoinResult{}, domain.ErrRoomNotFound
	}
	if userName == "" {
		userName = defaultSpectatorName
	}
	user, err := domain.NewUser(userName)
	if err != nil {
		return JoinResult{}, err
	}

	d.Registry.Register(*user, name)
	if err := room.AddMember(*user, true); err != nil {
		d.Registry.Remove(user.ID)
		if errors.Is(err, core.ErrRoomClosed) {
			err = domain.ErrRoomNotFound
		}
		d.Metrics.rejectedJoin(domain.Code(err))
		return JoinResult{}, err
	}
	d.Metrics.joined("spectator")
	d.notifyLobby()
	return JoinResult{UserID: user.ID, Room: room, Spectator: true}, nil
}

// Join resolves a join intent. A known user id always reattaches to the
// user's current room, whatever room name was requested.
func (d *Directory) Join(req JoinRequest) (JoinResult, error) {
	stale := false
	if req.UserID != "" {
		room, err := d.UserReconnected(req.UserID)
		switch {
		case err == nil:
			requested, nameErr := domain.NormalizeRoomName(req.RoomName)
			res := JoinResult{
				UserID:      req.UserID,
				Room:        room,
				Spectator:   room.IsSpectator(req.UserID),
				Reconnected: true,
				Redirected:  nameErr == nil && requested != room.Name(),
			}
			if res.Redirected {
				log.Warn().Str("module", "app.directory").Str("user", string(req.UserID)).
					Str("requested", string(requested)).Str("room", string(room.Name())).
					Msg("reconnect asked for another room, keeping current room")
			}
			d.Metrics.joined("reconnect")
			return res, nil
		case errors.Is(err, domain.ErrUnknownUser), errors.Is(err, domain.ErrRoomNotFound):
			log.Info().Str("module", "app.directory").Str("user", string(req.UserID)).Err(err).Msg("stale user id, joining fresh")
			stale = true
		default:
			return JoinResult{}, err
		}
	}
	res, err := d.CreateOrJoinRoom(req.RoomName, req.UserName, req.Config)
	res.StaleUserID = stale
	return res, err
}

// UserReconnected clears the user's disconnected flag and returns their room.
// Membership is untouched; the user never left it.
func (d *Directory) UserReconnected(id domain.UserID) (core.RoomService, error) {
	_, roomName, ok := d.Registry.Lookup(id)
	if !ok {
		return nil, domain.ErrUnknownUser
	}
	room, ok := d.rooms.get(roomName)
	if !ok {
		d.forgetIfIn(id, roomName)
		return nil, domain.ErrRoomNotFound
	}
	if found, _ := room.SetDisconnected(id, false); !found {
		d.forgetIfIn(id, roomName)
		return nil, domain.ErrRoomNotFound
	}
	log.Info().Str("module", "app.directory").Str("user", string(id)).Str("room", string(roomName)).Msg("user reconnected")
	return room, nil
}

// UserDisconnected marks a transport loss. The slot is held unless the room's
// disconnect policy releases it; spectators are always released. The flag is
// owned by the room, and a release only removes a user still marked
// disconnected there.
func (d *Directory) UserDisconnected(id domain.UserID) Departure {
	_, roomName, ok := d.Registry.Lookup(id)
	if !ok {
		return Departure{}
	}
	room, ok := d.rooms.get(roomName)
	if !ok {
		d.forgetIfIn(id, roomName)
		return Departure{Room: roomName}
	}
	found, changed := room.SetDisconnected(id, true)
	if !found {
		d.forgetIfIn(id, roomName)
		return Departure{Room: roomName}
	}
	if !changed {
		return Departure{}
	}
	log.Info().Str("module", "app.directory").Str("user", string(id)).Str("room", string(roomName)).Msg("user disconnected")

	release := room.IsSpectator(id)
	if !release && d.Policy != nil {
		release = d.Policy.OnDisconnect(room.Config(), room.Status()) == ReleaseSlot
	}
	if release {
		removed, empty := room.ReleaseIfDisconnected(id)
		if !removed {
			return Departure{Room: roomName}
		}
		return d.afterRemoval(room, id, empty)
	}

	// A smaller connected denominator may complete a pending vote.
	kicked, empty := room.ResolveKicks()
	dep := d.settle(room, Departure{Room: roomName}, kicked, empty)
	if dep.Changed() {
		d.notifyLobby()
	}
	return dep
}

func (d *Directory) UserExists(id domain.UserID) bool {
	return d.Registry.Exists(id)
}

// UserLeft removes the user from the room, tearing the room down when its
// last member leaves. Repeated calls are no-ops.
func (d *Directory) UserLeft(rawName string, id domain.UserID) Departure {
	name, err := domain.NormalizeRoomName(rawName)
	if err != nil {
		_, name, _ = d.Registry.Lookup(id)
	}
	dep := Departure{Room: name}
	room, ok := d.rooms.get(name)
	if !ok {
		d.forgetIfIn(id, name)
		return dep
	}
	removed, empty := room.RemoveMember(id)
	if !removed {
		d.forgetIfIn(id, name)
		return dep
	}
	return d.afterRemoval(room, id, empty)
}

// afterRemoval settles a departure once id is out of room. Pending votes are
// resolved against the smaller denominator.
func (d *Directory) afterRemoval(room core.RoomService, id domain.UserID, empty bool) Departure {
	name := room.Name()
	d.forgetIfIn(id, name)
	dep := Departure{Room: name, Left: []domain.UserID{id}}
	var kicked []domain.UserID
	if !empty {
		kicked, empty = room.ResolveKicks()
	}
	dep = d.settle(room, dep, kicked, empty)
	log.Info().Str("module", "app.directory").Str("room", string(name)).Str("user", string(id)).Bool("closed", dep.RoomClosed).Msg("user left")
	d.notifyLobby()
	return dep
}

// VoteKick records requester's vote against target in the named room.
func (d *Directory) VoteKick(rawName string, requester, target domain.UserID) (core.VoteResult, Departure, error) {
	room, err := d.lookup(rawName)
	if err != nil {
		return core.VoteResult{}, Departure{}, err
	}
	res, err := room.VoteKick(requester, target)
	if err != nil {
		return res, Departure{}, err
	}
	dep := Departure{Room: room.Name()}
	if !res.Kicked {
		return res, dep, nil
	}
	kicked := []domain.UserID{target}
	empty := res.Empty
	if !empty {
		more, e := room.ResolveKicks()
		kicked, empty = append(kicked, more...), e
	}
	dep = d.settle(room, dep, kicked, empty)
	d.notifyLobby()
	return res, dep, nil
}

// Start moves the named room from open to started.
func (d *Directory) Start(rawName string, requester domain.UserID) error {
	room, err := d.lookup(rawName)
	if err != nil {
		return err
	}
	if err := room.Start(requester); err != nil {
		return err
	}
	d.notifyLobby()
	return nil
}

// Snapshot returns the users-update payload of the named room.
func (d *Directory) Snapshot(rawName string) (core.Snapshot, error) {
	room, err := d.lookup(rawName)
	if err != nil {
		return core.Snapshot{}, err
	}
	return room.Snapshot(), nil
}

func (d *Directory) GetRoom(rawName string) (core.RoomService, bool) {
	room, err := d.lookup(rawName)
	return room, err == nil
}

func (d *Directory) GetAllRooms() []core.RoomSummary {
	rooms := d.rooms.list()
	out := make([]core.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Summary())
	}
	return out
}

func (d *Directory) GetUserCount() int {
	return d.Registry.Count()
}

func (d *Directory) HomeInfo() core.HomeInfo {
	return core.HomeInfo{Rooms: d.GetAllRooms(), UserCount: d.GetUserCount()}
}

func (d *Directory) lookup(rawName string) (core.RoomService, error) {
	name, err := domain.NormalizeRoomName(rawName)
	if err != nil {
		return nil, domain.ErrRoomNotFound
	}
	room, ok := d.rooms.get(name)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// settle drops kicked users from the registry and tears the room down when
// it has no members left.
func (d *Directory) settle(room core.RoomService, dep Departure, kicked []domain.UserID, empty bool) Departure {
	for _, id := range kicked {
		d.Registry.Remove(id)
	}
	d.Metrics.kicked(len(kicked))
	dep.Kicked = append(dep.Kicked, kicked...)
	if empty {
		dep.Evicted = d.teardown(room)
		dep.RoomClosed = true
	}
	return dep
}

func (d *Directory) teardown(room core.RoomService) []domain.UserID {
	d.rooms.removeIfSame(room.Name(), room)
	evicted := room.SpectatorIDs()
	for _, id := range evicted {
		d.Registry.Remove(id)
	}
	log.Info().Str("module", "app.directory").Str("room", string(room.Name())).Int("evicted", len(evicted)).Msg("room torn down")
	return evicted
}

func (d *Directory) forgetIfIn(id domain.UserID, name domain.RoomName) {
	if _, cur, ok := d.Registry.Lookup(id); ok && cur == name {
		d.Registry.Remove(id)
	}
}

func (d *Directory) notifyLobby() {
	info := d.HomeInfo()
	d.Metrics.setGauges(len(info.Rooms), info.UserCount)
	if d.Notifier != nil {
		d.Notifier.LobbyChanged(info)
	}
}
