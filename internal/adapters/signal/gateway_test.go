package signal

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Lobby/internal/app"
	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (f *fakeConn) TrySend(frame core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnClosed
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(fr, &m); err != nil {
			t.Fatalf("bad frame %s: %v", fr, err)
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range f.messages(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) last(t *testing.T, typ string) map[string]any {
	t.Helper()
	msgs := f.ofType(t, typ)
	if len(msgs) == 0 {
		t.Fatalf("no %q message received", typ)
	}
	return msgs[len(msgs)-1]
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

type harness struct {
	t   *testing.T
	dir *app.Directory
	gw  *Gateway
}

func newHarness(t *testing.T, limiter *JoinRateLimiter) *harness {
	t.Helper()
	dir := app.NewDirectory(domain.DefaultRoomConfig())
	return &harness{t: t, dir: dir, gw: NewGateway(dir, limiter, Options{})}
}

func (h *harness) connect() (ConnID, *fakeConn) {
	conn := &fakeConn{}
	return h.gw.Attach(conn, ""), conn
}

func (h *harness) send(id ConnID, v any) {
	h.t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		h.t.Fatal(err)
	}
	h.gw.Handle(id, b)
}

func joinMsg(room, name string, cfg *domain.RoomConfig) map[string]any {
	m := map[string]any{"type": TypeJoin, "roomName": room, "userName": name}
	if cfg != nil {
		m["config"] = cfg
	}
	return m
}

func smallRoom(capacity int, spectators bool) *domain.RoomConfig {
	cfg := domain.DefaultRoomConfig()
	cfg.Capacity = capacity
	cfg.MinMembersToStart = 1
	cfg.SpectatorsAllowed = spectators
	return &cfg
}

func TestGatewayJoinCreatesRoom(t *testing.T) {
	h := newHarness(t, nil)
	id, conn := h.connect()
	_, watcher := h.connect()

	h.send(id, joinMsg("Lobby", "alice", nil))

	joined := conn.last(t, TypeJoined)
	if joined["room"] != "lobby" || joined["userID"] == "" || joined["spectator"] != false {
		t.Fatalf("joined = %v", joined)
	}
	update := conn.last(t, TypeUsersUpdate)
	members := update["members"].([]any)
	if len(members) != 1 || update["status"] != string(domain.StatusOpen) {
		t.Fatalf("users_update = %v", update)
	}
	info := watcher.last(t, TypeInfo)
	if info["userCount"].(float64) != 1 {
		t.Errorf("info = %v", info)
	}

	cc, _ := h.gw.Context(id)
	if cc.Room != "lobby" || string(cc.UserID) != joined["userID"] {
		t.Errorf("context = %+v", cc)
	}
}

func TestGatewayFullRoomFallsBackToSpectator(t *testing.T) {
	h := newHarness(t, nil)
	a, _ := h.connect()
	c, connC := h.connect()

	h.send(a, joinMsg("lobby", "A", smallRoom(1, true)))
	h.send(c, joinMsg("lobby", "C", nil))

	joined := connC.last(t, TypeJoined)
	if joined["spectator"] != true {
		t.Fatalf("joined = %v, want spectator", joined)
	}
	cc, _ := h.gw.Context(c)
	if !cc.Spectator || cc.Room != "lobby" {
		t.Errorf("context = %+v", cc)
	}
	room, _ := h.dir.GetRoom("lobby")
	if room.MemberCount() != 1 || !room.IsSpectator(cc.UserID) {
		t.Error("C should be a spectator")
	}
}

func TestGatewaySpectatingNotAllowed(t *testing.T) {
	h := newHarness(t, nil)
	a, _ := h.connect()
	c, connC := h.connect()

	h.send(a, joinMsg("closed", "A", smallRoom(1, false)))
	h.send(c, joinMsg("closed", "C", nil))

	if got := connC.last(t, TypeError)["code"]; got != "spectating_not_allowed" {
		t.Fatalf("error code = %v", got)
	}
	if cc, _ := h.gw.Context(c); cc.Room != "" || cc.UserID != "" {
		t.Errorf("context not cleared: %+v", cc)
	}
}

func TestGatewayInvalidConfig(t *testing.T) {
	h := newHarness(t, nil)
	id, conn := h.connect()
	h.send(id, joinMsg("bad", "A", smallRoom(0, true)))
	if got := conn.last(t, TypeError)["code"]; got != "invalid_config" {
		t.Fatalf("error code = %v", got)
	}
	if _, ok := h.dir.GetRoom("bad"); ok {
		t.Error("room must not exist")
	}
}

func TestGatewayUsersUpdateSkipsDisconnected(t *testing.T) {
	h := newHarness(t, nil)
	a, connA := h.connect()
	b, connB := h.connect()
	s, connS := h.connect()

	h.send(a, joinMsg("room", "A", nil))
	h.send(b, joinMsg("room", "B", nil))
	h.send(s, map[string]any{"type": TypeJoinSpectator, "roomName": "room"})
	userA := domain.UserID(connA.last(t, TypeJoined)["userID"].(string))

	connB.reset()
	connS.reset()
	h.gw.Detach(a)

	update := connB.last(t, TypeUsersUpdate)
	members := update["members"].([]any)
	first := members[0].(map[string]any)
	if first["id"] != string(userA) || first["disconnected"] != true {
		t.Fatalf("A not marked disconnected: %v", update)
	}
	if len(connS.ofType(t, TypeUsersUpdate)) != 1 {
		t.Error("spectator should receive the update")
	}

	// A reconnects on a new connection asking for another room.
	a2, connA2 := h.connect()
	h.send(a2, map[string]any{"type": TypeJoin, "userID": string(userA), "roomName": "elsewhere"})
	joined := connA2.last(t, TypeJoined)
	if joined["room"] != "room" || joined["redirected"] != true || joined["userID"] != string(userA) {
		t.Fatalf("reconnect joined = %v", joined)
	}
	if _, ok := h.dir.GetRoom("elsewhere"); ok {
		t.Error("reconnect must not create the requested room")
	}

	// A third connection for A makes a2 a stale duplicate.
	a3, connA3 := h.connect()
	h.send(a3, map[string]any{"type": TypeJoin, "userID": string(userA), "roomName": "room"})
	connA2.reset()
	connA3.reset()
	h.send(b, map[string]any{"type": TypeRequestUpdate})
	h.send(b, map[string]any{"type": TypeStart})
	if len(connA2.ofType(t, TypeUsersUpdate)) != 0 {
		t.Error("stale connection received users_update")
	}
	if len(connA3.ofType(t, TypeUsersUpdate)) != 1 {
		t.Error("current connection should receive users_update")
	}

	// Closing the stale connection does not disconnect the user.
	h.gw.Detach(a2)
	snap, _ := h.dir.Snapshot("room")
	for _, m := range snap.Members {
		if m.ID == userA && m.Disconnected {
			t.Error("stale detach marked user disconnected")
		}
	}
}

func TestGatewayVoteKick(t *testing.T) {
	h := newHarness(t, nil)
	a, connA := h.connect()
	b, connB := h.connect()

	h.send(a, joinMsg("vk", "A", smallRoom(2, true)))
	h.send(b, joinMsg("vk", "B", nil))
	userA := connA.last(t, TypeJoined)["userID"].(string)

	h.send(b, map[string]any{"type": TypeVoteKick, "kickUserID": userA})

	vote := connB.last(t, TypeVoteRegistered)
	if vote["kicked"] != true {
		t.Fatalf("vote = %v", vote)
	}
	if got := connA.last(t, TypeKicked)["room"]; got != "vk" {
		t.Errorf("kicked room = %v", got)
	}
	if cc, _ := h.gw.Context(a); cc.Room != "" {
		t.Errorf("kicked context not cleared: %+v", cc)
	}
	if left := connB.last(t, TypeUserLeft); left["userID"] != userA {
		t.Errorf("user_left = %v", left)
	}
}

func TestGatewayLeaveTearsDownRoom(t *testing.T) {
	h := newHarness(t, nil)
	a, connA := h.connect()
	s, connS := h.connect()
	h.send(a, joinMsg("solo", "A", nil))
	h.send(s, map[string]any{"type": TypeJoinSpectator, "roomName": "solo"})

	h.send(a, map[string]any{"type": TypeLeave})
	if len(connA.ofType(t, TypeLeft)) != 1 {
		t.Fatal("no left confirmation")
	}
	if got := connS.last(t, TypeRoomClosed)["room"]; got != "solo" {
		t.Errorf("room_closed = %v", got)
	}
	if _, ok := h.dir.GetRoom("solo"); ok {
		t.Error("room should be gone")
	}
	if info := connA.last(t, TypeInfo); info["userCount"].(float64) != 0 {
		t.Errorf("info = %v", info)
	}

	// Leaving again is harmless.
	h.send(a, map[string]any{"type": TypeLeave})
	if len(connA.ofType(t, TypeError)) != 0 {
		t.Error("second leave produced an error")
	}
}

func TestGatewayRejectsBadInput(t *testing.T) {
	h := newHarness(t, nil)
	id, conn := h.connect()

	h.gw.Handle(id, []byte("{not json"))
	if got := conn.last(t, TypeError)["code"]; got != "bad_payload" {
		t.Errorf("bad json code = %v", got)
	}
	h.send(id, map[string]any{"type": "dance"})
	if got := conn.last(t, TypeError)["code"]; got != "bad_payload" {
		t.Errorf("unknown type code = %v", got)
	}
	h.send(id, map[string]any{"type": TypeRequestUpdate})
	if got := conn.last(t, TypeError)["code"]; got != "room_not_found" {
		t.Errorf("update without room code = %v", got)
	}
	h.send(id, map[string]any{"type": TypePing})
	if len(conn.ofType(t, TypePong)) != 1 {
		t.Error("no pong")
	}
}

func TestGatewayJoinRateLimited(t *testing.T) {
	h := newHarness(t, NewJoinRateLimiter(0.001, 1, time.Minute))
	id, conn := h.connect()
	h.send(id, joinMsg("one", "A", nil))
	h.send(id, map[string]any{"type": TypeJoinSpectator, "roomName": "one"})
	if got := conn.last(t, TypeError)["code"]; got != "rate_limited" {
		t.Fatalf("code = %v", got)
	}
}

func TestGatewayWhoAmI(t *testing.T) {
	h := newHarness(t, nil)
	id, conn := h.connect()

	h.send(id, map[string]any{"type": TypeWhoAmI})
	if got := conn.last(t, TypeWhoAmI); got["userID"] != nil || got["room"] != nil {
		t.Fatalf("whoami before join = %v", got)
	}

	h.send(id, joinMsg("Den", "alice", nil))
	h.send(id, map[string]any{"type": TypeWhoAmI})
	got := conn.last(t, TypeWhoAmI)
	if got["room"] != "den" || got["username"] != "alice" || got["userID"] != conn.last(t, TypeJoined)["userID"] {
		t.Errorf("whoami = %v", got)
	}
}

func memberState(t *testing.T, dir *app.Directory, room string, user domain.UserID) (present, disconnected bool) {
	t.Helper()
	snap, err := dir.Snapshot(room)
	if err != nil {
		return false, false
	}
	for _, m := range snap.Members {
		if m.ID == user {
			return true, m.Disconnected
		}
	}
	return false, false
}

func TestGatewaySwitchingUserReleasesPrevious(t *testing.T) {
	t.Run("join_spectator elsewhere", func(t *testing.T) {
		h := newHarness(t, nil)
		a, connA := h.connect()
		b, connB := h.connect()
		c, _ := h.connect()
		h.send(a, joinMsg("first", "A", nil))
		h.send(b, joinMsg("first", "B", nil))
		h.send(c, joinMsg("second", "C", nil))
		userA := domain.UserID(connA.last(t, TypeJoined)["userID"].(string))

		h.send(a, map[string]any{"type": TypeJoinSpectator, "roomName": "second"})

		if present, _ := memberState(t, h.dir, "first", userA); present {
			t.Fatal("A still holds a slot in the first room")
		}
		if h.dir.UserExists(userA) {
			t.Error("A still registered")
		}
		if left := connB.last(t, TypeUserLeft); left["userID"] != string(userA) {
			t.Errorf("user_left = %v", left)
		}
		cc, _ := h.gw.Context(a)
		if cc.Room != "second" || !cc.Spectator {
			t.Errorf("context = %+v", cc)
		}
		if got := h.dir.GetUserCount(); got != 3 {
			t.Errorf("user count = %d, want 3", got)
		}

		h.gw.Detach(a)
		if got := h.dir.GetUserCount(); got != 2 {
			t.Errorf("user count after detach = %d, want 2", got)
		}
	})

	t.Run("join with another user id", func(t *testing.T) {
		h := newHarness(t, nil)
		x, connX := h.connect()
		y, _ := h.connect()
		z, connZ := h.connect()
		h.send(x, joinMsg("ex", "X", nil))
		h.send(y, joinMsg("ex", "Y", nil))
		h.send(z, joinMsg("zed", "Z", nil))
		userX := domain.UserID(connX.last(t, TypeJoined)["userID"].(string))
		userZ := domain.UserID(connZ.last(t, TypeJoined)["userID"].(string))
		h.gw.Detach(z)

		h.send(x, map[string]any{"type": TypeJoin, "userID": string(userZ), "roomName": "zed"})

		if got := connX.last(t, TypeJoined)["userID"]; got != string(userZ) {
			t.Fatalf("joined as %v", got)
		}
		if present, _ := memberState(t, h.dir, "ex", userX); present {
			t.Error("X still holds a slot")
		}
		if present, disc := memberState(t, h.dir, "zed", userZ); !present || disc {
			t.Errorf("Z present=%v disconnected=%v", present, disc)
		}
	})

	t.Run("failed join keeps binding", func(t *testing.T) {
		h := newHarness(t, nil)
		a, connA := h.connect()
		b, _ := h.connect()
		f, _ := h.connect()
		h.send(a, joinMsg("home", "A", nil))
		h.send(b, joinMsg("home", "B", nil))
		h.send(f, joinMsg("full", "F", smallRoom(1, false)))
		userA := domain.UserID(connA.last(t, TypeJoined)["userID"].(string))

		h.send(a, map[string]any{"type": TypeJoin, "userID": "ghost", "roomName": "full", "userName": "A"})

		if got := connA.last(t, TypeError)["code"]; got != "spectating_not_allowed" {
			t.Fatalf("code = %v", got)
		}
		cc, _ := h.gw.Context(a)
		if cc.UserID != userA || cc.Room != "home" {
			t.Errorf("binding lost: %+v", cc)
		}
		if present, disc := memberState(t, h.dir, "home", userA); !present || disc {
			t.Errorf("A present=%v disconnected=%v", present, disc)
		}

		h.gw.Detach(a)
		if _, disc := memberState(t, h.dir, "home", userA); !disc {
			t.Error("detach should mark A disconnected")
		}
	})
}

func TestGatewayRefreshRace(t *testing.T) {
	h := newHarness(t, nil)
	a1, connA1 := h.connect()
	b, _ := h.connect()
	h.send(a1, joinMsg("refresh", "A", nil))
	h.send(b, joinMsg("refresh", "B", nil))
	userA := connA1.last(t, TypeJoined)["userID"].(string)
	rejoin, err := json.Marshal(map[string]any{"type": TypeJoin, "userID": userA, "roomName": "refresh"})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 50; i++ {
		a2, _ := h.connect()
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.gw.Detach(a1)
		}()
		go func() {
			defer wg.Done()
			h.gw.Handle(a2, rejoin)
		}()
		wg.Wait()

		cc, _ := h.gw.Context(a2)
		present, disc := memberState(t, h.dir, "refresh", domain.UserID(userA))
		if cc.UserID != domain.UserID(userA) || !present || disc {
			t.Fatalf("iteration %d: bound=%v present=%v disconnected=%v", i, cc.UserID, present, disc)
		}
		a1 = a2
	}
}
