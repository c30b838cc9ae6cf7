package admission

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/DoyleJ11/match-relay/internal/departure"
	"github.com/DoyleJ11/match-relay/internal/hub"
	"github.com/DoyleJ11/match-relay/internal/registry"
	"github.com/DoyleJ11/match-relay/internal/registry/registrytest"
	"github.com/DoyleJ11/match-relay/internal/room"
	"github.com/DoyleJ11/match-relay/internal/types"
)

const wait = 100 * time.Millisecond

type fixture struct {
	hub   *hub.Hub
	reg   *registry.Registry
	dep   *departure.Handler
	ctl   *Controller
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	f := &fixture{clock: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	f.hub = hub.NewHub(20, hub.WithClock(func() time.Time { return f.clock }))
	f.reg = registry.New(16, log)
	f.dep = departure.New(f.hub, f.reg, log)
	f.ctl = New(f.hub, f.reg, f.dep, log, WithClock(func() time.Time { return f.clock }))
	return f
}

func (f *fixture) connect() *registry.Conn {
	return f.reg.Register(&registrytest.Transport{})
}

func (f *fixture) create(t *testing.T, name string) (r *room.Room, playerCode, spectatorCode string) {
	t.Helper()
	created := f.ctl.Create(name, room.Settings{TotalGames: 3})
	r, ok := f.hub.Get(created.RoomID)
	require.True(t, ok)
	return r, created.PlayerCode, created.SpectatorCode
}

func (f *fixture) admit(t *testing.T, c *registry.Conn, code, name string) Result {
	t.Helper()
	res, err := f.ctl.Admit(code, name, c.ID)
	require.NoError(t, err)
	return res
}

func TestDecide_Table(t *testing.T) {
	cases := []struct {
		state    room.State
		codeRole room.CodeRole
		match    Match
		want     Outcome
	}{
		{room.StateLobby, room.CodeSpectator, MatchNone, OutcomeViewerWait},
		{room.StateLobby, room.CodePlayer, MatchNone, OutcomeActivate},
		{room.StateLobby, room.CodePlayer, MatchSeatA, OutcomeRebindCreator},
		{room.StateActive, room.CodeSpectator, MatchNone, OutcomeSpectate},
		{room.StateActive, room.CodePlayer, MatchSeatA, OutcomeReconnect},
		{room.StateActive, room.CodePlayer, MatchSeatB, OutcomeReconnect},
		{room.StateActive, room.CodePlayer, MatchNone, OutcomeSpectatorFallback},
		{room.StateClosed, room.CodePlayer, MatchSeatA, OutcomeNotFound},
		{room.StateClosed, room.CodeSpectator, MatchNone, OutcomeNotFound},
		{room.StateActive, "", MatchNone, OutcomeNotFound},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Decide(tc.state, tc.codeRole, tc.match), "%s/%s/%s", tc.state, tc.codeRole, tc.match)
	}
}

func TestDecide_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		state := rapid.SampledFrom([]room.State{room.StateLobby, room.StateActive, room.StateClosed}).Draw(rt, "state")
		codeRole := rapid.SampledFrom([]room.CodeRole{room.CodePlayer, room.CodeSpectator}).Draw(rt, "codeRole")
		match := rapid.SampledFrom([]Match{MatchNone, MatchSeatA, MatchSeatB}).Draw(rt, "match")

		out := Decide(state, codeRole, match)
		if state == room.StateClosed && out != OutcomeNotFound {
			rt.Fatalf("closed room admitted: %s", out)
		}
		if out == OutcomeActivate && (state != room.StateLobby || codeRole != room.CodePlayer) {
			rt.Fatalf("activation outside lobby+player: %s/%s", state, codeRole)
		}
		if codeRole == room.CodeSpectator && (out == OutcomeActivate || out == OutcomeReconnect || out == OutcomeRebindCreator) {
			rt.Fatalf("spectator code reached a seat: %s", out)
		}
		if out == OutcomeReconnect && match == MatchNone {
			rt.Fatalf("reconnect without a matching seat")
		}
	})
}

func TestCreate_NormalisesNameAndBindsNothing(t *testing.T) {
	f := newFixture(t)
	created := f.ctl.Create("  ", room.Settings{TotalGames: 5})
	assert.Equal(t, types.TypeRoomCreated, created.Type)
	assert.NotEqual(t, created.PlayerCode, created.SpectatorCode)
	assert.Equal(t, 5, created.Settings.TotalGames)

	r, ok := f.hub.Get(created.RoomID)
	require.True(t, ok)
	info := r.Snapshot()
	assert.Equal(t, "Player", info.Players.A)
	assert.Equal(t, room.StateLobby, info.State)
	assert.Equal(t, room.PresenceDisconnected, info.SeatA)
}

func TestAdmit_SpectatorInLobbyChangesNothing(t *testing.T) {
	f := newFixture(t)
	r, _, sc := f.create(t, "Ann")
	before := r.Snapshot()

	v := f.connect()
	f.clock = f.clock.Add(time.Minute)
	res, err := f.ctl.Admit(sc, "Viv", v.ID)
	require.True(t, errors.Is(err, room.ErrNotReady))
	assert.Equal(t, OutcomeViewerWait, res.Outcome)

	assert.Equal(t, before, r.Snapshot())
	assert.False(t, v.Binding().Bound())

	registrytest.RecvType(t, v, types.TypeViewerWait, wait)
	select {
	case <-v.Closing():
	default:
		t.Fatal("viewer_wait must be followed by a close")
	}
}

func TestAdmit_OnlySecondDistinctPlayerActivates(t *testing.T) {
	f := newFixture(t)
	r, pc, _ := f.create(t, "Ann")

	bo := f.connect()
	res := f.admit(t, bo, pc, "Bo")
	assert.Equal(t, OutcomeActivate, res.Outcome)
	assert.Equal(t, room.RoleSeatB, res.Role)

	var joined types.RoomJoined
	registrytest.RecvType(t, bo, types.TypeRoomJoined, wait).Decode(t, &joined)
	assert.Equal(t, room.Players{A: "Ann", B: "Bo"}, joined.Players)
	assert.Equal(t, room.RoleSeatB, joined.Role)
	assert.False(t, joined.Waiting)

	cy := f.connect()
	res = f.admit(t, cy, pc, "Cy")
	assert.Equal(t, OutcomeSpectatorFallback, res.Outcome)
	registrytest.RecvType(t, cy, types.TypeRoomJoined, wait).Decode(t, &joined)
	assert.Equal(t, room.RoleSpectator, joined.Role)
	assert.NotEmpty(t, joined.Note)

	info := r.Snapshot()
	assert.Equal(t, room.StateActive, info.State)
	assert.Equal(t, room.Players{A: "Ann", B: "Bo"}, info.Players, "a third player never replaces seat B")
	assert.Equal(t, 1, info.ViewerCount)

	// Bo hears about the new viewer.
	var vu types.ViewerUpdate
	registrytest.RecvType(t, bo, types.TypeViewerUpdate, wait).Decode(t, &vu)
	assert.Equal(t, 1, vu.ViewerCount)
}

func TestAdmit_CreatorReturnsBeforeOpponent(t *testing.T) {
	f := newFixture(t)
	r, pc, _ := f.create(t, "Ann")

	ann := f.connect()
	res := f.admit(t, ann, pc, "Ann")
	assert.Equal(t, OutcomeRebindCreator, res.Outcome)
	assert.Equal(t, room.StateLobby, r.Snapshot().State)

	var joined types.RoomJoined
	registrytest.RecvType(t, ann, types.TypeRoomJoined, wait).Decode(t, &joined)
	assert.True(t, joined.Waiting)
	assert.Equal(t, room.RoleSeatA, joined.Role)

	bo := f.connect()
	f.admit(t, bo, pc, "Bo")
	assert.Equal(t, room.StateActive, r.Snapshot().State)

	var start types.GameStart
	registrytest.RecvType(t, ann, types.TypeGameStart, wait).Decode(t, &start)
	assert.Equal(t, room.Players{A: "Ann", B: "Bo"}, start.Players)
	registrytest.RecvType(t, bo, types.TypeRoomJoined, wait)
	registrytest.RecvNone(t, bo, 20*time.Millisecond)
}

func TestAdmit_SeatReconnectOnlyChangesPresence(t *testing.T) {
	f := newFixture(t)
	r, pc, sc := f.create(t, "Ann")

	ann := f.connect()
	bo := f.connect()
	viv := f.connect()
	f.admit(t, bo, pc, "Bo")
	f.admit(t, ann, pc, "Ann")
	f.admit(t, viv, sc, "Viv")

	before := r.Snapshot()
	f.dep.Depart(bo)
	assert.Equal(t, room.PresenceDisconnected, r.Snapshot().SeatB)
	assert.Equal(t, room.StateActive, r.Snapshot().State)

	bo2 := f.connect()
	res := f.admit(t, bo2, pc, "Bo")
	assert.Equal(t, OutcomeReconnect, res.Outcome)
	assert.Equal(t, room.RoleSeatB, res.Role)

	after := r.Snapshot()
	assert.Equal(t, before.Players, after.Players)
	assert.Equal(t, before.ViewerCount, after.ViewerCount)
	assert.Equal(t, before.Turn, after.Turn)
	assert.Equal(t, room.PresenceConnected, after.SeatB)

	r.Lock()
	assert.Equal(t, room.RoleSeatB, r.RoleOf(bo2.ID))
	assert.Equal(t, room.RoleNone, r.RoleOf(bo.ID))
	r.Unlock()

	// Everyone else gets a resync.
	drain(ann)
	drain(viv)
	f.dep.Depart(ann)
	ann2 := f.connect()
	f.admit(t, ann2, pc, "Ann")
	registrytest.RecvType(t, bo2, types.TypeRoomJoined, wait)
	registrytest.RecvType(t, bo2, types.TypeGameStart, wait)
	registrytest.RecvType(t, viv, types.TypeGameStart, wait)
}

func TestAdmit_UnknownAndClosed(t *testing.T) {
	f := newFixture(t)
	c := f.connect()

	_, err := f.ctl.Admit("ZZ999", "Bo", c.ID)
	assert.True(t, errors.Is(err, room.ErrCodeNotFound))

	r, pc, _ := f.create(t, "Ann")
	r.Lock()
	r.Close()
	r.Unlock()
	_, err = f.ctl.Admit(pc, "Bo", c.ID)
	assert.True(t, errors.Is(err, room.ErrCodeNotFound))
	assert.False(t, c.Binding().Bound())

	_, err = f.ctl.Admit(pc, "Bo", "no-such-conn")
	assert.Error(t, err)
}

func TestAdmit_MovesConnectionBetweenRooms(t *testing.T) {
	f := newFixture(t)
	r1, pc1, sc1 := f.create(t, "Ann")
	_, pc2, _ := f.create(t, "Cy")

	f.admit(t, f.connect(), pc1, "Bo")
	v := f.connect()
	f.admit(t, v, sc1, "Viv")
	assert.Equal(t, 1, r1.Snapshot().ViewerCount)

	res := f.admit(t, v, pc2, "Viv")
	assert.Equal(t, OutcomeActivate, res.Outcome)
	assert.Equal(t, 0, r1.Snapshot().ViewerCount)
	assert.Equal(t, res.RoomID, v.Binding().RoomID)
}

func TestAdmit_RejectedJoinKeepsCurrentSeat(t *testing.T) {
	f := newFixture(t)
	r, pc, _ := f.create(t, "Ann")
	_, _, otherSC := f.create(t, "Cy")

	ann := f.connect()
	bo := f.connect()
	f.admit(t, ann, pc, "Ann")
	f.admit(t, bo, pc, "Bo")
	bound := ann.Binding()
	drain(ann)
	drain(bo)

	_, err := f.ctl.Admit("ZZ999", "Ann", ann.ID)
	assert.True(t, errors.Is(err, room.ErrCodeNotFound))

	// The other room is still a lobby.
	res, err := f.ctl.Admit(otherSC, "Ann", ann.ID)
	assert.True(t, errors.Is(err, room.ErrNotReady))
	assert.Equal(t, OutcomeViewerWait, res.Outcome)
	registrytest.RecvType(t, ann, types.TypeViewerWait, wait)
	select {
	case <-ann.Closing():
		t.Fatal("a seated connection must not be closed by viewer_wait")
	default:
	}

	assert.Equal(t, bound, ann.Binding())
	assert.Equal(t, room.PresenceConnected, r.Snapshot().SeatA)
	r.Lock()
	assert.Equal(t, room.RoleSeatA, r.RoleOf(ann.ID))
	r.Unlock()
	registrytest.RecvNone(t, bo, 20*time.Millisecond)
}

func TestAdmit_CreatorKeepsSeatOnOwnSpectatorCode(t *testing.T) {
	f := newFixture(t)
	r, pc, sc := f.create(t, "Ann")

	ann := f.connect()
	f.admit(t, ann, pc, "Ann")
	drain(ann)

	_, err := f.ctl.Admit(sc, "Ann", ann.ID)
	assert.True(t, errors.Is(err, room.ErrNotReady))

	info := r.Snapshot()
	assert.Equal(t, room.StateLobby, info.State)
	assert.Equal(t, room.PresenceConnected, info.SeatA)
	assert.Equal(t, room.RoleSeatA, ann.Binding().Role)
}

func TestAdmit_RepeatedJoinIsIdempotent(t *testing.T) {
	f := newFixture(t)
	r, pc, sc := f.create(t, "Ann")

	ann := f.connect()
	bo := f.connect()
	viv := f.connect()
	f.admit(t, ann, pc, "Ann")

	// Still in the lobby: presenting the player code again must not activate.
	res := f.admit(t, ann, pc, "Ann")
	assert.Equal(t, OutcomeRejoin, res.Outcome)
	assert.Equal(t, room.RoleSeatA, res.Role)
	assert.Equal(t, room.StateLobby, r.Snapshot().State)

	f.admit(t, bo, pc, "Bo")
	f.admit(t, viv, sc, "Viv")
	before := r.Snapshot()
	drain(ann)
	drain(bo)
	drain(viv)

	res = f.admit(t, bo, pc, "Bo")
	assert.Equal(t, OutcomeRejoin, res.Outcome)
	assert.Equal(t, room.RoleSeatB, res.Role)
	registrytest.RecvType(t, bo, types.TypeRoomJoined, wait)

	res = f.admit(t, viv, sc, "Viv")
	assert.Equal(t, OutcomeRejoin, res.Outcome)
	res = f.admit(t, viv, pc, "Viv")
	assert.Equal(t, OutcomeRejoin, res.Outcome, "a spectator with no seat of their own stays a spectator")

	after := r.Snapshot()
	assert.Equal(t, before.Players, after.Players)
	assert.Equal(t, before.ViewerCount, after.ViewerCount)
	registrytest.RecvNone(t, ann, 20*time.Millisecond)
}

func TestAdmit_SpectatorTakesBackOwnSeat(t *testing.T) {
	f := newFixture(t)
	r, pc, sc := f.create(t, "Ann")

	ann := f.connect()
	bo := f.connect()
	f.admit(t, ann, pc, "Ann")
	f.admit(t, bo, pc, "Bo")
	f.dep.Depart(bo)

	// Bo comes back through the spectator link first, then claims the seat.
	bo2 := f.connect()
	f.admit(t, bo2, sc, "Bo")
	assert.Equal(t, 1, r.Snapshot().ViewerCount)

	res := f.admit(t, bo2, pc, "Bo")
	assert.Equal(t, OutcomeReconnect, res.Outcome)
	assert.Equal(t, room.RoleSeatB, res.Role)
	info := r.Snapshot()
	assert.Equal(t, 0, info.ViewerCount)
	assert.Equal(t, room.PresenceConnected, info.SeatB)
	assert.Equal(t, room.RoleSeatB, bo2.Binding().Role)
}

func TestAdmit_NamelessJoinerNeverClaimsCreatorSeat(t *testing.T) {
	f := newFixture(t)
	r, pc, _ := f.create(t, "")

	// Both names fall back to the default; the second one is still an opponent.
	guest := f.connect()
	res := f.admit(t, guest, pc, "")
	assert.Equal(t, OutcomeActivate, res.Outcome)
	assert.Equal(t, room.RoleSeatB, res.Role)
	assert.Equal(t, room.Players{A: DefaultPlayerName, B: DefaultPlayerName}, r.Snapshot().Players)

	st, err := f.ctl.Status(pc, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSpectatorFallback, st.Outcome)
}

func TestAdmit_CodeIsCaseInsensitiveAndTouches(t *testing.T) {
	f := newFixture(t)
	r, pc, _ := f.create(t, "Ann")

	f.clock = f.clock.Add(5 * time.Minute)
	bo := f.connect()
	f.admit(t, bo, " "+strings.ToLower(pc)+" ", "Bo")
	assert.Equal(t, f.clock, r.Snapshot().LastActivity)
	assert.Equal(t, pc, bo.Binding().Code)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	r, pc, sc := f.create(t, "Ann")

	st, err := f.ctl.Status(sc, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeViewerWait, st.Outcome)
	assert.False(t, st.Admissible)
	assert.Equal(t, room.CodeSpectator, st.CodeRole)

	st, err = f.ctl.Status(pc, "Ann")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRebindCreator, st.Outcome)
	assert.True(t, st.Admissible)

	st, err = f.ctl.Status(pc, "Bo")
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivate, st.Outcome)
	assert.Equal(t, room.StateLobby, r.Snapshot().State, "status never mutates")

	_, err = f.ctl.Status("QQ111", "")
	assert.True(t, errors.Is(err, room.ErrCodeNotFound))
}

func drain(c *registry.Conn) {
	for {
		select {
		case <-c.Outbox():
		default:
			return
		}
	}
}
