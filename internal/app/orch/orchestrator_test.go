package orch

import (
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/sfu"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/core/fake"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/dkeye/Relay/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrch(policy app.Policy) *Orchestrator {
	ids := app.NewIDAllocator()
	reg := app.NewRegistry(ids)
	router := app.NewRouter(reg)
	m := metrics.New(prometheus.NewRegistry())
	return &Orchestrator{
		Registry: reg,
		Rooms:    app.NewRoomManager(ids),
		Router:   router,
		Notifier: app.NewNotifier(router, 2, m),
		Policy:   policy,
		Relays:   sfu.NewRelayManager(),
		Metrics:  m,
	}
}

func open(t *testing.T, o *Orchestrator, sid string) *fake.Signal {
	t.Helper()
	sig := fake.NewSignal()
	_, ok := o.Open(core.SessionID(sid), domain.DefaultUsername, sig)
	require.True(t, ok)
	return sig
}

func events(t *testing.T, sig *fake.Signal) []app.Event {
	t.Helper()
	var out []app.Event
	for _, f := range sig.Frames() {
		var ev app.Event
		require.NoError(t, json.Unmarshal(f, &ev))
		out = append(out, ev)
	}
	return out
}

func TestOpenRejectsDuplicateSession(t *testing.T) {
	o := newTestOrch(app.SimplePolicy{})
	open(t, o, "a")
	_, ok := o.Open("a", "x", fake.NewSignal())
	assert.False(t, ok)
}

func TestJoinBindsOnceAndNotifies(t *testing.T) {
	o := newTestOrch(app.SimplePolicy{})
	aliceSig := open(t, o, "alice")
	bobSig := open(t, o, "bob")
	alice := domain.User{ID: 1, Username: "alice"}
	bob := domain.User{ID: 2, Username: "bob"}

	lobby, err := o.Join("alice", alice, "lobby", JoinOptions{Notify: true})
	require.NoError(t, err)

	_, err = o.Join("bob", bob, "lobby", JoinOptions{Notify: true, Data: true})
	require.NoError(t, err)

	evs := events(t, aliceSig)
	require.Len(t, evs, 1)
	assert.Equal(t, app.Event{Type: "join", Room: lobby.ID, User: 2, Username: "bob", Session: "bob"}, evs[0])
	assert.Empty(t, bobSig.Frames(), "the joiner is not told about itself")

	s, _ := o.Registry.Get("bob")
	assert.True(t, s.State().HasData())
	assert.True(t, s.State().WantsNotify())

	// Same join again: no new binding, no new event.
	_, err = o.Join("bob", bob, "lobby", JoinOptions{Notify: true})
	require.NoError(t, err)
	assert.Len(t, aliceSig.Frames(), 1)
}

func TestJoinAnotherRoomIsRefused(t *testing.T) {
	o := newTestOrch(app.SimplePolicy{})
	open(t, o, "a")
	user := domain.User{ID: 1, Username: "a"}

	lobby, err := o.Join("a", user, "lobby", JoinOptions{})
	require.NoError(t, err)

	_, err = o.Join("a", user, "stage", JoinOptions{})
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	s, _ := o.Registry.Get("a")
	room, ok := s.State().Room()
	require.True(t, ok)
	assert.Equal(t, lobby.ID, room)

	_, err = o.Join("a", domain.User{ID: 99, Username: "other"}, "lobby", JoinOptions{})
	assert.ErrorIs(t, err, ErrUserMismatch)
}

func TestRefusedJoinsLeaveNoRooms(t *testing.T) {
	o := newTestOrch(app.SimplePolicy{})
	open(t, o, "a")
	user := domain.User{ID: 1, Username: "a"}
	_, err := o.Join("a", user, "lobby", JoinOptions{})
	require.NoError(t, err)

	for _, name := range []domain.RoomName{"r0", "r1", "r2"} {
		_, err := o.Join("a", user, name, JoinOptions{})
		assert.ErrorIs(t, err, ErrAlreadyJoined)
	}
	rooms := o.Rooms.List(o.Registry)
	require.Len(t, rooms, 1)
	assert.Equal(t, domain.RoomName("lobby"), rooms[0].Name)
}

func TestLastLeavePrunesRoom(t *testing.T) {
	o := newTestOrch(app.SimplePolicy{})
	open(t, o, "a")
	open(t, o, "b")
	lobby, _ := o.Join("a", domain.User{ID: 1}, "lobby", JoinOptions{})
	_, _ = o.Join("b", domain.User{ID: 2}, "lobby", JoinOptions{})

	o.OnDisconnect("a")
	_, ok := o.Rooms.Get(lobby.ID)
	assert.True(t, ok)
	o.OnDisconnect("b")
	_, ok = o.Rooms.Get(lobby.ID)
	assert.False(t, ok)
}

func TestJoinErrors(t *testing.T) {
	o := newTestOrch(app.SimplePolicy{})
	_, err := o.Join("ghost", domain.User{ID: 1}, "lobby", JoinOptions{})
	assert.ErrorIs(t, err, ErrUnknownSession)

	open(t, o, "a")
	_, err = o.Join("a", domain.User{ID: 1}, "", JoinOptions{})
	assert.ErrorIs(t, err, domain.ErrRoomNameEmpty)
}

func TestConcurrentJoinsResolveToOneRoom(t *testing.T) {
	for round := 0; round < 50; round++ {
		o := newTestOrch(app.SimplePolicy{})
		open(t, o, "a")
		user := domain.User{ID: 1, Username: "a"}
		start := make(chan struct{})
		errs := make([]error, 2)

		wg := conc.NewWaitGroup()
		for i, name := range []domain.RoomName{"red", "blue"} {
			i, name := i, name
			wg.Go(func() {
				<-start
				_, errs[i] = o.Join("a", user, name, JoinOptions{})
			})
		}
		close(start)
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, ErrAlreadyJoined)
				failed++
			}
		}
		assert.Equal(t, 1, failed)
		assert.Len(t, o.Rooms.List(o.Registry), 1, "the losing room is pruned")
	}
}

func TestOnDataRoutesToDataPeers(t *testing.T) {
	o := newTestOrch(app.DropPolicy{})
	open(t, o, "a")
	bSig := open(t, o, "b")
	cSig := open(t, o, "c")
	aTabSig := open(t, o, "a-tab")

	_, err := o.Join("a", domain.User{ID: 1}, "lobby", JoinOptions{Data: true})
	require.NoError(t, err)
	_, err = o.Join("b", domain.User{ID: 2}, "lobby", JoinOptions{Data: true})
	require.NoError(t, err)
	_, err = o.Join("c", domain.User{ID: 3}, "lobby", JoinOptions{})
	require.NoError(t, err)
	_, err = o.Join("a-tab", domain.User{ID: 1}, "lobby", JoinOptions{Data: true})
	require.NoError(t, err)

	assert.Equal(t, 1, o.OnData("a", []byte(`{"x":1}`)))

	frames := bSig.Frames()
	require.Len(t, frames, 1)
	var msg DataMessage
	require.NoError(t, json.Unmarshal(frames[0], &msg))
	assert.Equal(t, "data", msg.Type)
	assert.Equal(t, domain.UserID(1), msg.From)
	assert.JSONEq(t, `{"x":1}`, string(msg.Body))

	assert.Empty(t, cSig.Frames())
	assert.Empty(t, aTabSig.Frames())

	// Non-JSON payloads travel as a JSON string.
	assert.Equal(t, 1, o.OnData("a", []byte("hi")))
	require.NoError(t, json.Unmarshal(bSig.Frames()[1], &msg))
	assert.Equal(t, `"hi"`, string(msg.Body))
}

func TestOnDataBeforeJoinIsDropped(t *testing.T) {
	o := newTestOrch(app.SimplePolicy{})
	open(t, o, "a")
	assert.Zero(t, o.OnData("a", []byte(`{}`)))
	assert.Zero(t, o.OnData("ghost", []byte(`{}`)))
}

func TestOnDataKicksSlowMember(t *testing.T) {
	o := newTestOrch(app.SimplePolicy{})
	open(t, o, "a")
	slowSig := open(t, o, "slow")
	_, _ = o.Join("a", domain.User{ID: 1}, "lobby", JoinOptions{Data: true})
	_, _ = o.Join("slow", domain.User{ID: 2}, "lobby", JoinOptions{Data: true})

	slowSig.SetFull(true)
	assert.Zero(t, o.OnData("a", []byte(`{}`)))

	_, ok := o.Registry.Get("slow")
	assert.False(t, ok)
	assert.Equal(t, 1, slowSig.Closed())
}

type countingPolicy struct{ calls atomic.Int32 }

func (p *countingPolicy) OnBackPressure(domain.RoomID, *session.Session) app.BackpressureAction {
	p.calls.Add(1)
	return app.DropFrame
}

func TestOnDataSkipsReleasedTarget(t *testing.T) {
	policy := &countingPolicy{}
	o := newTestOrch(policy)
	open(t, o, "a")
	open(t, o, "b")
	_, _ = o.Join("a", domain.User{ID: 1}, "lobby", JoinOptions{Data: true})
	_, _ = o.Join("b", domain.User{ID: 2}, "lobby", JoinOptions{Data: true})

	b, _ := o.Registry.Get("b")
	b.Release()
	late := fake.NewSignal()
	b.UpdateSignal(late)

	assert.Zero(t, o.OnData("a", []byte(`{}`)))
	assert.Empty(t, late.Frames())
	assert.Zero(t, policy.calls.Load(), "released targets are not backpressure")
}

func TestSetMuted(t *testing.T) {
	o := newTestOrch(app.SimplePolicy{})
	open(t, o, "a")
	assert.ErrorIs(t, o.SetMuted("ghost", "a", true), ErrUnknownSession)
	assert.ErrorIs(t, o.SetMuted("a", "nobody", true), ErrNotSubscribed)
}

func TestOnDisconnectNotifiesAndReleases(t *testing.T) {
	o := newTestOrch(app.SimplePolicy{})
	aSig := open(t, o, "a")
	bSig := open(t, o, "b")
	lobby, _ := o.Join("a", domain.User{ID: 1}, "lobby", JoinOptions{Notify: true})
	_, _ = o.Join("b", domain.User{ID: 2}, "lobby", JoinOptions{})

	media := fake.NewMedia()
	require.True(t, o.AttachMedia("b", media))

	o.OnDisconnect("b")
	o.OnDisconnect("b")

	assert.Equal(t, 1, bSig.Closed())
	assert.Equal(t, 1, media.Closed())
	evs := events(t, aSig)
	require.Len(t, evs, 2)
	assert.Equal(t, app.Event{Type: "leave", Room: lobby.ID, User: 2, Session: "b"}, evs[1])
}

func TestDataChannelDrivesFlag(t *testing.T) {
	o := newTestOrch(app.SimplePolicy{})
	open(t, o, "a")
	_, _ = o.Join("a", domain.User{ID: 1}, "lobby", JoinOptions{})

	media := fake.NewMedia()
	o.BindMediaHandlers(media, "a")
	require.True(t, o.AttachMedia("a", media))

	s, _ := o.Registry.Get("a")
	assert.False(t, s.State().HasData())
	media.OpenData()
	assert.True(t, s.State().HasData())
	media.CloseData()
	assert.False(t, s.State().HasData())

	media.OpenData()
	media.Disconnect()
	assert.False(t, s.State().HasData())
	assert.Nil(t, s.Media())
	assert.Equal(t, 1, media.Closed())
}

func TestSetFlags(t *testing.T) {
	o := newTestOrch(app.SimplePolicy{})
	open(t, o, "a")
	yes, no := true, false

	require.NoError(t, o.SetFlags("a", &yes, nil))
	s, _ := o.Registry.Get("a")
	assert.True(t, s.State().WantsNotify())
	assert.False(t, s.State().HasData())

	require.NoError(t, o.SetFlags("a", &no, &yes))
	assert.False(t, s.State().WantsNotify())
	assert.True(t, s.State().HasData())

	assert.ErrorIs(t, o.SetFlags("ghost", &yes, &yes), ErrUnknownSession)
}

func TestEvictRoom(t *testing.T) {
	o := newTestOrch(app.SimplePolicy{})
	open(t, o, "a")
	open(t, o, "b")
	lobby, _ := o.Join("a", domain.User{ID: 1}, "lobby", JoinOptions{})
	_, _ = o.Join("b", domain.User{ID: 2}, "lobby", JoinOptions{})

	o.EvictRoom(lobby.ID)
	assert.Zero(t, o.Registry.Len())
	_, ok := o.Rooms.Get(lobby.ID)
	assert.False(t, ok)
}
