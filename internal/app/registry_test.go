package app

import (
	"fmt"
	"testing"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/session"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddGetRemove(t *testing.T) {
	reg := NewRegistry(NewIDAllocator())
	s := session.New("a")

	require.True(t, reg.Add(s))
	assert.False(t, reg.Add(session.New("a")), "duplicate id")
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.Get("a")
	require.True(t, ok)
	assert.Same(t, s, got)

	removed, ok := reg.Remove("a")
	require.True(t, ok)
	assert.Same(t, s, removed)
	_, ok = reg.Get("a")
	assert.False(t, ok)
	_, ok = reg.Remove("a")
	assert.False(t, ok)
}

func TestRegistrySnapshotIsStable(t *testing.T) {
	reg := NewRegistry(NewIDAllocator())
	reg.Add(session.New("a"))
	snap := reg.Sessions()
	reg.Add(session.New("b"))
	reg.Remove("a")

	require.Len(t, snap, 1)
	assert.Equal(t, core.SessionID("a"), snap[0].ID())
	require.Len(t, reg.Sessions(), 1)
	assert.Equal(t, core.SessionID("b"), reg.Sessions()[0].ID())
}

func TestRegistryMembersOfRoom(t *testing.T) {
	reg := NewRegistry(NewIDAllocator())
	joined(reg, "a", 1, 10)
	joined(reg, "b", 2, 10)
	joined(reg, "c", 1, 20)
	reg.Add(session.New("unbound"))

	assert.Len(t, reg.MembersOfRoom(10), 2)
	assert.Equal(t, 1, reg.CountInRoom(20))
	assert.Zero(t, reg.CountInRoom(30))
	assert.Len(t, reg.SessionsOfUser(1), 2)
}

func TestRegistryConcurrentReadersAndWriters(t *testing.T) {
	reg := NewRegistry(NewIDAllocator())
	wg := conc.NewWaitGroup()
	for i := 0; i < 8; i++ {
		i := i
		wg.Go(func() {
			for j := 0; j < 50; j++ {
				sid := core.SessionID(fmt.Sprintf("%d-%d", i, j))
				s := session.New(sid)
				s.State().BindRoom(domain.RoomID(i%2 + 1))
				reg.Add(s)
				if j%2 == 0 {
					reg.Remove(sid)
				}
			}
		})
		wg.Go(func() {
			for j := 0; j < 200; j++ {
				for _, s := range reg.MembersOfRoom(1) {
					assert.True(t, s.State().InRoom(1))
				}
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 8*25, reg.Len())
}

func TestRegistryUsers(t *testing.T) {
	reg := NewRegistry(NewIDAllocator())

	u1 := reg.GetOrCreateUser("tok-1")
	u2 := reg.GetOrCreateUser("tok-2")
	again := reg.GetOrCreateUser("tok-1")

	assert.Equal(t, u1.ID, again.ID)
	assert.NotEqual(t, u1.ID, u2.ID)
	assert.Equal(t, domain.DefaultUsername, u1.Username)

	u, err := reg.UpdateUsername("tok-1", "erin")
	require.NoError(t, err)
	assert.Equal(t, "erin", u.Username)
	assert.Equal(t, "erin", reg.GetOrCreateUser("tok-1").Username)

	_, err = reg.UpdateUsername("tok-1", "")
	assert.ErrorIs(t, err, domain.ErrUsernameEmpty)

	_, err = reg.UpdateUsername("nobody", "x")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestIDAllocatorStartsAtOne(t *testing.T) {
	ids := NewIDAllocator()
	assert.Equal(t, domain.UserID(1), ids.NextUser())
	assert.Equal(t, domain.UserID(2), ids.NextUser())
	assert.Equal(t, domain.RoomID(1), ids.NextRoom(), "counters are independent")
}
