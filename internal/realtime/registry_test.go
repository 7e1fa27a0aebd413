package realtime

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryJoinIsIdempotent(t *testing.T) {
	rooms := NewRegistry(discardLogger())
	sess, transport := newTestSession()

	assert.True(t, rooms.Join(ChannelRoom("c1"), sess))
	assert.False(t, rooms.Join(ChannelRoom("c1"), sess))
	assert.Len(t, rooms.Members(ChannelRoom("c1")), 1)

	assert.Equal(t, 1, rooms.Broadcast(ChannelRoom("c1"), "ping", nil))
	assert.Len(t, transport.received(t), 1)
}

func TestRegistryLeave(t *testing.T) {
	rooms := NewRegistry(discardLogger())
	sess, transport := newTestSession()

	rooms.Join(ChannelRoom("c1"), sess)
	assert.True(t, rooms.Leave(ChannelRoom("c1"), sess))
	assert.False(t, rooms.Leave(ChannelRoom("c1"), sess))
	assert.False(t, rooms.Leave(ChannelRoom("never"), sess))

	assert.Equal(t, 0, rooms.Broadcast(ChannelRoom("c1"), "ping", nil))
	assert.Empty(t, transport.received(t))
	assert.Equal(t, 0, rooms.Len(), "empty rooms are evicted")
}

func TestRegistryLeaveAll(t *testing.T) {
	rooms := NewRegistry(discardLogger())
	sess, transport := newTestSession()
	other, otherTransport := newTestSession()

	rooms.Join(UserRoom("u1"), sess)
	rooms.Join(ServerRoom("s1"), sess)
	rooms.Join(ChannelRoom("c1"), sess)
	rooms.Join(ChannelRoom("c1"), other)

	left := rooms.LeaveAll(sess)
	assert.ElementsMatch(t, []Key{UserRoom("u1"), ServerRoom("s1"), ChannelRoom("c1")}, left)
	assert.Empty(t, rooms.Rooms(sess))

	for _, key := range left {
		rooms.Broadcast(key, "ping", nil)
	}
	assert.Empty(t, transport.received(t))
	assert.Len(t, otherTransport.received(t), 1)
	assert.Equal(t, 1, rooms.Len())
}

func TestRegistryFailedMemberIsRemoved(t *testing.T) {
	rooms := NewRegistry(discardLogger())
	healthy, healthyTransport := newTestSession()
	broken, brokenTransport := newTestSession()

	rooms.Join(ChannelRoom("c1"), healthy)
	rooms.Join(ChannelRoom("c1"), broken)
	rooms.Join(ChannelRoom("c2"), broken)
	brokenTransport.breakDown()

	assert.Equal(t, 1, rooms.Broadcast(ChannelRoom("c1"), "ping", nil))
	assert.Len(t, healthyTransport.received(t), 1)
	assert.False(t, rooms.Has(ChannelRoom("c1"), broken))
	assert.True(t, rooms.Has(ChannelRoom("c2"), broken), "only the failing room drops the member")
}

func TestRegistryFIFOPerRecipient(t *testing.T) {
	rooms := NewRegistry(discardLogger())

	transports := make([]*fakeTransport, 0, 3)
	for i := 0; i < 3; i++ {
		sess, transport := newTestSession()
		rooms.Join(ChannelRoom("c1"), sess)
		transports = append(transports, transport)
	}

	for i := 0; i < 50; i++ {
		rooms.Broadcast(ChannelRoom("c1"), "seq", map[string]int{"n": i})
	}

	for _, transport := range transports {
		frames := transport.received(t)
		require.Len(t, frames, 50)
		for i, frame := range frames {
			assert.Equal(t, i, decodeData[map[string]int](t, frame)["n"])
		}
	}
}

func TestRegistryMirrorAndEvict(t *testing.T) {
	rooms := NewRegistry(discardLogger())
	a, _ := newTestSession()
	b, _ := newTestSession()

	rooms.Join(ServerRoom("s1"), a)
	rooms.Join(ServerRoom("s1"), b)
	rooms.Join(ChannelRoom("c9"), a)

	assert.Equal(t, 1, rooms.Mirror(ServerRoom("s1"), ChannelRoom("c9")))
	assert.Len(t, rooms.Members(ChannelRoom("c9")), 2)

	evicted := rooms.Evict(ChannelRoom("c9"))
	assert.Len(t, evicted, 2)
	assert.Empty(t, rooms.Members(ChannelRoom("c9")))
	assert.NotContains(t, rooms.Rooms(a), ChannelRoom("c9"))
	assert.Contains(t, rooms.Rooms(a), ServerRoom("s1"))
}

func TestRegistryConcurrentUse(t *testing.T) {
	rooms := NewRegistry(discardLogger())
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			sess, _ := newTestSession()
			key := ChannelRoom(fmt.Sprint(i % 2))
			for j := 0; j < 100; j++ {
				rooms.Join(key, sess)
				rooms.Broadcast(key, "ping", nil)
				rooms.Leave(key, sess)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, 0, rooms.Len())
}

func TestParseKey(t *testing.T) {
	kind, id, err := ParseKey("channel:users:abc")
	require.NoError(t, err)
	assert.Equal(t, KindChannel, kind)
	assert.Equal(t, "users:abc", id)

	_, _, err = ParseKey("lobby:1")
	assert.Error(t, err)
	_, _, err = ParseKey("server:")
	assert.Error(t, err)

	assert.Equal(t, KindUser, UserRoom("1").Kind())
}
