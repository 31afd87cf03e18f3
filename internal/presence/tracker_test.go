package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ackCall struct {
	roomKey string
	ids     []string
}

type fakeAcks struct {
	mu        sync.Mutex
	delivered []ackCall
	read      []ackCall
}

func (f *fakeAcks) SendDelivered(roomKey string, ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, ackCall{roomKey, ids})
}

func (f *fakeAcks) SendRead(roomKey string, ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, ackCall{roomKey, ids})
}

func (f *fakeAcks) readCalls() []ackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ackCall, len(f.read))
	copy(out, f.read)
	return out
}

func newTestTracker(acks *fakeAcks) *Tracker {
	t := NewTracker("self", acks, zerolog.Nop())
	t.readDebounce = 20 * time.Millisecond
	return t
}

func TestOnlineSet(t *testing.T) {
	tr := newTestTracker(&fakeAcks{})

	tr.SetOnline("alice", true)
	tr.SetOnline("bob", true)
	assert.True(t, tr.IsOnline("alice"))
	assert.False(t, tr.IsOnline("carol"))

	tr.SetOnline("alice", false)
	assert.False(t, tr.IsOnline("alice"))
	assert.Equal(t, []string{"bob"}, tr.OnlineIDs())
}

func TestSeedFromRooms(t *testing.T) {
	tr := newTestTracker(&fakeAcks{})
	tr.SeedFromRooms(map[string]bool{"alice": true, "bob": false})

	assert.True(t, tr.IsOnline("alice"))
	assert.False(t, tr.IsOnline("bob"))
}

func TestHandleIncoming_ActiveRoomReadsImmediately(t *testing.T) {
	acks := &fakeAcks{}
	tr := newTestTracker(acks)

	countUnread := tr.HandleIncoming("room-1", "alice", "m1", true)

	assert.False(t, countUnread)
	require.Len(t, acks.delivered, 1)
	assert.Equal(t, ackCall{"room-1", []string{"m1"}}, acks.delivered[0])
	require.Len(t, acks.read, 1)
	assert.Equal(t, ackCall{"room-1", []string{"m1"}}, acks.read[0])
}

func TestHandleIncoming_InactiveRoomCountsUnread(t *testing.T) {
	acks := &fakeAcks{}
	tr := newTestTracker(acks)

	countUnread := tr.HandleIncoming("room-1", "alice", "m1", false)

	assert.True(t, countUnread)
	require.Len(t, acks.delivered, 1)
	assert.Empty(t, acks.read)
}

func TestHandleIncoming_IgnoresOwnMessages(t *testing.T) {
	acks := &fakeAcks{}
	tr := newTestTracker(acks)

	countUnread := tr.HandleIncoming("room-1", "self", "m1", false)

	assert.False(t, countUnread)
	assert.Empty(t, acks.delivered)
	assert.Empty(t, acks.read)
}

func TestQueueRead_DebouncesIntoOneBatch(t *testing.T) {
	acks := &fakeAcks{}
	tr := newTestTracker(acks)

	tr.QueueRead("room-1", []string{"m1"})
	tr.QueueRead("room-1", []string{"m2", "m3"})
	tr.QueueRead("room-1", []string{"m2"}) // duplicate collapses

	assert.Empty(t, acks.readCalls(), "nothing flushed before the debounce fires")

	require.Eventually(t, func() bool {
		return len(acks.readCalls()) == 1
	}, time.Second, 5*time.Millisecond)

	calls := acks.readCalls()
	assert.Equal(t, "room-1", calls[0].roomKey)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, calls[0].ids)
}

func TestQueueRead_SeparateRoomsSeparateBatches(t *testing.T) {
	acks := &fakeAcks{}
	tr := newTestTracker(acks)

	tr.QueueRead("room-1", []string{"m1"})
	tr.QueueRead("room-2", []string{"m2"})

	require.Eventually(t, func() bool {
		return len(acks.readCalls()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestFlush_SendsImmediately(t *testing.T) {
	acks := &fakeAcks{}
	tr := newTestTracker(acks)
	tr.readDebounce = time.Minute // never fires on its own

	tr.QueueRead("room-1", []string{"m1", "m2"})
	tr.Flush("room-1")

	calls := acks.readCalls()
	require.Len(t, calls, 1)
	assert.ElementsMatch(t, []string{"m1", "m2"}, calls[0].ids)

	// Second flush is a no-op.
	tr.Flush("room-1")
	assert.Len(t, acks.readCalls(), 1)
}
