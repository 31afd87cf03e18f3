// Package presence tracks which users are online and drives delivered/read
// acknowledgements for incoming messages, batching read receipts behind a
// short debounce.
package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AckSender pushes receipt acknowledgements to the server. Implemented by the
// session layer over the signaling transport.
type AckSender interface {
	SendDelivered(roomKey string, messageIDs []string)
	SendRead(roomKey string, messageIDs []string)
}

const defaultReadDebounce = time.Second

type Tracker struct {
	selfID string
	acks   AckSender
	log    zerolog.Logger

	// readDebounce is how long read receipts settle before flushing; tests
	// shrink it.
	readDebounce time.Duration

	mu          sync.Mutex
	online      map[string]bool
	pendingRead map[string]map[string]bool // roomKey -> message IDs awaiting flush
	timers      map[string]*time.Timer
}

func NewTracker(selfID string, acks AckSender, log zerolog.Logger) *Tracker {
	return &Tracker{
		selfID:       selfID,
		acks:         acks,
		log:          log.With().Str("component", "presence").Logger(),
		readDebounce: defaultReadDebounce,
		online:       make(map[string]bool),
		pendingRead:  make(map[string]map[string]bool),
		timers:       make(map[string]*time.Timer),
	}
}

// SetOnline applies a user-status push.
func (t *Tracker) SetOnline(userID string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		t.online[userID] = true
	} else {
		delete(t.online, userID)
	}
}

// IsOnline reports whether the user is currently online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID]
}

// OnlineIDs returns the online set as a slice.
func (t *Tracker) OnlineIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	return ids
}

// SeedFromRooms marks participants flagged online in a room snapshot.
func (t *Tracker) SeedFromRooms(participants map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, online := range participants {
		if online {
			t.online[id] = true
		}
	}
}

// HandleIncoming acknowledges one arriving message not authored by self.
// Delivery is always acked immediately; when the owning room is the active
// one the read ack is sent immediately too, otherwise the caller is told
// (via the return) to bump the unread counter instead.
func (t *Tracker) HandleIncoming(roomKey, senderID, messageID string, roomActive bool) (countUnread bool) {
	if senderID == t.selfID {
		return false
	}
	t.acks.SendDelivered(roomKey, []string{messageID})
	if roomActive {
		t.acks.SendRead(roomKey, []string{messageID})
		return false
	}
	return true
}

// QueueRead schedules message IDs for a debounced read acknowledgement.
// Bursts settle into a single batch per room.
func (t *Tracker) QueueRead(roomKey string, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.pendingRead[roomKey]
	if !ok {
		set = make(map[string]bool)
		t.pendingRead[roomKey] = set
	}
	for _, id := range messageIDs {
		set[id] = true
	}
	if timer, ok := t.timers[roomKey]; ok {
		timer.Reset(t.readDebounce)
		return
	}
	t.timers[roomKey] = time.AfterFunc(t.readDebounce, func() { t.flushRead(roomKey) })
}

func (t *Tracker) flushRead(roomKey string) {
	t.mu.Lock()
	set := t.pendingRead[roomKey]
	delete(t.pendingRead, roomKey)
	delete(t.timers, roomKey)
	t.mu.Unlock()
	if len(set) == 0 {
		return
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	t.log.Debug().Str("room", roomKey).Int("count", len(ids)).Msg("flushing read receipts")
	t.acks.SendRead(roomKey, ids)
}

// Flush forces any pending read batch out immediately, used on shutdown and
// room switches.
func (t *Tracker) Flush(roomKey string) {
	t.mu.Lock()
	if timer, ok := t.timers[roomKey]; ok {
		timer.Stop()
	}
	t.mu.Unlock()
	t.flushRead(roomKey)
}
