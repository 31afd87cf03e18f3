// Package chat holds the in-memory room and message state for one session:
// snapshot merging, message deduplication, history pagination bookkeeping and
// the persisted display order.
package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"teamchat/internal/models"
)

// OrderCache persists the room display order between sessions. Implementations
// are fallible caches: a failed load falls back to default ordering.
type OrderCache interface {
	LoadOrder() ([]string, error)
	SaveOrder(roomKeys []string) error
}

type roomState struct {
	room     models.Room
	messages []models.Message
	// olderLoading guards against overlapping older-history fetches for the
	// same room.
	olderLoading bool
	loaded       bool
}

type Store struct {
	selfID string
	log    zerolog.Logger
	cache  OrderCache

	mu    sync.Mutex
	rooms map[string]*roomState
	order []string
}

func NewStore(selfID string, cache OrderCache, log zerolog.Logger) *Store {
	return &Store{
		selfID: selfID,
		log:    log.With().Str("component", "chat").Logger(),
		cache:  cache,
		rooms:  make(map[string]*roomState),
	}
}

// ApplyRooms merges a server room snapshot. Messages already loaded for a
// surviving room are kept; rooms absent from the snapshot are dropped. The
// display order is recomputed from the saved order (unread rooms promoted) or,
// without one, unread-first.
func (s *Store) ApplyRooms(snapshot []models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*roomState, len(snapshot))
	for _, r := range snapshot {
		st, ok := s.rooms[r.Key]
		if !ok {
			st = &roomState{}
		}
		st.room = r
		next[r.Key] = st
	}
	s.rooms = next
	s.order = s.computeOrderLocked(snapshot)
	s.persistOrderLocked()
}

// computeOrderLocked sorts the snapshot per the display rules. With no saved
// order rooms with unread messages come first; with one, the saved order wins
// within the unread and read groups separately.
func (s *Store) computeOrderLocked(snapshot []models.Room) []string {
	saved, err := s.cache.LoadOrder()
	if err != nil {
		s.log.Debug().Err(err).Msg("saved order unavailable, using default")
		saved = nil
	}
	pos := make(map[string]int, len(saved))
	for i, k := range saved {
		pos[k] = i
	}

	keys := make([]string, 0, len(snapshot))
	for _, r := range snapshot {
		keys = append(keys, r.Key)
	}
	unread := func(k string) bool { return s.rooms[k].room.UnreadCount > 0 }
	rank := func(k string) int {
		if i, ok := pos[k]; ok {
			return i
		}
		return len(saved) + 1
	}
	// Insertion sort keeps the snapshot order stable for ties.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0; j-- {
			a, b := keys[j-1], keys[j]
			swap := false
			switch {
			case unread(b) && !unread(a):
				swap = true
			case unread(a) == unread(b) && len(saved) > 0 && rank(b) < rank(a):
				swap = true
			}
			if !swap {
				break
			}
			keys[j-1], keys[j] = b, a
		}
	}
	return keys
}

func (s *Store) persistOrderLocked() {
	if err := s.cache.SaveOrder(s.order); err != nil {
		s.log.Debug().Err(err).Msg("persist room order failed")
	}
}

// Rooms returns the rooms in display order.
func (s *Store) Rooms() []models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Room, 0, len(s.order))
	for _, k := range s.order {
		if st, ok := s.rooms[k]; ok {
			out = append(out, st.room)
		}
	}
	return out
}

// Room returns one room by key.
func (s *Store) Room(key string) (models.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[key]
	if !ok {
		return models.Room{}, false
	}
	return st.room, true
}

// Messages returns a copy of a room's message list, oldest first.
func (s *Store) Messages(roomKey string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[roomKey]
	if !ok {
		return nil
	}
	out := make([]models.Message, len(st.messages))
	copy(out, st.messages)
	return out
}

// AppendMessage adds a freshly arrived message to its room tail, dropping
// duplicates by ID with a (timestamp, sender) fallback — a socket push and a
// REST fetch can race to deliver the same message. The owning room is moved
// to the top of the display order and the order persisted. Returns false for
// duplicates and messages for unknown rooms.
func (s *Store) AppendMessage(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[msg.RoomKey]
	if !ok {
		s.log.Debug().Str("room", msg.RoomKey).Msg("message for unknown room dropped")
		return false
	}
	for i := range st.messages {
		if st.messages[i].SameOrigin(&msg) {
			return false
		}
	}
	st.messages = append(st.messages, msg)
	s.promoteLocked(msg.RoomKey)
	return true
}

// promoteLocked moves roomKey to the front of the display order.
func (s *Store) promoteLocked(roomKey string) {
	idx := -1
	for i, k := range s.order {
		if k == roomKey {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return
	}
	copy(s.order[1:idx+1], s.order[:idx])
	s.order[0] = roomKey
	s.persistOrderLocked()
}

// SetHistory replaces a room's message list with the initial (newest) history
// page, keeping any real-time arrivals that are not part of the page.
func (s *Store) SetHistory(roomKey string, page []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[roomKey]
	if !ok {
		return
	}
	merged := make([]models.Message, len(page))
	copy(merged, page)
	for _, live := range st.messages {
		dup := false
		for i := range merged {
			if merged[i].SameOrigin(&live) {
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, live)
		}
	}
	st.messages = merged
	st.loaded = true
}

// HistoryLoaded reports whether the initial page for a room was applied.
func (s *Store) HistoryLoaded(roomKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[roomKey]
	return ok && st.loaded
}

// BeginOlderFetch marks an older-history fetch in flight for the room and
// reports whether the caller won the flag; a false return means another fetch
// is already running and the caller must back off.
func (s *Store) BeginOlderFetch(roomKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[roomKey]
	if !ok || st.olderLoading {
		return false
	}
	st.olderLoading = true
	return true
}

// EndOlderFetch clears the in-flight flag.
func (s *Store) EndOlderFetch(roomKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.rooms[roomKey]; ok {
		st.olderLoading = false
	}
}

// PrependOlder merges a strictly-older history page at the head of the list,
// dropping entries already present.
func (s *Store) PrependOlder(roomKey string, page []models.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[roomKey]
	if !ok {
		return 0
	}
	fresh := make([]models.Message, 0, len(page))
	for _, m := range page {
		dup := false
		for i := range st.messages {
			if st.messages[i].SameOrigin(&m) {
				dup = true
				break
			}
		}
		if !dup {
			fresh = append(fresh, m)
		}
	}
	st.messages = append(fresh, st.messages...)
	return len(fresh)
}

// OldestTimestamp returns the pagination cursor for the next older page.
func (s *Store) OldestTimestamp(roomKey string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[roomKey]
	if !ok || len(st.messages) == 0 {
		return "", false
	}
	return st.messages[0].Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"), true
}

// IncrementUnread bumps a room's unread counter.
func (s *Store) IncrementUnread(roomKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.rooms[roomKey]; ok {
		st.room.UnreadCount++
	}
}

// ReduceUnread subtracts acknowledged messages from the unread counter,
// clamping at zero.
func (s *Store) ReduceUnread(roomKey string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.rooms[roomKey]; ok {
		st.room.UnreadCount -= n
		if st.room.UnreadCount < 0 {
			st.room.UnreadCount = 0
		}
	}
}

// ClearUnread zeroes the unread counter, used when a room is opened.
func (s *Store) ClearUnread(roomKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.rooms[roomKey]; ok {
		st.room.UnreadCount = 0
	}
}

// MarkDelivered merges user IDs into the delivered set of the given messages.
// Receipt sets only ever grow.
func (s *Store) MarkDelivered(roomKey string, messageIDs, userIDs []string) {
	s.updateReceipts(roomKey, messageIDs, func(m *models.Message) *[]string { return &m.DeliveredTo }, userIDs)
}

// MarkRead merges user IDs into the read set of the given messages.
func (s *Store) MarkRead(roomKey string, messageIDs, userIDs []string) {
	s.updateReceipts(roomKey, messageIDs, func(m *models.Message) *[]string { return &m.ReadBy }, userIDs)
}

func (s *Store) updateReceipts(roomKey string, messageIDs []string, field func(*models.Message) *[]string, userIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[roomKey]
	if !ok {
		return
	}
	wanted := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}
	for i := range st.messages {
		if !wanted[st.messages[i].ID] {
			continue
		}
		set := field(&st.messages[i])
		for _, uid := range userIDs {
			present := false
			for _, have := range *set {
				if have == uid {
					present = true
					break
				}
			}
			if !present {
				*set = append(*set, uid)
			}
		}
	}
}

// UnreadFrom returns IDs of messages in the room not authored by self and not
// yet read by self.
func (s *Store) UnreadFrom(roomKey string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[roomKey]
	if !ok {
		return nil
	}
	var ids []string
	for i := range st.messages {
		m := &st.messages[i]
		if m.Sender.ID == s.selfID {
			continue
		}
		read := false
		for _, uid := range m.ReadBy {
			if uid == s.selfID {
				read = true
				break
			}
		}
		if !read {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// ApplyDelete applies a delete broadcast: tombstone in place for everyone, or
// drop locally for a self-only delete.
func (s *Store) ApplyDelete(del models.MessageDeleted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[del.RoomKey]
	if !ok {
		return
	}
	for i := range st.messages {
		if st.messages[i].ID != del.MessageID {
			continue
		}
		if del.DeleteForEveryone {
			st.messages[i].Tombstone()
		} else {
			st.messages = append(st.messages[:i], st.messages[i+1:]...)
		}
		return
	}
}

// SetParticipantOnline updates the online flag on the user's stub in every
// room that carries it.
func (s *Store) SetParticipantOnline(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.rooms {
		for i := range st.room.Participants {
			if st.room.Participants[i].ID == userID {
				st.room.Participants[i].IsOnline = online
			}
		}
		if st.room.Participant != nil && st.room.Participant.ID == userID {
			st.room.Participant.IsOnline = online
		}
	}
}
