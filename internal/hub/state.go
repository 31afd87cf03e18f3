package hub

import (
	"sort"
	"time"

	"teamchat/internal/models"
	"teamchat/internal/utils"
)

// state is the hub's in-memory directory: users, rooms, message history and
// per-user unread counts. It stands in for the production database during
// development and tests. All access goes through Hub.mu.
type state struct {
	users    map[string]models.User
	rooms    map[string]*serverRoom
	roomKeys []string // insertion order for stable snapshots
}

type serverRoom struct {
	room     models.Room
	messages []*models.Message
	unread   map[string]int // userID -> count of unseen messages
}

func newState() *state {
	return &state{
		users: make(map[string]models.User),
		rooms: make(map[string]*serverRoom),
	}
}

func (s *state) addUser(u models.User) {
	s.users[u.ID] = u
}

func (s *state) addRoom(r models.Room) {
	if _, ok := s.rooms[r.Key]; !ok {
		s.roomKeys = append(s.roomKeys, r.Key)
	}
	s.rooms[r.Key] = &serverRoom{room: r, unread: make(map[string]int)}
}

func (s *state) room(key string) (*serverRoom, bool) {
	r, ok := s.rooms[key]
	return r, ok
}

func (r *serverRoom) isMember(userID string) bool {
	return utils.Contains(r.room.ParticipantIDs(), userID) || r.room.Type == models.RoomPublic
}

// snapshotFor builds the rooms payload for one user: their rooms with unread
// counts and current online flags merged in.
func (s *state) snapshotFor(userID string, online func(string) bool) []models.Room {
	var out []models.Room
	for _, key := range s.roomKeys {
		sr := s.rooms[key]
		if !sr.isMember(userID) {
			continue
		}
		room := sr.room
		room.UnreadCount = sr.unread[userID]
		room.Participants = append([]models.User(nil), room.Participants...)
		for i := range room.Participants {
			room.Participants[i].IsOnline = online(room.Participants[i].ID)
		}
		if room.Type == models.RoomIndividual {
			for i := range room.Participants {
				if room.Participants[i].ID != userID {
					p := room.Participants[i]
					room.Participant = &p
					break
				}
			}
		}
		out = append(out, room)
	}
	return out
}

// appendMessage stores a message and bumps unread for every other member.
func (r *serverRoom) appendMessage(m *models.Message) {
	r.messages = append(r.messages, m)
	for _, id := range r.room.ParticipantIDs() {
		if id != m.Sender.ID {
			r.unread[id]++
		}
	}
}

// history returns messages older than before (all when zero), capped at
// limit, oldest first, plus whether older messages remain.
func (r *serverRoom) history(before time.Time, limit int) (page []models.Message, hasMore bool) {
	idx := len(r.messages)
	if !before.IsZero() {
		idx = sort.Search(len(r.messages), func(i int) bool {
			return !r.messages[i].Timestamp.Before(before)
		})
	}
	start := idx - limit
	if limit <= 0 || start < 0 {
		start = 0
	}
	page = make([]models.Message, 0, idx-start)
	for _, m := range r.messages[start:idx] {
		page = append(page, *m)
	}
	return page, start > 0
}

func (r *serverRoom) message(id string) (*models.Message, bool) {
	for _, m := range r.messages {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// findMessage searches every room, returning the owning room too.
func (s *state) findMessage(id string) (*serverRoom, *models.Message, bool) {
	for _, sr := range s.rooms {
		if m, ok := sr.message(id); ok {
			return sr, m, true
		}
	}
	return nil, nil, false
}

// markDelivered upserts userID into DeliveredTo for each listed message and
// returns the IDs actually changed.
func (r *serverRoom) markDelivered(userID string, ids []string) []string {
	var changed []string
	for _, id := range ids {
		m, ok := r.message(id)
		if !ok || m.Sender.ID == userID || utils.Contains(m.DeliveredTo, userID) {
			continue
		}
		m.DeliveredTo = append(m.DeliveredTo, userID)
		changed = append(changed, id)
	}
	return changed
}

// markRead upserts userID into ReadBy (and DeliveredTo) and clears the
// user's unread count for the room.
func (r *serverRoom) markRead(userID string, ids []string) []string {
	var changed []string
	for _, id := range ids {
		m, ok := r.message(id)
		if !ok || m.Sender.ID == userID || utils.Contains(m.ReadBy, userID) {
			continue
		}
		if !utils.Contains(m.DeliveredTo, userID) {
			m.DeliveredTo = append(m.DeliveredTo, userID)
		}
		m.ReadBy = append(m.ReadBy, userID)
		changed = append(changed, id)
	}
	if len(changed) > 0 {
		r.unread[userID] = 0
	}
	return changed
}
