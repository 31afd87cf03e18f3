// Package hub is the development signaling server: an authenticated
// websocket relay carrying chat, presence and call signaling, plus the REST
// endpoints the client consumes for history and uploads. It implements the
// production gateway's semantics against an in-memory store.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"teamchat/internal/models"
)

type Hub struct {
	secret  []byte
	log     zerolog.Logger
	metrics *Metrics

	mu      sync.Mutex
	st      *state
	conns   map[string]*conn
	calls   map[string]*callState
	uploads map[string]upload
}

func New(secret []byte, log zerolog.Logger) *Hub {
	return &Hub{
		secret:  secret,
		log:     log.With().Str("component", "hub").Logger(),
		metrics: NewMetrics(),
		st:      newState(),
		conns:   make(map[string]*conn),
		calls:   make(map[string]*callState),
		uploads: make(map[string]upload),
	}
}

// Seed loads the user directory and room layout, replacing what the
// production backend would read from its database.
func (h *Hub) Seed(users []models.User, rooms []models.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, u := range users {
		h.st.addUser(u)
	}
	for _, r := range rooms {
		h.st.addRoom(r)
	}
}

func (h *Hub) online(userID string) bool {
	_, ok := h.conns[userID]
	return ok
}

// connect registers an authenticated socket, announces presence and sends
// the room snapshot. A second socket for the same user replaces the first.
func (h *Hub) connect(c *conn) {
	h.mu.Lock()
	if old, ok := h.conns[c.id.UserID]; ok {
		old.close()
	}
	h.conns[c.id.UserID] = c
	if _, known := h.st.users[c.id.UserID]; !known {
		h.st.addUser(models.User{ID: c.id.UserID, Username: c.id.Username, Role: c.id.Role})
	}
	snapshot := h.st.snapshotFor(c.id.UserID, h.online)
	var others []*conn
	for id, other := range h.conns {
		if id != c.id.UserID {
			others = append(others, other)
		}
	}
	h.mu.Unlock()

	h.metrics.ConnectedUsers.Inc()
	for _, other := range others {
		other.push(models.EvUserStatus, models.UserStatus{UserID: c.id.UserID, IsOnline: true})
	}
	c.push(models.EvRooms, snapshot)
	h.log.Info().Str("user", c.id.UserID).Msg("client connected")
}

func (h *Hub) disconnect(c *conn) {
	h.mu.Lock()
	current, ok := h.conns[c.id.UserID]
	if !ok || current != c {
		h.mu.Unlock()
		c.close()
		return
	}
	delete(h.conns, c.id.UserID)
	notify := h.leaveAllCallsLocked(c.id.UserID)
	var others []*conn
	for _, other := range h.conns {
		others = append(others, other)
	}
	h.mu.Unlock()

	c.close()
	h.metrics.ConnectedUsers.Dec()
	for _, n := range notify {
		n()
	}
	for _, other := range others {
		other.push(models.EvUserStatus, models.UserStatus{UserID: c.id.UserID, IsOnline: false})
	}
	h.log.Info().Str("user", c.id.UserID).Msg("client disconnected")
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, ErrBadPayload
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, ErrBadPayload.WithDetails(err)
	}
	return v, nil
}

func (h *Hub) dispatch(c *conn, f frame) {
	switch f.Event {
	case models.EvSend:
		h.handleSend(c, f)
	case models.EvMarkDelivered:
		h.handleReceipt(c, f, false)
	case models.EvMarkRead:
		h.handleReceipt(c, f, true)
	case models.EvDelete:
		h.handleDelete(c, f)
	case models.EvRing, models.EvRingAccept, models.EvRingDecline,
		models.EvOffer, models.EvAnswer, models.EvCandidate,
		models.EvEnd, models.EvScreenShare:
		h.metrics.CallSignals.WithLabelValues(string(f.Event)).Inc()
		h.dispatchRTC(c, f)
	default:
		h.log.Warn().Str("event", string(f.Event)).Str("user", c.id.UserID).Msg("unknown event")
		c.ack(f.ID, models.Ack{Success: false, Message: "unknown event"})
	}
}

func (h *Hub) handleSend(c *conn, f frame) {
	if !c.limiter.Allow() {
		h.metrics.RateLimited.Inc()
		c.ack(f.ID, models.Ack{Success: false, Message: ErrRateLimited.Error()})
		return
	}
	req, err := decode[models.SendRequest](f.Data)
	if err != nil {
		c.ack(f.ID, models.Ack{Success: false, Message: err.Error()})
		return
	}

	h.mu.Lock()
	sr, ok := h.st.room(req.RoomKey)
	if !ok || !sr.isMember(c.id.UserID) {
		h.mu.Unlock()
		c.ack(f.ID, models.Ack{Success: false, Message: ErrNotAMember.Error()})
		return
	}
	sender, known := h.st.users[c.id.UserID]
	if !known {
		sender = models.User{ID: c.id.UserID, Username: c.id.Username}
	}
	msg := &models.Message{
		ID:          uuid.NewString(),
		RoomKey:     req.RoomKey,
		Sender:      sender,
		Text:        req.Text,
		Type:        req.Type,
		Attachments: req.Attachments,
		ContactData: req.ContactData,
		Timestamp:   time.Now().UTC(),
		IsEncrypted: req.IsEncrypted,
		Meta:        req.Meta,
	}
	sr.appendMessage(msg)
	recipients := h.roomConnsLocked(sr, c.id.UserID)
	out := *msg
	h.mu.Unlock()

	h.metrics.MessagesRelayed.Inc()
	for _, rc := range recipients {
		rc.push(models.EvNewMessage, out)
	}
	c.push(models.EvNewMessage, out)
	c.ack(f.ID, models.Ack{Success: true, MessageID: msg.ID})
}

func (h *Hub) handleReceipt(c *conn, f frame, read bool) {
	req, err := decode[models.ReceiptRequest](f.Data)
	if err != nil {
		c.ack(f.ID, models.Ack{Success: false, Message: err.Error()})
		return
	}

	h.mu.Lock()
	sr, ok := h.st.room(req.RoomKey)
	if !ok || !sr.isMember(c.id.UserID) {
		h.mu.Unlock()
		c.ack(f.ID, models.Ack{Success: false, Message: ErrNotAMember.Error()})
		return
	}
	var changed []string
	if read {
		changed = sr.markRead(c.id.UserID, req.MessageIDs)
	} else {
		changed = sr.markDelivered(c.id.UserID, req.MessageIDs)
	}
	recipients := h.roomConnsLocked(sr, c.id.UserID)
	h.mu.Unlock()

	if len(changed) > 0 {
		for _, rc := range recipients {
			if read {
				rc.push(models.EvMessagesRead, models.ReadFanout{
					RoomKey: req.RoomKey, UserID: c.id.UserID, MessageIDs: changed,
				})
			} else {
				rc.push(models.EvMessageDelivered, models.DeliveredFanout{
					RoomKey: req.RoomKey, MessageIDs: changed, DeliveredTo: []string{c.id.UserID},
				})
			}
		}
	}
	c.ack(f.ID, models.Ack{Success: true})
}

func (h *Hub) handleDelete(c *conn, f frame) {
	req, err := decode[models.DeleteRequest](f.Data)
	if err != nil {
		c.ack(f.ID, models.Ack{Success: false, Message: err.Error()})
		return
	}

	h.mu.Lock()
	sr, msg, ok := h.st.findMessage(req.MessageID)
	if !ok {
		h.mu.Unlock()
		c.ack(f.ID, models.Ack{Success: false, Message: "message not found"})
		return
	}
	if req.DeleteForEveryone {
		if msg.Sender.ID != c.id.UserID {
			h.mu.Unlock()
			c.ack(f.ID, models.Ack{Success: false, Message: ErrNotOwnMessage.Error()})
			return
		}
		msg.IsDeleted = true
		msg.Text = models.DeletedText
		msg.Attachments = nil
		msg.ContactData = nil
		msg.IsEncrypted = false
	} else {
		msg.DeletedBy = append(msg.DeletedBy, c.id.UserID)
	}
	roomKey := sr.room.Key
	var recipients []*conn
	if req.DeleteForEveryone {
		recipients = h.roomConnsLocked(sr, c.id.UserID)
	}
	h.mu.Unlock()

	broadcast := models.MessageDeleted{
		MessageID: req.MessageID, RoomKey: roomKey, DeleteForEveryone: req.DeleteForEveryone,
	}
	for _, rc := range recipients {
		rc.push(models.EvMessageDeleted, broadcast)
	}
	c.push(models.EvMessageDeleted, broadcast)
	c.ack(f.ID, models.Ack{Success: true})
}

// roomConnsLocked collects the online members of a room except the given
// user. Caller holds h.mu.
func (h *Hub) roomConnsLocked(sr *serverRoom, exceptID string) []*conn {
	var out []*conn
	if sr.room.Type == models.RoomPublic {
		for id, c := range h.conns {
			if id != exceptID {
				out = append(out, c)
			}
		}
		return out
	}
	for _, id := range sr.room.ParticipantIDs() {
		if id == exceptID {
			continue
		}
		if c, ok := h.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}
