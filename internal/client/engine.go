// Package client assembles the full chat engine for one authenticated user:
// signaling transport, REST history, encrypted message codec, room store,
// presence tracking, call signaling and media. The embedding frontend talks
// to this package only.
package client

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"teamchat/internal/api"
	"teamchat/internal/call"
	"teamchat/internal/chat"
	"teamchat/internal/config"
	"teamchat/internal/crypto"
	"teamchat/internal/media"
	"teamchat/internal/models"
	"teamchat/internal/presence"
	"teamchat/internal/storage"
	"teamchat/internal/transport"
)

const historyPageSize = 50

// ackTimeout bounds background receipt/summary requests fired from event
// handlers.
const ackTimeout = 10 * time.Second

// Notifications are the engine's callbacks toward the embedding UI. All are
// optional.
type Notifications struct {
	OnRoomsChanged  func()
	OnMessage       func(models.Message)
	OnIncomingRing  func(models.Ring)
	OnRingCancelled func(models.End)
	OnRemoteStream  func(peerID string)
	OnPeerLeft      func(peerID string)
	OnCallEnded     func()
	OnDurationTick  func(seconds int)
	OnScreenShare   func(userID string, sharing bool)
}

type Engine struct {
	self   models.User
	log    zerolog.Logger
	notify Notifications

	transport *transport.Client
	api       *api.Client
	store     *chat.Store
	codec     *crypto.Codec
	tracker   *presence.Tracker
	calls     *call.Engine
	media     *media.Manager
	cache     *storage.Cache

	mu         sync.Mutex
	activeRoom string
}

func New(cfg config.Config, self models.User, notify Notifications, log zerolog.Logger) (*Engine, error) {
	log = log.With().Str("user", self.ID).Logger()
	e := &Engine{self: self, log: log, notify: notify}

	var orderCache chat.OrderCache = storage.NewNullCache()
	if cfg.CachePath != "" {
		cache, err := storage.Open(cfg.CachePath, log)
		if err != nil {
			log.Warn().Err(err).Msg("local cache unusable, continuing without")
		} else {
			e.cache = cache
			orderCache = cache.ForUser(self.Role, self.ID)
		}
	}

	e.transport = transport.New(cfg.SocketURL, cfg.Token, log, transport.Options{})
	e.api = api.NewClient(cfg.ServerURL, cfg.Token, log)
	e.store = chat.NewStore(self.ID, orderCache, log)
	e.codec = crypto.NewCodec(self.ID, log)
	e.tracker = presence.NewTracker(self.ID, (*ackSender)(e), log)
	e.media = media.NewManager(media.NewSampleSource(), webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}, log)
	e.calls = call.NewEngine(&self, (*signaler)(e), e.media, (*summarySender)(e), call.Events{
		OnIncomingRing: func(ring models.Ring) {
			if notify.OnIncomingRing != nil {
				notify.OnIncomingRing(ring)
			}
		},
		OnRemoteStream: func(peerID string) {
			if notify.OnRemoteStream != nil {
				notify.OnRemoteStream(peerID)
			}
		},
		OnPeerLeft: func(peerID string) {
			if notify.OnPeerLeft != nil {
				notify.OnPeerLeft(peerID)
			}
		},
		OnCallEnded:     e.callEnded,
		OnDurationTick:  notify.OnDurationTick,
		OnRingCancelled: notify.OnRingCancelled,
		OnScreenShare: func(userID string, sharing bool) {
			if notify.OnScreenShare != nil {
				notify.OnScreenShare(userID, sharing)
			}
		},
	}, log)
	e.media.OnShareEnded = func() {
		if err := e.calls.SetScreenSharing(false); err != nil {
			e.log.Debug().Err(err).Msg("share-ended while no call active")
		}
	}

	e.registerHandlers()
	return e, nil
}

// Start connects the signaling socket and hydrates the room list over REST.
// The server additionally pushes a snapshot on connect; the merge in the room
// store makes the two idempotent.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.transport.Connect(ctx); err != nil {
		return err
	}
	rooms, err := e.api.Rooms(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("room fetch failed, relying on socket snapshot")
		return nil
	}
	e.applyRooms(rooms)
	return nil
}

// Stop flushes receipts, tears down any call and closes every connection.
func (e *Engine) Stop() {
	if active := e.ActiveRoom(); active != "" {
		e.tracker.Flush(active)
	}
	e.calls.Hangup()
	e.media.Release()
	e.transport.Close()
	if e.cache != nil {
		e.cache.Close()
	}
}

// Rooms returns the room list in display order.
func (e *Engine) Rooms() []models.Room { return e.store.Rooms() }

// Messages returns the loaded message window for a room.
func (e *Engine) Messages(roomKey string) []models.Message { return e.store.Messages(roomKey) }

// ActiveRoom returns the currently open room, or "".
func (e *Engine) ActiveRoom() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeRoom
}

// Online reports another user's presence.
func (e *Engine) Online(userID string) bool { return e.tracker.IsOnline(userID) }

// InCall reports whether a call is active.
func (e *Engine) InCall() bool { return e.calls.InCall() }

// CallDuration returns elapsed connected seconds of the active call.
func (e *Engine) CallDuration() int { return e.calls.Duration() }

// OpenRoom makes a room the active conversation: its unread messages are
// acknowledged as read, its counter clears, and the newest history page is
// fetched if this is the first open.
func (e *Engine) OpenRoom(ctx context.Context, roomKey string) error {
	if _, ok := e.store.Room(roomKey); !ok {
		return ErrUnknownRoom
	}
	e.mu.Lock()
	previous := e.activeRoom
	e.activeRoom = roomKey
	e.mu.Unlock()
	if previous != "" && previous != roomKey {
		e.tracker.Flush(previous)
	}

	if unread := e.store.UnreadFrom(roomKey); len(unread) > 0 {
		e.tracker.QueueRead(roomKey, unread)
		e.tracker.Flush(roomKey)
	}
	e.store.ClearUnread(roomKey)

	if e.store.HistoryLoaded(roomKey) {
		return nil
	}
	page, err := e.api.Messages(ctx, roomKey, "", historyPageSize)
	if err != nil {
		return err
	}
	// The fetch is tagged with its room; if the user switched away while it
	// was in flight the stale page is discarded.
	if e.ActiveRoom() != page.RoomKey {
		e.log.Debug().Str("room", page.RoomKey).Msg("discarding history for a room no longer open")
		return nil
	}
	e.store.SetHistory(page.RoomKey, e.decryptPage(page.RoomKey, page.Messages))
	return nil
}

// CloseRoom leaves the active conversation, flushing pending read receipts.
func (e *Engine) CloseRoom() {
	e.mu.Lock()
	active := e.activeRoom
	e.activeRoom = ""
	e.mu.Unlock()
	if active != "" {
		e.tracker.Flush(active)
	}
}

// SaveScroll persists the active room's scroll position across restarts.
func (e *Engine) SaveScroll(offset uint64, atBottom bool) error {
	active := e.ActiveRoom()
	if active == "" {
		return ErrNoActiveRoom
	}
	if e.cache == nil {
		return nil
	}
	if atBottom {
		return e.cache.DropScroll(active)
	}
	return e.cache.SaveScroll(active, storage.ScrollSnapshot{Offset: offset, AtBottom: atBottom})
}

// LoadScroll restores the active room's saved scroll position, if any.
func (e *Engine) LoadScroll() (storage.ScrollSnapshot, bool) {
	active := e.ActiveRoom()
	if active == "" || e.cache == nil {
		return storage.ScrollSnapshot{}, false
	}
	return e.cache.LoadScroll(active)
}

// LoadOlder fetches the page preceding the oldest loaded message, guarded
// against duplicate concurrent fetches per room. Returns how many messages
// were added.
func (e *Engine) LoadOlder(ctx context.Context, roomKey string) (int, error) {
	cursor, ok := e.store.OldestTimestamp(roomKey)
	if !ok {
		return 0, nil
	}
	if !e.store.BeginOlderFetch(roomKey) {
		return 0, nil
	}
	defer e.store.EndOlderFetch(roomKey)

	page, err := e.api.Messages(ctx, roomKey, cursor, historyPageSize)
	if err != nil {
		return 0, err
	}
	return e.store.PrependOlder(page.RoomKey, e.decryptPage(page.RoomKey, page.Messages)), nil
}

// SendText sends a text message to a room, encrypting it for non-public
// rooms. The message lands in the local store through the server's echo.
func (e *Engine) SendText(ctx context.Context, roomKey, text string) error {
	return e.send(ctx, models.SendRequest{RoomKey: roomKey, Text: text, Type: models.MsgText})
}

// SendFile uploads a file and sends it as an image or document message.
func (e *Engine) SendFile(ctx context.Context, roomKey, fileName string, r io.Reader, msgType models.MessageType) error {
	att, err := e.api.Upload(ctx, fileName, r)
	if err != nil {
		return err
	}
	return e.send(ctx, models.SendRequest{
		RoomKey:     roomKey,
		Type:        msgType,
		Attachments: []models.Attachment{att},
	})
}

// SendContact shares a contact card into a room.
func (e *Engine) SendContact(ctx context.Context, roomKey string, card models.ContactCard) error {
	return e.send(ctx, models.SendRequest{RoomKey: roomKey, Type: models.MsgContact, ContactData: &card})
}

func (e *Engine) send(ctx context.Context, req models.SendRequest) error {
	room, ok := e.store.Room(req.RoomKey)
	if !ok {
		return ErrUnknownRoom
	}
	enc, err := e.codec.EncryptMessage(req, room.Key, keyParticipants(&room))
	if err != nil {
		return err
	}
	ack, err := e.transport.Request(ctx, models.EvSend, enc)
	if err != nil {
		return err
	}
	if !ack.Success {
		return ErrSendRejected.WithDetails(ack.Message)
	}
	return nil
}

// DeleteMessage removes a message for this user or, when forEveryone is set
// and the message is ours, tombstones it for the whole room.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string, forEveryone bool) error {
	ack, err := e.transport.Request(ctx, models.EvDelete, models.DeleteRequest{
		MessageID: messageID, DeleteForEveryone: forEveryone,
	})
	if err != nil {
		return err
	}
	if !ack.Success {
		return ErrSendRejected.WithDetails(ack.Message)
	}
	return nil
}

// StartCall rings every other participant of a room.
func (e *Engine) StartCall(roomKey string, audioOnly bool) error {
	room, ok := e.store.Room(roomKey)
	if !ok {
		return ErrUnknownRoom
	}
	if err := e.media.Acquire(audioOnly); err != nil {
		return err
	}
	if err := e.calls.StartCall(roomKey, room.OtherParticipantIDs(e.self.ID), audioOnly); err != nil {
		e.media.Release()
		return err
	}
	return nil
}

// AcceptCall joins an incoming ring. When a call is already running the ring
// is a newcomer joining that room; capture is already live and must not be
// re-acquired or torn down.
func (e *Engine) AcceptCall(ring models.Ring) error {
	if e.calls.InCall() {
		return e.calls.Accept(ring)
	}
	if err := e.media.Acquire(ring.IsAudioOnly); err != nil {
		return err
	}
	if err := e.calls.Accept(ring); err != nil {
		e.media.Release()
		return err
	}
	return nil
}

// DeclineCall rejects an incoming ring.
func (e *Engine) DeclineCall(ring models.Ring) error { return e.calls.Decline(ring) }

// Hangup ends the active call.
func (e *Engine) Hangup() { e.calls.Hangup() }

// ToggleMic flips the microphone across all call peers.
func (e *Engine) ToggleMic() (bool, error) { return e.media.ToggleMic() }

// ToggleCamera flips the camera across all call peers.
func (e *Engine) ToggleCamera() (bool, error) { return e.media.ToggleCamera() }

// ToggleScreenShare substitutes the screen track and announces the state.
func (e *Engine) ToggleScreenShare() (bool, error) {
	sharing, err := e.media.ToggleScreenShare()
	if err != nil {
		return false, err
	}
	if err := e.calls.SetScreenSharing(sharing); err != nil {
		return sharing, err
	}
	return sharing, nil
}

func (e *Engine) callEnded() {
	e.media.Release()
	if e.notify.OnCallEnded != nil {
		e.notify.OnCallEnded()
	}
}

func (e *Engine) registerHandlers() {
	on := func(ev models.Event, h func(json.RawMessage)) { e.transport.On(ev, h) }

	on(models.EvRooms, func(data json.RawMessage) {
		rooms, err := transport.Decode[[]models.Room](data)
		if err != nil {
			e.log.Warn().Err(err).Msg("bad rooms snapshot")
			return
		}
		e.applyRooms(rooms)
	})
	on(models.EvNewMessage, func(data json.RawMessage) {
		msg, err := transport.Decode[models.Message](data)
		if err != nil {
			e.log.Warn().Err(err).Msg("bad message push")
			return
		}
		e.handleNewMessage(msg)
	})
	on(models.EvMessageDelivered, func(data json.RawMessage) {
		f, err := transport.Decode[models.DeliveredFanout](data)
		if err != nil {
			return
		}
		ids := f.MessageIDs
		if f.MessageID != "" {
			ids = append(ids, f.MessageID)
		}
		e.store.MarkDelivered(f.RoomKey, ids, f.DeliveredTo)
	})
	on(models.EvMessagesRead, func(data json.RawMessage) {
		f, err := transport.Decode[models.ReadFanout](data)
		if err != nil {
			return
		}
		e.store.MarkRead(f.RoomKey, f.MessageIDs, []string{f.UserID})
	})
	on(models.EvMessageDeleted, func(data json.RawMessage) {
		del, err := transport.Decode[models.MessageDeleted](data)
		if err != nil {
			return
		}
		e.store.ApplyDelete(del)
	})
	on(models.EvUserStatus, func(data json.RawMessage) {
		st, err := transport.Decode[models.UserStatus](data)
		if err != nil {
			return
		}
		e.tracker.SetOnline(st.UserID, st.IsOnline)
		e.store.SetParticipantOnline(st.UserID, st.IsOnline)
	})

	on(models.EvRing, func(data json.RawMessage) {
		ring, err := transport.Decode[models.Ring](data)
		if err != nil {
			return
		}
		e.calls.HandleRing(ring)
	})
	on(models.EvRingAccept, func(data json.RawMessage) {
		acc, err := transport.Decode[models.RingAccept](data)
		if err != nil {
			return
		}
		if err := e.calls.HandleRingAccept(context.Background(), acc); err != nil {
			e.log.Warn().Err(err).Msg("ring accept handling failed")
		}
	})
	on(models.EvRingDecline, func(data json.RawMessage) {
		dec, err := transport.Decode[models.RingDecline](data)
		if err != nil {
			return
		}
		e.calls.HandleRingDecline(dec)
	})
	on(models.EvOffer, func(data json.RawMessage) {
		sig, err := transport.Decode[models.SDPSignal](data)
		if err != nil {
			return
		}
		if err := e.calls.HandleOffer(context.Background(), sig); err != nil {
			e.log.Warn().Err(err).Str("from", sig.From).Msg("offer handling failed")
		}
	})
	on(models.EvAnswer, func(data json.RawMessage) {
		sig, err := transport.Decode[models.SDPSignal](data)
		if err != nil {
			return
		}
		if err := e.calls.HandleAnswer(sig); err != nil {
			e.log.Warn().Err(err).Str("from", sig.From).Msg("answer handling failed")
		}
	})
	on(models.EvCandidate, func(data json.RawMessage) {
		sig, err := transport.Decode[models.CandidateSignal](data)
		if err != nil {
			return
		}
		if err := e.calls.HandleCandidate(sig); err != nil {
			e.log.Debug().Err(err).Str("from", sig.From).Msg("candidate dropped")
		}
	})
	on(models.EvEnd, func(data json.RawMessage) {
		end, err := transport.Decode[models.End](data)
		if err != nil {
			return
		}
		e.calls.HandleEnd(end)
	})
	on(models.EvScreenShareUpdate, func(data json.RawMessage) {
		ss, err := transport.Decode[models.ScreenShare](data)
		if err != nil {
			return
		}
		e.calls.HandleScreenShareUpdate(ss)
	})
}

func (e *Engine) applyRooms(rooms []models.Room) {
	e.store.ApplyRooms(rooms)
	seed := make(map[string]bool)
	for _, r := range rooms {
		for _, p := range r.Participants {
			if p.ID != "" && p.ID != e.self.ID {
				seed[p.ID] = seed[p.ID] || p.IsOnline
			}
		}
	}
	e.tracker.SeedFromRooms(seed)
	if e.notify.OnRoomsChanged != nil {
		e.notify.OnRoomsChanged()
	}
}

func (e *Engine) handleNewMessage(msg models.Message) {
	room, ok := e.store.Room(msg.RoomKey)
	if !ok {
		// A room created after our snapshot; refresh the list and retry the
		// append on the next push.
		e.log.Info().Str("room", msg.RoomKey).Msg("message for unknown room, refetching rooms")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
			defer cancel()
			if rooms, err := e.api.Rooms(ctx); err == nil {
				e.applyRooms(rooms)
			}
		}()
		return
	}
	dec := e.codec.DecryptMessage(msg, keyParticipants(&room))
	if !e.store.AppendMessage(dec) {
		return
	}
	active := e.ActiveRoom() == msg.RoomKey
	if e.tracker.HandleIncoming(msg.RoomKey, msg.Sender.ID, msg.ID, active) {
		e.store.IncrementUnread(msg.RoomKey)
	}
	if e.notify.OnMessage != nil {
		e.notify.OnMessage(dec)
	}
}

func (e *Engine) decryptPage(roomKey string, page []models.Message) []models.Message {
	room, ok := e.store.Room(roomKey)
	if !ok {
		return page
	}
	ids := keyParticipants(&room)
	out := make([]models.Message, 0, len(page))
	for _, m := range page {
		out = append(out, e.codec.DecryptMessage(m, ids))
	}
	return out
}

// keyParticipants returns the participant set used for key derivation: empty
// for public rooms so every member derives the same key regardless of the
// snapshot they hold.
func keyParticipants(room *models.Room) []string {
	if room.Type == models.RoomPublic {
		return nil
	}
	return room.ParticipantIDs()
}

// ackSender adapts the engine for the presence tracker. Receipt requests run
// in the background: they are triggered from the transport's dispatch
// goroutine, and waiting for the ack there would stall the read loop.
type ackSender Engine

func (a *ackSender) SendDelivered(roomKey string, messageIDs []string) {
	go a.request(models.EvMarkDelivered, roomKey, messageIDs)
}

func (a *ackSender) SendRead(roomKey string, messageIDs []string) {
	e := (*Engine)(a)
	e.store.MarkRead(roomKey, messageIDs, []string{e.self.ID})
	go a.request(models.EvMarkRead, roomKey, messageIDs)
}

func (a *ackSender) request(ev models.Event, roomKey string, messageIDs []string) {
	e := (*Engine)(a)
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	ack, err := e.transport.Request(ctx, ev, models.ReceiptRequest{RoomKey: roomKey, MessageIDs: messageIDs})
	if err != nil {
		e.log.Warn().Err(err).Str("event", string(ev)).Msg("receipt send failed")
		return
	}
	if !ack.Success {
		e.log.Warn().Str("event", string(ev)).Str("reason", ack.Message).Msg("receipt rejected")
	}
}

// signaler adapts the engine for the call package.
type signaler Engine

func (s *signaler) emit(ev models.Event, payload any) error {
	return (*Engine)(s).transport.Emit(ev, payload)
}

func (s *signaler) Ring(m models.Ring) error               { return s.emit(models.EvRing, m) }
func (s *signaler) RingAccept(m models.RingAccept) error   { return s.emit(models.EvRingAccept, m) }
func (s *signaler) RingDecline(m models.RingDecline) error { return s.emit(models.EvRingDecline, m) }
func (s *signaler) Offer(m models.SDPSignal) error         { return s.emit(models.EvOffer, m) }
func (s *signaler) Answer(m models.SDPSignal) error        { return s.emit(models.EvAnswer, m) }
func (s *signaler) Candidate(m models.CandidateSignal) error {
	return s.emit(models.EvCandidate, m)
}
func (s *signaler) End(m models.End) error                 { return s.emit(models.EvEnd, m) }
func (s *signaler) ScreenShare(m models.ScreenShare) error { return s.emit(models.EvScreenShare, m) }

// summarySender appends the call summary chat message. Summaries ride the
// normal send path but stay unencrypted so every client, including ones that
// join the room later with a changed participant set, can render them.
type summarySender Engine

func (s *summarySender) SendCallSummary(roomKey string, callType models.MessageType, status models.CallStatus, durationSeconds int) {
	e := (*Engine)(s)
	text := "Audio call"
	if callType == models.MsgVideoCall {
		text = "Video call"
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		defer cancel()
		ack, err := e.transport.Request(ctx, models.EvSend, models.SendRequest{
			RoomKey: roomKey,
			Text:    text,
			Type:    callType,
			Meta:    &models.CallMeta{CallDuration: durationSeconds, CallStatus: status},
		})
		if err != nil {
			e.log.Warn().Err(err).Str("room", roomKey).Msg("call summary send failed")
			return
		}
		if !ack.Success {
			e.log.Warn().Str("room", roomKey).Str("reason", ack.Message).Msg("call summary rejected")
		}
	}()
}
