package hub

import (
	"teamchat/internal/models"
	"teamchat/internal/utils"
)

// callState is the hub-side bookkeeping for one room's call: who has joined
// (the caller plus everyone who accepted) and who is sharing a screen. The
// joined list is what ring-accept echoes carry so an accepter can offer to
// every existing member and complete the mesh.
type callState struct {
	roomKey      string
	audioOnly    bool
	participants []string
	sharer       string
}

func (cs *callState) join(userID string) {
	if !utils.Contains(cs.participants, userID) {
		cs.participants = append(cs.participants, userID)
	}
}

func (cs *callState) leave(userID string) {
	for i, id := range cs.participants {
		if id == userID {
			cs.participants = append(cs.participants[:i], cs.participants[i+1:]...)
			break
		}
	}
	if cs.sharer == userID {
		cs.sharer = ""
	}
}

func (h *Hub) dispatchRTC(c *conn, f frame) {
	switch f.Event {
	case models.EvRing:
		h.handleRing(c, f)
	case models.EvRingAccept:
		h.handleRingAccept(c, f)
	case models.EvRingDecline:
		h.handleRingDecline(c, f)
	case models.EvOffer:
		relayRTC[models.SDPSignal](h, c, f, models.EvOffer)
	case models.EvAnswer:
		relayRTC[models.SDPSignal](h, c, f, models.EvAnswer)
	case models.EvCandidate:
		relayRTC[models.CandidateSignal](h, c, f, models.EvCandidate)
	case models.EvEnd:
		h.handleEnd(c, f)
	case models.EvScreenShare:
		h.handleScreenShare(c, f)
	}
}

// authorizeRTC checks room membership for a signaling event. Caller holds
// h.mu.
func (h *Hub) authorizeRTCLocked(userID, roomKey string) bool {
	sr, ok := h.st.room(roomKey)
	return ok && sr.isMember(userID)
}

func (h *Hub) handleRing(c *conn, f frame) {
	ring, err := decode[models.Ring](f.Data)
	if err != nil {
		return
	}
	h.mu.Lock()
	if !h.authorizeRTCLocked(c.id.UserID, ring.RoomKey) || !h.authorizeRTCLocked(ring.To, ring.RoomKey) {
		h.mu.Unlock()
		return
	}
	cs, ok := h.calls[ring.RoomKey]
	if !ok {
		cs = &callState{roomKey: ring.RoomKey, audioOnly: ring.IsAudioOnly}
		h.calls[ring.RoomKey] = cs
	}
	cs.join(c.id.UserID)
	target, online := h.conns[ring.To]
	h.mu.Unlock()

	if !online {
		// Missed on the caller's side via ring timeout; nothing to relay.
		h.log.Debug().Str("to", ring.To).Msg("ring target offline")
		return
	}
	ring.From = c.id.UserID
	target.push(models.EvRing, ring)
}

func (h *Hub) handleRingAccept(c *conn, f frame) {
	acc, err := decode[models.RingAccept](f.Data)
	if err != nil {
		return
	}
	h.mu.Lock()
	cs, ok := h.calls[acc.RoomKey]
	if !ok || !h.authorizeRTCLocked(c.id.UserID, acc.RoomKey) {
		h.mu.Unlock()
		return
	}
	// Existing members the accepter must offer to, beyond the caller.
	var peers []string
	for _, id := range cs.participants {
		if id != c.id.UserID && id != acc.To {
			peers = append(peers, id)
		}
	}
	var sharing *models.ScreenShare
	if cs.sharer != "" {
		sharing = &models.ScreenShare{RoomKey: acc.RoomKey, UserID: cs.sharer, IsSharing: true}
	}
	cs.join(c.id.UserID)
	caller, callerOnline := h.conns[acc.To]
	h.mu.Unlock()

	if callerOnline {
		caller.push(models.EvRingAccept, models.RingAccept{From: c.id.UserID, RoomKey: acc.RoomKey})
	}
	c.push(models.EvRingAccept, models.RingAccept{
		From:          acc.To,
		RoomKey:       acc.RoomKey,
		Peers:         peers,
		IsAccepter:    true,
		ScreenSharing: sharing,
	})
}

func (h *Hub) handleRingDecline(c *conn, f frame) {
	dec, err := decode[models.RingDecline](f.Data)
	if err != nil {
		return
	}
	h.mu.Lock()
	target, online := h.conns[dec.To]
	h.mu.Unlock()
	if online {
		dec.From = c.id.UserID
		target.push(models.EvRingDecline, dec)
	}
}

func (h *Hub) handleEnd(c *conn, f frame) {
	end, err := decode[models.End](f.Data)
	if err != nil {
		return
	}
	h.mu.Lock()
	if cs, ok := h.calls[end.RoomKey]; ok {
		cs.leave(c.id.UserID)
		if len(cs.participants) == 0 {
			delete(h.calls, end.RoomKey)
		}
	}
	target, online := h.conns[end.To]
	h.mu.Unlock()
	if online {
		end.From = c.id.UserID
		target.push(models.EvEnd, end)
	}
}

func (h *Hub) handleScreenShare(c *conn, f frame) {
	ss, err := decode[models.ScreenShare](f.Data)
	if err != nil {
		return
	}
	h.mu.Lock()
	cs, ok := h.calls[ss.RoomKey]
	if !ok || !utils.Contains(cs.participants, c.id.UserID) {
		h.mu.Unlock()
		return
	}
	if ss.IsSharing {
		cs.sharer = c.id.UserID
	} else if cs.sharer == c.id.UserID {
		cs.sharer = ""
	}
	var others []*conn
	for _, id := range cs.participants {
		if id == c.id.UserID {
			continue
		}
		if oc, online := h.conns[id]; online {
			others = append(others, oc)
		}
	}
	h.mu.Unlock()

	ss.UserID = c.id.UserID
	for _, oc := range others {
		oc.push(models.EvScreenShareUpdate, ss)
	}
}

// relayRTC forwards a targeted signal unchanged except for the From stamp.
func relayRTC[T any](h *Hub, c *conn, f frame, event models.Event) {
	payload, err := decode[struct {
		To      string `json:"to"`
		RoomKey string `json:"roomKey"`
	}](f.Data)
	if err != nil {
		return
	}
	h.mu.Lock()
	authorized := h.authorizeRTCLocked(c.id.UserID, payload.RoomKey) &&
		h.authorizeRTCLocked(payload.To, payload.RoomKey)
	target, online := h.conns[payload.To]
	h.mu.Unlock()
	if !authorized || !online {
		return
	}
	msg, err := decode[T](f.Data)
	if err != nil {
		return
	}
	stamped := stampFrom(msg, c.id.UserID)
	target.push(event, stamped)
}

// stampFrom sets the From field on the relayed payload types.
func stampFrom[T any](msg T, from string) T {
	switch m := any(&msg).(type) {
	case *models.SDPSignal:
		m.From = from
	case *models.CandidateSignal:
		m.From = from
	}
	return msg
}

// leaveAllCallsLocked removes a vanished user from every call and returns
// deferred notifications for the remaining members. Caller holds h.mu.
func (h *Hub) leaveAllCallsLocked(userID string) []func() {
	var notify []func()
	for key, cs := range h.calls {
		if !utils.Contains(cs.participants, userID) {
			continue
		}
		cs.leave(userID)
		for _, id := range cs.participants {
			if oc, online := h.conns[id]; online {
				oc := oc
				roomKey := key
				notify = append(notify, func() {
					oc.push(models.EvEnd, models.End{From: userID, RoomKey: roomKey})
				})
			}
		}
		if len(cs.participants) == 0 {
			delete(h.calls, key)
		}
	}
	return notify
}
