// Package call orchestrates ring/accept/decline/offer/answer/candidate/end
// signaling for one-to-one and mesh calls. Every pair of call participants
// holds a direct peer link; joining a call in progress only adds links between
// the newcomer and the existing members.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"teamchat/internal/models"
	"teamchat/internal/utils"
)

// defaultRingTimeout bounds how long an unanswered ring stays pending before
// it counts as missed.
const defaultRingTimeout = 30 * time.Second

// Signaler relays call-control events to the server. The session layer
// implements it over the signaling transport.
type Signaler interface {
	Ring(models.Ring) error
	RingAccept(models.RingAccept) error
	RingDecline(models.RingDecline) error
	Offer(models.SDPSignal) error
	Answer(models.SDPSignal) error
	Candidate(models.CandidateSignal) error
	End(models.End) error
	ScreenShare(models.ScreenShare) error
}

// SummarySender appends the call-summary chat message for a finished call.
type SummarySender interface {
	SendCallSummary(roomKey string, callType models.MessageType, status models.CallStatus, durationSeconds int)
}

// Events are notifications toward the embedding session/UI layer. Nil fields
// are skipped.
type Events struct {
	// OnIncomingRing fires for a ring addressed to us while idle.
	OnIncomingRing func(models.Ring)

	// OnRemoteStream fires when a peer's media becomes renderable.
	OnRemoteStream func(peerID string)

	// OnPeerLeft fires when a single peer's link is torn down.
	OnPeerLeft func(peerID string)

	// OnCallEnded fires once when the whole call is torn down.
	OnCallEnded func()

	// OnDurationTick fires once per second while connected, carrying the
	// elapsed whole seconds since the first remote stream attached.
	OnDurationTick func(seconds int)

	// OnScreenShare fires when a participant's share state changes.
	OnScreenShare func(userID string, sharing bool)

	// OnRingCancelled fires when the caller withdraws a ring we surfaced but
	// never answered, so the incoming-call prompt can be dismissed.
	OnRingCancelled func(models.End)
}

type endReason int

const (
	endHangup endReason = iota
	endDeclined
	endMissed
	endRemote
)

// session holds all call-scoped state. It exists only between call start (or
// accept) and teardown; a nil session means idle.
type session struct {
	roomKey    string
	audioOnly  bool
	initiator  bool
	peers      map[string]*peer
	sharing    map[string]bool
	ringTimer  *time.Timer
	startedAt  time.Time // zero until the first remote stream attaches
	ticker     *time.Ticker
	tickerDone chan struct{}
}

func (s *session) connectedOnce() bool { return !s.startedAt.IsZero() }

func (s *session) callType() models.MessageType {
	if s.audioOnly {
		return models.MsgAudioCall
	}
	return models.MsgVideoCall
}

// Engine is the call signaling state machine for one client.
type Engine struct {
	selfID string
	self   *models.User
	sig    Signaler
	links  LinkFactory
	sums   SummarySender
	events Events
	log    zerolog.Logger

	ringTimeout time.Duration

	mu   sync.Mutex
	sess *session
}

func NewEngine(self *models.User, sig Signaler, links LinkFactory, sums SummarySender, events Events, log zerolog.Logger) *Engine {
	return &Engine{
		selfID:      self.ID,
		self:        self,
		sig:         sig,
		links:       links,
		sums:        sums,
		events:      events,
		log:         log.With().Str("component", "call").Logger(),
		ringTimeout: defaultRingTimeout,
	}
}

// InCall reports whether a call session is active.
func (e *Engine) InCall() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil
}

// RoomKey returns the active call's room, or "".
func (e *Engine) RoomKey() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return ""
	}
	return e.sess.roomKey
}

// PeerState returns the state tag for one peer of the active call.
func (e *Engine) PeerState(peerID string) PeerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return StateIdle
	}
	if p, ok := e.sess.peers[peerID]; ok {
		return p.state
	}
	return StateIdle
}

// ActivePeers returns the IDs of peers with a live link.
func (e *Engine) ActivePeers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	ids := make([]string, 0, len(e.sess.peers))
	for id, p := range e.sess.peers {
		if p.state != StateEnded {
			ids = append(ids, id)
		}
	}
	return ids
}

// Duration returns the elapsed whole seconds since the first remote stream
// attached, 0 while ringing or negotiating.
func (e *Engine) Duration() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil || !e.sess.connectedOnce() {
		return 0
	}
	return int(time.Since(e.sess.startedAt) / time.Second)
}

// StartCall rings every target in the room. Targets must not include self.
func (e *Engine) StartCall(roomKey string, targets []string, audioOnly bool) error {
	e.mu.Lock()
	if e.sess != nil {
		e.mu.Unlock()
		return ErrCallInProgress
	}
	sess := e.newSessionLocked(roomKey, audioOnly, true)
	for _, id := range targets {
		if id == e.selfID {
			continue
		}
		sess.peers[id] = &peer{id: id, state: StateRinging}
	}
	sess.ringTimer = time.AfterFunc(e.ringTimeout, func() { e.ringTimedOut(roomKey) })
	e.mu.Unlock()

	for _, id := range targets {
		if id == e.selfID {
			continue
		}
		if err := e.sig.Ring(models.Ring{
			To:          id,
			RoomKey:     roomKey,
			Peers:       others(targets, id, e.selfID),
			IsAudioOnly: audioOnly,
			Caller:      e.self,
		}); err != nil {
			e.log.Warn().Err(err).Str("peer", id).Msg("ring send failed")
		}
	}
	e.log.Info().Str("room", roomKey).Int("targets", len(targets)).Bool("audioOnly", audioOnly).Msg("call started")
	return nil
}

// HandleRing surfaces an incoming ring. A ring arriving during another call
// is declined immediately.
func (e *Engine) HandleRing(ring models.Ring) {
	e.mu.Lock()
	busy := e.sess != nil && e.sess.roomKey != ring.RoomKey
	e.mu.Unlock()
	if busy {
		if err := e.sig.RingDecline(models.RingDecline{To: ring.From, RoomKey: ring.RoomKey}); err != nil {
			e.log.Warn().Err(err).Msg("busy decline failed")
		}
		return
	}
	if e.events.OnIncomingRing != nil {
		e.events.OnIncomingRing(ring)
	}
}

// Accept joins the call proposed by ring. The mesh bootstrap offers are sent
// once the server echoes the accept back with the active peer list. A ring
// for the room of the ongoing call is a newcomer dialing in: the existing
// session admits them instead of erroring, and the established links stay
// untouched.
func (e *Engine) Accept(ring models.Ring) error {
	e.mu.Lock()
	if e.sess != nil && e.sess.roomKey != ring.RoomKey {
		e.mu.Unlock()
		return ErrCallInProgress
	}
	sess := e.sess
	if sess == nil {
		sess = e.newSessionLocked(ring.RoomKey, ring.IsAudioOnly, false)
	}
	p, ok := sess.peers[ring.From]
	if !ok {
		p = &peer{id: ring.From}
		sess.peers[ring.From] = p
	}
	if p.link == nil {
		p.state = StateAccepted
	}
	e.mu.Unlock()

	return e.sig.RingAccept(models.RingAccept{To: ring.From, RoomKey: ring.RoomKey})
}

// Decline rejects an incoming ring without entering a session. The declined
// call summary is appended by the initiator when the decline reaches it.
func (e *Engine) Decline(ring models.Ring) error {
	return e.sig.RingDecline(models.RingDecline{To: ring.From, RoomKey: ring.RoomKey})
}

// HandleRingAccept processes an accept. The copy with IsAccepter set is the
// server's echo to the accepting side and carries the already-present peer
// IDs; the accepter creates an offer toward the caller and every listed peer,
// completing the mesh. On the other sides the accepting peer is simply marked
// renderable and the offer is awaited, so exactly one side offers.
func (e *Engine) HandleRingAccept(ctx context.Context, acc models.RingAccept) error {
	e.mu.Lock()
	sess := e.sess
	if sess == nil || sess.roomKey != acc.RoomKey {
		e.mu.Unlock()
		return nil
	}
	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
		sess.ringTimer = nil
	}

	if !acc.IsAccepter {
		p, ok := sess.peers[acc.From]
		if !ok {
			p = &peer{id: acc.From}
			sess.peers[acc.From] = p
		}
		p.state = StateAccepted
		e.mu.Unlock()
		return nil
	}

	// Peers we already hold a link to keep it; only the newcomer side of each
	// pair negotiates.
	targets := make([]string, 0, len(acc.Peers)+1)
	add := func(id string) {
		if id == "" || id == e.selfID || utils.Contains(targets, id) {
			return
		}
		if p, ok := sess.peers[id]; ok && p.link != nil {
			return
		}
		targets = append(targets, id)
	}
	add(acc.From)
	for _, id := range acc.Peers {
		add(id)
	}
	e.mu.Unlock()

	if acc.ScreenSharing != nil && acc.ScreenSharing.IsSharing {
		e.applyScreenShare(*acc.ScreenSharing)
	}

	for _, id := range targets {
		if err := e.offerTo(ctx, id); err != nil {
			e.log.Error().Err(err).Str("peer", id).Msg("mesh offer failed")
		}
	}
	return nil
}

// HandleRingDecline removes the declining peer. When the initiator is left
// with no one before anything connected, the call ends with a declined
// summary.
func (e *Engine) HandleRingDecline(dec models.RingDecline) {
	e.mu.Lock()
	sess := e.sess
	if sess == nil || sess.roomKey != dec.RoomKey {
		e.mu.Unlock()
		return
	}
	if p, ok := sess.peers[dec.From]; ok {
		p.state = StateEnded
	}
	if e.anyLiveLocked() {
		e.mu.Unlock()
		return
	}
	e.finishLocked(endDeclined)
	e.mu.Unlock()
}

// HandleOffer answers an incoming offer, creating the link for that peer if
// none exists yet. Queued candidates flush as soon as the remote description
// is applied.
func (e *Engine) HandleOffer(ctx context.Context, sig models.SDPSignal) error {
	if sig.Offer == nil {
		return nil
	}
	e.mu.Lock()
	sess := e.sess
	if sess == nil || sess.roomKey != sig.RoomKey {
		e.mu.Unlock()
		return ErrNoActiveCall
	}
	p, err := e.ensureLinkLocked(sig.From)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	p.state = StateNegotiating
	link := p.link
	e.mu.Unlock()

	answer, err := link.AcceptOffer(ctx, *sig.Offer)
	if err != nil {
		return ErrLinkSetup.WithDetails(err)
	}

	// A hangup may have dropped the peer while the blocking call ran; only
	// flush onto the link the description was applied to.
	e.mu.Lock()
	if p.link == link {
		if err := p.flushCandidates(); err != nil {
			e.log.Warn().Err(err).Str("peer", sig.From).Msg("queued candidate rejected")
		}
	}
	e.mu.Unlock()

	return e.sig.Answer(models.SDPSignal{To: sig.From, RoomKey: sig.RoomKey, Answer: &answer})
}

// HandleAnswer completes negotiation on a link we offered on.
func (e *Engine) HandleAnswer(sig models.SDPSignal) error {
	if sig.Answer == nil {
		return nil
	}
	e.mu.Lock()
	sess := e.sess
	if sess == nil || sess.roomKey != sig.RoomKey {
		e.mu.Unlock()
		return ErrNoActiveCall
	}
	p, ok := sess.peers[sig.From]
	if !ok || p.link == nil {
		e.mu.Unlock()
		return ErrUnknownPeer.WithDetails(sig.From)
	}
	link := p.link
	e.mu.Unlock()

	if err := link.AcceptAnswer(*sig.Answer); err != nil {
		return ErrLinkSetup.WithDetails(err)
	}

	e.mu.Lock()
	if p.link == link {
		if err := p.flushCandidates(); err != nil {
			e.log.Warn().Err(err).Str("peer", sig.From).Msg("queued candidate rejected")
		}
	}
	e.mu.Unlock()
	return nil
}

// HandleCandidate applies a remote ICE candidate, or queues it when it
// arrives ahead of the remote description.
func (e *Engine) HandleCandidate(sig models.CandidateSignal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess := e.sess
	if sess == nil || sess.roomKey != sig.RoomKey {
		return ErrNoActiveCall
	}
	p, ok := sess.peers[sig.From]
	if !ok {
		// Candidate raced ahead of the offer; hold it for the peer to come.
		p = &peer{id: sig.From, state: StateAccepted}
		sess.peers[sig.From] = p
	}
	return p.queueOrApply(sig.Candidate)
}

// HandleEnd tears down the single peer that hung up. The session survives
// while other peers remain.
func (e *Engine) HandleEnd(end models.End) {
	e.mu.Lock()
	sess := e.sess
	if sess == nil || sess.roomKey != end.RoomKey {
		e.mu.Unlock()
		// No session means the end cancels a ring we never answered.
		if e.events.OnRingCancelled != nil {
			e.events.OnRingCancelled(end)
		}
		return
	}
	e.dropPeerLocked(end.From)
	if e.anyLiveLocked() {
		e.mu.Unlock()
		if e.events.OnPeerLeft != nil {
			e.events.OnPeerLeft(end.From)
		}
		return
	}
	e.finishLocked(endRemote)
	e.mu.Unlock()
	if e.events.OnPeerLeft != nil {
		e.events.OnPeerLeft(end.From)
	}
}

// Hangup ends the call locally: every live peer is notified and torn down and
// all call-scoped state is cleared.
func (e *Engine) Hangup() {
	e.mu.Lock()
	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return
	}
	var notify []string
	for id, p := range sess.peers {
		if p.state != StateEnded {
			notify = append(notify, id)
		}
		e.dropPeerLocked(id)
	}
	roomKey := sess.roomKey
	e.finishLocked(endHangup)
	e.mu.Unlock()

	for _, id := range notify {
		if err := e.sig.End(models.End{To: id, RoomKey: roomKey}); err != nil {
			e.log.Warn().Err(err).Str("peer", id).Msg("end send failed")
		}
	}
}

// SetScreenSharing announces the local share state for UI labeling on the
// other ends. Track substitution itself happens in the media layer.
func (e *Engine) SetScreenSharing(sharing bool) error {
	e.mu.Lock()
	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return ErrNoActiveCall
	}
	roomKey := sess.roomKey
	sess.sharing[e.selfID] = sharing
	e.mu.Unlock()
	return e.sig.ScreenShare(models.ScreenShare{RoomKey: roomKey, IsSharing: sharing})
}

// HandleScreenShareUpdate records a remote participant's share state.
func (e *Engine) HandleScreenShareUpdate(ss models.ScreenShare) {
	e.applyScreenShare(ss)
}

// IsScreenSharing reports whether the given participant is sharing.
func (e *Engine) IsScreenSharing(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil && e.sess.sharing[userID]
}

func (e *Engine) applyScreenShare(ss models.ScreenShare) {
	e.mu.Lock()
	sess := e.sess
	if sess == nil || sess.roomKey != ss.RoomKey {
		e.mu.Unlock()
		return
	}
	sess.sharing[ss.UserID] = ss.IsSharing
	e.mu.Unlock()
	if e.events.OnScreenShare != nil {
		e.events.OnScreenShare(ss.UserID, ss.IsSharing)
	}
}

// offerTo builds the link toward one peer and sends the offer. Used by the
// accepting side for the caller and every already-present participant.
func (e *Engine) offerTo(ctx context.Context, peerID string) error {
	e.mu.Lock()
	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return ErrNoActiveCall
	}
	roomKey := sess.roomKey
	p, err := e.ensureLinkLocked(peerID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	p.state = StateNegotiating
	e.mu.Unlock()

	offer, err := p.link.CreateOffer(ctx)
	if err != nil {
		return ErrLinkSetup.WithDetails(err)
	}
	return e.sig.Offer(models.SDPSignal{To: peerID, RoomKey: roomKey, Offer: &offer})
}

// ensureLinkLocked returns the peer record with a live link, creating both as
// needed. Caller holds e.mu.
func (e *Engine) ensureLinkLocked(peerID string) (*peer, error) {
	sess := e.sess
	p, ok := sess.peers[peerID]
	if !ok {
		p = &peer{id: peerID, state: StateAccepted}
		sess.peers[peerID] = p
	}
	if p.link != nil {
		return p, nil
	}
	link, err := e.links.NewLink(peerID, LinkCallbacks{
		OnCandidate: func(c models.Candidate) {
			if err := e.sig.Candidate(models.CandidateSignal{To: peerID, RoomKey: sess.roomKey, Candidate: c}); err != nil {
				e.log.Warn().Err(err).Str("peer", peerID).Msg("candidate send failed")
			}
		},
		OnRemoteStream: func() { e.remoteStreamAttached(peerID) },
	})
	if err != nil {
		return nil, ErrLinkSetup.WithDetails(err)
	}
	p.link = link
	return p, nil
}

// remoteStreamAttached promotes a peer to connected and surfaces its media.
// The first attachment of the call starts the duration clock.
func (e *Engine) remoteStreamAttached(peerID string) {
	e.mu.Lock()
	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return
	}
	p, ok := sess.peers[peerID]
	if !ok || !p.state.Renderable() {
		e.mu.Unlock()
		return
	}
	p.state = StateConnected
	first := !sess.connectedOnce()
	if first {
		sess.startedAt = time.Now()
		e.startTickerLocked(sess)
	}
	e.mu.Unlock()

	if e.events.OnRemoteStream != nil {
		e.events.OnRemoteStream(peerID)
	}
	if first {
		e.log.Info().Str("peer", peerID).Msg("first remote stream, duration clock started")
	}
}

func (e *Engine) startTickerLocked(sess *session) {
	sess.ticker = time.NewTicker(time.Second)
	sess.tickerDone = make(chan struct{})
	go func(started time.Time, tick *time.Ticker, done chan struct{}) {
		for {
			select {
			case <-done:
				return
			case now := <-tick.C:
				if e.events.OnDurationTick != nil {
					e.events.OnDurationTick(int(now.Sub(started) / time.Second))
				}
			}
		}
	}(sess.startedAt, sess.ticker, sess.tickerDone)
}

func (e *Engine) ringTimedOut(roomKey string) {
	e.mu.Lock()
	sess := e.sess
	if sess == nil || sess.roomKey != roomKey || sess.connectedOnce() {
		e.mu.Unlock()
		return
	}
	var unanswered []string
	for id, p := range sess.peers {
		if p.state == StateRinging {
			p.state = StateEnded
			unanswered = append(unanswered, id)
		}
	}
	if len(unanswered) == 0 {
		e.mu.Unlock()
		return
	}
	if !e.anyLiveLocked() {
		e.finishLocked(endMissed)
	}
	e.mu.Unlock()

	// Cancel the ring on the callee side so their incoming-call prompt does
	// not linger after the caller gave up.
	for _, id := range unanswered {
		if err := e.sig.End(models.End{To: id, RoomKey: roomKey}); err != nil {
			e.log.Warn().Err(err).Str("peer", id).Msg("ring cancel failed")
		}
	}
}

func (e *Engine) newSessionLocked(roomKey string, audioOnly, initiator bool) *session {
	s := &session{
		roomKey:   roomKey,
		audioOnly: audioOnly,
		initiator: initiator,
		peers:     make(map[string]*peer),
		sharing:   make(map[string]bool),
	}
	e.sess = s
	return s
}

func (e *Engine) anyLiveLocked() bool {
	for _, p := range e.sess.peers {
		if p.state != StateEnded {
			return true
		}
	}
	return false
}

func (e *Engine) dropPeerLocked(peerID string) {
	p, ok := e.sess.peers[peerID]
	if !ok {
		return
	}
	if p.link != nil {
		if err := p.link.Close(); err != nil {
			e.log.Warn().Err(err).Str("peer", peerID).Msg("link close failed")
		}
		p.link = nil
	}
	p.state = StateEnded
	p.pendingICE = nil
}

// finishLocked clears all call-scoped state and appends the summary message.
// Only the initiator summarizes, so a multi-party call produces exactly one
// summary. Caller holds e.mu.
func (e *Engine) finishLocked(reason endReason) {
	sess := e.sess
	if sess == nil {
		return
	}
	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
	}
	if sess.ticker != nil {
		sess.ticker.Stop()
		close(sess.tickerDone)
	}
	for id := range sess.peers {
		e.dropPeerLocked(id)
	}
	duration := 0
	if sess.connectedOnce() {
		duration = int(time.Since(sess.startedAt) / time.Second)
		if duration < 1 {
			duration = 1
		}
	}
	e.sess = nil

	if sess.initiator && e.sums != nil {
		switch {
		case sess.connectedOnce():
			e.sums.SendCallSummary(sess.roomKey, sess.callType(), models.CallCompleted, duration)
		case reason == endDeclined:
			e.sums.SendCallSummary(sess.roomKey, sess.callType(), models.CallDeclined, 0)
		default:
			e.sums.SendCallSummary(sess.roomKey, sess.callType(), models.CallMissed, 0)
		}
	}
	if e.events.OnCallEnded != nil {
		go e.events.OnCallEnded()
	}
	e.log.Info().Str("room", sess.roomKey).Int("duration", duration).Msg("call finished")
}

// others returns the target list minus the recipient and self, the peer set a
// ring recipient would need to be told about.
func others(targets []string, recipient, selfID string) []string {
	out := make([]string, 0, len(targets))
	for _, id := range targets {
		if id != recipient && id != selfID {
			out = append(out, id)
		}
	}
	return out
}
