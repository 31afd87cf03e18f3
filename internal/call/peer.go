package call

import (
	"context"

	"teamchat/internal/models"
)

// PeerState is the lifecycle tag for one remote participant. A single tagged
// state per peer replaces separate "who is dialed" and "who may be rendered"
// collections; a peer is renderable once it reaches StateAccepted.
type PeerState int

const (
	StateIdle PeerState = iota
	StateRinging
	StateAccepted
	StateNegotiating
	StateConnected
	StateEnded
)

func (s PeerState) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateAccepted:
		return "accepted"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	default:
		return "idle"
	}
}

// Renderable reports whether media from this peer may be surfaced.
func (s PeerState) Renderable() bool {
	return s == StateAccepted || s == StateNegotiating || s == StateConnected
}

// PeerLink is one media connection toward a single remote participant. The
// media package provides the WebRTC-backed implementation; tests substitute
// fakes so mesh logic runs without ICE.
type PeerLink interface {
	// CreateOffer produces the local offer and applies it as the local
	// description.
	CreateOffer(ctx context.Context) (models.SessionDescription, error)

	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(ctx context.Context, offer models.SessionDescription) (models.SessionDescription, error)

	// AcceptAnswer applies the remote answer to a link that offered.
	AcceptAnswer(answer models.SessionDescription) error

	// AddCandidate applies one remote ICE candidate. The engine guarantees a
	// remote description has been applied first.
	AddCandidate(models.Candidate) error

	Close() error
}

// LinkCallbacks are invoked by a PeerLink as negotiation progresses. The
// engine wires these when it creates the link.
type LinkCallbacks struct {
	// OnCandidate fires for each locally gathered ICE candidate.
	OnCandidate func(models.Candidate)

	// OnRemoteStream fires once when remote media first attaches.
	OnRemoteStream func()
}

// LinkFactory builds peer links on demand, one per remote participant.
type LinkFactory interface {
	NewLink(peerID string, cb LinkCallbacks) (PeerLink, error)
}

// peer is the engine's per-participant record. Candidates arriving before the
// remote description are queued in arrival order and flushed once it lands.
type peer struct {
	id         string
	state      PeerState
	link       PeerLink
	remoteSet  bool
	pendingICE []models.Candidate
}

func (p *peer) queueOrApply(c models.Candidate) error {
	if p.remoteSet && p.link != nil {
		return p.link.AddCandidate(c)
	}
	p.pendingICE = append(p.pendingICE, c)
	return nil
}

// flushCandidates applies queued candidates in FIFO order after the remote
// description is set.
func (p *peer) flushCandidates() error {
	p.remoteSet = true
	for _, c := range p.pendingICE {
		if err := p.link.AddCandidate(c); err != nil {
			return err
		}
	}
	p.pendingICE = nil
	return nil
}
