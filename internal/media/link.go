package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"teamchat/internal/call"
	"teamchat/internal/models"
)

// trackSender is the slice of *webrtc.RTPSender the manager needs for track
// substitution. Fakes implement it in tests.
type trackSender interface {
	ReplaceTrack(webrtc.TrackLocal) error
	Track() webrtc.TrackLocal
}

// peerConn narrows *webrtc.PeerConnection to what a link uses.
type peerConn interface {
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddLocalTrack(webrtc.TrackLocal) (trackSender, error)
	OnICECandidate(func(*webrtc.ICECandidate))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

type connFactory func() (peerConn, error)

// pionConn adapts *webrtc.PeerConnection to peerConn; AddTrack's concrete
// return type keeps it from satisfying the interface directly.
type pionConn struct {
	*webrtc.PeerConnection
}

func (c pionConn) AddLocalTrack(t webrtc.TrackLocal) (trackSender, error) {
	return c.PeerConnection.AddTrack(t)
}

func newPionConnFactory(cfg webrtc.Configuration) connFactory {
	return func() (peerConn, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}
		return pionConn{pc}, nil
	}
}

// link is one outbound-negotiated peer connection. It satisfies call.PeerLink.
type link struct {
	peerID string
	pc     peerConn
	mgr    *Manager

	mu          sync.Mutex
	audioSender trackSender
	videoSender trackSender

	remoteOnce sync.Once
	closeOnce  sync.Once
}

var _ call.PeerLink = (*link)(nil)

func (l *link) wire(cb call.LinkCallbacks) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || cb.OnCandidate == nil {
			return
		}
		init := c.ToJSON()
		cb.OnCandidate(models.Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
	l.pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
		l.remoteOnce.Do(func() {
			if cb.OnRemoteStream != nil {
				cb.OnRemoteStream()
			}
		})
	})
}

func (l *link) CreateOffer(ctx context.Context) (models.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return models.SessionDescription{}, ErrPeerConnection.WithDetails(err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return models.SessionDescription{}, ErrPeerConnection.WithDetails(err)
	}
	return fromPion(offer), nil
}

func (l *link) AcceptOffer(ctx context.Context, offer models.SessionDescription) (models.SessionDescription, error) {
	if err := l.pc.SetRemoteDescription(toPion(offer)); err != nil {
		return models.SessionDescription{}, ErrPeerConnection.WithDetails(err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return models.SessionDescription{}, ErrPeerConnection.WithDetails(err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return models.SessionDescription{}, ErrPeerConnection.WithDetails(err)
	}
	return fromPion(answer), nil
}

func (l *link) AcceptAnswer(answer models.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(toPion(answer)); err != nil {
		return ErrPeerConnection.WithDetails(err)
	}
	return nil
}

func (l *link) AddCandidate(c models.Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
	if err := l.pc.AddICECandidate(init); err != nil {
		return ErrPeerConnection.WithDetails(err)
	}
	return nil
}

func (l *link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mgr.forgetLink(l.peerID)
		err = l.pc.Close()
	})
	return err
}

func toPion(sd models.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(sd.Type), SDP: sd.SDP}
}

func fromPion(sd webrtc.SessionDescription) models.SessionDescription {
	return models.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}
