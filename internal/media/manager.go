// Package media owns local capture state and the WebRTC peer connections of
// a call. The same local tracks are attached to every peer connection, so
// mute and screen-share changes apply to all participants at once without
// renegotiation.
package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"teamchat/internal/call"
)

// Manager acquires and releases local media and builds call.PeerLink
// instances. Exactly one Manager serves a client; its Acquire/Release
// lifecycle brackets each call.
type Manager struct {
	source Source
	conns  connFactory
	log    zerolog.Logger

	// OnShareEnded fires after screen capture stops outside our control and
	// the camera track has been restored, so share state can be re-announced.
	OnShareEnded func()

	mu          sync.Mutex
	acquired    bool
	audioOnly   bool
	audioTrack  webrtc.TrackLocal
	videoTrack  webrtc.TrackLocal
	screenTrack webrtc.TrackLocal
	micEnabled  bool
	camEnabled  bool
	sharing     bool
	links       map[string]*link
}

var _ call.LinkFactory = (*Manager)(nil)

func NewManager(source Source, cfg webrtc.Configuration, log zerolog.Logger) *Manager {
	return &Manager{
		source: source,
		conns:  newPionConnFactory(cfg),
		log:    log.With().Str("component", "media").Logger(),
		links:  make(map[string]*link),
	}
}

// Acquire obtains local capture tracks for a call. The combined request
// degrades gracefully: losing one of camera or microphone is tolerated, and
// only when neither can be obtained does the call fail with
// ErrMediaUnavailable.
func (m *Manager) Acquire(audioOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	audio, audioErr := m.source.Audio()
	var video webrtc.TrackLocal
	var videoErr error
	if !audioOnly {
		video, videoErr = m.source.Video()
	}
	if audioErr != nil && (audioOnly || videoErr != nil) {
		return ErrMediaUnavailable.WithDetails(audioErr)
	}
	if audioErr != nil {
		m.log.Warn().Err(audioErr).Msg("microphone unavailable, continuing with camera only")
		audio = nil
	}
	if videoErr != nil {
		m.log.Warn().Err(videoErr).Msg("camera unavailable, continuing audio only")
		video = nil
	}

	m.acquired = true
	m.audioOnly = audioOnly || video == nil
	m.audioTrack = audio
	m.videoTrack = video
	m.micEnabled = audio != nil
	m.camEnabled = video != nil
	return nil
}

// Release tears down every peer connection and drops the local tracks.
func (m *Manager) Release() {
	m.mu.Lock()
	links := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.links = make(map[string]*link)
	m.acquired = false
	m.audioTrack, m.videoTrack, m.screenTrack = nil, nil, nil
	m.micEnabled, m.camEnabled, m.sharing = false, false, false
	m.mu.Unlock()

	for _, l := range links {
		if err := l.pc.Close(); err != nil {
			m.log.Warn().Err(err).Str("peer", l.peerID).Msg("peer connection close failed")
		}
	}
}

// NewLink builds the peer connection toward one participant with the shared
// local tracks attached, honoring current mute and share state.
func (m *Manager) NewLink(peerID string, cb call.LinkCallbacks) (call.PeerLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acquired {
		return nil, ErrNotAcquired
	}

	pc, err := m.conns()
	if err != nil {
		return nil, ErrPeerConnection.WithDetails(err)
	}
	l := &link{peerID: peerID, pc: pc, mgr: m}
	l.wire(cb)

	if m.audioTrack != nil {
		sender, err := pc.AddLocalTrack(m.audioTrack)
		if err != nil {
			pc.Close()
			return nil, ErrPeerConnection.WithDetails(err)
		}
		l.audioSender = sender
		if !m.micEnabled {
			if err := sender.ReplaceTrack(nil); err != nil {
				m.log.Warn().Err(err).Str("peer", peerID).Msg("initial mute failed")
			}
		}
	}
	if m.videoTrack != nil {
		outbound := m.videoTrack
		if m.sharing && m.screenTrack != nil {
			outbound = m.screenTrack
		}
		sender, err := pc.AddLocalTrack(outbound)
		if err != nil {
			pc.Close()
			return nil, ErrPeerConnection.WithDetails(err)
		}
		l.videoSender = sender
		if !m.camEnabled && !m.sharing {
			if err := sender.ReplaceTrack(nil); err != nil {
				m.log.Warn().Err(err).Str("peer", peerID).Msg("initial camera-off failed")
			}
		}
	}

	m.links[peerID] = l
	return l, nil
}

func (m *Manager) forgetLink(peerID string) {
	m.mu.Lock()
	delete(m.links, peerID)
	m.mu.Unlock()
}

// ToggleMic flips the microphone across every peer connection at once and
// returns the new enabled state.
func (m *Manager) ToggleMic() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acquired || m.audioTrack == nil {
		return false, ErrNotAcquired
	}
	m.micEnabled = !m.micEnabled
	var outbound webrtc.TrackLocal
	if m.micEnabled {
		outbound = m.audioTrack
	}
	for _, l := range m.links {
		if l.audioSender == nil {
			continue
		}
		if err := l.audioSender.ReplaceTrack(outbound); err != nil {
			m.log.Warn().Err(err).Str("peer", l.peerID).Msg("mic toggle failed on sender")
		}
	}
	return m.micEnabled, nil
}

// ToggleCamera flips the camera across every peer connection. While a screen
// share is active only the flag changes; the share track keeps the video
// m-line.
func (m *Manager) ToggleCamera() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acquired {
		return false, ErrNotAcquired
	}
	if m.videoTrack == nil {
		return false, ErrNoVideoTrack
	}
	m.camEnabled = !m.camEnabled
	if m.sharing {
		return m.camEnabled, nil
	}
	var outbound webrtc.TrackLocal
	if m.camEnabled {
		outbound = m.videoTrack
	}
	for _, l := range m.links {
		if l.videoSender == nil {
			continue
		}
		if err := l.videoSender.ReplaceTrack(outbound); err != nil {
			m.log.Warn().Err(err).Str("peer", l.peerID).Msg("camera toggle failed on sender")
		}
	}
	return m.camEnabled, nil
}

// ToggleScreenShare substitutes the outbound video track on every sender with
// a display-capture track, or reverts to the camera. Substitution preserves a
// single video m-line, so no renegotiation happens.
func (m *Manager) ToggleScreenShare() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acquired {
		return false, ErrNotAcquired
	}
	if m.videoTrack == nil {
		return false, ErrNoVideoTrack
	}
	if m.sharing {
		m.stopShareLocked(false)
		return false, nil
	}

	screen, err := m.source.Display(func() { m.shareEndedExternally() })
	if err != nil {
		return false, ErrMediaUnavailable.WithDetails(err)
	}
	m.screenTrack = screen
	m.sharing = true
	for _, l := range m.links {
		if l.videoSender == nil {
			continue
		}
		if err := l.videoSender.ReplaceTrack(screen); err != nil {
			m.log.Warn().Err(err).Str("peer", l.peerID).Msg("screen track substitution failed")
		}
	}
	return true, nil
}

// shareEndedExternally handles the capture stopping outside our control.
func (m *Manager) shareEndedExternally() {
	m.mu.Lock()
	if !m.sharing {
		m.mu.Unlock()
		return
	}
	m.stopShareLocked(true)
	m.mu.Unlock()
}

// stopShareLocked reverts every video sender to the camera track, honoring
// the camera-off flag. Caller holds m.mu.
func (m *Manager) stopShareLocked(external bool) {
	m.sharing = false
	m.screenTrack = nil
	var outbound webrtc.TrackLocal
	if m.camEnabled {
		outbound = m.videoTrack
	}
	for _, l := range m.links {
		if l.videoSender == nil {
			continue
		}
		if err := l.videoSender.ReplaceTrack(outbound); err != nil {
			m.log.Warn().Err(err).Str("peer", l.peerID).Msg("camera revert failed")
		}
	}
	if external && m.OnShareEnded != nil {
		go m.OnShareEnded()
	}
}

// MicEnabled reports the microphone state.
func (m *Manager) MicEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micEnabled
}

// CameraEnabled reports the camera state.
func (m *Manager) CameraEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camEnabled
}

// Sharing reports whether the screen is being shared.
func (m *Manager) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharing
}

// AudioOnly reports whether the session carries no video.
func (m *Manager) AudioOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioOnly
}
