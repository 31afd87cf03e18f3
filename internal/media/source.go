package media

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"teamchat/internal/utils"
)

// Source produces local capture tracks. The headless client ships the static
// sample source below; anything feeding real capture hardware implements the
// same interface.
type Source interface {
	// Audio returns the microphone track.
	Audio() (webrtc.TrackLocal, error)

	// Video returns the camera track.
	Video() (webrtc.TrackLocal, error)

	// Display returns a screen-capture track. onEnded is invoked if the
	// capture stops outside our control, so the session can revert to the
	// camera automatically.
	Display(onEnded func()) (webrtc.TrackLocal, error)
}

// SampleSource backs tracks with pion static sample tracks: the application
// writes encoded Opus/VP8 samples into them. Streams from it never end on
// their own.
type SampleSource struct {
	streamID string
}

func NewSampleSource() *SampleSource {
	return &SampleSource{streamID: uuid.NewString()}
}

func (s *SampleSource) Audio() (webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", s.streamID,
	)
	if err != nil {
		return nil, utils.NewTeamChatError("failed to create audio track").WithDetails(err)
	}
	return track, nil
}

func (s *SampleSource) Video() (webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", s.streamID,
	)
	if err != nil {
		return nil, utils.NewTeamChatError("failed to create video track").WithDetails(err)
	}
	return track, nil
}

func (s *SampleSource) Display(func()) (webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"screen", s.streamID,
	)
	if err != nil {
		return nil, utils.NewTeamChatError("failed to create screen track").WithDetails(err)
	}
	return track, nil
}
