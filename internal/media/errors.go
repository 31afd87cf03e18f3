package media

import "teamchat/internal/utils"

var (
	ErrMediaUnavailable = utils.NewTeamChatError("no camera or microphone could be acquired")
	ErrNotAcquired      = utils.NewTeamChatError("local media has not been acquired")
	ErrNoVideoTrack     = utils.NewTeamChatError("no video track in an audio-only session")
	ErrPeerConnection   = utils.NewTeamChatError("peer connection failure")
)
