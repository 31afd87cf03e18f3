package transport

import "teamchat/internal/utils"

var (
	ErrNotConnected     = utils.NewTeamChatError("not connected")
	ErrReconnectFailed  = utils.NewTeamChatError("unable to reconnect")
	ErrAckTimeout       = utils.NewTeamChatError("acknowledgement timed out")
	ErrAlreadyConnected = utils.NewTeamChatError("already connected")
)
