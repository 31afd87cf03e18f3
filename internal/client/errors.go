package client

import "teamchat/internal/utils"

var (
	ErrUnknownRoom  = utils.NewTeamChatError("unknown room")
	ErrSendRejected = utils.NewTeamChatError("server rejected the message")
	ErrNoActiveRoom = utils.NewTeamChatError("no room is open")
)
