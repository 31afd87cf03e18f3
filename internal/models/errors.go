package models

import "teamchat/internal/utils"

var (
	ErrRoomNotFound = utils.NewTeamChatError("room not found")
	ErrUnknownEvent = utils.NewTeamChatError("unknown event")
)
