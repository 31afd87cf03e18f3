package hub

import "teamchat/internal/utils"

var (
	ErrInvalidToken  = utils.NewTeamChatError("invalid access token")
	ErrNotAMember    = utils.NewTeamChatError("not a participant of this room")
	ErrUnknownRoom   = utils.NewTeamChatError("unknown room")
	ErrRateLimited   = utils.NewTeamChatError("sending too fast")
	ErrBadPayload    = utils.NewTeamChatError("malformed payload")
	ErrNotOwnMessage = utils.NewTeamChatError("message belongs to another user")
)
