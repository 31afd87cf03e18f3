package api

import "teamchat/internal/utils"

var (
	ErrRequestFailed = utils.NewTeamChatError("request failed")
	ErrUnauthorized  = utils.NewTeamChatError("access token rejected")
	ErrBadResponse   = utils.NewTeamChatError("malformed server response")
)
