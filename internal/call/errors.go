package call

import "teamchat/internal/utils"

var (
	ErrCallInProgress = utils.NewTeamChatError("a call is already in progress")
	ErrNoActiveCall   = utils.NewTeamChatError("no active call")
	ErrUnknownPeer    = utils.NewTeamChatError("unknown call peer")
	ErrLinkSetup      = utils.NewTeamChatError("failed to set up peer link")
)
