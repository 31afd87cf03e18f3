package crypto

import "teamchat/internal/utils"

var (
	ErrKeyDerivation    = utils.NewTeamChatError("key derivation failed")
	ErrEncryptionFailed = utils.NewTeamChatError("encryption failed")
)
