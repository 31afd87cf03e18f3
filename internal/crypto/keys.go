// Package crypto implements the per-room message codec: deterministic key
// derivation from room identity plus membership, and the symmetric envelope
// applied to message payloads.
package crypto

import (
	"crypto/sha256"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"teamchat/internal/utils"
)

const KeySize = 32

// keyDomain separates room keys from any other HKDF use of the same inputs.
const keyDomain = "teamchat/room-key/v1"

// DeriveRoomKey derives the 32-byte room key from the room identifier and the
// participant IDs. The ID list is sorted first so every member derives the
// same key regardless of enumeration order; the empty list is valid and is
// what public rooms use so all users agree on one key.
func DeriveRoomKey(roomKey string, participantIDs []string) ([]byte, error) {
	ids := utils.SortedCopy(participantIDs)
	info := roomKey + "|" + strings.Join(ids, ",")

	r := hkdf.New(sha256.New, []byte(roomKey), []byte(keyDomain), []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, ErrKeyDerivation.WithDetails(err.Error())
	}
	return key, nil
}
