package crypto

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"teamchat/internal/models"
)

func testCodec() *Codec {
	return NewCodec("u-self", zerolog.Nop())
}

func TestDeriveRoomKey_OrderIndependent(t *testing.T) {
	k1, err := DeriveRoomKey("room-1", []string{"alice", "bob", "carol"})
	require.NoError(t, err)
	k2, err := DeriveRoomKey("room-1", []string{"carol", "alice", "bob"})
	require.NoError(t, err)
	require.Equal(t, k1, k2)
	require.Len(t, k1, KeySize)
}

func TestDeriveRoomKey_DistinctInputs(t *testing.T) {
	base, err := DeriveRoomKey("room-1", []string{"alice", "bob"})
	require.NoError(t, err)

	otherRoom, err := DeriveRoomKey("room-2", []string{"alice", "bob"})
	require.NoError(t, err)
	require.NotEqual(t, base, otherRoom)

	otherMembers, err := DeriveRoomKey("room-1", []string{"alice"})
	require.NoError(t, err)
	require.NotEqual(t, base, otherMembers)
}

func TestDeriveRoomKey_EmptyParticipants(t *testing.T) {
	// Public rooms derive with no membership at all.
	k1, err := DeriveRoomKey("public", nil)
	require.NoError(t, err)
	k2, err := DeriveRoomKey("public", []string{})
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	codec := testCodec()
	participants := []string{"u-self", "u-peer"}

	req := models.SendRequest{
		RoomKey: "room-1",
		Text:    "Hello team",
		Type:    models.MsgText,
		Attachments: []models.Attachment{
			{URL: "https://files.example/report.pdf", FileName: "report.pdf"},
		},
		ContactData: &models.ContactCard{
			UserID:   "u-peer",
			Username: "peer",
			Email:    "peer@example.edu",
			Phone:    "555-0100",
		},
	}

	enc, err := codec.EncryptMessage(req, "room-1", participants)
	require.NoError(t, err)
	require.True(t, enc.IsEncrypted)
	require.NotEqual(t, req.Text, enc.Text)
	require.NotEqual(t, req.Attachments[0].URL, enc.Attachments[0].URL)
	require.NotEqual(t, req.ContactData.Email, enc.ContactData.Email)

	msg := models.Message{
		RoomKey:     "room-1",
		Text:        enc.Text,
		Attachments: enc.Attachments,
		ContactData: enc.ContactData,
		IsEncrypted: true,
	}
	dec := codec.DecryptMessage(msg, participants)
	require.False(t, dec.IsEncrypted)
	require.Equal(t, req.Text, dec.Text)
	require.Equal(t, req.Attachments[0].URL, dec.Attachments[0].URL)
	require.Equal(t, req.Attachments[0].FileName, dec.Attachments[0].FileName)
	require.Equal(t, req.ContactData.Username, dec.ContactData.Username)
	require.Equal(t, req.ContactData.Email, dec.ContactData.Email)
	require.Equal(t, req.ContactData.Phone, dec.ContactData.Phone)
}

func TestDecrypt_UnencryptedPassthrough(t *testing.T) {
	codec := testCodec()
	msg := models.Message{
		RoomKey: "room-1",
		Text:    "Audio call (0:42)",
		Type:    models.MsgAudioCall,
		Meta:    &models.CallMeta{CallDuration: 42, CallStatus: models.CallCompleted},
	}
	dec := codec.DecryptMessage(msg, []string{"u-self", "u-peer"})
	require.Equal(t, msg.Text, dec.Text)
	require.Equal(t, msg.Meta, dec.Meta)
}

func TestDecrypt_LenientFallback(t *testing.T) {
	codec := testCodec()

	// Flagged encrypted but the text is plain prose: fallback keeps it.
	plain := models.Message{RoomKey: "room-1", Text: "legacy plaintext", IsEncrypted: true}
	dec := codec.DecryptMessage(plain, []string{"a", "b"})
	require.Equal(t, "legacy plaintext", dec.Text)
	require.False(t, dec.IsEncrypted)

	// Ciphertext sealed under a different membership fails to open and is kept.
	enc, err := codec.EncryptMessage(models.SendRequest{RoomKey: "room-1", Text: "secret"}, "room-1", []string{"a", "b"})
	require.NoError(t, err)
	mismatched := models.Message{RoomKey: "room-1", Text: enc.Text, IsEncrypted: true}
	dec = codec.DecryptMessage(mismatched, []string{"a", "c"})
	require.Equal(t, enc.Text, dec.Text)
}
