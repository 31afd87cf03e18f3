package crypto

import (
	"github.com/rs/zerolog"

	"teamchat/internal/models"
)

// Codec encrypts and decrypts message payloads for one user session. It holds
// no key material; keys are rederived per call from room identity and
// membership so a membership change is picked up immediately.
type Codec struct {
	selfID string
	log    zerolog.Logger
}

func NewCodec(selfID string, log zerolog.Logger) *Codec {
	return &Codec{selfID: selfID, log: log.With().Str("component", "codec").Logger()}
}

// EncryptMessage seals the text, every attachment and the contact card of the
// send request under the room key. Call-summary and other system sends keep
// IsEncrypted false and must not be passed here.
func (c *Codec) EncryptMessage(req models.SendRequest, roomKey string, participantIDs []string) (models.SendRequest, error) {
	key, err := DeriveRoomKey(roomKey, participantIDs)
	if err != nil {
		return req, err
	}

	out := req
	if out.Text != "" {
		if out.Text, err = seal(key, req.Text); err != nil {
			return req, err
		}
	}
	if len(req.Attachments) > 0 {
		out.Attachments = make([]models.Attachment, len(req.Attachments))
		for i, a := range req.Attachments {
			enc := a
			if enc.URL, err = seal(key, a.URL); err != nil {
				return req, err
			}
			if a.FileName != "" {
				if enc.FileName, err = seal(key, a.FileName); err != nil {
					return req, err
				}
			}
			out.Attachments[i] = enc
		}
	}
	if req.ContactData != nil {
		card := *req.ContactData
		for _, f := range []*string{&card.Username, &card.Email, &card.Phone} {
			if *f == "" {
				continue
			}
			if *f, err = seal(key, *f); err != nil {
				return req, err
			}
		}
		out.ContactData = &card
	}
	out.IsEncrypted = true
	return out, nil
}

// DecryptMessage returns a plaintext copy of msg. Unencrypted messages pass
// through untouched. Any field that fails to open is kept as-is: the lenient
// fallback keeps legacy and system-generated plaintext renderable, at the
// cost of masking corruption, so every fallback is logged distinctly.
func (c *Codec) DecryptMessage(msg models.Message, participantIDs []string) models.Message {
	if !msg.IsEncrypted {
		return msg
	}
	key, err := DeriveRoomKey(msg.RoomKey, participantIDs)
	if err != nil {
		c.log.Warn().Err(err).Str("room", msg.RoomKey).Msg("decrypt skipped, key derivation failed")
		return msg
	}

	out := msg
	out.IsEncrypted = false
	if msg.Text != "" {
		out.Text = c.openField(key, msg.Text, msg.RoomKey, "text")
	}
	if len(msg.Attachments) > 0 {
		out.Attachments = make([]models.Attachment, len(msg.Attachments))
		for i, a := range msg.Attachments {
			dec := a
			dec.URL = c.openField(key, a.URL, msg.RoomKey, "attachment.url")
			if a.FileName != "" {
				dec.FileName = c.openField(key, a.FileName, msg.RoomKey, "attachment.fileName")
			}
			out.Attachments[i] = dec
		}
	}
	if msg.ContactData != nil {
		card := *msg.ContactData
		card.Username = c.openField(key, card.Username, msg.RoomKey, "contact.username")
		card.Email = c.openField(key, card.Email, msg.RoomKey, "contact.email")
		card.Phone = c.openField(key, card.Phone, msg.RoomKey, "contact.phone")
		out.ContactData = &card
	}
	return out
}

func (c *Codec) openField(key []byte, envelope, roomKey, field string) string {
	if envelope == "" {
		return envelope
	}
	pt, ok := open(key, envelope)
	if !ok {
		c.log.Warn().Str("room", roomKey).Str("field", field).Msg("decrypt fallback, treating payload as plaintext")
		return envelope
	}
	return pt
}
