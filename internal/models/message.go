package models

import "time"

type MessageType string

const (
	MsgText      MessageType = "text"
	MsgImage     MessageType = "image"
	MsgDocument  MessageType = "document"
	MsgContact   MessageType = "contact"
	MsgAudioCall MessageType = "audio_call"
	MsgVideoCall MessageType = "video_call"
)

type CallStatus string

const (
	CallCompleted CallStatus = "completed"
	CallMissed    CallStatus = "missed"
	CallDeclined  CallStatus = "declined"
)

// DeletedText replaces the body of a message tombstoned for everyone.
const DeletedText = "This message was deleted"

type Attachment struct {
	URL      string `json:"url"`
	FileName string `json:"fileName,omitempty"`
}

// ContactCard is a shared-contact payload attached to contact messages.
type ContactCard struct {
	UserID     string `json:"userId"`
	Username   string `json:"username,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// CallMeta rides on audio_call / video_call summary messages.
type CallMeta struct {
	CallDuration int        `json:"callDuration"`
	CallStatus   CallStatus `json:"callStatus"`
}

// Message is the room message envelope. Text, attachments and the contact
// card hold ciphertext while IsEncrypted is set; the codec strips that before
// anything reaches session state.
type Message struct {
	ID          string       `json:"id"`
	RoomKey     string       `json:"roomKey"`
	Sender      User         `json:"sender"`
	Text        string       `json:"text"`
	Type        MessageType  `json:"messageType"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ContactData *ContactCard `json:"contactData,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	DeliveredTo []string     `json:"deliveredTo,omitempty"`
	ReadBy      []string     `json:"readBy,omitempty"`
	IsDeleted   bool         `json:"isDeleted,omitempty"`
	DeletedBy   []string     `json:"deletedBy,omitempty"`
	IsEncrypted bool         `json:"isEncrypted,omitempty"`
	Meta        *CallMeta    `json:"meta,omitempty"`
}

// SameOrigin reports whether other is plausibly the same message delivered
// twice. Used as the dedupe fallback when one copy is missing its server ID.
func (m *Message) SameOrigin(other *Message) bool {
	if m.ID != "" && m.ID == other.ID {
		return true
	}
	return m.Timestamp.Equal(other.Timestamp) && m.Sender.ID == other.Sender.ID
}

// Tombstone clears the content in place, matching the server-side delete.
func (m *Message) Tombstone() {
	m.IsDeleted = true
	m.Text = DeletedText
	m.Attachments = nil
	m.ContactData = nil
}
