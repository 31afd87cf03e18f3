package models

// Event names carried on the signaling channel. The payload type for each is
// fixed; DecodeEvent in the transport package enforces the mapping so unknown
// or malformed events never reach handlers as loose maps.
type Event string

const (
	EvRooms             Event = "chat:rooms"
	EvSend              Event = "chat:send"
	EvNewMessage        Event = "chat:new-message"
	EvMarkDelivered     Event = "chat:mark-delivered"
	EvMarkRead          Event = "chat:mark-read"
	EvMessageDelivered  Event = "chat:message-delivered"
	EvMessagesRead      Event = "chat:messages-read"
	EvDelete            Event = "chat:delete"
	EvMessageDeleted    Event = "chat:message-deleted"
	EvUserStatus        Event = "chat:user-status"
	EvRing              Event = "rtc:ring"
	EvRingAccept        Event = "rtc:ring:accept"
	EvRingDecline       Event = "rtc:ring:decline"
	EvOffer             Event = "rtc:offer"
	EvAnswer            Event = "rtc:answer"
	EvCandidate         Event = "rtc:candidate"
	EvEnd               Event = "rtc:end"
	EvScreenShare       Event = "rtc:screen-share"
	EvScreenShareUpdate Event = "rtc:screen-share-update"
)

// Ack is the acknowledgement payload for client→server requests.
type Ack struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// SendRequest is the chat:send payload.
type SendRequest struct {
	RoomKey     string       `json:"roomKey"`
	Text        string       `json:"text"`
	Type        MessageType  `json:"messageType"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ContactData *ContactCard `json:"contactData,omitempty"`
	IsEncrypted bool         `json:"isEncrypted"`
	Meta        *CallMeta    `json:"meta,omitempty"`
}

// ReceiptRequest is the chat:mark-delivered / chat:mark-read payload.
type ReceiptRequest struct {
	RoomKey    string   `json:"roomKey"`
	MessageIDs []string `json:"messageIds"`
}

// DeliveredFanout is chat:message-delivered. The server emits either a single
// MessageID (delivery detected at send time) or a MessageIDs batch.
type DeliveredFanout struct {
	RoomKey     string   `json:"roomKey"`
	MessageID   string   `json:"messageId,omitempty"`
	MessageIDs  []string `json:"messageIds,omitempty"`
	DeliveredTo []string `json:"deliveredTo"`
}

// ReadFanout is chat:messages-read.
type ReadFanout struct {
	RoomKey    string   `json:"roomKey"`
	UserID     string   `json:"userId"`
	MessageIDs []string `json:"messageIds"`
}

// DeleteRequest is chat:delete.
type DeleteRequest struct {
	MessageID         string `json:"messageId"`
	DeleteForEveryone bool   `json:"deleteForEveryone"`
}

// MessageDeleted is the chat:message-deleted broadcast.
type MessageDeleted struct {
	MessageID         string `json:"messageId"`
	RoomKey           string `json:"roomKey"`
	DeleteForEveryone bool   `json:"deleteForEveryone"`
}

// UserStatus is chat:user-status.
type UserStatus struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// SessionDescription mirrors the SDP half of the negotiation handshake
// without tying the wire schema to a WebRTC implementation.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is an ICE candidate in transit.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Ring is rtc:ring. To is set by the sender, From by the relay. Peers lists
// the user IDs already rung or in the call so the callee can bootstrap a full
// mesh on accept.
type Ring struct {
	To          string   `json:"to,omitempty"`
	From        string   `json:"from,omitempty"`
	RoomKey     string   `json:"roomKey"`
	Peers       []string `json:"peers,omitempty"`
	IsAudioOnly bool     `json:"isAudioOnly,omitempty"`
	Caller      *User    `json:"caller,omitempty"`
}

// RingAccept is rtc:ring:accept. IsAccepter marks the copy echoed back to the
// accepting side, which is responsible for creating offers toward Peers.
type RingAccept struct {
	To            string       `json:"to,omitempty"`
	From          string       `json:"from,omitempty"`
	RoomKey       string       `json:"roomKey"`
	Peers         []string     `json:"peers,omitempty"`
	IsAccepter    bool         `json:"isAccepter,omitempty"`
	ScreenSharing *ScreenShare `json:"screenSharing,omitempty"`
}

// RingDecline is rtc:ring:decline.
type RingDecline struct {
	To      string `json:"to,omitempty"`
	From    string `json:"from,omitempty"`
	RoomKey string `json:"roomKey"`
}

// SDPSignal is rtc:offer / rtc:answer.
type SDPSignal struct {
	To      string              `json:"to,omitempty"`
	From    string              `json:"from,omitempty"`
	RoomKey string              `json:"roomKey"`
	Offer   *SessionDescription `json:"offer,omitempty"`
	Answer  *SessionDescription `json:"answer,omitempty"`
}

// CandidateSignal is rtc:candidate.
type CandidateSignal struct {
	To        string    `json:"to,omitempty"`
	From      string    `json:"from,omitempty"`
	RoomKey   string    `json:"roomKey"`
	Candidate Candidate `json:"candidate"`
}

// End is rtc:end.
type End struct {
	To      string `json:"to,omitempty"`
	From    string `json:"from,omitempty"`
	RoomKey string `json:"roomKey"`
}

// ScreenShare is rtc:screen-share (client→server) and
// rtc:screen-share-update (server→client).
type ScreenShare struct {
	RoomKey   string `json:"roomKey"`
	UserID    string `json:"userId,omitempty"`
	IsSharing bool   `json:"isSharing"`
}
