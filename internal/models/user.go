// Package models defines the data model and the wire schema shared by the
// client engine and the signaling hub.
package models

// User is the participant stub carried inside rooms, messages and ring
// payloads. IDs are opaque strings assigned by the account service.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	ProfilePic string `json:"profilePic,omitempty"`
	Role       string `json:"role,omitempty"`
	IsOnline   bool   `json:"isOnline,omitempty"`
}
