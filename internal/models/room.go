package models

type RoomType string

const (
	RoomPublic     RoomType = "public"
	RoomGroup      RoomType = "group"
	RoomIndividual RoomType = "individual"
)

// Room is a chat conversation scope. Individual rooms additionally carry the
// single counterpart in Participant for convenience, mirroring the server
// snapshot shape.
type Room struct {
	Key          string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Type         RoomType `json:"type"`
	Participants []User   `json:"participants,omitempty"`
	Participant  *User    `json:"participant,omitempty"`
	UnreadCount  int      `json:"unreadCount,omitempty"`
	Avatar       string   `json:"avatar,omitempty"`
}

// ParticipantIDs returns the IDs of every participant, in snapshot order.
func (r *Room) ParticipantIDs() []string {
	ids := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p.ID != "" {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// OtherParticipantIDs returns every participant except self.
func (r *Room) OtherParticipantIDs(selfID string) []string {
	var ids []string
	for _, p := range r.Participants {
		if p.ID != "" && p.ID != selfID {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
