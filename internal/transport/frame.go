package transport

import (
	"encoding/json"

	"teamchat/internal/models"
)

// ackEvent is the reserved event name for request acknowledgements; the ID
// field correlates an ack with the request that carried the same ID.
const ackEvent models.Event = "ack"

// frame is the wire unit on the signaling channel.
type frame struct {
	Event models.Event    `json:"event"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals an event payload into its schema type.
func Decode[T any](data json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}
