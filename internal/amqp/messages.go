package amqp

import (
	"encoding/json"
	"time"
)

// ChangeMessage is a lightweight change notification: which record changed
// and at which revision. Receiving devices fetch the full record from their
// own store sync; the message carries no payload on purpose so it can never
// go stale.
type ChangeMessage struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Revision   int64     `json:"revision"`
	Deleted    bool      `json:"deleted"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewChangeMessage creates a change message stamped with the current time.
func NewChangeMessage(collection, recordID string, revision int64, deleted bool) *ChangeMessage {
	return &ChangeMessage{
		Collection: collection,
		ID:         recordID,
		Revision:   revision,
		Deleted:    deleted,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON creates a message from JSON bytes.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
