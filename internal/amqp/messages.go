package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"dividi/internal/core"
)

// ActivityMessage carries one group activity from the API to the worker.
// The id is assigned by the publisher, so redelivery is idempotent.
type ActivityMessage struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"group_id"`
	ActorID     string    `json:"actor_id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Timestamp   time.Time `json:"timestamp"`
}

var errIncompleteMessage = errors.New("activity message missing id or group")

func NewActivityMessage(a core.Activity) *ActivityMessage {
	return &ActivityMessage{
		ID:          a.ID,
		GroupID:     a.GroupID,
		ActorID:     a.ActorID,
		Type:        string(a.Type),
		Description: a.Description,
		CreatedAt:   a.CreatedAt,
		Timestamp:   time.Now(),
	}
}

func (m *ActivityMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ActivityMessageFromJSON decodes a message and rejects one that cannot be
// stored.
func ActivityMessageFromJSON(data []byte) (*ActivityMessage, error) {
	var msg ActivityMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" || msg.GroupID == "" {
		return nil, errIncompleteMessage
	}
	return &msg, nil
}

func (m *ActivityMessage) Activity() core.Activity {
	return core.Activity{
		ID:          m.ID,
		GroupID:     m.GroupID,
		ActorID:     m.ActorID,
		Type:        core.ActivityType(m.Type),
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
	}
}
