package sqsqueue

import (
	"encoding/json"
	"errors"
)

// Message is the queue envelope: a reference only, never the payload. The
// same shape travels the main channel and the dead-letter channel; the two
// are distinguished by queue URL, not by content.
type Message struct {
	TenantID string `json:"tenantId"`
	EventID  string `json:"eventId"`
}

var ErrInvalidMessage = errors.New("message missing tenantId or eventId")

func (m Message) Validate() error {
	if m.TenantID == "" || m.EventID == "" {
		return ErrInvalidMessage
	}
	return nil
}

// ParseMessage decodes and validates a queue message body.
func ParseMessage(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, err
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
