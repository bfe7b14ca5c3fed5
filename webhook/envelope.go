package webhook

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

const (
	HeaderSignature    = "X-Signature"
	HeaderEventType    = "X-Event-Type"
	HeaderEventId      = "X-Event-Id"
	HeaderRetryAttempt = "X-Retry-Attempt"
)

// Envelope is the JSON body every subscriber receives.
type Envelope struct {
	Id        string      `json:"id"`
	Type      string      `json:"type"`
	CreatedAt string      `json:"created_at"`
	Data      interface{} `json:"data"`
}

func NewEventId() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "evt_" + hex.EncodeToString(b), nil
}

// NewEnvelope builds and serializes one event. The same bytes are sent to
// every subscription so their signatures cover identical content.
func NewEnvelope(eventType string, data interface{}, now time.Time) (Envelope, []byte, error) {
	id, err := NewEventId()
	if err != nil {
		return Envelope{}, nil, err
	}
	env := Envelope{
		Id:        id,
		Type:      eventType,
		CreatedAt: now.UTC().Format(time.RFC3339),
		Data:      data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, err
	}
	return env, body, nil
}
