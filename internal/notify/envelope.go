package notify

import (
	"encoding/json"
	"strings"
)

// Envelope is the message carried on the notification topic
type Envelope struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// ParseEnvelope decodes a topic message. ok is false for invalid JSON or a
// missing email or message, which the relay treats as a no-op.
func ParseEnvelope(b []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, false
	}
	env.Email = strings.TrimSpace(env.Email)
	if env.Email == "" || strings.TrimSpace(env.Message) == "" {
		return Envelope{}, false
	}
	return env, true
}
