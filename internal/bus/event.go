package bus

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// TypeEmailVerified is the only event type carried on the bus.
const TypeEmailVerified = "email_verified"

var ErrMalformedEvent = errors.New("malformed bus event")

// Event announces that Email became verified at Timestamp (Unix
// milliseconds). It is the wire and slot format shared by every tab.
type Event struct {
	Type      string `json:"type"`
	Email     string `json:"email"`
	Timestamp int64  `json:"timestamp"`
}

// NewEvent stamps a verification event for email at t.
func NewEvent(email string, t time.Time) Event {
	return Event{
		Type:      TypeEmailVerified,
		Email:     email,
		Timestamp: t.UnixMilli(),
	}
}

// Key identifies the logical event for de-duplication. Both delivery paths
// produce the same key for one publish.
func (e Event) Key() string {
	return strings.ToLower(strings.TrimSpace(e.Email)) + "|" + strconv.FormatInt(e.Timestamp, 10)
}

func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

type envelope struct {
	Event
	Source string `json:"source,omitempty"`
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, errors.Join(ErrMalformedEvent, err)
	}
	if env.Type != TypeEmailVerified || env.Email == "" || env.Timestamp <= 0 {
		return envelope{}, ErrMalformedEvent
	}
	return env, nil
}
