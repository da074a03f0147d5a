package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventPlay    EventType = "play"
	EventPause   EventType = "pause"
	EventSeek    EventType = "seek"
	EventSetRate EventType = "setRate"
)

// Event is one playback action relayed to a session. Events are immutable
// once constructed; the relay stamps ServerReceivedAtMs on a copy, never on
// the sender's original. Identity is EventID only: receivers deduplicate on
// it, so serialization must round-trip the field set exactly.
type Event struct {
	EventID            string    `json:"eventId"`
	SenderID           string    `json:"senderId"`
	Type               EventType `json:"type"`
	PositionSeconds    *float64  `json:"positionSeconds,omitempty"`
	Rate               *float64  `json:"rate,omitempty"`
	ClientSentAtMs     int64     `json:"clientSentAtMs"`
	ServerReceivedAtMs int64     `json:"serverReceivedAtMs,omitempty"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }

func newEvent(senderID string, t EventType) Event {
	return Event{
		EventID:        uuid.NewString(),
		SenderID:       senderID,
		Type:           t,
		ClientSentAtMs: NowMillis(),
	}
}

func NewPlayEvent(senderID string) Event  { return newEvent(senderID, EventPlay) }
func NewPauseEvent(senderID string) Event { return newEvent(senderID, EventPause) }

// NewSeekEvent builds a seek event. Negative positions are a caller error.
func NewSeekEvent(senderID string, positionSeconds float64) (Event, error) {
	if positionSeconds < 0 {
		return Event{}, fmt.Errorf("seek position must be >= 0, got %v", positionSeconds)
	}
	ev := newEvent(senderID, EventSeek)
	ev.PositionSeconds = &positionSeconds
	return ev, nil
}

// NewSetRateEvent builds a rate-change event. Rate 1.0 is normal speed.
func NewSetRateEvent(senderID string, rate float64) (Event, error) {
	if rate <= 0 {
		return Event{}, fmt.Errorf("playback rate must be > 0, got %v", rate)
	}
	ev := newEvent(senderID, EventSetRate)
	ev.Rate = &rate
	return ev, nil
}

// Validate checks an event that crossed the wire: identity fields present,
// known type, and the optional field present exactly when the type needs it.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event has no eventId")
	}
	if e.SenderID == "" {
		return fmt.Errorf("event %s has no senderId", e.EventID)
	}
	switch e.Type {
	case EventPlay, EventPause:
		if e.PositionSeconds != nil || e.Rate != nil {
			return fmt.Errorf("%s event %s must not carry a payload", e.Type, e.EventID)
		}
	case EventSeek:
		if e.PositionSeconds == nil {
			return fmt.Errorf("seek event %s has no positionSeconds", e.EventID)
		}
		if *e.PositionSeconds < 0 {
			return fmt.Errorf("seek event %s has negative position", e.EventID)
		}
		if e.Rate != nil {
			return fmt.Errorf("seek event %s must not carry a rate", e.EventID)
		}
	case EventSetRate:
		if e.Rate == nil {
			return fmt.Errorf("setRate event %s has no rate", e.EventID)
		}
		if *e.Rate <= 0 {
			return fmt.Errorf("setRate event %s has non-positive rate", e.EventID)
		}
		if e.PositionSeconds != nil {
			return fmt.Errorf("setRate event %s must not carry a position", e.EventID)
		}
	default:
		return fmt.Errorf("event %s has unknown type %q", e.EventID, e.Type)
	}
	return nil
}

// WithServerStamp returns a copy carrying a server receive timestamp. An
// already-stamped event is returned unchanged.
func (e Event) WithServerStamp(nowMs int64) Event {
	if e.ServerReceivedAtMs == 0 {
		e.ServerReceivedAtMs = nowMs
	}
	return e
}
