package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags a WU lifecycle event. The merge algorithm treats every
// type uniformly; only the projection step interprets known types.
type EventType string

const (
	EventCreated  EventType = "created"
	EventClaim    EventType = "claim"
	EventRelease  EventType = "release"
	EventComplete EventType = "complete"
)

// WUEvent is one immutable fact in the append-only log. Events are never
// mutated or deleted once written.
//
// Identity is (Type, WUID, Timestamp): two events with the same key across
// two logs are the same fact and collapse to one during merge.
type WUEvent struct {
	Type      EventType `json:"type"`
	WUID      string    `json:"wu_id"`
	Timestamp string    `json:"timestamp"` // RFC 3339, UTC, nanosecond precision
	Agent     string    `json:"agent,omitempty"`
	Lane      string    `json:"lane,omitempty"`
	Title     string    `json:"title,omitempty"`
	Note      string    `json:"note,omitempty"`

	// raw holds the original log line (when the event was read from a log)
	// so events written by newer schema versions round-trip losslessly.
	raw json.RawMessage
}

// Key returns the dedup identity key for the event.
func (e WUEvent) Key() string {
	return string(e.Type) + "\x00" + e.WUID + "\x00" + e.Timestamp
}

// Time parses the event timestamp. Validation guarantees this succeeds for
// events that came through ParseEvent; constructed events use NowTimestamp.
func (e WUEvent) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// MarshalJSON emits the original line verbatim for events read from a log,
// preserving fields this version does not know about.
func (e WUEvent) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	type alias WUEvent
	return json.Marshal(alias(e))
}

// ParseEvent parses and validates one NDJSON log line.
func ParseEvent(line []byte) (WUEvent, error) {
	type alias WUEvent
	var a alias
	if err := json.Unmarshal(line, &a); err != nil {
		return WUEvent{}, fmt.Errorf("invalid JSON: %w", err)
	}
	e := WUEvent(a)
	if err := e.Validate(); err != nil {
		return WUEvent{}, err
	}
	e.raw = append(json.RawMessage(nil), line...)
	return e, nil
}

// Validate checks the canonical event shape. Event types beyond the known
// set are accepted: logs written by newer versions must stay readable.
func (e WUEvent) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("missing event type")
	}
	if e.WUID == "" {
		return fmt.Errorf("missing wu_id")
	}
	if !ValidateWUID(e.WUID) {
		return fmt.Errorf("malformed wu_id: %q", e.WUID)
	}
	if e.Timestamp == "" {
		return fmt.Errorf("missing timestamp")
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
		return fmt.Errorf("malformed timestamp %q: %w", e.Timestamp, err)
	}
	return nil
}

// NowTimestamp returns the canonical wire timestamp for a new event.
func NowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
