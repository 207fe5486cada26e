package ws

import (
	"github.com/yp-alpha/progression/internal/progression"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgEvents   MessageType = "events"
	MsgError    MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotPayload is sent once when an athlete's feed connects.
type SnapshotPayload struct {
	Summary *progression.Summary       `json:"summary"`
	Daily   *progression.DailyProgress `json:"daily,omitempty"`
}

// EventsPayload carries every event committed during one throttle window.
type EventsPayload struct {
	Events []progression.Event `json:"events"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
