package models

import "time"

// Action names an operator triggered operation
type Action string

const (
	ActionFetch         Action = "fetch"
	ActionDetails       Action = "details"
	ActionItems         Action = "items"
	ActionDispatch      Action = "dispatch"
	ActionReset         Action = "reset"
	ActionRetry         Action = "retry"
	ActionRequeue       Action = "requeue"
	ActionProgress      Action = "progress"
	ActionBackfillBuild Action = "backfill_build"
	ActionBackfillRun   Action = "backfill_run"
)

// Command is the JSON message consumed from the broker to trigger an action
type Command struct {
	ID       string    `json:"id"`
	Action   Action    `json:"action"`
	Resource string    `json:"resource,omitempty"`
	Target   int       `json:"target,omitempty"`
	Limit    int       `json:"limit,omitempty"`
	States   string    `json:"states,omitempty"`
	Days     int       `json:"days,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// ContactEvent is published after a record was dispatched downstream
type ContactEvent struct {
	EventID   string         `json:"event_id"`
	RemoteID  int64          `json:"remote_id"`
	Email     string         `json:"email"`
	Channel   string         `json:"channel"`
	ContactID string         `json:"contact_id,omitempty"`
	Fields    map[string]any `json:"fields"`
	Tags      []string       `json:"tags"`
	Timestamp time.Time      `json:"timestamp"`
}
