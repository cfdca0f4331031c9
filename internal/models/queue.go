package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State is a step of the per-record processing state machine
type State string

const (
	StatePending    State = "pending"
	StateFetching   State = "fetching"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateError      State = "error"
	StateRetry      State = "retry"
)

// MaxErrorLength caps last_error so diagnostics never bloat the queue table
const MaxErrorLength = 1000

// QueueRecord tracks one remote order through ingestion and dispatch.
// State drives detail fetching, DispatchState drives the contact sync and
// only matters once State is done.
type QueueRecord struct {
	RemoteID      int64           `db:"remote_id"`
	State         State           `db:"state"`
	DispatchState State           `db:"dispatch_state"`
	LastError     *string         `db:"last_error"`
	LastSeenAt    time.Time       `db:"last_seen_at"`
	PayloadFields json.RawMessage `db:"payload_fields"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

var fetchTransitions = map[State][]State{
	StatePending:  {StateFetching},
	StateFetching: {StateDone, StateError},
	StateError:    {StatePending},
	StateDone:     {StatePending},
}

var dispatchTransitions = map[State][]State{
	StatePending:    {StateProcessing},
	StateProcessing: {StateDone, StateRetry, StateError},
	StateRetry:      {StatePending, StateProcessing},
	StateError:      {StatePending},
	StateDone:       {StatePending},
}

// CanTransition reports whether the ingestion lifecycle allows from -> to
func CanTransition(from, to State) bool {
	return allowed(fetchTransitions, from, to)
}

// CanDispatchTransition reports whether the dispatch lifecycle allows from -> to
func CanDispatchTransition(from, to State) bool {
	return allowed(dispatchTransitions, from, to)
}

func allowed(table map[State][]State, from, to State) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStates parses the dispatch states a batch may claim from, defaulting
// to pending,retry. Only states that can move to processing are accepted,
// plus error for batches that retry failed records.
func ParseStates(csv string) ([]State, error) {
	var out []State
	for part := range strings.SplitSeq(csv, ",") {
		p := State(strings.ToLower(strings.TrimSpace(part)))
		if p == "" {
			continue
		}
		switch p {
		case StatePending, StateRetry, StateError:
			out = append(out, p)
		case StateFetching, StateProcessing, StateDone:
			return nil, fmt.Errorf("dispatch cannot claim records in state %q", p)
		default:
			return nil, fmt.Errorf("unknown queue state %q", part)
		}
	}
	if len(out) == 0 {
		out = []State{StatePending, StateRetry}
	}
	return out, nil
}

// TruncateError trims a diagnostic to MaxErrorLength runes
func TruncateError(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxErrorLength {
		return msg
	}
	return string(r[:MaxErrorLength])
}

// QueueStats holds record counts per state
type QueueStats struct {
	ByState         map[State]int `json:"by_state"`
	DispatchByState map[State]int `json:"dispatch_by_state"`
}

// Progress is the operator facing {total, done, remaining} snapshot
type Progress struct {
	Total     int `json:"total"`
	Done      int `json:"done"`
	Remaining int `json:"remaining"`
}

func (s QueueStats) Total() int {
	total := 0
	for _, n := range s.ByState {
		total += n
	}
	return total
}

// Progress reports ingestion progress: done records against the whole queue
func (s QueueStats) Progress() Progress {
	total := s.Total()
	done := s.ByState[StateDone]
	return Progress{Total: total, Done: done, Remaining: total - done}
}
