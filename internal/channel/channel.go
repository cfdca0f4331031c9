// Package channel delivers enriched contacts to downstream systems. The
// primary channel decides the record's dispatch state; mirror channels are
// fan-out copies whose failures are only logged.
package channel

import (
	"context"
	"fmt"
	"sort"

	"github.com/Guizzs26/shop-sync/internal/contact"
)

// Status is the outcome class of one delivery
type Status string

const (
	StatusOK    Status = "ok"
	StatusRetry Status = "retry"
	StatusFatal Status = "fatal"
)

// Request is one record ready for delivery. Fields are already remapped.
type Request struct {
	RemoteID int64
	Payload  contact.Payload
	Fields   map[string]any

	// ContactID is the primary channel's id, set before mirrors run
	ContactID string
}

// Email returns the remapped email, the natural key downstream
func (r Request) Email() string {
	if s, ok := r.Fields["email"].(string); ok {
		return s
	}
	return ""
}

type Result struct {
	Status    Status
	ContactID string
	Err       error
}

func OK(contactID string) Result { return Result{Status: StatusOK, ContactID: contactID} }

func Retry(err error) Result { return Result{Status: StatusRetry, Err: err} }

func Fatal(err error) Result { return Result{Status: StatusFatal, Err: err} }

// Channel is a named delivery target
type Channel interface {
	Name() string
	Send(ctx context.Context, req Request) Result
}

// Registry holds the channels known by name
type Registry struct {
	channels map[string]Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: map[string]Channel{}}
}

// Register adds ch under its name; names must be unique
func (r *Registry) Register(ch Channel) error {
	name := ch.Name()
	if name == "" {
		return fmt.Errorf("channel without name")
	}
	if _, dup := r.channels[name]; dup {
		return fmt.Errorf("channel %q already registered", name)
	}
	r.channels[name] = ch
	return nil
}

func (r *Registry) Get(name string) (Channel, bool) {
	ch, ok := r.channels[name]
	return ch, ok
}

// Resolve returns the primary channel followed by the given mirrors
func (r *Registry) Resolve(primary string, mirrors []string) (Channel, []Channel, error) {
	p, ok := r.channels[primary]
	if !ok {
		return nil, nil, fmt.Errorf("unknown dispatch channel %q", primary)
	}
	var out []Channel
	for _, name := range mirrors {
		if name == "" || name == primary {
			continue
		}
		ch, ok := r.channels[name]
		if !ok {
			return nil, nil, fmt.Errorf("unknown mirror channel %q", name)
		}
		out = append(out, ch)
	}
	return p, out, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.channels))
	for n := range r.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
