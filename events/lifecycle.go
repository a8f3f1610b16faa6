package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SubjectPrefix is the root of every lifecycle subject.
const SubjectPrefix = "tasktracker.lifecycle."

// AllLifecycle matches every lifecycle subject.
const AllLifecycle = SubjectPrefix + ">"

// Event describes one lifecycle state transition.
type Event struct {
	State    string    `json:"state"`
	Previous string    `json:"previous,omitempty"`
	At       time.Time `json:"at"`
	Env      string    `json:"env,omitempty"`
}

// Subject returns the subject an event for state is published on.
func Subject(state string) string {
	return SubjectPrefix + strings.ToLower(state)
}

// PublishEvent encodes ev and publishes it on its state subject.
func PublishEvent(p Publisher, ev Event) error {
	if ev.State == "" {
		return fmt.Errorf("%w: event has no state", ErrInvalidSubject)
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.Publish(Subject(ev.State), data)
}

// Decode parses a lifecycle event from a bus message.
func Decode(msg *Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event on %s: %w", msg.Subject, err)
	}
	return ev, nil
}

// Fanout publishes to several publishers, joining their errors.
type Fanout []Publisher

// Publish sends data to every publisher.
func (f Fanout) Publish(subject string, data []byte) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(subject, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
