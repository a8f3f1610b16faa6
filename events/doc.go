// Package events carries lifecycle state transitions between tasktracker
// components.
//
// # Overview
//
// The controller publishes an Event on every state change. Subscribers
// (the websocket feed, external monitors) receive them through a Bus.
//
//	Controller ──Publish──▶ Bus ──▶ Subscription ──▶ websocket feed
//	                          └───▶ NATS subject tasktracker.lifecycle.<state>
//
// # Available Implementations
//
//   - MemoryBus: in-process delivery, used by default and in tests
//   - NATSBus: forwards events to a NATS server for external consumers
//
// # Subjects
//
// Events are published on "tasktracker.lifecycle.<state>" with the state
// lower-cased. Subscriptions accept NATS wildcards on both implementations:
//
//	sub, _ := bus.Subscribe(events.AllLifecycle) // tasktracker.lifecycle.>
//	for msg := range sub.Messages() {
//	    ev, err := events.Decode(msg)
//	    ...
//	}
//
// Delivery is best effort: a subscriber whose buffer is full misses events
// rather than blocking the controller.
package events
