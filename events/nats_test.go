package events

import (
	"os"
	"testing"
	"time"
)

// getNATSURL returns the NATS URL for testing, or skips the test.
func getNATSURL(t *testing.T) string {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	// Skip if short mode or NATS not available
	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	cfg.MaxReconnects = 0

	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	bus.Close()

	return url
}

// --- Integration Tests ---

func TestNATSBus_LifecycleEvent(t *testing.T) {
	url := getNATSURL(t)

	cfg := DefaultNATSConfig()
	cfg.URL = url
	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Fatalf("NewNATSBus error: %v", err)
	}
	defer bus.Close()

	sub, err := bus.Subscribe(AllLifecycle)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Unsubscribe()

	if err := PublishEvent(bus, Event{State: "Running", Previous: "Starting"}); err != nil {
		t.Fatalf("PublishEvent error: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if msg.Subject != "tasktracker.lifecycle.running" {
			t.Errorf("subject = %q", msg.Subject)
		}
		ev, err := Decode(msg)
		if err != nil || ev.State != "Running" {
			t.Errorf("unexpected event %+v (%v)", ev, err)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for message")
	}
}

// --- Failure Tests ---

func TestNATSBus_InvalidURL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = "nats://invalid-host-that-does-not-exist:4222"
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.MaxReconnects = 0

	if _, err := NewNATSBus(cfg); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestNATSBus_PublishAfterClose(t *testing.T) {
	url := getNATSURL(t)

	cfg := DefaultNATSConfig()
	cfg.URL = url
	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Fatalf("NewNATSBus error: %v", err)
	}

	bus.Close()

	if err := bus.Publish("test", []byte("hello")); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	// Close is idempotent
	if err := bus.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
}
