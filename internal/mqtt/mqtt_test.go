package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"weatherview/internal/models"
	"weatherview/internal/view"
)

func TestBrokerServer(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"mqtt://mosquitto:1883", "tcp://mosquitto:1883", false},
		{"tcp://10.0.0.5:1883", "tcp://10.0.0.5:1883", false},
		{"mosquitto:1883", "tcp://mosquitto:1883", false},
		{"tls://broker.example.com:8883", "ssl://broker.example.com:8883", false},
		{"wss://broker.example.com/mqtt", "wss://broker.example.com/mqtt", false},
		{"http://broker:80", "", true},
		{"mqtt://", "", true},
	}
	for _, tt := range tests {
		got, err := brokerServer(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("brokerServer(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("brokerServer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type published struct {
	topic   string
	payload []byte
	retain  bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	got  chan struct{}
}

func (f *fakePublisher) PublishWith(topic string, payload []byte, retain bool) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, published{topic, payload, retain})
	f.mu.Unlock()
	f.got <- struct{}{}
	return nil
}

func readyEvent(id, condition, background string) view.Event {
	return view.Event{
		State: models.ViewState{
			ID:         id,
			Status:     models.StatusReady,
			Background: background,
			UpdatedAt:  time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		},
		Condition: condition,
	}
}

func waitPublished(t *testing.T, f *fakePublisher) {
	t.Helper()
	select {
	case <-f.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
	}
}

func TestBackgroundAnnouncer(t *testing.T) {
	pub := &fakePublisher{got: make(chan struct{}, 8)}
	a := NewBackgroundAnnouncer(pub, "/home/weather/")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.ViewUpdated(view.Event{State: models.ViewState{ID: "v1", Loading: true}})
	a.ViewUpdated(readyEvent("v1", "Clouds", "cloudy"))
	waitPublished(t, pub)

	// Same background again is not re-announced.
	a.ViewUpdated(readyEvent("v1", "Clouds", "cloudy"))
	a.ViewUpdated(readyEvent("v1", "Fog", "foggy"))
	waitPublished(t, pub)

	a.Forget("v1")
	waitPublished(t, pub)
	a.Forget("unknown")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.msgs) != 3 {
		t.Fatalf("expected 3 publishes, got %d", len(pub.msgs))
	}
	first := pub.msgs[0]
	if first.topic != "home/weather/view/v1/background" || !first.retain {
		t.Fatalf("unexpected first publish: %+v", first)
	}
	var ev BackgroundEvent
	if err := json.Unmarshal(first.payload, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.ViewID != "v1" || ev.Condition != "Clouds" || ev.Background != "cloudy" {
		t.Fatalf("unexpected payload: %+v", ev)
	}
	if len(pub.msgs[1].payload) == 0 {
		t.Fatal("second publish should carry the new background")
	}
	if len(pub.msgs[2].payload) != 0 || !pub.msgs[2].retain {
		t.Fatalf("forget should publish an empty retained message: %+v", pub.msgs[2])
	}
}

func TestTopicDefaultPrefix(t *testing.T) {
	a := NewBackgroundAnnouncer(&fakePublisher{}, "  ")
	if got := a.Topic("abc"); got != "weatherview/view/abc/background" {
		t.Fatalf("unexpected topic %q", got)
	}
}

func TestBackgroundAnnouncerRetriesDroppedMessage(t *testing.T) {
	a := NewBackgroundAnnouncer(&fakePublisher{}, "")
	// Nothing drains an unbuffered queue, so every enqueue is dropped.
	a.queue = make(chan outgoing)

	a.ViewUpdated(readyEvent("v1", "Clear", "sunny"))
	a.mu.Lock()
	_, recorded := a.last["v1"]
	a.mu.Unlock()
	if recorded {
		t.Fatal("dropped announcement should not be recorded")
	}

	a.queue = make(chan outgoing, 1)
	a.ViewUpdated(readyEvent("v1", "Clear", "sunny"))
	if n := len(a.queue); n != 1 {
		t.Fatalf("expected the same background to be queued again, got %d messages", n)
	}
	msg := <-a.queue
	if msg.topic != "weatherview/view/v1/background" {
		t.Fatalf("unexpected topic %q", msg.topic)
	}

	a.ViewUpdated(readyEvent("v1", "Clear", "sunny"))
	if n := len(a.queue); n != 0 {
		t.Fatalf("announced background should not be queued twice, got %d", n)
	}
}
