package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"weatherview/internal/view"
)

const DefaultTopicPrefix = "weatherview"

// BackgroundEvent is the retained payload announcing a view's background.
type BackgroundEvent struct {
	ViewID     string    `json:"view_id"`
	Condition  string    `json:"condition"`
	Background string    `json:"background"`
	At         time.Time `json:"at"`
}

type outgoing struct {
	topic   string
	payload []byte
}

// BackgroundAnnouncer publishes {prefix}/view/{id}/background whenever a
// view's background changes. It implements view.Listener and never blocks the
// caller: messages are queued and published by Run.
type BackgroundAnnouncer struct {
	pub    Publisher
	prefix string
	queue  chan outgoing

	mu   sync.Mutex
	last map[string]string
}

func NewBackgroundAnnouncer(pub Publisher, prefix string) *BackgroundAnnouncer {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &BackgroundAnnouncer{
		pub:    pub,
		prefix: prefix,
		queue:  make(chan outgoing, 64),
		last:   make(map[string]string),
	}
}

func (a *BackgroundAnnouncer) Topic(viewID string) string {
	return a.prefix + "/view/" + viewID + "/background"
}

func (a *BackgroundAnnouncer) ViewUpdated(ev view.Event) {
	if ev.Condition == "" {
		return
	}
	id := ev.State.ID
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last[id] == ev.State.Background {
		return
	}

	b, err := json.Marshal(BackgroundEvent{
		ViewID:     id,
		Condition:  ev.Condition,
		Background: ev.State.Background,
		At:         ev.State.UpdatedAt.UTC(),
	})
	if err != nil {
		return
	}
	// A dropped message is not recorded, so the next event retries it.
	if a.enqueue(outgoing{topic: a.Topic(id), payload: b}) {
		a.last[id] = ev.State.Background
	}
}

// Forget clears the retained message of a removed view.
func (a *BackgroundAnnouncer) Forget(viewID string) {
	a.mu.Lock()
	_, known := a.last[viewID]
	delete(a.last, viewID)
	a.mu.Unlock()
	if known {
		a.enqueue(outgoing{topic: a.Topic(viewID), payload: []byte{}})
	}
}

func (a *BackgroundAnnouncer) enqueue(msg outgoing) bool {
	select {
	case a.queue <- msg:
		return true
	default:
		slog.Warn("mqtt background queue full, dropping", "topic", msg.topic)
		return false
	}
}

// Run publishes queued messages until ctx is done.
func (a *BackgroundAnnouncer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.queue:
			if err := a.pub.PublishWith(msg.topic, msg.payload, true); err != nil {
				slog.Error("mqtt publish failed", "topic", msg.topic, "error", err)
				continue
			}
			slog.Debug("mqtt published", "topic", msg.topic, "bytes", len(msg.payload))
		}
	}
}
