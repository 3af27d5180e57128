package transcription

import (
	"time"

	"github.com/sjzar/voicelog/internal/model"
)

// Event is published whenever a segment changes status.
type Event struct {
	SegmentID string              `json:"segment_id"`
	SessionID string              `json:"session_id"`
	Status    model.SegmentStatus `json:"status"`
	Text      string              `json:"text,omitempty"`
	Source    model.TextSource    `json:"source,omitempty"`
	StartTime float64             `json:"start_time"`
	EndTime   float64             `json:"end_time"`
	Error     string              `json:"error,omitempty"`
	At        time.Time           `json:"at"`
}

// Subscribe returns a channel of status events and a function that stops
// delivery. Slow subscribers miss events rather than block the pipeline.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subsMu.Unlock()

	return ch, func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *Manager) publish(e Event) {
	e.At = m.now()
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (m *Manager) closeSubscribers() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}
