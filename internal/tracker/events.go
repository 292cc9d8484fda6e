package tracker

// EventType names a tracker event.
type EventType string

const (
	EventStarted         EventType = "started"
	EventStopped         EventType = "stopped"
	EventCategoryChanged EventType = "category_changed"
	EventTick            EventType = "tick"
	EventSaved           EventType = "saved"
	EventDiscarded       EventType = "discarded"
)

// Event is published to subscribers. Category is empty while paused.
type Event struct {
	Type      EventType `json:"type"`
	Category  string    `json:"category,omitempty"`
	Paused    bool      `json:"paused,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Total     int       `json:"total,omitempty"`
	Accrued   bool      `json:"accrued,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
}

// Subscribe returns a channel of events and a function that unsubscribes and
// closes it. Events are dropped for a subscriber whose buffer is full.
func (t *Tracker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	t.subMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.subMu.Unlock()

	var once bool
	return ch, func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if once {
			return
		}
		once = true
		delete(t.subs, id)
		close(ch)
	}
}

func (t *Tracker) publish(ev Event) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
