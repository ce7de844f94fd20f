// Package event carries keychain change notifications from the storage
// manager to whoever is listening. Delivery is fire-and-forget.
package event

import (
	"log/slog"
	"time"

	"github.com/benaskins/keyring/internal/keychain"
)

// Kind identifies what changed.
type Kind string

const (
	ListChanged    Kind = "list_changed"
	DefaultChanged Kind = "default_changed"
	// KeychainChanged is posted for per-keychain changes observed outside
	// the search list, such as a preference file rewritten by another process.
	KeychainChanged Kind = "keychain_changed"
)

// Event is one notification. Keychain is zero when the change is not
// about a specific keychain.
type Event struct {
	Kind     Kind        `json:"kind"`
	Keychain keychain.ID `json:"keychain,omitzero"`
	Time     time.Time   `json:"time"`
}

// New stamps an event with the current time.
func New(kind Kind, id keychain.ID) Event {
	return Event{Kind: kind, Keychain: id, Time: time.Now().UTC()}
}

// Notifier receives events. Post must not block for long and must tolerate
// being called from any goroutine.
type Notifier interface {
	Post(Event)
}

// Func adapts a function to Notifier.
type Func func(Event)

func (f Func) Post(e Event) { f(e) }

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) Post(e Event) {
	for _, n := range m {
		if n != nil {
			n.Post(e)
		}
	}
}

// Discard drops every event.
var Discard Notifier = Func(func(Event) {})

// LogNotifier writes events to a slog logger at debug level.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: slog.With("component", "events")}
}

func (n *LogNotifier) Post(e Event) {
	if e.Keychain.IsZero() {
		n.logger.Debug("keychain event", "kind", e.Kind)
		return
	}
	n.logger.Debug("keychain event", "kind", e.Kind, "keychain", e.Keychain)
}

// Recorder collects events in memory.
type Recorder struct {
	events chan Event
}

// NewRecorder returns a recorder that buffers up to size events; further
// events are dropped.
func NewRecorder(size int) *Recorder {
	return &Recorder{events: make(chan Event, size)}
}

func (r *Recorder) Post(e Event) {
	select {
	case r.events <- e:
	default:
	}
}

// Drain returns the events recorded so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-r.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Kinds returns the kinds of the drained events, in order.
func (r *Recorder) Kinds() []Kind {
	events := r.Drain()
	kinds := make([]Kind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Events exposes the underlying channel for callers that wait on delivery.
func (r *Recorder) Events() <-chan Event {
	return r.events
}
