package sgb

import "context"

// EventKind names a state transition of a backup file.
type EventKind string

const (
	EventBackupCreated EventKind = "created"
	EventBackupDeleted EventKind = "deleted"
	EventBackupRenamed EventKind = "renamed"
	EventRestored      EventKind = "restored"
)

// Event is published after a backup file changed on disk.
type Event struct {
	Kind        EventKind
	Game        *Game
	Path        string // absolute path of the backup (new path for renames)
	OldPath     string // EventBackupRenamed only
	Filename    string
	OldFilename string // EventBackupRenamed only
}

// Listener receives events synchronously, in registration order.
// A listener error is logged by the publisher and never aborts the
// operation that produced the event.
type Listener interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev Event) error

func (f ListenerFunc) HandleEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

// eventBus fans events out to listeners.
type eventBus struct {
	listeners []Listener
	logger    Logger
}

func (b *eventBus) subscribe(l Listener) {
	b.listeners = append(b.listeners, l)
}

func (b *eventBus) publish(ctx context.Context, ev Event) {
	for _, l := range b.listeners {
		if err := l.HandleEvent(ctx, ev); err != nil {
			b.logger.Warn("event listener failed", "event", string(ev.Kind), "file", ev.Filename, "error", err)
		}
	}
}
