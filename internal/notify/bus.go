// Package notify provides an owned broadcast channel for ephemeral operator
// notifications. Subscribers register against a Bus instance with an explicit
// lifecycle instead of a package-level listener list.
package notify

import "sync"

// Level tags the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one ephemeral message for the presentation layer.
type Notification struct {
	Level   Level
	Message string
}

// Listener receives published notifications. Listeners must not block.
type Listener func(Notification)

// Bus fans notifications out to registered listeners. The zero value is not
// usable; construct with New and Close at shutdown.
type Bus struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	closed    bool
}

// New constructs an empty bus.
func New() *Bus {
	return &Bus{listeners: make(map[int]Listener)}
}

// Subscribe registers a listener and returns its subscription id.
func (b *Bus) Subscribe(l Listener) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || l == nil {
		return -1
	}
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	return id
}

// Unsubscribe removes the listener registered under id. Unknown ids are a
// no-op.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, id)
}

// Publish delivers the notification to every current listener. Publishing on
// a nil or closed bus is a no-op so callers need no guard.
func (b *Bus) Publish(n Notification) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	targets := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		targets = append(targets, l)
	}
	b.mu.Unlock()

	for _, l := range targets {
		l(n)
	}
}

// Close drops all listeners and rejects further subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = map[int]Listener{}
}
