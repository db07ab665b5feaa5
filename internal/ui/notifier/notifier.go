// Package notifier provides a simple broadcast mechanism for SSE updates.
package notifier

import "sync"

// Notifier broadcasts session change pings to subscribed listeners. A ping
// carries the id of the session that changed; listeners watching a single
// conversation drop pings for other sessions and re-render on a match.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan string]struct{}
}

// All is the session id broadcast when every listener should refresh, such
// as after a static asset change in dev mode.
const All = "*"

// New creates a new Notifier instance.
func New() *Notifier {
	return &Notifier{
		listeners: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives session ids when updates are
// available. The caller must call Unsubscribe when done to prevent
// goroutine leaks.
func (n *Notifier) Subscribe() chan string {
	ch := make(chan string, 8)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (n *Notifier) Unsubscribe(ch chan string) {
	n.mu.Lock()
	delete(n.listeners, ch)
	n.mu.Unlock()
	close(ch)
}

// Broadcast sends a session id to all listeners.
// Non-blocking: if a listener's channel is full, the ping is skipped and
// the listener catches up on its next ping.
func (n *Notifier) Broadcast(sessionID string) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.listeners {
		select {
		case ch <- sessionID:
		default:
		}
	}
}

// BroadcastAll pings every listener regardless of which session they watch.
func (n *Notifier) BroadcastAll() {
	n.Broadcast(All)
}

// Matches reports whether a ping concerns the given session.
func Matches(ping, sessionID string) bool {
	return ping == All || ping == sessionID
}
