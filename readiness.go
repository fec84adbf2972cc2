package reaction

import (
	"sync"
)

// ReadyState mirrors the readiness gates of a media element: a source
// first learns its dimensions, then has a frame that can be drawn.
type ReadyState int

const (
	ReadyStateNotReady       ReadyState = iota // Nothing known yet
	ReadyStateMetadataLoaded                   // Dimensions and duration known
	ReadyStateCanPlay                          // A current frame is drawable
)

func (s ReadyState) String() string {
	switch s {
	case ReadyStateNotReady:
		return "not-ready"
	case ReadyStateMetadataLoaded:
		return "metadata-loaded"
	case ReadyStateCanPlay:
		return "can-play"
	default:
		return "unknown"
	}
}

// ReadyStateListener is invoked on every readiness transition.
type ReadyStateListener func(ReadyState)

// readyNotifier stores a ReadyState and fans transitions out to listeners.
// Listeners run synchronously on the goroutine performing the transition.
type readyNotifier struct {
	mu        sync.Mutex
	state     ReadyState
	listeners []ReadyStateListener
}

func (n *readyNotifier) get() ReadyState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *readyNotifier) set(state ReadyState) {
	n.mu.Lock()
	if n.state == state {
		n.mu.Unlock()
		return
	}
	n.state = state
	listeners := make([]ReadyStateListener, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}

func (n *readyNotifier) subscribe(l ReadyStateListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
}
