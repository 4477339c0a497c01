package authpipe

import "sync"

// Location is an in-process [Navigator]. It records every navigation.
type Location struct {
	mu      sync.Mutex
	current string
	history []string
	onMove  func(string)
}

// NewLocation returns a Location at initial.
func NewLocation(initial string) *Location {
	return &Location{current: initial}
}

// OnNavigate registers fn to run after every navigation.
func (l *Location) OnNavigate(fn func(path string)) {
	l.mu.Lock()
	l.onMove = fn
	l.mu.Unlock()
}

// CurrentPath returns the path of the last navigation, or the initial path.
func (l *Location) CurrentPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Navigate moves to path and runs the OnNavigate callback outside the lock.
func (l *Location) Navigate(path string) {
	l.mu.Lock()
	l.current = path
	l.history = append(l.history, path)
	fn := l.onMove
	l.mu.Unlock()

	if fn != nil {
		fn(path)
	}
}

// History returns the navigations in order.
func (l *Location) History() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.history...)
}
