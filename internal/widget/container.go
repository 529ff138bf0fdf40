package widget

import "sync"

// BufferContainer keeps the most recent markup in memory. The web host
// serves it as the widget fragment.
type BufferContainer struct {
	mu      sync.RWMutex
	markup  string
	renders int
}

func (b *BufferContainer) Replace(markup string) error {
	if b == nil {
		return ErrNoContainer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markup = markup
	b.renders++
	return nil
}

func (b *BufferContainer) Markup() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.markup
}

// Renders counts Replace calls.
func (b *BufferContainer) Renders() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.renders
}
