package sync

import "sync"

// Manager hands out one accumulator per remote list operation. Mutations
// invalidate through here; invalidation is advisory (a reset), the next
// read rebuilds the set.
type Manager struct {
	source   PageSource
	pageSize int
	maxPages int

	mu   sync.Mutex
	accs map[string]*Accumulator
}

func NewManager(source PageSource, pageSize, maxPages int) *Manager {
	return &Manager{
		source:   source,
		pageSize: pageSize,
		maxPages: maxPages,
		accs:     make(map[string]*Accumulator),
	}
}

// Get returns the accumulator for an operation, creating it on first use.
func (m *Manager) Get(operation string) *Accumulator {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accs[operation]
	if !ok {
		acc = NewAccumulator(m.source, operation, m.pageSize, m.maxPages)
		m.accs[operation] = acc
	}
	return acc
}

// InvalidateAll resets every accumulator. Called after a successful
// mutation; the server is the source of truth, so local sets are rebuilt
// rather than patched.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accs {
		acc.Reset()
	}
}
