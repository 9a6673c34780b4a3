package registry

import "sync"

// MemoryRegistry keeps instances in process. Used by tests and single-binary
// setups where etcd is not available.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string][]PeerInstance
	watchers  map[string][]chan []PeerInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		instances: make(map[string][]PeerInstance),
		watchers:  make(map[string][]chan []PeerInstance),
	}
}

// Register adds or replaces the instance with the same ID. ttl is ignored.
func (m *MemoryRegistry) Register(channel string, inst PeerInstance, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	insts := m.instances[channel]
	for i, cur := range insts {
		if cur.ID == inst.ID {
			insts[i] = inst
			m.notify(channel)
			return nil
		}
	}
	m.instances[channel] = append(insts, inst)
	m.notify(channel)
	return nil
}

func (m *MemoryRegistry) Deregister(channel string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	insts := m.instances[channel]
	for i, inst := range insts {
		if inst.ID == id {
			m.instances[channel] = append(insts[:i], insts[i+1:]...)
			break
		}
	}
	m.notify(channel)
	return nil
}

func (m *MemoryRegistry) Discover(channel string) ([]PeerInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PeerInstance(nil), m.instances[channel]...), nil
}

// Watch emits the full instance list after every change. Slow readers only
// ever see the latest list.
func (m *MemoryRegistry) Watch(channel string) <-chan []PeerInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan []PeerInstance, 1)
	m.watchers[channel] = append(m.watchers[channel], ch)
	return ch
}

// notify must be called with mu held.
func (m *MemoryRegistry) notify(channel string) {
	snapshot := append([]PeerInstance(nil), m.instances[channel]...)
	for _, ch := range m.watchers[channel] {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
