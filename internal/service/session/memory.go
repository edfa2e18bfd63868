package session

import (
	"container/list"
	"context"
	"sync"

	"github.com/zhouzirui/agent-relay/internal/model/chat"
)

// MemoryRegistry keeps sessions in process memory. With a positive capacity
// the least recently used entry is evicted once the bound is reached.
type MemoryRegistry struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

type memoryEntry struct {
	id      string
	session chat.Session
}

// NewMemoryRegistry creates a registry; capacity <= 0 means unbounded.
func NewMemoryRegistry(capacity int) *MemoryRegistry {
	if capacity < 0 {
		capacity = 0
	}
	return &MemoryRegistry{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Put inserts or overwrites the session stored under id.
func (r *MemoryRegistry) Put(_ context.Context, id string, session chat.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.items[id]; ok {
		el.Value.(*memoryEntry).session = session
		r.order.MoveToFront(el)
		return nil
	}

	r.items[id] = r.order.PushFront(&memoryEntry{id: id, session: session})
	if r.capacity > 0 && r.order.Len() > r.capacity {
		oldest := r.order.Back()
		r.order.Remove(oldest)
		delete(r.items, oldest.Value.(*memoryEntry).id)
	}
	return nil
}

// Get retrieves a session by identifier and marks it recently used.
func (r *MemoryRegistry) Get(_ context.Context, id string) (chat.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.items[id]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	r.order.MoveToFront(el)
	return el.Value.(*memoryEntry).session, nil
}

// Len reports the number of stored sessions.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}
