package notifier

import (
	"context"
	"sort"
	"sync"

	"github.com/tazhate/examtracker/internal/domain"
)

// MemoryBackend keeps notifications in process memory. Nothing is ever
// delivered; it backs dry runs and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	pending map[int]domain.ScheduledNotification
	foreign map[int]domain.PendingNotification
	enabled bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		pending: make(map[int]domain.ScheduledNotification),
		foreign: make(map[int]domain.PendingNotification),
		enabled: true,
	}
}

// SetDeliverable toggles what CanDeliver reports.
func (b *MemoryBackend) SetDeliverable(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = ok
}

// AddForeign adds a pending notification that does not belong to exam reminders.
func (b *MemoryBackend) AddForeign(p domain.PendingNotification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.foreign[p.ID] = p
}

func (b *MemoryBackend) CanDeliver(_ context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

func (b *MemoryBackend) Schedule(_ context.Context, n domain.ScheduledNotification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.foreign, n.ID)
	b.pending[n.ID] = n
	return nil
}

func (b *MemoryBackend) Cancel(_ context.Context, ids []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		delete(b.pending, id)
		delete(b.foreign, id)
	}
	return nil
}

func (b *MemoryBackend) ListPending(_ context.Context) ([]domain.PendingNotification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]domain.PendingNotification, 0, len(b.pending)+len(b.foreign))
	for _, n := range b.pending {
		tag := n.Tag
		result = append(result, domain.PendingNotification{ID: n.ID, FireAt: n.FireAt, Tag: &tag})
	}
	for _, p := range b.foreign {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Get returns a scheduled notification by id.
func (b *MemoryBackend) Get(id int) (domain.ScheduledNotification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.pending[id]
	return n, ok
}
