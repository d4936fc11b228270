// Package notification fans change signals out to open dashboard views so
// they refetch after a mutation lands.
package notification

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// AllCategories subscribes a handler to every category.
const AllCategories = "*"

// Handler reacts to a change signal for category. Handlers must not block;
// slow consumers should buffer on their side.
type Handler func(ctx context.Context, category string)

// Bus is the change notification contract shared by every mutation path.
type Bus interface {
	Publish(ctx context.Context, category string)
	Subscribe(category string, handler Handler) (unsubscribe func())
}

// LocalBus delivers notifications to in-process subscribers.
type LocalBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
	logger *zap.Logger
}

// NewLocalBus constructs an empty bus.
func NewLocalBus(logger *zap.Logger) *LocalBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalBus{subs: make(map[string]map[uint64]Handler), logger: logger}
}

// Subscribe registers handler for category and returns a function removing it.
func (b *LocalBus) Subscribe(category string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[category] == nil {
		b.subs[category] = make(map[uint64]Handler)
	}
	b.subs[category][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[category], id)
			if len(b.subs[category]) == 0 {
				delete(b.subs, category)
			}
		})
	}
}

// Publish invokes every handler subscribed to category or to AllCategories,
// in subscription order.
func (b *LocalBus) Publish(ctx context.Context, category string) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs[category])+len(b.subs[AllCategories]))
	handlers := make(map[uint64]Handler, cap(ids))
	collect := func(set map[uint64]Handler) {
		for id, h := range set {
			ids = append(ids, id)
			handlers[id] = h
		}
	}
	collect(b.subs[category])
	if category != AllCategories {
		collect(b.subs[AllCategories])
	}
	b.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		b.deliver(ctx, category, handlers[id])
	}
}

func (b *LocalBus) deliver(ctx context.Context, category string, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification handler panicked", zap.String("category", category), zap.Any("panic", r))
		}
	}()
	h(ctx, category)
}

// Subscribers returns the number of handlers registered for category.
func (b *LocalBus) Subscribers(category string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[category])
}
