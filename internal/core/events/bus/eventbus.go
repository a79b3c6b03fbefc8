package bus

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/ecscore/internal/core/ecs/events"
)

type subscription struct {
	id        string
	eventType events.Type
	handler   Handler
	active    atomic.Bool
	cancel    func()
}

func (s *subscription) ID() string             { return s.id }
func (s *subscription) EventType() events.Type { return s.eventType }
func (s *subscription) IsActive() bool         { return s.active.Load() }

func (s *subscription) Cancel() error {
	if s.active.Swap(false) {
		s.cancel()
	}
	return nil
}

type inMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[events.Type][]*subscription
	observers []Observer
	metrics   Metrics
}

func New() EventBus {
	return &inMemoryBus{handlers: make(map[events.Type][]*subscription)}
}

func (b *inMemoryBus) Subscribe(eventType events.Type, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("nil event handler")
	}
	s := &subscription{id: uuid.NewString(), eventType: eventType, handler: handler}
	s.active.Store(true)
	s.cancel = func() { b.remove(s) }

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], s)
	b.mu.Unlock()
	return s, nil
}

func (b *inMemoryBus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rest := slices.DeleteFunc(b.handlers[s.eventType], func(o *subscription) bool { return o == s })
	if len(rest) == 0 {
		delete(b.handlers, s.eventType)
		return
	}
	b.handlers[s.eventType] = rest
}

func (b *inMemoryBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

func (b *inMemoryBus) Subscribers(eventType events.Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

func (b *inMemoryBus) AddObserver(obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.observers, obs) {
		b.observers = append(b.observers, obs)
	}
}

func (b *inMemoryBus) RemoveObserver(obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = slices.DeleteFunc(b.observers, func(o Observer) bool { return o == obs })
}

func (b *inMemoryBus) GetMetrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

func (b *inMemoryBus) Publish(d Delivery) error {
	b.mu.RLock()
	subs := slices.Clone(b.handlers[d.Event.Type])
	observers := slices.Clone(b.observers)
	b.mu.RUnlock()

	start := time.Now()
	for _, obs := range observers {
		obs.OnPublish(d)
	}

	var errs []error
	delivered := 0
	for _, s := range subs {
		// cancelled by an earlier handler of this same delivery
		if !s.IsActive() {
			continue
		}
		delivered++
		if err := s.handler(d); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)

	if len(observers) == 0 {
		return err
	}
	took := time.Since(start).Microseconds()
	for _, obs := range observers {
		obs.OnDelivered(d, delivered, err, took)
	}
	b.record(d, delivered, err)
	return err
}

func (b *inMemoryBus) record(d Delivery, delivered int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.Published++
	if !d.IsBroadcast() {
		b.metrics.Unicast++
	}
	b.metrics.DeliveredHandlers += uint64(delivered)
	if err != nil {
		b.metrics.Errors++
	}
	var active uint64
	for _, subs := range b.handlers {
		active += uint64(len(subs))
	}
	b.metrics.SubscribersActive = active
}
