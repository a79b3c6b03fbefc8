package bus

import (
	"github.com/zeusync/ecscore/internal/core/ecs/events"
	"github.com/zeusync/ecscore/internal/core/models"
)

// EventBus fans entity events out to the systems subscribed to their type.
//
// Delivery is synchronous: Publish runs every handler on the caller's
// goroutine in subscription order and joins their errors. The entity manager
// relies on that, since handlers read component storage that is only stable
// for the duration of the call.
//
// Metrics are collected only while at least one observer is registered.
type EventBus interface {
	Publish(d Delivery) error
	Subscribe(eventType events.Type, handler Handler) (Subscription, error)
	// Unsubscribe cancels sub. A nil sub is ignored.
	Unsubscribe(sub Subscription) error
	Subscribers(eventType events.Type) int

	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
	GetMetrics() Metrics
}

// Delivery is one event on its way to entities: to Target, or to every
// matching entity when Target is models.InvalidEntityID.
type Delivery struct {
	Target models.EntityID
	Event  *events.Event
}

func Unicast(target models.EntityID, ev *events.Event) Delivery {
	return Delivery{Target: target, Event: ev}
}

func Broadcast(ev *events.Event) Delivery {
	return Delivery{Target: models.InvalidEntityID, Event: ev}
}

func (d Delivery) IsBroadcast() bool {
	return !d.Target.IsValid()
}

type Handler func(d Delivery) error

// Subscription is a handler bound to one event type.
type Subscription interface {
	ID() string
	EventType() events.Type
	IsActive() bool
	// Cancel removes the handler. Repeated calls do nothing.
	Cancel() error
}

type Observer interface {
	OnPublish(d Delivery)
	OnDelivered(d Delivery, handlers int, err error, durationMicros int64)
}

type Metrics struct {
	Published         uint64
	Unicast           uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
}
