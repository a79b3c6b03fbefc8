package entity

import (
	"errors"
	"fmt"
	"slices"

	"github.com/zeusync/ecscore/internal/core/ecs/events"
	"github.com/zeusync/ecscore/internal/core/events/bus"
	"github.com/zeusync/ecscore/internal/core/models"
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

// EventHandler handles one event for one entity.
type EventHandler func(eid models.EntityID, ev *events.Event) error

// EventSystemDesc binds a handler to event types and to the entities matching
// Query. A unicast event reaches the handler only when its target matches; a
// broadcast one runs the handler for every matching entity.
type EventSystemDesc struct {
	Name    string
	Events  []events.Type
	Query   QueryDesc
	Handler EventHandler
}

type EventSystem struct {
	name  string
	query *Query
	subs  []bus.Subscription
	m     *Manager
}

func (s *EventSystem) Name() string {
	return s.name
}

func (s *EventSystem) Query() *Query {
	return s.query
}

// Close cancels the bus subscriptions and drops the system's query.
func (s *EventSystem) Close() error {
	var errs []error
	for _, sub := range s.subs {
		errs = append(errs, sub.Cancel())
	}
	s.subs = nil
	s.m.UnregisterQuery(s.query)
	s.m.systems = slices.DeleteFunc(s.m.systems, func(other *EventSystem) bool { return other == s })
	return errors.Join(errs...)
}

// RegisterEventSystem subscribes desc.Handler on the manager's bus.
func (m *Manager) RegisterEventSystem(desc EventSystemDesc) (*EventSystem, error) {
	if desc.Handler == nil {
		return nil, fmt.Errorf("event system %q has no handler", desc.Name)
	}
	s := &EventSystem{
		name:  desc.Name,
		query: m.RegisterQuery(desc.Query),
		m:     m,
	}
	handler := func(d bus.Delivery) error {
		if !d.IsBroadcast() {
			if !m.matchesQuery(d.Target, s.query) {
				return nil
			}
			return desc.Handler(d.Target, d.Event)
		}
		return m.ForEach(s.query, func(v *ChunkView) error {
			for row := 0; row < v.Len(); row++ {
				if err := desc.Handler(v.Entity(row), d.Event); err != nil {
					return err
				}
			}
			return nil
		})
	}
	for _, t := range desc.Events {
		sub, err := m.bus.Subscribe(t, handler)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("event system %q: %w", desc.Name, err)
		}
		s.subs = append(s.subs, sub)
	}
	m.systems = append(m.systems, s)
	m.log.Debug("event system registered",
		log.String("system", desc.Name),
		log.Int("events", len(desc.Events)))
	return s, nil
}

// castOf validates ev against its registration and returns its cast kind.
// Registered events get their registered flags stamped on.
func (m *Manager) castOf(ev *events.Event) (events.Flags, error) {
	if ev.Flags.Has(events.Schemeless) {
		return ev.Flags.Cast(), nil
	}
	d, ok := m.events.Find(ev.Type)
	if !ok {
		return events.CastUnknown, fmt.Errorf("%w: 0x%08x", events.ErrUnknownEvent, uint32(ev.Type))
	}
	if ev.Value == nil && ev.Size() != int(d.Size) {
		return events.CastUnknown, fmt.Errorf("%w: %s is %d bytes, got %d", events.ErrEventSize, d.Name, d.Size, ev.Size())
	}
	ev.Flags = d.Flags
	return d.Flags.Cast(), nil
}

func (m *Manager) checkUnicast(eid models.EntityID, ev *events.Event, allowLoading bool) error {
	cast, err := m.castOf(ev)
	if err != nil {
		return err
	}
	if cast&events.Unicast == 0 {
		return fmt.Errorf("%w: %s is %s", ErrCastMismatch, m.events.Name(ev.Type), cast)
	}
	switch m.State(eid) {
	case models.EntityAlive:
		return nil
	case models.EntityLoading:
		if allowLoading {
			return nil
		}
	}
	return ErrStaleEntity
}

func (m *Manager) checkBroadcast(ev *events.Event) error {
	cast, err := m.castOf(ev)
	if err != nil {
		return err
	}
	if cast&events.Broadcast == 0 {
		return fmt.Errorf("%w: %s is %s", ErrCastMismatch, m.events.Name(ev.Type), cast)
	}
	return nil
}

// SendImmediate delivers ev to eid's event systems right away.
func (m *Manager) SendImmediate(eid models.EntityID, ev *events.Event) error {
	if err := m.checkUnicast(eid, ev, false); err != nil {
		return err
	}
	return m.bus.Publish(bus.Unicast(eid, ev))
}

// BroadcastImmediate delivers ev to every entity of every subscribed system
// right away.
func (m *Manager) BroadcastImmediate(ev *events.Event) error {
	if err := m.checkBroadcast(ev); err != nil {
		return err
	}
	return m.bus.Publish(bus.Broadcast(ev))
}

// Send queues ev for eid until the next Tick. The queue takes ownership of
// an owned payload; ev is left empty. Entities whose creation is still queued
// may be targeted.
func (m *Manager) Send(eid models.EntityID, ev *events.Event) error {
	if err := m.checkUnicast(eid, ev, true); err != nil {
		return err
	}
	queued, err := m.takeEvent(ev)
	if err != nil {
		return err
	}
	m.enqueue(bus.Unicast(eid, queued))
	return nil
}

// Broadcast queues ev for every matching entity until the next Tick.
func (m *Manager) Broadcast(ev *events.Event) error {
	if err := m.checkBroadcast(ev); err != nil {
		return err
	}
	queued, err := m.takeEvent(ev)
	if err != nil {
		return err
	}
	m.enqueue(bus.Broadcast(queued))
	return nil
}

func (m *Manager) takeEvent(ev *events.Event) (*events.Event, error) {
	queued := &events.Event{}
	if !ev.Flags.Has(events.Destroy) {
		*queued = *ev
		queued.Data = slices.Clone(ev.Data)
		return queued, nil
	}
	if !ev.Flags.Has(events.Schemeless) {
		if d, _ := m.events.Find(ev.Type); d.MoveOut == nil {
			return nil, fmt.Errorf("%w: %s", ErrEventNotMovable, d.Name)
		}
	}
	m.events.MoveOut(queued, ev)
	return queued, nil
}

func (m *Manager) enqueue(d bus.Delivery) {
	m.eventMu.Lock()
	m.eventQueue = append(m.eventQueue, d)
	m.eventMu.Unlock()
}

// QueuedEvents counts events waiting for the next Tick.
func (m *Manager) QueuedEvents() int {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()
	return len(m.eventQueue)
}

// deliverQueued publishes the queued events in order. Unicast events whose
// target died meanwhile are dropped. Owned payloads are destroyed after
// delivery.
func (m *Manager) deliverQueued() error {
	m.eventMu.Lock()
	queue := m.eventQueue
	m.eventQueue = nil
	m.eventMu.Unlock()

	var errs []error
	for _, d := range queue {
		if !d.IsBroadcast() && !m.IsAlive(d.Target) {
			m.log.Debug("queued event dropped for dead entity",
				log.Stringer("entity", d.Target),
				log.String("event", m.events.Name(d.Event.Type)))
		} else if err := m.bus.Publish(d); err != nil {
			errs = append(errs, err)
		}
		if d.Event.Flags.Has(events.Destroy) {
			m.events.Destroy(d.Event)
		}
	}
	return errors.Join(errs...)
}

// Tick runs the deferred work of one frame: queued creations and destructions,
// tracked changes and queued events, in that order.
func (m *Manager) Tick() error {
	if err := m.structuralCheck(); err != nil {
		return err
	}
	m.PerformDelayedCreation()
	m.PerformTrackChanges(true)
	return m.deliverQueued()
}
