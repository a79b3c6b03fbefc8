package entity

import (
	"github.com/zeusync/ecscore/internal/core/models"
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

// Stats is a point-in-time snapshot of the manager.
type Stats struct {
	Entities         int
	Loading          int
	Archetypes       int
	Templates        int
	Chunks           int
	Bytes            int
	ComponentTypes   int
	EventTypes       int
	PendingCreations int
	QueuedEvents     int
	TrackedChanges   int
}

func (m *Manager) Stats() Stats {
	s := Stats{
		Entities:       m.alive,
		Archetypes:     m.archetypes.Len(),
		Templates:      m.templates.Len(),
		ComponentTypes: m.registry.Count(),
		EventTypes:     m.events.Len(),
		QueuedEvents:   m.QueuedEvents(),
		TrackedChanges: m.changes.Len(),
	}
	for _, a := range m.archetypes.All() {
		s.Chunks += a.Store.ChunkCount()
		s.Bytes += a.Store.Bytes()
	}
	for i := range m.descs {
		if d := &m.descs[i]; !d.alive() && d.loading {
			s.Loading++
		}
	}
	s.Loading += int(m.reserved.Load())

	m.delayedMu.Lock()
	s.PendingCreations = len(m.delayed)
	m.delayedMu.Unlock()
	return s
}

// Len counts live entities.
func (m *Manager) Len() int {
	return m.alive
}

// DumpArchetypes logs every archetype with its occupancy.
func (m *Manager) DumpArchetypes() {
	for id, a := range m.archetypes.All() {
		m.log.Info("archetype",
			log.Int("id", id),
			log.String("signature", a.Signature.Describe(m.registry)),
			log.Uint32("entities", a.Len()),
			log.Uint32("capacity", a.Store.TotalCapacity()),
			log.Int("chunks", a.Store.ChunkCount()),
			log.Uint32("stride", a.Stride()))
	}
}

// DestroyAll destroys every live entity and cancels every queued creation.
// It returns how many live entities were destroyed.
func (m *Manager) DestroyAll() (int, error) {
	if err := m.structuralCheck(); err != nil {
		return 0, err
	}
	m.delayedMu.Lock()
	m.delayed = nil
	m.delayedMu.Unlock()
	m.materializeReserved()

	destroyed := 0
	for i := range m.descs {
		d := &m.descs[i]
		eid := models.MakeEntityID(uint32(i), d.generation)
		switch {
		case d.alive():
			if err := m.Destroy(eid); err != nil {
				return destroyed, err
			}
			destroyed++
		case d.loading:
			m.releaseSlot(uint32(i), true)
		}
	}
	return destroyed, nil
}
