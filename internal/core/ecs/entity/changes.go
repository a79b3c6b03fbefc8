package entity

import (
	"fmt"
	"slices"

	"github.com/zeusync/ecscore/internal/core/ecs/archetype"
	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/models"
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

// ComponentChange lists the entities whose component of one type was written
// through GetRW or Set since the last PerformTrackChanges.
type ComponentChange struct {
	Archetype archetype.ID
	Type      component.TypeHash
	Entities  []models.EntityID
}

type ChangeListener func(ComponentChange)

// Track enables change tracking for a registered component type.
func (m *Manager) Track(hash component.TypeHash) error {
	if _, ok := m.registry.Find(hash); !ok {
		return fmt.Errorf("%w: 0x%08x", ErrUnknownComponent, uint32(hash))
	}
	m.tracked[hash] = struct{}{}
	return nil
}

func (m *Manager) IsTracked(hash component.TypeHash) bool {
	_, ok := m.tracked[hash]
	return ok
}

// OnComponentChanged adds a listener for PerformTrackChanges.
func (m *Manager) OnComponentChanged(fn ChangeListener) {
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) markChanged(eid models.EntityID, arch archetype.ID, col int, hash component.TypeHash) {
	if _, ok := m.tracked[hash]; !ok {
		return
	}
	m.changes.Push(archetype.TrackedChange{Archetype: arch, Column: uint16(col)}, eid)
}

// PerformTrackChanges hands the queued writes to the listeners and returns how
// many column groups were reported. Entities that died or moved to another
// archetype since the write are dropped. Without flushAll nothing is delivered
// while a query runs; the marks stay queued.
func (m *Manager) PerformTrackChanges(flushAll bool) int {
	if !flushAll && m.nestedQuery.Load() > 0 {
		return 0
	}
	cols := m.changes.Drain()
	reported := 0
	for _, c := range cols {
		a, ok := m.archetypes.Get(c.Change.Archetype)
		if !ok || int(c.Change.Column) >= len(a.Hashes) {
			m.log.Warn("tracked change refers to a missing column",
				log.Int("archetype", int(c.Change.Archetype)),
				log.Uint16("column", c.Change.Column))
			continue
		}
		entities := slices.DeleteFunc(c.Entities, func(eid models.EntityID) bool {
			d, ok := m.lookup(eid)
			return !ok || d.archetype != c.Change.Archetype
		})
		if len(entities) == 0 {
			continue
		}
		change := ComponentChange{
			Archetype: c.Change.Archetype,
			Type:      a.Hashes[c.Change.Column],
			Entities:  entities,
		}
		for _, fn := range m.listeners {
			fn(change)
		}
		reported++
	}
	return reported
}
