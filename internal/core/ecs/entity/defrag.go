package entity

import (
	"github.com/zeusync/ecscore/internal/core/ecs/archetype"
	"github.com/zeusync/ecscore/internal/core/ecs/template"
	"github.com/zeusync/ecscore/internal/core/models"
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

// DefragTemplates drops every template that no live entity and no queued
// creation uses, compacts the template table and rewrites every reference.
// It returns how many templates were dropped.
func (m *Manager) DefragTemplates() (int, error) {
	if err := m.structuralCheck(); err != nil {
		return 0, err
	}
	return m.defragTemplates(), nil
}

func (m *Manager) defragTemplates() int {
	if m.templates.Len() == 0 {
		return 0
	}
	m.delayedMu.Lock()
	defer m.delayedMu.Unlock()

	used := make([]bool, m.templates.Len())
	for i := range m.descs {
		if d := &m.descs[i]; d.alive() {
			used[d.template] = true
		}
	}
	for _, r := range m.delayed {
		if !r.destroy && r.template != template.Invalid {
			used[r.template] = true
		}
	}

	remap, unused := m.templates.Remap(used)
	if unused == 0 {
		return 0
	}
	m.templateDB.Remap(remap)

	for i := range m.delayed {
		r := &m.delayed[i]
		if r.destroy || r.template == template.Invalid {
			continue
		}
		r.template = remapTemplate(remap, r.template)
	}
	for i := range m.descs {
		if d := &m.descs[i]; d.alive() {
			d.template = remapTemplate(remap, d.template)
		}
	}
	m.log.Info("templates defragmented",
		log.Int("dropped", unused),
		log.Int("remaining", m.templates.Len()))
	return unused
}

func remapTemplate(remap []template.ID, id template.ID) template.ID {
	to := remap[id]
	if to == template.Invalid {
		panic(models.Invariant("entity.DefragTemplates", "template %d is in use but was dropped", id))
	}
	return to
}

// DefragArchetypes defragments templates, then drops every archetype no
// template refers to. Tracked changes are flushed first, persistent queries
// are rebuilt and empty chunks are released. It returns how many archetypes
// were dropped; a second call without intervening changes returns 0.
func (m *Manager) DefragArchetypes() (int, error) {
	if err := m.structuralCheck(); err != nil {
		return 0, err
	}
	if m.archetypes.Len() == 0 || m.defragTemplates() == 0 {
		return 0, nil
	}
	m.PerformTrackChanges(true)

	used := make([]bool, m.archetypes.Len())
	for _, tpl := range m.templates.All() {
		used[tpl.Archetype] = true
	}
	remap, unused := m.archetypes.Remap(used)

	if unused > 0 {
		for _, tpl := range m.templates.All() {
			tpl.Archetype = remapArchetype(remap, tpl.Archetype)
		}
		for i := range m.descs {
			if d := &m.descs[i]; d.alive() {
				d.archetype = remapArchetype(remap, d.archetype)
			}
		}
		if dropped := m.changes.Remap(remap); dropped > 0 {
			m.log.Warn("tracked changes dropped with their archetype", log.Int("changes", dropped))
		}
		m.invalidateQueries()
		m.updateAllQueries()
	}

	freed := 0
	for _, a := range m.archetypes.All() {
		freed += a.Store.RemoveEmptyChunks()
	}
	m.log.Info("archetypes defragmented",
		log.Int("dropped", unused),
		log.Int("remaining", m.archetypes.Len()),
		log.Int("chunks_freed", freed))
	return unused, nil
}

func remapArchetype(remap []archetype.ID, id archetype.ID) archetype.ID {
	to := remap[id]
	if to == archetype.Invalid {
		panic(models.Invariant("entity.DefragArchetypes", "archetype %d is in use but was dropped", id))
	}
	return to
}
