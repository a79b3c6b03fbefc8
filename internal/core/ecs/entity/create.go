package entity

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/zeusync/ecscore/internal/core/ecs/archetype"
	"github.com/zeusync/ecscore/internal/core/ecs/chunk"
	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/ecs/template"
	"github.com/zeusync/ecscore/internal/core/models"
	"github.com/zeusync/ecscore/internal/core/observability/log"
	"github.com/zeusync/ecscore/pkg/generic"
)

// creationRecord is a queued CreateAsync or DestroyAsync.
type creationRecord struct {
	eid      models.EntityID
	template template.ID
	// name is kept when the template was not instantiated at queue time
	name    string
	init    Initializer
	destroy bool
}

// CreateSync creates an entity from a template right away.
func (m *Manager) CreateSync(templateName string, init Initializer) (models.EntityID, error) {
	if err := m.structuralCheck(); err != nil {
		return models.InvalidEntityID, err
	}
	tid, err := m.resolveTemplate(templateName)
	if err != nil {
		return models.InvalidEntityID, err
	}
	idx := m.allocateSlot()
	eid := models.MakeEntityID(idx, m.descs[idx].generation)
	if err := m.instantiate(eid, tid, init); err != nil {
		// the id never escaped, so the generation stays
		m.releaseSlot(idx, false)
		return models.InvalidEntityID, err
	}
	return eid, nil
}

// CreateAsync hands out an entity id now and queues the creation for the next
// PerformDelayedCreation. It is allowed in constrained mode.
func (m *Manager) CreateAsync(templateName string, init Initializer) (models.EntityID, error) {
	tid, ok := m.templates.Find(templateName)
	if !ok {
		tid = template.Invalid
		if !m.templateDB.Has(templateName) {
			return models.InvalidEntityID, fmt.Errorf("%w: %s", template.ErrUnknownTemplate, templateName)
		}
	}

	m.delayedMu.Lock()
	defer m.delayedMu.Unlock()

	var eid models.EntityID
	if m.IsConstrained() {
		// descriptors must not move while readers run; reserve past the end
		idx := uint32(len(m.descs)) + m.reserved.Add(1) - 1
		eid = models.MakeEntityID(idx, 0)
	} else {
		idx := m.allocateSlot()
		m.descs[idx].loading = true
		eid = models.MakeEntityID(idx, m.descs[idx].generation)
	}
	m.delayed = append(m.delayed, creationRecord{
		eid:      eid,
		template: tid,
		name:     templateName,
		init:     slices.Clone(init),
	})
	return eid, nil
}

// Destroy removes an entity. A queued creation is cancelled instead.
func (m *Manager) Destroy(eid models.EntityID) error {
	if err := m.structuralCheck(); err != nil {
		return err
	}
	switch m.State(eid) {
	case models.EntityLoading:
		m.materializeReserved()
		m.releaseSlot(eid.Index(), true)
		return nil
	case models.EntityDead:
		return ErrStaleEntity
	}

	d, _ := m.lookup(eid)
	a, _ := m.archetypes.Get(d.archetype)
	c, _ := a.Store.Chunk(int(d.chunk))
	for col := 1; col < len(a.Types); col++ {
		if t := a.Types[col]; t.Destroy != nil {
			t.Destroy(c.Cell(a.Layout, col, d.row), t.UserData)
		}
	}
	m.notifyDestroyed(eid)

	row := d.row
	if movedFrom, moved := a.Store.RemoveFromChunk(int(d.chunk), row, a.Layout); moved {
		movedEID := readEntityID(c, a.Layout, row)
		md := &m.descs[movedEID.Index()]
		if md.row != movedFrom || md.chunk != d.chunk {
			m.log.Error("moved row does not match its descriptor",
				log.Stringer("entity", movedEID),
				log.Uint32("row", md.row),
				log.Uint32("moved_from", movedFrom))
		}
		md.row = row
	}
	m.releaseSlot(eid.Index(), true)
	m.alive--
	return nil
}

// DestroyAsync queues a destruction for the next PerformDelayedCreation.
func (m *Manager) DestroyAsync(eid models.EntityID) bool {
	if m.State(eid) == models.EntityDead {
		return false
	}
	m.delayedMu.Lock()
	m.delayed = append(m.delayed, creationRecord{eid: eid, template: template.Invalid, destroy: true})
	m.delayedMu.Unlock()
	return true
}

// PerformDelayedCreation runs queued creations and destructions in order and
// returns how many entities were created. Records queued while it runs are
// processed too.
func (m *Manager) PerformDelayedCreation() int {
	if m.structuralCheck() != nil {
		return 0
	}
	created := 0
	for {
		m.delayedMu.Lock()
		records := m.delayed
		m.delayed = nil
		m.materializeReserved()
		m.delayedMu.Unlock()
		if len(records) == 0 {
			return created
		}

		for _, r := range records {
			if r.destroy {
				if err := m.Destroy(r.eid); err != nil {
					m.log.Debug("queued destroy skipped", log.Stringer("entity", r.eid), log.Error(err))
				}
				continue
			}
			idx := r.eid.Index()
			d := &m.descs[idx]
			if d.generation != r.eid.Generation() || !d.loading {
				// cancelled before it was performed
				continue
			}
			tid := r.template
			var err error
			if tid == template.Invalid {
				tid, err = m.resolveTemplate(r.name)
			}
			if err == nil {
				err = m.instantiate(r.eid, tid, r.init)
			}
			if err != nil {
				m.log.Error("delayed entity creation failed",
					log.Stringer("entity", r.eid),
					log.String("template", r.name),
					log.Error(err))
				m.releaseSlot(idx, true)
				continue
			}
			created++
		}
	}
}

// allocateSlot pops a free descriptor slot or grows the table.
func (m *Manager) allocateSlot() uint32 {
	m.materializeReserved()
	if n := len(m.free); n > 0 {
		idx := m.free[n-1]
		m.free = m.free[:n-1]
		return idx
	}
	m.descs = append(m.descs, descriptor{archetype: archetype.Invalid, template: template.Invalid})
	return uint32(len(m.descs) - 1)
}

// releaseSlot returns a slot to the free list. bump invalidates every handle
// that was issued for it.
func (m *Manager) releaseSlot(idx uint32, bump bool) {
	d := &m.descs[idx]
	d.archetype = archetype.Invalid
	d.template = template.Invalid
	d.loading = false
	if bump {
		d.generation++
	}
	m.free = append(m.free, idx)
}

// materializeReserved turns slots reserved in constrained mode into real
// descriptors.
func (m *Manager) materializeReserved() {
	n := m.reserved.Swap(0)
	for i := uint32(0); i < n; i++ {
		m.descs = append(m.descs, descriptor{
			archetype: archetype.Invalid,
			template:  template.Invalid,
			loading:   true,
		})
	}
}

// instantiate reserves a row, builds it from the template defaults and the
// initializer, runs constructors and commits. Any failure rolls the
// reservation back.
func (m *Manager) instantiate(eid models.EntityID, tid template.ID, init Initializer) error {
	tpl, ok := m.templates.Get(tid)
	if !ok {
		return fmt.Errorf("%w: id %d", template.ErrUnknownTemplate, tid)
	}
	a, _ := m.archetypes.Get(tpl.Archetype)

	res, err := a.Store.AllocateEmpty(a.Stride())
	if err != nil {
		return err
	}

	buf := m.scratch.Get()
	defer m.scratch.Put(buf)
	blob := generic.Grow(buf, int(a.Stride()))
	copy(blob, tpl.Defaults)
	binary.LittleEndian.PutUint64(a.Layout.Field(blob, archetype.EntityColumn), uint64(eid))

	if err := m.applyInitializer(a, tpl, blob, init); err != nil {
		m.rollback(a, res)
		return err
	}
	for col := 1; col < len(a.Types); col++ {
		t := a.Types[col]
		if t.Create == nil {
			continue
		}
		if err := t.Create(a.Layout.Field(blob, col), t.UserData); err != nil {
			destroyColumns(a, blob, col)
			m.rollback(a, res)
			return fmt.Errorf("construct %s for %s: %w", t.Name, tpl.Name, err)
		}
	}

	if err := a.Store.AddToChunk(res.Chunk, res.Row, a.Layout, blob); err != nil {
		destroyColumns(a, blob, len(a.Types))
		m.rollback(a, res)
		return err
	}
	a.Store.Allocated(res)

	d := &m.descs[eid.Index()]
	d.archetype = tpl.Archetype
	d.template = tid
	d.chunk = int32(res.Chunk)
	d.row = res.Row
	d.generation = eid.Generation()
	d.loading = false
	m.alive++
	m.notifyCreated(eid, a)
	return nil
}

func (m *Manager) applyInitializer(a *archetype.Archetype, tpl *template.Template, blob []byte, init Initializer) error {
	for _, v := range init {
		col, ok := a.Column(v.Hash)
		if !ok {
			return fmt.Errorf("%w: 0x%08x in %s", ErrComponentNotInTemplate, uint32(v.Hash), tpl.Name)
		}
		field := a.Layout.Field(blob, col)
		if len(v.Data) != len(field) {
			return fmt.Errorf("%w: %s wants %d bytes, got %d", component.ErrSizeMismatch, a.Types[col].Name, len(field), len(v.Data))
		}
		copy(field, v.Data)
	}
	return nil
}

func (m *Manager) rollback(a *archetype.Archetype, res chunk.Reservation) {
	if err := a.Store.Rollback(res); err != nil {
		m.log.Error("failed to roll back row reservation", log.Error(err))
	}
}

// destroyColumns runs destructors of every constructed column before upTo.
func destroyColumns(a *archetype.Archetype, blob []byte, upTo int) {
	for col := 1; col < upTo; col++ {
		t := a.Types[col]
		if t.Create != nil && t.Destroy != nil {
			t.Destroy(a.Layout.Field(blob, col), t.UserData)
		}
	}
}
