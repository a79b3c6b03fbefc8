package entity

import (
	"context"
	"slices"

	"github.com/zeusync/ecscore/internal/core/ecs/archetype"
	"github.com/zeusync/ecscore/internal/core/ecs/chunk"
	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/models"
	"github.com/zeusync/ecscore/pkg/concurrent"
)

// QueryDesc selects archetypes holding every Required component and none of
// the Excluded ones.
type QueryDesc struct {
	Name     string
	Required []component.TypeHash
	Excluded []component.TypeHash
}

func (q QueryDesc) matches(a *archetype.Archetype) bool {
	for _, h := range q.Required {
		if !a.Has(h) {
			return false
		}
	}
	for _, h := range q.Excluded {
		if a.Has(h) {
			return false
		}
	}
	return true
}

// Query is a persistent query. It caches the ids of matching archetypes;
// defragmentation invalidates and rebuilds the cache.
type Query struct {
	desc       QueryDesc
	archetypes []archetype.ID
	valid      bool
}

func (q *Query) Name() string {
	return q.desc.Name
}

func (q *Query) Desc() QueryDesc {
	return q.desc
}

// Archetypes returns the cached archetype ids.
func (q *Query) Archetypes() []archetype.ID {
	return slices.Clone(q.archetypes)
}

// RegisterQuery creates a persistent query and resolves it.
func (m *Manager) RegisterQuery(desc QueryDesc) *Query {
	q := &Query{desc: desc}
	m.rebuildQuery(q)
	m.queries = append(m.queries, q)
	return q
}

func (m *Manager) UnregisterQuery(q *Query) {
	m.queries = slices.DeleteFunc(m.queries, func(other *Query) bool { return other == q })
}

func (m *Manager) rebuildQuery(q *Query) {
	q.archetypes = q.archetypes[:0]
	for id, a := range m.archetypes.All() {
		if q.desc.matches(a) {
			q.archetypes = append(q.archetypes, archetype.ID(id))
		}
	}
	q.valid = true
}

func (m *Manager) onArchetypeCreated(id archetype.ID) {
	a, _ := m.archetypes.Get(id)
	for _, q := range m.queries {
		if q.valid && q.desc.matches(a) {
			q.archetypes = append(q.archetypes, id)
		}
	}
}

func (m *Manager) invalidateQueries() {
	for _, q := range m.queries {
		q.valid = false
		q.archetypes = nil
	}
}

func (m *Manager) updateAllQueries() {
	for _, q := range m.queries {
		if !q.valid {
			m.rebuildQuery(q)
		}
	}
}

func (m *Manager) ensureQuery(q *Query) {
	if !q.valid {
		m.rebuildQuery(q)
	}
}

func (m *Manager) matchesQuery(eid models.EntityID, q *Query) bool {
	d, ok := m.lookup(eid)
	if !ok {
		return false
	}
	m.ensureQuery(q)
	return slices.Contains(q.archetypes, d.archetype)
}

// ChunkView is the live rows of one chunk seen by a query.
type ChunkView struct {
	Archetype archetype.ID
	arch      *archetype.Archetype
	chunk     *chunk.Chunk
}

func (v *ChunkView) Len() int {
	return int(v.chunk.Used())
}

func (v *ChunkView) Entity(row int) models.EntityID {
	return readEntityID(v.chunk, v.arch.Layout, uint32(row))
}

// Column returns the packed values of one component for every live row.
func (v *ChunkView) Column(hash component.TypeHash) ([]byte, bool) {
	col, ok := v.arch.Column(hash)
	if !ok {
		return nil, false
	}
	size := int(v.arch.Layout.Sizes[col])
	return v.chunk.Column(v.arch.Layout, col)[:size*v.Len()], true
}

func (v *ChunkView) Get(hash component.TypeHash, row int) ([]byte, bool) {
	col, ok := v.arch.Column(hash)
	if !ok || row < 0 || row >= v.Len() {
		return nil, false
	}
	return v.chunk.Cell(v.arch.Layout, col, uint32(row)), true
}

func (m *Manager) views(id archetype.ID, a *archetype.Archetype) []*ChunkView {
	chunks := a.Store.Chunks()
	out := make([]*ChunkView, 0, len(chunks))
	for _, c := range chunks {
		if c.Used() == 0 {
			continue
		}
		out = append(out, &ChunkView{Archetype: id, arch: a, chunk: c})
	}
	return out
}

// ForEach calls fn for every non-empty chunk matching q, stopping at the first
// error. Structural changes are refused until it returns; use CreateAsync and
// DestroyAsync from inside fn.
func (m *Manager) ForEach(q *Query, fn func(*ChunkView) error) error {
	m.ensureQuery(q)
	m.nestedQuery.Add(1)
	defer m.nestedQuery.Add(-1)

	for _, id := range q.archetypes {
		a, ok := m.archetypes.Get(id)
		if !ok || a.Len() == 0 {
			continue
		}
		if err := m.forEachIn(id, a, fn); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) forEachIn(id archetype.ID, a *archetype.Archetype, fn func(*ChunkView) error) error {
	a.BeginQuery()
	defer a.EndQuery()
	for _, v := range m.views(id, a) {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// ParallelForEach calls fn for every non-empty chunk matching q from up to
// workers goroutines. It runs in constrained mode with chunk allocation locked
// on every matched archetype. Cancelling ctx stops scheduling further chunks.
func (m *Manager) ParallelForEach(ctx context.Context, q *Query, workers int, fn func(context.Context, *ChunkView) error) error {
	m.ensureQuery(q)
	if workers <= 0 {
		workers = m.opts.Workers
	}

	m.EnterConstrained()
	defer m.LeaveConstrained()
	m.nestedQuery.Add(1)
	defer m.nestedQuery.Add(-1)

	var views []*ChunkView
	for _, id := range q.archetypes {
		a, ok := m.archetypes.Get(id)
		if !ok || a.Len() == 0 {
			continue
		}
		a.BeginQuery()
		a.Store.Lock()
		defer func() {
			a.Store.Unlock()
			a.EndQuery()
		}()
		views = append(views, m.views(id, a)...)
	}

	return concurrent.ForEach(ctx, views, workers, fn)
}

// Count returns the number of entities matching q.
func (m *Manager) Count(q *Query) int {
	m.ensureQuery(q)
	n := 0
	for _, id := range q.archetypes {
		if a, ok := m.archetypes.Get(id); ok {
			n += int(a.Len())
		}
	}
	return n
}

// Iter walks the entities matching q one at a time. The iterator must be
// closed.
func (m *Manager) Iter(q *Query) models.Iterator[models.EntityID] {
	m.ensureQuery(q)
	m.nestedQuery.Add(1)
	return &entityIter{m: m, q: q, archIdx: -1, current: models.InvalidEntityID}
}

type entityIter struct {
	m *Manager
	q *Query

	archIdx  int
	arch     *archetype.Archetype
	chunks   []*chunk.Chunk
	chunkIdx int
	row      uint32

	current models.EntityID
	closed  bool
}

var _ models.Iterator[models.EntityID] = (*entityIter)(nil)

func (it *entityIter) Next() bool {
	if it.closed {
		return false
	}
	for {
		if it.arch != nil && it.chunkIdx < len(it.chunks) {
			c := it.chunks[it.chunkIdx]
			if it.row < c.Used() {
				it.current = readEntityID(c, it.arch.Layout, it.row)
				it.row++
				return true
			}
			it.chunkIdx++
			it.row = 0
			continue
		}
		if it.arch != nil {
			it.arch.EndQuery()
			it.arch = nil
		}
		it.archIdx++
		if it.archIdx >= len(it.q.archetypes) {
			it.current = models.InvalidEntityID
			return false
		}
		a, ok := it.m.archetypes.Get(it.q.archetypes[it.archIdx])
		if !ok {
			continue
		}
		a.BeginQuery()
		it.arch = a
		it.chunks = a.Store.Chunks()
		it.chunkIdx = 0
		it.row = 0
	}
}

func (it *entityIter) Item() models.EntityID {
	return it.current
}

func (it *entityIter) Error() error {
	return nil
}

func (it *entityIter) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if it.arch != nil {
		it.arch.EndQuery()
		it.arch = nil
	}
	it.m.nestedQuery.Add(-1)
	return nil
}

func (it *entityIter) Count() int {
	return it.m.Count(it.q)
}
