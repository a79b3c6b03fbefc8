package archetype

import (
	"sync/atomic"

	"github.com/zeusync/ecscore/internal/core/ecs/chunk"
	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

// ID indexes the archetype table. IDs are dense and only change inside a
// defragmentation pass.
type ID uint16

const (
	Invalid       ID = 0xFFFF
	MaxArchetypes    = int(Invalid)
)

// EntityColumn is the column holding each row's entity id.
const EntityColumn = 0

// Archetype stores every entity that has exactly Signature.
type Archetype struct {
	Signature Signature
	Layout    chunk.Layout
	Store     *chunk.Store

	// Hashes and Types are indexed by column; column 0 has no registry type.
	Hashes []component.TypeHash
	Types  []*component.Type

	columns  map[component.TypeHash]int
	querying atomic.Int32
	log      log.Log
}

func newArchetype(logger log.Log, reg *component.Registry, sig Signature, initialBits uint8) *Archetype {
	sizes := make([]uint16, 1, len(sig)+1)
	sizes[EntityColumn] = component.EntityIDSize
	hashes := make([]component.TypeHash, 1, len(sig)+1)
	hashes[EntityColumn] = component.EntityIDTypeHash
	types := make([]*component.Type, 1, len(sig)+1)
	columns := make(map[component.TypeHash]int, len(sig))

	for _, idx := range sig {
		t := reg.MustType(idx)
		columns[t.Hash] = len(sizes)
		sizes = append(sizes, t.Size)
		hashes = append(hashes, t.Hash)
		types = append(types, t)
	}

	return &Archetype{
		Signature: sig,
		Layout:    chunk.NewLayout(sizes),
		Store:     chunk.NewStore(logger, initialBits),
		Hashes:    hashes,
		Types:     types,
		columns:   columns,
		log:       logger,
	}
}

// Column returns the column storing the component with the given hash.
func (a *Archetype) Column(hash component.TypeHash) (int, bool) {
	col, ok := a.columns[hash]
	return col, ok
}

func (a *Archetype) Has(hash component.TypeHash) bool {
	_, ok := a.columns[hash]
	return ok
}

func (a *Archetype) Stride() uint32 {
	return a.Layout.Stride
}

// Len reports committed rows across all chunks.
func (a *Archetype) Len() uint32 {
	return a.Store.TotalUsed()
}

// BeginQuery marks a scan over this archetype as in flight.
func (a *Archetype) BeginQuery() {
	a.querying.Add(1)
}

// EndQuery pairs BeginQuery. An unbalanced call is logged and the counter is
// put back to zero.
func (a *Archetype) EndQuery() {
	if a.querying.Add(-1) < 0 {
		a.log.Error("archetype query counter went negative")
		a.querying.Store(0)
	}
}

func (a *Archetype) Querying() int32 {
	return a.querying.Load()
}
