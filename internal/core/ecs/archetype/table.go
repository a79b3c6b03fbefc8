package archetype

import (
	"errors"
	"fmt"

	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/models"
	"github.com/zeusync/ecscore/internal/core/observability/log"
	"github.com/zeusync/ecscore/pkg/generic"
)

var (
	ErrTableFull   = errors.New("archetype table is full")
	ErrUnknownType = errors.New("signature references an unregistered component type")
)

// Table deduplicates archetypes by signature. It is mutated only by the
// single structural writer.
type Table struct {
	archetypes  []*Archetype
	bySignature map[uint64][]ID
	reg         *component.Registry
	initialBits uint8
	log         log.Log
}

func NewTable(logger log.Log, reg *component.Registry, initialBits uint8) *Table {
	return &Table{
		bySignature: make(map[uint64][]ID),
		reg:         reg,
		initialBits: initialBits,
		log:         logger.Named("archetype"),
	}
}

// Find returns the archetype with exactly sig.
func (t *Table) Find(sig Signature) (ID, bool) {
	for _, id := range t.bySignature[sig.Key()] {
		if t.archetypes[id].Signature.Equal(sig) {
			return id, true
		}
	}
	return Invalid, false
}

// Ensure returns the archetype for sig, creating it on first use. created
// reports whether a new archetype was added.
func (t *Table) Ensure(sig Signature) (id ID, created bool, err error) {
	if id, ok := t.Find(sig); ok {
		return id, false, nil
	}
	for _, idx := range sig {
		if _, ok := t.reg.Type(idx); !ok {
			return Invalid, false, fmt.Errorf("%w: index %d", ErrUnknownType, idx)
		}
	}
	if len(t.archetypes) >= MaxArchetypes {
		t.log.Error("archetype table is full", log.Int("archetypes", len(t.archetypes)))
		return Invalid, false, ErrTableFull
	}

	id = ID(len(t.archetypes))
	a := newArchetype(t.log.With(log.String("signature", sig.Describe(t.reg))), t.reg, sig, t.initialBits)
	t.archetypes = append(t.archetypes, a)
	key := sig.Key()
	t.bySignature[key] = append(t.bySignature[key], id)
	t.log.Debug("created archetype",
		log.Int("id", int(id)),
		log.String("signature", sig.Describe(t.reg)),
		log.Uint32("stride", a.Stride()))
	return id, true, nil
}

func (t *Table) Get(id ID) (*Archetype, bool) {
	if int(id) >= len(t.archetypes) {
		return nil, false
	}
	return t.archetypes[id], true
}

func (t *Table) Len() int {
	return len(t.archetypes)
}

// All returns the live archetype list. Callers must not retain it across a
// structural change.
func (t *Table) All() []*Archetype {
	return t.archetypes
}

// Remap drops every archetype not marked used and compacts the rest into a
// dense prefix. The returned slice maps old ids to new ones, or to Invalid.
// Dropping an archetype that still holds rows or is being scanned is a
// bookkeeping bug and panics.
func (t *Table) Remap(used []bool) ([]ID, int) {
	if len(used) != len(t.archetypes) {
		panic(models.Invariant("archetype.Remap", "used bitmap has %d entries for %d archetypes", len(used), len(t.archetypes)))
	}
	remap, unused := generic.DenseRemap(used, Invalid)
	if unused == 0 {
		return remap, 0
	}
	for i, to := range remap {
		if to != Invalid {
			continue
		}
		a := t.archetypes[i]
		if a.Len() != 0 || a.Querying() != 0 {
			t.log.Error("dropping archetype that is still referenced",
				log.Int("archetype", i),
				log.Uint32("rows", a.Len()),
				log.Int("querying", int(a.Querying())))
			panic(models.Invariant("archetype.Remap", "archetype %d has %d rows", i, a.Len()))
		}
	}

	t.archetypes = generic.Compact(t.archetypes, remap, Invalid)
	clear(t.bySignature)
	for id, a := range t.archetypes {
		key := a.Signature.Key()
		t.bySignature[key] = append(t.bySignature[key], ID(id))
	}
	return remap, unused
}
