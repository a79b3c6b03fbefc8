package archetype

import (
	"sync"

	"github.com/zeusync/ecscore/internal/core/models"
)

// ArchetypeBits is the width of the archetype field in a packed TrackedChange.
const ArchetypeBits = 16

const archetypeMask = 1<<ArchetypeBits - 1

// TrackedChange names one column of one archetype whose data was written
// through a tracked accessor.
type TrackedChange struct {
	Archetype ID
	Column    uint16
}

// Pack encodes the change as archetype | column<<ArchetypeBits.
func (c TrackedChange) Pack() uint32 {
	return uint32(c.Archetype)&archetypeMask | uint32(c.Column)<<ArchetypeBits
}

func Unpack(v uint32) TrackedChange {
	return TrackedChange{
		Archetype: ID(v & archetypeMask),
		Column:    uint16(v >> ArchetypeBits),
	}
}

type mark struct {
	packed uint32
	entity models.EntityID
}

// ChangedColumn groups the entities written in one tracked column since the
// last drain, in first-write order without duplicates.
type ChangedColumn struct {
	Change   TrackedChange
	Entities []models.EntityID
}

// ChangeQueue collects tracked writes. Push is safe from parallel query workers.
type ChangeQueue struct {
	mu    sync.Mutex
	marks []mark
}

func NewChangeQueue() *ChangeQueue {
	return &ChangeQueue{marks: make([]mark, 0, 64)}
}

func (q *ChangeQueue) Push(c TrackedChange, eid models.EntityID) {
	q.mu.Lock()
	q.marks = append(q.marks, mark{packed: c.Pack(), entity: eid})
	q.mu.Unlock()
}

func (q *ChangeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.marks)
}

// Remap rewrites the archetype field of every queued entry. Entries whose
// archetype was dropped are discarded; their count is returned.
func (q *ChangeQueue) Remap(remap []ID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.marks[:0]
	dropped := 0
	for _, m := range q.marks {
		c := Unpack(m.packed)
		if int(c.Archetype) >= len(remap) || remap[c.Archetype] == Invalid {
			dropped++
			continue
		}
		c.Archetype = remap[c.Archetype]
		kept = append(kept, mark{packed: c.Pack(), entity: m.entity})
	}
	q.marks = kept
	return dropped
}

// Drain empties the queue and groups it by column.
func (q *ChangeQueue) Drain() []ChangedColumn {
	q.mu.Lock()
	marks := q.marks
	q.marks = make([]mark, 0, cap(marks))
	q.mu.Unlock()

	if len(marks) == 0 {
		return nil
	}
	byPacked := make(map[uint32]int)
	seen := make(map[mark]struct{}, len(marks))
	var out []ChangedColumn
	for _, m := range marks {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		i, ok := byPacked[m.packed]
		if !ok {
			i = len(out)
			byPacked[m.packed] = i
			out = append(out, ChangedColumn{Change: Unpack(m.packed)})
		}
		out[i].Entities = append(out[i].Entities, m.entity)
	}
	return out
}
