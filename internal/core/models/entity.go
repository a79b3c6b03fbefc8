package models

import "fmt"

// EntityID is a stable handle to an entity: the descriptor slot index in the
// upper 32 bits and the slot generation in the lower 32 bits. A slot's
// generation is bumped every time the entity living in it is destroyed, so a
// stale handle never aliases a newer entity.
type EntityID uint64

// InvalidEntityID never refers to an entity.
const InvalidEntityID EntityID = ^EntityID(0)

func MakeEntityID(index, generation uint32) EntityID {
	return EntityID(uint64(index)<<32 | uint64(generation))
}

func (e EntityID) Index() uint32 {
	return uint32(e >> 32)
}

func (e EntityID) Generation() uint32 {
	return uint32(e)
}

func (e EntityID) IsValid() bool {
	return e != InvalidEntityID
}

func (e EntityID) String() string {
	if !e.IsValid() {
		return "eid(invalid)"
	}
	return fmt.Sprintf("eid(%d:%d)", e.Index(), e.Generation())
}

// EntityState reports what a handle currently refers to.
type EntityState uint8

const (
	EntityDead EntityState = iota
	EntityAlive
	// EntityLoading is a handle whose creation is queued but not yet performed.
	EntityLoading
)

func (s EntityState) String() string {
	switch s {
	case EntityAlive:
		return "alive"
	case EntityLoading:
		return "loading"
	default:
		return "dead"
	}
}
