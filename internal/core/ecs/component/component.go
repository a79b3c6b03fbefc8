package component

import (
	"io"
	"strings"
)

// TypeHash is the stable 32-bit identity of a component type, usually HashName(name).
type TypeHash uint32

// TypeIndex is the dense runtime index of a registered type.
type TypeIndex uint16

const InvalidTypeIndex TypeIndex = 0xFFFF

// Flags describe how a component type's bytes may be created, moved and serialized.
type Flags uint16

const (
	// NonTrivialCreate types run a constructor on the freshly placed bytes.
	NonTrivialCreate Flags = 1 << iota
	// IsPod types are plain bytes: zero-fill or copy is a valid construction.
	IsPod
	// Boxed types keep their payload out of line and store only a handle in the column.
	Boxed
	// HasIO types carry a serializer.
	HasIO
	// NonTrivialMove types cannot be relocated by a byte copy.
	NonTrivialMove
	// NeedsResources types must wait for external resources before the entity is usable.
	NeedsResources
	// DontReplicate types are never reported to replication hooks.
	DontReplicate
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{NonTrivialCreate, "NonTrivialCreate"},
	{IsPod, "IsPod"},
	{Boxed, "Boxed"},
	{HasIO, "HasIO"},
	{NonTrivialMove, "NonTrivialMove"},
	{NeedsResources, "NeedsResources"},
	{DontReplicate, "DontReplicate"},
}

func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	parts := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

type (
	// CreateFunc constructs a component in place. data already holds the template
	// default (or initializer override) bytes.
	CreateFunc func(data []byte, userData any) error
	// DestroyFunc runs before a component's bytes are released or overwritten.
	DestroyFunc func(data []byte, userData any)
	// ReleaseFunc tears down the per-type manager. It runs at most once.
	ReleaseFunc func(userData any)
)

// IO is the optional serializer of a component type. Durable formats are the
// serializer's business; the storage core only hands it the column bytes.
type IO interface {
	Serialize(w io.Writer, data []byte) error
	Deserialize(r io.Reader, data []byte) error
}

// Declaration is what a module hands the registry to describe a component type.
type Declaration struct {
	Name string
	// Hash defaults to HashName(Name) when zero.
	Hash     TypeHash
	Size     uint16
	Flags    Flags
	IO       IO
	Create   CreateFunc
	Destroy  DestroyFunc
	Release  ReleaseFunc
	UserData any
}

// Type is a registered component type descriptor.
type Type struct {
	Declaration
	Index TypeIndex
}

func (t *Type) IsPod() bool {
	return t.Flags.Has(IsPod)
}

func (t *Type) NeedsConstruction() bool {
	return t.Flags.Has(NonTrivialCreate) && t.Create != nil
}
