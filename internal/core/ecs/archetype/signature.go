package archetype

import (
	"encoding/binary"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/ecscore/internal/core/ecs/component"
)

// Signature is the ordered, duplicate-free set of component types shared by
// every entity of an archetype.
type Signature []component.TypeIndex

func NewSignature(types ...component.TypeIndex) Signature {
	sig := slices.Clone(types)
	slices.Sort(sig)
	return slices.Compact(sig)
}

func (s Signature) Equal(other Signature) bool {
	return slices.Equal(s, other)
}

func (s Signature) Contains(t component.TypeIndex) bool {
	_, ok := slices.BinarySearch(s, t)
	return ok
}

// Column returns the storage column of t. Column 0 always holds the entity id,
// so signature position i lives in column i+1.
func (s Signature) Column(t component.TypeIndex) (int, bool) {
	i, ok := slices.BinarySearch(s, t)
	if !ok {
		return 0, false
	}
	return i + 1, true
}

// Key hashes the signature for deduplication.
func (s Signature) Key() uint64 {
	d := xxhash.New()
	var buf [2]byte
	for _, t := range s {
		binary.LittleEndian.PutUint16(buf[:], uint16(t))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

func (s Signature) Describe(reg *component.Registry) string {
	names := make([]string, 0, len(s))
	for _, t := range s {
		if typ, ok := reg.Type(t); ok {
			names = append(names, typ.Name)
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}
