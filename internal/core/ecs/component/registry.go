package component

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/zeusync/ecscore/internal/core/observability/log"
)

// DefaultCapacity is the number of types a registry accepts unless told otherwise.
const DefaultCapacity = 4096

const (
	EntityIDTypeName = "ecs::EntityId"
	TagTypeName      = "ecs::Tag"
	EntityIDSize     = 8
)

var (
	EntityIDTypeHash = HashName(EntityIDTypeName)
	TagTypeHash      = HashName(TagTypeName)
)

// Registry maps type hashes to runtime descriptors.
type Registry struct {
	mu       sync.RWMutex
	types    []*Type
	byHash   map[TypeHash]TypeIndex
	released []bool
	capacity int
	log      log.Log
}

func NewRegistry(logger log.Log, capacity int) *Registry {
	if capacity <= 0 || capacity > int(InvalidTypeIndex) {
		capacity = DefaultCapacity
	}
	return &Registry{
		types:    make([]*Type, 0, 64),
		byHash:   make(map[TypeHash]TypeIndex, 64),
		capacity: capacity,
		log:      logger.Named("component"),
	}
}

// normalize applies the flag rules every declaration goes through before it is stored.
func normalize(decl Declaration) (Declaration, error) {
	if decl.Hash == 0 {
		decl.Hash = HashName(decl.Name)
	}
	if decl.Create != nil {
		decl.Flags |= NonTrivialCreate
		decl.Flags &^= IsPod
	}
	if decl.IO != nil {
		decl.Flags |= HasIO
	}
	if decl.Flags.Has(Boxed) && !decl.Flags.Has(NonTrivialCreate) {
		return decl, fmt.Errorf("%w: %s is Boxed without NonTrivialCreate", ErrInvalidFlags, decl.Name)
	}
	if decl.Flags.Has(IsPod) && decl.Flags.Has(NonTrivialCreate) {
		return decl, fmt.Errorf("%w: %s is both IsPod and NonTrivialCreate", ErrInvalidFlags, decl.Name)
	}
	if decl.Flags.Has(NonTrivialMove) && !decl.Flags.Has(Boxed) {
		return decl, fmt.Errorf("%w: %s must be relocatable or Boxed", ErrNonRelocatable, decl.Name)
	}
	return decl, nil
}

// Register adds a type or returns the index of an identical earlier registration.
func (r *Registry) Register(decl Declaration) (TypeIndex, error) {
	decl, err := normalize(decl)
	if err != nil {
		r.log.Error("rejected component type",
			log.String("name", decl.Name),
			log.Hash("hash", uint32(decl.Hash)),
			log.Stringer("flags", decl.Flags),
			log.Error(err))
		return InvalidTypeIndex, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.byHash[decl.Hash]; ok {
		existing := r.types[idx]
		if existing.Name != decl.Name {
			r.log.Error("component type hash collision",
				log.Hash("hash", uint32(decl.Hash)),
				log.String("registered", existing.Name),
				log.String("name", decl.Name))
			return InvalidTypeIndex, fmt.Errorf("%w: %q and %q share 0x%08x", ErrHashCollision, existing.Name, decl.Name, uint32(decl.Hash))
		}
		if existing.Size != decl.Size || existing.Flags != decl.Flags {
			r.log.Error("component type re-registered with different layout",
				log.String("name", decl.Name),
				log.Uint16("size", existing.Size),
				log.Uint16("new_size", decl.Size),
				log.Stringer("flags", existing.Flags),
				log.Stringer("new_flags", decl.Flags))
			return InvalidTypeIndex, fmt.Errorf("%w: %s", ErrTypeMismatch, decl.Name)
		}
		return idx, nil
	}

	if len(r.types) >= r.capacity {
		r.log.Error("component type registry is full",
			log.String("name", decl.Name),
			log.Int("capacity", r.capacity))
		return InvalidTypeIndex, ErrRegistryFull
	}

	idx := TypeIndex(len(r.types))
	r.types = append(r.types, &Type{Declaration: decl, Index: idx})
	r.released = append(r.released, false)
	r.byHash[decl.Hash] = idx
	r.log.Debug("registered component type",
		log.String("name", decl.Name),
		log.Hash("hash", uint32(decl.Hash)),
		log.Uint16("size", decl.Size),
		log.Stringer("flags", decl.Flags),
		log.Int("index", int(idx)))
	return idx, nil
}

// Initialize flushes builder declarations into the registry. The implicit
// entity-id and tag types always come first so they keep indices 0 and 1.
func (r *Registry) Initialize(b *Builder) error {
	var all error
	builtins := []Declaration{
		{Name: EntityIDTypeName, Size: EntityIDSize, Flags: IsPod},
		{Name: TagTypeName, Size: 0, Flags: IsPod | DontReplicate},
	}
	for _, decl := range builtins {
		if _, err := r.Register(decl); err != nil {
			all = errors.Join(all, err)
		}
	}
	if b == nil {
		return all
	}
	for _, decl := range b.Declarations() {
		if _, err := r.Register(decl); err != nil {
			all = errors.Join(all, err)
		}
	}
	return all
}

// Clear releases every type manager once and empties the table.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.types {
		if t.Release == nil || r.released[i] {
			continue
		}
		r.released[i] = true
		t.Release(t.UserData)
	}
	r.types = r.types[:0]
	r.released = r.released[:0]
	clear(r.byHash)
}

// Find returns the index for a hash.
func (r *Registry) Find(hash TypeHash) (TypeIndex, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byHash[hash]
	return idx, ok
}

func (r *Registry) FindByName(name string) (TypeIndex, bool) {
	idx, ok := r.Find(HashName(name))
	if !ok {
		return InvalidTypeIndex, false
	}
	if t, _ := r.Type(idx); t.Name != name {
		return InvalidTypeIndex, false
	}
	return idx, true
}

// Type returns the descriptor at idx. The descriptor must be treated as read-only.
func (r *Registry) Type(idx TypeIndex) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(idx) >= len(r.types) {
		return nil, false
	}
	return r.types[idx], true
}

func (r *Registry) MustType(idx TypeIndex) *Type {
	t, ok := r.Type(idx)
	if !ok {
		panic(fmt.Sprintf("component: type index %d out of range", idx))
	}
	return t
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

func (r *Registry) Capacity() int {
	return r.capacity
}

// Serialize writes one component value using the type's serializer, or its raw
// bytes for POD types.
func (r *Registry) Serialize(idx TypeIndex, w io.Writer, data []byte) error {
	t, ok := r.Type(idx)
	if !ok {
		return ErrUnknownType
	}
	if len(data) != int(t.Size) {
		return fmt.Errorf("%w: %s wants %d bytes, got %d", ErrSizeMismatch, t.Name, t.Size, len(data))
	}
	switch {
	case t.IO != nil:
		return t.IO.Serialize(w, data)
	case t.IsPod():
		_, err := w.Write(data)
		return err
	default:
		return fmt.Errorf("%w: %s", ErrNotSerializable, t.Name)
	}
}

func (r *Registry) Deserialize(idx TypeIndex, rd io.Reader, data []byte) error {
	t, ok := r.Type(idx)
	if !ok {
		return ErrUnknownType
	}
	if len(data) != int(t.Size) {
		return fmt.Errorf("%w: %s wants %d bytes, got %d", ErrSizeMismatch, t.Name, t.Size, len(data))
	}
	switch {
	case t.IO != nil:
		return t.IO.Deserialize(rd, data)
	case t.IsPod():
		_, err := io.ReadFull(rd, data)
		return err
	default:
		return fmt.Errorf("%w: %s", ErrNotSerializable, t.Name)
	}
}

// Snapshot serializes a single value into a fresh buffer.
func (r *Registry) Snapshot(idx TypeIndex, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Serialize(idx, &buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
