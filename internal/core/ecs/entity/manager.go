package entity

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/ecscore/internal/core/ecs/archetype"
	"github.com/zeusync/ecscore/internal/core/ecs/chunk"
	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/ecs/events"
	"github.com/zeusync/ecscore/internal/core/ecs/template"
	"github.com/zeusync/ecscore/internal/core/events/bus"
	"github.com/zeusync/ecscore/internal/core/models"
	"github.com/zeusync/ecscore/internal/core/observability/log"
	"github.com/zeusync/ecscore/pkg/generic"
)

const (
	defaultEntityReserve = 1024
	scratchSize          = 512
)

// Options tunes a Manager.
type Options struct {
	// ChunkInitialBits is log2 of the first chunk's capacity in every archetype.
	ChunkInitialBits uint8
	// EntityReserve preallocates descriptor slots.
	EntityReserve int
	// Workers bounds ParallelForEach when the caller passes zero.
	Workers int
}

func DefaultOptions() Options {
	return Options{
		ChunkInitialBits: chunk.DefaultInitialBits,
		EntityReserve:    defaultEntityReserve,
	}
}

type descriptor struct {
	archetype  archetype.ID
	template   template.ID
	chunk      int32
	row        uint32
	generation uint32
	// loading marks a slot handed out by CreateAsync whose creation is queued.
	loading bool
}

func (d *descriptor) alive() bool {
	return d.archetype != archetype.Invalid
}

// ComponentValue is one component's bytes, addressed by type hash.
type ComponentValue struct {
	Hash component.TypeHash
	Data []byte
}

// Value addresses a component by name.
func Value(name string, data []byte) ComponentValue {
	return ComponentValue{Hash: component.HashName(name), Data: data}
}

// Initializer overrides template defaults for one new entity.
type Initializer []ComponentValue

// Manager owns entity descriptors and everything that stores entity data.
//
// Structural changes (creating or destroying entities synchronously, adding
// templates, defragmenting) come from a single writer and are refused while
// constrained mode is entered or a query is running. CreateAsync, DestroyAsync,
// GetRW, Set and the queued Send/Broadcast may be used from parallel query
// workers.
type Manager struct {
	id   uuid.UUID
	log  log.Log
	opts Options

	registry   *component.Registry
	archetypes *archetype.Table
	templates  *template.Table
	templateDB *template.DB
	events     *events.DB
	bus        bus.EventBus

	descs []descriptor
	free  []uint32
	alive int
	// reserved counts slots handed out in constrained mode beyond len(descs)
	reserved atomic.Uint32

	delayedMu sync.Mutex
	delayed   []creationRecord

	constrained atomic.Int32
	nestedQuery atomic.Int32

	queries []*Query

	tracked   map[component.TypeHash]struct{}
	changes   *archetype.ChangeQueue
	listeners []ChangeListener

	eventMu    sync.Mutex
	eventQueue []bus.Delivery
	systems    []*EventSystem

	replication []ReplicationHook

	scratch *generic.Pool[*[]byte]
}

func New(
	logger log.Log,
	registry *component.Registry,
	eventsDB *events.DB,
	eventBus bus.EventBus,
	templateDB *template.DB,
	opts Options,
) *Manager {
	if opts.ChunkInitialBits == 0 {
		opts.ChunkInitialBits = chunk.DefaultInitialBits
	}
	if opts.EntityReserve <= 0 {
		opts.EntityReserve = defaultEntityReserve
	}
	id := uuid.New()
	logger = logger.Named("entity").With(log.String("manager", id.String()))
	return &Manager{
		id:         id,
		log:        logger,
		opts:       opts,
		registry:   registry,
		archetypes: archetype.NewTable(logger, registry, opts.ChunkInitialBits),
		templates:  template.NewTable(logger),
		templateDB: templateDB,
		events:     eventsDB,
		bus:        eventBus,
		descs:      make([]descriptor, 0, opts.EntityReserve),
		tracked:    make(map[component.TypeHash]struct{}),
		changes:    archetype.NewChangeQueue(),
		scratch:    generic.NewBytePool(scratchSize),
	}
}

func (m *Manager) ID() uuid.UUID {
	return m.id
}

func (m *Manager) Registry() *component.Registry {
	return m.registry
}

func (m *Manager) Events() *events.DB {
	return m.events
}

func (m *Manager) Templates() *template.DB {
	return m.templateDB
}

func (m *Manager) Bus() bus.EventBus {
	return m.bus
}

// structuralCheck refuses structural changes while readers may be running.
func (m *Manager) structuralCheck() error {
	if m.IsConstrained() {
		return ErrConstrainedMode
	}
	if m.nestedQuery.Load() > 0 {
		return ErrQueryInProgress
	}
	return nil
}

// lookup returns the descriptor of a live entity.
func (m *Manager) lookup(eid models.EntityID) (*descriptor, bool) {
	idx := eid.Index()
	if !eid.IsValid() || int(idx) >= len(m.descs) {
		return nil, false
	}
	d := &m.descs[idx]
	if d.generation != eid.Generation() || !d.alive() {
		return nil, false
	}
	return d, true
}

// State reports whether eid is alive, queued for creation or dead.
func (m *Manager) State(eid models.EntityID) models.EntityState {
	if !eid.IsValid() {
		return models.EntityDead
	}
	idx := eid.Index()
	if int(idx) >= len(m.descs) {
		if eid.Generation() == 0 && int(idx) < len(m.descs)+int(m.reserved.Load()) {
			return models.EntityLoading
		}
		return models.EntityDead
	}
	d := &m.descs[idx]
	switch {
	case d.generation != eid.Generation():
		return models.EntityDead
	case d.alive():
		return models.EntityAlive
	case d.loading:
		return models.EntityLoading
	default:
		return models.EntityDead
	}
}

func (m *Manager) IsAlive(eid models.EntityID) bool {
	_, ok := m.lookup(eid)
	return ok
}

// TemplateName returns the template eid was created from.
func (m *Manager) TemplateName(eid models.EntityID) (string, bool) {
	d, ok := m.lookup(eid)
	if !ok {
		return "", false
	}
	tpl, ok := m.templates.Get(d.template)
	if !ok {
		return "", false
	}
	return tpl.Name, true
}

// cell locates the bytes of one component of a live entity.
func (m *Manager) cell(eid models.EntityID, hash component.TypeHash) (*descriptor, *archetype.Archetype, int, []byte, bool) {
	d, ok := m.lookup(eid)
	if !ok {
		return nil, nil, 0, nil, false
	}
	a, ok := m.archetypes.Get(d.archetype)
	if !ok {
		return nil, nil, 0, nil, false
	}
	col, ok := a.Column(hash)
	if !ok {
		return nil, nil, 0, nil, false
	}
	c, ok := a.Store.Chunk(int(d.chunk))
	if !ok {
		return nil, nil, 0, nil, false
	}
	return d, a, col, c.Cell(a.Layout, col, d.row), true
}

// Get returns the storage bytes of a component. The slice aliases chunk
// memory and is valid until the next structural change.
func (m *Manager) Get(eid models.EntityID, hash component.TypeHash) ([]byte, bool) {
	_, _, _, data, ok := m.cell(eid, hash)
	return data, ok
}

// GetRW is Get for callers that intend to write; tracked components record
// the write for the next PerformTrackChanges.
func (m *Manager) GetRW(eid models.EntityID, hash component.TypeHash) ([]byte, bool) {
	d, _, col, data, ok := m.cell(eid, hash)
	if !ok {
		return nil, false
	}
	m.markChanged(eid, d.archetype, col, hash)
	return data, true
}

// Set overwrites a component.
func (m *Manager) Set(eid models.EntityID, hash component.TypeHash, data []byte) error {
	d, a, col, dst, ok := m.cell(eid, hash)
	if !ok {
		if !m.IsAlive(eid) {
			return ErrStaleEntity
		}
		return fmt.Errorf("%w: 0x%08x", ErrComponentNotInTemplate, uint32(hash))
	}
	if len(data) != len(dst) {
		return fmt.Errorf("%w: %s wants %d bytes, got %d", component.ErrSizeMismatch, a.Types[col].Name, len(dst), len(data))
	}
	copy(dst, data)
	m.markChanged(eid, d.archetype, col, hash)
	m.notifyWritten(eid, a.Types[col], dst)
	return nil
}

func (m *Manager) Has(eid models.EntityID, hash component.TypeHash) bool {
	_, ok := m.Get(eid, hash)
	return ok
}

// Components lists the component hashes of a live entity.
func (m *Manager) Components(eid models.EntityID) []component.TypeHash {
	d, ok := m.lookup(eid)
	if !ok {
		return nil
	}
	a, _ := m.archetypes.Get(d.archetype)
	return append([]component.TypeHash(nil), a.Hashes[1:]...)
}

func readEntityID(c *chunk.Chunk, l chunk.Layout, row uint32) models.EntityID {
	return models.EntityID(binary.LittleEndian.Uint64(c.Cell(l, archetype.EntityColumn, row)))
}
