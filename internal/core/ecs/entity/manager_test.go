package entity

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/ecs/events"
	"github.com/zeusync/ecscore/internal/core/ecs/template"
	"github.com/zeusync/ecscore/internal/core/events/bus"
	"github.com/zeusync/ecscore/internal/core/models"
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

var (
	positionHash = component.HashName("Position")
	velocityHash = component.HashName("Velocity")
	healthHash   = component.HashName("Health")
)

func newTestManager(t *testing.T) (*Manager, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := log.NewWithCore(core)
	m := New(
		logger,
		component.NewRegistry(logger, 0),
		events.NewDB(logger),
		bus.New(),
		template.NewDB(logger),
		DefaultOptions(),
	)
	return m, logs
}

func registerPod(t *testing.T, m *Manager, name string, size uint16) component.TypeIndex {
	t.Helper()
	idx, err := m.Registry().Register(component.Declaration{Name: name, Size: size, Flags: component.IsPod})
	require.NoError(t, err)
	return idx
}

func vec2(x, y float32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(x))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(y))
	return b
}

func u32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func TestPositionEntityLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	idx := registerPod(t, m, "Position", 8)
	assert.Equal(t, component.TypeIndex(0), idx)

	_, err := m.AddTemplate("dot", Value("Position", nil))
	require.NoError(t, err)

	first, err := m.CreateSync("dot", nil)
	require.NoError(t, err)
	assert.Equal(t, models.MakeEntityID(0, 0), first)
	data, ok := m.Get(first, positionHash)
	require.True(t, ok)
	assert.Equal(t, make([]byte, 8), data)

	require.NoError(t, m.Destroy(first))
	assert.Equal(t, models.EntityDead, m.State(first))

	second, err := m.CreateSync("dot", nil)
	require.NoError(t, err)
	assert.Equal(t, models.MakeEntityID(0, 1), second)

	_, ok = m.Get(first, positionHash)
	assert.False(t, ok)
	_, ok = m.Get(second, positionHash)
	assert.True(t, ok)
	assert.ErrorIs(t, m.Destroy(first), ErrStaleEntity)
}

func TestCreateAppliesDefaultsAndInitializer(t *testing.T) {
	m, _ := newTestManager(t)
	registerPod(t, m, "Position", 8)
	registerPod(t, m, "Health", 4)
	_, err := m.AddTemplate("unit", Value("Position", vec2(1, 2)), Value("Health", u32(100)))
	require.NoError(t, err)

	plain, err := m.CreateSync("unit", nil)
	require.NoError(t, err)
	hurt, err := m.CreateSync("unit", Initializer{Value("Health", u32(40))})
	require.NoError(t, err)

	for _, eid := range []models.EntityID{plain, hurt} {
		pos, ok := m.Get(eid, positionHash)
		require.True(t, ok)
		assert.Equal(t, vec2(1, 2), pos)
	}
	hp, _ := m.Get(plain, healthHash)
	assert.Equal(t, u32(100), hp)
	hp, _ = m.Get(hurt, healthHash)
	assert.Equal(t, u32(40), hp)

	name, ok := m.TemplateName(hurt)
	require.True(t, ok)
	assert.Equal(t, "unit", name)
	assert.ElementsMatch(t, []component.TypeHash{positionHash, healthHash}, m.Components(hurt))
}

func TestCreateRejectsBadInitializer(t *testing.T) {
	m, _ := newTestManager(t)
	registerPod(t, m, "Position", 8)
	registerPod(t, m, "Health", 4)
	_, err := m.AddTemplate("dot", Value("Position", nil))
	require.NoError(t, err)

	_, err = m.CreateSync("dot", Initializer{Value("Health", u32(1))})
	assert.ErrorIs(t, err, ErrComponentNotInTemplate)
	_, err = m.CreateSync("dot", Initializer{Value("Position", u32(1))})
	assert.ErrorIs(t, err, component.ErrSizeMismatch)
	_, err = m.CreateSync("missing", nil)
	assert.ErrorIs(t, err, template.ErrUnknownTemplate)

	assert.Equal(t, 0, m.Len())
	eid, err := m.CreateSync("dot", nil)
	require.NoError(t, err)
	assert.Equal(t, models.MakeEntityID(0, 0), eid, "failed creations must not burn generations")
}

func TestAddTemplateRejectsUnknownAndDuplicate(t *testing.T) {
	m, _ := newTestManager(t)
	registerPod(t, m, "Position", 8)

	_, err := m.AddTemplate("ghost", Value("Nope", nil))
	assert.ErrorIs(t, err, ErrUnknownComponent)

	_, err = m.AddTemplate("dot", Value("Position", nil))
	require.NoError(t, err)
	_, err = m.AddTemplate("dot", Value("Position", nil))
	assert.ErrorIs(t, err, template.ErrDuplicateTemplate)
}

func TestDestroyFixesUpMovedEntity(t *testing.T) {
	m, _ := newTestManager(t)
	registerPod(t, m, "Position", 8)
	_, err := m.AddTemplate("dot", Value("Position", nil))
	require.NoError(t, err)

	eids := make([]models.EntityID, 3)
	for i := range eids {
		eids[i], err = m.CreateSync("dot", Initializer{Value("Position", vec2(float32(i), 0))})
		require.NoError(t, err)
	}

	require.NoError(t, m.Destroy(eids[0]))

	last := &m.descs[eids[2].Index()]
	assert.Equal(t, uint32(0), last.row, "last row moves into the freed one")
	pos, ok := m.Get(eids[2], positionHash)
	require.True(t, ok)
	assert.Equal(t, vec2(2, 0), pos)
	pos, ok = m.Get(eids[1], positionHash)
	require.True(t, ok)
	assert.Equal(t, vec2(1, 0), pos)
}

func TestRoundTripLeavesArchetypeReusable(t *testing.T) {
	m, _ := newTestManager(t)
	registerPod(t, m, "Position", 8)
	registerPod(t, m, "Health", 4)
	_, err := m.AddTemplate("unit", Value("Position", nil), Value("Health", nil))
	require.NoError(t, err)

	const n = 100
	eids := make([]models.EntityID, n)
	for i := range eids {
		eids[i], err = m.CreateSync("unit", Initializer{Value("Health", u32(uint32(i)))})
		require.NoError(t, err)
	}
	a, _ := m.archetypes.Get(0)
	assert.Equal(t, uint32(n), a.Len())
	assert.Greater(t, a.Store.ChunkCount(), 1)

	rng := rand.New(rand.NewPCG(1, 2))
	order := rng.Perm(n)
	for k, i := range order {
		require.NoError(t, m.Destroy(eids[i]))
		// every survivor still reads its own value
		if k%10 == 0 {
			for _, j := range order[k+1:] {
				hp, ok := m.Get(eids[j], healthHash)
				require.True(t, ok)
				require.Equal(t, u32(uint32(j)), hp)
			}
		}
	}
	assert.Equal(t, uint32(0), a.Len())
	assert.Equal(t, 0, m.Len())

	capacity := a.Store.TotalCapacity()
	for i := 0; i < n; i++ {
		_, err := m.CreateSync("unit", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, capacity, a.Store.TotalCapacity(), "freed rows are reused before new chunks open")
}

func TestConstructorFailureRollsBack(t *testing.T) {
	m, _ := newTestManager(t)
	destroyed := 0
	fail := true
	_, err := m.Registry().Register(component.Declaration{
		Name:    "Handle",
		Size:    4,
		Create:  func(data []byte, _ any) error { binary.LittleEndian.PutUint32(data, 7); return nil },
		Destroy: func([]byte, any) { destroyed++ },
	})
	require.NoError(t, err)
	_, err = m.Registry().Register(component.Declaration{
		Name: "Fragile",
		Size: 4,
		Create: func([]byte, any) error {
			if fail {
				return errors.New("no resources")
			}
			return nil
		},
	})
	require.NoError(t, err)
	_, err = m.AddTemplate("thing", Value("Handle", nil), Value("Fragile", nil))
	require.NoError(t, err)

	_, err = m.CreateSync("thing", nil)
	require.Error(t, err)
	assert.Equal(t, 1, destroyed, "constructed columns are torn down")
	a, _ := m.archetypes.Get(0)
	assert.Equal(t, uint32(0), a.Len())

	fail = false
	eid, err := m.CreateSync("thing", nil)
	require.NoError(t, err)
	assert.Equal(t, models.MakeEntityID(0, 0), eid)
	h, _ := m.Get(eid, component.HashName("Handle"))
	assert.Equal(t, u32(7), h)

	require.NoError(t, m.Destroy(eid))
	assert.Equal(t, 2, destroyed)
}

func TestSetChecksSizeAndMembership(t *testing.T) {
	m, _ := newTestManager(t)
	registerPod(t, m, "Position", 8)
	_, err := m.AddTemplate("dot", Value("Position", nil))
	require.NoError(t, err)
	eid, err := m.CreateSync("dot", nil)
	require.NoError(t, err)

	require.NoError(t, m.Set(eid, positionHash, vec2(3, 4)))
	pos, _ := m.Get(eid, positionHash)
	assert.Equal(t, vec2(3, 4), pos)

	assert.ErrorIs(t, m.Set(eid, positionHash, u32(1)), component.ErrSizeMismatch)
	assert.ErrorIs(t, m.Set(eid, healthHash, u32(1)), ErrComponentNotInTemplate)
	assert.False(t, m.Has(eid, healthHash))

	require.NoError(t, m.Destroy(eid))
	assert.ErrorIs(t, m.Set(eid, positionHash, vec2(0, 0)), ErrStaleEntity)
}

func TestConstrainedModeDefersCreation(t *testing.T) {
	m, logs := newTestManager(t)
	registerPod(t, m, "Position", 8)
	_, err := m.AddTemplate("dot", Value("Position", nil))
	require.NoError(t, err)
	existing, err := m.CreateSync("dot", nil)
	require.NoError(t, err)

	m.EnterConstrained()
	m.EnterConstrained()
	assert.True(t, m.IsConstrained())

	_, err = m.CreateSync("dot", nil)
	assert.ErrorIs(t, err, ErrConstrainedMode)
	assert.ErrorIs(t, m.Destroy(existing), ErrConstrainedMode)
	_, err = m.DefragArchetypes()
	assert.ErrorIs(t, err, ErrConstrainedMode)
	assert.ErrorIs(t, m.Tick(), ErrConstrainedMode)

	queued, err := m.CreateAsync("dot", Initializer{Value("Position", vec2(5, 6))})
	require.NoError(t, err)
	assert.Equal(t, models.MakeEntityID(1, 0), queued)
	assert.Equal(t, models.EntityLoading, m.State(queued))
	assert.True(t, m.DestroyAsync(existing))
	assert.Equal(t, 0, m.PerformDelayedCreation())

	m.LeaveConstrained()
	m.LeaveConstrained()
	assert.False(t, m.IsConstrained())

	assert.Equal(t, 1, m.PerformDelayedCreation())
	assert.Equal(t, models.EntityAlive, m.State(queued))
	assert.Equal(t, models.EntityDead, m.State(existing))
	pos, _ := m.Get(queued, positionHash)
	assert.Equal(t, vec2(5, 6), pos)

	m.LeaveConstrained()
	assert.False(t, m.IsConstrained())
	assert.Equal(t, 1, logs.FilterMessage("constrained mode left more often than entered").Len())
}

func TestCreateAsyncCancelledByDestroy(t *testing.T) {
	m, _ := newTestManager(t)
	registerPod(t, m, "Position", 8)
	_, err := m.AddTemplate("dot", Value("Position", nil))
	require.NoError(t, err)

	eid, err := m.CreateAsync("dot", nil)
	require.NoError(t, err)
	assert.Equal(t, models.EntityLoading, m.State(eid))
	require.NoError(t, m.Destroy(eid))
	assert.Equal(t, models.EntityDead, m.State(eid))

	assert.Equal(t, 0, m.PerformDelayedCreation())
	assert.Equal(t, 0, m.Len())

	_, err = m.CreateAsync("missing", nil)
	assert.ErrorIs(t, err, template.ErrUnknownTemplate)
}

func TestCreateAsyncInstantiatesDeclaredTemplate(t *testing.T) {
	m, _ := newTestManager(t)
	registerPod(t, m, "Health", 4)
	require.NoError(t, m.DeclareTemplates([]template.Declaration{{
		Name: "grunt",
		Components: []template.ComponentDecl{
			{Name: "Health", Type: "u32"},
		},
	}}))

	eid, err := m.CreateAsync("grunt", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.templates.Len(), "declared templates are instantiated on use")

	require.NoError(t, m.Tick())
	assert.Equal(t, models.EntityAlive, m.State(eid))
	assert.Equal(t, 1, m.templates.Len())
}

func TestDestroyAllAndStats(t *testing.T) {
	m, _ := newTestManager(t)
	registerPod(t, m, "Position", 8)
	registerPod(t, m, "Health", 4)
	_, err := m.AddTemplate("dot", Value("Position", nil))
	require.NoError(t, err)
	_, err = m.AddTemplate("unit", Value("Position", nil), Value("Health", nil))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = m.CreateSync("dot", nil)
		require.NoError(t, err)
		_, err = m.CreateSync("unit", nil)
		require.NoError(t, err)
	}
	_, err = m.CreateAsync("unit", nil)
	require.NoError(t, err)

	s := m.Stats()
	assert.Equal(t, 10, s.Entities)
	assert.Equal(t, 1, s.Loading)
	assert.Equal(t, 1, s.PendingCreations)
	assert.Equal(t, 2, s.Archetypes)
	assert.Equal(t, 2, s.Templates)
	assert.Equal(t, 2, s.ComponentTypes)
	assert.Equal(t, 2, s.Chunks)
	assert.Positive(t, s.Bytes)

	destroyed, err := m.DestroyAll()
	require.NoError(t, err)
	assert.Equal(t, 10, destroyed)
	s = m.Stats()
	assert.Zero(t, s.Entities)
	assert.Zero(t, s.Loading)
	assert.Zero(t, s.PendingCreations)
}
