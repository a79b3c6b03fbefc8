package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/ecscore/internal/core/models"
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

func newTestDB(t *testing.T) (*DB, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewDB(log.NewWithCore(core)), logs
}

func pod(name string, size uint16, flags Flags) Descriptor {
	return Descriptor{Type: HashName(name), Size: size, Flags: flags, Name: name}
}

type payload struct{ closed int }

func (p *payload) Close() error {
	p.closed++
	return nil
}

func destroyHook(ev *Event) { ev.Value.(*payload).closed++ }

func moveHook(dst, src *Event) {
	*dst = *src
	src.Value = nil
}

func TestRegisterSizeBounds(t *testing.T) {
	db, logs := newTestDB(t)
	assert.Equal(t, Rejected, db.Register(pod("tiny", HeaderSize-1, Unicast)))
	assert.Equal(t, Rejected, db.Register(pod("huge", MaxEventSize, Unicast)))
	assert.Equal(t, Registered, db.Register(pod("min", HeaderSize, Unicast)))
	assert.Equal(t, Registered, db.Register(pod("max", MaxEventSize-1, Broadcast)))
	assert.Equal(t, 2, logs.FilterMessage("event size out of range").Len())
	assert.Equal(t, 2, db.Len())
}

func TestRegisterDestroyHooks(t *testing.T) {
	db, logs := newTestDB(t)

	assert.Equal(t, Rejected, db.Register(pod("nohooks", 16, Unicast|Destroy)))

	d := pod("destroyonly", 16, Unicast|Destroy)
	d.Destroy = destroyHook
	assert.Equal(t, Registered, db.Register(d), "destroy alone is reduced capability, not an error")
	assert.Equal(t, 2, logs.FilterMessage("event requires destroy but does not provide destroy and move-out hooks").Len())

	d = pod("trivial", 16, Unicast)
	d.MoveOut = moveHook
	assert.Equal(t, Registered, db.Register(d))
	warned := logs.FilterMessage("event provides destroy or move-out hooks but is trivially destructible")
	require.Equal(t, 1, warned.Len())
	assert.Equal(t, zapcore.WarnLevel, warned.All()[0].Level)
}

func TestRegisterCastKindIsLoggedNotRejected(t *testing.T) {
	db, logs := newTestDB(t)
	assert.Equal(t, Registered, db.Register(pod("both", 8, CastBoth)))
	assert.Equal(t, Registered, db.Register(pod("none", 8, CastUnknown)))
	assert.Equal(t, 2, logs.FilterMessage("event registered with a cast kind other than Unicast or Broadcast").Len())
}

func TestReRegistration(t *testing.T) {
	db, logs := newTestDB(t)
	d := pod("Hit", 12, Unicast)
	require.Equal(t, Registered, db.Register(d))

	assert.Equal(t, Updated, db.Register(d))
	dup := logs.FilterMessage("event registered twice")
	require.Equal(t, 1, dup.Len())
	assert.Equal(t, zapcore.ErrorLevel, dup.All()[0].Level)

	schemeless := pod("Loose", 12, Unicast|Schemeless)
	require.Equal(t, Registered, db.Register(schemeless))
	db.Register(schemeless)
	dup = logs.FilterMessage("event registered twice")
	require.Equal(t, 2, dup.Len())
	assert.Equal(t, zapcore.WarnLevel, dup.All()[1].Level)

	// last registration wins for size and flags
	assert.Equal(t, Updated, db.Register(pod("Hit", 20, Broadcast)))
	got, ok := db.Find(HashName("Hit"))
	require.True(t, ok)
	assert.Equal(t, uint16(20), got.Size)
	assert.Equal(t, Broadcast, got.Flags)
	assert.Equal(t, 1, logs.FilterMessage("event changed its size or flags").Len())

	// the name is never overwritten
	collide := Descriptor{Type: HashName("Hit"), Size: 20, Flags: Broadcast, Name: "Other"}
	assert.Equal(t, Rejected, db.Register(collide))
	assert.Equal(t, "Hit", db.Name(HashName("Hit")))
	assert.Equal(t, 1, logs.FilterMessage("event hash collision").Len())
}

func TestUnnamedRegistrationGetsNameLater(t *testing.T) {
	db, _ := newTestDB(t)
	db.Register(Descriptor{Type: 7, Size: 8, Flags: Unicast})
	assert.Equal(t, unknownEventName, db.Name(7))
	assert.Equal(t, Updated, db.Register(Descriptor{Type: 7, Size: 8, Flags: Unicast, Name: "Named"}))
	assert.Equal(t, "Named", db.Name(7))
}

func TestRegisterScheme(t *testing.T) {
	db, _ := newTestDB(t)
	fields := []SchemeField{{Name: "x", Type: 1, Offset: 0}, {Name: "y", Type: 1, Offset: 4}}
	hash := HashScheme(fields)

	assert.False(t, db.RegisterScheme(HashName("Move"), hash, fields))
	db.Register(pod("Move", 16, Unicast))
	assert.True(t, db.RegisterScheme(HashName("Move"), hash, fields))
	assert.True(t, db.RegisterScheme(HashName("Move"), hash, fields))

	other := HashScheme(fields[:1])
	assert.NotEqual(t, hash, other)
	assert.False(t, db.RegisterScheme(HashName("Move"), other, fields[:1]))

	s, ok := db.Scheme(HashName("Move"))
	require.True(t, ok)
	assert.Equal(t, hash, s.Hash)
	assert.Len(t, s.Fields, 2)
}

func TestDestroyAndMoveOut(t *testing.T) {
	db, logs := newTestDB(t)
	d := pod("Owned", 8, Unicast|Destroy)
	d.Destroy = destroyHook
	d.MoveOut = moveHook
	require.Equal(t, Registered, db.Register(d))

	p := &payload{}
	src := &Event{Type: d.Type, Flags: d.Flags, Value: p}
	var dst Event
	db.MoveOut(&dst, src)
	assert.Nil(t, src.Value)
	db.Destroy(&dst)
	assert.Equal(t, 1, p.closed)

	// no hook: logged, not fatal
	db.Destroy(&Event{Type: HashName("Ghost"), Flags: Destroy})
	assert.Equal(t, 1, logs.FilterMessage("event has no registered destroy hook").Len())

	assert.PanicsWithError(t, models.Invariant("events.MoveOut", "no move-out hook for 0x%08x", uint32(HashName("Ghost"))).Error(), func() {
		db.MoveOut(&dst, &Event{Type: HashName("Ghost"), Flags: Destroy})
	})
}

func TestDeclareValidateDrainsOnce(t *testing.T) {
	db, logs := newTestDB(t)
	db.Declare(pod("A", 8, Unicast))
	db.Declare(pod("B", 8, Broadcast))

	db.Validate()
	db.Validate()
	assert.Equal(t, 2, db.Len())
	assert.Zero(t, logs.FilterMessage("event registered twice").Len())
	assert.Len(t, db.processed, 2)
}

func TestSchemelessCastInheritance(t *testing.T) {
	db, _ := newTestDB(t)
	db.Register(pod("Known", 8, Broadcast))

	ev := NewSchemeless(db, "Known", map[string]any{"a": 1})
	assert.Equal(t, Broadcast, ev.Flags.Cast())
	assert.True(t, ev.Flags.Has(Schemeless|Destroy))

	ev = NewSchemeless(db, "Adhoc", nil)
	assert.Equal(t, CastBoth, ev.Flags.Cast())

	db.SetSchemelessFallback(Unicast)
	ev = NewSchemeless(db, "Adhoc", nil)
	assert.Equal(t, Unicast, ev.Flags.Cast())
}

func TestSchemelessGenericHooks(t *testing.T) {
	db, _ := newTestDB(t)
	p := &payload{}
	src := NewSchemeless(db, "Adhoc", p)

	var dst Event
	db.MoveOut(&dst, src)
	assert.Nil(t, src.Value)
	assert.Same(t, p, dst.Value)

	db.Destroy(&dst)
	assert.Equal(t, 1, p.closed)
	assert.Nil(t, dst.Value)
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "Unicast|Destroy", (Unicast | Destroy).String())
	assert.Equal(t, "Bothcast|Schemeless", (CastBoth | Schemeless).String())
}
