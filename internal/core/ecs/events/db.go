package events

import (
	"errors"
	"slices"
	"sync"

	"github.com/zeusync/ecscore/internal/core/models"
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

var (
	ErrUnknownEvent = errors.New("unknown event type")
	ErrEventSize    = errors.New("event size does not match its registration")
)

const unknownEventName = "#UnknownEvent#"

// RegisterResult reports what Register did.
type RegisterResult uint8

const (
	Rejected RegisterResult = iota
	Registered
	// Updated means the type already existed; its size and flags now hold the
	// latest values.
	Updated
)

func (r RegisterResult) String() string {
	switch r {
	case Registered:
		return "registered"
	case Updated:
		return "updated"
	default:
		return "rejected"
	}
}

type record struct {
	Descriptor
	scheme Scheme
}

// DB is the registry of event types.
type DB struct {
	mu      sync.RWMutex
	records map[Type]*record
	order   []Type

	pending   []Descriptor
	processed []Descriptor

	fallback Flags
	log      log.Log
}

func NewDB(logger log.Log) *DB {
	return &DB{
		records:  make(map[Type]*record),
		fallback: CastBoth,
		log:      logger.Named("events"),
	}
}

// Register validates and stores d.
func (db *DB) Register(d Descriptor) RegisterResult {
	fields := []log.Field{
		log.Hash("type", uint32(d.Type)),
		log.String("name", d.Name),
	}

	if d.Size < HeaderSize || d.Size >= MaxEventSize {
		db.log.Error("event size out of range",
			append(fields, log.Uint16("size", d.Size), log.Int("min", HeaderSize), log.Int("max", MaxEventSize))...)
		return Rejected
	}
	if d.Flags.Has(Destroy) && (d.Destroy == nil || d.MoveOut == nil) {
		db.log.Error("event requires destroy but does not provide destroy and move-out hooks", fields...)
		// destroy alone is usable; the event just can't be moved between queues
		if d.Destroy == nil {
			return Rejected
		}
	}
	if (d.Destroy != nil || d.MoveOut != nil) && !d.Flags.Has(Destroy) {
		db.log.Warn("event provides destroy or move-out hooks but is trivially destructible", fields...)
	}
	if cast := d.Flags.Cast(); cast != Unicast && cast != Broadcast {
		db.log.Error("event registered with a cast kind other than Unicast or Broadcast",
			append(fields, log.Stringer("flags", d.Flags))...)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	r, exists := db.records[d.Type]
	if !exists {
		if d.Name == "" {
			d.Name = unknownEventName
		}
		db.records[d.Type] = &record{Descriptor: d}
		db.order = append(db.order, d.Type)
		return Registered
	}

	if d.Name != "" && r.Name != d.Name {
		if r.Name != unknownEventName {
			db.log.Error("event hash collision",
				log.Hash("type", uint32(d.Type)),
				log.String("registered", r.Name),
				log.String("name", d.Name))
			return Rejected
		}
		r.Name = d.Name
	}
	if r.Size != d.Size || r.Flags != d.Flags {
		db.log.Error("event changed its size or flags",
			append(fields,
				log.Uint16("size", r.Size), log.Uint16("new_size", d.Size),
				log.Stringer("flags", r.Flags), log.Stringer("new_flags", d.Flags))...)
	} else {
		level := log.LevelError
		if d.Flags.Has(Schemeless) {
			level = log.LevelWarn
		}
		db.log.Log(level, "event registered twice", fields...)
	}
	r.Size = d.Size
	r.Flags = d.Flags
	if d.Destroy != nil {
		r.Destroy = d.Destroy
	}
	if d.MoveOut != nil {
		r.MoveOut = d.MoveOut
	}
	return Updated
}

// RegisterScheme attaches field reflection data to a registered type. Once a
// scheme hash is set it can't be replaced by a different one.
func (db *DB) RegisterScheme(t Type, hash uint64, fields []SchemeField) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.records[t]
	if !ok {
		return false
	}
	if r.scheme.Hash != 0 && r.scheme.Hash != hash {
		db.log.Error("event scheme is immutable once set",
			log.String("name", r.Name),
			log.Uint64("hash", r.scheme.Hash),
			log.Uint64("new_hash", hash))
		return false
	}
	r.scheme = Scheme{Hash: hash, Fields: slices.Clone(fields)}
	return true
}

func (db *DB) Scheme(t Type) (Scheme, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	r, ok := db.records[t]
	if !ok || r.scheme.Hash == 0 {
		return Scheme{}, false
	}
	return r.scheme, true
}

func (db *DB) Find(t Type) (Descriptor, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	r, ok := db.records[t]
	if !ok {
		return Descriptor{}, false
	}
	return r.Descriptor, true
}

func (db *DB) Name(t Type) string {
	d, ok := db.Find(t)
	if !ok {
		return unknownEventName
	}
	return d.Name
}

// CastFlags returns the cast kind registered for t.
func (db *DB) CastFlags(t Type) (Flags, bool) {
	d, ok := db.Find(t)
	return d.Flags.Cast(), ok
}

func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.records)
}

// Destroy releases ev's payload through its type's hook. A missing hook is
// logged and ignored.
func (db *DB) Destroy(ev *Event) {
	if ev.Flags.Has(Schemeless) {
		destroySchemeless(ev)
		return
	}
	d, ok := db.Find(ev.Type)
	if !ok || d.Destroy == nil {
		db.log.Error("event has no registered destroy hook",
			log.Hash("type", uint32(ev.Type)),
			log.String("name", db.Name(ev.Type)))
		return
	}
	d.Destroy(ev)
}

// MoveOut transfers src into dst through its type's hook. Losing a
// non-trivial payload is not recoverable, so a missing hook panics.
func (db *DB) MoveOut(dst, src *Event) {
	if src.Flags.Has(Schemeless) {
		moveOutSchemeless(dst, src)
		return
	}
	d, ok := db.Find(src.Type)
	if !ok || d.MoveOut == nil {
		db.log.Error("event has no registered move-out hook",
			log.Hash("type", uint32(src.Type)),
			log.String("name", db.Name(src.Type)))
		panic(models.Invariant("events.MoveOut", "no move-out hook for 0x%08x", uint32(src.Type)))
	}
	d.MoveOut(dst, src)
}

// Declare queues a descriptor for the next Validate. Modules call it during
// their init phase instead of registering directly.
func (db *DB) Declare(d Descriptor) {
	db.mu.Lock()
	db.pending = append(db.pending, d)
	db.mu.Unlock()
}

// Validate registers every declared descriptor exactly once, however often it
// is called.
func (db *DB) Validate() {
	db.mu.Lock()
	pending := db.pending
	db.pending = nil
	db.processed = append(db.processed, pending...)
	db.mu.Unlock()

	for _, d := range pending {
		db.Register(d)
	}
}

// SetSchemelessFallback sets the cast kind of schemeless events whose type has
// no registered counterpart.
func (db *DB) SetSchemelessFallback(cast Flags) {
	db.mu.Lock()
	db.fallback = cast & CastMask
	db.mu.Unlock()
}

func (db *DB) schemelessCast(t Type) Flags {
	if cast, ok := db.CastFlags(t); ok {
		return cast
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.fallback
}

// Dump logs every registered type and its scheme.
func (db *DB) Dump() {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, t := range db.order {
		r := db.records[t]
		db.log.Info("registered event",
			log.Hash("type", uint32(t)),
			log.String("name", r.Name),
			log.Uint16("size", r.Size),
			log.Stringer("flags", r.Flags))
		for i, f := range r.scheme.Fields {
			db.log.Info("event scheme field",
				log.String("event", r.Name),
				log.Int("index", i),
				log.String("field", f.Name),
				log.Hash("field_type", f.Type),
				log.Uint8("offset", f.Offset))
		}
	}
}
