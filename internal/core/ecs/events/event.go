package events

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Type identifies an event kind by the hash of its name.
type Type uint32

// HashName folds the 64-bit xxhash of name into a Type.
func HashName(name string) Type {
	h := xxhash.Sum64String(name)
	return Type(uint32(h) ^ uint32(h>>32))
}

const (
	// HeaderSize is the byte size of the type/size/flags header every event carries.
	HeaderSize = 8
	// MaxEventSize bounds header plus payload, exclusive.
	MaxEventSize = 256
)

type Flags uint16

const (
	CastUnknown Flags = 0
	Unicast     Flags = 1 << 0
	Broadcast   Flags = 1 << 1
	// CastMask selects the cast kind; Unicast|Broadcast means either.
	CastMask = Unicast | Broadcast
	CastBoth = CastMask

	Destroy    Flags = 1 << 2
	Serialize  Flags = 1 << 3
	Schemeless Flags = 1 << 4
)

func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

func (f Flags) Cast() Flags {
	return f & CastMask
}

var castNames = [...]string{"Unknowncast", "Unicast", "Broadcast", "Bothcast"}

func (f Flags) String() string {
	parts := []string{castNames[f.Cast()]}
	if f.Has(Destroy) {
		parts = append(parts, "Destroy")
	}
	if f.Has(Serialize) {
		parts = append(parts, "Serialize")
	}
	if f.Has(Schemeless) {
		parts = append(parts, "Schemeless")
	}
	return strings.Join(parts, "|")
}

// Event is one message. Data is the trivially copyable payload that follows
// the header; Value carries owned payload that needs the type's destroy and
// move-out hooks.
type Event struct {
	Type  Type
	Flags Flags
	Data  []byte
	Value any
}

func New(t Type, flags Flags, data []byte) *Event {
	return &Event{Type: t, Flags: flags, Data: data}
}

// Size is header plus payload bytes.
func (e *Event) Size() int {
	return HeaderSize + len(e.Data)
}

type (
	DestroyFunc func(ev *Event)
	// MoveOutFunc transfers src's payload into dst, leaving src empty.
	MoveOutFunc func(dst, src *Event)
)

// Descriptor describes a registered event type.
type Descriptor struct {
	Type    Type
	Size    uint16
	Flags   Flags
	Name    string
	Destroy DestroyFunc
	MoveOut MoveOutFunc
}

// SchemeField is one named, typed field of an event payload.
type SchemeField struct {
	Name   string
	Type   uint32
	Offset uint8
}

// Scheme is the optional reflection data of an event type.
type Scheme struct {
	Hash   uint64
	Fields []SchemeField
}

// HashScheme derives a scheme hash from the field list.
func HashScheme(fields []SchemeField) uint64 {
	d := xxhash.New()
	var buf [5]byte
	for _, f := range fields {
		_, _ = d.WriteString(f.Name)
		buf[0] = byte(f.Type)
		buf[1] = byte(f.Type >> 8)
		buf[2] = byte(f.Type >> 16)
		buf[3] = byte(f.Type >> 24)
		buf[4] = f.Offset
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
