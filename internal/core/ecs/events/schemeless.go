package events

import "io"

// NewSchemeless wraps an arbitrary value as an event of the named type. Its
// cast kind follows the registered type of the same name, or the DB's
// schemeless fallback when there is none.
func NewSchemeless(db *DB, name string, value any) *Event {
	t := HashName(name)
	return &Event{
		Type:  t,
		Flags: Schemeless | Destroy | db.schemelessCast(t),
		Value: value,
	}
}

func destroySchemeless(ev *Event) {
	if c, ok := ev.Value.(io.Closer); ok {
		_ = c.Close()
	}
	ev.Value = nil
	ev.Data = nil
}

func moveOutSchemeless(dst, src *Event) {
	*dst = *src
	src.Value = nil
	src.Data = nil
}
