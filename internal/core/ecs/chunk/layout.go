package chunk

// Layout describes how an archetype's components sit in memory. A packed
// entity blob places column i at Offsets[i]; inside a chunk of capacity C the
// same column starts at Offsets[i]*C and holds C consecutive values.
type Layout struct {
	Sizes   []uint16
	Offsets []uint32
	Stride  uint32
}

func NewLayout(sizes []uint16) Layout {
	l := Layout{
		Sizes:   append([]uint16(nil), sizes...),
		Offsets: make([]uint32, len(sizes)),
	}
	for i, sz := range sizes {
		l.Offsets[i] = l.Stride
		l.Stride += uint32(sz)
	}
	return l
}

func (l Layout) Columns() int {
	return len(l.Sizes)
}

// Field returns column col's bytes inside a packed entity blob.
func (l Layout) Field(blob []byte, col int) []byte {
	off := l.Offsets[col]
	return blob[off : off+uint32(l.Sizes[col]) : off+uint32(l.Sizes[col])]
}
