package chunk

// Chunk is one fixed-capacity block of an archetype's columns.
type Chunk struct {
	data         []byte
	capacityBits uint8
	used         uint32
}

func (c *Chunk) Capacity() uint32 {
	if c.data == nil {
		return 0
	}
	return 1 << c.capacityBits
}

func (c *Chunk) CapacityBits() uint8 {
	return c.capacityBits
}

// Used counts occupied rows, including reserved but not yet committed ones.
func (c *Chunk) Used() uint32 {
	return c.used
}

func (c *Chunk) Released() bool {
	return c.data == nil
}

// Column returns the whole column col, capacity values long.
func (c *Chunk) Column(l Layout, col int) []byte {
	capacity := c.Capacity()
	start := l.Offsets[col] * capacity
	end := start + uint32(l.Sizes[col])*capacity
	return c.data[start:end:end]
}

// Cell returns the bytes of column col at row.
func (c *Chunk) Cell(l Layout, col int, row uint32) []byte {
	size := uint32(l.Sizes[col])
	start := l.Offsets[col]*c.Capacity() + row*size
	return c.data[start : start+size : start+size]
}

// Gather copies row into a packed entity blob laid out by l.
func (c *Chunk) Gather(l Layout, row uint32, dst []byte) {
	for col := range l.Sizes {
		copyComponent(l.Field(dst, col), c.Cell(l, col, row))
	}
}

func (c *Chunk) Bytes() int {
	return len(c.data)
}
