package generic

// Index is any dense table index.
type Index interface {
	~uint16 | ~uint32
}

// DenseRemap assigns every used slot its position in the compacted table.
// Unused slots map to invalid. The second result counts the unused slots.
func DenseRemap[I Index](used []bool, invalid I) ([]I, int) {
	remap := make([]I, len(used))
	next := I(0)
	for i, u := range used {
		if !u {
			remap[i] = invalid
			continue
		}
		remap[i] = next
		next++
	}
	return remap, len(used) - int(next)
}

// Compact moves every kept element to its remapped slot and truncates the rest.
func Compact[T any, I Index](items []T, remap []I, invalid I) []T {
	kept := 0
	for i, to := range remap {
		if to == invalid {
			continue
		}
		items[to] = items[i]
		kept++
	}
	var zero T
	for i := kept; i < len(items); i++ {
		items[i] = zero
	}
	return items[:kept]
}
