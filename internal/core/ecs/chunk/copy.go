package chunk

// copyComponent moves one component value. The common sizes get fixed-width
// array copies, which compile to single moves instead of a memmove call.
func copyComponent(dst, src []byte) {
	switch len(src) {
	case 0:
	case 1:
		dst[0] = src[0]
	case 4:
		*(*[4]byte)(dst) = *(*[4]byte)(src)
	case 8:
		*(*[8]byte)(dst) = *(*[8]byte)(src)
	case 16:
		*(*[16]byte)(dst) = *(*[16]byte)(src)
	default:
		copy(dst, src)
	}
}
