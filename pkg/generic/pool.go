package generic

import "sync"

// Pool is a typed sync.Pool. An optional reset runs on every value handed back
// through Put so callers never observe a previous user's state.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T) T
}

func NewPool[T any](generate func() T, reset func(T) T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
		reset: reset,
	}
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	if p.reset != nil {
		value = p.reset(value)
	}
	p.pool.Put(value)
}

// NewBytePool hands out zero-length byte buffers with at least capacity bytes of room.
func NewBytePool(capacity int) *Pool[*[]byte] {
	return NewPool(
		func() *[]byte {
			b := make([]byte, 0, capacity)
			return &b
		},
		func(b *[]byte) *[]byte {
			*b = (*b)[:0]
			return b
		},
	)
}

// Grow returns buf resized to n bytes, all zeroed.
func Grow(buf *[]byte, n int) []byte {
	if cap(*buf) < n {
		*buf = make([]byte, n)
	} else {
		*buf = (*buf)[:n]
		clear(*buf)
	}
	return *buf
}
