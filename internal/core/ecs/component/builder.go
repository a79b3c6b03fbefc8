package component

import "sync"

// Builder collects type declarations from modules during the init phase.
// Declaration order is preserved; the registry consumes it in Initialize.
type Builder struct {
	mu    sync.Mutex
	decls []Declaration
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Declare queues a declaration and returns the builder for chaining.
func (b *Builder) Declare(decl Declaration) *Builder {
	b.mu.Lock()
	b.decls = append(b.decls, decl)
	b.mu.Unlock()
	return b
}

// DeclarePod is shorthand for a plain-bytes type.
func (b *Builder) DeclarePod(name string, size uint16) *Builder {
	return b.Declare(Declaration{Name: name, Size: size, Flags: IsPod})
}

func (b *Builder) Declarations() []Declaration {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Declaration, len(b.decls))
	copy(out, b.decls)
	return out
}

func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.decls)
}
