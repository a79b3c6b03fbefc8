package models

// Iterator is an interface for iterating over a collection of items.
// It provides methods to move to the next item, retrieve the current item, and check for errors.
// Close releases whatever the iterator pinned (query counters, locks) and must be called
// even when iteration stops early.
type Iterator[T any] interface {
	Next() bool
	Item() T
	Error() error
	Close() error
	Count() int
}
