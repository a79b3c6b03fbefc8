package component

import "errors"

var (
	ErrRegistryFull    = errors.New("component type registry is full")
	ErrHashCollision   = errors.New("component type hash collision")
	ErrTypeMismatch    = errors.New("component type re-registered with different layout")
	ErrInvalidFlags    = errors.New("invalid component type flags")
	ErrNonRelocatable  = errors.New("component type is not relocatable")
	ErrUnknownType     = errors.New("unknown component type")
	ErrNotSerializable = errors.New("component type is not serializable")
	ErrSizeMismatch    = errors.New("component data size mismatch")
)
