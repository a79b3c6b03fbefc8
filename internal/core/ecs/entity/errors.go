package entity

import "errors"

var (
	ErrConstrainedMode        = errors.New("structural change refused in constrained mode")
	ErrQueryInProgress        = errors.New("structural change refused while a query is running")
	ErrStaleEntity            = errors.New("entity id is stale or was never alive")
	ErrUnknownComponent       = errors.New("unknown component type")
	ErrComponentNotInTemplate = errors.New("component is not part of the entity's archetype")
	ErrCastMismatch           = errors.New("event cast kind does not allow this delivery")
	ErrEventNotMovable        = errors.New("event owns a payload but has no move-out hook")
)
