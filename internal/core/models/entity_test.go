package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityIDPacking(t *testing.T) {
	id := MakeEntityID(7, 3)
	assert.Equal(t, uint32(7), id.Index())
	assert.Equal(t, uint32(3), id.Generation())
	assert.True(t, id.IsValid())
	assert.Equal(t, "eid(7:3)", id.String())

	zero := MakeEntityID(0, 0)
	assert.True(t, zero.IsValid(), "slot 0 generation 0 is a real entity")
	assert.False(t, InvalidEntityID.IsValid())
	assert.Equal(t, "eid(invalid)", InvalidEntityID.String())
}

func TestEntityStateString(t *testing.T) {
	assert.Equal(t, "alive", EntityAlive.String())
	assert.Equal(t, "loading", EntityLoading.String())
	assert.Equal(t, "dead", EntityDead.String())
}
