package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/ecscore/internal/core/ecs/chunk"
	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/ecs/events"
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

const sample = `
log:
  level: debug
chunks:
  initial_bits: 6
entities:
  reserve: 4096
events:
  schemeless_fallback: unicast
parallel:
  workers: 3
components:
  - {name: Position, size: 8}
  - {name: Selected, size: 1, flags: [dont_replicate]}
templates:
  - name: dot
    components:
      - {name: Position, type: vec2, value: [1, 2]}
`

func TestLoadYAML(t *testing.T) {
	c, err := LoadYAML(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, log.LevelDebug, c.LogLevel())
	assert.Equal(t, uint8(6), c.Chunks.InitialBits)
	assert.Equal(t, component.DefaultCapacity, c.Registry.Capacity, "unset fields keep defaults")
	fallback, err := c.SchemelessFallback()
	require.NoError(t, err)
	assert.Equal(t, events.Unicast, fallback)

	opts := c.ManagerOptions()
	assert.Equal(t, uint8(6), opts.ChunkInitialBits)
	assert.Equal(t, 4096, opts.EntityReserve)
	assert.Equal(t, 3, opts.Workers)

	require.Len(t, c.Templates, 1)
	assert.Equal(t, "dot", c.Templates[0].Name)

	b, err := c.Builder()
	require.NoError(t, err)
	decls := b.Declarations()
	require.Len(t, decls, 2)
	assert.True(t, decls[1].Flags.Has(component.DontReplicate|component.IsPod))
}

func TestEmptyDocumentYieldsDefaults(t *testing.T) {
	c, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, log.LevelInfo, c.LogLevel())
	assert.Equal(t, uint8(chunk.DefaultInitialBits), c.Chunks.InitialBits)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	c := Default()
	c.Log.Level = "loud"
	c.Chunks.InitialBits = chunk.MaxCapacityBits + 1
	c.Events.SchemelessFallback = "sideways"
	c.Components = []ComponentConfig{
		{Name: "A", Size: 4},
		{Name: "A", Size: 4},
		{Name: "B", Size: 1, Flags: []string{"sparkly"}},
	}

	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	for _, want := range []string{"loud", "initial bits", "sideways", "declared twice", "sparkly"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadFilePicksDecoder(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "ecs.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"parallel": {"workers": 2}, "events": {"schemeless_fallback": "broadcast"}}`), 0o600))
	yamlPath := filepath.Join(dir, "ecs.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(sample), 0o600))

	c, err := LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Parallel.Workers)
	fallback, _ := c.SchemelessFallback()
	assert.Equal(t, events.Broadcast, fallback)

	c, err = LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Len(t, c.Templates, 1)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadYAML(strings.NewReader("chunks: [nope"))
	assert.Error(t, err)
}
