package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/ecscore/internal/core/ecs/chunk"
	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/ecs/entity"
	"github.com/zeusync/ecscore/internal/core/ecs/events"
	"github.com/zeusync/ecscore/internal/core/ecs/template"
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

var ErrInvalidConfig = errors.New("invalid storage config")

// Config describes a storage engine instance: its limits, the component types
// authored in data and the templates built from them.
type Config struct {
	Log        LogConfig              `json:"log" yaml:"log"`
	Registry   RegistryConfig         `json:"registry" yaml:"registry"`
	Chunks     ChunkConfig            `json:"chunks" yaml:"chunks"`
	Entities   EntityConfig           `json:"entities" yaml:"entities"`
	Events     EventConfig            `json:"events" yaml:"events"`
	Parallel   ParallelConfig         `json:"parallel" yaml:"parallel"`
	Components []ComponentConfig      `json:"components,omitempty" yaml:"components,omitempty"`
	Templates  []template.Declaration `json:"-" yaml:"templates,omitempty"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

type RegistryConfig struct {
	Capacity int `json:"capacity,omitempty" yaml:"capacity,omitempty"`
}

type ChunkConfig struct {
	// InitialBits is log2 of the capacity of an archetype's first chunk.
	InitialBits uint8 `json:"initial_bits" yaml:"initial_bits"`
}

type EntityConfig struct {
	Reserve int `json:"reserve" yaml:"reserve"`
}

type EventConfig struct {
	// SchemelessFallback is the cast kind of schemeless events with no
	// registered counterpart: both, unicast or broadcast.
	SchemelessFallback string `json:"schemeless_fallback" yaml:"schemeless_fallback"`
	// Observe turns on bus delivery metrics and their debug log.
	Observe bool `json:"observe" yaml:"observe"`
}

type ParallelConfig struct {
	// Workers bounds parallel queries; zero means one per CPU.
	Workers int `json:"workers" yaml:"workers"`
}

// ComponentConfig declares a plain-bytes component type.
type ComponentConfig struct {
	Name  string   `json:"name" yaml:"name"`
	Size  uint16   `json:"size" yaml:"size"`
	Flags []string `json:"flags,omitempty" yaml:"flags,omitempty"`
}

func Default() *Config {
	return &Config{
		Log:      LogConfig{Level: "info"},
		Registry: RegistryConfig{Capacity: component.DefaultCapacity},
		Chunks:   ChunkConfig{InitialBits: chunk.DefaultInitialBits},
		Entities: EntityConfig{Reserve: entity.DefaultOptions().EntityReserve},
		Events:   EventConfig{SchemelessFallback: "both"},
	}
}

// LoadYAML reads a config over the defaults.
func LoadYAML(r io.Reader) (*Config, error) {
	c := Default()
	if err := yaml.NewDecoder(r).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadJSON reads a config over the defaults. Templates can only be authored
// in YAML.
func LoadJSON(r io.Reader) (*Config, error) {
	c := Default()
	if err := json.NewDecoder(r).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode json config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile picks the decoder by file extension.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(f)
	default:
		return LoadYAML(f)
	}
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Registry.Capacity < 0 || c.Registry.Capacity > int(component.InvalidTypeIndex) {
		errs = append(errs, fmt.Errorf("registry capacity %d out of range", c.Registry.Capacity))
	}
	if c.Chunks.InitialBits == 0 || c.Chunks.InitialBits > chunk.MaxCapacityBits {
		errs = append(errs, fmt.Errorf("chunk initial bits %d not in [1, %d]", c.Chunks.InitialBits, chunk.MaxCapacityBits))
	}
	if c.Entities.Reserve < 0 {
		errs = append(errs, fmt.Errorf("entity reserve %d is negative", c.Entities.Reserve))
	}
	if c.Parallel.Workers < 0 {
		errs = append(errs, fmt.Errorf("parallel workers %d is negative", c.Parallel.Workers))
	}
	if _, err := c.SchemelessFallback(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Components))
	for _, cc := range c.Components {
		switch {
		case cc.Name == "":
			errs = append(errs, errors.New("component without a name"))
		case seen[cc.Name]:
			errs = append(errs, fmt.Errorf("component %s declared twice", cc.Name))
		}
		seen[cc.Name] = true
		if _, err := parseFlags(cc.Flags); err != nil {
			errs = append(errs, fmt.Errorf("component %s: %w", cc.Name, err))
		}
	}
	for _, t := range c.Templates {
		if t.Name == "" {
			errs = append(errs, errors.New("template without a name"))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func (c *Config) LogLevel() log.Level {
	level, _ := log.ParseLevel(c.Log.Level)
	return level
}

func (c *Config) SchemelessFallback() (events.Flags, error) {
	switch strings.ToLower(c.Events.SchemelessFallback) {
	case "", "both":
		return events.CastBoth, nil
	case "unicast":
		return events.Unicast, nil
	case "broadcast":
		return events.Broadcast, nil
	default:
		return events.CastUnknown, fmt.Errorf("unknown schemeless fallback %q", c.Events.SchemelessFallback)
	}
}

func (c *Config) ManagerOptions() entity.Options {
	return entity.Options{
		ChunkInitialBits: c.Chunks.InitialBits,
		EntityReserve:    c.Entities.Reserve,
		Workers:          c.Parallel.Workers,
	}
}

// Builder turns the authored component list into registry declarations.
func (c *Config) Builder() (*component.Builder, error) {
	b := component.NewBuilder()
	for _, cc := range c.Components {
		flags, err := parseFlags(cc.Flags)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", cc.Name, err)
		}
		b.Declare(component.Declaration{Name: cc.Name, Size: cc.Size, Flags: flags | component.IsPod})
	}
	return b, nil
}

var flagsByName = map[string]component.Flags{
	"pod":             component.IsPod,
	"dont_replicate":  component.DontReplicate,
	"needs_resources": component.NeedsResources,
}

func parseFlags(names []string) (component.Flags, error) {
	var flags component.Flags
	for _, n := range names {
		f, ok := flagsByName[strings.ToLower(n)]
		if !ok {
			return 0, fmt.Errorf("unknown component flag %q", n)
		}
		flags |= f
	}
	return flags, nil
}
