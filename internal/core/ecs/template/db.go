package template

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

// Declaration is an authored template: a name, parents whose components it
// inherits, and its own components. A child component overrides a parent
// component of the same name.
type Declaration struct {
	Name       string          `yaml:"name"`
	Extends    []string        `yaml:"extends,omitempty"`
	Components []ComponentDecl `yaml:"components"`
}

// ComponentDecl is one component of a declaration with a typed literal value,
// for example `{name: Position, type: vec2, value: [1, 2]}`.
type ComponentDecl struct {
	Name  string    `yaml:"name"`
	Type  string    `yaml:"type"`
	Value yaml.Node `yaml:"value,omitempty"`
}

// Value is a resolved component default.
type Value struct {
	Name string
	Hash component.TypeHash
	Data []byte
}

func (v Value) TypeHash() component.TypeHash {
	if v.Hash != 0 {
		return v.Hash
	}
	return component.HashName(v.Name)
}

type entry struct {
	decl     *Declaration
	resolved []Value
}

// DB keeps every template that can be instantiated by name, along with the
// back-references from names to instantiated template ids.
type DB struct {
	mu           sync.RWMutex
	entries      map[string]*entry
	instantiated map[string]ID
	log          log.Log
}

func NewDB(logger log.Log) *DB {
	return &DB{
		entries:      make(map[string]*entry),
		instantiated: make(map[string]ID),
		log:          logger.Named("templatedb"),
	}
}

// Add stores an authored declaration. A later declaration of the same name
// replaces the earlier one for future instantiations.
func (db *DB) Add(decl Declaration) error {
	if decl.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDeclaration)
	}
	for _, c := range decl.Components {
		if c.Name == "" {
			return fmt.Errorf("%w: %s has a component without a name", ErrInvalidDeclaration, decl.Name)
		}
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.entries[decl.Name]; ok {
		db.log.Warn("template redeclared", log.String("name", decl.Name))
	}
	d := decl
	db.entries[decl.Name] = &entry{decl: &d}
	return nil
}

// Put stores an already resolved template.
func (db *DB) Put(name string, values []Value) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.entries[name] = &entry{resolved: slices.Clone(values)}
}

// LoadYAML reads a document of the form `templates: [...]` and adds every
// declaration it holds.
func (db *DB) LoadYAML(r io.Reader) error {
	var doc struct {
		Templates []Declaration `yaml:"templates"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return db.AddAll(doc.Templates)
}

func (db *DB) AddAll(decls []Declaration) error {
	var all error
	for _, d := range decls {
		if err := db.Add(d); err != nil {
			all = errors.Join(all, err)
		}
	}
	return all
}

func (db *DB) Has(name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.entries[name]
	return ok
}

func (db *DB) Names() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.entries))
	for name := range db.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve flattens name and everything it extends into component defaults.
// Parent components come first, in declaration order.
func (db *DB) Resolve(name string) ([]Value, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	visiting := make(map[string]bool)
	var resolve func(name string) ([]Value, error)
	resolve = func(name string) ([]Value, error) {
		e, ok := db.entries[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
		}
		if e.decl == nil {
			return slices.Clone(e.resolved), nil
		}
		if visiting[name] {
			return nil, fmt.Errorf("%w: %s", ErrExtendsCycle, name)
		}
		visiting[name] = true
		defer delete(visiting, name)

		var out []Value
		for _, parent := range e.decl.Extends {
			inherited, err := resolve(parent)
			if err != nil {
				return nil, fmt.Errorf("%s extends %s: %w", name, parent, err)
			}
			out = merge(out, inherited)
		}
		own := make([]Value, 0, len(e.decl.Components))
		for _, c := range e.decl.Components {
			data, err := encodeLiteral(c.Type, &c.Value)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", name, c.Name, err)
			}
			own = append(own, Value{Name: c.Name, Hash: component.HashName(c.Name), Data: data})
		}
		return merge(out, own), nil
	}
	return resolve(name)
}

func merge(base, over []Value) []Value {
	for _, v := range over {
		i := slices.IndexFunc(base, func(b Value) bool { return b.TypeHash() == v.TypeHash() })
		if i >= 0 {
			base[i] = v
			continue
		}
		base = append(base, v)
	}
	return base
}

// MarkInstantiated records that name now lives in the template table at id.
func (db *DB) MarkInstantiated(name string, id ID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.instantiated[name] = id
}

// Instantiated returns the template id for name, unless it was never
// instantiated or a defragmentation pass dropped it.
func (db *DB) Instantiated(name string) (ID, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	id, ok := db.instantiated[name]
	return id, ok && id != Invalid
}

// Remap translates every instantiated back-reference. Dropped templates map
// to Invalid and are instantiated again on next use.
func (db *DB) Remap(remap []ID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for name, id := range db.instantiated {
		if id == Invalid {
			continue
		}
		if int(id) >= len(remap) {
			db.log.Error("instantiated template id out of range",
				log.String("name", name),
				log.Uint32("id", uint32(id)))
			db.instantiated[name] = Invalid
			continue
		}
		db.instantiated[name] = remap[id]
	}
}
