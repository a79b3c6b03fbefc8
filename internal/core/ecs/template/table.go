package template

import (
	"errors"
	"fmt"

	"github.com/zeusync/ecscore/internal/core/ecs/archetype"
	"github.com/zeusync/ecscore/internal/core/models"
	"github.com/zeusync/ecscore/internal/core/observability/log"
	"github.com/zeusync/ecscore/pkg/generic"
)

// ID indexes the template table.
type ID uint32

const Invalid ID = ^ID(0)

var (
	ErrDuplicateTemplate  = errors.New("template already instantiated")
	ErrUnknownTemplate    = errors.New("unknown template")
	ErrInvalidDeclaration = errors.New("invalid template declaration")
	ErrExtendsCycle       = errors.New("template extends cycle")
	ErrUnknownLiteral     = errors.New("unknown component literal type")
)

// Template is an instantiated template: the archetype its entities live in and
// the packed default row every new entity starts from.
type Template struct {
	Name      string
	Signature archetype.Signature
	Archetype archetype.ID
	// Defaults is laid out by the archetype's layout; the entity column is zero.
	Defaults []byte
}

// Table holds instantiated templates by dense id.
type Table struct {
	templates []*Template
	byName    map[string]ID
	log       log.Log
}

func NewTable(logger log.Log) *Table {
	return &Table{
		byName: make(map[string]ID),
		log:    logger.Named("template"),
	}
}

func (t *Table) Add(tpl *Template) (ID, error) {
	if _, ok := t.byName[tpl.Name]; ok {
		return Invalid, fmt.Errorf("%w: %s", ErrDuplicateTemplate, tpl.Name)
	}
	id := ID(len(t.templates))
	t.templates = append(t.templates, tpl)
	t.byName[tpl.Name] = id
	t.log.Debug("instantiated template",
		log.String("name", tpl.Name),
		log.Uint32("id", uint32(id)),
		log.Int("archetype", int(tpl.Archetype)))
	return id, nil
}

func (t *Table) Find(name string) (ID, bool) {
	id, ok := t.byName[name]
	return id, ok
}

func (t *Table) Get(id ID) (*Template, bool) {
	if int(id) >= len(t.templates) {
		return nil, false
	}
	return t.templates[id], true
}

func (t *Table) Len() int {
	return len(t.templates)
}

func (t *Table) All() []*Template {
	return t.templates
}

// Remap drops every template not marked used and compacts the table. The
// returned slice maps old ids to new ones, or to Invalid.
func (t *Table) Remap(used []bool) ([]ID, int) {
	if len(used) != len(t.templates) {
		panic(models.Invariant("template.Remap", "used bitmap has %d entries for %d templates", len(used), len(t.templates)))
	}
	remap, unused := generic.DenseRemap(used, Invalid)
	if unused == 0 {
		return remap, 0
	}
	for i, to := range remap {
		if to == Invalid {
			t.log.Debug("dropping unused template", log.String("name", t.templates[i].Name))
		}
	}
	t.templates = generic.Compact(t.templates, remap, Invalid)
	clear(t.byName)
	for id, tpl := range t.templates {
		t.byName[tpl.Name] = ID(id)
	}
	return remap, unused
}
