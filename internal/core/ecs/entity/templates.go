package entity

import (
	"fmt"

	"github.com/zeusync/ecscore/internal/core/ecs/archetype"
	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/ecs/template"
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

// AddTemplate declares and instantiates a template from registered component
// types. Values with empty Data start zeroed.
func (m *Manager) AddTemplate(name string, values ...ComponentValue) (template.ID, error) {
	if err := m.structuralCheck(); err != nil {
		return template.Invalid, err
	}
	if _, ok := m.templates.Find(name); ok {
		return template.Invalid, fmt.Errorf("%w: %s", template.ErrDuplicateTemplate, name)
	}
	resolved := make([]template.Value, 0, len(values))
	for _, v := range values {
		idx, ok := m.registry.Find(v.Hash)
		if !ok {
			return template.Invalid, fmt.Errorf("%w: 0x%08x in template %s", ErrUnknownComponent, uint32(v.Hash), name)
		}
		resolved = append(resolved, template.Value{
			Name: m.registry.MustType(idx).Name,
			Hash: v.Hash,
			Data: v.Data,
		})
	}
	tid, err := m.instantiateTemplate(name, resolved)
	if err != nil {
		return template.Invalid, err
	}
	m.templateDB.Put(name, resolved)
	return tid, nil
}

// DeclareTemplates adds authored declarations. They are instantiated on
// first use.
func (m *Manager) DeclareTemplates(decls []template.Declaration) error {
	return m.templateDB.AddAll(decls)
}

// resolveTemplate finds an instantiated template, instantiating a declared
// one when needed.
func (m *Manager) resolveTemplate(name string) (template.ID, error) {
	if tid, ok := m.templates.Find(name); ok {
		return tid, nil
	}
	if err := m.structuralCheck(); err != nil {
		return template.Invalid, err
	}
	values, err := m.templateDB.Resolve(name)
	if err != nil {
		return template.Invalid, err
	}
	return m.instantiateTemplate(name, values)
}

func (m *Manager) instantiateTemplate(name string, values []template.Value) (template.ID, error) {
	types := make([]component.TypeIndex, 0, len(values))
	for _, v := range values {
		hash := v.TypeHash()
		idx, ok := m.registry.Find(hash)
		if !ok {
			if v.Name == "" {
				return template.Invalid, fmt.Errorf("%w: 0x%08x in template %s", ErrUnknownComponent, uint32(hash), name)
			}
			var err error
			idx, err = m.registry.Register(component.Declaration{
				Name:  v.Name,
				Hash:  hash,
				Size:  uint16(len(v.Data)),
				Flags: component.IsPod,
			})
			if err != nil {
				return template.Invalid, fmt.Errorf("template %s: %w", name, err)
			}
		}
		t := m.registry.MustType(idx)
		if len(v.Data) != 0 && len(v.Data) != int(t.Size) {
			return template.Invalid, fmt.Errorf("%w: template %s sets %s to %d bytes, type has %d",
				component.ErrSizeMismatch, name, t.Name, len(v.Data), t.Size)
		}
		types = append(types, idx)
	}

	sig := archetype.NewSignature(types...)
	aid, created, err := m.archetypes.Ensure(sig)
	if err != nil {
		return template.Invalid, err
	}
	if created {
		m.onArchetypeCreated(aid)
	}
	a, _ := m.archetypes.Get(aid)

	defaults := make([]byte, a.Stride())
	for _, v := range values {
		if len(v.Data) == 0 {
			continue
		}
		col, _ := a.Column(v.TypeHash())
		copy(a.Layout.Field(defaults, col), v.Data)
	}

	tid, err := m.templates.Add(&template.Template{
		Name:      name,
		Signature: sig,
		Archetype: aid,
		Defaults:  defaults,
	})
	if err != nil {
		return template.Invalid, err
	}
	m.templateDB.MarkInstantiated(name, tid)
	m.log.Debug("template ready",
		log.String("name", name),
		log.Uint32("template", uint32(tid)),
		log.Int("archetype", int(aid)))
	return tid, nil
}
