package entity

import (
	"github.com/zeusync/ecscore/internal/core/ecs/archetype"
	"github.com/zeusync/ecscore/internal/core/ecs/component"
	"github.com/zeusync/ecscore/internal/core/models"
)

// ReplicationHook is told about entity lifecycle and component writes so a
// network layer can mirror them. Components flagged DontReplicate are never
// reported. Hooks run on the writer goroutine, except OnComponentWritten which
// may be called from parallel query workers through Set.
type ReplicationHook interface {
	OnEntityCreated(eid models.EntityID, components []component.TypeHash)
	OnEntityDestroyed(eid models.EntityID)
	OnComponentWritten(eid models.EntityID, hash component.TypeHash, data []byte)
}

func (m *Manager) AddReplicationHook(h ReplicationHook) {
	m.replication = append(m.replication, h)
}

func (m *Manager) notifyCreated(eid models.EntityID, a *archetype.Archetype) {
	if len(m.replication) == 0 {
		return
	}
	hashes := make([]component.TypeHash, 0, len(a.Types))
	for col := 1; col < len(a.Types); col++ {
		if !a.Types[col].Flags.Has(component.DontReplicate) {
			hashes = append(hashes, a.Hashes[col])
		}
	}
	for _, h := range m.replication {
		h.OnEntityCreated(eid, hashes)
	}
}

func (m *Manager) notifyDestroyed(eid models.EntityID) {
	for _, h := range m.replication {
		h.OnEntityDestroyed(eid)
	}
}

func (m *Manager) notifyWritten(eid models.EntityID, t *component.Type, data []byte) {
	if t == nil || t.Flags.Has(component.DontReplicate) {
		return
	}
	for _, h := range m.replication {
		h.OnComponentWritten(eid, t.Hash, data)
	}
}
