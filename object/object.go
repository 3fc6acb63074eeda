// Package object implements the Object Manager (spec.md §4.13): an
// ownership index and a locations index for large objects. Not
// authoritative for object data contents — only metadata.
package object

import (
	"context"

	"github.com/jungbaepark/gcs/gcserrors"
	"github.com/jungbaepark/gcs/id"
	"github.com/jungbaepark/gcs/table"
)

// Info is the durable record for a single object.
type Info struct {
	ID        id.ID
	OwnerID   id.ID
	Locations map[id.ID]struct{}
	Size      uint64
}

// EvictedListener is invoked once per (object, node) pair evicted by
// OnNodeDead, so subscribers (pub/sub plane) can be notified.
type EvictedListener func(objectID, nodeID id.ID)

// Manager owns the object ownership and locations indexes.
type Manager struct {
	table *table.Table[Info]

	byID      map[id.ID]*Info
	byOwner   map[id.ID]map[id.ID]struct{}
	onEvicted []EvictedListener
}

// NewManager constructs an Object Manager backed by the given table.
func NewManager(t *table.Table[Info]) *Manager {
	return &Manager{
		table:   t,
		byID:    make(map[id.ID]*Info),
		byOwner: make(map[id.ID]map[id.ID]struct{}),
	}
}

// Name implements initdata.TableLoader.
func (m *Manager) Name() string { return "object" }

// Load implements initdata.TableLoader.
func (m *Manager) Load(ctx context.Context) error {
	all, err := m.table.GetAll(ctx)
	if err != nil {
		return err
	}
	for objectID, info := range all {
		info := info
		m.byID[objectID] = &info
		m.indexOwner(objectID, info.OwnerID)
	}
	return nil
}

func (m *Manager) indexOwner(objectID, ownerID id.ID) {
	owned, ok := m.byOwner[ownerID]
	if !ok {
		owned = make(map[id.ID]struct{})
		m.byOwner[ownerID] = owned
	}
	owned[objectID] = struct{}{}
}

// OnEvicted registers a listener invoked once per (object, node) pair
// evicted when a node dies.
func (m *Manager) OnEvicted(fn EvictedListener) {
	m.onEvicted = append(m.onEvicted, fn)
}

// Register records a new object and its owning worker.
func (m *Manager) Register(ctx context.Context, objectID, ownerID id.ID, size uint64, location id.ID) *gcserrors.Error {
	info := &Info{
		ID:        objectID,
		OwnerID:   ownerID,
		Size:      size,
		Locations: map[id.ID]struct{}{location: {}},
	}
	if err := m.table.Put(ctx, objectID, *info); err != nil {
		return err
	}
	m.byID[objectID] = info
	m.indexOwner(objectID, ownerID)
	return nil
}

// AddLocation records an additional node holding a copy of the object.
func (m *Manager) AddLocation(ctx context.Context, objectID, nodeID id.ID) *gcserrors.Error {
	info, ok := m.byID[objectID]
	if !ok {
		return gcserrors.New(gcserrors.NotFound, "object not found")
	}
	if _, ok := info.Locations[nodeID]; ok {
		return nil
	}
	info.Locations[nodeID] = struct{}{}
	return m.table.Put(ctx, objectID, *info)
}

// OnNodeDead evicts every location on a dead node and notifies
// subscribers, for every affected object.
func (m *Manager) OnNodeDead(ctx context.Context, nodeID id.ID) {
	for objectID, info := range m.byID {
		if _, ok := info.Locations[nodeID]; !ok {
			continue
		}
		delete(info.Locations, nodeID)
		_ = m.table.Put(ctx, objectID, *info)
		for _, fn := range m.onEvicted {
			fn(objectID, nodeID)
		}
	}
}

// Get returns an object's Info.
func (m *Manager) Get(objectID id.ID) (Info, *gcserrors.Error) {
	info, ok := m.byID[objectID]
	if !ok {
		return Info{}, gcserrors.New(gcserrors.NotFound, "object not found")
	}
	return *info, nil
}

// OwnedBy returns every object id owned by a given worker.
func (m *Manager) OwnedBy(ownerID id.ID) []id.ID {
	owned := m.byOwner[ownerID]
	out := make([]id.ID, 0, len(owned))
	for objectID := range owned {
		out = append(out, objectID)
	}
	return out
}
