// Package resource implements the Resource Manager (spec.md §4.5): the
// authoritative aggregated cluster resource map, kept consistent with
// the Node Manager via OnNodeAdd/OnNodeDead listeners and advanced by
// per-node monotonic report sequence numbers.
package resource

import (
	"github.com/jungbaepark/gcs/eventbus"
	"github.com/jungbaepark/gcs/id"
)

// Snapshot is a single node's resource view (spec.md §3).
type Snapshot struct {
	Total            map[string]float64
	Available        map[string]float64
	Load             map[string]float64
	ObjectStoreBytes uint64
	// Sequence is the monotonic report sequence number; reports with a
	// lower sequence than the currently-stored one are discarded
	// (spec.md §4.5, §8).
	Sequence uint64
}

// Report is a resource usage report received from a raylet.
type Report struct {
	NodeID   id.ID
	Snapshot Snapshot
}

// Manager holds the aggregated cluster resource view. It is mutated
// exclusively on the main loop.
type Manager struct {
	byNode map[id.ID]Snapshot
}

// NewManager creates an empty Resource Manager. It is wired to the
// Node Manager's events at boot (spec.md §4.5: "Emits OnNodeAdd/
// OnNodeDead to keep its map consistent with Node Manager" — read the
// other way in this Go port: it *listens* for those events).
func NewManager() *Manager {
	return &Manager{byNode: make(map[id.ID]Snapshot)}
}

// OnNodeAdd seeds an empty snapshot for a newly-registered node so it
// participates in scheduling decisions even before its first report
// arrives.
func (m *Manager) OnNodeAdd(e eventbus.NodeAdded) {
	if _, ok := m.byNode[e.NodeID]; !ok {
		m.byNode[e.NodeID] = Snapshot{
			Total:     map[string]float64{},
			Available: map[string]float64{},
			Load:      map[string]float64{},
		}
	}
}

// OnNodeDead evicts a dead node's resource view.
func (m *Manager) OnNodeDead(e eventbus.NodeRemoved) {
	delete(m.byNode, e.NodeID)
}

// UpdateFromResourceReport monotonically advances the per-node sequence
// number, replacing the node's slice. Out-of-order reports (lower
// sequence) are discarded and reported back via the bool return so
// callers (the Report Poller) can log/metric the drop.
func (m *Manager) UpdateFromResourceReport(r Report) (applied bool) {
	cur, ok := m.byNode[r.NodeID]
	if ok && r.Snapshot.Sequence <= cur.Sequence && cur.Sequence != 0 {
		return false
	}
	m.byNode[r.NodeID] = r.Snapshot
	return true
}

// Get returns the current snapshot for a node.
func (m *Manager) Get(nodeID id.ID) (Snapshot, bool) {
	s, ok := m.byNode[nodeID]
	return s, ok
}

// All returns a defensive copy of the full per-node view, used by
// GetResourceUsageBatchForBroadcast (spec.md §4.5) and by the Resource
// Scheduler.
func (m *Manager) All() map[id.ID]Snapshot {
	out := make(map[id.ID]Snapshot, len(m.byNode))
	for k, v := range m.byNode {
		out[k] = v
	}
	return out
}

// GetResourceUsageBatchForBroadcast snapshots the map into a broadcast
// buffer, consumed by the Resource Broadcaster (spec.md §4.5, §4.8).
func (m *Manager) GetResourceUsageBatchForBroadcast() map[id.ID]Snapshot {
	return m.All()
}

// ApplyReservation subtracts a resource demand from a node's available
// capacity, used when the scheduler commits a placement. Released via
// ReleaseReservation on cleanup/removal.
func (m *Manager) ApplyReservation(nodeID id.ID, demand map[string]float64) {
	s, ok := m.byNode[nodeID]
	if !ok {
		return
	}
	avail := cloneMap(s.Available)
	for k, v := range demand {
		avail[k] -= v
	}
	s.Available = avail
	m.byNode[nodeID] = s
}

// ReleaseReservation returns a previously-applied demand to a node's
// available capacity (spec.md §4.11: "Removal is idempotent; removed
// PGs release their committed resources back to the Resource
// Manager.").
func (m *Manager) ReleaseReservation(nodeID id.ID, demand map[string]float64) {
	s, ok := m.byNode[nodeID]
	if !ok {
		return
	}
	avail := cloneMap(s.Available)
	for k, v := range demand {
		avail[k] += v
	}
	s.Available = avail
	m.byNode[nodeID] = s
}

func cloneMap(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
