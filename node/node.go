// Package node implements the Node Manager (spec.md §4.3): the
// registry of raylets, their alive/dead state, and add/remove listener
// hooks consumed by every other manager.
//
// All methods run on the GCS main loop (spec.md §5); no manager-local
// locking is used, matching the single-writer discipline.
package node

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/jungbaepark/gcs/eventbus"
	"github.com/jungbaepark/gcs/gcserrors"
	"github.com/jungbaepark/gcs/id"
	"github.com/jungbaepark/gcs/table"
)

// State is the node lifecycle state (spec.md §3: ALIVE, DEAD, never
// back).
type State int

const (
	// Alive means the node has registered and not yet been declared
	// dead.
	Alive State = iota
	// Dead means the node has failed a heartbeat deadline or was
	// explicitly removed. Terminal: an id never resurrects.
	Dead
)

// Address is a raylet's (ip, port) endpoint.
type Address struct {
	IP   string
	Port int
}

// Info is the durable record for a single node.
type Info struct {
	ID              id.ID
	Address         Address
	StaticResources map[string]float64
	State           State
	// RegistrationSeq breaks ties when two nodes claim the same
	// address (spec.md §4.3): most recent registration wins.
	RegistrationSeq uint64
}

// Manager owns the authoritative node registry.
type Manager struct {
	table *table.Table[Info]
	bus   *eventbus.Bus

	alive map[id.ID]*Info
	// byAddress indexes the currently-alive node at a given address,
	// used to break registration races (spec.md §4.3).
	byAddress map[Address]id.ID
	nextSeq   uint64
}

// NewManager constructs a Node Manager backed by the given table.
func NewManager(t *table.Table[Info], bus *eventbus.Bus) *Manager {
	return &Manager{
		table:     t,
		bus:       bus,
		alive:     make(map[id.ID]*Info),
		byAddress: make(map[Address]id.ID),
	}
}

// Name implements initdata.TableLoader.
func (m *Manager) Name() string { return "node" }

// Load implements initdata.TableLoader: reconstructs the alive set from
// the durable snapshot taken on boot (spec.md §6).
func (m *Manager) Load(ctx context.Context) error {
	all, err := m.table.GetAll(ctx)
	if err != nil {
		return err
	}
	for nodeID, info := range all {
		info := info
		if info.State != Alive {
			continue
		}
		m.alive[nodeID] = &info
		m.byAddress[info.Address] = nodeID
		if info.RegistrationSeq >= m.nextSeq {
			m.nextSeq = info.RegistrationSeq + 1
		}
	}
	return nil
}

// Register adds a newly-connecting raylet to the alive set. If another
// node currently claims the same address, the previous registrant is
// forced to DEAD first (monotonic registration order, most recent
// wins, per spec.md §4.3).
func (m *Manager) Register(ctx context.Context, nodeID id.ID, addr Address, resources map[string]float64) *gcserrors.Error {
	if prevID, ok := m.byAddress[addr]; ok && prevID != nodeID {
		log.WithField("address", addr).WithField("previous_node", prevID.String()).
			Info("address reclaimed by new registration, forcing previous node dead")
		m.OnNodeFailure(ctx, prevID)
	}

	info := &Info{
		ID:              nodeID,
		Address:         addr,
		StaticResources: resources,
		State:           Alive,
		RegistrationSeq: m.nextSeq,
	}
	m.nextSeq++

	m.alive[nodeID] = info
	m.byAddress[addr] = nodeID

	if err := m.table.Put(ctx, nodeID, *info); err != nil {
		delete(m.alive, nodeID)
		delete(m.byAddress, addr)
		return err
	}

	m.bus.PublishNodeAdded(eventbus.NodeAdded{NodeID: nodeID})
	return nil
}

// OnNodeFailure transitions a node to DEAD. Invoked by the Heartbeat
// Manager on deadline expiry or by an admin RPC. A no-op if the node is
// already dead or unknown (idempotent, matching spec.md §4.3 invariant:
// no resurrection under the same id).
func (m *Manager) OnNodeFailure(ctx context.Context, nodeID id.ID) *gcserrors.Error {
	info, ok := m.alive[nodeID]
	if !ok {
		return nil
	}

	info.State = Dead
	delete(m.alive, nodeID)
	if m.byAddress[info.Address] == nodeID {
		delete(m.byAddress, info.Address)
	}

	if err := m.table.Put(ctx, nodeID, *info); err != nil {
		return err
	}

	m.bus.PublishNodeRemoved(eventbus.NodeRemoved{NodeID: nodeID})
	return nil
}

// IsAlive reports whether nodeID is currently in the alive set.
func (m *Manager) IsAlive(nodeID id.ID) bool {
	_, ok := m.alive[nodeID]
	return ok
}

// Get returns the current Info for a node, or NotFound if it is not
// alive (dead nodes are not exposed via Get; callers wanting history
// should read the table directly).
func (m *Manager) Get(nodeID id.ID) (Info, *gcserrors.Error) {
	info, ok := m.alive[nodeID]
	if !ok {
		return Info{}, gcserrors.New(gcserrors.NotFound, "node not alive")
	}
	return *info, nil
}

// AliveNodes returns a snapshot of every alive node, sorted by nothing
// in particular — callers needing a stable order (e.g. the Resource
// Scheduler's lexicographic tie-break) sort it themselves.
func (m *Manager) AliveNodes() []Info {
	out := make([]Info, 0, len(m.alive))
	for _, info := range m.alive {
		out = append(out, *info)
	}
	return out
}
