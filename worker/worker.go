// Package worker implements the Worker Manager (spec.md §4.12): a
// per-node worker registry that emits WorkerDead on death, consumed by
// the Actor Manager.
package worker

import (
	"context"

	"github.com/jungbaepark/gcs/eventbus"
	"github.com/jungbaepark/gcs/gcserrors"
	"github.com/jungbaepark/gcs/id"
	"github.com/jungbaepark/gcs/table"
)

// State is the worker lifecycle state (spec.md §3).
type State int

const (
	// Alive is the state of a registered, running worker.
	Alive State = iota
	// Dead is terminal.
	Dead
)

// Info is the durable record for a single worker.
type Info struct {
	ID                    id.ID
	NodeID                id.ID
	State                 State
	ExitType              string
	CreationTaskException []byte
	HasCreationTaskExcept bool
}

// Manager owns the worker registry.
type Manager struct {
	table *table.Table[Info]
	bus   *eventbus.Bus

	byNode map[id.ID]map[id.ID]*Info
	byID   map[id.ID]*Info
}

// NewManager constructs a Worker Manager backed by the given table.
func NewManager(t *table.Table[Info], bus *eventbus.Bus) *Manager {
	return &Manager{
		table:  t,
		bus:    bus,
		byNode: make(map[id.ID]map[id.ID]*Info),
		byID:   make(map[id.ID]*Info),
	}
}

// Name implements initdata.TableLoader.
func (m *Manager) Name() string { return "worker" }

// Load implements initdata.TableLoader.
func (m *Manager) Load(ctx context.Context) error {
	all, err := m.table.GetAll(ctx)
	if err != nil {
		return err
	}
	for workerID, info := range all {
		info := info
		m.byID[workerID] = &info
		if info.State != Alive {
			continue
		}
		m.index(&info)
	}
	return nil
}

func (m *Manager) index(info *Info) {
	byWorker, ok := m.byNode[info.NodeID]
	if !ok {
		byWorker = make(map[id.ID]*Info)
		m.byNode[info.NodeID] = byWorker
	}
	byWorker[info.ID] = info
}

// Register adds a newly-started worker under its parent node.
func (m *Manager) Register(ctx context.Context, workerID, nodeID id.ID) *gcserrors.Error {
	info := &Info{ID: workerID, NodeID: nodeID, State: Alive}
	if err := m.table.Put(ctx, workerID, *info); err != nil {
		return err
	}
	m.byID[workerID] = info
	m.index(info)
	return nil
}

// MarkDead transitions a worker to DEAD and emits WorkerDead. Idempotent.
func (m *Manager) MarkDead(ctx context.Context, workerID id.ID, exitType string, creationTaskException []byte) *gcserrors.Error {
	info, ok := m.byID[workerID]
	if !ok || info.State == Dead {
		return nil
	}

	info.State = Dead
	info.ExitType = exitType
	if creationTaskException != nil {
		info.CreationTaskException = creationTaskException
		info.HasCreationTaskExcept = true
	}

	if err := m.table.Put(ctx, workerID, *info); err != nil {
		return err
	}

	if byWorker, ok := m.byNode[info.NodeID]; ok {
		delete(byWorker, workerID)
		if len(byWorker) == 0 {
			delete(m.byNode, info.NodeID)
		}
	}

	m.bus.PublishWorkerDead(eventbus.WorkerDead{
		WorkerID:              workerID,
		NodeID:                info.NodeID,
		ExitType:              exitType,
		CreationTaskException: info.CreationTaskException,
		HasCreationTaskExcept: info.HasCreationTaskExcept,
	})
	return nil
}

// OnNodeDead marks every still-alive worker on a dead node as DEAD,
// satisfying spec.md §3 invariant (d): a node-dead event precedes
// worker-dead events for workers on that node.
func (m *Manager) OnNodeDead(ctx context.Context, nodeID id.ID) {
	byWorker, ok := m.byNode[nodeID]
	if !ok {
		return
	}
	ids := make([]id.ID, 0, len(byWorker))
	for workerID := range byWorker {
		ids = append(ids, workerID)
	}
	for _, workerID := range ids {
		m.MarkDead(ctx, workerID, "NODE_DIED", nil)
	}
}

// Get returns a worker's Info.
func (m *Manager) Get(workerID id.ID) (Info, *gcserrors.Error) {
	info, ok := m.byID[workerID]
	if !ok {
		return Info{}, gcserrors.New(gcserrors.NotFound, "worker not found")
	}
	return *info, nil
}
