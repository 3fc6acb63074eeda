// Package actor implements the Actor Manager (spec.md §4.10): the
// actor registry, its state machine, named-actor indexing, restart
// bookkeeping and the DEAD cleanup fan-out. Scheduling itself lives in
// scheduler.go.
//
// Every alive actor's statemachine.StateMachine instance enforces the
// legal transition graph; Manager wraps each TransitTo call with the
// table write and bus publication the transition requires, mirroring
// the teacher's resmgr/task.RMTask (one state machine instance per
// tracked entity, persistence done by the owning manager rather than
// inside the transition callback).
package actor

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jungbaepark/gcs/common/statemachine"
	"github.com/jungbaepark/gcs/eventbus"
	"github.com/jungbaepark/gcs/gcserrors"
	"github.com/jungbaepark/gcs/id"
	"github.com/jungbaepark/gcs/table"
)

// State is the actor lifecycle state (spec.md §3, §4.10).
type State statemachine.State

const (
	// DependenciesUnready is the initial state: the creation task's
	// arguments have not all resolved yet.
	DependenciesUnready State = "DEPENDENCIES_UNREADY"
	// PendingCreation means the actor is eligible for scheduling (or
	// awaiting a retry after a failed attempt).
	PendingCreation State = "PENDING_CREATION"
	// Alive means a raylet has acknowledged the creation RPC.
	Alive State = "ALIVE"
	// Restarting is a transient state entered on worker death with
	// remaining_restarts > 0, immediately followed by a move back to
	// PendingCreation.
	Restarting State = "RESTARTING"
	// Dead is terminal.
	Dead State = "DEAD"
)

// Info is the durable record for a single actor.
type Info struct {
	ID                    id.ID
	JobID                 id.ID
	State                 State
	Demand                map[string]float64
	MaxRestarts           int32
	RemainingRestarts     int32
	AssignedNodeID        id.ID
	AssignedWorkerID      id.ID
	Name                  string
	Namespace             string
	CreationTaskException []byte
	HasCreationTaskExcept bool
	DeathReason           string
}

type entry struct {
	info       Info
	sm         statemachine.StateMachine
	gcTimer    *time.Timer
	scheduling bool
}

// Manager owns the actor registry and lifecycle.
type Manager struct {
	table *table.Table[Info]
	bus   *eventbus.Bus

	// gcGrace is how long DEAD actor metadata lives before the
	// garbage-collection sweep deletes its table row (spec.md §4.10).
	gcGrace time.Duration

	byID  map[id.ID]*entry
	byJob map[id.ID]map[id.ID]struct{}
	// named indexes actors by (namespace, name) for GetByName lookups.
	// The empty namespace only matches entries registered with the
	// empty namespace — see DESIGN.md "Named-actor empty-namespace scoping".
	named map[string]map[string]id.ID

	// schedMu guards the scheduling flag only: Scheduler.attempt reads
	// and writes it from goalstate worker goroutines, off the main
	// loop, mirroring the heartbeat manager's own small mutex for the
	// one piece of state touched from a foreign goroutine.
	schedMu sync.Mutex

	// onPending is invoked, in registration order, whenever an actor
	// becomes eligible for scheduling (DEPENDENCIES_UNREADY ->
	// PENDING_CREATION, or a restart completing). The Actor Scheduler
	// is the sole subscriber.
	onPending []func(id.ID)
}

// NewManager constructs an Actor Manager backed by the given table.
func NewManager(t *table.Table[Info], bus *eventbus.Bus, gcGrace time.Duration) *Manager {
	if gcGrace <= 0 {
		gcGrace = 5 * time.Minute
	}
	return &Manager{
		table:   t,
		bus:     bus,
		gcGrace: gcGrace,
		byID:    make(map[id.ID]*entry),
		byJob:   make(map[id.ID]map[id.ID]struct{}),
		named:   make(map[string]map[string]id.ID),
	}
}

// Name implements initdata.TableLoader.
func (m *Manager) Name() string { return "actor" }

// Load implements initdata.TableLoader: reconstructs in-memory indexes
// from the durable snapshot. Actors found in a non-terminal state are
// not automatically re-scheduled here — the server shell re-drives
// PENDING_CREATION actors into the scheduler once every manager has
// loaded (spec.md §6).
func (m *Manager) Load(ctx context.Context) error {
	all, err := m.table.GetAll(ctx)
	if err != nil {
		return err
	}
	for actorID, info := range all {
		info := info
		e := &entry{info: info, sm: newStateMachine(actorID, info.State)}
		m.byID[actorID] = e
		m.index(actorID, &info)
	}
	return nil
}

func (m *Manager) index(actorID id.ID, info *Info) {
	byJob, ok := m.byJob[info.JobID]
	if !ok {
		byJob = make(map[id.ID]struct{})
		m.byJob[info.JobID] = byJob
	}
	byJob[actorID] = struct{}{}

	if info.Name == "" {
		return
	}
	ns, ok := m.named[info.Namespace]
	if !ok {
		ns = make(map[string]id.ID)
		m.named[info.Namespace] = ns
	}
	ns[info.Name] = actorID
}

// newStateMachine builds the per-actor transition graph (spec.md
// §4.10): DEPENDENCIES_UNREADY -> PENDING_CREATION -> ALIVE -> {
// RESTARTING, DEAD }, RESTARTING -> PENDING_CREATION, a self-loop on
// PENDING_CREATION for re-queued scheduling failures, and DEAD edges
// from DEPENDENCIES_UNREADY and PENDING_CREATION so Kill and
// owning-job finish can terminate an actor that is not yet ALIVE.
func newStateMachine(actorID id.ID, current State) statemachine.StateMachine {
	sm, err := statemachine.NewBuilder().
		WithName(actorID.String()).
		WithCurrentState(statemachine.State(current)).
		AddRule(&statemachine.Rule{
			From: statemachine.State(DependenciesUnready),
			To: []statemachine.State{
				statemachine.State(PendingCreation),
				statemachine.State(Dead),
			},
		}).
		AddRule(&statemachine.Rule{
			From: statemachine.State(PendingCreation),
			To: []statemachine.State{
				statemachine.State(PendingCreation),
				statemachine.State(Alive),
				statemachine.State(Dead),
			},
		}).
		AddRule(&statemachine.Rule{
			From: statemachine.State(Alive),
			To: []statemachine.State{
				statemachine.State(Restarting),
				statemachine.State(Dead),
			},
		}).
		AddRule(&statemachine.Rule{
			From: statemachine.State(Restarting),
			To:   []statemachine.State{statemachine.State(PendingCreation)},
		}).
		Build()
	if err != nil {
		// Only possible on a malformed rule set (a programming error),
		// never on live data; the builder validates purely static
		// shape. Panicking here matches the teacher's treatment of
		// "can't happen" construction failures.
		log.WithError(err).WithField("actor", actorID.String()).Panic("invalid actor state machine rules")
	}
	return sm
}

// OnPending registers a listener invoked whenever an actor enters
// PENDING_CREATION. The Actor Scheduler is the sole subscriber.
func (m *Manager) OnPending(fn func(id.ID)) {
	m.onPending = append(m.onPending, fn)
}

func (m *Manager) firePending(actorID id.ID) {
	for _, fn := range m.onPending {
		fn(actorID)
	}
}

// Submit registers a new actor in DEPENDENCIES_UNREADY. Returns
// Invalid if name is non-empty and already claimed within namespace
// (spec.md §8: "Named actor collisions within the same namespace are
// rejected with Invalid; across namespaces are allowed.").
func (m *Manager) Submit(ctx context.Context, jobID id.ID, demand map[string]float64, maxRestarts int32, name, namespace string) (id.ID, *gcserrors.Error) {
	if name != "" {
		if ns, ok := m.named[namespace]; ok {
			if _, exists := ns[name]; exists {
				return id.Nil, gcserrors.New(gcserrors.Invalid, "actor name already registered in namespace")
			}
		}
	}

	actorID := id.New()
	info := Info{
		ID:                actorID,
		JobID:             jobID,
		State:             DependenciesUnready,
		Demand:            demand,
		MaxRestarts:       maxRestarts,
		RemainingRestarts: maxRestarts,
		Name:              name,
		Namespace:         namespace,
	}

	if err := m.table.Put(ctx, actorID, info); err != nil {
		return id.Nil, err
	}

	e := &entry{info: info, sm: newStateMachine(actorID, DependenciesUnready)}
	m.byID[actorID] = e
	m.index(actorID, &info)
	return actorID, nil
}

// MarkDependenciesReady transitions an actor from DEPENDENCIES_UNREADY
// to PENDING_CREATION once its creation task's arguments resolve, and
// notifies the scheduler.
func (m *Manager) MarkDependenciesReady(ctx context.Context, actorID id.ID) *gcserrors.Error {
	e, ok := m.byID[actorID]
	if !ok {
		return gcserrors.New(gcserrors.NotFound, "actor not found")
	}
	if e.info.State != DependenciesUnready {
		return nil
	}
	if err := m.transition(ctx, e, PendingCreation, "dependencies resolved"); err != nil {
		return err
	}
	m.firePending(actorID)
	return nil
}

// TryBeginScheduling claims the single outstanding-creation-attempt
// slot for an actor. Returns false if an attempt is already in flight
// (spec.md §8: "Number of outstanding creation attempts per actor
// <= 1."). Safe to call off the main loop.
func (m *Manager) TryBeginScheduling(actorID id.ID) bool {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	e, ok := m.byID[actorID]
	if !ok || e.scheduling {
		return false
	}
	e.scheduling = true
	return true
}

// EndScheduling releases the outstanding-creation-attempt slot,
// regardless of the attempt's outcome.
func (m *Manager) EndScheduling(actorID id.ID) {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	if e, ok := m.byID[actorID]; ok {
		e.scheduling = false
	}
}

// PendingActorIDs returns every actor currently in PENDING_CREATION,
// used by the Scheduler's NodeAdded listener to re-drive scheduling.
func (m *Manager) PendingActorIDs() []id.ID {
	out := make([]id.ID, 0)
	for actorID, e := range m.byID {
		if e.info.State == PendingCreation {
			out = append(out, actorID)
		}
	}
	return out
}

// OnCreationSucceeded transitions an actor to ALIVE once a raylet has
// acknowledged the creation RPC. Wired by the server shell to
// bus.OnActorCreationSucceeded.
func (m *Manager) OnCreationSucceeded(ctx context.Context, e eventbus.ActorCreationSucceeded) {
	ent, ok := m.byID[e.ActorID]
	if !ok || ent.info.State != PendingCreation {
		return
	}
	ent.info.AssignedNodeID = e.NodeID
	ent.info.AssignedWorkerID = e.WorkerID
	_ = m.transition(ctx, ent, Alive, "creation task succeeded")
}

// OnWorkerDead implements the restart-or-die branch of spec.md §4.10:
// ALIVE -> RESTARTING -> PENDING_CREATION when remaining_restarts > 0,
// otherwise ALIVE -> DEAD. Wired by the server shell to
// bus.OnWorkerDead.
func (m *Manager) OnWorkerDead(ctx context.Context, e eventbus.WorkerDead) {
	for actorID, ent := range m.byID {
		if ent.info.AssignedWorkerID != e.WorkerID || ent.info.State != Alive {
			continue
		}
		if e.HasCreationTaskExcept {
			ent.info.CreationTaskException = e.CreationTaskException
			ent.info.HasCreationTaskExcept = true
		}
		m.restartOrKill(ctx, actorID, ent, "worker died: "+e.ExitType)
	}
}

// OnNodeDead handles the case where an actor's assigned node dies
// before any WorkerDead event is observed (e.g. mid-creation, or the
// worker registry lags the node registry). Called by the server shell's
// NodeRemoved listener as its fifth step, after the resource,
// placement-group, worker and object managers (spec.md §5).
func (m *Manager) OnNodeDead(ctx context.Context, nodeID id.ID) {
	for actorID, ent := range m.byID {
		if ent.info.AssignedNodeID != nodeID || ent.info.State != Alive {
			continue
		}
		m.restartOrKill(ctx, actorID, ent, "assigned node died")
	}
}

func (m *Manager) restartOrKill(ctx context.Context, actorID id.ID, ent *entry, reason string) {
	if ent.info.RemainingRestarts > 0 {
		ent.info.RemainingRestarts--
		ent.info.AssignedNodeID = id.Nil
		ent.info.AssignedWorkerID = id.Nil
		if err := m.transition(ctx, ent, Restarting, reason); err != nil {
			log.WithError(err).WithField("actor", actorID.String()).Error("failed to persist RESTARTING transition")
			return
		}
		if err := m.transition(ctx, ent, PendingCreation, "restart re-queued"); err != nil {
			log.WithError(err).WithField("actor", actorID.String()).Error("failed to persist re-queue transition")
			return
		}
		m.firePending(actorID)
		return
	}
	m.kill(ctx, actorID, ent, reason)
}

// Kill explicitly terminates an actor regardless of remaining restarts
// (spec.md §4.10: "ALIVE -> DEAD on ... explicit Kill").
func (m *Manager) Kill(ctx context.Context, actorID id.ID, reason string) *gcserrors.Error {
	ent, ok := m.byID[actorID]
	if !ok {
		return gcserrors.New(gcserrors.NotFound, "actor not found")
	}
	if ent.info.State == Dead {
		return nil
	}
	m.kill(ctx, actorID, ent, reason)
	return nil
}

// OnJobFinished kills every non-dead actor owned by a finished job
// (spec.md §4.9, §8 scenario 4). Wired to job.Manager.OnFinish.
func (m *Manager) OnJobFinished(ctx context.Context, jobID id.ID) {
	for actorID := range m.byJob[jobID] {
		ent := m.byID[actorID]
		if ent == nil || ent.info.State == Dead {
			continue
		}
		m.kill(ctx, actorID, ent, "owning job finished")
	}
}

func (m *Manager) kill(ctx context.Context, actorID id.ID, ent *entry, reason string) {
	ent.info.DeathReason = reason
	if err := m.transition(ctx, ent, Dead, reason); err != nil {
		log.WithError(err).WithField("actor", actorID.String()).Error("failed to persist DEAD transition")
		return
	}

	if ent.info.Name != "" {
		if ns, ok := m.named[ent.info.Namespace]; ok {
			delete(ns, ent.info.Name)
		}
	}

	m.bus.PublishActorDead(eventbus.ActorDead{ActorID: actorID, JobID: ent.info.JobID})
	m.scheduleGC(actorID, ent)
}

// scheduleGC arms the delayed sweep that removes a DEAD actor's table
// row after gcGrace (spec.md §4.10 "Garbage collection").
func (m *Manager) scheduleGC(actorID id.ID, ent *entry) {
	ent.gcTimer = time.AfterFunc(m.gcGrace, func() {
		if err := m.table.Delete(context.Background(), actorID); err != nil {
			log.WithError(err).WithField("actor", actorID.String()).Warn("actor GC delete failed")
		}
		delete(m.byID, actorID)
	})
}

// CancelGC stops a pending GC sweep, e.g. during shutdown. Cancellation
// is logged but not fatal (spec.md §4.10).
func (m *Manager) CancelGC(actorID id.ID) {
	if e, ok := m.byID[actorID]; ok && e.gcTimer != nil {
		if !e.gcTimer.Stop() {
			log.WithField("actor", actorID.String()).Debug("GC timer already fired")
		}
	}
}

func (m *Manager) transition(ctx context.Context, ent *entry, to State, reason string) *gcserrors.Error {
	if err := ent.sm.TransitTo(statemachine.State(to), reason); err != nil {
		return gcserrors.Wrap(gcserrors.Invalid, err, "illegal actor state transition")
	}
	ent.info.State = to
	return m.table.Put(ctx, ent.info.ID, ent.info)
}

// Get returns an actor's current Info.
func (m *Manager) Get(actorID id.ID) (Info, *gcserrors.Error) {
	e, ok := m.byID[actorID]
	if !ok {
		return Info{}, gcserrors.New(gcserrors.NotFound, "actor not found")
	}
	return e.info, nil
}

// GetByName resolves a named actor within a namespace. The empty
// namespace only matches actors registered under the empty namespace
// (spec.md §9 Open Question, resolved conservatively).
func (m *Manager) GetByName(namespace, name string) (id.ID, bool) {
	ns, ok := m.named[namespace]
	if !ok {
		return id.Nil, false
	}
	actorID, ok := ns[name]
	return actorID, ok
}
