package actor

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"

	"github.com/jungbaepark/gcs/common/goalstate"
	"github.com/jungbaepark/gcs/eventbus"
	"github.com/jungbaepark/gcs/gcserrors"
	"github.com/jungbaepark/gcs/id"
	"github.com/jungbaepark/gcs/node"
	"github.com/jungbaepark/gcs/raylet"
	"github.com/jungbaepark/gcs/resource"
)

// creationTimeout bounds a single CreateActor RPC attempt (spec.md §5:
// "Every outbound RPC has a deadline.").
const creationTimeout = 10 * time.Second

// Scheduler drives actor placement (spec.md §4.10). It is a goalstate
// consumer, not a pure function like the Resource Scheduler it wraps:
// PENDING_CREATION actors are enqueued into a goalstate.Engine, which
// retries infeasible or failed attempts with exponential backoff and
// stops retrying once an attempt succeeds, mirroring the teacher's
// resmgr/task goalstate-driven admission loop.
type Scheduler struct {
	mgr        *Manager
	nodes      *node.Manager
	resources  *resource.Manager
	rscheduler *resource.Scheduler
	pool       *raylet.Pool
	bus        *eventbus.Bus
	loop       *eventbus.MainLoop
	engine     goalstate.Engine
}

// NewScheduler constructs an Actor Scheduler. Call Start to begin
// processing and register OnPending/OnNodeAdded with the respective
// managers' event hooks.
func NewScheduler(
	mgr *Manager,
	nodes *node.Manager,
	resources *resource.Manager,
	rscheduler *resource.Scheduler,
	pool *raylet.Pool,
	bus *eventbus.Bus,
	loop *eventbus.MainLoop,
	scope tally.Scope,
) *Scheduler {
	s := &Scheduler{
		mgr:        mgr,
		nodes:      nodes,
		resources:  resources,
		rscheduler: rscheduler,
		pool:       pool,
		bus:        bus,
		loop:       loop,
	}
	s.engine = goalstate.NewEngine(4, 200*time.Millisecond, 30*time.Second, scope)
	return s
}

// Start begins the goalstate engine's dequeue loop.
func (s *Scheduler) Start() { s.engine.Start() }

// Stop halts the goalstate engine.
func (s *Scheduler) Stop() { s.engine.Stop() }

// OnPending enqueues an actor for immediate scheduling evaluation.
// Registered as the Actor Manager's OnPending listener.
func (s *Scheduler) OnPending(actorID id.ID) {
	s.engine.Enqueue(&goalEntity{actorID: actorID, s: s}, time.Now())
}

// OnNodeAdded re-drives every still-pending actor, matching spec.md
// §4.10's "scheduler is re-invoked when a new node is added (listener
// SchedulePendingActors)".
func (s *Scheduler) OnNodeAdded(e eventbus.NodeAdded) {
	for _, actorID := range s.mgr.PendingActorIDs() {
		s.engine.Enqueue(&goalEntity{actorID: actorID, s: s}, time.Now())
	}
}

// goalEntity adapts an actor id to goalstate.Entity. State/GoalState
// are placeholders: the Actor Manager's own state machine is the
// authority on legality, and the action list here never varies — it
// is always "try to place this actor".
type goalEntity struct {
	actorID id.ID
	s       *Scheduler
}

func (e *goalEntity) GetID() string             { return e.actorID.String() }
func (e *goalEntity) GetState() interface{}     { return "pending" }
func (e *goalEntity) GetGoalState() interface{} { return "scheduled" }

func (e *goalEntity) GetActionList(_ interface{}, _ interface{}) (context.Context, context.CancelFunc, []goalstate.Action) {
	ctx, cancel := context.WithTimeout(context.Background(), creationTimeout)
	return ctx, cancel, []goalstate.Action{{
		Name: "schedule_actor",
		Execute: func(ctx context.Context, _ goalstate.Entity) error {
			return e.s.attempt(ctx, e.actorID)
		},
	}}
}

// attempt performs a single scheduling attempt for actorID. It runs on
// a goalstate worker goroutine, off the main loop: reads of manager
// state are best-effort snapshots (the same tolerance the Resource
// Report Poller already relies on), and the RPC call is genuinely
// blocking I/O. State mutations (the resource reservation, its release
// on failure, and the creation result) are posted back onto the main
// loop. Returning a non-nil error causes the goalstate engine to
// retry with backoff; returning nil stops further retries for this
// enqueue.
func (s *Scheduler) attempt(ctx context.Context, actorID id.ID) error {
	info, gerr := s.mgr.Get(actorID)
	if gerr != nil || info.State != PendingCreation {
		return nil
	}
	if !s.mgr.TryBeginScheduling(actorID) {
		return nil
	}
	defer s.mgr.EndScheduling(actorID)

	snapshots := s.resources.All()
	nodeID, ok := s.rscheduler.SelectNode(resource.Demand(info.Demand), snapshots)
	if !ok {
		return gcserrors.New(gcserrors.Transient, "no feasible node for actor demand")
	}

	nodeInfo, gerr := s.nodes.Get(nodeID)
	if gerr != nil {
		return gcserrors.New(gcserrors.Transient, "selected node no longer alive")
	}

	client, err := s.pool.Get(nodeInfo.Address)
	if err != nil {
		return err
	}

	s.loop.Post(func() { s.resources.ApplyReservation(nodeID, info.Demand) })

	resp, err := client.CreateActor(ctx, raylet.CreateActorRequest{
		ActorID: actorID.String(),
		JobID:   info.JobID.String(),
		Demand:  info.Demand,
	})
	if err != nil || !resp.Succeeded {
		s.loop.Post(func() { s.resources.ReleaseReservation(nodeID, info.Demand) })
		if err == nil {
			err = errors.New(resp.ExceptionMessage)
		}
		log.WithError(err).WithField("actor", actorID.String()).
			WithField("node", nodeID.String()).Warn("actor creation attempt failed, will retry")
		return err
	}

	workerID := resp.WorkerID
	s.loop.Post(func() {
		s.bus.PublishActorCreationSucceeded(eventbus.ActorCreationSucceeded{
			ActorID:  actorID,
			NodeID:   nodeID,
			WorkerID: workerID,
		})
	})
	return nil
}
