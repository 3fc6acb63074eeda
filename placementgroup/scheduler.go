package placementgroup

import (
	"context"
	"time"

	"github.com/uber-go/tally"

	"github.com/jungbaepark/gcs/common/goalstate"
	"github.com/jungbaepark/gcs/eventbus"
	"github.com/jungbaepark/gcs/gcserrors"
	"github.com/jungbaepark/gcs/id"
	"github.com/jungbaepark/gcs/resource"
)

// schedulingTimeout bounds a single bundle-placement attempt.
const schedulingTimeout = 10 * time.Second

// Scheduler drives placement-group bundle scheduling (spec.md §4.11):
// an all-or-nothing attempt per enqueue, retried with exponential
// backoff via goalstate.Engine until every bundle is Placed. The same
// engine also drives RESCHEDULING: a partial attempt that keeps
// surviving bundles fixed and only places the bundles a node death
// evicted.
type Scheduler struct {
	mgr        *Manager
	resources  *resource.Manager
	rscheduler *resource.Scheduler
	loop       *eventbus.MainLoop
	engine     goalstate.Engine
}

// NewScheduler constructs a Placement Group Scheduler.
func NewScheduler(mgr *Manager, resources *resource.Manager, rscheduler *resource.Scheduler, loop *eventbus.MainLoop, scope tally.Scope) *Scheduler {
	s := &Scheduler{mgr: mgr, resources: resources, rscheduler: rscheduler, loop: loop}
	s.engine = goalstate.NewEngine(4, 200*time.Millisecond, 30*time.Second, scope)
	return s
}

// Start begins the goalstate engine's dequeue loop.
func (s *Scheduler) Start() { s.engine.Start() }

// Stop halts the goalstate engine.
func (s *Scheduler) Stop() { s.engine.Stop() }

// OnPending enqueues a placement group for immediate evaluation.
// Registered as the PG Manager's OnPending listener.
func (s *Scheduler) OnPending(pgID id.ID) {
	s.engine.Enqueue(&goalEntity{pgID: pgID, s: s}, time.Now())
}

// OnNodeAdded re-drives every still-unplaced group, matching the
// actor scheduler's "SchedulePendingActors" analogue for groups.
func (s *Scheduler) OnNodeAdded(_ eventbus.NodeAdded) {
	for _, pgID := range s.mgr.PendingIDs() {
		s.engine.Enqueue(&goalEntity{pgID: pgID, s: s}, time.Now())
	}
}

type goalEntity struct {
	pgID id.ID
	s    *Scheduler
}

func (e *goalEntity) GetID() string             { return e.pgID.String() }
func (e *goalEntity) GetState() interface{}     { return "pending" }
func (e *goalEntity) GetGoalState() interface{} { return "created" }

func (e *goalEntity) GetActionList(_ interface{}, _ interface{}) (context.Context, context.CancelFunc, []goalstate.Action) {
	ctx, cancel := context.WithTimeout(context.Background(), schedulingTimeout)
	return ctx, cancel, []goalstate.Action{{
		Name: "schedule_placement_group",
		Execute: func(ctx context.Context, _ goalstate.Entity) error {
			return e.s.attempt(ctx, e.pgID)
		},
	}}
}

// attempt performs a single all-or-nothing placement pass for pgID.
// Already-Placed bundles on alive nodes are left untouched; only
// Unscheduled bundles are (re)considered, honoring each strategy's
// constraints jointly with the fixed bundles already committed.
func (s *Scheduler) attempt(_ context.Context, pgID id.ID) error {
	info, gerr := s.mgr.Get(pgID)
	if gerr != nil || (info.State != PgPending && info.State != PgRescheduling) {
		return nil
	}
	if !s.mgr.TryBeginScheduling(pgID) {
		return nil
	}
	defer s.mgr.EndScheduling(pgID)

	var missingIdx []int
	usedNodes := make(map[id.ID]struct{})
	for i, b := range info.Bundles {
		if b.State == Placed {
			usedNodes[b.NodeID] = struct{}{}
			continue
		}
		missingIdx = append(missingIdx, i)
	}
	if len(missingIdx) == 0 {
		return nil
	}

	missingDemands := make([]resource.Demand, len(missingIdx))
	for i, idx := range missingIdx {
		missingDemands[i] = resource.Demand(info.Bundles[idx].Demand)
	}

	snapshots := s.resources.All()

	var nodes []id.ID
	var ok bool
	switch info.Strategy {
	case resource.StrictSpread:
		filtered := excludeNodes(snapshots, usedNodes)
		nodes, ok = s.rscheduler.SelectNodesForBundles(missingDemands, resource.StrictSpread, filtered)
	case resource.StrictPack:
		if len(usedNodes) > 1 {
			// Invariant violated by construction (strict-pack never
			// places on more than one node); treat as infeasible.
			return gcserrors.New(gcserrors.Exhausted, "strict-pack group has bundles on more than one node")
		}
		if len(usedNodes) == 1 {
			var fixed id.ID
			for n := range usedNodes {
				fixed = n
			}
			snap, present := snapshots[fixed]
			if !present || !sumDemand(missingDemands).Fits(snap.Available) {
				return gcserrors.New(gcserrors.Transient, "strict-pack anchor node can no longer fit remaining bundles")
			}
			nodes = make([]id.ID, len(missingIdx))
			for i := range nodes {
				nodes[i] = fixed
			}
			ok = true
		} else {
			nodes, ok = s.rscheduler.SelectNodesForBundles(missingDemands, resource.StrictPack, snapshots)
		}
	default: // Pack, Spread
		nodes, ok = s.rscheduler.SelectNodesForBundles(missingDemands, info.Strategy, snapshots)
	}

	if !ok {
		return gcserrors.New(gcserrors.Transient, "no feasible placement for remaining bundles")
	}

	assignments := make(map[int]id.ID, len(missingIdx))
	for i, idx := range missingIdx {
		assignments[idx] = nodes[i]
	}

	s.loop.Post(func() {
		_ = s.mgr.ApplyPlacement(context.Background(), pgID, assignments)
	})
	return nil
}

func excludeNodes(snapshots map[id.ID]resource.Snapshot, exclude map[id.ID]struct{}) map[id.ID]resource.Snapshot {
	out := make(map[id.ID]resource.Snapshot, len(snapshots))
	for nodeID, snap := range snapshots {
		if _, skip := exclude[nodeID]; skip {
			continue
		}
		out[nodeID] = snap
	}
	return out
}

func sumDemand(demands []resource.Demand) resource.Demand {
	out := resource.Demand{}
	for _, d := range demands {
		for k, v := range d {
			out[k] += v
		}
	}
	return out
}
