// Package placementgroup implements the Placement Group Manager
// (spec.md §4.11): PG registry, per-bundle state, and the all-or-
// nothing scheduling/rescheduling lifecycle. Bundle scheduling itself
// lives in scheduler.go.
package placementgroup

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/jungbaepark/gcs/eventbus"
	"github.com/jungbaepark/gcs/gcserrors"
	"github.com/jungbaepark/gcs/id"
	"github.com/jungbaepark/gcs/resource"
	"github.com/jungbaepark/gcs/table"
)

// BundleState is a single bundle's placement state (spec.md §3).
type BundleState int

const (
	// Unscheduled means the bundle has never been placed, or its node
	// died and it is awaiting rescheduling.
	Unscheduled BundleState = iota
	// Pending means a placement attempt is in flight for this bundle's
	// group.
	Pending
	// Placed means the bundle is committed to an alive node.
	Placed
)

// State is the placement group's overall state (spec.md §3).
type State int

const (
	// PgPending means not every bundle is Placed yet.
	PgPending State = iota
	// PgCreated means every bundle is Placed on an alive node.
	PgCreated
	// PgRemoved is terminal.
	PgRemoved
	// PgRescheduling means a previously Created group lost a node and
	// is being repaired (spec.md §4.11: "previously placed bundles on
	// surviving nodes are retained; missing bundles are rescheduled").
	PgRescheduling
)

// Bundle is a single resource demand within a placement group.
type Bundle struct {
	Demand map[string]float64
	State  BundleState
	NodeID id.ID
}

// Info is the durable record for a single placement group.
type Info struct {
	ID       id.ID
	JobID    id.ID
	Strategy resource.Strategy
	Bundles  []Bundle
	State    State
	// Detached groups survive their owning actor's death; whether they
	// also survive their owning job's FINISHED transition is the open
	// question in spec.md §9, resolved via DetachedSurvivesJobFinish.
	Detached bool
}

type entry struct {
	info       Info
	scheduling bool
}

// Manager owns the placement-group registry.
type Manager struct {
	table *table.Table[Info]
	bus   *eventbus.Bus
	res   *resource.Manager

	// detachedSurvivesJobFinish resolves the open question in spec.md
	// §9: whether a detached PG outlives its owning job's FINISHED
	// transition. Configurable; default false matches the teacher's
	// removal-on-job-finish behavior.
	detachedSurvivesJobFinish bool

	byID  map[id.ID]*entry
	byJob map[id.ID]map[id.ID]struct{}

	onPending []func(id.ID)
}

// NewManager constructs a Placement Group Manager backed by the given
// table. detachedSurvivesJobFinish resolves the open question noted
// above.
func NewManager(t *table.Table[Info], bus *eventbus.Bus, res *resource.Manager, detachedSurvivesJobFinish bool) *Manager {
	return &Manager{
		table:                     t,
		bus:                       bus,
		res:                       res,
		detachedSurvivesJobFinish: detachedSurvivesJobFinish,
		byID:                      make(map[id.ID]*entry),
		byJob:                     make(map[id.ID]map[id.ID]struct{}),
	}
}

// Name implements initdata.TableLoader.
func (m *Manager) Name() string { return "placement_group" }

// Load implements initdata.TableLoader.
func (m *Manager) Load(ctx context.Context) error {
	all, err := m.table.GetAll(ctx)
	if err != nil {
		return err
	}
	for pgID, info := range all {
		info := info
		m.byID[pgID] = &entry{info: info}
		m.index(pgID, info.JobID)
	}
	return nil
}

func (m *Manager) index(pgID, jobID id.ID) {
	byJob, ok := m.byJob[jobID]
	if !ok {
		byJob = make(map[id.ID]struct{})
		m.byJob[jobID] = byJob
	}
	byJob[pgID] = struct{}{}
}

// OnPending registers a listener invoked when a PG becomes eligible
// for a scheduling attempt. The Placement Group Scheduler is the sole
// subscriber.
func (m *Manager) OnPending(fn func(id.ID)) { m.onPending = append(m.onPending, fn) }

func (m *Manager) firePending(pgID id.ID) {
	for _, fn := range m.onPending {
		fn(pgID)
	}
}

// CreateGroup registers a new placement group with every bundle
// Unscheduled, and notifies the scheduler.
func (m *Manager) CreateGroup(ctx context.Context, jobID id.ID, strategy resource.Strategy, demands []map[string]float64, detached bool) (id.ID, *gcserrors.Error) {
	if len(demands) == 0 {
		return id.Nil, gcserrors.New(gcserrors.Invalid, "placement group must have at least one bundle")
	}

	bundles := make([]Bundle, len(demands))
	for i, d := range demands {
		bundles[i] = Bundle{Demand: d, State: Unscheduled}
	}

	pgID := id.New()
	info := Info{ID: pgID, JobID: jobID, Strategy: strategy, Bundles: bundles, State: PgPending, Detached: detached}

	if err := m.table.Put(ctx, pgID, info); err != nil {
		return id.Nil, err
	}

	m.byID[pgID] = &entry{info: info}
	m.index(pgID, jobID)
	m.firePending(pgID)
	return pgID, nil
}

// TryBeginScheduling claims the scheduling-attempt slot for a PG, the
// same single-outstanding-attempt discipline used by the Actor
// Manager.
func (m *Manager) TryBeginScheduling(pgID id.ID) bool {
	e, ok := m.byID[pgID]
	if !ok || e.scheduling {
		return false
	}
	e.scheduling = true
	return true
}

// EndScheduling releases the scheduling-attempt slot.
func (m *Manager) EndScheduling(pgID id.ID) {
	if e, ok := m.byID[pgID]; ok {
		e.scheduling = false
	}
}

// PendingIDs returns every PG not in PgCreated, used to re-drive
// scheduling on NodeAdded.
func (m *Manager) PendingIDs() []id.ID {
	out := make([]id.ID, 0)
	for pgID, e := range m.byID {
		if e.info.State == PgPending || e.info.State == PgRescheduling {
			out = append(out, pgID)
		}
	}
	return out
}

// ApplyPlacement commits a scheduling attempt's result: the bundles at
// the given indices are marked Placed on the given nodes, and reserved
// against the Resource Manager. The group transitions to PgCreated iff
// every bundle is now Placed.
func (m *Manager) ApplyPlacement(ctx context.Context, pgID id.ID, assignments map[int]id.ID) *gcserrors.Error {
	e, ok := m.byID[pgID]
	if !ok {
		return gcserrors.New(gcserrors.NotFound, "placement group not found")
	}

	for idx, nodeID := range assignments {
		if idx < 0 || idx >= len(e.info.Bundles) {
			continue
		}
		b := &e.info.Bundles[idx]
		b.State = Placed
		b.NodeID = nodeID
		m.res.ApplyReservation(nodeID, b.Demand)
	}

	if allPlaced(e.info.Bundles) {
		e.info.State = PgCreated
	}
	return m.table.Put(ctx, pgID, e.info)
}

func allPlaced(bundles []Bundle) bool {
	for _, b := range bundles {
		if b.State != Placed {
			return false
		}
	}
	return true
}

// OnNodeDead transitions any CREATED group with a bundle on nodeID to
// RESCHEDULING, releases that bundle back to Unscheduled, and notifies
// the scheduler. Placed bundles on surviving nodes are left untouched
// (spec.md §4.11). Wired by the server shell as the second listener in
// the fixed NodeRemoved order (spec.md §5).
func (m *Manager) OnNodeDead(ctx context.Context, nodeID id.ID) {
	for pgID, e := range m.byID {
		if e.info.State != PgCreated && e.info.State != PgRescheduling {
			continue
		}
		affected := false
		for i := range e.info.Bundles {
			b := &e.info.Bundles[i]
			if b.State == Placed && b.NodeID == nodeID {
				b.State = Unscheduled
				b.NodeID = id.Nil
				affected = true
			}
		}
		if !affected {
			continue
		}
		e.info.State = PgRescheduling
		if err := m.table.Put(ctx, pgID, e.info); err != nil {
			log.WithError(err).WithField("placement_group", pgID.String()).Error("failed to persist RESCHEDULING transition")
		}
		m.firePending(pgID)
	}
}

// Remove marks a group REMOVED, idempotently, and releases every
// Placed bundle's reservation back to the Resource Manager (spec.md
// §4.11: "Removal is idempotent; removed PGs release their committed
// resources back to the Resource Manager.").
func (m *Manager) Remove(ctx context.Context, pgID id.ID) *gcserrors.Error {
	e, ok := m.byID[pgID]
	if !ok {
		return gcserrors.New(gcserrors.NotFound, "placement group not found")
	}
	if e.info.State == PgRemoved {
		return nil
	}

	for i := range e.info.Bundles {
		b := &e.info.Bundles[i]
		if b.State == Placed {
			m.res.ReleaseReservation(b.NodeID, b.Demand)
		}
		b.State = Unscheduled
		b.NodeID = id.Nil
	}
	e.info.State = PgRemoved

	if err := m.table.Put(ctx, pgID, e.info); err != nil {
		return err
	}
	if byJob, ok := m.byJob[e.info.JobID]; ok {
		delete(byJob, pgID)
	}
	return nil
}

// OnActorDead receives the ActorDead fan-out referenced by spec.md
// §4.10 and does nothing: this GCS tracks no per-actor PG ownership
// beyond the owning job, so no group is removed when an actor dies.
// Job-scoped cleanup is handled by OnJobFinished.
func (m *Manager) OnActorDead(_ eventbus.ActorDead) {}

// OnJobFinished removes every non-removed, non-detached group owned by
// a finished job (spec.md §4.9, §8 scenario 4). Detached groups are
// retained or removed per detachedSurvivesJobFinish (spec.md §9 Open
// Question).
func (m *Manager) OnJobFinished(ctx context.Context, jobID id.ID) {
	for pgID := range m.byJob[jobID] {
		e := m.byID[pgID]
		if e == nil || e.info.State == PgRemoved {
			continue
		}
		if e.info.Detached && m.detachedSurvivesJobFinish {
			continue
		}
		if err := m.Remove(ctx, pgID); err != nil {
			log.WithError(err).WithField("placement_group", pgID.String()).Error("failed to remove placement group on job finish")
		}
	}
}

// Get returns a placement group's current Info.
func (m *Manager) Get(pgID id.ID) (Info, *gcserrors.Error) {
	e, ok := m.byID[pgID]
	if !ok {
		return Info{}, gcserrors.New(gcserrors.NotFound, "placement group not found")
	}
	return e.info, nil
}
