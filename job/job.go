// Package job implements the Job Manager (spec.md §4.9): job
// lifecycle, namespaces, and finish listeners invoked in registration
// order after the table write for MarkJobFinished commits.
package job

import (
	"context"

	"github.com/jungbaepark/gcs/eventbus"
	"github.com/jungbaepark/gcs/gcserrors"
	"github.com/jungbaepark/gcs/id"
	"github.com/jungbaepark/gcs/table"
)

// State is the job lifecycle state (spec.md §3).
type State int

const (
	// Running is the initial state for a newly-added job.
	Running State = iota
	// Finished is terminal; MarkJobFinished is idempotent once reached.
	Finished
)

// Info is the durable record for a single job.
type Info struct {
	ID            id.ID
	Namespace     string
	DriverAddress string
	State         State
	Config        []byte
}

// Manager owns the job registry.
type Manager struct {
	table *table.Table[Info]
	bus   *eventbus.Bus

	jobs      map[id.ID]*Info
	finishers []func(id.ID)
}

// NewManager constructs a Job Manager backed by the given table.
func NewManager(t *table.Table[Info], bus *eventbus.Bus) *Manager {
	return &Manager{
		table: t,
		bus:   bus,
		jobs:  make(map[id.ID]*Info),
	}
}

// Name implements initdata.TableLoader.
func (m *Manager) Name() string { return "job" }

// Load implements initdata.TableLoader.
func (m *Manager) Load(ctx context.Context) error {
	all, err := m.table.GetAll(ctx)
	if err != nil {
		return err
	}
	for jobID, info := range all {
		info := info
		m.jobs[jobID] = &info
	}
	return nil
}

// OnFinish registers a listener invoked, in registration order, after a
// job's finish commits to the table. Callers (Actor Manager, PG
// Manager) use this for owning-job cleanup fan-out.
func (m *Manager) OnFinish(fn func(id.ID)) {
	m.finishers = append(m.finishers, fn)
}

// AddJob registers a new job as RUNNING.
func (m *Manager) AddJob(ctx context.Context, info Info) *gcserrors.Error {
	if info.ID.IsNil() {
		return gcserrors.New(gcserrors.Invalid, "job id must not be nil")
	}
	info.State = Running

	if err := m.table.Put(ctx, info.ID, info); err != nil {
		return err
	}
	m.jobs[info.ID] = &info
	return nil
}

// MarkJobFinished transitions a job to FINISHED, idempotently, and
// invokes registered finish listeners on success (spec.md §4.9:
// "Finishing is idempotent. Finish listeners run after the table write
// commits.").
func (m *Manager) MarkJobFinished(ctx context.Context, jobID id.ID) *gcserrors.Error {
	info, ok := m.jobs[jobID]
	if !ok {
		return gcserrors.New(gcserrors.NotFound, "job not found")
	}
	if info.State == Finished {
		return nil
	}

	info.State = Finished
	if err := m.table.Put(ctx, jobID, *info); err != nil {
		return err
	}

	for _, fn := range m.finishers {
		fn(jobID)
	}
	m.bus.PublishJobFinished(eventbus.JobFinished{JobID: jobID})
	return nil
}

// GetRayNamespace returns the namespace a job was submitted under.
func (m *Manager) GetRayNamespace(jobID id.ID) (string, *gcserrors.Error) {
	info, ok := m.jobs[jobID]
	if !ok {
		return "", gcserrors.New(gcserrors.NotFound, "job not found")
	}
	return info.Namespace, nil
}

// Get returns the current Info for a job.
func (m *Manager) Get(jobID id.ID) (Info, *gcserrors.Error) {
	info, ok := m.jobs[jobID]
	if !ok {
		return Info{}, gcserrors.New(gcserrors.NotFound, "job not found")
	}
	return *info, nil
}

// IsFinished reports whether a job has reached FINISHED.
func (m *Manager) IsFinished(jobID id.ID) bool {
	info, ok := m.jobs[jobID]
	return ok && info.State == Finished
}
