package eventbus

import "github.com/jungbaepark/gcs/id"

// The event types below are the cross-manager notifications the Server
// Shell wires at boot (spec.md §4.14, §5 ordering). Managers publish
// these; they never call into another manager's methods directly.

// NodeAdded is published by the Node Manager when a raylet registers.
type NodeAdded struct {
	NodeID id.ID
}

// NodeRemoved is published by the Node Manager when a node transitions
// to DEAD (heartbeat timeout or admin RPC).
type NodeRemoved struct {
	NodeID id.ID
}

// WorkerDead is published by the Worker Manager when a worker dies.
type WorkerDead struct {
	WorkerID              id.ID
	NodeID                id.ID
	ExitType              string
	CreationTaskException []byte
	HasCreationTaskExcept bool
}

// JobFinished is published by the Job Manager once MarkJobFinished's
// table write has committed.
type JobFinished struct {
	JobID id.ID
}

// ActorCreationSucceeded is published by the Actor Scheduler when a
// raylet acknowledges a creation RPC.
type ActorCreationSucceeded struct {
	ActorID  id.ID
	NodeID   id.ID
	WorkerID id.ID
}

// ActorDead is published by the Actor Manager on the final DEAD
// transition, after it has removed the actor from its own named-actor
// index; listeners carry the PG Manager fan-out described in spec.md
// §4.10 "Cleanup fan-out" and the actor pub/sub notification.
type ActorDead struct {
	ActorID id.ID
	JobID   id.ID
}

// Bus is a minimal typed pub/sub used for in-process cross-manager
// wiring. It is not the durable Pub/Sub Plane (see package pubsub) —
// it exists purely to let the Server Shell wire listeners without
// managers importing each other.
type Bus struct {
	nodeAdded              []func(NodeAdded)
	nodeRemoved            []func(NodeRemoved)
	workerDead             []func(WorkerDead)
	jobFinished            []func(JobFinished)
	actorCreationSucceeded []func(ActorCreationSucceeded)
	actorDead              []func(ActorDead)
}

// NewBus creates an empty event bus.
func NewBus() *Bus { return &Bus{} }

// OnNodeAdded registers a listener invoked, in registration order, when
// a NodeAdded event is published.
func (b *Bus) OnNodeAdded(fn func(NodeAdded)) { b.nodeAdded = append(b.nodeAdded, fn) }

// PublishNodeAdded fires all registered NodeAdded listeners in order.
func (b *Bus) PublishNodeAdded(e NodeAdded) {
	for _, fn := range b.nodeAdded {
		fn(e)
	}
}

// OnNodeRemoved registers a listener for NodeRemoved events.
func (b *Bus) OnNodeRemoved(fn func(NodeRemoved)) { b.nodeRemoved = append(b.nodeRemoved, fn) }

// PublishNodeRemoved fires all registered NodeRemoved listeners in
// registration order. The cross-manager order is fixed by the server
// shell, which registers a single listener that calls each manager in
// turn (see server.Shell.wireEvents).
func (b *Bus) PublishNodeRemoved(e NodeRemoved) {
	for _, fn := range b.nodeRemoved {
		fn(e)
	}
}

// OnWorkerDead registers a listener for WorkerDead events.
func (b *Bus) OnWorkerDead(fn func(WorkerDead)) { b.workerDead = append(b.workerDead, fn) }

// PublishWorkerDead fires all registered WorkerDead listeners in order.
func (b *Bus) PublishWorkerDead(e WorkerDead) {
	for _, fn := range b.workerDead {
		fn(e)
	}
}

// OnJobFinished registers a listener for JobFinished events.
func (b *Bus) OnJobFinished(fn func(JobFinished)) { b.jobFinished = append(b.jobFinished, fn) }

// PublishJobFinished fires all registered JobFinished listeners in
// registration order (spec.md §4.9).
func (b *Bus) PublishJobFinished(e JobFinished) {
	for _, fn := range b.jobFinished {
		fn(e)
	}
}

// OnActorCreationSucceeded registers a listener for successful actor
// creation RPCs.
func (b *Bus) OnActorCreationSucceeded(fn func(ActorCreationSucceeded)) {
	b.actorCreationSucceeded = append(b.actorCreationSucceeded, fn)
}

// PublishActorCreationSucceeded fires all registered listeners.
func (b *Bus) PublishActorCreationSucceeded(e ActorCreationSucceeded) {
	for _, fn := range b.actorCreationSucceeded {
		fn(e)
	}
}

// OnActorDead registers a listener for ActorDead events.
func (b *Bus) OnActorDead(fn func(ActorDead)) { b.actorDead = append(b.actorDead, fn) }

// PublishActorDead fires all registered ActorDead listeners.
func (b *Bus) PublishActorDead(e ActorDead) {
	for _, fn := range b.actorDead {
		fn(e)
	}
}
