package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jungbaepark/gcs/id"
)

func TestBusPublishNodeRemovedFixedOrder(t *testing.T) {
	bus := NewBus()
	var order []string

	bus.OnNodeRemoved(func(NodeRemoved) { order = append(order, "resource") })
	bus.OnNodeRemoved(func(NodeRemoved) { order = append(order, "placementgroup") })
	bus.OnNodeRemoved(func(NodeRemoved) { order = append(order, "worker") })
	bus.OnNodeRemoved(func(NodeRemoved) { order = append(order, "object") })
	bus.OnNodeRemoved(func(NodeRemoved) { order = append(order, "actor") })

	nodeID := id.New()
	bus.PublishNodeRemoved(NodeRemoved{NodeID: nodeID})

	assert.Equal(t, []string{"resource", "placementgroup", "worker", "object", "actor"}, order)
}

func TestBusWorkerDeadDeliversPayload(t *testing.T) {
	bus := NewBus()
	var got WorkerDead
	bus.OnWorkerDead(func(e WorkerDead) { got = e })

	want := WorkerDead{WorkerID: id.New(), NodeID: id.New(), ExitType: "NODE_DIED"}
	bus.PublishWorkerDead(want)

	assert.Equal(t, want, got)
}

func TestBusJobFinishedMultipleListenersAllFire(t *testing.T) {
	bus := NewBus()
	calls := 0
	bus.OnJobFinished(func(JobFinished) { calls++ })
	bus.OnJobFinished(func(JobFinished) { calls++ })

	bus.PublishJobFinished(JobFinished{JobID: id.New()})

	assert.Equal(t, 2, calls)
}

func TestBusNoListenersIsANoop(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() {
		bus.PublishActorDead(ActorDead{ActorID: id.New()})
	})
}
