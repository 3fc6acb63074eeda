package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jungbaepark/gcs/eventbus"
	"github.com/jungbaepark/gcs/id"
)

func TestManagerOnNodeAddSeedsEmptySnapshot(t *testing.T) {
	m := NewManager()
	nodeID := id.New()

	m.OnNodeAdd(eventbus.NodeAdded{NodeID: nodeID})

	snap, ok := m.Get(nodeID)
	assert.True(t, ok)
	assert.Empty(t, snap.Available)
}

func TestManagerOnNodeAddDoesNotClobberExistingReport(t *testing.T) {
	m := NewManager()
	nodeID := id.New()
	m.UpdateFromResourceReport(Report{NodeID: nodeID, Snapshot: Snapshot{
		Available: map[string]float64{"cpu": 4},
		Sequence:  1,
	}})

	m.OnNodeAdd(eventbus.NodeAdded{NodeID: nodeID})

	snap, ok := m.Get(nodeID)
	assert.True(t, ok)
	assert.Equal(t, 4.0, snap.Available["cpu"])
}

func TestManagerOnNodeDeadEvictsSnapshot(t *testing.T) {
	m := NewManager()
	nodeID := id.New()
	m.OnNodeAdd(eventbus.NodeAdded{NodeID: nodeID})

	m.OnNodeDead(eventbus.NodeRemoved{NodeID: nodeID})

	_, ok := m.Get(nodeID)
	assert.False(t, ok)
}

func TestUpdateFromResourceReportDiscardsOutOfOrder(t *testing.T) {
	m := NewManager()
	nodeID := id.New()

	applied := m.UpdateFromResourceReport(Report{NodeID: nodeID, Snapshot: Snapshot{Sequence: 5}})
	assert.True(t, applied)

	applied = m.UpdateFromResourceReport(Report{NodeID: nodeID, Snapshot: Snapshot{Sequence: 3}})
	assert.False(t, applied, "a lower sequence number must not overwrite a newer report")

	snap, _ := m.Get(nodeID)
	assert.Equal(t, uint64(5), snap.Sequence)
}

func TestUpdateFromResourceReportAppliesNewerSequence(t *testing.T) {
	m := NewManager()
	nodeID := id.New()

	m.UpdateFromResourceReport(Report{NodeID: nodeID, Snapshot: Snapshot{Sequence: 1}})
	applied := m.UpdateFromResourceReport(Report{NodeID: nodeID, Snapshot: Snapshot{Sequence: 2}})

	assert.True(t, applied)
	snap, _ := m.Get(nodeID)
	assert.Equal(t, uint64(2), snap.Sequence)
}

func TestApplyAndReleaseReservationRoundTrip(t *testing.T) {
	m := NewManager()
	nodeID := id.New()
	m.UpdateFromResourceReport(Report{NodeID: nodeID, Snapshot: Snapshot{
		Available: map[string]float64{"cpu": 8},
		Sequence:  1,
	}})

	m.ApplyReservation(nodeID, map[string]float64{"cpu": 3})
	snap, _ := m.Get(nodeID)
	assert.Equal(t, 5.0, snap.Available["cpu"])

	m.ReleaseReservation(nodeID, map[string]float64{"cpu": 3})
	snap, _ = m.Get(nodeID)
	assert.Equal(t, 8.0, snap.Available["cpu"])
}

func TestAllReturnsDefensiveCopy(t *testing.T) {
	m := NewManager()
	nodeID := id.New()
	m.OnNodeAdd(eventbus.NodeAdded{NodeID: nodeID})

	all := m.All()
	all[nodeID] = Snapshot{Available: map[string]float64{"cpu": 999}}

	snap, _ := m.Get(nodeID)
	assert.NotEqual(t, 999.0, snap.Available["cpu"])
}
