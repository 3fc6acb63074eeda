package resource

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jungbaepark/gcs/id"
)

func snap(avail map[string]float64) Snapshot {
	return Snapshot{Total: avail, Available: avail}
}

func TestSelectNode_TieBreakLowestID(t *testing.T) {
	n1, n2 := id.New(), id.New()
	if n1.String() > n2.String() {
		n1, n2 = n2, n1
	}
	snapshots := map[id.ID]Snapshot{
		n1: snap(map[string]float64{"CPU": 4}),
		n2: snap(map[string]float64{"CPU": 4}),
	}

	s := NewScheduler()
	chosen, ok := s.SelectNode(Demand{"CPU": 2}, snapshots)
	require.True(t, ok)
	require.Equal(t, n1, chosen, "equal capacity ties should favor the lexicographically lower id")
}

func TestSelectNode_PrefersHighestRemainingCapacity(t *testing.T) {
	n1, n2 := id.New(), id.New()
	snapshots := map[id.ID]Snapshot{
		n1: snap(map[string]float64{"CPU": 2}),
		n2: snap(map[string]float64{"CPU": 8}),
	}

	s := NewScheduler()
	chosen, ok := s.SelectNode(Demand{"CPU": 1}, snapshots)
	require.True(t, ok)
	require.Equal(t, n2, chosen)
}

func TestSelectNode_Infeasible(t *testing.T) {
	n1 := id.New()
	snapshots := map[id.ID]Snapshot{
		n1: snap(map[string]float64{"CPU": 1}),
	}
	s := NewScheduler()
	_, ok := s.SelectNode(Demand{"CPU": 2}, snapshots)
	require.False(t, ok)
}

func TestSelectNodesForBundles_StrictSpreadInfeasibleWithOneNode(t *testing.T) {
	n1 := id.New()
	snapshots := map[id.ID]Snapshot{
		n1: snap(map[string]float64{"CPU": 4}),
	}
	bundles := []Demand{{"CPU": 1}, {"CPU": 1}}

	s := NewScheduler()
	_, ok := s.SelectNodesForBundles(bundles, StrictSpread, snapshots)
	require.False(t, ok, "strict spread needs one node per bundle")
}

func TestSelectNodesForBundles_StrictSpreadFeasibleWithTwoNodes(t *testing.T) {
	n1, n2 := id.New(), id.New()
	snapshots := map[id.ID]Snapshot{
		n1: snap(map[string]float64{"CPU": 1}),
		n2: snap(map[string]float64{"CPU": 1}),
	}
	bundles := []Demand{{"CPU": 1}, {"CPU": 1}}

	s := NewScheduler()
	nodes, ok := s.SelectNodesForBundles(bundles, StrictSpread, snapshots)
	require.True(t, ok)
	require.NotEqual(t, nodes[0], nodes[1])
}

func TestSelectNodesForBundles_StrictPackRequiresOneNode(t *testing.T) {
	n1, n2 := id.New(), id.New()
	snapshots := map[id.ID]Snapshot{
		n1: snap(map[string]float64{"CPU": 1}),
		n2: snap(map[string]float64{"CPU": 1}),
	}
	bundles := []Demand{{"CPU": 1}, {"CPU": 1}}

	s := NewScheduler()
	_, ok := s.SelectNodesForBundles(bundles, StrictPack, snapshots)
	require.False(t, ok, "no single node has capacity for both bundles")
}

func TestSelectNodesForBundles_PackMinimizesNodes(t *testing.T) {
	n1, n2 := id.New(), id.New()
	snapshots := map[id.ID]Snapshot{
		n1: snap(map[string]float64{"CPU": 4}),
		n2: snap(map[string]float64{"CPU": 4}),
	}
	bundles := []Demand{{"CPU": 1}, {"CPU": 1}}

	s := NewScheduler()
	nodes, ok := s.SelectNodesForBundles(bundles, Pack, snapshots)
	require.True(t, ok)
	require.Equal(t, nodes[0], nodes[1], "pack should reuse the same node")
}
