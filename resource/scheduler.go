package resource

import (
	"sort"

	"github.com/jungbaepark/gcs/id"
)

// Strategy is a placement-group bundle-spread strategy (spec.md §3,
// §4.11). Only SelectNodesForBundles takes a Strategy; SelectNode
// (single-demand actor placement) takes none and always prefers the
// node with the most remaining capacity.
type Strategy int

const (
	// Pack minimizes the number of distinct nodes used.
	Pack Strategy = iota
	// Spread maximizes the number of distinct nodes used.
	Spread
	// StrictPack requires every bundle on a single node, infeasible
	// otherwise.
	StrictPack
	// StrictSpread requires each bundle on a distinct node, infeasible
	// otherwise.
	StrictSpread
)

// Demand is a single resource ask (an actor's resource requirement, or
// one placement-group bundle).
type Demand map[string]float64

// Fits reports whether available can satisfy demand.
func (d Demand) Fits(available map[string]float64) bool {
	for k, v := range d {
		if available[k] < v {
			return false
		}
	}
	return true
}

// Scheduler is a pure function over a Resource Manager snapshot: given
// a demand and policy, it returns a chosen node or reports infeasible.
// It never mutates state (spec.md §4.6).
type Scheduler struct{}

// NewScheduler constructs a stateless Resource Scheduler.
func NewScheduler() *Scheduler { return &Scheduler{} }

// candidate is an alive node considered for a demand.
type candidate struct {
	nodeID    id.ID
	remaining float64 // sum of available resources, used for the capacity tie-break
}

// SelectNode picks a single node for demand among the given alive
// snapshots. Tie-breaks: (i) highest remaining capacity; (ii) lowest
// node id lexicographically (spec.md §4.6). Returns false if no node
// is feasible.
func (s *Scheduler) SelectNode(demand Demand, snapshots map[id.ID]Snapshot) (id.ID, bool) {
	var candidates []candidate
	for nodeID, snap := range snapshots {
		if !demand.Fits(snap.Available) {
			continue
		}
		candidates = append(candidates, candidate{nodeID: nodeID, remaining: sum(snap.Available)})
	}
	if len(candidates) == 0 {
		return id.Nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].remaining != candidates[j].remaining {
			return candidates[i].remaining > candidates[j].remaining
		}
		return candidates[i].nodeID.String() < candidates[j].nodeID.String()
	})
	return candidates[0].nodeID, true
}

// SelectNodesForBundles performs all-or-nothing placement of a
// placement group's bundles under the given strategy (spec.md §4.11).
// Returns the chosen node for each bundle index, in order, or false if
// the strategy's constraints cannot be satisfied by any combination of
// alive nodes.
func (s *Scheduler) SelectNodesForBundles(bundles []Demand, strategy Strategy, snapshots map[id.ID]Snapshot) ([]id.ID, bool) {
	switch strategy {
	case StrictPack:
		return s.selectStrictPack(bundles, snapshots)
	case StrictSpread:
		return s.selectStrictSpread(bundles, snapshots)
	case Spread:
		return s.selectSpread(bundles, snapshots)
	default: // Pack
		return s.selectPack(bundles, snapshots)
	}
}

// selectStrictPack requires every bundle to fit on one node.
func (s *Scheduler) selectStrictPack(bundles []Demand, snapshots map[id.ID]Snapshot) ([]id.ID, bool) {
	nodes := sortedNodeIDs(snapshots)
	for _, nodeID := range nodes {
		avail := cloneMap(snapshots[nodeID].Available)
		ok := true
		for _, d := range bundles {
			if !d.Fits(avail) {
				ok = false
				break
			}
			for k, v := range d {
				avail[k] -= v
			}
		}
		if ok {
			out := make([]id.ID, len(bundles))
			for i := range out {
				out[i] = nodeID
			}
			return out, true
		}
	}
	return nil, false
}

// selectStrictSpread requires each bundle on a distinct node.
func (s *Scheduler) selectStrictSpread(bundles []Demand, snapshots map[id.ID]Snapshot) ([]id.ID, bool) {
	nodes := sortedNodeIDs(snapshots)
	if len(nodes) < len(bundles) {
		return nil, false
	}
	used := make(map[id.ID]bool)
	out := make([]id.ID, len(bundles))
	for i, d := range bundles {
		placed := false
		for _, nodeID := range nodes {
			if used[nodeID] {
				continue
			}
			if d.Fits(snapshots[nodeID].Available) {
				out[i] = nodeID
				used[nodeID] = true
				placed = true
				break
			}
		}
		if !placed {
			return nil, false
		}
	}
	return out, true
}

// selectPack greedily reuses the most-loaded-but-still-fitting node
// across bundles, minimizing distinct node count; falls back across
// nodes as capacity is exhausted.
func (s *Scheduler) selectPack(bundles []Demand, snapshots map[id.ID]Snapshot) ([]id.ID, bool) {
	working := make(map[id.ID]map[string]float64, len(snapshots))
	for k, v := range snapshots {
		working[k] = cloneMap(v.Available)
	}
	nodes := sortedNodeIDs(snapshots)

	out := make([]id.ID, len(bundles))
	for i, d := range bundles {
		var best id.ID
		bestRemaining := -1.0
		found := false
		for _, nodeID := range nodes {
			if !d.Fits(working[nodeID]) {
				continue
			}
			remaining := sum(working[nodeID])
			if !found || remaining < bestRemaining ||
				(remaining == bestRemaining && nodeID.String() < best.String()) {
				best = nodeID
				bestRemaining = remaining
				found = true
			}
		}
		if !found {
			return nil, false
		}
		for k, v := range d {
			working[best][k] -= v
		}
		out[i] = best
	}
	return out, true
}

// selectSpread greedily assigns each bundle to the least-loaded
// currently-fitting node, maximizing distinct node count.
func (s *Scheduler) selectSpread(bundles []Demand, snapshots map[id.ID]Snapshot) ([]id.ID, bool) {
	working := make(map[id.ID]map[string]float64, len(snapshots))
	for k, v := range snapshots {
		working[k] = cloneMap(v.Available)
	}
	nodes := sortedNodeIDs(snapshots)

	used := make(map[id.ID]int)
	out := make([]id.ID, len(bundles))
	for i, d := range bundles {
		var best id.ID
		bestScore := -1.0
		found := false
		for _, nodeID := range nodes {
			if !d.Fits(working[nodeID]) {
				continue
			}
			// Prefer nodes used fewer times so far (spread), then
			// highest remaining capacity, then lowest id.
			score := -float64(used[nodeID])*1e9 + sum(working[nodeID])
			if !found || score > bestScore ||
				(score == bestScore && nodeID.String() < best.String()) {
				best = nodeID
				bestScore = score
				found = true
			}
		}
		if !found {
			return nil, false
		}
		for k, v := range d {
			working[best][k] -= v
		}
		used[best]++
		out[i] = best
	}
	return out, true
}

func sum(m map[string]float64) float64 {
	var total float64
	for _, v := range m {
		total += v
	}
	return total
}

func sortedNodeIDs(snapshots map[id.ID]Snapshot) []id.ID {
	out := make([]id.ID, 0, len(snapshots))
	for k := range snapshots {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
