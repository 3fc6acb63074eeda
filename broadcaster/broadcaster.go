// Package broadcaster implements the Resource Broadcaster
// (spec.md §4.8): a periodic push of the aggregated cluster resource
// view to every alive raylet, gated by the
// grpc_based_resource_broadcast config flag.
package broadcaster

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/atomic"

	"github.com/jungbaepark/gcs/common/background"
	"github.com/jungbaepark/gcs/id"
	"github.com/jungbaepark/gcs/node"
	"github.com/jungbaepark/gcs/raylet"
	"github.com/jungbaepark/gcs/resource"
)

// Config controls broadcast cadence and whether broadcasting runs at
// all.
type Config struct {
	Enabled bool          `yaml:"grpc_based_resource_broadcast"`
	Period  time.Duration `yaml:"period"`
}

func (c Config) withDefaults() Config {
	if c.Period <= 0 {
		c.Period = time.Second
	}
	return c
}

// Manager periodically pushes GetResourceUsageBatchForBroadcast to
// every alive node's raylet client.
type Manager struct {
	conf     Config
	pool     *raylet.Pool
	nodes    *node.Manager
	resource *resource.Manager
	bgMgr    background.Manager
}

// NewManager constructs a Resource Broadcaster. If conf.Enabled is
// false, Start is a no-op (spec.md §4.8 Non-goal: "broadcast is purely
// opt-in").
func NewManager(conf Config, pool *raylet.Pool, nodes *node.Manager, resourceMgr *resource.Manager) (*Manager, error) {
	conf = conf.withDefaults()
	m := &Manager{conf: conf, pool: pool, nodes: nodes, resource: resourceMgr}

	if !conf.Enabled {
		return m, nil
	}

	bgMgr, err := background.NewManager(background.Work{
		Name:   "resource-broadcast",
		Period: conf.Period,
		Func:   m.broadcast,
	})
	if err != nil {
		return nil, err
	}
	m.bgMgr = bgMgr
	return m, nil
}

// Start begins periodic broadcasting, if enabled.
func (m *Manager) Start() {
	if m.bgMgr != nil {
		m.bgMgr.Start()
	}
}

// Stop halts periodic broadcasting, if enabled.
func (m *Manager) Stop() {
	if m.bgMgr != nil {
		m.bgMgr.Stop()
	}
}

// broadcast pushes the current aggregated usage batch to every alive
// node. Best-effort: a single raylet's failure does not block delivery
// to the rest (spec.md §4.8).
func (m *Manager) broadcast(_ *atomic.Bool) {
	batch := m.resource.GetResourceUsageBatchForBroadcast()
	if len(batch) == 0 {
		return
	}

	usage := make(map[string]raylet.ResourceUsageReport, len(batch))
	for nodeID, snap := range batch {
		usage[nodeID.String()] = raylet.ResourceUsageReport{
			Total:            snap.Total,
			Available:        snap.Available,
			Load:             snap.Load,
			ObjectStoreBytes: snap.ObjectStoreBytes,
			Sequence:         snap.Sequence,
		}
	}
	req := raylet.BroadcastRequest{Usage: usage}

	for _, info := range m.nodes.AliveNodes() {
		m.sendOne(info.ID, info.Address, req)
	}
}

func (m *Manager) sendOne(nodeID id.ID, addr node.Address, req raylet.BroadcastRequest) {
	c, err := m.pool.Get(addr)
	if err != nil {
		log.WithError(err).WithField("node", nodeID.String()).Warn("failed to get raylet client for broadcast")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.BroadcastResources(ctx, req); err != nil {
		log.WithError(err).WithField("node", nodeID.String()).Debug("resource broadcast failed")
	}
}
