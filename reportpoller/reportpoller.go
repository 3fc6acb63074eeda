// Package reportpoller implements the Resource Report Poller
// (spec.md §4.7): one polling stream per alive node, opened on
// NodeAdded and closed on NodeRemoved, forwarding successful resource
// reports to the Resource Manager on the main loop.
package reportpoller

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/atomic"

	"github.com/jungbaepark/gcs/common/background"
	"github.com/jungbaepark/gcs/eventbus"
	"github.com/jungbaepark/gcs/id"
	"github.com/jungbaepark/gcs/node"
	"github.com/jungbaepark/gcs/raylet"
	"github.com/jungbaepark/gcs/resource"
)

// Config controls polling cadence.
type Config struct {
	Period time.Duration `yaml:"period"`
}

func (c Config) withDefaults() Config {
	if c.Period <= 0 {
		c.Period = 500 * time.Millisecond
	}
	return c
}

// Manager owns one background poller per alive node.
type Manager struct {
	conf     Config
	pool     *raylet.Pool
	nodes    *node.Manager
	resource *resource.Manager
	loop     *eventbus.MainLoop

	pollers map[id.ID]background.Manager
}

// NewManager constructs a Resource Report Poller. It is wired to
// NodeAdded/NodeRemoved on the event bus by the server shell; ordering
// relative to the Resource Manager's own listeners does not matter —
// report delivery tolerates a momentarily-unseeded node snapshot.
func NewManager(conf Config, pool *raylet.Pool, nodes *node.Manager, resourceMgr *resource.Manager, loop *eventbus.MainLoop) *Manager {
	return &Manager{
		conf:     conf.withDefaults(),
		pool:     pool,
		nodes:    nodes,
		resource: resourceMgr,
		loop:     loop,
		pollers:  make(map[id.ID]background.Manager),
	}
}

// OnNodeAdded opens a polling stream for a newly-registered node.
func (m *Manager) OnNodeAdded(e eventbus.NodeAdded) {
	if _, ok := m.pollers[e.NodeID]; ok {
		return
	}

	nodeID := e.NodeID
	bgMgr, err := background.NewManager(background.Work{
		Name:   "report-poll-" + nodeID.String(),
		Period: m.conf.Period,
		Func: func(_ *atomic.Bool) {
			m.poll(nodeID)
		},
	})
	if err != nil {
		log.WithError(err).WithField("node", nodeID.String()).Error("failed to register report poller")
		return
	}
	m.pollers[nodeID] = bgMgr
	bgMgr.Start()
}

// OnNodeRemoved closes the polling stream for a node that left the
// alive set. It does not touch the raylet pool; the server shell
// disconnects the node's pooled client at the end of its NodeRemoved
// listener.
func (m *Manager) OnNodeRemoved(e eventbus.NodeRemoved) {
	if bgMgr, ok := m.pollers[e.NodeID]; ok {
		bgMgr.Stop()
		delete(m.pollers, e.NodeID)
	}
}

// poll issues a single GetResourceUsage RPC and forwards a successful
// response to the Resource Manager on the main loop. Runs off the main
// loop (it's called from a background ticker goroutine); only the
// Resource Manager update itself is posted back on.
func (m *Manager) poll(nodeID id.ID) {
	info, gerr := m.nodes.Get(nodeID)
	if gerr != nil {
		return // node went dead between tick scheduling and firing
	}

	c, err := m.pool.Get(info.Address)
	if err != nil {
		log.WithError(err).WithField("node", nodeID.String()).Warn("failed to get raylet client")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	usage, err := c.GetResourceUsage(ctx)
	if err != nil {
		log.WithError(err).WithField("node", nodeID.String()).Debug("resource report poll failed")
		return
	}

	report := resource.Report{
		NodeID: nodeID,
		Snapshot: resource.Snapshot{
			Total:            usage.Total,
			Available:        usage.Available,
			Load:             usage.Load,
			ObjectStoreBytes: usage.ObjectStoreBytes,
			Sequence:         usage.Sequence,
		},
	}
	m.loop.Post(func() {
		if !m.resource.UpdateFromResourceReport(report) {
			log.WithField("node", nodeID.String()).Debug("discarded out-of-order resource report")
		}
	})
}
