// Package heartbeat implements the Heartbeat Manager (spec.md §4.4): a
// per-node deadline tracker running on its own auxiliary loop, sweeping
// expired deadlines on a fixed tick and posting node-death events back
// to the main loop. Modeled on the teacher's common/background.Work
// cadence primitive.
package heartbeat

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/atomic"

	"github.com/jungbaepark/gcs/common/background"
	"github.com/jungbaepark/gcs/id"
)

// Config controls heartbeat cadence.
type Config struct {
	// TickInterval is how often the sweep runs.
	TickInterval time.Duration `yaml:"tick_interval"`
	// Deadline is how long a node may go without a heartbeat before
	// being declared dead. Expiry is strict inequality: a heartbeat
	// landing exactly on the deadline is not late (spec.md §8).
	Deadline time.Duration `yaml:"deadline"`
}

func (c Config) withDefaults() Config {
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
	if c.Deadline == 0 {
		c.Deadline = 10 * time.Second
	}
	return c
}

// Manager tracks per-node heartbeat deadlines on its own auxiliary
// loop. Its only cross-loop side effect is calling onNodeDead, which
// the Server Shell wires to post a closure onto the main loop.
type Manager struct {
	mu        sync.Mutex
	conf      Config
	deadlines map[id.ID]time.Time
	onDead    func(id.ID)

	bgMgr background.Manager
}

// NewManager creates a Heartbeat Manager. onNodeDead is invoked from
// the auxiliary loop's sweep goroutine — the Server Shell's wiring must
// post it onto the main loop rather than touch manager state directly.
func NewManager(conf Config, onNodeDead func(id.ID)) (*Manager, error) {
	conf = conf.withDefaults()
	m := &Manager{
		conf:      conf,
		deadlines: make(map[id.ID]time.Time),
		onDead:    onNodeDead,
	}

	bgMgr, err := background.NewManager(background.Work{
		Name:   "heartbeat-sweep",
		Period: conf.TickInterval,
		Func:   m.sweep,
	})
	if err != nil {
		return nil, err
	}
	m.bgMgr = bgMgr
	return m, nil
}

// Start begins the sweep. Per spec.md §4.4 and §5, this must only be
// called after the RPC server is serving, to avoid declaring nodes dead
// during RPC warmup, and it must stop before the RPC server shuts down.
func (m *Manager) Start() { m.bgMgr.Start() }

// Stop halts the sweep.
func (m *Manager) Stop() { m.bgMgr.Stop() }

// Add begins tracking a node, called when the Node Manager observes a
// NodeAdded event.
func (m *Manager) Add(nodeID id.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines[nodeID] = time.Now().Add(m.conf.Deadline)
}

// Remove stops tracking a node, called on NodeRemoved.
func (m *Manager) Remove(nodeID id.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadlines, nodeID)
}

// Beat refreshes a node's deadline.
func (m *Manager) Beat(nodeID id.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deadlines[nodeID]; !ok {
		return
	}
	m.deadlines[nodeID] = time.Now().Add(m.conf.Deadline)
}

func (m *Manager) sweep(_ *atomic.Bool) {
	now := time.Now()

	m.mu.Lock()
	var expired []id.ID
	for nodeID, deadline := range m.deadlines {
		// Strict inequality: exactly-at-deadline is not dead yet.
		if now.After(deadline) {
			expired = append(expired, nodeID)
		}
	}
	for _, nodeID := range expired {
		delete(m.deadlines, nodeID)
	}
	m.mu.Unlock()

	for _, nodeID := range expired {
		log.WithField("node_id", nodeID.String()).Warn("heartbeat deadline expired")
		m.onDead(nodeID)
	}
}
