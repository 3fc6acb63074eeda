// Package raylet is the GCS's outbound RPC client to worker nodes. It
// is the "raylet client pool" referenced throughout spec.md §4.7–§4.8,
// §4.10 and §5: shared across managers, serializing connect/disconnect
// and de-duplicating clients by raylet address (ip:port) rather than
// by node id, modeled on the teacher's
// common/eventstream.Client (a single-peer yarpc JSON client per remote
// endpoint).
package raylet

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.uber.org/yarpc"
	"go.uber.org/yarpc/encoding/json"
	"go.uber.org/yarpc/peer"
	"go.uber.org/yarpc/peer/hostport"
	"go.uber.org/yarpc/transport/http"

	"github.com/jungbaepark/gcs/id"
	"github.com/jungbaepark/gcs/node"
)

// ResourceUsageReport is what GetResourceUsage decodes into; field
// names are wire-stable across GCS restarts (spec.md §6).
type ResourceUsageReport struct {
	Total            map[string]float64
	Available        map[string]float64
	Load             map[string]float64
	ObjectStoreBytes uint64
	Sequence         uint64
}

// CreateActorRequest is sent to a raylet to create an actor.
type CreateActorRequest struct {
	ActorID  string
	JobID    string
	Demand   map[string]float64
}

// CreateActorResponse is the raylet's reply to CreateActorRequest.
type CreateActorResponse struct {
	Succeeded        bool
	WorkerID         id.ID
	ExceptionMessage string
}

// BroadcastRequest carries the aggregated usage batch pushed by the
// Resource Broadcaster (spec.md §4.8).
type BroadcastRequest struct {
	Usage map[string]ResourceUsageReport
}

// Client is the set of outbound calls the GCS makes to a single
// raylet.
type Client interface {
	GetResourceUsage(ctx context.Context) (ResourceUsageReport, error)
	CreateActor(ctx context.Context, req CreateActorRequest) (CreateActorResponse, error)
	BroadcastResources(ctx context.Context, req BroadcastRequest) error
}

type client struct {
	disp *yarpc.Dispatcher
	jc   json.Client
}

func (c *client) GetResourceUsage(ctx context.Context) (ResourceUsageReport, error) {
	var resp ResourceUsageReport
	err := c.jc.Call(ctx, "ResourceReport.Get", struct{}{}, &resp)
	return resp, err
}

func (c *client) CreateActor(ctx context.Context, req CreateActorRequest) (CreateActorResponse, error) {
	var resp CreateActorResponse
	err := c.jc.Call(ctx, "Actor.Create", &req, &resp)
	return resp, err
}

func (c *client) BroadcastResources(ctx context.Context, req BroadcastRequest) error {
	var resp struct{}
	err := c.jc.Call(ctx, "ResourceReport.Broadcast", &req, &resp)
	return err
}

// Pool is the shared raylet client pool (spec.md §5 "Shared
// resources"): it serializes connect/disconnect and de-duplicates
// clients by raylet address (ip:port), not by node id, so the Report
// Poller, Broadcaster and Actor
// Scheduler never open redundant connections to the same raylet.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*pooledClient
	caller  string
}

type pooledClient struct {
	disp *yarpc.Dispatcher
	Client
}

// NewPool creates an empty raylet client pool. caller is this GCS
// instance's yarpc caller name, used on every outbound call.
func NewPool(caller string) *Pool {
	return &Pool{clients: make(map[string]*pooledClient), caller: caller}
}

// Get returns the cached client for addr, dialing and connecting one
// on first use. Connect/disconnect is serialized by p.mu so concurrent
// callers (report poller, broadcaster, actor scheduler) never race to
// open duplicate connections to the same raylet.
func (p *Pool) Get(addr node.Address) (Client, error) {
	key := fmt.Sprintf("%s:%d", addr.IP, addr.Port)

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	httpTransport := http.NewTransport()
	chooser := peer.NewSingle(hostport.Identify(key), httpTransport)
	out := httpTransport.NewOutbound(chooser)
	disp := yarpc.NewDispatcher(yarpc.Config{
		Name:      p.caller,
		Outbounds: yarpc.Outbounds{"raylet": {Unary: out}},
	})
	if err := disp.Start(); err != nil {
		return nil, err
	}

	c := &pooledClient{
		disp:   disp,
		Client: &client{jc: json.New(disp.ClientConfig("raylet"))},
	}
	p.clients[key] = c
	log.WithField("raylet", key).Debug("opened raylet client")
	return c, nil
}

// Disconnect tears down and drops the cached client for a node, called
// on NodeRemoved (spec.md §5 ordering: "... then raylet-client-pool
// disconnect"). A no-op if no client was ever opened for addr.
func (p *Pool) Disconnect(addr node.Address) {
	key := fmt.Sprintf("%s:%d", addr.IP, addr.Port)

	p.mu.Lock()
	c, ok := p.clients[key]
	delete(p.clients, key)
	p.mu.Unlock()

	if !ok {
		return
	}
	if err := c.disp.Stop(); err != nil {
		log.WithError(err).WithField("raylet", key).Warn("error stopping raylet dispatcher")
	}
	log.WithField("raylet", key).Debug("disconnected raylet client")
}
