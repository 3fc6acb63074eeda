package server

import (
	"context"

	"go.uber.org/yarpc/encoding/json"

	"github.com/jungbaepark/gcs/actor"
	"github.com/jungbaepark/gcs/gcserrors"
	"github.com/jungbaepark/gcs/id"
	"github.com/jungbaepark/gcs/job"
	"github.com/jungbaepark/gcs/node"
	"github.com/jungbaepark/gcs/object"
	"github.com/jungbaepark/gcs/placementgroup"
	"github.com/jungbaepark/gcs/resource"
	"github.com/jungbaepark/gcs/worker"
)

// errString renders a *gcserrors.Error for the JSON wire, empty on
// success, matching the teacher's convention of carrying typed errors
// as a string field rather than a transport-level fault (spec.md §4.14:
// callers distinguish Kind by parsing the returned reason).
func errString(err *gcserrors.Error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// call posts fn onto the main loop and blocks for its result, the
// synchronous request/response bridge every inbound RPC handler uses
// to respect the single-writer discipline (eventbus.MainLoop's own
// doc comment: "RPC handlers ... post closures instead of touching
// manager state directly").
func (s *Shell) call(fn func() *gcserrors.Error) *gcserrors.Error {
	done := make(chan *gcserrors.Error, 1)
	s.loop.Post(func() { done <- fn() })
	return <-done
}

// registerProcedures wires the GCS's inbound JSON-RPC surface onto the
// dispatcher, grounded on raylet/client.go's JSON client: every
// procedure name and payload shape here is the server half of the
// contract a raylet or a driver client dials.
func (s *Shell) registerProcedures() {
	json.Register(s.dispatcher, json.Procedure("Node.Register", s.handleNodeRegister))
	json.Register(s.dispatcher, json.Procedure("Node.Heartbeat", s.handleNodeHeartbeat))
	json.Register(s.dispatcher, json.Procedure("Node.Remove", s.handleNodeRemove))

	json.Register(s.dispatcher, json.Procedure("Job.Add", s.handleJobAdd))
	json.Register(s.dispatcher, json.Procedure("Job.MarkFinished", s.handleJobMarkFinished))
	json.Register(s.dispatcher, json.Procedure("Job.Get", s.handleJobGet))

	json.Register(s.dispatcher, json.Procedure("Worker.Register", s.handleWorkerRegister))
	json.Register(s.dispatcher, json.Procedure("Worker.MarkDead", s.handleWorkerMarkDead))
	json.Register(s.dispatcher, json.Procedure("Worker.Get", s.handleWorkerGet))

	json.Register(s.dispatcher, json.Procedure("Actor.Submit", s.handleActorSubmit))
	json.Register(s.dispatcher, json.Procedure("Actor.MarkDependenciesReady", s.handleActorMarkDependenciesReady))
	json.Register(s.dispatcher, json.Procedure("Actor.Kill", s.handleActorKill))
	json.Register(s.dispatcher, json.Procedure("Actor.Get", s.handleActorGet))
	json.Register(s.dispatcher, json.Procedure("Actor.GetByName", s.handleActorGetByName))

	json.Register(s.dispatcher, json.Procedure("PlacementGroup.Create", s.handlePGCreate))
	json.Register(s.dispatcher, json.Procedure("PlacementGroup.Remove", s.handlePGRemove))
	json.Register(s.dispatcher, json.Procedure("PlacementGroup.Get", s.handlePGGet))

	json.Register(s.dispatcher, json.Procedure("Object.Register", s.handleObjectRegister))
	json.Register(s.dispatcher, json.Procedure("Object.AddLocation", s.handleObjectAddLocation))
	json.Register(s.dispatcher, json.Procedure("Object.Get", s.handleObjectGet))
}

// --- Node ---

type nodeRegisterRequest struct {
	NodeID    string
	IP        string
	Port      int
	Resources map[string]float64
}

type errorResponse struct {
	Error string
}

func (s *Shell) handleNodeRegister(ctx context.Context, req *nodeRegisterRequest) (*errorResponse, error) {
	nodeID, err := id.Parse(req.NodeID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	gerr := s.call(func() *gcserrors.Error {
		return s.nodes.Register(ctx, nodeID, node.Address{IP: req.IP, Port: req.Port}, req.Resources)
	})
	return &errorResponse{Error: errString(gerr)}, nil
}

type nodeHeartbeatRequest struct {
	NodeID string
}

func (s *Shell) handleNodeHeartbeat(ctx context.Context, req *nodeHeartbeatRequest) (*errorResponse, error) {
	nodeID, err := id.Parse(req.NodeID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	s.hb.Beat(nodeID)
	return &errorResponse{}, nil
}

type nodeRemoveRequest struct {
	NodeID string
}

func (s *Shell) handleNodeRemove(ctx context.Context, req *nodeRemoveRequest) (*errorResponse, error) {
	nodeID, err := id.Parse(req.NodeID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	gerr := s.call(func() *gcserrors.Error {
		return s.nodes.OnNodeFailure(ctx, nodeID)
	})
	return &errorResponse{Error: errString(gerr)}, nil
}

// --- Job ---

type jobAddRequest struct {
	JobID         string
	Namespace     string
	DriverAddress string
	Config        []byte
}

func (s *Shell) handleJobAdd(ctx context.Context, req *jobAddRequest) (*errorResponse, error) {
	jobID, err := id.Parse(req.JobID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	gerr := s.call(func() *gcserrors.Error {
		return s.jobs.AddJob(ctx, job.Info{
			ID:            jobID,
			Namespace:     req.Namespace,
			DriverAddress: req.DriverAddress,
			Config:        req.Config,
		})
	})
	return &errorResponse{Error: errString(gerr)}, nil
}

type jobFinishRequest struct {
	JobID string
}

func (s *Shell) handleJobMarkFinished(ctx context.Context, req *jobFinishRequest) (*errorResponse, error) {
	jobID, err := id.Parse(req.JobID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	gerr := s.call(func() *gcserrors.Error {
		return s.jobs.MarkJobFinished(ctx, jobID)
	})
	return &errorResponse{Error: errString(gerr)}, nil
}

type jobGetRequest struct {
	JobID string
}

type jobGetResponse struct {
	Info  job.Info
	Error string
}

func (s *Shell) handleJobGet(ctx context.Context, req *jobGetRequest) (*jobGetResponse, error) {
	jobID, err := id.Parse(req.JobID)
	if err != nil {
		return &jobGetResponse{Error: err.Error()}, nil
	}
	var info job.Info
	gerr := s.call(func() *gcserrors.Error {
		var gerr *gcserrors.Error
		info, gerr = s.jobs.Get(jobID)
		return gerr
	})
	return &jobGetResponse{Info: info, Error: errString(gerr)}, nil
}

// --- Worker ---

type workerRegisterRequest struct {
	WorkerID string
	NodeID   string
}

func (s *Shell) handleWorkerRegister(ctx context.Context, req *workerRegisterRequest) (*errorResponse, error) {
	workerID, err := id.Parse(req.WorkerID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	nodeID, err := id.Parse(req.NodeID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	gerr := s.call(func() *gcserrors.Error {
		return s.workers.Register(ctx, workerID, nodeID)
	})
	return &errorResponse{Error: errString(gerr)}, nil
}

type workerMarkDeadRequest struct {
	WorkerID              string
	ExitType              string
	CreationTaskException []byte
}

func (s *Shell) handleWorkerMarkDead(ctx context.Context, req *workerMarkDeadRequest) (*errorResponse, error) {
	workerID, err := id.Parse(req.WorkerID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	gerr := s.call(func() *gcserrors.Error {
		return s.workers.MarkDead(ctx, workerID, req.ExitType, req.CreationTaskException)
	})
	return &errorResponse{Error: errString(gerr)}, nil
}

type workerGetRequest struct {
	WorkerID string
}

type workerGetResponse struct {
	Info  worker.Info
	Error string
}

func (s *Shell) handleWorkerGet(ctx context.Context, req *workerGetRequest) (*workerGetResponse, error) {
	workerID, err := id.Parse(req.WorkerID)
	if err != nil {
		return &workerGetResponse{Error: err.Error()}, nil
	}
	var info worker.Info
	gerr := s.call(func() *gcserrors.Error {
		var gerr *gcserrors.Error
		info, gerr = s.workers.Get(workerID)
		return gerr
	})
	return &workerGetResponse{Info: info, Error: errString(gerr)}, nil
}

// --- Actor ---

type actorSubmitRequest struct {
	JobID       string
	Demand      map[string]float64
	MaxRestarts int32
	Name        string
	Namespace   string
}

type actorSubmitResponse struct {
	ActorID string
	Error   string
}

func (s *Shell) handleActorSubmit(ctx context.Context, req *actorSubmitRequest) (*actorSubmitResponse, error) {
	jobID, err := id.Parse(req.JobID)
	if err != nil {
		return &actorSubmitResponse{Error: err.Error()}, nil
	}
	var actorID id.ID
	gerr := s.call(func() *gcserrors.Error {
		var gerr *gcserrors.Error
		actorID, gerr = s.actors.Submit(ctx, jobID, req.Demand, req.MaxRestarts, req.Name, req.Namespace)
		return gerr
	})
	out := &actorSubmitResponse{Error: errString(gerr)}
	if gerr == nil {
		out.ActorID = actorID.String()
	}
	return out, nil
}

type actorIDRequest struct {
	ActorID string
}

func (s *Shell) handleActorMarkDependenciesReady(ctx context.Context, req *actorIDRequest) (*errorResponse, error) {
	actorID, err := id.Parse(req.ActorID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	gerr := s.call(func() *gcserrors.Error {
		return s.actors.MarkDependenciesReady(ctx, actorID)
	})
	return &errorResponse{Error: errString(gerr)}, nil
}

type actorKillRequest struct {
	ActorID string
	Reason  string
}

func (s *Shell) handleActorKill(ctx context.Context, req *actorKillRequest) (*errorResponse, error) {
	actorID, err := id.Parse(req.ActorID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	gerr := s.call(func() *gcserrors.Error {
		return s.actors.Kill(ctx, actorID, req.Reason)
	})
	return &errorResponse{Error: errString(gerr)}, nil
}

type actorGetResponse struct {
	Info  actor.Info
	Error string
}

func (s *Shell) handleActorGet(ctx context.Context, req *actorIDRequest) (*actorGetResponse, error) {
	actorID, err := id.Parse(req.ActorID)
	if err != nil {
		return &actorGetResponse{Error: err.Error()}, nil
	}
	var info actor.Info
	gerr := s.call(func() *gcserrors.Error {
		var gerr *gcserrors.Error
		info, gerr = s.actors.Get(actorID)
		return gerr
	})
	return &actorGetResponse{Info: info, Error: errString(gerr)}, nil
}

type actorGetByNameRequest struct {
	Namespace string
	Name      string
}

type actorGetByNameResponse struct {
	ActorID string
	Found   bool
}

func (s *Shell) handleActorGetByName(ctx context.Context, req *actorGetByNameRequest) (*actorGetByNameResponse, error) {
	var actorID id.ID
	var found bool
	done := make(chan struct{})
	s.loop.Post(func() {
		actorID, found = s.actors.GetByName(req.Namespace, req.Name)
		close(done)
	})
	<-done
	out := &actorGetByNameResponse{Found: found}
	if found {
		out.ActorID = actorID.String()
	}
	return out, nil
}

// --- Placement Group ---

type pgCreateRequest struct {
	JobID    string
	Strategy resource.Strategy
	Bundles  []map[string]float64
	Detached bool
}

type pgCreateResponse struct {
	PlacementGroupID string
	Error            string
}

func (s *Shell) handlePGCreate(ctx context.Context, req *pgCreateRequest) (*pgCreateResponse, error) {
	jobID, err := id.Parse(req.JobID)
	if err != nil {
		return &pgCreateResponse{Error: err.Error()}, nil
	}
	var pgID id.ID
	gerr := s.call(func() *gcserrors.Error {
		var gerr *gcserrors.Error
		pgID, gerr = s.pgs.CreateGroup(ctx, jobID, req.Strategy, req.Bundles, req.Detached)
		return gerr
	})
	out := &pgCreateResponse{Error: errString(gerr)}
	if gerr == nil {
		out.PlacementGroupID = pgID.String()
	}
	return out, nil
}

type pgIDRequest struct {
	PlacementGroupID string
}

func (s *Shell) handlePGRemove(ctx context.Context, req *pgIDRequest) (*errorResponse, error) {
	pgID, err := id.Parse(req.PlacementGroupID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	gerr := s.call(func() *gcserrors.Error {
		return s.pgs.Remove(ctx, pgID)
	})
	return &errorResponse{Error: errString(gerr)}, nil
}

type pgGetResponse struct {
	Info  placementgroup.Info
	Error string
}

func (s *Shell) handlePGGet(ctx context.Context, req *pgIDRequest) (*pgGetResponse, error) {
	pgID, err := id.Parse(req.PlacementGroupID)
	if err != nil {
		return &pgGetResponse{Error: err.Error()}, nil
	}
	var info placementgroup.Info
	gerr := s.call(func() *gcserrors.Error {
		var gerr *gcserrors.Error
		info, gerr = s.pgs.Get(pgID)
		return gerr
	})
	return &pgGetResponse{Info: info, Error: errString(gerr)}, nil
}

// --- Object ---

type objectRegisterRequest struct {
	ObjectID string
	OwnerID  string
	Size     uint64
	Location string
}

func (s *Shell) handleObjectRegister(ctx context.Context, req *objectRegisterRequest) (*errorResponse, error) {
	objectID, err := id.Parse(req.ObjectID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	ownerID, err := id.Parse(req.OwnerID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	location, err := id.Parse(req.Location)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	gerr := s.call(func() *gcserrors.Error {
		return s.objects.Register(ctx, objectID, ownerID, req.Size, location)
	})
	return &errorResponse{Error: errString(gerr)}, nil
}

type objectAddLocationRequest struct {
	ObjectID string
	NodeID   string
}

func (s *Shell) handleObjectAddLocation(ctx context.Context, req *objectAddLocationRequest) (*errorResponse, error) {
	objectID, err := id.Parse(req.ObjectID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	nodeID, err := id.Parse(req.NodeID)
	if err != nil {
		return &errorResponse{Error: err.Error()}, nil
	}
	gerr := s.call(func() *gcserrors.Error {
		return s.objects.AddLocation(ctx, objectID, nodeID)
	})
	return &errorResponse{Error: errString(gerr)}, nil
}

type objectGetRequest struct {
	ObjectID string
}

type objectGetResponse struct {
	Info  object.Info
	Error string
}

func (s *Shell) handleObjectGet(ctx context.Context, req *objectGetRequest) (*objectGetResponse, error) {
	objectID, err := id.Parse(req.ObjectID)
	if err != nil {
		return &objectGetResponse{Error: err.Error()}, nil
	}
	var info object.Info
	gerr := s.call(func() *gcserrors.Error {
		var gerr *gcserrors.Error
		info, gerr = s.objects.Get(objectID)
		return gerr
	})
	return &objectGetResponse{Info: info, Error: errString(gerr)}, nil
}
