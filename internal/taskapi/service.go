// Package taskapi exposes the minimal task submission surface over gRPC:
// submit, cancel, get. Requests and responses travel through
// the same JSON content-subtype the robot RPC uses, so no generated stubs
// are needed for this three-method surface.
package taskapi

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"

	"biopatrol/internal/dispatcher"
	"biopatrol/internal/task"
	"biopatrol/pkg/apperror"
	"biopatrol/pkg/logger"
)

const serviceName = "biopatrol.task.v1.TaskService"

// SubmitRequest carries one task in its wire shape.
type SubmitRequest struct {
	Task json.RawMessage `json:"task"`
}

// SubmitResponse returns the id assigned at submission.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// CancelRequest names the task to cancel.
type CancelRequest struct {
	TaskID string `json:"task_id"`
}

// CancelResponse reports whether the cancellation took effect (true also
// for repeat calls on an already-cancelled task).
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// GetRequest names the task to fetch.
type GetRequest struct {
	TaskID string `json:"task_id"`
}

// GetResponse carries a task snapshot in its wire shape.
type GetResponse struct {
	Task json.RawMessage `json:"task"`
}

// Service implements the task surface over a Dispatcher.
type Service struct {
	dispatcher *dispatcher.Dispatcher
}

// NewService builds the task service.
func NewService(d *dispatcher.Dispatcher) *Service {
	return &Service{dispatcher: d}
}

// Submit decodes and enqueues a task, returning its id. Blocks only to
// enqueue.
func (s *Service) Submit(_ context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	t, err := task.Decode(req.Task)
	if err != nil {
		return nil, apperror.ToGRPC(err)
	}
	id := s.dispatcher.Submit(t)
	return &SubmitResponse{TaskID: id}, nil
}

// Cancel marks a task CANCELLED. Idempotent.
func (s *Service) Cancel(ctx context.Context, req *CancelRequest) (*CancelResponse, error) {
	ok := s.dispatcher.Cancel(ctx, req.TaskID)
	return &CancelResponse{Cancelled: ok}, nil
}

// Get returns a snapshot of a known task.
func (s *Service) Get(_ context.Context, req *GetRequest) (*GetResponse, error) {
	snap := s.dispatcher.Get(req.TaskID)
	if snap == nil {
		return nil, apperror.ToGRPC(apperror.New(apperror.CodeNotFound, "unknown task: "+req.TaskID))
	}
	data, err := task.Encode(snap)
	if err != nil {
		logger.Log.Error("task snapshot encode failed", "task_id", req.TaskID, "error", err)
		return nil, apperror.ToGRPC(apperror.Wrap(err, apperror.CodeInternal, "encode task"))
	}
	return &GetResponse{Task: data}, nil
}

// Register attaches the service to a gRPC server.
func Register(srv *grpc.Server, svc *Service) {
	srv.RegisterService(&serviceDesc, svc)
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Submit"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).Submit(ctx, req.(*SubmitRequest))
	})
}

func cancelHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CancelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).Cancel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Cancel"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).Cancel(ctx, req.(*CancelRequest))
	})
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Get"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).Get(ctx, req.(*GetRequest))
	})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "Cancel", Handler: cancelHandler},
		{MethodName: "Get", Handler: getHandler},
	},
	Streams: []grpc.StreamDesc{},
}
