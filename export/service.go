package export

import (
	"errors"
	"time"

	"github.com/golang/protobuf/ptypes"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/context"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	submitMethod = "/export.BatchExport/Submit"
	statusMethod = "/export.BatchExport/Status"
)

// BatchExportServer is the server API of the export.BatchExport
// service.
type BatchExportServer interface {
	Submit(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	Status(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

func RegisterBatchExportServer(s *grpc.Server, srv BatchExportServer) {
	s.RegisterService(&batchExportServiceDesc, srv)
}

func submitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BatchExportServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BatchExportServer).Submit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BatchExportServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BatchExportServer).Status(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var batchExportServiceDesc = grpc.ServiceDesc{
	ServiceName: "export.BatchExport",
	HandlerType: (*BatchExportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "export.proto",
}

// Server queues submitted tasks in the pool and answers status
// requests from the ledger.
type Server struct {
	Pool   *Pool
	Ledger *Ledger
	Logger *zap.SugaredLogger
}

func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	task, err := TaskFromStruct(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid task: %v", err)
	}

	now := time.Now().UTC()
	st := &TaskStatus{
		ID:          uuid.New().String(),
		Description: task.Description,
		Year:        task.Year,
		State:       StateQueued,
		Submitted:   now,
		Updated:     now,
	}
	if err = s.Ledger.Insert(ctx, st); err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}

	if err = s.Pool.AddQueue(&Job{ID: st.ID, Task: task}); err != nil {
		s.Logger.Warnw("task rejected", "task", st.ID, "description", st.Description, "error", err)
		if err := s.Ledger.SetState(ctx, st.ID, StateFailed, "", err.Error()); err != nil {
			s.Logger.Errorw("ledger update failed", "task", st.ID, "error", err)
		}
		return nil, status.Errorf(codes.ResourceExhausted, "%v", err)
	}

	s.Logger.Infow("task queued", "task", st.ID, "description", st.Description, "year", st.Year)
	return wrapperspb.String(st.ID), nil
}

func (s *Server) Status(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	st, err := s.Ledger.Get(ctx, in.GetValue())
	if errors.Is(err, ErrTaskNotFound) {
		return nil, status.Errorf(codes.NotFound, "%v", err)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return StatusToStruct(st)
}

// StatusToStruct encodes a ledger row for the Status call.
func StatusToStruct(st *TaskStatus) (*structpb.Struct, error) {
	submitted, err := ptypes.TimestampProto(st.Submitted)
	if err != nil {
		return nil, err
	}
	updated, err := ptypes.TimestampProto(st.Updated)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{
		"id":          st.ID,
		"description": st.Description,
		"year":        st.Year,
		"state":       st.State,
		"output":      st.Output,
		"error":       st.Error,
		"submitted":   ptypes.TimestampString(submitted),
		"updated":     ptypes.TimestampString(updated),
	})
}

// StatusFromStruct decodes the reply of a Status call.
func StatusFromStruct(s *structpb.Struct) (*TaskStatus, error) {
	st := &TaskStatus{
		ID:          stringField(s, "id"),
		Description: stringField(s, "description"),
		Year:        int(numberField(s, "year")),
		State:       stringField(s, "state"),
		Output:      stringField(s, "output"),
		Error:       stringField(s, "error"),
	}
	var err error
	if st.Submitted, err = time.Parse(time.RFC3339Nano, stringField(s, "submitted")); err != nil {
		return nil, err
	}
	if st.Updated, err = time.Parse(time.RFC3339Nano, stringField(s, "updated")); err != nil {
		return nil, err
	}
	return st, nil
}
