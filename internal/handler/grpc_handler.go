package handler

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-hr-clearance/internal/service"
)

// GRPCServiceName is the fully qualified gRPC service name.
const GRPCServiceName = "clearance.v1.ClearanceService"

// ClearanceServer is the gRPC surface. Messages are google.protobuf.Struct
// values carrying the same JSON documents as the HTTP API.
type ClearanceServer interface {
	CreateRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveStep(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ArchiveRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignBookend(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSteps(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ClearanceServiceDesc describes ClearanceServer for grpc.Server.RegisterService.
var ClearanceServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*ClearanceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateRequest", Handler: unaryHandler("CreateRequest", ClearanceServer.CreateRequest)},
		{MethodName: "ResolveStep", Handler: unaryHandler("ResolveStep", ClearanceServer.ResolveStep)},
		{MethodName: "GetStatus", Handler: unaryHandler("GetStatus", ClearanceServer.GetStatus)},
		{MethodName: "ArchiveRequest", Handler: unaryHandler("ArchiveRequest", ClearanceServer.ArchiveRequest)},
		{MethodName: "SignBookend", Handler: unaryHandler("SignBookend", ClearanceServer.SignBookend)},
		{MethodName: "ListSteps", Handler: unaryHandler("ListSteps", ClearanceServer.ListSteps)},
		{MethodName: "GetHistory", Handler: unaryHandler("GetHistory", ClearanceServer.GetHistory)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "clearance/v1/clearance.proto",
}

// RegisterClearanceServer registers srv with s.
func RegisterClearanceServer(s grpc.ServiceRegistrar, srv ClearanceServer) {
	s.RegisterService(&ClearanceServiceDesc, srv)
}

func unaryHandler(method string, call func(ClearanceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + GRPCServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ClearanceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ClearanceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCHandler implements ClearanceServer on top of the clearance service.
type GRPCHandler struct {
	service *service.ClearanceService
	logger  zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(svc *service.ClearanceService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		service: svc,
		logger:  logger.With().Str("handler", "grpc").Logger(),
	}
}

type requestRef struct {
	RequestID string `json:"request_id"`
	Role      string `json:"role,omitempty"`
}

type grpcResolve struct {
	StepID string `json:"step_id"`
	resolveBody
}

type grpcBookend struct {
	RequestID string `json:"request_id"`
	Tag       string `json:"tag"`
	resolveBody
}

type grpcArchive struct {
	RequestID string `json:"request_id"`
	archiveBody
}

func (h *GRPCHandler) CreateRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body createRequestBody
	if err := fromStruct(in, &body); err != nil {
		return nil, err
	}
	id, _ := IdentityFrom(ctx)
	h.logger.Info().Str("staff_id", body.StaffID).Msg("gRPC CreateRequest called")

	req, err := h.service.CreateRequest(ctx, service.CreateRequestInput{
		StaffID:       body.StaffID,
		Purpose:       body.Purpose,
		InitiatedBy:   id.UserID,
		InitiatorMeta: body.InitiatorMeta,
	})
	if err != nil {
		return nil, h.fail("CreateRequest", err)
	}
	return toStruct(req)
}

func (h *GRPCHandler) ResolveStep(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body grpcResolve
	if err := fromStruct(in, &body); err != nil {
		return nil, err
	}
	h.logger.Info().Str("step_id", body.StepID).Str("acting_role", body.ActingRole).Msg("gRPC ResolveStep called")

	userID, err := actAs(ctx, body.ActingRole)
	if err != nil {
		return nil, h.fail("ResolveStep", err)
	}
	result, err := h.service.ResolveStep(ctx, service.ResolveStepInput{
		StepID:       body.StepID,
		ActingRole:   body.ActingRole,
		ActingUserID: userID,
		Outcome:      body.Outcome,
		Comment:      body.Comment,
		Signature:    body.Signature,
		SignatureTag: body.SignatureTag,
	})
	if err != nil {
		return nil, h.fail("ResolveStep", err)
	}
	return toStruct(result)
}

func (h *GRPCHandler) GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var ref requestRef
	if err := fromStruct(in, &ref); err != nil {
		return nil, err
	}
	st, err := h.service.GetStatus(ctx, ref.RequestID)
	if err != nil {
		return nil, h.fail("GetStatus", err)
	}
	return toStruct(st)
}

func (h *GRPCHandler) ArchiveRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body grpcArchive
	if err := fromStruct(in, &body); err != nil {
		return nil, err
	}
	h.logger.Info().Str("request_id", body.RequestID).Msg("gRPC ArchiveRequest called")

	userID, err := actAs(ctx, body.ActingRole)
	if err != nil {
		return nil, h.fail("ArchiveRequest", err)
	}
	req, err := h.service.ArchiveRequest(ctx, service.ArchiveInput{
		RequestID:    body.RequestID,
		ActingRole:   body.ActingRole,
		ActingUserID: userID,
		Signature:    body.Signature,
	})
	if err != nil {
		return nil, h.fail("ArchiveRequest", err)
	}
	return toStruct(req)
}

func (h *GRPCHandler) SignBookend(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body grpcBookend
	if err := fromStruct(in, &body); err != nil {
		return nil, err
	}
	h.logger.Info().Str("request_id", body.RequestID).Str("tag", body.Tag).Msg("gRPC SignBookend called")

	userID, err := actAs(ctx, body.ActingRole)
	if err != nil {
		return nil, h.fail("SignBookend", err)
	}
	result, err := h.service.SignBookend(ctx, service.BookendInput{
		RequestID:    body.RequestID,
		Tag:          body.Tag,
		ActingRole:   body.ActingRole,
		ActingUserID: userID,
		Outcome:      body.Outcome,
		Comment:      body.Comment,
		Signature:    body.Signature,
	})
	if err != nil {
		return nil, h.fail("SignBookend", err)
	}
	return toStruct(result)
}

func (h *GRPCHandler) ListSteps(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var ref requestRef
	if err := fromStruct(in, &ref); err != nil {
		return nil, err
	}
	var (
		steps any
		err   error
	)
	if ref.Role != "" {
		steps, err = h.service.ListAvailableForRole(ctx, ref.RequestID, ref.Role)
	} else {
		steps, err = h.service.ListSteps(ctx, ref.RequestID)
	}
	if err != nil {
		return nil, h.fail("ListSteps", err)
	}
	return toStruct(map[string]any{"steps": steps})
}

func (h *GRPCHandler) GetHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var ref requestRef
	if err := fromStruct(in, &ref); err != nil {
		return nil, err
	}
	entries, err := h.service.GetHistory(ctx, ref.RequestID)
	if err != nil {
		return nil, h.fail("GetHistory", err)
	}
	return toStruct(map[string]any{"entries": entries})
}

func (h *GRPCHandler) fail(method string, err error) error {
	grpcErr := mapErrorToGRPC(err)
	if status.Code(grpcErr) == codes.Internal {
		h.logger.Error().Err(err).Str("method", method).Msg("gRPC call failed")
	}
	return grpcErr
}

func fromStruct(in *structpb.Struct, v any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, "malformed request message")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}
