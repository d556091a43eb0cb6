package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/services"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "modelwatch.v1.MonitoringEngine"

// Metadata keys carrying the caller identity.
const (
	MetadataUserID   = "x-user-id"
	MetadataUserName = "x-user-name"
	MetadataUserRole = "x-user-role"
)

// MonitoringEngineServer is implemented by Engine; it exists so the service descriptor can
// name a handler type.
type MonitoringEngineServer interface {
	Service() *services.MonitoringService
}

// Engine exposes MonitoringService over gRPC using google.protobuf.Struct payloads.
type Engine struct {
	svc *services.MonitoringService
}

// NewEngine wraps the facade.
func NewEngine(svc *services.MonitoringService) *Engine {
	return &Engine{svc: svc}
}

// Service returns the wrapped facade.
func (e *Engine) Service() *services.MonitoringService {
	return e.svc
}

type unaryCall func(ctx context.Context, svc *services.MonitoringService, in *structpb.Struct) (any, error)

func bind[Req any](fn func(ctx context.Context, svc *services.MonitoringService, req Req) (any, error)) unaryCall {
	return func(ctx context.Context, svc *services.MonitoringService, in *structpb.Struct) (any, error) {
		var req Req
		if err := decodeStruct(in, &req); err != nil {
			return nil, status.Error(codes.InvalidArgument, "VALIDATION_ERROR: "+err.Error())
		}
		return fn(ctx, svc, req)
	}
}

var engineMethods = map[string]unaryCall{
	"IngestMetric": bind(func(ctx context.Context, svc *services.MonitoringService, req models.IngestRequest) (any, error) {
		return svc.IngestMetric(ctx, req, actorFromContext(ctx))
	}),
	"ListAlerts": bind(func(ctx context.Context, svc *services.MonitoringService, req listAlertsRequest) (any, error) {
		return svc.ListAlerts(ctx, req.filter(), req.request())
	}),
	"GetAlert": bind(func(ctx context.Context, svc *services.MonitoringService, req idRequest) (any, error) {
		return svc.GetAlert(ctx, req.ID)
	}),
	"GetAlertEvidence": bind(func(ctx context.Context, svc *services.MonitoringService, req idRequest) (any, error) {
		return svc.AlertEvidence(ctx, req.ID)
	}),
	"GetAlertHistory": bind(func(ctx context.Context, svc *services.MonitoringService, req idRequest) (any, error) {
		history, err := svc.AlertHistory(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"history": history}, nil
	}),
	"TransitionAlert": bind(func(ctx context.Context, svc *services.MonitoringService, req transitionRequest) (any, error) {
		return svc.TransitionAlert(ctx, models.TransitionRequest{AlertID: req.AlertID, Target: req.Status, Comment: req.Comment}, actorFromContext(ctx))
	}),
	"CreateIncident": bind(func(ctx context.Context, svc *services.MonitoringService, req models.CreateIncidentRequest) (any, error) {
		return svc.CreateIncident(ctx, req, actorFromContext(ctx))
	}),
	"GetIncident": bind(func(ctx context.Context, svc *services.MonitoringService, req idRequest) (any, error) {
		return svc.GetIncident(ctx, req.ID)
	}),
	"ListIncidents": bind(func(ctx context.Context, svc *services.MonitoringService, req listIncidentsRequest) (any, error) {
		return svc.ListIncidents(ctx, models.IncidentFilter{Status: req.Status, Severity: req.Severity}, req.request())
	}),
	"LinkAlert": bind(func(ctx context.Context, svc *services.MonitoringService, req linkRequest) (any, error) {
		return svc.LinkAlert(ctx, req.IncidentID, req.AlertID, actorFromContext(ctx))
	}),
	"UpdateIncidentRCA": bind(func(ctx context.Context, svc *services.MonitoringService, req updateIncidentRequest) (any, error) {
		return svc.UpdateIncidentRCA(ctx, req.ID, req.RCAUpdate, actorFromContext(ctx))
	}),
	"CloseIncident": bind(func(ctx context.Context, svc *services.MonitoringService, req idRequest) (any, error) {
		return svc.CloseIncident(ctx, req.ID, actorFromContext(ctx))
	}),
	"CreateSLO": bind(func(ctx context.Context, svc *services.MonitoringService, req models.CreateSLORequest) (any, error) {
		return svc.CreateSLO(ctx, req, actorFromContext(ctx))
	}),
	"UpdateSLO": bind(func(ctx context.Context, svc *services.MonitoringService, req updateSLORequest) (any, error) {
		return svc.UpdateSLO(ctx, req.ID, req.SLOUpdate, actorFromContext(ctx))
	}),
	"RecomputeSLO": bind(func(ctx context.Context, svc *services.MonitoringService, req recomputeSLORequest) (any, error) {
		value, burn, err := req.values()
		if err != nil {
			return nil, err
		}
		return svc.RecomputeSLO(ctx, req.ID, value, burn, actorFromContext(ctx))
	}),
	"LinkSLO": bind(func(ctx context.Context, svc *services.MonitoringService, req linkSLORequest) (any, error) {
		return linkSLO(ctx, svc, req, actorFromContext(ctx))
	}),
	"GetSLO": bind(func(ctx context.Context, svc *services.MonitoringService, req idRequest) (any, error) {
		return svc.GetSLO(ctx, req.ID)
	}),
	"ListSLOs": bind(func(ctx context.Context, svc *services.MonitoringService, req listSLOsRequest) (any, error) {
		return svc.ListSLOs(ctx, models.SLOFilter{ServiceID: req.ServiceID, Status: req.Status}, req.request())
	}),
	"GetSLOBurnDown": bind(func(ctx context.Context, svc *services.MonitoringService, req idRequest) (any, error) {
		points, err := svc.SLOBurnDown(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"points": points}, nil
	}),
	"QueryAudit": bind(func(ctx context.Context, svc *services.MonitoringService, req auditRequest) (any, error) {
		return svc.QueryAudit(ctx, req.filter(), req.request(), actorFromContext(ctx))
	}),
	"GetMetricSummary": bind(func(ctx context.Context, svc *services.MonitoringService, req summaryRequest) (any, error) {
		width, err := req.width()
		if err != nil {
			return nil, err
		}
		return svc.MetricSummary(ctx, req.ModelID, req.MetricType, req.Start, req.End, width)
	}),
	"GetMetricAnomalies": bind(func(ctx context.Context, svc *services.MonitoringService, req anomalyRequest) (any, error) {
		found, err := svc.MetricAnomalies(ctx, req.ModelID, req.MetricType, req.Start, req.End, req.Threshold)
		if err != nil {
			return nil, err
		}
		return map[string]any{"anomalies": found}, nil
	}),
	"GetOverview": bind(func(ctx context.Context, svc *services.MonitoringService, _ struct{}) (any, error) {
		return svc.Overview(ctx)
	}),
}

func linkSLO(ctx context.Context, svc *services.MonitoringService, req linkSLORequest, actor models.Actor) (*models.SLO, error) {
	if req.IncidentID != "" {
		return svc.LinkSLOIncident(ctx, req.ID, req.IncidentID, actor)
	}
	return svc.LinkSLOAlert(ctx, req.ID, req.AlertID, actor)
}

// ServiceDesc describes the MonitoringEngine service for grpc.Server.RegisterService.
var ServiceDesc = buildServiceDesc()

func buildServiceDesc() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*MonitoringEngineServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "modelwatch/v1/engine.proto",
	}
	for name, call := range engineMethods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: name, Handler: methodHandler(name, call)})
	}
	return desc
}

// unaryHandler matches the Handler field of grpc.MethodDesc.
type unaryHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func methodHandler(name string, call unaryCall) unaryHandler {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		svc := srv.(MonitoringEngineServer).Service()
		handler := func(ctx context.Context, req any) (any, error) {
			out, err := call(ctx, svc, req.(*structpb.Struct))
			if err != nil {
				if _, ok := status.FromError(err); ok {
					return nil, err
				}
				return nil, GRPCStatus(err)
			}
			return encodeStruct(out)
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
	}
}

// RegisterMonitoringEngine registers the engine on s.
func RegisterMonitoringEngine(s grpc.ServiceRegistrar, engine MonitoringEngineServer) {
	s.RegisterService(&ServiceDesc, engine)
}

// Invoke calls method on a MonitoringEngine, encoding req and decoding the reply into resp.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := encodeStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return decodeStruct(out, resp)
}

func decodeStruct(in *structpb.Struct, dst any) error {
	if in == nil || len(in.GetFields()) == 0 {
		return nil
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func encodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "INTERNAL_ERROR: encode response")
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		data = append(append([]byte(`{"data":`), data...), '}')
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, "INTERNAL_ERROR: encode response")
	}
	return out, nil
}

func actorFromContext(ctx context.Context) models.Actor {
	var actor models.Actor
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		actor.ID = first(md.Get(MetadataUserID))
		actor.Name = first(md.Get(MetadataUserName))
		actor.Role = first(md.Get(MetadataUserRole))
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		host, _, err := net.SplitHostPort(p.Addr.String())
		if err != nil {
			host = p.Addr.String()
		}
		actor.IPAddress = host
	}
	return actor
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
