package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-pulse/internal/authz"
	"github.com/miradorstack/mirador-pulse/internal/identity"
	"github.com/miradorstack/mirador-pulse/internal/utils"
)

const (
	// DashboardServiceName is the fully qualified gRPC service name.
	DashboardServiceName = "pulse.v1.Dashboard"
	// QueryMethod is the full method path of the Query RPC.
	QueryMethod = "/" + DashboardServiceName + "/Query"
)

// DashboardServer serves queries over gRPC. Requests carry {query, variables};
// responses carry {data} exactly like the HTTP endpoint.
type DashboardServer interface {
	Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var dashboardServiceDesc = grpc.ServiceDesc{
	ServiceName: DashboardServiceName,
	HandlerType: (*DashboardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: queryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pulse/v1/dashboard.proto",
}

// RegisterDashboardServer attaches srv to a gRPC registrar.
func RegisterDashboardServer(s grpc.ServiceRegistrar, srv DashboardServer) {
	s.RegisterService(&dashboardServiceDesc, srv)
}

func queryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DashboardServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: QueryMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DashboardServer).Query(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// DashboardClient calls the Query RPC.
type DashboardClient struct {
	cc grpc.ClientConnInterface
}

// NewDashboardClient wraps a client connection.
func NewDashboardClient(cc grpc.ClientConnInterface) *DashboardClient {
	return &DashboardClient{cc: cc}
}

// Query sends queryText and vars and returns the decoded "data" object.
func (c *DashboardClient) Query(ctx context.Context, queryText string, vars map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	req, err := structpb.NewStruct(map[string]any{"query": queryText, "variables": nonNilMap(vars)})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, QueryMethod, req, out, opts...); err != nil {
		return nil, err
	}
	data := out.GetFields()["data"].GetStructValue()
	if data == nil {
		return map[string]any{}, nil
	}
	return data.AsMap(), nil
}

// GRPCService adapts the dashboard service to DashboardServer.
type GRPCService struct {
	svc      Dashboard
	resolver *identity.Resolver
	logger   *slog.Logger
}

// NewGRPCService constructs the gRPC facade. The caller is chosen from the
// x-demo-user metadata key when overrides are enabled.
func NewGRPCService(logger *slog.Logger, svc Dashboard, resolver *identity.Resolver) *GRPCService {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = identity.DefaultResolver()
	}
	return &GRPCService{svc: svc, resolver: resolver, logger: logger}
}

// Query implements DashboardServer.
func (g *GRPCService) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	fields := req.GetFields()
	text, ok := fields["query"].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "query is required")
	}
	var vars map[string]any
	if v := fields["variables"].GetStructValue(); v != nil {
		vars = v.AsMap()
	}

	user := g.resolver.FromMetadata(ctx)
	resp, err := g.svc.Query(ctx, user, text.StringValue, vars)
	if err != nil {
		return nil, g.statusFor(err)
	}

	var data map[string]any
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		g.logger.Error("decode query payload", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out, err := structpb.NewStruct(map[string]any{"data": data})
	if err != nil {
		g.logger.Error("build query response", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func (g *GRPCService) statusFor(err error) error {
	msg := utils.PublicMessage(err)
	switch {
	case errors.Is(err, authz.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, msg)
	case errors.Is(err, authz.ErrAccessDenied):
		return status.Error(codes.PermissionDenied, msg)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, msg)
	default:
		g.logger.Error("query failed", slog.Any("error", err))
		return status.Error(codes.Internal, msg)
	}
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
