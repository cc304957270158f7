// Package api exposes scheduler status and source management over HTTP and gRPC.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const (
	statusServiceName = "mirador.sentinel.v1.StatusService"
	getStatusMethod   = "/" + statusServiceName + "/GetStatus"
)

// StatusServiceServer is the gRPC surface of the status query.
type StatusServiceServer interface {
	GetStatus(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

var statusServiceDesc = grpc.ServiceDesc{
	ServiceName: statusServiceName,
	HandlerType: (*StatusServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/sentinel/v1/status.proto",
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StatusServiceServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// FetchStatus calls GetStatus on a remote sentinel.
func FetchStatus(ctx context.Context, conn grpc.ClientConnInterface) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, getStatusMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusService adapts a StatusReader to the gRPC service.
type StatusService struct {
	reader StatusReader
	logger *slog.Logger
}

// NewStatusService constructs the gRPC status facade.
func NewStatusService(logger *slog.Logger, reader StatusReader) *StatusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusService{reader: reader, logger: logger}
}

// GetStatus returns the scheduler summary as a protobuf Struct.
func (s *StatusService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.reader.Status(ctx)
	if err != nil {
		s.logger.Error("status query failed", slog.Any("error", err))
		return nil, status.Error(codes.Unavailable, fmt.Sprintf("status unavailable: %v", err))
	}
	out, err := statusToStruct(st)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func statusToStruct(st models.Status) (*structpb.Struct, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return structpb.NewStruct(fields)
}

// Server wraps the gRPC server implementation and lifecycle helpers.
type Server struct {
	grpcServer      *grpc.Server
	listener        net.Listener
	health          *health.Server
	gracefulTimeout time.Duration
}

// NewServer constructs a gRPC server bound to address.
func NewServer(address string, gracefulTimeout time.Duration, service StatusServiceServer, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	serverOpts = append(serverOpts, opts...)
	grpcServer := grpc.NewServer(serverOpts...)

	grpcServer.RegisterService(&statusServiceDesc, service)
	grpc_prometheus.Register(grpcServer)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(statusServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	reflection.Register(grpcServer)

	return &Server{
		grpcServer:      grpcServer,
		listener:        lis,
		health:          healthSrv,
		gracefulTimeout: gracefulTimeout,
	}, nil
}

// SourceHealthName is the health service name reported for a source.
func SourceHealthName(sourceID string) string {
	return "source/" + sourceID
}

// ObserveCommit publishes the latest probe outcome as the source's health status.
func (s *Server) ObserveCommit(commit models.Commit) {
	st := healthpb.HealthCheckResponse_SERVING
	if !commit.Result.Success {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(SourceHealthName(commit.Source.ID), st)
}

// Start serves incoming gRPC requests until Stop/Shutdown is invoked.
func (s *Server) Start() error {
	if s.grpcServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	return s.grpcServer.Serve(s.listener)
}

// Shutdown attempts a graceful shutdown, falling back to Stop after timeout.
func (s *Server) Shutdown(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.gracefulTimeout
}
