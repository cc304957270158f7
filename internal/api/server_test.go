package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func startServer(t *testing.T, reader StatusReader) (*Server, *grpc.ClientConn) {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0", time.Second, NewStatusService(nil, reader))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), srv.GracefulTimeout())
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func TestGetStatusOverGRPC(t *testing.T) {
	_, conn := startServer(t, &countingStatus{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := FetchStatus(ctx, conn)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	fields := out.AsMap()
	if fields["running"] != true || fields["total_sources"].(float64) != 1 {
		t.Fatalf("unexpected status %+v", fields)
	}
}

func TestGetStatusUnavailable(t *testing.T) {
	_, conn := startServer(t, &countingStatus{err: errors.New("store offline")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := FetchStatus(ctx, conn)
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestSourceHealthTracksLastProbe(t *testing.T) {
	srv, conn := startServer(t, &countingStatus{})
	client := healthpb.NewHealthClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv.ObserveCommit(models.Commit{Source: models.Source{ID: "api"}, Result: models.ProbeResult{Success: true}})
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: SourceHealthName("api")})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}

	srv.ObserveCommit(models.Commit{Source: models.Source{ID: "api"}, Result: models.ProbeResult{Success: false}})
	resp, _ = client.Check(ctx, &healthpb.HealthCheckRequest{Service: SourceHealthName("api")})
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", resp.GetStatus())
	}

	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: SourceHealthName("unknown")}); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound for unknown source, got %v", err)
	}
}
