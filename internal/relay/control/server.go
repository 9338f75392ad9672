package control

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sebas/relayengine/internal/relay/engine"
	"github.com/sebas/relayengine/internal/relay/metrics"
	"github.com/sebas/relayengine/internal/relay/worker"
)

// Engine is the part of *engine.Engine the service drives.
type Engine interface {
	Ping(ctx context.Context) error
	Offer(ctx context.Context, callID, legID, sdp string) (string, error)
	End(ctx context.Context, callID string) error
	Stats(ctx context.Context) ([]worker.Stats, error)
}

// Server implements RelayControlServer on top of an Engine.
type Server struct {
	engine  Engine
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewServer creates the gRPC service implementation.
func NewServer(e Engine, log *slog.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: e, log: log, metrics: m}
}

// Ping implements RelayControlServer.Ping
func (s *Server) Ping(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.engine.Ping(ctx); err != nil {
		s.metrics.Command("grpc", "ping", "error")
		return nil, toStatus(err)
	}
	s.metrics.Command("grpc", "ping", "ok")
	return structpb.NewStruct(map[string]interface{}{"result": "pong"})
}

// Offer implements RelayControlServer.Offer
func (s *Server) Offer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	callID := field(req, "call_id")
	legID := field(req, "leg_id")
	sdp := field(req, "sdp")
	s.log.Info("[gRPC] Offer", "call_id", callID, "leg_id", legID)

	if callID == "" || legID == "" || sdp == "" {
		s.metrics.Command("grpc", "offer", "error")
		return nil, status.Error(codes.InvalidArgument, "call_id, leg_id and sdp are required")
	}

	answer, err := s.engine.Offer(ctx, callID, legID, sdp)
	if err != nil {
		s.log.Error("[gRPC] Offer failed", "call_id", callID, "leg_id", legID, "error", err)
		s.metrics.Command("grpc", "offer", "error")
		return nil, toStatus(err)
	}
	s.metrics.Command("grpc", "offer", "ok")
	return structpb.NewStruct(map[string]interface{}{"sdp": answer})
}

// End implements RelayControlServer.End
func (s *Server) End(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	callID := field(req, "call_id")
	s.log.Info("[gRPC] End", "call_id", callID)

	if callID == "" {
		s.metrics.Command("grpc", "end", "error")
		return nil, status.Error(codes.InvalidArgument, "call_id is required")
	}
	if err := s.engine.End(ctx, callID); err != nil {
		s.metrics.Command("grpc", "end", "error")
		return nil, toStatus(err)
	}
	s.metrics.Command("grpc", "end", "ok")
	return &structpb.Struct{}, nil
}

// Stats implements RelayControlServer.Stats
func (s *Server) Stats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	shards := make([]interface{}, 0, len(stats))
	for i, st := range stats {
		shards = append(shards, map[string]interface{}{
			"shard":      i,
			"legs":       st.Legs,
			"pending":    st.Pending,
			"active":     st.Active,
			"calls":      st.Calls,
			"free_ports": st.FreePorts,
		})
	}
	return structpb.NewStruct(map[string]interface{}{"shards": shards})
}

func field(s *structpb.Struct, name string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[name].GetStringValue()
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, worker.ErrNoAvailablePort):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, engine.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.InvalidArgument, err.Error())
	}
}
