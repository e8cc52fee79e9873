package rpc

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

type SnapshotGetter interface {
	GetOrderBookSnapshot(ctx context.Context, provider string, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error)
}

type server struct {
	orderbookSnapshotUseCase SnapshotGetter
	validationService        *ValidationService
	logger                   zerolog.Logger
}

func NewServer(useCase SnapshotGetter, conf *ValidationServiceConfig, logger zerolog.Logger) *server {
	return &server{
		orderbookSnapshotUseCase: useCase,
		validationService:        NewValidationService(conf),
		logger:                   logger.With().Str("component", "rpc").Logger(),
	}
}

// Server is the gRPC server with the market data and health services registered.
type Server struct {
	grpcServer *grpc.Server
	Health     *HealthReporter
}

func NewGRPCServer(srv *server, reporter *HealthReporter) *Server {
	gs := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(srv.logger)))
	RegisterMarketDataServiceServer(gs, srv)
	healthpb.RegisterHealthServer(gs, reporter.hs)

	return &Server{grpcServer: gs, Health: reporter}
}

// Serve blocks until the server is stopped or lis fails.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *Server) GracefulStop() {
	s.Health.hs.Shutdown()
	s.grpcServer.GracefulStop()
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.Str("method", info.FullMethod).Dur("took", time.Since(start)).Msg("rpc")
		return resp, err
	}
}

// HealthReporter maps order book sync status onto the gRPC health service.
// Every book is reported under "provider:symbol"; the overall status ("")
// follows the primary book.
type HealthReporter struct {
	hs      *health.Server
	primary string
}

func NewHealthReporter(primary string) *HealthReporter {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{hs: hs, primary: primary}
}

func HealthServiceName(provider string, symbol *domain.MarketSymbol) string {
	return provider + ":" + symbol.String()
}

func (r *HealthReporter) OnStatus(provider string, symbol *domain.MarketSymbol, status domain.SyncStatus) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if status == domain.SyncStatus_Synchronized {
		serving = healthpb.HealthCheckResponse_SERVING
	}

	name := HealthServiceName(provider, symbol)
	r.hs.SetServingStatus(name, serving)
	if name == r.primary {
		r.hs.SetServingStatus("", serving)
	}
}
