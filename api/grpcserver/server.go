// Package grpcserver exposes the venue over gRPC. Messages travel as JSON
// through a registered codec, so the service descriptor is written by hand
// instead of generated.
package grpcserver

import (
	"context"
	"errors"
	"time"

	"perpx/api"
	"perpx/service"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const ServiceName = "perpx.v1.Venue"

// VenueServer is the server side of perpx.v1.Venue.
type VenueServer interface {
	PlaceOrder(context.Context, *api.OrderRequest) (*service.OrderResult, error)
	CancelOrder(context.Context, *api.CancelRequest) (*api.CancelReply, error)
	GetBook(context.Context, *api.BookRequest) (*service.BookView, error)
	GetAccount(context.Context, *api.AccountRequest) (*service.AccountView, error)
}

// Server adapts the engine to VenueServer.
type Server struct {
	venue api.Venue
	log   *zap.Logger
}

func NewServer(venue api.Venue, log *zap.Logger) *Server {
	return &Server{venue: venue, log: log.Named("grpc")}
}

// Register builds a grpc.Server with the venue and health services.
func Register(srv *Server, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts, grpc.ChainUnaryInterceptor(srv.logCalls))
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&serviceDesc, srv)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return gs, hs
}

// -------------------- Commands --------------------

func (s *Server) PlaceOrder(ctx context.Context, req *api.OrderRequest) (*service.OrderResult, error) {
	order, err := req.Order()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.venue.PlaceOrder(ctx, order)
	if err != nil {
		return nil, toStatus(err)
	}
	return res, nil
}

func (s *Server) CancelOrder(ctx context.Context, req *api.CancelRequest) (*api.CancelReply, error) {
	st, err := s.venue.CancelOrder(ctx, req.Trader, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.CancelReply{OrderID: req.OrderID, Status: st}, nil
}

// -------------------- Queries --------------------

func (s *Server) GetBook(ctx context.Context, req *api.BookRequest) (*service.BookView, error) {
	view, err := s.venue.Book(req.Market, req.Levels)
	if err != nil {
		return nil, toStatus(err)
	}
	return &view, nil
}

func (s *Server) GetAccount(ctx context.Context, req *api.AccountRequest) (*service.AccountView, error) {
	if req.Trader == "" {
		return nil, status.Error(codes.InvalidArgument, "trader is required")
	}
	view := s.venue.Account(req.Trader)
	return &view, nil
}

// -------------------- Errors --------------------

func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, service.ErrStopped):
		code = codes.Unavailable
	default:
		switch service.KindOf(err) {
		case service.KindValidation:
			code = codes.InvalidArgument
		case service.KindMargin:
			code = codes.FailedPrecondition
		case service.KindNotFound:
			code = codes.NotFound
		case service.KindSync, service.KindStale:
			code = codes.Unavailable
		default:
			code = codes.Internal
		}
	}
	return status.Error(code, err.Error())
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	if err != nil {
		s.log.Debug("call failed",
			zap.String("method", info.FullMethod),
			zap.Duration("took", time.Since(start)),
			zap.Stringer("code", status.Code(err)),
			zap.Error(err),
		)
	}
	return resp, err
}
