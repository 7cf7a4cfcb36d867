package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/olyamironova/paper-engine/internal/api"
	"github.com/olyamironova/paper-engine/internal/api/dto"
	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// clientIDKey is the metadata key naming the account, the gRPC twin of the
// X-Client-ID header.
const clientIDKey = "x-client-id"

type GRPCServer struct {
	svc api.Service
	log *slog.Logger
	srv *grpc.Server
}

func NewGRPCServer(svc api.Service, log *slog.Logger) *GRPCServer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &GRPCServer{svc: svc, log: log}
	s.srv = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	RegisterPaperTradingServer(s.srv, s)
	return s
}

func (s *GRPCServer) Serve(lis net.Listener) error {
	s.log.Info("grpc server listening", "addr", lis.Addr().String())
	return s.srv.Serve(lis)
}

func (s *GRPCServer) Run(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// GracefulStop waits for in-flight calls; open fill streams end when their
// clients go away, so callers should bound it with Stop.
func (s *GRPCServer) GracefulStop() { s.srv.GracefulStop() }
func (s *GRPCServer) Stop()         { s.srv.Stop() }

func (s *GRPCServer) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	attrs := []any{"method", info.FullMethod, "code", code.String(), "duration", time.Since(start)}
	switch code {
	case codes.OK:
		s.log.Debug("grpc call", attrs...)
	case codes.Internal, codes.Unknown:
		s.log.Error("grpc call", append(attrs, "err", err)...)
	default:
		s.log.Warn("grpc call", append(attrs, "err", err)...)
	}
	return resp, err
}

type orderIDRequest struct {
	OrderID string `json:"order_id"`
}

type processBarRequest struct {
	Symbol string  `json:"symbol"`
	Bar    dto.Bar `json:"bar"`
	All    bool    `json:"all"`
}

type ordersRequest struct {
	ActiveOnly bool `json:"active_only"`
}

type fillsRequest struct {
	Symbol string `json:"symbol"`
}

type positionsResponse struct {
	Positions []dto.Position `json:"positions"`
}

type ordersResponse struct {
	Orders []dto.Order `json:"orders"`
}

type fillsResponse struct {
	Fills []dto.Fill `json:"fills"`
}

// FillEvent is one message of the StreamFills stream.
type FillEvent struct {
	AccountID string   `json:"account_id"`
	Fill      dto.Fill `json:"fill"`
}

func (s *GRPCServer) SubmitOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req dto.SubmitOrderRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	o, err := s.svc.SubmitOrder(ctx, clientID(ctx), req.ToDomain())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(dto.FromOrder(*o))
}

func (s *GRPCServer) CancelOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req orderIDRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	o, err := s.svc.CancelOrder(ctx, clientID(ctx), req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(dto.CancelOrderResponse{Order: dto.FromOrder(o), Cancelled: true})
}

func (s *GRPCServer) ProcessBar(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req processBarRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	symbol := domain.NormalizeSymbol(req.Symbol)
	if req.All {
		byAccount, err := s.svc.ProcessBarAll(ctx, symbol, req.Bar.ToDomain())
		if err != nil {
			return nil, toStatus(err)
		}
		out := make(map[string][]dto.Fill, len(byAccount))
		for id, fills := range byAccount {
			out[id] = dto.FromFills(fills)
		}
		return toStruct(dto.BroadcastBarResponse{Symbol: symbol, Fills: out})
	}
	fills, err := s.svc.ProcessBar(ctx, clientID(ctx), symbol, req.Bar.ToDomain())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(dto.ProcessBarResponse{Symbol: symbol, Fills: dto.FromFills(fills)})
}

func (s *GRPCServer) CheckRisk(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req dto.SubmitOrderRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	res, err := s.svc.CheckRisk(ctx, clientID(ctx), req.ToDomain())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(dto.FromRiskCheck(res))
}

func (s *GRPCServer) GetAccount(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	a, err := s.svc.Account(ctx, clientID(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(dto.FromAccount(a))
}

func (s *GRPCServer) GetPositions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	positions, err := s.svc.Positions(ctx, clientID(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(positionsResponse{Positions: dto.FromPositions(positions)})
}

func (s *GRPCServer) GetOrders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ordersRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	orders, err := s.svc.Orders(ctx, clientID(ctx), req.ActiveOnly)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(ordersResponse{Orders: dto.FromOrders(orders)})
}

func (s *GRPCServer) GetOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req orderIDRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	o, err := s.svc.Order(ctx, clientID(ctx), req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(dto.FromOrder(o))
}

func (s *GRPCServer) GetFills(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req fillsRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	fills, err := s.svc.Fills(ctx, clientID(ctx), req.Symbol)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(fillsResponse{Fills: dto.FromFills(fills)})
}

func (s *GRPCServer) PrunePositions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	pruned, err := s.svc.PruneClosedPositions(ctx, clientID(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	if pruned == nil {
		pruned = []string{}
	}
	return toStruct(dto.PruneResponse{Pruned: pruned})
}

// StreamFills pushes the caller's committed fills until the client goes away.
// Headers are sent once the subscription is live.
func (s *GRPCServer) StreamFills(_ *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	id := clientID(ctx)
	if id == "" {
		return toStatus(service.ErrNoAccount)
	}

	feed := s.svc.Feed()
	ch := feed.Subscribe(id)
	defer feed.Unsubscribe(id, ch)
	if err := stream.SendHeader(metadata.Pairs("x-subscribed", id)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := toStruct(FillEvent{AccountID: ev.AccountID, Fill: dto.FromFill(ev.Fill)})
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func clientID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(clientIDKey); len(v) > 0 {
		return v[0]
	}
	return ""
}

func toStatus(err error) error {
	var rej *domain.RejectionError
	switch {
	case errors.As(err, &rej):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidBar),
		errors.Is(err, service.ErrNoAccount):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrOrderClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Errorf(codes.Internal, "%v", err)
}

// toStruct encodes v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}

func fromStruct(st *structpb.Struct, v any) error {
	if st == nil {
		return nil
	}
	b, err := protojson.Marshal(st)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}
