package grpc

import (
	"context"

	"github.com/olyamironova/paper-engine/internal/api/dto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls paper.v1.PaperTrading on behalf of one account.
type Client struct {
	conn      grpc.ClientConnInterface
	accountID string
}

func NewClient(conn grpc.ClientConnInterface, accountID string) *Client {
	return &Client{conn: conn, accountID: accountID}
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, clientIDKey, c.accountID)
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), fullMethod(method), req, resp); err != nil {
		return err
	}
	return fromStruct(resp, out)
}

func (c *Client) SubmitOrder(ctx context.Context, req dto.SubmitOrderRequest) (dto.Order, error) {
	var out dto.Order
	err := c.invoke(ctx, "SubmitOrder", req, &out)
	return out, err
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (dto.CancelOrderResponse, error) {
	var out dto.CancelOrderResponse
	err := c.invoke(ctx, "CancelOrder", orderIDRequest{OrderID: orderID}, &out)
	return out, err
}

func (c *Client) ProcessBar(ctx context.Context, symbol string, bar dto.Bar) ([]dto.Fill, error) {
	var out dto.ProcessBarResponse
	err := c.invoke(ctx, "ProcessBar", processBarRequest{Symbol: symbol, Bar: bar}, &out)
	return out.Fills, err
}

func (c *Client) ProcessBarAll(ctx context.Context, symbol string, bar dto.Bar) (map[string][]dto.Fill, error) {
	var out dto.BroadcastBarResponse
	err := c.invoke(ctx, "ProcessBar", processBarRequest{Symbol: symbol, Bar: bar, All: true}, &out)
	return out.Fills, err
}

func (c *Client) CheckRisk(ctx context.Context, req dto.SubmitOrderRequest) (dto.RiskCheck, error) {
	var out dto.RiskCheck
	err := c.invoke(ctx, "CheckRisk", req, &out)
	return out, err
}

func (c *Client) Account(ctx context.Context) (dto.Account, error) {
	var out dto.Account
	err := c.invoke(ctx, "GetAccount", nil, &out)
	return out, err
}

func (c *Client) Positions(ctx context.Context) ([]dto.Position, error) {
	var out positionsResponse
	err := c.invoke(ctx, "GetPositions", nil, &out)
	return out.Positions, err
}

func (c *Client) Orders(ctx context.Context, activeOnly bool) ([]dto.Order, error) {
	var out ordersResponse
	err := c.invoke(ctx, "GetOrders", ordersRequest{ActiveOnly: activeOnly}, &out)
	return out.Orders, err
}

func (c *Client) Order(ctx context.Context, orderID string) (dto.Order, error) {
	var out dto.Order
	err := c.invoke(ctx, "GetOrder", orderIDRequest{OrderID: orderID}, &out)
	return out, err
}

func (c *Client) Fills(ctx context.Context, symbol string) ([]dto.Fill, error) {
	var out fillsResponse
	err := c.invoke(ctx, "GetFills", fillsRequest{Symbol: symbol}, &out)
	return out.Fills, err
}

func (c *Client) PrunePositions(ctx context.Context) ([]string, error) {
	var out dto.PruneResponse
	err := c.invoke(ctx, "PrunePositions", nil, &out)
	return out.Pruned, err
}

// FillStream reads StreamFills messages.
type FillStream struct {
	cs grpc.ClientStream
}

// StreamFills opens the stream and returns once the server has subscribed.
func (c *Client) StreamFills(ctx context.Context) (*FillStream, error) {
	cs, err := c.conn.NewStream(c.outgoing(ctx), &serviceDesc.Streams[0], fullMethod("StreamFills"))
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(&structpb.Struct{}); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	if _, err := cs.Header(); err != nil {
		return nil, err
	}
	return &FillStream{cs: cs}, nil
}

func (s *FillStream) Recv() (FillEvent, error) {
	var ev FillEvent
	msg := new(structpb.Struct)
	if err := s.cs.RecvMsg(msg); err != nil {
		return ev, err
	}
	err := fromStruct(msg, &ev)
	return ev, err
}
