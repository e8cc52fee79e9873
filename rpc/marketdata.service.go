package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

const (
	ServiceName                = "cryptobridge.MarketDataService"
	getOrderBookSnapshotMethod = "/" + ServiceName + "/GetOrderBookSnapshot"
)

// MarketDataServiceServer carries requests and responses as
// google.protobuf.Struct:
//
//	request:  {provider, market, max_depth}
//	response: {source, last_update_id, session_id, bids, asks}
//
// last_update_id is a decimal string and levels are [price, qty] string
// pairs, so no value goes through a float.
type MarketDataServiceServer interface {
	GetOrderBookSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var MarketDataService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MarketDataServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetOrderBookSnapshot",
			Handler:    getOrderBookSnapshotHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterMarketDataServiceServer(s grpc.ServiceRegistrar, srv MarketDataServiceServer) {
	s.RegisterService(&MarketDataService_ServiceDesc, srv)
}

func getOrderBookSnapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MarketDataServiceServer).GetOrderBookSnapshot(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: getOrderBookSnapshotMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MarketDataServiceServer).GetOrderBookSnapshot(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type MarketDataServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMarketDataServiceClient(cc grpc.ClientConnInterface) *MarketDataServiceClient {
	return &MarketDataServiceClient{cc: cc}
}

func (c *MarketDataServiceClient) GetOrderBookSnapshot(ctx context.Context, in *GetOrderBookSnapshotRequest, opts ...grpc.CallOption) (*GetOrderBookSnapshotResponse, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getOrderBookSnapshotMethod, in.toStruct(), out, opts...); err != nil {
		return nil, err
	}
	return responseFromStruct(out)
}

type GetOrderBookSnapshotRequest struct {
	Provider string
	Market   string
	MaxDepth int
}

func (r *GetOrderBookSnapshotRequest) toStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"provider":  structpb.NewStringValue(r.Provider),
		"market":    structpb.NewStringValue(r.Market),
		"max_depth": structpb.NewNumberValue(float64(r.MaxDepth)),
	}}
}

func requestFromStruct(s *structpb.Struct) (*GetOrderBookSnapshotRequest, error) {
	fields := s.GetFields()
	depth := fields["max_depth"].GetNumberValue()
	if depth < 0 || depth != float64(int(depth)) {
		return nil, fmt.Errorf("max_depth must be a non-negative integer, got %v", depth)
	}

	return &GetOrderBookSnapshotRequest{
		Provider: fields["provider"].GetStringValue(),
		Market:   fields["market"].GetStringValue(),
		MaxDepth: int(depth),
	}, nil
}

type GetOrderBookSnapshotResponse struct {
	Source       domain.OrderBookSource
	LastUpdateID string
	SessionID    string
	Bids         [][]string
	Asks         [][]string
}

func (r *GetOrderBookSnapshotResponse) toStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"source":         structpb.NewStringValue(string(r.Source)),
		"last_update_id": structpb.NewStringValue(r.LastUpdateID),
		"session_id":     structpb.NewStringValue(r.SessionID),
		"bids":           levelsToValue(r.Bids),
		"asks":           levelsToValue(r.Asks),
	}}
}

func responseFromStruct(s *structpb.Struct) (*GetOrderBookSnapshotResponse, error) {
	fields := s.GetFields()

	bids, err := levelsFromValue(fields["bids"])
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := levelsFromValue(fields["asks"])
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}

	return &GetOrderBookSnapshotResponse{
		Source:       domain.OrderBookSource(fields["source"].GetStringValue()),
		LastUpdateID: fields["last_update_id"].GetStringValue(),
		SessionID:    fields["session_id"].GetStringValue(),
		Bids:         bids,
		Asks:         asks,
	}, nil
}

func levelsToValue(levels [][]string) *structpb.Value {
	values := make([]*structpb.Value, len(levels))
	for i, level := range levels {
		pair := make([]*structpb.Value, len(level))
		for j, v := range level {
			pair[j] = structpb.NewStringValue(v)
		}
		values[i] = structpb.NewListValue(&structpb.ListValue{Values: pair})
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

func levelsFromValue(v *structpb.Value) ([][]string, error) {
	list := v.GetListValue().GetValues()
	levels := make([][]string, len(list))
	for i, item := range list {
		pair := item.GetListValue().GetValues()
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: level %d has %d fields", domain.ErrMalformedLevel, i, len(pair))
		}
		levels[i] = []string{pair[0].GetStringValue(), pair[1].GetStringValue()}
	}
	return levels, nil
}
