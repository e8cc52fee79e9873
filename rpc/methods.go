package rpc

import (
	"context"
	"errors"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

func (s *server) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := requestFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if !s.validationService.IsSupportedProvider(req.Provider) {
		return nil, status.Errorf(codes.InvalidArgument, "provider %s is not supported", req.Provider)
	}

	marketSymbol, err := domain.NewMarketSymbolFromString(req.Market)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid market symbol %s. Correct market symbol should use / as a separator", req.Market)
	}

	snapshot, err := s.orderbookSnapshotUseCase.GetOrderBookSnapshot(ctx, req.Provider, marketSymbol, req.MaxDepth)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &GetOrderBookSnapshotResponse{
		Source:       snapshot.Source,
		LastUpdateID: strconv.FormatUint(snapshot.LastUpdateID, 10),
		SessionID:    snapshot.SessionID,
		Bids:         domain.FormatLevels(snapshot.Bids),
		Asks:         domain.FormatLevels(snapshot.Asks),
	}
	return resp.toStruct(), nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrProviderNotFound), errors.Is(err, domain.ErrOrderBookNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}
