package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

const (
	binanceDefaultWsAPIEndpoint = "wss://ws-api.binance.com:443/ws-api/v3"
	defaultRequestTimeout       = 10 * time.Second
)

var (
	ErrTimeout        = errors.New("timeout error")
	ErrConnectionLost = errors.New("binance ws api connection lost")
)

type GenericMessage[T any] struct {
	ID     int       `json:"id"`
	Status int       `json:"status"`
	Result T         `json:"result"`
	Error  *APIError `json:"error"`
}

type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance error %d: %s", e.Code, e.Msg)
}

type DepthModel struct {
	LastUpdateId uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type ExchangeInfoModel struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

type wsSession struct {
	conn       *websocket.Conn
	writeMutex sync.Mutex
	pending    map[int]chan []byte
}

// BinanceSyncAPI requests snapshots and symbol filters over the Binance
// WebSocket API. The connection is dialed on first use and again after it
// drops; requests in flight on a dropped connection fail with
// ErrConnectionLost.
type BinanceSyncAPI struct {
	endpoint string
	dialer   websocket.Dialer
	timeout  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	session *wsSession
}

type BinanceSyncAPIOptions struct {
	Endpoint         string
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
}

func NewBinanceSyncAPI(opts BinanceSyncAPIOptions, logger zerolog.Logger) *BinanceSyncAPI {
	if opts.Endpoint == "" {
		opts.Endpoint = binanceDefaultWsAPIEndpoint
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	return &BinanceSyncAPI{
		endpoint: opts.Endpoint,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		timeout: opts.RequestTimeout,
		logger:  logger.With().Str("component", "binance-ws-api").Logger(),
	}
}

func (api *BinanceSyncAPI) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	var depth DepthModel
	err := api.request(ctx, "depth", map[string]interface{}{
		"symbol": symbol.Exchange(""),
		"limit":  limit,
	}, &depth)
	if err != nil {
		return nil, fmt.Errorf("binance depth %s: %w", symbol, err)
	}

	bids, err := domain.ParseLevels(depth.Bids)
	if err != nil {
		return nil, fmt.Errorf("binance depth %s bids: %w", symbol, err)
	}
	asks, err := domain.ParseLevels(depth.Asks)
	if err != nil {
		return nil, fmt.Errorf("binance depth %s asks: %w", symbol, err)
	}

	return &domain.OrderBookSnapshot{
		Source:       domain.OrderBookSource_Provider,
		LastUpdateID: depth.LastUpdateId,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

// Granularity reads PRICE_FILTER.tickSize and LOT_SIZE.stepSize.
func (api *BinanceSyncAPI) Granularity(ctx context.Context, symbol *domain.MarketSymbol) (*domain.Granularity, error) {
	var info ExchangeInfoModel
	err := api.request(ctx, "exchangeInfo", map[string]interface{}{
		"symbol": symbol.Exchange(""),
	}, &info)
	if err != nil {
		return nil, fmt.Errorf("binance exchangeInfo %s: %w", symbol, err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol.Exchange("") {
			continue
		}

		var g domain.Granularity
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				g.TickSize, err = decimal.NewFromString(f.TickSize)
			case "LOT_SIZE":
				g.StepSize, err = decimal.NewFromString(f.StepSize)
			}
			if err != nil {
				return nil, fmt.Errorf("%w: %s filter %s: %v", domain.ErrInvalidGranularity, symbol, f.FilterType, err)
			}
		}
		return &g, nil
	}

	return nil, fmt.Errorf("%w: %s not listed", domain.ErrInvalidGranularity, symbol)
}

// Close drops the current connection, if any.
func (api *BinanceSyncAPI) Close() {
	api.mu.Lock()
	s := api.session
	api.session = nil
	api.mu.Unlock()

	if s != nil {
		s.conn.Close()
	}
}

func (api *BinanceSyncAPI) request(ctx context.Context, method string, params map[string]interface{}, result interface{}) error {
	s, err := api.connection(ctx)
	if err != nil {
		return err
	}

	reqId, ch, err := api.register(s)
	if err != nil {
		return err
	}
	defer func() {
		api.mu.Lock()
		delete(s.pending, reqId)
		api.mu.Unlock()
	}()

	s.writeMutex.Lock()
	err = s.conn.WriteJSON(map[string]interface{}{
		"method": method,
		"params": params,
		"id":     reqId,
	})
	s.writeMutex.Unlock()
	if err != nil {
		return err
	}

	timer := time.NewTimer(api.timeout)
	defer timer.Stop()

	var msg []byte
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	case m, ok := <-ch:
		if !ok {
			return ErrConnectionLost
		}
		msg = m
	}

	var response GenericMessage[json.RawMessage]
	if err := json.Unmarshal(msg, &response); err != nil {
		return err
	}
	if response.Status != http.StatusOK {
		if response.Error != nil {
			return fmt.Errorf("status %d: %w", response.Status, response.Error)
		}
		return fmt.Errorf("status %d", response.Status)
	}

	return json.Unmarshal(response.Result, result)
}

// register fails with ErrConnectionLost once s is no longer the live
// session, since its listener will never answer.
func (api *BinanceSyncAPI) register(s *wsSession) (int, chan []byte, error) {
	api.mu.Lock()
	defer api.mu.Unlock()

	if api.session != s {
		return 0, nil, ErrConnectionLost
	}

	reqId := getRandomReqID()
	for s.pending[reqId] != nil {
		reqId = getRandomReqID()
	}
	ch := make(chan []byte, 1)
	s.pending[reqId] = ch
	return reqId, ch, nil
}

func (api *BinanceSyncAPI) connection(ctx context.Context) (*wsSession, error) {
	api.mu.Lock()
	defer api.mu.Unlock()

	if api.session != nil {
		return api.session, nil
	}

	conn, _, err := api.dialer.DialContext(ctx, api.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", api.endpoint, err)
	}
	api.logger.Info().Str("endpoint", api.endpoint).Msg("connected")

	s := &wsSession{conn: conn, pending: make(map[int]chan []byte)}
	api.session = s
	go api.listener(s)
	return s, nil
}

func (api *BinanceSyncAPI) listener(s *wsSession) {
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			api.logger.Warn().Err(err).Msg("connection closed")

			api.mu.Lock()
			if api.session == s {
				api.session = nil
			}
			for id, ch := range s.pending {
				close(ch)
				delete(s.pending, id)
			}
			api.mu.Unlock()
			return
		}

		var header struct {
			ID *int `json:"id"`
		}
		if err := json.Unmarshal(message, &header); err != nil || header.ID == nil {
			api.logger.Debug().Bytes("message", message).Msg("unsolicited message")
			continue
		}

		api.mu.Lock()
		ch := s.pending[*header.ID]
		delete(s.pending, *header.ID)
		api.mu.Unlock()

		if ch != nil {
			ch <- message
		}
	}
}
