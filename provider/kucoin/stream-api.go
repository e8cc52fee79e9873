package kucoin

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/rs/zerolog"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

var ErrAlreadySubscribed = errors.New("kucoin: topic already subscribed")

// wsClient is satisfied by *kucoin.WebSocketClient.
type wsClient interface {
	Connect() (<-chan *kucoin.WebSocketDownstreamMessage, <-chan error, error)
	Subscribe(channels ...*kucoin.WebSocketSubscribeMessage) error
	Unsubscribe(channels ...*kucoin.WebSocketUnsubscribeMessage) error
	Stop()
}

type DepthUpdateModel struct {
	Changes       OrderBookChanges `json:"changes"`
	SequenceEnd   uint64           `json:"sequenceEnd"`
	SequenceStart uint64           `json:"sequenceStart"`
	Symbol        string           `json:"symbol"`
	Time          int64            `json:"time"`
}

type OrderBookChanges struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
}

type topicSubscriber struct {
	out    chan *domain.DepthUpdate
	done   chan struct{}
	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func (s *topicSubscriber) deliver(update *domain.DepthUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.out <- update:
	case <-s.done:
	}
}

func (s *topicSubscriber) close() {
	s.once.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

// KucoinStreamAPI routes level2 messages from one SDK websocket
// connection to per-topic subscribers. The connection is opened on the
// first subscription; when it fails every stream is closed and the next
// subscription reconnects with a fresh token.
type KucoinStreamAPI struct {
	newClient func() (wsClient, error)
	logger    zerolog.Logger

	mu          sync.Mutex
	client      wsClient
	stop        chan struct{}
	subscribers map[string]*topicSubscriber
}

func NewKucoinStreamAPI(syncAPI *KucoinSyncAPI, logger zerolog.Logger) *KucoinStreamAPI {
	return newKucoinStreamAPI(func() (wsClient, error) {
		client, err := syncAPI.NewWebSocketClient()
		if err != nil {
			return nil, err
		}
		return client, nil
	}, logger)
}

func newKucoinStreamAPI(newClient func() (wsClient, error), logger zerolog.Logger) *KucoinStreamAPI {
	return &KucoinStreamAPI{
		newClient:   newClient,
		logger:      logger.With().Str("component", "kucoin").Logger(),
		subscribers: make(map[string]*topicSubscriber),
	}
}

func level2Topic(symbol *domain.MarketSymbol) string {
	return fmt.Sprintf("/market/level2:%s", symbol.Exchange("-"))
}

func (s *KucoinStreamAPI) DepthDiffStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.DepthUpdate], error) {
	topic := level2Topic(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribers[topic]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, topic)
	}

	client, err := s.connect()
	if err != nil {
		return nil, err
	}
	if err := client.Subscribe(kucoin.NewSubscribeMessage(topic, false)); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	sub := &topicSubscriber{
		out:  make(chan *domain.DepthUpdate),
		done: make(chan struct{}),
	}
	s.subscribers[topic] = sub
	s.logger.Info().Str("topic", topic).Msg("subscribed")

	var once sync.Once
	return &domain.Subscription[*domain.DepthUpdate]{
		Stream: sub.out,
		Topic:  topic,
		Unsubscribe: func() {
			once.Do(func() { s.unsubscribe(topic, sub) })
		},
	}, nil
}

// Close stops the websocket client and ends every stream.
func (s *KucoinStreamAPI) Close() {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client != nil {
		s.shutdown(client)
	}
}

func (s *KucoinStreamAPI) unsubscribe(topic string, sub *topicSubscriber) {
	s.mu.Lock()
	if s.subscribers[topic] == sub {
		delete(s.subscribers, topic)
		if s.client != nil {
			if err := s.client.Unsubscribe(kucoin.NewUnsubscribeMessage(topic, false)); err != nil {
				s.logger.Warn().Err(err).Str("topic", topic).Msg("failed to unsubscribe")
			}
		}
	}
	s.mu.Unlock()

	sub.close()
}

// connect must be called with s.mu held.
func (s *KucoinStreamAPI) connect() (wsClient, error) {
	if s.client != nil {
		return s.client, nil
	}

	client, err := s.newClient()
	if err != nil {
		return nil, err
	}
	messages, errs, err := client.Connect()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to kucoin websocket: %w", err)
	}

	s.client = client
	s.stop = make(chan struct{})
	go s.route(client, messages, errs, s.stop)
	return client, nil
}

func (s *KucoinStreamAPI) route(client wsClient, messages <-chan *kucoin.WebSocketDownstreamMessage, errs <-chan error, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return

		case err := <-errs:
			s.logger.Error().Err(err).Msg("websocket failed")
			s.shutdown(client)
			return

		case msg, ok := <-messages:
			if !ok {
				s.shutdown(client)
				return
			}
			if msg.Type != kucoin.Message {
				continue
			}

			s.mu.Lock()
			sub := s.subscribers[msg.Topic]
			s.mu.Unlock()
			if sub == nil {
				continue
			}

			update, err := decodeDepthUpdate(msg.RawData)
			if err != nil {
				s.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("dropped depth update")
				continue
			}
			sub.deliver(update)
		}
	}
}

// shutdown closes every subscriber of client so maintainers notice the
// stream is gone.
func (s *KucoinStreamAPI) shutdown(client wsClient) {
	s.mu.Lock()
	if s.client != client {
		s.mu.Unlock()
		return
	}
	s.client = nil
	close(s.stop)
	subscribers := s.subscribers
	s.subscribers = make(map[string]*topicSubscriber)
	s.mu.Unlock()

	client.Stop()
	for _, sub := range subscribers {
		sub.close()
	}
}

// decodeDepthUpdate maps a level2 message to a depth update. KuCoin sends
// changes with price "0" only to advance the sequence; they carry no level.
func decodeDepthUpdate(raw json.RawMessage) (*domain.DepthUpdate, error) {
	var model DepthUpdateModel
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, fmt.Errorf("unmarshal level2 message: %w", err)
	}
	if model.SequenceEnd < model.SequenceStart {
		return nil, fmt.Errorf("level2 range %d..%d is inverted", model.SequenceStart, model.SequenceEnd)
	}

	bids, err := parseChanges(model.Changes.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := parseChanges(model.Changes.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}

	update := domain.NewDepthUpdate(model.SequenceStart, model.SequenceEnd, bids, asks)
	update.Symbol = model.Symbol
	update.EventTime = model.Time
	return update, nil
}

func parseChanges(changes [][]string) ([]domain.Level, error) {
	levels, err := domain.ParseLevels(changes)
	if err != nil {
		return nil, err
	}

	out := levels[:0]
	for _, l := range levels {
		if !l.Price.IsZero() {
			out = append(out, l)
		}
	}
	return out, nil
}
