package binance

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

type streamSubscriber interface {
	Subscribe(topic string) (*domain.Subscription[[]byte], error)
}

type BinanceStreamAPI struct {
	streamClient streamSubscriber
	logger       zerolog.Logger
}

type DepthUpdateData struct {
	Event         string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateId uint64     `json:"U"`
	FinalUpdateId uint64     `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

func NewBinanceStreamAPI(client streamSubscriber, logger zerolog.Logger) *BinanceStreamAPI {
	return &BinanceStreamAPI{
		streamClient: client,
		logger:       logger.With().Str("component", "binance").Logger(),
	}
}

func depthTopic(symbol *domain.MarketSymbol) string {
	return fmt.Sprintf("%s@depth@100ms", symbol.Join(""))
}

// DepthDiffStream subscribes to the 100ms diff depth stream. Frames that
// cannot be decoded are logged and dropped; the sequence check downstream
// notices the hole.
func (bs *BinanceStreamAPI) DepthDiffStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.DepthUpdate], error) {
	topic := depthTopic(symbol)
	subscription, err := bs.streamClient.Subscribe(topic)
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.DepthUpdate)
	done := make(chan struct{})

	go func() {
		defer close(out)

		for msg := range subscription.Stream {
			update, err := decodeDepthUpdate(msg)
			if err != nil {
				bs.logger.Warn().Err(err).Str("topic", topic).Msg("dropped depth update")
				continue
			}

			select {
			case out <- update:
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return &domain.Subscription[*domain.DepthUpdate]{
		Stream: out,
		Unsubscribe: func() {
			once.Do(func() {
				close(done)
				subscription.Unsubscribe()
			})
		},
		Topic: topic,
	}, nil
}

func decodeDepthUpdate(msg []byte) (*domain.DepthUpdate, error) {
	var message Message[DepthUpdateData]
	if err := json.Unmarshal(msg, &message); err != nil {
		return nil, fmt.Errorf("unmarshal depth update: %w", err)
	}

	data := message.Data
	if data.FinalUpdateId < data.FirstUpdateId {
		return nil, fmt.Errorf("depth update range U=%d u=%d is inverted", data.FirstUpdateId, data.FinalUpdateId)
	}

	bids, err := domain.ParseLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := domain.ParseLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}

	update := domain.NewDepthUpdate(data.FirstUpdateId, data.FinalUpdateId, bids, asks)
	update.Symbol = data.Symbol
	update.EventTime = data.EventTime
	return update, nil
}
