package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

const STARTING = "starting"

type StatusHook func(provider string, symbol *domain.MarketSymbol, status domain.SyncStatus)

// BookSupervisor runs at most one OrderbookMaintainer per provider and
// symbol. A book whose maintainer stopped can be started again.
type BookSupervisor struct {
	ctx         context.Context
	connManager domain.ConnManager
	storage     *domain.OrderBookStorage
	cfg         domain.MaintainerConfig
	opts        []domain.MaintainerOption
	onStatus    StatusHook
	logger      zerolog.Logger

	waitingRoom sync.Map
	wg          sync.WaitGroup
}

// NewBookSupervisor binds every maintainer it starts to ctx. cfg.Provider
// is replaced per book; onStatus may be nil.
func NewBookSupervisor(
	ctx context.Context,
	connManager domain.ConnManager,
	storage *domain.OrderBookStorage,
	cfg domain.MaintainerConfig,
	onStatus StatusHook,
	logger zerolog.Logger,
	opts ...domain.MaintainerOption,
) *BookSupervisor {
	return &BookSupervisor{
		ctx:         ctx,
		connManager: connManager,
		storage:     storage,
		cfg:         cfg,
		opts:        opts,
		onStatus:    onStatus,
		logger:      logger,
	}
}

// Start launches a maintainer unless one is already running for the book.
// The returned channel yields the maintainer's exit error; it is nil when
// the book was already running.
func (s *BookSupervisor) Start(provider string, symbol *domain.MarketSymbol) <-chan error {
	key := waitingRoomKey(provider, symbol)
	if _, loaded := s.waitingRoom.LoadOrStore(key, STARTING); loaded {
		return nil
	}

	done := make(chan error, 1)

	streamAPI, err := s.connManager.StreamAPI(provider)
	if err == nil {
		var syncAPI domain.ProviderSyncAPI
		syncAPI, err = s.connManager.SyncAPI(provider)
		if err == nil {
			s.run(key, provider, symbol, streamAPI, syncAPI, done)
			return done
		}
	}

	s.waitingRoom.Delete(key)
	done <- err
	return done
}

func (s *BookSupervisor) Running(provider string, symbol *domain.MarketSymbol) bool {
	_, ok := s.waitingRoom.Load(waitingRoomKey(provider, symbol))
	return ok
}

// Wait blocks until every started maintainer has returned.
func (s *BookSupervisor) Wait() {
	s.wg.Wait()
}

func (s *BookSupervisor) run(
	key, provider string,
	symbol *domain.MarketSymbol,
	streamAPI domain.ProviderStreamAPI,
	syncAPI domain.ProviderSyncAPI,
	done chan<- error,
) {
	cfg := s.cfg
	cfg.Provider = provider

	opts := append([]domain.MaintainerOption(nil), s.opts...)
	if s.onStatus != nil {
		opts = append(opts, domain.WithStatusHook(func(status domain.SyncStatus) {
			s.onStatus(provider, symbol, status)
		}))
	}

	m := domain.NewOrderBookMaintainer(symbol, streamAPI, syncAPI, s.storage, cfg, s.logger, opts...)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := m.Run(s.ctx)
		s.storage.Remove(provider, symbol)
		s.waitingRoom.Delete(key)
		if s.onStatus != nil {
			s.onStatus(provider, symbol, domain.SyncStatus_Uninitialized)
		}

		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Str("provider", provider).Str("symbol", symbol.String()).Msg("order book maintainer stopped")
		}
		done <- err
	}()
}

func waitingRoomKey(provider string, symbol *domain.MarketSymbol) string {
	return fmt.Sprintf("%s-%s", provider, symbol.String())
}
