package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/recws-org/recws"
	"github.com/rs/zerolog"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

const (
	binanceDefaultStreamEndpoint = "wss://stream.binance.com:9443/stream"
	pingDelay                    = time.Minute * 9
	readRetryDelay               = 100 * time.Millisecond
)

// Message is the combined stream envelope.
type Message[T any] struct {
	Stream string `json:"stream"`
	Data   T      `json:"data"`
}

type WebSocketRequestModel struct {
	ReqId  int      `json:"id"`
	Params []string `json:"params"`
	Method string   `json:"method"`
}

type frameHeader struct {
	Stream string `json:"stream"`
	ReqId  *int   `json:"id"`
}

type subscriber struct {
	ch       chan []byte
	done     chan struct{}
	mu       sync.Mutex
	closed   bool
	doneOnce sync.Once
}

// deliver blocks until the consumer reads msg or the subscriber is closed.
func (s *subscriber) deliver(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	case <-s.done:
	}
}

func (s *subscriber) close() {
	s.doneOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type conn interface {
	Dial(urlStr string, reqHeader http.Header)
	IsConnected() bool
	ReadMessage() (messageType int, message []byte, err error)
	WriteJSON(v interface{}) error
	Close()
}

// BinanceStreamClient multiplexes topics over one combined stream
// connection. Every Subscribe gets its own channel; the topic is
// unsubscribed upstream when its last subscriber leaves.
type BinanceStreamClient struct {
	endpoint string
	conn     conn
	logger   zerolog.Logger

	mu            sync.Mutex
	subscriptions map[string][]*subscriber
	closed        chan struct{}
	closeOnce     sync.Once
}

type BinanceStreamClientOptions struct {
	Endpoint         string
	HandshakeTimeout time.Duration
}

func NewBinanceStreamClient(opts BinanceStreamClientOptions, logger zerolog.Logger) *BinanceStreamClient {
	if opts.Endpoint == "" {
		opts.Endpoint = binanceDefaultStreamEndpoint
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}

	c := &BinanceStreamClient{
		endpoint:      opts.Endpoint,
		logger:        logger.With().Str("component", "binance-stream").Logger(),
		subscriptions: make(map[string][]*subscriber),
		closed:        make(chan struct{}),
	}

	c.conn = &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
		KeepAliveTimeout: pingDelay,
		NonVerbose:       true,
		SubscribeHandler: c.resubscribe,
	}
	return c
}

func (c *BinanceStreamClient) Connect() error {
	c.conn.Dial(c.endpoint, nil)
	if !c.conn.IsConnected() {
		// recws keeps redialing in the background
		c.logger.Warn().Str("endpoint", c.endpoint).Msg("stream not connected yet, retrying in background")
	}

	go c.read()
	return nil
}

func (c *BinanceStreamClient) Subscribe(topic string) (*domain.Subscription[[]byte], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &subscriber{
		ch:   make(chan []byte),
		done: make(chan struct{}),
	}

	if len(c.subscriptions[topic]) == 0 {
		c.logger.Info().Str("topic", topic).Msg("subscribing")
		if err := c.send("SUBSCRIBE", topic); err != nil {
			return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
		}
	}
	c.subscriptions[topic] = append(c.subscriptions[topic], sub)

	var once sync.Once
	return &domain.Subscription[[]byte]{
		Stream: sub.ch,
		Unsubscribe: func() {
			once.Do(func() { c.unsubscribe(topic, sub) })
		},
		Topic: topic,
	}, nil
}

func (c *BinanceStreamClient) unsubscribe(topic string, sub *subscriber) {
	c.mu.Lock()
	subs := c.subscriptions[topic]
	found := false
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i], subs[i+1:]...)
			found = true
			break
		}
	}

	switch {
	case !found:
		// released by Close
	case len(subs) == 0:
		delete(c.subscriptions, topic)
		c.logger.Info().Str("topic", topic).Msg("unsubscribing")
		if err := c.send("UNSUBSCRIBE", topic); err != nil {
			c.logger.Warn().Err(err).Str("topic", topic).Msg("failed to unsubscribe")
		}
	default:
		c.subscriptions[topic] = subs
	}
	c.mu.Unlock()

	sub.close()
}

// Close stops the read loop and closes every subscriber stream.
func (c *BinanceStreamClient) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()

		c.mu.Lock()
		subscriptions := c.subscriptions
		c.subscriptions = make(map[string][]*subscriber)
		c.mu.Unlock()

		for _, subs := range subscriptions {
			for _, sub := range subs {
				sub.close()
			}
		}
	})
}

func (c *BinanceStreamClient) send(method string, topics ...string) error {
	if !c.conn.IsConnected() {
		// topics are sent by resubscribe once connected
		return nil
	}
	return c.conn.WriteJSON(WebSocketRequestModel{
		Method: method,
		ReqId:  getRandomReqID(),
		Params: topics,
	})
}

// resubscribe runs after every (re)connect; binance forgets subscriptions
// with the connection. recws exits the process if this returns an error; a
// failed write already schedules another reconnect.
func (c *BinanceStreamClient) resubscribe() error {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	if len(topics) == 0 {
		return nil
	}
	c.logger.Info().Strs("topics", topics).Msg("resubscribing after reconnect")
	if err := c.send("SUBSCRIBE", topics...); err != nil {
		c.logger.Error().Err(err).Strs("topics", topics).Msg("resubscribe failed, waiting for reconnect")
	}
	return nil
}

func (c *BinanceStreamClient) read() {
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, recws.ErrNotConnected) {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			time.Sleep(readRetryDelay)
			continue
		}

		c.dispatch(msg)
	}
}

func (c *BinanceStreamClient) dispatch(msg []byte) {
	var header frameHeader
	if err := json.Unmarshal(msg, &header); err != nil {
		c.logger.Warn().Err(err).Bytes("message", msg).Msg("malformed frame")
		return
	}

	if header.ReqId != nil {
		c.logger.Debug().Int("id", *header.ReqId).Bytes("message", msg).Msg("request acknowledged")
		return
	}
	if header.Stream == "" {
		return
	}

	c.mu.Lock()
	subs := append([]*subscriber(nil), c.subscriptions[header.Stream]...)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(msg)
	}
}

func getRandomReqID() int {
	min := 10000
	max := 9999999
	return min + rand.Intn(max-min)
}
