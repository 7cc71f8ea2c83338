// Package htx implements the HTX spot market-data connector.
package htx

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/coachpo/venuelink/internal/adapters/shared"
	"github.com/coachpo/venuelink/internal/schema"
)

const (
	// Exchange is the identifier the factory selects this package by.
	Exchange     = "htx"
	defaultWSURL = "wss://api.huobi.pro/ws"
)

// Options configure an HTX connector.
type Options struct {
	Group             schema.ConnectorGroup
	Connector         schema.ConnectorConfiguration
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
	MeterProvider     metric.MeterProvider
	Clock             func() time.Time
}

// Connector streams HTX trades, tickers and best bid/offer for one symbol.
type Connector struct {
	symbol  string
	session *shared.Session
}

// NewConnector builds an anonymous connector.
func NewConnector(opts Options) (*Connector, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if strings.TrimSpace(opts.Connector.ConnectorType) == "" {
		opts.Connector.ConnectorType = connectorLabel
	}
	symbol := schema.CanonicalSymbol(opts.Group, opts.Connector)
	wire := exchangeSymbol(opts.Group, opts.Connector)
	session, err := shared.NewSession(shared.SessionOptions{
		Bundle: shared.Bundle{
			Exchange: Exchange,
			URL:      opts.Connector.WSURL(defaultWSURL),
			Framing:  framing{symbol: wire},
			Mapper:   newMapper(opts.Connector.ConnectorType, symbol, wire),
			Channels: []string{channelBBO, channelTrades, channelTicker},
		},
		Logger:            opts.Logger.With(zap.String("symbol", symbol)),
		MeterProvider:     opts.MeterProvider,
		ReconnectDelay:    opts.ReconnectDelay,
		HeartbeatInterval: opts.HeartbeatInterval,
		Clock:             opts.Clock,
	})
	if err != nil {
		return nil, err
	}
	return &Connector{symbol: symbol, session: session}, nil
}

// exchangeSymbol renders the HTX symbol, e.g. "btcusdt".
func exchangeSymbol(group schema.ConnectorGroup, cfg schema.ConnectorConfiguration) string {
	return schema.PairSymbol(group, cfg, "", strings.ToLower)
}

// ConnectorID identifies the connector in logs and metrics.
func (c *Connector) ConnectorID() string { return c.session.ConnectorID() }

// Symbol returns the canonical symbol, e.g. "htx-BTC-USDT".
func (c *Connector) Symbol() string { return c.symbol }

// Errors streams asynchronous session failures.
func (c *Connector) Errors() <-chan error { return c.session.Errors() }

// State reports the session lifecycle state.
func (c *Connector) State() shared.State { return c.session.State() }

// Subscriptions lists the topics currently subscribed.
func (c *Connector) Subscriptions() []string { return c.session.Subscriptions() }

// Stop unsubscribes every topic and closes the socket.
func (c *Connector) Stop(ctx context.Context) error { return c.session.Stop(ctx) }

// Connect opens the socket and subscribes to the bbo, trade and ticker topics.
func (c *Connector) Connect(ctx context.Context, onMessage func([]schema.Event)) error {
	return c.session.Connect(ctx, onMessage)
}
