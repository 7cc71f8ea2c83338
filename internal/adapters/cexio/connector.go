package cexio

import (
	"context"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/coachpo/venuelink/internal/adapters/shared"
	"github.com/coachpo/venuelink/internal/schema"
)

// Connector is the authenticated CEX.IO spot connector. Its websocket streams order
// updates, trades, and top of book; orders and balances go through signed REST.
type Connector struct {
	opts    Options
	symbol  string
	pair    string
	logger  *zap.Logger
	session *shared.Session
	rest    *shared.RestGateway
	mapper  *mapper
	setup   conc.WaitGroup
}

// NewConnector builds a private connector. It fails when the credential is incomplete.
func NewConnector(opts Options) (*Connector, error) {
	opts = withDefaults(opts)
	signer, err := shared.NewSigner(Exchange, opts.Credential)
	if err != nil {
		return nil, err
	}
	symbol := schema.CanonicalSymbol(opts.Group, opts.Connector)
	pair := exchangeSymbol(opts.Group, opts.Connector)
	logger := opts.Logger.With(zap.String("symbol", symbol))
	m := newMapper(opts.Connector.ConnectorType, symbol, pair)

	session, err := shared.NewSession(shared.SessionOptions{
		Bundle: shared.Bundle{
			Exchange:  Exchange,
			URL:       opts.Connector.WSURL(defaultPrivateWSURL),
			Private:   true,
			Framing:   framing{pair: pair, signer: signer},
			Mapper:    m,
			Channels:  []string{channelTrade, channelOrderBook},
			Canceller: cancelAll{},
		},
		Logger:            logger,
		MeterProvider:     opts.MeterProvider,
		ReconnectDelay:    opts.Config.ReconnectDelay,
		HeartbeatInterval: opts.Config.HeartbeatInterval,
		Clock:             opts.Clock,
	})
	if err != nil {
		return nil, err
	}
	rest, err := shared.NewRestGateway(shared.RestGatewayOptions{
		Exchange:      Exchange,
		BaseURL:       opts.restURL(),
		Signer:        signer,
		HTTPClient:    opts.HTTPClient,
		RateLimit:     opts.Config.RateLimit,
		Timeout:       opts.Config.HTTPTimeout,
		Clock:         opts.Clock,
		Logger:        logger,
		MeterProvider: opts.MeterProvider,
	})
	if err != nil {
		return nil, err
	}
	return &Connector{
		opts:    opts,
		symbol:  symbol,
		pair:    pair,
		logger:  logger,
		session: session,
		rest:    rest,
		mapper:  m,
	}, nil
}

// ConnectorID returns the unique id of the underlying session.
func (c *Connector) ConnectorID() string { return c.session.ConnectorID() }

// Symbol returns the canonical symbol stamped on every event.
func (c *Connector) Symbol() string { return c.symbol }

// Errors exposes asynchronous session failures.
func (c *Connector) Errors() <-chan error { return c.session.Errors() }

// Authenticated reports whether the websocket is authenticated.
func (c *Connector) Authenticated() bool { return c.session.Authenticated() }

// State returns the session state.
func (c *Connector) State() shared.State { return c.session.State() }

// Connect opens and authenticates the websocket, then makes sure the configured
// sub-account exists in the background.
func (c *Connector) Connect(ctx context.Context, onMessage func([]schema.Event)) error {
	if err := c.session.Connect(ctx, onMessage); err != nil {
		return err
	}
	c.setup.Go(func() {
		if err := c.InitializeSubAccount(ctx); err != nil {
			c.logger.Warn("initialize sub-account", zap.Error(err))
		}
	})
	return nil
}

// Stop unsubscribes, sends the websocket cancel-all frame, and closes the socket.
// The cancel-all is not confirmed; use DeleteAllOrders for an enumerated cancel.
func (c *Connector) Stop(ctx context.Context) error {
	err := c.session.Stop(ctx)
	c.setup.Wait()
	return err
}

// PublicConnector streams CEX.IO trades and top of book without credentials.
type PublicConnector struct {
	symbol  string
	session *shared.Session
}

// NewPublicConnector builds an anonymous connector on the public websocket.
func NewPublicConnector(opts Options) (*PublicConnector, error) {
	opts = withDefaults(opts)
	symbol := schema.CanonicalSymbol(opts.Group, opts.Connector)
	pair := exchangeSymbol(opts.Group, opts.Connector)
	session, err := shared.NewSession(shared.SessionOptions{
		Bundle: shared.Bundle{
			Exchange: Exchange,
			URL:      opts.Connector.WSURL(defaultPublicWSURL),
			Framing:  framing{pair: pair},
			Mapper:   newMapper(opts.Connector.ConnectorType, symbol, pair),
			Channels: []string{channelTrade, channelOrderBook},
		},
		Logger:            opts.Logger.With(zap.String("symbol", symbol)),
		MeterProvider:     opts.MeterProvider,
		ReconnectDelay:    opts.Config.ReconnectDelay,
		HeartbeatInterval: opts.Config.HeartbeatInterval,
		Clock:             opts.Clock,
	})
	if err != nil {
		return nil, err
	}
	return &PublicConnector{symbol: symbol, session: session}, nil
}

// ConnectorID identifies the connector in logs and metrics.
func (c *PublicConnector) ConnectorID() string { return c.session.ConnectorID() }

// Symbol returns the canonical symbol, e.g. "cexio-BTC-USDT".
func (c *PublicConnector) Symbol() string { return c.symbol }

// Errors streams asynchronous session failures.
func (c *PublicConnector) Errors() <-chan error { return c.session.Errors() }

// Connect opens the public socket and subscribes to trades and the order book.
func (c *PublicConnector) Connect(ctx context.Context, onMessage func([]schema.Event)) error {
	return c.session.Connect(ctx, onMessage)
}

// Stop unsubscribes every channel and closes the socket.
func (c *PublicConnector) Stop(ctx context.Context) error { return c.session.Stop(ctx) }
