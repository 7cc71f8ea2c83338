// Package adapters selects exchange connectors by exchange identity.
package adapters

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/adapters/cexio"
	"github.com/coachpo/venuelink/internal/adapters/htx"
	"github.com/coachpo/venuelink/internal/schema"
)

// PublicConnector streams market data for one symbol.
type PublicConnector interface {
	ConnectorID() string
	Symbol() string
	Errors() <-chan error
	Connect(ctx context.Context, onMessage func([]schema.Event)) error
	Stop(ctx context.Context) error
}

// PrivateConnector adds authenticated order and balance operations.
type PrivateConnector interface {
	PublicConnector
	Authenticated() bool
	PlaceOrders(ctx context.Context, req schema.BatchOrdersRequest) ([]schema.PlaceOrderResult, error)
	DeleteAllOrders(ctx context.Context, req schema.CancelOrdersRequest) error
	GetCurrentActiveOrders(ctx context.Context, req schema.OpenOrdersRequest) ([]schema.OrderStatusUpdate, error)
	GetBalancePercentage(ctx context.Context, req schema.BalanceRequest) (schema.BalanceResponse, error)
}

// Settings carries everything a factory needs to build one connector.
// Zero values fall back to the exchange defaults. A negative WaitTime disables the pause between create chunks.
type Settings struct {
	Group      schema.ConnectorGroup
	Connector  schema.ConnectorConfiguration
	Credential schema.Credential

	MaxCreateBatchSize int
	MaxDeleteBatchSize int
	RateLimit          float64
	WaitTime           time.Duration
	AmountPrecision    int32
	PricePrecision     int32
	SubAccountID       string
	ReconnectDelay     time.Duration
	HeartbeatInterval  time.Duration

	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
	HTTPClient    *http.Client
}

// PublicFactory builds a market-data connector.
type PublicFactory func(Settings) (PublicConnector, error)

// PrivateFactory builds an authenticated connector.
type PrivateFactory func(Settings) (PrivateConnector, error)

// Registry maintains connector factories keyed by normalized exchange name.
type Registry struct {
	mu      sync.RWMutex
	public  map[string]PublicFactory
	private map[string]PrivateFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		public:  make(map[string]PublicFactory),
		private: make(map[string]PrivateFactory),
	}
}

// RegisterPublic installs a market-data factory for exchange.
func (r *Registry) RegisterPublic(exchange string, factory PublicFactory) {
	if factory == nil {
		panic("public connector factory required")
	}
	r.mu.Lock()
	r.public[normalize(exchange)] = factory
	r.mu.Unlock()
}

// RegisterPrivate installs an authenticated factory for exchange.
func (r *Registry) RegisterPrivate(exchange string, factory PrivateFactory) {
	if factory == nil {
		panic("private connector factory required")
	}
	r.mu.Lock()
	r.private[normalize(exchange)] = factory
	r.mu.Unlock()
}

// Exchanges lists the exchanges with at least one registered factory.
func (r *Registry) Exchanges() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.public)+len(r.private))
	for name := range r.public {
		seen[name] = struct{}{}
	}
	for name := range r.private {
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewPublicConnector builds the market-data connector for settings.Connector.Exchange.
func (r *Registry) NewPublicConnector(settings Settings) (PublicConnector, error) {
	exchange := normalize(settings.Connector.Exchange)
	r.mu.RLock()
	factory, ok := r.public[exchange]
	r.mu.RUnlock()
	if !ok {
		return nil, unsupported(settings.Connector.Exchange, "public")
	}
	return factory(settings)
}

// NewPrivateConnector builds the authenticated connector for settings.Connector.Exchange.
func (r *Registry) NewPrivateConnector(settings Settings) (PrivateConnector, error) {
	exchange := normalize(settings.Connector.Exchange)
	r.mu.RLock()
	factory, ok := r.private[exchange]
	r.mu.RUnlock()
	if !ok {
		return nil, unsupported(settings.Connector.Exchange, "private")
	}
	return factory(settings)
}

func unsupported(exchange, mode string) error {
	return errs.New(exchange, errs.CodeInvalid,
		errs.WithMessage("no "+mode+" connector for exchange "+strings.TrimSpace(exchange)),
		errs.WithCanonicalCode(errs.CanonicalUnsupportedExchange))
}

// normalize folds "CEX.IO", "cex-io" and "CexIo" onto "cexio".
func normalize(exchange string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '-', '_', ' ':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(exchange)))
}

// RegisterAll installs every built-in connector into reg.
func RegisterAll(reg *Registry) {
	if reg == nil {
		return
	}
	reg.RegisterPublic(cexio.Exchange, func(s Settings) (PublicConnector, error) {
		connector, err := cexio.NewPublicConnector(cexioOptions(s))
		if err != nil {
			return nil, err
		}
		return connector, nil
	})
	reg.RegisterPrivate(cexio.Exchange, func(s Settings) (PrivateConnector, error) {
		connector, err := cexio.NewConnector(cexioOptions(s))
		if err != nil {
			return nil, err
		}
		return connector, nil
	})
	reg.RegisterPublic(htx.Exchange, func(s Settings) (PublicConnector, error) {
		connector, err := htx.NewConnector(htx.Options{
			Group:             s.Group,
			Connector:         canonicalExchange(s.Connector, htx.Exchange),
			ReconnectDelay:    s.ReconnectDelay,
			HeartbeatInterval: s.HeartbeatInterval,
			Logger:            s.Logger,
			MeterProvider:     s.MeterProvider,
		})
		if err != nil {
			return nil, err
		}
		return connector, nil
	})
}

func cexioOptions(s Settings) cexio.Options {
	return cexio.Options{
		Group:      s.Group,
		Connector:  canonicalExchange(s.Connector, cexio.Exchange),
		Credential: s.Credential,
		Config: cexio.Config{
			MaxCreateBatchSize: s.MaxCreateBatchSize,
			MaxDeleteBatchSize: s.MaxDeleteBatchSize,
			RateLimit:          s.RateLimit,
			WaitTime:           s.WaitTime,
			AmountPrecision:    s.AmountPrecision,
			PricePrecision:     s.PricePrecision,
			SubAccountID:       s.SubAccountID,
			ReconnectDelay:     s.ReconnectDelay,
			HeartbeatInterval:  s.HeartbeatInterval,
		},
		Logger:        s.Logger,
		MeterProvider: s.MeterProvider,
		HTTPClient:    s.HTTPClient,
	}
}

// canonicalExchange pins the exchange name so canonical symbols stay stable across spellings.
func canonicalExchange(cfg schema.ConnectorConfiguration, exchange string) schema.ConnectorConfiguration {
	cfg.Exchange = exchange
	return cfg
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry holding every built-in connector.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		RegisterAll(defaultRegistry)
	})
	return defaultRegistry
}

// NewPublicConnector builds a market-data connector from the built-in registry.
func NewPublicConnector(settings Settings) (PublicConnector, error) {
	return Default().NewPublicConnector(settings)
}

// NewPrivateConnector builds an authenticated connector from the built-in registry.
func NewPrivateConnector(settings Settings) (PrivateConnector, error) {
	return Default().NewPrivateConnector(settings)
}
