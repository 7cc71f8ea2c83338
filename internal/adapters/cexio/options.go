// Package cexio implements the CEX.IO spot connectors.
package cexio

import (
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/coachpo/venuelink/internal/schema"
)

const (
	// Exchange is the identifier the factory selects this package by.
	Exchange      = "cexio"
	connectorType = "CexIo"

	defaultPrivateWSURL = "wss://trade.cex.io/api/spot/ws"
	defaultPublicWSURL  = "wss://trade.cex.io/api/spot/ws-public"
	defaultRestURL      = "https://trade.cex.io/api/spot/rest"

	defaultMaxCreateBatchSize = 10
	defaultMaxDeleteBatchSize = 50
	defaultRateLimit          = 50
	defaultWaitTime           = 2 * time.Second
	defaultAmountPrecision    = 8
	defaultPricePrecision     = 2
	defaultSubAccountID       = "mainSubAccount"
	defaultHTTPTimeout        = 10 * time.Second

	channelTrade     = "trade"
	channelOrderBook = "order_book"
)

// Config captures the tunables of the CEX.IO connectors.
type Config struct {
	MaxCreateBatchSize int
	MaxDeleteBatchSize int
	RateLimit          float64
	// WaitTime is the pause between consecutive create chunks of one batch.
	// Zero selects the default and a negative value disables the pause.
	WaitTime          time.Duration
	AmountPrecision   int32
	PricePrecision    int32
	SubAccountID      string
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	HTTPTimeout       time.Duration
}

// Options configure a CEX.IO connector.
type Options struct {
	Group         schema.ConnectorGroup
	Connector     schema.ConnectorConfiguration
	Credential    schema.Credential
	Config        Config
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
	HTTPClient    *http.Client
	Clock         func() time.Time
}

func withDefaults(in Options) Options {
	if in.Config.MaxCreateBatchSize <= 0 {
		in.Config.MaxCreateBatchSize = defaultMaxCreateBatchSize
	}
	if in.Config.MaxDeleteBatchSize <= 0 {
		in.Config.MaxDeleteBatchSize = defaultMaxDeleteBatchSize
	}
	if in.Config.RateLimit <= 0 {
		in.Config.RateLimit = defaultRateLimit
	}
	if in.Config.WaitTime < 0 {
		in.Config.WaitTime = 0
	} else if in.Config.WaitTime == 0 {
		in.Config.WaitTime = defaultWaitTime
	}
	if in.Config.AmountPrecision <= 0 {
		in.Config.AmountPrecision = defaultAmountPrecision
	}
	if in.Config.PricePrecision <= 0 {
		in.Config.PricePrecision = defaultPricePrecision
	}
	if strings.TrimSpace(in.Config.SubAccountID) == "" {
		in.Config.SubAccountID = defaultSubAccountID
	}
	if in.Config.HTTPTimeout <= 0 {
		in.Config.HTTPTimeout = defaultHTTPTimeout
	}
	if strings.TrimSpace(in.Connector.ConnectorType) == "" {
		in.Connector.ConnectorType = connectorType
	}
	if in.Logger == nil {
		in.Logger = zap.NewNop()
	}
	if in.Clock == nil {
		in.Clock = time.Now
	}
	return in
}

func (o Options) restURL() string {
	if addr := strings.TrimSpace(o.Connector.RestAddress); addr != "" {
		return addr
	}
	return defaultRestURL
}

// exchangeSymbol renders the CEX.IO pair, e.g. "BTC-USDT".
func exchangeSymbol(group schema.ConnectorGroup, cfg schema.ConnectorConfiguration) string {
	return schema.PairSymbol(group, cfg, "-", strings.ToUpper)
}
