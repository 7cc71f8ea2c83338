package htx

import (
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/venuelink/internal/adapters/shared"
	"github.com/coachpo/venuelink/internal/schema"
)

const (
	channelBBO     = "bbo"
	channelTrades  = "trade.detail"
	channelTicker  = "ticker"
	connectorLabel = "HTX"
)

var sides = map[string]schema.Side{
	"buy":  schema.SideBuy,
	"sell": schema.SideSell,
}

type marketFrame struct {
	Ch   string          `json:"ch"`
	TS   int64           `json:"ts"`
	Tick json.RawMessage `json:"tick"`
}

type tradeTick struct {
	TS   int64 `json:"ts"`
	Data []struct {
		TS        int64           `json:"ts"`
		Amount    decimal.Decimal `json:"amount"`
		Price     decimal.Decimal `json:"price"`
		Direction string          `json:"direction"`
	} `json:"data"`
}

type tickerTick struct {
	LastPrice decimal.Decimal `json:"lastPrice"`
}

type bboTick struct {
	Ask       decimal.Decimal `json:"ask"`
	AskSize   decimal.Decimal `json:"askSize"`
	Bid       decimal.Decimal `json:"bid"`
	BidSize   decimal.Decimal `json:"bidSize"`
	QuoteTime int64           `json:"quoteTime"`
}

// mapper converts market.{symbol}.* frames into canonical events.
type mapper struct {
	connectorType string
	symbol        string
	prefix        string
}

func newMapper(connectorType, symbol, exchangeSymbol string) mapper {
	return mapper{connectorType: connectorType, symbol: symbol, prefix: "market." + exchangeSymbol + "."}
}

func (m mapper) header(kind schema.Kind, ts int64) schema.Header {
	return schema.Header{Event: kind, ConnectorType: m.connectorType, Symbol: m.symbol, Timestamp: ts}
}

func (m mapper) Map(body []byte) ([]schema.Event, error) {
	var frame marketFrame
	if err := json.Unmarshal(body, &frame); err != nil {
		return nil, err
	}
	channel, ok := strings.CutPrefix(frame.Ch, m.prefix)
	if !ok {
		return nil, shared.ErrUnknownFrame
	}
	switch channel {
	case channelTrades:
		var tick tradeTick
		if err := json.Unmarshal(frame.Tick, &tick); err != nil {
			return nil, err
		}
		events := make([]schema.Event, 0, len(tick.Data))
		for _, t := range tick.Data {
			side, err := shared.LookupSide(Exchange, sides, t.Direction)
			if err != nil {
				return nil, err
			}
			ts := t.TS
			if ts == 0 {
				ts = tick.TS
			}
			events = append(events, schema.NewTrade(m.connectorType, m.symbol, ts,
				t.Price.InexactFloat64(), t.Amount.InexactFloat64(), side))
		}
		return events, nil
	case channelTicker:
		var tick tickerTick
		if err := json.Unmarshal(frame.Tick, &tick); err != nil {
			return nil, err
		}
		return []schema.Event{schema.Ticker{
			Header:    m.header(schema.KindTicker, frame.TS),
			LastPrice: tick.LastPrice.InexactFloat64(),
		}}, nil
	case channelBBO:
		var tick bboTick
		if err := json.Unmarshal(frame.Tick, &tick); err != nil {
			return nil, err
		}
		ts := tick.QuoteTime
		if ts == 0 {
			ts = frame.TS
		}
		return []schema.Event{schema.TopOfBook{
			Header:   m.header(schema.KindTopOfBook, ts),
			AskPrice: tick.Ask.InexactFloat64(),
			AskSize:  tick.AskSize.InexactFloat64(),
			BidPrice: tick.Bid.InexactFloat64(),
			BidSize:  tick.BidSize.InexactFloat64(),
		}}, nil
	}
	return nil, shared.ErrUnknownFrame
}
