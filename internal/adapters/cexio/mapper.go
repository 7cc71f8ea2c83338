package cexio

import (
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/venuelink/internal/adapters/shared"
	"github.com/coachpo/venuelink/internal/schema"
)

const (
	eventOrderBookSnapshot  = "order_book_subscribe"
	eventOrderBookIncrement = "order_book_increment"
	eventExecutionReport    = "executionReport"
	eventTradeUpdate        = "tradeUpdate"
)

var orderStates = map[string]schema.OrderState{
	"PENDING_NEW":      schema.OrderStatePlaced,
	"NEW":              schema.OrderStatePlaced,
	"PARTIALLY_FILLED": schema.OrderStatePartiallyFilled,
	"FILLED":           schema.OrderStateFilled,
	"PENDING_CANCEL":   schema.OrderStatePendingCancel,
	"CANCELLED":        schema.OrderStateCancelled,
	"REJECTED":         schema.OrderStateRejected,
	"EXPIRED":          schema.OrderStateExpired,
}

var sides = map[string]schema.Side{
	"BUY":  schema.SideBuy,
	"SELL": schema.SideSell,
}

var orderTypes = map[string]schema.OrderType{
	"Limit":  schema.OrderTypeLimit,
	"Market": schema.OrderTypeMarket,
}

var sideNames = shared.Invert(sides)

type dataFrame struct {
	E    string          `json:"e"`
	Data json.RawMessage `json:"data"`
}

// orderRecord is shared by executionReport frames, do_my_new_order replies and get_my_orders rows.
type orderRecord struct {
	OrderID             string              `json:"orderId"`
	ClientOrderID       string              `json:"clientOrderId"`
	Status              string              `json:"status"`
	Side                string              `json:"side"`
	OrderType           string              `json:"orderType"`
	Currency1           string              `json:"currency1"`
	Currency2           string              `json:"currency2"`
	Price               decimal.NullDecimal `json:"price"`
	AveragePrice        decimal.NullDecimal `json:"averagePrice"`
	RequestedAmountCcy1 decimal.NullDecimal `json:"requestedAmountCcy1"`
	ExecutedAmountCcy1  decimal.NullDecimal `json:"executedAmountCcy1"`
	LastUpdateTimestamp int64               `json:"lastUpdateTimestamp"`
	RejectReason        string              `json:"rejectReason"`
}

type tradeRecord struct {
	Pair      string          `json:"pair"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp int64           `json:"timestamp"`
}

type bookRecord struct {
	Pair      string               `json:"pair"`
	Timestamp int64                `json:"timestamp"`
	Bids      [][2]decimal.Decimal `json:"bids"`
	Asks      [][2]decimal.Decimal `json:"asks"`
}

// mapper turns CEX.IO data frames into canonical events for one pair.
type mapper struct {
	connectorType string
	symbol        string
	pair          string
	book          *shared.BookTracker
}

func newMapper(connectorType, symbol, pair string) *mapper {
	return &mapper{connectorType: connectorType, symbol: symbol, pair: pair, book: shared.NewBookTracker()}
}

// Reset drops the book so a reconnect starts from a fresh snapshot.
func (m *mapper) Reset() { m.book.Reset() }

func (m *mapper) Map(body []byte) ([]schema.Event, error) {
	var frame dataFrame
	if err := json.Unmarshal(body, &frame); err != nil {
		return nil, err
	}
	switch frame.E {
	case eventExecutionReport:
		var rec orderRecord
		if err := json.Unmarshal(frame.Data, &rec); err != nil {
			return nil, err
		}
		if !m.ownsPair(rec.Currency1 + "-" + rec.Currency2) {
			return nil, nil
		}
		update, err := m.orderUpdate(rec)
		if err != nil {
			return nil, err
		}
		return []schema.Event{update}, nil
	case eventTradeUpdate:
		var rec tradeRecord
		if err := json.Unmarshal(frame.Data, &rec); err != nil {
			return nil, err
		}
		if !m.ownsPair(rec.Pair) {
			return nil, nil
		}
		side, err := shared.LookupSide(Exchange, sides, strings.ToUpper(rec.Side))
		if err != nil {
			return nil, err
		}
		trade := schema.NewTrade(m.connectorType, m.symbol, rec.Timestamp,
			rec.Price.InexactFloat64(), rec.Amount.InexactFloat64(), side)
		return []schema.Event{trade}, nil
	case eventOrderBookSnapshot, eventOrderBookIncrement:
		var rec bookRecord
		if err := json.Unmarshal(frame.Data, &rec); err != nil {
			return nil, err
		}
		if !m.ownsPair(rec.Pair) {
			return nil, nil
		}
		var (
			best    shared.BestLevels
			changed bool
		)
		if frame.E == eventOrderBookSnapshot {
			best, changed = m.book.ApplySnapshot(levels(rec.Bids), levels(rec.Asks))
		} else {
			best, changed = m.book.ApplyIncrement(levels(rec.Bids), levels(rec.Asks))
		}
		if !changed {
			return nil, nil
		}
		return []schema.Event{m.topOfBook(rec.Timestamp, best)}, nil
	}
	return nil, shared.ErrUnknownFrame
}

func (m *mapper) ownsPair(pair string) bool {
	return pair == "-" || pair == "" || strings.EqualFold(pair, m.pair)
}

func (m *mapper) orderUpdate(rec orderRecord) (schema.OrderStatusUpdate, error) {
	state, err := shared.LookupState(Exchange, orderStates, rec.Status)
	if err != nil {
		return schema.OrderStatusUpdate{}, err
	}
	side, err := shared.LookupSide(Exchange, sides, rec.Side)
	if err != nil {
		return schema.OrderStatusUpdate{}, err
	}
	if rec.OrderType != "" {
		if _, err := shared.LookupOrderType(Exchange, orderTypes, rec.OrderType); err != nil {
			return schema.OrderStatusUpdate{}, err
		}
	}
	filled := value(rec.ExecutedAmountCcy1)
	if state == schema.OrderStateCancelled && filled > 0 {
		state = schema.OrderStateCancelledPartiallyFilled
	}
	fill := schema.OrderFill{
		Price:       value(rec.Price),
		Size:        value(rec.RequestedAmountCcy1),
		FilledPrice: value(rec.AveragePrice),
		FilledSize:  filled,
	}
	return schema.NewOrderStatusUpdate(m.connectorType, m.symbol, rec.LastUpdateTimestamp,
		rec.OrderID, rec.ClientOrderID, state, side, fill), nil
}

func (m *mapper) topOfBook(ts int64, best shared.BestLevels) schema.TopOfBook {
	return schema.TopOfBook{
		Header:   schema.Header{Event: schema.KindTopOfBook, ConnectorType: m.connectorType, Symbol: m.symbol, Timestamp: ts},
		AskPrice: best.AskPrice.InexactFloat64(),
		AskSize:  best.AskSize.InexactFloat64(),
		BidPrice: best.BidPrice.InexactFloat64(),
		BidSize:  best.BidSize.InexactFloat64(),
	}
}

func levels(raw [][2]decimal.Decimal) []shared.BookLevel {
	out := make([]shared.BookLevel, 0, len(raw))
	for _, lvl := range raw {
		out = append(out, shared.BookLevel{Price: lvl[0], Quantity: lvl[1]})
	}
	return out
}

func value(d decimal.NullDecimal) float64 {
	if !d.Valid {
		return 0
	}
	return d.Decimal.InexactFloat64()
}
