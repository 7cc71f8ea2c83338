// Package schema defines the canonical connector data model shared by every exchange adapter.
package schema

// Kind identifies the canonical event category.
type Kind string

// Canonical event kinds.
const (
	KindTrade             Kind = "Trade"
	KindTicker            Kind = "Ticker"
	KindTopOfBook         Kind = "TopOfBook"
	KindOrderStatusUpdate Kind = "OrderStatusUpdate"
	KindBalanceResponse   Kind = "BalanceResponse"
)

// Event is implemented by every canonical event delivered to callers.
type Event interface {
	EventKind() Kind
	EventHeader() Header
}

// Header carries the fields common to all canonical events.
// Timestamp is exchange-supplied epoch milliseconds when available.
type Header struct {
	Event         Kind   `json:"event"`
	ConnectorType string `json:"connectorType"`
	Symbol        string `json:"symbol"`
	Timestamp     int64  `json:"timestamp"`
}

// EventKind returns the event category.
func (h Header) EventKind() Kind { return h.Event }

// EventHeader returns the common header.
func (h Header) EventHeader() Header { return h }

// Trade is a public execution print.
type Trade struct {
	Header
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	Side     Side    `json:"side"`
	Notional float64 `json:"notional"`
}

// NewTrade builds a Trade with the notional derived from price and size.
func NewTrade(connectorType, symbol string, ts int64, price, size float64, side Side) Trade {
	return Trade{
		Header:   Header{Event: KindTrade, ConnectorType: connectorType, Symbol: symbol, Timestamp: ts},
		Price:    price,
		Size:     size,
		Side:     side,
		Notional: price * size,
	}
}

// Ticker reports the last traded price.
type Ticker struct {
	Header
	LastPrice float64 `json:"lastPrice"`
}

// TopOfBook reports the best bid and ask.
type TopOfBook struct {
	Header
	AskPrice float64 `json:"askPrice"`
	AskSize  float64 `json:"askSize"`
	BidPrice float64 `json:"bidPrice"`
	BidSize  float64 `json:"bidSize"`
}

// OrderStatusUpdate reports the state of one of the account's orders.
type OrderStatusUpdate struct {
	Header
	OrderID       string     `json:"orderId"`
	ClientOrderID string     `json:"sklOrderId"`
	State         OrderState `json:"state"`
	Side          Side       `json:"side"`
	Price         float64    `json:"price"`
	Size          float64    `json:"size"`
	Notional      float64    `json:"notional"`
	FilledPrice   float64    `json:"filled_price"`
	FilledSize    float64    `json:"filled_size"`
}

// OrderFill groups the execution fields of an order update.
type OrderFill struct {
	Price       float64
	Size        float64
	FilledPrice float64
	FilledSize  float64
}

// NewOrderStatusUpdate builds an update with the notional derived from price and size.
func NewOrderStatusUpdate(connectorType, symbol string, ts int64, orderID, clientOrderID string, state OrderState, side Side, fill OrderFill) OrderStatusUpdate {
	return OrderStatusUpdate{
		Header:        Header{Event: KindOrderStatusUpdate, ConnectorType: connectorType, Symbol: symbol, Timestamp: ts},
		OrderID:       orderID,
		ClientOrderID: clientOrderID,
		State:         state,
		Side:          side,
		Price:         fill.Price,
		Size:          fill.Size,
		Notional:      fill.Price * fill.Size,
		FilledPrice:   fill.FilledPrice,
		FilledSize:    fill.FilledSize,
	}
}

// BalanceResponse reports the base/quote split of the account in quote terms.
type BalanceResponse struct {
	Header
	BaseBalance  float64 `json:"baseBalance"`
	QuoteBalance float64 `json:"quoteBalance"`
	Inventory    float64 `json:"inventory"`
}
