package schema

// Side is the canonical order or trade direction.
type Side string

// Canonical sides.
const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// OrderState is the canonical order lifecycle state.
type OrderState string

// Canonical order states.
const (
	OrderStatePlaced                   OrderState = "Placed"
	OrderStatePartiallyFilled          OrderState = "PartiallyFilled"
	OrderStateFilled                   OrderState = "Filled"
	OrderStateCancelled                OrderState = "Cancelled"
	OrderStateCancelledPartiallyFilled OrderState = "CancelledPartiallyFilled"
	OrderStatePendingCancel            OrderState = "PendingCancel"
	OrderStateRejected                 OrderState = "Rejected"
	OrderStateExpired                  OrderState = "Expired"
)

// OrderType is the canonical order type.
type OrderType string

// Canonical order types.
const (
	OrderTypeLimit             OrderType = "Limit"
	OrderTypeMarket            OrderType = "Market"
	OrderTypeLimitMaker        OrderType = "LimitMaker"
	OrderTypeImmediateOrCancel OrderType = "ImmediateOrCancel"
)

// OrderRequest describes a single order to submit.
type OrderRequest struct {
	ClientOrderID string    `json:"clientOrderId,omitempty"`
	Side          Side      `json:"side"`
	Type          OrderType `json:"type"`
	Price         float64   `json:"price"`
	Size          float64   `json:"size"`
}

// BatchOrdersRequest groups orders submitted together.
type BatchOrdersRequest struct {
	Orders []OrderRequest `json:"orders"`
}

// PlaceOrderResult reports the outcome of one order of a batch, in request order.
type PlaceOrderResult struct {
	Index         int        `json:"index"`
	ClientOrderID string     `json:"clientOrderId"`
	OrderID       string     `json:"orderId,omitempty"`
	State         OrderState `json:"state,omitempty"`
	Accepted      bool       `json:"accepted"`
	Err           error      `json:"-"`
}

// CancelOrdersRequest asks for every open order on the connector's symbol to be cancelled.
type CancelOrdersRequest struct {
	Symbol string `json:"symbol,omitempty"`
}

// OpenOrdersRequest asks for the connector's currently open orders.
type OpenOrdersRequest struct {
	Symbol string `json:"symbol,omitempty"`
}

// BalanceRequest carries the reference price used to value the base balance.
type BalanceRequest struct {
	LastPrice float64 `json:"lastPrice"`
}
