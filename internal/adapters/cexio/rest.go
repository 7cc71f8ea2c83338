package cexio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/adapters/shared"
	"github.com/coachpo/venuelink/internal/schema"
)

const (
	actionCreateAccount   = "do_create_account"
	actionAccountStatus   = "get_my_account_status_v3"
	actionWalletBalance   = "get_my_wallet_balance"
	actionOpenOrders      = "get_my_orders"
	actionNewOrder        = "do_my_new_order"
	actionCancelOrder     = "do_cancel_my_order"
	clientOrderIDPrefix   = "vl-"
	timeInForceGoodTilCxl = "GTC"
	timeInForceIOC        = "IOC"
)

type newOrderRequest struct {
	ClientOrderID string `json:"clientOrderId"`
	Currency1     string `json:"currency1"`
	Currency2     string `json:"currency2"`
	Side          string `json:"side"`
	Timestamp     int64  `json:"timestamp"`
	OrderType     string `json:"orderType"`
	TimeInForce   string `json:"timeInForce,omitempty"`
	AmountCcy1    string `json:"amountCcy1"`
	Price         string `json:"price,omitempty"`
}

type cancelOrderRequest struct {
	OrderID   string `json:"orderId"`
	Timestamp int64  `json:"timestamp"`
}

type openOrdersRequest struct {
	Pair string `json:"pair"`
}

type createAccountRequest struct {
	AccountID string `json:"accountId"`
	Currency  string `json:"currency"`
}

type accountStatusRequest struct {
	AccountIDs []string `json:"accountIds"`
}

type walletBalance struct {
	Balance decimal.NullDecimal `json:"balance"`
}

// CurrencyBalance is one currency row of a sub-account.
type CurrencyBalance struct {
	Balance       decimal.Decimal `json:"balance"`
	BalanceOnHold decimal.Decimal `json:"balanceOnHold"`
}

type accountStatusResponse struct {
	BalancesPerAccounts map[string]map[string]CurrencyBalance `json:"balancesPerAccounts"`
}

type wireOrderType struct {
	orderType   string
	timeInForce string
}

var outboundOrderTypes = map[schema.OrderType]wireOrderType{
	schema.OrderTypeLimit:             {orderType: "Limit", timeInForce: timeInForceGoodTilCxl},
	schema.OrderTypeMarket:            {orderType: "Market"},
	schema.OrderTypeImmediateOrCancel: {orderType: "Limit", timeInForce: timeInForceIOC},
}

// PlaceOrders submits every order as an independent do_my_new_order call. Results are positional;
// a failed order carries its error instead of failing the batch.
func (c *Connector) PlaceOrders(ctx context.Context, req schema.BatchOrdersRequest) ([]schema.PlaceOrderResult, error) {
	results := make([]schema.PlaceOrderResult, 0, len(req.Orders))
	size := c.opts.Config.MaxCreateBatchSize
	for start := 0; start < len(req.Orders); start += size {
		if start > 0 && !c.pause(ctx) {
			return append(results, unsent(ctx, req.Orders, start)...), nil
		}
		end := min(start+size, len(req.Orders))
		chunk := req.Orders[start:end]
		results = append(results, shared.Batch(ctx, chunk, size, func(ctx context.Context, i int, order schema.OrderRequest) schema.PlaceOrderResult {
			return c.placeOrder(ctx, start+i, order)
		})...)
	}
	return results, nil
}

// pause waits out WaitTime between chunks and reports whether submission may continue.
func (c *Connector) pause(ctx context.Context) bool {
	if c.opts.Config.WaitTime <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(c.opts.Config.WaitTime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return ctx.Err() == nil
	}
}

// unsent reports every order from start onwards as not submitted, keeping results positional.
func unsent(ctx context.Context, orders []schema.OrderRequest, start int) []schema.PlaceOrderResult {
	out := make([]schema.PlaceOrderResult, 0, len(orders)-start)
	for i := start; i < len(orders); i++ {
		out = append(out, schema.PlaceOrderResult{
			Index:         i,
			ClientOrderID: orders[i].ClientOrderID,
			Err:           ctx.Err(),
		})
	}
	return out
}

func (c *Connector) placeOrder(ctx context.Context, index int, order schema.OrderRequest) schema.PlaceOrderResult {
	clientID := order.ClientOrderID
	if clientID == "" {
		clientID = clientOrderIDPrefix + uuid.NewString()
	}
	result := schema.PlaceOrderResult{Index: index, ClientOrderID: clientID}

	body, err := c.newOrderRequest(clientID, order)
	if err != nil {
		result.Err = err
		return result
	}
	var reply orderRecord
	if err := c.rest.Do(ctx, actionNewOrder, body, &reply); err != nil {
		c.logger.Warn("place order failed", zap.String("client_order_id", clientID), zap.Error(err))
		result.Err = err
		return result
	}
	result.OrderID = reply.OrderID
	if reply.Status != "" {
		state, err := shared.LookupState(Exchange, orderStates, reply.Status)
		if err != nil {
			result.Err = err
			return result
		}
		result.State = state
		if state == schema.OrderStateRejected {
			result.Err = errs.New(Exchange, errs.CodeExchange,
				errs.WithMessage("order rejected"), errs.WithRawMessage(reply.RejectReason))
			return result
		}
	}
	result.Accepted = true
	return result
}

func (c *Connector) newOrderRequest(clientID string, order schema.OrderRequest) (newOrderRequest, error) {
	side, ok := sideNames[order.Side]
	if !ok {
		return newOrderRequest{}, errs.New(Exchange, errs.CodeInvalid, errs.WithMessage(fmt.Sprintf("unsupported side %q", order.Side)))
	}
	typ := order.Type
	if typ == "" {
		typ = schema.OrderTypeLimit
	}
	wire, ok := outboundOrderTypes[typ]
	if !ok {
		return newOrderRequest{}, errs.New(Exchange, errs.CodeInvalid, errs.WithMessage(fmt.Sprintf("unsupported order type %q", typ)))
	}
	amount := decimal.NewFromFloat(order.Size).RoundFloor(c.opts.Config.AmountPrecision)
	if amount.Sign() <= 0 {
		return newOrderRequest{}, errs.New(Exchange, errs.CodeInvalid, errs.WithMessage("order size rounds to zero"))
	}
	req := newOrderRequest{
		ClientOrderID: clientID,
		Currency1:     strings.ToUpper(strings.TrimSpace(c.opts.Group.Name)),
		Currency2:     strings.ToUpper(strings.TrimSpace(c.opts.Connector.QuoteAsset)),
		Side:          side,
		Timestamp:     c.opts.Clock().UnixMilli(),
		OrderType:     wire.orderType,
		TimeInForce:   wire.timeInForce,
		AmountCcy1:    amount.String(),
	}
	if wire.orderType != "Market" {
		req.Price = decimal.NewFromFloat(order.Price).RoundFloor(c.opts.Config.PricePrecision).String()
	}
	return req, nil
}

// GetCurrentActiveOrders lists the account's open orders on the connector's pair.
func (c *Connector) GetCurrentActiveOrders(ctx context.Context, _ schema.OpenOrdersRequest) ([]schema.OrderStatusUpdate, error) {
	var rows []orderRecord
	if err := c.rest.Do(ctx, actionOpenOrders, openOrdersRequest{Pair: c.pair}, &rows); err != nil {
		return nil, err
	}
	updates := make([]schema.OrderStatusUpdate, 0, len(rows))
	for _, row := range rows {
		update, err := c.mapper.orderUpdate(row)
		if err != nil {
			return nil, err
		}
		updates = append(updates, update)
	}
	return updates, nil
}

// DeleteAllOrders enumerates open orders and cancels each one, MaxDeleteBatchSize at a time.
// It returns the joined cancel failures.
func (c *Connector) DeleteAllOrders(ctx context.Context, req schema.CancelOrdersRequest) error {
	open, err := c.GetCurrentActiveOrders(ctx, schema.OpenOrdersRequest{Symbol: req.Symbol})
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}
	ids := make([]string, 0, len(open))
	for _, order := range open {
		ids = append(ids, order.OrderID)
	}
	return c.DeleteOrders(ctx, ids)
}

// DeleteOrders cancels the given exchange order ids.
func (c *Connector) DeleteOrders(ctx context.Context, orderIDs []string) error {
	return shared.ForEach(ctx, orderIDs, c.opts.Config.MaxDeleteBatchSize, func(ctx context.Context, id string) error {
		body := cancelOrderRequest{OrderID: id, Timestamp: c.opts.Clock().UnixMilli()}
		if err := c.rest.Do(ctx, actionCancelOrder, body, nil); err != nil {
			return fmt.Errorf("cancel order %s: %w", id, err)
		}
		return nil
	})
}

// GetBalancePercentage values the base balance at req.LastPrice and reports it as a share of the total.
func (c *Connector) GetBalancePercentage(ctx context.Context, req schema.BalanceRequest) (schema.BalanceResponse, error) {
	var wallet map[string]walletBalance
	if err := c.rest.Do(ctx, actionWalletBalance, struct{}{}, &wallet); err != nil {
		return schema.BalanceResponse{}, err
	}
	base := lookupBalance(wallet, c.opts.Group.Name)
	quote := lookupBalance(wallet, c.opts.Connector.QuoteAsset)

	baseValue := base.Mul(decimal.NewFromFloat(req.LastPrice))
	whole := baseValue.Add(quote)
	inventory := decimal.Zero
	if !whole.IsZero() {
		inventory = baseValue.Div(whole).Mul(decimal.NewFromInt(100))
	}
	return schema.BalanceResponse{
		Header: schema.Header{
			Event:         schema.KindBalanceResponse,
			ConnectorType: c.opts.Connector.ConnectorType,
			Symbol:        c.symbol,
			Timestamp:     c.opts.Clock().UnixMilli(),
		},
		BaseBalance:  baseValue.InexactFloat64(),
		QuoteBalance: quote.InexactFloat64(),
		Inventory:    inventory.InexactFloat64(),
	}, nil
}

func lookupBalance(wallet map[string]walletBalance, currency string) decimal.Decimal {
	currency = strings.TrimSpace(currency)
	for name, row := range wallet {
		if strings.EqualFold(name, currency) && row.Balance.Valid {
			return row.Balance.Decimal
		}
	}
	return decimal.Zero
}

// InitializeSubAccount creates the configured sub-account for the base currency.
func (c *Connector) InitializeSubAccount(ctx context.Context) error {
	body := createAccountRequest{AccountID: c.opts.Config.SubAccountID, Currency: c.opts.Group.Name}
	return c.rest.Do(ctx, actionCreateAccount, body, nil)
}

// GetSubAccountStatus returns the balances of accountID (the configured sub-account when empty).
// ok is false when the exchange does not know the account.
func (c *Connector) GetSubAccountStatus(ctx context.Context, accountID string) (map[string]CurrencyBalance, bool, error) {
	if accountID == "" {
		accountID = c.opts.Config.SubAccountID
	}
	var status accountStatusResponse
	if err := c.rest.Do(ctx, actionAccountStatus, accountStatusRequest{AccountIDs: []string{accountID}}, &status); err != nil {
		return nil, false, err
	}
	balances, ok := status.BalancesPerAccounts[accountID]
	return balances, ok, nil
}
