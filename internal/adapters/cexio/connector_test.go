package cexio

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/schema"
	"github.com/coachpo/venuelink/internal/testutil"
)

const waitFor = 2 * time.Second

// fakeRest records calls per action and answers from a handler table.
type fakeRest struct {
	mu       sync.Mutex
	calls    map[string][]map[string]any
	handlers map[string]func(body map[string]any) (int, string)
}

func newFakeRest(t *testing.T) (*fakeRest, *httptest.Server) {
	t.Helper()
	f := &fakeRest{
		calls:    make(map[string][]map[string]any),
		handlers: make(map[string]func(map[string]any) (int, string)),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := strings.TrimPrefix(r.URL.Path, "/")
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		f.mu.Lock()
		f.calls[action] = append(f.calls[action], body)
		handler := f.handlers[action]
		f.mu.Unlock()

		status, reply := http.StatusOK, `{"ok":"ok","data":{}}`
		if handler != nil {
			status, reply = handler(body)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeRest) handle(action string, fn func(map[string]any) (int, string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[action] = fn
}

func (f *fakeRest) count(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[action])
}

func (f *fakeRest) bodies(action string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.calls[action]...)
}

func newTestConnector(t *testing.T, wsURL, restURL string, tune ...func(*Config)) *Connector {
	t.Helper()
	cfg := Config{
		ReconnectDelay:    50 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		WaitTime:          -1,
		AmountPrecision:   6,
		PricePrecision:    2,
	}
	for _, fn := range tune {
		fn(&cfg)
	}
	connector, err := NewConnector(Options{
		Group: schema.ConnectorGroup{Name: "btc"},
		Connector: schema.ConnectorConfiguration{
			Exchange:    Exchange,
			QuoteAsset:  "usdt",
			WSAddress:   wsURL,
			RestAddress: restURL,
		},
		Credential: schema.Credential{Key: "key", Secret: "secret"},
		Config:     cfg,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return connector
}

func authOK(data []byte) [][]byte {
	if strings.Contains(string(data), `"e":"auth"`) {
		return [][]byte{[]byte(`{"e":"auth","ok":"ok","data":{"ok":"ok"}}`)}
	}
	return nil
}

type wsFrame struct {
	E    string         `json:"e"`
	OID  string         `json:"oid"`
	Data map[string]any `json:"data"`
}

func waitForEvents(t *testing.T, server *testutil.WSServer, names ...string) map[string]wsFrame {
	t.Helper()
	seen := make(map[string]wsFrame)
	_, ok := server.Collect(waitFor, func(msg testutil.Received) bool {
		var f wsFrame
		require.NoError(t, json.Unmarshal(msg.Data, &f))
		seen[f.E] = f
		for _, name := range names {
			if _, ok := seen[name]; !ok {
				return false
			}
		}
		return true
	})
	require.True(t, ok, "expected frames %v, saw %v", names, seen)
	return seen
}

func TestNewConnectorRequiresCredential(t *testing.T) {
	_, err := NewConnector(Options{Group: schema.ConnectorGroup{Name: "btc"}})
	require.True(t, errs.Is(err, errs.CodeInvalid))
	require.Equal(t, errs.CanonicalMissingCredentials, errs.CanonicalOf(err))
}

func TestConnectorAuthenticatesAndSubscribes(t *testing.T) {
	ws := testutil.NewWSServer(t, testutil.WithGreeting(`{"e":"connected"}`), testutil.WithResponder(authOK))
	rest, restServer := newFakeRest(t)
	connector := newTestConnector(t, ws.URL(), restServer.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.Equal(t, "cexio-btc-usdt", connector.Symbol())
	require.NoError(t, connector.Connect(ctx, nil))

	frames := waitForEvents(t, ws, "auth", "trade_subscribe", "order_book_subscribe")
	require.NotEqual(t, frames["trade_subscribe"].OID, frames["order_book_subscribe"].OID)
	require.Equal(t, "BTC-USDT", frames["trade_subscribe"].Data["pair"])
	require.Eventually(t, connector.Authenticated, waitFor, 10*time.Millisecond)

	require.Eventually(t, func() bool { return rest.count(actionCreateAccount) == 1 }, waitFor, 10*time.Millisecond)
	body := rest.bodies(actionCreateAccount)[0]
	require.Equal(t, defaultSubAccountID, body["accountId"])
	require.Equal(t, "btc", body["currency"])
}

func TestConnectorStopUnsubscribesAndCancels(t *testing.T) {
	ws := testutil.NewWSServer(t, testutil.WithResponder(authOK))
	_, restServer := newFakeRest(t)
	connector := newTestConnector(t, ws.URL(), restServer.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, connector.Connect(ctx, nil))
	waitForEvents(t, ws, "trade_subscribe", "order_book_subscribe")

	require.NoError(t, connector.Stop(ctx))
	frames := waitForEvents(t, ws, "trade_unsubscribe", "order_book_unsubscribe", "do_cancel_all_orders")
	require.Contains(t, frames["do_cancel_all_orders"].OID, "_do_cancel_all_orders")

	err := connector.Stop(ctx)
	require.Equal(t, errs.CanonicalNotConnected, errs.CanonicalOf(err))
}

func TestConnectorDeliversOrderUpdates(t *testing.T) {
	ws := testutil.NewWSServer(t, testutil.WithResponder(authOK))
	_, restServer := newFakeRest(t)
	connector := newTestConnector(t, ws.URL(), restServer.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []schema.Event, 4)
	require.NoError(t, connector.Connect(ctx, func(events []schema.Event) { batches <- events }))
	waitForEvents(t, ws, "trade_subscribe", "order_book_subscribe")

	require.NoError(t, ws.Send(ctx, `{"e":"executionReport","data":{"orderId":"77","clientOrderId":"c-1","status":"FILLED","side":"BUY","currency1":"BTC","currency2":"USDT","price":"100","averagePrice":"100","requestedAmountCcy1":"2","executedAmountCcy1":"2"}}`))
	select {
	case events := <-batches:
		update := events[0].(schema.OrderStatusUpdate)
		require.Equal(t, schema.OrderStateFilled, update.State)
		require.Equal(t, 200.0, update.Notional)
	case <-time.After(waitFor):
		t.Fatal("expected order update")
	}
}

func TestPlaceOrdersReportsPerOrderFailures(t *testing.T) {
	rest, restServer := newFakeRest(t)
	rest.handle(actionNewOrder, func(body map[string]any) (int, string) {
		switch body["clientOrderId"] {
		case "bad":
			return http.StatusInternalServerError, `upstream unavailable`
		case "rejected":
			return http.StatusOK, `{"ok":"ok","data":{"orderId":"2","clientOrderId":"rejected","status":"REJECTED","rejectReason":"Insufficient funds"}}`
		}
		return http.StatusOK, `{"ok":"ok","data":{"orderId":"1","clientOrderId":"good","status":"NEW"}}`
	})
	connector := newTestConnector(t, "ws://127.0.0.1:1", restServer.URL)

	results, err := connector.PlaceOrders(context.Background(), schema.BatchOrdersRequest{Orders: []schema.OrderRequest{
		{ClientOrderID: "good", Side: schema.SideBuy, Type: schema.OrderTypeLimit, Price: 52648.629, Size: 0.0067549},
		{ClientOrderID: "bad", Side: schema.SideSell, Price: 1, Size: 1},
		{ClientOrderID: "rejected", Side: schema.SideSell, Price: 1, Size: 1},
		{ClientOrderID: "maker", Side: schema.SideSell, Type: schema.OrderTypeLimitMaker, Price: 1, Size: 1},
	}})
	require.NoError(t, err)
	require.Len(t, results, 4)

	require.True(t, results[0].Accepted)
	require.Equal(t, "1", results[0].OrderID)
	require.Equal(t, schema.OrderStatePlaced, results[0].State)
	require.NoError(t, results[0].Err)

	require.False(t, results[1].Accepted)
	require.Equal(t, 1, results[1].Index)
	require.True(t, errs.Is(results[1].Err, errs.CodeExchange))
	var e *errs.E
	require.ErrorAs(t, results[1].Err, &e)
	require.Equal(t, http.StatusInternalServerError, e.HTTP)

	require.False(t, results[2].Accepted)
	require.Equal(t, schema.OrderStateRejected, results[2].State)

	require.False(t, results[3].Accepted)
	require.True(t, errs.Is(results[3].Err, errs.CodeInvalid))

	var good map[string]any
	for _, body := range rest.bodies(actionNewOrder) {
		if body["clientOrderId"] == "good" {
			good = body
		}
	}
	require.Equal(t, "52648.62", good["price"])
	require.Equal(t, "0.006754", good["amountCcy1"])
	require.Equal(t, "BUY", good["side"])
	require.Equal(t, "BTC", good["currency1"])
	require.Equal(t, "USDT", good["currency2"])
	require.Equal(t, "GTC", good["timeInForce"])
}

func TestPlaceOrdersChunksByBatchSize(t *testing.T) {
	rest, restServer := newFakeRest(t)
	rest.handle(actionNewOrder, func(map[string]any) (int, string) {
		return http.StatusOK, `{"ok":"ok","data":{"orderId":"1","status":"NEW"}}`
	})
	connector := newTestConnector(t, "ws://127.0.0.1:1", restServer.URL)

	orders := make([]schema.OrderRequest, 23)
	for i := range orders {
		orders[i] = schema.OrderRequest{Side: schema.SideBuy, Price: 1, Size: 1}
	}
	results, err := connector.PlaceOrders(context.Background(), schema.BatchOrdersRequest{Orders: orders})
	require.NoError(t, err)
	require.Len(t, results, 23)
	ids := make(map[string]struct{})
	for i, r := range results {
		require.Equal(t, i, r.Index)
		require.True(t, r.Accepted)
		require.True(t, strings.HasPrefix(r.ClientOrderID, clientOrderIDPrefix))
		ids[r.ClientOrderID] = struct{}{}
	}
	require.Len(t, ids, 23)
	require.Equal(t, 23, rest.count(actionNewOrder))
}

func TestPlaceOrdersKeepsSubmittedResultsWhenCancelledBetweenChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var submitted atomic.Int32
	rest, restServer := newFakeRest(t)
	rest.handle(actionNewOrder, func(body map[string]any) (int, string) {
		if submitted.Add(1) == 2 {
			// Cancel once the first chunk has been answered and the pause has begun.
			time.AfterFunc(100*time.Millisecond, cancel)
		}
		return http.StatusOK, `{"ok":"ok","data":{"orderId":"` + body["clientOrderId"].(string) + `","status":"NEW"}}`
	})
	connector := newTestConnector(t, "ws://127.0.0.1:1", restServer.URL, func(cfg *Config) {
		cfg.MaxCreateBatchSize = 2
		cfg.WaitTime = 5 * time.Second
	})

	orders := []schema.OrderRequest{
		{ClientOrderID: "a", Side: schema.SideBuy, Price: 1, Size: 1},
		{ClientOrderID: "b", Side: schema.SideBuy, Price: 1, Size: 1},
		{ClientOrderID: "c", Side: schema.SideBuy, Price: 1, Size: 1},
		{ClientOrderID: "d", Side: schema.SideBuy, Price: 1, Size: 1},
	}
	started := time.Now()
	results, err := connector.PlaceOrders(ctx, schema.BatchOrdersRequest{Orders: orders})
	require.NoError(t, err)
	require.Less(t, time.Since(started), 5*time.Second)
	require.Len(t, results, 4)

	for i, r := range results[:2] {
		require.Equal(t, i, r.Index)
		require.True(t, r.Accepted)
		require.NoError(t, r.Err)
		require.Equal(t, orders[i].ClientOrderID, r.OrderID)
	}
	for i, r := range results[2:] {
		require.Equal(t, i+2, r.Index)
		require.Equal(t, orders[i+2].ClientOrderID, r.ClientOrderID)
		require.False(t, r.Accepted)
		require.ErrorIs(t, r.Err, context.Canceled)
	}
	require.Equal(t, 2, rest.count(actionNewOrder))
}

func TestPlaceOrdersNegativeWaitTimeSkipsPause(t *testing.T) {
	rest, restServer := newFakeRest(t)
	rest.handle(actionNewOrder, func(map[string]any) (int, string) {
		return http.StatusOK, `{"ok":"ok","data":{"orderId":"1","status":"NEW"}}`
	})
	connector := newTestConnector(t, "ws://127.0.0.1:1", restServer.URL, func(cfg *Config) {
		cfg.MaxCreateBatchSize = 1
	})
	require.Zero(t, connector.opts.Config.WaitTime)

	orders := make([]schema.OrderRequest, 3)
	for i := range orders {
		orders[i] = schema.OrderRequest{Side: schema.SideBuy, Price: 1, Size: 1}
	}
	started := time.Now()
	results, err := connector.PlaceOrders(context.Background(), schema.BatchOrdersRequest{Orders: orders})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Less(t, time.Since(started), defaultWaitTime)
	require.Equal(t, 3, rest.count(actionNewOrder))
}

func TestDeleteAllOrdersCancelsEachOpenOrder(t *testing.T) {
	rest, restServer := newFakeRest(t)
	rest.handle(actionOpenOrders, func(body map[string]any) (int, string) {
		return http.StatusOK, `{"ok":"ok","data":[
			{"orderId":"11","clientOrderId":"a","status":"NEW","side":"BUY","price":"1","requestedAmountCcy1":"1"},
			{"orderId":"12","clientOrderId":"b","status":"PARTIALLY_FILLED","side":"SELL","price":"2","requestedAmountCcy1":"1"}]}`
	})
	rest.handle(actionCancelOrder, func(body map[string]any) (int, string) {
		if body["orderId"] == "12" {
			return http.StatusOK, `{"error":"Order not found"}`
		}
		return http.StatusOK, `{"ok":"ok","data":{}}`
	})
	connector := newTestConnector(t, "ws://127.0.0.1:1", restServer.URL)

	open, err := connector.GetCurrentActiveOrders(context.Background(), schema.OpenOrdersRequest{})
	require.NoError(t, err)
	require.Len(t, open, 2)
	require.Equal(t, "BTC-USDT", rest.bodies(actionOpenOrders)[0]["pair"])

	err = connector.DeleteAllOrders(context.Background(), schema.CancelOrdersRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cancel order 12")
	require.Equal(t, 2, rest.count(actionCancelOrder))
}

func TestGetBalancePercentage(t *testing.T) {
	rest, restServer := newFakeRest(t)
	rest.handle(actionWalletBalance, func(map[string]any) (int, string) {
		return http.StatusOK, `{"ok":"ok","data":{"BTC":{"balance":"0.5"},"USDT":{"balance":"25000"}}}`
	})
	connector := newTestConnector(t, "ws://127.0.0.1:1", restServer.URL)

	balance, err := connector.GetBalancePercentage(context.Background(), schema.BalanceRequest{LastPrice: 50000})
	require.NoError(t, err)
	require.Equal(t, schema.KindBalanceResponse, balance.Event)
	require.Equal(t, 25000.0, balance.BaseBalance)
	require.Equal(t, 25000.0, balance.QuoteBalance)
	require.Equal(t, 50.0, balance.Inventory)

	rest.handle(actionWalletBalance, func(map[string]any) (int, string) {
		return http.StatusOK, `{"ok":"ok","data":{}}`
	})
	balance, err = connector.GetBalancePercentage(context.Background(), schema.BalanceRequest{LastPrice: 50000})
	require.NoError(t, err)
	require.Zero(t, balance.Inventory)
}

func TestGetSubAccountStatus(t *testing.T) {
	rest, restServer := newFakeRest(t)
	rest.handle(actionAccountStatus, func(map[string]any) (int, string) {
		return http.StatusOK, `{"ok":"ok","data":{"convertedCurrency":"USD","balancesPerAccounts":{"mainSubAccount":{"BTC":{"balance":"1.25","balanceOnHold":"0.25"}}}}}`
	})
	connector := newTestConnector(t, "ws://127.0.0.1:1", restServer.URL)

	balances, ok, err := connector.GetSubAccountStatus(context.Background(), "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1.25", balances["BTC"].Balance.String())
	require.Equal(t, []any{"mainSubAccount"}, rest.bodies(actionAccountStatus)[0]["accountIds"])

	_, ok, err = connector.GetSubAccountStatus(context.Background(), "other")
	require.NoError(t, err)
	require.False(t, ok)
}
