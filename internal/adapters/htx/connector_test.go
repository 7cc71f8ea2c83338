package htx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/adapters/shared"
	"github.com/coachpo/venuelink/internal/schema"
	"github.com/coachpo/venuelink/internal/testutil"
)

const waitFor = 2 * time.Second

func newTestConnector(t *testing.T, url string) *Connector {
	t.Helper()
	connector, err := NewConnector(Options{
		Group: schema.ConnectorGroup{Name: "btc"},
		Connector: schema.ConnectorConfiguration{
			Exchange:   Exchange,
			QuoteAsset: "usdt",
			WSAddress:  url,
		},
		ReconnectDelay:    50 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		Logger:            zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return connector
}

type topicFrame struct {
	Sub   string `json:"sub"`
	Unsub string `json:"unsub"`
	ID    string `json:"id"`
	Pong  *int64 `json:"pong"`
}

// collectTopics reads frames until every wanted topic has been seen under key ("sub" or "unsub").
func collectTopics(t *testing.T, server *testutil.WSServer, key string, topics ...string) map[string]string {
	t.Helper()
	seen := make(map[string]string)
	_, ok := server.Collect(waitFor, func(msg testutil.Received) bool {
		var f topicFrame
		require.NoError(t, json.Unmarshal(msg.Data, &f))
		topic := f.Sub
		if key == "unsub" {
			topic = f.Unsub
		}
		if topic != "" {
			seen[topic] = f.ID
		}
		for _, want := range topics {
			if _, ok := seen[want]; !ok {
				return false
			}
		}
		return true
	})
	require.True(t, ok, "expected %s of %v, saw %v", key, topics, seen)
	return seen
}

var allTopics = []string{"market.btcusdt.bbo", "market.btcusdt.trade.detail", "market.btcusdt.ticker"}

func TestConnectorSubscribesAndUnsubscribes(t *testing.T) {
	ws := testutil.NewWSServer(t)
	connector := newTestConnector(t, ws.URL())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.Equal(t, "htx-btc-usdt", connector.Symbol())
	require.NotEmpty(t, connector.ConnectorID())
	require.NoError(t, connector.Connect(ctx, nil))

	subs := collectTopics(t, ws, "sub", allTopics...)
	ids := make(map[string]struct{})
	for _, id := range subs {
		require.NotEmpty(t, id)
		ids[id] = struct{}{}
	}
	require.Len(t, ids, 3, "operation ids are unique per request")
	require.Equal(t, shared.StateReady, connector.State())

	require.NoError(t, connector.Stop(ctx))
	collectTopics(t, ws, "unsub", allTopics...)
	require.Equal(t, shared.StateClosed, connector.State())

	err := connector.Stop(ctx)
	require.Equal(t, errs.CanonicalNotConnected, errs.CanonicalOf(err))
}

func TestConnectorAnswersCompressedPing(t *testing.T) {
	ws := testutil.NewWSServer(t)
	connector := newTestConnector(t, ws.URL())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, connector.Connect(ctx, nil))
	collectTopics(t, ws, "sub", allTopics...)

	require.NoError(t, ws.SendBinary(ctx, gzipFrame(t, `{"ping":12345}`)))
	_, ok := ws.Collect(waitFor, func(msg testutil.Received) bool {
		var f topicFrame
		require.NoError(t, json.Unmarshal(msg.Data, &f))
		return f.Pong != nil && *f.Pong == 12345
	})
	require.True(t, ok, "expected pong 12345")
}

func TestConnectorDeliversMarketData(t *testing.T) {
	ws := testutil.NewWSServer(t)
	connector := newTestConnector(t, ws.URL())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []schema.Event, 8)
	require.NoError(t, connector.Connect(ctx, func(events []schema.Event) { batches <- events }))
	collectTopics(t, ws, "sub", allTopics...)

	for _, frame := range []string{tradeFrame, tickerFrame, bboFrame} {
		require.NoError(t, ws.SendBinary(ctx, gzipFrame(t, frame)))
	}

	kinds := make(map[schema.Kind]schema.Event)
	for len(kinds) < 3 {
		select {
		case events := <-batches:
			for _, e := range events {
				kinds[e.EventKind()] = e
			}
		case <-time.After(waitFor):
			t.Fatalf("expected trade, ticker and bbo events, saw %v", kinds)
		}
	}
	trade := kinds[schema.KindTrade].(schema.Trade)
	require.Equal(t, "htx-btc-usdt", trade.Symbol)
	require.InDelta(t, 355.59, trade.Notional, 0.01)
	require.Equal(t, 52735.63, kinds[schema.KindTicker].(schema.Ticker).LastPrice)
	require.Equal(t, 52665.01, kinds[schema.KindTopOfBook].(schema.TopOfBook).BidPrice)
}

func TestConnectorReportsSubscriptionErrors(t *testing.T) {
	ws := testutil.NewWSServer(t, testutil.WithResponder(func(data []byte) [][]byte {
		if strings.Contains(string(data), "ticker") {
			return [][]byte{[]byte(`{"status":"error","err-code":"bad-request","err-msg":"invalid topic"}`)}
		}
		return nil
	}))
	connector := newTestConnector(t, ws.URL())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, connector.Connect(ctx, nil))
	select {
	case err := <-connector.Errors():
		require.True(t, errs.Is(err, errs.CodeExchange), "got %v", err)
		require.Contains(t, err.Error(), "invalid topic")
	case <-time.After(waitFor):
		t.Fatal("expected exchange error")
	}
}

func TestConnectorResubscribesAfterAbnormalClose(t *testing.T) {
	ws := testutil.NewWSServer(t)
	connector := newTestConnector(t, ws.URL())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, connector.Connect(ctx, nil))
	collectTopics(t, ws, "sub", allTopics...)

	require.NoError(t, ws.CloseLatest(websocket.StatusGoingAway, "restart"))
	collectTopics(t, ws, "sub", allTopics...)
	require.Equal(t, 2, ws.Accepted())
	require.Eventually(t, func() bool { return connector.State() == shared.StateReady }, waitFor, 10*time.Millisecond)
}
