package cexio

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/coachpo/venuelink/internal/adapters/shared"
)

type authPayload struct {
	Key       string `json:"key"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

type outboundFrame struct {
	E    string       `json:"e"`
	OID  string       `json:"oid,omitempty"`
	Auth *authPayload `json:"auth,omitempty"`
	Data any          `json:"data,omitempty"`
}

type pairData struct {
	Pair string `json:"pair"`
}

type inboundFrame struct {
	E    string          `json:"e"`
	OID  string          `json:"oid"`
	OK   string          `json:"ok"`
	Data json.RawMessage `json:"data"`
}

type errorData struct {
	Error string `json:"error"`
}

// framing speaks the CEX.IO JSON websocket grammar. signer is nil on public sockets.
type framing struct {
	pair   string
	signer *shared.Signer
}

func (f framing) Decode(_ websocket.MessageType, data []byte) ([]byte, error) {
	return data, nil
}

func (f framing) Classify(body []byte) (shared.Frame, error) {
	var in inboundFrame
	if err := json.Unmarshal(body, &in); err != nil {
		return shared.Frame{}, err
	}
	detail := frameError(in.Data)
	switch in.E {
	case "connected":
		return shared.Frame{Kind: shared.FrameConnected}, nil
	case "auth":
		ok := in.OK == "ok" && detail == ""
		if detail == "" {
			detail = in.OK
		}
		return shared.Frame{Kind: shared.FrameAuth, AuthOK: ok, Detail: detail}, nil
	case "pong":
		return shared.Frame{Kind: shared.FrameHeartbeat}, nil
	case "ping":
		return shared.Frame{Kind: shared.FramePing, Reply: []byte(`{"e":"pong"}`)}, nil
	case "disconnected":
		return shared.Frame{Kind: shared.FrameError, Detail: "server announced disconnect"}, nil
	}
	if detail != "" {
		return shared.Frame{Kind: shared.FrameError, Detail: in.E + ": " + detail}, nil
	}
	switch in.E {
	case "trade_subscribe", "trade_unsubscribe", "order_book_unsubscribe", "do_cancel_all_orders":
		return shared.Frame{Kind: shared.FrameAck, Detail: in.OID}, nil
	case eventOrderBookSnapshot, eventOrderBookIncrement, eventExecutionReport, eventTradeUpdate:
		return shared.Frame{Kind: shared.FrameData, Body: body}, nil
	}
	return shared.Frame{}, shared.ErrUnknownFrame
}

func frameError(raw json.RawMessage) string {
	if len(raw) == 0 || raw[0] != '{' {
		return ""
	}
	var e errorData
	if err := json.Unmarshal(raw, &e); err != nil {
		return ""
	}
	return strings.TrimSpace(e.Error)
}

// AuthFrame signs timestamp+key in hex, timestamp in seconds.
func (f framing) AuthFrame(now time.Time) ([]byte, error) {
	if f.signer == nil {
		return nil, nil
	}
	ts := now.Unix()
	return json.Marshal(outboundFrame{
		E: "auth",
		Auth: &authPayload{
			Key:       f.signer.Key(),
			Signature: f.signer.Sign(shared.EncodingHex, strconv.FormatInt(ts, 10), f.signer.Key()),
			Timestamp: ts,
		},
	})
}

func (f framing) PingFrame(time.Time) ([]byte, error) {
	return []byte(`{"e":"ping"}`), nil
}

func (f framing) SubscribeFrame(channel, oid string) ([]byte, error) {
	return json.Marshal(outboundFrame{E: channel + "_subscribe", OID: oid, Data: pairData{Pair: f.pair}})
}

func (f framing) UnsubscribeFrame(channel, oid string) ([]byte, error) {
	return json.Marshal(outboundFrame{E: channel + "_unsubscribe", OID: oid, Data: pairData{Pair: f.pair}})
}

// cancelAll sends the unconfirmed websocket cancel-all used while stopping.
type cancelAll struct{}

func (cancelAll) CancelAll(ctx context.Context, w shared.FrameWriter, ids *shared.OperationIDs) error {
	frame, err := json.Marshal(outboundFrame{
		E:    "do_cancel_all_orders",
		OID:  ids.Next("do_cancel_all_orders"),
		Data: struct{}{},
	})
	if err != nil {
		return err
	}
	return w.WriteFrame(ctx, frame)
}
