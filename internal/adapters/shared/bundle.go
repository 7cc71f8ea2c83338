// Package shared provides the exchange-agnostic connector session and its collaborators.
package shared

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/schema"
)

// ErrUnknownFrame marks a frame that matched no known schema. Sessions drop such frames silently.
var ErrUnknownFrame = errors.New("unknown frame")

// FrameKind classifies an inbound frame before any payload decoding.
type FrameKind uint8

const (
	// FrameData carries a market or account payload for the EventMapper.
	FrameData FrameKind = iota
	// FrameConnected is the exchange greeting sent after the socket opens.
	FrameConnected
	// FrameAuth acknowledges an authentication frame; see Frame.AuthOK.
	FrameAuth
	// FrameHeartbeat acknowledges a client ping.
	FrameHeartbeat
	// FramePing is a server ping that must be answered with Frame.Reply.
	FramePing
	// FrameAck acknowledges a subscribe, unsubscribe, or cancel operation.
	FrameAck
	// FrameError is an exchange-reported error; see Frame.Detail.
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FrameConnected:
		return "connected"
	case FrameAuth:
		return "auth"
	case FrameHeartbeat:
		return "heartbeat"
	case FramePing:
		return "ping"
	case FrameAck:
		return "ack"
	case FrameError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is the classification of one inbound message.
type Frame struct {
	Kind   FrameKind
	AuthOK bool
	Reply  []byte
	Detail string
	Body   []byte
}

// Framing builds and classifies the wire frames of one exchange.
type Framing interface {
	// Decode turns a raw websocket message into a JSON body (decompressing if needed).
	Decode(typ websocket.MessageType, data []byte) ([]byte, error)
	// Classify sorts a decoded body into control or data frames.
	Classify(body []byte) (Frame, error)
	// AuthFrame returns the signed authentication frame; public bundles return nil.
	AuthFrame(now time.Time) ([]byte, error)
	// PingFrame returns the client keep-alive frame.
	PingFrame(now time.Time) ([]byte, error)
	// SubscribeFrame returns the frame subscribing channel under operation id oid.
	SubscribeFrame(channel, oid string) ([]byte, error)
	// UnsubscribeFrame returns the frame unsubscribing channel under operation id oid.
	UnsubscribeFrame(channel, oid string) ([]byte, error)
}

// EventMapper converts data frames into canonical events.
type EventMapper interface {
	Map(body []byte) ([]schema.Event, error)
}

// Resetter is implemented by mappers that keep per-connection state.
type Resetter interface {
	Reset()
}

// FrameWriter sends one frame over the live socket.
type FrameWriter interface {
	WriteFrame(ctx context.Context, frame []byte) error
}

// StopCanceller cancels the account's open orders while a session stops.
type StopCanceller interface {
	CancelAll(ctx context.Context, w FrameWriter, ids *OperationIDs) error
}

// Bundle is the exchange-specific capability set injected into a Session.
type Bundle struct {
	Exchange  string
	URL       string
	Private   bool
	Framing   Framing
	Mapper    EventMapper
	Channels  []string
	Canceller StopCanceller
}

func (b Bundle) validate() error {
	if b.URL == "" {
		return errs.New(b.Exchange, errs.CodeInvalid, errs.WithMessage("websocket url required"))
	}
	if b.Framing == nil || b.Mapper == nil {
		return errs.New(b.Exchange, errs.CodeInvalid, errs.WithMessage("framing and mapper required"))
	}
	return nil
}

// LookupState maps an exchange order state through table.
func LookupState(exchange string, table map[string]schema.OrderState, value string) (schema.OrderState, error) {
	state, ok := table[value]
	if !ok {
		return "", errs.Unmapped(exchange, "order state", value)
	}
	return state, nil
}

// LookupSide maps an exchange side through table.
func LookupSide(exchange string, table map[string]schema.Side, value string) (schema.Side, error) {
	side, ok := table[value]
	if !ok {
		return "", errs.Unmapped(exchange, "side", value)
	}
	return side, nil
}

// LookupOrderType maps an exchange order type through table.
func LookupOrderType(exchange string, table map[string]schema.OrderType, value string) (schema.OrderType, error) {
	typ, ok := table[value]
	if !ok {
		return "", errs.Unmapped(exchange, "order type", value)
	}
	return typ, nil
}

// Invert builds the reverse of a canonical mapping table for outbound requests.
func Invert[K comparable, V comparable](table map[K]V) map[V]K {
	out := make(map[V]K, len(table))
	for k, v := range table {
		out[v] = k
	}
	return out
}
