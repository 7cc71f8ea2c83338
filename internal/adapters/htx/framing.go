package htx

import (
	"bytes"
	"io"
	"strconv"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/coachpo/venuelink/internal/adapters/shared"
)

const maxFrameSize = 4 << 20

type subFrame struct {
	Sub   string `json:"sub,omitempty"`
	Unsub string `json:"unsub,omitempty"`
	ID    string `json:"id"`
}

type controlFrame struct {
	Ping     *int64 `json:"ping"`
	Pong     *int64 `json:"pong"`
	ID       string `json:"id"`
	Status   string `json:"status"`
	Subbed   string `json:"subbed"`
	Unsubbed string `json:"unsubbed"`
	ErrCode  string `json:"err-code"`
	ErrMsg   string `json:"err-msg"`
	Ch       string `json:"ch"`
}

// framing speaks the HTX market websocket grammar: gzip frames, topic subscriptions by id.
type framing struct {
	symbol string
}

func (f framing) topic(channel string) string {
	return "market." + f.symbol + "." + channel
}

// Decode inflates binary frames; text frames pass through.
func (f framing) Decode(typ websocket.MessageType, data []byte) ([]byte, error) {
	if typ != websocket.MessageBinary {
		return data, nil
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(io.LimitReader(reader, maxFrameSize))
}

func (f framing) Classify(body []byte) (shared.Frame, error) {
	var c controlFrame
	if err := json.Unmarshal(body, &c); err != nil {
		return shared.Frame{}, err
	}
	switch {
	case c.Ping != nil:
		reply, err := json.Marshal(map[string]int64{"pong": *c.Ping})
		if err != nil {
			return shared.Frame{}, err
		}
		return shared.Frame{Kind: shared.FramePing, Reply: reply}, nil
	case c.Pong != nil:
		return shared.Frame{Kind: shared.FrameHeartbeat}, nil
	case c.Status == "error":
		return shared.Frame{Kind: shared.FrameError, Detail: c.ErrCode + ": " + c.ErrMsg}, nil
	case c.Status == "ok":
		return shared.Frame{Kind: shared.FrameAck, Detail: c.ID}, nil
	case c.Ch != "":
		return shared.Frame{Kind: shared.FrameData, Body: body}, nil
	}
	return shared.Frame{}, shared.ErrUnknownFrame
}

func (f framing) AuthFrame(time.Time) ([]byte, error) { return nil, nil }

func (f framing) PingFrame(now time.Time) ([]byte, error) {
	return []byte(`{"ping":` + strconv.FormatInt(now.UnixMilli(), 10) + `}`), nil
}

func (f framing) SubscribeFrame(channel, oid string) ([]byte, error) {
	return json.Marshal(subFrame{Sub: f.topic(channel), ID: oid})
}

func (f framing) UnsubscribeFrame(channel, oid string) ([]byte, error) {
	return json.Marshal(subFrame{Unsub: f.topic(channel), ID: oid})
}
