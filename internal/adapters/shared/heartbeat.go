package shared

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultHeartbeatInterval matches the exchanges' keep-alive expectations.
const DefaultHeartbeatInterval = 5 * time.Second

const heartbeatWriteTimeout = 5 * time.Second

// Heartbeat sends ping frames on a fixed interval while a socket is live.
// Missed pings are logged only; liveness is judged by the transport close.
type Heartbeat struct {
	interval time.Duration
	build    func(time.Time) ([]byte, error)
	logger   *zap.Logger
	clock    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeat constructs a controller using build to render each ping.
func NewHeartbeat(interval time.Duration, build func(time.Time) ([]byte, error), logger *zap.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heartbeat{interval: interval, build: build, logger: logger, clock: time.Now}
}

// Start begins pinging through w, replacing any previous loop.
func (h *Heartbeat) Start(ctx context.Context, w FrameWriter) {
	h.Stop()
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h.mu.Lock()
	h.cancel = cancel
	h.done = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				h.ping(loopCtx, w)
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit. It is safe to call when not running.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a ping loop is active.
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

func (h *Heartbeat) ping(ctx context.Context, w FrameWriter) {
	frame, err := h.build(h.clock())
	if err != nil {
		h.logger.Warn("build ping frame", zap.Error(err))
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, heartbeatWriteTimeout)
	defer cancel()
	if err := w.WriteFrame(writeCtx, frame); err != nil {
		h.logger.Warn("send ping", zap.Error(err))
		return
	}
	h.logger.Debug("ping sent")
}
