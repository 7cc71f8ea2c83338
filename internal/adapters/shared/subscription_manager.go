package shared

import (
	"context"
	"fmt"
	"sync"
)

// SubscriptionManager tracks the channels a session wants and which of them are live on the socket.
type SubscriptionManager struct {
	mu      sync.Mutex
	desired []string
	active  []string
	framing Framing
	ids     *OperationIDs
}

// NewSubscriptionManager creates a manager seeded with channels.
func NewSubscriptionManager(framing Framing, ids *OperationIDs, channels []string) *SubscriptionManager {
	manager := new(SubscriptionManager)
	manager.framing = framing
	manager.ids = ids
	manager.desired = dedupe(channels)
	return manager
}

// SetChannels replaces the desired set. Live subscriptions are untouched until the next Activate.
func (m *SubscriptionManager) SetChannels(channels []string) {
	m.mu.Lock()
	m.desired = dedupe(channels)
	m.mu.Unlock()
}

// Channels returns a copy of the desired set in order.
func (m *SubscriptionManager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.desired...)
}

// Active returns a copy of the channels subscribed on the current socket.
func (m *SubscriptionManager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.active...)
}

// Activate sends one subscribe frame per desired channel.
func (m *SubscriptionManager) Activate(ctx context.Context, w FrameWriter) error {
	m.mu.Lock()
	channels := append([]string(nil), m.desired...)
	m.mu.Unlock()

	sent := make([]string, 0, len(channels))
	var firstErr error
	for _, channel := range channels {
		frame, err := m.framing.SubscribeFrame(channel, m.ids.Next(channel))
		if err == nil {
			err = w.WriteFrame(ctx, frame)
		}
		if err != nil {
			firstErr = fmt.Errorf("subscribe %s: %w", channel, err)
			break
		}
		sent = append(sent, channel)
	}

	m.mu.Lock()
	m.active = sent
	m.mu.Unlock()
	return firstErr
}

// Deactivate sends one unsubscribe frame per active channel and clears the active set.
func (m *SubscriptionManager) Deactivate(ctx context.Context, w FrameWriter) error {
	m.mu.Lock()
	channels := m.active
	m.active = nil
	m.mu.Unlock()

	var firstErr error
	for _, channel := range channels {
		frame, err := m.framing.UnsubscribeFrame(channel, m.ids.Next(channel))
		if err == nil {
			err = w.WriteFrame(ctx, frame)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unsubscribe %s: %w", channel, err)
		}
	}
	return firstErr
}

// Reset forgets live subscriptions after the socket dropped.
func (m *SubscriptionManager) Reset() {
	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()
}

func dedupe(channels []string) []string {
	seen := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for _, channel := range channels {
		if channel == "" {
			continue
		}
		if _, ok := seen[channel]; ok {
			continue
		}
		seen[channel] = struct{}{}
		out = append(out, channel)
	}
	return out
}
