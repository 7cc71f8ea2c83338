package shared

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingWriter struct {
	mu     sync.Mutex
	frames []string
	failAt int
}

func (w *recordingWriter) WriteFrame(_ context.Context, frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAt > 0 && len(w.frames)+1 == w.failAt {
		return errors.New("socket gone")
	}
	w.frames = append(w.frames, string(frame))
	return nil
}

func (w *recordingWriter) Frames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.frames...)
}

func fixedIDs() *OperationIDs {
	return NewOperationIDs(func() time.Time { return time.UnixMilli(1000) })
}

func TestSubscriptionManagerActivateDeactivate(t *testing.T) {
	manager := NewSubscriptionManager(testFraming{}, fixedIDs(), []string{"trade", "book", "trade", ""})
	if got := manager.Channels(); len(got) != 2 {
		t.Fatalf("expected deduplicated channels, got %v", got)
	}

	w := &recordingWriter{}
	if err := manager.Activate(context.Background(), w); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if got := manager.Active(); len(got) != 2 || got[0] != "trade" || got[1] != "book" {
		t.Fatalf("unexpected active set %v", got)
	}
	if err := manager.Deactivate(context.Background(), w); err != nil {
		t.Fatalf("Deactivate returned error: %v", err)
	}
	frames := w.Frames()
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %v", frames)
	}
	for i, frame := range frames[2:] {
		if !strings.Contains(frame, `"e":"unsub"`) {
			t.Fatalf("frame %d is not an unsubscribe: %s", i, frame)
		}
	}
	if len(manager.Active()) != 0 {
		t.Fatal("deactivate must clear the active set")
	}
}

func TestSubscriptionManagerPartialActivate(t *testing.T) {
	manager := NewSubscriptionManager(testFraming{}, fixedIDs(), []string{"trade", "book"})
	w := &recordingWriter{failAt: 2}
	if err := manager.Activate(context.Background(), w); err == nil {
		t.Fatal("expected activate error")
	}
	if got := manager.Active(); len(got) != 1 || got[0] != "trade" {
		t.Fatalf("only sent channels should be active, got %v", got)
	}
}

func TestSubscriptionManagerUsesLatestChannels(t *testing.T) {
	manager := NewSubscriptionManager(testFraming{}, fixedIDs(), []string{"trade"})
	manager.SetChannels([]string{"ticker"})
	w := &recordingWriter{}
	if err := manager.Activate(context.Background(), w); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	frames := w.Frames()
	if len(frames) != 1 || !strings.Contains(frames[0], `"ch":"ticker"`) {
		t.Fatalf("expected ticker subscription, got %v", frames)
	}
	manager.Reset()
	if len(manager.Active()) != 0 {
		t.Fatal("reset must clear the active set")
	}
}

func TestHeartbeatSendsUntilStopped(t *testing.T) {
	w := &recordingWriter{}
	hb := NewHeartbeat(10*time.Millisecond, testFraming{}.PingFrame, nil)
	hb.Start(context.Background(), w)
	if !hb.Running() {
		t.Fatal("heartbeat should be running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(w.Frames()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hb.Stop()
	if hb.Running() {
		t.Fatal("heartbeat should be stopped")
	}
	sent := len(w.Frames())
	if sent < 2 {
		t.Fatalf("expected at least two pings, got %d", sent)
	}
	time.Sleep(30 * time.Millisecond)
	if len(w.Frames()) != sent {
		t.Fatal("pings sent after stop")
	}
	hb.Stop()
}

func TestHeartbeatSurvivesWriteFailures(t *testing.T) {
	w := &recordingWriter{failAt: 1}
	hb := NewHeartbeat(5*time.Millisecond, testFraming{}.PingFrame, nil)
	ctx, cancel := context.WithCancel(context.Background())
	hb.Start(ctx, w)

	deadline := time.Now().Add(2 * time.Second)
	for len(w.Frames()) < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(w.Frames()) < 1 {
		t.Fatal("heartbeat stopped after a failed ping")
	}
	cancel()
	hb.Stop()
}
