package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errTransportGone = errors.New("transport gone")

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (t *fakeTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fail || t.closed {
		return errTransportGone
	}
	t.frames = append(t.frames, append([]byte(nil), frame...))
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) breakDown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = true
}

func (t *fakeTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = nil
}

// received decodes every frame, in delivery order.
func (t *fakeTransport) received(tb testing.TB) []Frame {
	tb.Helper()

	t.mu.Lock()
	defer t.mu.Unlock()

	frames := make([]Frame, 0, len(t.frames))
	for _, raw := range t.frames {
		var frame Frame
		require.NoError(tb, json.Unmarshal(raw, &frame))
		frames = append(frames, frame)
	}
	return frames
}

func (t *fakeTransport) named(tb testing.TB, event string) []Frame {
	tb.Helper()

	var frames []Frame
	for _, frame := range t.received(tb) {
		if frame.Event == event {
			frames = append(frames, frame)
		}
	}
	return frames
}

func newTestSession() (*Session, *fakeTransport) {
	transport := &fakeTransport{}
	return NewSession(context.Background(), transport), transport
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeData[T any](tb testing.TB, frame Frame) T {
	tb.Helper()

	var v T
	require.NoError(tb, json.Unmarshal(frame.Data, &v))
	return v
}
