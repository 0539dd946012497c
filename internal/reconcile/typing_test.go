package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type typingRecorder struct {
	mu    sync.Mutex
	calls []bool
	err   error
}

func (r *typingRecorder) send(_ context.Context, typing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, typing)
	return r.err
}

func (r *typingRecorder) sent() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.calls...)
}

func TestTyping_HeartbeatThrottles(t *testing.T) {
	rec := &typingRecorder{}
	typing := NewTyping(rec.send, 2*time.Second, time.Hour, nil)
	now := t0
	typing.now = func() time.Time { return now }
	ctx := context.Background()

	typing.Keystroke(ctx)
	now = now.Add(time.Second)
	typing.Keystroke(ctx)
	assert.Equal(t, []bool{true}, rec.sent())

	now = now.Add(time.Second)
	typing.Keystroke(ctx)
	assert.Equal(t, []bool{true, true}, rec.sent())
	assert.True(t, typing.Active())

	typing.Stop(ctx)
	typing.Stop(ctx)
	assert.Equal(t, []bool{true, true, false}, rec.sent())
	assert.False(t, typing.Active())
}

func TestTyping_IdleTimeoutClears(t *testing.T) {
	rec := &typingRecorder{}
	typing := NewTyping(rec.send, time.Hour, 20*time.Millisecond, nil)

	typing.Keystroke(context.Background())
	require.Eventually(t, func() bool {
		got := rec.sent()
		return len(got) == 2 && !got[1]
	}, time.Second, 5*time.Millisecond)
	assert.False(t, typing.Active())
}

func TestTyping_StopWithoutKeystroke(t *testing.T) {
	rec := &typingRecorder{}
	typing := NewTyping(rec.send, 0, 0, nil)

	typing.Stop(context.Background())
	assert.Empty(t, rec.sent())
}

func TestTyping_SendErrorIsSwallowed(t *testing.T) {
	rec := &typingRecorder{err: errors.New("offline")}
	typing := NewTyping(rec.send, time.Hour, time.Hour, nil)

	require.NotPanics(t, func() { typing.Keystroke(context.Background()) })
	assert.True(t, typing.Active())
	typing.Stop(context.Background())
	assert.Equal(t, []bool{true, false}, rec.sent())
}
