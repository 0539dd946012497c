package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agamariel/printdesk/internal/logging"
)

const (
	// DefaultTypingHeartbeat как часто повторяется сигнал при непрерывном наборе.
	DefaultTypingHeartbeat = 2 * time.Second
	// DefaultTypingIdle пауза в наборе, после которой сигнал снимается.
	DefaultTypingIdle = 2 * time.Second
)

// Typing подавляет дребезг сигнала «печатает»: первое нажатие отправляет
// сигнал, далее не чаще heartbeat; после паузы idle сигнал снимается.
type Typing struct {
	send      func(ctx context.Context, typing bool) error
	heartbeat time.Duration
	idle      time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	active   bool
	lastSent time.Time
	timer    *time.Timer
	gen      uint64
}

// NewTyping создаёт дебаунсер. Нулевые интервалы заменяются значениями по умолчанию.
func NewTyping(send func(ctx context.Context, typing bool) error, heartbeat, idle time.Duration, logger *slog.Logger) *Typing {
	if heartbeat <= 0 {
		heartbeat = DefaultTypingHeartbeat
	}
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Typing{
		send:      send,
		heartbeat: heartbeat,
		idle:      idle,
		logger:    logger,
		now:       time.Now,
	}
}

// Keystroke отмечает нажатие клавиши.
func (t *Typing) Keystroke(ctx context.Context) {
	t.mu.Lock()
	now := t.now()
	shouldSend := !t.active || now.Sub(t.lastSent) >= t.heartbeat
	if shouldSend {
		t.active = true
		t.lastSent = now
	}
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, func() { t.expire(gen) })
	t.mu.Unlock()

	if shouldSend {
		t.deliver(ctx, true)
	}
}

// Stop снимает сигнал, если он был отправлен.
func (t *Typing) Stop(ctx context.Context) {
	t.mu.Lock()
	t.gen++
	wasActive := t.reset()
	t.mu.Unlock()

	if wasActive {
		t.deliver(ctx, false)
	}
}

// Active сообщает, считается ли сейчас, что пользователь печатает.
func (t *Typing) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Typing) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	wasActive := t.reset()
	t.mu.Unlock()

	if wasActive {
		t.deliver(context.Background(), false)
	}
}

// reset вызывается под мьютексом.
func (t *Typing) reset() bool {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	wasActive := t.active
	t.active = false
	return wasActive
}

func (t *Typing) deliver(ctx context.Context, typing bool) {
	if err := t.send(ctx, typing); err != nil {
		t.logger.Warn("failed to send typing indicator", "typing", typing, "error", err)
	}
}
