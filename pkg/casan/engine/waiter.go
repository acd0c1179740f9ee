package engine

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Waiter 把异步的请求/应答转换成同步调用
type Waiter struct {
	clock clockwork.Clock
	once  sync.Once
	done  chan struct{}
}

func NewWaiter(clock clockwork.Clock) *Waiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Waiter{clock: clock, done: make(chan struct{})}
}

// DoAndWait 执行action后阻塞，直到被唤醒或到达deadline。被唤醒时返回true
func (w *Waiter) DoAndWait(action func(), deadline time.Time) bool {
	if action != nil {
		action()
	}
	select {
	case <-w.done:
		return true
	default:
	}
	d := deadline.Sub(w.clock.Now())
	if d <= 0 {
		return false
	}
	t := w.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.done:
		return true
	case <-t.Chan():
		// 超时和唤醒同时发生时以唤醒为准
		select {
		case <-w.done:
			return true
		default:
			return false
		}
	}
}

// Wakeup 释放等待者，可重复调用
func (w *Waiter) Wakeup() {
	w.once.Do(func() { close(w.done) })
}

// Done 已被唤醒时关闭的channel
func (w *Waiter) Done() <-chan struct{} {
	return w.done
}
