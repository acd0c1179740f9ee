// Package engine 实现网关核心：调度、重传、接收去重、请求应答关联和从机关联状态机。
package engine

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/junbin-yang/casan-go/pkg/casan/coap"
	"github.com/junbin-yang/casan-go/pkg/casan/l2"
	log "github.com/junbin-yang/casan-go/pkg/utils/logger"
)

const (
	DEFAULT_FIRST_HELLO    = 3 * time.Second
	DEFAULT_HELLO_INTERVAL = 10 * time.Second

	inboundQueueSize = 64
)

// Config 引擎参数
type Config struct {
	Timing        Timing
	FirstHello    time.Duration // 第一次hello在[0, FirstHello)内随机发送
	HelloInterval time.Duration // <=0 表示不发送hello
	HelloID       int64         // 0表示由启动时间生成
	Clock         clockwork.Clock
	Rand          *rand.Rand
}

func DefaultConfig() Config {
	return Config{
		Timing:        DefaultTiming(),
		FirstHello:    DEFAULT_FIRST_HELLO,
		HelloInterval: DEFAULT_HELLO_INTERVAL,
	}
}

// netCounters 每个网络的统计
type netCounters struct {
	tx     atomic.Uint64
	rx     atomic.Uint64
	dup    atomic.Uint64
	drop   atomic.Uint64
	orphan atomic.Uint64
}

// NetStats 统计快照
type NetStats struct {
	Tx, Rx, Dup, Drop, Orphan uint64
}

// network 一个已注册的链路及其接收端状态
type network struct {
	l2        l2.Transport
	name      string
	hello     *coap.Message
	nextHello time.Time
	receiving bool
	dedup     []*Msg // 只由调度协程访问
	counters  netCounters
}

func (n *network) stats() NetStats {
	return NetStats{
		Tx:     n.counters.tx.Load(),
		Rx:     n.counters.rx.Load(),
		Dup:    n.counters.dup.Load(),
		Drop:   n.counters.drop.Load(),
		Orphan: n.counters.orphan.Load(),
	}
}

type inbound struct {
	net *network
	msg *Msg
}

// Engine 网关引擎。所有可变状态由run协程独占，外部通过channel访问
type Engine struct {
	cfg   Config
	clock clockwork.Clock
	rnd   *rand.Rand
	hid   int64
	msgID uint16

	networks []*network
	slaves   []*Slave
	sent     []*Msg // 待发送和等待应答的消息

	inbound  chan inbound
	requests chan *Msg
	calls    chan func()
	stopCh   chan struct{}
	done     chan struct{}

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopErr   error
}

func New(cfg Config) *Engine {
	cfg.Timing = cfg.Timing.withDefaults()
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(cfg.Clock.Now().UnixNano()))
	}
	e := &Engine{
		cfg:      cfg,
		clock:    cfg.Clock,
		rnd:      cfg.Rand,
		hid:      cfg.HelloID,
		inbound:  make(chan inbound, inboundQueueSize),
		requests: make(chan *Msg),
		calls:    make(chan func()),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if e.hid <= 0 {
		e.hid = e.clock.Now().Unix() % (MAX_HELLO_ID + 1)
	}
	e.msgID = uint16(e.rnd.Intn(0xFFFF))
	return e
}

func (e *Engine) Clock() clockwork.Clock { return e.clock }
func (e *Engine) Timing() Timing         { return e.cfg.Timing }
func (e *Engine) HelloID() int64         { return e.hid }

// call 在调度协程中执行f；引擎未运行时直接执行
func (e *Engine) call(f func()) {
	if !e.started.Load() {
		f()
		return
	}
	fin := make(chan struct{})
	select {
	case e.calls <- func() { f(); close(fin) }:
		<-fin
	case <-e.done:
		f()
	}
}

// AddNetwork 注册一个链路，name用于日志和状态页面
func (e *Engine) AddNetwork(name string, t l2.Transport) {
	n := &network{l2: t, name: name, hello: MakeHello(e.hid)}
	e.call(func() {
		e.networks = append(e.networks, n)
	})
	log.Infof("[ENGINE] network %s added: %s", name, t)
}

// AddSlave 注册配置中的从机
func (e *Engine) AddSlave(sid int64, ttl time.Duration, mtu int) error {
	var err error
	e.call(func() {
		for _, s := range e.slaves {
			if s.SID == sid {
				err = ErrDuplicateSlave
				return
			}
		}
		e.slaves = append(e.slaves, newSlave(sid, ttl, mtu))
		sort.Slice(e.slaves, func(i, j int) bool { return e.slaves[i].SID < e.slaves[j].SID })
	})
	return err
}

// Start 启动调度协程和各网络的接收协程，ctx取消时停止引擎
func (e *Engine) Start(ctx context.Context) error {
	err := ErrAlreadyRunning
	e.startOnce.Do(func() {
		err = nil
		e.started.Store(true)
		e.wg.Add(1)
		go e.run()
		if ctx != nil {
			go func() {
				select {
				case <-ctx.Done():
					e.Stop()
				case <-e.stopCh:
				}
			}()
		}
		log.Infof("[ENGINE] started, hello id %d", e.hid)
	})
	return err
}

// Stop 停止调度协程，关闭所有链路并等待接收协程退出
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		if e.started.Load() {
			<-e.done
		}
		var errs error
		for _, n := range e.networks {
			errs = multierr.Append(errs, n.l2.Close())
		}
		e.wg.Wait()
		for _, m := range e.sent {
			m.wakeup()
		}
		e.stopErr = errs
		log.Info("[ENGINE] stopped")
	})
	return e.stopErr
}

func (e *Engine) run() {
	defer e.wg.Done()
	defer close(e.done)
	for {
		now := e.clock.Now()
		next := e.runScheduler(now)

		var timer clockwork.Timer
		var tc <-chan time.Time
		if !next.IsZero() {
			d := next.Sub(now)
			if d < 0 {
				d = 0
			}
			timer = e.clock.NewTimer(d)
			tc = timer.Chan()
		}

		select {
		case <-e.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case in := <-e.inbound:
			e.handleInbound(e.clock.Now(), in)
		case m := <-e.requests:
			e.sent = append(e.sent, m)
		case f := <-e.calls:
			f()
		case <-tc:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// AddRequest 把消息交给调度协程发送
func (e *Engine) AddRequest(m *Msg) error {
	if m.Peer == nil || m.net == nil {
		return ErrNoPeer
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if len(data) > m.net.l2.MTU() {
		return ErrTooLarge
	}
	if !e.started.Load() {
		return ErrNotRunning
	}
	select {
	case e.requests <- m:
		return nil
	case <-e.done:
		return ErrNotRunning
	}
}

// NewRequest 构造发往从机资源的CON请求
func (e *Engine) NewRequest(sid int64, code coap.Code, path []string, payload []byte, opts ...coap.Option) (*Msg, error) {
	var (
		m   *Msg
		err error
	)
	e.call(func() {
		s := e.findSlave(sid)
		if s == nil || !s.Running() {
			err = ErrUnknownSlave
			return
		}
		r := s.FindResource(path)
		if r == nil {
			err = ErrUnknownResource
			return
		}
		cm := coap.NewMessage(coap.TypeCON, code)
		if err = r.AppendPath(cm); err != nil {
			return
		}
		for _, o := range opts {
			cm.AddOption(o)
		}
		if len(payload) > 0 {
			cm.SetPayload(payload)
		}
		data, encErr := cm.Encode()
		if encErr != nil {
			err = encErr
			return
		}
		if s.curMTU > 0 && len(data) > s.curMTU {
			err = ErrTooLarge
			return
		}
		m = &Msg{Message: cm, Peer: s.addr, net: s.net}
	})
	return m, err
}

// Request 发送m并等待应答，超时返回ErrNoReply
func (e *Engine) Request(m *Msg, timeout time.Duration) (*Msg, error) {
	w := NewWaiter(e.clock)
	m.SetWaiter(w)
	var err error
	ok := w.DoAndWait(func() {
		if err = e.AddRequest(m); err != nil {
			w.Wakeup()
		}
	}, e.clock.Now().Add(timeout))
	if err != nil {
		return nil, err
	}
	if !ok || m.Reply() == nil {
		return nil, ErrNoReply
	}
	return m.Reply(), nil
}

func (e *Engine) findSlave(sid int64) *Slave {
	for _, s := range e.slaves {
		if s.SID == sid {
			return s
		}
	}
	return nil
}

// FindSlave 返回从机的快照，不存在时返回nil
func (e *Engine) FindSlave(sid int64) *Slave {
	var snap *Slave
	e.call(func() {
		if s := e.findSlave(sid); s != nil {
			snap = s.snapshot()
		}
	})
	return snap
}

// Slaves 所有从机的快照，按编号排序
func (e *Engine) Slaves() []*Slave {
	var out []*Slave
	e.call(func() {
		for _, s := range e.slaves {
			out = append(out, s.snapshot())
		}
	})
	return out
}

// ResourceListText 所有运行中从机资源的link-format文本
func (e *Engine) ResourceListText() string {
	var parts []string
	e.call(func() {
		for _, s := range e.slaves {
			if s.Running() && len(s.resources) > 0 {
				parts = append(parts, s.ResourceListText())
			}
		}
	})
	return strings.Join(parts, ",")
}

func (e *Engine) nextID() uint16 {
	e.msgID++
	if e.msgID == 0 {
		e.msgID = 1
	}
	return e.msgID
}
