package engine

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/junbin-yang/casan-go/pkg/casan/coap"
	"github.com/junbin-yang/casan-go/pkg/casan/l2"
)

type frame struct {
	addr l2.Addr
	data []byte
}

// fakeNet 内存中的链路：记录发送的帧，从in读取收到的帧
type fakeNet struct {
	mu     sync.Mutex
	frames []frame
	notify chan frame
	in     chan frame
	mtu    int
	once   sync.Once
	closed chan struct{}
}

func newFakeNet(mtu int) *fakeNet {
	return &fakeNet{
		notify: make(chan frame, 64),
		in:     make(chan frame, 16),
		mtu:    mtu,
		closed: make(chan struct{}),
	}
}

func (f *fakeNet) Send(dst l2.Addr, data []byte) (int, error) {
	fr := frame{addr: dst, data: append([]byte(nil), data...)}
	f.mu.Lock()
	f.frames = append(f.frames, fr)
	f.mu.Unlock()
	select {
	case f.notify <- fr:
	default:
	}
	return len(data), nil
}

func (f *fakeNet) Recv() (l2.Addr, []byte, l2.PacketType, bool, error) {
	select {
	case fr := <-f.in:
		return fr.addr, fr.data, l2.PktMe, false, nil
	case <-f.closed:
		return nil, nil, l2.PktNone, false, l2.ErrClosed
	}
}

func (f *fakeNet) Broadcast() l2.Addr        { return l2.XBeeBroadcast }
func (f *fakeNet) MTU() int                  { return f.mtu }
func (f *fakeNet) MaxLatency() time.Duration { return 5 * time.Millisecond }
func (f *fakeNet) String() string            { return "fake" }

func (f *fakeNet) ParseAddr(s string) (l2.Addr, error) {
	a, err := l2.ParseXBeeAddr(s)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (f *fakeNet) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeNet) sent() []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frame(nil), f.frames...)
}

var (
	slaveAddr = l2.XBeeAddr{0x00, 0x07}
	otherAddr = l2.XBeeAddr{0x00, 0x09}
	testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestEngine(t *testing.T) (*Engine, *fakeNet, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(testEpoch)
	e := New(Config{Clock: clk, Rand: rand.New(rand.NewSource(1)), HelloID: 42})
	fn := newFakeNet(100)
	e.AddNetwork("fake", fn)
	return e, fn, clk
}

// wire 编码后再解码，得到带原始字节的消息
func wire(t *testing.T, cm *coap.Message) *coap.Message {
	t.Helper()
	b, err := cm.Encode()
	if err != nil {
		t.Fatalf("encode %s: %v", cm, err)
	}
	d, err := coap.Decode(b, false)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return d
}

// deliver 模拟接收协程把消息交给调度协程
func deliver(t *testing.T, e *Engine, from l2.Addr, cm *coap.Message) {
	t.Helper()
	n := e.networks[0]
	e.handleInbound(e.clock.Now(), inbound{net: n, msg: &Msg{Message: wire(t, cm), Peer: from, net: n}})
}

func decodeFrame(t *testing.T, fr frame) *coap.Message {
	t.Helper()
	m, err := coap.Decode(fr.data, false)
	if err != nil {
		t.Fatalf("decode sent frame: %v", err)
	}
	return m
}

// runningSlave 直接把从机置为运行状态
func runningSlave(t *testing.T, e *Engine, sid int64, addr l2.Addr, res string) *Slave {
	t.Helper()
	if err := e.AddSlave(sid, time.Hour, 0); err != nil {
		t.Fatalf("AddSlave: %v", err)
	}
	s := e.findSlave(sid)
	list, err := ParseResourceList(res)
	if err != nil {
		t.Fatalf("ParseResourceList: %v", err)
	}
	s.status = StatusRunning
	s.net = e.networks[0]
	s.addr = addr
	s.curMTU = 100
	s.resources = list
	s.deadline = e.clock.Now().Add(s.TTL)
	return s
}
