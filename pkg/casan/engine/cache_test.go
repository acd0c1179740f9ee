package engine

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/junbin-yang/casan-go/pkg/casan/coap"
)

func getTemp() *Msg {
	m := coap.NewMessage(coap.TypeCON, coap.CodeGET)
	m.AddOption(coap.MustOption(coap.NewStringOption(coap.OptUriPath, "temp")))
	return &Msg{Message: m, Peer: slaveAddr}
}

func answered(maxAge int64) *Msg {
	req := getTemp()
	rep := coap.NewMessage(coap.TypeACK, coap.CodeContent)
	if maxAge >= 0 {
		rep.AddOption(coap.MustOption(coap.NewUintOption(coap.OptMaxAge, uint64(maxAge))))
	}
	rep.SetPayload([]byte("20"))
	link(req, &Msg{Message: rep, Peer: slaveAddr})
	return req
}

func TestCacheAging(t *testing.T) {
	clk := clockwork.NewFakeClockAt(testEpoch)
	c := NewCache(clk)
	if !c.Add(answered(5)) {
		t.Fatal("reply with Max-Age not cached")
	}

	if hit := c.Get(getTemp()); hit == nil || string(hit.Reply().Payload()) != "20" {
		t.Fatalf("miss at t=0: %v", hit)
	}
	clk.Advance(4 * time.Second)
	if c.Get(getTemp()) == nil {
		t.Fatal("miss at t=4")
	}
	clk.Advance(2 * time.Second)
	if c.Get(getTemp()) != nil {
		t.Fatal("hit at t=6")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry kept, %d entries", c.Len())
	}
}

func TestCacheAddRequiresMaxAge(t *testing.T) {
	c := NewCache(clockwork.NewFakeClockAt(testEpoch))
	if c.Add(answered(-1)) {
		t.Error("reply without Max-Age cached")
	}
	if c.Add(answered(0)) {
		t.Error("Max-Age 0 cached")
	}
	if c.Add(getTemp()) {
		t.Error("request without reply cached")
	}
}

func TestCacheAddReplacesMatch(t *testing.T) {
	clk := clockwork.NewFakeClockAt(testEpoch)
	c := NewCache(clk)
	for i := 0; i < 3; i++ {
		if !c.Add(answered(5)) {
			t.Fatalf("add #%d refused", i)
		}
		clk.Advance(time.Second)
	}
	if c.Len() != 1 {
		t.Fatalf("identical requests kept %d entries", c.Len())
	}
	// 最后一次添加在t=2，有效期到t=7
	clk.Advance(3 * time.Second)
	if c.Get(getTemp()) == nil {
		t.Error("refreshed entry expired early")
	}

	c.Add(answered(1))
	clk.Advance(2 * time.Second)
	other := answered(5)
	other.Peer = otherAddr
	c.Add(other)
	if c.Len() != 1 || !c.Entries()[0].Req.Peer.Equal(otherAddr) {
		t.Errorf("Add did not purge expired entries: %d left", c.Len())
	}
}

func TestCacheMatching(t *testing.T) {
	c := NewCache(clockwork.NewFakeClockAt(testEpoch))
	c.Add(answered(60))

	other := getTemp()
	other.AddOption(coap.MustOption(coap.NewStringOption(coap.OptUriQuery, "unit=F")))
	if c.Get(other) != nil {
		t.Error("different query matched")
	}
	non := getTemp()
	non.SetType(coap.TypeNON)
	if c.Get(non) != nil {
		t.Error("different type matched")
	}
	elsewhere := getTemp()
	elsewhere.Peer = otherAddr
	if c.Get(elsewhere) != nil {
		t.Error("different slave matched")
	}
	// Size1不参与缓存键
	sized := getTemp()
	sized.AddOption(coap.MustOption(coap.NewUintOption(coap.OptSize1, 10)))
	if c.Get(sized) == nil {
		t.Error("no-cache-key option prevented a match")
	}
}

func TestCacheCleanAndHTML(t *testing.T) {
	clk := clockwork.NewFakeClockAt(testEpoch)
	c := NewCache(clk)
	var buf bytes.Buffer
	if err := c.WriteHTML(&buf); err != nil || !strings.Contains(buf.String(), "empty") {
		t.Errorf("empty cache page %q %v", buf.String(), err)
	}
	c.Add(answered(1))
	fahrenheit := answered(10)
	fahrenheit.AddOption(coap.MustOption(coap.NewStringOption(coap.OptUriQuery, "unit=F")))
	c.Add(fahrenheit)
	buf.Reset()
	if err := c.WriteHTML(&buf); err != nil || strings.Count(buf.String(), "<li>") != 2 {
		t.Errorf("cache page %q %v", buf.String(), err)
	}
	clk.Advance(2 * time.Second)
	if n := c.Clean(); n != 1 || c.Len() != 1 {
		t.Errorf("Clean removed %d, %d left", n, c.Len())
	}
}

func TestWaiter(t *testing.T) {
	clk := clockwork.NewFakeClockAt(testEpoch)

	w := NewWaiter(clk)
	if !w.DoAndWait(w.Wakeup, clk.Now().Add(time.Second)) {
		t.Error("wakeup inside the action not seen")
	}
	w.Wakeup()

	w = NewWaiter(clk)
	if w.DoAndWait(nil, clk.Now()) {
		t.Error("past deadline should return false immediately")
	}

	w = NewWaiter(clk)
	res := make(chan bool, 1)
	go func() { res <- w.DoAndWait(nil, clk.Now().Add(3*time.Second)) }()
	clk.BlockUntil(1)
	clk.Advance(3 * time.Second)
	select {
	case ok := <-res:
		if ok {
			t.Error("timed out wait reported a wakeup")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("DoAndWait did not return at its deadline")
	}

	w = NewWaiter(clk)
	go func() { res <- w.DoAndWait(nil, clk.Now().Add(time.Hour)) }()
	clk.BlockUntil(1)
	w.Wakeup()
	if ok := <-res; !ok {
		t.Error("explicit wakeup not reported")
	}
}

func TestStatusHTML(t *testing.T) {
	e, _, _ := newTestEngine(t)
	runningSlave(t, e, 7, slaveAddr, `</temp>;rt="t"`)
	var buf bytes.Buffer
	if err := e.Status().WriteHTML(&buf); err != nil {
		t.Fatalf("WriteHTML: %v", err)
	}
	for _, want := range []string{"fake", "running", slaveAddr.String()} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("status page lacks %q", want)
		}
	}
	si, ok := e.SlaveInfo(7)
	if !ok {
		t.Fatal("SlaveInfo(7) missing")
	}
	buf.Reset()
	if err := si.WriteHTML(&buf); err != nil || !strings.Contains(buf.String(), "&lt;/temp&gt;") {
		t.Errorf("slave page %q %v", buf.String(), err)
	}
	if _, ok := e.SlaveInfo(8); ok {
		t.Error("unknown slave reported")
	}
}
