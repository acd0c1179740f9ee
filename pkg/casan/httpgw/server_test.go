package httpgw

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/junbin-yang/casan-go/pkg/casan/coap"
	"github.com/junbin-yang/casan-go/pkg/casan/engine"
	"github.com/junbin-yang/casan-go/pkg/casan/l2"
)

const simResources = `</temp>;rt="temperature",</silent>,</led>`

type frame struct {
	src  l2.Addr
	data []byte
}

// simLink 内存链路，另一端是一个模拟从机
type simLink struct {
	addr   l2.XBeeAddr
	in     chan frame
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	gets     int
	lastBody string
}

func newSimLink() *simLink {
	return &simLink{addr: l2.XBeeAddr{0x00, 0x12}, in: make(chan frame, 32), closed: make(chan struct{})}
}

func (s *simLink) Send(dst l2.Addr, data []byte) (int, error) {
	m, err := coap.Decode(data, false)
	if err != nil {
		return 0, err
	}
	if rep := s.respond(m); rep != nil {
		b, err := rep.Encode()
		if err != nil {
			return 0, err
		}
		s.in <- frame{src: s.addr, data: b}
	}
	return len(data), nil
}

// respond 模拟从机的应答
func (s *simLink) respond(m *coap.Message) *coap.Message {
	if m.Type() != coap.TypeCON {
		return nil
	}
	path := strings.Join(m.Path(), "/")
	var rep *coap.Message
	switch {
	case path == ".well-known/casan":
		rep = coap.NewMessage(coap.TypeACK, coap.CodeChanged)
		rep.SetPayload([]byte(simResources))
	case path == "temp" && m.Code() == coap.CodeGET:
		s.mu.Lock()
		s.gets++
		s.mu.Unlock()
		rep = coap.NewMessage(coap.TypeACK, coap.CodeContent)
		rep.AddOption(coap.MustOption(coap.NewOption(coap.OptContentFormat, nil)))
		rep.AddOption(coap.MustOption(coap.NewUintOption(coap.OptMaxAge, 60)))
		rep.SetPayload([]byte("21.5"))
	case path == "led" && m.Code() == coap.CodePUT:
		s.mu.Lock()
		s.lastBody = string(m.Payload())
		s.mu.Unlock()
		rep = coap.NewMessage(coap.TypeACK, coap.CodeChanged)
	default:
		return nil
	}
	rep.SetID(m.ID())
	return rep
}

func (s *simLink) Recv() (l2.Addr, []byte, l2.PacketType, bool, error) {
	select {
	case f := <-s.in:
		return f.src, f.data, l2.PktMe, false, nil
	case <-s.closed:
		return nil, nil, l2.PktNone, false, l2.ErrClosed
	}
}

func (s *simLink) Broadcast() l2.Addr        { return l2.XBeeBroadcast }
func (s *simLink) MTU() int                  { return 100 }
func (s *simLink) MaxLatency() time.Duration { return time.Millisecond }
func (s *simLink) String() string            { return "sim" }

func (s *simLink) ParseAddr(v string) (l2.Addr, error) {
	a, err := l2.ParseXBeeAddr(v)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *simLink) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *simLink) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func newTestServer(t *testing.T) (*httptest.Server, *simLink) {
	t.Helper()
	e := engine.New(engine.Config{})
	sim := newSimLink()
	e.AddNetwork("sim", sim)
	if err := e.AddSlave(12, time.Hour, 0); err != nil {
		t.Fatalf("AddSlave: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { e.Stop() })

	disc, err := engine.MakeDiscover(12, 0).Encode()
	if err != nil {
		t.Fatalf("encode discover: %v", err)
	}
	sim.in <- frame{src: sim.addr, data: disc}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if s := e.FindSlave(12); s != nil && s.Running() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("slave never associated")
		}
		time.Sleep(10 * time.Millisecond)
	}

	srv := NewServer(e, nil, Options{
		RequestTimeout: 300 * time.Millisecond,
		ConfText:       func() string { return "networks: <sim>" },
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, sim
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestGetThroughCache(t *testing.T) {
	ts, sim := newTestServer(t)

	for i := 0; i < 2; i++ {
		resp, body := do(t, http.MethodGet, ts.URL+"/casan/12/temp", "")
		if resp.StatusCode != http.StatusOK || body != "21.5" {
			t.Fatalf("GET #%d = %d %q", i, resp.StatusCode, body)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
			t.Errorf("Content-Type %q", ct)
		}
		if cc := resp.Header.Get("Cache-Control"); cc != "max-age=60" {
			t.Errorf("Cache-Control %q", cc)
		}
	}
	if n := sim.getCount(); n != 1 {
		t.Errorf("slave saw %d GETs, second one should come from the cache", n)
	}
}

func TestPutForwardsBody(t *testing.T) {
	ts, sim := newTestServer(t)
	resp, _ := do(t, http.MethodPut, ts.URL+"/casan/12/led", "on")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT = %d", resp.StatusCode)
	}
	sim.mu.Lock()
	got := sim.lastBody
	sim.mu.Unlock()
	if got != "on" {
		t.Errorf("slave received %q", got)
	}

	resp, _ = do(t, http.MethodPut, ts.URL+"/casan/12/led", strings.Repeat("x", 200))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("oversized PUT = %d", resp.StatusCode)
	}
}

func TestCasanErrors(t *testing.T) {
	ts, _ := newTestServer(t)
	cases := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/casan/99/temp", http.StatusNotFound},
		{http.MethodGet, "/casan/12/nope", http.StatusNotFound},
		{http.MethodGet, "/casan/abc/temp", http.StatusNotFound},
		{http.MethodGet, "/casan/", http.StatusNotFound},
		{http.MethodPatch, "/casan/12/temp", http.StatusMethodNotAllowed},
		{http.MethodGet, "/casan/12/silent", http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		resp, _ := do(t, c.method, ts.URL+c.path, "")
		if resp.StatusCode != c.status {
			t.Errorf("%s %s = %d, want %d", c.method, c.path, resp.StatusCode, c.status)
		}
	}
}

func TestWellKnown(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := do(t, http.MethodGet, ts.URL+"/.well-known/casan", "")
	if resp.StatusCode != http.StatusOK || body != simResources {
		t.Fatalf("well-known = %d %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/link-format" {
		t.Errorf("Content-Type %q", ct)
	}
}

func TestAdminPages(t *testing.T) {
	ts, _ := newTestServer(t)
	cases := []struct {
		path   string
		status int
		want   string
	}{
		{"/admin/", http.StatusOK, "Welcome to CASAN"},
		{"/admin/index", http.StatusOK, "running status"},
		{"/admin/conf", http.StatusOK, "networks: &lt;sim&gt;"},
		{"/admin/run", http.StatusOK, "running"},
		{"/admin/cache", http.StatusOK, "Cache is empty"},
		{"/admin/slave", http.StatusOK, "slave/12"},
		{"/admin/slave/12", http.StatusOK, "Slave 12"},
		{"/admin/slave/13", http.StatusNotFound, ""},
		{"/admin/bogus", http.StatusNotFound, ""},
	}
	for _, c := range cases {
		resp, body := do(t, http.MethodGet, ts.URL+c.path, "")
		if resp.StatusCode != c.status {
			t.Errorf("%s = %d, want %d", c.path, resp.StatusCode, c.status)
			continue
		}
		if c.want != "" && !strings.Contains(body, c.want) {
			t.Errorf("%s lacks %q", c.path, c.want)
		}
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[coap.Code]int{
		coap.CodeContent:             http.StatusOK,
		coap.CodeCreated:             http.StatusCreated,
		coap.CodeChanged:             http.StatusOK,
		coap.CodeNotFound:            http.StatusNotFound,
		coap.CodeBadRequest:          http.StatusBadRequest,
		coap.CodeInternalServerError: http.StatusBadGateway,
		coap.CodeEmpty:               http.StatusBadGateway,
	}
	for c, want := range cases {
		if got := httpStatus(c); got != want {
			t.Errorf("httpStatus(%s) = %d, want %d", c, got, want)
		}
	}
}

func TestQueryOptions(t *testing.T) {
	opts, err := queryOptions("unit=C&&fmt=raw")
	if err != nil || len(opts) != 2 || string(opts[0].Value) != "unit=C" {
		t.Fatalf("queryOptions = %v, %v", opts, err)
	}
	if opts, err := queryOptions(""); err != nil || opts != nil {
		t.Errorf("empty query = %v, %v", opts, err)
	}
}
