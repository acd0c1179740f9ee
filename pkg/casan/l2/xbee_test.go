package l2

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

// rxFrame 构造一个RX_SHORT帧
func rxFrame(src XBeeAddr, opts byte, payload []byte) []byte {
	data := append([]byte{XBEE_FT_RX_SHORT, src[1], src[0], 0x28, opts}, payload...)
	b := []byte{XBEE_START, byte(len(data) >> 8), byte(len(data))}
	b = append(b, data...)
	return append(b, xbeeChecksum(data))
}

func TestEncodeFrameLayout(t *testing.T) {
	dst := XBeeAddr{0xca, 0xfe}
	f := EncodeFrame(XBEE_FRAME_ID, dst, []byte{1, 2, 3})
	want := []byte{0x7E, 0x00, 0x08, 0x01, 0x41, 0xfe, 0xca, 0x00, 1, 2, 3}
	if !bytes.Equal(f[:len(want)], want) {
		t.Fatalf("frame % x, want prefix % x", f, want)
	}
	var sum byte
	for _, b := range f[3:] {
		sum += b
	}
	if sum != 0xFF {
		t.Errorf("body + checksum should sum to 0xFF, got %#x", sum)
	}
}

func TestFramerSingleFrame(t *testing.T) {
	f := NewFramer(0, 0)
	f.Feed(rxFrame(XBeeAddr{0x12, 0x34}, 0, []byte("abc")))
	r, ok := f.Next()
	if !ok {
		t.Fatal("expected one record")
	}
	if !r.Src.Equal(XBeeAddr{0x12, 0x34}) || r.Type != PktMe || string(r.Data) != "abc" || r.RSSI != 0x28 {
		t.Errorf("unexpected record %+v", r)
	}
	if f.Buffered() != 0 {
		t.Errorf("%d bytes left in buffer", f.Buffered())
	}
}

func TestFramerBroadcastFlag(t *testing.T) {
	f := NewFramer(0, 0)
	f.Feed(rxFrame(XBeeAddr{1, 2}, XBEE_OPT_BCAST, []byte{9}))
	r, ok := f.Next()
	if !ok || r.Type != PktBcast {
		t.Fatalf("expected a broadcast record, got %+v %v", r, ok)
	}
}

func TestFramerResync(t *testing.T) {
	first := rxFrame(XBeeAddr{0xaa, 0x01}, 0, []byte("bad"))
	first[len(first)-1] ^= 0x01 // 破坏校验和
	second := rxFrame(XBeeAddr{0xaa, 0x02}, 0, []byte("good"))

	var stream []byte
	stream = append(stream, 0x00)
	stream = append(stream, first...)
	stream = append(stream, 0x00)
	stream = append(stream, second...)

	f := NewFramer(0, 0)
	f.Feed(stream)

	r, ok := f.Next()
	if !ok {
		t.Fatal("intact frame not decoded")
	}
	if string(r.Data) != "good" || !r.Src.Equal(XBeeAddr{0xaa, 0x02}) {
		t.Errorf("unexpected record %+v", r)
	}
	if _, ok := f.Next(); ok {
		t.Error("corrupted frame must not produce a record")
	}
}

func TestFramerByteByByte(t *testing.T) {
	stream := append([]byte{0x11, 0x22}, rxFrame(XBeeAddr{3, 4}, 0, []byte("xyz"))...)
	f := NewFramer(0, 0)
	for i, b := range stream {
		f.Feed([]byte{b})
		_, ok := f.Next()
		if ok != (i == len(stream)-1) {
			t.Fatalf("byte %d: record available = %v", i, ok)
		}
	}
}

func TestFramerOversizedLength(t *testing.T) {
	// 假起始符声明的长度超过上限，必须跳过
	stream := append([]byte{XBEE_START, 0x7F, 0xFF}, rxFrame(XBeeAddr{5, 6}, 0, []byte("ok"))...)
	f := NewFramer(0, 0)
	f.Feed(stream)
	r, ok := f.Next()
	if !ok || string(r.Data) != "ok" {
		t.Fatalf("expected resync after bogus length, got %+v %v", r, ok)
	}
}

func TestFramerNoStart(t *testing.T) {
	f := NewFramer(0, 0)
	f.Feed([]byte{1, 2, 3, 4, 5, 6})
	if f.Buffered() != 0 {
		t.Errorf("buffer without start marker should be discarded, %d left", f.Buffered())
	}
}

func TestFramerTxStatus(t *testing.T) {
	data := []byte{XBEE_FT_TX_STAT, XBEE_FRAME_ID, 0x01}
	frame := append([]byte{XBEE_START, 0, byte(len(data))}, data...)
	frame = append(frame, xbeeChecksum(data))

	var gotID, gotStatus byte
	f := NewFramer(0, 0)
	f.OnTxStatus = func(id, st byte) { gotID, gotStatus = id, st }
	f.Feed(frame)
	if gotID != XBEE_FRAME_ID || gotStatus != 1 {
		t.Errorf("tx status callback got id=%#x status=%d", gotID, gotStatus)
	}
	if _, ok := f.Next(); ok {
		t.Error("tx status must not produce a data record")
	}
}

// fakePort 模拟串口：读取预置数据，记录写出的数据
type fakePort struct {
	in       bytes.Buffer
	out      bytes.Buffer
	chunk    int    // 每次Read最多返回的字节数
	maxWrite int    // 每次Write最多接受的字节数
	reply    string // 每次Write后追加到in的应答
	closed   bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.in.Len() == 0 {
		return 0, io.EOF
	}
	if p.chunk > 0 && len(b) > p.chunk {
		b = b[:p.chunk]
	}
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.maxWrite > 0 && len(b) > p.maxWrite {
		b = b[:p.maxWrite]
	}
	p.out.Write(b)
	if p.reply != "" {
		p.in.WriteString(p.reply)
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestXBeeATInit(t *testing.T) {
	port := &fakePort{reply: "OK\r"}
	cfg := XBeeConfig{
		Addr:    XBeeAddr{0xca, 0xfe},
		PanID:   XBeeAddr{0x12, 0x34},
		Channel: 12,
		ATGuard: time.Millisecond,
	}
	x, err := NewXBee("fake", port, cfg)
	if err != nil {
		t.Fatalf("NewXBee: %v", err)
	}
	want := "+++ATRE\rATMYcafe\rATID1234\rATCHc\rATMM2\rATAP1\rATCN\r"
	if got := port.out.String(); got != want {
		t.Errorf("AT sequence %q, want %q", got, want)
	}
	if x.MTU() != XBEE_PAYLOAD_MTU {
		t.Errorf("MTU = %d", x.MTU())
	}
}

func TestXBeeATError(t *testing.T) {
	port := &fakePort{reply: "ERROR\r"}
	cfg := XBeeConfig{Channel: 15, ATGuard: time.Millisecond}
	if _, err := NewXBee("fake", port, cfg); !errors.Is(err, ErrATCommand) {
		t.Errorf("expected ErrATCommand, got %v", err)
	}
}

func TestXBeeBadChannel(t *testing.T) {
	if _, err := NewXBee("fake", &fakePort{}, XBeeConfig{Channel: 27, SkipInit: true}); !errors.Is(err, ErrChannel) {
		t.Errorf("expected ErrChannel, got %v", err)
	}
}

func TestXBeeSendPartialWrites(t *testing.T) {
	port := &fakePort{maxWrite: 3}
	x, err := NewXBee("fake", port, XBeeConfig{Channel: 11, SkipInit: true})
	if err != nil {
		t.Fatalf("NewXBee: %v", err)
	}
	payload := []byte("hello radio")
	n, err := x.Send(XBeeAddr{0xbe, 0xef}, payload)
	if err != nil || n != len(payload) {
		t.Fatalf("Send = %d, %v", n, err)
	}
	if want := EncodeFrame(XBEE_FRAME_ID, XBeeAddr{0xbe, 0xef}, payload); !bytes.Equal(port.out.Bytes(), want) {
		t.Errorf("written % x, want % x", port.out.Bytes(), want)
	}
	if _, err := x.Send(EthBroadcast, payload); !errors.Is(err, ErrAddrType) {
		t.Errorf("ethernet address accepted: %v", err)
	}
	if _, err := x.Send(XBeeBroadcast, make([]byte, XBEE_PAYLOAD_MTU+1)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("oversized payload accepted: %v", err)
	}
}

func TestXBeeRecvAcrossReads(t *testing.T) {
	port := &fakePort{chunk: 4}
	port.in.Write(rxFrame(XBeeAddr{0, 7}, 0, []byte("one")))
	port.in.Write(rxFrame(XBeeAddr{0, 8}, XBEE_OPT_BCAST, []byte("two")))
	x, err := NewXBee("fake", port, XBeeConfig{Channel: 11, SkipInit: true})
	if err != nil {
		t.Fatalf("NewXBee: %v", err)
	}

	src, data, pt, _, err := x.Recv()
	if err != nil || string(data) != "one" || pt != PktMe || !src.Equal(XBeeAddr{0, 7}) {
		t.Fatalf("first Recv: %v %q %v %v", src, data, pt, err)
	}
	src, data, pt, _, err = x.Recv()
	if err != nil || string(data) != "two" || pt != PktBcast || !src.Equal(XBeeAddr{0, 8}) {
		t.Fatalf("second Recv: %v %q %v %v", src, data, pt, err)
	}
	if _, _, _, _, err = x.Recv(); !errors.Is(err, ErrClosed) {
		t.Errorf("end of stream should report ErrClosed, got %v", err)
	}
}

func TestXBeeRecvAfterCloseSkipsPort(t *testing.T) {
	port := &fakePort{}
	port.in.Write(rxFrame(XBeeAddr{0, 7}, 0, []byte("late")))
	x, err := NewXBee("fake", port, XBeeConfig{Channel: 11, SkipInit: true})
	if err != nil {
		t.Fatalf("NewXBee: %v", err)
	}
	if err := x.Close(); err != nil || !port.closed {
		t.Fatalf("Close: %v", err)
	}
	if _, _, _, _, err := x.Recv(); !errors.Is(err, ErrClosed) {
		t.Errorf("Recv after Close = %v", err)
	}
	if port.in.Len() == 0 {
		t.Error("closed port was read")
	}
}
