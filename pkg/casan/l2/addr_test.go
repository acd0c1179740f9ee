package l2

import (
	"errors"
	"testing"
)

func TestParseAddrs(t *testing.T) {
	x, err := ParseXBeeAddr("ca:fe")
	if err != nil || x != (XBeeAddr{0xca, 0xfe}) {
		t.Fatalf("ParseXBeeAddr = %v, %v", x, err)
	}
	if x.String() != "ca:fe" || x.Uint16() != 0xcafe {
		t.Errorf("String/Uint16 = %s/%#x", x, x.Uint16())
	}
	e, err := ParseEthAddr("00:1b:21:0a:ff:01")
	if err != nil || e.String() != "00:1b:21:0a:ff:01" {
		t.Fatalf("ParseEthAddr = %v, %v", e, err)
	}
	for _, bad := range []string{"", "ca", "ca:fe:00", "zz:00"} {
		if _, err := ParseXBeeAddr(bad); !errors.Is(err, ErrAddrSyntax) {
			t.Errorf("ParseXBeeAddr(%q) err = %v", bad, err)
		}
	}
	u, err := ParseUDPAddr("239.0.0.1:5683")
	if err != nil || u.Port != 5683 || !u.IP.IsMulticast() {
		t.Fatalf("ParseUDPAddr = %v, %v", u, err)
	}
}

func TestAddrEqualityAcrossTransports(t *testing.T) {
	x := XBeeAddr{0xff, 0xff}
	e := EthAddr{0xff, 0xff, 0, 0, 0, 0}
	if x.Equal(e) || e.Equal(x) {
		t.Error("addresses of different transports must never be equal")
	}
	if !x.Equal(XBeeBroadcast) {
		t.Error("same xbee address should be equal")
	}
	u1, _ := ParseUDPAddr("10.0.0.1:1000")
	u2, _ := ParseUDPAddr("10.0.0.1:1000")
	if !u1.Equal(u2) {
		t.Error("same udp address should be equal")
	}
}

func TestEthernetLengthPrefix(t *testing.T) {
	f := frameWithLength([]byte{1, 2, 3})
	if len(f) != 5 || f[0] != 0 || f[1] != 5 {
		t.Fatalf("frame % x", f)
	}
	// 最短帧补零后仍能取回原始负载
	padded := append(f, make([]byte, 40)...)
	data, truncated, ok := stripLength(padded)
	if !ok || truncated || len(data) != 3 {
		t.Errorf("stripLength = % x %v %v", data, truncated, ok)
	}
	data, truncated, ok = stripLength(f[:4])
	if !ok || !truncated || len(data) != 2 {
		t.Errorf("short read = % x %v %v", data, truncated, ok)
	}
	if _, _, ok := stripLength([]byte{0}); ok {
		t.Error("one byte frame accepted")
	}
}
