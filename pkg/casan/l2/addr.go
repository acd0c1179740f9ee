package l2

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Addr 链路层地址。不同链路的地址之间永不相等
type Addr interface {
	Equal(Addr) bool
	Bytes() []byte
	String() string
}

// 解析 "ca:fe" 形式的十六进制地址
func parseHexAddr(s string, n int) ([]byte, error) {
	parts := strings.Split(s, ":")
	if len(parts) != n {
		return nil, fmt.Errorf("%w: %q needs %d bytes", ErrAddrSyntax, s, n)
	}
	b := make([]byte, n)
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrAddrSyntax, s)
		}
		b[i] = byte(v)
	}
	return b, nil
}

func hexString(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, ":")
}

// EthAddr 以太网MAC地址
type EthAddr [6]byte

var EthBroadcast = EthAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func ParseEthAddr(s string) (EthAddr, error) {
	var a EthAddr
	b, err := parseHexAddr(s, len(a))
	if err != nil {
		return a, err
	}
	copy(a[:], b)
	return a, nil
}

func (a EthAddr) Equal(o Addr) bool {
	b, ok := o.(EthAddr)
	return ok && a == b
}

func (a EthAddr) Bytes() []byte  { return append([]byte(nil), a[:]...) }
func (a EthAddr) String() string { return hexString(a[:]) }

// XBeeAddr 802.15.4 短地址，高字节在前
type XBeeAddr [2]byte

var XBeeBroadcast = XBeeAddr{0xff, 0xff}

func ParseXBeeAddr(s string) (XBeeAddr, error) {
	var a XBeeAddr
	b, err := parseHexAddr(s, len(a))
	if err != nil {
		return a, err
	}
	copy(a[:], b)
	return a, nil
}

func (a XBeeAddr) Equal(o Addr) bool {
	b, ok := o.(XBeeAddr)
	return ok && a == b
}

func (a XBeeAddr) Bytes() []byte  { return append([]byte(nil), a[:]...) }
func (a XBeeAddr) String() string { return hexString(a[:]) }

// Uint16 以整数形式返回，AT命令使用
func (a XBeeAddr) Uint16() uint16 { return uint16(a[0])<<8 | uint16(a[1]) }

// UDPAddr IP地址加端口
type UDPAddr struct {
	IP   net.IP
	Port int
}

func ParseUDPAddr(s string) (UDPAddr, error) {
	ua, err := net.ResolveUDPAddr("udp4", s)
	if err != nil {
		return UDPAddr{}, fmt.Errorf("%w: %v", ErrAddrSyntax, err)
	}
	return UDPAddr{IP: ua.IP.To4(), Port: ua.Port}, nil
}

func (a UDPAddr) Equal(o Addr) bool {
	b, ok := o.(UDPAddr)
	return ok && a.Port == b.Port && a.IP.Equal(b.IP)
}

func (a UDPAddr) Bytes() []byte {
	return append(append([]byte(nil), a.IP.To4()...), byte(a.Port>>8), byte(a.Port))
}

func (a UDPAddr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

func (a UDPAddr) udp() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: a.Port}
}
