package l2

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/net/ipv4"

	log "github.com/junbin-yang/casan-go/pkg/utils/logger"
)

const (
	UDP_MTU         = 1024 // 最大PDU长度
	UDP_TTL_VALUE   = 64   // 默认组播TTL
	UDP_MAX_LATENCY = 50 * time.Millisecond
	UDP_READ_MAX    = 2048
)

// UDP 用UDP组播模拟广播域的链路，无需原始套接字权限
type UDP struct {
	conn   *net.UDPConn
	pc     *ipv4.PacketConn
	group  UDPAddr
	local  UDPAddr
	mtu    int
	closed atomic.Bool
}

// OpenUDP 监听listen地址并加入group组播组，broadcast即发往该组
func OpenUDP(listen, group string, ifname string, mtu int) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp4", listen)
	if err != nil {
		return nil, errors.Wrapf(err, "listen address %q", listen)
	}
	gaddr, err := ParseUDPAddr(group)
	if err != nil {
		return nil, err
	}
	if !gaddr.IP.IsMulticast() {
		return nil, fmt.Errorf("%w: %s is not a multicast group", ErrAddrSyntax, group)
	}

	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, errors.Wrapf(err, "bind %s", listen)
	}

	var ifc *net.Interface
	if ifname != "" {
		if ifc, err = net.InterfaceByName(ifname); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "interface %s", ifname)
		}
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(ifc, &net.UDPAddr{IP: gaddr.IP}); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "join %s", gaddr)
	}
	// 设置组播TTL
	if err := pc.SetMulticastTTL(UDP_TTL_VALUE); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "multicast ttl")
	}
	// 禁用组播回环（本机不接收自己发送的组播包）
	if err := pc.SetMulticastLoopback(false); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "multicast loopback")
	}
	if ifc != nil {
		if err := pc.SetMulticastInterface(ifc); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "multicast interface")
		}
	}
	// 需要目的地址来区分单播和组播
	if err := pc.SetControlMessage(ipv4.FlagDst, true); err != nil {
		log.Warnf("[L2] udp %s: no destination control messages: %v", listen, err)
	}

	if mtu <= 0 || mtu > UDP_MTU {
		mtu = UDP_MTU
	}
	la := conn.LocalAddr().(*net.UDPAddr)
	u := &UDP{
		conn:  conn,
		pc:    pc,
		group: gaddr,
		local: UDPAddr{IP: la.IP, Port: la.Port},
		mtu:   mtu,
	}
	log.Infof("[L2] udp %s ready: group=%s mtu=%d", u.local, gaddr, mtu)
	return u, nil
}

func (u *UDP) Send(dst Addr, data []byte) (int, error) {
	a, ok := dst.(UDPAddr)
	if !ok {
		return 0, ErrAddrType
	}
	if len(data) > u.mtu {
		return 0, ErrTooLarge
	}
	if u.closed.Load() {
		return 0, ErrClosed
	}
	n, err := u.conn.WriteToUDP(data, a.udp())
	if err != nil {
		return n, errors.Wrapf(err, "udp send to %s", a)
	}
	return n, nil
}

func (u *UDP) Recv() (Addr, []byte, PacketType, bool, error) {
	buf := make([]byte, UDP_READ_MAX)
	n, cm, src, err := u.pc.ReadFrom(buf)
	if err != nil {
		if u.closed.Load() {
			return nil, nil, PktNone, false, ErrClosed
		}
		return nil, nil, PktNone, false, errors.Wrap(err, "udp recv")
	}
	ua, ok := src.(*net.UDPAddr)
	if !ok {
		return nil, nil, PktNone, false, nil
	}
	pt := PktMe
	if cm != nil && cm.Dst != nil && (cm.Dst.IsMulticast() || cm.Dst.Equal(net.IPv4bcast)) {
		pt = PktBcast
	}
	return UDPAddr{IP: ua.IP.To4(), Port: ua.Port}, buf[:n], pt, n == len(buf), nil
}

func (u *UDP) Broadcast() Addr           { return u.group }
func (u *UDP) MTU() int                  { return u.mtu }
func (u *UDP) MaxLatency() time.Duration { return UDP_MAX_LATENCY }

// LocalAddr 实际绑定的地址
func (u *UDP) LocalAddr() UDPAddr { return u.local }

func (u *UDP) ParseAddr(s string) (Addr, error) {
	a, err := ParseUDPAddr(s)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (u *UDP) String() string {
	return fmt.Sprintf("udp %s group=%s mtu=%d", u.local, u.group, u.mtu)
}

func (u *UDP) Close() error {
	if !u.closed.CAS(false, true) {
		return nil
	}
	return u.conn.Close()
}
