//go:build linux

package l2

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	log "github.com/junbin-yang/casan-go/pkg/utils/logger"
)

// Ethernet 基于AF_PACKET的原始以太网链路
type Ethernet struct {
	iface   *net.Interface
	ethtype uint16
	mtu     int
	fd      int
	closed  atomic.Bool
	fdmu    sync.RWMutex // 读写持有读锁，Close持有写锁后才关闭fd
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// ethertypeFilter 只接受指定以太网类型的BPF程序
func ethertypeFilter(ethtype uint16) ([]unix.SockFilter, error) {
	raw, err := bpf.Assemble([]bpf.Instruction{
		bpf.LoadExtension{Num: bpf.ExtProto},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(ethtype), SkipFalse: 1},
		bpf.RetConstant{Val: 0x40000},
		bpf.RetConstant{Val: 0},
	})
	if err != nil {
		return nil, err
	}
	prog := make([]unix.SockFilter, len(raw))
	for i, ri := range raw {
		prog[i] = unix.SockFilter{Code: ri.Op, Jt: ri.Jt, Jf: ri.Jf, K: ri.K}
	}
	return prog, nil
}

// OpenEthernet 打开网卡上的原始套接字。mtu和ethtype为0时使用默认值
func OpenEthernet(ifname string, mtu int, ethtype uint16) (*Ethernet, error) {
	ifc, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, errors.Wrapf(err, "interface %s", ifname)
	}
	if ethtype == 0 {
		ethtype = ETH_TYPE_CASAN
	}
	if mtu <= 0 || mtu > ETH_MTU {
		mtu = ETH_MTU
	}
	if ifc.MTU > 0 && mtu > ifc.MTU-ethLenPrefix {
		mtu = ifc.MTU - ethLenPrefix
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, int(htons(ethtype)))
	if err != nil {
		return nil, errors.Wrap(err, "packet socket")
	}
	e := &Ethernet{iface: ifc, ethtype: ethtype, mtu: mtu, fd: fd}

	sll := &unix.SockaddrLinklayer{Protocol: htons(ethtype), Ifindex: ifc.Index}
	if err := unix.Bind(fd, sll); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "bind %s", ifname)
	}
	prog, err := ethertypeFilter(ethtype)
	if err == nil {
		err = unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER,
			&unix.SockFprog{Len: uint16(len(prog)), Filter: &prog[0]})
	}
	if err != nil {
		log.Warnf("[L2] %s: cannot attach ethertype filter: %v", ifname, err)
	}
	// 读超时用于检查关闭状态
	tv := unix.NsecToTimeval(int64(ethPollInterval))
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "SO_RCVTIMEO")
	}

	log.Infof("[L2] ethernet %s ready: ethertype=%#04x mtu=%d", ifname, ethtype, mtu)
	return e, nil
}

func (e *Ethernet) Send(dst Addr, data []byte) (int, error) {
	a, ok := dst.(EthAddr)
	if !ok {
		return 0, ErrAddrType
	}
	if len(data) > e.mtu {
		return 0, ErrTooLarge
	}
	e.fdmu.RLock()
	defer e.fdmu.RUnlock()
	if e.closed.Load() {
		return 0, ErrClosed
	}
	sll := &unix.SockaddrLinklayer{
		Protocol: htons(e.ethtype),
		Ifindex:  e.iface.Index,
		Halen:    uint8(len(a)),
	}
	copy(sll.Addr[:], a[:])
	if err := unix.Sendto(e.fd, frameWithLength(data), 0, sll); err != nil {
		return 0, errors.Wrapf(err, "sendto %s", a)
	}
	return len(data), nil
}

func (e *Ethernet) Recv() (Addr, []byte, PacketType, bool, error) {
	buf := make([]byte, ETH_READ_MAX)
	for {
		n, from, err := e.recvfrom(buf)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err != nil {
			if e.closed.Load() {
				return nil, nil, PktNone, false, ErrClosed
			}
			return nil, nil, PktNone, false, errors.Wrap(err, "recvfrom")
		}
		sll, ok := from.(*unix.SockaddrLinklayer)
		if !ok {
			continue
		}
		var src EthAddr
		copy(src[:], sll.Addr[:len(src)])

		pt := PktNone
		switch sll.Pkttype {
		case unix.PACKET_HOST:
			pt = PktMe
		case unix.PACKET_BROADCAST, unix.PACKET_MULTICAST:
			pt = PktBcast
		}
		data, truncated, ok := stripLength(buf[:n])
		if !ok {
			return src, nil, PktNone, false, nil
		}
		return src, data, pt, truncated, nil
	}
}

// recvfrom 在读锁内检查关闭状态再读，保证fd在读期间不会被关闭
func (e *Ethernet) recvfrom(buf []byte) (int, unix.Sockaddr, error) {
	e.fdmu.RLock()
	defer e.fdmu.RUnlock()
	if e.closed.Load() {
		return 0, nil, ErrClosed
	}
	return unix.Recvfrom(e.fd, buf, 0)
}

func (e *Ethernet) Broadcast() Addr           { return EthBroadcast }
func (e *Ethernet) MTU() int                  { return e.mtu }
func (e *Ethernet) MaxLatency() time.Duration { return ETH_MAX_LATENCY }

func (e *Ethernet) ParseAddr(s string) (Addr, error) {
	a, err := ParseEthAddr(s)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (e *Ethernet) String() string {
	return fmt.Sprintf("ethernet %s ethertype=%#04x mtu=%d", e.iface.Name, e.ethtype, e.mtu)
}

func (e *Ethernet) Close() error {
	if !e.closed.CAS(false, true) {
		return nil
	}
	// 等待进行中的读（最多一个SO_RCVTIMEO周期）结束
	e.fdmu.Lock()
	defer e.fdmu.Unlock()
	return unix.Close(e.fd)
}
