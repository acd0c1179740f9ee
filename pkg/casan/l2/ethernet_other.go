//go:build !linux

package l2

import "time"

// Ethernet 仅在linux上可用
type Ethernet struct{}

func OpenEthernet(ifname string, mtu int, ethtype uint16) (*Ethernet, error) {
	return nil, ErrUnsupported
}

func (e *Ethernet) Send(dst Addr, data []byte) (int, error) { return 0, ErrUnsupported }
func (e *Ethernet) Recv() (Addr, []byte, PacketType, bool, error) {
	return nil, nil, PktNone, false, ErrUnsupported
}
func (e *Ethernet) Broadcast() Addr                  { return EthBroadcast }
func (e *Ethernet) MTU() int                         { return 0 }
func (e *Ethernet) MaxLatency() time.Duration        { return ETH_MAX_LATENCY }
func (e *Ethernet) ParseAddr(s string) (Addr, error) { return ParseEthAddr(s) }
func (e *Ethernet) String() string                   { return "ethernet (unsupported)" }
func (e *Ethernet) Close() error                     { return nil }
