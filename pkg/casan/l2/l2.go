// Package l2 实现网关使用的链路层：以太网原始帧、XBee串口无线和UDP。
package l2

import (
	"errors"
	"time"
)

// 收到的帧相对本机的分类
type PacketType uint8

const (
	PktNone  PacketType = iota // 不是发给本机的
	PktMe                      // 单播给本机
	PktBcast                   // 广播或组播
)

func (p PacketType) String() string {
	switch p {
	case PktMe:
		return "me"
	case PktBcast:
		return "bcast"
	}
	return "none"
}

// Transport 所有链路层共同的能力
type Transport interface {
	// Send 把data发往dst，返回写出的字节数
	Send(dst Addr, data []byte) (int, error)
	// Recv 阻塞直到收到一帧。truncated为true表示链路层截断了数据
	Recv() (src Addr, data []byte, pt PacketType, truncated bool, err error)
	Broadcast() Addr
	MTU() int
	MaxLatency() time.Duration
	ParseAddr(s string) (Addr, error)
	Close() error
	String() string
}

var (
	ErrClosed      = errors.New("l2: transport closed")
	ErrUnsupported = errors.New("l2: transport not supported on this platform")
	ErrAddrType    = errors.New("l2: address belongs to another transport")
	ErrAddrSyntax  = errors.New("l2: malformed address")
	ErrTooLarge    = errors.New("l2: frame larger than MTU")
	ErrNoFrame     = errors.New("l2: no frame available")
	ErrATCommand   = errors.New("l2: radio rejected AT command")
	ErrChannel     = errors.New("l2: radio channel out of range")
)
