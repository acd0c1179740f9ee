package l2

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	log "github.com/junbin-yang/casan-go/pkg/utils/logger"
)

const (
	XBEE_MAX_LATENCY = 5 * time.Millisecond
	XBEE_BAUDRATE    = 9600
	XBEE_MIN_CHANNEL = 11
	XBEE_MAX_CHANNEL = 26

	atGuardDefault  = 200 * time.Millisecond
	atMaxEmptyReads = 50
)

// XBeeConfig 无线接口参数
type XBeeConfig struct {
	Addr     XBeeAddr
	PanID    XBeeAddr
	Channel  int
	MTU      int // 0 表示默认值
	MinFrame int
	MaxFrame int

	// AT 初始化命令，可引用 ${addr} ${panid} ${channel}；为空时使用默认序列
	AT       []string
	ATGuard  time.Duration
	SkipInit bool
}

// XBee 通过串口连接的802.15.4无线模块（API模式）
type XBee struct {
	name   string
	port   io.ReadWriteCloser
	cfg    XBeeConfig
	mtu    int
	framer *Framer

	rmu  sync.Mutex // 保护framer和rbuf
	rbuf []byte
	wmu  sync.Mutex

	closed   atomic.Bool
	txFailed atomic.Uint32
}

// DefaultATCommands 进入API模式的默认命令序列
func DefaultATCommands() []string {
	return []string{
		"+++",
		"ATRE",
		"ATMY${addr}",
		"ATID${panid}",
		"ATCH${channel}",
		"ATMM2",
		"ATAP1",
		"ATCN",
	}
}

// OpenXBee 打开串口设备并初始化模块
func OpenXBee(dev string, cfg XBeeConfig) (*XBee, error) {
	if !strings.HasPrefix(dev, "/dev") {
		dev = "/dev/" + dev
	}
	port, err := OpenSerial(dev, XBEE_BAUDRATE)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dev)
	}
	x, err := NewXBee(dev, port, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	return x, nil
}

// NewXBee 在已打开的字节流上构造无线链路
func NewXBee(name string, port io.ReadWriteCloser, cfg XBeeConfig) (*XBee, error) {
	if cfg.Channel < XBEE_MIN_CHANNEL || cfg.Channel > XBEE_MAX_CHANNEL {
		return nil, fmt.Errorf("%w: %d", ErrChannel, cfg.Channel)
	}
	mtu := cfg.MTU
	if mtu <= 0 || mtu > XBEE_PAYLOAD_MTU {
		mtu = XBEE_PAYLOAD_MTU
	}
	if cfg.ATGuard == 0 {
		cfg.ATGuard = atGuardDefault
	}
	x := &XBee{
		name:   name,
		port:   port,
		cfg:    cfg,
		mtu:    mtu,
		framer: NewFramer(cfg.MinFrame, cfg.MaxFrame),
		rbuf:   make([]byte, XBEE_READ_MAX),
	}
	x.framer.OnTxStatus = x.onTxStatus

	if !cfg.SkipInit {
		if err := x.initAT(); err != nil {
			return nil, err
		}
	}
	log.Infof("[L2] xbee %s ready: addr=%s pan=%s channel=%d mtu=%d", name, cfg.Addr, cfg.PanID, cfg.Channel, mtu)
	return x, nil
}

func (x *XBee) expand(cmd string) string {
	return os.Expand(cmd, func(v string) string {
		switch v {
		case "addr":
			return fmt.Sprintf("%04x", x.cfg.Addr.Uint16())
		case "panid":
			return fmt.Sprintf("%04x", x.cfg.PanID.Uint16())
		case "channel":
			return strconv.FormatInt(int64(x.cfg.Channel), 16)
		}
		return ""
	})
}

// initAT 依次发送AT命令，每条都要等到OK
func (x *XBee) initAT() error {
	cmds := x.cfg.AT
	if len(cmds) == 0 {
		cmds = DefaultATCommands()
	}
	for _, c := range cmds {
		line := x.expand(c)
		escape := line == "+++"
		if !escape {
			line += "\r"
		}
		if escape {
			time.Sleep(x.cfg.ATGuard)
		}
		if err := x.atCommand(line); err != nil {
			return err
		}
		if escape {
			time.Sleep(x.cfg.ATGuard)
		}
	}
	return nil
}

func (x *XBee) atCommand(line string) error {
	if err := x.writeAll([]byte(line)); err != nil {
		return errors.Wrapf(err, "AT %q", strings.TrimSpace(line))
	}
	var reply []byte
	empty := 0
	for {
		n, err := x.port.Read(x.rbuf)
		if err != nil {
			return errors.Wrapf(err, "AT %q", strings.TrimSpace(line))
		}
		if n == 0 {
			empty++
			if empty > atMaxEmptyReads {
				return errors.Wrapf(ErrATCommand, "AT %q: no answer", strings.TrimSpace(line))
			}
			continue
		}
		reply = append(reply, x.rbuf[:n]...)
		for {
			i := bytes.IndexByte(reply, '\r')
			if i < 0 {
				break
			}
			answer := string(reply[:i])
			reply = reply[i+1:]
			switch {
			case strings.HasSuffix(answer, "OK"):
				log.Debugf("[L2] xbee %s: %q -> OK", x.name, strings.TrimSpace(line))
				return nil
			case strings.HasSuffix(answer, "ERROR"):
				return errors.Wrapf(ErrATCommand, "AT %q", strings.TrimSpace(line))
			}
		}
	}
}

func (x *XBee) onTxStatus(frameID, status byte) {
	if status != 0 {
		x.txFailed.Inc()
		log.Debugf("[L2] xbee %s: frame %#x tx status %d", x.name, frameID, status)
	}
}

// TxFailures 模块报告发送失败的次数
func (x *XBee) TxFailures() uint32 { return x.txFailed.Load() }

// 写出完整数据，部分写入时继续写剩余部分
func (x *XBee) writeAll(b []byte) error {
	x.wmu.Lock()
	defer x.wmu.Unlock()
	for len(b) > 0 {
		n, err := x.port.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

func (x *XBee) Send(dst Addr, data []byte) (int, error) {
	a, ok := dst.(XBeeAddr)
	if !ok {
		return 0, ErrAddrType
	}
	if len(data) > x.mtu {
		return 0, ErrTooLarge
	}
	if x.closed.Load() {
		return 0, ErrClosed
	}
	if err := x.writeAll(EncodeFrame(XBEE_FRAME_ID, a, data)); err != nil {
		return 0, errors.Wrapf(err, "xbee %s write", x.name)
	}
	return len(data), nil
}

// Recv 先取已解出的记录，没有时再阻塞读串口
func (x *XBee) Recv() (Addr, []byte, PacketType, bool, error) {
	x.rmu.Lock()
	defer x.rmu.Unlock()
	for {
		if r, ok := x.framer.Next(); ok {
			return r.Src, r.Data, r.Type, false, nil
		}
		if x.closed.Load() {
			return nil, nil, PktNone, false, ErrClosed
		}
		n, err := x.port.Read(x.rbuf)
		if err != nil {
			if x.closed.Load() || err == io.EOF {
				return nil, nil, PktNone, false, ErrClosed
			}
			return nil, nil, PktNone, false, errors.Wrapf(err, "xbee %s read", x.name)
		}
		if x.closed.Load() {
			return nil, nil, PktNone, false, ErrClosed
		}
		x.framer.Feed(x.rbuf[:n])
	}
}

func (x *XBee) Broadcast() Addr           { return XBeeBroadcast }
func (x *XBee) MTU() int                  { return x.mtu }
func (x *XBee) MaxLatency() time.Duration { return XBEE_MAX_LATENCY }
func (x *XBee) ParseAddr(s string) (Addr, error) {
	a, err := ParseXBeeAddr(s)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (x *XBee) String() string {
	return fmt.Sprintf("802.15.4/xbee %s addr=%s pan=%s channel=%d mtu=%d", x.name, x.cfg.Addr, x.cfg.PanID, x.cfg.Channel, x.mtu)
}

func (x *XBee) Close() error {
	if !x.closed.CAS(false, true) {
		return nil
	}
	return x.port.Close()
}
