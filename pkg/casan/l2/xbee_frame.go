package l2

import "bytes"

// XBee API帧常量
const (
	XBEE_START       = 0x7E
	XBEE_TX_SHORT    = 0x01 // 16位地址发送命令
	XBEE_FRAME_ID    = 0x41
	XBEE_FT_TX_STAT  = 0x89
	XBEE_FT_RX_LONG  = 0x80
	XBEE_FT_RX_SHORT = 0x81
	XBEE_OPT_BCAST   = 0x02

	XBEE_HEADER_SIZE    = 9
	XBEE_FCS_SIZE       = 2
	XBEE_PAYLOAD_MTU    = 100
	XBEE_MTU            = XBEE_PAYLOAD_MTU + XBEE_HEADER_SIZE + XBEE_FCS_SIZE
	XBEE_MIN_FRAME_SIZE = 5
	XBEE_MAX_FRAME_SIZE = 115
	XBEE_READ_MAX       = 1000

	xbeeOverhead = 4 // 起始符 + 2字节长度 + 校验和
)

// RadioRecord 从一个有效RX帧中解出的记录
type RadioRecord struct {
	Src  XBeeAddr
	RSSI uint8
	Type PacketType
	Data []byte
}

// Framer 把串口读到的任意字节块重组为校验通过的XBee帧
type Framer struct {
	MinFrame int
	MaxFrame int

	// OnTxStatus 收到发送状态帧时回调，可为空
	OnTxStatus func(frameID, status byte)

	buf     []byte
	records []RadioRecord
}

// NewFramer 参数为0时使用默认帧长度范围
func NewFramer(minFrame, maxFrame int) *Framer {
	if minFrame < 3 {
		minFrame = XBEE_MIN_FRAME_SIZE
	}
	if maxFrame <= 0 {
		maxFrame = XBEE_MAX_FRAME_SIZE
	}
	return &Framer{MinFrame: minFrame, MaxFrame: maxFrame}
}

// xbeeChecksum 计算长度字段之后、校验和之前所有字节的校验和
func xbeeChecksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum += b
	}
	return 0xFF - sum
}

// EncodeFrame 构造一个16位地址的发送帧
func EncodeFrame(frameID byte, dst XBeeAddr, data []byte) []byte {
	dlen := 5 + len(data)
	b := make([]byte, 0, dlen+xbeeOverhead)
	b = append(b, XBEE_START, byte(dlen>>8), byte(dlen))
	b = append(b, XBEE_TX_SHORT, frameID, dst[1], dst[0], 0)
	b = append(b, data...)
	return append(b, xbeeChecksum(b[3:]))
}

// Feed 追加新读到的字节并解出所有完整帧
func (f *Framer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
	for {
		frame, ok := f.nextFrame()
		if !ok {
			return
		}
		f.dispatch(frame)
	}
}

// Next 弹出最早的一条记录
func (f *Framer) Next() (RadioRecord, bool) {
	if len(f.records) == 0 {
		return RadioRecord{}, false
	}
	r := f.records[0]
	f.records = f.records[1:]
	return r, true
}

// Buffered 尚未消费的字节数
func (f *Framer) Buffered() int { return len(f.buf) }

// 丢弃前n个字节，剩余数据前移
func (f *Framer) consume(n int) {
	used := len(f.buf) - n
	copy(f.buf, f.buf[n:])
	f.buf = f.buf[:used]
}

// nextFrame 返回下一个有效帧的帧数据（不含起始符、长度和校验和）
func (f *Framer) nextFrame() ([]byte, bool) {
	for {
		start := bytes.IndexByte(f.buf, XBEE_START)
		if start < 0 {
			f.buf = f.buf[:0]
			return nil, false
		}
		if start > 0 {
			f.consume(start)
		}
		if len(f.buf) < f.MinFrame {
			return nil, false
		}

		framelen := int(f.buf[1])<<8 | int(f.buf[2])
		if framelen > f.MaxFrame {
			// 起始符是假的，跳过后重新同步
			f.consume(1)
			continue
		}
		pktlen := framelen + xbeeOverhead
		if pktlen > len(f.buf) {
			return nil, false
		}
		if xbeeChecksum(f.buf[3:pktlen-1]) != f.buf[pktlen-1] {
			f.consume(1)
			continue
		}

		frame := append([]byte(nil), f.buf[3:3+framelen]...)
		f.consume(pktlen)
		return frame, true
	}
}

func (f *Framer) dispatch(frame []byte) {
	if len(frame) == 0 {
		return
	}
	switch frame[0] {
	case XBEE_FT_TX_STAT:
		if len(frame) >= 3 && f.OnTxStatus != nil {
			f.OnTxStatus(frame[1], frame[2])
		}
	case XBEE_FT_RX_SHORT:
		if len(frame) < 5 {
			return
		}
		r := RadioRecord{
			Src:  XBeeAddr{frame[2], frame[1]},
			RSSI: frame[3],
			Type: PktMe,
			Data: frame[5:],
		}
		if frame[4]&XBEE_OPT_BCAST != 0 {
			r.Type = PktBcast
		}
		f.records = append(f.records, r)
	}
	// RX_LONG 帧不使用
}
