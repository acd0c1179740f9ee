package coap

import (
	"encoding/binary"
	"fmt"
)

// 写缓冲区
type writeBuffer struct {
	buf []byte
}

func (w *writeBuffer) writeByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *writeBuffer) writeBytes(data []byte) {
	w.buf = append(w.buf, data...)
}

// 把delta或length拆成半字节和扩展字节
func splitNibble(v int) (uint8, []byte) {
	switch {
	case v < ext1Base:
		return uint8(v), nil
	case v < ext2Base: // 13 <= v <= 268
		return nibbleExt1, []byte{uint8(v - ext1Base)}
	default: // v >= 269
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(v-ext2Base))
		return nibbleExt2, ext
	}
}

// Encode 编码消息，结果缓存到下一次修改
func (m *Message) Encode() ([]byte, error) {
	if m.raw != nil {
		return m.raw, nil
	}
	if len(m.token) > maxTokenLen {
		return nil, ErrTokenTooLong
	}

	w := &writeBuffer{buf: make([]byte, 0, headerSize+len(m.token)+len(m.payload)+16)}

	// 头部：版本+类型+Token长度、代码、消息ID
	w.writeByte(VERSION<<6 | uint8(m.typ)&0x03<<4 | uint8(len(m.token)))
	w.writeByte(byte(m.code))
	var id [2]byte
	binary.BigEndian.PutUint16(id[:], m.id)
	w.writeBytes(id[:])
	w.writeBytes(m.token)

	// 选项必须按编号升序，否则delta为负
	opts := m.Options()
	SortOptions(opts)
	prev := 0
	for _, o := range opts {
		if len(o.Value) > maxOptionLen {
			return nil, fmt.Errorf("%w: %s", ErrOptionTooLong, o.Code)
		}
		deltaNib, deltaExt := splitNibble(int(o.Code) - prev)
		lenNib, lenExt := splitNibble(len(o.Value))

		w.writeByte(deltaNib<<4 | lenNib)
		w.writeBytes(deltaExt)
		w.writeBytes(lenExt)
		w.writeBytes(o.Value)
		prev = int(o.Code)
	}

	if len(m.payload) > 0 {
		w.writeByte(payloadMarker)
		w.writeBytes(m.payload)
	}

	m.raw = w.buf
	return m.raw, nil
}

// Decode 解析线上字节。truncated为true表示链路层报告了截断：
// 只解析头部和Token，消息标记为截断
func Decode(buf []byte, truncated bool) (*Message, error) {
	if len(buf) < headerSize {
		return nil, ErrShortHeader
	}

	// 第一字节：高2位版本，中2位类型，低4位Token长度
	if buf[0]>>6&0x03 != VERSION {
		return nil, ErrBadVersion
	}
	m := &Message{
		typ:  MsgType(buf[0] >> 4 & 0x03),
		code: Code(buf[1]),
		id:   binary.BigEndian.Uint16(buf[2:4]),
	}
	tokLen := int(buf[0] & 0x0F)
	if tokLen > maxTokenLen || headerSize+tokLen > len(buf) {
		return nil, ErrBadToken
	}
	if tokLen > 0 {
		m.token = append([]byte(nil), buf[headerSize:headerSize+tokLen]...)
	}

	if truncated {
		m.truncated = true
	} else if err := parseOptionsAndPayload(m, buf, headerSize+tokLen); err != nil {
		return nil, err
	}

	m.raw = append([]byte(nil), buf...)
	return m, nil
}

// 读取扩展delta或length
func readExt(nib uint8, buf []byte, offset int) (int, int, error) {
	switch nib {
	case nibbleExt1:
		if offset >= len(buf) {
			return 0, offset, ErrShortBuffer
		}
		return ext1Base + int(buf[offset]), offset + 1, nil
	case nibbleExt2:
		if offset+1 >= len(buf) {
			return 0, offset, ErrShortBuffer
		}
		return ext2Base + int(binary.BigEndian.Uint16(buf[offset:offset+2])), offset + 2, nil
	case nibbleReserve:
		return 0, offset, ErrReservedNibble
	}
	return int(nib), offset, nil
}

// 解析选项和负载
func parseOptionsAndPayload(m *Message, buf []byte, offset int) error {
	prev := 0
	for offset < len(buf) {
		// payload marker
		if buf[offset] == payloadMarker {
			offset++
			if offset >= len(buf) {
				return ErrEmptyPayload
			}
			m.payload = append([]byte(nil), buf[offset:]...)
			return nil
		}

		h := buf[offset]
		offset++

		delta, next, err := readExt(h>>4&0x0F, buf, offset)
		if err != nil {
			return err
		}
		offset = next
		l, next, err := readExt(h&0x0F, buf, offset)
		if err != nil {
			return err
		}
		offset = next

		if offset+l > len(buf) {
			return ErrShortBuffer
		}
		code := prev + delta
		if code > 0xFFFF {
			return ErrOptionCode
		}
		prev = code
		m.options = append(m.options, Option{
			Code:  OptionCode(code),
			Value: append([]byte(nil), buf[offset:offset+l]...),
		})
		offset += l
	}
	return nil
}
