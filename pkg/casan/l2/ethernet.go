package l2

import (
	"encoding/binary"
	"time"
)

const (
	ETH_TYPE_CASAN  = 0x88b5
	ETH_MTU         = 1500
	ETH_READ_MAX    = 2000
	ETH_MAX_LATENCY = 50 * time.Millisecond

	// 以太网最短帧会补零，负载前加2字节长度（含自身）
	ethLenPrefix    = 2
	ethPollInterval = 500 * time.Millisecond
)

func frameWithLength(data []byte) []byte {
	b := make([]byte, ethLenPrefix+len(data))
	binary.BigEndian.PutUint16(b, uint16(len(data)+ethLenPrefix))
	copy(b[ethLenPrefix:], data)
	return b
}

// stripLength 去掉长度前缀。声明长度超过实际收到的字节时报告截断
func stripLength(frame []byte) (data []byte, truncated bool, ok bool) {
	if len(frame) < ethLenPrefix {
		return nil, false, false
	}
	l := int(binary.BigEndian.Uint16(frame))
	if l < ethLenPrefix {
		return nil, false, false
	}
	if l > len(frame) {
		return frame[ethLenPrefix:], true, true
	}
	return frame[ethLenPrefix:l], false, true
}
