package engine

import "time"

// 协议时间参数默认值
const (
	ACK_TIMEOUT       = 2 * time.Second
	ACK_RANDOM_FACTOR = 1.5
	MAX_RETRANSMIT    = 4
)

// Timing 重传相关参数，其余时间常量由它推导
type Timing struct {
	AckTimeout    time.Duration
	MaxRetransmit int
}

func DefaultTiming() Timing {
	return Timing{AckTimeout: ACK_TIMEOUT, MaxRetransmit: MAX_RETRANSMIT}
}

func (t Timing) withDefaults() Timing {
	if t.AckTimeout <= 0 {
		t.AckTimeout = ACK_TIMEOUT
	}
	if t.MaxRetransmit <= 0 {
		t.MaxRetransmit = MAX_RETRANSMIT
	}
	return t
}

// MaxTransmissions 一条CON消息最多发送的次数
func (t Timing) MaxTransmissions() int {
	return t.MaxRetransmit + 1
}

// ACK_TIMEOUT * (2^MAX_RETRANSMIT - 1) * ACK_RANDOM_FACTOR
func (t Timing) MaxTransmitSpan() time.Duration {
	return time.Duration(float64(t.AckTimeout) * float64(int(1)<<uint(t.MaxRetransmit)-1) * ACK_RANDOM_FACTOR)
}

func (t Timing) ProcessingDelay() time.Duration {
	return t.AckTimeout
}

func (t Timing) MaxRTT(lat time.Duration) time.Duration {
	return 2*lat + t.ProcessingDelay()
}

func (t Timing) ExchangeLifetime(lat time.Duration) time.Duration {
	return t.MaxTransmitSpan() + 2*lat + t.ProcessingDelay()
}

func (t Timing) NonLifetime(lat time.Duration) time.Duration {
	return t.MaxTransmitSpan() + lat
}
