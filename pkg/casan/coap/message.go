package coap

import (
	"bytes"
	"fmt"
	"strings"
)

// Message 一条协议消息。修改任何字段都会使缓存的线上编码失效
type Message struct {
	typ       MsgType
	code      Code
	id        uint16
	token     []byte
	options   []Option
	payload   []byte
	truncated bool

	raw []byte // 最近一次编码或解码得到的字节
}

// NewMessage 创建指定类型和代码的空消息
func NewMessage(t MsgType, c Code) *Message {
	return &Message{typ: t, code: c}
}

func (m *Message) Type() MsgType    { return m.typ }
func (m *Message) Code() Code       { return m.code }
func (m *Message) ID() uint16       { return m.id }
func (m *Message) Token() []byte    { return m.token }
func (m *Message) Payload() []byte  { return m.payload }
func (m *Message) Truncated() bool  { return m.truncated }
func (m *Message) invalidate()      { m.raw = nil }
func (m *Message) HasPayload() bool { return len(m.payload) > 0 }

func (m *Message) SetType(t MsgType) {
	m.typ = t
	m.invalidate()
}

func (m *Message) SetCode(c Code) {
	m.code = c
	m.invalidate()
}

func (m *Message) SetID(id uint16) {
	m.id = id
	m.invalidate()
}

func (m *Message) SetToken(tok []byte) error {
	if len(tok) > maxTokenLen {
		return ErrTokenTooLong
	}
	m.token = append([]byte(nil), tok...)
	m.invalidate()
	return nil
}

func (m *Message) SetPayload(p []byte) {
	m.payload = append([]byte(nil), p...)
	m.invalidate()
}

// Options 返回按编号排序的选项副本
func (m *Message) Options() []Option {
	out := make([]Option, len(m.options))
	copy(out, m.options)
	return out
}

// AddOption 插入选项，保持按编号排序；编号和值都相同的选项只保留一个
func (m *Message) AddOption(o Option) {
	i := len(m.options)
	for j, p := range m.options {
		if p.Equal(o) {
			return
		}
		if p.Code > o.Code {
			i = j
			break
		}
	}
	m.options = append(m.options, Option{})
	copy(m.options[i+1:], m.options[i:])
	m.options[i] = o
	m.invalidate()
}

// RemoveOptions 删除所有指定编号的选项
func (m *Message) RemoveOptions(code OptionCode) {
	kept := m.options[:0]
	for _, o := range m.options {
		if o.Code != code {
			kept = append(kept, o)
		}
	}
	m.options = kept
	m.invalidate()
}

// Option 返回第一个指定编号的选项
func (m *Message) Option(code OptionCode) (Option, bool) {
	for _, o := range m.options {
		if o.Code == code {
			return o, true
		}
	}
	return Option{}, false
}

// OptionValues 所有指定编号选项的字符串值，保持顺序
func (m *Message) OptionValues(code OptionCode) []string {
	var vals []string
	for _, o := range m.options {
		if o.Code == code {
			vals = append(vals, string(o.Value))
		}
	}
	return vals
}

func (m *Message) Path() []string    { return m.OptionValues(OptUriPath) }
func (m *Message) Queries() []string { return m.OptionValues(OptUriQuery) }

// MaxAge 返回Max-Age选项（秒）
func (m *Message) MaxAge() (uint64, bool) {
	o, ok := m.Option(OptMaxAge)
	if !ok {
		return 0, false
	}
	return o.Uint(), true
}

// Raw 返回缓存的线上字节，尚未编码时为nil
func (m *Message) Raw() []byte {
	return m.raw
}

// Equal 比较类型、代码、ID、Token、选项集合和负载
func (m *Message) Equal(n *Message) bool {
	if m == nil || n == nil {
		return m == n
	}
	if m.typ != n.typ || m.code != n.code || m.id != n.id {
		return false
	}
	if !bytes.Equal(m.token, n.token) || !bytes.Equal(m.payload, n.payload) {
		return false
	}
	return sameOptions(m.options, n.options, false)
}

// CacheKeyEqual 两个选项列表在忽略非缓存键选项后是否相同
func CacheKeyEqual(a, b []Option) bool {
	return sameOptions(a, b, true)
}

func sameOptions(a, b []Option, skipNoCacheKey bool) bool {
	x := filterSorted(a, skipNoCacheKey)
	y := filterSorted(b, skipNoCacheKey)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if !x[i].Equal(y[i]) {
			return false
		}
	}
	return true
}

func filterSorted(opts []Option, skipNoCacheKey bool) []Option {
	out := make([]Option, 0, len(opts))
	for _, o := range opts {
		if skipNoCacheKey && o.Code.NoCacheKey() {
			continue
		}
		out = append(out, o)
	}
	SortOptions(out)
	return out
}

func (m *Message) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s id=%d", m.typ, m.code, m.id)
	if len(m.token) > 0 {
		fmt.Fprintf(&sb, " tok=%x", m.token)
	}
	for _, o := range m.options {
		sb.WriteString(" ")
		sb.WriteString(o.String())
	}
	if len(m.payload) > 0 {
		fmt.Fprintf(&sb, " payload=%dB", len(m.payload))
	}
	if m.truncated {
		sb.WriteString(" (truncated)")
	}
	return sb.String()
}
