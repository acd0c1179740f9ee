package engine

import (
	"fmt"
	"time"

	"github.com/junbin-yang/casan-go/pkg/casan/coap"
	"github.com/junbin-yang/casan-go/pkg/casan/l2"
)

// Msg 引擎中流转的消息：协议消息加上发送和关联信息
type Msg struct {
	*coap.Message
	Peer l2.Addr

	net         *network
	ntrans      int           // 已发送次数
	timeout     time.Duration // 当前重传间隔
	nextTimeout time.Time     // 下次重传时刻
	expire      time.Time     // 过期后从待发队列删除
	reqRep      *Msg          // 请求对应的应答或应答对应的请求
	waiter      *Waiter
	category    Category
	pktType     l2.PacketType
	fixedID     bool // 应答沿用对方的消息ID
}

func NewMsg(m *coap.Message) *Msg {
	return &Msg{Message: m}
}

// Reply 已关联的另一半；只能在引擎内或Waiter被唤醒之后读取
func (m *Msg) Reply() *Msg {
	return m.reqRep
}

// SetWaiter 应答到达或消息过期时唤醒w
func (m *Msg) SetWaiter(w *Waiter) {
	m.waiter = w
}

func (m *Msg) Network() string {
	if m.net == nil {
		return ""
	}
	return m.net.name
}

func (m *Msg) Expire() time.Time { return m.expire }

func (m *Msg) Transmissions() int { return m.ntrans }

func (m *Msg) Category() Category { return m.category }

func (m *Msg) wakeup() {
	if m.waiter != nil {
		m.waiter.Wakeup()
	}
}

// link 建立请求和应答之间的双向关联
func link(req, rep *Msg) {
	req.reqRep = rep
	rep.reqRep = req
}

func (m *Msg) String() string {
	peer := "-"
	if m.Peer != nil {
		peer = m.Peer.String()
	}
	return fmt.Sprintf("%s peer=%s", m.Message, peer)
}
