package engine

import (
	"strings"
	"time"

	"github.com/junbin-yang/casan-go/pkg/casan/l2"
	log "github.com/junbin-yang/casan-go/pkg/utils/logger"
)

// SlaveStatus 从机关联状态
type SlaveStatus uint8

const (
	StatusInactive SlaveStatus = iota
	StatusRunning
)

func (s SlaveStatus) String() string {
	if s == StatusRunning {
		return "running"
	}
	return "inactive"
}

// Slave 配置中声明的一个从机，只由引擎的调度协程修改
type Slave struct {
	SID    int64
	TTL    time.Duration
	MaxMTU int // 配置的MTU上限，0表示不限制

	status    SlaveStatus
	net       *network
	addr      l2.Addr
	curMTU    int
	resources []*Resource
	deadline  time.Time

	// discover之后、关联应答之前的协商结果
	pendNet  *network
	pendAddr l2.Addr
	pendMTU  int
	assoc    *Msg
}

func newSlave(sid int64, ttl time.Duration, mtu int) *Slave {
	return &Slave{SID: sid, TTL: ttl, MaxMTU: mtu}
}

func (s *Slave) Status() SlaveStatus    { return s.status }
func (s *Slave) Addr() l2.Addr          { return s.addr }
func (s *Slave) MTU() int               { return s.curMTU }
func (s *Slave) Deadline() time.Time    { return s.deadline }
func (s *Slave) Resources() []*Resource { return s.resources }
func (s *Slave) Running() bool          { return s.status == StatusRunning }

func (s *Slave) Network() string {
	if s.net == nil {
		return ""
	}
	return s.net.name
}

// FindResource 按路径查找资源
func (s *Slave) FindResource(path []string) *Resource {
	for _, r := range s.resources {
		if r.Match(path) {
			return r
		}
	}
	return nil
}

// ResourceListText 本从机资源的link-format文本
func (s *Slave) ResourceListText() string {
	parts := make([]string, 0, len(s.resources))
	for _, r := range s.resources {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ",")
}

// snapshot 供其他协程读取的副本
func (s *Slave) snapshot() *Slave {
	c := *s
	c.resources = append([]*Resource(nil), s.resources...)
	c.pendNet, c.pendAddr, c.assoc = nil, nil, nil
	return &c
}

// owns 消息是否来自该从机已知或正在协商的地址
func (s *Slave) owns(n *network, a l2.Addr) bool {
	if s.net == n && s.addr != nil && s.addr.Equal(a) {
		return true
	}
	return s.pendNet == n && s.pendAddr != nil && s.pendAddr.Equal(a)
}

func (s *Slave) reset() {
	s.status = StatusInactive
	s.net = nil
	s.addr = nil
	s.curMTU = 0
	s.resources = nil
	s.deadline = time.Time{}
	s.clearPending()
}

// clearPending 放弃正在进行的协商
func (s *Slave) clearPending() {
	s.pendNet, s.pendAddr, s.pendMTU, s.assoc = nil, nil, 0, nil
}

// negotiateMTU 取网络MTU、配置上限和从机声明值中的最小者
func (s *Slave) negotiateMTU(n *network, advertised int) int {
	mtu := n.l2.MTU()
	if s.MaxMTU > 0 && s.MaxMTU < mtu {
		mtu = s.MaxMTU
	}
	if advertised > 0 && advertised < mtu {
		mtu = advertised
	}
	return mtu
}

// process 处理发给本从机的控制消息，返回需要发送的消息
func (s *Slave) process(now time.Time, m *Msg) *Msg {
	switch m.category {
	case CategoryDiscover:
		_, adv, _ := parseDiscover(m.Message)
		s.pendNet = m.net
		s.pendAddr = m.Peer
		s.pendMTU = s.negotiateMTU(m.net, adv)

		req := NewMsg(MakeAssocRequest(int64(s.TTL/time.Second), s.pendMTU))
		req.Peer = m.Peer
		req.net = m.net
		s.assoc = req
		log.Infof("[ENGINE] slave %d discovered at %s on %s, mtu %d", s.SID, m.Peer, m.net.name, s.pendMTU)
		return req

	case CategoryAssocAnswer:
		if s.assoc == nil || m.reqRep != s.assoc {
			log.Debugf("[ENGINE] slave %d: stale association answer ignored", s.SID)
			return nil
		}
		res, err := ParseResourceList(string(m.Payload()))
		if err != nil {
			log.Warnf("[ENGINE] slave %d: cannot parse resource list: %v", s.SID, err)
			s.clearPending()
			return nil
		}
		s.status = StatusRunning
		s.net = s.pendNet
		s.addr = s.pendAddr
		s.curMTU = s.pendMTU
		s.resources = res
		s.deadline = now.Add(s.TTL)
		s.clearPending()
		log.Infof("[ENGINE] slave %d running, %d resources, ttl %s", s.SID, len(res), s.TTL)

	case CategoryAssocRequest:
		log.Warnf("[ENGINE] slave %d: association request from another master at %s", s.SID, m.Peer)

	case CategoryHello:
		log.Warnf("[ENGINE] hello from another master at %s", m.Peer)
	}
	return nil
}
