package engine

import (
	"bytes"
	"errors"
	"time"

	"github.com/junbin-yang/casan-go/pkg/casan/coap"
	"github.com/junbin-yang/casan-go/pkg/casan/l2"
	log "github.com/junbin-yang/casan-go/pkg/utils/logger"
)

const recvErrorBackoff = 100 * time.Millisecond

// receive 每个网络一个，只负责阻塞接收和解码
func (e *Engine) receive(n *network) {
	defer e.wg.Done()
	log.Debugf("[ENGINE] %s: receiver started", n.name)
	for {
		src, data, pt, truncated, err := n.l2.Recv()
		if err != nil {
			if errors.Is(err, l2.ErrClosed) {
				log.Debugf("[ENGINE] %s: receiver stopped", n.name)
				return
			}
			log.Warnf("[ENGINE] %s: receive error: %v", n.name, err)
			select {
			case <-e.stopCh:
				return
			case <-e.clock.After(recvErrorBackoff):
			}
			continue
		}
		if pt == l2.PktNone || src == nil {
			continue
		}
		cm, err := coap.Decode(data, truncated)
		if err != nil {
			n.counters.drop.Inc()
			log.Debugf("[ENGINE] %s: undecodable frame from %s: %v", n.name, src, err)
			continue
		}
		m := &Msg{Message: cm, Peer: src, net: n, pktType: pt}
		select {
		case e.inbound <- inbound{net: n, msg: m}:
		case <-e.stopCh:
			return
		}
	}
}

// handleInbound 在调度协程中处理一条收到的消息
func (e *Engine) handleInbound(now time.Time, in inbound) {
	n, m := in.net, in.msg
	m.net = n
	n.counters.rx.Inc()
	n.purgeDedup(now)

	s := e.findPeer(n, m)
	if s == nil {
		n.counters.drop.Inc()
		log.Debugf("[ENGINE] %s: %s from unknown peer dropped", n.name, m)
		return
	}

	// 关联：ACK/RST按消息ID匹配已发送的请求
	correlated := false
	if m.Type() == coap.TypeACK || m.Type() == coap.TypeRST {
		if req := e.findRequest(n, m); req != nil {
			if req.reqRep != nil {
				n.counters.dup.Inc()
				log.Debugf("[ENGINE] %s: duplicate reply %s dropped", n.name, m)
				return
			}
			link(req, m)
			req.ntrans = e.cfg.Timing.MaxTransmissions()
			correlated = true
			if req.waiter != nil {
				req.wakeup()
				return
			}
		}
	}

	// 去重
	if m.Type() == coap.TypeCON || m.Type() == coap.TypeNON {
		if orig := n.findDuplicate(m); orig != nil {
			n.counters.dup.Inc()
			if rep := orig.reqRep; rep != nil && rep.Raw() != nil {
				if _, err := n.l2.Send(m.Peer, rep.Raw()); err != nil {
					log.Warnf("[ENGINE] %s: resend reply to %s failed: %v", n.name, m.Peer, err)
				} else {
					n.counters.tx.Inc()
				}
			}
			log.Debugf("[ENGINE] %s: duplicate %s dropped", n.name, m)
			return
		}
		m.expire = now.Add(e.cfg.Timing.ExchangeLifetime(n.l2.MaxLatency()))
		n.dedup = append(n.dedup, m)
	}

	m.category = classify(m)
	if m.category == CategoryNone {
		// 孤立消息只记录
		if !correlated {
			n.counters.orphan.Inc()
			log.Infof("[ENGINE] %s: orphan message %s (slave %d, %s)", n.name, m, s.SID, s.Status())
		}
		return
	}
	if out := s.process(now, m); out != nil {
		e.sent = append(e.sent, out)
	}
	if m.Type() == coap.TypeCON {
		e.replyTo(n, m)
	}
}

// replyTo 确认CON控制消息，重复的CON会重发这个空ACK
func (e *Engine) replyTo(n *network, m *Msg) {
	cm := coap.NewMessage(coap.TypeACK, coap.CodeEmpty)
	cm.SetID(m.ID())
	rep := &Msg{Message: cm, Peer: m.Peer, net: n, fixedID: true}
	link(m, rep)
	e.sent = append(e.sent, rep)
}

// findPeer 按地址找到从机；discover消息按其中的从机编号查找
func (e *Engine) findPeer(n *network, m *Msg) *Slave {
	if sid, _, ok := parseDiscover(m.Message); ok {
		if s := e.findSlave(sid); s != nil {
			return s
		}
		log.Debugf("[ENGINE] %s: discover from unconfigured slave %d at %s", n.name, sid, m.Peer)
		return nil
	}
	for _, s := range e.slaves {
		if s.owns(n, m.Peer) {
			return s
		}
	}
	return nil
}

// findRequest 在已发送的消息中找ID相同的请求
func (e *Engine) findRequest(n *network, m *Msg) *Msg {
	for _, r := range e.sent {
		if r.net != n || r.ntrans == 0 || r.ID() != m.ID() {
			continue
		}
		if r.Type() != coap.TypeCON && r.Type() != coap.TypeNON {
			continue
		}
		if r.Peer != nil && r.Peer.Equal(m.Peer) {
			return r
		}
	}
	return nil
}

func (n *network) purgeDedup(now time.Time) {
	kept := n.dedup[:0]
	for _, d := range n.dedup {
		if now.Before(d.expire) {
			kept = append(kept, d)
		}
	}
	for i := len(kept); i < len(n.dedup); i++ {
		n.dedup[i] = nil
	}
	n.dedup = kept
}

func (n *network) findDuplicate(m *Msg) *Msg {
	for _, d := range n.dedup {
		if d.Peer.Equal(m.Peer) && bytes.Equal(d.Raw(), m.Raw()) {
			return d
		}
	}
	return nil
}
