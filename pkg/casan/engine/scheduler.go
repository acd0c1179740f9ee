package engine

import (
	"time"

	"github.com/junbin-yang/casan-go/pkg/casan/coap"
	log "github.com/junbin-yang/casan-go/pkg/utils/logger"
)

// runScheduler 执行一轮调度，返回下一次需要被唤醒的时刻（零值表示无）
func (e *Engine) runScheduler(now time.Time) time.Time {
	// 为新网络启动接收协程
	if e.started.Load() {
		for _, n := range e.networks {
			if !n.receiving {
				n.receiving = true
				e.wg.Add(1)
				go e.receive(n)
			}
		}
	}

	// hello广播
	if e.cfg.HelloInterval > 0 {
		for _, n := range e.networks {
			if n.nextHello.IsZero() {
				n.nextHello = now.Add(e.randomDuration(e.cfg.FirstHello))
			}
			if !now.Before(n.nextHello) {
				e.sendHello(n)
				n.nextHello = now.Add(e.cfg.HelloInterval)
			}
		}
	}

	// 从机TTL到期
	for _, s := range e.slaves {
		if s.Running() && !now.Before(s.deadline) {
			log.Infof("[ENGINE] slave %d ttl expired, back to inactive", s.SID)
			s.reset()
		}
	}

	// 发送或重传
	maxTrans := e.cfg.Timing.MaxTransmissions()
	for _, m := range e.sent {
		if m.ntrans == 0 || (m.Type() == coap.TypeCON && m.ntrans < maxTrans && !now.Before(m.nextTimeout)) {
			e.transmit(now, m)
		}
	}

	// 删除过期消息
	kept := e.sent[:0]
	for _, m := range e.sent {
		if !m.expire.IsZero() && !now.Before(m.expire) {
			if m.reqRep == nil {
				log.Debugf("[ENGINE] %s expired without reply", m)
			}
			m.wakeup()
			continue
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < len(e.sent); i++ {
		e.sent[i] = nil
	}
	e.sent = kept

	return e.nextWakeup()
}

func (e *Engine) nextWakeup() time.Time {
	var next time.Time
	consider := func(t time.Time) {
		if !t.IsZero() && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	if e.cfg.HelloInterval > 0 {
		for _, n := range e.networks {
			consider(n.nextHello)
		}
	}
	for _, s := range e.slaves {
		if s.Running() {
			consider(s.deadline)
		}
	}
	maxTrans := e.cfg.Timing.MaxTransmissions()
	for _, m := range e.sent {
		if m.Type() == coap.TypeCON && m.ntrans < maxTrans {
			consider(m.nextTimeout)
		}
		consider(m.expire)
	}
	return next
}

// randomDuration [0, d)内的随机时长
func (e *Engine) randomDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(e.rnd.Int63n(int64(d)))
}

func (e *Engine) sendHello(n *network) {
	n.hello.SetID(e.nextID())
	data, err := n.hello.Encode()
	if err != nil {
		log.Errorf("[ENGINE] cannot encode hello: %v", err)
		return
	}
	if _, err := n.l2.Send(n.l2.Broadcast(), data); err != nil {
		log.Warnf("[ENGINE] %s: hello send failed: %v", n.name, err)
		return
	}
	n.counters.tx.Inc()
	log.Debugf("[ENGINE] %s: hello %d sent", n.name, e.hid)
}

// transmit 发送一次消息并更新重传和过期时间
func (e *Engine) transmit(now time.Time, m *Msg) {
	t := e.cfg.Timing
	maxTrans := t.MaxTransmissions()

	if m.ID() == 0 && !m.fixedID {
		m.SetID(e.nextID())
	}
	data, err := m.Encode()
	if err != nil {
		log.Errorf("[ENGINE] cannot encode %s: %v", m, err)
		m.ntrans = maxTrans
		m.expire = now
		return
	}
	if _, err := m.net.l2.Send(m.Peer, data); err != nil {
		// 交给重传和过期机制处理
		log.Warnf("[ENGINE] %s: send to %s failed: %v", m.net.name, m.Peer, err)
	} else {
		m.net.counters.tx.Inc()
		log.Debugf("[ENGINE] %s: sent %s", m.net.name, m)
	}
	m.ntrans++

	lat := m.net.l2.MaxLatency()
	if m.ntrans == 1 {
		switch m.Type() {
		case coap.TypeCON:
			m.expire = now.Add(t.ExchangeLifetime(lat))
			m.timeout = t.AckTimeout + e.randomDuration(time.Duration(float64(t.AckTimeout)*(ACK_RANDOM_FACTOR-1)))
		case coap.TypeNON:
			m.expire = now.Add(t.NonLifetime(lat))
		default:
			m.expire = now.Add(t.MaxRTT(lat))
		}
	} else {
		m.timeout *= 2
	}

	if m.Type() == coap.TypeCON {
		m.nextTimeout = now.Add(m.timeout)
	} else {
		m.ntrans = maxTrans
	}
}
