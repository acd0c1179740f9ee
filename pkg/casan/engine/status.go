package engine

import (
	"html/template"
	"io"
	"time"
)

type NetworkStatus struct {
	Name      string
	Transport string
	MTU       int
	NextHello time.Time
	Dedup     int
	Stats     NetStats
}

type SlaveInfo struct {
	SID       int64
	Status    string
	Network   string
	Addr      string
	MTU       int
	TTL       time.Duration
	Deadline  time.Time
	Resources string
}

type MsgInfo struct {
	Network       string
	Message       string
	Transmissions int
	Expire        time.Time
	Replied       bool
}

// Status 引擎运行状态快照
type Status struct {
	Now      time.Time
	HelloID  int64
	Networks []NetworkStatus
	Slaves   []SlaveInfo
	Messages []MsgInfo
}

func slaveInfo(s *Slave) SlaveInfo {
	si := SlaveInfo{
		SID:       s.SID,
		Status:    s.status.String(),
		Network:   s.Network(),
		MTU:       s.curMTU,
		TTL:       s.TTL,
		Deadline:  s.deadline,
		Resources: s.ResourceListText(),
	}
	if s.addr != nil {
		si.Addr = s.addr.String()
	}
	return si
}

func (e *Engine) Status() Status {
	var st Status
	e.call(func() {
		st.Now = e.clock.Now()
		st.HelloID = e.hid
		for _, n := range e.networks {
			st.Networks = append(st.Networks, NetworkStatus{
				Name:      n.name,
				Transport: n.l2.String(),
				MTU:       n.l2.MTU(),
				NextHello: n.nextHello,
				Dedup:     len(n.dedup),
				Stats:     n.stats(),
			})
		}
		for _, s := range e.slaves {
			st.Slaves = append(st.Slaves, slaveInfo(s))
		}
		for _, m := range e.sent {
			st.Messages = append(st.Messages, MsgInfo{
				Network:       m.Network(),
				Message:       m.String(),
				Transmissions: m.ntrans,
				Expire:        m.expire,
				Replied:       m.reqRep != nil,
			})
		}
	})
	return st
}

const timeLayout = "15:04:05.000"

var funcs = template.FuncMap{
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format(timeLayout)
	},
}

var statusTmpl = template.Must(template.New("status").Funcs(funcs).Parse(`<h2>Networks</h2>
<table>
<tr><th>name</th><th>transport</th><th>mtu</th><th>next hello</th><th>tx</th><th>rx</th><th>dup</th><th>drop</th><th>orphan</th></tr>
{{range .Networks}}<tr><td>{{.Name}}</td><td>{{.Transport}}</td><td>{{.MTU}}</td><td>{{clock .NextHello}}</td><td>{{.Stats.Tx}}</td><td>{{.Stats.Rx}}</td><td>{{.Stats.Dup}}</td><td>{{.Stats.Drop}}</td><td>{{.Stats.Orphan}}</td></tr>
{{end}}</table>
<p>hello id {{.HelloID}}, now {{clock .Now}}</p>
<h2>Slaves</h2>
<table>
<tr><th>id</th><th>status</th><th>network</th><th>address</th><th>mtu</th><th>ttl</th><th>deadline</th></tr>
{{range .Slaves}}<tr><td><a href="slave/{{.SID}}">{{.SID}}</a></td><td>{{.Status}}</td><td>{{.Network}}</td><td>{{.Addr}}</td><td>{{.MTU}}</td><td>{{.TTL}}</td><td>{{clock .Deadline}}</td></tr>
{{end}}</table>
<h2>Pending messages</h2>
{{if .Messages}}<ul>
{{range .Messages}}<li>{{.Network}}: {{.Message}} ntrans={{.Transmissions}} expire={{clock .Expire}}{{if .Replied}} (replied){{end}}</li>
{{end}}</ul>{{else}}<p>none</p>{{end}}
`))

var slaveTmpl = template.Must(template.New("slave").Funcs(funcs).Parse(`<h2>Slave {{.SID}}</h2>
<p>status {{.Status}}{{if .Addr}}, {{.Network}} {{.Addr}}, mtu {{.MTU}}, until {{clock .Deadline}}{{end}}</p>
<pre>{{.Resources}}</pre>
`))

var cacheTmpl = template.Must(template.New("cache").Funcs(funcs).Parse(`{{if .}}<ul>
{{range .}}<li>expire={{clock .Expire}} req=({{.Req}}){{with .Req.Reply}} reply=({{.}}){{end}}</li>
{{end}}</ul>{{else}}<p>Cache is empty</p>{{end}}
`))

// WriteHTML 输出运行状态页面片段
func (st Status) WriteHTML(w io.Writer) error {
	return statusTmpl.Execute(w, st)
}

func (si SlaveInfo) WriteHTML(w io.Writer) error {
	return slaveTmpl.Execute(w, si)
}

// SlaveInfo 单个从机的状态，不存在时ok为false
func (e *Engine) SlaveInfo(sid int64) (si SlaveInfo, ok bool) {
	e.call(func() {
		if s := e.findSlave(sid); s != nil {
			si, ok = slaveInfo(s), true
		}
	})
	return
}

// WriteHTML 输出缓存内容
func (c *Cache) WriteHTML(w io.Writer) error {
	return cacheTmpl.Execute(w, c.Entries())
}
