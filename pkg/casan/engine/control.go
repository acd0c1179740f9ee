package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/junbin-yang/casan-go/pkg/casan/coap"
)

// 控制消息所在的命名空间
var ControlNamespace = []string{".well-known", "casan"}

// 控制消息查询参数
const (
	QUERY_HELLO = "hello"
	QUERY_SLAVE = "slave"
	QUERY_MTU   = "mtu"
	QUERY_TTL   = "ttl"

	MAX_HELLO_ID = 999
)

// Category 控制消息的种类
type Category uint8

const (
	CategoryNone Category = iota
	CategoryHello
	CategoryDiscover
	CategoryAssocRequest
	CategoryAssocAnswer
)

func (c Category) String() string {
	switch c {
	case CategoryHello:
		return "hello"
	case CategoryDiscover:
		return "discover"
	case CategoryAssocRequest:
		return "assoc-request"
	case CategoryAssocAnswer:
		return "assoc-answer"
	}
	return "none"
}

// isControl Uri-Path是否恰好是控制命名空间
func isControl(m *coap.Message) bool {
	path := m.Path()
	if len(path) != len(ControlNamespace) {
		return false
	}
	for i := range path {
		if path[i] != ControlNamespace[i] {
			return false
		}
	}
	return true
}

// queryInt 解析"name=数字"形式的查询参数
func queryInt(q, name string) (int64, bool) {
	v, ok := strings.CutPrefix(q, name+"=")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseDiscover 识别discover消息，返回从机编号和它声明的MTU（可能为0）
func parseDiscover(m *coap.Message) (sid int64, mtu int, ok bool) {
	if m.Type() != coap.TypeNON || m.Code() != coap.CodePOST || !isControl(m) {
		return 0, 0, false
	}
	for _, q := range m.Queries() {
		if n, ok := queryInt(q, QUERY_SLAVE); ok {
			sid = n
		} else if n, ok := queryInt(q, QUERY_MTU); ok {
			mtu = int(n)
		} else {
			// 其他查询参数使消息无效
			return 0, 0, false
		}
	}
	if sid <= 0 || mtu < 0 {
		return 0, 0, false
	}
	return sid, mtu, true
}

func isHello(m *coap.Message) bool {
	if m.Type() != coap.TypeNON || m.Code() != coap.CodePOST || !isControl(m) {
		return false
	}
	qs := m.Queries()
	if len(qs) != 1 {
		return false
	}
	_, ok := queryInt(qs[0], QUERY_HELLO)
	return ok
}

func isAssocRequest(m *coap.Message) bool {
	if m.Type() != coap.TypeCON || m.Code() != coap.CodePOST || !isControl(m) {
		return false
	}
	found := false
	for _, q := range m.Queries() {
		if _, ok := queryInt(q, QUERY_TTL); ok {
			found = true
		} else if _, ok := queryInt(q, QUERY_MTU); ok {
			found = true
		} else {
			return false
		}
	}
	return found
}

// classify 计算消息种类，必须在关联完成之后调用
func classify(m *Msg) Category {
	switch {
	case isHello(m.Message):
		return CategoryHello
	case isDiscoverMsg(m.Message):
		return CategoryDiscover
	case isAssocRequest(m.Message):
		return CategoryAssocRequest
	case m.reqRep != nil && isAssocRequest(m.reqRep.Message):
		return CategoryAssocAnswer
	}
	return CategoryNone
}

func isDiscoverMsg(m *coap.Message) bool {
	_, _, ok := parseDiscover(m)
	return ok
}

func addControlPath(m *coap.Message) {
	for _, seg := range ControlNamespace {
		m.AddOption(coap.MustOption(coap.NewStringOption(coap.OptUriPath, seg)))
	}
}

func addQuery(m *coap.Message, name string, v int64) {
	m.AddOption(coap.MustOption(coap.NewStringOption(coap.OptUriQuery, fmt.Sprintf("%s=%d", name, v))))
}

// MakeHello 周期性广播的hello消息
func MakeHello(hid int64) *coap.Message {
	m := coap.NewMessage(coap.TypeNON, coap.CodePOST)
	addControlPath(m)
	addQuery(m, QUERY_HELLO, hid)
	return m
}

// MakeDiscover 从机发出的discover消息，mtu为0时不带mtu参数
func MakeDiscover(sid int64, mtu int) *coap.Message {
	m := coap.NewMessage(coap.TypeNON, coap.CodePOST)
	addControlPath(m)
	addQuery(m, QUERY_SLAVE, sid)
	if mtu > 0 {
		addQuery(m, QUERY_MTU, int64(mtu))
	}
	return m
}

// MakeAssocRequest 发给从机的关联请求
func MakeAssocRequest(ttl int64, mtu int) *coap.Message {
	m := coap.NewMessage(coap.TypeCON, coap.CodePOST)
	addControlPath(m)
	addQuery(m, QUERY_TTL, ttl)
	addQuery(m, QUERY_MTU, int64(mtu))
	return m
}
