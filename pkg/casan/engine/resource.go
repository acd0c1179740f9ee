package engine

import (
	"fmt"
	"strings"

	"github.com/junbin-yang/casan-go/pkg/casan/coap"
)

// Resource 从机公布的一个资源：路径加属性
type Resource struct {
	Path  []string
	attrs map[string][]string
	order []string // 属性名首次出现的顺序
}

func NewResource(path []string) *Resource {
	return &Resource{Path: append([]string(nil), path...), attrs: make(map[string][]string)}
}

// Name 以"/"连接的路径
func (r *Resource) Name() string {
	return strings.Join(r.Path, "/")
}

func (r *Resource) AddAttr(name, value string) {
	if _, ok := r.attrs[name]; !ok {
		r.order = append(r.order, name)
	}
	r.attrs[name] = append(r.attrs[name], value)
}

// Attr 某个属性的全部取值
func (r *Resource) Attr(name string) []string {
	return r.attrs[name]
}

func (r *Resource) AttrNames() []string {
	return append([]string(nil), r.order...)
}

// Match 路径是否与给定的分段完全相同
func (r *Resource) Match(path []string) bool {
	if len(path) != len(r.Path) {
		return false
	}
	for i := range path {
		if path[i] != r.Path[i] {
			return false
		}
	}
	return true
}

// AppendPath 把资源路径作为Uri-Path选项加入消息
func (r *Resource) AppendPath(m *coap.Message) error {
	for _, seg := range r.Path {
		o, err := coap.NewStringOption(coap.OptUriPath, seg)
		if err != nil {
			return fmt.Errorf("path segment %q: %w", seg, err)
		}
		m.AddOption(o)
	}
	return nil
}

// String link-format表示：</a/b>;rt="x"
func (r *Resource) String() string {
	var sb strings.Builder
	sb.WriteString("</")
	sb.WriteString(r.Name())
	sb.WriteString(">")
	for _, name := range r.order {
		for _, v := range r.attrs[name] {
			fmt.Fprintf(&sb, ";%s=%q", name, v)
		}
	}
	return sb.String()
}

// 解析状态
const (
	lfStart = iota
	lfPath
	lfAfterRes
	lfAttrName
	lfValueStart
	lfUnquoted
	lfQuoted
	lfError
)

// ParseResourceList 解析关联应答中的资源列表，格式为
// <path>;name=value;name="quoted";flag,<path>...
func ParseResourceList(s string) ([]*Resource, error) {
	var (
		list  []*Resource
		cur   *Resource
		path  strings.Builder
		name  strings.Builder
		value strings.Builder
		state = lfStart
		comma bool // 刚读过资源分隔符
	)

	endAttr := func() bool {
		if name.Len() == 0 {
			return false
		}
		cur.AddAttr(strings.TrimSpace(name.String()), value.String())
		name.Reset()
		value.Reset()
		return true
	}
	endRes := func() {
		list = append(list, cur)
		cur = nil
	}

	for i := 0; i < len(s) && state != lfError; i++ {
		c := s[i]
		switch state {
		case lfStart:
			switch c {
			case ' ', '\t', '\r', '\n':
			case '<':
				path.Reset()
				state = lfPath
			default:
				state = lfError
			}
		case lfPath:
			switch c {
			case '>':
				segs := splitPath(path.String())
				if len(segs) == 0 {
					state = lfError
					break
				}
				cur = NewResource(segs)
				comma = false
				state = lfAfterRes
			case '<', ',', ';', '"':
				state = lfError
			default:
				path.WriteByte(c)
			}
		case lfAfterRes:
			switch c {
			case ';':
				state = lfAttrName
			case ',':
				endRes()
				comma = true
				state = lfStart
			case ' ', '\t', '\r', '\n':
			default:
				state = lfError
			}
		case lfAttrName:
			switch c {
			case '=':
				if name.Len() == 0 {
					state = lfError
				} else {
					state = lfValueStart
				}
			case ';':
				if !endAttr() {
					state = lfError
				}
			case ',':
				if !endAttr() {
					state = lfError
					break
				}
				endRes()
				comma = true
				state = lfStart
			case '"', '<', '>':
				state = lfError
			default:
				name.WriteByte(c)
			}
		case lfValueStart:
			switch c {
			case '"':
				state = lfQuoted
			case ';':
				endAttr()
				state = lfAttrName
			case ',':
				endAttr()
				endRes()
				comma = true
				state = lfStart
			default:
				value.WriteByte(c)
				state = lfUnquoted
			}
		case lfUnquoted:
			switch c {
			case ';':
				endAttr()
				state = lfAttrName
			case ',':
				endAttr()
				endRes()
				comma = true
				state = lfStart
			case '"':
				state = lfError
			default:
				value.WriteByte(c)
			}
		case lfQuoted:
			if c == '"' {
				endAttr()
				state = lfAfterRes
			} else {
				value.WriteByte(c)
			}
		}
	}

	switch state {
	case lfStart:
		if comma {
			return nil, fmt.Errorf("%w: trailing separator", ErrLinkFormat)
		}
	case lfAfterRes:
		endRes()
	case lfAttrName:
		if !endAttr() {
			return nil, fmt.Errorf("%w: empty attribute name", ErrLinkFormat)
		}
		endRes()
	case lfValueStart, lfUnquoted:
		endAttr()
		endRes()
	case lfPath:
		return nil, fmt.Errorf("%w: unterminated path", ErrLinkFormat)
	case lfQuoted:
		return nil, fmt.Errorf("%w: unterminated quoted value", ErrLinkFormat)
	default:
		return nil, fmt.Errorf("%w: %q", ErrLinkFormat, s)
	}
	return list, nil
}

func splitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}
