package coap

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// 选项编号
type OptionCode uint16

const (
	OptIfMatch       OptionCode = 1
	OptUriHost       OptionCode = 3
	OptETag          OptionCode = 4
	OptIfNoneMatch   OptionCode = 5
	OptUriPort       OptionCode = 7
	OptLocationPath  OptionCode = 8
	OptUriPath       OptionCode = 11
	OptContentFormat OptionCode = 12
	OptMaxAge        OptionCode = 14
	OptUriQuery      OptionCode = 15
	OptAccept        OptionCode = 16
	OptLocationQuery OptionCode = 20
	OptProxyUri      OptionCode = 35
	OptProxyScheme   OptionCode = 39
	OptSize1         OptionCode = 60
)

// 选项值格式
type OptionFormat uint8

const (
	FormatOpaque OptionFormat = iota
	FormatString
	FormatUint
	FormatEmpty
)

type optionDesc struct {
	name   string
	format OptionFormat
	min    int
	max    int
}

// 选项注册表，包初始化后只读
var registry = map[OptionCode]optionDesc{
	OptIfMatch:       {"If-Match", FormatOpaque, 0, 8},
	OptUriHost:       {"Uri-Host", FormatString, 1, 255},
	OptETag:          {"ETag", FormatOpaque, 1, 8},
	OptIfNoneMatch:   {"If-None-Match", FormatEmpty, 0, 0},
	OptUriPort:       {"Uri-Port", FormatUint, 0, 2},
	OptLocationPath:  {"Location-Path", FormatString, 0, 255},
	OptUriPath:       {"Uri-Path", FormatString, 1, 255},
	OptContentFormat: {"Content-Format", FormatOpaque, 0, 8},
	OptMaxAge:        {"Max-Age", FormatUint, 0, 4},
	OptUriQuery:      {"Uri-Query", FormatString, 0, 255},
	OptAccept:        {"Accept", FormatUint, 0, 2},
	OptLocationQuery: {"Location-Query", FormatString, 0, 255},
	OptProxyUri:      {"Proxy-Uri", FormatString, 1, 1034},
	OptProxyScheme:   {"Proxy-Scheme", FormatString, 1, 255},
	OptSize1:         {"Size1", FormatUint, 0, 4},
}

func (c OptionCode) Critical() bool   { return c&1 != 0 }
func (c OptionCode) Unsafe() bool     { return c&2 != 0 }
func (c OptionCode) NoCacheKey() bool { return c&0x1e == 0x1c }

// Known 是否为注册表中的选项
func (c OptionCode) Known() bool {
	_, ok := registry[c]
	return ok
}

func (c OptionCode) Format() OptionFormat {
	if d, ok := registry[c]; ok {
		return d.format
	}
	return FormatOpaque
}

func (c OptionCode) String() string {
	if d, ok := registry[c]; ok {
		return d.name
	}
	return "Option" + strconv.Itoa(int(c))
}

// Option 一个已编号的选项及其原始值
type Option struct {
	Code  OptionCode
	Value []byte
}

// NewOption 按注册表检查长度后构造选项
func NewOption(code OptionCode, value []byte) (Option, error) {
	d, ok := registry[code]
	if !ok {
		return Option{}, fmt.Errorf("%w: %d", ErrUnknownOption, code)
	}
	if len(value) < d.min || len(value) > d.max {
		return Option{}, fmt.Errorf("%w: %s len %d not in [%d,%d]", ErrOptionLength, d.name, len(value), d.min, d.max)
	}
	v := make([]byte, len(value))
	copy(v, value)
	return Option{Code: code, Value: v}, nil
}

// NewStringOption 构造字符串格式的选项
func NewStringOption(code OptionCode, s string) (Option, error) {
	if f := code.Format(); code.Known() && f != FormatString {
		return Option{}, fmt.Errorf("%w: %s is not a string option", ErrOptionFormat, code)
	}
	return NewOption(code, []byte(s))
}

// NewUintOption 构造整数选项，使用最短大端编码
func NewUintOption(code OptionCode, v uint64) (Option, error) {
	if f := code.Format(); code.Known() && f != FormatUint && f != FormatOpaque {
		return Option{}, fmt.Errorf("%w: %s is not an integer option", ErrOptionFormat, code)
	}
	return NewOption(code, encodeUint(v))
}

// MustOption 构造失败直接panic，仅用于常量选项
func MustOption(o Option, err error) Option {
	if err != nil {
		panic(err)
	}
	return o
}

func encodeUint(v uint64) []byte {
	var b []byte
	for v != 0 {
		b = append([]byte{byte(v)}, b...)
		v >>= 8
	}
	return b
}

// Uint 把值当作大端无符号整数
func (o Option) Uint() uint64 {
	var v uint64
	for _, b := range o.Value {
		v = v<<8 | uint64(b)
	}
	return v
}

func (o Option) String() string {
	switch o.Code.Format() {
	case FormatString:
		return o.Code.String() + "=" + string(o.Value)
	case FormatUint:
		return o.Code.String() + "=" + strconv.FormatUint(o.Uint(), 10)
	case FormatEmpty:
		return o.Code.String()
	}
	return fmt.Sprintf("%s=%x", o.Code, o.Value)
}

// Equal 编号和值都相同
func (o Option) Equal(p Option) bool {
	return o.Code == p.Code && bytes.Equal(o.Value, p.Value)
}

// Less 排序规则：先按编号，再按值
func (o Option) Less(p Option) bool {
	if o.Code != p.Code {
		return o.Code < p.Code
	}
	return bytes.Compare(o.Value, p.Value) < 0
}

// SortOptions 按编号稳定排序
func SortOptions(opts []Option) {
	sort.SliceStable(opts, func(i, j int) bool { return opts[i].Code < opts[j].Code })
}
