package coap

import "fmt"

// 协议版本
const VERSION = 1

// 消息类型
type MsgType uint8

const (
	TypeCON MsgType = 0
	TypeNON MsgType = 1
	TypeACK MsgType = 2
	TypeRST MsgType = 3
)

func (t MsgType) String() string {
	switch t {
	case TypeCON:
		return "CON"
	case TypeNON:
		return "NON"
	case TypeACK:
		return "ACK"
	case TypeRST:
		return "RST"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// 方法码或响应码，编码为 class<<5 | detail
type Code uint8

// MakeCode 由 class.detail 构造代码
func MakeCode(class, detail uint8) Code {
	return Code(class<<5 | detail&0x1f)
}

const (
	CodeEmpty  Code = 0
	CodeGET    Code = 1
	CodePOST   Code = 2
	CodePUT    Code = 3
	CodeDELETE Code = 4
)

// 常用响应码
var (
	CodeCreated             = MakeCode(2, 1)
	CodeDeleted             = MakeCode(2, 2)
	CodeValid               = MakeCode(2, 3)
	CodeChanged             = MakeCode(2, 4)
	CodeContent             = MakeCode(2, 5)
	CodeBadRequest          = MakeCode(4, 0)
	CodeNotFound            = MakeCode(4, 4)
	CodeMethodNotAllowed    = MakeCode(4, 5)
	CodeInternalServerError = MakeCode(5, 0)
	CodeServiceUnavailable  = MakeCode(5, 3)
)

func (c Code) Class() uint8  { return uint8(c) >> 5 }
func (c Code) Detail() uint8 { return uint8(c) & 0x1f }

// IsRequest 方法码的class为0且不为空
func (c Code) IsRequest() bool {
	return c != CodeEmpty && c.Class() == 0
}

func (c Code) String() string {
	switch c {
	case CodeEmpty:
		return "EMPTY"
	case CodeGET:
		return "GET"
	case CodePOST:
		return "POST"
	case CodePUT:
		return "PUT"
	case CodeDELETE:
		return "DELETE"
	}
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}

// 头部和选项相关常量
const (
	headerSize    = 4
	maxTokenLen   = 8
	payloadMarker = 0xFF

	nibbleExt1    = 13
	nibbleExt2    = 14
	nibbleReserve = 15
	ext1Base      = 13
	ext2Base      = 269
	maxOptionLen  = 0xFFFF + ext2Base
)
