package coap

import "errors"

var (
	// 解码错误
	ErrShortHeader    = errors.New("coap: header too short")
	ErrBadVersion     = errors.New("coap: version mismatch")
	ErrBadToken       = errors.New("coap: invalid token length")
	ErrReservedNibble = errors.New("coap: reserved option nibble")
	ErrShortBuffer    = errors.New("coap: buffer exhausted inside option")
	ErrEmptyPayload   = errors.New("coap: payload marker without payload")
	ErrOptionCode     = errors.New("coap: option number exceeds 65535")

	// 构造错误
	ErrTokenTooLong  = errors.New("coap: token longer than 8 bytes")
	ErrUnknownOption = errors.New("coap: unknown option code")
	ErrOptionLength  = errors.New("coap: option length out of bounds")
	ErrOptionTooLong = errors.New("coap: option value too long to encode")
	ErrOptionFormat  = errors.New("coap: option format mismatch")
)
