package engine

import "errors"

var (
	// 请求相关错误
	ErrTooLarge        = errors.New("engine: message does not fit the transport MTU")
	ErrUnknownSlave    = errors.New("engine: unknown or inactive slave")
	ErrUnknownResource = errors.New("engine: unknown resource")
	ErrNoReply         = errors.New("engine: no reply before deadline")
	ErrNoPeer          = errors.New("engine: message has no destination")

	// 引擎状态错误
	ErrNotRunning     = errors.New("engine: not running")
	ErrAlreadyRunning = errors.New("engine: already running")
	ErrDuplicateSlave = errors.New("engine: slave id already registered")

	// 资源列表解析错误
	ErrLinkFormat = errors.New("engine: malformed resource list")
)
