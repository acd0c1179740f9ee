//go:build !linux

package l2

import "io"

func OpenSerial(dev string, baud int) (io.ReadWriteCloser, error) {
	return nil, ErrUnsupported
}
