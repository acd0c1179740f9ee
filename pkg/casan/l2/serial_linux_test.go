//go:build linux

package l2

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestSerialPortClosedBeforeRead(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[1])
	p := &serialPort{fd: fds[0]}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// 新管道很可能复用刚释放的fd编号，关闭后的端口不能读到它的数据
	var other [2]int
	if err := unix.Pipe2(other[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(other[0])
	defer unix.Close(other[1])
	if _, err := unix.Write(other[1], []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 4)
	if n, err := p.Read(buf); n != 0 || !errors.Is(err, ErrClosed) {
		t.Errorf("Read after Close = %d, %v", n, err)
	}
	if _, err := p.Write([]byte("y")); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close = %v", err)
	}
	if n, err := unix.Read(other[0], buf); n != 1 || err != nil {
		t.Errorf("data of the new pipe consumed: %d, %v", n, err)
	}
}

func TestEthernetClosedBeforeRecv(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[1])
	e := &Ethernet{fd: fds[0], mtu: ETH_MTU}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, _, _, err := e.Recv(); !errors.Is(err, ErrClosed) {
		t.Errorf("Recv after Close = %v", err)
	}
	if _, err := e.Send(EthBroadcast, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v", err)
	}
}
