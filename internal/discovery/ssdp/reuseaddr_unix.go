//go:build linux || darwin

package ssdp

import (
	"net"

	"golang.org/x/sys/unix"
)

// setReuseAddr sets SO_REUSEADDR on the SSDP UDP socket, per spec.md
// §4.2.2 ("set SO_REUSEADDR"). Matches the teacher's reliance on
// golang.org/x/sys for socket options the stdlib net package does not
// expose directly.
func setReuseAddr(conn net.PacketConn) error {
	uc, ok := conn.(*net.UDPConn)
	if !ok {
		return nil
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
