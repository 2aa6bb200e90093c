//go:build darwin

package rtpcore

import (
	"net"
	"syscall"
)

// tuneMediaSocket настраивает UDP сокет для голосового трафика.
// На Darwin доступна только DSCP маркировка через TOS поле;
// SO_PRIORITY отсутствует.
func tuneMediaSocket(conn *net.UDPConn, dscp int) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	return rawConn.Control(func(fd uintptr) {
		if dscp > 0 {
			tos := dscp << 2
			_ = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TOS, tos)
			_ = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IPV6, syscall.IPV6_TCLASS, tos)
		}
	})
}
