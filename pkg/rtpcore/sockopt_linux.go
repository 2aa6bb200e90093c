//go:build linux

package rtpcore

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneMediaSocket настраивает UDP сокет для голосового трафика:
// приоритет сокета и DSCP маркировка. Ошибки отдельных опций
// игнорируются: в контейнерах часть опций недоступна.
func tuneMediaSocket(conn *net.UDPConn, dscp int) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	return rawConn.Control(func(fd uintptr) {
		// Приоритет 6 соответствует интерактивному аудио
		_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_PRIORITY, 6)

		if dscp > 0 {
			// DSCP занимает старшие 6 бит TOS поля
			tos := dscp << 2
			_ = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TOS, tos)
			_ = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
		}
	})
}
