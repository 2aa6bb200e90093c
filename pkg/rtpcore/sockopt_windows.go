//go:build windows

package rtpcore

import "net"

// tuneMediaSocket на Windows оставляет сокет с настройками по умолчанию.
// QoS маркировка на Windows выполняется через qWAVE API, а не через
// setsockopt, и выходит за рамки транспортного слоя.
func tuneMediaSocket(conn *net.UDPConn, dscp int) error {
	return nil
}
