// Package stun выполняет обнаружение публичного адреса медиа сокета
// через STUN Binding запрос (RFC 5389). Используется перед построением
// SDP, когда сессия работает из-за NAT.
package stun

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun/v3"
)

// DefaultServer публичный STUN сервер по умолчанию
const DefaultServer = "stun.l.google.com:19302"

// retransmitInterval интервал повтора Binding запроса (RFC 5389
// рекомендует экспоненциальный backoff, для медиа достаточно фиксированного)
const retransmitInterval = 500 * time.Millisecond

// Discover отправляет Binding запрос с медиа сокета и возвращает
// отраженный сервером публичный адрес. Запрос уходит с того же сокета,
// которым затем пользуется RTP сессия, чтобы NAT создал нужный mapping.
//
// Блокирует до ответа, отмены контекста или исчерпания повторов.
// Датаграммы, не являющиеся STUN ответом на наш запрос, пропускаются.
func Discover(ctx context.Context, conn *net.UDPConn, server string) (*net.UDPAddr, error) {
	if server == "" {
		server = DefaultServer
	}
	serverAddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return nil, fmt.Errorf("разрешение STUN сервера %s: %w", server, err)
	}

	request := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	buf := make([]byte, 1500)
	for attempt := 0; time.Now().Before(deadline); attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := conn.WriteToUDP(request.Raw, serverAddr); err != nil {
			return nil, fmt.Errorf("отправка Binding запроса: %w", err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(retransmitInterval))
		addr, err := readBindingResponse(conn, buf, request.TransactionID)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue // повторяем запрос
			}
			return nil, err
		}
		_ = conn.SetReadDeadline(time.Time{})
		return addr, nil
	}

	_ = conn.SetReadDeadline(time.Time{})
	return nil, fmt.Errorf("STUN сервер %s не ответил", server)
}

// readBindingResponse читает датаграммы до STUN ответа с нашим
// transaction ID либо до истечения read deadline
func readBindingResponse(conn *net.UDPConn, buf []byte, txID [stun.TransactionIDSize]byte) (*net.UDPAddr, error) {
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}

		msg := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := msg.Decode(); err != nil {
			continue // не STUN датаграмма
		}
		if msg.TransactionID != txID || msg.Type != stun.BindingSuccess {
			continue
		}

		var mapped stun.XORMappedAddress
		if err := mapped.GetFrom(msg); err != nil {
			return nil, fmt.Errorf("разбор XOR-MAPPED-ADDRESS: %w", err)
		}
		return &net.UDPAddr{IP: mapped.IP, Port: mapped.Port}, nil
	}
}
