package rtpcore

import (
	"sync/atomic"
)

// secureGate хранит опциональный SecureContext и флаг готовности.
//
// Сессия, созданная как secure, не обрабатывает ни отправку, ни прием
// до вызова SetSecurityContext: двухфазная модель secure-but-not-ready /
// ready. Несекьюрная сессия готова сразу, хуки у нее отсутствуют.
//
// После установки контекст неизменяем и читается всеми send/receive
// путями без дополнительной синхронизации.
type secureGate struct {
	secure bool
	ready  int32 // atomic bool
	ctx    atomic.Value // SecureContext
}

func newSecureGate(secure bool) *secureGate {
	g := &secureGate{secure: secure}
	if !secure {
		atomic.StoreInt32(&g.ready, 1)
	}
	return g
}

// install устанавливает хуки и помечает gate готовым. Вызывается один раз.
func (g *secureGate) install(sc SecureContext) {
	if sc != nil {
		g.ctx.Store(sc)
	}
	atomic.StoreInt32(&g.ready, 1)
}

// isReady проверяет, можно ли обрабатывать трафик
func (g *secureGate) isReady() bool {
	return atomic.LoadInt32(&g.ready) == 1
}

func (g *secureGate) context() SecureContext {
	sc, _ := g.ctx.Load().(SecureContext)
	return sc
}

// protectRTP шифрует исходящий RTP пакет. Plaintext копируется в буфер
// с резервом SRTPTrailerLen под auth tag, хук работает in-place и
// возвращает фактическую длину результата.
func (g *secureGate) protectRTP(plaintext []byte) ([]byte, error) {
	sc := g.context()
	if sc == nil {
		return plaintext, nil
	}
	buf := make([]byte, len(plaintext)+SRTPTrailerLen)
	copy(buf, plaintext)
	n, err := sc.ProtectRTP(buf, len(plaintext))
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// unprotectRTP расшифровывает входящий RTP пакет in-place
func (g *secureGate) unprotectRTP(data []byte) ([]byte, error) {
	sc := g.context()
	if sc == nil {
		return data, nil
	}
	n, err := sc.UnprotectRTP(data, len(data))
	if err != nil {
		return nil, err
	}
	return data[:n], nil
}

// protectRTCP шифрует исходящий RTCP compound пакет
func (g *secureGate) protectRTCP(plaintext []byte) ([]byte, error) {
	sc := g.context()
	if sc == nil {
		return plaintext, nil
	}
	buf := make([]byte, len(plaintext)+SRTPTrailerLen)
	copy(buf, plaintext)
	n, err := sc.ProtectRTCP(buf, len(plaintext))
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// unprotectRTCP расшифровывает входящий RTCP пакет in-place
func (g *secureGate) unprotectRTCP(data []byte) ([]byte, error) {
	sc := g.context()
	if sc == nil {
		return data, nil
	}
	n, err := sc.UnprotectRTCP(data, len(data))
	if err != nil {
		return nil, err
	}
	return data[:n], nil
}
