package rtpcore

import (
	"net"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// fakeChannel реализация Channel для тестов: запоминает отправленные
// датаграммы и позволяет инжектировать входящие
type fakeChannel struct {
	mutex      sync.Mutex
	sent       []sentDatagram
	onDatagram func(kind SocketKind, src *net.UDPAddr, data []byte)
	onClosed   func(reason string)
	started    bool
	closed     int
}

type sentDatagram struct {
	kind SocketKind
	dst  *net.UDPAddr
	data []byte
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{}
}

func (f *fakeChannel) Start() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.started = true
	return nil
}

func (f *fakeChannel) Send(kind SocketKind, dst *net.UDPAddr, data []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	f.sent = append(f.sent, sentDatagram{kind: kind, dst: dst, data: buf})
	return nil
}

func (f *fakeChannel) Close(reason string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.closed++
	return nil
}

func (f *fakeChannel) LocalRTPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5004}
}

func (f *fakeChannel) LocalRTCPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5005}
}

func (f *fakeChannel) OnDatagram(handler func(kind SocketKind, src *net.UDPAddr, data []byte)) {
	f.mutex.Lock()
	f.onDatagram = handler
	f.mutex.Unlock()
}

func (f *fakeChannel) OnClosed(handler func(reason string)) {
	f.mutex.Lock()
	f.onClosed = handler
	f.mutex.Unlock()
}

// inject доставляет датаграмму так, как это сделала бы goroutine чтения
func (f *fakeChannel) inject(kind SocketKind, src *net.UDPAddr, data []byte) {
	f.mutex.Lock()
	handler := f.onDatagram
	f.mutex.Unlock()
	if handler != nil {
		handler(kind, src, data)
	}
}

// sentDatagrams возвращает копию списка отправленных датаграмм
func (f *fakeChannel) sentDatagrams() []sentDatagram {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := make([]sentDatagram, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeChannel) closeCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.closed
}

// fakeControl реализация MediaControl для тестов
type fakeControl struct {
	mutex    sync.Mutex
	ssrc     uint32
	started  bool
	closed   []string
	sent     []*rtp.Packet
	received []*rtp.Packet
	reports  [][]rtcp.Packet
	onReport func(report []rtcp.Packet)
}

func newFakeControl(ssrc uint32) *fakeControl {
	return &fakeControl{ssrc: ssrc}
}

func (f *fakeControl) Start() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.started = true
	return nil
}

func (f *fakeControl) Close(reason string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.closed = append(f.closed, reason)
}

func (f *fakeControl) SSRC() uint32 { return f.ssrc }

func (f *fakeControl) RecordSent(pkt *rtp.Packet, payloadLen int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.sent = append(f.sent, pkt)
}

func (f *fakeControl) RecordReceived(src *net.UDPAddr, pkt *rtp.Packet) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.received = append(f.received, pkt)
}

func (f *fakeControl) ReportReceived(src *net.UDPAddr, report []rtcp.Packet) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.reports = append(f.reports, report)
}

func (f *fakeControl) OnReportReady(handler func(report []rtcp.Packet)) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.onReport = handler
}

func (f *fakeControl) receivedCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.received)
}

func (f *fakeControl) reportCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.reports)
}

// fakeSecureContext хуки с фиктивным трейлером для тестов gate
type fakeSecureContext struct {
	trailer int
	fail    bool
}

func (f *fakeSecureContext) apply(buf []byte, length int) (int, error) {
	if f.fail {
		return 0, NewCoreError(ErrorCodeProtocolViolation, "crypto hook failure")
	}
	out := length + f.trailer
	if out > len(buf) {
		out = len(buf)
	}
	for i := length; i < out; i++ {
		buf[i] = 0xAB
	}
	return out, nil
}

func (f *fakeSecureContext) ProtectRTP(buf []byte, length int) (int, error) {
	return f.apply(buf, length)
}

func (f *fakeSecureContext) UnprotectRTP(buf []byte, length int) (int, error) {
	if f.fail {
		return 0, NewCoreError(ErrorCodeProtocolViolation, "crypto hook failure")
	}
	if length > f.trailer {
		return length - f.trailer, nil
	}
	return length, nil
}

func (f *fakeSecureContext) ProtectRTCP(buf []byte, length int) (int, error) {
	return f.apply(buf, length)
}

func (f *fakeSecureContext) UnprotectRTCP(buf []byte, length int) (int, error) {
	return f.UnprotectRTP(buf, length)
}

// newTestSession создает сессию поверх fakeChannel с fakeControl фабрикой
func newTestSession(cfg SessionConfig, channel *fakeChannel) (*Session, map[uint32]*fakeControl, error) {
	controls := make(map[uint32]*fakeControl)
	cfg.Channel = channel
	cfg.NewControl = func(cc ControlConfig) (MediaControl, error) {
		fc := newFakeControl(cc.SSRC)
		controls[cc.SSRC] = fc
		return fc, nil
	}
	s, err := NewSession(cfg)
	return s, controls, err
}
