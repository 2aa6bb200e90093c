package rtpcore

import (
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// UDPChannelConfig конфигурация UDP канала
type UDPChannelConfig struct {
	// LocalAddr локальный адрес RTP сокета, например "0.0.0.0:5004".
	// Порт 0 означает выбор свободного порта системой.
	LocalAddr string

	// RTCPMux мультиплексирует RTP и RTCP на одном сокете (RFC 5761).
	// Без мультиплексирования RTCP сокет биндится на RTP порт + 1.
	RTCPMux bool

	// BufferSize размер буфера чтения (0 = 1500, MTU)
	BufferSize int

	// DSCP маркировка исходящего трафика для QoS (0 = без маркировки,
	// 46 = Expedited Forwarding для голоса)
	DSCP int

	Logger *slog.Logger
}

// DefaultUDPChannelConfig возвращает конфигурацию со случайным портом
// и DSCP EF маркировкой
func DefaultUDPChannelConfig() UDPChannelConfig {
	return UDPChannelConfig{
		LocalAddr:  "0.0.0.0:0",
		BufferSize: 1500,
		DSCP:       46,
	}
}

// UDPChannel реализует Channel поверх пары UDP сокетов либо одного
// мультиплексированного сокета. Каждый сокет обслуживается собственной
// goroutine чтения; доставка датаграмм сериализована per-socket.
type UDPChannel struct {
	cfg UDPChannelConfig
	log *slog.Logger

	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn // равен rtpConn при мультиплексировании

	handlerMutex sync.RWMutex
	onDatagram   func(kind SocketKind, src *net.UDPAddr, data []byte)
	onClosed     func(reason string)

	started int32
	closed  int32
	wg      sync.WaitGroup
}

// NewUDPChannel биндит сокеты канала. Прием начинается после Start.
func NewUDPChannel(cfg UDPChannelConfig) (*UDPChannel, error) {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1500
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	localAddr, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, WrapCoreError(ErrorCodeInvalidConfig, "разрешение локального адреса", err)
	}

	rtpConn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, WrapCoreError(ErrorCodeTransportSend, "создание RTP сокета", err)
	}
	if err := tuneMediaSocket(rtpConn, cfg.DSCP); err != nil {
		rtpConn.Close()
		return nil, WrapCoreError(ErrorCodeTransportSend, "настройка RTP сокета", err)
	}

	ch := &UDPChannel{
		cfg:     cfg,
		log:     logger.With(slog.String("component", "udp_channel")),
		rtpConn: rtpConn,
	}

	if cfg.RTCPMux {
		ch.rtcpConn = rtpConn
		return ch, nil
	}

	// Выделенный RTCP сокет на RTP порт + 1
	rtpPort := rtpConn.LocalAddr().(*net.UDPAddr).Port
	rtcpAddr := &net.UDPAddr{IP: localAddr.IP, Port: rtpPort + 1, Zone: localAddr.Zone}
	rtcpConn, err := net.ListenUDP("udp", rtcpAddr)
	if err != nil {
		rtpConn.Close()
		return nil, WrapCoreError(ErrorCodeTransportSend, "создание RTCP сокета", err)
	}
	if err := tuneMediaSocket(rtcpConn, cfg.DSCP); err != nil {
		rtpConn.Close()
		rtcpConn.Close()
		return nil, WrapCoreError(ErrorCodeTransportSend, "настройка RTCP сокета", err)
	}
	ch.rtcpConn = rtcpConn

	return ch, nil
}

// OnDatagram регистрирует обработчик входящих датаграмм.
// Должен вызываться до Start.
func (ch *UDPChannel) OnDatagram(handler func(kind SocketKind, src *net.UDPAddr, data []byte)) {
	ch.handlerMutex.Lock()
	ch.onDatagram = handler
	ch.handlerMutex.Unlock()
}

// OnClosed регистрирует обработчик закрытия канала
func (ch *UDPChannel) OnClosed(handler func(reason string)) {
	ch.handlerMutex.Lock()
	ch.onClosed = handler
	ch.handlerMutex.Unlock()
}

// Start запускает goroutine'ы чтения сокетов
func (ch *UDPChannel) Start() error {
	if !atomic.CompareAndSwapInt32(&ch.started, 0, 1) {
		return NewCoreError(ErrorCodeInvalidConfig, "канал уже запущен")
	}

	ch.wg.Add(1)
	go ch.readLoop(ch.rtpConn, SocketRTP)

	if ch.rtcpConn != ch.rtpConn {
		ch.wg.Add(1)
		go ch.readLoop(ch.rtcpConn, SocketRTCP)
	}

	ch.log.Debug("канал запущен",
		slog.String("rtp", ch.rtpConn.LocalAddr().String()),
		slog.Bool("mux", ch.cfg.RTCPMux))
	return nil
}

// Send отправляет датаграмму через указанный сокет
func (ch *UDPChannel) Send(kind SocketKind, dst *net.UDPAddr, data []byte) error {
	if atomic.LoadInt32(&ch.closed) == 1 {
		return NewCoreError(ErrorCodeSessionClosed, "канал закрыт")
	}
	if dst == nil {
		return NewCoreError(ErrorCodeInvalidConfig, "адрес назначения не установлен")
	}

	conn := ch.rtpConn
	if kind == SocketRTCP {
		conn = ch.rtcpConn
	}
	if _, err := conn.WriteToUDP(data, dst); err != nil {
		return WrapCoreError(ErrorCodeTransportSend, "отправка UDP датаграммы", err)
	}
	return nil
}

// Close закрывает сокеты канала. Повторные вызовы безопасны.
//
// Не ждет завершения goroutine'ов чтения: Close может вызываться из
// обработчика датаграммы, то есть из самой goroutine чтения, и ожидание
// привело бы к deadlock.
func (ch *UDPChannel) Close(reason string) error {
	if !atomic.CompareAndSwapInt32(&ch.closed, 0, 1) {
		return nil
	}

	err := ch.rtpConn.Close()
	if ch.rtcpConn != ch.rtpConn {
		if cerr := ch.rtcpConn.Close(); err == nil {
			err = cerr
		}
	}

	ch.log.Debug("канал закрыт", slog.String("reason", reason))
	ch.notifyClosed(reason)
	return err
}

// LocalRTPAddr возвращает локальный адрес RTP сокета
func (ch *UDPChannel) LocalRTPAddr() *net.UDPAddr {
	addr, _ := ch.rtpConn.LocalAddr().(*net.UDPAddr)
	return addr
}

// LocalRTCPAddr возвращает локальный адрес RTCP сокета
// (совпадает с RTP при мультиплексировании)
func (ch *UDPChannel) LocalRTCPAddr() *net.UDPAddr {
	addr, _ := ch.rtcpConn.LocalAddr().(*net.UDPAddr)
	return addr
}

// readLoop читает датаграммы одного сокета до закрытия канала
func (ch *UDPChannel) readLoop(conn *net.UDPConn, kind SocketKind) {
	defer ch.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			ch.log.Error("паника в readLoop",
				slog.String("socket", kind.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	buf := make([]byte, ch.cfg.BufferSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if atomic.LoadInt32(&ch.closed) == 1 {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			// Сокет умер вне Close: закрываем канал тем же путем
			ch.log.Warn("ошибка чтения сокета",
				slog.String("socket", kind.String()),
				slog.Any("error", err))
			_ = ch.Close("ошибка чтения: " + err.Error())
			return
		}

		ch.handlerMutex.RLock()
		handler := ch.onDatagram
		ch.handlerMutex.RUnlock()
		if handler == nil {
			continue
		}

		// Буфер переиспользуется следующим чтением, обработчику
		// передается копия
		data := make([]byte, n)
		copy(data, buf[:n])
		handler(kind, src, data)
	}
}

func (ch *UDPChannel) notifyClosed(reason string) {
	ch.handlerMutex.RLock()
	handler := ch.onClosed
	ch.handlerMutex.RUnlock()
	if handler != nil {
		handler(reason)
	}
}
