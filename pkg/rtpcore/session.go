package rtpcore

import (
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// StreamConfig описывает один медиа поток сессии
type StreamConfig struct {
	Media MediaType

	// LocalPayloadID payload type исходящих пакетов потока
	LocalPayloadID uint8

	// RemotePayloadIDs набор payload типов, объявленных удаленной стороной.
	// Пустой набор означает "принимать любой" и используется как audio
	// fallback при сопоставлении потоков.
	RemotePayloadIDs []uint8
}

// SessionConfig конфигурация RTP сессии
type SessionConfig struct {
	// Channel транспортный канал сессии (обязателен)
	Channel Channel

	// FirstStream первый поток сессии, создается при конструировании.
	// Второй добавляется через AddStream.
	FirstStream StreamConfig

	// Secure включает двухфазный secure режим: обработка трафика
	// блокируется до вызова SetSecurityContext
	Secure bool

	// ClockRate частота тактирования аудио потока (0 = 8000)
	ClockRate uint32

	// EventPayloadID payload type для telephone-event (0 = 101)
	EventPayloadID uint8

	// EventSamplePeriod период между пакетами DTMF события (0 = 50ms)
	EventSamplePeriod time.Duration

	// CNAME каноническое имя источника для SDES
	CNAME string

	// ReportInterval интервал RTCP отчетов (0 = 5s)
	ReportInterval time.Duration

	// NewControl фабрика RTCP сессий. nil = NewControlSession.
	NewControl func(ControlConfig) (MediaControl, error)

	Logger *slog.Logger
}

// DefaultSessionConfig возвращает конфигурацию аудио сессии PCMU
func DefaultSessionConfig(channel Channel) SessionConfig {
	return SessionConfig{
		Channel: channel,
		FirstStream: StreamConfig{
			Media:            MediaTypeAudio,
			LocalPayloadID:   uint8(PayloadTypePCMU),
			RemotePayloadIDs: []uint8{uint8(PayloadTypePCMU), uint8(PayloadTypePCMA)},
		},
		ClockRate:         DefaultClockRate,
		EventPayloadID:    uint8(PayloadTypeEvent),
		EventSamplePeriod: DefaultEventSamplePeriod,
	}
}

// Session представляет одну RTP сессию с 1-2 мультиплексированными
// потоками (аудио и опционально видео) поверх общего транспортного канала.
//
// Жизненный цикл: NewSession открывает транспорт и создает первый поток;
// AddStream добавляет второй; Close одноразово закрывает RTCP сессии,
// транспорт и уведомляет подписчиков. Повторные и транспортные закрытия
// поглощаются тем же идемпотентным путем.
//
// Конкурентная модель: прием выполняется в goroutine'ах чтения канала;
// отправки не блокируются на сетевом I/O, транспортные ошибки поглощаются
// с логированием. Конкурентные отправки одного потока гонятся на
// sequence counter и не защищаются внутренне.
type Session struct {
	cfg  SessionConfig
	log  *slog.Logger
	chn  Channel
	gate *secureGate

	streamMutex  sync.RWMutex
	audio        *MediaStream
	video        *MediaStream
	audioControl MediaControl
	videoControl MediaControl

	// Контролы, созданные до активации secure контекста: их запуск
	// откладывается до SetSecurityContext
	pendingControls []MediaControl

	destMutex sync.RWMutex
	rtpDest   *net.UDPAddr
	rtcpDest  *net.UDPAddr

	// Сериализация DTMF: idle <-> sending, одно событие на всю сессию
	eventMachine *fsm.FSM

	subMutex      sync.RWMutex
	onPacket      []func(stream *MediaStream, pkt *rtp.Packet)
	onEvent       []func(ev RTPEvent)
	onReportRecv  []func(src *net.UDPAddr, report []rtcp.Packet)
	onReportSent  []func(report []rtcp.Packet)
	onDestChanged []func(rtpAddr, rtcpAddr *net.UDPAddr)
	onClosed      []func(reason string)

	closed int32
}

// NewSession создает сессию: открывает транспорт, запускает прием и
// создает первый поток. Ошибка конфигурации фатальна; все последующие
// ошибки per-packet поглощаются локально.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Channel == nil {
		return nil, NewCoreError(ErrorCodeInvalidConfig, "транспортный канал обязателен")
	}
	if cfg.ClockRate == 0 {
		cfg.ClockRate = DefaultClockRate
	}
	if cfg.EventPayloadID == 0 {
		cfg.EventPayloadID = uint8(PayloadTypeEvent)
	}
	if cfg.EventSamplePeriod == 0 {
		cfg.EventSamplePeriod = DefaultEventSamplePeriod
	}
	if cfg.NewControl == nil {
		cfg.NewControl = func(cc ControlConfig) (MediaControl, error) {
			return NewControlSession(cc)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg:  cfg,
		log:  logger.With(slog.String("component", "rtp_session")),
		chn:  cfg.Channel,
		gate: newSecureGate(cfg.Secure),
		eventMachine: fsm.NewFSM(
			eventStateIdle,
			fsm.Events{
				{Name: eventTransBegin, Src: []string{eventStateIdle}, Dst: eventStateSending},
				{Name: eventTransFinish, Src: []string{eventStateSending}, Dst: eventStateIdle},
			},
			fsm.Callbacks{},
		),
	}

	s.chn.OnDatagram(s.handleDatagram)
	s.chn.OnClosed(func(reason string) {
		s.Close("transport: " + reason)
	})

	if err := s.chn.Start(); err != nil {
		return nil, WrapCoreError(ErrorCodeTransportSend, "запуск транспорта", err)
	}

	if _, err := s.AddStream(cfg.FirstStream); err != nil {
		_ = s.chn.Close("ошибка конфигурации потока")
		return nil, err
	}

	s.log.Info("RTP сессия создана",
		slog.String("media", cfg.FirstStream.Media.String()),
		slog.Bool("secure", cfg.Secure),
		slog.String("local_rtp", addrString(s.chn.LocalRTPAddr())))
	return s, nil
}

// AddStream создает поток указанного типа медиа или обновляет набор
// принимаемых payload типов уже существующего. Возвращает поток.
func (s *Session) AddStream(cfg StreamConfig) (*MediaStream, error) {
	if s.isClosed() {
		return nil, NewCoreError(ErrorCodeSessionClosed, "сессия закрыта")
	}
	if cfg.Media != MediaTypeAudio && cfg.Media != MediaTypeVideo {
		return nil, NewCoreError(ErrorCodeUnsupportedMediaType,
			"неподдерживаемый тип медиа: %d", int(cfg.Media))
	}

	s.streamMutex.Lock()
	defer s.streamMutex.Unlock()

	existing := s.audio
	if cfg.Media == MediaTypeVideo {
		existing = s.video
	}
	if existing != nil {
		existing.setRemotePayloadIDs(cfg.RemotePayloadIDs)
		return existing, nil
	}

	stream := newMediaStream(cfg.Media, cfg.LocalPayloadID, cfg.RemotePayloadIDs)
	clockRate := s.cfg.ClockRate
	if cfg.Media == MediaTypeVideo {
		clockRate = 90000
	}
	control, err := s.cfg.NewControl(ControlConfig{
		SSRC:      stream.LocalSSRC(),
		CNAME:     s.cfg.CNAME,
		ClockRate: clockRate,
		Interval:  s.cfg.ReportInterval,
		Logger:    s.log,
	})
	if err != nil {
		return nil, WrapCoreError(ErrorCodeInvalidConfig, "создание RTCP сессии", err)
	}
	control.OnReportReady(func(report []rtcp.Packet) {
		s.sendControlReport(report)
	})

	if cfg.Media == MediaTypeVideo {
		s.video, s.videoControl = stream, control
	} else {
		s.audio, s.audioControl = stream, control
	}

	// RTCP каданс удерживается до активации secure контекста
	if s.gate.isReady() {
		if err := control.Start(); err != nil {
			return nil, err
		}
	} else {
		s.pendingControls = append(s.pendingControls, control)
	}

	s.log.Debug("поток добавлен",
		slog.String("media", cfg.Media.String()),
		slog.Uint64("ssrc", uint64(stream.LocalSSRC())),
		slog.Uint64("payload_type", uint64(cfg.LocalPayloadID)))
	return stream, nil
}

// SetDestination устанавливает адреса назначения RTP и RTCP.
// nil rtcpAddr означает соглашение "RTP порт + 1".
func (s *Session) SetDestination(rtpAddr, rtcpAddr *net.UDPAddr) {
	if rtpAddr != nil && rtcpAddr == nil {
		rtcpAddr = &net.UDPAddr{IP: rtpAddr.IP, Port: rtpAddr.Port + 1, Zone: rtpAddr.Zone}
	}

	s.destMutex.Lock()
	s.rtpDest, s.rtcpDest = rtpAddr, rtcpAddr
	s.destMutex.Unlock()

	s.log.Info("адрес назначения обновлен",
		slog.String("rtp", addrString(rtpAddr)),
		slog.String("rtcp", addrString(rtcpAddr)))
	s.notifyDestChanged(rtpAddr, rtcpAddr)
}

// SetSecurityContext устанавливает SRTP/SRTCP хуки, помечает secure
// сессию готовой и запускает отложенные RTCP сессии. Вызывается один раз
// после завершения DTLS handshake или обмена ключами.
func (s *Session) SetSecurityContext(sc SecureContext) error {
	if s.isClosed() {
		return NewCoreError(ErrorCodeSessionClosed, "сессия закрыта")
	}
	if !s.cfg.Secure {
		return NewCoreError(ErrorCodeInvalidConfig, "сессия создана без secure режима")
	}

	s.gate.install(sc)

	s.streamMutex.Lock()
	pending := s.pendingControls
	s.pendingControls = nil
	s.streamMutex.Unlock()

	for _, control := range pending {
		if err := control.Start(); err != nil {
			s.log.Error("запуск отложенной RTCP сессии",
				slog.Uint64("ssrc", uint64(control.SSRC())),
				slog.Any("error", err))
		}
	}

	s.log.Info("secure контекст активирован")
	return nil
}

// LocalRTPAddr возвращает локальный адрес RTP сокета
func (s *Session) LocalRTPAddr() *net.UDPAddr {
	return s.chn.LocalRTPAddr()
}

// LocalRTCPAddr возвращает локальный адрес RTCP сокета
func (s *Session) LocalRTCPAddr() *net.UDPAddr {
	return s.chn.LocalRTCPAddr()
}

// AudioStream возвращает аудио поток сессии, nil если не настроен
func (s *Session) AudioStream() *MediaStream {
	s.streamMutex.RLock()
	defer s.streamMutex.RUnlock()
	return s.audio
}

// VideoStream возвращает видео поток сессии, nil если не настроен
func (s *Session) VideoStream() *MediaStream {
	s.streamMutex.RLock()
	defer s.streamMutex.RUnlock()
	return s.video
}

// SendAudioFrame отправляет закодированный аудио кадр (PCMU/PCMA/G.722
// и подобные). Кадры длиннее MaxPayloadSegment разбиваются на несколько
// пакетов с общим timestamp.
func (s *Session) SendAudioFrame(timestamp uint32, frame []byte) {
	s.sendFrame(MediaTypeAudio, timestamp, segmentAudio(frame))
}

// SendVP8Frame отправляет VP8 кадр (RFC 7741)
func (s *Session) SendVP8Frame(timestamp uint32, frame []byte) {
	s.sendFrame(MediaTypeVideo, timestamp, segmentVP8(frame))
}

// SendJPEGFrame отправляет Motion-JPEG кадр (RFC 2435)
func (s *Session) SendJPEGFrame(timestamp uint32, frame []byte, quality, width, height int) {
	s.sendFrame(MediaTypeVideo, timestamp, segmentJPEG(frame, quality, width, height))
}

// SendH264Frame отправляет H264 кадр, один NAL unit на кадр
func (s *Session) SendH264Frame(timestamp uint32, frame []byte) {
	s.sendFrame(MediaTypeVideo, timestamp, segmentH264(frame))
}

// sendFrame общий путь отправки кадра: guard проверки, пакетизация уже
// выполнена вызывающим. Закрытая сессия, идущее DTMF событие и
// неустановленный destination делают вызов тихим no-op; ненастроенный
// поток логирует предупреждение. Per-packet ошибки поглощаются.
func (s *Session) sendFrame(media MediaType, timestamp uint32, segments []payloadSegment) {
	if s.isClosed() || s.eventInProgress() || s.rtpDestination() == nil {
		return
	}

	s.streamMutex.RLock()
	stream := s.audio
	if media == MediaTypeVideo {
		stream = s.video
	}
	s.streamMutex.RUnlock()

	if stream == nil {
		s.log.Warn("отправка кадра для ненастроенного потока",
			slog.String("media", media.String()))
		return
	}

	if s.cfg.Secure && !s.gate.isReady() {
		s.log.Warn("отправка до активации secure контекста отброшена",
			slog.String("media", media.String()))
		return
	}

	stream.setLastTimestamp(timestamp)
	for _, seg := range segments {
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         seg.marker,
				PayloadType:    stream.LocalPayloadID(),
				SequenceNumber: stream.nextSequenceNumber(),
				Timestamp:      timestamp,
				SSRC:           stream.LocalSSRC(),
			},
			Payload: seg.data,
		}
		s.transmitRTP(stream, pkt)
	}
}

// transmitRTP сериализует, шифрует и отправляет один RTP пакет.
// Транспортные и crypto ошибки поглощаются с логированием: один
// потерянный пакет не должен разрушать живую сессию.
func (s *Session) transmitRTP(stream *MediaStream, pkt *rtp.Packet) {
	dst := s.rtpDestination()
	if dst == nil {
		return
	}

	raw, err := pkt.Marshal()
	if err != nil {
		s.log.Error("сериализация RTP пакета", slog.Any("error", err))
		return
	}

	data, err := s.gate.protectRTP(raw)
	if err != nil {
		s.log.Error("SRTP protect", slog.Any("error", err))
		metricProtectErrors.Inc()
		return
	}

	if err := s.chn.Send(SocketRTP, dst, data); err != nil {
		s.log.Warn("отправка RTP датаграммы",
			slog.String("dst", dst.String()),
			slog.Any("error", err))
		metricSendErrors.Inc()
		return
	}

	control := s.controlFor(stream)
	if control != nil {
		control.RecordSent(pkt, len(pkt.Payload))
	}
	metricPacketsSent.Inc()
	metricBytesSent.Add(float64(len(data)))
}

// sendControlReport сериализует и отправляет готовый RTCP compound отчет.
// Не проверяет closed флаг: финальный отчет с BYE отправляется из Close,
// пока транспорт еще открыт.
func (s *Session) sendControlReport(report []rtcp.Packet) {
	s.destMutex.RLock()
	dst := s.rtcpDest
	s.destMutex.RUnlock()
	if dst == nil {
		return
	}

	raw, err := rtcp.Marshal(report)
	if err != nil {
		s.log.Error("сериализация RTCP отчета", slog.Any("error", err))
		return
	}

	data, err := s.gate.protectRTCP(raw)
	if err != nil {
		s.log.Error("SRTCP protect", slog.Any("error", err))
		metricProtectErrors.Inc()
		return
	}

	if err := s.chn.Send(SocketRTCP, dst, data); err != nil {
		s.log.Warn("отправка RTCP датаграммы",
			slog.String("dst", dst.String()),
			slog.Any("error", err))
		metricSendErrors.Inc()
		return
	}

	metricReportsSent.Inc()
	s.notifyReportSent(report)
}

// handleDatagram классифицирует и маршрутизирует входящую датаграмму.
// Вызывается из goroutine чтения соответствующего сокета канала.
//
// Эвристика классификации: валидная датаграмма начинается с байта в
// диапазоне [128,191] (версия 2); второй байт 200/201 означает RTCP
// SR/RR. Динамические RTP payload типы на практике не пересекаются с
// 200/201, но это эвристика, не гарантия.
func (s *Session) handleDatagram(kind SocketKind, src *net.UDPAddr, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("паника при обработке датаграммы",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if s.isClosed() {
		return
	}
	if len(data) <= MinRTPHeaderLen || data[0] < minFirstByte || data[0] > maxFirstByte {
		metricDatagramsDropped.Inc()
		return
	}
	if !s.gate.isReady() {
		s.log.Warn("прием до активации secure контекста отброшен",
			slog.String("src", src.String()))
		metricDatagramsDropped.Inc()
		return
	}

	if kind == SocketRTCP || data[1] == rtcpSenderReportByte || data[1] == rtcpReceiverReportByte {
		s.handleRTCP(src, data)
		return
	}
	s.handleRTP(src, data)
}

// handleRTP обрабатывает входящий RTP пакет: decrypt, parse, match,
// deliver. Пакет с payload типом telephone-event декодируется как DTMF
// событие вместо generic уведомления (взаимоисключающе).
func (s *Session) handleRTP(src *net.UDPAddr, data []byte) {
	plain, err := s.gate.unprotectRTP(data)
	if err != nil {
		s.log.Warn("SRTP unprotect", slog.Any("error", err))
		metricDatagramsDropped.Inc()
		return
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(plain); err != nil {
		s.log.Warn("разбор RTP пакета",
			slog.String("src", src.String()),
			slog.Any("error", err))
		metricDatagramsDropped.Inc()
		return
	}

	stream, matched := s.matchStream(pkt.Header.SSRC, pkt.Header.PayloadType)
	if !matched {
		// Несопоставленный пакет все равно доставляется подписчикам,
		// но не учитывается ни одной RTCP сессией
		s.log.Warn("RTP пакет не сопоставлен ни одному потоку",
			slog.Uint64("ssrc", uint64(pkt.Header.SSRC)),
			slog.Uint64("payload_type", uint64(pkt.Header.PayloadType)))
		s.notifyPacket(nil, pkt)
		metricPacketsReceived.Inc()
		return
	}

	if pkt.Header.PayloadType == s.cfg.EventPayloadID {
		ev, err := decodeEventPayload(pkt.Payload)
		if err != nil {
			s.log.Warn("разбор DTMF payload", slog.Any("error", err))
			metricDatagramsDropped.Inc()
			return
		}
		ev.PayloadID = pkt.Header.PayloadType
		ev.Timestamp = pkt.Header.Timestamp
		s.notifyEvent(ev)
	} else {
		s.notifyPacket(stream, pkt)
	}

	if control := s.controlFor(stream); control != nil {
		control.RecordReceived(src, pkt)
	}
	metricPacketsReceived.Inc()
}

// handleRTCP обрабатывает входящий RTCP compound пакет
func (s *Session) handleRTCP(src *net.UDPAddr, data []byte) {
	plain, err := s.gate.unprotectRTCP(data)
	if err != nil {
		s.log.Warn("SRTCP unprotect", slog.Any("error", err))
		metricDatagramsDropped.Inc()
		return
	}

	report, err := rtcp.Unmarshal(plain)
	if err != nil {
		s.log.Warn("разбор RTCP пакета",
			slog.String("src", src.String()),
			slog.Any("error", err))
		metricDatagramsDropped.Inc()
		return
	}

	control := s.matchControl(report)
	if control != nil {
		control.ReportReceived(src, report)
	}
	metricReportsReceived.Inc()
	s.notifyReportReceived(src, report)
}

// matchControl разрешает RTCP compound пакет в RTCP сессию одного из
// потоков: единственная сессия получает все безусловно; иначе sender
// SSRC отчета SR сравнивается с выученными remote SSRC, а SSRC
// reception report блоков RR — с локальными SSRC потоков.
func (s *Session) matchControl(report []rtcp.Packet) MediaControl {
	s.streamMutex.RLock()
	audio, video := s.audio, s.video
	audioControl, videoControl := s.audioControl, s.videoControl
	s.streamMutex.RUnlock()

	if audioControl == nil {
		return videoControl
	}
	if videoControl == nil {
		return audioControl
	}

	match := func(stream *MediaStream, control MediaControl) MediaControl {
		for _, pkt := range report {
			switch p := pkt.(type) {
			case *rtcp.SenderReport:
				if remote, ok := stream.RemoteSSRC(); ok && remote == p.SSRC {
					return control
				}
			case *rtcp.ReceiverReport:
				for _, block := range p.Reports {
					if block.SSRC == stream.LocalSSRC() {
						return control
					}
				}
			}
		}
		return nil
	}

	if control := match(audio, audioControl); control != nil {
		return control
	}
	if control := match(video, videoControl); control != nil {
		return control
	}
	return audioControl
}

// Close одноразово закрывает сессию: останавливает RTCP сессии (они
// отправляют финальный отчет с BYE, пока транспорт открыт), закрывает
// транспорт и уведомляет подписчиков. Повторные и инициированные
// транспортом закрытия поглощаются тем же путем.
func (s *Session) Close(reason string) {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}

	s.streamMutex.RLock()
	audioControl, videoControl := s.audioControl, s.videoControl
	s.streamMutex.RUnlock()

	if audioControl != nil {
		audioControl.Close(reason)
	}
	if videoControl != nil {
		videoControl.Close(reason)
	}

	if err := s.chn.Close(reason); err != nil {
		s.log.Warn("закрытие транспорта", slog.Any("error", err))
	}

	s.log.Info("RTP сессия закрыта", slog.String("reason", reason))
	s.notifyClosed(reason)
}

// isClosed проверяет закрыта ли сессия
func (s *Session) isClosed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}

// rtpDestination возвращает текущий адрес назначения RTP, nil если не задан
func (s *Session) rtpDestination() *net.UDPAddr {
	s.destMutex.RLock()
	defer s.destMutex.RUnlock()
	return s.rtpDest
}

// controlFor возвращает RTCP сессию потока
func (s *Session) controlFor(stream *MediaStream) MediaControl {
	if stream == nil {
		return nil
	}
	s.streamMutex.RLock()
	defer s.streamMutex.RUnlock()
	if stream == s.video {
		return s.videoControl
	}
	if stream == s.audio {
		return s.audioControl
	}
	return nil
}

// Подписки. Все обработчики вызываются синхронно из потока доставки;
// паника обработчика не разрушает сессию (no-throw контракт).

// OnPacketReceived регистрирует обработчик принятых медиа пакетов.
// stream равен nil для пакетов, не сопоставленных ни одному потоку.
func (s *Session) OnPacketReceived(handler func(stream *MediaStream, pkt *rtp.Packet)) {
	s.subMutex.Lock()
	s.onPacket = append(s.onPacket, handler)
	s.subMutex.Unlock()
}

// OnEventReceived регистрирует обработчик принятых DTMF событий
func (s *Session) OnEventReceived(handler func(ev RTPEvent)) {
	s.subMutex.Lock()
	s.onEvent = append(s.onEvent, handler)
	s.subMutex.Unlock()
}

// OnReportReceived регистрирует обработчик принятых RTCP отчетов
func (s *Session) OnReportReceived(handler func(src *net.UDPAddr, report []rtcp.Packet)) {
	s.subMutex.Lock()
	s.onReportRecv = append(s.onReportRecv, handler)
	s.subMutex.Unlock()
}

// OnReportSent регистрирует обработчик отправленных RTCP отчетов
func (s *Session) OnReportSent(handler func(report []rtcp.Packet)) {
	s.subMutex.Lock()
	s.onReportSent = append(s.onReportSent, handler)
	s.subMutex.Unlock()
}

// OnDestinationChanged регистрирует обработчик смены адреса назначения
func (s *Session) OnDestinationChanged(handler func(rtpAddr, rtcpAddr *net.UDPAddr)) {
	s.subMutex.Lock()
	s.onDestChanged = append(s.onDestChanged, handler)
	s.subMutex.Unlock()
}

// OnClosed регистрирует обработчик закрытия сессии
func (s *Session) OnClosed(handler func(reason string)) {
	s.subMutex.Lock()
	s.onClosed = append(s.onClosed, handler)
	s.subMutex.Unlock()
}

func (s *Session) notifyPacket(stream *MediaStream, pkt *rtp.Packet) {
	s.subMutex.RLock()
	handlers := s.onPacket
	s.subMutex.RUnlock()
	for _, h := range handlers {
		s.safeCall(func() { h(stream, pkt) })
	}
}

func (s *Session) notifyEvent(ev RTPEvent) {
	s.subMutex.RLock()
	handlers := s.onEvent
	s.subMutex.RUnlock()
	for _, h := range handlers {
		s.safeCall(func() { h(ev) })
	}
}

func (s *Session) notifyReportReceived(src *net.UDPAddr, report []rtcp.Packet) {
	s.subMutex.RLock()
	handlers := s.onReportRecv
	s.subMutex.RUnlock()
	for _, h := range handlers {
		s.safeCall(func() { h(src, report) })
	}
}

func (s *Session) notifyReportSent(report []rtcp.Packet) {
	s.subMutex.RLock()
	handlers := s.onReportSent
	s.subMutex.RUnlock()
	for _, h := range handlers {
		s.safeCall(func() { h(report) })
	}
}

func (s *Session) notifyDestChanged(rtpAddr, rtcpAddr *net.UDPAddr) {
	s.subMutex.RLock()
	handlers := s.onDestChanged
	s.subMutex.RUnlock()
	for _, h := range handlers {
		s.safeCall(func() { h(rtpAddr, rtcpAddr) })
	}
}

func (s *Session) notifyClosed(reason string) {
	s.subMutex.RLock()
	handlers := s.onClosed
	s.subMutex.RUnlock()
	for _, h := range handlers {
		s.safeCall(func() { h(reason) })
	}
}

// safeCall вызывает обработчик подписчика, поглощая панику
func (s *Session) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("паника в обработчике подписчика",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

func addrString(addr *net.UDPAddr) string {
	if addr == nil {
		return "<nil>"
	}
	return addr.String()
}
