package rtpcore

import (
	"context"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// ControlSession реализует RTCP учет одного медиа потока согласно RFC 3550.
//
// Каждая сессия закреплена за локальным SSRC потока. Сессия периодически
// формирует compound отчет (SR при наличии отправленных пакетов, иначе RR,
// плюс SDES с CNAME) и отдает его через report-ready callback; сериализацию
// и доставку выполняет владелец. Закрытие порождает финальный отчет с BYE.
//
// Статистика приема ведется по каждому удаленному SSRC: потери, jitter
// (RFC 3550 Appendix A.8), циклы sequence number, время последнего SR.
type ControlSession struct {
	ssrc      uint32
	cname     string
	clockRate uint32
	interval  time.Duration
	log       *slog.Logger

	// Счетчики отправки потока (atomic)
	packetsSent      uint64
	octetsSent       uint64
	lastRTPTimestamp uint32

	sources     map[uint32]*sourceStats
	sourceMutex sync.RWMutex

	handlerMutex sync.RWMutex
	onReport     func(report []rtcp.Packet)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active int32
}

// sourceStats статистика приема от одного удаленного источника
type sourceStats struct {
	baseSeq      uint16
	maxSeq       uint16
	cycles       uint16
	received     uint32
	expectedPrev uint32
	receivedPrev uint32
	lost         int32
	jitter       float64
	transit      int64

	lastSRNTP      uint32 // средние 32 бита NTP из последнего SR
	lastSRArrival  time.Time
	lastActivity   time.Time
	lastSourceAddr *net.UDPAddr
}

// ControlConfig конфигурация ControlSession
type ControlConfig struct {
	SSRC      uint32
	CNAME     string
	ClockRate uint32        // частота тактирования потока для расчета jitter
	Interval  time.Duration // 0 = 5 секунд (RFC 3550 Section 6.2)
	Logger    *slog.Logger
}

// NewControlSession создает RTCP сессию для потока. Сессия создается
// в неактивном состоянии, отчеты начинаются после Start.
func NewControlSession(config ControlConfig) (*ControlSession, error) {
	if config.SSRC == 0 {
		return nil, NewCoreError(ErrorCodeInvalidConfig, "SSRC обязателен")
	}

	interval := config.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	clockRate := config.ClockRate
	if clockRate == 0 {
		clockRate = DefaultClockRate
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ControlSession{
		ssrc:      config.SSRC,
		cname:     config.CNAME,
		clockRate: clockRate,
		interval:  interval,
		log:       logger.With(slog.String("component", "rtcp"), slog.Uint64("ssrc", uint64(config.SSRC))),
		sources:   make(map[uint32]*sourceStats),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SSRC возвращает локальный SSRC, за которым закреплена сессия
func (cs *ControlSession) SSRC() uint32 {
	return cs.ssrc
}

// OnReportReady регистрирует callback готового compound отчета
func (cs *ControlSession) OnReportReady(handler func(report []rtcp.Packet)) {
	cs.handlerMutex.Lock()
	cs.onReport = handler
	cs.handlerMutex.Unlock()
}

// Start запускает периодическую генерацию отчетов
func (cs *ControlSession) Start() error {
	if !atomic.CompareAndSwapInt32(&cs.active, 0, 1) {
		return NewCoreError(ErrorCodeInvalidConfig, "RTCP сессия уже запущена")
	}

	cs.wg.Add(1)
	go cs.reportLoop()
	return nil
}

// Close останавливает сессию и отдает финальный отчет с BYE.
// Повторные вызовы безопасны.
func (cs *ControlSession) Close(reason string) {
	if !atomic.CompareAndSwapInt32(&cs.active, 1, 0) {
		return
	}

	cs.cancel()
	cs.wg.Wait()

	report := cs.buildReport()
	report = append(report, &rtcp.Goodbye{
		Sources: []uint32{cs.ssrc},
		Reason:  reason,
	})
	cs.emit(report)
}

// reportLoop периодически формирует и отдает отчеты
func (cs *ControlSession) reportLoop() {
	defer cs.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			cs.log.Error("паника в reportLoop",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			cs.emit(cs.buildReport())
		}
	}
}

func (cs *ControlSession) emit(report []rtcp.Packet) {
	if len(report) == 0 {
		return
	}
	cs.handlerMutex.RLock()
	handler := cs.onReport
	cs.handlerMutex.RUnlock()
	if handler != nil {
		handler(report)
	}
}

// buildReport собирает compound отчет: SR при наличии отправленных
// пакетов, иначе RR, плюс SDES с CNAME
func (cs *ControlSession) buildReport() []rtcp.Packet {
	var report []rtcp.Packet

	blocks := cs.receptionReports()
	if atomic.LoadUint64(&cs.packetsSent) > 0 {
		now := time.Now()
		report = append(report, &rtcp.SenderReport{
			SSRC:        cs.ssrc,
			NTPTime:     ntpTime(now),
			RTPTime:     atomic.LoadUint32(&cs.lastRTPTimestamp),
			PacketCount: uint32(atomic.LoadUint64(&cs.packetsSent)),
			OctetCount:  uint32(atomic.LoadUint64(&cs.octetsSent)),
			Reports:     blocks,
		})
	} else {
		report = append(report, &rtcp.ReceiverReport{
			SSRC:    cs.ssrc,
			Reports: blocks,
		})
	}

	if cs.cname != "" {
		report = append(report, &rtcp.SourceDescription{
			Chunks: []rtcp.SourceDescriptionChunk{{
				Source: cs.ssrc,
				Items: []rtcp.SourceDescriptionItem{{
					Type: rtcp.SDESCNAME,
					Text: cs.cname,
				}},
			}},
		})
	}

	return report
}

// receptionReports строит reception report блоки по активным источникам
func (cs *ControlSession) receptionReports() []rtcp.ReceptionReport {
	cs.sourceMutex.Lock()
	defer cs.sourceMutex.Unlock()

	var blocks []rtcp.ReceptionReport
	for ssrc, stats := range cs.sources {
		if time.Since(stats.lastActivity) > 30*time.Second {
			continue
		}
		blocks = append(blocks, cs.buildReceptionReport(ssrc, stats))
	}
	return blocks
}

// buildReceptionReport строит один reception report блок согласно
// RFC 3550 Section 6.4.1 и Appendix A.3. Вызывается под sourceMutex.
func (cs *ControlSession) buildReceptionReport(ssrc uint32, stats *sourceStats) rtcp.ReceptionReport {
	extended := uint32(stats.cycles)<<16 | uint32(stats.maxSeq)
	expected := extended - uint32(stats.baseSeq) + 1

	// Доля потерь за интервал с прошлого отчета
	expectedInterval := expected - stats.expectedPrev
	receivedInterval := stats.received - stats.receivedPrev
	stats.expectedPrev = expected
	stats.receivedPrev = stats.received

	var fraction uint8
	if expectedInterval > 0 && expectedInterval > receivedInterval {
		lostInterval := expectedInterval - receivedInterval
		fraction = uint8(lostInterval << 8 / expectedInterval)
	}

	totalLost := int32(expected) - int32(stats.received)
	if totalLost < 0 {
		totalLost = 0
	}
	stats.lost = totalLost

	var delay uint32
	if !stats.lastSRArrival.IsZero() {
		// Единицы 1/65536 секунды
		delay = uint32(time.Since(stats.lastSRArrival).Seconds() * 65536)
	}

	return rtcp.ReceptionReport{
		SSRC:               ssrc,
		FractionLost:       fraction,
		TotalLost:          uint32(totalLost),
		LastSequenceNumber: extended,
		Jitter:             uint32(stats.jitter),
		LastSenderReport:   stats.lastSRNTP,
		Delay:              delay,
	}
}

// RecordSent учитывает отправленный RTP пакет потока
func (cs *ControlSession) RecordSent(pkt *rtp.Packet, payloadLen int) {
	atomic.AddUint64(&cs.packetsSent, 1)
	atomic.AddUint64(&cs.octetsSent, uint64(payloadLen))
	atomic.StoreUint32(&cs.lastRTPTimestamp, pkt.Header.Timestamp)
}

// RecordReceived учитывает принятый RTP пакет потока
func (cs *ControlSession) RecordReceived(src *net.UDPAddr, pkt *rtp.Packet) {
	now := time.Now()
	seq := pkt.Header.SequenceNumber

	cs.sourceMutex.Lock()
	defer cs.sourceMutex.Unlock()

	stats, exists := cs.sources[pkt.Header.SSRC]
	if !exists {
		stats = &sourceStats{
			baseSeq: seq,
			maxSeq:  seq,
		}
		cs.sources[pkt.Header.SSRC] = stats
	}

	// Wrap-around sequence number
	if seq < stats.maxSeq && stats.maxSeq-seq > 32768 {
		stats.cycles++
		stats.maxSeq = seq
	} else if seq > stats.maxSeq || stats.maxSeq-seq > 32768 {
		stats.maxSeq = seq
	}

	// Jitter согласно RFC 3550 Appendix A.8: времена в единицах
	// частоты тактирования потока
	arrival := int64(now.UnixNano()) * int64(cs.clockRate) / int64(time.Second)
	transit := arrival - int64(pkt.Header.Timestamp)
	if stats.transit != 0 {
		d := transit - stats.transit
		if d < 0 {
			d = -d
		}
		stats.jitter += (float64(d) - stats.jitter) / 16
	}
	stats.transit = transit

	stats.received++
	stats.lastActivity = now
	stats.lastSourceAddr = src
}

// ReportReceived обрабатывает входящий RTCP compound пакет
func (cs *ControlSession) ReportReceived(src *net.UDPAddr, report []rtcp.Packet) {
	for _, pkt := range report {
		switch p := pkt.(type) {
		case *rtcp.SenderReport:
			cs.recordSenderReport(p)
		case *rtcp.ReceiverReport:
			cs.recordReceiverReport(p)
		case *rtcp.Goodbye:
			// Удаленная сторона завершает передачу. Локальное состояние
			// не сбрасывается: привязки SSRC остаются липкими.
			cs.log.Info("получен RTCP BYE",
				slog.Any("sources", p.Sources),
				slog.String("reason", p.Reason),
				slog.String("remote_addr", src.String()))
		}
	}
}

// recordSenderReport запоминает данные SR для расчета LSR/DLSR
func (cs *ControlSession) recordSenderReport(sr *rtcp.SenderReport) {
	cs.sourceMutex.Lock()
	defer cs.sourceMutex.Unlock()

	stats, exists := cs.sources[sr.SSRC]
	if !exists {
		stats = &sourceStats{}
		cs.sources[sr.SSRC] = stats
	}
	stats.lastSRNTP = uint32(sr.NTPTime >> 16)
	stats.lastSRArrival = time.Now()
	stats.lastActivity = time.Now()
}

// recordReceiverReport обрабатывает reception report блоки о нашей передаче
func (cs *ControlSession) recordReceiverReport(rr *rtcp.ReceiverReport) {
	for _, block := range rr.Reports {
		if block.SSRC != cs.ssrc {
			continue
		}
		cs.log.Debug("отчет о качестве нашей передачи",
			slog.Uint64("fraction_lost", uint64(block.FractionLost)),
			slog.Uint64("total_lost", uint64(block.TotalLost)),
			slog.Uint64("jitter", uint64(block.Jitter)))
	}
}

// PacketsSent возвращает число отправленных пакетов потока
func (cs *ControlSession) PacketsSent() uint64 {
	return atomic.LoadUint64(&cs.packetsSent)
}

// OctetsSent возвращает число отправленных байт payload потока
func (cs *ControlSession) OctetsSent() uint64 {
	return atomic.LoadUint64(&cs.octetsSent)
}

// ntpTime переводит время в 64-битный NTP формат (RFC 3550 Section 4)
func ntpTime(t time.Time) uint64 {
	// NTP эпоха на 70 лет раньше Unix эпохи
	const ntpEpochOffset = 2208988800
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return secs<<32 | frac
}
