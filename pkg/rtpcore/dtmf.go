package rtpcore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/rtp"
)

// DTMFDigit представляет DTMF цифру согласно RFC 4733
type DTMFDigit uint8

const (
	DTMF0     DTMFDigit = 0
	DTMF1     DTMFDigit = 1
	DTMF2     DTMFDigit = 2
	DTMF3     DTMFDigit = 3
	DTMF4     DTMFDigit = 4
	DTMF5     DTMFDigit = 5
	DTMF6     DTMFDigit = 6
	DTMF7     DTMFDigit = 7
	DTMF8     DTMFDigit = 8
	DTMF9     DTMFDigit = 9
	DTMFStar  DTMFDigit = 10 // *
	DTMFPound DTMFDigit = 11 // #
	DTMFA     DTMFDigit = 12
	DTMFB     DTMFDigit = 13
	DTMFC     DTMFDigit = 14
	DTMFD     DTMFDigit = 15
)

var dtmfDigitNames = [16]string{
	"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "*", "#", "A", "B", "C", "D",
}

func (d DTMFDigit) String() string {
	if int(d) < len(dtmfDigitNames) {
		return dtmfDigitNames[d]
	}
	return "?"
}

// RTPEvent описывает одно DTMF событие: и запрос на передачу, и принятое
// событие. Duration и TotalDuration выражены в timestamp единицах потока.
type RTPEvent struct {
	Event         DTMFDigit
	EndOfEvent    bool
	Volume        uint8  // 0-63, представляет -dBm
	Duration      uint16 // прошедшая длительность
	TotalDuration uint16 // полная длительность события
	PayloadID     uint8  // payload type события (telephone-event)
	Timestamp     uint32 // RTP timestamp (только для принятых событий)
}

// encodeEventPayload сериализует payload DTMF события согласно
// RFC 4733 Section 2.3:
//
//	byte 0    event code
//	byte 1    E|R|Volume
//	bytes 2-3 duration, big-endian
func encodeEventPayload(digit DTMFDigit, endOfEvent bool, volume uint8, duration uint16) []byte {
	data := make([]byte, 4)
	data[0] = uint8(digit) & 0x0F
	data[1] = volume & 0x3F
	if endOfEvent {
		data[1] |= 0x80
	}
	data[2] = byte(duration >> 8)
	data[3] = byte(duration)
	return data
}

// decodeEventPayload разбирает payload DTMF события
func decodeEventPayload(data []byte) (RTPEvent, error) {
	if len(data) < 4 {
		return RTPEvent{}, NewCoreError(ErrorCodeProtocolViolation,
			"некорректный размер DTMF payload: %d", len(data))
	}
	return RTPEvent{
		Event:      DTMFDigit(data[0] & 0x0F),
		EndOfEvent: data[1]&0x80 != 0,
		Volume:     data[1] & 0x3F,
		Duration:   uint16(data[2])<<8 | uint16(data[3]),
	}, nil
}

// Состояния и события конечного автомата DTMF отправителя.
// Автомат сериализует передачу: пока он в eventStateSending, второе
// событие не начинается и все frame send операции сессии — no-op.
// Гранулярность намеренно на всю сессию, не на поток.
const (
	eventStateIdle    = "idle"
	eventStateSending = "sending"

	eventTransBegin  = "begin"
	eventTransFinish = "finish"
)

// SendEvent передает одно DTMF событие согласно RFC 4733.
//
// Передача состоит из трех фаз. Начальная фаза отправляет
// eventDuplicateCount дублей со стартовым timestamp (marker только на
// самом первом пакете). Прогрессивная фаза раз в sample period
// увеличивает duration на шаг S = clockRate * period / 1000 и отправляет
// по одному пакету, пока duration + S < totalDuration. Конечная фаза
// отправляет eventDuplicateCount дублей с EndOfEvent и полной
// длительностью. Все пакеты события используют один timestamp; ход
// времени передается полем duration, не timestamp дельтами.
//
// Вызов блокирует до завершения или отмены контекста. Отмена проверяется
// на каждой границе цикла; уже отправленные пакеты не отзываются, отмена
// логируется и не возвращается как ошибка. Флаг "событие в процессе"
// снимается на любом пути выхода.
func (s *Session) SendEvent(ctx context.Context, digit DTMFDigit, totalDuration time.Duration, volume uint8) error {
	if s.isClosed() {
		return NewCoreError(ErrorCodeSessionClosed, "сессия закрыта")
	}

	s.streamMutex.RLock()
	stream := s.audio
	s.streamMutex.RUnlock()
	if stream == nil {
		return NewCoreError(ErrorCodeInvalidConfig, "аудио поток не настроен")
	}
	if s.rtpDestination() == nil {
		return NewCoreError(ErrorCodeInvalidConfig, "destination не установлен")
	}
	if s.cfg.Secure && !s.gate.isReady() {
		return NewCoreError(ErrorCodeSecureNotReady, "secure контекст не активирован")
	}

	if err := ctx.Err(); err != nil {
		return s.eventCancelled(digit, err)
	}

	// Захватываем автомат: второе конкурентное событие где бы то ни было
	// в сессии отклоняется
	if err := s.eventMachine.Event(ctx, eventTransBegin); err != nil {
		return WrapCoreError(ErrorCodeEventInProgress, "DTMF событие уже передается", err)
	}
	defer func() {
		// Гарантированный возврат в idle при любом исходе
		_ = s.eventMachine.Event(context.Background(), eventTransFinish)
	}()

	clockRate := s.cfg.ClockRate
	period := s.cfg.EventSamplePeriod
	step := uint16(uint64(clockRate) * uint64(period.Milliseconds()) / 1000)
	total := uint16(totalDuration.Seconds() * float64(clockRate))

	ev := RTPEvent{
		Event:     digit,
		Volume:    volume & 0x3F,
		PayloadID: s.cfg.EventPayloadID,
	}

	// Событие, умещающееся в один шаг, сразу помечается завершенным
	if total <= step {
		ev.EndOfEvent = true
		ev.Duration = total
	} else {
		ev.Duration = step
	}

	startTimestamp := stream.LastTimestamp()
	sentAny := false

	// Начальная фаза: дубли для устойчивости к потерям, marker на первом
	for i := 0; i < eventDuplicateCount; i++ {
		if err := ctx.Err(); err != nil {
			return s.eventCancelled(digit, err)
		}
		s.sendEventPacket(stream, ev, startTimestamp, i == 0 && !sentAny)
		sentAny = true
	}

	if err := s.eventWait(ctx, period); err != nil {
		return s.eventCancelled(digit, err)
	}

	// Прогрессивная фаза
	for !ev.EndOfEvent && ev.Duration+step < total {
		ev.Duration += step
		if err := ctx.Err(); err != nil {
			return s.eventCancelled(digit, err)
		}
		s.sendEventPacket(stream, ev, startTimestamp, false)
		if err := s.eventWait(ctx, period); err != nil {
			return s.eventCancelled(digit, err)
		}
	}

	// Конечная фаза: дубли с EndOfEvent и полной длительностью
	ev.EndOfEvent = true
	ev.Duration = total
	for i := 0; i < eventDuplicateCount; i++ {
		if err := ctx.Err(); err != nil {
			return s.eventCancelled(digit, err)
		}
		s.sendEventPacket(stream, ev, startTimestamp, false)
	}

	s.log.Debug("DTMF событие передано",
		slog.String("digit", digit.String()),
		slog.Duration("duration", totalDuration))
	return nil
}

// eventInProgress проверяет, идет ли передача DTMF события
func (s *Session) eventInProgress() bool {
	return s.eventMachine.Is(eventStateSending)
}

// eventWait кооперативно ждет один sample period с учетом отмены
func (s *Session) eventWait(ctx context.Context, period time.Duration) error {
	timer := time.NewTimer(period)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// eventCancelled логирует отмену события. Отмена не считается сбоем:
// вызывающему возвращается nil.
func (s *Session) eventCancelled(digit DTMFDigit, cause error) error {
	s.log.Info("передача DTMF события отменена",
		slog.String("digit", digit.String()),
		slog.String("cause", fmt.Sprint(cause)))
	return nil
}

// sendEventPacket отправляет один пакет DTMF события
func (s *Session) sendEventPacket(stream *MediaStream, ev RTPEvent, timestamp uint32, marker bool) {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    ev.PayloadID,
			SequenceNumber: stream.nextSequenceNumber(),
			Timestamp:      timestamp,
			SSRC:           stream.LocalSSRC(),
		},
		Payload: encodeEventPayload(ev.Event, ev.EndOfEvent, ev.Volume, ev.Duration),
	}
	s.transmitRTP(stream, pkt)
	metricEventPackets.Inc()
}
