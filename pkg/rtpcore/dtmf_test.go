package rtpcore

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPayloadCodec(t *testing.T) {
	t.Run("КодированиеПолей", func(t *testing.T) {
		data := encodeEventPayload(DTMFPound, true, 10, 800)
		require.Len(t, data, 4)
		assert.Equal(t, byte(11), data[0])
		assert.Equal(t, byte(0x80|10), data[1])
		assert.Equal(t, byte(800>>8), data[2])
		assert.Equal(t, byte(800&0xFF), data[3])
	})

	t.Run("ОбратноеДекодирование", func(t *testing.T) {
		data := encodeEventPayload(DTMF7, false, 63, 1234)
		ev, err := decodeEventPayload(data)
		require.NoError(t, err)
		assert.Equal(t, DTMF7, ev.Event)
		assert.False(t, ev.EndOfEvent)
		assert.Equal(t, uint8(63), ev.Volume)
		assert.Equal(t, uint16(1234), ev.Duration)
	})

	t.Run("КороткийPayloadОшибка", func(t *testing.T) {
		_, err := decodeEventPayload([]byte{1, 2, 3})
		require.Error(t, err)
		assert.True(t, HasErrorCode(err, ErrorCodeProtocolViolation))
	})
}

func TestDTMFDigitString(t *testing.T) {
	assert.Equal(t, "5", DTMF5.String())
	assert.Equal(t, "*", DTMFStar.String())
	assert.Equal(t, "#", DTMFPound.String())
	assert.Equal(t, "D", DTMFD.String())
}

// decodeSentEvents разбирает отправленные датаграммы как DTMF пакеты
func decodeSentEvents(t *testing.T, channel *fakeChannel) ([]rtp.Packet, []RTPEvent) {
	t.Helper()
	var packets []rtp.Packet
	var events []RTPEvent
	for _, dg := range channel.sentDatagrams() {
		if dg.kind != SocketRTP {
			continue
		}
		pkt := rtp.Packet{}
		require.NoError(t, pkt.Unmarshal(dg.data))
		ev, err := decodeEventPayload(pkt.Payload)
		require.NoError(t, err)
		packets = append(packets, pkt)
		events = append(events, ev)
	}
	return packets, events
}

func TestSendEvent(t *testing.T) {
	newEventSession := func(t *testing.T) (*Session, *fakeChannel) {
		t.Helper()
		channel := newFakeChannel()
		s, _, err := newTestSession(DefaultSessionConfig(nil), channel)
		require.NoError(t, err)
		s.SetDestination(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10000}, nil)
		return s, channel
	}

	t.Run("ПолнаяПоследовательностьТрехФаз", func(t *testing.T) {
		s, channel := newEventSession(t)
		defer s.Close("тест завершен")

		// 125ms при 8000 Гц = 1000 timestamp единиц, шаг 400
		err := s.SendEvent(context.Background(), DTMF5, 125*time.Millisecond, 10)
		require.NoError(t, err)

		packets, events := decodeSentEvents(t, channel)
		require.Len(t, packets, 7, "3 стартовых + 1 прогрессивный + 3 конечных")

		// Начальная фаза: дубли с duration=400, marker на первом
		for i := 0; i < 3; i++ {
			assert.Equal(t, uint16(400), events[i].Duration)
			assert.False(t, events[i].EndOfEvent)
			assert.Equal(t, i == 0, packets[i].Header.Marker)
		}

		// Прогрессивная фаза
		assert.Equal(t, uint16(800), events[3].Duration)
		assert.False(t, events[3].EndOfEvent)

		// Конечная фаза: дубли с полной длительностью и EndOfEvent
		for i := 4; i < 7; i++ {
			assert.Equal(t, uint16(1000), events[i].Duration)
			assert.True(t, events[i].EndOfEvent)
			assert.False(t, packets[i].Header.Marker)
		}

		// Все пакеты события: одна цифра, один timestamp, растущий sequence
		for i, pkt := range packets {
			assert.Equal(t, DTMF5, events[i].Event)
			assert.Equal(t, packets[0].Header.Timestamp, pkt.Header.Timestamp)
			assert.Equal(t, uint8(PayloadTypeEvent), pkt.Header.PayloadType)
			if i > 0 {
				assert.Equal(t, packets[i-1].Header.SequenceNumber+1, pkt.Header.SequenceNumber)
			}
		}
	})

	t.Run("КороткоеСобытиеСразуЗавершено", func(t *testing.T) {
		s, channel := newEventSession(t)
		defer s.Close("тест завершен")

		// 25ms = 200 единиц, меньше шага 400: прогрессивная фаза пропускается
		err := s.SendEvent(context.Background(), DTMF1, 25*time.Millisecond, 7)
		require.NoError(t, err)

		_, events := decodeSentEvents(t, channel)
		require.Len(t, events, 6, "3 стартовых + 3 конечных")
		for _, ev := range events {
			assert.True(t, ev.EndOfEvent)
			assert.Equal(t, uint16(200), ev.Duration)
		}
	})

	t.Run("ОтмененныйКонтекстНичегоНеОтправляет", func(t *testing.T) {
		s, channel := newEventSession(t)
		defer s.Close("тест завершен")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := s.SendEvent(ctx, DTMF2, 125*time.Millisecond, 10)
		require.NoError(t, err, "отмена не считается сбоем")
		assert.Empty(t, channel.sentDatagrams())
		assert.False(t, s.eventInProgress(), "флаг снят после отмены")
	})

	t.Run("ВтороеКонкурентноеСобытиеОтклоняется", func(t *testing.T) {
		s, channel := newEventSession(t)
		defer s.Close("тест завершен")

		done := make(chan error, 1)
		go func() {
			done <- s.SendEvent(context.Background(), DTMF3, 200*time.Millisecond, 10)
		}()

		// Ждем начала передачи первого события
		require.Eventually(t, s.eventInProgress, time.Second, 5*time.Millisecond)

		err := s.SendEvent(context.Background(), DTMF4, 50*time.Millisecond, 10)
		require.Error(t, err)
		assert.True(t, HasErrorCode(err, ErrorCodeEventInProgress))

		// Кадры во время события тоже no-op
		before := len(channel.sentDatagrams())
		s.SendAudioFrame(160, []byte{1, 2, 3})
		later := len(channel.sentDatagrams())
		assert.LessOrEqual(t, later-before, 1,
			"аудио кадр не отправляется, растут только пакеты события")
		for _, dg := range channel.sentDatagrams()[before:later] {
			pkt := rtp.Packet{}
			require.NoError(t, pkt.Unmarshal(dg.data))
			assert.Equal(t, uint8(PayloadTypeEvent), pkt.Header.PayloadType)
		}

		require.NoError(t, <-done)
		assert.False(t, s.eventInProgress())
	})

	t.Run("БезDestinationОшибкаКонфигурации", func(t *testing.T) {
		channel := newFakeChannel()
		s, _, err := newTestSession(DefaultSessionConfig(nil), channel)
		require.NoError(t, err)
		defer s.Close("тест завершен")

		err = s.SendEvent(context.Background(), DTMF1, 50*time.Millisecond, 5)
		require.Error(t, err)
		assert.True(t, HasErrorCode(err, ErrorCodeInvalidConfig))
	})
}
