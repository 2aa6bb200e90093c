package rtpcore

import "time"

// MediaType определяет тип медиа потока согласно RFC 3551
type MediaType int

const (
	MediaTypeAudio MediaType = iota
	MediaTypeVideo
)

func (m MediaType) String() string {
	switch m {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeVideo:
		return "video"
	default:
		return "unknown"
	}
}

// SocketKind различает сокеты транспортного канала
type SocketKind int

const (
	SocketRTP SocketKind = iota
	SocketRTCP
)

func (k SocketKind) String() string {
	if k == SocketRTCP {
		return "rtcp"
	}
	return "rtp"
}

// PayloadType определяет тип payload согласно RFC 3551 Table 4 & 5
type PayloadType uint8

// Статические payload типы для телефонии плюс общепринятые динамические
const (
	PayloadTypePCMU PayloadType = 0  // G.711 μ-law
	PayloadTypeGSM  PayloadType = 3  // GSM 06.10
	PayloadTypePCMA PayloadType = 8  // G.711 A-law
	PayloadTypeG722 PayloadType = 9  // G.722
	PayloadTypeJPEG PayloadType = 26 // Motion JPEG (RFC 2435)
	PayloadTypeG729 PayloadType = 18 // G.729

	// Динамические значения по умолчанию (согласуются через SDP)
	PayloadTypeVP8   PayloadType = 96
	PayloadTypeH264  PayloadType = 97
	PayloadTypeEvent PayloadType = 101 // telephone-event, RFC 4733
)

// Константы протокольного уровня
const (
	// MinRTPHeaderLen минимальный размер RTP заголовка (RFC 3550 Section 5.1)
	MinRTPHeaderLen = 12

	// MaxPayloadSegment максимальный размер одного RTP payload сегмента.
	// Кадры длиннее разбиваются на несколько пакетов.
	MaxPayloadSegment = 1400

	// SRTPTrailerLen резерв под SRTP/SRTCP auth tag и шифрование.
	// Буфер отправки выделяется с этим запасом, protect hook возвращает
	// фактическую длину.
	SRTPTrailerLen = 148

	// Границы первого байта для валидной RTP/RTCP датаграммы:
	// версия 2 с любыми padding/extension/CC битами
	minFirstByte = 128
	maxFirstByte = 191

	// Значения второго байта, по которым датаграмма классифицируется
	// как RTCP: Sender Report (200) и Receiver Report (201)
	rtcpSenderReportByte   = 0xC8
	rtcpReceiverReportByte = 0xC9
)

// Параметры передачи DTMF событий согласно RFC 4733
const (
	// DefaultEventSamplePeriod период между пакетами события
	DefaultEventSamplePeriod = 50 * time.Millisecond

	// eventDuplicateCount число дублей в начальной и конечной фазе события
	eventDuplicateCount = 3
)

// DefaultClockRate частота тактирования телефонного аудио (RFC 3551)
const DefaultClockRate = 8000
