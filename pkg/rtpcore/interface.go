package rtpcore

import (
	"net"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Channel определяет интерфейс транспортного канала сессии.
// Канал владеет парой сокетов (RTP и RTCP) либо одним мультиплексированным
// сокетом и доставляет входящие датаграммы через callback. Оба потока
// сессии разделяют один канал.
type Channel interface {
	// Start запускает прием датаграмм
	Start() error

	// Send отправляет датаграмму через указанный сокет
	Send(kind SocketKind, dst *net.UDPAddr, data []byte) error

	// Close закрывает канал. Повторные вызовы безопасны.
	Close(reason string) error

	// LocalRTPAddr возвращает локальный адрес RTP сокета
	LocalRTPAddr() *net.UDPAddr

	// LocalRTCPAddr возвращает локальный адрес RTCP сокета
	// (совпадает с RTP при мультиплексировании)
	LocalRTCPAddr() *net.UDPAddr

	// OnDatagram регистрирует обработчик входящих датаграмм.
	// Обработчик вызывается из goroutine чтения соответствующего сокета.
	OnDatagram(handler func(kind SocketKind, src *net.UDPAddr, data []byte))

	// OnClosed регистрирует обработчик закрытия канала
	OnClosed(handler func(reason string))
}

// MediaControl определяет интерфейс RTCP учета для одного потока.
// Каждый MediaStream владеет ровно одной такой сессией, ключом служит
// локальный SSRC потока.
type MediaControl interface {
	// Start запускает периодическую генерацию отчетов
	Start() error

	// Close останавливает сессию, давая ей возможность отправить
	// финальный отчет (SR/RR + BYE) через report-ready callback
	Close(reason string)

	// SSRC возвращает локальный SSRC, за которым закреплена сессия
	SSRC() uint32

	// RecordSent учитывает отправленный RTP пакет потока
	RecordSent(pkt *rtp.Packet, payloadLen int)

	// RecordReceived учитывает принятый RTP пакет потока
	RecordReceived(src *net.UDPAddr, pkt *rtp.Packet)

	// ReportReceived обрабатывает входящий RTCP compound пакет
	ReportReceived(src *net.UDPAddr, report []rtcp.Packet)

	// OnReportReady регистрирует callback готового отчета. Сессия
	// сериализует и отправляет отчет на настроенный RTCP адрес.
	OnReportReady(handler func(report []rtcp.Packet))
}

// SecureContext определяет инжектируемые SRTP/SRTCP операции.
//
// Каждая операция работает in-place: принимает буфер, в начале которого
// лежат length байт данных (для protect с запасом емкости SRTPTrailerLen
// под auth tag), и возвращает фактическую длину результата. Ошибка
// означает, что пакет должен быть отброшен.
//
// Реализации должны быть безопасны для конкурентных вызовов: хуки
// устанавливаются один раз и читаются всеми send/receive путями без
// дополнительной синхронизации.
type SecureContext interface {
	ProtectRTP(buf []byte, length int) (int, error)
	UnprotectRTP(buf []byte, length int) (int, error)
	ProtectRTCP(buf []byte, length int) (int, error)
	UnprotectRTCP(buf []byte, length int) (int, error)
}
