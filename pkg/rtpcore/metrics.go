package rtpcore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики пакета. Регистрируются один раз в default registry;
// общие для всех сессий процесса.
var (
	metricPacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "media",
		Subsystem: "rtp",
		Name:      "packets_sent_total",
		Help:      "Отправленные RTP пакеты",
	})

	metricBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "media",
		Subsystem: "rtp",
		Name:      "bytes_sent_total",
		Help:      "Отправленные байты RTP датаграмм (после шифрования)",
	})

	metricPacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "media",
		Subsystem: "rtp",
		Name:      "packets_received_total",
		Help:      "Принятые и разобранные RTP пакеты",
	})

	metricEventPackets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "media",
		Subsystem: "rtp",
		Name:      "event_packets_sent_total",
		Help:      "Отправленные пакеты DTMF событий (RFC 4733)",
	})

	metricDatagramsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "media",
		Subsystem: "rtp",
		Name:      "datagrams_dropped_total",
		Help:      "Отброшенные входящие датаграммы (невалидные, нерасшифрованные, до активации secure)",
	})

	metricReportsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "media",
		Subsystem: "rtcp",
		Name:      "reports_sent_total",
		Help:      "Отправленные RTCP compound отчеты",
	})

	metricReportsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "media",
		Subsystem: "rtcp",
		Name:      "reports_received_total",
		Help:      "Принятые RTCP compound отчеты",
	})

	metricSendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "media",
		Subsystem: "rtp",
		Name:      "send_errors_total",
		Help:      "Поглощенные транспортные ошибки отправки",
	})

	metricProtectErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "media",
		Subsystem: "rtp",
		Name:      "protect_errors_total",
		Help:      "Ошибки SRTP/SRTCP protect хуков",
	})
)
