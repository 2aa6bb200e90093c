// mediacall - минимальный SIP ответчик поверх rtpcore.
//
// Принимает входящий INVITE, согласует аудио кодек из SDP предложения,
// поднимает RTP сессию и возвращает принятый звук обратно отправителю
// (loopback). Принятые DTMF цифры логируются. Метрики доступны на
// /metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/media_transport/pkg/format"
	"github.com/arzzra/media_transport/pkg/rtpcore"
)

var supportedFormats = []format.MediaFormat{format.PCMU, format.PCMA, format.G722}

func main() {
	sipAddr := flag.String("sip", "0.0.0.0:5060", "адрес SIP сервера")
	mediaIP := flag.String("media-ip", "127.0.0.1", "IP для медиа в SDP ответе")
	metricsAddr := flag.String("metrics", "127.0.0.1:9091", "адрес HTTP метрик")
	debug := flag.Bool("debug", false, "debug логирование")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Error("HTTP метрики", slog.Any("error", err))
		}
	}()

	ua, err := sipgo.NewUA()
	if err != nil {
		log.Error("создание UA", slog.Any("error", err))
		os.Exit(1)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		log.Error("создание SIP сервера", slog.Any("error", err))
		os.Exit(1)
	}

	calls := newCallTable(log, *mediaIP)

	srv.OnInvite(calls.handleInvite)
	srv.OnAck(func(req *sip.Request, tx sip.ServerTransaction) {})
	srv.OnBye(calls.handleBye)

	log.Info("mediacall запущен", slog.String("sip", *sipAddr))
	if err := srv.ListenAndServe(ctx, "udp", *sipAddr); err != nil {
		log.Error("SIP сервер завершился", slog.Any("error", err))
	}

	calls.closeAll("завершение процесса")
}

// callTable активные вызовы по Call-ID
type callTable struct {
	log     *slog.Logger
	mediaIP string

	mutex    sync.Mutex
	sessions map[string]*rtpcore.Session
}

func newCallTable(log *slog.Logger, mediaIP string) *callTable {
	return &callTable{
		log:      log,
		mediaIP:  mediaIP,
		sessions: make(map[string]*rtpcore.Session),
	}
}

func (ct *callTable) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	log := ct.log.With(slog.String("call_id", callID))

	offer := &sdp.SessionDescription{}
	if err := offer.Unmarshal(req.Body()); err != nil {
		log.Warn("разбор SDP предложения", slog.Any("error", err))
		respond(tx, req, sip.StatusBadRequest, "Bad SDP")
		return
	}

	remoteAddr, selected, eventPT, err := negotiateAudio(offer)
	if err != nil {
		log.Warn("согласование кодека", slog.Any("error", err))
		respond(tx, req, 488, "Not Acceptable Here")
		return
	}

	channel, err := rtpcore.NewUDPChannel(rtpcore.UDPChannelConfig{
		LocalAddr: "0.0.0.0:0",
		DSCP:      46,
		Logger:    log,
	})
	if err != nil {
		log.Error("создание канала", slog.Any("error", err))
		respond(tx, req, 500, "Media Failure")
		return
	}

	cfg := rtpcore.DefaultSessionConfig(channel)
	cfg.FirstStream.LocalPayloadID = selected.PayloadID
	cfg.FirstStream.RemotePayloadIDs = []uint8{selected.PayloadID}
	cfg.ClockRate = selected.ClockRate
	cfg.EventPayloadID = eventPT
	cfg.CNAME = "mediacall@" + ct.mediaIP
	cfg.Logger = log
	session, err := rtpcore.NewSession(cfg)
	if err != nil {
		log.Error("создание сессии", slog.Any("error", err))
		respond(tx, req, 500, "Media Failure")
		return
	}
	session.SetDestination(remoteAddr, nil)

	// Loopback: принятый звук уходит обратно с тем же timestamp
	session.OnPacketReceived(func(stream *rtpcore.MediaStream, pkt *rtp.Packet) {
		if stream != nil && stream.Media() == rtpcore.MediaTypeAudio {
			session.SendAudioFrame(pkt.Header.Timestamp, pkt.Payload)
		}
	})
	session.OnEventReceived(func(ev rtpcore.RTPEvent) {
		if ev.EndOfEvent {
			log.Info("принята DTMF цифра",
				slog.String("digit", ev.Event.String()),
				slog.Uint64("duration", uint64(ev.Duration)))
		}
	})
	session.OnClosed(func(reason string) {
		log.Info("медиа сессия закрыта", slog.String("reason", reason))
	})

	answer, err := buildAnswer(ct.mediaIP, session.LocalRTPAddr().Port, selected)
	if err != nil {
		session.Close("ошибка построения SDP")
		respond(tx, req, 500, "SDP Failure")
		return
	}

	ct.mutex.Lock()
	ct.sessions[callID] = session
	ct.mutex.Unlock()

	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", answer)
	resp.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if err := tx.Respond(resp); err != nil {
		log.Warn("отправка 200 OK", slog.Any("error", err))
		ct.close(callID, "ошибка SIP транзакции")
		return
	}

	log.Info("вызов принят",
		slog.String("codec", selected.String()),
		slog.String("remote_media", remoteAddr.String()))
}

func (ct *callTable) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	ct.close(callID, "BYE")
	respond(tx, req, sip.StatusOK, "OK")
}

func (ct *callTable) close(callID, reason string) {
	ct.mutex.Lock()
	session := ct.sessions[callID]
	delete(ct.sessions, callID)
	ct.mutex.Unlock()
	if session != nil {
		session.Close(reason)
	}
}

func (ct *callTable) closeAll(reason string) {
	ct.mutex.Lock()
	sessions := ct.sessions
	ct.sessions = make(map[string]*rtpcore.Session)
	ct.mutex.Unlock()
	for _, session := range sessions {
		session.Close(reason)
	}
}

// negotiateAudio выбирает аудио кодек и адрес медиа из SDP предложения.
// Возвращает также payload type telephone-event, если он предложен.
func negotiateAudio(offer *sdp.SessionDescription) (*net.UDPAddr, format.MediaFormat, uint8, error) {
	for _, md := range offer.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		offered, err := format.FromMediaDescription(md)
		if err != nil {
			return nil, format.MediaFormat{}, 0, err
		}
		selected, ok := format.Select(offered, supportedFormats)
		if !ok {
			return nil, format.MediaFormat{}, 0, fmt.Errorf("нет общего кодека")
		}

		eventPT := format.Event.PayloadID
		for _, f := range offered {
			if f.Name == format.Event.Name {
				eventPT = f.PayloadID
			}
		}

		addr, err := mediaAddr(offer, md)
		if err != nil {
			return nil, format.MediaFormat{}, 0, err
		}
		return addr, selected, eventPT, nil
	}
	return nil, format.MediaFormat{}, 0, fmt.Errorf("SDP не содержит аудио секции")
}

// mediaAddr извлекает адрес медиа: c= строка секции либо сессии
func mediaAddr(offer *sdp.SessionDescription, md *sdp.MediaDescription) (*net.UDPAddr, error) {
	conn := md.ConnectionInformation
	if conn == nil {
		conn = offer.ConnectionInformation
	}
	if conn == nil || conn.Address == nil {
		return nil, fmt.Errorf("SDP не содержит connection information")
	}
	ip := net.ParseIP(conn.Address.Address)
	if ip == nil {
		return nil, fmt.Errorf("некорректный адрес медиа: %s", conn.Address.Address)
	}
	return &net.UDPAddr{IP: ip, Port: md.MediaName.Port.Value}, nil
}

// buildAnswer строит SDP ответ с одной аудио секцией
func buildAnswer(ip string, port int, selected format.MediaFormat) ([]byte, error) {
	answer := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "mediacall",
			SessionID:      uint64(port),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ip,
		},
		SessionName: "mediacall",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ip},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{
			format.AudioDescription(port, []format.MediaFormat{selected}),
		},
	}
	return answer.Marshal()
}

func respond(tx sip.ServerTransaction, req *sip.Request, code sip.StatusCode, reason string) {
	if err := tx.Respond(sip.NewResponseFromRequest(req, code, reason, nil)); err != nil {
		slog.Warn("отправка SIP ответа "+strconv.Itoa(int(code)), slog.Any("error", err))
	}
}
