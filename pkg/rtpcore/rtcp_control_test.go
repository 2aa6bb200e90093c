package rtpcore

import (
	"net"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestControl(t *testing.T) *ControlSession {
	t.Helper()
	cs, err := NewControlSession(ControlConfig{
		SSRC:      0xCAFE,
		CNAME:     "test@host",
		ClockRate: 8000,
		Interval:  time.Hour, // периодика не участвует в тестах
	})
	require.NoError(t, err)
	return cs
}

func TestNewControlSession(t *testing.T) {
	t.Run("НулевойSSRCОшибка", func(t *testing.T) {
		_, err := NewControlSession(ControlConfig{})
		require.Error(t, err)
		assert.True(t, HasErrorCode(err, ErrorCodeInvalidConfig))
	})
}

func TestControlReportSelection(t *testing.T) {
	t.Run("БезОтправкиReceiverReport", func(t *testing.T) {
		cs := newTestControl(t)
		report := cs.buildReport()
		require.NotEmpty(t, report)
		rr, ok := report[0].(*rtcp.ReceiverReport)
		require.True(t, ok, "без отправленных пакетов ожидается RR")
		assert.Equal(t, uint32(0xCAFE), rr.SSRC)
	})

	t.Run("ПослеОтправкиSenderReport", func(t *testing.T) {
		cs := newTestControl(t)
		pkt := &rtp.Packet{
			Header:  rtp.Header{Timestamp: 1600},
			Payload: make([]byte, 160),
		}
		cs.RecordSent(pkt, len(pkt.Payload))
		cs.RecordSent(pkt, len(pkt.Payload))

		report := cs.buildReport()
		require.NotEmpty(t, report)
		sr, ok := report[0].(*rtcp.SenderReport)
		require.True(t, ok)
		assert.Equal(t, uint32(0xCAFE), sr.SSRC)
		assert.Equal(t, uint32(2), sr.PacketCount)
		assert.Equal(t, uint32(320), sr.OctetCount)
		assert.Equal(t, uint32(1600), sr.RTPTime)
		assert.NotZero(t, sr.NTPTime)
	})

	t.Run("SDESСCNAME", func(t *testing.T) {
		cs := newTestControl(t)
		report := cs.buildReport()
		require.Len(t, report, 2)
		sdes, ok := report[1].(*rtcp.SourceDescription)
		require.True(t, ok)
		require.Len(t, sdes.Chunks, 1)
		assert.Equal(t, uint32(0xCAFE), sdes.Chunks[0].Source)
		require.Len(t, sdes.Chunks[0].Items, 1)
		assert.Equal(t, rtcp.SDESCNAME, sdes.Chunks[0].Items[0].Type)
		assert.Equal(t, "test@host", sdes.Chunks[0].Items[0].Text)
	})
}

func TestControlReceptionStats(t *testing.T) {
	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 30000}

	receive := func(cs *ControlSession, ssrc uint32, seq uint16) {
		cs.RecordReceived(src, &rtp.Packet{
			Header:  rtp.Header{SSRC: ssrc, SequenceNumber: seq, Timestamp: uint32(seq) * 160},
			Payload: make([]byte, 160),
		})
	}

	t.Run("БезПотерьНулеваяДоля", func(t *testing.T) {
		cs := newTestControl(t)
		for seq := uint16(100); seq < 110; seq++ {
			receive(cs, 0x5555, seq)
		}

		blocks := cs.receptionReports()
		require.Len(t, blocks, 1)
		assert.Equal(t, uint32(0x5555), blocks[0].SSRC)
		assert.Zero(t, blocks[0].FractionLost)
		assert.Zero(t, blocks[0].TotalLost)
		assert.Equal(t, uint32(109), blocks[0].LastSequenceNumber)
	})

	t.Run("ПропускиSequenceУчитываютсяКакПотери", func(t *testing.T) {
		cs := newTestControl(t)
		receive(cs, 0x5555, 100)
		receive(cs, 0x5555, 101)
		receive(cs, 0x5555, 105) // 102-104 потеряны

		blocks := cs.receptionReports()
		require.Len(t, blocks, 1)
		assert.Equal(t, uint32(3), blocks[0].TotalLost)
		assert.NotZero(t, blocks[0].FractionLost)
	})

	t.Run("ПереполнениеSequenceРасширяетСчетчик", func(t *testing.T) {
		cs := newTestControl(t)
		receive(cs, 0x5555, 0xFFFE)
		receive(cs, 0x5555, 0xFFFF)
		receive(cs, 0x5555, 0) // wrap-around

		blocks := cs.receptionReports()
		require.Len(t, blocks, 1)
		assert.Equal(t, uint32(1)<<16, blocks[0].LastSequenceNumber)
	})

	t.Run("LSRИзПринятогоSenderReport", func(t *testing.T) {
		cs := newTestControl(t)
		receive(cs, 0x5555, 10)

		ntp := ntpTime(time.Now())
		cs.ReportReceived(src, []rtcp.Packet{&rtcp.SenderReport{
			SSRC:    0x5555,
			NTPTime: ntp,
		}})

		blocks := cs.receptionReports()
		require.Len(t, blocks, 1)
		assert.Equal(t, uint32(ntp>>16), blocks[0].LastSenderReport)
	})
}

func TestControlLifecycle(t *testing.T) {
	t.Run("ПовторныйStartОшибка", func(t *testing.T) {
		cs := newTestControl(t)
		require.NoError(t, cs.Start())
		defer cs.Close("тест завершен")
		assert.Error(t, cs.Start())
	})

	t.Run("CloseОтдаетФинальныйОтчетСBYE", func(t *testing.T) {
		cs := newTestControl(t)

		var final []rtcp.Packet
		cs.OnReportReady(func(report []rtcp.Packet) { final = report })

		require.NoError(t, cs.Start())
		cs.Close("завершение вызова")

		require.NotEmpty(t, final)
		bye, ok := final[len(final)-1].(*rtcp.Goodbye)
		require.True(t, ok, "последний пакет финального отчета BYE")
		assert.Equal(t, []uint32{0xCAFE}, bye.Sources)
		assert.Equal(t, "завершение вызова", bye.Reason)
	})

	t.Run("ПовторныйCloseБезВторогоОтчета", func(t *testing.T) {
		cs := newTestControl(t)

		var reports int
		cs.OnReportReady(func(report []rtcp.Packet) { reports++ })

		require.NoError(t, cs.Start())
		cs.Close("раз")
		cs.Close("два")
		assert.Equal(t, 1, reports)
	})
}

func TestNTPTime(t *testing.T) {
	t.Run("СекундыВСтаршейПоловине", func(t *testing.T) {
		now := time.Unix(1000000000, 0)
		ntp := ntpTime(now)
		assert.Equal(t, uint64(1000000000+2208988800), ntp>>32)
		assert.Zero(t, uint32(ntp))
	})
}
