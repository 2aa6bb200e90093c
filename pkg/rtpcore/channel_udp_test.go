package rtpcore

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackChannel(t *testing.T, mux bool) *UDPChannel {
	t.Helper()
	ch, err := NewUDPChannel(UDPChannelConfig{
		LocalAddr: "127.0.0.1:0",
		RTCPMux:   mux,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close("тест завершен") })
	return ch
}

func TestUDPChannel(t *testing.T) {
	t.Run("ПараСокетовСоседниеПорты", func(t *testing.T) {
		ch := newLoopbackChannel(t, false)
		rtpAddr := ch.LocalRTPAddr()
		rtcpAddr := ch.LocalRTCPAddr()
		require.NotNil(t, rtpAddr)
		require.NotNil(t, rtcpAddr)
		assert.Equal(t, rtpAddr.Port+1, rtcpAddr.Port)
	})

	t.Run("МультиплексированиеОдинСокет", func(t *testing.T) {
		ch := newLoopbackChannel(t, true)
		assert.Equal(t, ch.LocalRTPAddr().Port, ch.LocalRTCPAddr().Port)
	})

	t.Run("ДоставкаМеждуКаналами", func(t *testing.T) {
		sender := newLoopbackChannel(t, false)
		receiver := newLoopbackChannel(t, false)

		type received struct {
			kind SocketKind
			data []byte
		}
		got := make(chan received, 1)
		receiver.OnDatagram(func(kind SocketKind, src *net.UDPAddr, data []byte) {
			got <- received{kind: kind, data: data}
		})
		require.NoError(t, receiver.Start())
		require.NoError(t, sender.Start())

		payload := []byte{0x80, 0x00, 1, 2, 3}
		require.NoError(t, sender.Send(SocketRTP, receiver.LocalRTPAddr(), payload))

		select {
		case r := <-got:
			assert.Equal(t, SocketRTP, r.kind)
			assert.Equal(t, payload, r.data)
		case <-time.After(2 * time.Second):
			t.Fatal("датаграмма не доставлена")
		}
	})

	t.Run("RTCPСокетПомечаетВидДатаграммы", func(t *testing.T) {
		sender := newLoopbackChannel(t, false)
		receiver := newLoopbackChannel(t, false)

		got := make(chan SocketKind, 1)
		receiver.OnDatagram(func(kind SocketKind, src *net.UDPAddr, data []byte) {
			got <- kind
		})
		require.NoError(t, receiver.Start())
		require.NoError(t, sender.Start())

		require.NoError(t, sender.Send(SocketRTCP, receiver.LocalRTCPAddr(), []byte{0x81, 0xC9, 0, 1}))

		select {
		case kind := <-got:
			assert.Equal(t, SocketRTCP, kind)
		case <-time.After(2 * time.Second):
			t.Fatal("датаграмма не доставлена")
		}
	})

	t.Run("ПовторныйCloseБезОшибки", func(t *testing.T) {
		ch := newLoopbackChannel(t, false)
		require.NoError(t, ch.Start())

		var mu sync.Mutex
		var reasons []string
		ch.OnClosed(func(reason string) {
			mu.Lock()
			reasons = append(reasons, reason)
			mu.Unlock()
		})

		require.NoError(t, ch.Close("раз"))
		require.NoError(t, ch.Close("два"))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"раз"}, reasons)
	})

	t.Run("SendПослеCloseОшибка", func(t *testing.T) {
		ch := newLoopbackChannel(t, false)
		require.NoError(t, ch.Start())
		require.NoError(t, ch.Close("закрыт"))

		err := ch.Send(SocketRTP, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}, []byte{1})
		require.Error(t, err)
		assert.True(t, HasErrorCode(err, ErrorCodeSessionClosed))
	})

	t.Run("SendБезНазначенияОшибка", func(t *testing.T) {
		ch := newLoopbackChannel(t, false)
		err := ch.Send(SocketRTP, nil, []byte{1})
		require.Error(t, err)
		assert.True(t, HasErrorCode(err, ErrorCodeInvalidConfig))
	})
}
