package rtpcore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFrame(t *testing.T) {
	t.Run("КороткийКадрОдинКусок", func(t *testing.T) {
		frame := make([]byte, 100)
		chunks := splitFrame(frame)
		require.Len(t, chunks, 1)
		assert.Len(t, chunks[0], 100)
	})

	t.Run("ДлинныйКадрРазбивается", func(t *testing.T) {
		frame := make([]byte, MaxPayloadSegment*2+300)
		chunks := splitFrame(frame)
		require.Len(t, chunks, 3)
		assert.Len(t, chunks[0], MaxPayloadSegment)
		assert.Len(t, chunks[1], MaxPayloadSegment)
		assert.Len(t, chunks[2], 300)
	})

	t.Run("ГраницаРовноОдинСегмент", func(t *testing.T) {
		frame := make([]byte, MaxPayloadSegment)
		chunks := splitFrame(frame)
		require.Len(t, chunks, 1)
	})

	t.Run("ПустойКадрДаетОдинПустойКусок", func(t *testing.T) {
		chunks := splitFrame(nil)
		require.Len(t, chunks, 1)
		assert.Empty(t, chunks[0])
	})
}

func TestSegmentAudio(t *testing.T) {
	t.Run("БезПрефиксаБезМаркера", func(t *testing.T) {
		frame := []byte{1, 2, 3, 4}
		segments := segmentAudio(frame)
		require.Len(t, segments, 1)
		assert.Equal(t, frame, segments[0].data)
		assert.False(t, segments[0].marker)
	})

	t.Run("МногосегментныйБезМаркеров", func(t *testing.T) {
		frame := make([]byte, MaxPayloadSegment+10)
		segments := segmentAudio(frame)
		require.Len(t, segments, 2)
		for _, seg := range segments {
			assert.False(t, seg.marker)
		}
	})
}

func TestSegmentVP8(t *testing.T) {
	t.Run("ОдинСегментДескрипторИМаркер", func(t *testing.T) {
		frame := []byte{0xAA, 0xBB}
		segments := segmentVP8(frame)
		require.Len(t, segments, 1)
		assert.Equal(t, byte(0x10), segments[0].data[0])
		assert.Equal(t, frame, segments[0].data[1:])
		assert.True(t, segments[0].marker)
	})

	t.Run("МногосегментныйДескрипторыИМаркер", func(t *testing.T) {
		frame := make([]byte, MaxPayloadSegment*2+1)
		segments := segmentVP8(frame)
		require.Len(t, segments, 3)

		assert.Equal(t, byte(0x10), segments[0].data[0])
		assert.Equal(t, byte(0x00), segments[1].data[0])
		assert.Equal(t, byte(0x00), segments[2].data[0])

		assert.False(t, segments[0].marker)
		assert.False(t, segments[1].marker)
		assert.True(t, segments[2].marker)
	})
}

func TestSegmentJPEG(t *testing.T) {
	t.Run("ЗаголовокПервогоФрагмента", func(t *testing.T) {
		frame := []byte{1, 2, 3}
		segments := segmentJPEG(frame, 80, 640, 480)
		require.Len(t, segments, 1)

		header := segments[0].data[:8]
		assert.Equal(t, byte(0), header[0])
		assert.Equal(t, []byte{0, 0, 0}, header[1:4], "смещение первого фрагмента нулевое")
		assert.Equal(t, byte(1), header[4])
		assert.Equal(t, byte(80), header[5])
		assert.Equal(t, byte(640/8), header[6])
		assert.Equal(t, byte(480/8), header[7])
		assert.Equal(t, frame, segments[0].data[8:])
		assert.True(t, segments[0].marker)
	})

	t.Run("СмещенияПоследующихФрагментов", func(t *testing.T) {
		frame := make([]byte, MaxPayloadSegment*2+50)
		segments := segmentJPEG(frame, 50, 320, 240)
		require.Len(t, segments, 3)

		offset := func(seg payloadSegment) int {
			return int(seg.data[1])<<16 | int(seg.data[2])<<8 | int(seg.data[3])
		}
		assert.Equal(t, 0, offset(segments[0]))
		assert.Equal(t, MaxPayloadSegment, offset(segments[1]))
		assert.Equal(t, MaxPayloadSegment*2, offset(segments[2]))

		assert.False(t, segments[0].marker)
		assert.False(t, segments[1].marker)
		assert.True(t, segments[2].marker)
	})

	t.Run("СборкаФрагментовВосстанавливаетКадр", func(t *testing.T) {
		frame := make([]byte, MaxPayloadSegment+700)
		for i := range frame {
			frame[i] = byte(i)
		}
		segments := segmentJPEG(frame, 70, 640, 480)

		var rebuilt bytes.Buffer
		for _, seg := range segments {
			rebuilt.Write(seg.data[8:])
		}
		assert.Equal(t, frame, rebuilt.Bytes())
	})
}

func TestSegmentH264(t *testing.T) {
	t.Run("ОдинСегмент", func(t *testing.T) {
		frame := []byte{0x65, 0x01}
		segments := segmentH264(frame)
		require.Len(t, segments, 1)
		assert.Equal(t, byte(0x1c), segments[0].data[0])
		assert.Equal(t, byte(0x49), segments[0].data[1])
		assert.True(t, segments[0].marker)
	})

	t.Run("ТриСегментаЗаголовкиИМаркеры", func(t *testing.T) {
		frame := make([]byte, MaxPayloadSegment*2+1)
		segments := segmentH264(frame)
		require.Len(t, segments, 3)

		assert.Equal(t, byte(0x89), segments[0].data[1], "первый сегмент")
		assert.Equal(t, byte(0x09), segments[1].data[1], "средний сегмент")
		assert.Equal(t, byte(0x49), segments[2].data[1], "последний сегмент")

		assert.False(t, segments[0].marker)
		assert.False(t, segments[1].marker)
		assert.True(t, segments[2].marker, "маркер только при завершающем заголовке")
	})
}
