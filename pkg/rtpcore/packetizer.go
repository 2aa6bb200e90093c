package rtpcore

// Пакетизация закодированных кадров в RTP payload сегменты.
//
// Общее правило для всех кодеков: кадр длиной L разбивается на сегменты
// не более MaxPayloadSegment байт, каждый сегмент получает следующий
// sequence number потока, все сегменты одного кадра разделяют один RTP
// timestamp. Кодек-специфичные префиксы и marker биты описаны у каждой
// функции.

// payloadSegment один RTP payload с уже собранным кодек-префиксом
type payloadSegment struct {
	data   []byte
	marker bool
}

// splitFrame разбивает кадр на куски не более MaxPayloadSegment байт.
// Пустой кадр дает один пустой кусок, чтобы пакет с маркером конца
// кадра все равно был отправлен.
func splitFrame(frame []byte) [][]byte {
	if len(frame) == 0 {
		return [][]byte{nil}
	}
	var chunks [][]byte
	for off := 0; off < len(frame); off += MaxPayloadSegment {
		end := off + MaxPayloadSegment
		if end > len(frame) {
			end = len(frame)
		}
		chunks = append(chunks, frame[off:end])
	}
	return chunks
}

// segmentAudio пакетизирует raw audio кадр (PCMU/PCMA и подобные).
// Префикса нет, marker всегда 0.
func segmentAudio(frame []byte) []payloadSegment {
	chunks := splitFrame(frame)
	segments := make([]payloadSegment, len(chunks))
	for i, chunk := range chunks {
		segments[i] = payloadSegment{data: chunk}
	}
	return segments
}

// segmentVP8 пакетизирует VP8 кадр согласно RFC 7741 (минимальный
// дескриптор). Первый сегмент кадра несет дескриптор 0x10 (S бит),
// остальные 0x00. Marker устанавливается на последнем сегменте кадра.
func segmentVP8(frame []byte) []payloadSegment {
	chunks := splitFrame(frame)
	segments := make([]payloadSegment, len(chunks))
	for i, chunk := range chunks {
		descriptor := byte(0x00)
		if i == 0 {
			descriptor = 0x10
		}
		data := make([]byte, 1+len(chunk))
		data[0] = descriptor
		copy(data[1:], chunk)
		segments[i] = payloadSegment{
			data:   data,
			marker: i == len(chunks)-1,
		}
	}
	return segments
}

// segmentJPEG пакетизирует Motion-JPEG кадр согласно RFC 2435
// (минимальный профиль, без quantization table заголовков).
//
// Восьмибайтовый заголовок каждого фрагмента:
//
//	byte 0    type-specific (0)
//	bytes 1-3 смещение фрагмента в кадре, 24 бита big-endian
//	byte 4    JPEG type (1)
//	byte 5    качество
//	byte 6    ширина / 8
//	byte 7    высота / 8
//
// Marker устанавливается только на последнем фрагменте.
func segmentJPEG(frame []byte, quality, width, height int) []payloadSegment {
	chunks := splitFrame(frame)
	segments := make([]payloadSegment, len(chunks))
	offset := 0
	for i, chunk := range chunks {
		data := make([]byte, 8+len(chunk))
		data[0] = 0
		data[1] = byte(offset >> 16)
		data[2] = byte(offset >> 8)
		data[3] = byte(offset)
		data[4] = 1
		data[5] = byte(quality)
		data[6] = byte(width / 8)
		data[7] = byte(height / 8)
		copy(data[8:], chunk)
		segments[i] = payloadSegment{
			data:   data,
			marker: i == len(chunks)-1,
		}
		offset += len(chunk)
	}
	return segments
}

// Двухбайтовые FU-A заголовки для H264 (RFC 6184, single NAL passthrough).
// Второй байт кодирует позицию сегмента в кадре; marker ставится тогда и
// только тогда, когда заголовок завершающий.
var (
	h264HeaderSingle = [2]byte{0x1c, 0x49} // кадр помещается в один сегмент
	h264HeaderFirst  = [2]byte{0x1c, 0x89}
	h264HeaderMiddle = [2]byte{0x1c, 0x09}
	h264HeaderLast   = [2]byte{0x1c, 0x49}
)

// segmentH264 пакетизирует H264 кадр (один NAL unit на кадр)
func segmentH264(frame []byte) []payloadSegment {
	chunks := splitFrame(frame)
	segments := make([]payloadSegment, len(chunks))
	for i, chunk := range chunks {
		var header [2]byte
		switch {
		case len(chunks) == 1:
			header = h264HeaderSingle
		case i == 0:
			header = h264HeaderFirst
		case i == len(chunks)-1:
			header = h264HeaderLast
		default:
			header = h264HeaderMiddle
		}
		data := make([]byte, 2+len(chunk))
		data[0] = header[0]
		data[1] = header[1]
		copy(data[2:], chunk)
		segments[i] = payloadSegment{
			data:   data,
			marker: header[1] == 0x49,
		}
	}
	return segments
}
