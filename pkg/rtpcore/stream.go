package rtpcore

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// MediaStream представляет состояние одного медиа потока сессии.
//
// Поток создается через Session.AddStream и живет до закрытия сессии.
// Sequence counter изменяется каждым send, удаленный SSRC привязывается
// первым успешно сопоставленным входящим пакетом и после этого никогда
// не переназначается ("липкая" привязка, RFC 3550 Section 8.2).
//
// Конкурентный доступ: счетчики атомарные; набор принимаемых remote
// payload типов защищен мьютексом, так как AddStream может заменить его
// во время работы сессии.
type MediaStream struct {
	media          MediaType
	localSSRC      uint32
	localPayloadID uint8

	sequence      uint32 // atomic, значимы младшие 16 бит
	lastTimestamp uint32 // atomic, timestamp последнего отправленного кадра

	remoteSSRC    uint32 // atomic, валиден только при remoteSSRCSet == 1
	remoteSSRCSet int32  // atomic bool

	payloadMutex     sync.RWMutex
	remotePayloadIDs []uint8 // nil означает "принимать любой payload type"
}

// newMediaStream создает поток со случайным SSRC и начальным sequence
// number согласно RFC 3550 Appendix A.6
func newMediaStream(media MediaType, localPayloadID uint8, remotePayloadIDs []uint8) *MediaStream {
	return &MediaStream{
		media:            media,
		localSSRC:        generateSSRC(),
		localPayloadID:   localPayloadID,
		sequence:         uint32(generateRandomUint16()),
		remotePayloadIDs: clonePayloadIDs(remotePayloadIDs),
	}
}

// Media возвращает тип медиа потока
func (ms *MediaStream) Media() MediaType {
	return ms.media
}

// LocalSSRC возвращает локальный SSRC потока
func (ms *MediaStream) LocalSSRC() uint32 {
	return ms.localSSRC
}

// LocalPayloadID возвращает локальный payload type потока
func (ms *MediaStream) LocalPayloadID() uint8 {
	return ms.localPayloadID
}

// nextSequenceNumber выдает следующий sequence number (mod 65536)
func (ms *MediaStream) nextSequenceNumber() uint16 {
	return uint16(atomic.AddUint32(&ms.sequence, 1))
}

// SequenceNumber возвращает текущее значение счетчика
func (ms *MediaStream) SequenceNumber() uint16 {
	return uint16(atomic.LoadUint32(&ms.sequence))
}

// setLastTimestamp запоминает timestamp последнего отправленного кадра.
// Используется DTMF отправителем как стартовый timestamp события.
func (ms *MediaStream) setLastTimestamp(ts uint32) {
	atomic.StoreUint32(&ms.lastTimestamp, ts)
}

// LastTimestamp возвращает timestamp последнего отправленного кадра
func (ms *MediaStream) LastTimestamp() uint32 {
	return atomic.LoadUint32(&ms.lastTimestamp)
}

// bindRemoteSSRC привязывает удаленный SSRC, если он еще не известен.
// Возвращает true если привязка произошла этим вызовом. Привязка
// одноразовая: последующие значения игнорируются.
func (ms *MediaStream) bindRemoteSSRC(ssrc uint32) bool {
	if !atomic.CompareAndSwapInt32(&ms.remoteSSRCSet, 0, 1) {
		return false
	}
	atomic.StoreUint32(&ms.remoteSSRC, ssrc)
	return true
}

// RemoteSSRC возвращает привязанный удаленный SSRC и признак того,
// что привязка уже состоялась
func (ms *MediaStream) RemoteSSRC() (uint32, bool) {
	if atomic.LoadInt32(&ms.remoteSSRCSet) == 0 {
		return 0, false
	}
	return atomic.LoadUint32(&ms.remoteSSRC), true
}

// setRemotePayloadIDs заменяет набор принимаемых remote payload типов.
// Вызывается повторным AddStream для уже существующего типа медиа.
func (ms *MediaStream) setRemotePayloadIDs(ids []uint8) {
	ms.payloadMutex.Lock()
	ms.remotePayloadIDs = clonePayloadIDs(ids)
	ms.payloadMutex.Unlock()
}

// acceptsPayload проверяет, входит ли payload type в объявленный набор.
// Второй результат сообщает, был ли набор вообще объявлен: пустой набор
// означает "без ограничений" и используется как audio fallback при
// сопоставлении потоков.
func (ms *MediaStream) acceptsPayload(pt uint8) (accepted, restricted bool) {
	ms.payloadMutex.RLock()
	defer ms.payloadMutex.RUnlock()

	if len(ms.remotePayloadIDs) == 0 {
		return false, false
	}
	for _, id := range ms.remotePayloadIDs {
		if id == pt {
			return true, true
		}
	}
	return false, true
}

func clonePayloadIDs(ids []uint8) []uint8 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]uint8, len(ids))
	copy(out, ids)
	return out
}

// matchStream разрешает входящий RTP пакет (SSRC, payload type) в один из
// потоков сессии. Порядок приоритетов фиксирован, первый успех выигрывает:
//
//  1. аудио поток с уже привязанным remote SSRC, равным ssrc
//  2. видео поток с уже привязанным remote SSRC, равным ssrc
//  3. настроен только аудио поток: привязать и вернуть его
//  4. настроен только видео поток: привязать и вернуть его
//  5. оба настроены, у видео нет привязки и pt входит в его набор:
//     привязать видео
//  6. у аудио нет привязки и pt входит в его набор либо набор не
//     объявлен: привязать аудио. Аудио служит fallback, потому что
//     устаревшая сигнализация часто не объявляет payload типы.
//  7. иначе пакет не сопоставлен
//
// Привязка липкая: однажды выученный remote SSRC не переназначается,
// даже если позже придет пакет с другим источником.
func (s *Session) matchStream(ssrc uint32, pt uint8) (*MediaStream, bool) {
	s.streamMutex.RLock()
	audio, video := s.audio, s.video
	s.streamMutex.RUnlock()

	if audio != nil {
		if remote, ok := audio.RemoteSSRC(); ok && remote == ssrc {
			return audio, true
		}
	}
	if video != nil {
		if remote, ok := video.RemoteSSRC(); ok && remote == ssrc {
			return video, true
		}
	}

	if audio != nil && video == nil {
		audio.bindRemoteSSRC(ssrc)
		return audio, true
	}
	if video != nil && audio == nil {
		video.bindRemoteSSRC(ssrc)
		return video, true
	}
	if audio == nil && video == nil {
		return nil, false
	}

	if _, bound := video.RemoteSSRC(); !bound {
		if accepted, _ := video.acceptsPayload(pt); accepted {
			video.bindRemoteSSRC(ssrc)
			return video, true
		}
	}
	if _, bound := audio.RemoteSSRC(); !bound {
		accepted, restricted := audio.acceptsPayload(pt)
		if accepted || !restricted {
			audio.bindRemoteSSRC(ssrc)
			return audio, true
		}
	}

	return nil, false
}

// generateSSRC генерирует случайный SSRC согласно RFC 3550 Appendix A.6
func generateSSRC() uint32 {
	var ssrc uint32
	_ = binary.Read(rand.Reader, binary.BigEndian, &ssrc)
	return ssrc
}

// generateRandomUint16 генерирует случайное 16-битное число
func generateRandomUint16() uint16 {
	var val uint16
	_ = binary.Read(rand.Reader, binary.BigEndian, &val)
	return val
}
