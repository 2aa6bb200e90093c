// Package rtpcore реализует транспортное ядро медиа сессии для телефонии
// согласно RFC 3550 (RTP), RFC 3551 (RTP A/V Profile) и RFC 4733 (DTMF).
//
// Пакет владеет одной RTP сессией, которая может переносить один или два
// мультиплексированных медиа потока (аудио, видео) через общую пару UDP
// сокетов. Архитектура основана на принципе разделения ответственности:
//   - Session: координирует потоки, отправку, прием и жизненный цикл
//   - MediaStream: состояние одного потока (SSRC, sequence, payload types)
//   - ControlSession: RTCP учет и генерация отчетов (SR/RR/SDES/BYE)
//   - UDPChannel: транспортный канал (пара сокетов или мультиплексирование)
//   - SecureContext: подключаемые SRTP/SRTCP protect/unprotect операции
//
// Основные возможности:
//   - Пакетизация кадров по кодекам: raw audio, VP8, JPEG (RFC 2435), H264
//   - Демультиплексирование входящих датаграмм RTP/RTCP
//   - Эвристическое сопоставление входящих пакетов с потоками по SSRC
//     и payload type, с "липкой" привязкой удаленного источника
//   - Передача DTMF событий по RFC 4733 с кооперативной отменой
//   - Двухфазная активация SRTP: secure-but-not-ready / ready
//
// Вне области пакета: jitter buffer, congestion control, retransmission,
// кодирование/декодирование медиа. Пакет только упаковывает и маршрутизирует
// уже закодированные байты.
package rtpcore
