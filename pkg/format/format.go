// Package format описывает медиа форматы (payload типы) и их
// согласование через SDP rtpmap атрибуты.
package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// MediaFormat описывает один RTP payload формат
type MediaFormat struct {
	PayloadID uint8
	Name      string // имя кодека как в rtpmap, например "PCMU"
	ClockRate uint32
	Channels  int // 0 означает не указано (эквивалент 1 для аудио)
}

// Стандартные форматы телефонии и видео
var (
	PCMU  = MediaFormat{PayloadID: 0, Name: "PCMU", ClockRate: 8000}
	GSM   = MediaFormat{PayloadID: 3, Name: "GSM", ClockRate: 8000}
	PCMA  = MediaFormat{PayloadID: 8, Name: "PCMA", ClockRate: 8000}
	G722  = MediaFormat{PayloadID: 9, Name: "G722", ClockRate: 8000}
	G729  = MediaFormat{PayloadID: 18, Name: "G729", ClockRate: 8000}
	JPEG  = MediaFormat{PayloadID: 26, Name: "JPEG", ClockRate: 90000}
	VP8   = MediaFormat{PayloadID: 96, Name: "VP8", ClockRate: 90000}
	H264  = MediaFormat{PayloadID: 97, Name: "H264", ClockRate: 90000}
	Event = MediaFormat{PayloadID: 101, Name: "telephone-event", ClockRate: 8000}
)

// wellKnown статические payload типы, которые могут не иметь rtpmap
var wellKnown = map[uint8]MediaFormat{
	0:  PCMU,
	3:  GSM,
	8:  PCMA,
	9:  G722,
	18: G729,
	26: JPEG,
}

// RTPMap возвращает значение rtpmap атрибута формата,
// например "0 PCMU/8000"
func (f MediaFormat) RTPMap() string {
	if f.Channels > 1 {
		return fmt.Sprintf("%d %s/%d/%d", f.PayloadID, f.Name, f.ClockRate, f.Channels)
	}
	return fmt.Sprintf("%d %s/%d", f.PayloadID, f.Name, f.ClockRate)
}

func (f MediaFormat) String() string {
	return fmt.Sprintf("%s/%d (pt=%d)", f.Name, f.ClockRate, f.PayloadID)
}

// FromMediaDescription извлекает форматы из SDP media секции:
// payload типы из m= строки, имена и частоты из rtpmap атрибутов.
// Статические типы без rtpmap разрешаются по таблице RFC 3551.
func FromMediaDescription(md *sdp.MediaDescription) ([]MediaFormat, error) {
	rtpmaps := make(map[uint8]MediaFormat)
	for _, attr := range md.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		format, err := parseRTPMap(attr.Value)
		if err != nil {
			return nil, fmt.Errorf("разбор rtpmap %q: %w", attr.Value, err)
		}
		rtpmaps[format.PayloadID] = format
	}

	var formats []MediaFormat
	for _, raw := range md.MediaName.Formats {
		id, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			continue // не-числовые форматы (например webrtc-datachannel)
		}
		pt := uint8(id)
		if format, ok := rtpmaps[pt]; ok {
			formats = append(formats, format)
		} else if format, ok := wellKnown[pt]; ok {
			formats = append(formats, format)
		}
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("media секция %s не содержит известных форматов", md.MediaName.Media)
	}
	return formats, nil
}

// parseRTPMap разбирает значение rtpmap: "<pt> <name>/<rate>[/<channels>]"
func parseRTPMap(value string) (MediaFormat, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return MediaFormat{}, fmt.Errorf("ожидается два поля")
	}

	id, err := strconv.ParseUint(fields[0], 10, 8)
	if err != nil {
		return MediaFormat{}, fmt.Errorf("payload type: %w", err)
	}

	parts := strings.Split(fields[1], "/")
	if len(parts) < 2 {
		return MediaFormat{}, fmt.Errorf("ожидается name/rate")
	}
	rate, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return MediaFormat{}, fmt.Errorf("clock rate: %w", err)
	}

	format := MediaFormat{
		PayloadID: uint8(id),
		Name:      parts[0],
		ClockRate: uint32(rate),
	}
	if len(parts) > 2 {
		channels, err := strconv.Atoi(parts[2])
		if err != nil {
			return MediaFormat{}, fmt.Errorf("channels: %w", err)
		}
		format.Channels = channels
	}
	return format, nil
}

// Select возвращает первый формат из offered, имя и частота которого
// совпадают с одним из supported. Сопоставление по имени
// регистронезависимое, payload type берется из предложения.
func Select(offered, supported []MediaFormat) (MediaFormat, bool) {
	for _, off := range offered {
		for _, sup := range supported {
			if strings.EqualFold(off.Name, sup.Name) && off.ClockRate == sup.ClockRate {
				return off, true
			}
		}
	}
	return MediaFormat{}, false
}

// PayloadIDs возвращает payload типы форматов
func PayloadIDs(formats []MediaFormat) []uint8 {
	ids := make([]uint8, len(formats))
	for i, f := range formats {
		ids[i] = f.PayloadID
	}
	return ids
}

// AudioDescription строит SDP media секцию для аудио с указанными
// форматами и telephone-event
func AudioDescription(port int, formats []MediaFormat) *sdp.MediaDescription {
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "audio",
			Port:   sdp.RangedPort{Value: port},
			Protos: []string{"RTP", "AVP"},
		},
	}
	for _, f := range formats {
		md.MediaName.Formats = append(md.MediaName.Formats, strconv.Itoa(int(f.PayloadID)))
		md.Attributes = append(md.Attributes, sdp.Attribute{Key: "rtpmap", Value: f.RTPMap()})
	}
	md.MediaName.Formats = append(md.MediaName.Formats, strconv.Itoa(int(Event.PayloadID)))
	md.Attributes = append(md.Attributes,
		sdp.Attribute{Key: "rtpmap", Value: Event.RTPMap()},
		sdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d 0-16", Event.PayloadID)},
		sdp.Attribute{Key: "sendrecv"},
	)
	return md
}
