package rtpcore

import (
	"github.com/pion/dtls/v2"
	"github.com/pion/srtp/v2"
)

// Параметры профиля SRTP_AES128_CM_HMAC_SHA1_80 (RFC 3711, RFC 5764)
const (
	srtpMasterKeyLen  = 16
	srtpMasterSaltLen = 14

	// dtlsSRTPExporterLabel метка экспорта ключевого материала из
	// DTLS handshake (RFC 5764 Section 4.2)
	dtlsSRTPExporterLabel = "EXTRACTOR-dtls_srtp"
)

// SRTPSecureContext реализует SecureContext поверх pion/srtp с профилем
// AES128_CM_HMAC_SHA1_80. Держит два независимых криптоконтекста:
// локальный для защиты исходящего трафика и удаленный для расшифровки
// входящего.
//
// pion контексты ведут внутреннее состояние (ROC, replay окно) под
// собственными блокировками, поэтому конкурентные вызовы из send и
// receive путей безопасны.
type SRTPSecureContext struct {
	tx *srtp.Context
	rx *srtp.Context
}

// NewSRTPSecureContext создает контекст из мастер-ключей обеих сторон.
// localKey/localSalt защищают исходящий трафик, remoteKey/remoteSalt
// расшифровывают входящий.
func NewSRTPSecureContext(localKey, localSalt, remoteKey, remoteSalt []byte) (*SRTPSecureContext, error) {
	if len(localKey) != srtpMasterKeyLen || len(remoteKey) != srtpMasterKeyLen {
		return nil, NewCoreError(ErrorCodeInvalidConfig,
			"некорректная длина SRTP мастер-ключа: ожидается %d байт", srtpMasterKeyLen)
	}
	if len(localSalt) != srtpMasterSaltLen || len(remoteSalt) != srtpMasterSaltLen {
		return nil, NewCoreError(ErrorCodeInvalidConfig,
			"некорректная длина SRTP мастер-соли: ожидается %d байт", srtpMasterSaltLen)
	}

	tx, err := srtp.CreateContext(localKey, localSalt, srtp.ProtectionProfileAes128CmHmacSha1_80)
	if err != nil {
		return nil, WrapCoreError(ErrorCodeInvalidConfig, "создание SRTP tx контекста", err)
	}
	rx, err := srtp.CreateContext(remoteKey, remoteSalt, srtp.ProtectionProfileAes128CmHmacSha1_80)
	if err != nil {
		return nil, WrapCoreError(ErrorCodeInvalidConfig, "создание SRTP rx контекста", err)
	}

	return &SRTPSecureContext{tx: tx, rx: rx}, nil
}

// NewDTLSSecureContext извлекает SRTP ключевой материал из завершенного
// DTLS handshake согласно RFC 5764 и строит SRTPSecureContext.
// isClient определяет, какая половина материала локальная.
func NewDTLSSecureContext(conn *dtls.Conn, isClient bool) (*SRTPSecureContext, error) {
	state := conn.ConnectionState()

	// Раскладка материала: client_key | server_key | client_salt | server_salt
	material, err := state.ExportKeyingMaterial(dtlsSRTPExporterLabel, nil,
		2*srtpMasterKeyLen+2*srtpMasterSaltLen)
	if err != nil {
		return nil, WrapCoreError(ErrorCodeSecureNotReady, "экспорт DTLS-SRTP ключей", err)
	}

	offset := 0
	clientKey := material[offset : offset+srtpMasterKeyLen]
	offset += srtpMasterKeyLen
	serverKey := material[offset : offset+srtpMasterKeyLen]
	offset += srtpMasterKeyLen
	clientSalt := material[offset : offset+srtpMasterSaltLen]
	offset += srtpMasterSaltLen
	serverSalt := material[offset : offset+srtpMasterSaltLen]

	if isClient {
		return NewSRTPSecureContext(clientKey, clientSalt, serverKey, serverSalt)
	}
	return NewSRTPSecureContext(serverKey, serverSalt, clientKey, clientSalt)
}

// ProtectRTP шифрует RTP пакет. Буфер содержит length байт plaintext
// и емкость под SRTP trailer; результат копируется обратно в буфер.
func (c *SRTPSecureContext) ProtectRTP(buf []byte, length int) (int, error) {
	out, err := c.tx.EncryptRTP(nil, buf[:length], nil)
	if err != nil {
		return 0, err
	}
	if len(out) > len(buf) {
		return 0, NewCoreError(ErrorCodeProtocolViolation,
			"SRTP результат превышает емкость буфера: %d > %d", len(out), len(buf))
	}
	copy(buf, out)
	return len(out), nil
}

// UnprotectRTP расшифровывает и аутентифицирует RTP пакет
func (c *SRTPSecureContext) UnprotectRTP(buf []byte, length int) (int, error) {
	out, err := c.rx.DecryptRTP(nil, buf[:length], nil)
	if err != nil {
		return 0, err
	}
	copy(buf, out)
	return len(out), nil
}

// ProtectRTCP шифрует RTCP compound пакет
func (c *SRTPSecureContext) ProtectRTCP(buf []byte, length int) (int, error) {
	out, err := c.tx.EncryptRTCP(nil, buf[:length], nil)
	if err != nil {
		return 0, err
	}
	if len(out) > len(buf) {
		return 0, NewCoreError(ErrorCodeProtocolViolation,
			"SRTCP результат превышает емкость буфера: %d > %d", len(out), len(buf))
	}
	copy(buf, out)
	return len(out), nil
}

// UnprotectRTCP расшифровывает и аутентифицирует RTCP пакет
func (c *SRTPSecureContext) UnprotectRTCP(buf []byte, length int) (int, error) {
	out, err := c.rx.DecryptRTCP(nil, buf[:length], nil)
	if err != nil {
		return 0, err
	}
	copy(buf, out)
	return len(out), nil
}
