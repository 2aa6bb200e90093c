package rtpcore

import "fmt"

// CoreErrorCode определяет типизированные коды ошибок транспортного ядра.
// Классификация соответствует политике распространения ошибок: только
// ошибки конфигурации поднимаются до вызывающего, все per-packet ошибки
// поглощаются локально, чтобы одна битая датаграмма не разрушала сессию.
type CoreErrorCode int

const (
	// Ошибки конфигурации (фатальные, возвращаются вызывающему)
	ErrorCodeUnsupportedMediaType CoreErrorCode = iota + 3000
	ErrorCodeInvalidConfig

	// Ошибки состояния (операция становится no-op)
	ErrorCodeSessionClosed
	ErrorCodeSecureNotReady
	ErrorCodeEventInProgress

	// Ошибки обработки пакетов (логируются, пакет отбрасывается)
	ErrorCodeTransportSend
	ErrorCodeProtocolViolation

	// Отмена DTMF события (логируется, не является сбоем)
	ErrorCodeEventCancelled
)

// String возвращает строковое представление кода ошибки
func (code CoreErrorCode) String() string {
	switch code {
	case ErrorCodeUnsupportedMediaType:
		return "UnsupportedMediaType"
	case ErrorCodeInvalidConfig:
		return "InvalidConfig"
	case ErrorCodeSessionClosed:
		return "SessionClosed"
	case ErrorCodeSecureNotReady:
		return "SecureNotReady"
	case ErrorCodeEventInProgress:
		return "EventInProgress"
	case ErrorCodeTransportSend:
		return "TransportSend"
	case ErrorCodeProtocolViolation:
		return "ProtocolViolation"
	case ErrorCodeEventCancelled:
		return "EventCancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// CoreError базовая структура ошибок транспортного ядра.
// Поддерживает errors.Is по коду и errors.Unwrap для обернутых ошибок.
type CoreError struct {
	Code    CoreErrorCode
	Message string
	Wrapped error
}

// Error реализует интерфейс error
func (e *CoreError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[rtpcore:%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[rtpcore:%s] %s", e.Code, e.Message)
}

// Unwrap возвращает обернутую ошибку
func (e *CoreError) Unwrap() error {
	return e.Wrapped
}

// Is поддерживает errors.Is, сравнивая ошибки по коду
func (e *CoreError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewCoreError создает новую ошибку ядра с форматированным сообщением
func NewCoreError(code CoreErrorCode, format string, args ...interface{}) *CoreError {
	return &CoreError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapCoreError оборачивает существующую ошибку в CoreError
func WrapCoreError(code CoreErrorCode, message string, err error) *CoreError {
	return &CoreError{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// HasErrorCode проверяет, содержит ли ошибка указанный код
func HasErrorCode(err error, code CoreErrorCode) bool {
	if coreErr, ok := err.(*CoreError); ok {
		return coreErr.Code == code
	}
	return false
}
