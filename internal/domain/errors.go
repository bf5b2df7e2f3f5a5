package domain

import "errors"

var (
	// ErrRequestRequired возвращается, если запрос на заказ отсутствует.
	ErrRequestRequired = errors.New("order request is required")
	// ErrValidationFailed — запрос отклонён валидатором, заказ не сохранялся.
	ErrValidationFailed = errors.New("order request failed validation")
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists: заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ErrorKind классифицирует ошибки обработки заказа для транспорта и метрик.
type ErrorKind string

// Класса "unknown" нет: любая ошибка ProcessOrder, кроме ErrRequestRequired
// и ErrValidationFailed, пришла из хранилища.
const (
	ErrorKindNone            ErrorKind = ""
	ErrorKindInvalidArgument ErrorKind = "invalid_argument"
	ErrorKindValidation      ErrorKind = "validation"
	ErrorKindPersistence     ErrorKind = "persistence"
)

// KindOf определяет класс ошибки, возвращённой процессором.
// Всё, что не является ошибкой аргумента или валидации, пришло из хранилища:
// процессор пробрасывает ошибки Save без обёртки.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrRequestRequired):
		return ErrorKindInvalidArgument
	case errors.Is(err, ErrValidationFailed):
		return ErrorKindValidation
	default:
		return ErrorKindPersistence
	}
}

// IsAlreadyExists проверяет, является ли ошибка конфликтом идентификатора заказа.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrOrderAlreadyExists)
}
