package domain

import (
	"github.com/juju/errors"
)

// CorruptRecord сохранённая запись не разбирается как GridResult.
// InvalidInput и NotFound выражаются через errors.NotValid и errors.NotFound.
const CorruptRecord = errors.ConstError("corrupt record")

// IsInvalidInput сообщает, что запрос отклонён до каких-либо побочных эффектов
func IsInvalidInput(err error) bool {
	return errors.Is(err, errors.NotValid)
}

// IsNotFound сообщает об отсутствии записи
func IsNotFound(err error) bool {
	return errors.Is(err, errors.NotFound)
}

// IsCorruptRecord сообщает о повреждённой записи
func IsCorruptRecord(err error) bool {
	return errors.Is(err, CorruptRecord)
}
