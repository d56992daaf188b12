package domain

import (
	"github.com/juju/errors"
)

// UserID идентификатор пользователя: ключ и для хранилища, и для подписки.
// Создаётся только через ValidateUserID.
type UserID string

// ValidateUserID проверяет, что id можно безопасно использовать как имя каталога.
// Допустимы латинские буквы, цифры и символы '-', '_', '.'.
func ValidateUserID(id string) (UserID, error) {
	if id == "" {
		return "", errors.NotValidf("empty user id")
	}
	if id == "." || id == ".." {
		return "", errors.NotValidf("user id %q", id)
	}
	for _, r := range id {
		if !isUserIDRune(r) {
			return "", errors.NotValidf("user id %q: character %q", id, r)
		}
	}
	return UserID(id), nil
}

func isUserIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.':
		return true
	}
	return false
}

func (id UserID) String() string {
	return string(id)
}
