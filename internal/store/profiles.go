package store

import (
	"encoding/json"
	"os"

	"github.com/juju/errors"

	"prudo-grid/internal/domain"
)

// ProfileStore читает профили, которые записывает сервис авторизации.
// Регистрация и пароли сюда не относятся, только чтение.
type ProfileStore struct {
	layout layout
}

// NewProfileStore создаёт читателя профилей в каталоге root
func NewProfileStore(root string) *ProfileStore {
	return &ProfileStore{layout: layout{root: root}}
}

// Read возвращает профиль пользователя. Поля вроде hashed_password
// отбрасываются при разборе.
func (s *ProfileStore) Read(id domain.UserID) (domain.UserProfile, error) {
	var profile domain.UserProfile
	if _, err := domain.ValidateUserID(string(id)); err != nil {
		return profile, errors.Trace(err)
	}
	data, err := os.ReadFile(s.layout.profilePath(id))
	if os.IsNotExist(err) {
		return profile, errors.NotFoundf("profile for user %q", id)
	} else if err != nil {
		return profile, errors.Annotatef(err, "reading profile for user %q", id)
	}
	if err := json.Unmarshal(data, &profile); err != nil {
		return profile, errors.WithType(
			errors.Annotatef(err, "parsing profile for user %q", id), domain.CorruptRecord)
	}
	return profile, nil
}
