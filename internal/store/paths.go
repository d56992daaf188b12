package store

import (
	"path/filepath"

	"prudo-grid/internal/domain"
)

const (
	// DetectionFilename последний результат детекции пользователя
	DetectionFilename = "detection_results.json"
	// ProfileFilename данные аккаунта, их пишет сервис авторизации
	ProfileFilename = "user_data.json"
)

// layout строит пути внутри корневого каталога данных.
// UserID уже проверен ValidateUserID, поэтому выйти за пределы root нельзя.
type layout struct {
	root string
}

func (l layout) userDir(id domain.UserID) string {
	return filepath.Join(l.root, string(id))
}

func (l layout) detectionPath(id domain.UserID) string {
	return filepath.Join(l.userDir(id), DetectionFilename)
}

func (l layout) profilePath(id domain.UserID) string {
	return filepath.Join(l.userDir(id), ProfileFilename)
}
