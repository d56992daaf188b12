// Package store хранит данные пользователей в файлах:
// <root>/<user_id>/detection_results.json и user_data.json.
package store

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/utils/v4"

	"prudo-grid/internal/domain"
)

var logger = loggo.GetLogger("prudo.store")

// DetectionStore хранит последний GridResult пользователя, без истории.
//
// Запись атомарна: файл пишется во временный и переименовывается.
// Две одновременные записи для одного пользователя не упорядочены,
// побеждает последняя.
type DetectionStore struct {
	layout layout
}

// NewDetectionStore создаёт хранилище в каталоге root
func NewDetectionStore(root string) *DetectionStore {
	return &DetectionStore{layout: layout{root: root}}
}

// Write перезаписывает результат пользователя целиком
func (s *DetectionStore) Write(id domain.UserID, result domain.GridResult) error {
	if _, err := domain.ValidateUserID(string(id)); err != nil {
		return errors.Trace(err)
	}
	data, err := result.Pretty()
	if err != nil {
		return errors.Trace(err)
	}
	if err := os.MkdirAll(s.layout.userDir(id), 0755); err != nil {
		return errors.Annotatef(err, "creating directory for user %q", id)
	}
	path := s.layout.detectionPath(id)
	if err := utils.AtomicWriteFile(path, data, 0644); err != nil {
		return errors.Annotatef(err, "writing detection record for user %q", id)
	}
	logger.Debugf("saved %s detection record to %s", humanize.Bytes(uint64(len(data))), path)
	return nil
}

// Read возвращает сохранённый результат.
// NotFound если записи нет, CorruptRecord если файл не разбирается;
// повреждённый файл не трогаем.
func (s *DetectionStore) Read(id domain.UserID) (domain.GridResult, error) {
	if _, err := domain.ValidateUserID(string(id)); err != nil {
		return nil, errors.Trace(err)
	}
	data, err := os.ReadFile(s.layout.detectionPath(id))
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("detection record for user %q", id)
	} else if err != nil {
		return nil, errors.Annotatef(err, "reading detection record for user %q", id)
	}
	result, err := domain.ParseGridResult(data)
	if err != nil {
		return nil, errors.Annotatef(err, "detection record for user %q", id)
	}
	return result, nil
}

// Exists проверяет наличие записи
func (s *DetectionStore) Exists(id domain.UserID) (bool, error) {
	if _, err := domain.ValidateUserID(string(id)); err != nil {
		return false, errors.Trace(err)
	}
	_, err := os.Stat(s.layout.detectionPath(id))
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}
