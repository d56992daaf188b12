package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"golang.org/x/sync/semaphore"

	"prudo-grid/internal/domain"
	"prudo-grid/internal/grid"
)

var logger = loggo.GetLogger("prudo.service")

// InferenceFailed внешний сервис инференса не смог обработать изображение
const InferenceFailed = errors.ConstError("inference failed")

// Model внешний сервис инференса
type Model interface {
	Predict(ctx context.Context, imageData []byte, filename string) ([]domain.BoundingBox, error)
}

// Store сохраняет последний результат пользователя
type Store interface {
	Write(id domain.UserID, result domain.GridResult) error
}

// Publisher отдаёт результат живому подписчику, если он есть
type Publisher interface {
	Publish(id domain.UserID, msg []byte) bool
}

// Config зависимости DetectorService
type Config struct {
	Model     Model
	Store     Store
	Publisher Publisher
	Metrics   *Collector

	// MinConfidence рамки с уверенностью ниже порога отбрасываются
	MinConfidence float64
	// MaxConcurrentInference сколько запросов к модели идут одновременно
	MaxConcurrentInference int
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.Model == nil {
		return errors.NotValidf("nil Model")
	}
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if c.Publisher == nil {
		return errors.NotValidf("nil Publisher")
	}
	if c.MaxConcurrentInference <= 0 {
		return errors.NotValidf("MaxConcurrentInference %d", c.MaxConcurrentInference)
	}
	return nil
}

// DetectorService детекция -> сетка -> хранилище -> живой подписчик
type DetectorService struct {
	cfg       Config
	inference *semaphore.Weighted
}

// NewDetectorService создаёт сервис
func NewDetectorService(cfg Config) (*DetectorService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &DetectorService{
		cfg:       cfg,
		inference: semaphore.NewWeighted(int64(cfg.MaxConcurrentInference)),
	}, nil
}

// DetectObjects выполняет детекцию объектов на изображении, раскладывает их
// по сетке, сохраняет и отправляет подписчику пользователя.
// Неверный запрос отклоняется до любых побочных эффектов.
func (s *DetectorService) DetectObjects(ctx context.Context, req domain.DetectionRequest) (*domain.DetectionResult, error) {
	result, err := s.detectObjects(ctx, req)
	s.cfg.Metrics.ingested(outcome(err))
	return result, err
}

func (s *DetectorService) detectObjects(ctx context.Context, req domain.DetectionRequest) (*domain.DetectionResult, error) {
	// Валидация
	if _, err := domain.ValidateUserID(string(req.UserID)); err != nil {
		return nil, errors.Trace(err)
	}
	if req.Cols <= 0 || req.Rows <= 0 {
		return nil, errors.NotValidf("grid %dx%d", req.Cols, req.Rows)
	}
	width, height, err := imageSize(req.ImageData)
	if err != nil {
		return nil, errors.Trace(err)
	}
	logger.Debugf("detecting on %s image %dx%d for %q", humanize.Bytes(uint64(len(req.ImageData))), width, height, req.UserID)

	// Вызываем модель
	boxes, err := s.predict(ctx, req)
	if err != nil {
		return nil, errors.Trace(err)
	}

	// Фильтруем результаты с низкой уверенностью
	filtered := make([]domain.BoundingBox, 0, len(boxes))
	for _, box := range boxes {
		if box.Confidence >= s.cfg.MinConfidence {
			filtered = append(filtered, box)
		}
	}

	gridResult, err := grid.Bucket(filtered, width, height, req.Cols, req.Rows)
	if err != nil {
		return nil, errors.Trace(err)
	}
	compact, err := gridResult.Compact()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := s.cfg.Store.Write(req.UserID, gridResult); err != nil {
		return nil, errors.Annotate(err, "saving detection result")
	}

	delivered := s.cfg.Publisher.Publish(req.UserID, compact)
	logger.Infof("processed %d detections for %q, delivered to live subscriber: %v", len(filtered), req.UserID, delivered)

	return &domain.DetectionResult{
		Grid:      gridResult,
		Status:    "success",
		Message:   fmt.Sprintf("Found %d objects, results saved for user %s", len(filtered), req.UserID),
		Delivered: delivered,
	}, nil
}

func (s *DetectorService) predict(ctx context.Context, req domain.DetectionRequest) ([]domain.BoundingBox, error) {
	if err := s.inference.Acquire(ctx, 1); err != nil {
		return nil, errors.Annotate(err, "waiting for inference slot")
	}
	defer s.inference.Release(1)

	start := time.Now()
	boxes, err := s.cfg.Model.Predict(ctx, req.ImageData, req.Filename)
	s.cfg.Metrics.observeInference(time.Since(start))
	if err != nil {
		return nil, errors.WithType(errors.Annotate(err, "model prediction failed"), InferenceFailed)
	}
	return boxes, nil
}

// imageSize читает только заголовок изображения
func imageSize(data []byte) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, errors.NotValidf("empty image")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, errors.NotValidf("image (%v)", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, errors.NotValidf("image size %dx%d", cfg.Width, cfg.Height)
	}
	return cfg.Width, cfg.Height, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsInvalidInput(err):
		return "invalid"
	case errors.Is(err, InferenceFailed):
		return "inference_failed"
	}
	return "error"
}
