package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"

	"prudo-grid/internal/domain"
)

var logger = loggo.GetLogger("prudo.ml")

// ModelAdapter клиент внешнего сервиса инференса.
// Сам сервис (YOLO) отвечает списком рамок в формате xyxy и именем класса.
type ModelAdapter struct {
	modelPath    string
	inferenceURL string // URL Python-сервиса с моделью
	client       *http.Client
	clock        clock.Clock
}

// NewModelAdapter создаёт адаптер. Если client nil, используется клиент с timeout.
func NewModelAdapter(modelPath, inferenceURL string, timeout time.Duration, client *http.Client) *ModelAdapter {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &ModelAdapter{
		modelPath:    modelPath,
		inferenceURL: strings.TrimRight(inferenceURL, "/"),
		client:       client,
		clock:        clock.WallClock,
	}
}

// Predict выполняет inference через внешний Python-сервис
func (m *ModelAdapter) Predict(ctx context.Context, imageData []byte, filename string) ([]domain.BoundingBox, error) {
	if filename == "" {
		filename = "image.jpg"
	}

	// Создаём multipart запрос
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, errors.Annotate(err, "create form file")
	}
	if _, err := io.Copy(part, bytes.NewReader(imageData)); err != nil {
		return nil, errors.Annotate(err, "copy image data")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Annotate(err, "close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.inferenceURL, body)
	if err != nil {
		return nil, errors.Annotate(err, "create request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errors.Annotate(err, "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("inference failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	// Парсим результат
	var result struct {
		Detections []domain.BoundingBox `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Annotate(err, "decode response")
	}
	logger.Tracef("model %s returned %d detections for %s", m.modelPath, len(result.Detections), filename)
	return result.Detections, nil
}

// CheckHealth проверяет доступность ML-сервиса, делая до attempts попыток
func (m *ModelAdapter) CheckHealth(ctx context.Context, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	if delay <= 0 {
		delay = time.Second
	}
	return retry.Call(retry.CallArgs{
		Func: func() error {
			return m.checkHealth(ctx)
		},
		IsFatalError: func(error) bool {
			return ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("ml service health check attempt %d failed: %v", attempt, err)
		},
		Attempts: attempts,
		Delay:    delay,
		Clock:    m.clock,
		Stop:     ctx.Done(),
	})
}

func (m *ModelAdapter) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.inferenceURL+"/health", nil)
	if err != nil {
		return errors.Trace(err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("ml service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
