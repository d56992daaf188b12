package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"prudo-grid/internal/domain"
	"prudo-grid/internal/service"
	"prudo-grid/internal/stream"
)

var logger = loggo.GetLogger("prudo.http")

// Detector обработка загруженного изображения
type Detector interface {
	DetectObjects(ctx context.Context, req domain.DetectionRequest) (*domain.DetectionResult, error)
}

// DetectionReader чтение последнего результата
type DetectionReader interface {
	Read(id domain.UserID) (domain.GridResult, error)
}

// ProfileReader чтение профиля пользователя
type ProfileReader interface {
	Read(id domain.UserID) (domain.UserProfile, error)
}

// Config зависимости Handler
type Config struct {
	Detector   Detector
	Detections DetectionReader
	Profiles   ProfileReader
	Registry   stream.Registry
	Clock      clock.Clock

	HeartbeatInterval time.Duration
	MaxUploadBytes    int64
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.Detector == nil {
		return errors.NotValidf("nil Detector")
	}
	if c.Detections == nil {
		return errors.NotValidf("nil Detections")
	}
	if c.Profiles == nil {
		return errors.NotValidf("nil Profiles")
	}
	if c.Registry == nil {
		return errors.NotValidf("nil Registry")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.NotValidf("MaxUploadBytes %d", c.MaxUploadBytes)
	}
	return nil
}

type Handler struct {
	cfg Config
}

func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Handler{cfg: cfg}, nil
}

// DetectHandler обрабатывает POST /detect/
func (h *Handler) DetectHandler(w http.ResponseWriter, r *http.Request) {
	// Парсим multipart form
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		respondError(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	userID, err := domain.ValidateUserID(r.FormValue("user_id"))
	if err != nil {
		respondError(w, "Parameter 'user_id' must be a valid user id", http.StatusBadRequest)
		return
	}
	cols, err := positiveInt(r.FormValue("x_divisions"))
	if err != nil {
		respondError(w, "Parameter 'x_divisions' must be a positive integer", http.StatusBadRequest)
		return
	}
	rows, err := positiveInt(r.FormValue("y_divisions"))
	if err != nil {
		respondError(w, "Parameter 'y_divisions' must be a positive integer", http.StatusBadRequest)
		return
	}

	// Получаем файл
	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, "No image uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	// Читаем содержимое
	imageData, err := io.ReadAll(file)
	if err != nil {
		respondError(w, "Failed to read image", http.StatusInternalServerError)
		return
	}
	logger.Debugf("received %s image %q for %q", humanize.Bytes(uint64(len(imageData))), header.Filename, userID)

	// Вызываем сервис
	result, err := h.cfg.Detector.DetectObjects(r.Context(), domain.DetectionRequest{
		UserID:    userID,
		ImageData: imageData,
		Filename:  header.Filename,
		Cols:      cols,
		Rows:      rows,
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.Errorf("detection for %q failed: %v", userID, errors.Details(err))
		}
		respondError(w, "Detection failed: "+err.Error(), status)
		return
	}

	// Отправляем результат
	respondJSON(w, result, http.StatusOK)
}

// UserDataHandler обрабатывает POST /user_data/: профиль и последний результат
func (h *Handler) UserDataHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := domain.ValidateUserID(r.FormValue("user_id"))
	if err != nil {
		respondError(w, "Parameter 'user_id' must be a valid user id", http.StatusBadRequest)
		return
	}

	response := domain.UserDataResponse{ID: string(userID)}

	// профиль вторичен: битый или недоступный файл только логируем,
	// но он всё равно считается существующим
	profileFound := true
	profile, err := h.cfg.Profiles.Read(userID)
	switch {
	case err == nil:
		response.Nickname = profile.Nickname
		response.Level = profile.Level
		response.Exp = profile.Exp
	case domain.IsNotFound(err):
		profileFound = false
		logger.Debugf("no profile for %q", userID)
	default:
		logger.Warningf("could not read profile for %q: %v", userID, err)
	}

	detections, err := h.cfg.Detections.Read(userID)
	switch {
	case err == nil:
		response.DetectionData = detections
	case domain.IsNotFound(err):
		if !profileFound {
			respondError(w, "No data or user information found for user_id: "+string(userID), http.StatusNotFound)
			return
		}
	default:
		logger.Errorf("reading detection record for %q: %v", userID, err)
		respondError(w, "Error reading detection data: "+err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, response, http.StatusOK)
}

// StreamHandler обрабатывает GET /detection_stream/{user_id}
func (h *Handler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := domain.ValidateUserID(mux.Vars(r)["user_id"])
	if err != nil {
		respondError(w, "User ID must be a valid user id", http.StatusBadRequest)
		return
	}
	sink, err := newSSESink(w)
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logger.Infof("stream client %s connected for %q", r.RemoteAddr, userID)
	result, err := stream.Run(r.Context(), stream.Config{
		Registry:          h.cfg.Registry,
		UserID:            userID,
		Sink:              sink,
		Clock:             h.cfg.Clock,
		HeartbeatInterval: h.cfg.HeartbeatInterval,
	})
	if err != nil {
		// обрыв соединения штатная ситуация
		logger.Debugf("stream client %s for %q: %v", r.RemoteAddr, userID, err)
	}
	logger.Infof("stream client %s for %q finished (%s), %d events", r.RemoteAddr, userID, result.Reason, result.Events)
}

// HealthHandler проверка здоровья сервиса
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func positiveInt(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if n <= 0 {
		return 0, errors.NotValidf("%d", n)
	}
	return n, nil
}

func statusFor(err error) int {
	switch {
	case domain.IsInvalidInput(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, service.InferenceFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Debugf("writing response: %v", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}
