package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter настраивает роуты. staticDir может быть пустым.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, staticDir string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/detect/", h.DetectHandler).Methods(http.MethodPost)
	r.HandleFunc("/user_data/", h.UserDataHandler).Methods(http.MethodPost)
	r.HandleFunc("/detection_stream/{user_id}", h.StreamHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Отдаём статические файлы
	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return corsMiddleware(r)
}

// corsMiddleware добавляет CORS заголовки
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
