// Package server реализует служебный HTTP-сервер: проверку работоспособности,
// список участников и метрики.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"secret-lounge/internal/domain"
	"secret-lounge/internal/pkg/config"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// HealthChecker проверяет доступность хранилища.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// MemberLister возвращает допущенных участников.
type MemberLister interface {
	ListActive(ctx context.Context) ([]domain.Participant, error)
}

// MemberDTO — участник в ответе API. Идентификаторы Telegram не раскрываются.
type MemberDTO struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Pagination описывает страницу результата.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	PageSize    int `json:"page_size"`
	TotalItems  int `json:"total_items"`
	TotalPages  int `json:"total_pages"`
}

// MembersResponse — ответ GET /api/v1/members.
type MembersResponse struct {
	Pagination Pagination  `json:"pagination"`
	Data       []MemberDTO `json:"data"`
}

// Server представляет HTTP-сервер
type Server struct {
	HTTPServer *http.Server
	health     HealthChecker
	members    MemberLister
	log        *slog.Logger
}

// New создает новый экземпляр Server. metrics может быть nil.
func New(cfg *config.Config, health HealthChecker, members MemberLister, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		health:  health,
		members: members,
		log:     logger.With(slog.String("component", "ops")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/members", s.handleMembers)
	})

	s.HTTPServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      r,
		ReadTimeout:  config.DefaultReadTimeout,
		WriteTimeout: config.DefaultWriteTimeout,
		IdleTimeout:  config.DefaultIdleTimeout,
	}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health.Ping(ctx); err != nil {
		s.log.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	page, err := positiveQueryInt(r, "page", 1)
	if err != nil {
		http.Error(w, "invalid page", http.StatusBadRequest)
		return
	}
	pageSize, err := positiveQueryInt(r, "page_size", defaultPageSize)
	if err != nil || pageSize > maxPageSize {
		http.Error(w, "invalid page_size", http.StatusBadRequest)
		return
	}

	participants, err := s.members.ListActive(r.Context())
	if err != nil {
		s.log.Error("failed to list members", slog.String("error", err.Error()))
		http.Error(w, "failed to list members", http.StatusInternalServerError)
		return
	}

	members := make([]MemberDTO, 0, len(participants))
	for _, p := range participants {
		if p.DisplayName == "" {
			continue
		}
		members = append(members, MemberDTO{DisplayName: p.DisplayName, Role: string(p.Role)})
	}

	total := len(members)
	// Страница за пределами списка пуста; проверка до умножения исключает переполнение.
	start := total
	if page-1 <= total/pageSize {
		start = min((page-1)*pageSize, total)
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, MembersResponse{
		Pagination: Pagination{
			CurrentPage: page,
			PageSize:    pageSize,
			TotalItems:  total,
			TotalPages:  (total + pageSize - 1) / pageSize,
		},
		Data: members[start:end],
	})
}

// requestLogger пишет в slog одну запись на запрос.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request served",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(started)))
	})
}

func positiveQueryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, strconv.ErrRange
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe запускает HTTP-сервер
func (s *Server) ListenAndServe() error {
	return s.HTTPServer.ListenAndServe()
}

// Shutdown корректно завершает работу HTTP-сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down ops server")
	return s.HTTPServer.Shutdown(ctx)
}
