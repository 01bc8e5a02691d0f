// Пакет server — HTTP-сервер Community Sync с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на ingress.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/communitysync/internal/api/handlers"
	"github.com/bigkaa/communitysync/internal/api/middleware"
	"github.com/bigkaa/communitysync/internal/config"
)

// Server — HTTP-сервер Community Sync.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware; nil отключает аутентификацию (CS_JWT_JWKS_URL
// не задан) — мутирующие endpoints становятся общедоступными.
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, jwtAuth *middleware.JWTAuth) *Server {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Health и metrics проверяются Kubernetes напрямую, без аутентификации.
	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)

	// Middleware мутирующих операций: JWT + роль администратора.
	requireAdmin := func(next http.Handler) http.Handler { return next }
	if jwtAuth != nil {
		jwtMiddleware := jwtAuth.Middleware()
		roleMiddleware := middleware.RequireRole(cfg.JWTAdminRole)
		requireAdmin = func(next http.Handler) http.Handler {
			return jwtMiddleware(roleMiddleware(next))
		}
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/community", handler.GetCommunity)

		r.Get("/members", handler.ListMembers)
		r.Get("/members/{username}", handler.GetMember)
		r.Get("/members/{username}/topics", handler.ListMemberTopics)

		r.Get("/topics", handler.ListTopics)
		r.Get("/topics/{path}", handler.GetTopic)
		r.Get("/topics/{path}/members", handler.ListTopicMembers)
		r.Get("/topics/{path}/members/{username}", handler.CheckTopicMember)

		// Мутирующие операции — только для администраторов сообщества.
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/topics", handler.CreateTopic)
			r.Put("/topics/{path}", handler.UpdateTopic)
			r.Delete("/topics/{path}", handler.DeleteTopic)
			r.Put("/topics/{path}/members/{username}", handler.AddTopicMember)
			r.Delete("/topics/{path}/members/{username}", handler.RemoveTopicMember)
			r.Post("/reconcile", handler.RunReconcile)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Handler возвращает корневой HTTP handler сервера.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
