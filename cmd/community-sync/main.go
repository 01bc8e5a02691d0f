// Точка входа Community Sync — сервис синхронизации сообщества.
// Загружает конфигурацию, инициализирует клиенты directory- и
// messaging-сервисов, резолвит сообщество (корневая группа + команда),
// создаёт сервисный слой и API handlers, запускает фоновую сверку
// и мониторинг зависимостей, HTTP-сервер с JWT middleware и
// graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/bigkaa/communitysync/internal/api/handlers"
	"github.com/bigkaa/communitysync/internal/api/middleware"
	"github.com/bigkaa/communitysync/internal/config"
	"github.com/bigkaa/communitysync/internal/dirclient"
	"github.com/bigkaa/communitysync/internal/msgclient"
	"github.com/bigkaa/communitysync/internal/repository"
	"github.com/bigkaa/communitysync/internal/server"
	"github.com/bigkaa/communitysync/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Community Sync запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("group_path", cfg.GroupPath),
	)

	if os.Getenv("CS_DEPHEALTH_GROUP") == "" {
		logger.Warn("CS_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Клиенты внешних сервисов
	dirClient := dirclient.New(
		cfg.DirectoryURL,
		cfg.DirectoryToken,
		cfg.DirectoryPerPage,
		&http.Client{Timeout: cfg.DirectoryTimeout},
		logger,
	)
	logger.Info("Клиент directory-сервиса создан", slog.String("url", cfg.DirectoryURL))

	msgClient := msgclient.New(
		cfg.MessagingURL,
		cfg.MessagingToken,
		cfg.MessagingPerPage,
		cfg.MessagingLookupCacheSize,
		cfg.MessagingLookupCacheTTL,
		&http.Client{Timeout: cfg.MessagingTimeout},
		logger,
	)
	logger.Info("Клиент messaging-сервиса создан", slog.String("url", cfg.MessagingURL))

	// 4. Резолв сообщества: корневая группа и одноимённая команда
	// обязаны существовать.
	ctx := context.Background()
	community, err := service.ResolveCommunity(
		ctx,
		dirClient,
		msgClient,
		cfg.GroupPath,
		cfg.AdminUsernames,
		cfg.ExcludedUsernames,
		cfg.TopicRole,
	)
	if err != nil {
		logger.Error("Ошибка резолва сообщества", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Сообщество найдено",
		slog.String("group_id", community.ID()),
		slog.String("team_id", community.Team.ID),
	)

	// 5. Кэши пользователей и хранилище производного состояния
	userCache := repository.NewUserCache(dirClient, logger)
	msgUserCache := repository.NewMessagingUserCache(msgClient, logger)
	store := service.NewCommunityStore(dirClient, msgClient, userCache, community, logger)

	// 6. Services
	communitySvc := service.NewCommunityService(store, logger)
	reconcileSvc := service.NewReconcileService(
		store, msgClient, userCache, msgUserCache,
		cfg.RefreshInterval,
		logger,
	)

	// 7. Мониторинг зависимостей (topologymetrics)
	dephealthSvc, err := service.NewDephealthService(
		"community-sync",
		cfg.DephealthGroup,
		cfg.DirectoryURL,
		cfg.MessagingURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания мониторинга зависимостей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Error("Ошибка запуска мониторинга зависимостей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dephealthSvc.Stop()

	// 8. Начальный цикл сверки — состояние готово до первого запроса
	if _, skipped := reconcileSvc.RunOnce(ctx); skipped {
		logger.Warn("Начальный цикл сверки пропущен")
	}

	// 9. Фоновая периодическая сверка
	reconcileSvc.Start(ctx)
	defer reconcileSvc.Stop()

	// 10. JWT middleware (отключён, если CS_JWT_JWKS_URL не задан)
	var jwtAuth *middleware.JWTAuth
	if cfg.AuthEnabled() {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWTIssuer,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Warn("CS_JWT_JWKS_URL не задан — аутентификация отключена")
	}

	// 11. API handlers
	healthHandler := handlers.NewHealthHandler(
		dephealthSvc.Checker("directory"),
		dephealthSvc.Checker("messaging"),
	)
	apiHandler := handlers.NewAPIHandler(healthHandler, communitySvc, reconcileSvc, logger)

	// 12. HTTP-сервер с graceful shutdown
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
