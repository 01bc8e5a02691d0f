// Пакет config — загрузка и валидация конфигурации Community Sync
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bigkaa/communitysync/internal/domain/model"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Community Sync.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Directory-сервис ---

	// Базовый URL API directory-сервиса
	DirectoryURL string
	// Personal access token directory-сервиса
	DirectoryToken string
	// Размер страницы списочных запросов
	DirectoryPerPage int
	// Таймаут HTTP-клиента directory-сервиса
	DirectoryTimeout time.Duration

	// --- Messaging-сервис ---

	// Базовый URL API messaging-сервиса
	MessagingURL string
	// Personal access token messaging-сервиса
	MessagingToken string
	// Размер страницы списочных запросов
	MessagingPerPage int
	// Таймаут HTTP-клиента messaging-сервиса
	MessagingTimeout time.Duration
	// Размер LRU-кэша username-lookup
	MessagingLookupCacheSize int
	// TTL записей LRU-кэша username-lookup
	MessagingLookupCacheTTL time.Duration

	// --- Сообщество ---

	// Path корневой группы (и имя команды messaging-сервиса)
	GroupPath string
	// Usernames администраторов сообщества
	AdminUsernames []string
	// Usernames, исключённые из сообщества (боты, tech-аккаунты)
	ExcludedUsernames []string
	// Роль в подгруппе, дающая членство в теме
	TopicRole model.Role

	// --- Сверка ---

	// Интервал цикла сверки
	RefreshInterval time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// --- JWT (пустой JWKS URL отключает аутентификацию) ---

	// URL JWKS endpoint провайдера аутентификации
	JWTJWKSURL string
	// Ожидаемый issuer JWT (опционально)
	JWTIssuer string
	// Роль, дающая доступ к мутирующим операциям
	JWTAdminRole string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Перед чтением окружения подгружается опциональный файл .env.
func Load() (*Config, error) {
	// .env — для локальной разработки; отсутствие файла не ошибка.
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CS_PORT — порт HTTP-сервера (по умолчанию 8000)
	cfg.Port, err = getEnvInt("CS_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("CS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// CS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CS_LOG_LEVEL: %w", err)
	}

	// CS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Directory-сервис ---

	// CS_DIRECTORY_URL — обязательный
	cfg.DirectoryURL, err = getEnvRequired("CS_DIRECTORY_URL")
	if err != nil {
		return nil, err
	}
	cfg.DirectoryURL = strings.TrimRight(cfg.DirectoryURL, "/")

	// CS_DIRECTORY_TOKEN — обязательный
	cfg.DirectoryToken, err = getEnvRequired("CS_DIRECTORY_TOKEN")
	if err != nil {
		return nil, err
	}

	// CS_DIRECTORY_PER_PAGE — размер страницы (по умолчанию 100)
	cfg.DirectoryPerPage, err = getEnvInt("CS_DIRECTORY_PER_PAGE", 100)
	if err != nil {
		return nil, fmt.Errorf("CS_DIRECTORY_PER_PAGE: %w", err)
	}
	if cfg.DirectoryPerPage < 1 || cfg.DirectoryPerPage > 100 {
		return nil, fmt.Errorf("CS_DIRECTORY_PER_PAGE: значение %d вне допустимого диапазона 1-100", cfg.DirectoryPerPage)
	}

	// CS_DIRECTORY_TIMEOUT — таймаут HTTP-клиента (по умолчанию 30s)
	cfg.DirectoryTimeout, err = getEnvDuration("CS_DIRECTORY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_DIRECTORY_TIMEOUT: %w", err)
	}

	// --- Messaging-сервис ---

	// CS_MESSAGING_URL — обязательный
	cfg.MessagingURL, err = getEnvRequired("CS_MESSAGING_URL")
	if err != nil {
		return nil, err
	}
	cfg.MessagingURL = strings.TrimRight(cfg.MessagingURL, "/")

	// CS_MESSAGING_TOKEN — обязательный
	cfg.MessagingToken, err = getEnvRequired("CS_MESSAGING_TOKEN")
	if err != nil {
		return nil, err
	}

	// CS_MESSAGING_PER_PAGE — размер страницы (по умолчанию 60)
	cfg.MessagingPerPage, err = getEnvInt("CS_MESSAGING_PER_PAGE", 60)
	if err != nil {
		return nil, fmt.Errorf("CS_MESSAGING_PER_PAGE: %w", err)
	}
	if cfg.MessagingPerPage < 1 || cfg.MessagingPerPage > 200 {
		return nil, fmt.Errorf("CS_MESSAGING_PER_PAGE: значение %d вне допустимого диапазона 1-200", cfg.MessagingPerPage)
	}

	// CS_MESSAGING_TIMEOUT — таймаут HTTP-клиента (по умолчанию 30s)
	cfg.MessagingTimeout, err = getEnvDuration("CS_MESSAGING_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_MESSAGING_TIMEOUT: %w", err)
	}

	// CS_MESSAGING_LOOKUP_CACHE_SIZE — размер LRU-кэша username-lookup (по умолчанию 512)
	cfg.MessagingLookupCacheSize, err = getEnvInt("CS_MESSAGING_LOOKUP_CACHE_SIZE", 512)
	if err != nil {
		return nil, fmt.Errorf("CS_MESSAGING_LOOKUP_CACHE_SIZE: %w", err)
	}
	if cfg.MessagingLookupCacheSize < 1 {
		return nil, fmt.Errorf("CS_MESSAGING_LOOKUP_CACHE_SIZE: значение должно быть положительным")
	}

	// CS_MESSAGING_LOOKUP_CACHE_TTL — TTL кэша username-lookup (по умолчанию 1m)
	cfg.MessagingLookupCacheTTL, err = getEnvDuration("CS_MESSAGING_LOOKUP_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_MESSAGING_LOOKUP_CACHE_TTL: %w", err)
	}

	// --- Сообщество ---

	// CS_GROUP_PATH — обязательный
	cfg.GroupPath, err = getEnvRequired("CS_GROUP_PATH")
	if err != nil {
		return nil, err
	}

	// CS_ADMIN_USERNAMES — usernames администраторов (через запятую)
	cfg.AdminUsernames = parseCSV(getEnvDefault("CS_ADMIN_USERNAMES", ""))

	// CS_EXCLUDED_USERNAMES — исключённые usernames (через запятую)
	cfg.ExcludedUsernames = parseCSV(getEnvDefault("CS_EXCLUDED_USERNAMES", ""))

	// CS_TOPIC_ROLE — роль членства в теме (по умолчанию maintainer)
	cfg.TopicRole = model.Role(getEnvDefault("CS_TOPIC_ROLE", string(model.RoleMaintainer)))
	if !cfg.TopicRole.Valid() {
		return nil, fmt.Errorf("CS_TOPIC_ROLE: недопустимое значение %q, допустимые: guest, reporter, developer, maintainer, owner", cfg.TopicRole)
	}

	// --- Сверка ---

	// CS_REFRESH_INTERVAL — интервал цикла сверки (по умолчанию 15m)
	cfg.RefreshInterval, err = getEnvDuration("CS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.RefreshInterval < time.Minute {
		return nil, fmt.Errorf("CS_REFRESH_INTERVAL: значение %s меньше минимального 1m", cfg.RefreshInterval)
	}

	// CS_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("CS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// CS_DEPHEALTH_GROUP — имя группы в метриках (по умолчанию community)
	cfg.DephealthGroup = getEnvDefault("CS_DEPHEALTH_GROUP", "community")

	// --- JWT ---

	// CS_JWT_JWKS_URL — URL JWKS endpoint; пустое значение отключает аутентификацию
	cfg.JWTJWKSURL = getEnvDefault("CS_JWT_JWKS_URL", "")

	// CS_JWT_ISSUER — ожидаемый issuer (опционально)
	cfg.JWTIssuer = getEnvDefault("CS_JWT_ISSUER", "")

	// CS_JWT_ADMIN_ROLE — роль мутирующих операций (по умолчанию community-admin)
	cfg.JWTAdminRole = getEnvDefault("CS_JWT_ADMIN_ROLE", "community-admin")

	// CS_JWKS_CLIENT_TIMEOUT — таймаут HTTP-клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("CS_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// CS_JWKS_REFRESH_INTERVAL — интервал обновления JWKS-ключей (по умолчанию 5m)
	cfg.JWKSRefreshInterval, err = getEnvDuration("CS_JWKS_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// CS_JWT_LEEWAY — допустимое отклонение времени JWT (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("CS_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_JWT_LEEWAY: %w", err)
	}

	// --- Graceful shutdown ---

	// CS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("CS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// AuthEnabled возвращает true, если JWT-аутентификация включена.
func (c *Config) AuthEnabled() bool {
	return c.JWTJWKSURL != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
