// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Сервис мониторит две зависимости, обе critical:
//   - directory-сервис — HTTP checker к базовому URL API
//   - messaging-сервис — HTTP checker к базовому URL API
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для обоих сервисов
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID — имя вершины графа текущего приложения (e.g. "community-sync")
//   - group — имя группы в метриках (CS_DEPHEALTH_GROUP)
//   - directoryURL — базовый URL API directory-сервиса
//   - messagingURL — базовый URL API messaging-сервиса
//   - checkInterval — интервал проверки зависимостей (CS_DEPHEALTH_CHECK_INTERVAL)
func NewDephealthService(
	serviceID string,
	group string,
	directoryURL string,
	messagingURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, directoryURL, messagingURL, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	directoryURL string,
	messagingURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, directoryURL, messagingURL, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	serviceID string,
	group string,
	directoryURL string,
	messagingURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		// directory-сервис — HTTP checker к path базового URL API.
		// По умолчанию dephealth проверяет /health; у внешних API такого
		// endpoint может не быть, поэтому проверяем сам базовый path —
		// это подтверждает доступность API.
		dephealth.HTTP("directory",
			dephealth.FromURL(directoryURL),
			dephealth.WithHTTPHealthPath(healthPath(directoryURL)),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
			dephealth.WithHTTPTLSSkipVerify(true), // Dev-среда: self-signed сертификаты
		),
		// messaging-сервис — HTTP checker
		dephealth.HTTP("messaging",
			dephealth.FromURL(messagingURL),
			dephealth.WithHTTPHealthPath(healthPath(messagingURL)),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
			dephealth.WithHTTPTLSSkipVerify(true),
		),
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// healthPath извлекает path из URL для health check. Пустой path — "/".
func healthPath(rawURL string) string {
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return "/"
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (directory + messaging)")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

// Checker возвращает readiness-checker одной зависимости для health endpoint.
func (ds *DephealthService) Checker(dep string) *DepChecker {
	return &DepChecker{ds: ds, dep: dep}
}

// DepChecker — readiness-checker зависимости на основе состояния dephealth.
type DepChecker struct {
	ds  *DephealthService
	dep string
}

// CheckReady возвращает статус зависимости ("ok"/"fail") и сообщение.
func (c *DepChecker) CheckReady() (status, message string) {
	ok, known := c.ds.Health()[c.dep]
	switch {
	case !known:
		return "fail", "проверка ещё не выполнялась"
	case !ok:
		return "fail", c.dep + " недоступен"
	default:
		return "ok", ""
	}
}
