// reconcile.go — сервис фоновой сверки (Reconciliation) сообщества.
//
// Каждый цикл, строго последовательно:
//  1. Обновить кэши пользователей обоих сервисов, затем снимки
//     участников, тем и членства в темах (в этом порядке).
//  2. Сверка членства команды: участники сообщества должны составлять
//     ровно множество участников команды messaging-сервиса.
//  3. Сверка каналов: для каждой темы с привязанным каналом —
//     восстановление из мягкого удаления, приведение метаданных,
//     сверка множества участников канала.
//
// Шаги независимы и best effort: сбой одного не прерывает остальные.
// Темы без канала при сверке пропускаются — каналы создаются только
// операцией создания темы.
//
// Запускается как горутина с периодическим тикером (CS_REFRESH_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/communitysync/internal/domain/model"
)

// Prometheus-метрики reconciliation.
var (
	// reconcileRunsTotal — количество циклов сверки по результату.
	reconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_reconcile_runs_total",
		Help: "Общее количество циклов сверки сообщества",
	}, []string{"result"})

	// reconcileRepairsTotal — количество исправлений по типу.
	reconcileRepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_reconcile_repairs_total",
		Help: "Общее количество исправлений, внесённых сверкой",
	}, []string{"type"})

	// reconcileDurationSeconds — длительность цикла сверки.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cs_reconcile_duration_seconds",
		Help:    "Длительность цикла сверки сообщества в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// Типы исправлений для метрики cs_reconcile_repairs_total.
const (
	repairTeamMemberAdded      = "team_member_added"
	repairTeamMemberRemoved    = "team_member_removed"
	repairChannelRestored      = "channel_restored"
	repairChannelMetadata      = "channel_metadata"
	repairChannelMemberAdded   = "channel_member_added"
	repairChannelMemberRemoved = "channel_member_removed"
)

// ReconcileResult — итоги одного цикла сверки.
type ReconcileResult struct {
	StartedAt             time.Time `json:"started_at"`
	CompletedAt           time.Time `json:"completed_at"`
	Members               int       `json:"members"`
	Topics                int       `json:"topics"`
	TeamMembersAdded      int       `json:"team_members_added"`
	TeamMembersRemoved    int       `json:"team_members_removed"`
	ChannelsRestored      int       `json:"channels_restored"`
	ChannelsUpdated       int       `json:"channels_updated"`
	ChannelMembersAdded   int       `json:"channel_members_added"`
	ChannelMembersRemoved int       `json:"channel_members_removed"`
}

// ReconcileService — сервис фоновой сверки сообщества.
type ReconcileService struct {
	store    *CommunityStore
	msg      MessagingClient
	users    DirectoryUsers
	msgUsers MessagingUsers
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	store *CommunityStore,
	msg MessagingClient,
	users DirectoryUsers,
	msgUsers MessagingUsers,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		store:    store,
		msg:      msg,
		users:    users,
		msgUsers: msgUsers,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Сверка сообщества запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	if rs.done != nil {
		<-rs.done
	}
	rs.logger.Info("Сверка сообщества остановлена")
}

// IsInProgress возвращает true, если цикл сверки выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл сверки.
// Потокобезопасен: если цикл уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	logger := rs.logger.With(slog.String("cycle_id", uuid.New().String()))

	startedAt := time.Now().UTC()
	logger.Info("Цикл сверки начат")

	result := &ReconcileResult{StartedAt: startedAt}

	rs.refreshSnapshots(ctx, logger)
	rs.reconcileTeamMembers(ctx, logger, result)
	rs.reconcileChannels(ctx, logger, result)

	result.CompletedAt = time.Now().UTC()
	result.Members = len(rs.store.Members(ctx))
	result.Topics = len(rs.store.Topics(ctx))
	duration := result.CompletedAt.Sub(startedAt)

	reconcileRunsTotal.WithLabelValues("ok").Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())

	logger.Info("Цикл сверки завершён",
		slog.Int("members", result.Members),
		slog.Int("topics", result.Topics),
		slog.Int("team_members_added", result.TeamMembersAdded),
		slog.Int("team_members_removed", result.TeamMembersRemoved),
		slog.Int("channels_restored", result.ChannelsRestored),
		slog.Int("channels_updated", result.ChannelsUpdated),
		slog.Int("channel_members_added", result.ChannelMembersAdded),
		slog.Int("channel_members_removed", result.ChannelMembersRemoved),
		slog.Duration("duration", duration),
	)

	return result, false
}

// refreshSnapshots обновляет кэши пользователей и производные снимки.
// Порядок фиксирован: деривация тем и членства зависит от свежих кэшей.
func (rs *ReconcileService) refreshSnapshots(ctx context.Context, logger *slog.Logger) {
	logger.Debug("Обновление кэшей и снимков")

	if err := rs.users.Refresh(ctx); err != nil {
		logger.Warn("Ошибка обновления кэша пользователей directory-сервиса",
			slog.String("error", err.Error()),
		)
	}
	if err := rs.msgUsers.Refresh(ctx); err != nil {
		logger.Warn("Ошибка обновления кэша пользователей messaging-сервиса",
			slog.String("error", err.Error()),
		)
	}
	if err := rs.store.RefreshMembers(ctx); err != nil {
		logger.Warn("Ошибка обновления снимка участников", slog.String("error", err.Error()))
	}
	if err := rs.store.RefreshTopics(ctx); err != nil {
		logger.Warn("Ошибка обновления снимка тем", slog.String("error", err.Error()))
	}
	if err := rs.store.RefreshTopicMembers(ctx); err != nil {
		logger.Warn("Ошибка обновления снимка членства в темах", slog.String("error", err.Error()))
	}
}

// reconcileTeamMembers приводит членство команды messaging-сервиса к
// множеству участников сообщества.
//
// Алгоритм working set: текущие участники команды резолвятся в usernames
// через кэш пользователей messaging-сервиса (нерезолвимые записи
// игнорируются). Каждый участник сообщества вычёркивается из working set
// либо, если отсутствует, добавляется в команду. Остаток working set —
// нелегитимные участники — удаляется из команды.
func (rs *ReconcileService) reconcileTeamMembers(ctx context.Context, logger *slog.Logger, result *ReconcileResult) {
	logger.Debug("Сверка членства команды")

	team := rs.store.Community().Team
	teamMembers, err := rs.msg.ListTeamMembers(ctx, team)
	if err != nil {
		logger.Warn("Ошибка получения участников команды", slog.String("error", err.Error()))
		return
	}

	msgUsers := rs.msgUsers.Get(ctx)

	// username → пользователь messaging-сервиса, состоящий в команде
	working := make(map[string]*model.MessagingUser, len(teamMembers))
	for _, tm := range teamMembers {
		if user, ok := msgUsers[tm.UserID]; ok {
			working[user.Username] = user
		}
	}

	// Индекс по username для поиска отсутствующих участников.
	byUsername := make(map[string]*model.MessagingUser, len(msgUsers))
	for _, user := range msgUsers {
		byUsername[user.Username] = user
	}

	for username := range rs.store.Members(ctx) {
		if _, inTeam := working[username]; inTeam {
			delete(working, username)
			continue
		}

		missing, ok := byUsername[username]
		if !ok {
			// Пользователь не заведён в messaging-сервисе
			continue
		}

		logger.Info("Добавление отсутствующего участника команды",
			slog.String("username", username),
		)
		if err := rs.msg.AddTeamMember(ctx, team, missing); err != nil {
			logger.Warn("Ошибка добавления участника команды",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.TeamMembersAdded++
		reconcileRepairsTotal.WithLabelValues(repairTeamMemberAdded).Inc()
	}

	for username, user := range working {
		logger.Info("Удаление нелегитимного участника команды",
			slog.String("username", username),
		)
		if err := rs.msg.RemoveTeamMember(ctx, team, user); err != nil {
			logger.Warn("Ошибка удаления участника команды",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.TeamMembersRemoved++
		reconcileRepairsTotal.WithLabelValues(repairTeamMemberRemoved).Inc()
	}
}

// reconcileChannels приводит каналы тем к производному снимку.
// Темы без привязанного канала пропускаются.
func (rs *ReconcileService) reconcileChannels(ctx context.Context, logger *slog.Logger, result *ReconcileResult) {
	logger.Debug("Сверка каналов тем")

	team := rs.store.Community().Team
	topicMembers := rs.store.TopicMembers(ctx)

	for path, topic := range rs.store.Topics(ctx) {
		if !topic.HasChannel() {
			continue
		}

		channel, err := rs.msg.GetChannelByName(ctx, team, path)
		if err != nil {
			logger.Warn("Ошибка получения канала темы",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		if channel == nil {
			continue
		}

		rs.repairChannel(ctx, logger, topic, channel, topicMembers[path], result)
	}
}

// repairChannel выполняет сверку одного канала: восстановление, метаданные,
// множество участников.
func (rs *ReconcileService) repairChannel(
	ctx context.Context,
	logger *slog.Logger,
	topic *model.Topic,
	channel *model.Channel,
	usernames map[string]struct{},
	result *ReconcileResult,
) {
	// Восстановление мягко удалённого канала.
	if channel.Status() == model.ChannelDeleted {
		logger.Info("Восстановление удалённого канала", slog.String("channel", channel.Name))
		restored, err := rs.msg.RestoreChannel(ctx, channel)
		if err != nil {
			logger.Warn("Ошибка восстановления канала",
				slog.String("channel", channel.Name),
				slog.String("error", err.Error()),
			)
		} else {
			channel = restored
			result.ChannelsRestored++
			reconcileRepairsTotal.WithLabelValues(repairChannelRestored).Inc()
		}
	}

	// Приведение метаданных к теме.
	purpose := channelPurpose(topic.Path)
	if channel.Name != topic.Path || channel.DisplayName != topic.Name ||
		channel.Purpose != purpose || channel.Header != topic.Description {
		logger.Info("Обновление метаданных канала", slog.String("channel", channel.Name))
		err := rs.msg.UpdateChannel(ctx, channel, topic.Path, topic.Name, purpose, topic.Description)
		if err != nil {
			logger.Warn("Ошибка обновления метаданных канала",
				slog.String("channel", channel.Name),
				slog.String("error", err.Error()),
			)
		} else {
			result.ChannelsUpdated++
			reconcileRepairsTotal.WithLabelValues(repairChannelMetadata).Inc()
		}
	}

	// Сверка множества участников канала.
	required := make([]string, 0, len(usernames))
	for username := range usernames {
		required = append(required, username)
	}

	requiredUsers, err := rs.msg.GetUsersByUsernames(ctx, required)
	if err != nil {
		logger.Warn("Ошибка резолва участников темы в messaging-сервисе",
			slog.String("channel", channel.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	channelMembers, err := rs.msg.ListChannelMembers(ctx, channel)
	if err != nil {
		logger.Warn("Ошибка получения участников канала",
			slog.String("channel", channel.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	working := make(map[string]struct{}, len(channelMembers))
	for _, cm := range channelMembers {
		working[cm.UserID] = struct{}{}
	}

	for i := range requiredUsers {
		user := &requiredUsers[i]
		if _, present := working[user.ID]; present {
			delete(working, user.ID)
			continue
		}

		logger.Info("Добавление отсутствующего участника канала",
			slog.String("username", user.Username),
			slog.String("channel", channel.Name),
		)
		if err := rs.msg.AddChannelMember(ctx, channel, user); err != nil {
			logger.Warn("Ошибка добавления участника канала",
				slog.String("username", user.Username),
				slog.String("channel", channel.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.ChannelMembersAdded++
		reconcileRepairsTotal.WithLabelValues(repairChannelMemberAdded).Inc()
	}

	for userID := range working {
		logger.Info("Удаление нелегитимного участника канала",
			slog.String("user_id", userID),
			slog.String("channel", channel.Name),
		)
		if err := rs.msg.RemoveChannelMember(ctx, channel, userID); err != nil {
			logger.Warn("Ошибка удаления участника канала",
				slog.String("user_id", userID),
				slog.String("channel", channel.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.ChannelMembersRemoved++
		reconcileRepairsTotal.WithLabelValues(repairChannelMemberRemoved).Inc()
	}
}
