// messaging_users.go — кэш пользователей messaging-сервиса, ключ — ID.
// Нужен reconciliation-циклу для обратного резолва записей членства
// (TeamMember/ChannelMember содержат только user_id).
package repository

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bigkaa/communitysync/internal/domain/model"
)

// MessagingUserLister — источник пользователей messaging-сервиса.
// Реализуется msgclient.Client.
type MessagingUserLister interface {
	ListUsers(ctx context.Context) ([]model.MessagingUser, error)
}

// MessagingUserCache — кэш пользователей messaging-сервиса (ID → пользователь).
type MessagingUserCache struct {
	lister MessagingUserLister
	logger *slog.Logger

	mu     sync.RWMutex
	users  map[string]*model.MessagingUser
	loaded bool
}

// NewMessagingUserCache создаёт кэш пользователей messaging-сервиса.
func NewMessagingUserCache(lister MessagingUserLister, logger *slog.Logger) *MessagingUserCache {
	return &MessagingUserCache{
		lister: lister,
		logger: logger.With(slog.String("component", "messaging_user_cache")),
	}
}

// Get возвращает текущий снимок (ID → пользователь).
// При первом обращении загружает данные лениво.
// Возвращаемую карту нельзя модифицировать.
func (c *MessagingUserCache) Get(ctx context.Context) map[string]*model.MessagingUser {
	c.mu.RLock()
	if c.loaded {
		users := c.users
		c.mu.RUnlock()
		return users
	}
	c.mu.RUnlock()

	// Refresh сам логирует сбой и оставляет пустой снимок.
	_ = c.Refresh(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.users
}

// GetByID возвращает пользователя из текущего снимка. nil — не найден.
func (c *MessagingUserCache) GetByID(ctx context.Context, userID string) *model.MessagingUser {
	return c.Get(ctx)[userID]
}

// Refresh перечитывает пользователей из messaging-сервиса и заменяет снимок.
// При сбое источника снимок заменяется пустой картой до следующего цикла:
// отсутствие пользователей — переходное состояние, сбой логируется и
// никогда не возвращается как ошибка.
func (c *MessagingUserCache) Refresh(ctx context.Context) error {
	list, err := c.lister.ListUsers(ctx)
	if err != nil {
		c.logger.Warn("Ошибка обновления кэша пользователей messaging-сервиса, снимок очищен",
			slog.String("error", err.Error()),
		)
		list = nil
	}

	users := make(map[string]*model.MessagingUser, len(list))
	for i := range list {
		users[list[i].ID] = &list[i]
	}

	c.mu.Lock()
	c.users = users
	c.loaded = true
	c.mu.Unlock()

	c.logger.Debug("Кэш пользователей messaging-сервиса обновлён",
		slog.Int("count", len(users)),
	)
	return nil
}
