// Пакет repository — in-memory кэши пользователей обоих внешних сервисов.
// Сервис не имеет собственного хранилища: всё состояние производно и
// перечитывается из directory- и messaging-сервисов каждый refresh-цикл.
package repository

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bigkaa/communitysync/internal/domain/model"
)

// DirectoryUserLister — источник пользователей directory-сервиса.
// Реализуется dirclient.Client.
type DirectoryUserLister interface {
	ListActiveUsers(ctx context.Context) ([]model.DirectoryUser, error)
}

// UserCache — кэш активных пользователей directory-сервиса, ключ — username.
// Снимок заменяется целиком при Refresh; читатели никогда не видят
// частично обновлённую карту.
type UserCache struct {
	lister DirectoryUserLister
	logger *slog.Logger

	mu     sync.RWMutex
	users  map[string]*model.DirectoryUser
	loaded bool
}

// NewUserCache создаёт кэш пользователей directory-сервиса.
func NewUserCache(lister DirectoryUserLister, logger *slog.Logger) *UserCache {
	return &UserCache{
		lister: lister,
		logger: logger.With(slog.String("component", "user_cache")),
	}
}

// Get возвращает текущий снимок (username → пользователь).
// При первом обращении загружает данные лениво.
// Возвращаемую карту нельзя модифицировать.
func (c *UserCache) Get(ctx context.Context) map[string]*model.DirectoryUser {
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

// GetByUsername возвращает пользователя из текущего снимка. nil — не найден.
func (c *UserCache) GetByUsername(ctx context.Context, username string) *model.DirectoryUser {
	return c.Get(ctx)[username]
}

// Refresh перечитывает пользователей из directory-сервиса и заменяет снимок.
// При сбое источника снимок заменяется пустой картой до следующего цикла:
// отсутствие пользователей — переходное состояние, сбой логируется и
// никогда не возвращается как ошибка.
func (c *UserCache) Refresh(ctx context.Context) error {
	list, err := c.lister.ListActiveUsers(ctx)
	if err != nil {
		c.logger.Warn("Ошибка обновления кэша пользователей directory-сервиса, снимок очищен",
			slog.String("error", err.Error()),
		)
		list = nil
	}

	users := make(map[string]*model.DirectoryUser, len(list))
	for i := range list {
		users[list[i].Username] = &list[i]
	}

	c.mu.Lock()
	c.users = users
	c.loaded = true
	c.mu.Unlock()

	c.logger.Debug("Кэш пользователей directory-сервиса обновлён",
		slog.Int("count", len(users)),
	)
	return nil
}
