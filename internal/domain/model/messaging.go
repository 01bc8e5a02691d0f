// messaging.go — модели messaging-сервиса (команды, каналы, пользователи).
package model

import "time"

// MessagingUser — пользователь messaging-сервиса.
type MessagingUser struct {
	// ID — идентификатор пользователя в messaging-сервисе
	ID string `json:"id"`
	// Username — имя пользователя (join-ключ с directory)
	Username string `json:"username"`
	// ProfileURL — ссылка на профиль пользователя
	ProfileURL string `json:"profile_url"`
}

// Team — команда messaging-сервиса (зеркало корневой группы).
type Team struct {
	// ID — идентификатор команды
	ID string `json:"id"`
	// Name — имя команды (совпадает с path корневой группы)
	Name string `json:"name"`
	// DisplayName — отображаемое имя
	DisplayName string `json:"display_name"`
	// URL — ссылка на команду (выставляется клиентом после получения)
	URL string `json:"-"`
}

// TeamMember — запись о членстве пользователя в команде или канале.
type TeamMember struct {
	// UserID — идентификатор пользователя в messaging-сервисе
	UserID string `json:"user_id"`
}

// ChannelStatus — статус жизненного цикла канала.
type ChannelStatus string

const (
	// ChannelActive — канал активен.
	ChannelActive ChannelStatus = "active"
	// ChannelDeleted — канал мягко удалён (архивирован), может быть восстановлен.
	ChannelDeleted ChannelStatus = "deleted"
)

// Channel — канал messaging-сервиса, привязанный к теме.
// Имя канала всегда равно path темы.
type Channel struct {
	// ID — идентификатор канала
	ID string `json:"id"`
	// Name — имя канала (равно path темы)
	Name string `json:"name"`
	// DisplayName — отображаемое имя
	DisplayName string `json:"display_name"`
	// Purpose — назначение канала ("Community topic '<path>'")
	Purpose string `json:"purpose"`
	// Header — заголовок канала (хранит описание темы)
	Header string `json:"header"`
	// Type — тип канала в API: "P" (private) или "O" (public)
	Type string `json:"type"`
	// MessageCount — количество сообщений
	MessageCount int `json:"total_msg_count"`
	// CreateAt — время создания (unix миллисекунды, 0 — не задано)
	CreateAt int64 `json:"create_at"`
	// DeleteAt — время мягкого удаления (unix миллисекунды, 0 — канал активен)
	DeleteAt int64 `json:"delete_at"`
	// LastPostAt — время последнего сообщения (unix миллисекунды)
	LastPostAt int64 `json:"last_post_at"`
}

// Private возвращает true для приватного канала.
func (c *Channel) Private() bool {
	return c.Type == "P"
}

// Status возвращает статус жизненного цикла канала.
func (c *Channel) Status() ChannelStatus {
	if c.DeleteAt != 0 {
		return ChannelDeleted
	}
	return ChannelActive
}

// CreatedTime возвращает время создания канала (zero time — не задано).
func (c *Channel) CreatedTime() time.Time {
	if c.CreateAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.CreateAt)
}

// LastPostTime возвращает время последнего сообщения (zero time — не задано).
func (c *Channel) LastPostTime() time.Time {
	if c.LastPostAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.LastPostAt)
}
