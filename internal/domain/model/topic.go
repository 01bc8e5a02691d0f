// topic.go — тема сообщества (подгруппа + опционально привязанный канал).
package model

import "time"

// Topic — тема сообщества.
// Производная read-модель: подгруппа directory-сервиса плюс поля привязанного
// канала messaging-сервиса (пустые, если канал ещё не создан).
// Идентичность — по Path.
type Topic struct {
	// Path — уникальный slug темы (равен path подгруппы и имени канала)
	Path string `json:"path"`
	// Name — отображаемое имя
	Name string `json:"name"`
	// Description — описание
	Description string `json:"description"`
	// GroupID — идентификатор подгруппы в directory-сервисе
	GroupID string `json:"group_id"`
	// AvatarURL — URL аватара подгруппы
	AvatarURL string `json:"avatar_url,omitempty"`
	// ProfileURL — URL страницы подгруппы
	ProfileURL string `json:"profile_url,omitempty"`

	// --- Поля привязанного канала (пустые, если канала нет) ---

	// ChannelID — идентификатор канала
	ChannelID string `json:"channel_id,omitempty"`
	// Private — приватность канала
	Private bool `json:"private,omitempty"`
	// MessageCount — количество сообщений в канале
	MessageCount int `json:"message_count"`
	// CreatedAt — время создания канала
	CreatedAt time.Time `json:"created_at,omitzero"`
	// LastPostAt — время последнего сообщения в канале
	LastPostAt time.Time `json:"last_post_at,omitzero"`
}

// NewTopic строит Topic из подгруппы и (возможно отсутствующего) канала.
func NewTopic(group *Group, channel *Channel) *Topic {
	topic := &Topic{
		Path:        group.Path,
		Name:        group.Name,
		Description: group.Description,
		GroupID:     group.ID,
		AvatarURL:   group.AvatarURL,
		ProfileURL:  group.ProfileURL,
	}
	if channel != nil {
		topic.ChannelID = channel.ID
		topic.Private = channel.Private()
		topic.MessageCount = channel.MessageCount
		topic.CreatedAt = channel.CreatedTime()
		topic.LastPostAt = channel.LastPostTime()
	}
	return topic
}

// HasChannel возвращает true, если к теме привязан канал.
func (t *Topic) HasChannel() bool {
	return t.ChannelID != ""
}
