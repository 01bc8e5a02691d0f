// member.go — участник сообщества (проекция DirectoryUser + флаг администратора).
package model

import "time"

// Member — участник сообщества.
// Производная read-модель: строится из DirectoryUser при каждом refresh,
// нигде не хранится. Идентичность — по Username.
type Member struct {
	// UserID — идентификатор пользователя в directory-сервисе
	UserID string `json:"user_id"`
	// Username — уникальное имя пользователя (ключ)
	Username string `json:"username"`
	// Name — отображаемое имя
	Name string `json:"name"`
	// Email — адрес электронной почты
	Email string `json:"email"`
	// AvatarURL — URL аватара
	AvatarURL string `json:"avatar_url,omitempty"`
	// ProfileURL — URL профиля
	ProfileURL string `json:"profile_url,omitempty"`
	// Joined — дата вступления (nil — атрибут ещё не проставлен)
	Joined *time.Time `json:"joined,omitempty"`
	// IsAdmin — true если username в списке администраторов сообщества
	IsAdmin bool `json:"is_admin"`
}

// NewMember строит Member из DirectoryUser.
func NewMember(user *DirectoryUser, isAdmin bool) *Member {
	return &Member{
		UserID:     user.ID,
		Username:   user.Username,
		Name:       user.Name,
		Email:      user.Email,
		AvatarURL:  user.AvatarURL,
		ProfileURL: user.ProfileURL,
		Joined:     user.Joined(),
		IsAdmin:    isAdmin,
	}
}
