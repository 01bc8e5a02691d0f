// Пакет model — доменные модели Community Sync.
// directory.go — модели directory-сервиса (группы, пользователи, членство).
package model

import "time"

// AttributeJoined — ключ кастомного атрибута с датой вступления в сообщество.
const AttributeJoined = "community_joined"

// JoinedLayout — формат даты вступления (ISO 8601, только дата).
const JoinedLayout = "2006-01-02"

// DirectoryUser — активный пользователь directory-сервиса.
// Username — стабильный ключ для join между directory и messaging.
type DirectoryUser struct {
	// ID — идентификатор пользователя в directory-сервисе
	ID string `json:"id"`
	// Username — уникальное имя пользователя
	Username string `json:"username"`
	// Name — отображаемое имя
	Name string `json:"name"`
	// Email — адрес электронной почты
	Email string `json:"email"`
	// AvatarURL — URL аватара
	AvatarURL string `json:"avatar_url"`
	// ProfileURL — URL профиля
	ProfileURL string `json:"web_url"`
	// Attributes — кастомные атрибуты key → value (в т.ч. community_joined)
	Attributes map[string]string `json:"-"`
}

// HasAttribute проверяет наличие кастомного атрибута.
func (u *DirectoryUser) HasAttribute(key string) bool {
	_, ok := u.Attributes[key]
	return ok
}

// SetAttribute устанавливает кастомный атрибут локально (без remote-вызова).
func (u *DirectoryUser) SetAttribute(key, value string) {
	if u.Attributes == nil {
		u.Attributes = make(map[string]string)
	}
	u.Attributes[key] = value
}

// Joined возвращает дату вступления из атрибута community_joined.
// nil — атрибут не установлен или не парсится.
func (u *DirectoryUser) Joined() *time.Time {
	raw, ok := u.Attributes[AttributeJoined]
	if !ok || raw == "" {
		return nil
	}
	t, err := time.Parse(JoinedLayout, raw)
	if err != nil {
		return nil
	}
	return &t
}

// Group — группа directory-сервиса.
// Корневая группа — сообщество; подгруппы — темы (topics).
type Group struct {
	// ID — идентификатор группы
	ID string `json:"id"`
	// Path — уникальный slug группы (ключ темы)
	Path string `json:"path"`
	// Name — отображаемое имя
	Name string `json:"name"`
	// Description — описание
	Description string `json:"description"`
	// AvatarURL — URL аватара группы
	AvatarURL string `json:"avatar_url"`
	// ProfileURL — URL страницы группы
	ProfileURL string `json:"web_url"`
	// Attributes — кастомные атрибуты (в т.ч. ссылка на канал)
	Attributes map[string]string `json:"-"`
}

// GroupMember — запись о членстве пользователя в группе.
type GroupMember struct {
	// ID — идентификатор пользователя
	ID string `json:"id"`
	// Username — имя пользователя
	Username string `json:"username"`
	// Role — роль в группе
	Role Role `json:"-"`
}

// Role — роль участника группы directory-сервиса.
type Role string

// Роли в порядке возрастания привилегий.
const (
	RoleGuest      Role = "guest"
	RoleReporter   Role = "reporter"
	RoleDeveloper  Role = "developer"
	RoleMaintainer Role = "maintainer"
	RoleOwner      Role = "owner"
)

// roleAccessLevels — маппинг роль → числовой access level API directory-сервиса.
var roleAccessLevels = map[Role]int{
	RoleGuest:      10,
	RoleReporter:   20,
	RoleDeveloper:  30,
	RoleMaintainer: 40,
	RoleOwner:      50,
}

// AccessLevel возвращает числовой access level роли (0 — неизвестная роль).
func (r Role) AccessLevel() int {
	return roleAccessLevels[r]
}

// Valid проверяет, что роль известна.
func (r Role) Valid() bool {
	_, ok := roleAccessLevels[r]
	return ok
}

// RoleFromAccessLevel возвращает роль по числовому access level.
// Неизвестный уровень — пустая роль.
func RoleFromAccessLevel(level int) Role {
	for role, l := range roleAccessLevels {
		if l == level {
			return role
		}
	}
	return ""
}
