// community.go — сообщество: корневая группа + команда + статическая конфигурация.
package model

// Community — сообщество.
// Собирается один раз при старте из корневой группы directory-сервиса,
// одноимённой команды messaging-сервиса и статической конфигурации.
type Community struct {
	// Group — корневая группа directory-сервиса
	Group *Group
	// Team — команда messaging-сервиса (имя = path корневой группы)
	Team *Team
	// AdminUsernames — usernames администраторов сообщества
	AdminUsernames []string
	// ExcludedUsernames — usernames, исключённые из сообщества (боты, tech-аккаунты)
	ExcludedUsernames []string
	// TopicRole — роль в подгруппе, дающая членство в теме
	TopicRole Role
}

// ID возвращает идентификатор корневой группы.
func (c *Community) ID() string {
	return c.Group.ID
}

// Path возвращает path корневой группы.
func (c *Community) Path() string {
	return c.Group.Path
}

// Name возвращает имя корневой группы.
func (c *Community) Name() string {
	return c.Group.Name
}

// IsAdmin проверяет, входит ли username в список администраторов.
func (c *Community) IsAdmin(username string) bool {
	for _, admin := range c.AdminUsernames {
		if admin == username {
			return true
		}
	}
	return false
}

// IsExcluded проверяет, исключён ли username из сообщества.
func (c *Community) IsExcluded(username string) bool {
	for _, excluded := range c.ExcludedUsernames {
		if excluded == username {
			return true
		}
	}
	return false
}
