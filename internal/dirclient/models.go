// Пакет dirclient — HTTP-клиент к REST API directory-сервиса.
// models.go — wire-модели API и конвертация в доменные модели.
package dirclient

import "github.com/bigkaa/communitysync/internal/domain/model"

// customAttribute — кастомный атрибут в wire-формате API.
type customAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// userResponse — пользователь в wire-формате API directory-сервиса.
type userResponse struct {
	ID               string            `json:"id"`
	Username         string            `json:"username"`
	Name             string            `json:"name"`
	Email            string            `json:"email"`
	AvatarURL        string            `json:"avatar_url"`
	WebURL           string            `json:"web_url"`
	CustomAttributes []customAttribute `json:"custom_attributes"`
}

// toModel конвертирует wire-модель в доменную.
func (u *userResponse) toModel() *model.DirectoryUser {
	user := &model.DirectoryUser{
		ID:         u.ID,
		Username:   u.Username,
		Name:       u.Name,
		Email:      u.Email,
		AvatarURL:  u.AvatarURL,
		ProfileURL: u.WebURL,
		Attributes: make(map[string]string, len(u.CustomAttributes)),
	}
	for _, attr := range u.CustomAttributes {
		user.Attributes[attr.Key] = attr.Value
	}
	return user
}

// groupResponse — группа в wire-формате API directory-сервиса.
type groupResponse struct {
	ID               string            `json:"id"`
	Path             string            `json:"path"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	AvatarURL        string            `json:"avatar_url"`
	WebURL           string            `json:"web_url"`
	CustomAttributes []customAttribute `json:"custom_attributes"`
}

func (g *groupResponse) toModel() *model.Group {
	group := &model.Group{
		ID:          g.ID,
		Path:        g.Path,
		Name:        g.Name,
		Description: g.Description,
		AvatarURL:   g.AvatarURL,
		ProfileURL:  g.WebURL,
		Attributes:  make(map[string]string, len(g.CustomAttributes)),
	}
	for _, attr := range g.CustomAttributes {
		group.Attributes[attr.Key] = attr.Value
	}
	return group
}

// memberResponse — запись членства в wire-формате API directory-сервиса.
// AccessLevel — числовой уровень доступа, маппится в model.Role.
type memberResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	AccessLevel int    `json:"access_level"`
}

func (m *memberResponse) toModel() model.GroupMember {
	return model.GroupMember{
		ID:       m.ID,
		Username: m.Username,
		Role:     model.RoleFromAccessLevel(m.AccessLevel),
	}
}

// attributeRequest — тело запроса установки кастомного атрибута.
type attributeRequest struct {
	Value string `json:"value"`
}
