// community.go — обработчик чтения сообщества.
package handlers

import (
	"net/http"
	"time"
)

// communityResponse — сообщество в формате API.
type communityResponse struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	ProfileURL  string `json:"profile_url,omitempty"`
	TeamID      string `json:"team_id"`
	TopicRole   string `json:"topic_role"`
	Members     int    `json:"members"`
	Topics      int    `json:"topics"`
}

// GetCommunity — GET /api/v1/community.
// Возвращает сообщество с текущими счётчиками участников и тем.
func (h *APIHandler) GetCommunity(w http.ResponseWriter, r *http.Request) {
	community := h.community.Community()

	_, members := h.community.ListMembers(r.Context(), "", "", 1, 0)
	_, topics := h.community.ListTopics(r.Context(), "", "", 1, 0)

	writeJSON(w, http.StatusOK, communityResponse{
		ID:          community.ID(),
		Path:        community.Path(),
		Name:        community.Name(),
		Description: community.Group.Description,
		AvatarURL:   community.Group.AvatarURL,
		ProfileURL:  community.Group.ProfileURL,
		TeamID:      community.Team.ID,
		TopicRole:   string(community.TopicRole),
		Members:     members,
		Topics:      topics,
	})
}

// listMeta — метаданные списочного ответа.
type listMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// timestamp форматирует время для API. Пустая строка для zero time.
func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
