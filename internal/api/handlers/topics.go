// topics.go — обработчики тем сообщества и членства в темах.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/communitysync/internal/api/errors"
	"github.com/bigkaa/communitysync/internal/domain/model"
	"github.com/bigkaa/communitysync/internal/service"
)

// topicItem — тема в формате API.
type topicItem struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	GroupID      string `json:"group_id"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	ProfileURL   string `json:"profile_url,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	Private      bool   `json:"private"`
	MessageCount int    `json:"message_count"`
	CreatedAt    string `json:"created_at,omitempty"`
	LastPostAt   string `json:"last_post_at,omitempty"`
}

// newTopicItem конвертирует доменную модель в формат API.
func newTopicItem(topic *model.Topic) topicItem {
	return topicItem{
		Path:         topic.Path,
		Name:         topic.Name,
		Description:  topic.Description,
		GroupID:      topic.GroupID,
		AvatarURL:    topic.AvatarURL,
		ProfileURL:   topic.ProfileURL,
		ChannelID:    topic.ChannelID,
		Private:      topic.Private,
		MessageCount: topic.MessageCount,
		CreatedAt:    timestamp(topic.CreatedAt),
		LastPostAt:   timestamp(topic.LastPostAt),
	}
}

// topicItems конвертирует срез тем.
func topicItems(topics []*model.Topic) []topicItem {
	items := make([]topicItem, len(topics))
	for i, topic := range topics {
		items[i] = newTopicItem(topic)
	}
	return items
}

// topicsListResponse — списочный ответ тем.
type topicsListResponse struct {
	Items []topicItem `json:"items"`
	Meta  listMeta    `json:"meta"`
}

// createTopicRequest — тело запроса создания темы.
type createTopicRequest struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// updateTopicRequest — тело запроса обновления темы.
type updateTopicRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// membershipResponse — ответ проверки членства.
type membershipResponse struct {
	Path     string `json:"path"`
	Username string `json:"username"`
	Member   bool   `json:"member"`
}

// ListTopics — GET /api/v1/topics.
// Query-параметры: search, sort (path|name|description|messageCount|lastPostAt),
// limit, offset.
func (h *APIHandler) ListTopics(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)
	search := r.URL.Query().Get("search")
	sortBy := r.URL.Query().Get("sort")

	switch sortBy {
	case "", service.SortTopicsByPath, service.SortTopicsByName, service.SortTopicsByDescription,
		service.SortTopicsByMessageCount, service.SortTopicsByLastPostAt:
	default:
		apierrors.ValidationError(w, "sort: допустимые значения — path, name, description, messageCount, lastPostAt")
		return
	}

	topics, total := h.community.ListTopics(r.Context(), search, sortBy, limit, offset)

	writeJSON(w, http.StatusOK, topicsListResponse{
		Items: topicItems(topics),
		Meta:  listMeta{Total: total, Limit: limit, Offset: offset},
	})
}

// CreateTopic — POST /api/v1/topics.
func (h *APIHandler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Невалидное тело запроса: "+err.Error())
		return
	}

	topic, err := h.community.CreateTopic(r.Context(), req.Path, req.Name, req.Description)
	if err != nil {
		h.writeTopicError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newTopicItem(topic))
}

// GetTopic — GET /api/v1/topics/{path}.
func (h *APIHandler) GetTopic(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")

	topic, err := h.community.GetTopic(r.Context(), path)
	if err != nil {
		h.writeTopicError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newTopicItem(topic))
}

// UpdateTopic — PUT /api/v1/topics/{path}.
func (h *APIHandler) UpdateTopic(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")

	var req updateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Невалидное тело запроса: "+err.Error())
		return
	}

	topic, err := h.community.UpdateTopic(r.Context(), path, req.Name, req.Description)
	if err != nil {
		h.writeTopicError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newTopicItem(topic))
}

// DeleteTopic — DELETE /api/v1/topics/{path}.
func (h *APIHandler) DeleteTopic(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")

	if err := h.community.DeleteTopic(r.Context(), path); err != nil {
		h.writeTopicError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListTopicMembers — GET /api/v1/topics/{path}/members.
// Возвращает участников темы, отсортированных по username.
func (h *APIHandler) ListTopicMembers(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")

	members, err := h.community.ListTopicMembers(r.Context(), path)
	if err != nil {
		h.writeTopicError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, membersListResponse{
		Items: members,
		Meta:  listMeta{Total: len(members), Limit: len(members), Offset: 0},
	})
}

// CheckTopicMember — GET /api/v1/topics/{path}/members/{username}.
// Проверка членства участника в теме.
func (h *APIHandler) CheckTopicMember(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	username := chi.URLParam(r, "username")

	member, err := h.community.IsTopicMember(r.Context(), path, username)
	if err != nil {
		h.writeTopicError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, membershipResponse{
		Path:     path,
		Username: username,
		Member:   member,
	})
}

// AddTopicMember — PUT /api/v1/topics/{path}/members/{username}.
func (h *APIHandler) AddTopicMember(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	username := chi.URLParam(r, "username")

	if err := h.community.AddTopicMember(r.Context(), path, username); err != nil {
		h.writeTopicError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, membershipResponse{
		Path:     path,
		Username: username,
		Member:   true,
	})
}

// RemoveTopicMember — DELETE /api/v1/topics/{path}/members/{username}.
func (h *APIHandler) RemoveTopicMember(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	username := chi.URLParam(r, "username")

	if err := h.community.RemoveTopicMember(r.Context(), path, username); err != nil {
		h.writeTopicError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeTopicError маппит ошибки сервисного слоя в HTTP-ответы.
// Неклассифицированные ошибки мутаций — сбои directory-сервиса.
func (h *APIHandler) writeTopicError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	default:
		apierrors.DirectoryUnavailable(w, err.Error())
	}
}
