// members.go — обработчики участников сообщества.
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/communitysync/internal/api/errors"
	"github.com/bigkaa/communitysync/internal/domain/model"
	"github.com/bigkaa/communitysync/internal/service"
)

// membersListResponse — списочный ответ участников.
type membersListResponse struct {
	Items []*model.Member `json:"items"`
	Meta  listMeta        `json:"meta"`
}

// ListMembers — GET /api/v1/members.
// Query-параметры: search, sort (username|name), limit, offset.
func (h *APIHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)
	search := r.URL.Query().Get("search")
	sortBy := r.URL.Query().Get("sort")

	switch sortBy {
	case "", service.SortMembersByUsername, service.SortMembersByName:
	default:
		apierrors.ValidationError(w, "sort: допустимые значения — username, name")
		return
	}

	members, total := h.community.ListMembers(r.Context(), search, sortBy, limit, offset)

	writeJSON(w, http.StatusOK, membersListResponse{
		Items: members,
		Meta:  listMeta{Total: total, Limit: limit, Offset: offset},
	})
}

// GetMember — GET /api/v1/members/{username}.
func (h *APIHandler) GetMember(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	member, err := h.community.GetMember(r.Context(), username)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Участник '"+username+"' не найден")
			return
		}
		apierrors.InternalError(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, member)
}

// ListMemberTopics — GET /api/v1/members/{username}/topics.
// Возвращает темы, в которых состоит участник, отсортированные по path.
func (h *APIHandler) ListMemberTopics(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	topics, err := h.community.ListMemberTopics(r.Context(), username)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Участник '"+username+"' не найден")
			return
		}
		apierrors.InternalError(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, topicsListResponse{
		Items: topicItems(topics),
		Meta:  listMeta{Total: len(topics), Limit: len(topics), Offset: 0},
	})
}
