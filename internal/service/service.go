// service.go — фасад чтения состояния сообщества для API-слоя.
//
// Читает снимки CommunityStore, добавляя поиск, сортировку и limit/offset
// пагинацию. Мутации делегируются хранилищу без изменений.
package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/bigkaa/communitysync/internal/domain/model"
)

// Допустимые поля сортировки.
const (
	SortMembersByUsername = "username"
	SortMembersByName     = "name"

	SortTopicsByPath         = "path"
	SortTopicsByName         = "name"
	SortTopicsByDescription  = "description"
	SortTopicsByMessageCount = "messageCount"
	SortTopicsByLastPostAt   = "lastPostAt"
)

// CommunityService — фасад чтения и мутаций сообщества.
type CommunityService struct {
	store  *CommunityStore
	logger *slog.Logger
}

// NewCommunityService создаёт фасад сообщества.
func NewCommunityService(store *CommunityStore, logger *slog.Logger) *CommunityService {
	return &CommunityService{
		store:  store,
		logger: logger.With(slog.String("component", "community_service")),
	}
}

// Community возвращает сообщество.
func (s *CommunityService) Community() *model.Community {
	return s.store.Community()
}

// ListMembers возвращает страницу участников и общее количество после фильтра.
// search — подстрочный фильтр по username и имени (без учёта регистра).
// sortBy — username (по умолчанию) или name.
func (s *CommunityService) ListMembers(ctx context.Context, search, sortBy string, limit, offset int) ([]*model.Member, int) {
	snapshot := s.store.Members(ctx)

	members := make([]*model.Member, 0, len(snapshot))
	needle := strings.ToLower(search)
	for _, member := range snapshot {
		if needle != "" &&
			!strings.Contains(strings.ToLower(member.Username), needle) &&
			!strings.Contains(strings.ToLower(member.Name), needle) {
			continue
		}
		members = append(members, member)
	}

	sortMembers(members, sortBy)
	total := len(members)
	return pageOf(members, limit, offset), total
}

// GetMember возвращает участника по username.
func (s *CommunityService) GetMember(ctx context.Context, username string) (*model.Member, error) {
	member := s.store.Member(ctx, username)
	if member == nil {
		return nil, ErrNotFound
	}
	return member, nil
}

// ListTopics возвращает страницу тем и общее количество после фильтра.
// search — подстрочный фильтр по path, имени и описанию (без учёта регистра).
// sortBy — path (по умолчанию), name, description, messageCount или lastPostAt.
func (s *CommunityService) ListTopics(ctx context.Context, search, sortBy string, limit, offset int) ([]*model.Topic, int) {
	snapshot := s.store.Topics(ctx)

	topics := make([]*model.Topic, 0, len(snapshot))
	needle := strings.ToLower(search)
	for _, topic := range snapshot {
		if needle != "" &&
			!strings.Contains(strings.ToLower(topic.Path), needle) &&
			!strings.Contains(strings.ToLower(topic.Name), needle) &&
			!strings.Contains(strings.ToLower(topic.Description), needle) {
			continue
		}
		topics = append(topics, topic)
	}

	sortTopics(topics, sortBy)
	total := len(topics)
	return pageOf(topics, limit, offset), total
}

// GetTopic возвращает тему по path.
func (s *CommunityService) GetTopic(ctx context.Context, path string) (*model.Topic, error) {
	topic := s.store.Topic(ctx, path)
	if topic == nil {
		return nil, ErrNotFound
	}
	return topic, nil
}

// ListTopicMembers возвращает участников темы, отсортированных по username.
func (s *CommunityService) ListTopicMembers(ctx context.Context, path string) ([]*model.Member, error) {
	if s.store.Topic(ctx, path) == nil {
		return nil, ErrNotFound
	}

	usernames := s.store.TopicMembers(ctx)[path]
	members := make([]*model.Member, 0, len(usernames))
	for username := range usernames {
		if member := s.store.Member(ctx, username); member != nil {
			members = append(members, member)
		}
	}

	sort.Slice(members, func(i, j int) bool {
		return members[i].Username < members[j].Username
	})
	return members, nil
}

// IsTopicMember проверяет членство username в теме path.
func (s *CommunityService) IsTopicMember(ctx context.Context, path, username string) (bool, error) {
	if s.store.Topic(ctx, path) == nil {
		return false, ErrNotFound
	}
	return s.store.IsTopicMember(ctx, path, username), nil
}

// ListMemberTopics возвращает темы, в которых состоит участник,
// отсортированные по path.
func (s *CommunityService) ListMemberTopics(ctx context.Context, username string) ([]*model.Topic, error) {
	if s.store.Member(ctx, username) == nil {
		return nil, ErrNotFound
	}

	var topics []*model.Topic
	for path, set := range s.store.TopicMembers(ctx) {
		if _, ok := set[username]; !ok {
			continue
		}
		if topic := s.store.Topic(ctx, path); topic != nil {
			topics = append(topics, topic)
		}
	}

	sort.Slice(topics, func(i, j int) bool {
		return topics[i].Path < topics[j].Path
	})
	return topics, nil
}

// CreateTopic создаёт тему.
func (s *CommunityService) CreateTopic(ctx context.Context, path, name, description string) (*model.Topic, error) {
	return s.store.CreateTopic(ctx, path, name, description)
}

// UpdateTopic обновляет метаданные темы.
func (s *CommunityService) UpdateTopic(ctx context.Context, path, name, description string) (*model.Topic, error) {
	return s.store.UpdateTopic(ctx, path, name, description)
}

// DeleteTopic удаляет тему.
func (s *CommunityService) DeleteTopic(ctx context.Context, path string) error {
	return s.store.DeleteTopic(ctx, path)
}

// AddTopicMember добавляет участника в тему.
func (s *CommunityService) AddTopicMember(ctx context.Context, path, username string) error {
	return s.store.AddTopicMember(ctx, path, username)
}

// RemoveTopicMember удаляет участника из темы.
func (s *CommunityService) RemoveTopicMember(ctx context.Context, path, username string) error {
	return s.store.RemoveTopicMember(ctx, path, username)
}

// sortMembers сортирует участников по выбранному полю.
func sortMembers(members []*model.Member, sortBy string) {
	sort.Slice(members, func(i, j int) bool {
		switch sortBy {
		case SortMembersByName:
			if members[i].Name != members[j].Name {
				return members[i].Name < members[j].Name
			}
		}
		return members[i].Username < members[j].Username
	})
}

// sortTopics сортирует темы по выбранному полю.
func sortTopics(topics []*model.Topic, sortBy string) {
	sort.Slice(topics, func(i, j int) bool {
		switch sortBy {
		case SortTopicsByName:
			if topics[i].Name != topics[j].Name {
				return topics[i].Name < topics[j].Name
			}
		case SortTopicsByDescription:
			if topics[i].Description != topics[j].Description {
				return topics[i].Description < topics[j].Description
			}
		case SortTopicsByMessageCount:
			if topics[i].MessageCount != topics[j].MessageCount {
				return topics[i].MessageCount > topics[j].MessageCount
			}
		case SortTopicsByLastPostAt:
			if !topics[i].LastPostAt.Equal(topics[j].LastPostAt) {
				return topics[i].LastPostAt.After(topics[j].LastPostAt)
			}
		}
		return topics[i].Path < topics[j].Path
	})
}

// pageOf возвращает страницу среза по limit/offset.
// limit <= 0 — без ограничения.
func pageOf[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
