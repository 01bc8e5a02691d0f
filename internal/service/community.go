// community.go — производное состояние сообщества и мутирующие операции.
//
// CommunityStore держит три снимка, полностью перестраиваемых каждый
// refresh-цикл:
//   - members — участники сообщества (username → Member)
//   - topics — темы (path → Topic)
//   - topicMembers — членство в темах (path → множество usernames)
//
// Снимки никогда не мутируются на месте: refresh и мутации заменяют карту
// целиком (copy-on-write), читатели не видят частично обновлённого состояния.
//
// Мутации (create/update/delete темы, add/remove участника) сначала применяют
// изменение в directory-сервисе; первый сбой на стороне directory прерывает
// операцию. Зеркалирование в messaging-сервис — best effort: его сбои только
// логируются, расхождение устранит следующий reconciliation-цикл.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/bigkaa/communitysync/internal/domain/model"
)

// channelPurpose возвращает канонический purpose канала темы.
func channelPurpose(path string) string {
	return fmt.Sprintf("Community topic '%s'", path)
}

// topicPathRe — допустимый формат path темы (slug).
var topicPathRe = regexp.MustCompile(`^[a-z0-9]+(?:[-_.][a-z0-9]+)*$`)

// ResolveCommunity собирает сообщество при старте сервиса.
// Корневая группа и одноимённая команда обязаны существовать — их отсутствие
// является фатальной ошибкой конфигурации.
func ResolveCommunity(
	ctx context.Context,
	dir DirectoryClient,
	msg MessagingClient,
	groupPath string,
	adminUsernames, excludedUsernames []string,
	topicRole model.Role,
) (*model.Community, error) {
	group, err := dir.GetGroupByPath(ctx, groupPath)
	if err != nil {
		return nil, fmt.Errorf("получение корневой группы '%s': %w", groupPath, err)
	}
	if group == nil {
		return nil, fmt.Errorf("корневая группа '%s' не найдена в directory-сервисе", groupPath)
	}

	team, err := msg.GetTeamByName(ctx, groupPath)
	if err != nil {
		return nil, fmt.Errorf("получение команды '%s': %w", groupPath, err)
	}
	if team == nil {
		return nil, fmt.Errorf("команда '%s' не найдена в messaging-сервисе", groupPath)
	}

	return &model.Community{
		Group:             group,
		Team:              team,
		AdminUsernames:    adminUsernames,
		ExcludedUsernames: excludedUsernames,
		TopicRole:         topicRole,
	}, nil
}

// CommunityStore — хранилище производного состояния сообщества.
//
// Refresh-методы рассчитаны на одного writer'а: их вызывает только
// цикл сверки, а первый цикл выполняется до старта HTTP-сервера.
// Поэтому штамп даты вступления может мутировать запись пользователя
// в общем кэше, не конкурируя с параллельным refresh.
type CommunityStore struct {
	dir       DirectoryClient
	msg       MessagingClient
	users     DirectoryUsers
	community *model.Community
	logger    *slog.Logger

	membersMu     sync.RWMutex
	members       map[string]*model.Member
	membersLoaded bool

	topicsMu     sync.RWMutex
	topics       map[string]*model.Topic
	topicsLoaded bool

	topicMembersMu     sync.RWMutex
	topicMembers       map[string]map[string]struct{}
	topicMembersLoaded bool
}

// NewCommunityStore создаёт хранилище производного состояния.
func NewCommunityStore(
	dir DirectoryClient,
	msg MessagingClient,
	users DirectoryUsers,
	community *model.Community,
	logger *slog.Logger,
) *CommunityStore {
	return &CommunityStore{
		dir:       dir,
		msg:       msg,
		users:     users,
		community: community,
		logger:    logger.With(slog.String("component", "community_store")),
	}
}

// Community возвращает сообщество.
func (s *CommunityStore) Community() *model.Community {
	return s.community
}

// --- Участники ---

// Members возвращает текущий снимок участников (username → Member).
// При первом обращении строит снимок лениво.
func (s *CommunityStore) Members(ctx context.Context) map[string]*model.Member {
	s.membersMu.RLock()
	if s.membersLoaded {
		members := s.members
		s.membersMu.RUnlock()
		return members
	}
	s.membersMu.RUnlock()

	if err := s.RefreshMembers(ctx); err != nil {
		s.logger.Error("Ошибка начальной загрузки участников", slog.String("error", err.Error()))
		return map[string]*model.Member{}
	}

	s.membersMu.RLock()
	defer s.membersMu.RUnlock()
	return s.members
}

// Member возвращает участника по username. nil — не найден.
func (s *CommunityStore) Member(ctx context.Context, username string) *model.Member {
	return s.Members(ctx)[username]
}

// RefreshMembers перестраивает снимок участников из directory-сервиса.
//
// Правила деривации: исключённые usernames пропускаются; участник обязан
// присутствовать в кэше пользователей; пользователь без атрибута joined
// штампуется текущей датой ровно один раз (при сбое удалённого штампа
// локальная копия не трогается — повтор на следующем цикле).
func (s *CommunityStore) RefreshMembers(ctx context.Context) error {
	groupMembers, err := s.dir.ListGroupMembers(ctx, s.community.ID())
	if err != nil {
		return fmt.Errorf("получение участников корневой группы: %w", err)
	}

	users := s.users.Get(ctx)
	members := make(map[string]*model.Member, len(groupMembers))

	for _, gm := range groupMembers {
		if s.community.IsExcluded(gm.Username) {
			continue
		}
		user, ok := users[gm.Username]
		if !ok {
			continue
		}

		if !user.HasAttribute(model.AttributeJoined) {
			today := time.Now().Format(model.JoinedLayout)
			if err := s.dir.SetUserAttribute(ctx, user.ID, model.AttributeJoined, today); err != nil {
				s.logger.Warn("Ошибка установки даты вступления",
					slog.String("username", user.Username),
					slog.String("error", err.Error()),
				)
			} else {
				s.logger.Info("Новый участник сообщества",
					slog.String("username", user.Username),
				)
				user.SetAttribute(model.AttributeJoined, today)
			}
		}

		members[user.Username] = model.NewMember(user, s.community.IsAdmin(user.Username))
	}

	s.membersMu.Lock()
	s.members = members
	s.membersLoaded = true
	s.membersMu.Unlock()

	s.logger.Debug("Снимок участников обновлён", slog.Int("count", len(members)))
	return nil
}

// --- Темы ---

// Topics возвращает текущий снимок тем (path → Topic).
func (s *CommunityStore) Topics(ctx context.Context) map[string]*model.Topic {
	s.topicsMu.RLock()
	if s.topicsLoaded {
		topics := s.topics
		s.topicsMu.RUnlock()
		return topics
	}
	s.topicsMu.RUnlock()

	if err := s.RefreshTopics(ctx); err != nil {
		s.logger.Error("Ошибка начальной загрузки тем", slog.String("error", err.Error()))
		return map[string]*model.Topic{}
	}

	s.topicsMu.RLock()
	defer s.topicsMu.RUnlock()
	return s.topics
}

// Topic возвращает тему по path. nil — не найдена.
func (s *CommunityStore) Topic(ctx context.Context, path string) *model.Topic {
	return s.Topics(ctx)[path]
}

// RefreshTopics перестраивает снимок тем: подгруппы корневой группы плюс
// каналы, найденные по точному совпадению имени с path подгруппы.
// Сбой поиска канала не срывает деривацию — тема остаётся без канала до
// следующего цикла. При коллизии path побеждает первая подгруппа.
func (s *CommunityStore) RefreshTopics(ctx context.Context) error {
	groups, err := s.dir.ListSubGroups(ctx, s.community.ID())
	if err != nil {
		return fmt.Errorf("получение подгрупп корневой группы: %w", err)
	}

	topics := make(map[string]*model.Topic, len(groups))
	for i := range groups {
		group := &groups[i]
		if _, exists := topics[group.Path]; exists {
			s.logger.Warn("Коллизия path тем, подгруппа пропущена",
				slog.String("path", group.Path),
				slog.String("group_id", group.ID),
			)
			continue
		}

		channel, err := s.msg.GetChannelByName(ctx, s.community.Team, group.Path)
		if err != nil {
			s.logger.Warn("Ошибка поиска канала темы",
				slog.String("path", group.Path),
				slog.String("error", err.Error()),
			)
			channel = nil
		}

		topics[group.Path] = model.NewTopic(group, channel)
	}

	s.topicsMu.Lock()
	s.topics = topics
	s.topicsLoaded = true
	s.topicsMu.Unlock()

	s.logger.Debug("Снимок тем обновлён", slog.Int("count", len(topics)))
	return nil
}

// --- Членство в темах ---

// TopicMembers возвращает текущий снимок членства (path → множество usernames).
func (s *CommunityStore) TopicMembers(ctx context.Context) map[string]map[string]struct{} {
	s.topicMembersMu.RLock()
	if s.topicMembersLoaded {
		topicMembers := s.topicMembers
		s.topicMembersMu.RUnlock()
		return topicMembers
	}
	s.topicMembersMu.RUnlock()

	if err := s.RefreshTopicMembers(ctx); err != nil {
		s.logger.Error("Ошибка начальной загрузки членства в темах", slog.String("error", err.Error()))
		return map[string]map[string]struct{}{}
	}

	s.topicMembersMu.RLock()
	defer s.topicMembersMu.RUnlock()
	return s.topicMembers
}

// IsTopicMember проверяет членство username в теме path.
func (s *CommunityStore) IsTopicMember(ctx context.Context, path, username string) bool {
	set, ok := s.TopicMembers(ctx)[path]
	if !ok {
		return false
	}
	_, member := set[username]
	return member
}

// RefreshTopicMembers перестраивает снимок членства в темах.
//
// В множество темы попадают участники её подгруппы, чья роль в точности
// равна настроенной роли тем; исключённые и неизвестные пользователи
// пропускаются. Сбой получения участников одной подгруппы не срывает
// деривацию остальных.
func (s *CommunityStore) RefreshTopicMembers(ctx context.Context) error {
	groups, err := s.dir.ListSubGroups(ctx, s.community.ID())
	if err != nil {
		return fmt.Errorf("получение подгрупп корневой группы: %w", err)
	}

	users := s.users.Get(ctx)
	topicMembers := make(map[string]map[string]struct{}, len(groups))

	for i := range groups {
		group := &groups[i]
		set := make(map[string]struct{})

		groupMembers, err := s.dir.ListGroupMembers(ctx, group.ID)
		if err != nil {
			s.logger.Warn("Ошибка получения участников подгруппы",
				slog.String("path", group.Path),
				slog.String("error", err.Error()),
			)
			topicMembers[group.Path] = set
			continue
		}

		for _, gm := range groupMembers {
			if s.community.IsExcluded(gm.Username) {
				continue
			}
			if gm.Role != s.community.TopicRole {
				continue
			}
			if _, known := users[gm.Username]; !known {
				continue
			}
			set[gm.Username] = struct{}{}
		}

		topicMembers[group.Path] = set
	}

	s.topicMembersMu.Lock()
	s.topicMembers = topicMembers
	s.topicMembersLoaded = true
	s.topicMembersMu.Unlock()

	s.logger.Debug("Снимок членства в темах обновлён", slog.Int("topics", len(topicMembers)))
	return nil
}

// --- Мутации ---

// CreateTopic создаёт тему: подгруппу в directory-сервисе и приватный канал
// в messaging-сервисе.
//
// Если канал с таким именем уже существует (осиротел после удаления темы) —
// он переиспользуется: восстанавливается из мягкого удаления, метаданные
// приводятся к теме, публичный канал принудительно конвертируется в приватный.
// Сбой создания подгруппы прерывает операцию; сбои на стороне канала только
// логируются.
func (s *CommunityStore) CreateTopic(ctx context.Context, path, name, description string) (*model.Topic, error) {
	if !topicPathRe.MatchString(path) {
		return nil, fmt.Errorf("%w: некорректный path темы '%s'", ErrValidation, path)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: требуется имя темы", ErrValidation)
	}
	if existing := s.Topic(ctx, path); existing != nil {
		return nil, fmt.Errorf("%w: тема '%s'", ErrConflict, path)
	}

	s.logger.Info("Создание темы",
		slog.String("path", path),
		slog.String("name", name),
	)

	group, err := s.dir.CreateSubGroup(ctx, s.community.ID(), path, name, description)
	if err != nil {
		return nil, fmt.Errorf("создание подгруппы '%s': %w", path, err)
	}

	channel := s.provisionChannel(ctx, path, name, description)
	topic := model.NewTopic(group, channel)

	s.topicsMu.Lock()
	topics := make(map[string]*model.Topic, len(s.topics)+1)
	for p, t := range s.topics {
		topics[p] = t
	}
	topics[path] = topic
	s.topics = topics
	s.topicsLoaded = true
	s.topicsMu.Unlock()

	s.topicMembersMu.Lock()
	topicMembers := make(map[string]map[string]struct{}, len(s.topicMembers)+1)
	for p, set := range s.topicMembers {
		topicMembers[p] = set
	}
	topicMembers[path] = map[string]struct{}{}
	s.topicMembers = topicMembers
	s.topicMembersLoaded = true
	s.topicMembersMu.Unlock()

	return topic, nil
}

// provisionChannel обеспечивает приватный канал темы: переиспользует
// существующий (восстановление, метаданные, приватность) либо создаёт новый.
// Возвращает nil, если канал получить не удалось.
func (s *CommunityStore) provisionChannel(ctx context.Context, path, name, description string) *model.Channel {
	purpose := channelPurpose(path)

	channel, err := s.msg.GetChannelByName(ctx, s.community.Team, path)
	if err != nil {
		s.logger.Warn("Ошибка поиска канала при создании темы",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if channel == nil {
		channel, err = s.msg.CreateChannel(ctx, s.community.Team, path, name, purpose, description, true)
		if err != nil {
			s.logger.Warn("Ошибка создания канала темы",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return channel
	}

	// Переиспользование осиротевшего канала.
	if channel.Status() == model.ChannelDeleted {
		restored, err := s.msg.RestoreChannel(ctx, channel)
		if err != nil {
			s.logger.Warn("Ошибка восстановления канала темы",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		} else {
			channel = restored
		}
	}
	if err := s.msg.UpdateChannel(ctx, channel, path, name, purpose, description); err != nil {
		s.logger.Warn("Ошибка обновления канала темы",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	} else {
		channel.Name = path
		channel.DisplayName = name
		channel.Purpose = purpose
		channel.Header = description
	}
	if !channel.Private() {
		if err := s.msg.ConvertChannelToPrivate(ctx, channel); err != nil {
			s.logger.Warn("Ошибка конвертации канала темы в приватный",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		} else {
			channel.Type = "P"
		}
	}
	return channel
}

// UpdateTopic обновляет метаданные темы: подгруппу и, при наличии, канал.
// Сбой обновления подгруппы прерывает операцию.
func (s *CommunityStore) UpdateTopic(ctx context.Context, path, name, description string) (*model.Topic, error) {
	topic := s.Topic(ctx, path)
	if topic == nil {
		return nil, fmt.Errorf("%w: тема '%s'", ErrNotFound, path)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: требуется имя темы", ErrValidation)
	}

	s.logger.Info("Обновление темы",
		slog.String("path", path),
		slog.String("name", name),
	)

	group, err := s.dir.UpdateGroup(ctx, topic.GroupID, path, name, description)
	if err != nil {
		return nil, fmt.Errorf("обновление подгруппы '%s': %w", path, err)
	}

	channel, chErr := s.msg.GetChannelByName(ctx, s.community.Team, path)
	if chErr != nil {
		s.logger.Warn("Ошибка поиска канала при обновлении темы",
			slog.String("path", path),
			slog.String("error", chErr.Error()),
		)
	}
	if channel != nil {
		purpose := channelPurpose(path)
		if err := s.msg.UpdateChannel(ctx, channel, path, name, purpose, description); err != nil {
			s.logger.Warn("Ошибка обновления канала темы",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		} else {
			channel.Name = path
			channel.DisplayName = name
			channel.Purpose = purpose
			channel.Header = description
		}
	}

	updated := model.NewTopic(group, channel)

	s.topicsMu.Lock()
	topics := make(map[string]*model.Topic, len(s.topics))
	for p, t := range s.topics {
		topics[p] = t
	}
	topics[path] = updated
	s.topics = topics
	s.topicsMu.Unlock()

	return updated, nil
}

// DeleteTopic удаляет тему: подгруппу и, при успехе, привязанный канал.
// Сбой удаления подгруппы прерывает операцию, канал остаётся нетронутым.
func (s *CommunityStore) DeleteTopic(ctx context.Context, path string) error {
	topic := s.Topic(ctx, path)
	if topic == nil {
		return fmt.Errorf("%w: тема '%s'", ErrNotFound, path)
	}

	s.logger.Info("Удаление темы", slog.String("path", path))

	if err := s.dir.DeleteGroup(ctx, topic.GroupID); err != nil {
		return fmt.Errorf("удаление подгруппы '%s': %w", path, err)
	}

	channel, err := s.msg.GetChannelByName(ctx, s.community.Team, path)
	if err != nil {
		s.logger.Warn("Ошибка поиска канала при удалении темы",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
	if channel != nil {
		if err := s.msg.DeleteChannel(ctx, channel); err != nil {
			s.logger.Warn("Ошибка удаления канала темы",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}

	s.topicsMu.Lock()
	topics := make(map[string]*model.Topic, len(s.topics))
	for p, t := range s.topics {
		if p != path {
			topics[p] = t
		}
	}
	s.topics = topics
	s.topicsMu.Unlock()

	s.topicMembersMu.Lock()
	topicMembers := make(map[string]map[string]struct{}, len(s.topicMembers))
	for p, set := range s.topicMembers {
		if p != path {
			topicMembers[p] = set
		}
	}
	s.topicMembers = topicMembers
	s.topicMembersMu.Unlock()

	return nil
}

// AddTopicMember добавляет участника в тему с настроенной ролью.
// Канальное членство зеркалируется best effort.
func (s *CommunityStore) AddTopicMember(ctx context.Context, path, username string) error {
	topic := s.Topic(ctx, path)
	if topic == nil {
		return fmt.Errorf("%w: тема '%s'", ErrNotFound, path)
	}
	member := s.Member(ctx, username)
	if member == nil {
		return fmt.Errorf("%w: участник '%s'", ErrNotFound, username)
	}

	s.logger.Info("Добавление участника в тему",
		slog.String("username", username),
		slog.String("path", path),
	)

	if err := s.dir.AddGroupMember(ctx, topic.GroupID, member.UserID, s.community.TopicRole); err != nil {
		return fmt.Errorf("добавление участника '%s' в подгруппу '%s': %w", username, path, err)
	}

	s.mirrorChannelMembership(ctx, path, username, true)

	s.topicMembersMu.Lock()
	topicMembers := make(map[string]map[string]struct{}, len(s.topicMembers))
	for p, set := range s.topicMembers {
		topicMembers[p] = set
	}
	set := make(map[string]struct{}, len(topicMembers[path])+1)
	for u := range topicMembers[path] {
		set[u] = struct{}{}
	}
	set[username] = struct{}{}
	topicMembers[path] = set
	s.topicMembers = topicMembers
	s.topicMembersMu.Unlock()

	return nil
}

// RemoveTopicMember удаляет участника из темы.
// Канальное членство зеркалируется best effort.
func (s *CommunityStore) RemoveTopicMember(ctx context.Context, path, username string) error {
	topic := s.Topic(ctx, path)
	if topic == nil {
		return fmt.Errorf("%w: тема '%s'", ErrNotFound, path)
	}
	member := s.Member(ctx, username)
	if member == nil {
		return fmt.Errorf("%w: участник '%s'", ErrNotFound, username)
	}

	s.logger.Info("Удаление участника из темы",
		slog.String("username", username),
		slog.String("path", path),
	)

	if err := s.dir.RemoveGroupMember(ctx, topic.GroupID, member.UserID); err != nil {
		return fmt.Errorf("удаление участника '%s' из подгруппы '%s': %w", username, path, err)
	}

	s.mirrorChannelMembership(ctx, path, username, false)

	s.topicMembersMu.Lock()
	topicMembers := make(map[string]map[string]struct{}, len(s.topicMembers))
	for p, set := range s.topicMembers {
		topicMembers[p] = set
	}
	set := make(map[string]struct{}, len(topicMembers[path]))
	for u := range topicMembers[path] {
		if u != username {
			set[u] = struct{}{}
		}
	}
	topicMembers[path] = set
	s.topicMembers = topicMembers
	s.topicMembersMu.Unlock()

	return nil
}

// mirrorChannelMembership зеркалирует членство в канал темы (best effort).
// Отсутствие канала или пользователя в messaging-сервисе — не ошибка.
func (s *CommunityStore) mirrorChannelMembership(ctx context.Context, path, username string, add bool) {
	channel, err := s.msg.GetChannelByName(ctx, s.community.Team, path)
	if err != nil || channel == nil {
		if err != nil {
			s.logger.Warn("Ошибка поиска канала при зеркалировании членства",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	user, err := s.msg.GetUserByUsername(ctx, username)
	if err != nil || user == nil {
		if err != nil {
			s.logger.Warn("Ошибка поиска пользователя messaging-сервиса",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if add {
		err = s.msg.AddChannelMember(ctx, channel, user)
	} else {
		err = s.msg.RemoveChannelMember(ctx, channel, user.ID)
	}
	if err != nil {
		s.logger.Warn("Ошибка зеркалирования членства в канал",
			slog.String("username", username),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
