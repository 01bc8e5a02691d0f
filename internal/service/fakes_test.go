package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/bigkaa/communitysync/internal/domain/model"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDirectory — in-memory реализация DirectoryClient.
type fakeDirectory struct {
	rootGroup    *model.Group
	subGroups    []model.Group
	groupMembers map[string][]model.GroupMember // groupID → участники

	// Счётчики и журналы вызовов
	setAttrCalls    []string // "userID/key=value"
	createdGroups   []string
	updatedGroups   []string
	deletedGroups   []string
	addedMembers    []string // "groupID/userID/role"
	removedMembers  []string // "groupID/userID"
	nextGroupID     int

	// Переключатели сбоев
	failListMembers  bool
	failMembersOf    map[string]bool // сбой ListGroupMembers для конкретной группы
	failListSub      bool
	failSetAttribute bool
	failCreateGroup  bool
	failUpdateGroup  bool
	failDeleteGroup  bool
	failAddMember    bool
	failRemoveMember bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		rootGroup:    &model.Group{ID: "100", Path: "community", Name: "Community"},
		groupMembers: make(map[string][]model.GroupMember),
		nextGroupID:  200,
	}
}

func (f *fakeDirectory) GetGroupByPath(ctx context.Context, groupPath string) (*model.Group, error) {
	if f.rootGroup != nil && f.rootGroup.Path == groupPath {
		return f.rootGroup, nil
	}
	return nil, nil
}

func (f *fakeDirectory) ListSubGroups(ctx context.Context, parentID string) ([]model.Group, error) {
	if f.failListSub {
		return nil, fmt.Errorf("directory недоступен")
	}
	return f.subGroups, nil
}

func (f *fakeDirectory) CreateSubGroup(ctx context.Context, parentID, groupPath, name, description string) (*model.Group, error) {
	if f.failCreateGroup {
		return nil, fmt.Errorf("directory недоступен")
	}
	f.nextGroupID++
	group := model.Group{
		ID:          fmt.Sprintf("%d", f.nextGroupID),
		Path:        groupPath,
		Name:        name,
		Description: description,
	}
	f.subGroups = append(f.subGroups, group)
	f.createdGroups = append(f.createdGroups, groupPath)
	return &group, nil
}

func (f *fakeDirectory) UpdateGroup(ctx context.Context, groupID, groupPath, name, description string) (*model.Group, error) {
	if f.failUpdateGroup {
		return nil, fmt.Errorf("directory недоступен")
	}
	f.updatedGroups = append(f.updatedGroups, groupID)
	return &model.Group{ID: groupID, Path: groupPath, Name: name, Description: description}, nil
}

func (f *fakeDirectory) DeleteGroup(ctx context.Context, groupID string) error {
	if f.failDeleteGroup {
		return fmt.Errorf("directory недоступен")
	}
	f.deletedGroups = append(f.deletedGroups, groupID)
	return nil
}

func (f *fakeDirectory) ListGroupMembers(ctx context.Context, groupID string) ([]model.GroupMember, error) {
	if f.failListMembers || f.failMembersOf[groupID] {
		return nil, fmt.Errorf("directory недоступен")
	}
	return f.groupMembers[groupID], nil
}

func (f *fakeDirectory) AddGroupMember(ctx context.Context, groupID, userID string, role model.Role) error {
	if f.failAddMember {
		return fmt.Errorf("directory недоступен")
	}
	f.addedMembers = append(f.addedMembers, fmt.Sprintf("%s/%s/%s", groupID, userID, role))
	return nil
}

func (f *fakeDirectory) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	if f.failRemoveMember {
		return fmt.Errorf("directory недоступен")
	}
	f.removedMembers = append(f.removedMembers, groupID+"/"+userID)
	return nil
}

func (f *fakeDirectory) SetUserAttribute(ctx context.Context, userID, key, value string) error {
	if f.failSetAttribute {
		return fmt.Errorf("directory недоступен")
	}
	f.setAttrCalls = append(f.setAttrCalls, fmt.Sprintf("%s/%s=%s", userID, key, value))
	return nil
}

// fakeMessaging — in-memory реализация MessagingClient.
type fakeMessaging struct {
	team           *model.Team
	usersByName    map[string]*model.MessagingUser
	teamMembers    []model.TeamMember
	channels       map[string]*model.Channel        // name → канал
	channelMembers map[string][]model.TeamMember    // channelID → участники

	// Журналы вызовов
	createdChannels   []string
	updatedChannels   []string
	restoredChannels  []string
	convertedChannels []string
	deletedChannels   []string
	addedTeam         []string // userID
	removedTeam       []string // userID
	addedChannel      []string // "channelID/userID"
	removedChannel    []string // "channelID/userID"

	// Переключатели сбоев
	failGetChannel     bool
	failCreateChannel  bool
	failUpdateChannel  bool
	failRestoreChannel bool
	failAddChannel     bool
	failRemoveChannel  bool
	failListTeam       bool
	failListChannel    bool
	failUsersByNames   bool
}

func newFakeMessaging() *fakeMessaging {
	return &fakeMessaging{
		team:           &model.Team{ID: "t1", Name: "community", DisplayName: "Community"},
		usersByName:    make(map[string]*model.MessagingUser),
		channels:       make(map[string]*model.Channel),
		channelMembers: make(map[string][]model.TeamMember),
	}
}

func (f *fakeMessaging) GetUserByUsername(ctx context.Context, username string) (*model.MessagingUser, error) {
	return f.usersByName[username], nil
}

func (f *fakeMessaging) GetUsersByUsernames(ctx context.Context, usernames []string) ([]model.MessagingUser, error) {
	if f.failUsersByNames {
		return nil, fmt.Errorf("messaging недоступен")
	}
	users := make([]model.MessagingUser, 0, len(usernames))
	for _, username := range usernames {
		if user, ok := f.usersByName[username]; ok {
			users = append(users, *user)
		}
	}
	return users, nil
}

func (f *fakeMessaging) GetTeamByName(ctx context.Context, teamName string) (*model.Team, error) {
	if f.team != nil && f.team.Name == teamName {
		return f.team, nil
	}
	return nil, nil
}

func (f *fakeMessaging) ListTeamMembers(ctx context.Context, team *model.Team) ([]model.TeamMember, error) {
	if f.failListTeam {
		return nil, fmt.Errorf("messaging недоступен")
	}
	return f.teamMembers, nil
}

func (f *fakeMessaging) AddTeamMember(ctx context.Context, team *model.Team, user *model.MessagingUser) error {
	f.addedTeam = append(f.addedTeam, user.ID)
	return nil
}

func (f *fakeMessaging) RemoveTeamMember(ctx context.Context, team *model.Team, user *model.MessagingUser) error {
	f.removedTeam = append(f.removedTeam, user.ID)
	return nil
}

func (f *fakeMessaging) GetChannelByName(ctx context.Context, team *model.Team, name string) (*model.Channel, error) {
	if f.failGetChannel {
		return nil, fmt.Errorf("messaging недоступен")
	}
	return f.channels[name], nil
}

func (f *fakeMessaging) CreateChannel(ctx context.Context, team *model.Team, name, displayName, purpose, header string, private bool) (*model.Channel, error) {
	if f.failCreateChannel {
		return nil, fmt.Errorf("messaging недоступен")
	}
	channelType := "O"
	if private {
		channelType = "P"
	}
	channel := &model.Channel{
		ID:          "ch-" + name,
		Name:        name,
		DisplayName: displayName,
		Purpose:     purpose,
		Header:      header,
		Type:        channelType,
	}
	f.channels[name] = channel
	f.createdChannels = append(f.createdChannels, name)
	return channel, nil
}

func (f *fakeMessaging) UpdateChannel(ctx context.Context, channel *model.Channel, name, displayName, purpose, header string) error {
	if f.failUpdateChannel {
		return fmt.Errorf("messaging недоступен")
	}
	f.updatedChannels = append(f.updatedChannels, channel.ID)
	if stored, ok := f.channels[name]; ok && stored.ID == channel.ID {
		stored.Name = name
		stored.DisplayName = displayName
		stored.Purpose = purpose
		stored.Header = header
	}
	return nil
}

func (f *fakeMessaging) RestoreChannel(ctx context.Context, channel *model.Channel) (*model.Channel, error) {
	if f.failRestoreChannel {
		return nil, fmt.Errorf("messaging недоступен")
	}
	f.restoredChannels = append(f.restoredChannels, channel.ID)
	restored := *channel
	restored.DeleteAt = 0
	f.channels[restored.Name] = &restored
	return &restored, nil
}

func (f *fakeMessaging) ConvertChannelToPrivate(ctx context.Context, channel *model.Channel) error {
	f.convertedChannels = append(f.convertedChannels, channel.ID)
	if stored, ok := f.channels[channel.Name]; ok {
		stored.Type = "P"
	}
	return nil
}

func (f *fakeMessaging) DeleteChannel(ctx context.Context, channel *model.Channel) error {
	f.deletedChannels = append(f.deletedChannels, channel.ID)
	if stored, ok := f.channels[channel.Name]; ok {
		stored.DeleteAt = 1
	}
	return nil
}

func (f *fakeMessaging) ListChannelMembers(ctx context.Context, channel *model.Channel) ([]model.TeamMember, error) {
	if f.failListChannel {
		return nil, fmt.Errorf("messaging недоступен")
	}
	return f.channelMembers[channel.ID], nil
}

func (f *fakeMessaging) AddChannelMember(ctx context.Context, channel *model.Channel, user *model.MessagingUser) error {
	if f.failAddChannel {
		return fmt.Errorf("messaging недоступен")
	}
	f.addedChannel = append(f.addedChannel, channel.ID+"/"+user.ID)
	return nil
}

func (f *fakeMessaging) RemoveChannelMember(ctx context.Context, channel *model.Channel, userID string) error {
	if f.failRemoveChannel {
		return fmt.Errorf("messaging недоступен")
	}
	f.removedChannel = append(f.removedChannel, channel.ID+"/"+userID)
	return nil
}

// fakeDirectoryUsers — статический кэш пользователей directory-сервиса.
type fakeDirectoryUsers struct {
	users      map[string]*model.DirectoryUser
	refreshErr error
	refreshed  int
}

func (f *fakeDirectoryUsers) Get(ctx context.Context) map[string]*model.DirectoryUser {
	return f.users
}

func (f *fakeDirectoryUsers) Refresh(ctx context.Context) error {
	f.refreshed++
	return f.refreshErr
}

// fakeMessagingUsers — статический кэш пользователей messaging-сервиса.
type fakeMessagingUsers struct {
	users      map[string]*model.MessagingUser
	refreshErr error
	refreshed  int
}

func (f *fakeMessagingUsers) Get(ctx context.Context) map[string]*model.MessagingUser {
	return f.users
}

func (f *fakeMessagingUsers) Refresh(ctx context.Context) error {
	f.refreshed++
	return f.refreshErr
}

// testCommunity создаёт сообщество поверх фейковых клиентов.
func testCommunity(t *testing.T, dir *fakeDirectory, msg *fakeMessaging) *model.Community {
	t.Helper()
	community, err := ResolveCommunity(
		context.Background(), dir, msg,
		"community",
		[]string{"alice"},
		[]string{"bot"},
		model.RoleMaintainer,
	)
	if err != nil {
		t.Fatalf("ResolveCommunity вернул ошибку: %v", err)
	}
	return community
}

// dirUser создаёт пользователя directory-сервиса с атрибутами.
func dirUser(id, username, name string, attrs map[string]string) *model.DirectoryUser {
	return &model.DirectoryUser{
		ID:         id,
		Username:   username,
		Name:       name,
		Email:      username + "@example.com",
		Attributes: attrs,
	}
}
