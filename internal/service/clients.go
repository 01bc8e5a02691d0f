// clients.go — интерфейсы внешних клиентов, потребляемые сервисным слоем.
// Реализуются dirclient.Client и msgclient.Client; в тестах — фейками.
package service

import (
	"context"

	"github.com/bigkaa/communitysync/internal/domain/model"
)

// DirectoryClient — операции directory-сервиса, нужные сервисному слою.
type DirectoryClient interface {
	GetGroupByPath(ctx context.Context, groupPath string) (*model.Group, error)
	ListSubGroups(ctx context.Context, parentID string) ([]model.Group, error)
	CreateSubGroup(ctx context.Context, parentID, groupPath, name, description string) (*model.Group, error)
	UpdateGroup(ctx context.Context, groupID, groupPath, name, description string) (*model.Group, error)
	DeleteGroup(ctx context.Context, groupID string) error
	ListGroupMembers(ctx context.Context, groupID string) ([]model.GroupMember, error)
	AddGroupMember(ctx context.Context, groupID, userID string, role model.Role) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) error
	SetUserAttribute(ctx context.Context, userID, key, value string) error
}

// MessagingClient — операции messaging-сервиса, нужные сервисному слою.
type MessagingClient interface {
	GetUserByUsername(ctx context.Context, username string) (*model.MessagingUser, error)
	GetUsersByUsernames(ctx context.Context, usernames []string) ([]model.MessagingUser, error)
	GetTeamByName(ctx context.Context, teamName string) (*model.Team, error)
	ListTeamMembers(ctx context.Context, team *model.Team) ([]model.TeamMember, error)
	AddTeamMember(ctx context.Context, team *model.Team, user *model.MessagingUser) error
	RemoveTeamMember(ctx context.Context, team *model.Team, user *model.MessagingUser) error
	GetChannelByName(ctx context.Context, team *model.Team, name string) (*model.Channel, error)
	CreateChannel(ctx context.Context, team *model.Team, name, displayName, purpose, header string, private bool) (*model.Channel, error)
	UpdateChannel(ctx context.Context, channel *model.Channel, name, displayName, purpose, header string) error
	RestoreChannel(ctx context.Context, channel *model.Channel) (*model.Channel, error)
	ConvertChannelToPrivate(ctx context.Context, channel *model.Channel) error
	DeleteChannel(ctx context.Context, channel *model.Channel) error
	ListChannelMembers(ctx context.Context, channel *model.Channel) ([]model.TeamMember, error)
	AddChannelMember(ctx context.Context, channel *model.Channel, user *model.MessagingUser) error
	RemoveChannelMember(ctx context.Context, channel *model.Channel, userID string) error
}

// DirectoryUsers — кэш пользователей directory-сервиса (username → пользователь).
// Реализуется repository.UserCache.
type DirectoryUsers interface {
	Get(ctx context.Context) map[string]*model.DirectoryUser
	Refresh(ctx context.Context) error
}

// MessagingUsers — кэш пользователей messaging-сервиса (ID → пользователь).
// Реализуется repository.MessagingUserCache.
type MessagingUsers interface {
	Get(ctx context.Context) map[string]*model.MessagingUser
	Refresh(ctx context.Context) error
}
