package service

import (
	"context"
	"testing"
	"time"

	"github.com/bigkaa/communitysync/internal/domain/model"
)

// newTestReconcile создаёт сервис сверки поверх фейков.
func newTestReconcile(
	t *testing.T,
	dir *fakeDirectory,
	msg *fakeMessaging,
	users *fakeDirectoryUsers,
	msgUsers *fakeMessagingUsers,
) *ReconcileService {
	t.Helper()
	store := newTestStore(t, dir, msg, users)
	return NewReconcileService(store, msg, users, msgUsers, time.Minute, testLogger())
}

// TestRunOnce_TeamMembers проверяет сверку членства команды: участники
// сообщества должны составлять ровно множество участников команды.
func TestRunOnce_TeamMembers(t *testing.T) {
	dir := newFakeDirectory()
	dir.groupMembers["100"] = []model.GroupMember{
		{ID: "1", Username: "alice", Role: model.RoleOwner},
		{ID: "2", Username: "bob", Role: model.RoleDeveloper},
		{ID: "5", Username: "carol", Role: model.RoleDeveloper},
	}
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{
		"alice": dirUser("1", "alice", "Alice", map[string]string{model.AttributeJoined: "2024-01-10"}),
		"bob":   dirUser("2", "bob", "Bob", map[string]string{model.AttributeJoined: "2024-01-10"}),
		"carol": dirUser("5", "carol", "Carol", map[string]string{model.AttributeJoined: "2024-01-10"}),
	}}

	msg := newFakeMessaging()
	// alice в команде; eve — нелегитимный участник; m9 нерезолвим.
	// bob отсутствует и должен быть добавлен; carol не заведена в
	// messaging-сервисе и пропускается.
	msg.teamMembers = []model.TeamMember{{UserID: "m1"}, {UserID: "m3"}, {UserID: "m9"}}
	msgUsers := &fakeMessagingUsers{users: map[string]*model.MessagingUser{
		"m1": {ID: "m1", Username: "alice"},
		"m2": {ID: "m2", Username: "bob"},
		"m3": {ID: "m3", Username: "eve"},
	}}

	rs := newTestReconcile(t, dir, msg, users, msgUsers)
	result, skipped := rs.RunOnce(context.Background())
	if skipped {
		t.Fatal("RunOnce не должен быть пропущен")
	}

	if len(msg.addedTeam) != 1 || msg.addedTeam[0] != "m2" {
		t.Errorf("ожидалось добавление bob (m2) в команду, addedTeam = %v", msg.addedTeam)
	}
	if len(msg.removedTeam) != 1 || msg.removedTeam[0] != "m3" {
		t.Errorf("ожидалось удаление eve (m3) из команды, removedTeam = %v", msg.removedTeam)
	}
	if result.TeamMembersAdded != 1 {
		t.Errorf("TeamMembersAdded = %d, ожидается 1", result.TeamMembersAdded)
	}
	if result.TeamMembersRemoved != 1 {
		t.Errorf("TeamMembersRemoved = %d, ожидается 1", result.TeamMembersRemoved)
	}
	if result.Members != 3 {
		t.Errorf("Members = %d, ожидается 3", result.Members)
	}
	if users.refreshed != 1 || msgUsers.refreshed != 1 {
		t.Error("цикл сверки должен обновлять оба кэша пользователей")
	}
}

// TestRunOnce_ChannelRepair проверяет сверку канала темы: восстановление из
// мягкого удаления, приведение метаданных и множества участников.
func TestRunOnce_ChannelRepair(t *testing.T) {
	dir := newFakeDirectory()
	dir.subGroups = []model.Group{
		{ID: "201", Path: "dev", Name: "Development", Description: "Dev talk"},
		{ID: "202", Path: "ops", Name: "Operations"},
	}
	dir.groupMembers["201"] = []model.GroupMember{
		{ID: "2", Username: "bob", Role: model.RoleMaintainer},
		{ID: "5", Username: "carol", Role: model.RoleMaintainer},
	}
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{
		"bob":   dirUser("2", "bob", "Bob", map[string]string{model.AttributeJoined: "2024-01-10"}),
		"carol": dirUser("5", "carol", "Carol", map[string]string{model.AttributeJoined: "2024-01-10"}),
	}}

	msg := newFakeMessaging()
	msg.channels["dev"] = &model.Channel{
		ID: "ch-dev", Name: "dev", DisplayName: "Old name", Type: "P",
		DeleteAt: 1700000000000,
	}
	msg.usersByName["bob"] = &model.MessagingUser{ID: "m2", Username: "bob"}
	msg.usersByName["carol"] = &model.MessagingUser{ID: "m5", Username: "carol"}
	// bob уже в канале; m3 — нелегитимный участник; carol отсутствует.
	msg.channelMembers["ch-dev"] = []model.TeamMember{{UserID: "m2"}, {UserID: "m3"}}
	msgUsers := &fakeMessagingUsers{users: map[string]*model.MessagingUser{}}

	rs := newTestReconcile(t, dir, msg, users, msgUsers)
	result, skipped := rs.RunOnce(context.Background())
	if skipped {
		t.Fatal("RunOnce не должен быть пропущен")
	}

	if len(msg.restoredChannels) != 1 || msg.restoredChannels[0] != "ch-dev" {
		t.Errorf("ожидалось восстановление ch-dev, restoredChannels = %v", msg.restoredChannels)
	}
	if len(msg.updatedChannels) != 1 {
		t.Errorf("ожидалось 1 обновление метаданных, updatedChannels = %v", msg.updatedChannels)
	}
	if len(msg.addedChannel) != 1 || msg.addedChannel[0] != "ch-dev/m5" {
		t.Errorf("ожидалось добавление carol (m5) в канал, addedChannel = %v", msg.addedChannel)
	}
	if len(msg.removedChannel) != 1 || msg.removedChannel[0] != "ch-dev/m3" {
		t.Errorf("ожидалось удаление m3 из канала, removedChannel = %v", msg.removedChannel)
	}

	if result.ChannelsRestored != 1 {
		t.Errorf("ChannelsRestored = %d, ожидается 1", result.ChannelsRestored)
	}
	if result.ChannelsUpdated != 1 {
		t.Errorf("ChannelsUpdated = %d, ожидается 1", result.ChannelsUpdated)
	}
	if result.ChannelMembersAdded != 1 {
		t.Errorf("ChannelMembersAdded = %d, ожидается 1", result.ChannelMembersAdded)
	}
	if result.ChannelMembersRemoved != 1 {
		t.Errorf("ChannelMembersRemoved = %d, ожидается 1", result.ChannelMembersRemoved)
	}
	if result.Topics != 2 {
		t.Errorf("Topics = %d, ожидается 2", result.Topics)
	}
}

// TestRunOnce_ChannelMetadataConvergence проверяет, что канал без дрейфа
// метаданных не обновляется.
func TestRunOnce_ChannelMetadataConvergence(t *testing.T) {
	dir := newFakeDirectory()
	dir.subGroups = []model.Group{
		{ID: "201", Path: "dev", Name: "Development", Description: "Dev talk"},
	}
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{}}

	msg := newFakeMessaging()
	msg.channels["dev"] = &model.Channel{
		ID: "ch-dev", Name: "dev", DisplayName: "Development",
		Purpose: "Community topic 'dev'", Header: "Dev talk", Type: "P",
	}
	msgUsers := &fakeMessagingUsers{users: map[string]*model.MessagingUser{}}

	rs := newTestReconcile(t, dir, msg, users, msgUsers)
	result, _ := rs.RunOnce(context.Background())

	if len(msg.updatedChannels) != 0 {
		t.Errorf("канал без дрейфа не должен обновляться, updatedChannels = %v", msg.updatedChannels)
	}
	if result.ChannelsUpdated != 0 {
		t.Errorf("ChannelsUpdated = %d, ожидается 0", result.ChannelsUpdated)
	}
}

// TestRunOnce_SkipsWhenInProgress проверяет защиту от параллельного запуска.
func TestRunOnce_SkipsWhenInProgress(t *testing.T) {
	dir := newFakeDirectory()
	msg := newFakeMessaging()
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{}}
	msgUsers := &fakeMessagingUsers{users: map[string]*model.MessagingUser{}}

	rs := newTestReconcile(t, dir, msg, users, msgUsers)

	rs.mu.Lock()
	rs.inProcess = true
	rs.mu.Unlock()

	result, skipped := rs.RunOnce(context.Background())
	if !skipped {
		t.Error("при выполняющемся цикле RunOnce должен быть пропущен")
	}
	if result != nil {
		t.Error("пропущенный цикл не должен возвращать результат")
	}

	rs.mu.Lock()
	rs.inProcess = false
	rs.mu.Unlock()

	if _, skipped := rs.RunOnce(context.Background()); skipped {
		t.Error("после завершения цикла RunOnce не должен пропускаться")
	}
	if rs.IsInProgress() {
		t.Error("после RunOnce флаг inProcess должен быть сброшен")
	}
}

// TestStartStop проверяет запуск и остановку фоновой горутины.
func TestStartStop(t *testing.T) {
	dir := newFakeDirectory()
	msg := newFakeMessaging()
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{}}
	msgUsers := &fakeMessagingUsers{users: map[string]*model.MessagingUser{}}

	rs := newTestReconcile(t, dir, msg, users, msgUsers)
	rs.Start(context.Background())

	done := make(chan struct{})
	go func() {
		rs.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop не завершился за 5 секунд")
	}
}
