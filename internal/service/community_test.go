package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/communitysync/internal/domain/model"
)

// newTestStore создаёт хранилище поверх фейковых клиентов.
func newTestStore(t *testing.T, dir *fakeDirectory, msg *fakeMessaging, users *fakeDirectoryUsers) *CommunityStore {
	t.Helper()
	community := testCommunity(t, dir, msg)
	return NewCommunityStore(dir, msg, users, community, testLogger())
}

func TestResolveCommunity_MissingGroup(t *testing.T) {
	dir := newFakeDirectory()
	dir.rootGroup = nil
	msg := newFakeMessaging()

	_, err := ResolveCommunity(context.Background(), dir, msg, "community", nil, nil, model.RoleMaintainer)
	if err == nil {
		t.Fatal("ожидалась ошибка при отсутствии корневой группы, получен nil")
	}
}

func TestResolveCommunity_MissingTeam(t *testing.T) {
	dir := newFakeDirectory()
	msg := newFakeMessaging()
	msg.team = nil

	_, err := ResolveCommunity(context.Background(), dir, msg, "community", nil, nil, model.RoleMaintainer)
	if err == nil {
		t.Fatal("ожидалась ошибка при отсутствии команды, получен nil")
	}
}

// TestRefreshMembers_Derivation проверяет правила деривации участников:
// исключённые и неизвестные usernames пропускаются, флаг администратора
// выставляется, новые участники штампуются датой вступления.
func TestRefreshMembers_Derivation(t *testing.T) {
	dir := newFakeDirectory()
	dir.groupMembers["100"] = []model.GroupMember{
		{ID: "1", Username: "alice", Role: model.RoleOwner},
		{ID: "2", Username: "bob", Role: model.RoleDeveloper},
		{ID: "9", Username: "bot", Role: model.RoleOwner},
		{ID: "8", Username: "ghost", Role: model.RoleDeveloper},
	}
	msg := newFakeMessaging()
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{
		"alice": dirUser("1", "alice", "Alice", map[string]string{model.AttributeJoined: "2024-01-10"}),
		"bob":   dirUser("2", "bob", "Bob", nil),
	}}
	store := newTestStore(t, dir, msg, users)

	if err := store.RefreshMembers(context.Background()); err != nil {
		t.Fatalf("RefreshMembers вернул ошибку: %v", err)
	}

	members := store.Members(context.Background())
	if len(members) != 2 {
		t.Fatalf("ожидалось 2 участника, получено %d", len(members))
	}
	if _, ok := members["bot"]; ok {
		t.Error("исключённый username не должен попадать в участники")
	}
	if _, ok := members["ghost"]; ok {
		t.Error("username без записи в кэше пользователей не должен попадать в участники")
	}

	alice := members["alice"]
	if alice == nil {
		t.Fatal("участник alice не найден")
	}
	if !alice.IsAdmin {
		t.Error("alice должна иметь флаг администратора")
	}
	if alice.Joined == nil || alice.Joined.Format(model.JoinedLayout) != "2024-01-10" {
		t.Errorf("Joined alice = %v, ожидается 2024-01-10", alice.Joined)
	}

	bob := members["bob"]
	if bob == nil {
		t.Fatal("участник bob не найден")
	}
	if bob.IsAdmin {
		t.Error("bob не должен иметь флаг администратора")
	}
	if bob.Joined == nil {
		t.Error("новый участник должен быть проштампован датой вступления")
	}
}

// TestRefreshMembers_StampsJoinedOnce проверяет, что дата вступления
// проставляется ровно один раз: повторные refresh не делают remote-вызовов.
func TestRefreshMembers_StampsJoinedOnce(t *testing.T) {
	dir := newFakeDirectory()
	dir.groupMembers["100"] = []model.GroupMember{
		{ID: "2", Username: "bob", Role: model.RoleDeveloper},
	}
	msg := newFakeMessaging()
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{
		"bob": dirUser("2", "bob", "Bob", nil),
	}}
	store := newTestStore(t, dir, msg, users)

	for i := 0; i < 3; i++ {
		if err := store.RefreshMembers(context.Background()); err != nil {
			t.Fatalf("RefreshMembers вернул ошибку: %v", err)
		}
	}

	if len(dir.setAttrCalls) != 1 {
		t.Errorf("ожидался ровно 1 вызов SetUserAttribute, получено %d", len(dir.setAttrCalls))
	}
	expected := "2/" + model.AttributeJoined + "=" + time.Now().Format(model.JoinedLayout)
	if dir.setAttrCalls[0] != expected {
		t.Errorf("SetUserAttribute = %q, ожидается %q", dir.setAttrCalls[0], expected)
	}
}

// TestRefreshMembers_StampFailureRetries проверяет, что при сбое remote-штампа
// локальная копия не трогается и штамп повторяется на следующем цикле.
func TestRefreshMembers_StampFailureRetries(t *testing.T) {
	dir := newFakeDirectory()
	dir.failSetAttribute = true
	dir.groupMembers["100"] = []model.GroupMember{
		{ID: "2", Username: "bob", Role: model.RoleDeveloper},
	}
	msg := newFakeMessaging()
	bob := dirUser("2", "bob", "Bob", nil)
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{"bob": bob}}
	store := newTestStore(t, dir, msg, users)

	if err := store.RefreshMembers(context.Background()); err != nil {
		t.Fatalf("RefreshMembers вернул ошибку: %v", err)
	}

	if bob.HasAttribute(model.AttributeJoined) {
		t.Error("при сбое remote-штампа локальный атрибут не должен выставляться")
	}
	if member := store.Member(context.Background(), "bob"); member == nil || member.Joined != nil {
		t.Error("участник без штампа должен иметь Joined == nil")
	}

	// Сбой устранён — следующий цикл проставляет дату
	dir.failSetAttribute = false
	if err := store.RefreshMembers(context.Background()); err != nil {
		t.Fatalf("RefreshMembers вернул ошибку: %v", err)
	}
	if len(dir.setAttrCalls) != 1 {
		t.Errorf("ожидался 1 успешный вызов SetUserAttribute, получено %d", len(dir.setAttrCalls))
	}
	if member := store.Member(context.Background(), "bob"); member == nil || member.Joined == nil {
		t.Error("после успешного штампа Joined должен быть установлен")
	}
}

// TestRefreshMembers_ErrorKeepsSnapshot проверяет, что сбой refresh
// не затирает предыдущий снимок.
func TestRefreshMembers_ErrorKeepsSnapshot(t *testing.T) {
	dir := newFakeDirectory()
	dir.groupMembers["100"] = []model.GroupMember{
		{ID: "1", Username: "alice", Role: model.RoleOwner},
	}
	msg := newFakeMessaging()
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{
		"alice": dirUser("1", "alice", "Alice", map[string]string{model.AttributeJoined: "2024-01-10"}),
	}}
	store := newTestStore(t, dir, msg, users)

	if err := store.RefreshMembers(context.Background()); err != nil {
		t.Fatalf("RefreshMembers вернул ошибку: %v", err)
	}

	dir.failListMembers = true
	if err := store.RefreshMembers(context.Background()); err == nil {
		t.Fatal("ожидалась ошибка RefreshMembers, получен nil")
	}

	if len(store.Members(context.Background())) != 1 {
		t.Error("после сбоя refresh должен сохраниться предыдущий снимок")
	}
}

// TestRefreshMembers_EmptyUserCache проверяет цикл после сбоя кэша
// пользователей: пустой кэш означает «пользователи неизвестны», и снимок
// участников заменяется пустым, а не остаётся прежним.
func TestRefreshMembers_EmptyUserCache(t *testing.T) {
	dir := newFakeDirectory()
	dir.groupMembers["100"] = []model.GroupMember{
		{ID: "1", Username: "alice", Role: model.RoleOwner},
	}
	msg := newFakeMessaging()
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{
		"alice": dirUser("1", "alice", "Alice", map[string]string{model.AttributeJoined: "2024-01-10"}),
	}}
	store := newTestStore(t, dir, msg, users)

	if err := store.RefreshMembers(context.Background()); err != nil {
		t.Fatalf("RefreshMembers вернул ошибку: %v", err)
	}
	if len(store.Members(context.Background())) != 1 {
		t.Fatal("ожидался 1 участник до очистки кэша")
	}

	// Кэш опустел после сбоя directory-сервиса
	users.users = map[string]*model.DirectoryUser{}
	if err := store.RefreshMembers(context.Background()); err != nil {
		t.Fatalf("RefreshMembers вернул ошибку: %v", err)
	}
	if got := len(store.Members(context.Background())); got != 0 {
		t.Errorf("при пустом кэше пользователей ожидается пустой снимок участников, получено %d", got)
	}
}

// TestRefreshTopics проверяет деривацию тем: привязка канала по точному
// совпадению имени, тема без канала, коллизия path.
func TestRefreshTopics(t *testing.T) {
	dir := newFakeDirectory()
	dir.subGroups = []model.Group{
		{ID: "201", Path: "dev", Name: "Development", Description: "Dev talk"},
		{ID: "202", Path: "ops", Name: "Operations"},
		{ID: "203", Path: "dev", Name: "Duplicate"},
	}
	msg := newFakeMessaging()
	msg.channels["dev"] = &model.Channel{
		ID: "ch-dev", Name: "dev", Type: "P", MessageCount: 42, LastPostAt: 1700000000000,
	}
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{}}
	store := newTestStore(t, dir, msg, users)

	if err := store.RefreshTopics(context.Background()); err != nil {
		t.Fatalf("RefreshTopics вернул ошибку: %v", err)
	}

	topics := store.Topics(context.Background())
	if len(topics) != 2 {
		t.Fatalf("ожидалось 2 темы, получено %d", len(topics))
	}

	dev := topics["dev"]
	if dev == nil {
		t.Fatal("тема dev не найдена")
	}
	if dev.Name != "Development" {
		t.Errorf("при коллизии path должна побеждать первая подгруппа, Name = %q", dev.Name)
	}
	if !dev.HasChannel() || dev.ChannelID != "ch-dev" {
		t.Errorf("тема dev должна быть привязана к каналу ch-dev, ChannelID = %q", dev.ChannelID)
	}
	if dev.MessageCount != 42 {
		t.Errorf("MessageCount = %d, ожидается 42", dev.MessageCount)
	}

	ops := topics["ops"]
	if ops == nil {
		t.Fatal("тема ops не найдена")
	}
	if ops.HasChannel() {
		t.Error("тема ops не должна иметь привязанного канала")
	}
}

// TestRefreshTopics_ChannelLookupError проверяет, что сбой поиска канала
// не срывает деривацию: тема остаётся без канала.
func TestRefreshTopics_ChannelLookupError(t *testing.T) {
	dir := newFakeDirectory()
	dir.subGroups = []model.Group{{ID: "201", Path: "dev", Name: "Development"}}
	msg := newFakeMessaging()
	msg.failGetChannel = true
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{}}
	store := newTestStore(t, dir, msg, users)

	if err := store.RefreshTopics(context.Background()); err != nil {
		t.Fatalf("RefreshTopics вернул ошибку: %v", err)
	}

	dev := store.Topic(context.Background(), "dev")
	if dev == nil {
		t.Fatal("тема dev не найдена")
	}
	if dev.HasChannel() {
		t.Error("при сбое поиска канала тема должна остаться без канала")
	}
}

// TestRefreshTopicMembers проверяет деривацию членства: в тему попадают
// только участники с ролью, в точности равной настроенной.
func TestRefreshTopicMembers(t *testing.T) {
	dir := newFakeDirectory()
	dir.subGroups = []model.Group{
		{ID: "201", Path: "dev", Name: "Development"},
		{ID: "202", Path: "ops", Name: "Operations"},
	}
	dir.groupMembers["201"] = []model.GroupMember{
		{ID: "2", Username: "bob", Role: model.RoleMaintainer},
		{ID: "3", Username: "carol", Role: model.RoleDeveloper},
		{ID: "4", Username: "dave", Role: model.RoleOwner},
		{ID: "9", Username: "bot", Role: model.RoleMaintainer},
		{ID: "8", Username: "ghost", Role: model.RoleMaintainer},
	}
	dir.failMembersOf = map[string]bool{"202": true}
	msg := newFakeMessaging()
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{
		"bob":   dirUser("2", "bob", "Bob", nil),
		"carol": dirUser("3", "carol", "Carol", nil),
		"dave":  dirUser("4", "dave", "Dave", nil),
	}}
	store := newTestStore(t, dir, msg, users)

	if err := store.RefreshTopicMembers(context.Background()); err != nil {
		t.Fatalf("RefreshTopicMembers вернул ошибку: %v", err)
	}

	ctx := context.Background()
	if !store.IsTopicMember(ctx, "dev", "bob") {
		t.Error("bob с ролью maintainer должен состоять в теме dev")
	}
	if store.IsTopicMember(ctx, "dev", "carol") {
		t.Error("carol с ролью developer не должна состоять в теме dev")
	}
	if store.IsTopicMember(ctx, "dev", "dave") {
		t.Error("dave с ролью owner не должен состоять в теме dev: фильтр — строгое равенство роли")
	}
	if store.IsTopicMember(ctx, "dev", "bot") {
		t.Error("исключённый username не должен состоять в теме")
	}
	if store.IsTopicMember(ctx, "dev", "ghost") {
		t.Error("неизвестный username не должен состоять в теме")
	}

	// Сбой получения участников одной подгруппы — пустое множество, не ошибка
	set, ok := store.TopicMembers(ctx)["ops"]
	if !ok {
		t.Fatal("тема ops должна присутствовать в снимке членства")
	}
	if len(set) != 0 {
		t.Errorf("при сбое подгруппы ожидается пустое множество, получено %d", len(set))
	}
}

func TestCreateTopic_Validation(t *testing.T) {
	dir := newFakeDirectory()
	msg := newFakeMessaging()
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{}}
	store := newTestStore(t, dir, msg, users)
	ctx := context.Background()

	if _, err := store.CreateTopic(ctx, "Dev Topic", "Dev", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("для невалидного path ожидался ErrValidation, получено %v", err)
	}
	if _, err := store.CreateTopic(ctx, "-dev", "Dev", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("для path с ведущим дефисом ожидался ErrValidation, получено %v", err)
	}
	if _, err := store.CreateTopic(ctx, "dev", "", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("для пустого имени ожидался ErrValidation, получено %v", err)
	}
	if len(dir.createdGroups) != 0 {
		t.Error("невалидный запрос не должен доходить до directory-сервиса")
	}
}

// TestCreateTopic_RoundTrip проверяет сквозное создание темы: подгруппа,
// приватный канал с каноническим purpose, патч снимков.
func TestCreateTopic_RoundTrip(t *testing.T) {
	dir := newFakeDirectory()
	msg := newFakeMessaging()
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{}}
	store := newTestStore(t, dir, msg, users)
	ctx := context.Background()

	topic, err := store.CreateTopic(ctx, "dev", "Development", "Dev talk")
	if err != nil {
		t.Fatalf("CreateTopic вернул ошибку: %v", err)
	}

	if topic.Path != "dev" || topic.Name != "Development" {
		t.Errorf("topic = %s/%s, ожидается dev/Development", topic.Path, topic.Name)
	}
	if !topic.HasChannel() {
		t.Fatal("у созданной темы должен быть канал")
	}
	if !topic.Private {
		t.Error("канал темы должен быть приватным")
	}

	channel := msg.channels["dev"]
	if channel == nil {
		t.Fatal("канал dev не создан")
	}
	if channel.Purpose != "Community topic 'dev'" {
		t.Errorf("Purpose = %q, ожидается Community topic 'dev'", channel.Purpose)
	}
	if channel.Header != "Dev talk" {
		t.Errorf("Header = %q, должен хранить описание темы", channel.Header)
	}

	// Снимки обновлены без полного refresh
	if store.Topic(ctx, "dev") == nil {
		t.Error("тема должна появиться в снимке сразу после создания")
	}
	set, ok := store.TopicMembers(ctx)["dev"]
	if !ok || len(set) != 0 {
		t.Error("новая тема должна получить пустое множество участников")
	}

	// Повторное создание — конфликт
	if _, err := store.CreateTopic(ctx, "dev", "Development", ""); !errors.Is(err, ErrConflict) {
		t.Errorf("для существующей темы ожидался ErrConflict, получено %v", err)
	}
}

// TestCreateTopic_ReusesOrphanChannel проверяет переиспользование осиротевшего
// канала: восстановление, приведение метаданных, конвертация в приватный.
func TestCreateTopic_ReusesOrphanChannel(t *testing.T) {
	dir := newFakeDirectory()
	msg := newFakeMessaging()
	msg.channels["dev"] = &model.Channel{
		ID: "ch-dev", Name: "dev", DisplayName: "Old", Type: "O", DeleteAt: 1700000000000,
	}
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{}}
	store := newTestStore(t, dir, msg, users)

	topic, err := store.CreateTopic(context.Background(), "dev", "Development", "Dev talk")
	if err != nil {
		t.Fatalf("CreateTopic вернул ошибку: %v", err)
	}

	if len(msg.createdChannels) != 0 {
		t.Error("осиротевший канал должен переиспользоваться, а не создаваться заново")
	}
	if len(msg.restoredChannels) != 1 {
		t.Errorf("ожидалось 1 восстановление канала, получено %d", len(msg.restoredChannels))
	}
	if len(msg.updatedChannels) != 1 {
		t.Errorf("ожидалось 1 обновление метаданных канала, получено %d", len(msg.updatedChannels))
	}
	if len(msg.convertedChannels) != 1 {
		t.Errorf("ожидалась 1 конвертация в приватный, получено %d", len(msg.convertedChannels))
	}
	if topic.ChannelID != "ch-dev" {
		t.Errorf("ChannelID = %q, ожидается ch-dev", topic.ChannelID)
	}
	if !topic.Private {
		t.Error("переиспользованный канал должен стать приватным")
	}
}

// TestCreateTopic_DirectoryFailureAborts проверяет, что сбой создания
// подгруппы прерывает операцию до любых вызовов messaging-сервиса.
func TestCreateTopic_DirectoryFailureAborts(t *testing.T) {
	dir := newFakeDirectory()
	dir.failCreateGroup = true
	msg := newFakeMessaging()
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{}}
	store := newTestStore(t, dir, msg, users)

	if _, err := store.CreateTopic(context.Background(), "dev", "Development", ""); err == nil {
		t.Fatal("ожидалась ошибка CreateTopic, получен nil")
	}
	if len(msg.createdChannels) != 0 {
		t.Error("при сбое directory-сервиса канал не должен создаваться")
	}
	if store.Topic(context.Background(), "dev") != nil {
		t.Error("при сбое directory-сервиса тема не должна попасть в снимок")
	}
}

// TestCreateTopic_ChannelFailureTolerated проверяет, что сбой создания канала
// не срывает операцию: тема создаётся без канала.
func TestCreateTopic_ChannelFailureTolerated(t *testing.T) {
	dir := newFakeDirectory()
	msg := newFakeMessaging()
	msg.failCreateChannel = true
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{}}
	store := newTestStore(t, dir, msg, users)

	topic, err := store.CreateTopic(context.Background(), "dev", "Development", "")
	if err != nil {
		t.Fatalf("CreateTopic вернул ошибку: %v", err)
	}
	if topic.HasChannel() {
		t.Error("при сбое messaging-сервиса тема должна создаться без канала")
	}
	if len(dir.createdGroups) != 1 {
		t.Errorf("подгруппа должна быть создана, createdGroups = %v", dir.createdGroups)
	}
}

func TestUpdateTopic(t *testing.T) {
	dir := newFakeDirectory()
	dir.subGroups = []model.Group{{ID: "201", Path: "dev", Name: "Development"}}
	msg := newFakeMessaging()
	msg.channels["dev"] = &model.Channel{ID: "ch-dev", Name: "dev", DisplayName: "Development", Type: "P"}
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{}}
	store := newTestStore(t, dir, msg, users)
	ctx := context.Background()

	topic, err := store.UpdateTopic(ctx, "dev", "Development v2", "New desc")
	if err != nil {
		t.Fatalf("UpdateTopic вернул ошибку: %v", err)
	}

	if topic.Name != "Development v2" || topic.Description != "New desc" {
		t.Errorf("topic = %q/%q, метаданные не обновлены", topic.Name, topic.Description)
	}
	if len(dir.updatedGroups) != 1 || dir.updatedGroups[0] != "201" {
		t.Errorf("ожидалось обновление группы 201, updatedGroups = %v", dir.updatedGroups)
	}
	if len(msg.updatedChannels) != 1 {
		t.Errorf("ожидалось 1 обновление канала, получено %d", len(msg.updatedChannels))
	}
	if msg.channels["dev"].Header != "New desc" {
		t.Errorf("Header канала = %q, должен хранить новое описание", msg.channels["dev"].Header)
	}

	// Снимок обновлён
	if got := store.Topic(ctx, "dev"); got == nil || got.Name != "Development v2" {
		t.Error("снимок тем должен отражать обновление")
	}

	if _, err := store.UpdateTopic(ctx, "nope", "X", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("для несуществующей темы ожидался ErrNotFound, получено %v", err)
	}
}

func TestDeleteTopic(t *testing.T) {
	dir := newFakeDirectory()
	dir.subGroups = []model.Group{{ID: "201", Path: "dev", Name: "Development"}}
	msg := newFakeMessaging()
	msg.channels["dev"] = &model.Channel{ID: "ch-dev", Name: "dev", Type: "P"}
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{}}
	store := newTestStore(t, dir, msg, users)
	ctx := context.Background()

	if err := store.DeleteTopic(ctx, "dev"); err != nil {
		t.Fatalf("DeleteTopic вернул ошибку: %v", err)
	}

	if len(dir.deletedGroups) != 1 || dir.deletedGroups[0] != "201" {
		t.Errorf("ожидалось удаление группы 201, deletedGroups = %v", dir.deletedGroups)
	}
	if len(msg.deletedChannels) != 1 || msg.deletedChannels[0] != "ch-dev" {
		t.Errorf("ожидалось удаление канала ch-dev, deletedChannels = %v", msg.deletedChannels)
	}
	if store.Topic(ctx, "dev") != nil {
		t.Error("удалённая тема не должна оставаться в снимке")
	}
	if _, ok := store.TopicMembers(ctx)["dev"]; ok {
		t.Error("членство удалённой темы не должно оставаться в снимке")
	}

	if err := store.DeleteTopic(ctx, "dev"); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторное удаление: ожидался ErrNotFound, получено %v", err)
	}
}

// TestDeleteTopic_DirectoryFailureAborts проверяет, что сбой удаления
// подгруппы прерывает операцию: канал и снимки нетронуты.
func TestDeleteTopic_DirectoryFailureAborts(t *testing.T) {
	dir := newFakeDirectory()
	dir.subGroups = []model.Group{{ID: "201", Path: "dev", Name: "Development"}}
	dir.failDeleteGroup = true
	msg := newFakeMessaging()
	msg.channels["dev"] = &model.Channel{ID: "ch-dev", Name: "dev", Type: "P"}
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{}}
	store := newTestStore(t, dir, msg, users)
	ctx := context.Background()

	if err := store.DeleteTopic(ctx, "dev"); err == nil {
		t.Fatal("ожидалась ошибка DeleteTopic, получен nil")
	}
	if len(msg.deletedChannels) != 0 {
		t.Error("при сбое directory-сервиса канал не должен удаляться")
	}
	if store.Topic(ctx, "dev") == nil {
		t.Error("при сбое directory-сервиса тема должна остаться в снимке")
	}
}

// setupMembershipStore создаёт хранилище с темой dev и участником bob.
func setupMembershipStore(t *testing.T) (*CommunityStore, *fakeDirectory, *fakeMessaging) {
	t.Helper()
	dir := newFakeDirectory()
	dir.subGroups = []model.Group{{ID: "201", Path: "dev", Name: "Development"}}
	dir.groupMembers["100"] = []model.GroupMember{
		{ID: "2", Username: "bob", Role: model.RoleDeveloper},
	}
	msg := newFakeMessaging()
	msg.channels["dev"] = &model.Channel{ID: "ch-dev", Name: "dev", Type: "P"}
	msg.usersByName["bob"] = &model.MessagingUser{ID: "m2", Username: "bob"}
	users := &fakeDirectoryUsers{users: map[string]*model.DirectoryUser{
		"bob": dirUser("2", "bob", "Bob", map[string]string{model.AttributeJoined: "2024-01-10"}),
	}}
	return newTestStore(t, dir, msg, users), dir, msg
}

func TestAddTopicMember(t *testing.T) {
	store, dir, msg := setupMembershipStore(t)
	ctx := context.Background()

	if err := store.AddTopicMember(ctx, "dev", "bob"); err != nil {
		t.Fatalf("AddTopicMember вернул ошибку: %v", err)
	}

	if len(dir.addedMembers) != 1 || dir.addedMembers[0] != "201/2/maintainer" {
		t.Errorf("ожидалось добавление 201/2/maintainer, addedMembers = %v", dir.addedMembers)
	}
	if len(msg.addedChannel) != 1 || msg.addedChannel[0] != "ch-dev/m2" {
		t.Errorf("членство должно зеркалироваться в канал, addedChannel = %v", msg.addedChannel)
	}
	if !store.IsTopicMember(ctx, "dev", "bob") {
		t.Error("bob должен состоять в теме после добавления")
	}
}

func TestAddTopicMember_NotFound(t *testing.T) {
	store, dir, _ := setupMembershipStore(t)
	ctx := context.Background()

	if err := store.AddTopicMember(ctx, "nope", "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("для несуществующей темы ожидался ErrNotFound, получено %v", err)
	}
	if err := store.AddTopicMember(ctx, "dev", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("для несуществующего участника ожидался ErrNotFound, получено %v", err)
	}
	if len(dir.addedMembers) != 0 {
		t.Error("при ошибке валидации directory-сервис не должен вызываться")
	}
}

// TestAddTopicMember_DirectoryFailureAborts проверяет, что сбой directory
// прерывает операцию: ни зеркалирования, ни патча снимка.
func TestAddTopicMember_DirectoryFailureAborts(t *testing.T) {
	store, dir, msg := setupMembershipStore(t)
	dir.failAddMember = true
	ctx := context.Background()

	if err := store.AddTopicMember(ctx, "dev", "bob"); err == nil {
		t.Fatal("ожидалась ошибка AddTopicMember, получен nil")
	}
	if len(msg.addedChannel) != 0 {
		t.Error("при сбое directory-сервиса членство не должно зеркалироваться в канал")
	}
	if store.IsTopicMember(ctx, "dev", "bob") {
		t.Error("при сбое directory-сервиса снимок не должен меняться")
	}
}

// TestAddTopicMember_ChannelFailureTolerated проверяет best-effort
// зеркалирование: сбой канала не срывает операцию.
func TestAddTopicMember_ChannelFailureTolerated(t *testing.T) {
	store, _, msg := setupMembershipStore(t)
	msg.failAddChannel = true
	ctx := context.Background()

	if err := store.AddTopicMember(ctx, "dev", "bob"); err != nil {
		t.Fatalf("AddTopicMember вернул ошибку: %v", err)
	}
	if !store.IsTopicMember(ctx, "dev", "bob") {
		t.Error("сбой зеркалирования не должен влиять на членство в теме")
	}
}

func TestRemoveTopicMember(t *testing.T) {
	store, dir, msg := setupMembershipStore(t)
	ctx := context.Background()

	if err := store.AddTopicMember(ctx, "dev", "bob"); err != nil {
		t.Fatalf("AddTopicMember вернул ошибку: %v", err)
	}
	if err := store.RemoveTopicMember(ctx, "dev", "bob"); err != nil {
		t.Fatalf("RemoveTopicMember вернул ошибку: %v", err)
	}

	if len(dir.removedMembers) != 1 || dir.removedMembers[0] != "201/2" {
		t.Errorf("ожидалось удаление 201/2, removedMembers = %v", dir.removedMembers)
	}
	if len(msg.removedChannel) != 1 || msg.removedChannel[0] != "ch-dev/m2" {
		t.Errorf("удаление должно зеркалироваться в канал, removedChannel = %v", msg.removedChannel)
	}
	if store.IsTopicMember(ctx, "dev", "bob") {
		t.Error("bob не должен состоять в теме после удаления")
	}
}
