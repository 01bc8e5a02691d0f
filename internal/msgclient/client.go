// Пакет msgclient — HTTP-клиент к REST API messaging-сервиса.
// Аутентификация через Bearer token. Списочные операции прозрачно следуют
// page-пагинации (page/per_page) до первой неполной страницы.
// Семантика ошибок: (nil, error) — сбой запроса; (nil, nil) — 404 на lookup.
//
// Lookup пользователей по username мемоизируется в expirable LRU-кэше:
// мутирующие операции (add/removeTopicMember) часто резолвят одних и тех же
// пользователей между refresh-циклами.
package msgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/communitysync/internal/domain/model"
)

// Client — HTTP-клиент messaging-сервиса.
type Client struct {
	baseURL    string // Базовый URL API (без trailing slash)
	serverURL  string // URL сервера для построения ссылок на команды
	token      string // Personal access token
	perPage    int    // Размер страницы списочных запросов
	httpClient *http.Client
	logger     *slog.Logger

	// userCache — мемоизация GetUserByUsername (username → пользователь).
	userCache *expirable.LRU[string, *model.MessagingUser]
}

// New создаёт клиент messaging-сервиса.
// baseURL — базовый URL API (например, https://chat.example.com/api/v4).
// token — personal access token для заголовка Authorization.
// perPage — размер страницы пагинации (<= 0 — значение по умолчанию 60).
// lookupCacheSize/lookupCacheTTL — параметры LRU-кэша username-lookup.
func New(
	baseURL, token string,
	perPage int,
	lookupCacheSize int,
	lookupCacheTTL time.Duration,
	httpClient *http.Client,
	logger *slog.Logger,
) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if perPage <= 0 {
		perPage = 60
	}
	if lookupCacheSize <= 0 {
		lookupCacheSize = 512
	}
	if lookupCacheTTL <= 0 {
		lookupCacheTTL = time.Minute
	}

	trimmed := strings.TrimRight(baseURL, "/")
	serverURL := trimmed
	if i := strings.Index(trimmed, "/api/"); i > 0 {
		serverURL = trimmed[:i]
	}

	return &Client{
		baseURL:    trimmed,
		serverURL:  serverURL,
		token:      token,
		perPage:    perPage,
		httpClient: httpClient,
		userCache:  expirable.NewLRU[string, *model.MessagingUser](lookupCacheSize, nil, lookupCacheTTL),
		logger:     logger.With(slog.String("component", "msg_client")),
	}
}

// --- Пользователи ---

// ListUsers возвращает всех пользователей messaging-сервиса.
func (c *Client) ListUsers(ctx context.Context) ([]model.MessagingUser, error) {
	var users []model.MessagingUser
	if err := c.getPaged(ctx, "/users", &users); err != nil {
		return nil, fmt.Errorf("ListUsers: %w", err)
	}
	return users, nil
}

// GetUserByID возвращает пользователя по ID. (nil, nil) — не найден.
func (c *Client) GetUserByID(ctx context.Context, userID string) (*model.MessagingUser, error) {
	if userID == "" {
		return nil, fmt.Errorf("GetUserByID: требуется ID пользователя")
	}

	var user model.MessagingUser
	found, err := c.get(ctx, "/users/"+url.PathEscape(userID), &user)
	if err != nil {
		return nil, fmt.Errorf("GetUserByID %s: %w", userID, err)
	}
	if !found {
		return nil, nil
	}
	return &user, nil
}

// GetUserByUsername возвращает пользователя по username. (nil, nil) — не найден.
// Успешный результат мемоизируется в LRU-кэше.
func (c *Client) GetUserByUsername(ctx context.Context, username string) (*model.MessagingUser, error) {
	if username == "" {
		return nil, fmt.Errorf("GetUserByUsername: требуется username")
	}

	if user, ok := c.userCache.Get(username); ok {
		return user, nil
	}

	var user model.MessagingUser
	found, err := c.get(ctx, "/users/username/"+url.PathEscape(username), &user)
	if err != nil {
		return nil, fmt.Errorf("GetUserByUsername %s: %w", username, err)
	}
	if !found {
		return nil, nil
	}

	c.userCache.Add(username, &user)
	return &user, nil
}

// GetUsersByUsernames возвращает пользователей по списку usernames одним запросом.
// Отсутствующие usernames молча пропускаются сервисом.
func (c *Client) GetUsersByUsernames(ctx context.Context, usernames []string) ([]model.MessagingUser, error) {
	if usernames == nil {
		return nil, fmt.Errorf("GetUsersByUsernames: требуется список usernames")
	}
	if len(usernames) == 0 {
		return []model.MessagingUser{}, nil
	}

	var users []model.MessagingUser
	if err := c.postDecode(ctx, "/users/usernames", usernames, &users); err != nil {
		return nil, fmt.Errorf("GetUsersByUsernames: %w", err)
	}
	return users, nil
}

// --- Команды ---

// GetTeamByName возвращает команду по имени. (nil, nil) — не найдена.
func (c *Client) GetTeamByName(ctx context.Context, teamName string) (*model.Team, error) {
	if teamName == "" {
		return nil, fmt.Errorf("GetTeamByName: требуется имя команды")
	}

	var team model.Team
	found, err := c.get(ctx, "/teams/name/"+url.PathEscape(teamName), &team)
	if err != nil {
		return nil, fmt.Errorf("GetTeamByName %s: %w", teamName, err)
	}
	if !found {
		return nil, nil
	}

	team.URL = c.serverURL + "/" + teamName
	return &team, nil
}

// ListTeamMembers возвращает все записи членства команды.
func (c *Client) ListTeamMembers(ctx context.Context, team *model.Team) ([]model.TeamMember, error) {
	if team == nil || team.ID == "" {
		return nil, fmt.Errorf("ListTeamMembers: требуется команда с валидным ID")
	}

	var members []model.TeamMember
	path := fmt.Sprintf("/teams/%s/members", url.PathEscape(team.ID))
	if err := c.getPaged(ctx, path, &members); err != nil {
		return nil, fmt.Errorf("ListTeamMembers %s: %w", team.Name, err)
	}
	return members, nil
}

// AddTeamMember добавляет пользователя в команду.
func (c *Client) AddTeamMember(ctx context.Context, team *model.Team, user *model.MessagingUser) error {
	if team == nil || team.ID == "" {
		return fmt.Errorf("AddTeamMember: требуется команда с валидным ID")
	}
	if user == nil || user.ID == "" {
		return fmt.Errorf("AddTeamMember: требуется пользователь с валидным ID")
	}

	c.logger.Debug("Добавление пользователя в команду",
		slog.String("username", user.Username),
		slog.String("team", team.Name),
	)

	body := map[string]string{
		"team_id": team.ID,
		"user_id": user.ID,
		"roles":   "team_user",
	}
	path := fmt.Sprintf("/teams/%s/members", url.PathEscape(team.ID))
	return c.write(ctx, http.MethodPost, path, body)
}

// RemoveTeamMember удаляет пользователя из команды.
func (c *Client) RemoveTeamMember(ctx context.Context, team *model.Team, user *model.MessagingUser) error {
	if team == nil || team.ID == "" {
		return fmt.Errorf("RemoveTeamMember: требуется команда с валидным ID")
	}
	if user == nil || user.ID == "" {
		return fmt.Errorf("RemoveTeamMember: требуется пользователь с валидным ID")
	}

	c.logger.Debug("Удаление пользователя из команды",
		slog.String("username", user.Username),
		slog.String("team", team.Name),
	)

	path := fmt.Sprintf("/teams/%s/members/%s", url.PathEscape(team.ID), url.PathEscape(user.ID))
	return c.write(ctx, http.MethodDelete, path, nil)
}

// --- Каналы ---

// GetChannelByName возвращает канал команды по имени, включая мягко удалённые.
// (nil, nil) — канал не найден.
func (c *Client) GetChannelByName(ctx context.Context, team *model.Team, name string) (*model.Channel, error) {
	if team == nil || team.ID == "" {
		return nil, fmt.Errorf("GetChannelByName: требуется команда с валидным ID")
	}
	if name == "" {
		return nil, fmt.Errorf("GetChannelByName: требуется имя канала")
	}

	var channel model.Channel
	path := fmt.Sprintf("/teams/%s/channels/name/%s?include_deleted=true",
		url.PathEscape(team.ID), url.PathEscape(name))
	found, err := c.get(ctx, path, &channel)
	if err != nil {
		return nil, fmt.Errorf("GetChannelByName %s: %w", name, err)
	}
	if !found {
		return nil, nil
	}
	return &channel, nil
}

// CreateChannel создаёт канал в команде.
// При пустом displayName используется name.
func (c *Client) CreateChannel(ctx context.Context, team *model.Team, name, displayName, purpose, header string, private bool) (*model.Channel, error) {
	if team == nil || team.ID == "" {
		return nil, fmt.Errorf("CreateChannel: требуется команда с валидным ID")
	}
	if name == "" {
		return nil, fmt.Errorf("CreateChannel: требуется имя канала")
	}
	if displayName == "" {
		displayName = name
	}

	channelType := "O"
	if private {
		channelType = "P"
	}

	c.logger.Debug("Создание канала",
		slog.String("name", name),
		slog.String("type", channelType),
		slog.String("team", team.Name),
	)

	body := map[string]string{
		"team_id":      team.ID,
		"name":         name,
		"display_name": displayName,
		"purpose":      purpose,
		"header":       header,
		"type":         channelType,
	}
	var channel model.Channel
	if err := c.postDecode(ctx, "/channels", body, &channel); err != nil {
		return nil, fmt.Errorf("CreateChannel %s: %w", name, err)
	}
	return &channel, nil
}

// UpdateChannel обновляет метаданные канала.
func (c *Client) UpdateChannel(ctx context.Context, channel *model.Channel, name, displayName, purpose, header string) error {
	if channel == nil || channel.ID == "" {
		return fmt.Errorf("UpdateChannel: требуется канал с валидным ID")
	}
	if name == "" {
		return fmt.Errorf("UpdateChannel: требуется имя канала")
	}
	if displayName == "" {
		displayName = name
	}

	c.logger.Debug("Обновление канала",
		slog.String("channel_id", channel.ID),
		slog.String("name", name),
	)

	body := map[string]string{
		"id":           channel.ID,
		"name":         name,
		"display_name": displayName,
		"purpose":      purpose,
		"header":       header,
	}
	return c.write(ctx, http.MethodPut, "/channels/"+url.PathEscape(channel.ID), body)
}

// RestoreChannel восстанавливает мягко удалённый канал.
func (c *Client) RestoreChannel(ctx context.Context, channel *model.Channel) (*model.Channel, error) {
	if channel == nil || channel.ID == "" {
		return nil, fmt.Errorf("RestoreChannel: требуется канал с валидным ID")
	}

	c.logger.Debug("Восстановление канала", slog.String("name", channel.Name))

	var restored model.Channel
	path := fmt.Sprintf("/channels/%s/restore", url.PathEscape(channel.ID))
	if err := c.postDecode(ctx, path, nil, &restored); err != nil {
		return nil, fmt.Errorf("RestoreChannel %s: %w", channel.Name, err)
	}
	return &restored, nil
}

// ConvertChannelToPrivate переводит публичный канал в приватный.
func (c *Client) ConvertChannelToPrivate(ctx context.Context, channel *model.Channel) error {
	if channel == nil || channel.ID == "" {
		return fmt.Errorf("ConvertChannelToPrivate: требуется канал с валидным ID")
	}

	c.logger.Debug("Конвертация канала в приватный", slog.String("name", channel.Name))

	path := fmt.Sprintf("/channels/%s/convert", url.PathEscape(channel.ID))
	return c.write(ctx, http.MethodPost, path, nil)
}

// DeleteChannel мягко удаляет канал.
func (c *Client) DeleteChannel(ctx context.Context, channel *model.Channel) error {
	if channel == nil || channel.ID == "" {
		return fmt.Errorf("DeleteChannel: требуется канал с валидным ID")
	}

	c.logger.Debug("Удаление канала", slog.String("name", channel.Name))
	return c.write(ctx, http.MethodDelete, "/channels/"+url.PathEscape(channel.ID), nil)
}

// ListChannelMembers возвращает все записи членства канала.
func (c *Client) ListChannelMembers(ctx context.Context, channel *model.Channel) ([]model.TeamMember, error) {
	if channel == nil || channel.ID == "" {
		return nil, fmt.Errorf("ListChannelMembers: требуется канал с валидным ID")
	}

	var members []model.TeamMember
	path := fmt.Sprintf("/channels/%s/members", url.PathEscape(channel.ID))
	if err := c.getPaged(ctx, path, &members); err != nil {
		return nil, fmt.Errorf("ListChannelMembers %s: %w", channel.Name, err)
	}
	return members, nil
}

// AddChannelMember добавляет пользователя в канал.
func (c *Client) AddChannelMember(ctx context.Context, channel *model.Channel, user *model.MessagingUser) error {
	if channel == nil || channel.ID == "" {
		return fmt.Errorf("AddChannelMember: требуется канал с валидным ID")
	}
	if user == nil || user.ID == "" {
		return fmt.Errorf("AddChannelMember: требуется пользователь с валидным ID")
	}

	c.logger.Debug("Добавление пользователя в канал",
		slog.String("username", user.Username),
		slog.String("channel", channel.Name),
	)

	body := map[string]string{"user_id": user.ID}
	path := fmt.Sprintf("/channels/%s/members", url.PathEscape(channel.ID))
	return c.write(ctx, http.MethodPost, path, body)
}

// RemoveChannelMember удаляет пользователя из канала.
func (c *Client) RemoveChannelMember(ctx context.Context, channel *model.Channel, userID string) error {
	if channel == nil || channel.ID == "" {
		return fmt.Errorf("RemoveChannelMember: требуется канал с валидным ID")
	}
	if userID == "" {
		return fmt.Errorf("RemoveChannelMember: требуется ID пользователя")
	}

	c.logger.Debug("Удаление пользователя из канала",
		slog.String("user_id", userID),
		slog.String("channel", channel.Name),
	)

	path := fmt.Sprintf("/channels/%s/members/%s", url.PathEscape(channel.ID), url.PathEscape(userID))
	return c.write(ctx, http.MethodDelete, path, nil)
}

// --- HTTP helpers ---

// do выполняет запрос с Bearer-авторизацией.
func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s %s: %w", method, rawURL, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос %s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

// get выполняет GET одиночного ресурса. (false, nil) — 404.
func (c *Client) get(ctx context.Context, path string, out any) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("messaging-сервис вернул статус %d: %s", resp.StatusCode, string(payload))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("декодирование ответа: %w", err)
	}
	return true, nil
}

// getPaged выполняет списочный GET, следуя page-пагинации до первой
// неполной страницы. out — указатель на срез.
func (c *Client) getPaged(ctx context.Context, path string, out any) error {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	var items []json.RawMessage
	for page := 0; ; page++ {
		rawURL := fmt.Sprintf("%s%s%spage=%d&per_page=%d", c.baseURL, path, sep, page, c.perPage)

		resp, err := c.do(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}

		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("messaging-сервис вернул статус %d: %s", resp.StatusCode, string(payload))
		}

		var pageItems []json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&pageItems)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("декодирование страницы: %w", err)
		}
		items = append(items, pageItems...)

		if len(pageItems) < c.perPage {
			break
		}
	}

	merged, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("склейка страниц: %w", err)
	}
	return json.Unmarshal(merged, out)
}

// write выполняет мутирующий запрос без декодирования тела ответа.
// body == nil — запрос без тела.
func (c *Client) write(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("сериализация тела запроса: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("messaging-сервис вернул статус %d: %s", resp.StatusCode, string(payload))
	}
	return nil
}

// postDecode выполняет POST и декодирует тело ответа в out.
// body == nil — запрос без тела.
func (c *Client) postDecode(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("сериализация тела запроса: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("messaging-сервис вернул статус %d: %s", resp.StatusCode, string(payload))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа: %w", err)
	}
	return nil
}
