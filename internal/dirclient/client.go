// client.go — HTTP-клиент к REST API directory-сервиса.
// Аутентификация через заголовок PRIVATE-TOKEN (personal access token).
// Списочные операции прозрачно следуют cursor-пагинации через Link header
// (rel="next") и возвращают полную коллекцию.
// Семантика ошибок: (nil, error) — сбой запроса; (nil, nil) — 404 на lookup.
package dirclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/bigkaa/communitysync/internal/domain/model"
)

// Client — HTTP-клиент directory-сервиса.
type Client struct {
	baseURL    string // Базовый URL API (без trailing slash)
	token      string // Personal access token
	perPage    int    // Размер страницы списочных запросов
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент directory-сервиса.
// baseURL — базовый URL API (например, https://git.example.com/api/v4).
// token — personal access token для заголовка PRIVATE-TOKEN.
// perPage — размер страницы пагинации (<= 0 — значение по умолчанию 100).
// httpClient — HTTP-клиент (nil — клиент с таймаутом 30s).
func New(baseURL, token string, perPage int, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if perPage <= 0 {
		perPage = 100
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		perPage:    perPage,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "dir_client")),
	}
}

// --- Пользователи ---

// ListActiveUsers возвращает всех активных пользователей с кастомными атрибутами.
func (c *Client) ListActiveUsers(ctx context.Context) ([]model.DirectoryUser, error) {
	var wire []userResponse
	if err := c.getPaged(ctx, "/users?active=true&with_custom_attributes=true", &wire); err != nil {
		return nil, fmt.Errorf("ListActiveUsers: %w", err)
	}

	users := make([]model.DirectoryUser, 0, len(wire))
	for i := range wire {
		users = append(users, *wire[i].toModel())
	}
	return users, nil
}

// SetUserAttribute устанавливает кастомный атрибут пользователя.
func (c *Client) SetUserAttribute(ctx context.Context, userID, key, value string) error {
	if userID == "" {
		return fmt.Errorf("SetUserAttribute: требуется ID пользователя")
	}
	if key == "" || value == "" {
		return fmt.Errorf("SetUserAttribute: требуется пара ключ/значение атрибута")
	}

	path := fmt.Sprintf("/users/%s/custom_attributes/%s", url.PathEscape(userID), url.PathEscape(key))
	return c.write(ctx, http.MethodPut, path, attributeRequest{Value: value})
}

// --- Группы ---

// GetGroupByPath возвращает группу по path. (nil, nil) — группа не найдена.
func (c *Client) GetGroupByPath(ctx context.Context, groupPath string) (*model.Group, error) {
	if groupPath == "" {
		return nil, fmt.Errorf("GetGroupByPath: требуется path группы")
	}
	return c.getGroup(ctx, groupPath)
}

// GetGroupByID возвращает группу по ID. (nil, nil) — группа не найдена.
func (c *Client) GetGroupByID(ctx context.Context, groupID string) (*model.Group, error) {
	if groupID == "" {
		return nil, fmt.Errorf("GetGroupByID: требуется ID группы")
	}
	return c.getGroup(ctx, groupID)
}

// getGroup выполняет GET /groups/{idOrPath} (API принимает и ID, и path).
func (c *Client) getGroup(ctx context.Context, idOrPath string) (*model.Group, error) {
	path := fmt.Sprintf("/groups/%s?with_custom_attributes=true", url.PathEscape(idOrPath))

	var wire groupResponse
	found, err := c.get(ctx, path, &wire)
	if err != nil {
		return nil, fmt.Errorf("получение группы %s: %w", idOrPath, err)
	}
	if !found {
		return nil, nil
	}
	return wire.toModel(), nil
}

// ListSubGroups возвращает все подгруппы указанной группы.
func (c *Client) ListSubGroups(ctx context.Context, parentID string) ([]model.Group, error) {
	if parentID == "" {
		return nil, fmt.Errorf("ListSubGroups: требуется ID родительской группы")
	}

	path := fmt.Sprintf("/groups/%s/subgroups?with_custom_attributes=true", url.PathEscape(parentID))
	var wire []groupResponse
	if err := c.getPaged(ctx, path, &wire); err != nil {
		return nil, fmt.Errorf("ListSubGroups %s: %w", parentID, err)
	}

	groups := make([]model.Group, 0, len(wire))
	for i := range wire {
		groups = append(groups, *wire[i].toModel())
	}
	return groups, nil
}

// CreateSubGroup создаёт подгруппу и возвращает её.
func (c *Client) CreateSubGroup(ctx context.Context, parentID, groupPath, name, description string) (*model.Group, error) {
	if parentID == "" {
		return nil, fmt.Errorf("CreateSubGroup: требуется ID родительской группы")
	}
	if groupPath == "" || name == "" {
		return nil, fmt.Errorf("CreateSubGroup: требуются path и имя группы")
	}

	c.logger.Debug("Создание подгруппы",
		slog.String("path", groupPath),
		slog.String("parent_id", parentID),
	)

	body := map[string]string{
		"path":        groupPath,
		"name":        name,
		"description": description,
		"parent_id":   parentID,
	}
	var wire groupResponse
	if err := c.writeDecode(ctx, http.MethodPost, "/groups", body, &wire); err != nil {
		return nil, fmt.Errorf("CreateSubGroup %s: %w", groupPath, err)
	}
	return wire.toModel(), nil
}

// UpdateGroup обновляет метаданные группы и возвращает её.
func (c *Client) UpdateGroup(ctx context.Context, groupID, groupPath, name, description string) (*model.Group, error) {
	if groupID == "" {
		return nil, fmt.Errorf("UpdateGroup: требуется ID группы")
	}
	if groupPath == "" || name == "" {
		return nil, fmt.Errorf("UpdateGroup: требуются path и имя группы")
	}

	c.logger.Debug("Обновление группы",
		slog.String("group_id", groupID),
		slog.String("path", groupPath),
	)

	body := map[string]string{
		"path":        groupPath,
		"name":        name,
		"description": description,
	}
	var wire groupResponse
	path := "/groups/" + url.PathEscape(groupID)
	if err := c.writeDecode(ctx, http.MethodPut, path, body, &wire); err != nil {
		return nil, fmt.Errorf("UpdateGroup %s: %w", groupID, err)
	}
	return wire.toModel(), nil
}

// DeleteGroup удаляет группу.
func (c *Client) DeleteGroup(ctx context.Context, groupID string) error {
	if groupID == "" {
		return fmt.Errorf("DeleteGroup: требуется ID группы")
	}

	c.logger.Debug("Удаление группы", slog.String("group_id", groupID))
	return c.write(ctx, http.MethodDelete, "/groups/"+url.PathEscape(groupID), nil)
}

// SetGroupAttribute устанавливает кастомный атрибут группы.
func (c *Client) SetGroupAttribute(ctx context.Context, groupID, key, value string) error {
	if groupID == "" {
		return fmt.Errorf("SetGroupAttribute: требуется ID группы")
	}
	if key == "" || value == "" {
		return fmt.Errorf("SetGroupAttribute: требуется пара ключ/значение атрибута")
	}

	path := fmt.Sprintf("/groups/%s/custom_attributes/%s", url.PathEscape(groupID), url.PathEscape(key))
	return c.write(ctx, http.MethodPut, path, attributeRequest{Value: value})
}

// --- Членство ---

// ListGroupMembers возвращает все записи членства группы.
func (c *Client) ListGroupMembers(ctx context.Context, groupID string) ([]model.GroupMember, error) {
	if groupID == "" {
		return nil, fmt.Errorf("ListGroupMembers: требуется ID группы")
	}

	var wire []memberResponse
	path := fmt.Sprintf("/groups/%s/members", url.PathEscape(groupID))
	if err := c.getPaged(ctx, path, &wire); err != nil {
		return nil, fmt.Errorf("ListGroupMembers %s: %w", groupID, err)
	}

	members := make([]model.GroupMember, 0, len(wire))
	for i := range wire {
		members = append(members, wire[i].toModel())
	}
	return members, nil
}

// AddGroupMember добавляет пользователя в группу с указанной ролью.
func (c *Client) AddGroupMember(ctx context.Context, groupID, userID string, role model.Role) error {
	if groupID == "" || userID == "" {
		return fmt.Errorf("AddGroupMember: требуются ID группы и пользователя")
	}
	if !role.Valid() {
		return fmt.Errorf("AddGroupMember: неизвестная роль %q", role)
	}

	c.logger.Info("Добавление пользователя в группу",
		slog.String("group_id", groupID),
		slog.String("user_id", userID),
		slog.String("role", string(role)),
	)

	body := map[string]any{
		"user_id":      userID,
		"access_level": role.AccessLevel(),
	}
	path := fmt.Sprintf("/groups/%s/members", url.PathEscape(groupID))
	return c.write(ctx, http.MethodPost, path, body)
}

// RemoveGroupMember удаляет пользователя из группы.
func (c *Client) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	if groupID == "" || userID == "" {
		return fmt.Errorf("RemoveGroupMember: требуются ID группы и пользователя")
	}

	c.logger.Info("Удаление пользователя из группы",
		slog.String("group_id", groupID),
		slog.String("user_id", userID),
	)

	path := fmt.Sprintf("/groups/%s/members/%s", url.PathEscape(groupID), url.PathEscape(userID))
	return c.write(ctx, http.MethodDelete, path, nil)
}

// --- HTTP helpers ---

// do выполняет запрос с заголовком PRIVATE-TOKEN.
func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s %s: %w", method, rawURL, err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос %s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

// get выполняет GET одиночного ресурса.
// Возвращает (false, nil) на 404 — ресурс легитимно отсутствует.
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
		return false, fmt.Errorf("directory-сервис вернул статус %d: %s", resp.StatusCode, string(payload))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("декодирование ответа: %w", err)
	}
	return true, nil
}

// getPaged выполняет списочный GET, следуя Link header (rel="next")
// до последней страницы. out — указатель на срез wire-моделей.
func (c *Client) getPaged(ctx context.Context, path string, out any) error {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	next := fmt.Sprintf("%s%s%sper_page=%d", c.baseURL, path, sep, c.perPage)

	// Накапливаем страницы как raw JSON-массивы и склеиваем в один
	var items []json.RawMessage
	for next != "" {
		resp, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return err
		}

		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("directory-сервис вернул статус %d: %s", resp.StatusCode, string(payload))
		}

		var page []json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("декодирование страницы: %w", err)
		}
		items = append(items, page...)

		next = nextLink(resp.Header)
	}

	merged, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("склейка страниц: %w", err)
	}
	return json.Unmarshal(merged, out)
}

// write выполняет мутирующий запрос без декодирования тела ответа.
func (c *Client) write(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("сериализация тела запроса: %w", err)
		}
		reader = strings.NewReader(string(data))
	}

	resp, err := c.do(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("directory-сервис вернул статус %d: %s", resp.StatusCode, string(payload))
	}
	return nil
}

// writeDecode выполняет мутирующий запрос и декодирует тело ответа в out.
func (c *Client) writeDecode(ctx context.Context, method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("сериализация тела запроса: %w", err)
	}

	resp, err := c.do(ctx, method, c.baseURL+path, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("directory-сервис вернул статус %d: %s", resp.StatusCode, string(payload))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа: %w", err)
	}
	return nil
}

// linkNextRe извлекает URL из Link header вида `<url>; rel="next"`.
var linkNextRe = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextLink возвращает URL следующей страницы из Link header (пусто — последняя).
func nextLink(header http.Header) string {
	for _, link := range header.Values("Link") {
		if m := linkNextRe.FindStringSubmatch(link); m != nil {
			return m[1]
		}
	}
	return ""
}
