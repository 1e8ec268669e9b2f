// Package workspace содержит клиент внешнего сервиса рабочих пространств.
// Сессия открывается логином администратора и выпуском API-ключа,
// ключ живёт только в памяти на время одного запуска.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/trial-lifecycle/internal/config"
	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/sl"
)

var (
	// ErrUnauthorized — сервис отверг учётные данные или API-ключ (401/403).
	ErrUnauthorized = errors.New("workspace: unauthorized")
	// ErrNotFound — запрошенный аккаунт отсутствует.
	ErrNotFound = errors.New("workspace: not found")
)

// maxErrorBody ограничивает размер тела ответа, попадающего в текст ошибки.
const maxErrorBody = 512

// Account — аккаунт во внешнем сервисе.
type Account struct {
	ID       string `json:"id" validate:"required"`
	Username string `json:"username" validate:"required"`
	IsActive bool   `json:"is_active"`
}

// Client выполняет запросы к внешнему сервису с таймаутом на вызов
// и ограниченными повторами для сетевых ошибок и ответов 5xx.
type Client struct {
	log        *slog.Logger
	cfg        config.Workspace
	httpClient *http.Client
	validate   *validator.Validate
}

// New создаёт клиента. Если httpClient равен nil, используется http.DefaultClient.
func New(log *slog.Logger, cfg config.Workspace, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		log:        log,
		cfg:        cfg,
		httpClient: httpClient,
		validate:   validator.New(),
	}
}

// Session аутентифицированная сессия с выпущенным API-ключом.
type Session struct {
	c      *Client
	apiKey string
}

type loginResponse struct {
	AccessToken string `json:"access_token" validate:"required"`
}

type apiKeyResponse struct {
	APIKey string `json:"api_key" validate:"required"`
}

// Open логинится учётными данными администратора и выпускает API-ключ.
func (c *Client) Open(ctx context.Context) (*Session, error) {
	const op = "workspace.Open"

	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	var login loginResponse
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/login",
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, &login)
	if err != nil {
		return nil, fmt.Errorf("%s: login: %w", op, err)
	}

	body, err := json.Marshal(map[string]string{"name": c.cfg.APIKeyName})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var key apiKeyResponse
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api_key/",
		body:        body,
		contentType: "application/json",
		bearer:      login.AccessToken,
	}, &key)
	if err != nil {
		return nil, fmt.Errorf("%s: api key: %w", op, err)
	}

	c.log.Debug("workspace session opened")
	return &Session{c: c, apiKey: key.APIKey}, nil
}

// FindUser ищет аккаунт по имени пользователя, проходя список постранично.
// ErrNotFound возвращается только после успешного просмотра всего списка.
// 404 на самом списке означает недоступный эндпоинт, а не отсутствие аккаунта.
func (s *Session) FindUser(ctx context.Context, username string) (*Account, error) {
	const op = "workspace.FindUser"
	if s.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	seen := 0
	known := map[Account]struct{}{}
	for pages := 0; ; pages++ {
		if pages == maxListPages {
			return nil, fmt.Errorf("%s: account list exceeds %d pages", op, maxListPages)
		}
		page, err := s.listPage(ctx, seen)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		fresh := 0
		for i := range page.users {
			if _, ok := known[page.users[i]]; !ok {
				known[page.users[i]] = struct{}{}
				fresh++
			}
			if page.users[i].Username != username {
				if err := s.c.validate.Struct(page.users[i]); err != nil {
					s.c.log.Warn("malformed workspace account skipped", slog.Int("position", seen+i), sl.Err(err))
				}
				continue
			}
			if err := s.c.validate.Struct(page.users[i]); err != nil {
				return nil, fmt.Errorf("%s: invalid account: %w", op, err)
			}
			return &page.users[i], nil
		}
		seen += len(page.users)

		done, err := page.exhausted(len(known), fresh)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if done {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
	}
}

// listPage запрашивает одну страницу списка аккаунтов начиная с позиции skip.
func (s *Session) listPage(ctx context.Context, skip int) (accountPage, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(listPageSize))

	var raw json.RawMessage
	err := s.c.do(ctx, s.withKey(request{method: http.MethodGet, path: "/users/?" + q.Encode()}), &raw)
	if errors.Is(err, ErrNotFound) {
		return accountPage{}, &StatusError{Code: http.StatusNotFound, Body: "user list endpoint not found"}
	}
	if err != nil {
		return accountPage{}, err
	}
	return decodeAccounts(raw)
}

// DeleteUser удаляет аккаунт. Ответ 404 считается успехом: аккаунта уже нет.
func (s *Session) DeleteUser(ctx context.Context, id string) error {
	const op = "workspace.DeleteUser"
	if s.apiKey == "" {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	err := s.c.do(ctx, s.withKey(request{
		method: http.MethodDelete,
		path:   "/users/" + url.PathEscape(id),
	}), nil)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CreateUser создаёт активный аккаунт без прав администратора.
func (s *Session) CreateUser(ctx context.Context, username, password string) (*Account, error) {
	const op = "workspace.CreateUser"
	if s.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	body, err := json.Marshal(map[string]any{
		"username":     username,
		"password":     password,
		"is_active":    true,
		"is_superuser": false,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var account Account
	err = s.c.do(ctx, s.withKey(request{
		method:      http.MethodPost,
		path:        "/users/",
		body:        body,
		contentType: "application/json",
	}), &account)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &account, nil
}

// Close забывает API-ключ. Дальнейшие вызовы сессии возвращают ErrUnauthorized.
func (s *Session) Close() {
	s.apiKey = ""
}

func (s *Session) withKey(req request) request {
	req.apiKey = s.apiKey
	return req
}

const (
	// listPageSize — размер страницы при обходе списка аккаунтов.
	listPageSize = 100
	// maxListPages ограничивает обход списка.
	maxListPages = 1000
)

// accountPage — страница списка аккаунтов. total равен -1,
// если сервис вернул голый массив без total_count.
type accountPage struct {
	users []Account
	total int
}

// exhausted сообщает, просмотрен ли весь список. known — число разных
// аккаунтов за весь обход, fresh — сколько из них добавила эта страница.
// Страница без новых аккаунтов при known < total означает, что сервис
// не отдаёт остаток списка.
func (p accountPage) exhausted(known, fresh int) (bool, error) {
	if p.total < 0 {
		// Страница другого размера или повтор уже виденного: сервис вернул всё.
		return len(p.users) != listPageSize || fresh == 0, nil
	}
	if known >= p.total {
		return true, nil
	}
	if fresh == 0 {
		return false, fmt.Errorf("account list truncated: saw %d of %d", known, p.total)
	}
	return false, nil
}

// decodeAccounts принимает как массив аккаунтов, так и объект
// {"total_count": N, "users": [...]}.
func decodeAccounts(raw json.RawMessage) (accountPage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			TotalCount *int      `json:"total_count"`
			Users      []Account `json:"users"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return accountPage{}, err
		}
		page := accountPage{users: wrapped.Users, total: -1}
		if wrapped.TotalCount != nil {
			page.total = *wrapped.TotalCount
		}
		return page, nil
	}
	var accounts []Account
	if err := json.Unmarshal(trimmed, &accounts); err != nil {
		return accountPage{}, err
	}
	return accountPage{users: accounts, total: -1}, nil
}

type request struct {
	method      string
	path        string
	body        []byte
	contentType string
	bearer      string
	apiKey      string
}

// StatusError — неуспешный HTTP-ответ сервиса.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// do выполняет запрос с повторами. Сетевые ошибки, таймауты и 5xx повторяются,
// остальные ответы 4xx сразу возвращаются как окончательные.
func (c *Client) do(ctx context.Context, req request, out any) error {
	eb := backoff.NewExponentialBackOff()
	if c.cfg.RetryInitialInterval > 0 {
		eb.InitialInterval = c.cfg.RetryInitialInterval
	}
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.cfg.MaxRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.once(ctx, req, out)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) || ctx.Err() != nil {
			return err
		}
		c.log.Warn("workspace request failed, retrying",
			slog.String("method", req.method),
			slog.String("path", req.path),
			slog.Int("attempt", attempt),
			sl.Err(err),
		)
		return err
	}, b)
}

func (c *Client) once(ctx context.Context, req request, out any) error {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	u, err := url.Parse(c.cfg.BaseURL + req.path)
	if err != nil {
		return backoff.Permanent(err)
	}
	if req.apiKey != "" {
		q := u.Query()
		q.Set("x-api-key", req.apiKey)
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return backoff.Permanent(err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	}
	if req.apiKey != "" {
		httpReq.Header.Set("x-api-key", req.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(ErrNotFound)
	case resp.StatusCode >= http.StatusInternalServerError:
		return &StatusError{Code: resp.StatusCode, Body: readSnippet(resp.Body)}
	case resp.StatusCode >= http.StatusBadRequest:
		return backoff.Permanent(&StatusError{Code: resp.StatusCode, Body: readSnippet(resp.Body)})
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if _, isRaw := out.(*json.RawMessage); !isRaw {
		if err := c.validate.Struct(out); err != nil {
			return backoff.Permanent(fmt.Errorf("invalid response: %w", err))
		}
	}
	return nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
