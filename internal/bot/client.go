package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appLog "plannerbot/internal/log"
	"plannerbot/internal/model"
)

// ErrUnauthorized means the backend rejected the token or device. The caller
// should drop the stored credentials.
var ErrUnauthorized = errors.New("bot: unauthorized")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Code, http.StatusText(e.Code), e.Body)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 and 403 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && (e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden)
}

// Credentials identify this device to the backend.
type Credentials struct {
	Token  string
	Device string
}

// Client talks to the planner backend over REST.
type Client struct {
	baseURL *url.URL
	client  *http.Client
}

// NewClient creates a Client for the backend at baseURL, e.g.
// "https://zgamelogic.com:2000".
func NewClient(baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	return &Client{
		baseURL: u,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a request and decodes a 2xx JSON body into out. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, cred *Credentials, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	target := c.endpoint(path, query)
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cred != nil {
		req.Header.Set("token", cred.Token)
		req.Header.Set("device", cred.Device)
	}

	appLog.Debug("bot request", "method", method, "url", appLog.RedactURL(target))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// FetchPlans returns every plan the user can see, sorted by start time.
func (c *Client) FetchPlans(ctx context.Context, cred Credentials) ([]model.Event, error) {
	var events []model.Event
	if err := c.do(ctx, http.MethodGet, "/plans", nil, &cred, nil, &events); err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.Event{}
	}
	model.SortEvents(events)
	return events, nil
}

func (c *Client) FetchPlan(ctx context.Context, cred Credentials, id int64) (model.Event, error) {
	var e model.Event
	err := c.do(ctx, http.MethodGet, "/plans/"+strconv.FormatInt(id, 10), nil, &cred, nil, &e)
	return e, err
}

// FetchUsers lists the members of the Discord server. The endpoint does not
// require credentials.
func (c *Client) FetchUsers(ctx context.Context) ([]model.UserProfile, error) {
	var users []model.UserProfile
	if err := c.do(ctx, http.MethodGet, "/plan/users", nil, nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) FetchRoles(ctx context.Context) ([]model.RoleProfile, error) {
	var roles []model.RoleProfile
	if err := c.do(ctx, http.MethodGet, "/plan/roles", nil, nil, nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// Login exchanges a Discord OAuth code for an auth bundle bound to device.
func (c *Client) Login(ctx context.Context, code, device string) (model.Auth, error) {
	q := url.Values{}
	q.Set("code", code)
	q.Set("device", device)
	var a model.Auth
	err := c.do(ctx, http.MethodPost, "/auth/login", q, nil, nil, &a)
	return a, err
}

// Relogin refreshes a persisted auth bundle.
func (c *Client) Relogin(ctx context.Context, auth model.Auth, device string) (model.Auth, error) {
	q := url.Values{}
	q.Set("token", auth.Token.AccessToken)
	q.Set("device", device)
	q.Set("userId", strconv.FormatInt(auth.User.ID, 10))
	var a model.Auth
	err := c.do(ctx, http.MethodPost, "/auth/relogin", q, nil, nil, &a)
	return a, err
}

// CreatePlan posts a validated request and returns the created plan.
func (c *Client) CreatePlan(ctx context.Context, cred Credentials, req model.CreatePlanRequest) (model.Event, error) {
	var e model.Event
	err := c.do(ctx, http.MethodPost, "/plans", nil, &cred, req, &e)
	return e, err
}

var actionPaths = map[model.Action]string{
	model.ActionAccept:        "accept",
	model.ActionMaybe:         "maybe",
	model.ActionDeny:          "deny",
	model.ActionWaitlist:      "waitlist",
	model.ActionFillIn:        "fillin",
	model.ActionRequestFillIn: "requestfillin",
	model.ActionDropout:       "dropout",
}

// Act performs a roster action or deletes the plan. A Success=false result
// is a business-rule denial and is not an error.
func (c *Client) Act(ctx context.Context, cred Credentials, id int64, action model.Action) (model.ActionResult, error) {
	var res model.ActionResult
	base := "/plans/" + strconv.FormatInt(id, 10)

	if action == model.ActionDeleteEvent {
		err := c.do(ctx, http.MethodDelete, base, nil, &cred, nil, &res)
		return res, err
	}
	suffix, ok := actionPaths[action]
	if !ok {
		return res, fmt.Errorf("action %s has no endpoint", action)
	}
	err := c.do(ctx, http.MethodPost, base+"/"+suffix, nil, &cred, nil, &res)
	return res, err
}

// SendMessage posts a message from the author to everyone on the plan.
func (c *Client) SendMessage(ctx context.Context, cred Credentials, id int64, text string) (model.ActionResult, error) {
	var res model.ActionResult
	body := map[string]string{"message": text}
	err := c.do(ctx, http.MethodPost, "/plans/"+strconv.FormatInt(id, 10)+"/message", nil, &cred, body, &res)
	return res, err
}
