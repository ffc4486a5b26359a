package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"plannerbot/internal/bot"
	"plannerbot/internal/config"
	"plannerbot/internal/model"
	"plannerbot/internal/session"
)

const me int64 = 42

var now = time.Date(2024, 7, 6, 9, 0, 0, 0, time.UTC)

type fakePlanner struct {
	mu       sync.Mutex
	state    *session.State
	loginErr error
	actRes   model.ActionResult
	actErr   error
	acts     []string
	messages []string
	created  []model.CreatePlanRequest
	rules    []string
	recurErr error
}

func (f *fakePlanner) Snapshot() *session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePlanner) Device() string { return "device-1" }

func (f *fakePlanner) Login(_ context.Context, code string) error {
	if f.loginErr != nil {
		return f.loginErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = loggedInState()
	return nil
}

func (f *fakePlanner) Logout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = &session.State{Phase: session.PhaseLoggedOut}
}

func (f *fakePlanner) Refresh(context.Context) error { return nil }

func (f *fakePlanner) Buttons(id int64) (model.Buttons, error) {
	return nil, errors.New("unused")
}

func (f *fakePlanner) Act(_ context.Context, id int64, action model.Action) (model.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acts = append(f.acts, fmt.Sprintf("%d/%s", id, action))
	return f.actRes, f.actErr
}

func (f *fakePlanner) SendMessage(_ context.Context, id int64, text string) (model.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return model.ActionResult{}, session.ErrInvalidInput
	}
	f.messages = append(f.messages, text)
	return model.ActionResult{Success: true}, nil
}

func (f *fakePlanner) CreatePlan(_ context.Context, req model.CreatePlanRequest) (model.Event, error) {
	if req.Author == 0 {
		req.Author = me
	}
	if err := req.Validate(); err != nil {
		return model.Event{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	return model.Event{ID: 99, Title: req.Title, StartTime: req.StartTime, Count: req.Count, AuthorID: req.Author}, nil
}

func (f *fakePlanner) CreateRecurringPlans(ctx context.Context, req model.CreatePlanRequest, rule string, horizon time.Duration) ([]model.Event, error) {
	f.mu.Lock()
	f.rules = append(f.rules, fmt.Sprintf("%s/%s", rule, horizon))
	f.mu.Unlock()
	e, err := f.CreatePlan(ctx, req)
	if err != nil {
		return nil, err
	}
	if f.recurErr != nil {
		return []model.Event{e}, f.recurErr
	}
	return []model.Event{e, e}, nil
}

func (f *fakePlanner) filter(keep func(model.Event, int64) bool) []model.Event {
	st := f.Snapshot()
	var out []model.Event
	for _, e := range st.Events {
		if keep(e, st.UserID()) {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakePlanner) InvitedTo() []model.Event { return f.filter(model.Event.IsInvited) }

func (f *fakePlanner) Hosted() []model.Event { return f.filter(model.Event.IsHostedBy) }

func (f *fakePlanner) UserChoices() []model.UserProfile {
	st := f.Snapshot()
	var out []model.UserProfile
	for _, u := range st.Users {
		if u.ID != st.UserID() {
			out = append(out, u)
		}
	}
	return out
}

func loggedInState() *session.State {
	return &session.State{
		Phase: session.PhaseLoggedIn,
		Auth:  &model.Auth{User: model.User{ID: me, Username: "me"}},
		Events: []model.Event{
			{ID: 1, Title: "Raid", StartTime: now.Add(10 * time.Hour), Count: 3, AuthorID: 100,
				Users: []model.EventUser{
					{ID: 7, Status: model.StatusMaybe},
					{ID: me, Status: model.StatusAccepted},
				}},
			{ID: 2, Title: "Board games", StartTime: now.Add(48 * time.Hour), Count: -1, AuthorID: me},
		},
		Users:     []model.UserProfile{{ID: me, Username: "me"}, {ID: 7, Username: "seven"}},
		Connected: true,
		FetchedAt: now,
	}
}

func newTestServer(t *testing.T, p *fakePlanner, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Snapshot.Output = t.TempDir() + "/preview.png"
	if mutate != nil {
		mutate(cfg)
	}
	s := NewServer(cfg, p)
	s.now = func() time.Time { return now }
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakePlanner{state: &session.State{Phase: session.PhaseLoggedOut}}, nil)
	resp, body := do(t, http.MethodGet, ts.URL+"/health", "")
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}
}

func TestBasicAuth(t *testing.T) {
	ts := newTestServer(t, &fakePlanner{state: loggedInState()}, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	})

	if resp, _ := do(t, http.MethodGet, ts.URL+"/health", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("/health behind auth: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, ts.URL+"/api/session", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no credentials: %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/session", nil)
	req.SetBasicAuth("u", "p")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with credentials: %d", resp.StatusCode)
	}
}

func TestSessionLoginLogout(t *testing.T) {
	p := &fakePlanner{state: &session.State{Phase: session.PhaseLoggedOut}}
	ts := newTestServer(t, p, nil)

	var got sessionResponse
	_, body := do(t, http.MethodGet, ts.URL+"/api/session", "")
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Phase != session.PhaseLoggedOut || got.User != nil || got.Device != "device-1" {
		t.Errorf("logged out session: %+v", got)
	}

	if resp, _ := do(t, http.MethodPost, ts.URL+"/api/login", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("login without code: %d", resp.StatusCode)
	}

	resp, body := do(t, http.MethodPost, ts.URL+"/api/login?code=abc", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %s", resp.StatusCode, body)
	}
	got = sessionResponse{}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Phase != session.PhaseLoggedIn || got.User == nil || got.User.ID != me || !got.Connected {
		t.Errorf("logged in session: %+v", got)
	}

	_, body = do(t, http.MethodPost, ts.URL+"/api/logout", "")
	got = sessionResponse{}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Phase != session.PhaseLoggedOut {
		t.Errorf("after logout: %+v", got)
	}
}

func TestLoginRejected(t *testing.T) {
	p := &fakePlanner{
		state:    &session.State{Phase: session.PhaseLoggedOut},
		loginErr: fmt.Errorf("login: %w", &bot.StatusError{Code: http.StatusUnauthorized}),
	}
	ts := newTestServer(t, p, nil)
	if resp, _ := do(t, http.MethodPost, ts.URL+"/api/login?code=bad", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("got %d, want 401", resp.StatusCode)
	}
}

func TestEvents(t *testing.T) {
	ts := newTestServer(t, &fakePlanner{state: loggedInState()}, nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/events", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var got []struct {
		Event   json.RawMessage   `json:"event"`
		Roster  []json.RawMessage `json:"roster"`
		Buttons []string          `json:"buttons"`
		Hosting bool              `json:"hosting"`
		Status  string            `json:"status"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, body)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events", len(got))
	}
	if strings.Join(got[0].Buttons, ",") != "dropout,request-fill-in" {
		t.Errorf("accepted buttons: %v", got[0].Buttons)
	}
	if got[0].Hosting || got[0].Status != model.StatusAccepted.Label() {
		t.Errorf("plan 1 view: hosting=%v status=%q", got[0].Hosting, got[0].Status)
	}
	if !got[1].Hosting || strings.Join(got[1].Buttons, ",") != "send-message,delete-event" {
		t.Errorf("hosted view: hosting=%v buttons=%v", got[1].Hosting, got[1].Buttons)
	}
	// Roster is ordered by status: accepted before maybe.
	if len(got[0].Roster) != 2 || !strings.Contains(string(got[0].Roster[0]), "42") {
		t.Errorf("roster order: %s", got[0].Roster)
	}
}

func TestEventViews(t *testing.T) {
	ts := newTestServer(t, &fakePlanner{state: loggedInState()}, nil)
	for view, want := range map[string]string{"invited": "Raid", "hosted": "Board games"} {
		resp, body := do(t, http.MethodGet, ts.URL+"/api/events?view="+view, "")
		var got []struct {
			Event json.RawMessage `json:"event"`
		}
		if err := json.Unmarshal(body, &got); err != nil || resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d %s", view, resp.StatusCode, body)
		}
		if len(got) != 1 || !strings.Contains(string(got[0].Event), want) {
			t.Errorf("%s: %s", view, body)
		}
	}
	if resp, _ := do(t, http.MethodGet, ts.URL+"/api/events?view=all", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown view: %d", resp.StatusCode)
	}
}

func TestEventsRequireLogin(t *testing.T) {
	ts := newTestServer(t, &fakePlanner{state: &session.State{Phase: session.PhaseLoggedOut}}, nil)
	for _, path := range []string{"/api/events", "/api/events/upcoming", "/calendar.ics"} {
		if resp, _ := do(t, http.MethodGet, ts.URL+path, ""); resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: got %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestTodayAndUpcoming(t *testing.T) {
	ts := newTestServer(t, &fakePlanner{state: loggedInState()}, nil)

	_, body := do(t, http.MethodGet, ts.URL+"/api/events/today", "")
	var entry struct {
		LoggedIn bool            `json:"logged_in"`
		Event    json.RawMessage `json:"event"`
		Gauge    string          `json:"gauge"`
	}
	if err := json.Unmarshal(body, &entry); err != nil {
		t.Fatal(err)
	}
	if !entry.LoggedIn || entry.Gauge != "1/3 accepted" || len(entry.Event) == 0 {
		t.Errorf("today: %s", body)
	}

	_, body = do(t, http.MethodGet, ts.URL+"/api/events/upcoming", "")
	var days []struct {
		Day    string            `json:"day"`
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &days); err != nil {
		t.Fatal(err)
	}
	if len(days) != 2 || days[0].Day != "2024-07-06" || days[1].Day != "2024-07-08" {
		t.Errorf("upcoming: %s", body)
	}
}

func TestAction(t *testing.T) {
	p := &fakePlanner{state: loggedInState(), actRes: model.ActionResult{Success: true}}
	ts := newTestServer(t, p, nil)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/events/1/dropout", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d %s", resp.StatusCode, body)
	}
	var res model.ActionResult
	if err := json.Unmarshal(body, &res); err != nil || !res.Success {
		t.Errorf("result %+v, %v", res, err)
	}
	if len(p.acts) != 1 || p.acts[0] != "1/dropout" {
		t.Errorf("acts: %v", p.acts)
	}

	if resp, _ := do(t, http.MethodPost, ts.URL+"/api/events/1/teleport", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown action: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, ts.URL+"/api/events/x/accept", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id: %d", resp.StatusCode)
	}
}

func TestActionErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{session.ErrNotLoggedIn, http.StatusUnauthorized},
		{session.ErrUnknownEvent, http.StatusNotFound},
		{fmt.Errorf("%w: accept", session.ErrActionNotAllowed), http.StatusConflict},
		{errors.New("connection reset"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		p := &fakePlanner{state: loggedInState(), actErr: tc.err}
		ts := newTestServer(t, p, nil)
		resp, body := do(t, http.MethodPost, ts.URL+"/api/events/1/accept", "")
		if resp.StatusCode != tc.want {
			t.Errorf("%v: got %d, want %d", tc.err, resp.StatusCode, tc.want)
		}
		if tc.want == http.StatusBadGateway {
			var res model.ActionResult
			if err := json.Unmarshal(body, &res); err != nil || res.Success || res.Message != "Unknown error" {
				t.Errorf("transport failure body: %s", body)
			}
		}
	}
}

func TestActionDenied(t *testing.T) {
	p := &fakePlanner{state: loggedInState(), actRes: model.ActionResult{Success: false, Message: "Plan is full"}}
	ts := newTestServer(t, p, nil)
	resp, body := do(t, http.MethodPost, ts.URL+"/api/events/1/dropout", "")
	var res model.ActionResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || res.Success || res.Message != "Plan is full" {
		t.Errorf("got %d %+v", resp.StatusCode, res)
	}
}

func TestMessage(t *testing.T) {
	p := &fakePlanner{state: loggedInState()}
	ts := newTestServer(t, p, nil)

	resp, _ := do(t, http.MethodPost, ts.URL+"/api/events/2/message", `{"message":"starting soon"}`)
	if resp.StatusCode != http.StatusOK || len(p.messages) != 1 || p.messages[0] != "starting soon" {
		t.Errorf("got %d, messages %v", resp.StatusCode, p.messages)
	}
	if resp, _ := do(t, http.MethodPost, ts.URL+"/api/events/2/message", `{"message":"  "}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, ts.URL+"/api/events/2/message", `{`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad JSON: %d", resp.StatusCode)
	}
}

func TestCreatePlan(t *testing.T) {
	p := &fakePlanner{state: loggedInState()}
	ts := newTestServer(t, p, nil)

	plan := `{"title":"Raid","start time":"2024-07-10T20:00:00.000Z","count":4,"user invites":[7]}`
	resp, body := do(t, http.MethodPost, ts.URL+"/api/plans", plan)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}
	if len(p.created) != 1 || p.created[0].Author != me || p.created[0].Count != 4 {
		t.Errorf("created: %+v", p.created)
	}

	invalid := `{"title":"","start time":"2024-07-10T20:00:00.000Z","user invites":[7]}`
	if resp, body := do(t, http.MethodPost, ts.URL+"/api/plans", invalid); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid plan: %d %s", resp.StatusCode, body)
	}

	malformed := `{"title":"Raid","start time":"2024-07-10T20:00:00.000Z","count":"five","user invites":[7]}`
	if resp, body := do(t, http.MethodPost, ts.URL+"/api/plans", malformed); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed count: %d %s", resp.StatusCode, body)
	}
	if len(p.created) != 1 {
		t.Errorf("malformed plan reached the planner: %+v", p.created)
	}

	recurring := `{"title":"Weekly","start time":"2024-07-10T20:00:00.000Z","user invites":[7],"rrule":"FREQ=WEEKLY;COUNT=2","horizon_days":14}`
	resp, body = do(t, http.MethodPost, ts.URL+"/api/plans", recurring)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("recurring: %d %s", resp.StatusCode, body)
	}
	if len(p.rules) != 1 || p.rules[0] != "FREQ=WEEKLY;COUNT=2/336h0m0s" {
		t.Errorf("rules: %v", p.rules)
	}
}

func TestCreateRecurringPartialFailure(t *testing.T) {
	p := &fakePlanner{
		state:    loggedInState(),
		recurErr: errors.New("POST /plans: 500 Internal Server Error: db host 10.0.0.3 unreachable"),
	}
	ts := newTestServer(t, p, nil)

	plan := `{"title":"Weekly","start time":"2024-07-10T20:00:00.000Z","user invites":[7],"rrule":"FREQ=WEEKLY;COUNT=2"}`
	resp, body := do(t, http.MethodPost, ts.URL+"/api/plans", plan)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status: got %d, want 502 (%s)", resp.StatusCode, body)
	}
	var got struct {
		Error   string            `json:"error"`
		Created []json.RawMessage `json:"created"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Error != "Unknown error" || len(got.Created) != 1 {
		t.Errorf("body: %s", body)
	}
	if strings.Contains(string(body), "10.0.0.3") {
		t.Errorf("backend detail leaked: %s", body)
	}
}

func TestUsersAndRoles(t *testing.T) {
	ts := newTestServer(t, &fakePlanner{state: loggedInState()}, nil)

	_, body := do(t, http.MethodGet, ts.URL+"/api/users", "")
	var users []model.UserProfile
	if err := json.Unmarshal(body, &users); err != nil || len(users) != 2 {
		t.Errorf("users: %s, %v", body, err)
	}
	_, body = do(t, http.MethodGet, ts.URL+"/api/users?invitable=true", "")
	users = nil
	if err := json.Unmarshal(body, &users); err != nil || len(users) != 1 || users[0].ID != 7 {
		t.Errorf("invitable users: %s, %v", body, err)
	}
	_, body = do(t, http.MethodGet, ts.URL+"/api/roles", "")
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("roles: %s", body)
	}
}

func TestCalendar(t *testing.T) {
	ts := newTestServer(t, &fakePlanner{state: loggedInState()}, nil)
	resp, body := do(t, http.MethodGet, ts.URL+"/calendar.ics", "")
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Content-Type: %q", ct)
	}
	for _, want := range []string{"BEGIN:VCALENDAR", "UID:plan-1@plannerbot", "UID:plan-2@plannerbot", "SUMMARY:Raid"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("calendar missing %q", want)
		}
	}
}

func TestWidgetPage(t *testing.T) {
	p := &fakePlanner{state: &session.State{Phase: session.PhaseLoggedOut}}
	ts := newTestServer(t, p, nil)

	_, body := do(t, http.MethodGet, ts.URL+"/widget", "")
	if !strings.Contains(string(body), `data-ready="true"`) || !strings.Contains(string(body), "Not logged in") {
		t.Errorf("logged out widget: %s", body)
	}

	p.Login(context.Background(), "code")
	_, body = do(t, http.MethodGet, ts.URL+"/widget", "")
	for _, want := range []string{"Raid", "7:00PM", "1/3 accepted"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("widget missing %q:\n%s", want, body)
		}
	}
}

func TestPreviewMissing(t *testing.T) {
	ts := newTestServer(t, &fakePlanner{state: loggedInState()}, nil)
	if resp, _ := do(t, http.MethodGet, ts.URL+"/preview.png", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("got %d, want 404", resp.StatusCode)
	}
}

func TestBasicAuthBcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	ts := newTestServer(t, &fakePlanner{state: loggedInState()}, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "u", PasswordHash: string(hash)}
	})

	for _, tc := range []struct {
		password string
		want     int
	}{
		{"secret", http.StatusOK},
		{"wrong", http.StatusUnauthorized},
	} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/session", nil)
		req.SetBasicAuth("u", tc.password)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("password %q: got %d, want %d", tc.password, resp.StatusCode, tc.want)
		}
	}
}

func TestLoginQRAndRedirect(t *testing.T) {
	const authorize = "https://discord.com/oauth2/authorize?client_id=1&response_type=code&scope=identify"
	p := &fakePlanner{state: &session.State{Phase: session.PhaseLoggedOut}}
	ts := newTestServer(t, p, func(c *config.Config) { c.LoginURL = authorize })

	resp, body := do(t, http.MethodGet, ts.URL+"/login.png", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("login.png: %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.HasPrefix(string(body), "\x89PNG") {
		t.Error("login.png is not a PNG")
	}

	_, body = do(t, http.MethodGet, ts.URL+"/widget", "")
	if !strings.Contains(string(body), `src="/login.png"`) {
		t.Errorf("logged out widget has no QR:\n%s", body)
	}

	noFollow := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := noFollow.Get(ts.URL + "/login")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != authorize {
		t.Errorf("/login: %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, err = noFollow.Get(ts.URL + "/callback?code=abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/widget" {
		t.Errorf("/callback: %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if p.Snapshot().Phase != session.PhaseLoggedIn {
		t.Error("callback did not log in")
	}
}

func TestLoginRoutesWithoutURL(t *testing.T) {
	ts := newTestServer(t, &fakePlanner{state: &session.State{Phase: session.PhaseLoggedOut}}, nil)
	for _, path := range []string{"/login", "/login.png"} {
		if resp, _ := do(t, http.MethodGet, ts.URL+path, ""); resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: got %d, want 404", path, resp.StatusCode)
		}
	}
}
