package bot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"plannerbot/internal/model"
)

var testCred = Credentials{Token: "tok", Device: "dev-1"}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func requireCred(t *testing.T, r *http.Request) {
	t.Helper()
	if got := r.Header.Get("token"); got != testCred.Token {
		t.Errorf("token header: got %q, want %q", got, testCred.Token)
	}
	if got := r.Header.Get("device"); got != testCred.Device {
		t.Errorf("device header: got %q, want %q", got, testCred.Device)
	}
}

func TestFetchPlans(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/plans" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		requireCred(t, r)
		io.WriteString(w, `[
		  {"id":2,"title":"b","notes":"","start time":"2024-07-08T20:00:00.000Z","count":3,"author id":1,"invitees":[]},
		  {"id":1,"title":"a","notes":"","start time":"2024-07-06T20:00:00.000Z","count":-1,"author id":1,
		   "invitees":[{"user id":5,"status":"WAITLISTED","needs fill in":false}]}]`)
	})

	events, err := c.FetchPlans(context.Background(), testCred)
	if err != nil {
		t.Fatalf("FetchPlans: %v", err)
	}
	if len(events) != 2 || events[0].ID != 1 {
		t.Fatalf("got %+v", events)
	}
	if events[0].Users[0].Status != model.StatusWaitlisted {
		t.Errorf("status: got %q", events[0].Users[0].Status)
	}
}

func TestFetchPlansEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	})
	events, err := c.FetchPlans(context.Background(), testCred)
	if err != nil || events == nil || len(events) != 0 {
		t.Errorf("got %v, %v", events, err)
	}
}

func TestFetchPlansDecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":1}]`)
	})
	if _, err := c.FetchPlans(context.Background(), testCred); err == nil {
		t.Error("expected decode error")
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		code         int
		unauthorized bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusInternalServerError, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.code)
		})
		_, err := c.Relogin(context.Background(), model.Auth{}, "dev")
		var se *StatusError
		if !errors.As(err, &se) || se.Code != tt.code {
			t.Errorf("%d: got %v", tt.code, err)
			continue
		}
		if got := errors.Is(err, ErrUnauthorized); got != tt.unauthorized {
			t.Errorf("%d: errors.Is(ErrUnauthorized) = %v", tt.code, got)
		}
		if !strings.Contains(se.Error(), "nope") {
			t.Errorf("%d: body missing from %q", tt.code, se.Error())
		}
	}
}

func TestLoginAndRelogin(t *testing.T) {
	const authJSON = `{"user":{"locale":"","verified":true,"username":"zabory","global_name":"zabory","avatar":"","id":77},
	  "token":{"token_type":"Bearer","access_token":"fresh","expires_in":10,"refresh_token":"r","scope":"identify"}}`

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s", r.Method)
		}
		q := r.URL.Query()
		switch r.URL.Path {
		case "/auth/login":
			if q.Get("code") != "abc" || q.Get("device") != "dev-1" {
				t.Errorf("login query: %v", q)
			}
		case "/auth/relogin":
			if q.Get("token") != "old" || q.Get("device") != "dev-1" || q.Get("userId") != "77" {
				t.Errorf("relogin query: %v", q)
			}
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, authJSON)
	})

	a, err := c.Login(context.Background(), "abc", "dev-1")
	if err != nil || a.Token.AccessToken != "fresh" || a.User.ID != 77 {
		t.Fatalf("Login: %+v, %v", a, err)
	}

	old := model.Auth{User: model.User{ID: 77}, Token: model.Token{AccessToken: "old"}}
	if _, err := c.Relogin(context.Background(), old, "dev-1"); err != nil {
		t.Fatalf("Relogin: %v", err)
	}
}

func TestActPaths(t *testing.T) {
	want := map[model.Action]string{
		model.ActionAccept:        "POST /plans/9/accept",
		model.ActionMaybe:         "POST /plans/9/maybe",
		model.ActionDeny:          "POST /plans/9/deny",
		model.ActionWaitlist:      "POST /plans/9/waitlist",
		model.ActionFillIn:        "POST /plans/9/fillin",
		model.ActionRequestFillIn: "POST /plans/9/requestfillin",
		model.ActionDropout:       "POST /plans/9/dropout",
		model.ActionDeleteEvent:   "DELETE /plans/9",
	}
	routes := make(chan string, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requireCred(t, r)
		routes <- r.Method + " " + r.URL.Path
		io.WriteString(w, `{"success":false,"message":"Plan is full"}`)
	})

	for action, route := range want {
		res, err := c.Act(context.Background(), testCred, 9, action)
		if err != nil {
			t.Errorf("%s: %v", action, err)
			continue
		}
		if got := <-routes; got != route {
			t.Errorf("%s: got %q, want %q", action, got, route)
		}
		if res.Success || res.Message != "Plan is full" {
			t.Errorf("%s: result %+v", action, res)
		}
	}

	if _, err := c.Act(context.Background(), testCred, 9, model.ActionSendMessage); err == nil {
		t.Error("send-message has no action endpoint; expected error")
	}
}

func TestSendMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/plans/3/message" {
			t.Errorf("path: %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["message"] != "running late" {
			t.Errorf("body: %v, %v", body, err)
		}
		io.WriteString(w, `{"success":true,"message":""}`)
	})
	res, err := c.SendMessage(context.Background(), testCred, 3, "running late")
	if err != nil || !res.Success {
		t.Errorf("got %+v, %v", res, err)
	}
}

func TestCreatePlan(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/plans" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}
		if body["start time"] != "2024-07-06T20:00:00.000Z" || body["count"] != float64(-1) {
			t.Errorf("body: %v", body)
		}
		io.WriteString(w, `{"id":12,"title":"Raid","notes":"","start time":"2024-07-06T20:00:00.000Z","count":-1,"author id":100,
		  "invitees":[{"user id":1,"status":"DECIDING","needs fill in":false}]}`)
	})

	req := model.CreatePlanRequest{
		StartTime:    time.Date(2024, 7, 6, 20, 0, 0, 0, time.UTC),
		Title:        "Raid",
		Author:       100,
		UserInvitees: []int64{1},
	}
	if err := req.Validate(); err != nil {
		t.Fatal(err)
	}
	e, err := c.CreatePlan(context.Background(), testCred, req)
	if err != nil || e.ID != 12 {
		t.Errorf("got %+v, %v", e, err)
	}
}

func TestProfiles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("token") != "" {
			t.Error("profile endpoints are sent without a token")
		}
		switch r.URL.Path {
		case "/plan/users":
			io.WriteString(w, `[{"id":1,"username":"a","avatar":null},{"id":2,"username":"b","avatar":"x"}]`)
		case "/plan/roles":
			io.WriteString(w, `[{"id":3,"name":"r"}]`)
		}
	})
	users, err := c.FetchUsers(context.Background())
	if err != nil || len(users) != 2 || users[1].AvatarURL() == "" {
		t.Errorf("users: %+v, %v", users, err)
	}
	roles, err := c.FetchRoles(context.Background())
	if err != nil || len(roles) != 1 || roles[0].Color != nil {
		t.Errorf("roles: %+v, %v", roles, err)
	}
}

func TestNewClientRejectsBadScheme(t *testing.T) {
	if _, err := NewClient("ftp://example.com"); err == nil {
		t.Error("expected error")
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c, _ := NewClient(srv.URL)
	srv.Close()
	if _, err := c.FetchPlans(context.Background(), testCred); err == nil {
		t.Error("expected transport error")
	}
}
