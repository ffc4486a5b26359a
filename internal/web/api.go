package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	appLog "plannerbot/internal/log"
	"plannerbot/internal/model"
	"plannerbot/internal/session"
	"plannerbot/internal/widget"
)

const (
	maxBodyBytes       = 64 << 10
	defaultHorizonDays = 28
	maxHorizonDays     = 366
	defaultUpcomingDay = 14
)

// sessionResponse is the JSON shape of /api/session.
type sessionResponse struct {
	Phase     session.Phase `json:"phase"`
	User      *model.User   `json:"user,omitempty"`
	Device    string        `json:"device"`
	Connected bool          `json:"connected"`
	Offline   bool          `json:"offline"`
	FetchedAt *time.Time    `json:"fetched_at,omitempty"`
}

func (s *Server) sessionView() sessionResponse {
	st := s.planner.Snapshot()
	resp := sessionResponse{
		Phase:     st.Phase,
		Device:    s.planner.Device(),
		Connected: st.Connected,
		Offline:   st.Offline,
	}
	if st.Auth != nil {
		u := st.Auth.User
		resp.User = &u
	}
	if !st.FetchedAt.IsZero() {
		t := st.FetchedAt
		resp.FetchedAt = &t
	}
	return resp
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionView())
}

// handleLogin completes the OAuth flow with the code Discord redirected with.
//
// POST /api/login?code=...
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if err := s.planner.Login(r.Context(), code); err != nil {
		appLog.Error("login failed", err)
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.planner.Logout()
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.planner.Refresh(r.Context()); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView())
}

// eventView is one plan as the local UI renders it.
type eventView struct {
	Event model.Event `json:"event"`
	// Roster is the invitee list ordered by status.
	Roster  []model.EventUser `json:"roster"`
	Buttons []model.Action    `json:"buttons"`
	Hosting bool              `json:"hosting"`
	Status  string            `json:"status,omitempty"`
}

func newEventView(e model.Event, userID int64) eventView {
	v := eventView{
		Event:   e,
		Roster:  e.SortedRoster(),
		Buttons: model.EligibleActions(e, userID).Enabled(),
		Hosting: e.IsHostedBy(userID),
	}
	if st, ok := e.StatusOf(userID); ok {
		v.Status = st.Label()
	}
	return v
}

// handleEvents lists plans with the caller's enabled actions.
//
// GET /api/events?view=invited|hosted
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	st := s.planner.Snapshot()
	if st.Phase != session.PhaseLoggedIn {
		writeControllerError(w, session.ErrNotLoggedIn)
		return
	}
	events := st.Events
	switch view := r.URL.Query().Get("view"); view {
	case "":
	case "invited":
		events = s.planner.InvitedTo()
	case "hosted":
		events = s.planner.Hosted()
	default:
		writeError(w, http.StatusBadRequest, "unknown view "+strconv.Quote(view))
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, newEventView(e, st.UserID()))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleToday returns the widget entry for now.
func (s *Server) handleToday(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.entry())
}

func (s *Server) entry() widget.Entry {
	st := s.planner.Snapshot()
	var auth *model.Auth
	if st.Phase == session.PhaseLoggedIn {
		auth = st.Auth
	}
	return widget.NewEntry(s.now().In(s.loc), auth, st.Events, st.Users)
}

type dayView struct {
	Day    string      `json:"day"`
	Events []eventView `json:"events"`
}

// handleUpcoming groups plans from the start of today by local day.
//
// GET /api/events/upcoming?days=14
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	st := s.planner.Snapshot()
	if st.Phase != session.PhaseLoggedIn {
		writeControllerError(w, session.ErrNotLoggedIn)
		return
	}
	days := parseIntDefault(r.URL.Query().Get("days"), defaultUpcomingDay)
	if days <= 0 {
		days = defaultUpcomingDay
	}

	now := s.now().In(s.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	until := from.AddDate(0, 0, days)
	upcoming := make([]model.Event, 0, len(st.Events))
	for _, e := range st.Events {
		if !e.StartTime.Before(from) && e.StartTime.Before(until) {
			upcoming = append(upcoming, e)
		}
	}

	groups := widget.GroupByDay(upcoming, s.loc)
	out := make([]dayView, 0, len(groups))
	for _, g := range groups {
		dv := dayView{Day: g.Day.Format(time.DateOnly)}
		for _, e := range g.Events {
			dv.Events = append(dv.Events, newEventView(e, st.UserID()))
		}
		out = append(out, dv)
	}
	writeJSON(w, http.StatusOK, out)
}

func eventID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// handleAction performs a roster action, e.g. POST /api/events/12/accept.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid plan id")
		return
	}
	action, err := model.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	res, err := s.planner.Act(r.Context(), id, action)
	if err != nil {
		if statusFor(err) == http.StatusBadGateway {
			writeJSON(w, http.StatusBadGateway, model.ActionResult{Success: false, Message: "Unknown error"})
			return
		}
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleMessage sends the author's message to a plan's invitees.
//
// POST /api/events/12/message {"message": "..."}
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid plan id")
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.planner.SendMessage(r.Context(), id, body.Message)
	if err != nil {
		if statusFor(err) == http.StatusBadGateway {
			writeJSON(w, http.StatusBadGateway, model.ActionResult{Success: false, Message: "Unknown error"})
			return
		}
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// recurrence carries the optional repeat fields of a create request. The
// plan itself uses the backend's field names.
type recurrence struct {
	RRule       string `json:"rrule"`
	HorizonDays int    `json:"horizon_days"`
}

// handleCreatePlan creates one plan, or one per occurrence when rrule is set.
//
// POST /api/plans
func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var req model.CreatePlanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid plan: "+err.Error())
		return
	}
	var rec recurrence
	if err := json.Unmarshal(data, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid recurrence: "+err.Error())
		return
	}

	if strings.TrimSpace(rec.RRule) == "" {
		e, err := s.planner.CreatePlan(r.Context(), req)
		if err != nil {
			writeControllerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
		return
	}

	days := rec.HorizonDays
	if days <= 0 {
		days = defaultHorizonDays
	}
	if days > maxHorizonDays {
		writeError(w, http.StatusBadRequest, "horizon_days is too large")
		return
	}
	created, err := s.planner.CreateRecurringPlans(r.Context(), req, rec.RRule, time.Duration(days)*24*time.Hour)
	if err != nil {
		if len(created) > 0 {
			appLog.Error("recurring plan creation stopped early", err, "created", len(created))
		}
		if errors.Is(err, session.ErrNotLoggedIn) || len(created) == 0 {
			writeControllerError(w, err)
			return
		}
		type partial struct {
			Error   string        `json:"error"`
			Created []model.Event `json:"created"`
		}
		status, msg := controllerError(err)
		writeJSON(w, status, partial{Error: msg, Created: created})
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUsers lists server members. ?invitable=true leaves out the caller,
// for the invite picker.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users := s.planner.Snapshot().Users
	if invitable, _ := strconv.ParseBool(r.URL.Query().Get("invitable")); invitable {
		users = s.planner.UserChoices()
	}
	if users == nil {
		users = []model.UserProfile{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleRoles(w http.ResponseWriter, _ *http.Request) {
	roles := s.planner.Snapshot().Roles
	if roles == nil {
		roles = []model.RoleProfile{}
	}
	writeJSON(w, http.StatusOK, roles)
}
