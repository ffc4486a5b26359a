package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"plannerbot/internal/bot"
	"plannerbot/internal/ics"
	appLog "plannerbot/internal/log"
	"plannerbot/internal/model"
	"plannerbot/internal/vault"
)

// maxRecurrences bounds how many plans one recurring request may create.
const maxRecurrences = 52

// FetchPlans reloads the plan list. On failure the previous plans stay; if
// there are none yet, the last saved snapshot is served instead.
func (c *Controller) FetchPlans(ctx context.Context) error {
	epoch, s, cred, ok := c.session()
	if !ok {
		return ErrNotLoggedIn
	}
	if s.Unverified {
		if err := c.verify(ctx, epoch, *s.Auth); err != nil {
			return err
		}
		if epoch, s, cred, ok = c.session(); !ok {
			return ErrNotLoggedIn
		}
	}
	userID := s.UserID()

	events, err := c.backend.FetchPlans(ctx, cred)
	if err != nil {
		appLog.Error("fetch plans failed", err, "user_id", userID)
		if c.expire(epoch, err) {
			return fmt.Errorf("fetch plans: %w", err)
		}
		if s.FetchedAt.IsZero() && len(s.Events) == 0 {
			c.loadOffline(epoch, userID)
		}
		return fmt.Errorf("fetch plans: %w", err)
	}

	now := c.now()
	if !c.applyFetch(epoch, events, now) {
		return ErrNotLoggedIn
	}
	if err := c.vault.SaveSnapshot(userID, events, now); err != nil {
		appLog.Error("save plan snapshot failed", err, "user_id", userID)
	}
	appLog.Debug("plans fetched", "user_id", userID, "count", len(events))
	return nil
}

// loadOffline serves the plans saved for userID when the backend is
// unreachable.
func (c *Controller) loadOffline(epoch uint64, userID int64) {
	events, savedAt, err := c.vault.LoadSnapshot(userID)
	if err != nil {
		if !errors.Is(err, vault.ErrNotFound) {
			appLog.Error("load plan snapshot failed", err, "user_id", userID)
		}
		return
	}
	c.update(epoch, func(s *State) {
		s.Events = events
		s.Offline = true
		s.FetchedAt = savedAt
	})
	appLog.Info("serving saved plans", "user_id", userID, "count", len(events), "saved_at", savedAt)
}

// ApplyFetch replaces the event collection with events.
func (c *Controller) ApplyFetch(events []model.Event) {
	epoch, _, _, ok := c.session()
	if !ok {
		return
	}
	c.applyFetch(epoch, events, c.now())
}

func (c *Controller) applyFetch(epoch uint64, events []model.Event, at time.Time) bool {
	next := make([]model.Event, len(events))
	copy(next, events)
	model.SortEvents(next)
	return c.update(epoch, func(s *State) {
		s.Events = next
		s.Offline = false
		s.FetchedAt = at
	})
}

// ApplyPushedEvent replaces the plan with the same id or appends it.
// Applying the same plan twice leaves the collection unchanged.
func (c *Controller) ApplyPushedEvent(e model.Event) {
	epoch, _, _, ok := c.session()
	if !ok {
		return
	}
	c.upsert(epoch, e)
}

func (c *Controller) upsert(epoch uint64, e model.Event) bool {
	return c.update(epoch, func(s *State) {
		next := make([]model.Event, 0, len(s.Events)+1)
		replaced := false
		for _, old := range s.Events {
			if old.ID == e.ID {
				next = append(next, e)
				replaced = true
				continue
			}
			next = append(next, old)
		}
		if !replaced {
			next = append(next, e)
		}
		model.SortEvents(next)
		s.Events = next
	})
}

// ApplyLocalAction replaces the plan eventID with updated, or removes it
// when updated is nil.
func (c *Controller) ApplyLocalAction(eventID int64, updated *model.Event) {
	epoch, _, _, ok := c.session()
	if !ok {
		return
	}
	c.applyLocal(epoch, eventID, updated)
}

func (c *Controller) applyLocal(epoch uint64, eventID int64, updated *model.Event) bool {
	if updated != nil {
		return c.upsert(epoch, *updated)
	}
	return c.update(epoch, func(s *State) {
		next := make([]model.Event, 0, len(s.Events))
		for _, old := range s.Events {
			if old.ID != eventID {
				next = append(next, old)
			}
		}
		s.Events = next
	})
}

// Event returns the plan with id from the current state.
func (c *Controller) Event(id int64) (model.Event, bool) {
	return findEvent(c.Snapshot(), id)
}

func findEvent(s *State, id int64) (model.Event, bool) {
	for _, e := range s.Events {
		if e.ID == id {
			return e, true
		}
	}
	return model.Event{}, false
}

// Buttons returns the actions the logged-in user may take on eventID.
func (c *Controller) Buttons(eventID int64) (model.Buttons, error) {
	s := c.Snapshot()
	if s.Phase != PhaseLoggedIn {
		return nil, ErrNotLoggedIn
	}
	e, ok := findEvent(s, eventID)
	if !ok {
		return nil, ErrUnknownEvent
	}
	return model.EligibleActions(e, s.UserID()), nil
}

// Act performs action on eventID for the logged-in user. A Success=false
// result leaves the state unchanged; on success the plan is refetched, or
// removed for a delete.
func (c *Controller) Act(ctx context.Context, eventID int64, action model.Action) (model.ActionResult, error) {
	epoch, s, cred, ok := c.session()
	if !ok {
		return model.ActionResult{}, ErrNotLoggedIn
	}
	e, found := findEvent(s, eventID)
	if !found {
		return model.ActionResult{}, ErrUnknownEvent
	}
	if action == model.ActionSendMessage {
		return model.ActionResult{}, fmt.Errorf("%w: %s needs a message", ErrActionNotAllowed, action)
	}
	if !model.EligibleActions(e, s.UserID()).Allowed(action) {
		return model.ActionResult{}, fmt.Errorf("%w: %s on plan %d", ErrActionNotAllowed, action, eventID)
	}

	res, err := c.backend.Act(ctx, cred, eventID, action)
	if err != nil {
		appLog.Error("plan action failed", err, "plan_id", eventID, "action", action.String())
		c.expire(epoch, err)
		return res, fmt.Errorf("%s plan %d: %w", action, eventID, err)
	}
	if !res.Success {
		appLog.Info("plan action denied", "plan_id", eventID, "action", action.String(), "message", res.Message)
		return res, nil
	}

	if action == model.ActionDeleteEvent {
		c.applyLocal(epoch, eventID, nil)
		return res, nil
	}
	c.refetch(ctx, epoch, cred, eventID)
	return res, nil
}

// refetch reloads one plan after a successful action, falling back to the
// whole list.
func (c *Controller) refetch(ctx context.Context, epoch uint64, cred bot.Credentials, eventID int64) {
	updated, err := c.backend.FetchPlan(ctx, cred, eventID)
	if err == nil {
		c.applyLocal(epoch, eventID, &updated)
		return
	}
	if c.expire(epoch, err) {
		return
	}
	appLog.Debug("single plan refetch failed; reloading all", "plan_id", eventID, "err", err)
	if err := c.FetchPlans(ctx); err != nil {
		appLog.Error("reload after action failed", err, "plan_id", eventID)
	}
}

// SendMessage sends text from the author to everyone on eventID.
func (c *Controller) SendMessage(ctx context.Context, eventID int64, text string) (model.ActionResult, error) {
	epoch, s, cred, ok := c.session()
	if !ok {
		return model.ActionResult{}, ErrNotLoggedIn
	}
	e, found := findEvent(s, eventID)
	if !found {
		return model.ActionResult{}, ErrUnknownEvent
	}
	if !model.EligibleActions(e, s.UserID()).Allowed(model.ActionSendMessage) {
		return model.ActionResult{}, fmt.Errorf("%w: only the author can message plan %d", ErrActionNotAllowed, eventID)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return model.ActionResult{}, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}

	res, err := c.backend.SendMessage(ctx, cred, eventID, text)
	if err != nil {
		c.expire(epoch, err)
		return res, fmt.Errorf("message plan %d: %w", eventID, err)
	}
	return res, nil
}

// CreatePlan validates req, posts it and adds the created plan. The author
// defaults to the logged-in user.
func (c *Controller) CreatePlan(ctx context.Context, req model.CreatePlanRequest) (model.Event, error) {
	epoch, s, cred, ok := c.session()
	if !ok {
		return model.Event{}, ErrNotLoggedIn
	}
	if req.Author == 0 {
		req.Author = s.UserID()
	}
	if err := req.Validate(); err != nil {
		return model.Event{}, err
	}

	e, err := c.backend.CreatePlan(ctx, cred, req)
	if err != nil {
		c.expire(epoch, err)
		return model.Event{}, fmt.Errorf("create plan: %w", err)
	}
	c.upsert(epoch, e)
	appLog.Info("plan created", "plan_id", e.ID, "title", e.Title, "start", e.StartTime)
	return e, nil
}

// CreateRecurringPlans creates one plan per occurrence of rule between
// req.StartTime and req.StartTime+horizon. It stops at the first failure and
// returns the plans created so far.
func (c *Controller) CreateRecurringPlans(ctx context.Context, req model.CreatePlanRequest, rule string, horizon time.Duration) ([]model.Event, error) {
	if _, _, _, ok := c.session(); !ok {
		return nil, ErrNotLoggedIn
	}
	starts, err := ics.Occurrences(rule, req.StartTime, req.StartTime.Add(horizon), maxRecurrences)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if len(starts) == 0 {
		return nil, fmt.Errorf("%w: recurrence rule produced no dates in range", ErrInvalidInput)
	}

	created := make([]model.Event, 0, len(starts))
	for _, start := range starts {
		r := req
		r.StartTime = start
		e, err := c.CreatePlan(ctx, r)
		if err != nil {
			return created, fmt.Errorf("occurrence %s: %w", model.FormatTime(start), err)
		}
		created = append(created, e)
	}
	return created, nil
}

// Events returns the current plans, sorted.
func (c *Controller) Events() []model.Event {
	return c.Snapshot().Events
}

// InvitedTo returns plans that list the logged-in user on the roster.
func (c *Controller) InvitedTo() []model.Event {
	s := c.Snapshot()
	if s.Auth == nil {
		return nil
	}
	var out []model.Event
	for _, e := range s.Events {
		if e.IsInvited(s.UserID()) {
			out = append(out, e)
		}
	}
	return out
}

// Hosted returns plans authored by the logged-in user.
func (c *Controller) Hosted() []model.Event {
	s := c.Snapshot()
	if s.Auth == nil {
		return nil
	}
	var out []model.Event
	for _, e := range s.Events {
		if e.IsHostedBy(s.UserID()) {
			out = append(out, e)
		}
	}
	return out
}

// UserChoices lists server members other than the logged-in user, for the
// invite picker.
func (c *Controller) UserChoices() []model.UserProfile {
	s := c.Snapshot()
	if s.Auth == nil {
		return nil
	}
	out := make([]model.UserProfile, 0, len(s.Users))
	for _, u := range s.Users {
		if u.ID != s.UserID() {
			out = append(out, u)
		}
	}
	return out
}

func (c *Controller) UserByID(id int64) (model.UserProfile, bool) {
	for _, u := range c.Snapshot().Users {
		if u.ID == id {
			return u, true
		}
	}
	return model.UserProfile{}, false
}

func (c *Controller) RoleByID(id int64) (model.RoleProfile, bool) {
	for _, r := range c.Snapshot().Roles {
		if r.ID == id {
			return r, true
		}
	}
	return model.RoleProfile{}, false
}
