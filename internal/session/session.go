package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"plannerbot/internal/bot"
	appLog "plannerbot/internal/log"
	"plannerbot/internal/model"
	"plannerbot/internal/vault"
)

type Phase string

const (
	PhaseLoggedOut      Phase = "logged-out"
	PhaseAuthenticating Phase = "authenticating"
	PhaseLoggedIn       Phase = "logged-in"
)

var (
	ErrNotLoggedIn      = errors.New("session: not logged in")
	ErrActionNotAllowed = errors.New("session: action not allowed")
	ErrUnknownEvent     = errors.New("session: unknown event")
	// ErrInvalidInput marks caller mistakes such as an empty message or a bad
	// recurrence rule.
	ErrInvalidInput = errors.New("session: invalid input")
)

// Backend is the subset of *bot.Client the controller needs.
type Backend interface {
	FetchPlans(ctx context.Context, cred bot.Credentials) ([]model.Event, error)
	FetchPlan(ctx context.Context, cred bot.Credentials, id int64) (model.Event, error)
	FetchUsers(ctx context.Context) ([]model.UserProfile, error)
	FetchRoles(ctx context.Context) ([]model.RoleProfile, error)
	Login(ctx context.Context, code, device string) (model.Auth, error)
	Relogin(ctx context.Context, auth model.Auth, device string) (model.Auth, error)
	CreatePlan(ctx context.Context, cred bot.Credentials, req model.CreatePlanRequest) (model.Event, error)
	Act(ctx context.Context, cred bot.Credentials, id int64, action model.Action) (model.ActionResult, error)
	SendMessage(ctx context.Context, cred bot.Credentials, id int64, text string) (model.ActionResult, error)
}

// Vault is the subset of *vault.Keyvault the controller needs.
type Vault interface {
	DeviceID() (string, error)
	LoadAuth() (*model.Auth, error)
	SaveAuth(a model.Auth) error
	DeleteAuth() error
	SaveSnapshot(userID int64, events []model.Event, at time.Time) error
	LoadSnapshot(userID int64) ([]model.Event, time.Time, error)
	DeleteSnapshot(userID int64) error
}

// State is an immutable view of the session. A new State is published on
// every change; callers must not modify the slices they get from one.
type State struct {
	Phase  Phase
	Auth   *model.Auth
	Events []model.Event
	Users  []model.UserProfile
	Roles  []model.RoleProfile
	// Connected is true while the push stream is receiving.
	Connected bool
	// Offline is true when Events came from the vault instead of the backend.
	Offline bool
	// Unverified is true while Auth is a restored bundle the backend has not
	// accepted yet. The next fetch retries the relogin.
	Unverified bool
	FetchedAt time.Time
}

// UserID returns the logged-in user's id, or 0.
func (s *State) UserID() int64 {
	if s.Auth == nil {
		return 0
	}
	return s.Auth.User.ID
}

// Controller owns the auth lifecycle and the event collection. Writers
// serialise on mu and publish a fresh State; readers load it without locking.
type Controller struct {
	backend Backend
	vault   Vault
	dialer  PushDialer
	device  string
	now     func() time.Time

	mu    sync.Mutex
	epoch uint64
	state atomic.Pointer[State]

	streamMu     sync.Mutex
	streamCancel context.CancelFunc
	streamDone   chan struct{}

	cron *cron.Cron
}

// New builds a logged-out controller. dialer may be nil to disable push.
func New(backend Backend, v Vault, dialer PushDialer) (*Controller, error) {
	device, err := v.DeviceID()
	if err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}
	c := &Controller{
		backend: backend,
		vault:   v,
		dialer:  dialer,
		device:  device,
		now:     time.Now,
	}
	c.state.Store(&State{Phase: PhaseLoggedOut})
	return c, nil
}

// Device returns the identifier this install registers with.
func (c *Controller) Device() string {
	return c.device
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() *State {
	return c.state.Load()
}

// session returns the epoch and credentials of the logged-in session.
func (c *Controller) session() (uint64, *State, bot.Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state.Load()
	if s.Phase != PhaseLoggedIn || s.Auth == nil {
		return 0, s, bot.Credentials{}, false
	}
	return c.epoch, s, bot.Credentials{Token: s.Auth.Token.AccessToken, Device: c.device}, true
}

// update applies fn to a copy of the state if epoch is still current.
func (c *Controller) update(epoch uint64, fn func(s *State)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return false
	}
	next := *c.state.Load()
	fn(&next)
	c.state.Store(&next)
	return true
}

// begin starts a new session epoch in the Authenticating phase.
func (c *Controller) begin(auth *model.Auth) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.state.Store(&State{Phase: PhaseAuthenticating, Auth: auth})
	return c.epoch
}

// Restore resumes the session persisted in the vault, if any.
//
// An auth rejection logs the user out. Any other relogin failure keeps the
// stored bundle and serves the last saved plans until the backend is back.
func (c *Controller) Restore(ctx context.Context) error {
	stored, err := c.vault.LoadAuth()
	switch {
	case errors.Is(err, vault.ErrNotFound):
		return nil
	case errors.Is(err, vault.ErrCorrupt):
		appLog.Error("stored auth is unreadable; discarding", err)
		if err := c.vault.DeleteAuth(); err != nil {
			appLog.Error("delete stored auth failed", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("load auth: %w", err)
	}

	epoch := c.begin(stored)
	fresh, err := c.backend.Relogin(ctx, *stored, c.device)
	if err != nil {
		if c.expire(epoch, err) {
			return fmt.Errorf("relogin: %w", err)
		}
		appLog.Error("relogin failed; continuing with stored session", err, "user_id", stored.User.ID)
		if !c.activate(epoch, *stored, false) {
			return ErrNotLoggedIn
		}
		c.update(epoch, func(s *State) { s.Unverified = true })
		c.loadOffline(epoch, stored.User.ID)
		return nil
	}

	if !c.activate(epoch, fresh, true) {
		return ErrNotLoggedIn
	}
	if err := c.Refresh(ctx); err != nil {
		appLog.Error("refresh after relogin failed", err)
	}
	return nil
}

// Login exchanges an OAuth code for a session.
func (c *Controller) Login(ctx context.Context, code string) error {
	if code == "" {
		return errors.New("login code is empty")
	}
	c.disconnect()
	epoch := c.begin(nil)

	auth, err := c.backend.Login(ctx, code, c.device)
	if err != nil {
		c.update(epoch, func(s *State) { *s = State{Phase: PhaseLoggedOut} })
		return fmt.Errorf("login: %w", err)
	}
	if !c.activate(epoch, auth, true) {
		return ErrNotLoggedIn
	}
	appLog.Info("logged in", "user_id", auth.User.ID, "username", auth.User.Username)
	if err := c.Refresh(ctx); err != nil {
		appLog.Error("refresh after login failed", err)
	}
	return nil
}

// activate moves epoch into LoggedIn with auth, persisting it when asked.
func (c *Controller) activate(epoch uint64, auth model.Auth, save bool) bool {
	ok := c.update(epoch, func(s *State) {
		s.Phase = PhaseLoggedIn
		s.Auth = &auth
	})
	if !ok {
		return false
	}
	if save {
		c.persist(epoch, auth)
	}
	return c.current(epoch)
}

func (c *Controller) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch == c.epoch
}

// persist stores auth for the session of epoch. A session that ended while
// the write was in flight has its bundle removed again.
func (c *Controller) persist(epoch uint64, auth model.Auth) {
	if err := c.vault.SaveAuth(auth); err != nil {
		appLog.Error("persist auth failed", err)
		return
	}
	if c.current(epoch) {
		return
	}
	stored, err := c.vault.LoadAuth()
	if err != nil || *stored != auth {
		// Gone already, or a newer session owns the slot.
		return
	}
	if err := c.vault.DeleteAuth(); err != nil {
		appLog.Error("delete stale auth failed", err)
	}
}

// verify retries the relogin Restore could not complete. Only an auth
// rejection is returned; the session then has been logged out.
func (c *Controller) verify(ctx context.Context, epoch uint64, stored model.Auth) error {
	fresh, err := c.backend.Relogin(ctx, stored, c.device)
	if err != nil {
		if c.expire(epoch, err) {
			return fmt.Errorf("relogin: %w", err)
		}
		appLog.Debug("relogin still failing", "err", err)
		return nil
	}
	if !c.update(epoch, func(s *State) {
		s.Auth = &fresh
		s.Unverified = false
	}) {
		return ErrNotLoggedIn
	}
	c.persist(epoch, fresh)
	appLog.Info("stored session verified", "user_id", fresh.User.ID)
	return nil
}

// expire logs out the session of epoch when err is an auth rejection and
// reports whether it was one.
func (c *Controller) expire(epoch uint64, err error) bool {
	if !errors.Is(err, bot.ErrUnauthorized) {
		return false
	}
	if c.logout(&epoch) {
		appLog.Info("session rejected by backend; logged out")
	}
	return true
}

// Logout clears identity, plans and profiles, deletes the stored credentials
// and closes the push stream. Results of requests still in flight are
// discarded.
func (c *Controller) Logout() {
	c.logout(nil)
}

// logout ends the current session, or only the session of *epoch when
// epoch is set.
func (c *Controller) logout(epoch *uint64) bool {
	c.mu.Lock()
	if epoch != nil && *epoch != c.epoch {
		c.mu.Unlock()
		return false
	}
	prev := c.state.Load()
	c.epoch++
	c.state.Store(&State{Phase: PhaseLoggedOut})
	c.mu.Unlock()

	c.disconnect()

	id := prev.UserID()
	if id == 0 {
		// Logged out before a restore; the stored bundle still names the user.
		if stored, err := c.vault.LoadAuth(); err == nil {
			id = stored.User.ID
		}
	}
	if err := c.vault.DeleteAuth(); err != nil {
		appLog.Error("delete stored auth failed", err)
	}
	if id != 0 {
		if err := c.vault.DeleteSnapshot(id); err != nil {
			appLog.Error("delete plan snapshot failed", err, "user_id", id)
		}
		appLog.Info("logged out", "user_id", id)
	}
	return true
}

// Refresh reloads profiles and plans and reconnects the push stream.
func (c *Controller) Refresh(ctx context.Context) error {
	epoch, _, _, ok := c.session()
	if !ok {
		return ErrNotLoggedIn
	}

	if users, err := c.backend.FetchUsers(ctx); err != nil {
		appLog.Error("fetch users failed", err)
	} else {
		c.update(epoch, func(s *State) { s.Users = users })
	}
	if roles, err := c.backend.FetchRoles(ctx); err != nil {
		appLog.Error("fetch roles failed", err)
	} else {
		c.update(epoch, func(s *State) { s.Roles = roles })
	}

	fetchErr := c.FetchPlans(ctx)
	if err := c.Connect(ctx); err != nil {
		appLog.Error("push connect failed", err)
	}
	return fetchErr
}

// Close stops polling and the push stream.
func (c *Controller) Close() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
	c.disconnect()
}
