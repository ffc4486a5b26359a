package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/crypto/bcrypt"

	"plannerbot/internal/bot"
	"plannerbot/internal/config"
	appLog "plannerbot/internal/log"
	"plannerbot/internal/model"
	"plannerbot/internal/session"
)

// Planner is the part of *session.Controller the HTTP API drives.
type Planner interface {
	Snapshot() *session.State
	Device() string
	Login(ctx context.Context, code string) error
	Logout()
	Refresh(ctx context.Context) error
	Buttons(eventID int64) (model.Buttons, error)
	Act(ctx context.Context, eventID int64, action model.Action) (model.ActionResult, error)
	SendMessage(ctx context.Context, eventID int64, text string) (model.ActionResult, error)
	CreatePlan(ctx context.Context, req model.CreatePlanRequest) (model.Event, error)
	CreateRecurringPlans(ctx context.Context, req model.CreatePlanRequest, rule string, horizon time.Duration) ([]model.Event, error)
	InvitedTo() []model.Event
	Hosted() []model.Event
	UserChoices() []model.UserProfile
}

// Server serves the local plan API, the widget page and the ICS feed.
type Server struct {
	cfg     *config.Config
	planner Planner
	loc     *time.Location
	now     func() time.Time
	router  chi.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, planner Planner) *Server {
	s := &Server{
		cfg:     cfg,
		planner: planner,
		loc:     resolveLocationOrLocal(cfg.Timezone),
		now:     time.Now,
		router:  chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler with CORS and, when configured,
// basic auth applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(h)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	return s.cfg != nil && s.cfg.BasicAuth.Enabled()
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	checkPassword := func(p string) bool {
		return secureCompare(p, s.cfg.BasicAuth.Password)
	}
	if hash := []byte(s.cfg.BasicAuth.PasswordHash); len(hash) > 0 {
		checkPassword = func(p string) bool {
			return bcrypt.CompareHashAndPassword(hash, []byte(p)) == nil
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !checkPassword(p) {
			w.Header().Set("WWW-Authenticate", `Basic realm="PlannerBot", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requestLogger logs one debug line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/preview.png", s.handlePreview)
	r.Get("/calendar.ics", s.handleCalendar)
	r.Get("/widget", s.handleWidget)
	r.Get("/login", s.handleLoginRedirect)
	r.Get("/login.png", s.handleLoginQR)
	r.Get("/callback", s.handleCallback)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.handleSession)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/refresh", s.handleRefresh)

		r.Get("/events", s.handleEvents)
		r.Get("/events/today", s.handleToday)
		r.Get("/events/upcoming", s.handleUpcoming)
		r.Post("/events/{id}/message", s.handleMessage)
		r.Post("/events/{id}/{action}", s.handleAction)

		r.Post("/plans", s.handleCreatePlan)
		r.Get("/users", s.handleUsers)
		r.Get("/roles", s.handleRoles)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last widget snapshot from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	// http.ServeFile answers 404 for a snapshot that was never taken.
	http.ServeFile(w, r, s.cfg.Snapshot.Output)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// statusFor maps controller errors onto HTTP status codes. Anything not
// recognised is a backend failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrUnknownEvent):
		return http.StatusNotFound
	case errors.Is(err, session.ErrActionNotAllowed):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidInput), errors.Is(err, model.ErrInvalidPlan):
		return http.StatusBadRequest
	case errors.Is(err, bot.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

// controllerError returns the status and client-facing message for err.
// Backend failure details stay in the log.
func controllerError(err error) (int, string) {
	status := statusFor(err)
	if status == http.StatusBadGateway {
		return status, "Unknown error"
	}
	return status, err.Error()
}

func writeControllerError(w http.ResponseWriter, err error) {
	status, msg := controllerError(err)
	writeError(w, status, msg)
}
