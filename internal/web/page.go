package web

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"

	"github.com/skip2/go-qrcode"

	"plannerbot/internal/ics"
	appLog "plannerbot/internal/log"
	"plannerbot/internal/session"
	"plannerbot/internal/widget"
)

// widgetPage is the plain HTML projection of the widget entry. The snapshot
// capture waits for data-ready="true" on the root before taking the PNG.
var widgetPage = template.Must(template.New("widget").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Plans</title>
<style>
body { margin: 0; font-family: sans-serif; }
#widget { padding: 16px; }
.avatars img { width: 32px; height: 32px; border-radius: 50%; }
</style>
</head>
<body>
<div id="widget" data-ready="true">
{{- if not .LoggedIn }}
<p class="empty">Not logged in</p>
{{- if .LoginQR }}
<img class="login" src="/login.png" width="160" height="160" alt="Scan to log in">
{{- end }}
{{- else if not .Event }}
<p class="empty">No upcoming events</p>
{{- else }}
<h1>{{ .Event.Title }}</h1>
<p class="time">{{ .TimeLabel }}</p>
<p class="gauge">{{ .Gauge }}</p>
<div class="avatars">
{{- range .Avatars }}
<img src="{{ . }}" alt="">
{{- end }}
{{- if .MoreAvatars }}<span>&hellip;</span>{{ end }}
</div>
{{- end }}
</div>
</body>
</html>
`))

type widgetData struct {
	widget.Entry
	LoginQR bool
}

// handleWidget renders the widget entry for now as HTML.
func (s *Server) handleWidget(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	data := widgetData{Entry: s.entry(), LoginQR: s.cfg.LoginURL != ""}
	if err := widgetPage.Execute(&buf, data); err != nil {
		appLog.Error("widget render failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleCalendar exports the logged-in user's plans as an ICS feed that
// calendar apps can subscribe to.
func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	st := s.planner.Snapshot()
	if st.Phase != session.PhaseLoggedIn {
		writeControllerError(w, session.ErrNotLoggedIn)
		return
	}
	body := ics.Export(st.Events, ics.ExportOptions{
		UserID: st.UserID(),
		Name:   "Plans",
		Now:    s.now(),
	})
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="plans.ics"`)
	_, _ = w.Write([]byte(body))
}

// handleLoginRedirect sends the browser to the Discord authorize page.
func (s *Server) handleLoginRedirect(w http.ResponseWriter, r *http.Request) {
	if s.cfg.LoginURL == "" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, s.cfg.LoginURL, http.StatusFound)
}

// handleLoginQR renders the authorize URL as a QR code so a phone can
// complete the login for a headless install.
func (s *Server) handleLoginQR(w http.ResponseWriter, r *http.Request) {
	if s.cfg.LoginURL == "" {
		http.NotFound(w, r)
		return
	}
	png, err := qrcode.Encode(s.cfg.LoginURL, qrcode.Medium, 256)
	if err != nil {
		appLog.Error("login QR encode failed", err)
		http.Error(w, "QR encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// handleCallback completes an OAuth redirect that lands on this server and
// returns the browser to the widget.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	if err := s.planner.Login(r.Context(), code); err != nil {
		appLog.Error("login callback failed", err)
		http.Error(w, "login failed", statusFor(err))
		return
	}
	http.Redirect(w, r, "/widget", http.StatusFound)
}
