package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"plannerbot/internal/bot"
	"plannerbot/internal/capture"
	"plannerbot/internal/config"
	appLog "plannerbot/internal/log"
	"plannerbot/internal/session"
	"plannerbot/internal/vault"
	"plannerbot/internal/web"
)

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath string
	listen     string
	baseURL    string
	login      string
	logout     bool
	once       bool
	snapshot   bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.baseURL != "" {
		conf.BaseURL = flags.baseURL
	}

	appLog.SetFormat(conf.LogFormat)
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	defer appLog.Sync()

	appLog.Info("plannerbot starting", "version", "0.1.0")
	appLog.Info("effective config",
		"base_url", conf.BaseURL,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"poll", conf.Poll,
		"vault_path", conf.VaultPath,
		"snapshot", conf.Snapshot.Enabled,
		"once", flags.once,
	)

	if err := run(conf, flags); err != nil {
		appLog.Error("plannerbot failed", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("plannerbot exiting")
}

func run(conf *config.Config, flags flagConfig) error {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := vault.OpenBolt(conf.VaultPath)
	if err != nil {
		return err
	}
	kv := vault.New(store)
	defer kv.Close()

	client, err := bot.NewClient(conf.BaseURL)
	if err != nil {
		return err
	}
	ctrl, err := session.New(client, kv, session.BotDialer(client))
	if err != nil {
		return err
	}
	defer ctrl.Close()

	switch {
	case flags.logout:
		ctrl.Logout()
		appLog.Info("logged out; stored credentials removed")
		return nil
	case flags.login != "":
		if err := ctrl.Login(ctx, flags.login); err != nil {
			return err
		}
	default:
		if err := ctrl.Restore(ctx); err != nil {
			// Logged out or offline; the API still serves /api/login.
			appLog.Error("session restore failed", err)
		}
	}

	st := ctrl.Snapshot()
	appLog.Info("session ready",
		"phase", string(st.Phase),
		"user_id", st.UserID(),
		"plans", len(st.Events),
		"offline", st.Offline,
	)

	if flags.once {
		return nil
	}

	snap, err := snapshotOptions(conf)
	if err != nil && (flags.snapshot || conf.Snapshot.Enabled) {
		return err
	}

	if err := ctrl.StartPolling(conf.Poll); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, ctrl).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if flags.snapshot {
		// Give the listener a moment before Chromium connects to it.
		time.Sleep(200 * time.Millisecond)
		return takeSnapshot(ctx, snap)
	}
	if conf.Snapshot.Enabled {
		sched := cron.New(cron.WithLocation(resolveLocation(conf.Timezone)),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		if _, err := sched.AddFunc(conf.Snapshot.Schedule, func() {
			if err := takeSnapshot(ctx, snap); err != nil {
				appLog.Error("scheduled snapshot failed", err)
			}
		}); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
		appLog.Info("snapshot schedule started", "schedule", conf.Snapshot.Schedule, "output", conf.Snapshot.Output)
	}

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func snapshotOptions(conf *config.Config) (capture.Options, error) {
	host := conf.Listen
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	opts := capture.Options{
		URL:        "http://" + host + "/widget",
		OutputPath: conf.Snapshot.Output,
		Width:      conf.Snapshot.Width,
		Height:     conf.Snapshot.Height,
	}
	user, pass, ok := conf.SnapshotCredentials()
	if !ok {
		return opts, errors.New("snapshot: basic_auth has only password_hash; set snapshot.password")
	}
	if user != "" {
		token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		opts.Header = map[string]any{"Authorization": "Basic " + token}
	}
	return opts, nil
}

func takeSnapshot(ctx context.Context, opts capture.Options) error {
	start := time.Now()
	if err := capture.WidgetPNG(ctx, opts); err != nil {
		return err
	}
	appLog.Info("widget snapshot written", "output", opts.OutputPath, "elapsed", time.Since(start))
	return nil
}

func resolveLocation(name string) *time.Location {
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

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/plannerbot/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.baseURL, "base-url", "", "Planner bot backend URL (overrides config if set)")
	flag.StringVar(&cfg.login, "login", "", "Complete Discord login with this OAuth code")
	flag.BoolVar(&cfg.logout, "logout", false, "Remove stored credentials and exit")
	flag.BoolVar(&cfg.once, "once", false, "Restore the session, fetch plans once and exit")
	flag.BoolVar(&cfg.snapshot, "snapshot", false, "Write one widget PNG snapshot and exit")

	flag.Parse()

	return cfg
}
