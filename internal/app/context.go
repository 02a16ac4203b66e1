// Package app assembles a workspace: environment, config, logger, database and engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"listingintel/internal/config"
	"listingintel/internal/db"
	"listingintel/internal/engine"
	"listingintel/internal/logging"
	"listingintel/internal/migrate"
	"listingintel/internal/notify"
)

const EnvFile = ".env"

// Secrets read from the environment (or the workspace .env) override the config file.
const (
	EnvSlackWebhook  = "LISTINGINTEL_SLACK_WEBHOOK_URL"
	EnvRedisAddr     = "LISTINGINTEL_REDIS_ADDR"
	EnvRedisPassword = "LISTINGINTEL_REDIS_PASSWORD"
	EnvJWTSecret     = "LISTINGINTEL_JWT_SECRET"
)

// Workspace is an opened workspace. Close releases the database and notifier connections.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Log    *slog.Logger
	Engine engine.Engine
	Redis  *notify.Redis

	closers []io.Closer
}

type Options struct {
	// LogWriter receives log output; stderr when nil.
	LogWriter io.Writer
}

// LoadEnv loads the workspace .env without overriding variables already set.
func LoadEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, EnvFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// LoadConfig reads listingintel.yml (defaults when absent) and applies env overrides.
func LoadConfig(dir string) (*config.Config, error) {
	if err := LoadEnv(dir); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, cfg.Validate()
}

func ApplyEnv(cfg *config.Config) {
	if v := strings.TrimSpace(os.Getenv(EnvSlackWebhook)); v != "" {
		cfg.Notify.Slack.WebhookURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisAddr)); v != "" {
		cfg.Notify.Redis.Addr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		cfg.Notify.Redis.Password = v
	}
}

// Open prepares dir, migrates the database and wires the engine with the
// notifiers the config enables.
func Open(ctx context.Context, dir string, opts Options) (*Workspace, error) {
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}, opts.LogWriter)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	ws := &Workspace{Dir: dir, DB: conn, Config: cfg, Log: log, closers: []io.Closer{conn}}
	ws.Engine = engine.New(conn, cfg, log)
	ws.Engine.Notifier = ws.notifiers()
	return ws, nil
}

func (w *Workspace) notifiers() notify.Notifier {
	cfg := w.Config
	sinks := notify.Multi{notify.Log{Logger: w.Log.With("component", "notify")}}
	if r := cfg.Notify.Redis; strings.TrimSpace(r.Addr) != "" {
		w.Redis = notify.NewRedis(r.Addr, r.Password, r.DB, r.Channel, r.List)
		w.closers = append(w.closers, w.Redis)
		sinks = append(sinks, w.Redis)
	}
	if s := cfg.Notify.Slack; strings.TrimSpace(s.WebhookURL) != "" {
		sinks = append(sinks, notify.Slack{WebhookURL: s.WebhookURL, Channel: s.Channel, Username: s.Username})
	}
	return notify.Filter{Next: sinks, Allow: cfg.TierAtLeast}
}

// ExportDir resolves the configured export directory against the workspace.
func (w *Workspace) ExportDir() string {
	dir := w.Config.Export.Dir
	if dir == "" {
		dir = "exports"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(w.Dir, dir)
}

func (w *Workspace) Close() error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
