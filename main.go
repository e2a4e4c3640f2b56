// Command reference-bot runs the reference-answering chat bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Reads the reference document once; a missing document is fatal.
//   - Optionally connects to Postgres to keep the Matrix session and sync token.
//   - Logs into the selected chat transport (Matrix or Twitch IRC).
//   - Accepts invitations and answers room messages through the completion service.
//   - Optionally exposes /healthz, /readyz and /metrics when HTTP_ADDR is set.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/virto-network/reference-bot/bot"
	"github.com/virto-network/reference-bot/completion"
	"github.com/virto-network/reference-bot/config"
	"github.com/virto-network/reference-bot/db"
	"github.com/virto-network/reference-bot/matrix"
	"github.com/virto-network/reference-bot/server"
	"github.com/virto-network/reference-bot/telemetry"
	"github.com/virto-network/reference-bot/twitchchat"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("reference-bot", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	reference, err := bot.LoadReference(cfg.ReferenceDocPath)
	if err != nil {
		slog.Error("failed to load reference document", slog.String("path", cfg.ReferenceDocPath), slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("reference document loaded", slog.String("path", cfg.ReferenceDocPath), slog.Int("bytes", len(reference)))

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *db.Store
	if cfg.DBDsn != "" {
		database, err := openDatabase(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		if store, err = db.NewStore(database, cfg.EncryptionKey); err != nil {
			slog.Error("failed to initialize storage", slog.Any("err", err))
			os.Exit(1)
		}
	} else {
		slog.Info("DB_DSN not set; sync state is kept in memory")
	}

	conn, checks, err := connectTransport(ctx, cfg, store)
	if err != nil {
		slog.Error("failed to connect chat transport", slog.String("transport", cfg.Transport), slog.Any("err", err))
		os.Exit(1)
	}

	completer, err := completion.New(completion.Options{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Timeout:    cfg.OpenAITimeout,
		MaxRetries: cfg.OpenAIMaxRetries,
	})
	if err != nil {
		slog.Error("failed to create completion client", slog.Any("err", err))
		os.Exit(1)
	}

	rt, err := bot.New(bot.Options{
		Conn:      conn,
		Completer: completer,
		Model:     cfg.OpenAIModel,
		Reference: reference,
	})
	if err != nil {
		slog.Error("failed to create bot", slog.Any("err", err))
		os.Exit(1)
	}

	if cfg.HTTPAddr != "" {
		if store != nil {
			checks = append([]server.Check{{Name: "database", Fn: store.Ping}}, checks...)
		}
		go func() {
			if err := server.Start(ctx, cfg.HTTPAddr, checks); err != nil {
				slog.Error("http server exited with error", slog.Any("err", err))
			}
		}()
	}

	if err := rt.Run(ctx); err != nil {
		slog.Error("bot stopped", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutting down")
}

// setupLogging configures the default logger. Defaults: level=info, format=text.
func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}

// openDatabase connects and migrates. Versioned migrations run first; the
// embedded idempotent schema is the fallback.
func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			database.Close()
			return nil, err
		}
	}
	return database, nil
}

func connectTransport(ctx context.Context, cfg *config.Config, store *db.Store) (bot.Conn, []server.Check, error) {
	switch cfg.Transport {
	case config.TransportTwitch:
		c, err := twitchchat.New(twitchchat.Options{
			Username:   cfg.TwitchBotUsername,
			OAuthToken: cfg.TwitchOAuthToken,
			Channels:   cfg.TwitchChannels,
		})
		return c, nil, err
	default:
		var sessions matrix.SessionStore
		var kv matrix.KV
		if store != nil {
			sessions = sessionStore{store}
			kv = store
		}
		c, err := matrix.Connect(ctx, matrix.Options{
			UserID:     cfg.UserID,
			Password:   cfg.Password,
			Homeserver: cfg.MatrixHomeserver,
			DeviceName: cfg.MatrixDeviceName,
		}, sessions, matrix.NewKVSyncStore(kv))
		if err != nil {
			return nil, nil, err
		}
		return c, []server.Check{{Name: "matrix_sync", Fn: c.Health}}, nil
	}
}

// sessionStore keeps the Matrix session in the matrix_sessions table.
type sessionStore struct{ s *db.Store }

func (a sessionStore) LoadSession(ctx context.Context, userID string) (*matrix.Session, error) {
	ms, err := a.s.GetMatrixSession(ctx, userID)
	if err != nil || ms == nil {
		return nil, err
	}
	return &matrix.Session{UserID: ms.UserID, DeviceID: ms.DeviceID, AccessToken: ms.AccessToken, Homeserver: ms.Homeserver}, nil
}

func (a sessionStore) SaveSession(ctx context.Context, s matrix.Session) error {
	return a.s.UpsertMatrixSession(ctx, db.MatrixSession{UserID: s.UserID, DeviceID: s.DeviceID, AccessToken: s.AccessToken, Homeserver: s.Homeserver})
}
