package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bloveless/esp32-iot-desk/internal/config"
	"github.com/bloveless/esp32-iot-desk/internal/desk"
	"github.com/bloveless/esp32-iot-desk/internal/fulfillment"
	"github.com/bloveless/esp32-iot-desk/internal/httpapi"
	"github.com/bloveless/esp32-iot-desk/internal/janitor"
	"github.com/bloveless/esp32-iot-desk/internal/mqtt"
	"github.com/bloveless/esp32-iot-desk/internal/oauth"
	"github.com/bloveless/esp32-iot-desk/internal/observability"
	"github.com/bloveless/esp32-iot-desk/internal/session"
	"github.com/bloveless/esp32-iot-desk/internal/store"
	"github.com/bloveless/esp32-iot-desk/internal/web"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the OAuth server and smart home webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, "iot-desk")
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	repo, err := openRepo()
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := seedClients(ctx, repo, cfg.OAuthClientsFile); err != nil {
		return err
	}

	mq, err := mqtt.Connect(cfg.MQTTBrokerURL, cfg.MQTTClientID)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer mq.Close()

	sessStore, closeSessions, err := sessionStore(ctx)
	if err != nil {
		return err
	}
	defer closeSessions()
	sessions := session.NewManager(sessStore, cfg.SessionTTL, !cfg.AppDebug)

	pages, err := web.New(repo, sessions, cfg.TemplatesDir)
	if err != nil {
		return err
	}
	authz := oauth.NewServer(repo, oauth.Options{
		SigningKey:      []byte(cfg.AppKey),
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		AuthCodeTTL:     cfg.AuthCodeTTL,
		AuthorizeUser:   pages.AuthorizeUser,
	})
	handler := fulfillment.NewHandler(repo, desk.NewDispatcher(mq, cfg.MQTTCommandTopic), cfg.AppDebug)

	jan, err := janitor.New(repo, cfg.JanitorSchedule)
	if err != nil {
		return err
	}
	jan.Start()
	defer jan.Stop()

	srv := httpapi.New(httpapi.Deps{
		Web:         pages,
		OAuth:       authz,
		Sessions:    sessions,
		Fulfillment: handler,
		Ready: map[string]httpapi.Pinger{
			"postgres": repo,
			"mqtt": httpapi.PingFunc(func(context.Context) error {
				if !mq.Connected() {
					return errors.New("not connected")
				}
				return nil
			}),
		},
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("iot-desk listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case err := <-errCh:
		slog.Error("http server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func seedClients(ctx context.Context, repo *store.Repository, path string) error {
	if path == "" {
		return nil
	}
	seeds, err := config.LoadClients(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("oauth clients file not found", "path", path)
			return nil
		}
		return fmt.Errorf("load oauth clients: %w", err)
	}
	for _, s := range seeds {
		if err := repo.UpsertClient(ctx, &store.OAuthClient{ClientID: s.ID, ClientSecret: s.Secret, RedirectURI: s.RedirectURI}); err != nil {
			return fmt.Errorf("seed client %s: %w", s.ID, err)
		}
	}
	slog.Info("oauth clients seeded", "count", len(seeds))
	return nil
}

// sessionStore returns the redis store, or an in-process one when
// REDIS_ADDR is "memory".
func sessionStore(ctx context.Context) (scs.Store, func(), error) {
	if strings.EqualFold(cfg.RedisAddr, "memory") {
		slog.Warn("using in-memory sessions")
		return session.NewMemoryStore(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return session.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
}
