package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/solaceid/solace/internal/bootstrap"
	"github.com/solaceid/solace/internal/config"
	domainoauth "github.com/solaceid/solace/internal/domain/oauth"
	httptransport "github.com/solaceid/solace/internal/http"
	"github.com/solaceid/solace/internal/http/handler"
	httpmiddleware "github.com/solaceid/solace/internal/http/middleware"
	"github.com/solaceid/solace/internal/jwt"
	apimiddleware "github.com/solaceid/solace/internal/middleware"
	"github.com/solaceid/solace/internal/password"
	"github.com/solaceid/solace/internal/policy"
	"github.com/solaceid/solace/internal/repository"
	"github.com/solaceid/solace/internal/revocation"
	"github.com/solaceid/solace/internal/server"
	"github.com/solaceid/solace/internal/service"
	oauthservice "github.com/solaceid/solace/internal/service/oauth"
	"github.com/solaceid/solace/internal/statestore"
	"github.com/solaceid/solace/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newUserRepository,
			newGroupRepository,
			newClientRepository,
			newPolicyRepository,
			newRevocationRepository,
			newKeyRepository,
			newPasskeyRepository,
			newRedisClient,
			newPendingAuthStore,
			newAuthCodeStore,
			newTOTPStore,
			newCeremonyStore,
			newRateLimiter,
			newPasswordCipher,
			newKeyManager,
			newTokenGenerator,
			newRevocationRegistry,
			policy.NewResolver,
			service.NewSessionService,
			service.NewTOTPService,
			service.NewPasskeyService,
			service.NewManagementService,
			newDiscoveryService,
			oauthservice.NewService,
			newSessionHandler,
			newOAuthHandler,
			newPasskeyHandler,
			newTOTPHandler,
			newManagementHandler,
			newWellKnownHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdmin, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newGroupRepository(pool *pgxpool.Pool) repository.GroupRepository {
	return repository.NewPostgresGroupRepo(pool)
}

func newClientRepository(pool *pgxpool.Pool) repository.ClientRepository {
	return repository.NewPostgresClientRepo(pool)
}

func newPolicyRepository(pool *pgxpool.Pool) repository.PolicyRepository {
	return repository.NewPostgresPolicyRepo(pool)
}

func newRevocationRepository(pool *pgxpool.Pool) repository.RevocationRepository {
	return repository.NewPostgresRevocationRepo(pool)
}

func newKeyRepository(pool *pgxpool.Pool) repository.KeyRepository {
	return repository.NewPostgresKeyRepo(pool)
}

func newPasskeyRepository(pool *pgxpool.Pool) repository.PasskeyRepository {
	return repository.NewPostgresPasskeyRepo(pool)
}

// newRedisClient connects when an address is configured, nil otherwise.
func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

// Pending authorizations and codes move to Redis when configured so
// several instances can share them. Ceremony state stays local.
func newPendingAuthStore(client redis.UniversalClient) statestore.Store[domainoauth.PendingAuthorization] {
	if client != nil {
		return statestore.NewRedis[domainoauth.PendingAuthorization](client, "oauth:pending")
	}
	return statestore.NewMemory[domainoauth.PendingAuthorization]()
}

func newAuthCodeStore(client redis.UniversalClient) statestore.Store[domainoauth.AuthorizationCode] {
	if client != nil {
		return statestore.NewRedis[domainoauth.AuthorizationCode](client, "oauth:code")
	}
	return statestore.NewMemory[domainoauth.AuthorizationCode]()
}

func newTOTPStore() statestore.Store[string] {
	return statestore.NewMemory[string]()
}

func newCeremonyStore() statestore.Store[service.Ceremony] {
	return statestore.NewMemory[service.Ceremony]()
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newPasswordCipher() (*password.Cipher, error) {
	return password.NewCipher()
}

func newKeyManager(repo repository.KeyRepository) *jwt.KeyManager {
	return jwt.NewKeyManager(repo)
}

func newTokenGenerator(manager *jwt.KeyManager, cfg config.Config) *jwt.Generator {
	return jwt.NewGenerator(manager, cfg.Issuer, cfg.SessionTTL, cfg.SpecialTTL, cfg.OAuthTokenTTL)
}

func newRevocationRegistry(repo repository.RevocationRepository, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *revocation.Registry {
	return revocation.NewRegistry(repo, node, cfg.RevocationGCLimit, logger)
}

func newDiscoveryService(manager *jwt.KeyManager, cfg config.Config) *service.DiscoveryService {
	return service.NewDiscoveryService(manager, cfg)
}

func newSessionHandler(sessions *service.SessionService, cfg config.Config) *handler.SessionHandler {
	return &handler.SessionHandler{Sessions: sessions, Config: cfg}
}

func newOAuthHandler(svc *oauthservice.Service) *handler.OAuthHandler {
	return &handler.OAuthHandler{OAuth: svc}
}

func newPasskeyHandler(passkeys *service.PasskeyService, cfg config.Config) *handler.PasskeyHandler {
	return &handler.PasskeyHandler{Passkeys: passkeys, Config: cfg}
}

func newTOTPHandler(totp *service.TOTPService, cfg config.Config) *handler.TOTPHandler {
	return &handler.TOTPHandler{TOTP: totp, Config: cfg}
}

func newManagementHandler(management *service.ManagementService, sessions *service.SessionService) *handler.ManagementHandler {
	return &handler.ManagementHandler{Management: management, Sessions: sessions}
}

func newWellKnownHandler(discovery *service.DiscoveryService) *handler.WellKnownHandler {
	return &handler.WellKnownHandler{Discovery: discovery}
}

func newAuthMiddleware(sessions *service.SessionService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Sessions: sessions}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
