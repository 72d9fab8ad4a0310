package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/member-onboarding/internal/config"
	"github.com/iliyamo/member-onboarding/internal/credential"
	"github.com/iliyamo/member-onboarding/internal/database"
	"github.com/iliyamo/member-onboarding/internal/handler"
	"github.com/iliyamo/member-onboarding/internal/logger"
	"github.com/iliyamo/member-onboarding/internal/middleware"
	"github.com/iliyamo/member-onboarding/internal/model"
	"github.com/iliyamo/member-onboarding/internal/queue"
	"github.com/iliyamo/member-onboarding/internal/repository"
	"github.com/iliyamo/member-onboarding/internal/router"
	"github.com/iliyamo/member-onboarding/internal/service"
)

// userCreator is implemented by both user stores.
type userCreator interface {
	Create(ctx context.Context, email, password, role string) (uint64, error)
}

// stores is the storage wiring selected by STORE_DRIVER.
type stores struct {
	db          *sql.DB
	credentials repository.CredentialStore
	members     repository.MemberDirectory
	users       handler.UserStore
	creator     userCreator
	tokens      handler.TokenStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// the logger is not configured yet
		os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	if err != nil {
		os.Stderr.WriteString("failed to initialise logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adminHasher := credential.NewBcryptHasher(cfg.BcryptCost, log)
	st, err := openStores(ctx, cfg, adminHasher, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig(), log)
	if rdb != nil {
		defer rdb.Close()
	}
	members := repository.NewCachedMemberDirectory(st.members, rdb, config.LoadCacheConfig(), log)

	if err := bootstrapAdmin(ctx, st.creator, cfg.AdminEmail, cfg.AdminPassword, log); err != nil {
		return err
	}

	var pub service.Publisher = service.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		pub = service.NewAMQPPublisher(cfg.RabbitMQURL, log)
	}

	svc := service.NewCredentialService(service.Deps{
		Store:     st.credentials,
		Members:   members,
		Hasher:    credential.NewBcryptHasher(cfg.Credential.HashCost, log),
		Publisher: pub,
		Policy: service.Policy{
			SecretLength:          cfg.Credential.SecretLength,
			ChannelFriendlyLength: cfg.Credential.SMSSecretLength,
			MaxAttempts:           cfg.Credential.MaxAttempts,
			LockDuration:          cfg.Credential.LockDuration,
			TTL:                   cfg.Credential.TTL,
		},
		Logger: log.Named("credentials"),
	})

	e := newEcho(cfg, log, st, svc, adminHasher, rdb)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if cfg.RabbitMQURL != "" {
		consumer := queue.NewAuditConsumer(cfg.RabbitMQURL, cfg.AuditLogDir, log)
		g.Go(func() error { return consumer.Run(gctx) })
	}
	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, hasher repository.PasswordHasher, log *zap.Logger) (stores, error) {
	if cfg.StoreDriver == "memory" {
		mem := repository.NewMemoryStore()
		if cfg.MemberSeedFile != "" {
			n, err := repository.SeedMembersFromFile(mem, cfg.MemberSeedFile)
			if err != nil {
				return stores{}, err
			}
			log.Info("seeded members", zap.Int("count", n), zap.String("file", cfg.MemberSeedFile))
		}
		users := repository.NewMemoryUsers(hasher)
		return stores{
			credentials: mem,
			members:     mem,
			users:       users,
			creator:     users,
			tokens:      repository.NewMemoryTokens(),
		}, nil
	}

	db, err := database.Open(database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return stores{}, err
	}
	if cfg.AutoMigrate {
		if err := database.EnsureSchema(ctx, db, log); err != nil {
			_ = db.Close()
			return stores{}, err
		}
	}
	users := repository.NewUserRepo(db, hasher)
	return stores{
		db:          db,
		credentials: repository.NewCredentialRepo(db, log),
		members:     repository.NewMemberRepo(db),
		users:       users,
		creator:     users,
		tokens:      repository.NewTokenRepo(db),
	}, nil
}

// bootstrapAdmin creates the first administrator when ADMIN_EMAIL and
// ADMIN_PASSWORD are both set.  An existing account is left untouched.
func bootstrapAdmin(ctx context.Context, users userCreator, email, password string, log *zap.Logger) error {
	if email == "" || password == "" {
		return nil
	}
	id, err := users.Create(ctx, email, password, model.RoleAdmin)
	switch {
	case errors.Is(err, repository.ErrEmailExists):
		log.Info("bootstrap admin already exists", zap.String("email", email))
		return nil
	case err != nil:
		return err
	}
	log.Info("bootstrap admin created", zap.Uint64("user_id", id), zap.String("email", email))
	return nil
}

func newEcho(cfg config.Config, log *zap.Logger, st stores, svc *service.CredentialService, passwords credential.Hasher, rdb *redis.Client) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			log.Info("request",
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP))
			return nil
		},
	}))

	var pinger handler.Pinger
	if st.db != nil {
		pinger = st.db
	}
	router.RegisterRoutes(e, pinger)

	auth := handler.NewAuthHandler(cfg, st.users, st.tokens, passwords, log.Named("auth"))
	router.RegisterAuth(e, auth, cfg.JWTSecret)

	prereg := handler.NewPreregistrationHandler(svc, log.Named("http"))
	router.RegisterAdmin(e, prereg, cfg.JWTSecret)

	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log.Named("ratelimit"))
	router.RegisterPublic(e, prereg, limiter)
	return e
}
