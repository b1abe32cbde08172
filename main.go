package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cdahabbo/rolesync/handlers"
	"github.com/cdahabbo/rolesync/internal/config"
	"github.com/cdahabbo/rolesync/internal/database"
	"github.com/cdahabbo/rolesync/internal/discord"
	"github.com/cdahabbo/rolesync/internal/habbo"
	"github.com/cdahabbo/rolesync/internal/policy"
	"github.com/cdahabbo/rolesync/internal/profiles"
	"github.com/cdahabbo/rolesync/internal/roles"
	"github.com/cdahabbo/rolesync/internal/rolesync"
	"github.com/cdahabbo/rolesync/internal/sessions"
	"github.com/cdahabbo/rolesync/internal/storage"
	"github.com/cdahabbo/rolesync/internal/tokens"
	"github.com/cdahabbo/rolesync/internal/verify"
	"github.com/cdahabbo/rolesync/pkg/logger"
	"github.com/cdahabbo/rolesync/pkg/metrics"
	"github.com/cdahabbo/rolesync/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}
	logger.Infof("config loaded: profiles=%s sessions=%s redis=%v minio=%v admin_api=%v",
		cfg.Data.ProfileStore, cfg.Data.SessionStore, cfg.Redis.Host != "", cfg.MinIO.Endpoint != "", cfg.Admin.JWTSecret != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("rolesync stopped: %v", err)
	}
	logger.Infof("rolesync stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// A malformed policy file is fatal at startup.
	holder, err := policy.NewHolder(cfg.Data.PolicyFile)
	if err != nil {
		return err
	}
	logger.Infof("role policy loaded from %s: %d entries", holder.Path(), holder.Table().Len())

	var rdb *redis.Client
	if c := database.NewRedisClient(cfg.Redis); c != nil {
		if err := c.Ping(ctx).Err(); err != nil {
			if cfg.Data.SessionStore == "redis" {
				return fmt.Errorf("redis ping: %w", err)
			}
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
		} else {
			rdb = c
			defer rdb.Close()
			logger.Infof("connected to Redis %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	profileRepo, fileRepo, closeProfiles, err := database.OpenProfileRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeProfiles(context.Background()) }()
	profileSvc := profiles.NewService(profileRepo)

	sessionRepo, err := database.OpenSessionRepository(cfg, rdb)
	if err != nil {
		return err
	}
	tracker := sessions.NewTracker(sessionRepo, cfg.Verify.CodeTTL)

	habboClient := habbo.NewClient(cfg.Habbo.BaseURL, cfg.Habbo.DefaultRealm, cfg.Habbo.Timeout,
		habbo.WithRateLimit(cfg.Habbo.RPS, cfg.Habbo.Burst))

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	guild := discord.NewGuild(session, cfg.Discord.GuildID)
	notifier := discord.NewNotifier(session, resolveChannels(ctx, cfg, fileRepo))

	driver := rolesync.NewDriver(profileSvc, habboClient, guild, holder, notifier, rolesync.Config{
		Interval:    cfg.Sync.Interval,
		MemberDelay: cfg.Sync.MemberDelay,
		Umbrella: roles.Umbrella{
			CDAEmployeeRoleID: cfg.Roles.CDAEmployeeRoleID,
			InnerCircleRoleID: cfg.Roles.InnerCircleRoleID,
			ProtectionMarker:  cfg.Roles.ProtectionMarker,
		},
	})
	flow := verify.NewService(profileSvc, tracker, habboClient, driver, guild, notifier, verify.Config{
		VerifiedRoleID: cfg.Verify.VerifiedRoleID,
		AwaitingRoleID: cfg.Verify.AwaitingRoleID,
	})
	bot := discord.NewBot(session, flow, discord.BotConfig{
		GuildID:      cfg.Discord.GuildID,
		AppID:        cfg.Discord.AppID,
		DefaultRealm: cfg.Habbo.DefaultRealm,
		CodeTTL:      cfg.Verify.CodeTTL,
	})

	var snapshotter *storage.Snapshotter
	if cfg.MinIO.Endpoint != "" {
		store, err := storage.NewMinIOStorage(ctx, cfg.MinIO)
		if err != nil {
			logger.Warnf("profile snapshots disabled: %v", err)
		} else {
			snapshotter = storage.NewSnapshotter(store, profileSvc)
		}
	}

	watcher := policy.NewWatcher(holder, 2*time.Second)
	watcher.OnReload(func(t *policy.Table, err error) {
		if err != nil {
			logger.Errorf("role policy reload failed, keeping previous table: %v", err)
			return
		}
		logger.Infof("role policy reloaded: %d entries", t.Len())
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      newRouter(ctx, cfg, rdb, guild, profileSvc, flow, driver, holder, tracker, snapshotter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return driver.Run(gctx) })
	g.Go(func() error { return tracker.RunSweeper(gctx, cfg.Verify.SweepInterval) })
	g.Go(func() error { return watcher.Run(gctx) })
	if snapshotter != nil {
		g.Go(func() error { return snapshotter.Run(gctx, cfg.MinIO.SnapshotInterval) })
	}
	g.Go(func() error {
		logger.Infof("ops API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(ctx context.Context, cfg *config.Config, rdb *redis.Client, guild *discord.Guild,
	profileSvc *profiles.Service, flow *verify.Service, driver *rolesync.Driver,
	holder *policy.Holder, tracker *sessions.Tracker, snapshotter *storage.Snapshotter) *gin.Engine {

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	handlers.RegisterHealth(r, startTime, map[string]handlers.Check{
		"guild":  guild.Available,
		"policy": func() bool { return holder.Table() != nil },
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterSwagger(r)

	if cfg.Admin.JWTSecret == "" {
		logger.Warnf("ADMIN_JWT_SECRET unset: /api/v1 is disabled")
		return r
	}
	var revocations tokens.Revocations
	if rdb != nil {
		revocations = tokens.NewRedisRevocations(rdb)
	}
	tm, err := tokens.NewManager(cfg.Admin.JWTSecret, revocations)
	if err != nil {
		logger.Warnf("admin API disabled: %v", err)
		return r
	}

	api := r.Group("/api/v1", middleware.AuthMiddleware(tm), middleware.RequireScope(tokens.ScopeAdmin))
	if cfg.RateLimit.Enabled {
		// per-operator when authenticated, otherwise per-IP
		if cfg.RateLimit.UseRedis && rdb != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			api.Use(middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			api.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	deps := handlers.OpsDeps{
		Profiles: profileSvc,
		Verify:   flow,
		Sync:     driver,
		Policy:   holder,
		Sessions: tracker,
	}
	if snapshotter != nil {
		deps.Snapshots = snapshotter
	}
	if revocations != nil {
		deps.Revoker = tm
	}
	handlers.NewOpsHandler(ctx, deps).Register(api)
	return r
}

// resolveChannels prefers the environment and falls back to the "channels"
// map kept in the profiles file.
func resolveChannels(ctx context.Context, cfg *config.Config, fileRepo *profiles.FileRepository) discord.Channels {
	ch := discord.Channels{
		Log:          cfg.Channels.Log,
		Verification: cfg.Channels.Verification,
		Banlogs:      cfg.Channels.Banlogs,
	}
	if fileRepo == nil {
		return ch
	}
	stored, err := fileRepo.Channels(ctx)
	if err != nil {
		logger.Warnf("reading channel ids from %s: %v", cfg.Data.ProfilesFile, err)
		return ch
	}
	fill := func(dst *string, keys ...string) {
		for _, k := range keys {
			if *dst == "" {
				*dst = stored[k]
			}
		}
	}
	fill(&ch.Log, "log", "logs")
	fill(&ch.Verification, "verification")
	fill(&ch.Banlogs, "banlogs")
	return ch
}
