package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Discord   DiscordConfig
	Data      DataConfig
	Habbo     HabboConfig
	Verify    VerifyConfig
	Sync      SyncConfig
	Roles     RolesConfig
	Channels  ChannelsConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	Admin     AdminConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DiscordConfig struct {
	Token   string
	GuildID string
	AppID   string
}

// DataConfig locates the JSON documents shared with the other cogs.
type DataConfig struct {
	Dir          string
	ProfilesFile string
	SessionsFile string
	PolicyFile   string
	ProfileStore string // file | mongo
	SessionStore string // file | redis
}

type HabboConfig struct {
	BaseURL      string // printf template taking the realm, e.g. https://www.habbo.%s
	DefaultRealm string
	Timeout      time.Duration
	RPS          float64
	Burst        int
}

type VerifyConfig struct {
	CodeTTL        time.Duration
	SweepInterval  time.Duration
	VerifiedRoleID string
	AwaitingRoleID string
}

type SyncConfig struct {
	Interval    time.Duration
	MemberDelay time.Duration
}

type RolesConfig struct {
	CDAEmployeeRoleID string
	InnerCircleRoleID string
	ProtectionMarker  string
}

type ChannelsConfig struct {
	Log          string
	Verification string
	Banlogs      string
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type MinIOConfig struct {
	Endpoint         string
	AccessKey        string
	SecretKey        string
	UseSSL           bool
	Bucket           string
	SnapshotInterval time.Duration
}

type AdminConfig struct {
	JWTSecret string
}

type RateLimitConfig struct {
	Enabled       bool
	RPS           float64
	Burst         int
	UseRedis      bool
	WindowSeconds int
}

// LoadConfig loads configuration from environment variables and an optional .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("DATA_DIR", "JSON")
	v.SetDefault("PROFILES_FILE", "server.json")
	v.SetDefault("SESSIONS_FILE", "verification_codes.json")
	v.SetDefault("POLICY_FILE", "rolesbadges.json")
	v.SetDefault("PROFILE_STORE", "file")
	v.SetDefault("SESSION_STORE", "file")
	v.SetDefault("HABBO_BASE_URL", "https://www.habbo.%s")
	v.SetDefault("HABBO_DEFAULT_REALM", "com")
	v.SetDefault("HABBO_TIMEOUT_SECONDS", 10)
	v.SetDefault("HABBO_RPS", 2.0)
	v.SetDefault("HABBO_BURST", 1)
	v.SetDefault("VERIFY_CODE_TTL_SECONDS", 600)
	v.SetDefault("VERIFY_SWEEP_SECONDS", 150)
	v.SetDefault("SYNC_INTERVAL_MINUTES", 10)
	v.SetDefault("SYNC_MEMBER_DELAY_MS", 2500)
	v.SetDefault("PROTECTION_MARKER", "cda")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("MINIO_BUCKET", "rolesync")
	v.SetDefault("SNAPSHOT_INTERVAL_MINUTES", 60)
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 5.0)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)

	dir := v.GetString("DATA_DIR")
	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Discord: DiscordConfig{
			Token:   os.Getenv("DISCORD_TOKEN"),
			GuildID: v.GetString("DISCORD_GUILD_ID"),
			AppID:   v.GetString("DISCORD_APP_ID"),
		},
		Data: DataConfig{
			Dir:          dir,
			ProfilesFile: dataPath(dir, v.GetString("PROFILES_FILE")),
			SessionsFile: dataPath(dir, v.GetString("SESSIONS_FILE")),
			PolicyFile:   dataPath(dir, v.GetString("POLICY_FILE")),
			ProfileStore: strings.ToLower(v.GetString("PROFILE_STORE")),
			SessionStore: strings.ToLower(v.GetString("SESSION_STORE")),
		},
		Habbo: HabboConfig{
			BaseURL:      v.GetString("HABBO_BASE_URL"),
			DefaultRealm: v.GetString("HABBO_DEFAULT_REALM"),
			Timeout:      time.Duration(v.GetInt("HABBO_TIMEOUT_SECONDS")) * time.Second,
			RPS:          v.GetFloat64("HABBO_RPS"),
			Burst:        v.GetInt("HABBO_BURST"),
		},
		Verify: VerifyConfig{
			CodeTTL:        time.Duration(v.GetInt("VERIFY_CODE_TTL_SECONDS")) * time.Second,
			SweepInterval:  time.Duration(v.GetInt("VERIFY_SWEEP_SECONDS")) * time.Second,
			VerifiedRoleID: v.GetString("VERIFIED_ROLE_ID"),
			AwaitingRoleID: v.GetString("AWAITING_ROLE_ID"),
		},
		Sync: SyncConfig{
			Interval:    time.Duration(v.GetInt("SYNC_INTERVAL_MINUTES")) * time.Minute,
			MemberDelay: time.Duration(v.GetInt("SYNC_MEMBER_DELAY_MS")) * time.Millisecond,
		},
		Roles: RolesConfig{
			CDAEmployeeRoleID: v.GetString("CDA_EMPLOYEE_ROLE_ID"),
			InnerCircleRoleID: v.GetString("INNER_CIRCLE_ROLE_ID"),
			ProtectionMarker:  v.GetString("PROTECTION_MARKER"),
		},
		Channels: ChannelsConfig{
			Log:          v.GetString("LOG_CHANNEL_ID"),
			Verification: v.GetString("VERIFICATION_CHANNEL_ID"),
			Banlogs:      v.GetString("BANLOGS_CHANNEL_ID"),
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		},
		MinIO: MinIOConfig{
			Endpoint:         v.GetString("MINIO_ENDPOINT"),
			AccessKey:        v.GetString("MINIO_ACCESS_KEY"),
			SecretKey:        os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:           v.GetBool("MINIO_USE_SSL"),
			Bucket:           v.GetString("MINIO_BUCKET"),
			SnapshotInterval: time.Duration(v.GetInt("SNAPSHOT_INTERVAL_MINUTES")) * time.Minute,
		},
		Admin: AdminConfig{
			JWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	return cfg, nil
}

// Validate reports every missing or inconsistent setting the bot needs to start.
func (c *Config) Validate() error {
	var errs []error
	if c.Discord.Token == "" {
		errs = append(errs, errors.New("DISCORD_TOKEN is required"))
	}
	if c.Discord.GuildID == "" {
		errs = append(errs, errors.New("DISCORD_GUILD_ID is required"))
	}
	switch c.Data.ProfileStore {
	case "file":
	case "mongo":
		if c.MongoDB.URI == "" {
			errs = append(errs, errors.New("PROFILE_STORE=mongo requires MONGODB_URI"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PROFILE_STORE %q", c.Data.ProfileStore))
	}
	switch c.Data.SessionStore {
	case "file":
	case "redis":
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("SESSION_STORE=redis requires REDIS_HOST"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_STORE %q", c.Data.SessionStore))
	}
	if !strings.Contains(c.Habbo.BaseURL, "%s") {
		errs = append(errs, errors.New("HABBO_BASE_URL must contain %s for the realm"))
	}
	if c.Verify.CodeTTL <= 0 || c.Verify.SweepInterval <= 0 || c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("verification and sync intervals must be positive"))
	}
	return errors.Join(errs...)
}

// dataPath resolves file names relative to the data directory; absolute paths are kept.
func dataPath(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
