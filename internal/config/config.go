package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values come from env, optionally seeded from an env file (ENV_FILE, default .env).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Vapi     VapiConfig
	Sync     SyncConfig
	Stats    StatsConfig
	Realtime RealtimeConfig
	Webhook  WebhookConfig
	CORS     CORSConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// AutoMigrate applies the embedded migrations on startup.
	AutoMigrate bool
}

// RedisConfig is only required when a cache or realtime driver uses redis.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// VapiConfig configures the voice platform client.
// The API key is global: calls are scoped per customer through agent ids.
type VapiConfig struct {
	BaseURL   string
	APIKey    string
	PageLimit int
	Timeout   time.Duration
}

type SyncConfig struct {
	// Interval between scheduled syncs. Zero disables the scheduler.
	Interval      time.Duration
	BackfillBatch int
	// CustomerIDs are synced by the scheduler.
	CustomerIDs []int64
}

type StatsConfig struct {
	CacheDriver string // memory | redis
	CacheTTL    time.Duration
}

type RealtimeConfig struct {
	Driver              string // postgres | redis | memory
	SubscribeDelay      time.Duration
	ResubscribeInterval time.Duration
}

type WebhookConfig struct {
	// Secret guards the event ingestion endpoint (X-Webhook-Secret).
	Secret     string
	PickupURLs []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.AutoMigrate = envBool("DB_AUTO_MIGRATE")

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Vapi.BaseURL = strings.TrimSpace(os.Getenv("VAPI_BASE_URL"))
	c.Vapi.APIKey = strings.TrimSpace(os.Getenv("VAPI_API_KEY"))
	{
		n, err := optionalInt("VAPI_PAGE_LIMIT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Vapi.PageLimit = n
	}
	c.Vapi.Timeout = mustDuration("VAPI_TIMEOUT")

	c.Sync.Interval = mustDuration("SYNC_INTERVAL")
	{
		n, err := optionalInt("SYNC_BACKFILL_BATCH")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Sync.BackfillBatch = n
	}
	{
		ids, err := int64List("SYNC_CUSTOMER_IDS")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Sync.CustomerIDs = ids
	}

	c.Stats.CacheDriver = strings.ToLower(strings.TrimSpace(os.Getenv("STATS_CACHE_DRIVER")))
	c.Stats.CacheTTL = mustDuration("STATS_CACHE_TTL")

	c.Realtime.Driver = strings.ToLower(strings.TrimSpace(os.Getenv("REALTIME_DRIVER")))
	c.Realtime.SubscribeDelay = mustDuration("REALTIME_SUBSCRIBE_DELAY")
	c.Realtime.ResubscribeInterval = mustDuration("REALTIME_RESUBSCRIBE_INTERVAL")

	c.Webhook.Secret = os.Getenv("WEBHOOK_SECRET")
	c.Webhook.PickupURLs = stringList("PICKUP_WEBHOOK_URLS")

	c.CORS.AllowedOrigins = stringList("CORS_ALLOWED_ORIGINS")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Vapi.APIKey == "" {
		errs = append(errs, errors.New("VAPI_API_KEY is required"))
	}
	if c.Vapi.BaseURL == "" {
		c.Vapi.BaseURL = "https://api.vapi.ai"
	}
	if c.Vapi.PageLimit <= 0 {
		c.Vapi.PageLimit = 100
	}
	if c.Vapi.Timeout <= 0 {
		c.Vapi.Timeout = 30 * time.Second
	}

	if c.Sync.BackfillBatch <= 0 {
		c.Sync.BackfillBatch = 100
	}
	if c.Sync.Interval < 0 {
		errs = append(errs, errors.New("SYNC_INTERVAL must not be negative"))
	}

	if c.Stats.CacheDriver == "" {
		c.Stats.CacheDriver = DriverMemory
	}
	if c.Stats.CacheDriver != DriverMemory && c.Stats.CacheDriver != DriverRedis {
		errs = append(errs, fmt.Errorf("STATS_CACHE_DRIVER must be one of memory, redis, got %q", c.Stats.CacheDriver))
	}
	if c.Stats.CacheTTL <= 0 {
		c.Stats.CacheTTL = 5 * time.Minute
	}

	if c.Realtime.Driver == "" {
		c.Realtime.Driver = DriverPostgres
	}
	switch c.Realtime.Driver {
	case DriverPostgres, DriverRedis, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("REALTIME_DRIVER must be one of postgres, redis, memory, got %q", c.Realtime.Driver))
	}
	if c.Realtime.SubscribeDelay <= 0 {
		c.Realtime.SubscribeDelay = time.Second
	}
	if c.Realtime.ResubscribeInterval <= 0 {
		c.Realtime.ResubscribeInterval = 5 * time.Second
	}

	if c.UsesRedis() {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when a redis driver is selected"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
		if c.Redis.DB < 0 {
			errs = append(errs, fmt.Errorf("REDIS_DB must be >= 0, got %d", c.Redis.DB))
		}
	}

	if c.IsProduction() && c.Webhook.Secret == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required in production"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// UsesRedis reports whether any configured driver needs a redis connection.
func (c Config) UsesRedis() bool {
	return c.Stats.CacheDriver == DriverRedis || c.Realtime.Driver == DriverRedis
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func loadEnvFile() error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func envBool(key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && b
}

func stringList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func int64List(key string) ([]int64, error) {
	var out []int64
	for _, part := range stringList(key) {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s must be a comma separated list of integers, got %q", key, part)
		}
		out = append(out, n)
	}
	return out, nil
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
