package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort     string
	AppEnv      string
	LogLevel    string
	LogFormat   string
	StoreDriver string // "mysql" or "dynamo"
	AutoMigrate bool

	DB DBConfig

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	FCM FCMConfig

	RedisAddr     string // empty disables the distributed job lock
	RedisPassword string
	RedisDB       int

	Scheduler SchedulerConfig
	Retry     RetryConfig
	Worker    WorkerConfig

	JWTPublicKeyPath string
	AllowedOrigins   []string // CORS allowed origins
	ShutdownTimeout  time.Duration
}

type DBConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Name        string
	MaxOpenConn int
	MaxIdleConn int
	MaxLifetime time.Duration
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Notifications string
	DeviceTokens  string
	Topics        string
	Subscriptions string
	Users         string
	CropTracking  string
	CropWeeks     string
	Crops         string
}

type FCMConfig struct {
	CredentialsFile string
	SendTimeout     time.Duration
	RatePerSec      int
	Burst           int
	MulticastBatch  int
	DefaultSound    string
	DefaultChannel  string
}

type SchedulerConfig struct {
	Timezone         string
	SweepInterval    time.Duration
	SweepBatch       int
	SweepConcurrency int
	DeliveryLease    time.Duration
	DigestTime       string // HH:MM in Timezone
	TestJobDefault   time.Duration
	TestJobMin       time.Duration
	TestJobMax       time.Duration
	LockTTL          time.Duration
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type WorkerConfig struct {
	Count     int
	QueueSize int
}

// maxMulticast is the provider's hard per-call recipient limit.
const maxMulticast = 500

// Load reads all configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		AppPort:     getEnv("APP_PORT", "3000"),
		AppEnv:      getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", ""),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "mysql")),
		AutoMigrate: getEnvBool("AUTO_MIGRATE", true),
		DB: DBConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 3306),
			User:        getEnv("DB_USER", "root"),
			Password:    getEnv("DB_PASSWORD", ""),
			Name:        getEnv("DB_NAME", "farmacy"),
			MaxOpenConn: getEnvInt("DB_MAX_OPEN_CONN", 20),
			MaxIdleConn: getEnvInt("DB_MAX_IDLE_CONN", 10),
			MaxLifetime: time.Duration(getEnvInt("DB_MAX_LIFETIME_MIN", 60)) * time.Minute,
		},
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Notifications: getEnv("DYNAMO_TABLE_NOTIFICATIONS", "user_notifications"),
			DeviceTokens:  getEnv("DYNAMO_TABLE_DEVICE_TOKENS", "fcm_tokens"),
			Topics:        getEnv("DYNAMO_TABLE_TOPICS", "notification_topics"),
			Subscriptions: getEnv("DYNAMO_TABLE_SUBSCRIPTIONS", "user_topic_subscriptions"),
			Users:         getEnv("DYNAMO_TABLE_USERS", "users"),
			CropTracking:  getEnv("DYNAMO_TABLE_CROP_TRACKING", "user_crop_tracking"),
			CropWeeks:     getEnv("DYNAMO_TABLE_CROP_WEEKS", "crop_weeks"),
			Crops:         getEnv("DYNAMO_TABLE_CROPS", "crops"),
		},
		FCM: FCMConfig{
			CredentialsFile: getEnv("FCM_CREDENTIALS_FILE", "./firebase-credentials.json"),
			SendTimeout:     getEnvDuration("FCM_SEND_TIMEOUT", 10*time.Second),
			RatePerSec:      getEnvInt("FCM_RATE_PER_SEC", 50),
			Burst:           getEnvInt("FCM_BURST", 100),
			MulticastBatch:  getEnvInt("FCM_MULTICAST_BATCH", maxMulticast),
			DefaultSound:    getEnv("FCM_DEFAULT_SOUND", "sound1"),
			DefaultChannel:  getEnv("FCM_DEFAULT_CHANNEL", "default"),
		},
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		Scheduler: SchedulerConfig{
			Timezone:         getEnv("TIMEZONE", "Asia/Kolkata"),
			SweepInterval:    getEnvDuration("SWEEP_INTERVAL", time.Minute),
			SweepBatch:       getEnvInt("SWEEP_BATCH", 200),
			SweepConcurrency: getEnvInt("SWEEP_CONCURRENCY", 8),
			DeliveryLease:    getEnvDuration("DELIVERY_LEASE", 2*time.Minute),
			DigestTime:       getEnv("DIGEST_TIME", "08:00"),
			TestJobDefault:   getEnvDuration("TEST_JOB_DEFAULT_INTERVAL", 30*time.Second),
			TestJobMin:       getEnvDuration("TEST_JOB_MIN_INTERVAL", 10*time.Second),
			TestJobMax:       getEnvDuration("TEST_JOB_MAX_INTERVAL", 300*time.Second),
			LockTTL:          getEnvDuration("JOB_LOCK_TTL", 10*time.Minute),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 5),
			BaseDelay:   getEnvDuration("RETRY_BASE_DELAY", time.Minute),
			MaxDelay:    getEnvDuration("RETRY_MAX_DELAY", time.Hour),
		},
		Worker: WorkerConfig{
			Count:     getEnvInt("WORKER_COUNT", 4),
			QueueSize: getEnvInt("WORKER_QUEUE_SIZE", 256),
		},
		JWTPublicKeyPath: getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		AllowedOrigins:   strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if cfg.FCM.MulticastBatch <= 0 || cfg.FCM.MulticastBatch > maxMulticast {
		cfg.FCM.MulticastBatch = maxMulticast
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
		if cfg.AppEnv == "production" {
			cfg.LogFormat = "json"
		}
	}
	return cfg
}

// Location resolves the canonical timezone, falling back to UTC when the zone database lacks it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
