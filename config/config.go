// config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

type Config struct {
	Environment string
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	// Local backup of alert history (sqlite file)
	BackupDBPath       string
	BackupSyncSchedule string

	// Channel list and message presets (yaml)
	ChannelsFile string

	// Engine settings
	CountdownSeconds    int
	ChannelTimeout      time.Duration
	FlashlightInterval  time.Duration
	DeviceTimeout       time.Duration
	LocationHistorySize int
	SirenAsset          string
	EmergencyNumber     string
	SessionGuardTTL     time.Duration

	// MQTT location feed; disabled when the broker is empty
	MQTT MQTTConfig

	// Rate limit for trigger requests, per user
	TriggerRateLimit  int
	TriggerRateWindow time.Duration
}

type MQTTConfig struct {
	Broker         string
	Port           int
	ClientID       string
	Username       string
	Password       string
	LocationTopic  string
	QoS            int
	ConnectTimeout time.Duration
}

func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", "mongodb://localhost:27017/safewalk"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:   getEnv("JWT_SECRET", "your-super-secret-jwt-key"),

		BackupDBPath:       getEnv("BACKUP_DB_PATH", "safewalk-backup.db"),
		BackupSyncSchedule: getEnv("BACKUP_SYNC_SCHEDULE", "@every 1m"),

		ChannelsFile: getEnv("CHANNELS_FILE", "channels.yaml"),

		CountdownSeconds:    getEnvAsInt("COUNTDOWN_SECONDS", 5),
		ChannelTimeout:      getEnvAsDuration("CHANNEL_TIMEOUT", 10*time.Second),
		FlashlightInterval:  getEnvAsDuration("FLASHLIGHT_INTERVAL", 500*time.Millisecond),
		DeviceTimeout:       getEnvAsDuration("DEVICE_TIMEOUT", 5*time.Second),
		LocationHistorySize: getEnvAsInt("LOCATION_HISTORY_SIZE", 100),
		SirenAsset:          getEnv("SIREN_ASSET", "siren.mp3"),
		EmergencyNumber:     getEnv("EMERGENCY_NUMBER", "911"),
		SessionGuardTTL:     getEnvAsDuration("SESSION_GUARD_TTL", 10*time.Minute),

		MQTT: MQTTConfig{
			Broker:         getEnv("MQTT_BROKER", ""),
			Port:           getEnvAsInt("MQTT_PORT", 1883),
			ClientID:       getEnv("MQTT_CLIENT_ID", "safewalk-backend"),
			Username:       getEnv("MQTT_USERNAME", ""),
			Password:       getEnv("MQTT_PASSWORD", ""),
			LocationTopic:  getEnv("MQTT_LOCATION_TOPIC", "safewalk/+/location"),
			QoS:            getEnvAsInt("MQTT_QOS", 1),
			ConnectTimeout: getEnvAsDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second),
		},

		TriggerRateLimit:  getEnvAsInt("TRIGGER_RATE_LIMIT", 30),
		TriggerRateWindow: getEnvAsDuration("TRIGGER_RATE_WINDOW", time.Minute),
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func InitRedis(cfg *Config) *redis.Client {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		// Fallback to default config
		opt = &redis.Options{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
		}
	}

	client := redis.NewClient(opt)
	return client
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
