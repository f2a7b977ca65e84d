package config

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	JWTSecret      string
	AllowedOrigins string
	// CSRFMode is token, origin or off. See middleware.CSRFRequired.
	CSRFMode string

	DB       DBConfig
	Redis    RedisConfig
	Bus      BusConfig
	Delivery DeliveryConfig
	Unread   UnreadConfig
	S3       S3Config

	MaxMessageLength int
}

type DBConfig struct {
	Host     string
	User     string
	Password string
	Name     string
	Port     string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type BusConfig struct {
	// Driver is one of local, redis, kafka.
	Driver       string
	Channel      string
	KafkaBrokers []string
	KafkaTopic   string
	NodeID       string
}

// S3Config is empty when uploads are disabled.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicURL overrides the base of returned object URLs, e.g. a CDN.
	PublicURL string
}

func (c S3Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type DeliveryConfig struct {
	SendBuffer   int
	PingInterval time.Duration
	PongTimeout  time.Duration
}

type UnreadConfig struct {
	// Mode is reset or recount. See service.UnreadMode.
	Mode           string
	ResyncInterval time.Duration
	OpenBatch      int
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:           v.GetString("PORT"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		AllowedOrigins: v.GetString("ALLOWED_ORIGINS"),
		CSRFMode:       strings.ToLower(strings.TrimSpace(v.GetString("CSRF_MODE"))),
		DB: DBConfig{
			Host:     v.GetString("DB_HOST"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			Port:     v.GetString("DB_PORT"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Bus: BusConfig{
			Driver:       strings.ToLower(strings.TrimSpace(v.GetString("BUS_DRIVER"))),
			Channel:      v.GetString("BUS_CHANNEL"),
			KafkaBrokers: splitCSV(v.GetString("KAFKA_BROKERS")),
			KafkaTopic:   v.GetString("KAFKA_TOPIC"),
			NodeID:       v.GetString("NODE_ID"),
		},
		Delivery: DeliveryConfig{
			SendBuffer:   v.GetInt("WS_SEND_BUFFER"),
			PingInterval: v.GetDuration("WS_PING_INTERVAL"),
			PongTimeout:  v.GetDuration("WS_PONG_TIMEOUT"),
		},
		Unread: UnreadConfig{
			Mode:           strings.ToLower(strings.TrimSpace(v.GetString("UNREAD_MODE"))),
			ResyncInterval: v.GetDuration("UNREAD_RESYNC_INTERVAL"),
			OpenBatch:      v.GetInt("READ_OPEN_BATCH"),
		},
		S3: S3Config{
			Endpoint:  strings.TrimSpace(v.GetString("S3_ENDPOINT")),
			Region:    strings.TrimSpace(v.GetString("S3_REGION")),
			Bucket:    strings.TrimSpace(v.GetString("S3_BUCKET")),
			AccessKey: strings.TrimSpace(v.GetString("S3_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(v.GetString("S3_SECRET_KEY")),
			UseSSL:    v.GetBool("S3_USE_SSL"),
			PublicURL: strings.TrimRight(strings.TrimSpace(v.GetString("S3_PUBLIC_URL")), "/"),
		},
		MaxMessageLength: v.GetInt("MAX_MESSAGE_LENGTH"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("CSRF_MODE", "token")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("BUS_DRIVER", "local")
	v.SetDefault("BUS_CHANNEL", "omchat:events")
	v.SetDefault("KAFKA_TOPIC", "omchat-events")
	v.SetDefault("WS_SEND_BUFFER", 64)
	v.SetDefault("WS_PING_INTERVAL", 30*time.Second)
	v.SetDefault("WS_PONG_TIMEOUT", 90*time.Second)
	v.SetDefault("UNREAD_MODE", "reset")
	v.SetDefault("UNREAD_RESYNC_INTERVAL", time.Duration(0))
	v.SetDefault("READ_OPEN_BATCH", 50)
	v.SetDefault("MAX_MESSAGE_LENGTH", 4000)
	v.SetDefault("S3_USE_SSL", false)
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.Bus.Driver {
	case "local", "redis":
	case "kafka":
		if len(c.Bus.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when BUS_DRIVER=kafka")
		}
	default:
		return errors.New("BUS_DRIVER must be one of local, redis, kafka")
	}
	switch c.CSRFMode {
	case "token", "origin", "off":
	default:
		return errors.New("CSRF_MODE must be token, origin or off")
	}
	switch c.Unread.Mode {
	case "reset", "recount":
	default:
		return errors.New("UNREAD_MODE must be reset or recount")
	}
	if c.Delivery.SendBuffer <= 0 {
		c.Delivery.SendBuffer = 64
	}
	if c.Unread.OpenBatch <= 0 {
		c.Unread.OpenBatch = 50
	}
	return nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
