// internal/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the full runtime configuration shared by the binaries.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Email     EmailConfig     `mapstructure:"email"`
	SMS       SMSConfig       `mapstructure:"sms"`
	AWS       AWSConfig       `mapstructure:"aws"`
	SendGrid  SendGridConfig  `mapstructure:"sendgrid"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Media     MediaConfig     `mapstructure:"media"`
	Pricing   map[string]int  `mapstructure:"pricing"`
	Log       LogConfig       `mapstructure:"log"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// StorageConfig selects the repository backend: "postgres" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig selects the outbound task queue: "memory" or "amqp".
type QueueConfig struct {
	Driver     string `mapstructure:"driver"`
	AMQPURL    string `mapstructure:"amqp_url"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type DispatchConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	BatchDelay  time.Duration `mapstructure:"batch_delay"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// TrackingConfig: Secret signs open, click and unsubscribe links.
type TrackingConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Secret  string `mapstructure:"secret"`
}

type SchedulerConfig struct {
	Secret        string        `mapstructure:"secret"`
	WindowMinutes int           `mapstructure:"window_minutes"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

type EmailConfig struct {
	Provider  string `mapstructure:"provider"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

// SMSConfig.DefaultRegion is used to parse numbers stored without a country code.
type SMSConfig struct {
	Provider      string `mapstructure:"provider"`
	SenderID      string `mapstructure:"sender_id"`
	DefaultRegion string `mapstructure:"default_region"`
}

type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type SendGridConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type OpenAIConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	ImageModel string `mapstructure:"image_model"`
	MaxTokens  int    `mapstructure:"max_tokens"`
}

// MediaConfig covers generated images. CompositorURL enables per-recipient
// image variants when set.
type MediaConfig struct {
	Bucket            string        `mapstructure:"bucket"`
	PublicURL         string        `mapstructure:"public_url"`
	CompositorURL     string        `mapstructure:"compositor_url"`
	CompositorTimeout time.Duration `mapstructure:"compositor_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WorkerConfig struct {
	DispatchCron  string `mapstructure:"dispatch_cron"`
	SchedulerCron string `mapstructure:"scheduler_cron"`
	SchedulerURL  string `mapstructure:"scheduler_url"`
}
