package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "wisefido-checkin/internal/common/config"

	"gopkg.in/yaml.v3"
)

// Config wisefido-checkin settings
type Config struct {
	HTTP HTTPConfig `yaml:"http"`
	// PublicBaseURL is where the voice provider reaches our callback routes
	PublicBaseURL string `yaml:"public_base_url"`

	DBEnabled bool                     `yaml:"db_enabled"`
	Database  commoncfg.DatabaseConfig `yaml:"database"`

	RedisEnabled bool                  `yaml:"redis_enabled"`
	Redis        commoncfg.RedisConfig `yaml:"redis"`
	EventStream  struct {
		Name   string `yaml:"name"`
		MaxLen int64  `yaml:"max_len"`
	} `yaml:"event_stream"`

	MQTTEnabled bool                 `yaml:"mqtt_enabled"`
	MQTT        commoncfg.MQTTConfig `yaml:"mqtt"`
	MQTTTopic   string               `yaml:"mqtt_topic_prefix"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Provider   ProviderConfig   `yaml:"provider"`
	Classifier ClassifierConfig `yaml:"classifier"`

	Admin struct {
		Token string `yaml:"token"`
	} `yaml:"admin"`
}

// HTTPConfig listener serving the API and the provider callbacks
type HTTPConfig struct {
	Addr        string        `yaml:"addr"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout bounds a callback handler, including the classifier call
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SchedulerConfig due-session poller tuning
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	// Concurrency bounds how many due sessions one tick initiates in parallel (1 = sequential)
	Concurrency int `yaml:"concurrency"`
	// MaxAttempts 0 = retry initiation forever
	MaxAttempts int `yaml:"max_attempts"`
	// RetryBackoff 0 = retry on the very next tick
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff"`
	// ActiveGracePeriod 0 = active sessions never time out
	ActiveGracePeriod time.Duration `yaml:"active_grace_period"`
}

// ProviderConfig voice/SMS transport
type ProviderConfig struct {
	Kind              string        `yaml:"kind"` // "twilio" or "log"
	APIBaseURL        string        `yaml:"api_base_url"`
	AccountSID        string        `yaml:"account_sid"`
	AuthToken         string        `yaml:"auth_token"`
	FromNumber        string        `yaml:"from_number"`
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

// ClassifierConfig distress classifier endpoint and policy
type ClassifierConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Threshold float64       `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`
	// FailurePolicy "open" treats an unavailable classifier as not distressed, "closed" as distressed
	FailurePolicy string `yaml:"failure_policy"`
}

const (
	ProviderTwilio = "twilio"
	ProviderLog    = "log"

	FailOpen   = "open"
	FailClosed = "closed"
)

// Load defaults, then CHECKIN_CONFIG_FILE (yaml) if set, then environment
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CHECKIN_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 60 * time.Second
	cfg.HTTP.ShutdownTimeout = 10 * time.Second
	cfg.PublicBaseURL = "http://localhost:8080"

	cfg.DBEnabled = true
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "checkin"
	cfg.Database.SSLMode = "disable"

	cfg.Redis.Addr = "localhost:6379"
	cfg.EventStream.Name = "checkin:events"
	cfg.EventStream.MaxLen = 100000

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "wisefido-checkin"
	cfg.MQTT.QoS = 1
	cfg.MQTTTopic = "checkin"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	cfg.Scheduler.PollInterval = time.Minute
	cfg.Scheduler.Concurrency = 1
	cfg.Scheduler.MaxRetryBackoff = 30 * time.Minute

	cfg.Provider.Kind = ProviderLog
	cfg.Provider.APIBaseURL = "https://api.twilio.com"
	cfg.Provider.MessagesPerSecond = 1
	cfg.Provider.Timeout = 15 * time.Second

	cfg.Classifier.Model = "gpt-4o-mini"
	cfg.Classifier.Threshold = 0.7
	cfg.Classifier.Timeout = 10 * time.Second
	cfg.Classifier.FailurePolicy = FailOpen

	return cfg
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", c.HTTP.ReadTimeout)
	c.HTTP.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", c.HTTP.WriteTimeout)
	c.HTTP.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)
	c.PublicBaseURL = strings.TrimRight(getEnv("PUBLIC_BASE_URL", c.PublicBaseURL), "/")

	c.DBEnabled = getEnvBool("DB_ENABLED", c.DBEnabled)
	c.Database.LoadFromEnv("DB")

	c.RedisEnabled = getEnvBool("REDIS_ENABLED", c.RedisEnabled)
	c.Redis.LoadFromEnv("REDIS")
	c.EventStream.Name = getEnv("EVENT_STREAM", c.EventStream.Name)

	c.MQTTEnabled = getEnvBool("MQTT_ENABLED", c.MQTTEnabled)
	c.MQTT.LoadFromEnv("MQTT")
	c.MQTTTopic = getEnv("MQTT_TOPIC_PREFIX", c.MQTTTopic)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Scheduler.PollInterval = getEnvDuration("SCHEDULER_POLL_INTERVAL", c.Scheduler.PollInterval)
	c.Scheduler.Concurrency = parseInt(getEnv("SCHEDULER_CONCURRENCY", ""), c.Scheduler.Concurrency)
	c.Scheduler.MaxAttempts = parseInt(getEnv("SCHEDULER_MAX_ATTEMPTS", ""), c.Scheduler.MaxAttempts)
	c.Scheduler.RetryBackoff = getEnvDuration("SCHEDULER_RETRY_BACKOFF", c.Scheduler.RetryBackoff)
	c.Scheduler.MaxRetryBackoff = getEnvDuration("SCHEDULER_MAX_RETRY_BACKOFF", c.Scheduler.MaxRetryBackoff)
	c.Scheduler.ActiveGracePeriod = getEnvDuration("SCHEDULER_ACTIVE_GRACE_PERIOD", c.Scheduler.ActiveGracePeriod)

	c.Provider.Kind = getEnv("PROVIDER_KIND", c.Provider.Kind)
	c.Provider.APIBaseURL = getEnv("TWILIO_API_BASE_URL", c.Provider.APIBaseURL)
	c.Provider.AccountSID = getEnv("TWILIO_ACCOUNT_SID", c.Provider.AccountSID)
	c.Provider.AuthToken = getEnv("TWILIO_AUTH_TOKEN", c.Provider.AuthToken)
	c.Provider.FromNumber = getEnv("TWILIO_FROM_NUMBER", c.Provider.FromNumber)
	c.Provider.MessagesPerSecond = parseFloat(getEnv("PROVIDER_MESSAGES_PER_SECOND", ""), c.Provider.MessagesPerSecond)

	c.Classifier.Endpoint = getEnv("CLASSIFIER_ENDPOINT", c.Classifier.Endpoint)
	c.Classifier.APIKey = getEnv("CLASSIFIER_API_KEY", c.Classifier.APIKey)
	c.Classifier.Model = getEnv("CLASSIFIER_MODEL", c.Classifier.Model)
	c.Classifier.Threshold = parseFloat(getEnv("CLASSIFIER_THRESHOLD", ""), c.Classifier.Threshold)
	c.Classifier.Timeout = getEnvDuration("CLASSIFIER_TIMEOUT", c.Classifier.Timeout)
	c.Classifier.FailurePolicy = getEnv("CLASSIFIER_FAILURE_POLICY", c.Classifier.FailurePolicy)

	c.Admin.Token = getEnv("ADMIN_TOKEN", c.Admin.Token)
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler poll interval must be positive, got %s", c.Scheduler.PollInterval)
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler concurrency must be at least 1, got %d", c.Scheduler.Concurrency)
	}
	if c.Scheduler.MaxAttempts < 0 {
		return fmt.Errorf("scheduler max attempts must not be negative")
	}
	if c.Classifier.Threshold < 0 || c.Classifier.Threshold > 1 {
		return fmt.Errorf("classifier threshold must be within [0,1], got %v", c.Classifier.Threshold)
	}
	if c.Classifier.Endpoint != "" && c.HTTP.WriteTimeout > 0 && c.HTTP.WriteTimeout <= c.Classifier.Timeout {
		return fmt.Errorf("http write timeout %s must exceed classifier timeout %s", c.HTTP.WriteTimeout, c.Classifier.Timeout)
	}
	switch c.Classifier.FailurePolicy {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("unknown classifier failure policy %q", c.Classifier.FailurePolicy)
	}
	switch c.Provider.Kind {
	case ProviderLog:
	case ProviderTwilio:
		if c.Provider.AccountSID == "" || c.Provider.AuthToken == "" || c.Provider.FromNumber == "" {
			return fmt.Errorf("twilio provider requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
		}
	default:
		return fmt.Errorf("unknown provider kind %q", c.Provider.Kind)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90")
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}
