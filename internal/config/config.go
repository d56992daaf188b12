package config

import (
	"os"
	"strconv"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         string `yaml:"port"`
	ModelPath    string `yaml:"model_path"`
	InferenceURL string `yaml:"inference_url"`
	DataDir      string `yaml:"data_dir"`
	StaticDir    string `yaml:"static_dir"`
	LogConfig    string `yaml:"log_config"`

	SubscriberBuffer       int           `yaml:"subscriber_buffer"`
	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval"`
	MaxConcurrentInference int           `yaml:"max_concurrent_inference"`
	MaxUploadBytes         int64         `yaml:"max_upload_bytes"`
	MinConfidence          float64       `yaml:"min_confidence"`
	InferenceTimeout       time.Duration `yaml:"inference_timeout"`
	HealthRetryAttempts    int           `yaml:"health_retry_attempts"`
	ShutdownTimeout        time.Duration `yaml:"shutdown_timeout"`
}

// Load собирает конфигурацию из переменных окружения.
// Если path не пустой, значения из YAML-файла перекрывают их.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		ModelPath:    getEnv("MODEL_PATH", "./models/best.pt"),
		InferenceURL: getEnv("INFERENCE_URL", "http://localhost:5000/predict"),
		DataDir:      getEnv("DATA_DIR", "./Login/db"),
		StaticDir:    getEnv("STATIC_DIR", "./static"),
		LogConfig:    getEnv("LOG_CONFIG", "<root>=INFO"),

		SubscriberBuffer:       getEnvInt("SUBSCRIBER_BUFFER", 8),
		HeartbeatInterval:      15 * time.Second,
		MaxConcurrentInference: getEnvInt("MAX_CONCURRENT_INFERENCE", 4),
		MaxUploadBytes:         50 << 20,
		InferenceTimeout:       30 * time.Second,
		HealthRetryAttempts:    3,
		ShutdownTimeout:        5 * time.Second,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Annotatef(err, "reading config file %q", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Annotatef(err, "parsing config file %q", path)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// Validate проверяет значения после загрузки
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.NotValidf("empty port")
	}
	if c.DataDir == "" {
		return errors.NotValidf("empty data_dir")
	}
	if c.InferenceURL == "" {
		return errors.NotValidf("empty inference_url")
	}
	if c.SubscriberBuffer <= 0 {
		return errors.NotValidf("subscriber_buffer %d", c.SubscriberBuffer)
	}
	// 0 отключает heartbeat
	if c.HeartbeatInterval < 0 {
		return errors.NotValidf("heartbeat_interval %v", c.HeartbeatInterval)
	}
	if c.MaxConcurrentInference <= 0 {
		return errors.NotValidf("max_concurrent_inference %d", c.MaxConcurrentInference)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.NotValidf("max_upload_bytes %d", c.MaxUploadBytes)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return errors.NotValidf("min_confidence %v", c.MinConfidence)
	}
	if c.InferenceTimeout <= 0 {
		return errors.NotValidf("inference_timeout %v", c.InferenceTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.NotValidf("shutdown_timeout %v", c.ShutdownTimeout)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt как getEnv, нечисловое значение игнорируется
func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return n
}
