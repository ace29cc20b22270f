package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/capitan-vision/sitewatch/internal/models"
)

// Config is the process configuration: YAML file with env override.
type Config struct {
	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint       string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey      string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey      string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		SnapshotBucket string `yaml:"snapshot_bucket" env:"MINIO_SNAPSHOT_BUCKET"`
	} `yaml:"minio"`

	Kafka struct {
		Brokers        []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID        string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		CommandTopic   string   `yaml:"command_topic" env:"CAMERA_COMMAND_TOPIC"`
		HeartbeatTopic string   `yaml:"heartbeat_topic" env:"HEARTBEAT_TOPIC"`
	} `yaml:"kafka"`

	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
	} `yaml:"redis"`

	Detection struct {
		PersonEndpoint    string `yaml:"person_endpoint" env:"PERSON_DETECTOR_ENDPOINT"`
		AttributeEndpoint string `yaml:"attribute_endpoint" env:"ATTRIBUTE_DETECTOR_ENDPOINT"`
	} `yaml:"detection"`

	HTTP struct {
		Addr string `yaml:"addr" env:"HTTP_ADDR"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"log"`

	Loop LoopDefaults `yaml:"loop"`
}

// LoopDefaults are the RuntimeConfig values used before the config store
// has anything for a camera.
type LoopDefaults struct {
	StreamInterval             int     `yaml:"stream_interval" env:"DEFAULT_STREAM_INTERVAL"`
	DetectionInterval          int     `yaml:"detection_interval" env:"DEFAULT_DETECTION_INTERVAL"`
	ViolationSeverityThreshold float64 `yaml:"violation_severity_threshold" env:"DEFAULT_SEVERITY_THRESHOLD"`
	NormalSampleInterval       int     `yaml:"normal_sample_interval" env:"DEFAULT_SAMPLE_INTERVAL"`
	SavePolicy                 string  `yaml:"save_policy" env:"DEFAULT_SAVE_POLICY"`
}

// Runtime converts the defaults into a RuntimeConfig struct.
func (d LoopDefaults) Runtime() models.RuntimeConfig {
	return models.RuntimeConfig{
		StreamInterval:             d.StreamInterval,
		DetectionInterval:          d.DetectionInterval,
		ViolationSeverityThreshold: d.ViolationSeverityThreshold,
		NormalSampleInterval:       d.NormalSampleInterval,
		SavePolicy:                 models.SavePolicy(d.SavePolicy),
	}
}

// defaultConfig seeds the values a field keeps when neither the file
// nor the environment sets it. Precedence: defaults < file < env.
func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Minio.SnapshotBucket = "snapshots"
	cfg.HTTP.Addr = ":8002"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Loop = LoopDefaults{
		StreamInterval:             5,
		DetectionInterval:          3,
		ViolationSeverityThreshold: 0.5,
		NormalSampleInterval:       100,
		SavePolicy:                 string(models.PolicySmart),
	}
	return cfg
}

func LoadConfig(filename string) (*Config, error) {
	cfg := defaultConfig()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Environment variables take priority over the file.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}
