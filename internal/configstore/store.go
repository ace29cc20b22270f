package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/capitan-vision/sitewatch/internal/models"
)

const (
	cameraConfigKeyPattern = "camera:%s:config"

	readTimeout  = 2 * time.Second
	writeTimeout = 2 * time.Second
)

// Store reads and writes per-camera RuntimeConfig in redis. The core
// only reads; Save exists for the administrative surface. Last write
// wins, readers poll.
type Store struct {
	client   *redis.Client
	defaults models.RuntimeConfig
	log      *logrus.Logger
}

func New(client *redis.Client, defaults models.RuntimeConfig, log *logrus.Logger) *Store {
	return &Store{
		client:   client,
		defaults: Normalize(defaults),
		log:      log,
	}
}

// NewClient dials redis with the standard options.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Defaults returns the normalized default RuntimeConfig.
func (s *Store) Defaults() models.RuntimeConfig {
	return s.defaults
}

// Load fetches the camera's config. A missing key yields the defaults;
// any other failure is returned so the caller can keep its stale copy.
func (s *Store) Load(ctx context.Context, cameraID string) (models.RuntimeConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, configKey(cameraID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return s.defaults, nil
		}
		return models.RuntimeConfig{}, fmt.Errorf("config store read for %s: %w", cameraID, err)
	}

	var cfg models.RuntimeConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		// Malformed config is never partially applied.
		return models.RuntimeConfig{}, fmt.Errorf("config store decode for %s: %w", cameraID, err)
	}

	return Normalize(cfg), nil
}

// Save stores the whole config for a camera. Administrative write path.
func (s *Store) Save(ctx context.Context, cameraID string, cfg models.RuntimeConfig) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	payload, err := json.Marshal(Normalize(cfg))
	if err != nil {
		return fmt.Errorf("config store encode for %s: %w", cameraID, err)
	}

	if err := s.client.Set(ctx, configKey(cameraID), payload, 0).Err(); err != nil {
		return fmt.Errorf("config store write for %s: %w", cameraID, err)
	}

	s.log.WithField("camera_id", cameraID).Info("runtime config saved")
	return nil
}

func configKey(cameraID string) string {
	return fmt.Sprintf(cameraConfigKeyPattern, cameraID)
}

// Normalize enforces the config invariants: frame_by_frame pins
// stream_interval to 1, intervals are at least 1, the policy defaults
// to SMART. Applied on every read so the invariants hold at the moment
// the config is observed, not eventually.
func Normalize(cfg models.RuntimeConfig) models.RuntimeConfig {
	if cfg.FrameByFrame {
		cfg.StreamInterval = 1
	}
	if cfg.StreamInterval < 1 {
		cfg.StreamInterval = 1
	}
	if cfg.DetectionInterval < 1 {
		cfg.DetectionInterval = 1
	}
	if cfg.NormalSampleInterval < 1 {
		cfg.NormalSampleInterval = 1
	}
	switch cfg.SavePolicy {
	case models.PolicySmart, models.PolicyAll, models.PolicyViolationsOnly, models.PolicyFixedInterval:
	default:
		cfg.SavePolicy = models.PolicySmart
	}
	return cfg
}
