package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitan-vision/sitewatch/internal/models"
)

func testDefaults() models.RuntimeConfig {
	return models.RuntimeConfig{
		StreamInterval:             5,
		DetectionInterval:          3,
		ViolationSeverityThreshold: 0.5,
		NormalSampleInterval:       100,
		SavePolicy:                 models.PolicySmart,
	}
}

func TestLoadReturnsStoredConfig(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := New(client, testDefaults(), logrus.New())

	stored := models.RuntimeConfig{
		StreamInterval:             10,
		DetectionInterval:          2,
		ViolationSeverityThreshold: 0.7,
		NormalSampleInterval:       50,
		SavePolicy:                 models.PolicyViolationsOnly,
	}
	payload, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectGet("camera:cam1:config").SetVal(string(payload))

	got, err := store.Load(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, stored, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadMissingKeyReturnsDefaults(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := New(client, testDefaults(), logrus.New())

	mock.ExpectGet("camera:cam2:config").RedisNil()

	got, err := store.Load(context.Background(), "cam2")
	require.NoError(t, err)
	assert.Equal(t, testDefaults(), got)
}

func TestLoadErrorSurfacesForStaleFallback(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := New(client, testDefaults(), logrus.New())

	mock.ExpectGet("camera:cam3:config").SetErr(errors.New("connection refused"))

	_, err := store.Load(context.Background(), "cam3")
	assert.Error(t, err)
}

func TestLoadMalformedConfigNeverPartiallyApplied(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := New(client, testDefaults(), logrus.New())

	mock.ExpectGet("camera:cam4:config").SetVal("{not json")

	_, err := store.Load(context.Background(), "cam4")
	assert.Error(t, err)
}

func TestNormalizeFrameByFramePinsStreamInterval(t *testing.T) {
	cfg := Normalize(models.RuntimeConfig{
		StreamInterval:       30,
		FrameByFrame:         true,
		DetectionInterval:    1,
		NormalSampleInterval: 10,
		SavePolicy:           models.PolicySmart,
	})
	assert.Equal(t, 1, cfg.StreamInterval)
}

func TestNormalizeRejectsNonPositiveIntervals(t *testing.T) {
	cfg := Normalize(models.RuntimeConfig{})
	assert.Equal(t, 1, cfg.StreamInterval)
	assert.Equal(t, 1, cfg.DetectionInterval)
	assert.Equal(t, 1, cfg.NormalSampleInterval)
	assert.Equal(t, models.PolicySmart, cfg.SavePolicy)
}

func TestLoadNormalizesStoredConfig(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := New(client, testDefaults(), logrus.New())

	stored := models.RuntimeConfig{
		StreamInterval:       15,
		FrameByFrame:         true,
		DetectionInterval:    2,
		NormalSampleInterval: 40,
		SavePolicy:           models.PolicySmart,
	}
	payload, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectGet("camera:cam5:config").SetVal(string(payload))

	got, err := store.Load(context.Background(), "cam5")
	require.NoError(t, err)
	assert.True(t, got.FrameByFrame)
	assert.Equal(t, 1, got.StreamInterval)
}
