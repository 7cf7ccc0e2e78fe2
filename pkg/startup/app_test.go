package startup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/reference"
)

type stubHandler struct{}

func (stubHandler) Normalize(ctx context.Context, payload map[string]any) (map[string]any, error) {
	return payload, nil
}

func (stubHandler) Store(ctx context.Context, payload map[string]any) (reference.Handle, error) {
	return reference.Handle{}, nil
}

func appConfig() *config.Config {
	return &config.Config{
		AppVersion:         "test",
		StartupMaxAttempts: 1,
		DatabaseDriver:     "postgres",
		DatabaseHost:       "localhost",
		DatabasePort:       "5432",
		DatabaseName:       "fern",
		DatabaseSSLMode:    "disable",
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaOutputTopic:   "user-reference-events",
		ReferenceTypes:     []string{"PatientRecord", "DeviceRecord"},
	}
}

func TestNewApp_RegistersConfiguredReferenceTypes(t *testing.T) {
	var resolved []string
	app, err := NewApp(appConfig(), silentLogger(), func(tag string) (reference.Handler, error) {
		resolved = append(resolved, tag)
		return stubHandler{}, nil
	})
	require.NoError(t, err)
	defer app.DB.Close()

	assert.Equal(t, []string{"PatientRecord", "DeviceRecord"}, resolved)
	assert.Equal(t, []string{"DeviceRecord", "PatientRecord"}, app.Registry.Tags())
	assert.NotNil(t, app.Pipeline)
	assert.NotNil(t, app.Service)
	assert.NotNil(t, app.Producer)
	assert.NotNil(t, app.Health)
}

func TestNewApp_ConsumerFollowsConfigFlag(t *testing.T) {
	cfg := appConfig()
	app, err := NewApp(cfg, silentLogger(), func(tag string) (reference.Handler, error) {
		return stubHandler{}, nil
	})
	require.NoError(t, err)
	defer app.DB.Close()
	assert.Nil(t, app.Consumer)

	cfg = appConfig()
	cfg.KafkaConsumerEnabled = true
	cfg.KafkaInputTopic = "user-reference-commands"
	cfg.KafkaConsumerGroup = "fern-consumer"
	withConsumer, err := NewApp(cfg, silentLogger(), func(tag string) (reference.Handler, error) {
		return stubHandler{}, nil
	})
	require.NoError(t, err)
	defer withConsumer.DB.Close()
	assert.NotNil(t, withConsumer.Consumer)
}

func TestNewApp_UnresolvedReferenceTypeFails(t *testing.T) {
	_, err := NewApp(appConfig(), silentLogger(), func(tag string) (reference.Handler, error) {
		return nil, errors.New("no handler registered")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PatientRecord")
}
