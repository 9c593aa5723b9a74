package logging

import (
	"testing"

	"marketplace/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewUsesJSONInProduction(t *testing.T) {
	logger := New(config.Config{AppEnv: "production", LogLevel: "warn"})

	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
}

func TestNewFallsBackToInfo(t *testing.T) {
	logger := New(config.Config{AppEnv: "development", LogLevel: "chatty"})

	_, ok := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
