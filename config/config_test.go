package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddress)
	assert.Equal(t, "worktracker.db", cfg.DatabaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.True(t, cfg.SchedulerEnabled)
	assert.False(t, cfg.UsePostgres())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("WORKTRACKER_DATABASE_URL", "postgres://tracker@db/tracker")
	t.Setenv("WORKTRACKER_LOG_LEVEL", "debug")

	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, "postgres://tracker@db/tracker", cfg.DatabaseURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.UsePostgres())
}

func TestRecipientsFromEnvironment(t *testing.T) {
	t.Run("comma separated", func(t *testing.T) {
		t.Setenv("WORKTRACKER_REPORT_RECIPIENTS", "a@x.com,b@y.com")
		cfg, err := Load(NewViper())
		require.NoError(t, err)
		assert.Equal(t, []string{"a@x.com", "b@y.com"}, cfg.ReportRecipients)
	})

	t.Run("comma and space separated", func(t *testing.T) {
		t.Setenv("WORKTRACKER_REPORT_RECIPIENTS", "a@x.com, b@y.com, c@z.com")
		cfg, err := Load(NewViper())
		require.NoError(t, err)
		assert.Equal(t, []string{"a@x.com", "b@y.com", "c@z.com"}, cfg.ReportRecipients)
	})

	t.Run("single address", func(t *testing.T) {
		t.Setenv("WORKTRACKER_REPORT_RECIPIENTS", "ops@indigital.example")
		cfg, err := Load(NewViper())
		require.NoError(t, err)
		assert.Equal(t, []string{"ops@indigital.example"}, cfg.ReportRecipients)
	})
}

func TestValidateRejectsBlankDatabase(t *testing.T) {
	v := NewViper()
	v.Set("database.url", "  ")
	_, err := Load(v)
	assert.Error(t, err)
}
