package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "mysql", cfg.StoreDriver)
	assert.Equal(t, "Asia/Kolkata", cfg.Scheduler.Timezone)
	assert.Equal(t, time.Minute, cfg.Scheduler.SweepInterval)
	assert.Equal(t, "08:00", cfg.Scheduler.DigestTime)
	assert.Equal(t, 500, cfg.FCM.MulticastBatch)
	assert.Equal(t, "sound1", cfg.FCM.DefaultSound)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Retry.MaxDelay)
}

func TestLoad_MulticastBatchCappedAtProviderLimit(t *testing.T) {
	t.Setenv("FCM_MULTICAST_BATCH", "1000")
	assert.Equal(t, 500, Load().FCM.MulticastBatch)
}

func TestLoad_ProductionDefaultsToJSONLogs(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	assert.Equal(t, "json", Load().LogFormat)
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("D_GO", "90s")
	t.Setenv("D_SECONDS", "45")
	t.Setenv("D_BAD", "soon")

	assert.Equal(t, 90*time.Second, getEnvDuration("D_GO", time.Second))
	assert.Equal(t, 45*time.Second, getEnvDuration("D_SECONDS", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("D_BAD", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("D_UNSET", time.Second))
}

func TestLocation_UnknownZoneFallsBackToUTC(t *testing.T) {
	cfg := &Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}
	assert.Equal(t, time.UTC, cfg.Location())
}
