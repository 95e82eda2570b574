package directory_test

import (
	"testing"
	"time"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/directory"
	"github.com/stretchr/testify/assert"
)

func TestMustAutoIgnore_FailureThreshold(t *testing.T) {
	now := time.Now()
	policy := directory.PolicyConfig{IgnoreAfterFailures: 20, IgnoreAfterSuccess: 24 * time.Hour}

	rec := directory.Record{FailedAttempts: 19}
	assert.False(t, directory.MustAutoIgnore(rec, policy, now))

	rec.FailedAttempts = 20
	assert.True(t, directory.MustAutoIgnore(rec, policy, now))
}

func TestMustAutoIgnore_StaleSuccess(t *testing.T) {
	now := time.Now()
	policy := directory.PolicyConfig{IgnoreAfterFailures: 100, IgnoreAfterSuccess: time.Hour}

	recent := now.Add(-30 * time.Minute)
	rec := directory.Record{LastSuccessSync: &recent}
	assert.False(t, directory.MustAutoIgnore(rec, policy, now))

	old := now.Add(-2 * time.Hour)
	rec.LastSuccessSync = &old
	assert.True(t, directory.MustAutoIgnore(rec, policy, now))
}

func TestMustCleanup(t *testing.T) {
	now := time.Now()
	policy := directory.PolicyConfig{CleanupAfterSuccess: 30 * 24 * time.Hour}

	pastDelete := now.Add(-time.Minute)
	rec := directory.Record{DeletedAt: &pastDelete}
	assert.True(t, directory.MustCleanup(rec, policy, now))

	futureDelete := now.Add(time.Hour)
	rec = directory.Record{DeletedAt: &futureDelete}
	assert.False(t, directory.MustCleanup(rec, policy, now))

	oldSuccess := now.Add(-31 * 24 * time.Hour)
	rec = directory.Record{LastSuccessSync: &oldSuccess}
	assert.True(t, directory.MustCleanup(rec, policy, now))
}

func TestEligibleForUpdate(t *testing.T) {
	now := time.Now()
	assert.True(t, directory.EligibleForUpdate(directory.Record{}, now))
	assert.False(t, directory.EligibleForUpdate(directory.Record{IsIgnored: true}, now))

	past := now.Add(-time.Hour)
	assert.False(t, directory.EligibleForUpdate(directory.Record{DeletedAt: &past}, now))

	future := now.Add(time.Hour)
	assert.True(t, directory.EligibleForUpdate(directory.Record{DeletedAt: &future}, now))
}

func TestIsStale(t *testing.T) {
	now := time.Now()
	policy := directory.PolicyConfig{Stale: time.Hour}
	assert.True(t, directory.IsStale(directory.Record{}, policy, now))

	recent := now.Add(-time.Minute)
	assert.False(t, directory.IsStale(directory.Record{LastSuccessSync: &recent}, policy, now))
}
