package directory

import "time"

// PolicyConfig holds the named thresholds spec.md §4.1/§6 defines as policy
// constants. All are durations except the failure-count threshold.
type PolicyConfig struct {
	// Stale is how long since last_success_sync before a directory is reported stale.
	Stale time.Duration `koanf:"directory_stale_timeout"`
	// IgnoreAfterSuccess auto-ignores a directory this long after its last success with no new one.
	IgnoreAfterSuccess time.Duration `koanf:"ignore_directory_after_success_timeout"`
	// IgnoreAfterFailures auto-ignores a directory after this many consecutive failures.
	IgnoreAfterFailures int `koanf:"ignore_directory_after_failed_attempts_threshold"`
	// CleanupAfterSuccess schedules cleanup this long after the last success with no new one.
	CleanupAfterSuccess time.Duration `koanf:"cleanup_client_directory_after_success_timeout"`
	// CleanupAfterDelete is loaded from configuration but read by no eligibility check: a directory
	// whose deleted_at has passed is cleanup-eligible (MustCleanup, ListEligibleForCleanup) whether it is true or false.
	CleanupAfterDelete bool `koanf:"cleanup_client_directory_after_directory_delete"`
}

// DefaultPolicyConfig mirrors reasonable production defaults; operators override via config.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Stale:               1 * time.Hour,
		IgnoreAfterSuccess:  7 * 24 * time.Hour,
		IgnoreAfterFailures: 20,
		CleanupAfterSuccess: 30 * 24 * time.Hour,
		CleanupAfterDelete:  true,
	}
}

// EligibleForUpdate implements spec.md §4.1's pure eligibility predicate:
// not ignored, and not scheduled for deletion in the past.
func EligibleForUpdate(r Record, now time.Time) bool {
	if r.IsIgnored {
		return false
	}
	if r.DeletedAt != nil && !r.DeletedAt.After(now) {
		return false
	}
	return true
}

// IsStale reports staleness without suppressing dispatch (it is informational, per spec.md §4.1).
func IsStale(r Record, policy PolicyConfig, now time.Time) bool {
	if r.LastSuccessSync == nil {
		return true
	}
	return now.Sub(*r.LastSuccessSync) >= policy.Stale
}

// MustAutoIgnore implements spec.md §4.1's auto-ignore predicate.
func MustAutoIgnore(r Record, policy PolicyConfig, now time.Time) bool {
	if policy.IgnoreAfterFailures > 0 && r.FailedAttempts >= policy.IgnoreAfterFailures {
		return true
	}
	if r.LastSuccessSync != nil && policy.IgnoreAfterSuccess > 0 && now.Sub(*r.LastSuccessSync) >= policy.IgnoreAfterSuccess {
		return true
	}
	return false
}

// MustCleanup implements spec.md §4.1's cleanup-eligibility predicate.
func MustCleanup(r Record, policy PolicyConfig, now time.Time) bool {
	if r.DeletedAt != nil && !r.DeletedAt.After(now) {
		return true
	}
	if r.LastSuccessSync != nil && policy.CleanupAfterSuccess > 0 && now.Sub(*r.LastSuccessSync) >= policy.CleanupAfterSuccess {
		return true
	}
	return false
}
