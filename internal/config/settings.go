package config

import (
	"fmt"
	"strings"
	"time"
)

// StalePolicy selects how the cache treats an expired snapshot.
type StalePolicy string

const (
	PolicySoft StalePolicy = "soft" // serve stale, refresh in the background
	PolicyHard StalePolicy = "hard" // block until a fresh fetch completes
)

// ParseStalePolicy accepts "soft" or "hard", case-insensitive.
func ParseStalePolicy(s string) (StalePolicy, error) {
	switch StalePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicySoft, "":
		return PolicySoft, nil
	case PolicyHard:
		return PolicyHard, nil
	}
	return "", fmt.Errorf("invalid cache policy %q (want soft or hard)", s)
}

// LockMode selects what a second concurrent transition on one work item does.
type LockMode string

const (
	LockReject LockMode = "reject"
	LockQueue  LockMode = "queue"
)

// ParseLockMode accepts "reject" or "queue", case-insensitive.
func ParseLockMode(s string) (LockMode, error) {
	switch LockMode(strings.ToLower(strings.TrimSpace(s))) {
	case LockReject, "":
		return LockReject, nil
	case LockQueue:
		return LockQueue, nil
	}
	return "", fmt.Errorf("invalid lock mode %q (want reject or queue)", s)
}

// TierTimeouts bounds each cache tier lookup.
type TierTimeouts struct {
	Hot         time.Duration
	Distributed time.Duration
	Persistent  time.Duration
	Remote      time.Duration
}

// CacheSettings configures the configuration cache.
type CacheSettings struct {
	TTL                time.Duration
	Policy             StalePolicy
	HotSize            int
	RedisURL           string
	RedisNamespace     string
	Timeouts           TierTimeouts
	ValidationInterval time.Duration
}

// RetrySettings bounds remote update retries.
type RetrySettings struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// WorkflowSettings configures the workflow engine.
type WorkflowSettings struct {
	Retry      RetrySettings
	LockMode   LockMode
	LockShards int
	Definition string
}

// TrackerSettings configures the remote tracking client.
type TrackerSettings struct {
	Kind         string
	Organization string
	Project      string
	Team         string
	PAT          string
	BaseURL      string
}

// GetCacheSettings returns the current cache configuration.
func GetCacheSettings() (CacheSettings, error) {
	policy, err := ParseStalePolicy(GetString(KeyCachePolicy))
	if err != nil {
		return CacheSettings{}, err
	}
	s := CacheSettings{
		TTL:            GetDuration(KeyCacheTTL),
		Policy:         policy,
		HotSize:        GetInt(KeyCacheHotSize),
		RedisURL:       GetString(KeyCacheRedisURL),
		RedisNamespace: GetString(KeyCacheRedisNamespace),
		Timeouts: TierTimeouts{
			Hot:         GetDuration(KeyCacheTimeoutHot),
			Distributed: GetDuration(KeyCacheTimeoutDistributed),
			Persistent:  GetDuration(KeyCacheTimeoutPersistent),
			Remote:      GetDuration(KeyCacheTimeoutRemote),
		},
		ValidationInterval: GetDuration(KeyCacheValidationInterval),
	}
	if s.TTL < 0 {
		return CacheSettings{}, fmt.Errorf("%s must not be negative", KeyCacheTTL)
	}
	if s.HotSize <= 0 {
		return CacheSettings{}, fmt.Errorf("%s must be positive", KeyCacheHotSize)
	}
	return s, nil
}

// GetWorkflowSettings returns the current workflow engine configuration.
func GetWorkflowSettings() (WorkflowSettings, error) {
	mode, err := ParseLockMode(GetString(KeyWorkflowLockMode))
	if err != nil {
		return WorkflowSettings{}, err
	}
	s := WorkflowSettings{
		Retry: RetrySettings{
			Attempts: GetInt(KeyWorkflowRetryAttempts),
			Initial:  GetDuration(KeyWorkflowRetryInitial),
			Max:      GetDuration(KeyWorkflowRetryMax),
		},
		LockMode:   mode,
		LockShards: GetInt(KeyWorkflowLockShards),
		Definition: GetString(KeyWorkflowDefinition),
	}
	if s.Retry.Attempts < 1 {
		return WorkflowSettings{}, fmt.Errorf("%s must be at least 1", KeyWorkflowRetryAttempts)
	}
	return s, nil
}

// GetTrackerSettings returns the current remote tracker configuration.
func GetTrackerSettings() TrackerSettings {
	return TrackerSettings{
		Kind:         GetString(KeyTrackerKind),
		Organization: GetString(KeyTrackerOrganization),
		Project:      GetString(KeyTrackerProject),
		Team:         GetString(KeyTrackerTeam),
		PAT:          GetString(KeyTrackerPAT),
		BaseURL:      GetString(KeyTrackerBaseURL),
	}
}
