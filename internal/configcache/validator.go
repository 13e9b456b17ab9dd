package configcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steveyegge/foundry/internal/clock"
	"github.com/steveyegge/foundry/internal/codec"
	"github.com/steveyegge/foundry/internal/types"
)

// DefaultValidationInterval is how often Run re-checks cached structures.
const DefaultValidationInterval = 24 * time.Hour

// ChangeLog records structural changes found by validation.
type ChangeLog interface {
	AppendChange(ctx context.Context, entry types.ChangeEntry) error
	ListChanges(ctx context.Context, key types.SnapshotKey, limit int) ([]types.ChangeEntry, error)
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithValidationInterval sets the period between runs.
func WithValidationInterval(d time.Duration) ValidatorOption {
	return func(v *Validator) { v.interval = d }
}

// WithValidationKeys overrides the set of keys checked on each run. By
// default every key currently held by the hot tier is checked.
func WithValidationKeys(fn func() []types.SnapshotKey) ValidatorOption {
	return func(v *Validator) { v.keys = fn }
}

// WithValidatorLogger sets the logger. Nil discards.
func WithValidatorLogger(l *slog.Logger) ValidatorOption {
	return func(v *Validator) { v.logger = l }
}

// WithValidatorClock injects the time source used for scheduling.
func WithValidatorClock(clk clock.Clock) ValidatorOption {
	return func(v *Validator) { v.clock = clk }
}

// Validator periodically re-fetches the remote structure of cached
// projects and compares its fingerprint with the cached snapshot's hash.
// A mismatch stores a new snapshot at the next version in every tier and
// appends a ChangeEntry to the change log.
type Validator struct {
	cache    *Cache
	changes  ChangeLog
	interval time.Duration
	keys     func() []types.SnapshotKey
	clock    clock.Clock
	logger   *slog.Logger
}

// NewValidator returns a validator for c. changes may be nil, in which
// case detected changes are only logged.
func NewValidator(c *Cache, changes ChangeLog, opts ...ValidatorOption) *Validator {
	v := &Validator{
		cache:    c,
		changes:  changes,
		interval: DefaultValidationInterval,
		keys:     c.hot.Keys,
		clock:    c.clock,
		logger:   c.logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.New(slog.DiscardHandler)
	}
	if v.interval <= 0 {
		v.interval = DefaultValidationInterval
	}
	return v
}

// ValidateKey checks one project against the newest snapshot stored for
// it, expired or invalidated entries included. It returns the recorded
// change, or nil when the remote structure is unchanged. A project with
// nothing stored is fetched once to establish the baseline.
func (v *Validator) ValidateKey(ctx context.Context, key types.SnapshotKey) (*types.ChangeEntry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if v.cache.isClosing() {
		return nil, ErrClosed
	}
	current, ok := v.cache.latestStored(ctx, key)
	if !ok {
		_, err := v.cache.Get(ctx, key)
		return nil, err
	}

	fctx, cancel := v.cache.tierContext(ctx, TierRemote)
	raw, err := v.cache.source.FetchStructure(fctx, key)
	cancel()
	v.cache.metrics.Fetch(ctx, err)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", key, err)
	}
	hash, err := codec.Fingerprint(raw)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", key, err)
	}
	if hash == current.Hash {
		v.logger.Debug("configuration unchanged", "org", key.Organization, "project", key.Project, "version", current.Version)
		return nil, nil
	}

	next, err := v.storeChange(ctx, key, current, raw, hash)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", key, err)
	}
	entry := types.ChangeEntry{
		Organization: key.Organization,
		Project:      key.Project,
		OldVersion:   current.Version,
		NewVersion:   next.Version,
		OldHash:      current.Hash,
		NewHash:      next.Hash,
		DetectedAt:   v.clock.Now(),
	}
	v.logger.Info("configuration change detected",
		"org", key.Organization, "project", key.Project,
		"old_version", entry.OldVersion, "new_version", entry.NewVersion)
	if v.changes != nil {
		if err := v.changes.AppendChange(ctx, entry); err != nil {
			return &entry, fmt.Errorf("record change for %s: %w", key, err)
		}
	}
	return &entry, nil
}

// storeChange stores raw at the next version unless a refresh that ran
// since current was read already stored the same structure.
func (v *Validator) storeChange(ctx context.Context, key types.SnapshotKey, current *types.Snapshot, raw *types.RawStructure, hash string) (*types.Snapshot, error) {
	if latest, ok := v.cache.latestStored(ctx, key); ok && latest.Version > current.Version && latest.Hash == hash {
		return latest, nil
	}
	return v.cache.storeStructure(ctx, key, raw)
}

// RunOnce validates every key and returns the changes found. Per-key
// failures are joined; the remaining keys are still checked.
func (v *Validator) RunOnce(ctx context.Context) ([]types.ChangeEntry, error) {
	var (
		changes []types.ChangeEntry
		errs    []error
	)
	for _, key := range v.keys() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		entry, err := v.ValidateKey(ctx, key)
		if err != nil {
			errs = append(errs, err)
		}
		if entry != nil {
			changes = append(changes, *entry)
		}
	}
	return changes, errors.Join(errs...)
}

// Run validates on every interval until ctx is done.
func (v *Validator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.clock.After(v.interval):
		}
		changes, err := v.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			v.logger.Warn("configuration validation failed", "err", err)
		}
		v.logger.Debug("configuration validation finished", "changes", len(changes))
	}
}
