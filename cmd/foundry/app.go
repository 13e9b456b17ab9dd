package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/steveyegge/foundry/internal/artifact"
	"github.com/steveyegge/foundry/internal/config"
	"github.com/steveyegge/foundry/internal/configcache"
	"github.com/steveyegge/foundry/internal/gate"
	"github.com/steveyegge/foundry/internal/manufacturing"
	"github.com/steveyegge/foundry/internal/storage"
	"github.com/steveyegge/foundry/internal/storage/sqlite"
	"github.com/steveyegge/foundry/internal/telemetry"
	"github.com/steveyegge/foundry/internal/tracker"
	_ "github.com/steveyegge/foundry/internal/tracker/azuredevops"
	"github.com/steveyegge/foundry/internal/types"
	"github.com/steveyegge/foundry/internal/workflow"
)

// app holds the services a command runs against. It is built on first
// use so commands such as version and config set need no tracker.
type app struct {
	store       storage.Store
	remote      tracker.RemoteClient
	cache       *configcache.Cache
	distributed *configcache.RedisTier // nil without cache.redis_url
	validator   *configcache.Validator
	engine      *workflow.Engine
	orch        *manufacturing.Orchestrator
	tracker     config.TrackerSettings
}

var (
	appMu   sync.Mutex
	current *app
)

// getApp builds (once) and returns the application wiring.
func getApp(ctx context.Context) (*app, error) {
	appMu.Lock()
	defer appMu.Unlock()
	if current != nil {
		return current, nil
	}
	a, err := buildApp(ctx)
	if err != nil {
		return nil, err
	}
	current = a
	return a, nil
}

func closeApp() {
	appMu.Lock()
	defer appMu.Unlock()
	if current == nil {
		return
	}
	current.close()
	current = nil
}

// close releases whatever was built, cache first so background refreshes
// stop before the tiers and the tracker go away.
func (a *app) close() {
	warn := func(what string, err error) {
		if err != nil && logger != nil {
			logger.Warn("closing "+what, "err", err)
		}
	}
	if a.cache != nil {
		warn("cache", a.cache.Close())
	}
	if a.distributed != nil {
		warn("redis tier", a.distributed.Close())
	}
	if a.remote != nil {
		warn("tracker", a.remote.Close())
	}
	if a.store != nil {
		warn("store", a.store.Close())
	}
}

func buildApp(ctx context.Context) (a *app, err error) {
	cacheSettings, err := config.GetCacheSettings()
	if err != nil {
		return nil, err
	}
	wfSettings, err := config.GetWorkflowSettings()
	if err != nil {
		return nil, err
	}
	ts := config.GetTrackerSettings()

	def := types.DefaultWorkflow()
	if wfSettings.Definition != "" {
		if def, err = config.LoadWorkflow(wfSettings.Definition); err != nil {
			return nil, err
		}
	}
	// Validate normalizes phase names in place.
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("workflow definition: %w", err)
	}

	a = &app{tracker: ts}
	a.store, err = sqlite.New(ctx, config.GetString(config.KeyStoragePath))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.remote, err = tracker.New(ts.Kind, tracker.Config{
		Organization: ts.Organization,
		Project:      ts.Project,
		Team:         ts.Team,
		PAT:          ts.PAT,
		BaseURL:      ts.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	cacheOpts := []configcache.Option{
		configcache.WithPersistent(configcache.NewPersistentTier(a.store)),
		configcache.WithHotSize(cacheSettings.HotSize),
		configcache.WithTTL(cacheSettings.TTL),
		configcache.WithPolicy(cacheSettings.Policy),
		configcache.WithTimeouts(cacheSettings.Timeouts),
		configcache.WithLogger(logger),
		configcache.WithMetrics(telemetry.NewCacheMetrics()),
	}
	if cacheSettings.RedisURL != "" {
		rt, rerr := configcache.NewRedisTier(ctx, cacheSettings.RedisURL,
			configcache.WithRedisNamespace(cacheSettings.RedisNamespace))
		if rerr != nil {
			// The distributed tier is optional; the cache runs without it.
			logger.Warn("redis tier disabled", "url", cacheSettings.RedisURL, "err", rerr)
		} else {
			a.distributed = rt
			cacheOpts = append(cacheOpts, configcache.WithDistributed(rt))
		}
	}
	a.cache, err = configcache.New(a.remote, def, cacheOpts...)
	if err != nil {
		return nil, err
	}

	key := types.NewSnapshotKey(ts.Organization, ts.Project)
	a.validator = configcache.NewValidator(a.cache, a.store,
		configcache.WithValidationInterval(cacheSettings.ValidationInterval),
		configcache.WithValidationKeys(func() []types.SnapshotKey { return []types.SnapshotKey{key} }),
		configcache.WithValidatorLogger(logger),
	)

	gates, err := gate.FromDefinition(def)
	if err != nil {
		return nil, err
	}
	var policy gate.Policy
	if err := config.UnmarshalKey(config.KeyGates, &policy); err != nil {
		return nil, err
	}
	if n := gate.ApplyPolicy(gates, &policy); n > 0 {
		logger.Debug("gate policy applied", "gates", n)
	}

	a.engine = workflow.New(a.store, a.cache, a.remote, gates,
		workflow.WithLockMode(wfSettings.LockMode),
		workflow.WithLockShards(wfSettings.LockShards),
		workflow.WithRetry(workflow.RetryPolicyFrom(wfSettings.Retry)),
		workflow.WithLogger(logger),
		workflow.WithMetrics(telemetry.NewWorkflowMetrics()),
	)

	resolver := artifact.NewResolver(artifact.NewGitHubSource(config.GetString(config.KeyArtifactGitHubToken)))
	a.orch = manufacturing.New(a.store, a.cache, a.engine, a.remote,
		manufacturing.WithArtifacts(resolver),
		manufacturing.WithCache(a.cache),
		manufacturing.WithLogger(logger),
	)

	config.WatchConfig(func(path string) {
		cs, err := config.GetCacheSettings()
		if err != nil {
			logger.Warn("config reload rejected", "path", path, "err", err)
			return
		}
		a.cache.SetTTL(cs.TTL)
		a.cache.SetPolicy(cs.Policy)
		logger.Info("config reloaded", "path", path, "ttl", cs.TTL, "policy", cs.Policy)
	})
	return a, nil
}

// projectKey returns the key named by --org/--project, defaulting to the
// configured tracker project.
func (a *app) projectKey(org, project string) types.SnapshotKey {
	if org == "" {
		org = a.tracker.Organization
	}
	if project == "" {
		project = a.tracker.Project
	}
	return types.NewSnapshotKey(org, project)
}
